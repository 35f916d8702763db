package service

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"github.com/Kzoeps/maearth-test/internal/domain"
	"github.com/Kzoeps/maearth-test/internal/pds"
	"github.com/Kzoeps/maearth-test/internal/security"
)

const minPasswordLength = 6

// Access tokens within this margin of expiry are refreshed rather than
// adopted on resume.
const accessTokenExpiryMargin = time.Minute

var (
	ErrNotReady         = errors.New("auth client not ready")
	ErrPasswordTooShort = errors.New("password must be at least 6 characters")
	ErrNoSession        = errors.New("no active session")
)

// SessionAPI is the slice of the PDS client the dispatcher drives.
type SessionAPI interface {
	CreateSession(ctx context.Context, identifier, password string) (*pds.SessionData, error)
	RefreshSession(ctx context.Context, refreshJWT string) (*pds.SessionData, error)
	DeleteSession(ctx context.Context, refreshJWT string) error
}

// Resolver turns an identifier into a login target.
type Resolver interface {
	Resolve(ctx context.Context, identifier string) (Resolution, error)
}

type SignInOutcomeKind string

const (
	// SignInRedirect is terminal for this process: the user agent
	// navigates to AuthorizeURL and does not come back here.
	SignInRedirect SignInOutcomeKind = "redirect"

	// SignInSignup routes the user to account creation with their
	// email prefilled.
	SignInSignup SignInOutcomeKind = "signup"
)

type SignInOutcome struct {
	Kind         SignInOutcomeKind
	AuthorizeURL string
	State        string
	Email        string
}

type SignInOptions struct {
	// State correlates the eventual redirect callback with this
	// request. Generated when empty.
	State string
}

// AuthConfig describes the redirect-based authorization flow.
type AuthConfig struct {
	AuthorizeEndpoint string
	ClientID          string
	RedirectURI       string
	Scope             string
	StateSecret       string
}

// Auth orchestrates sign-in, sign-out, and session resume against the
// PDS. It is the sole writer of the session; interested components
// subscribe for changes instead of polling.
type Auth struct {
	api      SessionAPI
	resolver Resolver
	store    SessionStore
	cfg      AuthConfig
	logger   *slog.Logger

	mu        sync.RWMutex
	session   *domain.Session
	ready     bool
	resumed   bool
	listeners []func(*domain.Session)

	resumeGroup singleflight.Group
}

func NewAuth(api SessionAPI, resolver Resolver, store SessionStore, cfg AuthConfig, logger *slog.Logger) *Auth {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auth{
		api:      api,
		resolver: resolver,
		store:    store,
		cfg:      cfg,
		logger:   logger,
	}
}

// Init performs the startup resume and marks the dispatcher ready.
// Resume failure is not an error: the application simply starts
// signed out.
func (a *Auth) Init(ctx context.Context) {
	if _, err := a.Resume(ctx); err != nil {
		a.logger.Warn("session resume failed", "error", err)
	}
	a.mu.Lock()
	a.ready = true
	a.mu.Unlock()
}

func (a *Auth) Ready() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.ready
}

// Session returns a snapshot of the active session, or nil.
func (a *Auth) Session() *domain.Session {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.session.Clone()
}

// Subscribe registers a callback invoked with the new session (nil on
// sign-out) after every session change.
func (a *Auth) Subscribe(fn func(*domain.Session)) {
	a.mu.Lock()
	a.listeners = append(a.listeners, fn)
	a.mu.Unlock()
}

func (a *Auth) setSession(sess *domain.Session) {
	a.mu.Lock()
	a.session = sess
	listeners := append([]func(*domain.Session){}, a.listeners...)
	a.mu.Unlock()
	for _, fn := range listeners {
		fn(sess.Clone())
	}
}

// SignIn resolves the identifier and either hands back the
// authorization redirect or routes the caller to sign-up. Nothing is
// persisted: the OAuth flow completes in a different page load.
func (a *Auth) SignIn(ctx context.Context, identifier string, opts SignInOptions) (SignInOutcome, error) {
	if !a.Ready() || a.cfg.ClientID == "" || a.cfg.AuthorizeEndpoint == "" {
		return SignInOutcome{}, ErrNotReady
	}

	res, err := a.resolver.Resolve(ctx, identifier)
	if err != nil {
		return SignInOutcome{}, err
	}
	if res.Kind == ResolutionUnregistered {
		return SignInOutcome{Kind: SignInSignup, Email: res.Email}, nil
	}

	state := opts.State
	if state == "" {
		state, err = security.NewRandomString(16)
		if err != nil {
			return SignInOutcome{}, err
		}
	}

	query := url.Values{}
	query.Set("client_id", a.cfg.ClientID)
	query.Set("redirect_uri", a.cfg.RedirectURI)
	query.Set("response_type", "code")
	query.Set("scope", a.cfg.Scope)
	query.Set("state", security.SignState(state, a.cfg.StateSecret))
	query.Set("login_hint", res.Target)

	return SignInOutcome{
		Kind:         SignInRedirect,
		AuthorizeURL: a.cfg.AuthorizeEndpoint + "?" + query.Encode(),
		State:        state,
	}, nil
}

// SignInDirect exchanges email and password for a session, persists
// it, and publishes the change.
func (a *Auth) SignInDirect(ctx context.Context, email, password string) (*domain.Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if len(password) < minPasswordLength {
		return nil, ErrPasswordTooShort
	}

	data, err := a.api.CreateSession(ctx, email, password)
	if err != nil {
		return nil, err
	}
	sess := sessionFromData(data)
	if err := a.store.Save(ctx, sess); err != nil {
		// Losing durability is not worth failing a successful login.
		a.logger.Warn("session persist failed", "error", err)
	}
	a.setSession(sess)
	a.logger.Info("signed in", "did", sess.DID, "handle", sess.Handle)
	return sess.Clone(), nil
}

// SignOut clears persisted and in-memory state unconditionally.
// Idempotent: with no active session it is a no-op other than the
// clear.
func (a *Auth) SignOut(ctx context.Context) {
	a.mu.RLock()
	sess := a.session
	a.mu.RUnlock()
	if sess != nil && sess.RefreshJWT != "" {
		if err := a.api.DeleteSession(ctx, sess.RefreshJWT); err != nil {
			a.logger.Debug("server-side session delete failed", "error", err)
		}
	}
	if err := a.store.Clear(ctx); err != nil {
		a.logger.Warn("session clear failed", "error", err)
	}
	a.setSession(nil)
}

// Resume restores a persisted session. The first call does the work;
// concurrent callers share the in-flight attempt, and later callers
// get the already-resumed session. Failure resumes signed-out
// silently: the snapshot is cleared and no error reaches the user
// path.
func (a *Auth) Resume(ctx context.Context) (*domain.Session, error) {
	a.mu.RLock()
	done := a.resumed
	a.mu.RUnlock()
	if done {
		return a.Session(), nil
	}

	v, err, _ := a.resumeGroup.Do("resume", func() (interface{}, error) {
		sess := a.resumeFromStore(ctx)
		a.mu.Lock()
		a.resumed = true
		a.mu.Unlock()
		if sess != nil {
			a.setSession(sess)
		}
		return sess, nil
	})
	if err != nil {
		return nil, err
	}
	sess, _ := v.(*domain.Session)
	return sess.Clone(), nil
}

func (a *Auth) resumeFromStore(ctx context.Context) *domain.Session {
	saved, ok, err := a.store.Load(ctx)
	if err != nil || !ok {
		return nil
	}

	if accessTokenFresh(saved.AccessJWT) {
		return saved
	}

	data, err := a.api.RefreshSession(ctx, saved.RefreshJWT)
	if err != nil {
		a.logger.Info("stored session could not be refreshed, clearing", "error", err)
		if clearErr := a.store.Clear(ctx); clearErr != nil {
			a.logger.Warn("session clear failed", "error", clearErr)
		}
		return nil
	}

	sess := sessionFromData(data)
	sess.CreatedAt = saved.CreatedAt
	if err := a.store.Save(ctx, sess); err != nil {
		a.logger.Warn("refreshed session persist failed", "error", err)
	}
	return sess
}

func sessionFromData(data *pds.SessionData) *domain.Session {
	return &domain.Session{
		DID:        data.DID,
		Handle:     data.Handle,
		AccessJWT:  data.AccessJWT,
		RefreshJWT: data.RefreshJWT,
		CreatedAt:  time.Now().UTC(),
	}
}

// accessTokenFresh inspects the unverified exp claim of a stored
// access token. Signature verification belongs to the PDS; the client
// only needs to know whether a refresh is due.
func accessTokenFresh(token string) bool {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return time.Until(exp.Time) > accessTokenExpiryMargin
}
