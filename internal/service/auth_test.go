package service

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Kzoeps/maearth-test/internal/domain"
	"github.com/Kzoeps/maearth-test/internal/pds"
	"github.com/Kzoeps/maearth-test/internal/security"
)

type stubSessionAPI struct {
	mu            sync.Mutex
	createResult  *pds.SessionData
	createErr     error
	refreshResult *pds.SessionData
	refreshErr    error
	createCalls   int
	refreshCalls  int
	deleteCalls   int
	deleteErr     error
	refreshDelay  time.Duration
}

func (s *stubSessionAPI) CreateSession(_ context.Context, _, _ string) (*pds.SessionData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createCalls++
	return s.createResult, s.createErr
}

func (s *stubSessionAPI) RefreshSession(_ context.Context, _ string) (*pds.SessionData, error) {
	s.mu.Lock()
	s.refreshCalls++
	delay := s.refreshDelay
	s.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshResult, s.refreshErr
}

func (s *stubSessionAPI) DeleteSession(_ context.Context, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteCalls++
	return s.deleteErr
}

type stubResolver struct {
	resolution Resolution
	err        error
}

func (r *stubResolver) Resolve(_ context.Context, _ string) (Resolution, error) {
	return r.resolution, r.err
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": exp.Unix()})
	raw, err := tok.SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return raw
}

func redirectConfig() AuthConfig {
	return AuthConfig{
		AuthorizeEndpoint: "https://pds.example.org/oauth/authorize",
		ClientID:          "https://portal.example.org/client-metadata.json",
		RedirectURI:       "https://portal.example.org/callback",
		Scope:             "atproto transition:generic",
		StateSecret:       "0123456789abcdef",
	}
}

func readyAuth(api SessionAPI, resolver Resolver, store SessionStore) *Auth {
	if store == nil {
		store = NewMemorySessionStore()
	}
	a := NewAuth(api, resolver, store, redirectConfig(), nil)
	a.Init(context.Background())
	return a
}

func TestSignInDirectPersistsAndNotifies(t *testing.T) {
	api := &stubSessionAPI{createResult: &pds.SessionData{
		DID: "did:plc:abc", Handle: "alice.example", AccessJWT: "a", RefreshJWT: "r",
	}}
	store := NewMemorySessionStore()
	auth := readyAuth(api, &stubResolver{}, store)

	var notified atomic.Int64
	auth.Subscribe(func(sess *domain.Session) {
		if sess != nil && sess.DID == "did:plc:abc" {
			notified.Add(1)
		}
	})

	sess, err := auth.SignInDirect(context.Background(), "Alice@Example.com", "secret-pw")
	if err != nil {
		t.Fatalf("SignInDirect: %v", err)
	}
	if sess.Handle != "alice.example" {
		t.Fatalf("unexpected session: %+v", sess)
	}
	if notified.Load() != 1 {
		t.Fatalf("subscriber called %d times, want 1", notified.Load())
	}
	saved, ok, _ := store.Load(context.Background())
	if !ok || saved.DID != "did:plc:abc" {
		t.Fatalf("session not persisted: ok=%v %+v", ok, saved)
	}
	if auth.Session() == nil {
		t.Fatal("active session missing after login")
	}
}

func TestSignInDirectRejectsShortPassword(t *testing.T) {
	api := &stubSessionAPI{}
	auth := readyAuth(api, &stubResolver{}, nil)

	_, err := auth.SignInDirect(context.Background(), "alice@example.com", "pw")
	if !errors.Is(err, ErrPasswordTooShort) {
		t.Fatalf("expected ErrPasswordTooShort, got %v", err)
	}
	if api.createCalls != 0 {
		t.Fatal("short password should not reach the PDS")
	}
}

func TestSignInDirectInvalidCredentials(t *testing.T) {
	api := &stubSessionAPI{createErr: pds.ErrInvalidCredentials}
	auth := readyAuth(api, &stubResolver{}, nil)

	_, err := auth.SignInDirect(context.Background(), "alice@example.com", "wrong-pw")
	if !errors.Is(err, pds.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if auth.Session() != nil {
		t.Fatal("failed login left a session behind")
	}
}

func TestSignOutIsIdempotent(t *testing.T) {
	api := &stubSessionAPI{createResult: &pds.SessionData{
		DID: "did:plc:abc", Handle: "alice.example", AccessJWT: "a", RefreshJWT: "r",
	}, deleteErr: errors.New("pds unreachable")}
	store := NewMemorySessionStore()
	auth := readyAuth(api, &stubResolver{}, store)

	if _, err := auth.SignInDirect(context.Background(), "alice@example.com", "secret-pw"); err != nil {
		t.Fatalf("SignInDirect: %v", err)
	}

	auth.SignOut(context.Background())
	if auth.Session() != nil {
		t.Fatal("session survived sign-out")
	}
	if _, ok, _ := store.Load(context.Background()); ok {
		t.Fatal("persisted session survived sign-out")
	}
	if api.deleteCalls != 1 {
		t.Fatalf("server-side delete called %d times, want 1", api.deleteCalls)
	}

	// Second sign-out with nothing active must not call the PDS again.
	auth.SignOut(context.Background())
	if api.deleteCalls != 1 {
		t.Fatalf("idempotent sign-out hit the PDS: %d calls", api.deleteCalls)
	}
}

func TestResumeAdoptsFreshToken(t *testing.T) {
	api := &stubSessionAPI{}
	store := NewMemorySessionStore()
	_ = store.Save(context.Background(), &domain.Session{
		DID:        "did:plc:abc",
		Handle:     "alice.example",
		AccessJWT:  signedToken(t, time.Now().Add(time.Hour)),
		RefreshJWT: "refresh",
	})
	auth := NewAuth(api, &stubResolver{}, store, redirectConfig(), nil)

	sess, err := auth.Resume(context.Background())
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if sess == nil || sess.DID != "did:plc:abc" {
		t.Fatalf("unexpected session: %+v", sess)
	}
	if api.refreshCalls != 0 {
		t.Fatalf("fresh token should not refresh, got %d calls", api.refreshCalls)
	}
}

func TestResumeRefreshesStaleToken(t *testing.T) {
	created := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	api := &stubSessionAPI{refreshResult: &pds.SessionData{
		DID: "did:plc:abc", Handle: "alice.example", AccessJWT: "new-access", RefreshJWT: "new-refresh",
	}}
	store := NewMemorySessionStore()
	_ = store.Save(context.Background(), &domain.Session{
		DID:        "did:plc:abc",
		Handle:     "alice.example",
		AccessJWT:  signedToken(t, time.Now().Add(-time.Hour)),
		RefreshJWT: "old-refresh",
		CreatedAt:  created,
	})
	auth := NewAuth(api, &stubResolver{}, store, redirectConfig(), nil)

	sess, err := auth.Resume(context.Background())
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if sess.AccessJWT != "new-access" {
		t.Fatalf("token not rotated: %+v", sess)
	}
	if !sess.CreatedAt.Equal(created) {
		t.Fatalf("CreatedAt not preserved: %v", sess.CreatedAt)
	}
	saved, ok, _ := store.Load(context.Background())
	if !ok || saved.RefreshJWT != "new-refresh" {
		t.Fatalf("rotated session not persisted: ok=%v %+v", ok, saved)
	}
}

func TestResumeFailureIsSilent(t *testing.T) {
	api := &stubSessionAPI{refreshErr: pds.ErrSessionExpired}
	store := NewMemorySessionStore()
	_ = store.Save(context.Background(), &domain.Session{
		DID: "did:plc:abc", AccessJWT: "not-a-jwt", RefreshJWT: "stale",
	})
	auth := NewAuth(api, &stubResolver{}, store, redirectConfig(), nil)

	sess, err := auth.Resume(context.Background())
	if err != nil {
		t.Fatalf("resume failure must be silent, got %v", err)
	}
	if sess != nil {
		t.Fatalf("expected signed-out resume, got %+v", sess)
	}
	if _, ok, _ := store.Load(context.Background()); ok {
		t.Fatal("unusable snapshot was not cleared")
	}
}

func TestResumeIsCoalesced(t *testing.T) {
	api := &stubSessionAPI{
		refreshResult: &pds.SessionData{DID: "did:plc:abc", AccessJWT: "new", RefreshJWT: "newr"},
		refreshDelay:  20 * time.Millisecond,
	}
	store := NewMemorySessionStore()
	_ = store.Save(context.Background(), &domain.Session{
		DID: "did:plc:abc", AccessJWT: "expired-junk", RefreshJWT: "r",
	})
	auth := NewAuth(api, &stubResolver{}, store, redirectConfig(), nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := auth.Resume(context.Background()); err != nil {
				t.Errorf("Resume: %v", err)
			}
		}()
	}
	wg.Wait()

	if api.refreshCalls != 1 {
		t.Fatalf("refresh called %d times, want 1", api.refreshCalls)
	}
}

func TestSignInRequiresReady(t *testing.T) {
	auth := NewAuth(&stubSessionAPI{}, &stubResolver{}, NewMemorySessionStore(), redirectConfig(), nil)

	_, err := auth.SignIn(context.Background(), "alice.example", SignInOptions{})
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady before Init, got %v", err)
	}
}

func TestSignInRequiresOAuthConfig(t *testing.T) {
	cfg := redirectConfig()
	cfg.ClientID = ""
	auth := NewAuth(&stubSessionAPI{}, &stubResolver{}, NewMemorySessionStore(), cfg, nil)
	auth.Init(context.Background())

	_, err := auth.SignIn(context.Background(), "alice.example", SignInOptions{})
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady without client id, got %v", err)
	}
}

func TestSignInBuildsAuthorizeRedirect(t *testing.T) {
	resolver := &stubResolver{resolution: Resolution{Kind: ResolutionDirect, Target: "alice.example"}}
	auth := readyAuth(&stubSessionAPI{}, resolver, nil)

	outcome, err := auth.SignIn(context.Background(), "alice@example.com", SignInOptions{State: "csrf-token"})
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if outcome.Kind != SignInRedirect {
		t.Fatalf("unexpected outcome kind: %q", outcome.Kind)
	}
	u, err := url.Parse(outcome.AuthorizeURL)
	if err != nil {
		t.Fatalf("parse authorize URL: %v", err)
	}
	q := u.Query()
	if q.Get("client_id") != redirectConfig().ClientID {
		t.Fatalf("client_id missing: %v", q)
	}
	if q.Get("response_type") != "code" {
		t.Fatalf("response_type = %q", q.Get("response_type"))
	}
	if q.Get("login_hint") != "alice.example" {
		t.Fatalf("login_hint = %q", q.Get("login_hint"))
	}
	state, ok := security.VerifySignedState(q.Get("state"), redirectConfig().StateSecret)
	if !ok || state != "csrf-token" {
		t.Fatalf("state signature invalid: %q ok=%v", q.Get("state"), ok)
	}
}

func TestSignInRoutesUnknownEmailToSignup(t *testing.T) {
	resolver := &stubResolver{resolution: Resolution{Kind: ResolutionUnregistered, Email: "new@example.com"}}
	auth := readyAuth(&stubSessionAPI{}, resolver, nil)

	outcome, err := auth.SignIn(context.Background(), "new@example.com", SignInOptions{})
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if outcome.Kind != SignInSignup || outcome.Email != "new@example.com" {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if outcome.AuthorizeURL != "" {
		t.Fatal("signup outcome must not carry an authorize URL")
	}
}
