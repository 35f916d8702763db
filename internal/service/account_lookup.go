package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Kzoeps/maearth-test/internal/domain"
	"github.com/Kzoeps/maearth-test/internal/pds"
)

const (
	// DefaultLookupConcurrency bounds the per-DID admin lookups
	// issued while scanning for an email match.
	DefaultLookupConcurrency = 10

	// repoPageLimit caps the repository enumeration at one page.
	repoPageLimit = 100

	defaultLookupCacheTTL   = 5 * time.Minute
	defaultNegativeCacheTTL = 30 * time.Second
)

// ErrAccountNotFound means no hosted account owns the email. Callers
// treat it as an expected outcome, not a failure.
var ErrAccountNotFound = errors.New("account not found")

// errMatchFound cancels the remaining scan goroutines once a match is
// recorded.
var errMatchFound = errors.New("match found")

// LookupError is an unexpected failure of the remote account search,
// carrying the upstream status and body for diagnostics.
type LookupError struct {
	StatusCode int
	Body       string
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("account lookup failed with status %d", e.StatusCode)
}

// AccountDirectory is the slice of the PDS client the scan needs.
type AccountDirectory interface {
	ListRepos(ctx context.Context, limit int) ([]pds.RepoRef, error)
	AdminAccountInfo(ctx context.Context, did string) (*pds.AccountInfo, error)
	HasAdminCredentials() bool
}

type AccountLookupConfig struct {
	Concurrency int
	CacheTTL    time.Duration
	NegativeTTL time.Duration
}

// AccountLookup resolves an email address to the hosted account that
// owns it by enumerating repositories and querying account info per
// DID. A linear, unindexed scan: fine for an invite-scale PDS, the
// first thing to replace past that.
type AccountLookup struct {
	directory   AccountDirectory
	cache       LookupCacheStore
	concurrency int
	cacheTTL    time.Duration
	negativeTTL time.Duration
	logger      *slog.Logger
}

func NewAccountLookup(directory AccountDirectory, cache LookupCacheStore, cfg AccountLookupConfig, logger *slog.Logger) *AccountLookup {
	if cache == nil {
		cache = NewNoopLookupCacheStore()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultLookupConcurrency
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultLookupCacheTTL
	}
	if cfg.NegativeTTL <= 0 {
		cfg.NegativeTTL = defaultNegativeCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountLookup{
		directory:   directory,
		cache:       cache,
		concurrency: cfg.Concurrency,
		cacheTTL:    cfg.CacheTTL,
		negativeTTL: cfg.NegativeTTL,
		logger:      logger,
	}
}

type cachedLookup struct {
	Match *domain.AccountMatch `json:"match,omitempty"`
}

// FindByEmail returns the account whose email matches
// case-insensitively, ErrAccountNotFound when no repository matches,
// or a *LookupError when enumeration itself fails. Individual per-DID
// lookup failures are treated as non-matches, never surfaced.
func (l *AccountLookup) FindByEmail(ctx context.Context, email string) (*domain.AccountMatch, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, ErrAccountNotFound
	}
	if !l.directory.HasAdminCredentials() {
		return nil, pds.ErrAdminCredentialsMissing
	}

	cacheKey := "email:" + email
	if raw, ok, err := l.cache.Get(ctx, cacheKey); err == nil && ok {
		var cached cachedLookup
		if err := json.Unmarshal(raw, &cached); err == nil {
			if cached.Match == nil {
				return nil, ErrAccountNotFound
			}
			return cached.Match, nil
		}
	} else if err != nil {
		l.logger.Warn("lookup cache read failed", "error", err)
	}

	repos, err := l.directory.ListRepos(ctx, repoPageLimit)
	if err != nil {
		return nil, lookupErrorFrom(err)
	}

	var (
		mu    sync.Mutex
		match *domain.AccountMatch
	)
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(l.concurrency)
	for _, repo := range repos {
		did := repo.DID
		group.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			info, err := l.directory.AdminAccountInfo(gctx, did)
			if err != nil {
				// A slow or broken repository must not abort
				// the scan; no match is the right answer.
				l.logger.Debug("account info lookup failed", "did", did, "error", err)
				return nil
			}
			if !strings.EqualFold(info.Email, email) {
				return nil
			}
			mu.Lock()
			if match == nil {
				match = &domain.AccountMatch{Handle: info.Handle, DID: info.DID}
			}
			mu.Unlock()
			return errMatchFound
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, errMatchFound) {
		return nil, lookupErrorFrom(err)
	}

	if match == nil {
		l.cacheResult(ctx, cacheKey, cachedLookup{}, l.negativeTTL)
		return nil, ErrAccountNotFound
	}
	l.cacheResult(ctx, cacheKey, cachedLookup{Match: match}, l.cacheTTL)
	return match, nil
}

func (l *AccountLookup) cacheResult(ctx context.Context, key string, value cachedLookup, ttl time.Duration) {
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := l.cache.Set(ctx, key, raw, ttl); err != nil {
		l.logger.Warn("lookup cache write failed", "error", err)
	}
}

func lookupErrorFrom(err error) error {
	var apiErr *pds.Error
	if errors.As(err, &apiErr) {
		return &LookupError{StatusCode: apiErr.StatusCode, Body: apiErr.Body}
	}
	return &LookupError{StatusCode: 0, Body: err.Error()}
}
