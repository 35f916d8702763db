package service

import (
	"context"
	"sync"

	"github.com/Kzoeps/maearth-test/internal/domain"
)

// RecordLister fetches one page of claims for a session.
type RecordLister interface {
	List(ctx context.Context, session *domain.Session, opts ListOptions) (*ClaimPage, error)
}

// SessionProvider supplies the session a fetch is bound to.
type SessionProvider interface {
	Session() *domain.Session
}

// Paginator drives one list view: the current page, the forward
// cursor, and a back-stack of previously used cursors so backward
// navigation never re-derives a cursor from the server.
//
// Invariants: history[0] is always "" (the first page); Next grows the
// history by exactly one, Back shrinks it by exactly one; a failed
// fetch mutates nothing except the error flag.
type Paginator struct {
	lister RecordLister
	auth   SessionProvider
	limit  int

	mu      sync.Mutex
	items   []domain.ListedClaim
	cursor  string
	history []string
	loaded  bool
	lastErr error
}

func NewPaginator(lister RecordLister, auth SessionProvider, limit int) *Paginator {
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	return &Paginator{lister: lister, auth: auth, limit: limit}
}

// First loads the initial page, resetting any existing history.
func (p *Paginator) First(ctx context.Context) error {
	page, err := p.fetch(ctx, "")
	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.lastErr = err
		return err
	}
	p.items = page.Items
	p.cursor = page.Cursor
	p.history = []string{""}
	p.loaded = true
	p.lastErr = nil
	return nil
}

// Next advances to the following page. A no-op when nothing is loaded
// yet or the forward cursor is exhausted.
func (p *Paginator) Next(ctx context.Context) error {
	p.mu.Lock()
	if !p.loaded || p.cursor == "" {
		p.mu.Unlock()
		return nil
	}
	cursor := p.cursor
	p.mu.Unlock()

	page, err := p.fetch(ctx, cursor)
	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.lastErr = err
		return err
	}
	p.history = append(p.history, cursor)
	p.items = page.Items
	p.cursor = page.Cursor
	p.lastErr = nil
	return nil
}

// Back returns to the previous page. A no-op on the first page. The
// re-fetch uses the preceding history entry and does not push.
func (p *Paginator) Back(ctx context.Context) error {
	p.mu.Lock()
	if len(p.history) <= 1 {
		p.mu.Unlock()
		return nil
	}
	prev := p.history[len(p.history)-2]
	p.mu.Unlock()

	page, err := p.fetch(ctx, prev)
	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.lastErr = err
		return err
	}
	p.history = p.history[:len(p.history)-1]
	p.items = page.Items
	p.cursor = page.Cursor
	p.lastErr = nil
	return nil
}

func (p *Paginator) fetch(ctx context.Context, cursor string) (*ClaimPage, error) {
	session := p.auth.Session()
	if session == nil {
		return nil, ErrNoSession
	}
	return p.lister.List(ctx, session, ListOptions{Cursor: cursor, Limit: p.limit})
}

// Items returns a copy of the current page.
func (p *Paginator) Items() []domain.ListedClaim {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.ListedClaim(nil), p.items...)
}

// HasNext reports whether the forward control should be enabled.
func (p *Paginator) HasNext() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loaded && p.cursor != ""
}

// CanGoBack reports whether a previous page exists.
func (p *Paginator) CanGoBack() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.history) > 1
}

// HistoryLen is the depth of the cursor back-stack, including the
// first page.
func (p *Paginator) HistoryLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.history)
}

// Err reports the most recent fetch failure, cleared by the next
// successful navigation.
func (p *Paginator) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// Loaded reports whether a first page has been fetched.
func (p *Paginator) Loaded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loaded
}
