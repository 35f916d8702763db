package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/Kzoeps/maearth-test/internal/domain"
)

// SessionStore persists the single session snapshot across restarts.
// A store holds at most one snapshot; Save overwrites, Clear removes.
type SessionStore interface {
	// Load returns the stored snapshot. Absent, corrupt, or
	// unreadable snapshots report (nil, false, nil) so a bad snapshot
	// never blocks startup.
	Load(ctx context.Context) (*domain.Session, bool, error)
	Save(ctx context.Context, session *domain.Session) error
	Clear(ctx context.Context) error
}

// FileSessionStore keeps the snapshot in one JSON file, the durable
// analog of a single browser storage key.
type FileSessionStore struct {
	mu   sync.Mutex
	path string
}

func NewFileSessionStore(path string) *FileSessionStore {
	return &FileSessionStore{path: path}
}

func (s *FileSessionStore) Load(_ context.Context) (*domain.Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, nil
	}
	var sess domain.Session
	if err := json.Unmarshal(raw, &sess); err != nil || sess.DID == "" {
		return nil, false, nil
	}
	return &sess, true, nil
}

func (s *FileSessionStore) Save(_ context.Context, session *domain.Session) error {
	if session == nil {
		return errors.New("cannot save nil session")
	}
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session snapshot: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create session directory: %w", err)
		}
	}
	if err := os.WriteFile(s.path, raw, 0o600); err != nil {
		return fmt.Errorf("write session snapshot: %w", err)
	}
	return nil
}

func (s *FileSessionStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove session snapshot: %w", err)
	}
	return nil
}

// MemorySessionStore holds the snapshot in memory only.
type MemorySessionStore struct {
	mu      sync.Mutex
	session *domain.Session
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{}
}

func (s *MemorySessionStore) Load(_ context.Context) (*domain.Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil, false, nil
	}
	return s.session.Clone(), true, nil
}

func (s *MemorySessionStore) Save(_ context.Context, session *domain.Session) error {
	if session == nil {
		return errors.New("cannot save nil session")
	}
	s.mu.Lock()
	s.session = session.Clone()
	s.mu.Unlock()
	return nil
}

func (s *MemorySessionStore) Clear(_ context.Context) error {
	s.mu.Lock()
	s.session = nil
	s.mu.Unlock()
	return nil
}

// RedisSessionStore keeps the snapshot in Redis for deployments where
// the portal process is not the durable home of the session.
type RedisSessionStore struct {
	client redis.UniversalClient
	key    string
}

func NewRedisSessionStore(client redis.UniversalClient, key string) *RedisSessionStore {
	if key == "" {
		key = "atp_session"
	}
	return &RedisSessionStore{client: client, key: key}
}

func (s *RedisSessionStore) Load(ctx context.Context) (*domain.Session, bool, error) {
	raw, err := s.client.Get(ctx, s.key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var sess domain.Session
	if err := json.Unmarshal(raw, &sess); err != nil || sess.DID == "" {
		return nil, false, nil
	}
	return &sess, true, nil
}

func (s *RedisSessionStore) Save(ctx context.Context, session *domain.Session) error {
	if session == nil {
		return errors.New("cannot save nil session")
	}
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session snapshot: %w", err)
	}
	return s.client.Set(ctx, s.key, raw, 0).Err()
}

func (s *RedisSessionStore) Clear(ctx context.Context) error {
	return s.client.Del(ctx, s.key).Err()
}
