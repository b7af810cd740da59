package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/trustkeeper/internal/logging"
)

var ErrEmptyToken = errors.New("session token is empty")

// Session is an immutable snapshot of the authenticated session.
type Session struct {
	Token    string
	Identity string
	// ExpiresAt is taken from the token's exp claim; zero when unknown.
	ExpiresAt time.Time
}

// Observer receives the new session, or nil when the session was cleared.
// Observers run synchronously on the mutating goroutine and must not mutate
// the State themselves.
type Observer func(s *Session)

// Persister stores the session across restarts.
type Persister interface {
	Load(ctx context.Context) (*Session, error)
	Save(ctx context.Context, s Session) error
	Clear(ctx context.Context) error
}

type State struct {
	// writeMu orders mutations together with their notifications.
	writeMu sync.Mutex

	mu        sync.RWMutex
	current   *Session
	version   uint64
	observers map[uint64]Observer
	nextObs   uint64

	persister Persister
	logger    logging.Logger
	now       func() time.Time
}

// NewState returns an empty State. persister may be nil.
func NewState(persister Persister, logger logging.Logger) *State {
	return &State{
		observers: make(map[uint64]Observer),
		persister: persister,
		logger:    logging.OrNop(logger),
		now:       time.Now,
	}
}

// Load restores a persisted session. Missing or expired sessions leave the
// State empty; an expired one is also removed from the persister.
func (s *State) Load(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	restored, err := s.persister.Load(ctx)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if restored == nil || restored.Token == "" {
		return nil
	}

	if !restored.ExpiresAt.IsZero() && !s.now().Before(restored.ExpiresAt) {
		s.logger.Info(ctx, "persisted session expired", "identity", restored.Identity)
		if err := s.persister.Clear(ctx); err != nil {
			return fmt.Errorf("drop expired session: %w", err)
		}
		return nil
	}

	s.swap(restored)
	s.logger.Debug(ctx, "session restored", "identity", restored.Identity)
	return nil
}

// SetSession replaces the current session. When identity is empty it is
// taken from the token's sub claim. If persisting fails the State is left
// unchanged.
func (s *State) SetSession(ctx context.Context, token, identity string) error {
	if token == "" {
		return ErrEmptyToken
	}

	next := Session{Token: token, Identity: identity}
	if claims, err := ParseClaims(token); err == nil {
		if next.Identity == "" {
			next.Identity = claims.Subject
		}
		next.ExpiresAt = claims.ExpiresAt
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.persister != nil {
		if err := s.persister.Save(ctx, next); err != nil {
			return fmt.Errorf("persist session: %w", err)
		}
	}

	s.swap(&next)
	s.logger.Info(ctx, "session committed", "identity", next.Identity, "token", logging.Redact(token))
	return nil
}

// Clear removes the session. The in-memory session is always dropped; a
// persister failure is returned afterwards.
func (s *State) Clear(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var perr error
	if s.persister != nil {
		if err := s.persister.Clear(ctx); err != nil {
			perr = fmt.Errorf("clear persisted session: %w", err)
		}
	}

	s.swap(nil)
	s.logger.Info(ctx, "session cleared")
	return perr
}

// swap must be called with writeMu held.
func (s *State) swap(next *Session) {
	s.mu.Lock()
	s.current = next
	s.version++
	observers := make([]Observer, 0, len(s.observers))
	for _, o := range s.observers {
		observers = append(observers, o)
	}
	s.mu.Unlock()

	for _, o := range observers {
		if next == nil {
			o(nil)
			continue
		}
		cp := *next
		o(&cp)
	}
}

// Current returns a copy of the session.
func (s *State) Current() (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return Session{}, false
	}
	return *s.current, true
}

func (s *State) Token() string {
	cur, _ := s.Current()
	return cur.Token
}

func (s *State) Identity() string {
	cur, _ := s.Current()
	return cur.Identity
}

// IsAuthenticated reports whether a non-empty token is committed.
func (s *State) IsAuthenticated() bool {
	return s.Token() != ""
}

// Snapshot returns a copy of the session together with the version it was
// committed under. ok is false when no session is set.
func (s *State) Snapshot() (cur Session, version uint64, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current != nil {
		cur, ok = *s.current, true
	}
	return cur, s.version, ok
}

// Version increases on every SetSession, Clear and successful Load.
func (s *State) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Subscribe registers fn and returns a function that unregisters it.
func (s *State) Subscribe(fn Observer) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.observers, id)
			s.mu.Unlock()
		})
	}
}
