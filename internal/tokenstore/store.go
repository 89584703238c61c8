package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nkiryanov/authgateway/internal/apperrors"
	"github.com/nkiryanov/authgateway/internal/logger"
	"github.com/nkiryanov/authgateway/internal/models"
	"github.com/nkiryanov/authgateway/internal/repository"
)

// Store is the single source of truth of the current session
// Memory copy serves reads, every write goes to durable storage as well
type Store struct {
	repo   repository.KVRepo
	keys   keys
	now    func() time.Time
	logger logger.Logger

	// Orders writes: memory and durable storage change in the same order
	writeMu sync.Mutex

	mu      sync.RWMutex
	session models.Session
}

type Option func(*Store)

// Clock used to decide whether hydrated access token is expired
func WithNow(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithLogger(l logger.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Open creates store and hydrates it from durable storage
// Session is restored only when not expired access token found, otherwise stale entries removed
func Open(ctx context.Context, repo repository.KVRepo, namespace string, opts ...Option) (*Store, error) {
	s := &Store{
		repo:   repo,
		keys:   newKeys(namespace),
		now:    time.Now,
		logger: logger.NewNoOpLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.hydrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Read returns snapshot of the session
func (s *Store) Read() models.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// Write applies partial update
// Memory is updated even if durable storage fails; the failure is returned
func (s *Store) Write(ctx context.Context, update models.SessionUpdate) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.write(ctx, update)
}

// WriteIf applies the update only while cond holds for the current session
// apperrors.ErrSessionChanged is returned otherwise
func (s *Store) WriteIf(ctx context.Context, update models.SessionUpdate, cond func(models.Session) bool) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if !cond(s.Read()) {
		return apperrors.ErrSessionChanged
	}
	return s.write(ctx, update)
}

func (s *Store) write(ctx context.Context, update models.SessionUpdate) error {
	s.mu.Lock()
	session := update.Apply(s.session)
	if err := session.Validate(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.session = session
	s.mu.Unlock()

	set, del, err := s.entries(update)
	if err != nil {
		return err
	}

	if len(set) > 0 {
		if err := s.repo.Set(ctx, set); err != nil {
			return fmt.Errorf("persist session: %w", err)
		}
	}
	if len(del) > 0 {
		if err := s.repo.Delete(ctx, del...); err != nil {
			return fmt.Errorf("persist session: %w", err)
		}
	}
	return nil
}

// Clear empties the session. Memory is always cleared
func (s *Store) Clear(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.clear(ctx)
}

// ClearIf empties the session only while cond holds for it
// Reports whether the session was cleared
func (s *Store) ClearIf(ctx context.Context, cond func(models.Session) bool) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if !cond(s.Read()) {
		return false, nil
	}
	return true, s.clear(ctx)
}

func (s *Store) clear(ctx context.Context) error {
	s.mu.Lock()
	s.session = models.Session{}
	s.mu.Unlock()

	if err := s.repo.Delete(ctx, s.keys.all()...); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

func (s *Store) hydrate(ctx context.Context) error {
	entries, err := s.repo.Get(ctx, s.keys.all()...)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}

	session, err := s.decode(entries)
	if err != nil || !session.AccessFreshFor(s.now(), 0) {
		if err != nil {
			s.logger.Warn("Stored session is broken, dropping it", "error", err)
		}
		if len(entries) > 0 {
			if err := s.repo.Delete(ctx, s.keys.all()...); err != nil {
				return fmt.Errorf("drop stale session: %w", err)
			}
		}
		return nil
	}

	s.mu.Lock()
	s.session = session
	s.mu.Unlock()

	s.logger.Debug("Session restored", "principal", session.Principal.Username(), "access_expires_at", session.Access.ExpiresAt)
	return nil
}

func (s *Store) decode(entries map[string]string) (models.Session, error) {
	var session models.Session
	var errs []error

	parseTime := func(key string) time.Time {
		value, ok := entries[key]
		if !ok {
			return time.Time{}
		}
		t, err := time.Parse(time.RFC3339Nano, value)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
		return t
	}

	session.Access = models.IssuedToken{Value: entries[s.keys.accessToken], ExpiresAt: parseTime(s.keys.accessExpiresAt)}
	session.Refresh = models.IssuedToken{Value: entries[s.keys.refreshToken], ExpiresAt: parseTime(s.keys.refreshExpiresAt)}

	if raw, ok := entries[s.keys.principal]; ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &session.Principal); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.keys.principal, err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return models.Session{}, err
	}
	return session, session.Validate()
}

// entries to set and keys to delete for the update
func (s *Store) entries(update models.SessionUpdate) (map[string]string, []string, error) {
	set := make(map[string]string)
	var del []string

	token := func(t *models.IssuedToken, valueKey, expiresKey string) {
		if t == nil {
			return
		}
		if t.Value == "" {
			del = append(del, valueKey, expiresKey)
			return
		}
		set[valueKey] = t.Value
		set[expiresKey] = t.ExpiresAt.UTC().Format(time.RFC3339Nano)
	}

	token(update.Access, s.keys.accessToken, s.keys.accessExpiresAt)
	token(update.Refresh, s.keys.refreshToken, s.keys.refreshExpiresAt)

	if update.Principal != nil {
		if update.Principal.IsZero() {
			del = append(del, s.keys.principal)
		} else {
			raw, err := json.Marshal(update.Principal)
			if err != nil {
				return nil, nil, fmt.Errorf("encode principal: %w", err)
			}
			set[s.keys.principal] = string(raw)
		}
	}

	return set, del, nil
}
