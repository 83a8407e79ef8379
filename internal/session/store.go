// Package session holds the authenticated user's access credential and
// profile, mirrored to a pluggable persistence backend so a restart keeps the
// session.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"accountbook/internal/log"
)

// Persisted keys.
const (
	KeyAccessToken = "accessToken"
	KeyUserData    = "userData"
)

var ErrEmptyCredential = errors.New("empty credential")

// Persistence is a string key/value store surviving process restarts.
type Persistence interface {
	Load(ctx context.Context, key string) (string, bool, error)
	Save(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Profile is the signed-in user as returned by login.
type Profile struct {
	ID    int64  `json:"id,omitempty"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Store owns the single access credential. It is safe for concurrent use.
// Every mutation updates memory first and then the backing Persistence; a
// persistence failure is returned but the in-memory value stays current.
// Readers never wait on Persistence: mu covers only the in-memory swap, and
// persistMu keeps writes to Persistence in the same order as in memory.
type Store struct {
	mu         sync.RWMutex
	credential string
	profile    *Profile

	persistMu sync.Mutex

	persist Persistence
	logger  *log.Logger
}

// New returns an empty store backed by p.
func New(p Persistence, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.Discard()
	}
	return &Store{persist: p, logger: logger.WithComponent(log.ComponentSession)}
}

// Open returns a store restored from p.
func Open(ctx context.Context, p Persistence, logger *log.Logger) (*Store, error) {
	s := New(p, logger)

	token, ok, err := p.Load(ctx, KeyAccessToken)
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}
	if ok {
		s.credential = token
	}

	raw, ok, err := p.Load(ctx, KeyUserData)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	if ok {
		var prof Profile
		if err := json.Unmarshal([]byte(raw), &prof); err != nil {
			// A corrupt profile is not worth failing startup over.
			s.logger.WarnContext(ctx, "Discarding unreadable stored profile",
				log.FieldOperation, log.OpRestore, log.FieldError, err)
		} else {
			s.profile = &prof
		}
	}

	s.logger.DebugContext(ctx, "Session restored",
		"has_credential", s.credential != "",
		"has_profile", s.profile != nil)
	return s, nil
}

// Credential returns the current credential, if any.
func (s *Store) Credential() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.credential, s.credential != ""
}

// SetCredential replaces the credential.
func (s *Store) SetCredential(ctx context.Context, token string) error {
	if token == "" {
		return ErrEmptyCredential
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	s.credential = token
	s.mu.Unlock()
	return s.save(ctx, KeyAccessToken, token)
}

// ClearCredential removes the credential. Clearing an empty store is a no-op.
func (s *Store) ClearCredential(ctx context.Context) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	s.credential = ""
	s.mu.Unlock()
	return s.delete(ctx, KeyAccessToken)
}

// Profile returns the stored user profile, if any.
func (s *Store) Profile() (Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.profile == nil {
		return Profile{}, false
	}
	return *s.profile, true
}

// SetProfile replaces the stored user profile.
func (s *Store) SetProfile(ctx context.Context, p Profile) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	s.profile = &p
	s.mu.Unlock()
	return s.save(ctx, KeyUserData, string(data))
}

// ClearProfile removes the stored user profile.
func (s *Store) ClearProfile(ctx context.Context) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	s.profile = nil
	s.mu.Unlock()
	return s.delete(ctx, KeyUserData)
}

// Clear drops both the credential and the profile.
func (s *Store) Clear(ctx context.Context) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	s.credential = ""
	s.profile = nil
	s.mu.Unlock()
	return errors.Join(s.delete(ctx, KeyAccessToken), s.delete(ctx, KeyUserData))
}

func (s *Store) save(ctx context.Context, key, value string) error {
	if s.persist == nil {
		return nil
	}
	if err := s.persist.Save(ctx, key, value); err != nil {
		s.logger.ErrorContext(ctx, "Failed to persist session value", log.FieldKey, key, log.FieldError, err)
		return fmt.Errorf("persist %s: %w", key, err)
	}
	return nil
}

func (s *Store) delete(ctx context.Context, key string) error {
	if s.persist == nil {
		return nil
	}
	if err := s.persist.Delete(ctx, key); err != nil {
		s.logger.ErrorContext(ctx, "Failed to delete session value", log.FieldKey, key, log.FieldError, err)
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}
