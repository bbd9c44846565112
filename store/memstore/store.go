// Package memstore is an in-process CredentialStore for development and tests.
package memstore

import (
	"context"
	"sync"

	mfa "github.com/JasonStuckless/SecurityProject"
)

// Store keeps user records in a map. Records are copied on the way in and
// out so callers cannot mutate stored templates.
type Store struct {
	mu    sync.RWMutex
	users map[string]mfa.UserRecord
}

// New returns an empty Store.
func New() *Store {
	return &Store{users: make(map[string]mfa.UserRecord)}
}

// CreateUser inserts rec unless the username is taken.
func (s *Store) CreateUser(ctx context.Context, rec mfa.UserRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[rec.Username]; ok {
		return mfa.ErrDuplicateUsername
	}
	s.users[rec.Username] = clone(rec)
	return nil
}

// GetUser returns the record for username or mfa.ErrNotFound.
func (s *Store) GetUser(ctx context.Context, username string) (mfa.UserRecord, error) {
	if err := ctx.Err(); err != nil {
		return mfa.UserRecord{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.users[username]
	if !ok {
		return mfa.UserRecord{}, mfa.ErrNotFound
	}
	return clone(rec), nil
}

// Len returns the number of stored users.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

func clone(rec mfa.UserRecord) mfa.UserRecord {
	rec.FaceTemplate = append([]byte(nil), rec.FaceTemplate...)
	rec.VoiceTemplate = append([]byte(nil), rec.VoiceTemplate...)
	return rec
}

var _ mfa.CredentialStore = (*Store)(nil)
