package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry keeps the live attempts of one process. It is safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*entry
	ttl      time.Duration
	now      func() time.Time
}

type entry struct {
	session *AuthSession
	removed bool
}

// NewRegistry creates a registry whose attempts expire ttl after creation.
func NewRegistry(ttl time.Duration) (*Registry, error) {
	if ttl <= 0 {
		return nil, errors.New("session ttl must be > 0")
	}
	return &Registry{
		sessions: make(map[string]*entry),
		ttl:      ttl,
		now:      time.Now,
	}, nil
}

// SetClock replaces the time source. Intended for tests.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if now == nil {
		now = time.Now
	}
	r.now = now
}

// Now returns the registry clock reading.
func (r *Registry) Now() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.now()
}

// Create registers a new attempt for username in StateStart.
func (r *Registry) Create(username string) View {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	s := &AuthSession{
		ID:        uuid.NewString(),
		Username:  username,
		State:     StateStart,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(r.ttl),
	}
	r.sessions[s.ID] = &entry{session: s}
	return s.Snapshot()
}

// Acquire locks the attempt and returns it with a release function. An
// attempt whose deadline has passed is moved to StateTimeout and removed
// before being returned, so callers observe the timeout exactly once.
func (r *Registry) Acquire(id string) (*AuthSession, func(), error) {
	r.mu.Lock()
	e, ok := r.sessions[id]
	now := r.now()
	r.mu.Unlock()
	if !ok {
		return nil, nil, ErrNotFound
	}

	e.session.mu.Lock()
	release := e.session.mu.Unlock
	if e.removed {
		release()
		return nil, nil, ErrNotFound
	}

	if e.session.Expired(now) && !e.session.State.Terminal() {
		_ = e.session.Timeout(now)
		r.removeLocked(id, e)
	}
	return e.session, release, nil
}

// Remove drops an attempt. The caller must hold the session obtained from Acquire.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	e, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return
	}
	r.removeLocked(id, e)
}

func (r *Registry) removeLocked(id string, e *entry) {
	e.removed = true
	r.mu.Lock()
	if cur, ok := r.sessions[id]; ok && cur == e {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
}

// Len returns the number of live attempts.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep times out and removes every attempt whose deadline passed at now.
// Attempts currently held by another caller are skipped until the next sweep.
func (r *Registry) Sweep(now time.Time) []View {
	r.mu.Lock()
	candidates := make(map[string]*entry, len(r.sessions))
	for id, e := range r.sessions {
		candidates[id] = e
	}
	r.mu.Unlock()

	var expired []View
	for id, e := range candidates {
		if !e.session.mu.TryLock() {
			continue
		}
		if !e.removed && e.session.Expired(now) {
			if !e.session.State.Terminal() {
				_ = e.session.Timeout(now)
			}
			r.removeLocked(id, e)
			expired = append(expired, e.session.Snapshot())
		}
		e.session.mu.Unlock()
	}
	return expired
}

// Run sweeps expired attempts every interval until ctx is done. onExpire
// receives each attempt moved to StateTimeout by the sweep.
func (r *Registry) Run(ctx context.Context, interval time.Duration, onExpire func(View)) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, v := range r.Sweep(r.Now()) {
				if onExpire != nil {
					onExpire(v)
				}
			}
		}
	}
}
