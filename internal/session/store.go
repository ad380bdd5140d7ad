// Package session holds the single upstream captcha session shared by the relay.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/al-bashkir/ipo-result-relay/internal/upstream"
)

// Session is the upstream cookie and the captcha identifier issued with it.
type Session struct {
	Cookie            string
	CaptchaIdentifier string
}

// Valid reports whether both fields are set.
func (s Session) Valid() bool {
	return s.Cookie != "" && s.CaptchaIdentifier != ""
}

// CaptchaFetcher loads a fresh captcha from upstream.
type CaptchaFetcher interface {
	FetchCaptcha(ctx context.Context) (*upstream.Captcha, error)
}

// Store keeps exactly one session generation for the whole process.
//
// The mutex only keeps the two fields consistent with each other at the
// memory level. Refreshes are not serialized: two clients fetching captchas
// at the same time both hit upstream and the last writer wins, so a user may
// be shown a captcha whose identifier is no longer the stored one. A bulk
// check clearing the session can likewise discard a refresh made by another
// client in the meantime. Both are accepted races.
type Store struct {
	fetcher CaptchaFetcher

	mu          sync.RWMutex
	current     Session
	refreshedAt time.Time
}

// NewStore creates an empty store.
func NewStore(fetcher CaptchaFetcher) *Store {
	return &Store{fetcher: fetcher}
}

// Refresh fetches a new captcha and replaces the stored session with it.
// A failed fetch leaves the store cleared. The fetch is not cut short when
// ctx is cancelled, so a caller that goes away cannot wipe the session.
func (s *Store) Refresh(ctx context.Context) (*upstream.Captcha, error) {
	captcha, err := s.fetcher.FetchCaptcha(context.WithoutCancel(ctx))
	if err != nil {
		s.Clear()
		return nil, fmt.Errorf("failed to refresh session: %w", err)
	}

	s.mu.Lock()
	s.current = Session{
		Cookie:            captcha.Cookie,
		CaptchaIdentifier: captcha.Identifier,
	}
	s.refreshedAt = time.Now()
	s.mu.Unlock()

	return captcha, nil
}

// Clear drops the stored session.
func (s *Store) Clear() {
	s.mu.Lock()
	s.current = Session{}
	s.refreshedAt = time.Time{}
	s.mu.Unlock()
}

// IsValid reports whether a usable session is stored.
func (s *Store) IsValid() bool {
	return s.Snapshot().Valid()
}

// Snapshot returns a copy of the stored session.
func (s *Store) Snapshot() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Age returns how long ago the stored session was fetched, or zero when empty.
func (s *Store) Age() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.refreshedAt.IsZero() {
		return 0
	}
	return time.Since(s.refreshedAt)
}
