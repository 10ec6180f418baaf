// Package session issues and resolves opaque bearer tokens. Expiry is lazy:
// the first read at or after expires_at deletes the row, so no sweeper runs
// and expired sessions are invisible to every caller.
package session

import (
	"context"
	"errors"
	"time"

	"scheduler/server/internal/crypto"
	"scheduler/server/internal/model"
	"scheduler/server/internal/store"
)

var (
	// ErrNoSession means the token does not resolve to an active user.
	ErrNoSession = errors.New("session: not authenticated")
	// ErrIssueFailed means the store rejected the session write even after
	// the bounded retry budget.
	ErrIssueFailed = errors.New("session: issue failed")
)

type Manager struct {
	sessions store.SessionStore
	users    store.UserStore
	ttl      time.Duration
	retries  int
	backoff  time.Duration
	now      func() time.Time
}

func NewManager(sessions store.SessionStore, users store.UserStore, ttl time.Duration, retries int, backoff time.Duration) *Manager {
	return &Manager{
		sessions: sessions,
		users:    users,
		ttl:      ttl,
		retries:  retries,
		backoff:  backoff,
		now:      time.Now,
	}
}

// Issue creates a session for the user and returns its token. A token-key
// conflict regenerates the token; store failures back off and retry up to
// the configured bound.
func (m *Manager) Issue(ctx context.Context, userID string) (string, error) {
	backoff := m.backoff
	for attempt := 0; attempt <= m.retries; attempt++ {
		token, err := crypto.NewSessionToken()
		if err != nil {
			return "", err
		}
		now := m.now().UTC()
		err = m.sessions.PutSession(ctx, model.Session{
			Token:     token,
			UserID:    userID,
			CreatedAt: now,
			ExpiresAt: now.Add(m.ttl),
		})
		if err == nil {
			return token, nil
		}
		if errors.Is(err, store.ErrConflict) {
			// Fresh token next round; no point waiting.
			continue
		}
		if attempt < m.retries {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
	return "", ErrIssueFailed
}

// Resolve returns the active user behind the token, or ErrNoSession. The
// initial session fetch may surface store.ErrUnavailable; everything past it
// degrades to ErrNoSession rather than leaking store errors.
func (m *Manager) Resolve(ctx context.Context, token string) (model.User, error) {
	sess, err := m.sessions.GetSession(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.User{}, ErrNoSession
		}
		return model.User{}, err
	}

	if !m.now().UTC().Before(sess.ExpiresAt) {
		_ = m.sessions.DeleteSession(ctx, token)
		return model.User{}, ErrNoSession
	}

	user, err := m.users.GetUser(ctx, sess.UserID)
	if err != nil || !user.IsActive {
		return model.User{}, ErrNoSession
	}
	return user, nil
}

// Revoke deletes the session; revoking an absent token is not an error.
func (m *Manager) Revoke(ctx context.Context, token string) error {
	return m.sessions.DeleteSession(ctx, token)
}
