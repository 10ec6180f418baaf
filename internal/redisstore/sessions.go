// Package redisstore keeps session rows in Redis, with the key TTL set to the
// session lifetime. The expires_at field is still stored and checked by the
// session manager, so expiry behaves the same as with the SQL store; the TTL
// just lets Redis reclaim rows that were never read again.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"scheduler/server/internal/model"
	"scheduler/server/internal/store"
)

type SessionStore struct {
	client *redis.Client
}

func NewSessionStore(client *redis.Client) *SessionStore {
	return &SessionStore{client: client}
}

var _ store.SessionStore = (*SessionStore)(nil)

type sessionRow struct {
	Token     string    `json:"token"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (s *SessionStore) PutSession(ctx context.Context, session model.Session) error {
	data, err := json.Marshal(sessionRow(session))
	if err != nil {
		return err
	}
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	ok, err := s.client.SetNX(ctx, sessionKey(session.Token), data, ttl).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	if !ok {
		return store.ErrConflict
	}
	return nil
}

func (s *SessionStore) GetSession(ctx context.Context, token string) (model.Session, error) {
	value, err := s.client.Get(ctx, sessionKey(token)).Result()
	if errors.Is(err, redis.Nil) {
		return model.Session{}, store.ErrNotFound
	}
	if err != nil {
		return model.Session{}, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	var row sessionRow
	if err := json.Unmarshal([]byte(value), &row); err != nil {
		return model.Session{}, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return model.Session(row), nil
}

func (s *SessionStore) DeleteSession(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, sessionKey(token)).Err(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return nil
}

func sessionKey(token string) string {
	return "session:" + token
}
