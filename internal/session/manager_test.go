package session

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"scheduler/server/internal/memstore"
	"scheduler/server/internal/model"
	"scheduler/server/internal/store"
)

func newTestUser(t *testing.T, st *memstore.Store, active bool) model.User {
	t.Helper()
	user := model.User{
		ID:        "user-1",
		Email:     "alice@example.com",
		Name:      "Alice",
		CreatedAt: time.Now().UTC(),
		IsActive:  active,
	}
	if err := st.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

func TestIssueAndResolve(t *testing.T) {
	st := memstore.New()
	user := newTestUser(t, st, true)
	mgr := NewManager(st, st, 24*time.Hour, 3, time.Millisecond)

	token, err := mgr.Issue(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if token == "" {
		t.Fatalf("expected non-empty token")
	}

	resolved, err := mgr.Resolve(context.Background(), token)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.ID != user.ID {
		t.Fatalf("expected user %s, got %s", user.ID, resolved.ID)
	}
}

func TestResolveUnknownToken(t *testing.T) {
	st := memstore.New()
	mgr := NewManager(st, st, 24*time.Hour, 3, time.Millisecond)

	if _, err := mgr.Resolve(context.Background(), "no-such-token"); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}

func TestResolveExpiryBoundary(t *testing.T) {
	st := memstore.New()
	user := newTestUser(t, st, true)
	mgr := NewManager(st, st, 24*time.Hour, 3, time.Millisecond)

	issuedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mgr.now = func() time.Time { return issuedAt }

	token, err := mgr.Issue(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	// One nanosecond before expiry the session still resolves.
	mgr.now = func() time.Time { return issuedAt.Add(24*time.Hour - time.Nanosecond) }
	if _, err := mgr.Resolve(context.Background(), token); err != nil {
		t.Fatalf("expected valid session just before expiry, got %v", err)
	}

	// At exactly expiresAt the session is expired and deleted on read.
	mgr.now = func() time.Time { return issuedAt.Add(24 * time.Hour) }
	if _, err := mgr.Resolve(context.Background(), token); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession at expiry, got %v", err)
	}
	if _, err := st.GetSession(context.Background(), token); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected expired session row deleted, got %v", err)
	}
}

func TestResolveInactiveUser(t *testing.T) {
	st := memstore.New()
	user := newTestUser(t, st, false)
	mgr := NewManager(st, st, 24*time.Hour, 3, time.Millisecond)

	token, err := mgr.Issue(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := mgr.Resolve(context.Background(), token); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession for inactive user, got %v", err)
	}
}

func TestRevokeIdempotent(t *testing.T) {
	st := memstore.New()
	user := newTestUser(t, st, true)
	mgr := NewManager(st, st, 24*time.Hour, 3, time.Millisecond)

	token, err := mgr.Issue(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := mgr.Revoke(context.Background(), token); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := mgr.Revoke(context.Background(), token); err != nil {
		t.Fatalf("second revoke should be idempotent: %v", err)
	}
	if _, err := mgr.Resolve(context.Background(), token); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession after revoke, got %v", err)
	}
}

// flakySessionStore fails the first N puts, then delegates.
type flakySessionStore struct {
	store.SessionStore
	failures int
}

func (f *flakySessionStore) PutSession(ctx context.Context, session model.Session) error {
	if f.failures > 0 {
		f.failures--
		return fmt.Errorf("%w: injected", store.ErrUnavailable)
	}
	return f.SessionStore.PutSession(ctx, session)
}

func TestIssueRetriesStoreFailures(t *testing.T) {
	st := memstore.New()
	user := newTestUser(t, st, true)
	flaky := &flakySessionStore{SessionStore: st, failures: 2}
	mgr := NewManager(flaky, st, 24*time.Hour, 3, time.Millisecond)

	token, err := mgr.Issue(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("expected issue to succeed after retries, got %v", err)
	}
	if _, err := mgr.Resolve(context.Background(), token); err != nil {
		t.Fatalf("resolve after retried issue: %v", err)
	}
}

func TestIssueFailsAfterRetryBudget(t *testing.T) {
	st := memstore.New()
	newTestUser(t, st, true)
	flaky := &flakySessionStore{SessionStore: st, failures: 10}
	mgr := NewManager(flaky, st, 24*time.Hour, 2, time.Millisecond)

	if _, err := mgr.Issue(context.Background(), "user-1"); !errors.Is(err, ErrIssueFailed) {
		t.Fatalf("expected ErrIssueFailed, got %v", err)
	}
}

// unavailableSessionStore fails every read.
type unavailableSessionStore struct {
	store.SessionStore
}

func (u *unavailableSessionStore) GetSession(context.Context, string) (model.Session, error) {
	return model.Session{}, fmt.Errorf("%w: injected", store.ErrUnavailable)
}

func TestResolveSurfacesStoreUnavailable(t *testing.T) {
	st := memstore.New()
	newTestUser(t, st, true)
	mgr := NewManager(&unavailableSessionStore{SessionStore: st}, st, 24*time.Hour, 3, time.Millisecond)

	_, err := mgr.Resolve(context.Background(), "token")
	if !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("expected store.ErrUnavailable from initial fetch, got %v", err)
	}
}
