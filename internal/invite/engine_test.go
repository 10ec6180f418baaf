package invite

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"scheduler/server/internal/access"
	"scheduler/server/internal/memstore"
	"scheduler/server/internal/model"
	"scheduler/server/internal/session"
	"scheduler/server/internal/store"
)

type fixture struct {
	st     *memstore.Store
	engine *Engine
	owner  model.User
	event  model.Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memstore.New()
	sessions := session.NewManager(st, st, time.Hour, 1, time.Millisecond)
	resolver := access.NewResolver(sessions, st)
	engine := NewEngine(st, st, st, resolver, 1_000_000)

	owner := addUser(t, st, "owner", "owner@example.com")
	event := model.Event{
		ID:        "event-1",
		OwnerID:   owner.ID,
		Name:      "Clocktower Night",
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := st.CreateEvent(context.Background(), event); err != nil {
		t.Fatalf("create event: %v", err)
	}
	return &fixture{st: st, engine: engine, owner: owner, event: event}
}

func addUser(t *testing.T, st *memstore.Store, id, email string) model.User {
	t.Helper()
	user := model.User{
		ID:        id,
		Email:     email,
		Name:      id,
		CreatedAt: time.Now().UTC(),
		IsActive:  true,
	}
	if err := st.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("create user %s: %v", id, err)
	}
	return user
}

func TestCreateValidatesType(t *testing.T) {
	f := newFixture(t)
	if _, err := f.engine.Create(context.Background(), f.owner, f.event.ID, "weekly", ""); !errors.Is(err, ErrInvalidType) {
		t.Fatalf("expected ErrInvalidType, got %v", err)
	}
}

func TestCreateRequiresOwner(t *testing.T) {
	f := newFixture(t)
	stranger := addUser(t, f.st, "stranger", "stranger@example.com")
	if _, err := f.engine.Create(context.Background(), stranger, f.event.ID, model.InvitationOneTime, ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestCreateUnknownEvent(t *testing.T) {
	f := newFixture(t)
	if _, err := f.engine.Create(context.Background(), f.owner, "missing", model.InvitationOneTime, ""); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected store.ErrNotFound, got %v", err)
	}
}

func TestCreateSetsUses(t *testing.T) {
	f := newFixture(t)
	oneTime, err := f.engine.Create(context.Background(), f.owner, f.event.ID, model.InvitationOneTime, "for a friend")
	if err != nil {
		t.Fatalf("create one-time: %v", err)
	}
	if oneTime.UsesLeft != 1 {
		t.Fatalf("expected one-time uses 1, got %d", oneTime.UsesLeft)
	}
	generic, err := f.engine.Create(context.Background(), f.owner, f.event.ID, model.InvitationGeneric, "open invite")
	if err != nil {
		t.Fatalf("create generic: %v", err)
	}
	if generic.UsesLeft != 1_000_000 {
		t.Fatalf("expected generic uses 1000000, got %d", generic.UsesLeft)
	}
}

func TestOneTimeRedemptionScenario(t *testing.T) {
	f := newFixture(t)
	userA := addUser(t, f.st, "user-a", "a@example.com")
	userB := addUser(t, f.st, "user-b", "b@example.com")

	inv, err := f.engine.Create(context.Background(), f.owner, f.event.ID, model.InvitationOneTime, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	added, err := f.engine.Redeem(context.Background(), userA, inv.InviteCode)
	if err != nil || !added {
		t.Fatalf("expected first redemption to add, got added=%v err=%v", added, err)
	}
	current, err := f.st.GetInvitation(context.Background(), inv.InviteCode)
	if err != nil {
		t.Fatalf("get invitation: %v", err)
	}
	if current.UsesLeft != 0 {
		t.Fatalf("expected usesLeft 0, got %d", current.UsesLeft)
	}

	if _, err := f.engine.Redeem(context.Background(), userB, inv.InviteCode); !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted for second user, got %v", err)
	}

	added, err = f.engine.Redeem(context.Background(), userA, inv.InviteCode)
	if err != nil {
		t.Fatalf("idempotent re-redemption should not error: %v", err)
	}
	if added {
		t.Fatalf("expected participantAdded=false for re-redemption")
	}
	current, _ = f.st.GetInvitation(context.Background(), inv.InviteCode)
	if current.UsesLeft != 0 {
		t.Fatalf("re-redemption must not change usesLeft, got %d", current.UsesLeft)
	}
}

func TestRedeemIdempotentDoesNotDecrement(t *testing.T) {
	f := newFixture(t)
	user := addUser(t, f.st, "user-a", "a@example.com")
	inv, err := f.engine.Create(context.Background(), f.owner, f.event.ID, model.InvitationGeneric, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if added, err := f.engine.Redeem(context.Background(), user, inv.InviteCode); err != nil || !added {
		t.Fatalf("first redemption: added=%v err=%v", added, err)
	}
	for i := 0; i < 3; i++ {
		added, err := f.engine.Redeem(context.Background(), user, inv.InviteCode)
		if err != nil || added {
			t.Fatalf("repeat %d: expected added=false err=nil, got added=%v err=%v", i, added, err)
		}
	}

	current, _ := f.st.GetInvitation(context.Background(), inv.InviteCode)
	if current.UsesLeft != 999_999 {
		t.Fatalf("expected exactly one decrement, got usesLeft=%d", current.UsesLeft)
	}
	count, _ := f.st.CountParticipants(context.Background(), f.event.ID)
	if count != 1 {
		t.Fatalf("expected one membership row, got %d", count)
	}
}

func TestRedeemUnknownCode(t *testing.T) {
	f := newFixture(t)
	user := addUser(t, f.st, "user-a", "a@example.com")
	if _, err := f.engine.Redeem(context.Background(), user, "no-such-code"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected store.ErrNotFound, got %v", err)
	}
}

func TestConcurrentRedemptionLastUse(t *testing.T) {
	f := newFixture(t)
	inv, err := f.engine.Create(context.Background(), f.owner, f.event.ID, model.InvitationOneTime, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	const attempts = 50
	users := make([]model.User, attempts)
	for i := range users {
		users[i] = addUser(t, f.st, fmt.Sprintf("user-%d", i), fmt.Sprintf("user%d@example.com", i))
	}

	var wg sync.WaitGroup
	results := make([]bool, attempts)
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.engine.Redeem(context.Background(), users[i], inv.InviteCode)
		}(i)
	}
	wg.Wait()

	succeeded, exhausted := 0, 0
	for i := 0; i < attempts; i++ {
		switch {
		case errs[i] == nil && results[i]:
			succeeded++
		case errors.Is(errs[i], ErrExhausted):
			exhausted++
		default:
			t.Fatalf("attempt %d: unexpected result added=%v err=%v", i, results[i], errs[i])
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one winner, got %d", succeeded)
	}
	if exhausted != attempts-1 {
		t.Fatalf("expected %d exhausted, got %d", attempts-1, exhausted)
	}

	current, _ := f.st.GetInvitation(context.Background(), inv.InviteCode)
	if current.UsesLeft != 0 {
		t.Fatalf("expected usesLeft 0, got %d", current.UsesLeft)
	}
	count, _ := f.st.CountParticipants(context.Background(), f.event.ID)
	if count != 1 {
		t.Fatalf("expected one membership row, got %d", count)
	}
}

func TestDeletePermissions(t *testing.T) {
	f := newFixture(t)
	stranger := addUser(t, f.st, "stranger", "stranger@example.com")

	inv, err := f.engine.Create(context.Background(), f.owner, f.event.ID, model.InvitationGeneric, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := f.engine.Delete(context.Background(), stranger, inv.InviteCode); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for stranger, got %v", err)
	}
	if err := f.engine.Delete(context.Background(), f.owner, inv.InviteCode); err != nil {
		t.Fatalf("creator delete: %v", err)
	}
	if err := f.engine.Delete(context.Background(), f.owner, inv.InviteCode); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected store.ErrNotFound after delete, got %v", err)
	}
}

func TestDeleteByEventOwnerWhoIsNotCreator(t *testing.T) {
	f := newFixture(t)
	// Row minted by someone who has since lost ownership; the current owner
	// may still delete it.
	inv := model.Invitation{
		InviteCode: "legacy-code",
		EventID:    f.event.ID,
		CreatedBy:  "former-owner",
		Type:       model.InvitationGeneric,
		UsesLeft:   5,
		CreatedAt:  time.Now().UTC(),
	}
	if err := f.st.CreateInvitation(context.Background(), inv); err != nil {
		t.Fatalf("seed invitation: %v", err)
	}
	if err := f.engine.Delete(context.Background(), f.owner, inv.InviteCode); err != nil {
		t.Fatalf("owner delete: %v", err)
	}
}

func TestExhaustedInvitationIsNotDeleted(t *testing.T) {
	f := newFixture(t)
	user := addUser(t, f.st, "user-a", "a@example.com")
	inv, err := f.engine.Create(context.Background(), f.owner, f.event.ID, model.InvitationOneTime, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.engine.Redeem(context.Background(), user, inv.InviteCode); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	current, err := f.st.GetInvitation(context.Background(), inv.InviteCode)
	if err != nil {
		t.Fatalf("exhausted invitation must remain for audit, got %v", err)
	}
	if current.UsesLeft != 0 {
		t.Fatalf("expected usesLeft 0, got %d", current.UsesLeft)
	}
}
