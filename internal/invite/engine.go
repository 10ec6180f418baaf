// Package invite mints and redeems invitation codes. Redemption is the one
// operation with real contention: capacity is consumed with a conditional
// decrement and membership is recorded with a conditional insert, so the
// engine never does an unguarded read-modify-write on shared rows.
package invite

import (
	"context"
	"errors"
	"time"

	"scheduler/server/internal/access"
	"scheduler/server/internal/crypto"
	"scheduler/server/internal/model"
	"scheduler/server/internal/store"
)

var (
	// ErrExhausted means the invitation has no uses left.
	ErrExhausted = errors.New("invite: exhausted")
	// ErrForbidden means the caller may not perform the operation.
	ErrForbidden = errors.New("invite: forbidden")
	// ErrInvalidType means the invitation type is not generic or one-time.
	ErrInvalidType = errors.New("invite: invalid type")
)

const createAttempts = 5

type Engine struct {
	invitations  store.InvitationStore
	participants store.ParticipantStore
	events       store.EventStore
	resolver     *access.Resolver
	genericUses  int64
	now          func() time.Time
}

func NewEngine(invitations store.InvitationStore, participants store.ParticipantStore, events store.EventStore, resolver *access.Resolver, genericUses int64) *Engine {
	return &Engine{
		invitations:  invitations,
		participants: participants,
		events:       events,
		resolver:     resolver,
		genericUses:  genericUses,
		now:          time.Now,
	}
}

// Create mints an invitation for the event. Only the event owner may mint;
// the access check runs before any write. A code collision at the store
// regenerates the code.
func (e *Engine) Create(ctx context.Context, caller model.User, eventID string, invType model.InvitationType, description string) (model.Invitation, error) {
	if !invType.Valid() {
		return model.Invitation{}, ErrInvalidType
	}

	event, err := e.events.GetEvent(ctx, eventID)
	if err != nil {
		return model.Invitation{}, err
	}
	level, err := e.resolver.LevelFor(ctx, &caller, eventID, event.OwnerID)
	if err != nil {
		return model.Invitation{}, err
	}
	if level != model.AccessOwner {
		return model.Invitation{}, ErrForbidden
	}

	uses := e.genericUses
	if invType == model.InvitationOneTime {
		uses = 1
	}

	for attempt := 0; attempt < createAttempts; attempt++ {
		code, err := crypto.NewInviteCode()
		if err != nil {
			return model.Invitation{}, err
		}
		inv := model.Invitation{
			InviteCode:  code,
			EventID:     eventID,
			CreatedBy:   caller.ID,
			Type:        invType,
			Description: description,
			UsesLeft:    uses,
			CreatedAt:   e.now().UTC(),
		}
		err = e.invitations.CreateInvitation(ctx, inv)
		if err == nil {
			return inv, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return model.Invitation{}, err
		}
	}
	return model.Invitation{}, store.ErrConflict
}

// Get looks up an invitation by code. Callers serving non-owners must strip
// CreatedBy before returning the result.
func (e *Engine) Get(ctx context.Context, code string) (model.Invitation, error) {
	return e.invitations.GetInvitation(ctx, code)
}

// Redeem exchanges a code for membership. Returns true when a membership row
// was created, false when the caller already held membership. Under
// concurrent attempts on the last use, exactly one caller gets true and the
// rest get ErrExhausted, except callers who already hold membership, who
// always resolve idempotently.
//
// The decrement is a single conditional write; the membership insert is
// conditional on the row not existing. When the insert loses that race the
// already-consumed use is not refunded. A failure between the two steps
// leaves the invitation partially consumed; callers must re-query membership
// before retrying rather than blindly re-redeeming.
func (e *Engine) Redeem(ctx context.Context, caller model.User, code string) (bool, error) {
	inv, err := e.invitations.GetInvitation(ctx, code)
	if err != nil {
		return false, err
	}

	member, err := e.participants.HasParticipant(ctx, inv.EventID, caller.ID)
	if err != nil {
		return false, err
	}
	if member {
		return false, nil
	}

	if err := e.invitations.DecrementInvitationUse(ctx, code); err != nil {
		if errors.Is(err, store.ErrConditionFailed) {
			return false, ErrExhausted
		}
		return false, err
	}

	added, err := e.participants.AddParticipant(ctx, model.EventParticipant{
		EventID:    inv.EventID,
		UserID:     caller.ID,
		UserName:   caller.Name,
		UserEmail:  caller.Email,
		JoinedAt:   e.now().UTC(),
		InvitedVia: code,
	})
	if err != nil {
		return false, err
	}
	return added, nil
}

// Delete removes an invitation. Permitted for its creator or the event
// owner; everyone else gets ErrForbidden.
func (e *Engine) Delete(ctx context.Context, caller model.User, code string) error {
	inv, err := e.invitations.GetInvitation(ctx, code)
	if err != nil {
		return err
	}
	if caller.ID != inv.CreatedBy {
		event, err := e.events.GetEvent(ctx, inv.EventID)
		if err != nil || caller.ID != event.OwnerID {
			return ErrForbidden
		}
	}
	return e.invitations.DeleteInvitation(ctx, inv.InviteCode)
}
