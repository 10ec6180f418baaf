// Package membership maintains the participant set per event.
package membership

import (
	"context"
	"errors"

	"scheduler/server/internal/model"
	"scheduler/server/internal/store"
)

// ErrForbidden means the requester may not remove that membership.
var ErrForbidden = errors.New("membership: forbidden")

type Tracker struct {
	participants store.ParticipantStore
	events       store.EventStore
}

func NewTracker(participants store.ParticipantStore, events store.EventStore) *Tracker {
	return &Tracker{participants: participants, events: events}
}

func (t *Tracker) List(ctx context.Context, eventID string) ([]model.EventParticipant, error) {
	return t.participants.ListParticipants(ctx, eventID)
}

// Count recomputes from the current membership rows; there is no cached
// counter to drift.
func (t *Tracker) Count(ctx context.Context, eventID string) (int, error) {
	return t.participants.CountParticipants(ctx, eventID)
}

// Remove deletes the membership row. Permitted for the member themselves or
// the event owner; idempotent when the row is already gone. Removal never
// restores invitation capacity.
func (t *Tracker) Remove(ctx context.Context, eventID, userID, requesterID string) error {
	if requesterID != userID {
		event, err := t.events.GetEvent(ctx, eventID)
		if err != nil {
			return err
		}
		if requesterID != event.OwnerID {
			return ErrForbidden
		}
	}
	return t.participants.DeleteParticipant(ctx, eventID, userID)
}
