// Package access computes the caller's tier for an event: owner, participant,
// or none. The tier is derived per request from event ownership and the
// current membership row; nothing is cached.
package access

import (
	"context"
	"errors"

	"scheduler/server/internal/model"
	"scheduler/server/internal/session"
	"scheduler/server/internal/store"
)

type Resolver struct {
	sessions     *session.Manager
	participants store.ParticipantStore
}

func NewResolver(sessions *session.Manager, participants store.ParticipantStore) *Resolver {
	return &Resolver{sessions: sessions, participants: participants}
}

// Level resolves the bearer token (empty means anonymous) and returns the
// caller's tier for the event.
func (r *Resolver) Level(ctx context.Context, token, eventID, ownerID string) (model.AccessLevel, error) {
	if token == "" {
		return model.AccessNone, nil
	}
	user, err := r.sessions.Resolve(ctx, token)
	if err != nil {
		if errors.Is(err, session.ErrNoSession) {
			return model.AccessNone, nil
		}
		return model.AccessNone, err
	}
	return r.LevelFor(ctx, &user, eventID, ownerID)
}

// LevelFor computes the tier for an already-authenticated user. A nil user is
// anonymous.
func (r *Resolver) LevelFor(ctx context.Context, user *model.User, eventID, ownerID string) (model.AccessLevel, error) {
	if user == nil {
		return model.AccessNone, nil
	}
	if user.ID == ownerID {
		return model.AccessOwner, nil
	}
	member, err := r.participants.HasParticipant(ctx, eventID, user.ID)
	if err != nil {
		return model.AccessNone, err
	}
	if member {
		return model.AccessParticipant, nil
	}
	return model.AccessNone, nil
}
