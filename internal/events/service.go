// Package events owns the event records that anchor access control: every
// event has exactly one owner, and owner-only mutations are checked here
// before any write.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"scheduler/server/internal/model"
	"scheduler/server/internal/store"
)

// ErrForbidden means the caller is not the event owner.
var ErrForbidden = errors.New("events: forbidden")

type Service struct {
	events       store.EventStore
	invitations  store.InvitationStore
	participants store.ParticipantStore
	now          func() time.Time
}

func NewService(events store.EventStore, invitations store.InvitationStore, participants store.ParticipantStore) *Service {
	return &Service{
		events:       events,
		invitations:  invitations,
		participants: participants,
		now:          time.Now,
	}
}

func (s *Service) Create(ctx context.Context, owner model.User, name, description, location string, startsAt *time.Time) (model.Event, error) {
	now := s.now().UTC()
	event := model.Event{
		ID:          uuid.NewString(),
		OwnerID:     owner.ID,
		Name:        name,
		Description: description,
		Location:    location,
		StartsAt:    startsAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.events.CreateEvent(ctx, event); err != nil {
		return model.Event{}, err
	}
	return event, nil
}

func (s *Service) Get(ctx context.Context, id string) (model.Event, error) {
	return s.events.GetEvent(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]model.Event, error) {
	return s.events.ListEvents(ctx)
}

func (s *Service) Update(ctx context.Context, caller model.User, id, name, description, location string, startsAt *time.Time) (model.Event, error) {
	event, err := s.events.GetEvent(ctx, id)
	if err != nil {
		return model.Event{}, err
	}
	if caller.ID != event.OwnerID {
		return model.Event{}, ErrForbidden
	}
	event.Name = name
	event.Description = description
	event.Location = location
	event.StartsAt = startsAt
	event.UpdatedAt = s.now().UTC()
	if err := s.events.UpdateEvent(ctx, event); err != nil {
		return model.Event{}, err
	}
	return event, nil
}

// Delete removes the event along with its invitations and memberships.
func (s *Service) Delete(ctx context.Context, caller model.User, id string) error {
	event, err := s.events.GetEvent(ctx, id)
	if err != nil {
		return err
	}
	if caller.ID != event.OwnerID {
		return ErrForbidden
	}
	if err := s.invitations.DeleteInvitationsByEvent(ctx, id); err != nil {
		return err
	}
	if err := s.participants.DeleteParticipantsByEvent(ctx, id); err != nil {
		return err
	}
	return s.events.DeleteEvent(ctx, id)
}
