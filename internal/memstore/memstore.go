// Package memstore is an in-memory store.Store used by tests and by dev runs
// without a database. The single mutex stands in for the external store's own
// serialization of conditional writes: each exported method is one atomic
// store operation, matching the contract the Postgres implementation gets
// from single-statement conditional SQL.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"scheduler/server/internal/model"
	"scheduler/server/internal/store"
)

type Store struct {
	mu           sync.Mutex
	users        map[string]model.User
	usersByEmail map[string]string
	sessions     map[string]model.Session
	events       map[string]model.Event
	invitations  map[string]model.Invitation
	participants map[participantKey]model.EventParticipant
}

type participantKey struct {
	eventID string
	userID  string
}

func New() *Store {
	return &Store{
		users:        map[string]model.User{},
		usersByEmail: map[string]string{},
		sessions:     map[string]model.Session{},
		events:       map[string]model.Event{},
		invitations:  map[string]model.Invitation{},
		participants: map[participantKey]model.EventParticipant{},
	}
}

var _ store.Store = (*Store)(nil)

func (s *Store) CreateUser(_ context.Context, user model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.ID]; ok {
		return store.ErrConflict
	}
	if _, ok := s.usersByEmail[user.Email]; ok {
		return store.ErrConflict
	}
	s.users[user.ID] = user
	s.usersByEmail[user.Email] = user.ID
	return nil
}

func (s *Store) GetUser(_ context.Context, id string) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return model.User{}, store.ErrNotFound
	}
	return user, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.usersByEmail[email]
	if !ok {
		return model.User{}, store.ErrNotFound
	}
	return s.users[id], nil
}

func (s *Store) SetLastLogin(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return store.ErrNotFound
	}
	user.LastLoginAt = &at
	s.users[id] = user
	return nil
}

func (s *Store) PutSession(_ context.Context, session model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.Token]; ok {
		return store.ErrConflict
	}
	s.sessions[session.Token] = session
	return nil
}

func (s *Store) GetSession(_ context.Context, token string) (model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[token]
	if !ok {
		return model.Session{}, store.ErrNotFound
	}
	return session, nil
}

func (s *Store) DeleteSession(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
	return nil
}

func (s *Store) CreateEvent(_ context.Context, event model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[event.ID]; ok {
		return store.ErrConflict
	}
	s.events[event.ID] = event
	return nil
}

func (s *Store) GetEvent(_ context.Context, id string) (model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[id]
	if !ok {
		return model.Event{}, store.ErrNotFound
	}
	return event, nil
}

func (s *Store) ListEvents(_ context.Context) ([]model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := make([]model.Event, 0, len(s.events))
	for _, event := range s.events {
		events = append(events, event)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].CreatedAt.Before(events[j].CreatedAt) })
	return events, nil
}

func (s *Store) UpdateEvent(_ context.Context, event model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[event.ID]; !ok {
		return store.ErrNotFound
	}
	s.events[event.ID] = event
	return nil
}

func (s *Store) DeleteEvent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.events, id)
	return nil
}

func (s *Store) CreateInvitation(_ context.Context, inv model.Invitation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.invitations[inv.InviteCode]; ok {
		return store.ErrConflict
	}
	s.invitations[inv.InviteCode] = inv
	return nil
}

func (s *Store) GetInvitation(_ context.Context, code string) (model.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invitations[code]
	if !ok {
		return model.Invitation{}, store.ErrNotFound
	}
	return inv, nil
}

func (s *Store) DecrementInvitationUse(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invitations[code]
	if !ok {
		return store.ErrNotFound
	}
	if inv.UsesLeft <= 0 {
		return store.ErrConditionFailed
	}
	inv.UsesLeft--
	s.invitations[code] = inv
	return nil
}

func (s *Store) DeleteInvitation(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.invitations[code]; !ok {
		return store.ErrNotFound
	}
	delete(s.invitations, code)
	return nil
}

func (s *Store) DeleteInvitationsByEvent(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for code, inv := range s.invitations {
		if inv.EventID == eventID {
			delete(s.invitations, code)
		}
	}
	return nil
}

func (s *Store) AddParticipant(_ context.Context, p model.EventParticipant) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := participantKey{eventID: p.EventID, userID: p.UserID}
	if _, ok := s.participants[key]; ok {
		return false, nil
	}
	s.participants[key] = p
	return true, nil
}

func (s *Store) HasParticipant(_ context.Context, eventID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.participants[participantKey{eventID: eventID, userID: userID}]
	return ok, nil
}

func (s *Store) ListParticipants(_ context.Context, eventID string) ([]model.EventParticipant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	participants := []model.EventParticipant{}
	for key, p := range s.participants {
		if key.eventID == eventID {
			participants = append(participants, p)
		}
	}
	sort.Slice(participants, func(i, j int) bool {
		return participants[i].JoinedAt.Before(participants[j].JoinedAt)
	})
	return participants, nil
}

func (s *Store) CountParticipants(_ context.Context, eventID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for key := range s.participants {
		if key.eventID == eventID {
			count++
		}
	}
	return count, nil
}

func (s *Store) DeleteParticipant(_ context.Context, eventID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.participants, participantKey{eventID: eventID, userID: userID})
	return nil
}

func (s *Store) DeleteParticipantsByEvent(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.participants {
		if key.eventID == eventID {
			delete(s.participants, key)
		}
	}
	return nil
}
