// Package store defines the persistence boundary of the service. Every
// implementation must provide the conditional-write semantics the interfaces
// document; cross-request coordination happens only through those conditions,
// never through in-process locks.
package store

import (
	"context"
	"errors"
	"time"

	"scheduler/server/internal/model"
)

var (
	// ErrNotFound reports that the requested row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict reports that an insert hit an existing key or unique index.
	ErrConflict = errors.New("store: conflict")
	// ErrConditionFailed reports that a conditional update's precondition did
	// not hold against the current row state.
	ErrConditionFailed = errors.New("store: condition failed")
	// ErrUnavailable reports a store-side failure (timeout, connectivity),
	// distinct from any answer about the data.
	ErrUnavailable = errors.New("store: unavailable")
)

type UserStore interface {
	// CreateUser inserts the user; ErrConflict if the id or email is taken.
	CreateUser(ctx context.Context, user model.User) error
	GetUser(ctx context.Context, id string) (model.User, error)
	GetUserByEmail(ctx context.Context, email string) (model.User, error)
	SetLastLogin(ctx context.Context, id string, at time.Time) error
}

type SessionStore interface {
	// PutSession inserts the session; ErrConflict if the token already exists.
	PutSession(ctx context.Context, session model.Session) error
	GetSession(ctx context.Context, token string) (model.Session, error)
	// DeleteSession is idempotent; deleting an absent row is not an error.
	DeleteSession(ctx context.Context, token string) error
}

type EventStore interface {
	CreateEvent(ctx context.Context, event model.Event) error
	GetEvent(ctx context.Context, id string) (model.Event, error)
	ListEvents(ctx context.Context) ([]model.Event, error)
	UpdateEvent(ctx context.Context, event model.Event) error
	DeleteEvent(ctx context.Context, id string) error
}

type InvitationStore interface {
	// CreateInvitation inserts the invitation; ErrConflict if the code exists.
	CreateInvitation(ctx context.Context, inv model.Invitation) error
	GetInvitation(ctx context.Context, code string) (model.Invitation, error)
	// DecrementInvitationUse atomically decrements uses_left by one, only if
	// the current value is greater than zero. ErrConditionFailed when the
	// invitation is exhausted, ErrNotFound when the code does not exist.
	// Implementations must apply this as a single conditional write.
	DecrementInvitationUse(ctx context.Context, code string) error
	DeleteInvitation(ctx context.Context, code string) error
	DeleteInvitationsByEvent(ctx context.Context, eventID string) error
}

type ParticipantStore interface {
	// AddParticipant inserts the membership row only if no row exists for the
	// (event, user) pair. Returns false when the row was already present.
	AddParticipant(ctx context.Context, p model.EventParticipant) (bool, error)
	HasParticipant(ctx context.Context, eventID, userID string) (bool, error)
	ListParticipants(ctx context.Context, eventID string) ([]model.EventParticipant, error)
	CountParticipants(ctx context.Context, eventID string) (int, error)
	// DeleteParticipant is idempotent on absence.
	DeleteParticipant(ctx context.Context, eventID, userID string) error
	DeleteParticipantsByEvent(ctx context.Context, eventID string) error
}

// Store is the full persistence surface the service is wired with.
type Store interface {
	UserStore
	SessionStore
	EventStore
	InvitationStore
	ParticipantStore
}
