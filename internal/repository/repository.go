// Package repository implements store.Store on Postgres. All shared-row
// mutations (invitation decrement, membership insert) are single conditional
// statements so concurrent redemptions serialize on the database, not here.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"scheduler/server/internal/model"
	"scheduler/server/internal/store"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

var _ store.Store = (*Store)(nil)

func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func (s *Store) CreateUser(ctx context.Context, user model.User) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, email, name, created_at, last_login_at, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, user.ID, user.Email, user.Name, user.CreatedAt, user.LastLoginAt, user.IsActive)
	return mapErr(err)
}

func (s *Store) GetUser(ctx context.Context, id string) (model.User, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, email, name, created_at, last_login_at, is_active
		FROM users
		WHERE id = $1
	`, id)
	return scanUser(row)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (model.User, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, email, name, created_at, last_login_at, is_active
		FROM users
		WHERE email = $1
	`, email)
	return scanUser(row)
}

func scanUser(row pgx.Row) (model.User, error) {
	var user model.User
	err := row.Scan(&user.ID, &user.Email, &user.Name, &user.CreatedAt, &user.LastLoginAt, &user.IsActive)
	if err != nil {
		return model.User{}, mapErr(err)
	}
	return user, nil
}

func (s *Store) SetLastLogin(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET last_login_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) PutSession(ctx context.Context, session model.Session) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (token, user_id, created_at, expires_at)
		VALUES ($1, $2, $3, $4)
	`, session.Token, session.UserID, session.CreatedAt, session.ExpiresAt)
	return mapErr(err)
}

func (s *Store) GetSession(ctx context.Context, token string) (model.Session, error) {
	var session model.Session
	row := s.pool.QueryRow(ctx, `
		SELECT token, user_id, created_at, expires_at
		FROM sessions
		WHERE token = $1
	`, token)
	if err := row.Scan(&session.Token, &session.UserID, &session.CreatedAt, &session.ExpiresAt); err != nil {
		return model.Session{}, mapErr(err)
	}
	return session, nil
}

func (s *Store) DeleteSession(ctx context.Context, token string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE token = $1`, token)
	return mapErr(err)
}

func (s *Store) CreateEvent(ctx context.Context, event model.Event) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO events (id, owner_id, name, description, location, starts_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, event.ID, event.OwnerID, event.Name, event.Description, event.Location, event.StartsAt, event.CreatedAt, event.UpdatedAt)
	return mapErr(err)
}

func (s *Store) GetEvent(ctx context.Context, id string) (model.Event, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, owner_id, name, description, location, starts_at, created_at, updated_at
		FROM events
		WHERE id = $1
	`, id)
	var event model.Event
	err := row.Scan(&event.ID, &event.OwnerID, &event.Name, &event.Description, &event.Location, &event.StartsAt, &event.CreatedAt, &event.UpdatedAt)
	if err != nil {
		return model.Event{}, mapErr(err)
	}
	return event, nil
}

func (s *Store) ListEvents(ctx context.Context) ([]model.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, owner_id, name, description, location, starts_at, created_at, updated_at
		FROM events
		ORDER BY created_at
	`)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	events := []model.Event{}
	for rows.Next() {
		var event model.Event
		if err := rows.Scan(&event.ID, &event.OwnerID, &event.Name, &event.Description, &event.Location, &event.StartsAt, &event.CreatedAt, &event.UpdatedAt); err != nil {
			return nil, mapErr(err)
		}
		events = append(events, event)
	}
	return events, mapErr(rows.Err())
}

func (s *Store) UpdateEvent(ctx context.Context, event model.Event) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE events
		SET name = $1, description = $2, location = $3, starts_at = $4, updated_at = $5
		WHERE id = $6
	`, event.Name, event.Description, event.Location, event.StartsAt, event.UpdatedAt, event.ID)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteEvent(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM events WHERE id = $1`, id)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateInvitation(ctx context.Context, inv model.Invitation) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO invitations (invite_code, event_id, created_by, invite_type, description, uses_left, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, inv.InviteCode, inv.EventID, inv.CreatedBy, string(inv.Type), inv.Description, inv.UsesLeft, inv.CreatedAt)
	return mapErr(err)
}

func (s *Store) GetInvitation(ctx context.Context, code string) (model.Invitation, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT invite_code, event_id, created_by, invite_type, description, uses_left, created_at
		FROM invitations
		WHERE invite_code = $1
	`, code)
	var inv model.Invitation
	var invType string
	err := row.Scan(&inv.InviteCode, &inv.EventID, &inv.CreatedBy, &invType, &inv.Description, &inv.UsesLeft, &inv.CreatedAt)
	if err != nil {
		return model.Invitation{}, mapErr(err)
	}
	inv.Type = model.InvitationType(invType)
	return inv, nil
}

// DecrementInvitationUse relies on the WHERE clause for atomicity: two
// concurrent calls on uses_left=1 serialize inside Postgres and exactly one
// matches the uses_left > 0 condition.
func (s *Store) DecrementInvitationUse(ctx context.Context, code string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE invitations
		SET uses_left = uses_left - 1
		WHERE invite_code = $1 AND uses_left > 0
	`, code)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.GetInvitation(ctx, code); getErr != nil {
			return getErr
		}
		return store.ErrConditionFailed
	}
	return nil
}

func (s *Store) DeleteInvitation(ctx context.Context, code string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM invitations WHERE invite_code = $1`, code)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteInvitationsByEvent(ctx context.Context, eventID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM invitations WHERE event_id = $1`, eventID)
	return mapErr(err)
}

func (s *Store) AddParticipant(ctx context.Context, p model.EventParticipant) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO event_participants (event_id, user_id, user_name, user_email, joined_at, invited_via)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (event_id, user_id) DO NOTHING
	`, p.EventID, p.UserID, p.UserName, p.UserEmail, p.JoinedAt, p.InvitedVia)
	if err != nil {
		return false, mapErr(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) HasParticipant(ctx context.Context, eventID, userID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM event_participants WHERE event_id = $1 AND user_id = $2)
	`, eventID, userID).Scan(&exists)
	if err != nil {
		return false, mapErr(err)
	}
	return exists, nil
}

func (s *Store) ListParticipants(ctx context.Context, eventID string) ([]model.EventParticipant, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT event_id, user_id, user_name, user_email, joined_at, invited_via
		FROM event_participants
		WHERE event_id = $1
		ORDER BY joined_at
	`, eventID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	participants := []model.EventParticipant{}
	for rows.Next() {
		var p model.EventParticipant
		if err := rows.Scan(&p.EventID, &p.UserID, &p.UserName, &p.UserEmail, &p.JoinedAt, &p.InvitedVia); err != nil {
			return nil, mapErr(err)
		}
		participants = append(participants, p)
	}
	return participants, mapErr(rows.Err())
}

func (s *Store) CountParticipants(ctx context.Context, eventID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM event_participants WHERE event_id = $1
	`, eventID).Scan(&count)
	if err != nil {
		return 0, mapErr(err)
	}
	return count, nil
}

func (s *Store) DeleteParticipant(ctx context.Context, eventID, userID string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM event_participants WHERE event_id = $1 AND user_id = $2
	`, eventID, userID)
	return mapErr(err)
}

func (s *Store) DeleteParticipantsByEvent(ctx context.Context, eventID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM event_participants WHERE event_id = $1`, eventID)
	return mapErr(err)
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return store.ErrConflict
	}
	return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
}
