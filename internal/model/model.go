package model

import "time"

type User struct {
	ID          string
	Email       string
	Name        string
	CreatedAt   time.Time
	LastLoginAt *time.Time
	IsActive    bool
}

type Session struct {
	Token     string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

type Event struct {
	ID          string
	OwnerID     string
	Name        string
	Description string
	Location    string
	StartsAt    *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type InvitationType string

const (
	InvitationGeneric InvitationType = "generic"
	InvitationOneTime InvitationType = "one-time"
)

func (t InvitationType) Valid() bool {
	return t == InvitationGeneric || t == InvitationOneTime
}

type Invitation struct {
	InviteCode  string
	EventID     string
	CreatedBy   string
	Type        InvitationType
	Description string
	UsesLeft    int64
	CreatedAt   time.Time
}

type EventParticipant struct {
	EventID    string
	UserID     string
	UserName   string
	UserEmail  string
	JoinedAt   time.Time
	InvitedVia string
}

type AccessLevel string

const (
	AccessOwner       AccessLevel = "owner"
	AccessParticipant AccessLevel = "participant"
	AccessNone        AccessLevel = "none"
)
