package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"scheduler/server/internal/access"
	"scheduler/server/internal/config"
	"scheduler/server/internal/events"
	"scheduler/server/internal/invite"
	"scheduler/server/internal/membership"
	"scheduler/server/internal/model"
	"scheduler/server/internal/session"
	"scheduler/server/internal/store"
)

type Server struct {
	cfg      config.Config
	users    store.UserStore
	sessions *session.Manager
	invites  *invite.Engine
	members  *membership.Tracker
	resolver *access.Resolver
	events   *events.Service
}

func NewServer(cfg config.Config, users store.UserStore, sessions *session.Manager, invites *invite.Engine, members *membership.Tracker, resolver *access.Resolver, eventSvc *events.Service) *Server {
	return &Server{
		cfg:      cfg,
		users:    users,
		sessions: sessions,
		invites:  invites,
		members:  members,
		resolver: resolver,
		events:   eventSvc,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/auth/signup", s.handleSignup)
	r.Post("/auth/login", s.handleLogin)
	r.With(s.authMiddleware).Post("/auth/logout", s.handleLogout)
	r.With(s.authMiddleware).Get("/auth/me", s.handleGetMe)

	r.With(s.authMiddleware).Post("/events", s.handleCreateEvent)
	r.Get("/events", s.handleListEvents)
	r.Get("/events/{eventId}", s.handleGetEvent)
	r.With(s.authMiddleware).Put("/events/{eventId}", s.handleUpdateEvent)
	r.With(s.authMiddleware).Delete("/events/{eventId}", s.handleDeleteEvent)

	r.With(s.authMiddleware).Post("/invitations", s.handleCreateInvitation)
	r.Get("/invitations/{code}", s.handleGetInvitation)
	r.With(s.authMiddleware).Post("/invitations/{code}/redeem", s.handleRedeemInvitation)
	r.With(s.authMiddleware).Delete("/invitations/{code}", s.handleDeleteInvitation)

	r.With(s.authMiddleware).Get("/event-participants/event/{eventId}", s.handleListParticipants)
	r.Get("/event-participants/count/{eventId}", s.handleCountParticipants)
	r.With(s.authMiddleware).Delete("/event-participants/{eventId}/{userId}", s.handleRemoveParticipant)

	return r
}

// Auth

type userKey struct{}

type tokenKey struct{}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing_token")
			return
		}
		user, err := s.sessions.Resolve(r.Context(), token)
		if err != nil {
			if errors.Is(err, store.ErrUnavailable) {
				writeError(w, http.StatusServiceUnavailable, "store_unavailable")
				return
			}
			writeError(w, http.StatusUnauthorized, "invalid_token")
			return
		}
		ctx := context.WithValue(r.Context(), userKey{}, user)
		ctx = context.WithValue(ctx, tokenKey{}, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFromContext(ctx context.Context) (model.User, bool) {
	user, ok := ctx.Value(userKey{}).(model.User)
	return user, ok
}

// optionalUser resolves the bearer token if one is present, for endpoints
// that serve both anonymous and authenticated callers.
func (s *Server) optionalUser(r *http.Request) *model.User {
	token := bearerToken(r.Header.Get("Authorization"))
	if token == "" {
		return nil
	}
	user, err := s.sessions.Resolve(r.Context(), token)
	if err != nil {
		return nil
	}
	return &user
}

// Auth handlers

type signupRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

type userResponse struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	Name        string     `json:"name"`
	CreatedAt   time.Time  `json:"createdAt"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
	IsActive    bool       `json:"isActive"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	email := normalizeEmail(req.Email)
	if _, err := mail.ParseAddress(email); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_email")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "missing_name")
		return
	}

	user := model.User{
		ID:        uuid.NewString(),
		Email:     email,
		Name:      req.Name,
		CreatedAt: time.Now().UTC(),
		IsActive:  true,
	}
	if err := s.users.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, store.ErrConflict) {
			writeError(w, http.StatusBadRequest, "email_taken")
			return
		}
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]userResponse{"user": mapUser(user)})
}

type loginRequest struct {
	Email string `json:"email"`
}

type loginResponse struct {
	User         userResponse `json:"user"`
	SessionToken string       `json:"sessionToken"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	email := normalizeEmail(req.Email)
	if email == "" {
		writeError(w, http.StatusBadRequest, "invalid_email")
		return
	}

	user, err := s.users.GetUserByEmail(r.Context(), email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user_not_found")
			return
		}
		writeStoreError(w, err)
		return
	}
	if !user.IsActive {
		writeError(w, http.StatusForbidden, "user_inactive")
		return
	}

	now := time.Now().UTC()
	if err := s.users.SetLastLogin(r.Context(), user.ID, now); err != nil {
		writeStoreError(w, err)
		return
	}
	user.LastLoginAt = &now

	token, err := s.sessions.Issue(r.Context(), user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{User: mapUser(user), SessionToken: token})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	token, _ := r.Context().Value(tokenKey{}).(string)
	if err := s.sessions.Revoke(r.Context(), token); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]userResponse{"user": mapUser(user)})
}

// Event handlers

type eventRequest struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Location    string     `json:"location"`
	StartsAt    *time.Time `json:"startsAt"`
}

type userAccessResponse struct {
	Level   string `json:"level"`
	IsOwner bool   `json:"isOwner"`
}

type eventResponse struct {
	ID          string              `json:"id"`
	OwnerID     string              `json:"ownerId,omitempty"`
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Location    string              `json:"location,omitempty"`
	StartsAt    *time.Time          `json:"startsAt,omitempty"`
	CreatedAt   *time.Time          `json:"createdAt,omitempty"`
	UpdatedAt   *time.Time          `json:"updatedAt,omitempty"`
	UserAccess  *userAccessResponse `json:"userAccess,omitempty"`
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	var req eventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "missing_name")
		return
	}
	event, err := s.events.Create(r.Context(), user, req.Name, req.Description, req.Location, req.StartsAt)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]eventResponse{"event": mapEventDetail(event, model.AccessOwner)})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	list, err := s.events.List(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	summaries := make([]eventResponse, 0, len(list))
	for _, event := range list {
		summaries = append(summaries, mapEventSummary(event))
	}
	writeJSON(w, http.StatusOK, map[string][]eventResponse{"events": summaries})
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")
	event, err := s.events.Get(r.Context(), eventID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	viewer := s.optionalUser(r)
	level, err := s.resolver.LevelFor(r.Context(), viewer, event.ID, event.OwnerID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	if level == model.AccessNone {
		resp := mapEventSummary(event)
		resp.UserAccess = &userAccessResponse{Level: string(model.AccessNone), IsOwner: false}
		writeJSON(w, http.StatusOK, map[string]eventResponse{"event": resp})
		return
	}
	writeJSON(w, http.StatusOK, map[string]eventResponse{"event": mapEventDetail(event, level)})
}

func (s *Server) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	var req eventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "missing_name")
		return
	}
	event, err := s.events.Update(r.Context(), user, chi.URLParam(r, "eventId"), req.Name, req.Description, req.Location, req.StartsAt)
	if err != nil {
		if errors.Is(err, events.ErrForbidden) {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]eventResponse{"event": mapEventDetail(event, model.AccessOwner)})
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	if err := s.events.Delete(r.Context(), user, chi.URLParam(r, "eventId")); err != nil {
		if errors.Is(err, events.ErrForbidden) {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Invitation handlers

type createInvitationRequest struct {
	EventID     string `json:"eventId"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

type invitationResponse struct {
	InviteCode  string    `json:"inviteCode"`
	EventID     string    `json:"eventId"`
	CreatedBy   string    `json:"createdBy,omitempty"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	UsesLeft    int64     `json:"usesLeft"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (s *Server) handleCreateInvitation(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	var req createInvitationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if strings.TrimSpace(req.EventID) == "" {
		writeError(w, http.StatusBadRequest, "missing_event_id")
		return
	}

	inv, err := s.invites.Create(r.Context(), user, req.EventID, model.InvitationType(req.Type), req.Description)
	if err != nil {
		switch {
		case errors.Is(err, invite.ErrInvalidType):
			writeError(w, http.StatusBadRequest, "invalid_invitation_type")
		case errors.Is(err, invite.ErrForbidden):
			writeError(w, http.StatusForbidden, "forbidden")
		default:
			writeStoreError(w, err)
		}
		return
	}
	writeJSON(w, http.StatusCreated, map[string]invitationResponse{"invitation": mapInvitation(inv, true)})
}

func (s *Server) handleGetInvitation(w http.ResponseWriter, r *http.Request) {
	inv, err := s.invites.Get(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	// Public view: creator identity stays hidden.
	writeJSON(w, http.StatusOK, map[string]invitationResponse{"invitation": mapInvitation(inv, false)})
}

type redeemResponse struct {
	ParticipantAdded bool `json:"participantAdded"`
}

func (s *Server) handleRedeemInvitation(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	added, err := s.invites.Redeem(r.Context(), user, chi.URLParam(r, "code"))
	if err != nil {
		if errors.Is(err, invite.ErrExhausted) {
			writeError(w, http.StatusBadRequest, "invitation_exhausted")
			return
		}
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, redeemResponse{ParticipantAdded: added})
}

func (s *Server) handleDeleteInvitation(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	if err := s.invites.Delete(r.Context(), user, chi.URLParam(r, "code")); err != nil {
		if errors.Is(err, invite.ErrForbidden) {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Participant handlers

type participantResponse struct {
	EventID    string    `json:"eventId"`
	UserID     string    `json:"userId"`
	UserName   string    `json:"userName"`
	UserEmail  string    `json:"userEmail"`
	JoinedAt   time.Time `json:"joinedAt"`
	InvitedVia string    `json:"invitedVia"`
}

func (s *Server) handleListParticipants(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	eventID := chi.URLParam(r, "eventId")
	event, err := s.events.Get(r.Context(), eventID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	level, err := s.resolver.LevelFor(r.Context(), &user, event.ID, event.OwnerID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if level != model.AccessOwner {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	list, err := s.members.List(r.Context(), eventID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	participants := make([]participantResponse, 0, len(list))
	for _, p := range list {
		participants = append(participants, mapParticipant(p))
	}
	writeJSON(w, http.StatusOK, map[string][]participantResponse{"participants": participants})
}

func (s *Server) handleCountParticipants(w http.ResponseWriter, r *http.Request) {
	count, err := s.members.Count(r.Context(), chi.URLParam(r, "eventId"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": count})
}

func (s *Server) handleRemoveParticipant(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	eventID := chi.URLParam(r, "eventId")
	userID := chi.URLParam(r, "userId")
	if err := s.members.Remove(r.Context(), eventID, userID, user.ID); err != nil {
		if errors.Is(err, membership.ErrForbidden) {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Mapping

func mapUser(user model.User) userResponse {
	return userResponse{
		ID:          user.ID,
		Email:       user.Email,
		Name:        user.Name,
		CreatedAt:   user.CreatedAt,
		LastLoginAt: user.LastLoginAt,
		IsActive:    user.IsActive,
	}
}

func mapEventDetail(event model.Event, level model.AccessLevel) eventResponse {
	createdAt := event.CreatedAt
	updatedAt := event.UpdatedAt
	return eventResponse{
		ID:          event.ID,
		OwnerID:     event.OwnerID,
		Name:        event.Name,
		Description: event.Description,
		Location:    event.Location,
		StartsAt:    event.StartsAt,
		CreatedAt:   &createdAt,
		UpdatedAt:   &updatedAt,
		UserAccess: &userAccessResponse{
			Level:   string(level),
			IsOwner: level == model.AccessOwner,
		},
	}
}

func mapEventSummary(event model.Event) eventResponse {
	return eventResponse{
		ID:       event.ID,
		Name:     event.Name,
		StartsAt: event.StartsAt,
	}
}

func mapParticipant(p model.EventParticipant) participantResponse {
	return participantResponse{
		EventID:    p.EventID,
		UserID:     p.UserID,
		UserName:   p.UserName,
		UserEmail:  p.UserEmail,
		JoinedAt:   p.JoinedAt,
		InvitedVia: p.InvitedVia,
	}
}

func mapInvitation(inv model.Invitation, includeCreator bool) invitationResponse {
	resp := invitationResponse{
		InviteCode:  inv.InviteCode,
		EventID:     inv.EventID,
		Type:        string(inv.Type),
		Description: inv.Description,
		UsesLeft:    inv.UsesLeft,
		CreatedAt:   inv.CreatedAt,
	}
	if includeCreator {
		resp.CreatedBy = inv.CreatedBy
	}
	return resp
}

// Helpers

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found")
	case errors.Is(err, store.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "store_unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "server_error")
	}
}
