package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Erenimo3442/GroupChatting/internal/service"
	"github.com/Erenimo3442/GroupChatting/pkg/httputil"
	"github.com/Erenimo3442/GroupChatting/pkg/middleware"
	"github.com/Erenimo3442/GroupChatting/pkg/validator"
)

// GroupHandler handles HTTP requests for group and membership endpoints.
type GroupHandler struct {
	service *service.GroupService
	logger  *slog.Logger
}

// NewGroupHandler creates a new group HTTP handler.
func NewGroupHandler(svc *service.GroupService, logger *slog.Logger) *GroupHandler {
	return &GroupHandler{service: svc, logger: logger}
}

// --- Request DTOs ---

// CreateGroupRequest is the JSON request body for creating a group.
type CreateGroupRequest struct {
	Name     string `json:"name" validate:"required,min=1,max=100"`
	IsPublic bool   `json:"is_public"`
}

// InviteRequest is the JSON request body for inviting a user to a group.
type InviteRequest struct {
	UserID string `json:"user_id" validate:"required,uuid"`
}

// ApproveRequest is the JSON request body for approving a join application.
type ApproveRequest struct {
	UserID string `json:"user_id" validate:"required,uuid"`
}

// --- Handlers ---

// Create handles POST /api/v1/groups
func (h *GroupHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit

	var req CreateGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return
	}

	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	group, err := h.service.CreateGroup(r.Context(), userID, service.CreateGroupInput{
		Name:     req.Name,
		IsPublic: req.IsPublic,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: group})
}

// List handles GET /api/v1/groups and returns the caller's active groups.
func (h *GroupHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())

	groups, err := h.service.ListGroups(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: groups})
}

// Get handles GET /api/v1/groups/{id}
func (h *GroupHandler) Get(w http.ResponseWriter, r *http.Request) {
	groupID, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	group, err := h.service.GetGroup(r.Context(), groupID.String())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: group})
}

// ListMembers handles GET /api/v1/groups/{id}/members
func (h *GroupHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	groupID, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	members, err := h.service.ListMembers(r.Context(), userID, groupID.String())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: members})
}

// Invite handles POST /api/v1/groups/{id}/invite
func (h *GroupHandler) Invite(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	groupID, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit

	var req InviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return
	}

	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	if err := h.service.InviteUser(r.Context(), userID, groupID.String(), req.UserID); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{
		Data: map[string]string{"group_id": groupID.String(), "user_id": req.UserID, "status": "invited"},
	})
}

// Apply handles POST /api/v1/groups/{id}/apply
func (h *GroupHandler) Apply(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	groupID, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	if err := h.service.Apply(r.Context(), userID, groupID.String()); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{
		Data: map[string]string{"group_id": groupID.String(), "status": "pending_approval"},
	})
}

// Accept handles POST /api/v1/groups/{id}/accept
func (h *GroupHandler) Accept(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	groupID, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	if err := h.service.AcceptInvitation(r.Context(), userID, groupID.String()); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: map[string]string{"group_id": groupID.String(), "status": "active"},
	})
}

// Approve handles POST /api/v1/groups/{id}/approve
func (h *GroupHandler) Approve(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	groupID, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit

	var req ApproveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return
	}

	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	if err := h.service.ApproveApplication(r.Context(), userID, groupID.String(), req.UserID); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: map[string]string{"group_id": groupID.String(), "user_id": req.UserID, "status": "active"},
	})
}

// Join handles POST /api/v1/groups/{id}/join
func (h *GroupHandler) Join(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	groupID, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	if err := h.service.JoinPublicGroup(r.Context(), userID, groupID.String()); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{
		Data: map[string]string{"group_id": groupID.String(), "status": "active"},
	})
}
