package user

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/printdesk/internal/common"
	"github.com/noah-isme/printdesk/internal/remote"
)

// Handler exposes REST endpoints for the logged-in account's profile.
type Handler struct {
	Service *Service
	// WriteError renders errors; upstream 401s log the session out.
	WriteError func(w http.ResponseWriter, r *http.Request, err error)
}

// Routes mounts the profile endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/users/me", h.Get)
	r.Patch("/users/me", h.Update)
	r.Post("/users/me/password", h.ChangePassword)
}

// Get handles GET /api/v1/users/me.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	u, err := h.Service.Profile(r.Context(), sessionID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": u})
}

// Update handles PATCH /api/v1/users/me.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	var req remote.ProfileUpdate
	if err := common.DecodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	u, err := h.Service.Update(r.Context(), sessionID, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": u})
}

// ChangePassword handles POST /api/v1/users/me/password.
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	var req remote.PasswordChange
	if err := common.DecodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.Service.ChangePassword(r.Context(), sessionID, req); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "profile service not configured", nil)
		return "", false
	}
	id, ok := common.SessionID(r.Context())
	if !ok {
		common.WriteError(w, common.UnauthorizedError("session required", nil))
		return "", false
	}
	return id, true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if h.WriteError != nil {
		h.WriteError(w, r, err)
		return
	}
	common.WriteError(w, err)
}
