package checkout

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/noah-isme/printdesk/internal/common"
	"github.com/noah-isme/printdesk/internal/payment"
)

// ErrorWriter renders service errors. The session store's WriteError logs the
// session out on upstream UNAUTHORIZED.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// Handler exposes checkout flows over HTTP.
type Handler struct {
	Svc        *Service
	WriteError ErrorWriter
}

// Routes mounts the checkout endpoints. idem, when non-nil, guards flow creation.
func (h *Handler) Routes(r chi.Router, idem func(http.Handler) http.Handler) {
	if idem != nil {
		r.With(idem).Post("/checkout", h.Place)
	} else {
		r.Post("/checkout", h.Place)
	}
	r.Get("/checkout/{flowID}", h.Get)
	r.Post("/checkout/{flowID}/callback", h.Callback)
	r.Post("/checkout/{flowID}/dismiss", h.Dismiss)
}

// Place starts a checkout for the current session.
func (h *Handler) Place(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	flow, err := h.Svc.Place(r.Context(), sessionID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": flow})
}

// Get returns one flow.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	flowID, ok := parseFlowID(w, r)
	if !ok {
		return
	}
	flow, err := h.Svc.Get(r.Context(), sessionID, flowID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": flow})
}

// Callback receives the payment widget's success callback.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	flowID, ok := parseFlowID(w, r)
	if !ok {
		return
	}
	var cb payment.Callback
	if err := common.DecodeJSON(r, &cb); err != nil {
		common.WriteError(w, err)
		return
	}
	flow, err := h.Svc.Confirm(r.Context(), sessionID, flowID, cb)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": flow})
}

// Dismiss marks the flow abandoned.
func (h *Handler) Dismiss(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	flowID, ok := parseFlowID(w, r)
	if !ok {
		return
	}
	flow, err := h.Svc.Dismiss(r.Context(), sessionID, flowID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": flow})
}

func (h *Handler) sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "checkout service not configured", nil)
		return "", false
	}
	id, ok := common.SessionID(r.Context())
	if !ok {
		common.WriteError(w, common.UnauthorizedError("session required", nil))
		return "", false
	}
	return id, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if h.WriteError != nil {
		h.WriteError(w, r, err)
		return
	}
	common.WriteError(w, err)
}

func parseFlowID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "flowID"))
	if err != nil {
		common.WriteError(w, common.ValidationError("invalid checkout id", nil))
		return uuid.Nil, false
	}
	return id, true
}
