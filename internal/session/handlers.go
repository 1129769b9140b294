package session

import (
	"context"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/printdesk/internal/common"
	"github.com/noah-isme/printdesk/internal/document"
	"github.com/noah-isme/printdesk/internal/merchant"
	"github.com/noah-isme/printdesk/internal/printing"
	"github.com/noah-isme/printdesk/internal/security"
)

const defaultUploadMemory = 8 << 20

// MerchantLister fetches the merchant directory with the caller's credential.
type MerchantLister interface {
	List(ctx context.Context, token string) ([]merchant.Merchant, error)
}

// Handler exposes the session state container over HTTP.
type Handler struct {
	Store        *Store
	Intake       document.Intake
	Merchants    MerchantLister
	UploadMemory int64
	// UploadLimit, when set, wraps the upload endpoint (rate limiting).
	UploadLimit func(http.Handler) http.Handler
}

// Routes mounts the session endpoints on r. The caller is responsible for
// authenticating the session and putting its id on the request context.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/session", h.Get)
	if h.UploadLimit != nil {
		r.With(h.UploadLimit).Post("/session/documents", h.Upload)
	} else {
		r.Post("/session/documents", h.Upload)
	}
	r.Delete("/session/documents", h.ClearDocuments)
	r.Patch("/session/options", h.UpdateOptions)
	r.Put("/session/documents/{documentID}/options", h.UpdateDocumentOptions)
	r.Post("/session/price", h.Recompute)
	r.Get("/merchants", h.ListMerchants)
	r.Post("/session/merchant", h.SelectMerchant)
	r.Post("/session/reset", h.Reset)
}

// Get returns the current session view.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	st, err := h.Store.Get(r.Context(), id)
	if err != nil {
		h.Store.WriteError(w, r, err)
		return
	}
	h.render(w, http.StatusOK, st, nil)
}

// Upload ingests the multipart "files" field and replaces the document set.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	mem := h.UploadMemory
	if mem <= 0 {
		mem = defaultUploadMemory
	}
	if err := r.ParseMultipartForm(mem); err != nil {
		if security.TooLarge(err) {
			security.WriteTooLarge(w)
			return
		}
		common.WriteError(w, common.ValidationError("multipart form with a files field required", nil))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()
	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		common.WriteError(w, common.ValidationError("at least one file required", map[string]string{"field": "files"}))
		return
	}
	uploads := make([]document.Upload, 0, len(headers))
	for _, fh := range headers {
		up, err := readUpload(fh)
		if err != nil {
			if security.TooLarge(err) {
				security.WriteTooLarge(w)
				return
			}
			common.WriteError(w, common.ValidationError("unable to read upload", map[string]string{"file": fh.Filename}))
			return
		}
		uploads = append(uploads, up)
	}

	batch, err := h.Intake.Ingest(r.Context(), uploads)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	st, err := h.Store.Dispatch(r.Context(), id, SetDocuments{Documents: batch.Documents})
	if err != nil {
		h.Store.WriteError(w, r, err)
		return
	}
	zerolog.Ctx(r.Context()).Info().
		Int("accepted", len(batch.Documents)).
		Int("rejected", len(batch.Rejected)).
		Msg("documents_uploaded")
	h.render(w, http.StatusOK, st, map[string]any{
		"rejected": batch.Rejected,
		"warnings": batch.Warnings,
	})
}

// ClearDocuments empties the document set.
func (h *Handler) ClearDocuments(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, SetDocuments{})
}

// UpdateOptions merges a partial print options update.
func (h *Handler) UpdateOptions(w http.ResponseWriter, r *http.Request) {
	var patch printing.Patch
	if err := common.DecodeJSON(r, &patch); err != nil {
		common.WriteError(w, err)
		return
	}
	if patch.Empty() {
		common.WriteError(w, common.ValidationError("no options supplied", nil))
		return
	}
	h.dispatch(w, r, SetPrintOptions{Patch: patch})
}

// UpdateDocumentOptions overrides or clears the options of one document.
func (h *Handler) UpdateDocumentOptions(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		printing.Patch
		Clear bool `json:"clear"`
	}
	if err := common.DecodeJSON(r, &payload); err != nil {
		common.WriteError(w, err)
		return
	}
	if !payload.Clear && payload.Patch.Empty() {
		common.WriteError(w, common.ValidationError("no options supplied", nil))
		return
	}
	h.dispatch(w, r, SetDocumentOptions{
		DocumentID: chi.URLParam(r, "documentID"),
		Patch:      payload.Patch,
		Clear:      payload.Clear,
	})
}

// Recompute prices the current document set.
func (h *Handler) Recompute(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, RecomputePrice{})
}

// ListMerchants fetches the merchant directory and stores it in the session.
func (h *Handler) ListMerchants(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	st, err := h.Store.Get(r.Context(), id)
	if err != nil {
		h.Store.WriteError(w, r, err)
		return
	}
	if !st.Authenticated {
		common.WriteError(w, common.StaleStateError("log in to browse merchants", ActionLogin))
		return
	}
	if h.Merchants == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "merchant directory not configured", nil)
		return
	}
	list, err := h.Merchants.List(r.Context(), st.Credential)
	if err != nil {
		h.Store.WriteError(w, r, err)
		return
	}
	st, err = h.Store.Dispatch(r.Context(), id, SetMerchants{Merchants: list})
	if err != nil {
		h.Store.WriteError(w, r, err)
		return
	}
	merchants := st.Merchants
	if merchants == nil {
		merchants = []merchant.Merchant{}
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data": merchants,
		"meta": map[string]any{"selected": st.SelectedMerchant},
	})
}

// SelectMerchant chooses a merchant from the stored list.
func (h *Handler) SelectMerchant(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		MerchantID string `json:"merchantId" validate:"required"`
	}
	if err := common.DecodeJSON(r, &payload); err != nil {
		common.WriteError(w, err)
		return
	}
	if err := common.ValidateStruct(payload); err != nil {
		common.WriteError(w, err)
		return
	}
	h.dispatch(w, r, SelectMerchant{MerchantID: payload.MerchantID})
}

// Reset returns the session to intake.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, Reset{})
}

func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request, action Action) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	st, err := h.Store.Dispatch(r.Context(), id, action)
	if err != nil {
		h.Store.WriteError(w, r, err)
		return
	}
	h.render(w, http.StatusOK, st, nil)
}

func (h *Handler) sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "session store not configured", nil)
		return "", false
	}
	id, ok := common.SessionID(r.Context())
	if !ok {
		common.WriteError(w, common.UnauthorizedError("session required", nil))
		return "", false
	}
	return id, true
}

func (h *Handler) render(w http.ResponseWriter, status int, st State, meta map[string]any) {
	body := map[string]any{"data": st.View(h.Store.Currency())}
	if len(meta) > 0 {
		body["meta"] = meta
	}
	common.JSON(w, status, body)
}

func readUpload(fh *multipart.FileHeader) (document.Upload, error) {
	f, err := fh.Open()
	if err != nil {
		return document.Upload{}, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return document.Upload{}, err
	}
	return document.Upload{
		Name:      fh.Filename,
		MediaType: fh.Header.Get("Content-Type"),
		Data:      data,
	}, nil
}
