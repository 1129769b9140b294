package order

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/printdesk/internal/common"
	"github.com/noah-isme/printdesk/internal/pricing"
	"github.com/noah-isme/printdesk/internal/remote"
	"github.com/noah-isme/printdesk/internal/session"
)

const maxPerPage = 100

// Orders is the upstream order history API.
type Orders interface {
	ListOrders(ctx context.Context, token, username string) ([]remote.Order, error)
	GetOrder(ctx context.Context, token string, id remote.ID) (remote.Order, error)
}

// Sessions resolves the session making the request.
type Sessions interface {
	Get(ctx context.Context, id string) (session.State, error)
}

// Handler serves the order history of the logged-in account.
type Handler struct {
	Sessions   Sessions
	Orders     Orders
	WriteError func(w http.ResponseWriter, r *http.Request, err error)
}

// Routes mounts the order history endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/orders", h.List)
	r.Get("/orders/{orderID}", h.Get)
}

// List handles GET /api/v1/orders. Orders are newest first; ?status= filters
// by upstream status.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	st, ok := h.account(w, r)
	if !ok {
		return
	}
	orders, err := h.Orders.ListOrders(r.Context(), st.Credential, st.User.Username)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if status := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("status"))); status != "" {
		filtered := orders[:0]
		for _, o := range orders {
			if string(o.Status) == status {
				filtered = append(filtered, o)
			}
		}
		orders = filtered
	}
	sortNewestFirst(orders)

	page, perPage := common.ParsePagination(r, 20)
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	start, end := common.Window(len(orders), page, perPage)
	response := make([]map[string]any, 0, end-start)
	for _, o := range orders[start:end] {
		response = append(response, summary(o))
	}
	w.Header().Set("X-Total-Count", strconv.Itoa(len(orders)))
	common.JSON(w, http.StatusOK, map[string]any{
		"data": response,
		"pagination": common.Pagination{
			Page:       page,
			PerPage:    perPage,
			TotalItems: len(orders),
		},
	})
}

// Get handles GET /api/v1/orders/{orderID}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	st, ok := h.account(w, r)
	if !ok {
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		common.WriteError(w, common.ValidationError("order id is required", nil))
		return
	}
	o, err := h.Orders.GetOrder(r.Context(), st.Credential, remote.ID(orderID))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	items := make([]map[string]any, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, map[string]any{
			"id":            it.ID,
			"documentId":    it.DocumentID,
			"fileName":      it.FileName,
			"pageCount":     it.PageCount,
			"price":         it.Price,
			"priceDisplay":  pricing.FormatMinor(it.Price, o.Currency),
			"printSettings": it.PrintSettings.Options(),
		})
	}
	data := summary(o)
	data["items"] = items
	data["paymentId"] = o.PaymentID
	data["notes"] = o.Notes
	data["updatedAt"] = o.UpdatedAt
	common.JSON(w, http.StatusOK, map[string]any{"data": data})
}

func summary(o remote.Order) map[string]any {
	return map[string]any{
		"id":           o.ID,
		"orderNumber":  o.OrderNumber,
		"status":       o.Status,
		"paid":         o.Status.Paid(),
		"total":        o.TotalAmount,
		"totalDisplay": pricing.FormatMinor(o.TotalAmount, o.Currency),
		"currency":     o.Currency,
		"documents":    len(o.Items),
		"createdAt":    o.CreatedAt,
	}
}

func (h *Handler) account(w http.ResponseWriter, r *http.Request) (session.State, bool) {
	if h.Sessions == nil || h.Orders == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "order history not configured", nil)
		return session.State{}, false
	}
	id, ok := common.SessionID(r.Context())
	if !ok {
		common.WriteError(w, common.UnauthorizedError("session required", nil))
		return session.State{}, false
	}
	st, err := h.Sessions.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return session.State{}, false
	}
	if !st.Authenticated || st.User == nil {
		common.WriteError(w, common.StaleStateError("log in to view your orders", "login"))
		return session.State{}, false
	}
	return st, true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if h.WriteError != nil {
		h.WriteError(w, r, err)
		return
	}
	common.WriteError(w, err)
}

// timestampLayouts are the createdAt forms the upstream emits; zone-less values are UTC.
var timestampLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999"}

func createdAt(o remote.Order) (time.Time, bool) {
	raw := strings.TrimSpace(o.CreatedAt)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// sortNewestFirst orders by creation instant, newest first. Orders with an
// unreadable timestamp keep their relative order at the end.
func sortNewestFirst(orders []remote.Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		ti, okI := createdAt(orders[i])
		tj, okJ := createdAt(orders[j])
		if okI != okJ {
			return okI
		}
		return ti.After(tj)
	})
}
