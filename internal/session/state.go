// Package session holds the per-browser-session state container: the document
// set, print options, computed price and merchant selection, mutated only by
// pure reducers and serialised per session by the Store.
package session

import (
	"time"

	"github.com/noah-isme/printdesk/internal/common"
	"github.com/noah-isme/printdesk/internal/document"
	"github.com/noah-isme/printdesk/internal/merchant"
	"github.com/noah-isme/printdesk/internal/pricing"
	"github.com/noah-isme/printdesk/internal/printing"
	"github.com/noah-isme/printdesk/internal/remote"
)

// Corrective actions named by StaleStateError details.
const (
	ActionLogin          = "login"
	ActionUpload         = "upload"
	ActionRecomputePrice = "recompute_price"
	ActionSelectMerchant = "select_merchant"
)

// State is the full session state. Total is only trustworthy while PriceFresh holds.
type State struct {
	ID               string              `json:"id"`
	Authenticated    bool                `json:"authenticated"`
	User             *remote.User        `json:"user,omitempty"`
	Credential       string              `json:"credential,omitempty"`
	Documents        []document.Document `json:"documents"`
	Options          printing.Options    `json:"options"`
	Quote            *pricing.Quote      `json:"quote,omitempty"`
	Total            pricing.Money       `json:"total"`
	PriceFresh       bool                `json:"priceFresh"`
	Merchants        []merchant.Merchant `json:"merchants,omitempty"`
	SelectedMerchant *merchant.Merchant  `json:"selectedMerchant,omitempty"`
	// MerchantAccount is the print-shop owner signed in on this session, kept
	// apart from the customer identity above.
	MerchantAccount    *remote.MerchantAccount `json:"merchantAccount,omitempty"`
	MerchantCredential string                  `json:"merchantCredential,omitempty"`
	Version            int64                   `json:"version"`
	CreatedAt          time.Time               `json:"createdAt"`
	UpdatedAt          time.Time               `json:"updatedAt"`
}

// New returns the state of a fresh, anonymous session.
func New(id string, now time.Time) State {
	return State{
		ID:        id,
		Documents: []document.Document{},
		Options:   printing.Defaults(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy so reducers never alias the previous state.
func (s State) Clone() State {
	out := s
	out.Documents = document.Clone(s.Documents)
	if s.User != nil {
		u := *s.User
		u.Roles = append([]string(nil), s.User.Roles...)
		out.User = &u
	}
	if s.Quote != nil {
		q := *s.Quote
		q.Lines = append([]pricing.Line(nil), s.Quote.Lines...)
		out.Quote = &q
	}
	if s.Merchants != nil {
		out.Merchants = append([]merchant.Merchant(nil), s.Merchants...)
	}
	if s.SelectedMerchant != nil {
		m := *s.SelectedMerchant
		out.SelectedMerchant = &m
	}
	if s.MerchantAccount != nil {
		a := *s.MerchantAccount
		out.MerchantAccount = &a
	}
	return out
}

// Ready asserts the checkout preconditions: authenticated, documents present,
// price fresh and a merchant selected.
func (s State) Ready() error {
	if !s.Authenticated || s.Credential == "" {
		return common.StaleStateError("log in before checking out", ActionLogin)
	}
	if len(s.Documents) == 0 {
		return common.StaleStateError("upload documents before checking out", ActionUpload)
	}
	if !s.PriceFresh || s.Quote == nil || s.Total <= 0 {
		return common.StaleStateError("price is stale; recompute it before checking out", ActionRecomputePrice)
	}
	if s.SelectedMerchant == nil {
		return common.StaleStateError("select a merchant before checking out", ActionSelectMerchant)
	}
	return nil
}

// View is the client-facing rendering of State. The upstream credential never leaves the server.
type View struct {
	ID               string                  `json:"id"`
	Authenticated    bool                    `json:"authenticated"`
	User             *remote.User            `json:"user,omitempty"`
	Documents        []document.Document     `json:"documents"`
	TotalPages       int                     `json:"totalPages"`
	Options          printing.Options        `json:"options"`
	Quote            *pricing.Quote          `json:"quote,omitempty"`
	Total            pricing.Money           `json:"total"`
	TotalDisplay     string                  `json:"totalDisplay,omitempty"`
	PriceFresh       bool                    `json:"priceFresh"`
	Merchants        []merchant.Merchant     `json:"merchants,omitempty"`
	SelectedMerchant *merchant.Merchant      `json:"selectedMerchant,omitempty"`
	MerchantAccount  *remote.MerchantAccount `json:"merchantAccount,omitempty"`
	NextAction       string                  `json:"nextAction,omitempty"`
	Version          int64                   `json:"version"`
	UpdatedAt        time.Time               `json:"updatedAt"`
}

// View renders s for clients. currency formats the total when the price is fresh.
func (s State) View(currency string) View {
	v := View{
		ID:               s.ID,
		Authenticated:    s.Authenticated,
		User:             s.User,
		Documents:        s.Documents,
		TotalPages:       document.TotalPages(s.Documents),
		Options:          s.Options,
		Quote:            s.Quote,
		Total:            s.Total,
		PriceFresh:       s.PriceFresh,
		Merchants:        s.Merchants,
		SelectedMerchant: s.SelectedMerchant,
		MerchantAccount:  s.MerchantAccount,
		Version:          s.Version,
		UpdatedAt:        s.UpdatedAt,
	}
	if v.Documents == nil {
		v.Documents = []document.Document{}
	}
	if s.PriceFresh {
		v.TotalDisplay = pricing.FormatMinor(s.Total, currency)
	}
	if err := s.Ready(); err != nil {
		if appErr, ok := err.(*common.AppError); ok {
			if details, ok := appErr.Details.(map[string]string); ok {
				v.NextAction = details["action"]
			}
		}
	} else {
		v.NextAction = "checkout"
	}
	return v
}
