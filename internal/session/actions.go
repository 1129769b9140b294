package session

import (
	"reflect"
	"strings"
	"time"

	"github.com/noah-isme/printdesk/internal/common"
	"github.com/noah-isme/printdesk/internal/document"
	"github.com/noah-isme/printdesk/internal/merchant"
	"github.com/noah-isme/printdesk/internal/pricing"
	"github.com/noah-isme/printdesk/internal/printing"
	"github.com/noah-isme/printdesk/internal/remote"
)

// Env carries the inputs reducers need besides state: the base rate and the clock.
type Env struct {
	Rate pricing.Money
	Now  func() time.Time
}

func (e Env) now() time.Time {
	if e.Now == nil {
		return time.Now().UTC()
	}
	return e.Now().UTC()
}

// Action is one state transition. apply must be pure: it receives a private
// copy of the state and reports whether anything changed.
type Action interface {
	Name() string
	apply(s *State, env Env) (changed bool, err error)
}

// SetDocuments replaces the whole document set and marks the price stale.
type SetDocuments struct {
	Documents []document.Document
}

// SetPrintOptions merges a partial update into the global print options.
type SetPrintOptions struct {
	Patch printing.Patch
}

// SetDocumentOptions overrides the print options of one document. With Clear the
// override is dropped and the document follows the global options again.
type SetDocumentOptions struct {
	DocumentID string
	Patch      printing.Patch
	Clear      bool
}

// RecomputePrice prices the current documents. It is a no-op on an empty set.
type RecomputePrice struct{}

// SetMerchants stores the merchant list last fetched for this session.
type SetMerchants struct {
	Merchants []merchant.Merchant
}

// SelectMerchant chooses a merchant from the stored list.
type SelectMerchant struct {
	MerchantID string
}

// Authenticate marks the session logged in with the upstream credential.
type Authenticate struct {
	User       remote.User
	Credential string
}

// Deauthenticate logs the session out and drops the document and price sub-state.
type Deauthenticate struct{}

// MerchantSignIn records a print-shop owner's upstream token on the session.
type MerchantSignIn struct {
	Account    remote.MerchantAccount
	Credential string
}

// MerchantSignOut drops the merchant identity. The customer side is untouched.
type MerchantSignOut struct{}

// Reset returns the session to intake after a finished or abandoned order.
type Reset struct{}

func (SetDocuments) Name() string       { return "set_documents" }
func (SetPrintOptions) Name() string    { return "set_print_options" }
func (SetDocumentOptions) Name() string { return "set_document_options" }
func (RecomputePrice) Name() string     { return "recompute_price" }
func (SetMerchants) Name() string       { return "set_merchants" }
func (SelectMerchant) Name() string     { return "select_merchant" }
func (Authenticate) Name() string       { return "authenticate" }
func (Deauthenticate) Name() string     { return "deauthenticate" }
func (MerchantSignIn) Name() string     { return "merchant_sign_in" }
func (MerchantSignOut) Name() string    { return "merchant_sign_out" }
func (Reset) Name() string              { return "reset" }

func (a SetDocuments) apply(s *State, _ Env) (bool, error) {
	docs := document.Clone(a.Documents)
	if docs == nil {
		docs = []document.Document{}
	}
	s.Documents = docs
	markStale(s)
	return true, nil
}

func (a SetPrintOptions) apply(s *State, _ Env) (bool, error) {
	next := s.Options.Apply(a.Patch)
	if err := printing.Validate(next); err != nil {
		return false, err
	}
	s.Options = next
	markStale(s)
	return true, nil
}

func (a SetDocumentOptions) apply(s *State, _ Env) (bool, error) {
	idx := -1
	for i, d := range s.Documents {
		if d.ID == a.DocumentID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, common.ValidationError("unknown document", map[string]string{"documentId": a.DocumentID})
	}
	if a.Clear {
		s.Documents[idx].Options = nil
		markStale(s)
		return true, nil
	}
	next := s.Documents[idx].EffectiveOptions(s.Options).Apply(a.Patch)
	if err := printing.Validate(next); err != nil {
		return false, err
	}
	s.Documents[idx].Options = &next
	markStale(s)
	return true, nil
}

func (RecomputePrice) apply(s *State, env Env) (bool, error) {
	if len(s.Documents) == 0 {
		return false, nil
	}
	quote := pricing.Compute(s.Documents, s.Options, env.Rate)
	if s.PriceFresh && s.Quote != nil && reflect.DeepEqual(*s.Quote, quote) {
		return false, nil
	}
	s.Quote = &quote
	s.Total = quote.Total
	s.PriceFresh = true
	return true, nil
}

func (a SetMerchants) apply(s *State, _ Env) (bool, error) {
	list := append([]merchant.Merchant{}, a.Merchants...)
	s.Merchants = list
	if s.SelectedMerchant != nil {
		if m, ok := merchant.Find(list, s.SelectedMerchant.ID); ok {
			s.SelectedMerchant = &m
		} else {
			s.SelectedMerchant = nil
		}
	}
	return true, nil
}

func (a SelectMerchant) apply(s *State, _ Env) (bool, error) {
	m, ok := merchant.Find(s.Merchants, a.MerchantID)
	if !ok {
		return false, common.ValidationError("unknown merchant; fetch the merchant list first", map[string]string{"merchantId": strings.TrimSpace(a.MerchantID)})
	}
	s.SelectedMerchant = &m
	return true, nil
}

func (a Authenticate) apply(s *State, _ Env) (bool, error) {
	if strings.TrimSpace(a.Credential) == "" {
		return false, common.ValidationError("credential required", nil)
	}
	u := a.User
	s.Authenticated = true
	s.User = &u
	s.Credential = a.Credential
	return true, nil
}

func (Deauthenticate) apply(s *State, _ Env) (bool, error) {
	s.Authenticated = false
	s.User = nil
	s.Credential = ""
	s.Merchants = nil
	clearOrder(s)
	return true, nil
}

func (a MerchantSignIn) apply(s *State, _ Env) (bool, error) {
	if strings.TrimSpace(a.Credential) == "" {
		return false, common.ValidationError("merchant credential required", nil)
	}
	acct := a.Account
	s.MerchantAccount = &acct
	s.MerchantCredential = a.Credential
	return true, nil
}

func (MerchantSignOut) apply(s *State, _ Env) (bool, error) {
	if s.MerchantAccount == nil && s.MerchantCredential == "" {
		return false, nil
	}
	s.MerchantAccount = nil
	s.MerchantCredential = ""
	return true, nil
}

func (Reset) apply(s *State, _ Env) (bool, error) {
	clearOrder(s)
	return true, nil
}

func markStale(s *State) {
	s.PriceFresh = false
	s.Quote = nil
	s.Total = 0
}

func clearOrder(s *State) {
	s.Documents = []document.Document{}
	s.SelectedMerchant = nil
	markStale(s)
}

// Reduce applies a to s and returns the next state. s itself is never
// modified. On error the previous state is returned unchanged. Version and
// UpdatedAt advance only when the action changed something.
func Reduce(s State, a Action, env Env) (State, bool, error) {
	if a == nil {
		return s, false, common.ValidationError("action required", nil)
	}
	next := s.Clone()
	changed, err := a.apply(&next, env)
	if err != nil {
		return s, false, err
	}
	if !changed {
		return s, false, nil
	}
	next.Version = s.Version + 1
	next.UpdatedAt = env.now()
	return next, true, nil
}
