// Package checkout sequences order creation, the external payment widget,
// server-side payment verification and finalisation for a session.
package checkout

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/printdesk/internal/common"
	"github.com/noah-isme/printdesk/internal/payment"
)

// Stage is a checkout flow state.
type Stage string

const (
	StageDraft           Stage = "draft"
	StageOrderCreated    Stage = "order_created"
	StageCheckoutOpened  Stage = "checkout_opened"
	StagePaymentVerified Stage = "payment_verified"
	StageFinalized       Stage = "finalized"
	StageAbandoned       Stage = "abandoned"
	StageFailed          Stage = "failed"
)

// CodeInvalidTransition is the error code for a transition the state machine forbids.
const CodeInvalidTransition = "INVALID_TRANSITION"

var transitions = map[Stage][]Stage{
	StageDraft:           {StageOrderCreated},
	StageOrderCreated:    {StageCheckoutOpened, StageFailed},
	StageCheckoutOpened:  {StagePaymentVerified, StageAbandoned},
	StagePaymentVerified: {StageFinalized, StageFailed},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to Stage) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Stage) Terminal() bool {
	return len(transitions[s]) == 0
}

// InvalidTransition builds the error returned for a forbidden transition.
func InvalidTransition(from, to Stage) *common.AppError {
	return &common.AppError{
		Code:       CodeInvalidTransition,
		Message:    "checkout cannot move from " + string(from) + " to " + string(to),
		HTTPStatus: http.StatusConflict,
		Details:    map[string]string{"from": string(from), "to": string(to), "action": "restart_checkout"},
	}
}

// Transition is one entry of a flow's history.
type Transition struct {
	From   Stage     `json:"from"`
	To     Stage     `json:"to"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// Flow is one checkout attempt. A restart is a new flow.
type Flow struct {
	ID              uuid.UUID               `json:"id"`
	SessionID       string                  `json:"-"`
	Stage           Stage                   `json:"stage"`
	OrderID         string                  `json:"orderId,omitempty"`
	OrderNumber     string                  `json:"orderNumber,omitempty"`
	ProviderOrderID string                  `json:"providerOrderId,omitempty"`
	MerchantID      string                  `json:"merchantId"`
	Amount          int64                   `json:"amount"`
	Currency        string                  `json:"currency"`
	PaymentID       string                  `json:"paymentId,omitempty"`
	FailureReason   string                  `json:"failureReason,omitempty"`
	Checkout        *payment.CheckoutParams `json:"checkout,omitempty"`
	History         []Transition            `json:"history"`
	CreatedAt       time.Time               `json:"createdAt"`
	UpdatedAt       time.Time               `json:"updatedAt"`
}

// NewFlow returns a draft flow owned by sessionID.
func NewFlow(sessionID string, now time.Time) Flow {
	return Flow{
		ID:        uuid.New(),
		SessionID: sessionID,
		Stage:     StageDraft,
		History:   []Transition{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Advance moves f to next, recording the transition. reason is kept as the
// failure reason when next is StageFailed.
func (f *Flow) Advance(next Stage, reason string, at time.Time) error {
	if !CanTransition(f.Stage, next) {
		return InvalidTransition(f.Stage, next)
	}
	f.History = append(f.History, Transition{From: f.Stage, To: next, Reason: reason, At: at})
	f.Stage = next
	f.UpdatedAt = at
	if next == StageFailed {
		f.FailureReason = reason
	} else {
		f.FailureReason = ""
	}
	return nil
}

// Reject records why a callback was not accepted without changing stage.
func (f *Flow) Reject(reason string, at time.Time) {
	f.FailureReason = reason
	f.UpdatedAt = at
}
