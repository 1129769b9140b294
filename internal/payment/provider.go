package payment

import "errors"

// ErrSignatureMismatch is returned when a checkout callback fails the local
// signature pre-check.
var ErrSignatureMismatch = errors.New("payment: signature mismatch")

// Prefill pre-populates the payer's details in the checkout widget.
type Prefill struct {
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Contact string `json:"contact,omitempty"`
}

// CheckoutRequest captures what the widget needs to collect a payment for an
// order that already exists upstream.
type CheckoutRequest struct {
	ProviderOrderID string
	Amount          int64
	Currency        string
	Prefill         Prefill
	Notes           map[string]string
}

// Theme styles the checkout widget.
type Theme struct {
	Color string `json:"color"`
}

// CheckoutParams are the options the browser hands to the payment widget.
type CheckoutParams struct {
	Key         string            `json:"key"`
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	OrderID     string            `json:"order_id"`
	Prefill     Prefill           `json:"prefill"`
	Theme       Theme             `json:"theme"`
	Notes       map[string]string `json:"notes,omitempty"`
}

// Callback is what the widget reports after the payer completes checkout.
// It is advisory only; the upstream verification is authoritative.
type Callback struct {
	PaymentID       string `json:"razorpay_payment_id" validate:"required"`
	ProviderOrderID string `json:"razorpay_order_id" validate:"required"`
	Signature       string `json:"razorpay_signature" validate:"required"`
}

// Provider abstracts the browser-side checkout of a payment gateway.
type Provider interface {
	Name() string
	CheckoutParams(req CheckoutRequest) (CheckoutParams, error)
	VerifySignature(cb Callback) error
}
