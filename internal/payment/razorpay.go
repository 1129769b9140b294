package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// Razorpay implements Provider for the Razorpay checkout widget.
type Razorpay struct {
	KeyID       string
	KeySecret   string
	DisplayName string
	Description string
	ThemeColor  string
}

// Name implements Provider.
func (Razorpay) Name() string { return "razorpay" }

// CheckoutParams builds the widget options for an order created upstream.
func (r Razorpay) CheckoutParams(req CheckoutRequest) (CheckoutParams, error) {
	if strings.TrimSpace(r.KeyID) == "" {
		return CheckoutParams{}, errors.New("razorpay key id is not configured")
	}
	if strings.TrimSpace(req.ProviderOrderID) == "" {
		return CheckoutParams{}, errors.New("provider order id is required")
	}
	if req.Amount <= 0 {
		return CheckoutParams{}, errors.New("amount must be positive")
	}
	return CheckoutParams{
		Key:         r.KeyID,
		Amount:      req.Amount,
		Currency:    strings.ToUpper(req.Currency),
		Name:        r.DisplayName,
		Description: r.Description,
		OrderID:     req.ProviderOrderID,
		Prefill:     req.Prefill,
		Theme:       Theme{Color: r.ThemeColor},
		Notes:       req.Notes,
	}, nil
}

// VerifySignature checks hex(HMAC-SHA256(order_id|payment_id)) against the
// callback. Without a configured secret the check is skipped.
func (r Razorpay) VerifySignature(cb Callback) error {
	if r.KeySecret == "" {
		return nil
	}
	expected := r.computeSignature(cb.ProviderOrderID, cb.PaymentID)
	provided := strings.ToLower(strings.TrimSpace(cb.Signature))
	if provided == "" || !hmac.Equal([]byte(expected), []byte(provided)) {
		return ErrSignatureMismatch
	}
	return nil
}

func (r Razorpay) computeSignature(orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(r.KeySecret))
	_, _ = mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}
