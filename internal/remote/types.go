package remote

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/noah-isme/printdesk/internal/printing"
)

// ID accepts both numeric and string identifiers from the upstream.
type ID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

// Int64 parses the identifier as a number, as the order endpoints expect.
func (id ID) Int64() (int64, error) {
	return strconv.ParseInt(string(id), 10, 64)
}

// User is the upstream account profile.
type User struct {
	ID          ID       `json:"id"`
	Username    string   `json:"username"`
	Email       string   `json:"email"`
	FullName    string   `json:"fullName,omitempty"`
	PhoneNumber string   `json:"phoneNumber,omitempty"`
	Role        string   `json:"role,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	CreatedAt   string   `json:"createdAt,omitempty"`
	UpdatedAt   string   `json:"updatedAt,omitempty"`
}

// DisplayName prefers the full name over the username.
func (u User) DisplayName() string {
	if u.FullName != "" {
		return u.FullName
	}
	return u.Username
}

// Credentials is the login payload.
type Credentials struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// Registration is the sign-up payload. ConfirmPassword is filled from Password
// when sent, as the upstream requires both.
type Registration struct {
	Username        string `json:"username" validate:"required,min=3,max=50"`
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required,min=6"`
	ConfirmPassword string `json:"confirmPassword"`
}

// LoginResult is the upstream token plus the user fields it returns alongside.
type LoginResult struct {
	Token string `json:"token"`
	User
}

// MerchantCredentials signs a print-shop owner in. UsernameOrEmail accepts either.
type MerchantCredentials struct {
	UsernameOrEmail string `json:"usernameOrEmail" validate:"required"`
	Password        string `json:"password" validate:"required"`
}

// MerchantRegistration is the print-shop sign-up payload.
type MerchantRegistration struct {
	Username     string `json:"username" validate:"required,min=3,max=50"`
	Email        string `json:"email" validate:"required,email"`
	Password     string `json:"password" validate:"required,min=6"`
	BusinessName string `json:"businessName" validate:"required,max=120"`
	Address      string `json:"address,omitempty" validate:"omitempty,max=255"`
	PhoneNumber  string `json:"phoneNumber" validate:"required,max=20"`
}

// MerchantAccount is the merchant profile returned on login and registration.
type MerchantAccount struct {
	ID           ID     `json:"id"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	BusinessName string `json:"businessName"`
	Address      string `json:"address,omitempty"`
	PhoneNumber  string `json:"phoneNumber,omitempty"`
}

// MerchantLoginResult is the merchant token plus its profile.
type MerchantLoginResult struct {
	Token    string          `json:"token"`
	Merchant MerchantAccount `json:"merchant"`
}

// ProfileUpdate carries editable profile fields.
type ProfileUpdate struct {
	Email       *string `json:"email,omitempty" validate:"omitempty,email"`
	FullName    *string `json:"fullName,omitempty" validate:"omitempty,max=120"`
	PhoneNumber *string `json:"phoneNumber,omitempty" validate:"omitempty,max=20"`
}

// PasswordChange is the change-password payload.
type PasswordChange struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=6,nefield=CurrentPassword"`
}

// PrintSettings is the upstream representation of print options.
type PrintSettings struct {
	Sides       string `json:"sides"`
	Color       string `json:"color"`
	PageSize    string `json:"pageSize"`
	Copies      int    `json:"copies"`
	Orientation string `json:"orientation"`
	Pages       string `json:"pages"`
}

const wireMonochrome = "blackAndWhite"

// SettingsFromOptions converts options into their upstream form.
func SettingsFromOptions(o printing.Options) PrintSettings {
	color := string(o.ColorMode)
	if o.ColorMode == printing.Monochrome {
		color = wireMonochrome
	}
	return PrintSettings{
		Sides:       string(o.Sidedness),
		Color:       color,
		PageSize:    string(o.PageSize),
		Copies:      o.Copies,
		Orientation: string(o.Orientation),
		Pages:       o.PageRange,
	}
}

// Options converts upstream settings back into print options.
func (s PrintSettings) Options() printing.Options {
	mode := printing.ColorMode(s.Color)
	if s.Color == wireMonochrome {
		mode = printing.Monochrome
	}
	return printing.Options{
		ColorMode:   mode,
		Orientation: printing.Orientation(s.Orientation),
		PageSize:    printing.PageSize(s.PageSize),
		Sidedness:   printing.Sidedness(s.Sides),
		Copies:      s.Copies,
		PageRange:   s.Pages,
	}
}

// OrderDocument is one document line in an order.
type OrderDocument struct {
	DocumentID    string        `json:"documentId"`
	FileName      string        `json:"fileName"`
	PageCount     int           `json:"pageCount"`
	Price         int64         `json:"price"`
	PrintSettings PrintSettings `json:"printSettings"`
}

// CreateOrderRequest is the order-creation payload. Amounts are minor units.
type CreateOrderRequest struct {
	MerchantID  string          `json:"merchantId"`
	Documents   []OrderDocument `json:"documents"`
	TotalAmount int64           `json:"totalAmount"`
	Currency    string          `json:"currency"`
	Notes       string          `json:"notes,omitempty"`
}

// OrderStatus is the upstream order lifecycle state.
type OrderStatus string

const (
	OrderPendingPayment  OrderStatus = "PENDING_PAYMENT"
	OrderPaymentReceived OrderStatus = "PAYMENT_RECEIVED"
	OrderProcessing      OrderStatus = "PROCESSING"
	OrderCompleted       OrderStatus = "COMPLETED"
	OrderCancelled       OrderStatus = "CANCELLED"
	OrderFailed          OrderStatus = "FAILED"
)

// Paid reports whether the upstream considers the order paid.
func (s OrderStatus) Paid() bool {
	switch s {
	case OrderPaymentReceived, OrderProcessing, OrderCompleted:
		return true
	default:
		return false
	}
}

// OrderItem is an order line as returned by the upstream.
type OrderItem struct {
	ID            ID            `json:"id"`
	DocumentID    string        `json:"documentId"`
	FileName      string        `json:"fileName"`
	PageCount     int           `json:"pageCount"`
	Price         int64         `json:"price"`
	PrintSettings PrintSettings `json:"printSettings"`
}

// Order is an upstream order.
type Order struct {
	ID              ID          `json:"id"`
	OrderNumber     string      `json:"orderNumber"`
	UserID          ID          `json:"userId"`
	UserEmail       string      `json:"userEmail"`
	Items           []OrderItem `json:"items"`
	TotalAmount     int64       `json:"totalAmount"`
	Currency        string      `json:"currency"`
	Status          OrderStatus `json:"status"`
	PaymentID       string      `json:"paymentId,omitempty"`
	RazorpayOrderID string      `json:"razorpayOrderId,omitempty"`
	Notes           string      `json:"notes,omitempty"`
	CreatedAt       string      `json:"createdAt"`
	UpdatedAt       string      `json:"updatedAt"`
}

// VerifyRequest asks the upstream to verify a payment server-side.
type VerifyRequest struct {
	OrderID           int64  `json:"orderId"`
	RazorpayPaymentID string `json:"razorpayPaymentId"`
	RazorpaySignature string `json:"razorpaySignature"`
	RazorpayOrderID   string `json:"razorpayOrderId"`
}

// VerifyResult is the upstream verdict. Only Success=true is a verified payment.
type VerifyResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
