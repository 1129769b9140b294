package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/noah-isme/printdesk/internal/common"
	"github.com/noah-isme/printdesk/internal/merchant"
)

// Login exchanges credentials for an upstream token.
func (c *Client) Login(ctx context.Context, creds Credentials) (LoginResult, error) {
	var out LoginResult
	creds.Username = strings.TrimSpace(creds.Username)
	if err := c.do(ctx, http.MethodPost, "/auth/login", nil, "", creds, &out); err != nil {
		if common.HasCode(err, common.CodeUnauthorized) {
			return LoginResult{}, common.ValidationError("invalid username or password", nil)
		}
		return LoginResult{}, err
	}
	if out.Token == "" {
		return LoginResult{}, common.ExternalServiceError(serviceName, errors.New("login response carried no token"))
	}
	return out, nil
}

// Register creates an upstream account.
func (c *Client) Register(ctx context.Context, reg Registration) (User, error) {
	reg.Username = strings.TrimSpace(reg.Username)
	reg.Email = strings.TrimSpace(reg.Email)
	reg.Password = strings.TrimSpace(reg.Password)
	reg.ConfirmPassword = reg.Password
	var out User
	if err := c.do(ctx, http.MethodPost, "/auth/register", nil, "", reg, &out); err != nil {
		return User{}, err
	}
	return out, nil
}

// Logout revokes the upstream token.
func (c *Client) Logout(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodPost, "/auth/logout", nil, token, nil, nil)
}

// CurrentUser returns the account behind token.
func (c *Client) CurrentUser(ctx context.Context, token string) (User, error) {
	var out User
	if err := c.do(ctx, http.MethodGet, "/users/me", nil, token, nil, &out); err != nil {
		return User{}, err
	}
	return out, nil
}

// UpdateProfile edits the current user's profile.
func (c *Client) UpdateProfile(ctx context.Context, token string, upd ProfileUpdate) (User, error) {
	var out User
	if err := c.do(ctx, http.MethodPatch, "/users/me", nil, token, upd, &out); err != nil {
		return User{}, err
	}
	return out, nil
}

// ChangePassword changes the current user's password.
func (c *Client) ChangePassword(ctx context.Context, token string, change PasswordChange) error {
	return c.do(ctx, http.MethodPost, "/users/change-password", nil, token, change, nil)
}

// MerchantLogin signs a print-shop owner in and returns the merchant token.
func (c *Client) MerchantLogin(ctx context.Context, creds MerchantCredentials) (MerchantLoginResult, error) {
	creds.UsernameOrEmail = strings.TrimSpace(creds.UsernameOrEmail)
	var out MerchantLoginResult
	if err := c.do(ctx, http.MethodPost, "/merchants/login", nil, "", creds, &out); err != nil {
		if common.HasCode(err, common.CodeUnauthorized) {
			return MerchantLoginResult{}, common.ValidationError("invalid username or password", nil)
		}
		return MerchantLoginResult{}, err
	}
	if out.Token == "" {
		return MerchantLoginResult{}, common.ExternalServiceError(serviceName, errors.New("merchant login response carried no token"))
	}
	return out, nil
}

// MerchantRegister creates a print-shop account. The owner signs in separately.
func (c *Client) MerchantRegister(ctx context.Context, reg MerchantRegistration) (MerchantAccount, error) {
	reg.Username = strings.TrimSpace(reg.Username)
	reg.Email = strings.TrimSpace(reg.Email)
	reg.BusinessName = strings.TrimSpace(reg.BusinessName)
	reg.Address = strings.TrimSpace(reg.Address)
	reg.PhoneNumber = strings.TrimSpace(reg.PhoneNumber)
	var out MerchantAccount
	if err := c.do(ctx, http.MethodPost, "/merchants/register", nil, "", reg, &out); err != nil {
		return MerchantAccount{}, err
	}
	return out, nil
}

type wireMerchant struct {
	ID           ID     `json:"id"`
	BusinessName string `json:"businessName"`
	Address      string `json:"address"`
}

// ListMerchants implements merchant.Source.
func (c *Client) ListMerchants(ctx context.Context, token string) ([]merchant.Merchant, error) {
	var rows []wireMerchant
	if err := c.do(ctx, http.MethodGet, "/merchants", nil, token, nil, &rows); err != nil {
		return nil, err
	}
	out := make([]merchant.Merchant, 0, len(rows))
	for _, r := range rows {
		if r.ID == "" {
			continue
		}
		out = append(out, merchant.Merchant{ID: string(r.ID), BusinessName: r.BusinessName, Address: r.Address})
	}
	return out, nil
}

// CreateOrder creates an order pending payment. It is issued exactly once.
func (c *Client) CreateOrder(ctx context.Context, token string, req CreateOrderRequest) (Order, error) {
	var out Order
	if err := c.do(ctx, http.MethodPost, "/orders", nil, token, req, &out); err != nil {
		return Order{}, err
	}
	if out.ID == "" {
		return Order{}, common.ExternalServiceError(serviceName, errors.New("order response carried no id"))
	}
	return out, nil
}

// ListOrders returns the order history of username.
func (c *Client) ListOrders(ctx context.Context, token, username string) ([]Order, error) {
	var out []Order
	q := url.Values{"username": []string{username}}
	if err := c.do(ctx, http.MethodGet, "/orders/user", q, token, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetOrder fetches one order.
func (c *Client) GetOrder(ctx context.Context, token string, id ID) (Order, error) {
	if id == "" {
		return Order{}, common.ValidationError("order id required", nil)
	}
	var out Order
	if err := c.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(string(id)), nil, token, nil, &out); err != nil {
		return Order{}, err
	}
	return out, nil
}

// VerifyPayment asks the upstream to verify a payment. It is issued exactly once.
func (c *Client) VerifyPayment(ctx context.Context, token string, req VerifyRequest) (VerifyResult, error) {
	var out VerifyResult
	if err := c.do(ctx, http.MethodPost, "/payments/verify", nil, token, req, &out); err != nil {
		return VerifyResult{}, fmt.Errorf("verify payment: %w", err)
	}
	return out, nil
}
