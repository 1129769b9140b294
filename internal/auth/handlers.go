package auth

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/printdesk/internal/common"
	"github.com/noah-isme/printdesk/internal/events"
	"github.com/noah-isme/printdesk/internal/remote"
	"github.com/noah-isme/printdesk/internal/session"
)

// Accounts is the upstream account API.
type Accounts interface {
	Login(ctx context.Context, creds remote.Credentials) (remote.LoginResult, error)
	Register(ctx context.Context, reg remote.Registration) (remote.User, error)
	Logout(ctx context.Context, token string) error
	CurrentUser(ctx context.Context, token string) (remote.User, error)
}

// MerchantAccounts is the upstream print-shop account API.
type MerchantAccounts interface {
	MerchantLogin(ctx context.Context, creds remote.MerchantCredentials) (remote.MerchantLoginResult, error)
	MerchantRegister(ctx context.Context, reg remote.MerchantRegistration) (remote.MerchantAccount, error)
}

// Handler exposes session bootstrap and account endpoints.
type Handler struct {
	Service        *Service
	Sessions       *session.Store
	Accounts       Accounts
	Merchants      MerchantAccounts
	Events         *events.Bus
	CookieName     string
	CookieDomain   string
	CookieSecure   bool
	CookieSameSite http.SameSite
}

// PublicRoutes mounts the endpoints reachable without a session token.
func (h *Handler) PublicRoutes(r chi.Router) {
	r.Post("/auth/session", h.CreateSession)
}

// Routes mounts the endpoints that need a session token. The merchant account
// endpoints are mounted only when a MerchantAccounts backend is set.
func (h *Handler) Routes(r chi.Router, loginLimit func(http.Handler) http.Handler) {
	limited := r
	if loginLimit != nil {
		limited = r.With(loginLimit)
	}
	limited.Post("/auth/login", h.Login)
	limited.Post("/auth/register", h.Register)
	r.Post("/auth/logout", h.Logout)
	r.Get("/auth/me", h.Me)
	if h.Merchants != nil {
		limited.Post("/auth/merchant/login", h.MerchantLogin)
		limited.Post("/auth/merchant/register", h.MerchantRegister)
		r.Post("/auth/merchant/logout", h.MerchantLogout)
	}
}

// CreateSession handles POST /api/v1/auth/session. It starts an anonymous
// session and returns its token.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil || h.Sessions == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "auth service not configured", nil)
		return
	}
	st, err := h.Sessions.Create(r.Context())
	if err != nil {
		common.WriteError(w, err)
		return
	}
	token, expiresAt, err := h.Service.Issue(st.ID)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	if h.Events != nil {
		if _, err := h.Events.Emit(r.Context(), events.TopicSessionCreated, st.ID, nil); err != nil {
			zerolog.Ctx(r.Context()).Warn().Err(err).Msg("session_event_emit_failed")
		}
	}
	h.setCookie(w, token, expiresAt)
	common.JSON(w, http.StatusCreated, map[string]any{
		"data": map[string]any{
			"token":     token,
			"expiresAt": expiresAt,
			"session":   st.View(h.Sessions.Currency()),
		},
	})
}

// Login handles POST /api/v1/auth/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	var creds remote.Credentials
	if err := common.DecodeJSON(r, &creds); err != nil {
		common.WriteError(w, err)
		return
	}
	if err := common.ValidateStruct(creds); err != nil {
		common.WriteError(w, err)
		return
	}
	result, err := h.Accounts.Login(r.Context(), creds)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	st, err := h.Sessions.Dispatch(r.Context(), sessionID, session.Authenticate{User: result.User, Credential: result.Token})
	if err != nil {
		common.WriteError(w, err)
		return
	}
	zerolog.Ctx(r.Context()).Info().Str("username", result.Username).Msg("session_login")
	common.JSON(w, http.StatusOK, map[string]any{"data": st.View(h.Sessions.Currency())})
}

// Register handles POST /api/v1/auth/register and signs the new account in.
// When the follow-up login fails the account still exists, so the response is
// 201 with an unauthenticated session.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	var reg remote.Registration
	if err := common.DecodeJSON(r, &reg); err != nil {
		common.WriteError(w, err)
		return
	}
	if err := common.ValidateStruct(reg); err != nil {
		common.WriteError(w, err)
		return
	}
	user, err := h.Accounts.Register(r.Context(), reg)
	if err != nil {
		common.WriteError(w, err)
		return
	}

	result, err := h.Accounts.Login(r.Context(), remote.Credentials{Username: reg.Username, Password: reg.Password})
	if err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Str("username", reg.Username).Msg("register_auto_login_failed")
		st, gerr := h.Sessions.Get(r.Context(), sessionID)
		if gerr != nil {
			common.WriteError(w, gerr)
			return
		}
		common.JSON(w, http.StatusCreated, map[string]any{"data": map[string]any{"user": user, "session": st.View(h.Sessions.Currency())}})
		return
	}
	st, err := h.Sessions.Dispatch(r.Context(), sessionID, session.Authenticate{User: result.User, Credential: result.Token})
	if err != nil {
		common.WriteError(w, err)
		return
	}
	zerolog.Ctx(r.Context()).Info().Str("username", result.Username).Msg("session_register")
	common.JSON(w, http.StatusCreated, map[string]any{"data": map[string]any{"user": user, "session": st.View(h.Sessions.Currency())}})
}

// MerchantLogin handles POST /api/v1/auth/merchant/login. The merchant token
// stays on the session next to any customer login.
func (h *Handler) MerchantLogin(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.merchantSessionID(w, r)
	if !ok {
		return
	}
	var creds remote.MerchantCredentials
	if err := common.DecodeJSON(r, &creds); err != nil {
		common.WriteError(w, err)
		return
	}
	if err := common.ValidateStruct(creds); err != nil {
		common.WriteError(w, err)
		return
	}
	result, err := h.Merchants.MerchantLogin(r.Context(), creds)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	st, err := h.Sessions.Dispatch(r.Context(), sessionID, session.MerchantSignIn{Account: result.Merchant, Credential: result.Token})
	if err != nil {
		common.WriteError(w, err)
		return
	}
	zerolog.Ctx(r.Context()).Info().Str("merchant_id", string(result.Merchant.ID)).Msg("merchant_login")
	common.JSON(w, http.StatusOK, map[string]any{"data": st.View(h.Sessions.Currency())})
}

// MerchantRegister handles POST /api/v1/auth/merchant/register. The new
// print shop signs in through MerchantLogin afterwards.
func (h *Handler) MerchantRegister(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.merchantSessionID(w, r); !ok {
		return
	}
	var reg remote.MerchantRegistration
	if err := common.DecodeJSON(r, &reg); err != nil {
		common.WriteError(w, err)
		return
	}
	if err := common.ValidateStruct(reg); err != nil {
		common.WriteError(w, err)
		return
	}
	acct, err := h.Merchants.MerchantRegister(r.Context(), reg)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": acct})
}

// MerchantLogout handles POST /api/v1/auth/merchant/logout.
func (h *Handler) MerchantLogout(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.merchantSessionID(w, r)
	if !ok {
		return
	}
	st, err := h.Sessions.Dispatch(r.Context(), sessionID, session.MerchantSignOut{})
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": st.View(h.Sessions.Currency())})
}

// Logout handles POST /api/v1/auth/logout. The upstream token is revoked on a
// best-effort basis; the session is logged out regardless.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	st, err := h.Sessions.Get(r.Context(), sessionID)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	if st.Credential != "" {
		if err := h.Accounts.Logout(r.Context(), st.Credential); err != nil {
			zerolog.Ctx(r.Context()).Warn().Err(err).Msg("upstream_logout_failed")
		}
	}
	st, err = h.Sessions.Dispatch(r.Context(), sessionID, session.Deauthenticate{})
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": st.View(h.Sessions.Currency())})
}

// Me handles GET /api/v1/auth/me, refreshing the cached profile from the upstream.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	st, err := h.Sessions.Get(r.Context(), sessionID)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	if !st.Authenticated {
		common.WriteError(w, common.UnauthorizedError("log in to continue", nil))
		return
	}
	user, err := h.Accounts.CurrentUser(r.Context(), st.Credential)
	if err != nil {
		h.Sessions.WriteError(w, r, err)
		return
	}
	if _, err := h.Sessions.Dispatch(r.Context(), sessionID, session.Authenticate{User: user, Credential: st.Credential}); err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": user})
}

func (h *Handler) sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	if h.Sessions == nil || h.Accounts == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "auth service not configured", nil)
		return "", false
	}
	id, ok := common.SessionID(r.Context())
	if !ok {
		common.WriteError(w, common.UnauthorizedError("session required", nil))
		return "", false
	}
	return id, true
}

func (h *Handler) merchantSessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	if h.Merchants == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "merchant accounts not configured", nil)
		return "", false
	}
	return h.sessionID(w, r)
}

func (h *Handler) setCookie(w http.ResponseWriter, token string, expiresAt time.Time) {
	if h.CookieName == "" {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     h.CookieName,
		Value:    token,
		Domain:   h.CookieDomain,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   h.CookieSecure,
		SameSite: h.CookieSameSite,
	})
}
