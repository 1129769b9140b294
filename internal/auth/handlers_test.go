package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/printdesk/internal/common"
	"github.com/noah-isme/printdesk/internal/events"
	"github.com/noah-isme/printdesk/internal/remote"
	"github.com/noah-isme/printdesk/internal/session"
)

type fakeAccounts struct {
	loginErr    error
	currentErr  error
	logoutCalls int
	registered  remote.Registration
	lastLogin   remote.Credentials
}

func (f *fakeAccounts) Login(_ context.Context, creds remote.Credentials) (remote.LoginResult, error) {
	f.lastLogin = creds
	if f.loginErr != nil {
		return remote.LoginResult{}, f.loginErr
	}
	return remote.LoginResult{Token: "upstream-token", User: remote.User{ID: "7", Username: creds.Username}}, nil
}

func (f *fakeAccounts) Register(_ context.Context, reg remote.Registration) (remote.User, error) {
	f.registered = reg
	return remote.User{ID: "8", Username: reg.Username, Email: reg.Email}, nil
}

func (f *fakeAccounts) Logout(context.Context, string) error {
	f.logoutCalls++
	return nil
}

func (f *fakeAccounts) CurrentUser(context.Context, string) (remote.User, error) {
	if f.currentErr != nil {
		return remote.User{}, f.currentErr
	}
	return remote.User{ID: "7", Username: "asha", FullName: "Asha Rao"}, nil
}

type fakeMerchants struct {
	loginErr   error
	registered remote.MerchantRegistration
}

func (f *fakeMerchants) MerchantLogin(_ context.Context, creds remote.MerchantCredentials) (remote.MerchantLoginResult, error) {
	if f.loginErr != nil {
		return remote.MerchantLoginResult{}, f.loginErr
	}
	return remote.MerchantLoginResult{
		Token:    "merchant-token",
		Merchant: remote.MerchantAccount{ID: "3", Username: creds.UsernameOrEmail, BusinessName: "Quick Print"},
	}, nil
}

func (f *fakeMerchants) MerchantRegister(_ context.Context, reg remote.MerchantRegistration) (remote.MerchantAccount, error) {
	f.registered = reg
	return remote.MerchantAccount{ID: "9", Username: reg.Username, BusinessName: reg.BusinessName}, nil
}

type authFixture struct {
	router    http.Handler
	accounts  *fakeAccounts
	merchants *fakeMerchants
	sessions  *session.Store
	ledger    *events.MemoryStore
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	svc := newTestService(t, time.Now())
	sessions := session.NewStore(session.StoreConfig{Rate: 200, Currency: "INR"})
	accounts := &fakeAccounts{}
	merchants := &fakeMerchants{}
	ledger := &events.MemoryStore{}
	h := &Handler{
		Service:    svc,
		Sessions:   sessions,
		Accounts:   accounts,
		Merchants:  merchants,
		Events:     &events.Bus{Store: ledger},
		CookieName: "printdesk_session",
	}
	r := chi.NewRouter()
	h.PublicRoutes(r)
	r.Group(func(r chi.Router) {
		r.Use(Middleware{Service: svc, Cookie: "printdesk_session"}.RequireSession)
		h.Routes(r, nil)
	})
	return &authFixture{router: r, accounts: accounts, merchants: merchants, sessions: sessions, ledger: ledger}
}

func (f *authFixture) call(t *testing.T, method, path, token, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return rec, out
}

func (f *authFixture) newSession(t *testing.T) (string, string) {
	t.Helper()
	rec, out := f.call(t, http.MethodPost, "/auth/session", "", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	data := out["data"].(map[string]any)
	sess := data["session"].(map[string]any)
	return data["token"].(string), sess["id"].(string)
}

func TestCreateSessionIssuesTokenAndCookie(t *testing.T) {
	f := newAuthFixture(t)
	rec, out := f.call(t, http.MethodPost, "/auth/session", "", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotEmpty(t, out["data"].(map[string]any)["token"])
	require.Contains(t, rec.Header().Get("Set-Cookie"), "printdesk_session=")
	require.Contains(t, rec.Header().Get("Set-Cookie"), "HttpOnly")

	sessionID := out["data"].(map[string]any)["session"].(map[string]any)["id"].(string)
	topics := f.ledger.Events(sessionID)
	require.Len(t, topics, 1)
	require.Equal(t, events.TopicSessionCreated, topics[0].Topic)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	f := newAuthFixture(t)
	rec, out := f.call(t, http.MethodGet, "/auth/me", "", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	errBody := out["error"].(map[string]any)
	require.Equal(t, common.CodeUnauthorized, errBody["code"])
	require.Equal(t, "/login", errBody["details"].(map[string]any)["redirect"])

	rec, _ = f.call(t, http.MethodGet, "/auth/me", "garbage", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCookieTokenIsAccepted(t *testing.T) {
	f := newAuthFixture(t)
	token, _ := f.newSession(t)
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"username":"asha","password":"pw"}`))
	req.AddCookie(&http.Cookie{Name: "printdesk_session", Value: token})
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestLoginAuthenticatesSession(t *testing.T) {
	f := newAuthFixture(t)
	token, sessionID := f.newSession(t)

	rec, out := f.call(t, http.MethodPost, "/auth/login", token, `{"username":"asha","password":"pw"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	data := out["data"].(map[string]any)
	require.Equal(t, true, data["authenticated"])
	require.NotContains(t, rec.Body.String(), "upstream-token")

	st, err := f.sessions.Get(context.Background(), sessionID)
	require.NoError(t, err)
	require.Equal(t, "upstream-token", st.Credential)
}

func TestLoginValidation(t *testing.T) {
	f := newAuthFixture(t)
	token, _ := f.newSession(t)

	rec, out := f.call(t, http.MethodPost, "/auth/login", token, `{"username":"asha"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	details := out["error"].(map[string]any)["details"].(map[string]any)
	require.Contains(t, details, "password")

	f.accounts.loginErr = common.ValidationError("invalid username or password", nil)
	rec, _ = f.call(t, http.MethodPost, "/auth/login", token, `{"username":"asha","password":"bad"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegisterForwardsToUpstreamAndSignsIn(t *testing.T) {
	f := newAuthFixture(t)
	token, sessionID := f.newSession(t)

	rec, out := f.call(t, http.MethodPost, "/auth/register", token, `{"username":"newbie","email":"new@example.com","password":"secret1"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "newbie", f.accounts.registered.Username)
	require.Equal(t, remote.Credentials{Username: "newbie", Password: "secret1"}, f.accounts.lastLogin)
	data := out["data"].(map[string]any)
	require.Equal(t, "new@example.com", data["user"].(map[string]any)["email"])
	require.Equal(t, true, data["session"].(map[string]any)["authenticated"])
	require.NotContains(t, rec.Body.String(), "upstream-token")

	st, err := f.sessions.Get(context.Background(), sessionID)
	require.NoError(t, err)
	require.True(t, st.Authenticated)
	require.Equal(t, "upstream-token", st.Credential)

	rec, _ = f.call(t, http.MethodPost, "/auth/register", token, `{"username":"nb","email":"not-an-email","password":"1"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegisterKeepsAccountWhenSignInFails(t *testing.T) {
	f := newAuthFixture(t)
	token, sessionID := f.newSession(t)
	f.accounts.loginErr = common.ExternalServiceError("print-api", nil)

	rec, out := f.call(t, http.MethodPost, "/auth/register", token, `{"username":"newbie","email":"new@example.com","password":"secret1"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	data := out["data"].(map[string]any)
	require.Equal(t, "newbie", data["user"].(map[string]any)["username"])
	require.Equal(t, false, data["session"].(map[string]any)["authenticated"])

	st, err := f.sessions.Get(context.Background(), sessionID)
	require.NoError(t, err)
	require.False(t, st.Authenticated)
}

func TestMerchantLoginKeepsTokenServerSide(t *testing.T) {
	f := newAuthFixture(t)
	token, sessionID := f.newSession(t)

	rec, out := f.call(t, http.MethodPost, "/auth/merchant/login", token, `{"usernameOrEmail":"quickprint","password":"pw"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	data := out["data"].(map[string]any)
	require.Equal(t, "Quick Print", data["merchantAccount"].(map[string]any)["businessName"])
	require.Equal(t, false, data["authenticated"])
	require.NotContains(t, rec.Body.String(), "merchant-token")

	st, err := f.sessions.Get(context.Background(), sessionID)
	require.NoError(t, err)
	require.Equal(t, "merchant-token", st.MerchantCredential)
	require.Empty(t, st.Credential)

	rec, out = f.call(t, http.MethodPost, "/auth/merchant/logout", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotContains(t, out["data"].(map[string]any), "merchantAccount")
	st, err = f.sessions.Get(context.Background(), sessionID)
	require.NoError(t, err)
	require.Empty(t, st.MerchantCredential)
}

func TestMerchantLoginValidation(t *testing.T) {
	f := newAuthFixture(t)
	token, _ := f.newSession(t)

	rec, out := f.call(t, http.MethodPost, "/auth/merchant/login", token, `{"password":"pw"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, out["error"].(map[string]any)["details"].(map[string]any), "usernameOrEmail")

	f.merchants.loginErr = common.ValidationError("invalid username or password", nil)
	rec, _ = f.call(t, http.MethodPost, "/auth/merchant/login", token, `{"usernameOrEmail":"quickprint","password":"bad"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMerchantRegisterForwardsToUpstream(t *testing.T) {
	f := newAuthFixture(t)
	token, sessionID := f.newSession(t)

	rec, out := f.call(t, http.MethodPost, "/auth/merchant/register", token,
		`{"username":"quickprint","email":"shop@example.com","password":"secret1","businessName":"Quick Print","phoneNumber":"9876543210"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "Quick Print", f.merchants.registered.BusinessName)
	require.Equal(t, "9", out["data"].(map[string]any)["id"])

	st, err := f.sessions.Get(context.Background(), sessionID)
	require.NoError(t, err)
	require.Nil(t, st.MerchantAccount)

	rec, out = f.call(t, http.MethodPost, "/auth/merchant/register", token, `{"username":"quickprint","email":"shop@example.com","password":"secret1"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	details := out["error"].(map[string]any)["details"].(map[string]any)
	require.Contains(t, details, "businessName")
	require.Contains(t, details, "phoneNumber")
}

func TestLogoutClearsSession(t *testing.T) {
	f := newAuthFixture(t)
	token, sessionID := f.newSession(t)
	_, _ = f.call(t, http.MethodPost, "/auth/login", token, `{"username":"asha","password":"pw"}`)

	rec, out := f.call(t, http.MethodPost, "/auth/logout", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, false, out["data"].(map[string]any)["authenticated"])
	require.Equal(t, 1, f.accounts.logoutCalls)

	st, err := f.sessions.Get(context.Background(), sessionID)
	require.NoError(t, err)
	require.Empty(t, st.Credential)
}

func TestMeRefreshesProfileAndHandlesExpiry(t *testing.T) {
	f := newAuthFixture(t)
	token, sessionID := f.newSession(t)

	rec, _ := f.call(t, http.MethodGet, "/auth/me", token, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	_, _ = f.call(t, http.MethodPost, "/auth/login", token, `{"username":"asha","password":"pw"}`)
	rec, out := f.call(t, http.MethodGet, "/auth/me", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "Asha Rao", out["data"].(map[string]any)["fullName"])

	f.accounts.currentErr = common.UnauthorizedError("token expired", nil)
	rec, _ = f.call(t, http.MethodGet, "/auth/me", token, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	st, err := f.sessions.Get(context.Background(), sessionID)
	require.NoError(t, err)
	require.False(t, st.Authenticated)
}
