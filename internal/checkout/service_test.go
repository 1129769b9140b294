package checkout

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/printdesk/internal/common"
	"github.com/noah-isme/printdesk/internal/document"
	"github.com/noah-isme/printdesk/internal/events"
	"github.com/noah-isme/printdesk/internal/merchant"
	"github.com/noah-isme/printdesk/internal/payment"
	"github.com/noah-isme/printdesk/internal/remote"
	"github.com/noah-isme/printdesk/internal/session"
)

type fakeUpstream struct {
	mu sync.Mutex

	createCalls int
	verifyCalls int
	lastCreate  remote.CreateOrderRequest
	lastVerify  remote.VerifyRequest

	createErr error
	verify    remote.VerifyResult
	verifyErr error
	order     remote.Order
	getErr    error
}

func (f *fakeUpstream) CreateOrder(_ context.Context, token string, req remote.CreateOrderRequest) (remote.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	f.lastCreate = req
	if f.createErr != nil {
		return remote.Order{}, f.createErr
	}
	return remote.Order{
		ID:              "42",
		OrderNumber:     "ORD-42",
		TotalAmount:     req.TotalAmount,
		Currency:        req.Currency,
		Status:          remote.OrderPendingPayment,
		RazorpayOrderID: "order_rzp_1",
	}, nil
}

func (f *fakeUpstream) GetOrder(_ context.Context, _ string, id remote.ID) (remote.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return remote.Order{}, f.getErr
	}
	o := f.order
	o.ID = id
	return o, nil
}

func (f *fakeUpstream) VerifyPayment(_ context.Context, _ string, req remote.VerifyRequest) (remote.VerifyResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifyCalls++
	f.lastVerify = req
	return f.verify, f.verifyErr
}

type fixture struct {
	svc       *Service
	sessions  *session.Store
	upstream  *fakeUpstream
	flows     *MemoryStore
	ledger    *events.MemoryStore
	sessionID string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	sessions := session.NewStore(session.StoreConfig{Rate: 200, Currency: "INR"})
	st, err := sessions.Create(ctx)
	require.NoError(t, err)
	for _, a := range []session.Action{
		session.Authenticate{User: remote.User{Username: "asha", FullName: "Asha Rao", Email: "asha@example.com"}, Credential: "tok"},
		session.SetDocuments{Documents: []document.Document{{ID: "doc-1", Name: "a.pdf", PageCount: 3}, {ID: "doc-2", Name: "b.pdf", PageCount: 5}}},
		session.RecomputePrice{},
		session.SetMerchants{Merchants: []merchant.Merchant{{ID: "m-1", BusinessName: "Quick Print"}}},
		session.SelectMerchant{MerchantID: "m-1"},
	} {
		_, err := sessions.Dispatch(ctx, st.ID, a)
		require.NoError(t, err)
	}

	up := &fakeUpstream{
		verify: remote.VerifyResult{Success: true, Message: "ok"},
		order:  remote.Order{OrderNumber: "ORD-42", Status: remote.OrderPaymentReceived},
	}
	flows := NewMemoryStore()
	ledger := &events.MemoryStore{}
	svc := &Service{
		Sessions: sessions,
		Upstream: up,
		Provider: payment.Razorpay{KeyID: "rzp_test", DisplayName: "AutoPrint", Description: "Print Order Payment", ThemeColor: "#4f46e5"},
		Flows:    flows,
		Events:   &events.Bus{Store: ledger},
		Currency: "inr",
		Now:      func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) },
	}
	return &fixture{svc: svc, sessions: sessions, upstream: up, flows: flows, ledger: ledger, sessionID: st.ID}
}

func validCallback() payment.Callback {
	return payment.Callback{PaymentID: "pay_1", ProviderOrderID: "order_rzp_1", Signature: "sig"}
}

func TestPlaceOpensCheckout(t *testing.T) {
	f := newFixture(t)
	flow, err := f.svc.Place(context.Background(), f.sessionID)
	require.NoError(t, err)
	require.Equal(t, StageCheckoutOpened, flow.Stage)
	require.Equal(t, "42", flow.OrderID)
	require.EqualValues(t, 1600, flow.Amount)
	require.Equal(t, "INR", flow.Currency)
	require.NotNil(t, flow.Checkout)
	require.Equal(t, "order_rzp_1", flow.Checkout.OrderID)
	require.Equal(t, "Asha Rao", flow.Checkout.Prefill.Name)
	require.Equal(t, "#4f46e5", flow.Checkout.Theme.Color)

	req := f.upstream.lastCreate
	require.Equal(t, "m-1", req.MerchantID)
	require.EqualValues(t, 1600, req.TotalAmount)
	require.Len(t, req.Documents, 2)
	require.EqualValues(t, 600, req.Documents[0].Price)
	require.Equal(t, "blackAndWhite", req.Documents[0].PrintSettings.Color)
	require.Equal(t, "Print order for asha to be fulfilled by Quick Print", req.Notes)

	stored, err := f.flows.GetFlow(context.Background(), flow.ID)
	require.NoError(t, err)
	require.Equal(t, StageCheckoutOpened, stored.Stage)

	var topics []string
	for _, ev := range f.ledger.Events(flow.ID.String()) {
		topics = append(topics, ev.Topic)
	}
	require.Equal(t, []string{events.TopicCheckoutOrderCreated, events.TopicCheckoutOpened}, topics)
}

func TestPlaceRequiresReadySession(t *testing.T) {
	cases := []struct {
		name   string
		setup  []session.Action
		action string
	}{
		{
			name:   "stale price",
			setup:  []session.Action{session.SetDocuments{Documents: []document.Document{{ID: "doc-3", PageCount: 1}}}},
			action: session.ActionRecomputePrice,
		},
		{
			name:   "no documents",
			setup:  []session.Action{session.SetDocuments{}},
			action: session.ActionUpload,
		},
		{
			name:   "selected merchant delisted",
			setup:  []session.Action{session.SetMerchants{Merchants: []merchant.Merchant{{ID: "m-2", BusinessName: "Copy Corner"}}}},
			action: session.ActionSelectMerchant,
		},
		{
			name:   "logged out",
			setup:  []session.Action{session.Deauthenticate{}},
			action: session.ActionLogin,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			for _, a := range tc.setup {
				_, err := f.sessions.Dispatch(context.Background(), f.sessionID, a)
				require.NoError(t, err)
			}

			flow, err := f.svc.Place(context.Background(), f.sessionID)
			require.True(t, common.HasCode(err, common.CodeStaleState))
			var appErr *common.AppError
			require.True(t, errors.As(err, &appErr))
			require.Equal(t, map[string]string{"action": tc.action}, appErr.Details)
			require.Zero(t, f.upstream.createCalls)
			require.Equal(t, Flow{}, flow)
			require.Empty(t, f.ledger.Events(""))
		})
	}
}

func TestPlaceUpstreamFailurePersistsNothing(t *testing.T) {
	f := newFixture(t)
	f.upstream.createErr = common.ExternalServiceError("print-api", errors.New("boom"))

	_, err := f.svc.Place(context.Background(), f.sessionID)
	require.True(t, common.HasCode(err, common.CodeExternalService))
	require.Equal(t, 1, f.upstream.createCalls)
	require.Empty(t, f.ledger.Events(""))

	st, err := f.sessions.Get(context.Background(), f.sessionID)
	require.NoError(t, err)
	require.True(t, st.PriceFresh)
	require.Len(t, st.Documents, 2)
}

func TestPlaceWithoutProviderOrderFails(t *testing.T) {
	f := newFixture(t)
	f.svc.Provider = payment.Razorpay{}

	flow, err := f.svc.Place(context.Background(), f.sessionID)
	require.True(t, common.HasCode(err, common.CodeExternalService))
	require.Equal(t, StageFailed, flow.Stage)
	require.NotEmpty(t, flow.FailureReason)
}

func TestConfirmVerifiesAndFinalizes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	flow, err := f.svc.Place(ctx, f.sessionID)
	require.NoError(t, err)

	done, err := f.svc.Confirm(ctx, f.sessionID, flow.ID, validCallback())
	require.NoError(t, err)
	require.Equal(t, StageFinalized, done.Stage)
	require.Equal(t, "pay_1", done.PaymentID)
	require.Equal(t, 1, f.upstream.verifyCalls)
	require.EqualValues(t, 42, f.upstream.lastVerify.OrderID)
	require.Equal(t, "order_rzp_1", f.upstream.lastVerify.RazorpayOrderID)

	st, err := f.sessions.Get(ctx, f.sessionID)
	require.NoError(t, err)
	require.Empty(t, st.Documents)
	require.True(t, st.Authenticated)

	_, err = f.svc.Confirm(ctx, f.sessionID, flow.ID, validCallback())
	require.True(t, common.HasCode(err, CodeInvalidTransition))
	require.Equal(t, 1, f.upstream.verifyCalls)
}

func TestConfirmRejectedVerificationStaysOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.upstream.verify = remote.VerifyResult{Success: false, Message: "signature invalid"}
	flow, err := f.svc.Place(ctx, f.sessionID)
	require.NoError(t, err)

	got, err := f.svc.Confirm(ctx, f.sessionID, flow.ID, validCallback())
	require.True(t, common.HasCode(err, common.CodeExternalService))
	require.Equal(t, StageCheckoutOpened, got.Stage)
	require.Equal(t, "signature invalid", got.FailureReason)

	stored, err := f.flows.GetFlow(ctx, flow.ID)
	require.NoError(t, err)
	require.Equal(t, StageCheckoutOpened, stored.Stage)
	require.Empty(t, stored.PaymentID)
}

func TestConfirmUpstreamErrorStaysOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.upstream.verifyErr = common.ExternalServiceError("print-api", errors.New("timeout"))
	flow, err := f.svc.Place(ctx, f.sessionID)
	require.NoError(t, err)

	got, err := f.svc.Confirm(ctx, f.sessionID, flow.ID, validCallback())
	require.Error(t, err)
	require.Equal(t, StageCheckoutOpened, got.Stage)
	require.True(t, strings.HasPrefix(got.FailureReason, "verification failed"))
}

func TestConfirmRejectsMismatchedCallback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	flow, err := f.svc.Place(ctx, f.sessionID)
	require.NoError(t, err)

	cb := validCallback()
	cb.ProviderOrderID = "order_other"
	_, err = f.svc.Confirm(ctx, f.sessionID, flow.ID, cb)
	require.True(t, common.HasCode(err, common.CodeValidation))
	require.Zero(t, f.upstream.verifyCalls)

	_, err = f.svc.Confirm(ctx, f.sessionID, flow.ID, payment.Callback{})
	require.True(t, common.HasCode(err, common.CodeValidation))
}

func TestConfirmSignaturePreCheck(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.svc.Provider = payment.Razorpay{KeyID: "rzp_test", KeySecret: "secret"}
	flow, err := f.svc.Place(ctx, f.sessionID)
	require.NoError(t, err)

	_, err = f.svc.Confirm(ctx, f.sessionID, flow.ID, validCallback())
	require.Error(t, err)
	require.Zero(t, f.upstream.verifyCalls)
}

func TestFinalizeFailureMovesToFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.upstream.getErr = common.ExternalServiceError("print-api", errors.New("down"))
	flow, err := f.svc.Place(ctx, f.sessionID)
	require.NoError(t, err)

	got, err := f.svc.Confirm(ctx, f.sessionID, flow.ID, validCallback())
	require.Error(t, err)
	require.Equal(t, StageFailed, got.Stage)
	require.Equal(t, "pay_1", got.PaymentID)

	st, err := f.sessions.Get(ctx, f.sessionID)
	require.NoError(t, err)
	require.Len(t, st.Documents, 2)
}

func TestDismissAbandonsOpenCheckout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	flow, err := f.svc.Place(ctx, f.sessionID)
	require.NoError(t, err)

	got, err := f.svc.Dismiss(ctx, f.sessionID, flow.ID)
	require.NoError(t, err)
	require.Equal(t, StageAbandoned, got.Stage)

	_, err = f.svc.Dismiss(ctx, f.sessionID, flow.ID)
	require.True(t, common.HasCode(err, CodeInvalidTransition))
	_, err = f.svc.Confirm(ctx, f.sessionID, flow.ID, validCallback())
	require.True(t, common.HasCode(err, CodeInvalidTransition))
}

func TestGetIsScopedToSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	flow, err := f.svc.Place(ctx, f.sessionID)
	require.NoError(t, err)

	got, err := f.svc.Get(ctx, f.sessionID, flow.ID)
	require.NoError(t, err)
	require.Equal(t, flow.ID, got.ID)

	_, err = f.svc.Get(ctx, "someone-else", flow.ID)
	require.True(t, common.HasCode(err, common.CodeNotFound))
	_, err = f.svc.Get(ctx, f.sessionID, uuid.New())
	require.True(t, common.HasCode(err, common.CodeNotFound))
}

func TestHandlerRoutes(t *testing.T) {
	f := newFixture(t)
	h := &Handler{Svc: f.svc}
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(common.WithSessionID(req.Context(), f.sessionID)))
		})
	})
	h.Routes(r, nil)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/checkout", nil))
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Contains(t, rec.Body.String(), `"stage":"checkout_opened"`)
	require.NotContains(t, rec.Body.String(), f.sessionID)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/checkout/not-a-uuid", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/checkout/"+uuid.NewString()+"/dismiss", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	body := strings.NewReader(`{"razorpay_payment_id":"pay_1","razorpay_order_id":"order_rzp_1","razorpay_signature":"sig"}`)
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/checkout/"+uuid.NewString()+"/callback", body))
	require.Equal(t, http.StatusNotFound, rec.Code)
}
