package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/printdesk/internal/common"
	"github.com/noah-isme/printdesk/internal/events"
	"github.com/noah-isme/printdesk/internal/lock"
	"github.com/noah-isme/printdesk/internal/obs"
	"github.com/noah-isme/printdesk/internal/payment"
	"github.com/noah-isme/printdesk/internal/pricing"
	"github.com/noah-isme/printdesk/internal/remote"
	"github.com/noah-isme/printdesk/internal/session"
)

// Sessions is the slice of the session store checkout depends on.
type Sessions interface {
	Get(ctx context.Context, id string) (session.State, error)
	Dispatch(ctx context.Context, id string, action session.Action) (session.State, error)
}

// Upstream is the order and payment API.
type Upstream interface {
	CreateOrder(ctx context.Context, token string, req remote.CreateOrderRequest) (remote.Order, error)
	GetOrder(ctx context.Context, token string, id remote.ID) (remote.Order, error)
	VerifyPayment(ctx context.Context, token string, req remote.VerifyRequest) (remote.VerifyResult, error)
}

// Service drives checkout flows. Create-order and verify are issued exactly
// once per call; nothing is retried across transitions.
type Service struct {
	Sessions Sessions
	Upstream Upstream
	Provider payment.Provider
	Flows    FlowStore
	Locker   lock.Locker
	Events   *events.Bus
	Currency string
	Now      func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) configured() error {
	if s == nil || s.Sessions == nil || s.Upstream == nil || s.Provider == nil || s.Flows == nil {
		return errors.New("checkout service not configured")
	}
	return nil
}

// Place creates the upstream order for a ready session and opens the payment
// widget. An upstream failure persists nothing.
func (s *Service) Place(ctx context.Context, sessionID string) (Flow, error) {
	if err := s.configured(); err != nil {
		return Flow{}, err
	}
	st, err := s.Sessions.Get(ctx, sessionID)
	if err != nil {
		return Flow{}, err
	}
	if err := st.Ready(); err != nil {
		return Flow{}, err
	}

	req := buildOrderRequest(st, s.Currency)
	order, err := s.Upstream.CreateOrder(ctx, st.Credential, req)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("checkout_create_order_failed")
		return Flow{}, err
	}

	flow := NewFlow(sessionID, s.now())
	flow.MerchantID = st.SelectedMerchant.ID
	flow.Currency = req.Currency
	flow.Amount = order.TotalAmount
	if flow.Amount <= 0 {
		flow.Amount = st.Total
	}
	flow.OrderID = string(order.ID)
	flow.OrderNumber = order.OrderNumber
	flow.ProviderOrderID = order.RazorpayOrderID
	if err := s.advance(ctx, &flow, StageOrderCreated, "", true); err != nil {
		return Flow{}, err
	}

	params, perr := s.Provider.CheckoutParams(payment.CheckoutRequest{
		ProviderOrderID: flow.ProviderOrderID,
		Amount:          flow.Amount,
		Currency:        flow.Currency,
		Prefill:         prefill(st),
		Notes: map[string]string{
			"orderNumber": flow.OrderNumber,
			"merchant":    st.SelectedMerchant.BusinessName,
		},
	})
	if perr != nil {
		if err := s.advance(ctx, &flow, StageFailed, perr.Error(), false); err != nil {
			return Flow{}, err
		}
		return flow, common.ExternalServiceError(s.Provider.Name(), perr)
	}
	flow.Checkout = &params
	if err := s.advance(ctx, &flow, StageCheckoutOpened, "", false); err != nil {
		return Flow{}, err
	}
	zerolog.Ctx(ctx).Info().
		Str("flow_id", flow.ID.String()).
		Str("order_id", flow.OrderID).
		Int64("amount", flow.Amount).
		Msg("checkout_opened")
	return flow, nil
}

// Confirm handles the widget callback. The callback only triggers the
// upstream verification; it is never trusted on its own.
func (s *Service) Confirm(ctx context.Context, sessionID string, flowID uuid.UUID, cb payment.Callback) (Flow, error) {
	if err := s.configured(); err != nil {
		return Flow{}, err
	}
	if err := common.ValidateStruct(cb); err != nil {
		return Flow{}, err
	}
	var out Flow
	err := s.withFlow(ctx, sessionID, flowID, func(ctx context.Context, flow *Flow) error {
		if flow.Stage != StageCheckoutOpened {
			return InvalidTransition(flow.Stage, StagePaymentVerified)
		}
		provider := s.Provider.Name()
		reject := func(reason string, cause error) error {
			flow.Reject(reason, s.now())
			if err := s.Flows.UpdateFlow(ctx, *flow); err != nil {
				return err
			}
			s.emit(ctx, events.TopicCheckoutVerifyRejected, *flow, map[string]any{"reason": reason})
			out = *flow
			return cause
		}

		if cb.ProviderOrderID != flow.ProviderOrderID {
			obs.CountVec(obs.PaymentVerifyTotal, provider, "mismatch")
			return reject("callback order does not match checkout", common.ValidationError("payment callback does not match this checkout", map[string]string{"razorpay_order_id": cb.ProviderOrderID}))
		}
		if err := s.Provider.VerifySignature(cb); err != nil {
			obs.CountVec(obs.PaymentVerifyTotal, provider, "bad_signature")
			return reject("signature pre-check failed", paymentRejected(provider, "payment signature is invalid"))
		}

		st, err := s.Sessions.Get(ctx, sessionID)
		if err != nil {
			return err
		}
		if !st.Authenticated || st.Credential == "" {
			return common.StaleStateError("log in to confirm the payment", session.ActionLogin)
		}
		orderID, err := remote.ID(flow.OrderID).Int64()
		if err != nil {
			return common.ExternalServiceError("print-api", fmt.Errorf("order id %q is not numeric: %w", flow.OrderID, err))
		}
		res, err := s.Upstream.VerifyPayment(ctx, st.Credential, remote.VerifyRequest{
			OrderID:           orderID,
			RazorpayPaymentID: cb.PaymentID,
			RazorpaySignature: cb.Signature,
			RazorpayOrderID:   cb.ProviderOrderID,
		})
		if err != nil {
			obs.CountVec(obs.PaymentVerifyTotal, provider, "error")
			return reject("verification failed: "+err.Error(), err)
		}
		if !res.Success {
			obs.CountVec(obs.PaymentVerifyTotal, provider, "rejected")
			reason := strings.TrimSpace(res.Message)
			if reason == "" {
				reason = "payment verification rejected"
			}
			return reject(reason, paymentRejected(provider, reason))
		}
		obs.CountVec(obs.PaymentVerifyTotal, provider, "verified")

		flow.PaymentID = cb.PaymentID
		if err := s.advance(ctx, flow, StagePaymentVerified, "", false); err != nil {
			return err
		}
		out = *flow
		return s.finalize(ctx, st, flow, &out)
	})
	if err != nil {
		return out, err
	}
	return out, nil
}

func (s *Service) finalize(ctx context.Context, st session.State, flow *Flow, out *Flow) error {
	order, err := s.Upstream.GetOrder(ctx, st.Credential, remote.ID(flow.OrderID))
	if err == nil && (order.Status == remote.OrderCancelled || order.Status == remote.OrderFailed) {
		err = common.ExternalServiceError("print-api", fmt.Errorf("order %s is %s", flow.OrderID, order.Status))
	}
	if err != nil {
		if aerr := s.advance(ctx, flow, StageFailed, "finalisation failed: "+err.Error(), false); aerr != nil {
			return aerr
		}
		*out = *flow
		return err
	}
	if order.OrderNumber != "" {
		flow.OrderNumber = order.OrderNumber
	}
	if err := s.advance(ctx, flow, StageFinalized, "", false); err != nil {
		return err
	}
	*out = *flow
	if _, err := s.Sessions.Dispatch(ctx, st.ID, session.Reset{}); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("flow_id", flow.ID.String()).Msg("checkout_session_reset_failed")
	}
	zerolog.Ctx(ctx).Info().Str("flow_id", flow.ID.String()).Str("order_number", flow.OrderNumber).Msg("checkout_finalized")
	return nil
}

// Dismiss records that the payer closed the widget.
func (s *Service) Dismiss(ctx context.Context, sessionID string, flowID uuid.UUID) (Flow, error) {
	if err := s.configured(); err != nil {
		return Flow{}, err
	}
	var out Flow
	err := s.withFlow(ctx, sessionID, flowID, func(ctx context.Context, flow *Flow) error {
		if err := s.advance(ctx, flow, StageAbandoned, "dismissed by payer", false); err != nil {
			return err
		}
		out = *flow
		return nil
	})
	return out, err
}

// Get returns a flow owned by sessionID.
func (s *Service) Get(ctx context.Context, sessionID string, flowID uuid.UUID) (Flow, error) {
	if s == nil || s.Flows == nil {
		return Flow{}, errors.New("checkout service not configured")
	}
	return s.load(ctx, sessionID, flowID)
}

func (s *Service) load(ctx context.Context, sessionID string, flowID uuid.UUID) (Flow, error) {
	flow, err := s.Flows.GetFlow(ctx, flowID)
	if err != nil {
		if errors.Is(err, ErrFlowNotFound) {
			return Flow{}, common.NotFoundError("checkout not found")
		}
		return Flow{}, err
	}
	if flow.SessionID != sessionID {
		return Flow{}, common.NotFoundError("checkout not found")
	}
	return flow, nil
}

func (s *Service) withFlow(ctx context.Context, sessionID string, flowID uuid.UUID, fn func(context.Context, *Flow) error) error {
	locker := s.Locker
	if locker == nil {
		locker = defaultLocker
	}
	return locker.WithLock(ctx, "checkout:"+flowID.String(), func(ctx context.Context) error {
		flow, err := s.load(ctx, sessionID, flowID)
		if err != nil {
			return err
		}
		return fn(ctx, &flow)
	})
}

var defaultLocker = lock.NewLocal()

// advance applies a transition, persists it, counts it and publishes it.
func (s *Service) advance(ctx context.Context, flow *Flow, next Stage, reason string, create bool) error {
	from := flow.Stage
	if err := flow.Advance(next, reason, s.now()); err != nil {
		return err
	}
	var err error
	if create {
		err = s.Flows.CreateFlow(ctx, *flow)
	} else {
		err = s.Flows.UpdateFlow(ctx, *flow)
	}
	if err != nil {
		return fmt.Errorf("checkout: persist %s: %w", next, err)
	}
	obs.CountVec(obs.CheckoutTransitionTotal, string(from), string(next))
	payload := map[string]any{"from": from, "to": next, "orderId": flow.OrderID}
	if reason != "" {
		payload["reason"] = reason
	}
	s.emit(ctx, topicFor(next), *flow, payload)
	return nil
}

func (s *Service) emit(ctx context.Context, topic string, flow Flow, payload map[string]any) {
	if s.Events == nil || topic == "" {
		return
	}
	payload["sessionId"] = flow.SessionID
	if _, err := s.Events.Emit(ctx, topic, flow.ID.String(), payload); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("topic", topic).Msg("checkout_event_emit_failed")
	}
}

func topicFor(stage Stage) string {
	switch stage {
	case StageOrderCreated:
		return events.TopicCheckoutOrderCreated
	case StageCheckoutOpened:
		return events.TopicCheckoutOpened
	case StagePaymentVerified:
		return events.TopicCheckoutPaymentVerified
	case StageFinalized:
		return events.TopicCheckoutFinalized
	case StageAbandoned:
		return events.TopicCheckoutAbandoned
	case StageFailed:
		return events.TopicCheckoutFailed
	default:
		return ""
	}
}

func paymentRejected(provider, reason string) *common.AppError {
	return &common.AppError{
		Code:       common.CodeExternalService,
		Message:    "payment could not be verified",
		HTTPStatus: http.StatusPaymentRequired,
		Details:    map[string]any{"service": provider, "retryable": false, "reason": reason},
	}
}

func buildOrderRequest(st session.State, currency string) remote.CreateOrderRequest {
	lines := make(map[string]pricing.Line, len(st.Quote.Lines))
	for _, l := range st.Quote.Lines {
		lines[l.DocumentID] = l
	}
	docs := make([]remote.OrderDocument, 0, len(st.Documents))
	for _, d := range st.Documents {
		docs = append(docs, remote.OrderDocument{
			DocumentID:    d.ID,
			FileName:      d.Name,
			PageCount:     d.PageCount,
			Price:         lines[d.ID].Amount,
			PrintSettings: remote.SettingsFromOptions(d.EffectiveOptions(st.Options)),
		})
	}
	username := ""
	if st.User != nil {
		username = st.User.Username
	}
	return remote.CreateOrderRequest{
		MerchantID:  st.SelectedMerchant.ID,
		Documents:   docs,
		TotalAmount: st.Total,
		Currency:    strings.ToUpper(currency),
		Notes:       fmt.Sprintf("Print order for %s to be fulfilled by %s", username, st.SelectedMerchant.BusinessName),
	}
}

func prefill(st session.State) payment.Prefill {
	if st.User == nil {
		return payment.Prefill{}
	}
	return payment.Prefill{
		Name:    st.User.DisplayName(),
		Email:   st.User.Email,
		Contact: st.User.PhoneNumber,
	}
}
