package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/printdesk/internal/events"
	"github.com/noah-isme/printdesk/internal/lock"
	"github.com/noah-isme/printdesk/internal/obs"
)

// DeliveryWorker processes webhook delivery tasks.
type DeliveryWorker struct {
	Sender *Sender
	Locker lock.Locker
}

// Register mounts the worker on mux.
func (w *DeliveryWorker) Register(mux *asynq.ServeMux) {
	mux.Handle(TypeWebhookDelivery, w)
}

// ProcessTask implements asynq.Handler. Malformed payloads and 4xx responses
// other than 408 and 429 are not retried.
func (w *DeliveryWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	if w.Sender == nil {
		return errors.New("webhook worker: sender not configured")
	}
	var ev events.Event
	if err := json.Unmarshal(t.Payload(), &ev); err != nil {
		return fmt.Errorf("webhook worker: decode task: %v: %w", err, asynq.SkipRetry)
	}
	logger := zerolog.Ctx(ctx).With().Str("event_id", ev.ID.String()).Str("topic", ev.Topic).Logger()
	locker := w.Locker
	if locker == nil {
		locker = lock.NewLocal()
	}
	return locker.WithLock(ctx, "webhook:"+ev.ID.String(), func(ctx context.Context) error {
		start := time.Now()
		status, err := w.Sender.Deliver(ctx, ev)
		result := deliveryResult(status, err)
		obs.CountVec(obs.WebhookDeliveriesTotal, result)
		if obs.WebhookAttemptLatency != nil {
			obs.WebhookAttemptLatency.WithLabelValues(result).Observe(obs.DurationMillis(time.Since(start)))
		}
		switch result {
		case "delivered":
			logger.Info().Int("status", status).Msg("webhook_delivered")
			return nil
		case "duplicate":
			logger.Debug().Msg("webhook_duplicate_suppressed")
			return nil
		case "rejected":
			logger.Warn().Err(err).Int("status", status).Msg("webhook_rejected")
			return fmt.Errorf("webhook worker: %v: %w", err, asynq.SkipRetry)
		default:
			retry, _ := asynq.GetRetryCount(ctx)
			logger.Warn().Err(err).Int("status", status).Int("retry", retry).Msg("webhook_delivery_failed")
			return err
		}
	})
}

func deliveryResult(status int, err error) string {
	switch {
	case errors.Is(err, ErrReplaySuppressed):
		return "duplicate"
	case err == nil:
		return "delivered"
	case status >= 400 && status < 500 && status != http.StatusRequestTimeout && status != http.StatusTooManyRequests:
		return "rejected"
	default:
		return "failed"
	}
}
