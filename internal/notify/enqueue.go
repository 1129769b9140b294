package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/noah-isme/printdesk/internal/events"
)

// TypeWebhookDelivery is the asynq task type carrying one event to the webhook endpoint.
const TypeWebhookDelivery = "webhook:deliver"

// TaskEnqueuer is the subset of *asynq.Client used to schedule deliveries.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Enqueuer is an events.Notifier that schedules a webhook delivery task per event.
// The task id is the event id, so an event is queued at most once.
type Enqueuer struct {
	Client TaskEnqueuer
	// Topics limits deliveries to the listed topics; empty means all.
	Topics   []string
	Queue    string
	MaxRetry int
	Timeout  time.Duration
}

// Notify implements events.Notifier.
func (e Enqueuer) Notify(ctx context.Context, ev events.Event) error {
	if e.Client == nil || !e.wants(ev.Topic) {
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("notify: encode task: %w", err)
	}
	maxRetry := e.MaxRetry
	if maxRetry <= 0 {
		maxRetry = 6
	}
	opts := []asynq.Option{
		asynq.TaskID(ev.ID.String()),
		asynq.MaxRetry(maxRetry),
	}
	if e.Queue != "" {
		opts = append(opts, asynq.Queue(e.Queue))
	}
	if e.Timeout > 0 {
		opts = append(opts, asynq.Timeout(e.Timeout))
	}
	_, err = e.Client.EnqueueContext(ctx, asynq.NewTask(TypeWebhookDelivery, payload), opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("notify: enqueue %s: %w", ev.Topic, err)
	}
	return nil
}

func (e Enqueuer) wants(topic string) bool {
	if len(e.Topics) == 0 {
		return true
	}
	for _, t := range e.Topics {
		if t == topic {
			return true
		}
	}
	return false
}
