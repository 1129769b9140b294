// Package ledger persists checkout flows and domain events in Postgres.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/noah-isme/printdesk/internal/checkout"
	"github.com/noah-isme/printdesk/internal/events"
	"github.com/noah-isme/printdesk/internal/payment"
)

// DB is the subset of pgxpool.Pool the ledger uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements checkout.FlowStore and events.EventStore.
type Store struct {
	DB DB
}

var (
	_ checkout.FlowStore = (*Store)(nil)
	_ events.EventStore  = (*Store)(nil)
)

const insertFlowSQL = `INSERT INTO checkout_flows
	(id, session_id, stage, order_id, order_number, provider_order_id, merchant_id, amount, currency,
	 payment_id, failure_reason, checkout, history, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

const updateFlowSQL = `UPDATE checkout_flows SET
	stage = $2, order_id = $3, order_number = $4, provider_order_id = $5, merchant_id = $6,
	amount = $7, currency = $8, payment_id = $9, failure_reason = $10, checkout = $11,
	history = $12, updated_at = $13
	WHERE id = $1`

const selectFlowSQL = `SELECT id, session_id, stage, order_id, order_number, provider_order_id, merchant_id,
	amount, currency, payment_id, failure_reason, checkout, history, created_at, updated_at
	FROM checkout_flows WHERE id = $1`

const insertEventSQL = `INSERT INTO domain_events (id, topic, aggregate_id, payload, occurred_at)
	VALUES ($1, $2, $3, $4, $5)`

// CreateFlow implements checkout.FlowStore.
func (s *Store) CreateFlow(ctx context.Context, f checkout.Flow) error {
	params, history, err := encodeFlow(f)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(ctx, insertFlowSQL,
		f.ID, f.SessionID, string(f.Stage), f.OrderID, f.OrderNumber, f.ProviderOrderID, f.MerchantID,
		f.Amount, f.Currency, f.PaymentID, f.FailureReason, params, history, f.CreatedAt, f.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("ledger: flow %s already exists: %w", f.ID, err)
		}
		return fmt.Errorf("ledger: insert flow: %w", err)
	}
	return nil
}

// UpdateFlow implements checkout.FlowStore.
func (s *Store) UpdateFlow(ctx context.Context, f checkout.Flow) error {
	params, history, err := encodeFlow(f)
	if err != nil {
		return err
	}
	tag, err := s.DB.Exec(ctx, updateFlowSQL,
		f.ID, string(f.Stage), f.OrderID, f.OrderNumber, f.ProviderOrderID, f.MerchantID,
		f.Amount, f.Currency, f.PaymentID, f.FailureReason, params, history, f.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ledger: update flow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return checkout.ErrFlowNotFound
	}
	return nil
}

// GetFlow implements checkout.FlowStore.
func (s *Store) GetFlow(ctx context.Context, id uuid.UUID) (checkout.Flow, error) {
	var (
		f       checkout.Flow
		stage   string
		params  []byte
		history []byte
	)
	err := s.DB.QueryRow(ctx, selectFlowSQL, id).Scan(
		&f.ID, &f.SessionID, &stage, &f.OrderID, &f.OrderNumber, &f.ProviderOrderID, &f.MerchantID,
		&f.Amount, &f.Currency, &f.PaymentID, &f.FailureReason, &params, &history, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return checkout.Flow{}, checkout.ErrFlowNotFound
		}
		return checkout.Flow{}, fmt.Errorf("ledger: get flow: %w", err)
	}
	f.Stage = checkout.Stage(stage)
	if len(params) > 0 && string(params) != "null" {
		var p payment.CheckoutParams
		if err := json.Unmarshal(params, &p); err != nil {
			return checkout.Flow{}, fmt.Errorf("ledger: decode checkout params: %w", err)
		}
		f.Checkout = &p
	}
	f.History = []checkout.Transition{}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &f.History); err != nil {
			return checkout.Flow{}, fmt.Errorf("ledger: decode history: %w", err)
		}
	}
	return f, nil
}

// AppendEvent implements events.EventStore.
func (s *Store) AppendEvent(ctx context.Context, ev events.Event) error {
	payload := []byte(ev.Payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	if _, err := s.DB.Exec(ctx, insertEventSQL, ev.ID, ev.Topic, ev.AggregateID, payload, ev.OccurredAt); err != nil {
		return fmt.Errorf("ledger: append event: %w", err)
	}
	return nil
}

func encodeFlow(f checkout.Flow) (params []byte, history []byte, err error) {
	if f.Checkout != nil {
		params, err = json.Marshal(f.Checkout)
		if err != nil {
			return nil, nil, fmt.Errorf("ledger: encode checkout params: %w", err)
		}
	}
	h := f.History
	if h == nil {
		h = []checkout.Transition{}
	}
	history, err = json.Marshal(h)
	if err != nil {
		return nil, nil, fmt.Errorf("ledger: encode history: %w", err)
	}
	return params, history, nil
}
