package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/printdesk/internal/common"
	"github.com/noah-isme/printdesk/internal/lock"
	"github.com/noah-isme/printdesk/internal/obs"
	"github.com/noah-isme/printdesk/internal/pricing"
)

// Change describes one applied action.
type Change struct {
	Action Action
	Prev   State
	Next   State
}

// Observer is notified after a change has been persisted, in dispatch order.
type Observer func(ctx context.Context, c Change)

// StoreConfig groups Store dependencies.
type StoreConfig struct {
	Repository Repository
	Locker     lock.Locker
	Rate       pricing.Money
	Currency   string
	Now        func() time.Time
	NewID      func() string
}

// Store is the single owner of session state. Mutations for one session are
// serialised by the session lock: load, reduce, save, notify.
type Store struct {
	repo     Repository
	locker   lock.Locker
	env      Env
	currency string
	newID    func() string

	mu        sync.RWMutex
	observers []Observer
}

// NewStore constructs a Store. A nil Locker falls back to an in-process lock.
func NewStore(cfg StoreConfig) *Store {
	locker := cfg.Locker
	if locker == nil {
		locker = lock.NewLocal()
	}
	newID := cfg.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	repo := cfg.Repository
	if repo == nil {
		repo = NewMemoryRepository()
	}
	return &Store{
		repo:     repo,
		locker:   locker,
		env:      Env{Rate: cfg.Rate, Now: cfg.Now},
		currency: cfg.Currency,
		newID:    newID,
	}
}

// Currency returns the currency totals are expressed in.
func (s *Store) Currency() string { return s.currency }

// Subscribe registers an observer for every future change.
func (s *Store) Subscribe(o Observer) {
	if o == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// Create starts a fresh anonymous session.
func (s *Store) Create(ctx context.Context) (State, error) {
	st := New(s.newID(), s.env.now())
	if err := s.repo.Save(ctx, st); err != nil {
		return State{}, err
	}
	zerolog.Ctx(ctx).Info().Str("session_id", st.ID).Msg("session_created")
	return st, nil
}

// Get loads a session. Missing sessions surface as UnauthorizedError so clients
// start over from the login entry point.
func (s *Store) Get(ctx context.Context, id string) (State, error) {
	st, err := s.repo.Load(ctx, id)
	if err != nil {
		return State{}, translate(err)
	}
	return st, nil
}

// Dispatch applies action to the session under its lock and notifies observers.
// A failed action leaves the stored state untouched.
func (s *Store) Dispatch(ctx context.Context, id string, action Action) (State, error) {
	if action == nil {
		return State{}, common.ValidationError("action required", nil)
	}
	var result State
	err := s.locker.WithLock(ctx, "session:"+id, func(ctx context.Context) error {
		prev, err := s.repo.Load(ctx, id)
		if err != nil {
			return translate(err)
		}
		next, changed, err := Reduce(prev, action, s.env)
		if err != nil {
			obs.CountVec(obs.SessionActionsTotal, action.Name(), "rejected")
			return err
		}
		if _, ok := action.(RecomputePrice); ok {
			outcome := "computed"
			if !changed {
				outcome = "noop"
			}
			obs.CountVec(obs.PriceRecomputeTotal, outcome)
		}
		if !changed {
			obs.CountVec(obs.SessionActionsTotal, action.Name(), "noop")
			result = prev
			return nil
		}
		if err := s.repo.Save(ctx, next); err != nil {
			return err
		}
		obs.CountVec(obs.SessionActionsTotal, action.Name(), "applied")
		result = next
		s.notify(ctx, Change{Action: action, Prev: prev, Next: next})
		return nil
	})
	if err != nil {
		return State{}, err
	}
	return result, nil
}

// Delete removes a session entirely.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

// WriteError renders err and, when the upstream rejected the credential,
// logs the session out first.
func (s *Store) WriteError(w http.ResponseWriter, r *http.Request, err error) {
	if common.HasCode(err, common.CodeUnauthorized) {
		if id, ok := common.SessionID(r.Context()); ok {
			if _, derr := s.Dispatch(r.Context(), id, Deauthenticate{}); derr != nil && !errors.Is(derr, ErrNotFound) {
				zerolog.Ctx(r.Context()).Warn().Err(derr).Msg("session_deauthenticate_failed")
			}
		}
	}
	common.WriteError(w, err)
}

func (s *Store) notify(ctx context.Context, c Change) {
	s.mu.RLock()
	observers := append([]Observer(nil), s.observers...)
	s.mu.RUnlock()
	for _, o := range observers {
		o(ctx, c)
	}
}

func translate(err error) error {
	if errors.Is(err, ErrNotFound) {
		return common.UnauthorizedError("session expired", err)
	}
	return fmt.Errorf("session store: %w", err)
}
