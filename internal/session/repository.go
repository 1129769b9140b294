package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a session does not exist or has expired.
var ErrNotFound = errors.New("session: not found")

// Repository persists session state.
type Repository interface {
	Load(ctx context.Context, id string) (State, error)
	Save(ctx context.Context, s State) error
	Delete(ctx context.Context, id string) error
}

// RedisRepository stores sessions as JSON with a sliding TTL refreshed on every save.
type RedisRepository struct {
	Client *redis.Client
	Prefix string
	TTL    time.Duration
}

func (r RedisRepository) key(id string) string {
	prefix := r.Prefix
	if prefix == "" {
		prefix = "session:"
	}
	return prefix + id
}

// Load implements Repository.
func (r RedisRepository) Load(ctx context.Context, id string) (State, error) {
	data, err := r.Client.Get(ctx, r.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return State{}, ErrNotFound
		}
		return State{}, fmt.Errorf("session: load %s: %w", id, err)
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, fmt.Errorf("session: decode %s: %w", id, err)
	}
	return s, nil
}

// Save implements Repository.
func (r RedisRepository) Save(ctx context.Context, s State) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("session: encode %s: %w", s.ID, err)
	}
	ttl := r.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if err := r.Client.Set(ctx, r.key(s.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("session: save %s: %w", s.ID, err)
	}
	return nil
}

// Delete implements Repository.
func (r RedisRepository) Delete(ctx context.Context, id string) error {
	return r.Client.Del(ctx, r.key(id)).Err()
}

// MemoryRepository keeps sessions in process.
type MemoryRepository struct {
	mu       sync.RWMutex
	sessions map[string]State
}

// NewMemoryRepository constructs an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{sessions: make(map[string]State)}
}

// Load implements Repository.
func (m *MemoryRepository) Load(_ context.Context, id string) (State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return State{}, ErrNotFound
	}
	return s.Clone(), nil
}

// Save implements Repository.
func (m *MemoryRepository) Save(_ context.Context, s State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions == nil {
		m.sessions = make(map[string]State)
	}
	m.sessions[s.ID] = s.Clone()
	return nil
}

// Delete implements Repository.
func (m *MemoryRepository) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}
