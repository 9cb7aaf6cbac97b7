package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/driftkit/taskgraph/core"
)

// SessionStore persists a run's Context snapshot under its session ID. The
// executor never assumes persistence — swapping the store only changes
// where a finished run's output keys can be inspected after the fact; it
// has no bearing on how the run itself executes.
type SessionStore interface {
	Save(ctx context.Context, sessionID string, values map[string]string) error
}

// InMemorySessionStore is the default store: a run's Context snapshot lives
// only as long as the process does.
type InMemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]map[string]string
}

// NewInMemorySessionStore builds an empty store.
func NewInMemorySessionStore() *InMemorySessionStore {
	return &InMemorySessionStore{sessions: make(map[string]map[string]string)}
}

func (s *InMemorySessionStore) Save(ctx context.Context, sessionID string, values map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = values
	return nil
}

// Get returns a previously saved snapshot, mainly useful in tests and for a
// future "inspect a past run" endpoint.
func (s *InMemorySessionStore) Get(sessionID string) (map[string]string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.sessions[sessionID]
	return v, ok
}

// RedisSessionStore is the durable alternative: it realizes the "future
// extension point" the in-memory store's design note alludes to, backing
// session snapshots with Redis instead of process memory so they survive a
// restart and can be inspected across replicas.
type RedisSessionStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger core.Logger
}

// NewRedisSessionStore builds a store against an already-constructed Redis
// client. prefix namespaces every key this store writes; ttl bounds how
// long a finished run's snapshot lingers.
func NewRedisSessionStore(client *redis.Client, prefix string, ttl time.Duration, logger core.Logger) *RedisSessionStore {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &RedisSessionStore{client: client, prefix: prefix, ttl: ttl, logger: logger}
}

func (s *RedisSessionStore) key(sessionID string) string {
	return s.prefix + "session:" + sessionID
}

func (s *RedisSessionStore) Save(ctx context.Context, sessionID string, values map[string]string) error {
	data, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("redis session store: failed to marshal snapshot: %w", err)
	}
	if err := s.client.Set(ctx, s.key(sessionID), data, s.ttl).Err(); err != nil {
		s.logger.ErrorWithContext(ctx, "failed to persist session snapshot", map[string]interface{}{
			"session_id": sessionID,
			"error":      err.Error(),
		})
		return fmt.Errorf("redis session store: %w", err)
	}
	return nil
}

// Load fetches a previously saved snapshot, returning (nil, false, nil) if
// absent.
func (s *RedisSessionStore) Load(ctx context.Context, sessionID string) (map[string]string, bool, error) {
	data, err := s.client.Get(ctx, s.key(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis session store: %w", err)
	}
	var values map[string]string
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, false, fmt.Errorf("redis session store: failed to unmarshal snapshot: %w", err)
	}
	return values, true, nil
}
