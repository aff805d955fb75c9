package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces conversation records in Redis.
const keyPrefix = "conversation:"

// RedisStore reads sessions from the Redis instance the conversation service
// writes to. Values are JSON-encoded Session documents.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed conversation store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// GetConversationByID retrieves and decodes the session for id.
func (s *RedisStore) GetConversationByID(ctx context.Context, id string) (*Session, error) {
	data, err := s.client.Get(ctx, keyPrefix+id).Bytes()
	if err == redis.Nil {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch conversation %s: %w", id, err)
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to decode conversation %s: %w", id, err)
	}
	return &session, nil
}

// InMemoryStore implements Store with in-memory storage for tests and
// single-process deployments.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewInMemoryStore creates an empty in-memory conversation store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[string]*Session),
	}
}

// Put stores a session, replacing any existing one with the same id.
func (s *InMemoryStore) Put(session *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *session
	s.sessions[session.ID] = &copied
}

// GetConversationByID retrieves a session by id.
func (s *InMemoryStore) GetConversationByID(_ context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}

	copied := *session
	return &copied, nil
}
