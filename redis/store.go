// Package redis stores editor sessions in Redis.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/meikuraledutech/flowgraph"
)

// SessionStore implements flowgraph.SessionStore using Redis.
type SessionStore struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

var _ flowgraph.SessionStore = (*SessionStore)(nil)

type Option func(*SessionStore)

// WithTTL sets the expiration for sessions. Zero keeps them forever.
func WithTTL(ttl time.Duration) Option {
	return func(s *SessionStore) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix for sessions.
func WithPrefix(prefix string) Option {
	return func(s *SessionStore) {
		s.prefix = prefix
	}
}

// New creates a Redis session store that owns its client.
func New(address, password string, db int, opts ...Option) *SessionStore {
	return NewFromClient(backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	}), opts...)
}

// NewFromClient creates a session store on an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *SessionStore {
	s := &SessionStore{
		client: client,
		prefix: "flowgraph:session:",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SessionStore) key(id string) string {
	return s.prefix + id
}

// SaveSession writes the session and refreshes its TTL.
func (s *SessionStore) SaveSession(ctx context.Context, sess *flowgraph.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("flowgraph: marshal session: %w", err)
	}
	if err := s.client.Set(ctx, s.key(sess.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("flowgraph: save session: %w", err)
	}
	return nil
}

// LoadSession reads a session; missing or expired keys yield ErrSessionNotFound.
func (s *SessionStore) LoadSession(ctx context.Context, id string) (*flowgraph.Session, error) {
	val, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, backend.Nil) {
		return nil, flowgraph.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("flowgraph: load session: %w", err)
	}

	var sess flowgraph.Session
	if err := json.Unmarshal(val, &sess); err != nil {
		return nil, fmt.Errorf("flowgraph: unmarshal session: %w", err)
	}
	return &sess, nil
}

// DeleteSession removes the session. Unknown ids are not an error.
func (s *SessionStore) DeleteSession(ctx context.Context, id string) error {
	return s.client.Del(ctx, s.key(id)).Err()
}

// Ping checks connectivity.
func (s *SessionStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the redis client.
func (s *SessionStore) Close() error {
	return s.client.Close()
}
