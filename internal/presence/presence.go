// Package presence records which conversation sessions are live in Redis.
//
// Each session is a hash at "session:<id>" (optionally prefixed) holding its
// start time, last activity, exchange count, user and state. Every write
// refreshes the key's TTL, so abandoned sessions expire on their own.
package presence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL is how long a session record outlives its last write.
const DefaultTTL = 24 * time.Hour

// Session states written to the state field.
const (
	StateActive = "active"
	StateIdle   = "idle"
	StateClosed = "closed"
)

// ErrNotFound is returned by [Store.Get] for an unknown or expired session.
var ErrNotFound = errors.New("presence: session not found")

// Record is the stored view of one session.
type Record struct {
	SessionID      string
	UserID         string
	State          string
	StartedAt      time.Time
	LastActivityAt time.Time
	MessageCount   int64
}

// Store is the Redis-backed presence store. It is safe for concurrent use.
type Store struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	now    func() time.Time
}

// Option configures a [Store].
type Option func(*Store)

// WithTTL sets the record TTL. Zero disables expiry.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithPrefix namespaces keys as "<prefix>:session:<id>".
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// WithNow overrides the time source used for timestamps.
func WithNow(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore returns a Store writing through client.
//
//	store := presence.NewStore(
//	    redis.NewClient(&redis.Options{Addr: "localhost:6379"}),
//	    presence.WithTTL(24*time.Hour),
//	)
func NewStore(client *redis.Client, opts ...Option) *Store {
	s := &Store{client: client, ttl: DefaultTTL, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Key returns the Redis key for sessionID.
func (s *Store) Key(sessionID string) string {
	if s.prefix == "" {
		return "session:" + sessionID
	}
	return s.prefix + ":session:" + sessionID
}

// Start creates (or resets) the record for a new conversation.
func (s *Store) Start(ctx context.Context, sessionID, userID string) error {
	now := s.stamp()
	return s.write(ctx, sessionID, "start", func(pipe redis.Pipeliner, key string) {
		pipe.HSet(ctx, key,
			"user_id", userID,
			"state", StateActive,
			"started_at", now,
			"last_activity_at", now,
			"message_count", 0,
		)
	})
}

// Touch records one completed exchange.
func (s *Store) Touch(ctx context.Context, sessionID string) error {
	return s.write(ctx, sessionID, "touch", func(pipe redis.Pipeliner, key string) {
		pipe.HIncrBy(ctx, key, "message_count", 1)
		pipe.HSet(ctx, key, "last_activity_at", s.stamp())
	})
}

// SetState updates the state field.
func (s *Store) SetState(ctx context.Context, sessionID, state string) error {
	return s.write(ctx, sessionID, "set state", func(pipe redis.Pipeliner, key string) {
		pipe.HSet(ctx, key, "state", state, "last_activity_at", s.stamp())
	})
}

// End marks the session closed. The record remains until its TTL expires.
func (s *Store) End(ctx context.Context, sessionID string) error {
	return s.SetState(ctx, sessionID, StateClosed)
}

// Get returns the record for sessionID.
func (s *Store) Get(ctx context.Context, sessionID string) (Record, error) {
	fields, err := s.client.HGetAll(ctx, s.Key(sessionID)).Result()
	if err != nil {
		return Record{}, fmt.Errorf("presence: get %s: %w", sessionID, err)
	}
	if len(fields) == 0 {
		return Record{}, ErrNotFound
	}
	rec := Record{
		SessionID: sessionID,
		UserID:    fields["user_id"],
		State:     fields["state"],
	}
	rec.StartedAt, _ = time.Parse(time.RFC3339Nano, fields["started_at"])
	rec.LastActivityAt, _ = time.Parse(time.RFC3339Nano, fields["last_activity_at"])
	rec.MessageCount, _ = strconv.ParseInt(fields["message_count"], 10, 64)
	return rec, nil
}

// Ping checks connectivity. It backs the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// write runs fn and the TTL refresh in one pipeline round-trip.
func (s *Store) write(ctx context.Context, sessionID, op string, fn func(redis.Pipeliner, string)) error {
	if sessionID == "" {
		return fmt.Errorf("presence: %s: empty session id", op)
	}
	key := s.Key(sessionID)
	pipe := s.client.TxPipeline()
	fn(pipe, key)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("presence: %s %s: %w", op, sessionID, err)
	}
	return nil
}

func (s *Store) stamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}
