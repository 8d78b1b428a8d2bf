// Package memory stores and recalls past conversation exchanges.
//
// Every committed exchange (a user turn and the agent's reply) is saved with
// an embedding of its text. When a new turn arrives the most similar past
// exchanges of the same user are recalled and offered to the language model
// as background, so the agent remembers what it was told in earlier sessions.
//
// Memory is optional: a session without a [Service] converses normally.
//
// Every implementation must be safe for concurrent use.
package memory

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested exchange does not exist.
var ErrNotFound = errors.New("memory: not found")

// Exchange is one committed user turn and the reply to it.
type Exchange struct {
	// ID is the unique identifier (a UUID).
	ID string

	// SessionID is the conversation session the exchange belongs to.
	SessionID string

	// UserID identifies the person across sessions. Empty for anonymous
	// sessions, whose exchanges are only recalled within the same session.
	UserID string

	// UserText is the finalized user turn.
	UserText string

	// Reply is the agent's reply.
	Reply string

	// Embedding is the vector of the exchange text. Its length must match the
	// store's configured dimension.
	Embedding []float32

	// Model is the embedding model that produced Embedding.
	Model string

	// CreatedAt is when the reply was committed.
	CreatedAt time.Time
}

// Recalled pairs a stored exchange with its cosine distance to the query.
// Lower is more similar.
type Recalled struct {
	Exchange Exchange
	Distance float64
}

// Filter narrows recall. All non-zero fields apply as AND conditions.
type Filter struct {
	// UserID restricts recall to one user.
	UserID string

	// SessionID restricts recall to one session.
	SessionID string

	// ExcludeSessionID skips exchanges of one session, typically the current
	// one whose history is already in the prompt.
	ExcludeSessionID string

	// Model restricts recall to vectors produced by one embedding model.
	Model string

	// MaxDistance drops results farther than this. Zero disables the bound.
	MaxDistance float64
}

// Store persists exchanges.
type Store interface {
	// Save inserts or replaces an exchange.
	Save(ctx context.Context, ex Exchange) error

	// Recall returns up to limit exchanges nearest to embedding, most similar
	// first.
	Recall(ctx context.Context, embedding []float32, limit int, f Filter) ([]Recalled, error)

	// Recent returns the last limit exchanges of userID across sessions,
	// oldest first.
	Recent(ctx context.Context, userID string, limit int) ([]Exchange, error)

	// Get returns one exchange by id or [ErrNotFound].
	Get(ctx context.Context, id string) (Exchange, error)
}
