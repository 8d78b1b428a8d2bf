package session

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/novo-avatar/novo/pkg/memory"
)

// Memory is the conversation memory a session reads and writes.
// [memory.Service] implements it.
type Memory interface {
	Recall(ctx context.Context, sessionID, userID, query string) ([]memory.Recalled, error)
	Remember(ctx context.Context, sessionID, userID, userText, reply string) error
}

// MemoryGuard wraps a [Memory] and makes all operations non-fatal. If the
// underlying memory fails, operations return empty results and log warnings
// instead of propagating errors, so conversations continue while the
// database is unavailable. [MemoryGuard.IsDegraded] reports whether the most
// recent operation failed.
//
// All methods are safe for concurrent use.
type MemoryGuard struct {
	mem      Memory
	degraded atomic.Bool
}

var _ Memory = (*MemoryGuard)(nil)

// NewMemoryGuard creates a new [MemoryGuard] wrapping mem.
func NewMemoryGuard(mem Memory) *MemoryGuard {
	return &MemoryGuard{mem: mem}
}

// Recall returns recalled exchanges, or none when the underlying memory
// fails.
func (mg *MemoryGuard) Recall(ctx context.Context, sessionID, userID, query string) ([]memory.Recalled, error) {
	out, err := mg.mem.Recall(ctx, sessionID, userID, query)
	if err != nil {
		mg.degraded.Store(true)
		slog.Warn("memory guard: Recall failed, returning empty",
			"session_id", sessionID,
			"error", err,
		)
		return nil, nil
	}
	mg.degraded.Store(false)
	return out, nil
}

// Remember stores an exchange. A failure is logged and swallowed.
func (mg *MemoryGuard) Remember(ctx context.Context, sessionID, userID, userText, reply string) error {
	if err := mg.mem.Remember(ctx, sessionID, userID, userText, reply); err != nil {
		mg.degraded.Store(true)
		slog.Warn("memory guard: Remember failed, swallowing error",
			"session_id", sessionID,
			"error", err,
		)
		return nil
	}
	mg.degraded.Store(false)
	return nil
}

// IsDegraded reports whether the most recent operation on the underlying
// memory failed.
func (mg *MemoryGuard) IsDegraded() bool {
	return mg.degraded.Load()
}
