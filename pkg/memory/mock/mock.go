// Package mock provides an in-memory test double for [memory.Store].
//
// Store keeps exchanges in a slice and ranks recall by cosine distance, so it
// behaves like the Postgres store for small test data. Every method call is
// recorded for assertion.
//
//	store := &mock.Store{}
//	svc := memory.NewService(store, embedder)
//	// ...
//	if got := store.CallCount("Save"); got != 1 { ... }
package mock

import (
	"cmp"
	"context"
	"math"
	"slices"
	"sync"

	"github.com/novo-avatar/novo/pkg/memory"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// Store is a configurable in-memory [memory.Store].
type Store struct {
	mu    sync.Mutex
	calls []Call
	rows  []memory.Exchange

	// SaveErr is returned by Save when non-nil.
	SaveErr error

	// RecallErr is returned by Recall when non-nil.
	RecallErr error
}

func (s *Store) record(method string, args ...any) {
	s.calls = append(s.calls, Call{Method: method, Args: args})
}

// Save implements memory.Store.
func (s *Store) Save(_ context.Context, ex memory.Exchange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("Save", ex)
	if s.SaveErr != nil {
		return s.SaveErr
	}
	for i := range s.rows {
		if s.rows[i].ID == ex.ID {
			s.rows[i] = ex
			return nil
		}
	}
	s.rows = append(s.rows, ex)
	return nil
}

// Recall implements memory.Store.
func (s *Store) Recall(_ context.Context, embedding []float32, limit int, f memory.Filter) ([]memory.Recalled, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("Recall", embedding, limit, f)
	if s.RecallErr != nil {
		return nil, s.RecallErr
	}
	var out []memory.Recalled
	for _, ex := range s.rows {
		if !matches(ex, f) {
			continue
		}
		d := CosineDistance(embedding, ex.Embedding)
		if f.MaxDistance > 0 && d > f.MaxDistance {
			continue
		}
		out = append(out, memory.Recalled{Exchange: ex, Distance: d})
	}
	slices.SortStableFunc(out, func(a, b memory.Recalled) int { return cmp.Compare(a.Distance, b.Distance) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Recent implements memory.Store.
func (s *Store) Recent(_ context.Context, userID string, limit int) ([]memory.Exchange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("Recent", userID, limit)
	var out []memory.Exchange
	for _, ex := range s.rows {
		if ex.UserID == userID {
			out = append(out, ex)
		}
	}
	slices.SortStableFunc(out, func(a, b memory.Exchange) int { return a.CreatedAt.Compare(b.CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Get implements memory.Store.
func (s *Store) Get(_ context.Context, id string) (memory.Exchange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("Get", id)
	for _, ex := range s.rows {
		if ex.ID == id {
			return ex, nil
		}
	}
	return memory.Exchange{}, memory.ErrNotFound
}

// Exchanges returns a copy of all stored exchanges in insertion order.
func (s *Store) Exchanges() []memory.Exchange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.rows)
}

// CallCount returns how many times method was invoked.
func (s *Store) CallCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Calls returns a copy of all recorded calls.
func (s *Store) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.calls)
}

// Reset clears recorded calls and stored exchanges.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
	s.rows = nil
}

func matches(ex memory.Exchange, f memory.Filter) bool {
	switch {
	case f.UserID != "" && ex.UserID != f.UserID:
		return false
	case f.SessionID != "" && ex.SessionID != f.SessionID:
		return false
	case f.ExcludeSessionID != "" && ex.SessionID == f.ExcludeSessionID:
		return false
	case f.Model != "" && ex.Model != f.Model:
		return false
	}
	return true
}

// CosineDistance returns 1 - cosine similarity, matching pgvector's <=>.
// Zero vectors are at distance 1 from everything.
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) {
		return 1
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

var _ memory.Store = (*Store)(nil)
