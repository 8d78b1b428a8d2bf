// Package mock provides test doubles for the emotion interfaces.
package mock

import (
	"context"
	"sync"

	"github.com/novo-avatar/novo/pkg/provider/emotion"
)

// Provider is a mock emotion.Provider. Connect returns Stream unless
// ConnectErr is set.
type Provider struct {
	mu sync.Mutex

	Stream     *Stream
	ConnectErr error

	ConnectCalls int
}

// Connect records the call and returns Stream, ConnectErr.
func (p *Provider) Connect(_ context.Context, _ int) (emotion.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls++
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	return p.Stream, nil
}

// Stream is a mock emotion.Stream.
type Stream struct {
	mu      sync.Mutex
	sent    [][]byte
	closed  bool
	results chan []emotion.Score
}

// NewStream returns an open Stream.
func NewStream() *Stream {
	return &Stream{results: make(chan []emotion.Score, 8)}
}

// Send records pcm.
func (s *Stream) Send(_ context.Context, pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return emotion.ErrStreamClosed
	}
	s.sent = append(s.sent, pcm)
	return nil
}

// Results returns the prediction channel fed by Push.
func (s *Stream) Results() <-chan []emotion.Score { return s.results }

// Close closes the result channel once.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.results)
	}
	return nil
}

// Push delivers a prediction. Must not be called after Close.
func (s *Stream) Push(scores []emotion.Score) { s.results <- scores }

// SentCount returns how many chunks were sent.
func (s *Stream) SentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

// Closed reports whether Close was called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

var (
	_ emotion.Provider = (*Provider)(nil)
	_ emotion.Stream   = (*Stream)(nil)
)
