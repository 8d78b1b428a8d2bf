// Package mock provides test doubles for the stt package interfaces.
//
// Use Provider to verify that the caller connects with the expected
// StreamConfig. Use Stream to inject raw provider messages and inspect which
// audio frames were delivered.
//
// Example:
//
//	s := mock.NewStream()
//	p := &mock.Provider{Stream: s, NormalizeFunc: flux.Normalize}
//	st, _ := p.Connect(ctx, cfg)
//	s.Push([]byte(`{"type":"TurnInfo","event":"StartOfTurn"}`))
package mock

import (
	"context"
	"sync"

	"github.com/novo-avatar/novo/pkg/provider/stt"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Cfg is the StreamConfig passed to Connect.
	Cfg stt.StreamConfig
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Stream is returned by Connect. If nil, Connect returns a fresh Stream.
	Stream *Stream

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// NormalizeFunc implements Normalize. If nil, every message is reported
	// as stt.ErrIgnored.
	NormalizeFunc func(raw []byte) (stt.TurnEvent, error)

	// ConnectCalls records every call to Connect.
	ConnectCalls []ConnectCall
}

// Connect records the call and returns Stream, ConnectErr.
func (p *Provider) Connect(_ context.Context, cfg stt.StreamConfig) (stt.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Cfg: cfg})
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Stream == nil {
		p.Stream = NewStream()
	}
	return p.Stream, nil
}

// Normalize delegates to NormalizeFunc.
func (p *Provider) Normalize(raw []byte) (stt.TurnEvent, error) {
	p.mu.Lock()
	fn := p.NormalizeFunc
	p.mu.Unlock()
	if fn == nil {
		return stt.TurnEvent{}, stt.ErrIgnored
	}
	return fn(raw)
}

// ConnectCount returns the number of Connect calls. Thread-safe.
func (p *Provider) ConnectCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ConnectCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = nil
}

var _ stt.Provider = (*Provider)(nil)

// Stream is a mock stt.Stream. Raw messages pushed with Push appear on
// Messages; frames passed to Send are recorded in order.
type Stream struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
	err    error

	// SendErr, if non-nil, is returned by Send.
	SendErr error

	msgs      chan []byte
	closeOnce sync.Once
}

// NewStream returns a Stream with a buffered message channel.
func NewStream() *Stream {
	return &Stream{msgs: make(chan []byte, 64)}
}

// Send records a copy of frame.
func (s *Stream) Send(_ context.Context, frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return stt.ErrStreamClosed
	}
	if s.SendErr != nil {
		return s.SendErr
	}
	s.frames = append(s.frames, append([]byte(nil), frame...))
	return nil
}

// Messages returns the injected message channel.
func (s *Stream) Messages() <-chan []byte { return s.msgs }

// Err returns the error set by Fail.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close marks the stream closed and closes the message channel.
func (s *Stream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.msgs) })
	return nil
}

// Push injects a raw provider message.
func (s *Stream) Push(raw []byte) {
	s.msgs <- raw
}

// Fail simulates the remote end dropping the connection with err.
func (s *Stream) Fail(err error) {
	s.mu.Lock()
	s.err = err
	s.closed = true
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.msgs) })
}

// Frames returns a copy of the frames delivered so far, in order.
func (s *Stream) Frames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.frames))
	copy(out, s.frames)
	return out
}

// Closed reports whether Close was called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

var _ stt.Stream = (*Stream)(nil)
