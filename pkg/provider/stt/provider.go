// Package stt defines the contracts for streaming speech-to-text backends that
// report turn boundaries.
//
// A provider is two things at once. As a [Transport] it opens a streaming
// connection that accepts PCM frames and yields raw provider messages. As a
// [Normalizer] it maps those raw messages onto the canonical [TurnEvent]
// vocabulary consumed by the turn state machine. Keeping the two apart lets
// the session log, count and drop malformed messages without the transport
// knowing anything about turn semantics.
//
// Implementations must be safe for concurrent use. A closed or broken stream is
// never reconnected by the stream itself; reconnecting is the caller's choice.
package stt

import (
	"context"
	"errors"
	"time"
)

// ErrStreamClosed is returned by [Stream.Send] after the stream has been
// closed, either locally or by the remote end.
var ErrStreamClosed = errors.New("stt: stream closed")

// StreamConfig describes the audio format and end-of-turn tuning for a new
// transcription stream.
type StreamConfig struct {
	// SampleRate is the linear16 mono sample rate in Hz (16000 by default).
	SampleRate int

	// Model is the provider model identifier (e.g. "flux-general-en"). Empty
	// selects the provider default.
	Model string

	// EOTThreshold is the end-of-turn confidence (0..1) at which the provider
	// reports a final turn. Zero selects the provider default.
	EOTThreshold float64

	// EagerEOTThreshold enables early-final hints when > 0. It must be lower
	// than EOTThreshold.
	EagerEOTThreshold float64

	// EOTTimeout forces a final turn after this much trailing silence. Zero
	// selects the provider default.
	EOTTimeout time.Duration

	// Keyterms are vocabulary hints that raise recognition probability for
	// uncommon words.
	Keyterms []string
}

// Stream is an open transcription connection.
//
// Frames passed to Send are delivered to the provider in call order. Messages
// yields raw provider payloads in the order the provider sent them and is
// closed when the stream ends; Err then reports why.
type Stream interface {
	// Send queues one PCM frame. It returns [ErrStreamClosed] once the stream
	// has ended.
	Send(ctx context.Context, frame []byte) error

	// Messages returns the channel of raw provider messages.
	Messages() <-chan []byte

	// Err returns the reason the stream ended, or nil if it ended through a
	// local Close or is still open.
	Err() error

	// Close flushes pending audio, tells the provider to finish and releases
	// the connection. It is safe to call more than once.
	Close() error
}

// Transport opens transcription streams.
type Transport interface {
	// Connect dials the provider with cfg. The caller owns the returned
	// Stream and must Close it.
	Connect(ctx context.Context, cfg StreamConfig) (Stream, error)
}

// Normalizer maps raw provider messages onto canonical turn events.
//
// Normalize must be a pure function of raw: calling it twice with the same
// bytes returns equal events and equal errors.
type Normalizer interface {
	// Normalize returns the canonical event for raw. Control messages with no
	// turn meaning yield [ErrIgnored]; anything unparseable or unknown yields
	// an error wrapping [ErrMalformedEvent].
	Normalize(raw []byte) (TurnEvent, error)
}

// Provider is a complete turn-aware STT backend.
type Provider interface {
	Transport
	Normalizer
}
