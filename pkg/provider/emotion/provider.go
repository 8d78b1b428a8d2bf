// Package emotion defines the interface for streaming vocal emotion analysis.
//
// An emotion stream receives a sample of the user's microphone audio and
// reports the strongest detected emotions. Detection is advisory: failures
// never interrupt a conversation.
package emotion

import (
	"cmp"
	"context"
	"errors"
	"slices"
)

// ErrStreamClosed is returned by Send after the stream was closed or died.
var ErrStreamClosed = errors.New("emotion: stream closed")

// DefaultTop is the number of emotions reported per prediction.
const DefaultTop = 5

// Score is one emotion with its confidence.
type Score struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// Stream is a live emotion analysis connection.
type Stream interface {
	// Send submits one PCM16 mono chunk for analysis. It must not block on the
	// network; implementations may drop chunks under load.
	Send(ctx context.Context, pcm []byte) error

	// Results delivers the top emotions of each prediction, strongest first.
	// It is closed when the stream ends.
	Results() <-chan []Score

	// Close ends the stream. It is idempotent.
	Close() error
}

// Provider opens emotion streams.
type Provider interface {
	Connect(ctx context.Context, sampleRate int) (Stream, error)
}

// Top returns the n highest scores in descending order. The input is not
// modified.
func Top(scores []Score, n int) []Score {
	out := slices.Clone(scores)
	slices.SortStableFunc(out, func(a, b Score) int { return cmp.Compare(b.Score, a.Score) })
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Sampler passes every Nth chunk through. It is not safe for concurrent use.
type Sampler struct {
	every int
	n     int
}

// NewSampler returns a Sampler admitting one chunk in every. Values below 1
// admit every chunk.
func NewSampler(every int) *Sampler {
	if every < 1 {
		every = 1
	}
	return &Sampler{every: every}
}

// Admit reports whether the next chunk should be analysed. The first chunk is
// always admitted.
func (s *Sampler) Admit() bool {
	ok := s.n%s.every == 0
	s.n++
	return ok
}
