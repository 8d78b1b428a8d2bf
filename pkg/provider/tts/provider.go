// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (Deepgram Aura, ElevenLabs)
// and turns one complete reply into one playable clip. Replies are short
// spoken sentences, so the whole clip is returned at once; the playback
// controller needs the full clip to know its duration before it starts.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"

	"github.com/novo-avatar/novo/pkg/types"
)

// ErrEmptyText is returned when Synthesize is called with blank text.
var ErrEmptyText = errors.New("tts: text must not be empty")

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text with voice and returns mono 16-bit little-endian
	// PCM at the provider's configured output sample rate.
	//
	// A zero-value voice selects the provider default. Synthesize must return
	// promptly with ctx.Err() when ctx is cancelled; partial audio is
	// discarded.
	Synthesize(ctx context.Context, text string, voice types.VoiceProfile) ([]byte, error)
}
