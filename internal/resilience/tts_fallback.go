package resilience

import (
	"context"

	"github.com/novo-avatar/novo/pkg/provider/tts"
	"github.com/novo-avatar/novo/pkg/types"
)

// TTSFallback implements [tts.Provider] with automatic failover across multiple
// TTS backends. Each backend has its own circuit breaker.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional TTS provider as a fallback.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Healthy reports whether any backend's circuit breaker is still closed or
// probing.
func (f *TTSFallback) Healthy() bool { return f.group.Healthy() }

// States returns the breaker state of every backend keyed by name.
func (f *TTSFallback) States() map[string]State { return f.group.States() }

// Synthesize renders text with the first healthy provider. Fallback voices
// receive the same profile; providers ignore IDs they do not recognise and use
// their default voice.
func (f *TTSFallback) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) ([]byte, error) {
	return ExecuteWithResult(ctx, f.group, func(p tts.Provider) ([]byte, error) {
		return p.Synthesize(ctx, text, voice)
	})
}
