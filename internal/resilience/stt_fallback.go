package resilience

import (
	"context"
	"errors"

	"github.com/novo-avatar/novo/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] with failover at connect time. Once a
// stream is open it is used until it ends; a broken stream is reported to the
// session like any other.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional STT provider as a fallback.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Healthy reports whether any backend's circuit breaker is still closed or
// probing.
func (f *STTFallback) Healthy() bool { return f.group.Healthy() }

// States returns the breaker state of every backend keyed by name.
func (f *STTFallback) States() map[string]State { return f.group.States() }

// Connect opens a stream on the first healthy provider.
func (f *STTFallback) Connect(ctx context.Context, cfg stt.StreamConfig) (stt.Stream, error) {
	return ExecuteWithResult(ctx, f.group, func(p stt.Provider) (stt.Stream, error) {
		return p.Connect(ctx, cfg)
	})
}

// Normalize asks each provider in order and returns the first answer that is
// not malformed, since a raw message does not say which backend produced it.
func (f *STTFallback) Normalize(raw []byte) (stt.TurnEvent, error) {
	var firstErr error
	for i := range f.group.entries {
		ev, err := f.group.entries[i].value.Normalize(raw)
		if err == nil || !errors.Is(err, stt.ErrMalformedEvent) {
			return ev, err
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return stt.TurnEvent{}, firstErr
}
