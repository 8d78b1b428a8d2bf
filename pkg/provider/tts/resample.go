package tts

import (
	"context"
	"slices"

	"github.com/novo-avatar/novo/pkg/audio"
	"github.com/novo-avatar/novo/pkg/types"
)

// Resampled wraps p, whose clips come out at srcRate, so that Synthesize
// returns audio at dstRate. It returns p unchanged when the rates match.
func Resampled(p Provider, srcRate, dstRate int) Provider {
	if srcRate == dstRate {
		return p
	}
	return &resampled{Provider: p, src: srcRate, dst: dstRate}
}

type resampled struct {
	Provider
	src, dst int
}

func (r *resampled) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) ([]byte, error) {
	pcm, err := r.Provider.Synthesize(ctx, text, voice)
	if err != nil {
		return nil, err
	}
	return audio.ResampleMono16(pcm, r.src, r.dst), nil
}

// NativeRate picks the rate a backend supporting only the given rates should
// synthesize at for a conversation running at want: want itself when
// supported, otherwise the lowest supported rate above it, otherwise the
// highest supported rate.
func NativeRate(want int, supported []int) int {
	if len(supported) == 0 || slices.Contains(supported, want) {
		return want
	}
	s := slices.Sorted(slices.Values(supported))
	for _, r := range s {
		if r > want {
			return r
		}
	}
	return s[len(s)-1]
}
