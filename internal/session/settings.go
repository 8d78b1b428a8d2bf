package session

import (
	"time"

	"github.com/novo-avatar/novo/internal/generation"
	"github.com/novo-avatar/novo/internal/playback"
	"github.com/novo-avatar/novo/internal/turn"
	"github.com/novo-avatar/novo/pkg/types"
)

// Defaults for [Settings].
const (
	DefaultSampleRate       = 16000
	DefaultOutputSampleRate = 16000
	DefaultFrameDuration    = 80 * time.Millisecond
	DefaultIngestQueue      = 32
	DefaultDrainInterval    = 50 * time.Millisecond
	DefaultEOTThreshold     = 0.8
	DefaultEOTTimeout       = 3 * time.Second
	DefaultEmotionEvery     = 10
)

// Settings is the per-session conversation configuration. The registry
// hands every new session a copy of its defaults; StartConversation and
// UpdateConfig patch it.
type Settings struct {
	UserID string

	// SampleRate is the rate of inbound microphone audio.
	SampleRate int

	// OutputSampleRate is the rate of synthesized reply audio.
	OutputSampleRate int

	// FrameDuration is the length of the frames forwarded to transcription.
	FrameDuration time.Duration

	IngestQueue   int
	DrainInterval time.Duration

	// Transcription tuning. Changes take effect at the next
	// StartConversation.
	Model             string
	EOTThreshold      float64
	EagerEOTThreshold float64
	EOTTimeout        time.Duration
	Keyterms          []string

	DebounceWindow time.Duration
	IdleTimeout    time.Duration
	PlaybackGrace  time.Duration

	Persona     string
	Temperature float64
	MaxTokens   int
	Voice       types.VoiceProfile
	VisionWait  time.Duration

	// HistoryMaxMessages caps the conversation history. Zero selects
	// [generation.DefaultMaxMessages].
	HistoryMaxMessages int

	// Emotion enables prosody analysis of every EmotionEvery-th frame.
	Emotion      bool
	EmotionEvery int
}

// DefaultSettings returns the built-in defaults.
func DefaultSettings() Settings {
	return Settings{}.withDefaults()
}

func (s Settings) withDefaults() Settings {
	if s.SampleRate <= 0 {
		s.SampleRate = DefaultSampleRate
	}
	if s.OutputSampleRate <= 0 {
		s.OutputSampleRate = DefaultOutputSampleRate
	}
	if s.FrameDuration <= 0 {
		s.FrameDuration = DefaultFrameDuration
	}
	if s.IngestQueue <= 0 {
		s.IngestQueue = DefaultIngestQueue
	}
	if s.DrainInterval <= 0 {
		s.DrainInterval = DefaultDrainInterval
	}
	if s.EOTThreshold == 0 {
		s.EOTThreshold = DefaultEOTThreshold
	}
	if s.EOTTimeout == 0 {
		s.EOTTimeout = DefaultEOTTimeout
	}
	if s.DebounceWindow <= 0 {
		s.DebounceWindow = turn.DefaultDebounceWindow
	}
	if s.IdleTimeout == 0 {
		s.IdleTimeout = playback.DefaultIdleTimeout
	}
	if s.PlaybackGrace <= 0 {
		s.PlaybackGrace = playback.DefaultGrace
	}
	if s.Temperature == 0 {
		s.Temperature = generation.DefaultTemperature
	}
	if s.MaxTokens <= 0 {
		s.MaxTokens = generation.DefaultMaxTokens
	}
	if s.VisionWait <= 0 {
		s.VisionWait = generation.DefaultVisionWait
	}
	if s.EmotionEvery <= 0 {
		s.EmotionEvery = DefaultEmotionEvery
	}
	return s
}

// ConfigPatch carries the fields a client may change. Nil fields are left
// unchanged.
type ConfigPatch struct {
	UserID            *string
	EOTThreshold      *float64
	EagerEOTThreshold *float64
	EOTTimeout        *time.Duration
	Keyterms          []string
	DebounceWindow    *time.Duration
	IdleTimeout       *time.Duration
	Persona           *string
	Temperature       *float64
	MaxTokens         *int
	Voice             *types.VoiceProfile
	Emotion           *bool
}

// Apply returns s with the patch applied.
func (p ConfigPatch) Apply(s Settings) Settings {
	set(&s.UserID, p.UserID)
	set(&s.EOTThreshold, p.EOTThreshold)
	set(&s.EagerEOTThreshold, p.EagerEOTThreshold)
	set(&s.EOTTimeout, p.EOTTimeout)
	set(&s.DebounceWindow, p.DebounceWindow)
	set(&s.IdleTimeout, p.IdleTimeout)
	set(&s.Persona, p.Persona)
	set(&s.Temperature, p.Temperature)
	set(&s.MaxTokens, p.MaxTokens)
	set(&s.Voice, p.Voice)
	set(&s.Emotion, p.Emotion)
	if p.Keyterms != nil {
		s.Keyterms = append([]string(nil), p.Keyterms...)
	}
	return s.withDefaults()
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
