package app

import (
	"slices"
	"time"

	"github.com/novo-avatar/novo/internal/config"
	"github.com/novo-avatar/novo/internal/session"
	"github.com/novo-avatar/novo/internal/turn"
	"github.com/novo-avatar/novo/pkg/types"
)

// SessionSettings converts the conversation section of cfg into the defaults
// new sessions start from. Zero values select the session package defaults.
func SessionSettings(cfg *config.Config) session.Settings {
	c := cfg.Conversation
	return session.Settings{
		SampleRate:         c.SampleRate,
		OutputSampleRate:   c.OutputSampleRate,
		FrameDuration:      time.Duration(c.FrameMS) * time.Millisecond,
		IngestQueue:        c.IngestQueue,
		DrainInterval:      c.DrainInterval,
		Model:              cfg.Providers.STT.Model,
		EOTThreshold:       c.EOTThreshold,
		EagerEOTThreshold:  c.EagerEOTThreshold,
		EOTTimeout:         c.EOTTimeout,
		Keyterms:           slices.Clone(c.Keyterms),
		DebounceWindow:     c.DebounceWindow,
		IdleTimeout:        c.IdleTimeout,
		PlaybackGrace:      c.PlaybackGrace,
		Persona:            c.SystemPrompt,
		Temperature:        c.Temperature,
		MaxTokens:          c.MaxTokens,
		VisionWait:         c.VisionWait,
		HistoryMaxMessages: c.HistoryMaxMessages,
		Emotion:            c.Emotion,
		EmotionEvery:       c.EmotionEvery,
		Voice: types.VoiceProfile{
			ID:          c.Voice.VoiceID,
			Provider:    c.Voice.Provider,
			SpeedFactor: c.Voice.SpeedFactor,
		},
	}
}

// TriggerMatcher builds the command phrase matcher. It returns nil when no
// trigger phrases are configured.
func TriggerMatcher(c config.ConversationConfig) *turn.TriggerMatcher {
	if len(c.TriggerPhrases) == 0 {
		return nil
	}
	triggers := make([]turn.Trigger, len(c.TriggerPhrases))
	for i, tp := range c.TriggerPhrases {
		triggers[i] = turn.Trigger{Phrase: tp.Phrase, Action: tp.Action}
	}
	return turn.NewTriggerMatcher(triggers)
}
