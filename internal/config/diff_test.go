package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/novo-avatar/novo/internal/config"
)

func baseConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{ListenAddr: ":8080", LogLevel: config.LogInfo},
		Providers: config.ProvidersConfig{
			STT: config.ProviderEntry{Name: "flux"},
			LLM: config.ProviderEntry{Name: "openai"},
			TTS: config.ProviderEntry{Name: "deepgram"},
		},
		Conversation: config.ConversationConfig{
			IdleTimeout:    20 * time.Second,
			SystemPrompt:   "You are Novo.",
			TriggerPhrases: []config.TriggerPhrase{{Phrase: "shoot", Action: "take_photo"}},
		},
	}
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	d := config.Diff(baseConfig(), baseConfig())
	if d.LogLevelChanged || d.ConversationChanged || d.PersonaChanged || d.TriggersChanged {
		t.Errorf("expected no changes, got %+v", d)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("RestartRequired: got %v", d.RestartRequired)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("log level is hot-reloadable, got RestartRequired=%v", d.RestartRequired)
	}
}

func TestDiff_ConversationTuning(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Conversation.IdleTimeout = 30 * time.Second

	d := config.Diff(old, new)
	if !d.ConversationChanged {
		t.Error("expected ConversationChanged=true")
	}
	if d.PersonaChanged || d.TriggersChanged {
		t.Errorf("only tuning changed, got %+v", d)
	}
}

func TestDiff_PersonaChanged(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Conversation.Voice.VoiceID = "aura-2-orion-en"

	d := config.Diff(old, new)
	if !d.PersonaChanged || !d.ConversationChanged {
		t.Errorf("voice change: got %+v", d)
	}
}

func TestDiff_TriggersChanged(t *testing.T) {
	t.Parallel()

	t.Run("phrases", func(t *testing.T) {
		t.Parallel()
		old, new := baseConfig(), baseConfig()
		new.Conversation.TriggerPhrases = append(new.Conversation.TriggerPhrases, config.TriggerPhrase{Phrase: "snap", Action: "take_photo"})
		if d := config.Diff(old, new); !d.TriggersChanged {
			t.Error("expected TriggersChanged=true")
		}
	})

	t.Run("intent disabled", func(t *testing.T) {
		t.Parallel()
		old, new := baseConfig(), baseConfig()
		new.Conversation.VisionPhrases = []string{}
		if d := config.Diff(old, new); !d.TriggersChanged {
			t.Error("nil to empty vision phrases should count as a change")
		}
	})
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Providers.LLM.Model = "gpt-4o"
	new.Presence.RedisAddr = "redis:6379"
	new.Server.ListenAddr = ":9090"

	d := config.Diff(old, new)
	for _, section := range []string{"server", "providers", "presence"} {
		if !slices.Contains(d.RestartRequired, section) {
			t.Errorf("RestartRequired %v is missing %q", d.RestartRequired, section)
		}
	}
	if slices.Contains(d.RestartRequired, "memory") {
		t.Errorf("memory did not change, got %v", d.RestartRequired)
	}
}

func TestDiff_WebSocketLimitsNeedRestart(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Server.WriteTimeout = 30 * time.Second

	if d := config.Diff(old, new); !slices.Equal(d.RestartRequired, []string{"server"}) {
		t.Errorf("RestartRequired = %v, want [server]", d.RestartRequired)
	}
}
