package main

import (
	"testing"
	"time"

	"github.com/novo-avatar/novo/internal/config"
)

func TestRegisterBuiltinProviders(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Conversation: config.ConversationConfig{SampleRate: 16000, OutputSampleRate: 24000}}
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg)

	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "flux", APIKey: "key"}); err != nil {
		t.Errorf("CreateSTT(flux) = %v", err)
	}
	if _, err := reg.CreateTTS(config.ProviderEntry{Name: "deepgram", APIKey: "key"}); err != nil {
		t.Errorf("CreateTTS(deepgram) = %v", err)
	}
	if _, err := reg.CreateTTS(config.ProviderEntry{Name: "elevenlabs"}); err == nil {
		t.Error("CreateTTS(elevenlabs) without an API key should fail")
	}
	if _, err := reg.CreateEmotion(config.ProviderEntry{Name: "hume", APIKey: "key"}); err != nil {
		t.Errorf("CreateEmotion(hume) = %v", err)
	}
	if _, err := reg.CreateLLM(config.ProviderEntry{Name: "llamafile"}); err == nil {
		t.Error("CreateLLM without a model should fail")
	}
}

func TestOptionHelpers(t *testing.T) {
	t.Parallel()

	opts := map[string]any{
		"language":  "en",
		"top":       3,
		"stability": 0.5,
		"whole":     1,
		"timeout":   "20s",
		"bad":       "soon",
		"headers":   map[string]any{"X-Title": "novo", "X-Count": 2},
	}

	if got := optString(opts, "language"); got != "en" {
		t.Errorf("optString = %q", got)
	}
	if got := optString(nil, "language"); got != "" {
		t.Errorf("optString(nil) = %q", got)
	}
	if n, ok := optInt(opts, "top"); !ok || n != 3 {
		t.Errorf("optInt = %d, %v", n, ok)
	}
	if f, ok := optFloat(opts, "whole"); !ok || f != 1 {
		t.Errorf("optFloat(int) = %v, %v", f, ok)
	}
	if f, ok := optFloat(opts, "stability"); !ok || f != 0.5 {
		t.Errorf("optFloat = %v, %v", f, ok)
	}
	if d, ok := optDuration(opts, "timeout"); !ok || d != 20*time.Second {
		t.Errorf("optDuration = %v, %v", d, ok)
	}
	if _, ok := optDuration(opts, "bad"); ok {
		t.Error("optDuration should reject an invalid duration")
	}
	h := optHeaders(opts)
	if len(h) != 1 || h["X-Title"] != "novo" {
		t.Errorf("optHeaders = %v", h)
	}
}
