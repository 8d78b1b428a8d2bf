package main

import (
	"log/slog"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/novo-avatar/novo/internal/config"
	"github.com/novo-avatar/novo/internal/session"
	"github.com/novo-avatar/novo/pkg/provider/embeddings"
	oaembed "github.com/novo-avatar/novo/pkg/provider/embeddings/openai"
	"github.com/novo-avatar/novo/pkg/provider/emotion"
	"github.com/novo-avatar/novo/pkg/provider/emotion/hume"
	"github.com/novo-avatar/novo/pkg/provider/llm"
	"github.com/novo-avatar/novo/pkg/provider/llm/anyllm"
	oallm "github.com/novo-avatar/novo/pkg/provider/llm/openai"
	"github.com/novo-avatar/novo/pkg/provider/stt"
	"github.com/novo-avatar/novo/pkg/provider/stt/flux"
	"github.com/novo-avatar/novo/pkg/provider/tts"
	"github.com/novo-avatar/novo/pkg/provider/tts/deepgram"
	"github.com/novo-avatar/novo/pkg/provider/tts/elevenlabs"
	"github.com/novo-avatar/novo/pkg/provider/vision"
	oavision "github.com/novo-avatar/novo/pkg/provider/vision/openai"
)

// openAIBaseURL is used for the "openai" name; "openrouter" keeps the
// client default.
const openAIBaseURL = "https://api.openai.com/v1"

// registerBuiltinProviders wires all built-in provider factories into reg.
// Audio rates come from the conversation section so that every STT and TTS
// backend, fallbacks included, agrees with the session framing. TTS backends
// that cannot synthesize at the output rate are resampled to it.
func registerBuiltinProviders(reg *config.Registry, cfg *config.Config) {
	conv := cfg.Conversation
	outRate := conv.OutputSampleRate
	if outRate <= 0 {
		outRate = session.DefaultOutputSampleRate
	}

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("flux", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []flux.Option
		if entry.Model != "" {
			opts = append(opts, flux.WithModel(entry.Model))
		}
		if conv.SampleRate > 0 {
			opts = append(opts, flux.WithSampleRate(conv.SampleRate))
		}
		if entry.BaseURL != "" {
			opts = append(opts, flux.WithEndpoint(entry.BaseURL))
		}
		return flux.New(entry.APIKey, opts...)
	})

	// ── LLM ───────────────────────────────────────────────────────────────────
	// openai and openrouter speak the same chat completions API; the rest go
	// through any-llm-go.

	for _, name := range []string{"openai", "openrouter"} {
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			opts := openAIOptions(name, entry)
			return oallm.New(entry.APIKey, entry.Model, opts...)
		})
	}

	for _, backend := range anyllm.Backends {
		if backend == "openai" {
			continue
		}
		reg.RegisterLLM(backend, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(backend, entry.Model, opts...)
		})
	}

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("deepgram", func(entry config.ProviderEntry) (tts.Provider, error) {
		rate := tts.NativeRate(outRate, deepgram.SampleRates)
		opts := []deepgram.Option{deepgram.WithSampleRate(rate)}
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		p, err := deepgram.New(entry.APIKey, opts...)
		if err != nil {
			return nil, err
		}
		return tts.Resampled(p, rate, outRate), nil
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		rate := tts.NativeRate(outRate, elevenlabs.SampleRates)
		opts := []elevenlabs.Option{elevenlabs.WithSampleRate(rate)}
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		// Both settings must be given together; otherwise the defaults stay.
		stability, okS := optFloat(entry.Options, "stability")
		similarity, okB := optFloat(entry.Options, "similarity_boost")
		if okS && okB {
			opts = append(opts, elevenlabs.WithVoiceSettings(stability, similarity))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithEndpoint(entry.BaseURL))
		}
		p, err := elevenlabs.New(entry.APIKey, opts...)
		if err != nil {
			return nil, err
		}
		return tts.Resampled(p, rate, outRate), nil
	})

	// ── Vision ────────────────────────────────────────────────────────────────

	for _, name := range []string{"openai", "openrouter"} {
		reg.RegisterVision(name, func(entry config.ProviderEntry) (vision.Provider, error) {
			var opts []oavision.Option
			switch {
			case entry.BaseURL != "":
				opts = append(opts, oavision.WithBaseURL(entry.BaseURL))
			case name == "openai":
				opts = append(opts, oavision.WithBaseURL(openAIBaseURL))
			}
			if entry.Model != "" {
				opts = append(opts, oavision.WithModel(entry.Model))
			}
			if n, ok := optInt(entry.Options, "max_tokens"); ok {
				opts = append(opts, oavision.WithMaxTokens(n))
			}
			if d, ok := optDuration(entry.Options, "timeout"); ok {
				opts = append(opts, oavision.WithTimeout(d))
			}
			for k, v := range optHeaders(entry.Options) {
				opts = append(opts, oavision.WithHeader(k, v))
			}
			return oavision.New(entry.APIKey, opts...)
		})
	}

	// ── Emotion ───────────────────────────────────────────────────────────────

	reg.RegisterEmotion("hume", func(entry config.ProviderEntry) (emotion.Provider, error) {
		var opts []hume.Option
		if entry.BaseURL != "" {
			opts = append(opts, hume.WithEndpoint(entry.BaseURL))
		}
		if ms, ok := optInt(entry.Options, "stream_window_ms"); ok {
			opts = append(opts, hume.WithStreamWindow(ms))
		}
		if n, ok := optInt(entry.Options, "top"); ok {
			opts = append(opts, hume.WithTop(n))
		}
		return hume.New(entry.APIKey, opts...)
	})

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		if dims := cfg.Memory.EmbeddingDimensions; dims > 0 {
			opts = append(opts, oaembed.WithDimensions(dims))
		}
		if d, ok := optDuration(entry.Options, "timeout"); ok {
			opts = append(opts, oaembed.WithTimeout(d))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

func openAIOptions(name string, entry config.ProviderEntry) []oallm.Option {
	var opts []oallm.Option
	switch {
	case entry.BaseURL != "":
		opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
	case name == "openai":
		opts = append(opts, oallm.WithBaseURL(openAIBaseURL))
	}
	if org := optString(entry.Options, "organization"); org != "" {
		opts = append(opts, oallm.WithOrganization(org))
	}
	if d, ok := optDuration(entry.Options, "timeout"); ok {
		opts = append(opts, oallm.WithTimeout(d))
	}
	for k, v := range optHeaders(entry.Options) {
		opts = append(opts, oallm.WithHeader(k, v))
	}
	return opts
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optFloat accepts both YAML integers and floats.
func optFloat(opts map[string]any, key string) (float64, bool) {
	switch v := opts[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

func optInt(opts map[string]any, key string) (int, bool) {
	switch v := opts[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}

// optDuration parses a Go duration string such as "20s".
func optDuration(opts map[string]any, key string) (time.Duration, bool) {
	s := optString(opts, key)
	if s == "" {
		return 0, false
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		slog.Warn("ignoring invalid provider option", "key", key, "value", s, "err", err)
		return 0, false
	}
	return d, true
}

// optHeaders reads the "headers" option, e.g. OpenRouter's HTTP-Referer and
// X-Title. Non-string values are skipped.
func optHeaders(opts map[string]any) map[string]string {
	raw, ok := opts["headers"].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
