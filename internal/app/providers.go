package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/novo-avatar/novo/internal/config"
	"github.com/novo-avatar/novo/internal/observe"
	"github.com/novo-avatar/novo/internal/resilience"
	"github.com/novo-avatar/novo/pkg/provider/embeddings"
	"github.com/novo-avatar/novo/pkg/provider/emotion"
	"github.com/novo-avatar/novo/pkg/provider/llm"
	"github.com/novo-avatar/novo/pkg/provider/stt"
	"github.com/novo-avatar/novo/pkg/provider/tts"
	"github.com/novo-avatar/novo/pkg/provider/vision"
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. STT, LLM and TTS are required by [New].
type Providers struct {
	STT        stt.Provider
	LLM        llm.Provider
	TTS        tts.Provider
	Vision     vision.Provider
	Emotion    emotion.Provider
	Embeddings embeddings.Provider
}

// BuildProviders instantiates every configured provider through reg. When a
// slot lists fallbacks, the primary and its fallbacks are wrapped in a
// circuit-breaking failover group whose failovers are counted on m.
func BuildProviders(cfg *config.Config, reg *config.Registry, m *observe.Metrics, log *slog.Logger) (*Providers, error) {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	if log == nil {
		log = slog.Default()
	}
	pc := cfg.Providers
	p := &Providers{}

	var err error
	if p.STT, err = buildSTT(pc, reg, m, log); err != nil {
		return nil, err
	}
	if p.LLM, err = buildLLM(pc, reg, m, log); err != nil {
		return nil, err
	}
	if p.TTS, err = buildTTS(pc, reg, m, log); err != nil {
		return nil, err
	}

	if pc.Vision.Name != "" {
		if p.Vision, err = reg.CreateVision(pc.Vision); err != nil {
			return nil, fmt.Errorf("app: create vision provider: %w", err)
		}
	}
	if pc.Emotion.Name != "" {
		if p.Emotion, err = reg.CreateEmotion(pc.Emotion); err != nil {
			return nil, fmt.Errorf("app: create emotion provider: %w", err)
		}
	}
	if pc.Embeddings.Name != "" {
		if p.Embeddings, err = reg.CreateEmbeddings(pc.Embeddings); err != nil {
			return nil, fmt.Errorf("app: create embeddings provider: %w", err)
		}
	}
	return p, nil
}

func fallbackConfig(kind string, m *observe.Metrics, log *slog.Logger) resilience.FallbackConfig {
	return resilience.FallbackConfig{
		Logger: log.With("kind", kind),
		CircuitBreaker: resilience.CircuitBreakerConfig{
			OnStateChange: func(name string, _, to resilience.State) {
				m.RecordCircuitTransition(context.Background(), name, kind, to.String())
			},
		},
		OnFailover: func(failed string, _ error) {
			m.RecordProviderError(context.Background(), failed, kind)
		},
	}
}

func buildSTT(pc config.ProvidersConfig, reg *config.Registry, m *observe.Metrics, log *slog.Logger) (stt.Provider, error) {
	primary, err := reg.CreateSTT(pc.STT)
	if err != nil {
		return nil, fmt.Errorf("app: create stt provider: %w", err)
	}
	if len(pc.STTFallbacks) == 0 {
		return primary, nil
	}
	fb := resilience.NewSTTFallback(primary, pc.STT.Name, fallbackConfig("stt", m, log))
	for i, e := range pc.STTFallbacks {
		p, err := reg.CreateSTT(e)
		if err != nil {
			return nil, fmt.Errorf("app: create stt fallback %d: %w", i, err)
		}
		fb.AddFallback(e.Name, p)
	}
	return fb, nil
}

func buildLLM(pc config.ProvidersConfig, reg *config.Registry, m *observe.Metrics, log *slog.Logger) (llm.Provider, error) {
	primary, err := reg.CreateLLM(pc.LLM)
	if err != nil {
		return nil, fmt.Errorf("app: create llm provider: %w", err)
	}
	if len(pc.LLMFallbacks) == 0 {
		return primary, nil
	}
	fb := resilience.NewLLMFallback(primary, pc.LLM.Name, fallbackConfig("llm", m, log))
	for i, e := range pc.LLMFallbacks {
		p, err := reg.CreateLLM(e)
		if err != nil {
			return nil, fmt.Errorf("app: create llm fallback %d: %w", i, err)
		}
		fb.AddFallback(e.Name, p)
	}
	return fb, nil
}

func buildTTS(pc config.ProvidersConfig, reg *config.Registry, m *observe.Metrics, log *slog.Logger) (tts.Provider, error) {
	primary, err := reg.CreateTTS(pc.TTS)
	if err != nil {
		return nil, fmt.Errorf("app: create tts provider: %w", err)
	}
	if len(pc.TTSFallbacks) == 0 {
		return primary, nil
	}
	fb := resilience.NewTTSFallback(primary, pc.TTS.Name, fallbackConfig("tts", m, log))
	for i, e := range pc.TTSFallbacks {
		p, err := reg.CreateTTS(e)
		if err != nil {
			return nil, fmt.Errorf("app: create tts fallback %d: %w", i, err)
		}
		fb.AddFallback(e.Name, p)
	}
	return fb, nil
}
