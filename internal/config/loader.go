package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":        {"flux"},
	"llm":        {"openai", "openrouter", "anthropic", "gemini", "ollama", "groq", "mistral", "deepseek"},
	"tts":        {"deepgram", "elevenlabs"},
	"vision":     {"openai", "openrouter"},
	"emotion":    {"hume"},
	"embeddings": {"openai"},
}

// Defaults applied by [ApplyDefaults] to fields left at their zero value.
const (
	DefaultListenAddr          = ":8080"
	DefaultShutdownTimeout     = 10 * time.Second
	DefaultEmbeddingDimensions = 1536
	DefaultRecallLimit         = 5
	DefaultPresenceTTL         = 24 * time.Hour
	DefaultPresencePrefix      = "novo"
)

// DefaultTriggerPhrases are used when conversation.trigger_phrases is omitted.
var DefaultTriggerPhrases = []TriggerPhrase{{Phrase: "shoot", Action: "take_photo"}}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, expands environment references,
// applies defaults and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ExpandEnv(cfg)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ExpandEnv replaces "${VAR}" references in secrets and connection strings
// with the value of the named environment variable. Unset variables expand to
// the empty string. Bare "$" characters are left alone so passwords may
// contain them.
func ExpandEnv(cfg *Config) {
	for _, e := range cfg.Providers.entries() {
		e.APIKey = expand(e.APIKey)
		e.BaseURL = expand(e.BaseURL)
	}
	cfg.Memory.PostgresDSN = expand(cfg.Memory.PostgresDSN)
	cfg.Presence.RedisAddr = expand(cfg.Presence.RedisAddr)
	cfg.Presence.RedisPassword = expand(cfg.Presence.RedisPassword)
}

func expand(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(ref string) string {
		return os.Getenv(envRef.FindStringSubmatch(ref)[1])
	})
}

// entries returns pointers to every provider entry, primaries first.
func (p *ProvidersConfig) entries() []*ProviderEntry {
	out := []*ProviderEntry{&p.STT, &p.LLM, &p.TTS, &p.Vision, &p.Emotion, &p.Embeddings}
	for i := range p.STTFallbacks {
		out = append(out, &p.STTFallbacks[i])
	}
	for i := range p.LLMFallbacks {
		out = append(out, &p.LLMFallbacks[i])
	}
	for i := range p.TTSFallbacks {
		out = append(out, &p.TTSFallbacks[i])
	}
	return out
}

// ApplyDefaults fills server, memory and presence fields left at their zero
// value. Conversation tuning is defaulted by the session package itself so
// that a zero value there always means "use the built-in default".
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Memory.EmbeddingDimensions == 0 {
		cfg.Memory.EmbeddingDimensions = DefaultEmbeddingDimensions
	}
	if cfg.Memory.RecallLimit == 0 {
		cfg.Memory.RecallLimit = DefaultRecallLimit
	}
	if cfg.Presence.TTL == 0 {
		cfg.Presence.TTL = DefaultPresenceTTL
	}
	if cfg.Presence.Prefix == "" {
		cfg.Presence.Prefix = DefaultPresencePrefix
	}
	if cfg.Conversation.TriggerPhrases == nil {
		cfg.Conversation.TriggerPhrases = slices.Clone(DefaultTriggerPhrases)
	}
	if cfg.Telemetry.TraceSampleRatio == 0 {
		cfg.Telemetry.TraceSampleRatio = 1
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout must not be negative"))
	}
	if cfg.Server.MaxMessageBytes < 0 || cfg.Server.WriteTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.max_message_bytes and server.write_timeout must not be negative"))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, fmt.Errorf("server.tls requires both cert_file and key_file"))
	}
	if r := cfg.Telemetry.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry.trace_sample_ratio %v must be within [0, 1]", r))
	}

	// The three pipeline stages are mandatory.
	for _, req := range []struct {
		kind string
		name string
	}{
		{"stt", cfg.Providers.STT.Name},
		{"llm", cfg.Providers.LLM.Name},
		{"tts", cfg.Providers.TTS.Name},
	} {
		if req.name == "" {
			errs = append(errs, fmt.Errorf("providers.%s.name is required", req.kind))
		}
	}

	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("vision", cfg.Providers.Vision.Name)
	validateProviderName("emotion", cfg.Providers.Emotion.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)
	for kind, fallbacks := range map[string][]ProviderEntry{
		"stt": cfg.Providers.STTFallbacks,
		"llm": cfg.Providers.LLMFallbacks,
		"tts": cfg.Providers.TTSFallbacks,
	} {
		for i, fb := range fallbacks {
			if fb.Name == "" {
				errs = append(errs, fmt.Errorf("providers.%s_fallbacks[%d].name is required", kind, i))
				continue
			}
			validateProviderName(kind, fb.Name)
		}
	}

	errs = append(errs, validateConversation(&cfg.Conversation, cfg.Providers)...)

	// Memory needs an embedder, the reverse only wastes a provider.
	if cfg.Memory.PostgresDSN != "" && cfg.Providers.Embeddings.Name == "" {
		errs = append(errs, fmt.Errorf("memory.postgres_dsn requires providers.embeddings to be configured"))
	}
	if cfg.Memory.PostgresDSN == "" && cfg.Providers.Embeddings.Name != "" {
		slog.Warn("providers.embeddings is configured but memory.postgres_dsn is empty; conversation memory is disabled")
	}
	if cfg.Memory.EmbeddingDimensions < 0 {
		errs = append(errs, fmt.Errorf("memory.embedding_dimensions must not be negative"))
	}
	if cfg.Memory.RecallLimit < 0 {
		errs = append(errs, fmt.Errorf("memory.recall_limit must not be negative"))
	}
	if cfg.Memory.MaxDistance < 0 || cfg.Memory.MaxDistance > 2 {
		errs = append(errs, fmt.Errorf("memory.max_distance %.2f is out of range [0, 2]", cfg.Memory.MaxDistance))
	}

	// Presence
	if cfg.Presence.RedisDB < 0 {
		errs = append(errs, fmt.Errorf("presence.redis_db must not be negative"))
	}
	if cfg.Presence.TTL < 0 {
		errs = append(errs, fmt.Errorf("presence.ttl must not be negative"))
	}

	return errors.Join(errs...)
}

func validateConversation(c *ConversationConfig, providers ProvidersConfig) []error {
	var errs []error
	const prefix = "conversation"

	for _, f := range []struct {
		name  string
		value int
	}{
		{"sample_rate", c.SampleRate},
		{"output_sample_rate", c.OutputSampleRate},
		{"frame_ms", c.FrameMS},
		{"ingest_queue", c.IngestQueue},
		{"max_tokens", c.MaxTokens},
		{"history_max_messages", c.HistoryMaxMessages},
		{"emotion_every", c.EmotionEvery},
	} {
		if f.value < 0 {
			errs = append(errs, fmt.Errorf("%s.%s must not be negative", prefix, f.name))
		}
	}
	for _, f := range []struct {
		name  string
		value time.Duration
	}{
		{"drain_interval", c.DrainInterval},
		{"debounce_window", c.DebounceWindow},
		{"playback_grace", c.PlaybackGrace},
		{"eot_timeout", c.EOTTimeout},
		{"vision_wait", c.VisionWait},
	} {
		if f.value < 0 {
			errs = append(errs, fmt.Errorf("%s.%s must not be negative", prefix, f.name))
		}
	}

	if c.EOTThreshold != 0 && (c.EOTThreshold < 0.5 || c.EOTThreshold > 0.9) {
		errs = append(errs, fmt.Errorf("%s.eot_threshold %.2f is out of range [0.5, 0.9]", prefix, c.EOTThreshold))
	}
	if c.EagerEOTThreshold != 0 {
		if c.EagerEOTThreshold < 0.3 || c.EagerEOTThreshold > 0.9 {
			errs = append(errs, fmt.Errorf("%s.eager_eot_threshold %.2f is out of range [0.3, 0.9]", prefix, c.EagerEOTThreshold))
		} else if c.EOTThreshold != 0 && c.EagerEOTThreshold > c.EOTThreshold {
			errs = append(errs, fmt.Errorf("%s.eager_eot_threshold %.2f must not exceed eot_threshold %.2f", prefix, c.EagerEOTThreshold, c.EOTThreshold))
		}
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		errs = append(errs, fmt.Errorf("%s.temperature %.2f is out of range [0, 2]", prefix, c.Temperature))
	}
	if c.Voice.SpeedFactor != 0 && (c.Voice.SpeedFactor < 0.5 || c.Voice.SpeedFactor > 2.0) {
		errs = append(errs, fmt.Errorf("%s.voice.speed_factor %.2f is out of range [0.5, 2.0]", prefix, c.Voice.SpeedFactor))
	}
	if c.Voice.Provider != "" && providers.TTS.Name != "" && c.Voice.Provider != providers.TTS.Name {
		slog.Warn("voice provider does not match configured TTS provider",
			"voice_provider", c.Voice.Provider,
			"tts_provider", providers.TTS.Name,
		)
	}

	seen := make(map[string]int, len(c.TriggerPhrases))
	for i, tp := range c.TriggerPhrases {
		p := fmt.Sprintf("%s.trigger_phrases[%d]", prefix, i)
		if tp.Phrase == "" {
			errs = append(errs, fmt.Errorf("%s.phrase is required", p))
		} else if prev, ok := seen[tp.Phrase]; ok {
			errs = append(errs, fmt.Errorf("%s.phrase %q is a duplicate of trigger_phrases[%d]", p, tp.Phrase, prev))
		} else {
			seen[tp.Phrase] = i
		}
		if tp.Action == "" {
			errs = append(errs, fmt.Errorf("%s.action is required", p))
		}
	}

	if c.Emotion && providers.Emotion.Name == "" {
		slog.Warn("conversation.emotion is enabled but providers.emotion is not configured; emotion analysis is disabled")
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
