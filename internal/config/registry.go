package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/novo-avatar/novo/pkg/provider/embeddings"
	"github.com/novo-avatar/novo/pkg/provider/emotion"
	"github.com/novo-avatar/novo/pkg/provider/llm"
	"github.com/novo-avatar/novo/pkg/provider/stt"
	"github.com/novo-avatar/novo/pkg/provider/tts"
	"github.com/novo-avatar/novo/pkg/provider/vision"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory constructs a provider of type T from its config entry.
type Factory[T any] func(ProviderEntry) (T, error)

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	stt        map[string]Factory[stt.Provider]
	llm        map[string]Factory[llm.Provider]
	tts        map[string]Factory[tts.Provider]
	vision     map[string]Factory[vision.Provider]
	emotion    map[string]Factory[emotion.Provider]
	embeddings map[string]Factory[embeddings.Provider]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt:        make(map[string]Factory[stt.Provider]),
		llm:        make(map[string]Factory[llm.Provider]),
		tts:        make(map[string]Factory[tts.Provider]),
		vision:     make(map[string]Factory[vision.Provider]),
		emotion:    make(map[string]Factory[emotion.Provider]),
		embeddings: make(map[string]Factory[embeddings.Provider]),
	}
}

// RegisterSTT registers an STT provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSTT(name string, f Factory[stt.Provider]) { register(r, r.stt, name, f) }

// RegisterLLM registers an LLM provider factory under name.
func (r *Registry) RegisterLLM(name string, f Factory[llm.Provider]) { register(r, r.llm, name, f) }

// RegisterTTS registers a TTS provider factory under name.
func (r *Registry) RegisterTTS(name string, f Factory[tts.Provider]) { register(r, r.tts, name, f) }

// RegisterVision registers a vision provider factory under name.
func (r *Registry) RegisterVision(name string, f Factory[vision.Provider]) {
	register(r, r.vision, name, f)
}

// RegisterEmotion registers an emotion provider factory under name.
func (r *Registry) RegisterEmotion(name string, f Factory[emotion.Provider]) {
	register(r, r.emotion, name, f)
}

// RegisterEmbeddings registers an embeddings provider factory under name.
func (r *Registry) RegisterEmbeddings(name string, f Factory[embeddings.Provider]) {
	register(r, r.embeddings, name, f)
}

// CreateSTT instantiates an STT provider using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	return create(r, r.stt, "stt", entry)
}

// CreateLLM instantiates an LLM provider using the factory registered under entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	return create(r, r.llm, "llm", entry)
}

// CreateTTS instantiates a TTS provider using the factory registered under entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	return create(r, r.tts, "tts", entry)
}

// CreateVision instantiates a vision provider using the factory registered under entry.Name.
func (r *Registry) CreateVision(entry ProviderEntry) (vision.Provider, error) {
	return create(r, r.vision, "vision", entry)
}

// CreateEmotion instantiates an emotion provider using the factory registered under entry.Name.
func (r *Registry) CreateEmotion(entry ProviderEntry) (emotion.Provider, error) {
	return create(r, r.emotion, "emotion", entry)
}

// CreateEmbeddings instantiates an embeddings provider using the factory registered under entry.Name.
func (r *Registry) CreateEmbeddings(entry ProviderEntry) (embeddings.Provider, error) {
	return create(r, r.embeddings, "embeddings", entry)
}

func register[T any](r *Registry, m map[string]Factory[T], name string, f Factory[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m[name] = f
}

func create[T any](r *Registry, m map[string]Factory[T], kind string, entry ProviderEntry) (T, error) {
	r.mu.RLock()
	factory, ok := m[entry.Name]
	r.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, kind, entry.Name)
	}
	return factory(entry)
}
