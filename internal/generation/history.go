package generation

import (
	"sync"

	"github.com/novo-avatar/novo/pkg/types"
)

// charsPerToken is the heuristic ratio used for token estimation. English
// text averages roughly 4 characters per token across common tokenizers.
const charsPerToken = 4

// DefaultMaxMessages bounds the history when no limit is configured.
const DefaultMaxMessages = 40

// HistoryConfig configures a [History].
type HistoryConfig struct {
	// MaxMessages caps the number of retained messages. Zero selects
	// [DefaultMaxMessages]; negative disables the cap.
	MaxMessages int

	// MaxTokens is the model's context window. Zero disables token-based
	// trimming.
	MaxTokens int

	// ThresholdRatio is the fraction of MaxTokens at which the oldest half of
	// the history is dropped. Defaults to 0.75 if zero or negative.
	ThresholdRatio float64
}

// History is the ordered conversation of one session. The session actor is
// the only writer; generation pipelines read snapshots taken by [Guard].
//
// All methods are safe for concurrent use.
type History struct {
	maxMessages    int
	maxTokens      int
	thresholdRatio float64

	mu       sync.Mutex
	tokens   int
	messages []types.Message
}

// NewHistory returns an empty History.
func NewHistory(cfg HistoryConfig) *History {
	maxMsgs := cfg.MaxMessages
	if maxMsgs == 0 {
		maxMsgs = DefaultMaxMessages
	}
	ratio := cfg.ThresholdRatio
	if ratio <= 0 {
		ratio = 0.75
	}
	return &History{
		maxMessages:    maxMsgs,
		maxTokens:      cfg.MaxTokens,
		thresholdRatio: ratio,
	}
}

// Append adds msgs in order and trims the oldest messages when a limit is
// exceeded.
func (h *History) Append(msgs ...types.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, m := range msgs {
		h.messages = append(h.messages, m)
		h.tokens += estimateTokens(m)
	}
	h.trim()
}

// Messages returns a copy of the history.
func (h *History) Messages() []types.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]types.Message, len(h.messages))
	copy(out, h.messages)
	return out
}

// Len returns the number of messages.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}

// TokenEstimate returns the estimated token count of the history.
func (h *History) TokenEstimate() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tokens
}

// Reset clears the history.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = nil
	h.tokens = 0
}

// trim must be called with h.mu held.
func (h *History) trim() {
	if h.maxMessages > 0 && len(h.messages) > h.maxMessages {
		h.drop(len(h.messages) - h.maxMessages)
	}
	if h.maxTokens <= 0 {
		return
	}
	threshold := int(float64(h.maxTokens) * h.thresholdRatio)
	for h.tokens > threshold && len(h.messages) > 1 {
		h.drop(max(len(h.messages)/2, 1))
	}
}

func (h *History) drop(n int) {
	for _, m := range h.messages[:n] {
		h.tokens -= estimateTokens(m)
	}
	h.messages = append([]types.Message(nil), h.messages[n:]...)
}

// estimateTokens returns a rough token count for a single message using the
// 1-token-per-4-characters heuristic.
func estimateTokens(m types.Message) int {
	chars := len(m.Content) + len(m.Role) + len(m.Name)
	tokens := chars / charsPerToken
	if tokens == 0 && chars > 0 {
		tokens = 1
	}
	return tokens
}
