package generation

import (
	"strings"
	"testing"

	"github.com/novo-avatar/novo/pkg/types"
)

func TestEstimateTokens(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		msg     types.Message
		wantMin int
		wantMax int
	}{
		{"empty message", types.Message{}, 0, 0},
		{"short message", types.Message{Role: "user", Content: "Hi"}, 1, 2},
		{"long message", types.Message{Role: "assistant", Content: strings.Repeat("a", 400)}, 100, 110},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := estimateTokens(tt.msg)
			if got < tt.wantMin || got > tt.wantMax {
				t.Errorf("estimateTokens() = %d, want [%d, %d]", got, tt.wantMin, tt.wantMax)
			}
		})
	}
}

func TestHistory_AppendAndSnapshot(t *testing.T) {
	t.Parallel()
	h := NewHistory(HistoryConfig{})
	h.Append(
		types.Message{Role: types.RoleUser, Content: "Hello there!"},
		types.Message{Role: types.RoleAssistant, Content: "Hi! How are you?"},
	)

	msgs := h.Messages()
	if len(msgs) != 2 {
		t.Fatalf("len = %d, want 2", len(msgs))
	}
	msgs[0].Content = "mutated"
	if h.Messages()[0].Content != "Hello there!" {
		t.Error("Messages returned an alias of the internal slice")
	}
	if h.TokenEstimate() == 0 {
		t.Error("expected non-zero token estimate")
	}
}

func TestHistory_MaxMessages(t *testing.T) {
	t.Parallel()
	h := NewHistory(HistoryConfig{MaxMessages: 3})
	for _, c := range []string{"a", "b", "c", "d", "e"} {
		h.Append(types.Message{Role: types.RoleUser, Content: c})
	}
	msgs := h.Messages()
	if len(msgs) != 3 || msgs[0].Content != "c" || msgs[2].Content != "e" {
		t.Errorf("messages = %+v, want [c d e]", msgs)
	}
}

func TestHistory_TokenThresholdDropsOldestHalf(t *testing.T) {
	t.Parallel()
	h := NewHistory(HistoryConfig{MaxMessages: -1, MaxTokens: 100, ThresholdRatio: 0.5})
	long := strings.Repeat("x", 80) // ~21 tokens each
	h.Append(
		types.Message{Role: types.RoleUser, Content: long},
		types.Message{Role: types.RoleAssistant, Content: long},
	)
	if h.Len() != 2 {
		t.Fatalf("len = %d, want 2 below the threshold", h.Len())
	}
	h.Append(types.Message{Role: types.RoleUser, Content: long})

	if h.TokenEstimate() > 50 {
		t.Errorf("TokenEstimate = %d, want <= 50 after trimming", h.TokenEstimate())
	}
	msgs := h.Messages()
	if len(msgs) == 0 || msgs[len(msgs)-1].Role != types.RoleUser {
		t.Errorf("newest message lost: %+v", msgs)
	}
}

func TestHistory_Reset(t *testing.T) {
	t.Parallel()
	h := NewHistory(HistoryConfig{})
	h.Append(types.Message{Role: types.RoleUser, Content: "Hello"})
	h.Reset()
	if h.Len() != 0 || h.TokenEstimate() != 0 {
		t.Errorf("after Reset len=%d tokens=%d", h.Len(), h.TokenEstimate())
	}
}
