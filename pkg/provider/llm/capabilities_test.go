package llm

import "testing"

func TestLookupCapabilities(t *testing.T) {
	t.Parallel()
	tests := []struct {
		model  string
		ctx    int
		out    int
		vision bool
	}{
		{"openai/gpt-4o", 128_000, 16_384, true},
		{"GPT-4o-mini", 128_000, 16_384, true},
		{"gpt-4-turbo", 128_000, 4_096, true},
		{"gpt-4", 8_192, 4_096, false},
		{"openai/gpt-3.5-turbo", 16_385, 4_096, false},
		{"o3-mini", 200_000, 100_000, false},
		{"anthropic/claude-3.5-sonnet", 200_000, 8_192, true},
		{"gemini-1.5-pro", 2_097_152, 8_192, true},
		{"google/gemini-2.0-flash", 1_048_576, 8_192, true},
		{"meta-llama/llama-3.1-70b-instruct", 32_768, 4_096, false},
		{"some/unknown-model", 128_000, 4_096, false},
	}
	for _, tt := range tests {
		caps := LookupCapabilities(tt.model)
		if caps.ContextWindow != tt.ctx || caps.MaxOutputTokens != tt.out || caps.SupportsVision != tt.vision {
			t.Errorf("%s: caps = %+v, want ctx=%d out=%d vision=%v", tt.model, caps, tt.ctx, tt.out, tt.vision)
		}
		if !caps.SupportsStreaming {
			t.Errorf("%s: streaming should always be reported", tt.model)
		}
	}
}

