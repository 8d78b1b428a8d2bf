package llm

import (
	"strings"

	"github.com/novo-avatar/novo/pkg/types"
)

// modelFamilies is matched by prefix in order, so longer prefixes come first.
var modelFamilies = []struct {
	prefix  string
	context int
	output  int
	vision  bool
}{
	{"gpt-4o", 128_000, 16_384, true},
	{"gpt-4-turbo", 128_000, 4_096, true},
	{"gpt-4", 8_192, 4_096, false},
	{"gpt-3.5-turbo", 16_385, 4_096, false},
	{"o1", 200_000, 100_000, false},
	{"o3", 200_000, 100_000, false},
	{"claude", 200_000, 8_192, true},
	{"gemini-1.5-pro", 2_097_152, 8_192, true},
	{"gemini", 1_048_576, 8_192, true},
	{"llama", 32_768, 4_096, false},
	{"mistral", 32_768, 4_096, false},
}

// LookupCapabilities returns the limits of a model family. A vendor prefix
// as used by OpenRouter ("openai/gpt-4o") is ignored and matching is case
// insensitive. Unknown models get a 128k context and 4k output.
func LookupCapabilities(model string) types.ModelCapabilities {
	caps := types.ModelCapabilities{
		SupportsStreaming: true,
		ContextWindow:     128_000,
		MaxOutputTokens:   4_096,
	}
	name := strings.ToLower(model)
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	for _, f := range modelFamilies {
		if strings.HasPrefix(name, f.prefix) {
			caps.ContextWindow, caps.MaxOutputTokens, caps.SupportsVision = f.context, f.output, f.vision
			break
		}
	}
	return caps
}
