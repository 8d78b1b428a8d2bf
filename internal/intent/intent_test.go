package intent_test

import (
	"testing"

	"github.com/novo-avatar/novo/internal/intent"
)

func TestClassify_Defaults(t *testing.T) {
	t.Parallel()
	c := intent.New(nil, nil)

	tests := []struct {
		text string
		want intent.Intent
	}{
		{"Can you take a photo of me?", intent.Intent{Photo: true}},
		{"let's do a selfie", intent.Intent{Photo: true}},
		{"Can you see what I'm holding", intent.Intent{Vision: true}},
		{"What's in front of me right now", intent.Intent{Vision: true}},
		{"look at this picture", intent.Intent{Photo: true, Vision: true}},
		{"it seems fine, thanks", intent.Intent{}},
		{"tell me a joke", intent.Intent{}},
		{"", intent.Intent{}},
	}
	for _, tt := range tests {
		if got := c.Classify(tt.text); got != tt.want {
			t.Errorf("Classify(%q) = %+v, want %+v", tt.text, got, tt.want)
		}
	}
}

func TestClassify_CustomAndDisabled(t *testing.T) {
	t.Parallel()
	c := intent.New([]string{"cheese"}, []string{})

	if got := c.Classify("say cheese"); !got.Photo {
		t.Error("custom photo phrase not matched")
	}
	if got := c.Classify("can you see me"); got.Vision {
		t.Error("empty vision list should disable vision intents")
	}
	if got := c.Classify("take a photo"); got.Photo {
		t.Error("custom list should replace the defaults")
	}
}
