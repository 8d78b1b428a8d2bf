package generation_test

import (
	"strings"
	"testing"

	"github.com/novo-avatar/novo/internal/generation"
	"github.com/novo-avatar/novo/pkg/types"
)

func TestBuildSystemPrompt(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		in      generation.Prompt
		want    []string
		notWant []string
	}{
		{
			name:    "camera off",
			in:      generation.Prompt{},
			want:    []string{"You are NoVo", "camera is OFF"},
			notWant: []string{"Current view"},
		},
		{
			name: "camera on with view",
			in:   generation.Prompt{CameraActive: true, Vision: "a cat on a sofa"},
			want: []string{"camera is ON", "Current view: a cat on a sofa"},
		},
		{
			name:    "camera on without view",
			in:      generation.Prompt{CameraActive: true},
			want:    []string{"camera is ON"},
			notWant: []string{"Current view"},
		},
		{
			name: "custom persona and memories",
			in:   generation.Prompt{Persona: "You are Ada.", Memories: "Things you remember: tea."},
			want: []string{"You are Ada.", "Things you remember: tea."},
			notWant: []string{
				"You are NoVo",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := generation.BuildSystemPrompt(tt.in)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("prompt missing %q", w)
				}
			}
			for _, w := range tt.notWant {
				if strings.Contains(got, w) {
					t.Errorf("prompt unexpectedly contains %q", w)
				}
			}
		})
	}
}

func TestContextMessages(t *testing.T) {
	t.Parallel()
	for _, m := range []types.Message{
		generation.VisionContext("x"),
		generation.CameraContext("x"),
		generation.PhotoContext("x"),
	} {
		if m.Role != types.RoleSystem || !strings.HasPrefix(m.Content, "[") || !strings.HasSuffix(m.Content, "x") {
			t.Errorf("context message = %+v", m)
		}
	}
}
