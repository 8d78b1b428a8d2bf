package ws

import (
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/novo-avatar/novo/internal/session"
)

func TestDecodeImage(t *testing.T) {
	t.Parallel()
	raw := base64.StdEncoding.EncodeToString([]byte("img"))

	tests := []struct {
		name     string
		in       string
		wantMime string
		wantErr  bool
	}{
		{"data uri", "data:image/png;base64," + raw, "image/png", false},
		{"data uri without mime", "data:;base64," + raw, defaultImageMime, false},
		{"bare base64", raw, defaultImageMime, false},
		{"not base64 encoded uri", "data:image/png," + raw, "", true},
		{"garbage", "%%%", "", true},
		{"empty", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, mime, err := decodeImage(tt.in)
			if tt.wantErr {
				if !errors.Is(err, errBadImage) {
					t.Errorf("err = %v, want errBadImage", err)
				}
				return
			}
			if err != nil || string(data) != "img" || mime != tt.wantMime {
				t.Errorf("decodeImage = %q, %q, %v", data, mime, err)
			}
		})
	}
}

func TestClientConfigPatch(t *testing.T) {
	t.Parallel()
	ms := 1200
	voice := "aura-2-thalia-en"
	prompt := "Be brief."
	p := (&clientConfig{EOTTimeoutMS: &ms, VoiceID: &voice, SystemPrompt: &prompt}).patch()

	got := p.Apply(session.DefaultSettings())
	if got.EOTTimeout != 1200*time.Millisecond || got.Voice.ID != voice || got.Persona != prompt {
		t.Errorf("patched settings = %+v", got)
	}

	var nilCfg *clientConfig
	if s := nilCfg.patch().Apply(session.DefaultSettings()); s.Persona != "" {
		t.Errorf("nil config changed settings: %+v", s)
	}
}

func TestToServerMessage(t *testing.T) {
	t.Parallel()
	m := toServerMessage(session.Event{Kind: session.ConversationError, Reason: session.ReasonTransport})
	if m.Type != "conversation_error" || m.Error != session.ReasonTransport {
		t.Errorf("message = %+v", m)
	}
	m = toServerMessage(session.Event{Kind: session.VisionResult, Description: "x", Error: true, Immediate: true})
	if m.Type != "vision_result" || !m.Failed || !m.Immediate {
		t.Errorf("message = %+v", m)
	}
}
