package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/novo-avatar/novo/pkg/provider/tts"
	"github.com/novo-avatar/novo/pkg/types"
)

// ---- construction ----

func TestNew_EmptyKey(t *testing.T) {
	t.Parallel()
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty api key")
	}
}

func TestBuildURL(t *testing.T) {
	t.Parallel()
	p, _ := New("k", WithModel("eleven_turbo_v2"), WithSampleRate(24000))
	u, err := url.Parse(p.buildURL("voice-abc123"))
	if err != nil {
		t.Fatal(err)
	}
	if u.Scheme != "wss" || u.Path != "/v1/text-to-speech/voice-abc123/stream-input" {
		t.Errorf("url = %s", u)
	}
	if u.Query().Get("model_id") != "eleven_turbo_v2" || u.Query().Get("output_format") != "pcm_24000" {
		t.Errorf("query = %v", u.Query())
	}
}

func TestSynthesize_EmptyText(t *testing.T) {
	t.Parallel()
	p, _ := New("k")
	if _, err := p.Synthesize(context.Background(), "", types.VoiceProfile{}); !errors.Is(err, tts.ErrEmptyText) {
		t.Fatalf("err = %v, want ErrEmptyText", err)
	}
}

// ---- WebSocket round trip ----

type seenRequest struct {
	path     string
	messages []textMessage
}

func fakeElevenLabs(t *testing.T, replies []string) (*httptest.Server, chan seenRequest) {
	t.Helper()
	seen := make(chan seenRequest, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		ctx := r.Context()

		req := seenRequest{path: r.URL.Path}
		for len(req.messages) < 3 {
			_, data, err := c.Read(ctx)
			if err != nil {
				return
			}
			var m textMessage
			_ = json.Unmarshal(data, &m)
			req.messages = append(req.messages, m)
		}
		seen <- req
		for _, reply := range replies {
			_ = c.Write(ctx, websocket.MessageText, []byte(reply))
		}
		c.Close(websocket.StatusNormalClosure, "")
	}))
	return srv, seen
}

func audioMsg(pcm []byte, final bool) string {
	b, _ := json.Marshal(audioResponse{Audio: base64.StdEncoding.EncodeToString(pcm), IsFinal: final})
	return string(b)
}

func TestSynthesize_RoundTrip(t *testing.T) {
	t.Parallel()
	srv, seen := fakeElevenLabs(t, []string{
		audioMsg([]byte{1, 2}, false),
		audioMsg([]byte{3, 4}, false),
		`{"isFinal":true}`,
	})
	defer srv.Close()

	p, _ := New("xi-key", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pcm, err := p.Synthesize(ctx, "Hello!", types.VoiceProfile{})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(pcm) != string([]byte{1, 2, 3, 4}) {
		t.Errorf("pcm = %v", pcm)
	}

	req := <-seen
	if !strings.Contains(req.path, DefaultVoiceID) {
		t.Errorf("path = %s, want default voice", req.path)
	}
	first := req.messages[0]
	if first.XiAPIKey != "xi-key" || first.VoiceSettings == nil || first.Text != " " {
		t.Errorf("handshake = %+v", first)
	}
	if req.messages[1].Text != "Hello! " || !req.messages[1].Flush {
		t.Errorf("text message = %+v", req.messages[1])
	}
	if req.messages[2].Text != "" {
		t.Errorf("close-input message = %+v", req.messages[2])
	}
}

func TestSynthesize_ServerError(t *testing.T) {
	t.Parallel()
	srv, _ := fakeElevenLabs(t, []string{`{"error":"quota_exceeded","message":"out of credits"}`})
	defer srv.Close()

	p, _ := New("xi-key", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := p.Synthesize(ctx, "Hello!", types.VoiceProfile{ID: "v1"})
	if err == nil || !strings.Contains(err.Error(), "quota_exceeded") {
		t.Fatalf("err = %v, want server error", err)
	}
}
