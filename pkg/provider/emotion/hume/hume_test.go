package hume

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func TestNew_EmptyKey(t *testing.T) {
	t.Parallel()
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty api key")
	}
}

func TestBuildRequest(t *testing.T) {
	t.Parallel()
	raw, err := buildRequest(make([]byte, 320), 16000, 2000)
	if err != nil {
		t.Fatal(err)
	}
	var req struct {
		Models         map[string]json.RawMessage `json:"models"`
		Data           string                     `json:"data"`
		StreamWindowMS int                        `json:"stream_window_ms"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		t.Fatal(err)
	}
	if _, ok := req.Models["prosody"]; !ok || len(req.Models) != 1 {
		t.Errorf("models = %v, want prosody only", req.Models)
	}
	if req.StreamWindowMS != 2000 {
		t.Errorf("stream_window_ms = %d", req.StreamWindowMS)
	}
	wav, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		t.Fatal(err)
	}
	if len(wav) != 44+320 || string(wav[:4]) != "RIFF" {
		t.Errorf("data is not a WAV of the chunk: len=%d", len(wav))
	}
}

func TestParseResponse(t *testing.T) {
	t.Parallel()
	raw := []byte(`{"prosody":{"predictions":[{"emotions":[
		{"name":"Calmness","score":0.3},{"name":"Joy","score":0.8},{"name":"Interest","score":0.6},
		{"name":"Boredom","score":0.1},{"name":"Doubt","score":0.2},{"name":"Awe","score":0.05}]}]}}`)
	scores, ok, err := parseResponse(raw, 5)
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if len(scores) != 5 || scores[0].Name != "Joy" || scores[4].Name != "Boredom" {
		t.Errorf("scores = %+v", scores)
	}

	if _, ok, err := parseResponse([]byte(`{"prosody":{"warning":"No speech detected."}}`), 5); ok || err != nil {
		t.Errorf("warning-only message: ok=%v err=%v", ok, err)
	}
	if _, _, err := parseResponse([]byte(`{"error":"bad key","code":"E0301"}`), 5); err == nil {
		t.Error("expected error for server error message")
	}
	if _, _, err := parseResponse([]byte(`not json`), 5); err == nil {
		t.Error("expected error for malformed message")
	}
}

func TestStream_RoundTrip(t *testing.T) {
	t.Parallel()

	gotKey := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey <- r.Header.Get("X-Hume-Api-Key")
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		ctx := r.Context()
		for {
			if _, _, err := c.Read(ctx); err != nil {
				return
			}
			_ = c.Write(ctx, websocket.MessageText,
				[]byte(`{"prosody":{"predictions":[{"emotions":[{"name":"Joy","score":0.9},{"name":"Calmness","score":0.4}]}]}}`))
		}
	}))
	defer srv.Close()

	p, _ := New("hume-key", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := p.Connect(ctx, 16000)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if k := <-gotKey; k != "hume-key" {
		t.Errorf("X-Hume-Api-Key = %q", k)
	}
	if err := s.Send(ctx, make([]byte, 2560)); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case scores := <-s.Results():
		if len(scores) != 2 || scores[0].Name != "Joy" {
			t.Errorf("scores = %+v", scores)
		}
	case <-ctx.Done():
		t.Fatal("no prediction received")
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Send(ctx, []byte{0, 0}); err == nil {
		t.Error("Send after Close should fail")
	}
	_ = s.Close()
}
