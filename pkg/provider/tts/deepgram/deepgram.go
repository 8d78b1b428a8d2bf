// Package deepgram provides a Deepgram Aura text-to-speech provider over the
// streaming speak WebSocket API.
//
// One Synthesize call opens one socket: the text is sent as a Speak message
// followed by Flush, binary audio frames are collected until the server
// acknowledges with Flushed, and the socket is closed with a Close message.
package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/coder/websocket"

	"github.com/novo-avatar/novo/pkg/provider/tts"
	"github.com/novo-avatar/novo/pkg/types"
)

const (
	defaultEndpoint   = "wss://api.deepgram.com/v1/speak"
	defaultModel      = "aura-asteria-en"
	defaultSampleRate = 16000
)

// SampleRates are the linear16 output rates Aura accepts.
var SampleRates = []int{8000, 16000, 24000, 32000, 48000}

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the default Aura voice model. A VoiceProfile ID overrides it
// per call.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithSampleRate sets the linear16 output sample rate.
func WithSampleRate(hz int) Option {
	return func(p *Provider) {
		p.sampleRate = hz
	}
}

// WithEndpoint overrides the speak WebSocket endpoint. Used by tests.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// Provider implements tts.Provider backed by Deepgram Aura.
type Provider struct {
	apiKey     string
	model      string
	sampleRate int
	endpoint   string
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		sampleRate: defaultSampleRate,
		endpoint:   defaultEndpoint,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// control is a client-to-server control message.
type control struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// serverMessage is any text message from the server.
type serverMessage struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	ErrMsg      string `json:"err_msg,omitempty"`
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, tts.ErrEmptyText
	}
	model := p.model
	if voice.ID != "" {
		model = voice.ID
	}

	hdr := http.Header{}
	hdr.Set("Authorization", "Token "+p.apiKey)
	conn, _, err := websocket.Dial(ctx, p.buildURL(model), &websocket.DialOptions{HTTPHeader: hdr})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(8 << 20)

	for _, msg := range []control{{Type: "Speak", Text: text}, {Type: "Flush"}} {
		if err := writeJSON(ctx, conn, msg); err != nil {
			return nil, fmt.Errorf("deepgram: send %s: %w", msg.Type, err)
		}
	}

	var pcm bytes.Buffer
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return nil, fmt.Errorf("deepgram: read: %w", err)
		}
		if typ == websocket.MessageBinary {
			pcm.Write(data)
			continue
		}
		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "Flushed":
			_ = writeJSON(ctx, conn, control{Type: "Close"})
			conn.Close(websocket.StatusNormalClosure, "")
			return pcm.Bytes(), nil
		case "Error":
			reason := msg.Description
			if reason == "" {
				reason = msg.ErrMsg
			}
			return nil, fmt.Errorf("deepgram: server error: %s", reason)
		}
	}
}

func (p *Provider) buildURL(model string) string {
	q := url.Values{}
	q.Set("model", model)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(p.sampleRate))
	q.Set("container", "none")
	return p.endpoint + "?" + q.Encode()
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)
