// Package hume provides a streaming vocal emotion provider backed by the Hume
// expression measurement WebSocket API (prosody model).
package hume

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/novo-avatar/novo/pkg/audio"
	"github.com/novo-avatar/novo/pkg/provider/emotion"
)

const (
	defaultEndpoint     = "wss://api.hume.ai/v0/stream/models"
	defaultStreamWindow = 2000

	sendQueue   = 8
	resultQueue = 8
)

// Option is a functional option for configuring the Hume Provider.
type Option func(*Provider)

// WithEndpoint overrides the streaming endpoint. Used by tests.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = endpoint }
}

// WithStreamWindow sets the analysis window in milliseconds.
func WithStreamWindow(ms int) Option {
	return func(p *Provider) { p.window = ms }
}

// WithTop sets how many emotions are reported per prediction.
func WithTop(n int) Option {
	return func(p *Provider) { p.top = n }
}

// Provider implements emotion.Provider.
type Provider struct {
	apiKey   string
	endpoint string
	window   int
	top      int
}

// New creates a Hume Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("hume: apiKey must not be empty")
	}
	p := &Provider{apiKey: apiKey, endpoint: defaultEndpoint, window: defaultStreamWindow, top: emotion.DefaultTop}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Connect opens a prosody stream for PCM at sampleRate.
func (p *Provider) Connect(ctx context.Context, sampleRate int) (emotion.Stream, error) {
	hdr := http.Header{}
	hdr.Set("X-Hume-Api-Key", p.apiKey)
	conn, _, err := websocket.Dial(ctx, p.endpoint, &websocket.DialOptions{HTTPHeader: hdr})
	if err != nil {
		return nil, fmt.Errorf("hume: dial: %w", err)
	}
	conn.SetReadLimit(1 << 20)

	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &stream{
		conn:       conn,
		cancel:     cancel,
		sampleRate: sampleRate,
		window:     p.window,
		top:        p.top,
		chunks:     make(chan []byte, sendQueue),
		results:    make(chan []emotion.Score, resultQueue),
		done:       make(chan struct{}),
		dead:       make(chan struct{}),
	}
	go s.readLoop(sctx)
	go s.writeLoop(sctx)
	return s, nil
}

// ---- wire types ----

type request struct {
	Models         map[string]struct{} `json:"models"`
	Data           string              `json:"data"`
	StreamWindowMS int                 `json:"stream_window_ms"`
}

type response struct {
	Prosody *struct {
		Predictions []struct {
			Emotions []emotion.Score `json:"emotions"`
		} `json:"predictions"`
		Warning string `json:"warning,omitempty"`
	} `json:"prosody,omitempty"`
	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`
}

// buildRequest wraps pcm in a WAV container and encodes the request payload.
func buildRequest(pcm []byte, sampleRate, window int) ([]byte, error) {
	return json.Marshal(request{
		Models:         map[string]struct{}{"prosody": {}},
		Data:           base64.StdEncoding.EncodeToString(audio.WAV(pcm, sampleRate)),
		StreamWindowMS: window,
	})
}

// parseResponse extracts the top emotions of the first prediction. ok is
// false when the message carries no prediction.
func parseResponse(raw []byte, top int) (scores []emotion.Score, ok bool, err error) {
	var resp response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, false, fmt.Errorf("hume: decode: %w", err)
	}
	if resp.Error != "" {
		return nil, false, fmt.Errorf("hume: server error %s: %s", resp.Code, resp.Error)
	}
	if resp.Prosody == nil || len(resp.Prosody.Predictions) == 0 {
		return nil, false, nil
	}
	return emotion.Top(resp.Prosody.Predictions[0].Emotions, top), true, nil
}

// ---- stream ----

type stream struct {
	conn       *websocket.Conn
	cancel     context.CancelFunc
	sampleRate int
	window     int
	top        int

	chunks  chan []byte
	results chan []emotion.Score
	done    chan struct{}
	dead    chan struct{}
	once    sync.Once
}

// Send queues pcm for analysis, dropping it when the queue is full.
func (s *stream) Send(_ context.Context, pcm []byte) error {
	select {
	case <-s.done:
		return emotion.ErrStreamClosed
	case <-s.dead:
		return emotion.ErrStreamClosed
	default:
	}
	select {
	case s.chunks <- pcm:
	default:
		slog.Debug("hume: send queue full, dropping chunk")
	}
	return nil
}

func (s *stream) Results() <-chan []emotion.Score { return s.results }

func (s *stream) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close(websocket.StatusNormalClosure, "stream closed")
		<-s.dead
		s.cancel()
	})
	return nil
}

func (s *stream) writeLoop(ctx context.Context) {
	for {
		select {
		case pcm := <-s.chunks:
			payload, err := buildRequest(pcm, s.sampleRate, s.window)
			if err != nil {
				continue
			}
			if err := s.conn.Write(ctx, websocket.MessageText, payload); err != nil {
				return
			}
		case <-s.done:
			return
		case <-s.dead:
			return
		}
	}
}

func (s *stream) readLoop(ctx context.Context) {
	defer close(s.dead)
	defer close(s.results)
	for {
		_, raw, err := s.conn.Read(ctx)
		if err != nil {
			select {
			case <-s.done:
			default:
				slog.Warn("hume: stream ended", "err", err)
			}
			return
		}
		scores, ok, err := parseResponse(raw, s.top)
		if err != nil {
			slog.Warn("hume: bad response", "err", err)
			continue
		}
		if !ok {
			continue
		}
		select {
		case s.results <- scores:
		default:
			// Consumer is behind; newer predictions matter more.
		}
	}
}

var _ emotion.Provider = (*Provider)(nil)
