// Package flux provides a turn-aware STT provider backed by Deepgram Flux, the
// conversational speech recognition model served on Deepgram's v2 streaming
// listen endpoint. Flux reports turn boundaries (StartOfTurn, EndOfTurn, ...)
// natively, so no local voice activity detection is needed.
//
// It implements [stt.Provider].
package flux

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/novo-avatar/novo/pkg/provider/stt"
)

const (
	defaultEndpoint   = "wss://api.deepgram.com/v2/listen"
	defaultModel      = "flux-general-en"
	defaultSampleRate = 16000

	// audioQueue bounds frames accepted by Send but not yet written.
	audioQueue = 64

	// messageQueue bounds raw messages read but not yet consumed.
	messageQueue = 64

	// defaultCloseTimeout bounds the audio flush and CloseStream handshake.
	defaultCloseTimeout = 3 * time.Second
)

// errCloseTimeout reports that Close dropped the connection because the peer
// stopped reading.
var errCloseTimeout = errors.New("flux: close timed out; connection dropped")

// Option is a functional option for configuring the Flux Provider.
type Option func(*Provider)

// WithModel sets the default Flux model (e.g. "flux-general-en").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithSampleRate sets the provider-level default sample rate in Hz.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.sampleRate = rate
	}
}

// WithEndpoint overrides the streaming endpoint. Tests point it at a local
// server.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// WithCloseTimeout bounds how long Close waits for queued audio and the
// CloseStream message to reach Flux before dropping the connection.
func WithCloseTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.closeTimeout = d
		}
	}
}

// Provider implements stt.Provider backed by the Deepgram Flux API.
type Provider struct {
	apiKey       string
	endpoint     string
	model        string
	sampleRate   int
	closeTimeout time.Duration
}

var _ stt.Provider = (*Provider)(nil)

// New creates a new Flux Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("flux: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		endpoint:     defaultEndpoint,
		model:        defaultModel,
		sampleRate:   defaultSampleRate,
		closeTimeout: defaultCloseTimeout,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Connect opens a Flux streaming session.
func (p *Provider) Connect(ctx context.Context, cfg stt.StreamConfig) (stt.Stream, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("flux: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("flux: dial: %w", err)
	}

	// The stream outlives the dial context; Close cancels it.
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &stream{
		conn:         conn,
		cancel:       cancel,
		closeTimeout: p.closeTimeout,
		audio:    make(chan []byte, audioQueue),
		messages: make(chan []byte, messageQueue),
		done:     make(chan struct{}),
		dead:     make(chan struct{}),
		written:  make(chan struct{}),
	}
	go s.readLoop(sctx)
	go s.writeLoop(sctx)
	return s, nil
}

// buildURL constructs the Flux endpoint URL for cfg.
func (p *Provider) buildURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	model := cfg.Model
	if model == "" {
		model = p.model
	}
	sr := cfg.SampleRate
	if sr == 0 {
		sr = p.sampleRate
	}

	q := u.Query()
	q.Set("model", model)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sr))
	if cfg.EOTThreshold > 0 {
		q.Set("eot_threshold", strconv.FormatFloat(cfg.EOTThreshold, 'f', -1, 64))
	}
	if cfg.EagerEOTThreshold > 0 {
		q.Set("eager_eot_threshold", strconv.FormatFloat(cfg.EagerEOTThreshold, 'f', -1, 64))
	}
	if cfg.EOTTimeout > 0 {
		q.Set("eot_timeout_ms", strconv.FormatInt(cfg.EOTTimeout.Milliseconds(), 10))
	}
	for _, kt := range cfg.Keyterms {
		q.Add("keyterm", kt)
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- stream ----

// stream is a live Flux connection. It implements stt.Stream.
type stream struct {
	conn         *websocket.Conn
	cancel       context.CancelFunc
	closeTimeout time.Duration

	audio    chan []byte
	messages chan []byte

	done    chan struct{} // closed by Close
	dead    chan struct{} // closed when the read loop exits
	written chan struct{} // closed when the write loop exits
	once    sync.Once

	mu  sync.Mutex
	err error
}

// Send queues a PCM frame for delivery to Flux.
func (s *stream) Send(ctx context.Context, frame []byte) error {
	select {
	case <-s.done:
		return stt.ErrStreamClosed
	case <-s.dead:
		return stt.ErrStreamClosed
	default:
	}
	select {
	case s.audio <- frame:
		return nil
	case <-s.done:
		return stt.ErrStreamClosed
	case <-s.dead:
		return stt.ErrStreamClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Messages returns the channel of raw Flux messages.
func (s *stream) Messages() <-chan []byte { return s.messages }

// Err returns the remote failure that ended the stream, if any.
func (s *stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close flushes queued audio, asks Flux to finish, and closes the socket. A
// peer that stops reading is cut off after the close timeout.
func (s *stream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		defer s.cancel()

		ctx, cancel := context.WithTimeout(context.Background(), s.closeTimeout)
		defer cancel()

		select {
		case <-s.written:
		case <-ctx.Done():
		}
		if ctx.Err() == nil {
			_ = s.conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`))
		}
		if ctx.Err() != nil {
			// The write loop is stuck on a full socket; unblock it.
			s.cancel()
			_ = s.conn.CloseNow()
			<-s.written
			<-s.dead
			err = errCloseTimeout
			return
		}
		s.conn.Close(websocket.StatusNormalClosure, "stream closed")
		<-s.dead
	})
	return err
}

// writeLoop forwards queued frames as binary messages, preserving order.
func (s *stream) writeLoop(ctx context.Context) {
	defer close(s.written)
	for {
		select {
		case chunk := <-s.audio:
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		case <-s.dead:
			return
		case <-s.done:
			// Flush what was accepted before Close.
			for {
				select {
				case chunk := <-s.audio:
					if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

// readLoop forwards text messages to the messages channel until the socket
// ends.
func (s *stream) readLoop(ctx context.Context) {
	defer close(s.dead)
	defer close(s.messages)

	for {
		typ, msg, err := s.conn.Read(ctx)
		if err != nil {
			select {
			case <-s.done:
				// Local close.
			default:
				s.mu.Lock()
				s.err = fmt.Errorf("flux: read: %w", err)
				s.mu.Unlock()
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		select {
		case s.messages <- msg:
		case <-s.done:
			return
		}
	}
}
