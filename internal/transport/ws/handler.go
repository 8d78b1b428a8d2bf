// Package ws binds conversation sessions to browser WebSocket connections.
//
// Each connection owns one session. Text messages are JSON commands of the
// form {"type": ..., ...}; binary messages are microphone audio (mono PCM16
// little-endian at the session sample rate). Session events are written back
// as JSON text messages; reply audio travels base64 encoded inside the
// agent_speaking event.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/novo-avatar/novo/internal/observe"
	"github.com/novo-avatar/novo/internal/session"
)

// Path is the route the handler is mounted on.
const Path = "/v1/conversation"

const (
	defaultReadLimit    = 8 << 20 // photos arrive as base64 text
	defaultWriteTimeout = 10 * time.Second
)

// Option is a functional option for configuring a [Handler].
type Option func(*Handler)

// WithOriginPatterns allows cross-origin connections from hosts matching the
// given patterns (see [websocket.AcceptOptions]).
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Handler) { h.origins = patterns }
}

// WithReadLimit caps the size of a single client message.
func WithReadLimit(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.readLimit = n
		}
	}
}

// WithWriteTimeout bounds a single write to the client.
func WithWriteTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.writeTimeout = d
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.log = l }
}

// Handler serves the conversation endpoint.
type Handler struct {
	registry     *session.Registry
	origins      []string
	readLimit    int64
	writeTimeout time.Duration
	log          *slog.Logger
}

var _ http.Handler = (*Handler)(nil)

// NewHandler returns a Handler opening sessions in registry.
func NewHandler(registry *session.Registry, opts ...Option) *Handler {
	h := &Handler{
		registry:     registry,
		readLimit:    defaultReadLimit,
		writeTimeout: defaultWriteTimeout,
		log:          slog.Default(),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// ServeHTTP upgrades the request, opens a session and relays messages until
// either side goes away. The session is closed when the connection ends.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		h.log.Warn("ws: accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(h.readLimit)

	sess, err := h.registry.Open(r.Context(), session.Options{UserID: r.URL.Query().Get("user_id")})
	if err != nil {
		h.log.Error("ws: open session failed", "err", err)
		conn.Close(websocket.StatusTryAgainLater, "server shutting down")
		return
	}
	log := observe.Logger(r.Context(), h.log).With("session_id", sess.ID())
	defer func() {
		if err := h.registry.Close(sess.ID()); err != nil && !errors.Is(err, session.ErrSessionNotFound) {
			log.Warn("ws: close session failed", "err", err)
		}
	}()

	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		if err := h.write(ctx, conn, serverMessage{Type: typeSessionOpened, SessionID: sess.ID()}); err != nil {
			return err
		}
		return h.writeLoop(ctx, conn, sess)
	})
	g.Go(func() error { return h.readLoop(ctx, conn, sess, log) })

	err = g.Wait()
	switch status := websocket.CloseStatus(err); {
	case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
		log.Info("ws: client disconnected")
		conn.Close(websocket.StatusNormalClosure, "")
	case errors.Is(err, session.ErrSessionClosed):
		conn.Close(websocket.StatusGoingAway, "session closed")
	default:
		log.Info("ws: connection ended", "err", err)
	}
}

// readLoop dispatches client messages to the session.
func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, sess *session.Session, log *slog.Logger) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ == websocket.MessageBinary {
			if err := sess.AudioFrame(data); err != nil {
				return err
			}
			continue
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Debug("ws: ignoring malformed message", "err", err)
			continue
		}
		if err := h.dispatch(sess, msg); err != nil {
			if errors.Is(err, session.ErrSessionClosed) {
				return err
			}
			log.Warn("ws: command rejected", "type", msg.Type, "err", err)
		}
	}
}

func (h *Handler) dispatch(sess *session.Session, msg clientMessage) error {
	switch msg.Type {
	case typeStartConversation:
		return sess.StartConversation(msg.Config.patch())
	case typeStopConversation:
		return sess.StopConversation()
	case typeUpdateConfig:
		return sess.UpdateConfig(msg.Config.patch())
	case typeCameraStatus:
		return sess.CameraStatus(msg.Active)
	case typeAnalyzeVision:
		img, mime, err := decodeImage(msg.Image)
		if err != nil {
			return err
		}
		return sess.AnalyzeVision(img, mime, msg.Prompt, msg.Immediate)
	case typePhotoCaptured:
		img, mime, err := decodeImage(msg.Image)
		if err != nil {
			return err
		}
		return sess.PhotoCaptured(img, mime)
	case typePlaybackFinished:
		return sess.PlaybackFinished(msg.ItemID)
	default:
		return fmt.Errorf("ws: unknown message type %q", msg.Type)
	}
}

// writeLoop relays session events until the session ends.
func (h *Handler) writeLoop(ctx context.Context, conn *websocket.Conn, sess *session.Session) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sess.Events():
			if !ok {
				return session.ErrSessionClosed
			}
			if err := h.write(ctx, conn, toServerMessage(ev)); err != nil {
				return err
			}
		}
	}
}

func (h *Handler) write(ctx context.Context, conn *websocket.Conn, msg serverMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("ws: marshal %s: %w", msg.Type, err)
	}
	ctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("ws: write %s: %w", msg.Type, err)
	}
	return nil
}
