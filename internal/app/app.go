// Package app wires all novo subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the conversation endpoint until its context ends,
// and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithMemory,
// WithPresence, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/novo-avatar/novo/internal/clock"
	"github.com/novo-avatar/novo/internal/config"
	"github.com/novo-avatar/novo/internal/health"
	"github.com/novo-avatar/novo/internal/intent"
	"github.com/novo-avatar/novo/internal/observe"
	"github.com/novo-avatar/novo/internal/presence"
	"github.com/novo-avatar/novo/internal/resilience"
	"github.com/novo-avatar/novo/internal/session"
	"github.com/novo-avatar/novo/internal/transport/ws"
	"github.com/novo-avatar/novo/pkg/memory"
	"github.com/novo-avatar/novo/pkg/memory/postgres"
)

// readHeaderTimeout bounds how long a client may take to send request
// headers, including the WebSocket upgrade.
const readHeaderTimeout = 10 * time.Second

// App owns all subsystem lifetimes and serves the conversation endpoint.
type App struct {
	providers *Providers
	log       *slog.Logger
	level     *slog.LevelVar
	metrics   *observe.Metrics
	scrape    http.Handler
	clock     clock.Clock

	memory   session.Memory
	presence session.Presence

	registry *session.Registry
	health   *health.Handler
	checkers []health.Checker
	server   *http.Server

	mu  sync.Mutex
	cfg *config.Config

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMemory injects conversation memory instead of connecting to PostgreSQL.
func WithMemory(m session.Memory) Option {
	return func(a *App) { a.memory = m }
}

// WithPresence injects a presence store instead of connecting to Redis.
func WithPresence(p session.Presence) Option {
	return func(a *App) { a.presence = p }
}

// WithClock replaces the clock driving session timers.
func WithClock(c clock.Clock) Option {
	return func(a *App) { a.clock = c }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithLevelVar hands the app the level variable behind its logger so that
// [App.Reload] can change verbosity at runtime.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithMetrics sets the metrics instruments. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithTelemetry serves /metrics from t's registry instead of the default
// Prometheus registry.
func WithTelemetry(t *observe.Telemetry) Option {
	return func(a *App) { a.scrape = t.Handler() }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via [BuildProviders]).
//
// New connects to PostgreSQL and Redis when they are configured and not
// injected. Neither is required for a conversation; their health only
// degrades readiness.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.STT == nil || providers.LLM == nil || providers.TTS == nil {
		return nil, errors.New("app: stt, llm and tts providers are required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Conversation memory ───────────────────────────────────────────
	if err := a.initMemory(ctx); err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: init memory: %w", err)
	}

	// ── 2. Presence ──────────────────────────────────────────────────────
	if err := a.initPresence(ctx); err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: init presence: %w", err)
	}

	// ── 3. Sessions ──────────────────────────────────────────────────────
	a.registry = session.NewRegistry(session.Deps{
		STT:      providers.STT,
		LLM:      providers.LLM,
		TTS:      providers.TTS,
		Vision:   providers.Vision,
		Emotion:  providers.Emotion,
		Memory:   a.memory,
		Presence: a.presence,
		Triggers: TriggerMatcher(cfg.Conversation),
		Intents:  intent.New(cfg.Conversation.PhotoPhrases, cfg.Conversation.VisionPhrases),
		Clock:    a.clock,
		Metrics:  a.metrics,
		Logger:   a.log,
	}, SessionSettings(cfg))

	// ── 4. HTTP surface ──────────────────────────────────────────────────
	a.checkers = append(a.checkers, health.Checker{Name: "providers", Check: a.checkProviders})
	a.health = health.New(a.checkers...)
	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.routes(),
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(a.log.Handler(), slog.LevelWarn),
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initMemory sets up the PostgreSQL memory store or uses the injected one.
func (a *App) initMemory(ctx context.Context) error {
	if a.memory != nil {
		return nil
	}
	mc := a.cfg.Memory
	if mc.PostgresDSN == "" {
		a.log.Info("conversation memory disabled")
		return nil
	}
	if a.providers.Embeddings == nil {
		return errors.New("memory.postgres_dsn requires an embeddings provider")
	}

	dims := mc.EmbeddingDimensions
	if dims == 0 {
		dims = config.DefaultEmbeddingDimensions
	}
	store, err := postgres.NewStore(ctx, mc.PostgresDSN, dims)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})

	var opts []memory.ServiceOption
	if mc.RecallLimit > 0 {
		opts = append(opts, memory.WithRecallLimit(mc.RecallLimit))
	}
	if mc.MaxDistance > 0 {
		opts = append(opts, memory.WithMaxDistance(mc.MaxDistance))
	}
	a.memory = memory.NewService(store, a.providers.Embeddings, opts...)
	a.checkers = append(a.checkers, health.Checker{Name: "memory", Check: store.Ping, Optional: true})
	a.log.Info("conversation memory enabled", "dimensions", dims)
	return nil
}

// initPresence connects the Redis presence store or uses the injected one.
// An unreachable Redis is logged, not fatal.
func (a *App) initPresence(ctx context.Context) error {
	if a.presence != nil {
		return nil
	}
	pc := a.cfg.Presence
	if pc.RedisAddr == "" {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     pc.RedisAddr,
		Password: pc.RedisPassword,
		DB:       pc.RedisDB,
	})
	a.closers = append(a.closers, client.Close)

	var opts []presence.Option
	if pc.TTL > 0 {
		opts = append(opts, presence.WithTTL(pc.TTL))
	}
	if pc.Prefix != "" {
		opts = append(opts, presence.WithPrefix(pc.Prefix))
	}
	store := presence.NewStore(client, opts...)
	if err := store.Ping(ctx); err != nil {
		a.log.Warn("presence store unreachable, continuing", "addr", pc.RedisAddr, "err", err)
	}
	a.presence = store
	a.checkers = append(a.checkers, health.Checker{Name: "presence", Check: store.Ping, Optional: true})
	return nil
}

func (a *App) routes() http.Handler {
	mux := http.NewServeMux()

	wsOpts := []ws.Option{ws.WithLogger(a.log)}
	if origins := a.cfg.Server.AllowedOrigins; len(origins) > 0 {
		wsOpts = append(wsOpts, ws.WithOriginPatterns(origins...))
	}
	if n := a.cfg.Server.MaxMessageBytes; n > 0 {
		wsOpts = append(wsOpts, ws.WithReadLimit(n))
	}
	if d := a.cfg.Server.WriteTimeout; d > 0 {
		wsOpts = append(wsOpts, ws.WithWriteTimeout(d))
	}
	mux.Handle(ws.Path, observe.Middleware(a.metrics)(ws.NewHandler(a.registry, wsOpts...)))

	a.health.Register(mux)
	if a.cfg.Telemetry.MetricsEnabled {
		scrape := a.scrape
		if scrape == nil {
			scrape = promhttp.Handler()
		}
		mux.Handle("/metrics", scrape)
	}
	return mux
}

// healthReporter is implemented by the failover wrappers.
type healthReporter interface {
	Healthy() bool
	States() map[string]resilience.State
}

// checkProviders fails when every backend behind a required slot has an
// open circuit breaker.
func (a *App) checkProviders(context.Context) error {
	var errs []error
	for _, slot := range []struct {
		kind string
		p    any
	}{
		{"stt", a.providers.STT},
		{"llm", a.providers.LLM},
		{"tts", a.providers.TTS},
	} {
		h, ok := slot.p.(healthReporter)
		if !ok || h.Healthy() {
			continue
		}
		names := slices.Sorted(maps.Keys(h.States()))
		errs = append(errs, fmt.Errorf("%s: all circuits open (%s)", slot.kind, strings.Join(names, ", ")))
	}
	return errors.Join(errs...)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the HTTP handler serving the conversation endpoint,
// health probes and, when enabled, metrics.
func (a *App) Handler() http.Handler { return a.server.Handler }

// Registry returns the session registry.
func (a *App) Registry() *session.Registry { return a.registry }

// Config returns the configuration most recently applied.
func (a *App) Config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP on the configured address and blocks until ctx is
// cancelled or the server fails. Either way it then drains the app with
// [App.Shutdown], bounded by server.shutdown_timeout. After a cancellation
// Run returns ctx.Err().
func (a *App) Run(ctx context.Context) error {
	server := a.Config().Server
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.server.Addr, err)
	}
	a.log.Info("app running", "addr", ln.Addr().String(), "tls", server.TLS != nil)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls := server.TLS; tls != nil {
			err = a.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		timeout := a.Config().Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = config.DefaultShutdownTimeout
		}
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		return a.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// Reload applies the hot-reloadable parts of cfg. It is shaped to be passed
// to [config.NewWatcher]. Open sessions keep their settings; new sessions
// use the reloaded ones.
func (a *App) Reload(cfg *config.Config, diff config.ConfigDiff) {
	a.mu.Lock()
	a.cfg = cfg
	a.mu.Unlock()

	if diff.LogLevelChanged && a.level != nil {
		a.level.Set(diff.NewLogLevel.Level())
		a.log.Info("log level changed", "level", diff.NewLogLevel)
	}
	if diff.ConversationChanged || diff.PersonaChanged {
		a.registry.SetDefaults(SessionSettings(cfg))
		a.log.Info("conversation defaults reloaded", "persona_changed", diff.PersonaChanged)
	}
	if diff.TriggersChanged {
		a.registry.SetPhrases(
			TriggerMatcher(cfg.Conversation),
			intent.New(cfg.Conversation.PhotoPhrases, cfg.Conversation.VisionPhrases),
		)
		a.log.Info("trigger phrases reloaded")
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in order: readiness flips to draining,
// open sessions are closed, the HTTP server stops, then stores disconnect.
// It is safe to call more than once; only the first call does any work.
// It respects the context deadline: if ctx expires before all closers
// finish, remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "sessions", a.registry.Len(), "closers", len(a.closers))
		a.health.SetDraining(true)

		if err := a.registry.CloseAll(ctx); err != nil {
			a.log.Warn("sessions did not close in time", "err", err)
			shutdownErr = err
		}
		if err := a.server.Shutdown(ctx); err != nil {
			a.log.Warn("http shutdown error", "err", err)
			shutdownErr = errors.Join(shutdownErr, err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = errors.Join(shutdownErr, ctx.Err())
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}

// runClosers releases what a failed New already opened.
func (a *App) runClosers() {
	for _, c := range a.closers {
		_ = c()
	}
	a.closers = nil
}
