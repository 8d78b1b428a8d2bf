// Package generation runs reply generation for a session: at most one task at
// a time turns a completed user turn into reply text (language model) and
// reply audio (speech synthesis).
//
// The [Guard] is owned by the session actor and is not safe for concurrent
// use. Each accepted turn starts a [Task] whose pipeline runs on its own
// goroutine and reports back through the post callback as [Result] values.
// The actor passes every result to [Guard.Commit], which discards results of
// cancelled or superseded tasks, so a barge-in can never be followed by a
// stale reply.
package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/novo-avatar/novo/internal/clock"
	"github.com/novo-avatar/novo/internal/observe"
	"github.com/novo-avatar/novo/pkg/memory"
	"github.com/novo-avatar/novo/pkg/provider/llm"
	"github.com/novo-avatar/novo/pkg/provider/tts"
	"github.com/novo-avatar/novo/pkg/types"
)

// Defaults for [Config].
const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 150
	DefaultVisionWait  = 2 * time.Second
)

// FallbackReply is spoken when the model returns no content.
const FallbackReply = "I apologize, I did not understand that."

var (
	// ErrGeneration wraps language model failures.
	ErrGeneration = errors.New("generation: language model failed")

	// ErrSynthesis wraps speech synthesis failures.
	ErrSynthesis = errors.New("generation: speech synthesis failed")
)

// ResultKind identifies a pipeline report.
type ResultKind int

const (
	// ReplyReady carries the reply text.
	ReplyReady ResultKind = iota + 1

	// AudioReady carries the synthesized reply audio. It ends the task.
	AudioReady

	// Failed carries an error wrapping [ErrGeneration] or [ErrSynthesis]. It
	// ends the task.
	Failed
)

// Result is one report from a task's pipeline.
type Result struct {
	Kind ResultKind
	Task *Task

	// Text is the reply (ReplyReady, AudioReady).
	Text string

	// Audio is mono PCM16 at the synthesizer's rate (AudioReady).
	Audio []byte

	// Context holds system messages the pipeline added to its prompt, such as
	// a camera description it waited for. They are committed to the history
	// together with the reply.
	Context []types.Message

	// Err is set for Failed.
	Err error
}

// Recaller finds past exchanges relevant to a turn. [memory.Service]
// implements it.
type Recaller interface {
	Recall(ctx context.Context, sessionID, userID, query string) ([]memory.Recalled, error)
}

// Config tunes a [Guard]. It may be replaced between turns with
// [Guard.SetConfig].
type Config struct {
	SessionID string
	UserID    string

	// Persona is the base system prompt. Empty selects [DefaultPersona].
	Persona string

	// Temperature and MaxTokens are passed to the model. Zero selects
	// [DefaultTemperature] and [DefaultMaxTokens].
	Temperature float64
	MaxTokens   int

	// Voice is passed to the synthesizer.
	Voice types.VoiceProfile

	// VisionWait bounds how long a vision query waits for a fresh camera
	// description. Zero selects [DefaultVisionWait].
	VisionWait time.Duration
}

// Deps are the collaborators of a [Guard].
type Deps struct {
	LLM llm.Provider
	TTS tts.Provider

	// Memory is optional.
	Memory Recaller

	// Clock times the vision wait. Nil selects the real clock.
	Clock clock.Clock

	// Metrics is optional.
	Metrics *observe.Metrics

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Task is one in-flight generation.
type Task struct {
	// ID increases per guard.
	ID uint64

	// Text is the user turn that started the task.
	Text       string
	Confidence float64
	Started    time.Time

	ctx       context.Context
	stop      context.CancelFunc
	cancelled atomic.Bool
	awaiting  atomic.Bool
	vision    chan string
}

// Cancel marks the task cancelled and aborts its in-flight calls. It is safe
// to call from any goroutine and more than once.
func (t *Task) Cancel() {
	t.cancelled.Store(true)
	t.stop()
}

// Cancelled reports whether [Task.Cancel] was called.
func (t *Task) Cancelled() bool { return t.cancelled.Load() }

// AwaitingVision reports whether the pipeline is waiting for a camera
// description.
func (t *Task) AwaitingVision() bool { return t.awaiting.Load() }

// Context returns the task's context. It is done once the task is cancelled
// or finished.
func (t *Task) Context() context.Context { return t.ctx }

// TurnOption adjusts how [Guard.OnTurnCompleted] starts a task.
type TurnOption func(*turnOptions)

type turnOptions struct {
	appendUser   bool
	transient    bool
	awaitVision  bool
	cameraActive bool
	vision       string
}

// WithoutUserMessage starts the task without adding the turn text to the
// history. Used when the caller already recorded the relevant context.
func WithoutUserMessage() TurnOption {
	return func(o *turnOptions) { o.appendUser = false }
}

// Transient sends the turn text to the model as the final user message
// without recording it in the history. Used for cues the client generates on
// the user's behalf.
func Transient() TurnOption {
	return func(o *turnOptions) {
		o.appendUser = false
		o.transient = true
	}
}

// AwaitVision makes the pipeline wait up to the configured VisionWait for
// [Guard.DeliverVision] before prompting the model.
func AwaitVision() TurnOption {
	return func(o *turnOptions) { o.awaitVision = true }
}

// WithScene passes the camera state and last description into the prompt.
func WithScene(cameraActive bool, vision string) TurnOption {
	return func(o *turnOptions) {
		o.cameraActive = cameraActive
		o.vision = vision
	}
}

// Guard enforces single-flight generation for one session.
type Guard struct {
	parent  context.Context
	cfg     Config
	deps    Deps
	history *History
	post    func(Result)
	log     *slog.Logger

	current *Task
	seq     uint64
}

// NewGuard returns a Guard whose tasks derive from ctx and report through
// post. post must not block indefinitely; it is called from task goroutines.
func NewGuard(ctx context.Context, cfg Config, deps Deps, history *History, post func(Result)) *Guard {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Guard{
		parent:  ctx,
		cfg:     withDefaults(cfg),
		deps:    deps,
		history: history,
		post:    post,
		log:     deps.Logger,
	}
}

func withDefaults(cfg Config) Config {
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.VisionWait == 0 {
		cfg.VisionWait = DefaultVisionWait
	}
	return cfg
}

// SetConfig replaces the configuration for subsequent tasks.
func (g *Guard) SetConfig(cfg Config) { g.cfg = withDefaults(cfg) }

// Config returns the current configuration.
func (g *Guard) Config() Config { return g.cfg }

// History returns the conversation history the guard appends to.
func (g *Guard) History() *History { return g.history }

// Busy reports whether a task is alive.
func (g *Guard) Busy() bool { return g.current != nil }

// Current returns the live task or nil.
func (g *Guard) Current() *Task { return g.current }

// OnTurnCompleted starts a task for a finalized user turn. It returns false,
// dropping the turn, while another task is alive.
func (g *Guard) OnTurnCompleted(text string, confidence float64, opts ...TurnOption) bool {
	if g.current != nil {
		g.log.Info("generation in flight, dropping turn",
			"session_id", g.cfg.SessionID,
			"task_id", g.current.ID,
			"dropped_len", len(text),
		)
		return false
	}

	o := turnOptions{appendUser: true}
	for _, opt := range opts {
		opt(&o)
	}
	if o.appendUser {
		g.history.Append(types.Message{Role: types.RoleUser, Content: text})
	}

	g.seq++
	ctx, stop := context.WithCancel(g.parent)
	t := &Task{
		ID:         g.seq,
		Text:       text,
		Confidence: confidence,
		Started:    g.deps.Clock.Now(),
		ctx:        ctx,
		stop:       stop,
		vision:     make(chan string, 1),
	}
	t.awaiting.Store(o.awaitVision)
	g.current = t

	msgs := g.history.Messages()
	if o.transient {
		msgs = append(msgs, types.Message{Role: types.RoleUser, Content: text})
	}
	go g.run(t, g.cfg, msgs, o)
	return true
}

// Cancel cancels the live task. It reports whether there was one.
func (g *Guard) Cancel() bool {
	t := g.current
	if t == nil {
		return false
	}
	t.Cancel()
	g.current = nil
	return true
}

// DeliverVision hands a fresh camera description to a task waiting for one.
// It reports whether the description was taken.
func (g *Guard) DeliverVision(desc string) bool {
	t := g.current
	if t == nil || !t.awaiting.Load() {
		return false
	}
	select {
	case t.vision <- desc:
		return true
	default:
		return false
	}
}

// Commit applies r if it belongs to the live, uncancelled task and reports
// whether the caller should act on it. A committed ReplyReady appends the
// pipeline context and the assistant reply to the history; AudioReady and
// Failed end the task.
func (g *Guard) Commit(r Result) bool {
	t := r.Task
	if t == nil || t != g.current || t.Cancelled() {
		return false
	}
	switch r.Kind {
	case ReplyReady:
		g.history.Append(r.Context...)
		g.history.Append(types.Message{Role: types.RoleAssistant, Content: r.Text})
	case AudioReady, Failed:
		g.current = nil
		t.stop()
	}
	return true
}

// run is the pipeline of one task. It returns without reporting once the task
// is cancelled.
func (g *Guard) run(t *Task, cfg Config, msgs []types.Message, o turnOptions) {
	ctx := t.ctx
	log := g.log.With("session_id", cfg.SessionID, "task_id", t.ID)

	var extra []types.Message
	if o.awaitVision {
		if desc, ok := g.awaitVision(t, cfg.VisionWait); ok {
			o.vision = desc
			extra = append(extra, CameraContext(desc))
			msgs = append(msgs, extra...)
		}
		t.awaiting.Store(false)
	}
	if t.Cancelled() {
		return
	}

	var memories string
	if g.deps.Memory != nil {
		recalled, err := g.deps.Memory.Recall(ctx, cfg.SessionID, cfg.UserID, t.Text)
		if err != nil {
			log.Warn("memory recall failed", "err", err)
		} else {
			memories = memory.Format(recalled)
		}
	}

	req := llm.CompletionRequest{
		Messages: msgs,
		SystemPrompt: BuildSystemPrompt(Prompt{
			Persona:      cfg.Persona,
			CameraActive: o.cameraActive,
			Vision:       o.vision,
			Memories:     memories,
		}),
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	}

	start := time.Now()
	resp, err := g.deps.LLM.Complete(ctx, req)
	g.observe(ctx, "llm", start, err)
	if t.Cancelled() {
		return
	}
	if err != nil {
		log.Error("reply generation failed", "err", err)
		g.post(Result{Kind: Failed, Task: t, Err: fmt.Errorf("%w: %w", ErrGeneration, err)})
		return
	}

	text := ""
	if resp != nil {
		text = strings.TrimSpace(resp.Content)
	}
	if text == "" {
		text = FallbackReply
	}
	g.post(Result{Kind: ReplyReady, Task: t, Text: text, Context: extra})

	start = time.Now()
	audio, err := g.deps.TTS.Synthesize(ctx, text, cfg.Voice)
	g.observe(ctx, "tts", start, err)
	if t.Cancelled() {
		return
	}
	if err != nil {
		log.Error("speech synthesis failed", "err", err)
		g.post(Result{Kind: Failed, Task: t, Text: text, Err: fmt.Errorf("%w: %w", ErrSynthesis, err)})
		return
	}
	g.post(Result{Kind: AudioReady, Task: t, Text: text, Audio: audio})
}

// awaitVision blocks until a description is delivered, the wait elapses or
// the task ends.
func (g *Guard) awaitVision(t *Task, wait time.Duration) (string, bool) {
	expired := make(chan struct{})
	timer := g.deps.Clock.AfterFunc(wait, func() { close(expired) })
	defer timer.Stop()

	select {
	case desc := <-t.vision:
		return desc, desc != ""
	case <-expired:
		return "", false
	case <-t.ctx.Done():
		return "", false
	}
}

func (g *Guard) observe(ctx context.Context, kind string, start time.Time, err error) {
	m := g.deps.Metrics
	if m == nil {
		return
	}
	elapsed := time.Since(start).Seconds()
	switch kind {
	case "llm":
		m.LLMDuration.Record(ctx, elapsed)
	case "tts":
		m.TTSDuration.Record(ctx, elapsed)
	}
	status := "ok"
	if err != nil {
		status = "error"
		m.RecordProviderError(ctx, "generation", kind)
	}
	m.RecordProviderRequest(ctx, "generation", kind, status)
}
