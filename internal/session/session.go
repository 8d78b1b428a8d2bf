// Package session owns the per-user conversation sessions.
//
// A [Session] is an actor: one goroutine serialises every client command,
// transcription event, generation result and timer firing, so the turn state
// machine, the generation guard and the playback controller need no locks.
// Work that blocks (provider calls, persistence) runs on other goroutines and
// reports back through the session inbox. Outbound notifications are
// delivered in order on [Session.Events].
//
// The [Registry] creates, finds and closes sessions. Sessions share no
// mutable state.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/novo-avatar/novo/internal/clock"
	"github.com/novo-avatar/novo/internal/generation"
	"github.com/novo-avatar/novo/internal/intent"
	"github.com/novo-avatar/novo/internal/observe"
	"github.com/novo-avatar/novo/internal/playback"
	"github.com/novo-avatar/novo/internal/turn"
	"github.com/novo-avatar/novo/pkg/audio"
	"github.com/novo-avatar/novo/pkg/provider/emotion"
	"github.com/novo-avatar/novo/pkg/provider/llm"
	"github.com/novo-avatar/novo/pkg/provider/stt"
	"github.com/novo-avatar/novo/pkg/provider/tts"
	"github.com/novo-avatar/novo/pkg/provider/vision"
)

const (
	inboxSize  = 256
	eventsSize = 64

	// persistTimeout bounds background memory and presence writes.
	persistTimeout = 5 * time.Second

	// backpressureLogEvery rate-limits the backpressure warning.
	backpressureLogEvery = time.Second
)

// ErrSessionClosed is returned by commands sent to a closed session.
var ErrSessionClosed = errors.New("session: closed")

// Presence records session liveness. [presence.Store] implements it.
type Presence interface {
	Start(ctx context.Context, sessionID, userID string) error
	Touch(ctx context.Context, sessionID string) error
	SetState(ctx context.Context, sessionID, state string) error
	End(ctx context.Context, sessionID string) error
}

// Deps are the collaborators shared by all sessions of a registry.
type Deps struct {
	STT stt.Provider
	LLM llm.Provider
	TTS tts.Provider

	// Optional collaborators.
	Vision   vision.Provider
	Emotion  emotion.Provider
	Memory   Memory
	Presence Presence

	// Triggers recognises command phrases. Nil disables them.
	Triggers *turn.TriggerMatcher

	// Intents classifies finalized turns. Nil selects the default phrases.
	Intents *intent.Classifier

	// Clock drives every session timer. Nil selects the real clock.
	Clock clock.Clock

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	if d.Metrics == nil {
		d.Metrics = observe.DefaultMetrics()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Intents == nil {
		d.Intents = intent.New(nil, nil)
	}
	if d.Memory != nil {
		if _, ok := d.Memory.(*MemoryGuard); !ok {
			d.Memory = NewMemoryGuard(d.Memory)
		}
	}
	return d
}

// State is a snapshot of a session, taken inside the actor.
type State struct {
	ID           string
	Active       bool
	Turn         turn.State
	Speaking     bool
	Generating   bool
	PlayingItem  string
	IdleArmed    bool
	CameraActive bool
	LastVision   string
	HistoryLen   int
	Settings     Settings
}

// Session is one user's conversation. All exported methods are safe for
// concurrent use.
type Session struct {
	id      string
	userID  string
	created time.Time
	deps    Deps
	log     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	inbox  chan any
	events chan Event
	done   chan struct{}
	once   sync.Once

	// Actor-owned state below.
	settings Settings
	conv     *conversation
	convSeq  uint64
	machine  *turn.Machine
	history  *generation.History
	guard    *generation.Guard
	player   *playback.Controller

	cameraActive bool
	lastVision   string

	// cueTask is a task started for a client cue rather than user speech.
	// Its exchange is not remembered.
	cueTask *generation.Task

	lastBackpressureLog time.Time
}

// New creates a session and starts its actor. The session lives until
// [Session.Close] or until ctx is cancelled.
func New(ctx context.Context, id string, settings Settings, deps Deps) *Session {
	deps = deps.withDefaults()
	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		id:       id,
		userID:   settings.UserID,
		created:  deps.Clock.Now(),
		deps:     deps,
		log:      deps.Logger.With("session_id", id),
		ctx:      ctx,
		cancel:   cancel,
		inbox:    make(chan any, inboxSize),
		events:   make(chan Event, eventsSize),
		done:     make(chan struct{}),
		settings: settings.withDefaults(),
	}
	s.machine = turn.NewMachine(turn.Config{
		DebounceWindow: s.settings.DebounceWindow,
		Triggers:       deps.Triggers,
	})
	s.player = playback.New(deps.Clock, playback.Config{
		IdleTimeout: s.settings.IdleTimeout,
		Grace:       s.settings.PlaybackGrace,
	}, func(f playback.Fire) { s.post(f) })
	s.resetGeneration()

	deps.Metrics.ActiveSessions.Add(ctx, 1)
	go s.run()
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Created returns when the session was opened.
func (s *Session) Created() time.Time { return s.created }

// Events returns the outbound event channel. It is closed when the session
// ends.
func (s *Session) Events() <-chan Event { return s.events }

// Done is closed once the actor has stopped.
func (s *Session) Done() <-chan struct{} { return s.done }

// Close stops the session and waits for the actor to exit. It is
// idempotent.
func (s *Session) Close() {
	s.once.Do(s.cancel)
	<-s.done
}

// ---- commands ----

type (
	startMsg    struct{ patch ConfigPatch }
	stopMsg     struct{}
	audioMsg    struct{ pcm []byte }
	updateMsg   struct{ patch ConfigPatch }
	cameraMsg   struct{ active bool }
	finishedMsg struct{ id string }
	stateMsg    struct{ reply chan State }
	analyzeMsg  struct {
		image     []byte
		mime      string
		prompt    string
		immediate bool
	}
	photoMsg struct {
		image []byte
		mime  string
	}
)

// StartConversation patches the settings, clears the history and opens a
// transcription stream.
func (s *Session) StartConversation(patch ConfigPatch) error {
	return s.send(startMsg{patch: patch})
}

// StopConversation closes the transcription stream and silences the agent.
func (s *Session) StopConversation() error { return s.send(stopMsg{}) }

// AudioFrame submits microphone audio (mono PCM16 at the session sample
// rate). Audio outside an active conversation is dropped.
func (s *Session) AudioFrame(pcm []byte) error { return s.send(audioMsg{pcm: pcm}) }

// UpdateConfig patches the settings of the running session.
func (s *Session) UpdateConfig(patch ConfigPatch) error {
	return s.send(updateMsg{patch: patch})
}

// CameraStatus reports whether the client camera is on.
func (s *Session) CameraStatus(active bool) error { return s.send(cameraMsg{active: active}) }

// AnalyzeVision describes a camera frame. When immediate, the agent also
// replies to prompt about it.
func (s *Session) AnalyzeVision(image []byte, mime, prompt string, immediate bool) error {
	return s.send(analyzeMsg{image: image, mime: mime, prompt: prompt, immediate: immediate})
}

// PhotoCaptured describes a photo the client took and has the agent comment
// on it.
func (s *Session) PhotoCaptured(image []byte, mime string) error {
	return s.send(photoMsg{image: image, mime: mime})
}

// PlaybackFinished reports that the client finished playing item id.
func (s *Session) PlaybackFinished(id string) error { return s.send(finishedMsg{id: id}) }

// State returns a snapshot of the session. Every command sent before the
// call has been applied when it returns.
func (s *Session) State(ctx context.Context) (State, error) {
	reply := make(chan State, 1)
	if err := s.send(stateMsg{reply: reply}); err != nil {
		return State{}, err
	}
	select {
	case st := <-reply:
		return st, nil
	case <-s.done:
		return State{}, ErrSessionClosed
	case <-ctx.Done():
		return State{}, ctx.Err()
	}
}

func (s *Session) send(m any) error {
	if !s.post(m) {
		return ErrSessionClosed
	}
	return nil
}

// post hands m to the actor. It reports false once the session is closed.
func (s *Session) post(m any) bool {
	select {
	case <-s.ctx.Done():
		return false
	default:
	}
	select {
	case s.inbox <- m:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// ---- actor ----

func (s *Session) run() {
	defer close(s.done)
	defer close(s.events)
	defer s.shutdown()

	for {
		select {
		case <-s.ctx.Done():
			return
		case m := <-s.inbox:
			s.handle(m)
		}
	}
}

func (s *Session) handle(m any) {
	switch m := m.(type) {
	case startMsg:
		s.start(m.patch)
	case stopMsg:
		s.stop()
	case audioMsg:
		s.audio(m.pcm)
	case updateMsg:
		s.settings = m.patch.Apply(s.settings)
		s.applySettings()
	case cameraMsg:
		s.cameraActive = m.active
		if !m.active {
			s.lastVision = ""
		}
	case analyzeMsg:
		s.describe(visionAnalyze, m.image, m.mime, m.prompt, m.immediate)
	case photoMsg:
		s.describe(visionPhoto, m.image, m.mime, generation.PhotoPrompt, false)
	case finishedMsg:
		s.player.Finished(m.id)
	case stateMsg:
		m.reply <- s.snapshot()

	case sttEventMsg:
		if s.current(m.gen) {
			s.transcript(m.ev)
		}
	case sttClosedMsg:
		if s.current(m.gen) {
			s.log.Warn("transcription stream closed", "err", m.err)
			s.fail(ReasonTransport)
		}
	case ingestFailedMsg:
		if s.current(m.gen) {
			s.log.Warn("audio forwarding failed", "err", m.err)
			s.fail(ReasonTransport)
		}
	case emotionMsg:
		if s.current(m.gen) {
			s.emit(Event{Kind: EmotionsDetected, Emotions: m.scores})
		}
	case generation.Result:
		s.generated(m)
	case playback.Fire:
		if s.player.Handle(m) == playback.IdleCue {
			s.emit(Event{Kind: IdleCue})
		}
	case visionDoneMsg:
		s.visionDone(m)
	default:
		s.log.Error("session: unknown message", "type", fmt.Sprintf("%T", m))
	}
}

func (s *Session) shutdown() {
	s.closeConversation()
	s.guard.Cancel()
	s.player.Close()
	s.deps.Metrics.ActiveSessions.Add(context.WithoutCancel(s.ctx), -1)
	if p := s.deps.Presence; p != nil {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), persistTimeout)
		defer cancel()
		if err := p.End(ctx, s.id); err != nil {
			s.log.Warn("presence end failed", "err", err)
		}
	}
	s.log.Info("session closed")
}

// emit delivers ev, waiting for the consumer while the session is open.
func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

func (s *Session) snapshot() State {
	st := State{
		ID:           s.id,
		Active:       s.conv != nil,
		Turn:         s.machine.State(),
		Speaking:     s.machine.Speaking(),
		Generating:   s.guard.Busy(),
		IdleArmed:    s.player.IdleArmed(),
		CameraActive: s.cameraActive,
		LastVision:   s.lastVision,
		HistoryLen:   s.history.Len(),
		Settings:     s.settings,
	}
	if item, ok := s.player.Playing(); ok {
		st.PlayingItem = item.ID
	}
	return st
}

// resetGeneration replaces the history and the guard, cancelling any task of
// the previous guard.
func (s *Session) resetGeneration() {
	if s.guard != nil {
		s.guard.Cancel()
	}
	s.history = generation.NewHistory(generation.HistoryConfig{MaxMessages: s.settings.HistoryMaxMessages})
	var rec generation.Recaller
	if s.deps.Memory != nil {
		rec = s.deps.Memory
	}
	s.guard = generation.NewGuard(s.ctx, s.generationConfig(), generation.Deps{
		LLM:     s.deps.LLM,
		TTS:     s.deps.TTS,
		Memory:  rec,
		Clock:   s.deps.Clock,
		Metrics: s.deps.Metrics,
		Logger:  s.deps.Logger,
	}, s.history, func(r generation.Result) { s.post(r) })
	s.cueTask = nil
}

func (s *Session) generationConfig() generation.Config {
	return generation.Config{
		SessionID:   s.id,
		UserID:      s.settings.UserID,
		Persona:     s.settings.Persona,
		Temperature: s.settings.Temperature,
		MaxTokens:   s.settings.MaxTokens,
		Voice:       s.settings.Voice,
		VisionWait:  s.settings.VisionWait,
	}
}

func (s *Session) applySettings() {
	s.machine.SetDebounceWindow(s.settings.DebounceWindow)
	s.player.SetIdleTimeout(s.settings.IdleTimeout)
	s.guard.SetConfig(s.generationConfig())
}

// ---- transcript ----

func (s *Session) transcript(ev stt.TurnEvent) {
	for _, sig := range s.machine.Handle(ev, s.deps.Clock.Now()) {
		switch sig.Kind {
		case turn.SpeechActivity:
			s.bargeIn()
		case turn.UserStartedSpeaking:
			s.emit(Event{Kind: UserStartedSpeaking})
		case turn.Partial:
			s.emit(Event{Kind: PartialTranscript, Text: sig.Text})
		case turn.EarlyFinalHint:
			s.log.Debug("probable end of turn", "confidence", sig.Confidence)
		case turn.TurnCompleted:
			s.emit(Event{Kind: FinalTranscript, Text: sig.Text})
			s.turnCompleted(sig.Text, sig.Confidence)
		case turn.ActionTriggered:
			s.emit(Event{Kind: FinalTranscript, Text: sig.Text})
			s.emit(Event{Kind: ActionTriggered, Action: sig.Action})
			s.deps.Metrics.RecordTurn(s.ctx, "action")
		case turn.ConversationError:
			s.emit(Event{Kind: ConversationError, Reason: sig.Text})
		}
	}
}

// bargeIn cancels generation, stops playback and disarms the idle cue in one
// actor step.
func (s *Session) bargeIn() {
	cancelled := s.guard.Cancel()
	interrupted := s.player.Interrupt()
	s.player.UserActivity()
	if cancelled || interrupted {
		s.deps.Metrics.BargeIns.Add(s.ctx, 1)
		s.log.Debug("barge-in", "cancelled_generation", cancelled, "interrupted_playback", interrupted)
	}
}

func (s *Session) turnCompleted(text string, confidence float64) {
	s.player.UserActivity()

	in := s.deps.Intents.Classify(text)
	if in.Photo {
		s.emit(Event{Kind: ActionTriggered, Action: ActionPreparePhoto})
	}
	opts := []generation.TurnOption{generation.WithScene(s.cameraActive, s.lastVision)}
	if in.Vision && s.cameraActive {
		s.emit(Event{Kind: VisionRequested, Prompt: text})
		opts = append(opts, generation.AwaitVision())
	}

	if s.guard.OnTurnCompleted(text, confidence, opts...) {
		s.deps.Metrics.RecordTurn(s.ctx, "generated")
	} else {
		s.deps.Metrics.RecordTurn(s.ctx, "dropped")
	}
}

// ---- generation ----

func (s *Session) generated(r generation.Result) {
	if !s.guard.Commit(r) {
		return
	}
	switch r.Kind {
	case generation.ReplyReady:
		s.emit(Event{Kind: AgentReply, Text: r.Text})
		if r.Task != s.cueTask {
			s.persist(r.Task.Text, r.Text)
		}
	case generation.AudioReady:
		s.deps.Metrics.ReplyDuration.Record(s.ctx, s.deps.Clock.Now().Sub(r.Task.Started).Seconds())
		item := playback.Item{
			ID:       uuid.NewString(),
			Audio:    r.Audio,
			Text:     r.Text,
			Duration: audio.Duration(len(r.Audio), s.settings.OutputSampleRate),
		}
		s.player.Play(item)
		s.emit(Event{
			Kind:       AgentSpeaking,
			Text:       r.Text,
			Audio:      r.Audio,
			SampleRate: s.settings.OutputSampleRate,
			ItemID:     item.ID,
		})
		s.cueTask = nil
	case generation.Failed:
		reason := ReasonGeneration
		if errors.Is(r.Err, generation.ErrSynthesis) {
			reason = ReasonSynthesis
		}
		s.emit(Event{Kind: ConversationError, Reason: reason})
		s.cueTask = nil
	}
}

// persist remembers a committed exchange and refreshes presence in the
// background. Failures are logged by the collaborators.
func (s *Session) persist(userText, reply string) {
	mem, pres := s.deps.Memory, s.deps.Presence
	if mem == nil && pres == nil {
		return
	}
	sessionID, userID := s.id, s.settings.UserID
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), persistTimeout)
		defer cancel()
		if mem != nil {
			_ = mem.Remember(ctx, sessionID, userID, userText, reply)
		}
		if pres != nil {
			if err := pres.Touch(ctx, sessionID); err != nil {
				s.log.Warn("presence touch failed", "err", err)
			}
		}
	}()
}

// presenceState records a state change in the background.
func (s *Session) presenceState(state string, start bool) {
	p := s.deps.Presence
	if p == nil {
		return
	}
	sessionID, userID := s.id, s.settings.UserID
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), persistTimeout)
		defer cancel()
		var err error
		if start {
			err = p.Start(ctx, sessionID, userID)
		} else {
			err = p.SetState(ctx, sessionID, state)
		}
		if err != nil {
			s.log.Warn("presence update failed", "state", state, "err", err)
		}
	}()
}
