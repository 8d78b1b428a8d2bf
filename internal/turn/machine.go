// Package turn implements the per-session turn-taking state machine.
//
// The [Machine] consumes canonical [stt.TurnEvent] values in transport order
// and decides when a user turn is complete and ready for a reply. It is a
// plain synchronous value: Handle returns the signals an event produced and
// never blocks, spawns goroutines or reads the wall clock. The owning session
// supplies the time so debounce behaviour is deterministic under test.
package turn

import (
	"time"

	"github.com/novo-avatar/novo/pkg/provider/stt"
)

// DefaultDebounceWindow bounds how often UserStartedSpeaking may be emitted.
const DefaultDebounceWindow = 500 * time.Millisecond

// State is the primary turn state.
type State int

const (
	// Idle means no user turn is open.
	Idle State = iota

	// Listening means a user turn is open and accumulating transcript.
	Listening

	// Finalizing means the provider closed the turn and its transcript is
	// being handed off. The machine leaves it before Handle returns.
	Finalizing
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Finalizing:
		return "finalizing"
	default:
		return "unknown"
	}
}

// SignalKind enumerates the outputs of the state machine.
type SignalKind int

const (
	// UserStartedSpeaking announces user speech to the presentation layer.
	// It is debounced.
	UserStartedSpeaking SignalKind = iota + 1

	// Partial carries the current best transcript of the open turn.
	Partial

	// EarlyFinalHint reports a probable end of turn. It must not be
	// committed to.
	EarlyFinalHint

	// TurnCompleted carries a finalized, non-empty user turn. It is the only
	// trigger for reply generation.
	TurnCompleted

	// ActionTriggered reports a finalized turn that was a command phrase.
	// The turn never reaches the conversation history.
	ActionTriggered

	// ConversationError reports a transcription failure.
	ConversationError

	// SpeechActivity is the barge-in trigger. It accompanies every onset of
	// user speech and is never debounced, so agent output is cancelled even
	// when the UserStartedSpeaking announcement is suppressed.
	SpeechActivity
)

// String returns the signal kind name.
func (k SignalKind) String() string {
	switch k {
	case UserStartedSpeaking:
		return "UserStartedSpeaking"
	case Partial:
		return "Partial"
	case EarlyFinalHint:
		return "EarlyFinalHint"
	case TurnCompleted:
		return "TurnCompleted"
	case ActionTriggered:
		return "ActionTriggered"
	case ConversationError:
		return "ConversationError"
	case SpeechActivity:
		return "SpeechActivity"
	default:
		return "Unknown"
	}
}

// Signal is one output of [Machine.Handle].
type Signal struct {
	Kind SignalKind

	// Text is the transcript (Partial, EarlyFinalHint, TurnCompleted,
	// ActionTriggered) or the failure reason (ConversationError).
	Text string

	// Confidence accompanies TurnCompleted and EarlyFinalHint.
	Confidence float64

	// Action is the action kind for ActionTriggered.
	Action string
}

// Utterance is the best-known transcript of the current turn.
type Utterance struct {
	Text       string
	Confidence float64
	Finalized  bool
}

// Config tunes a [Machine].
type Config struct {
	// DebounceWindow is the minimum spacing of UserStartedSpeaking signals.
	// Zero selects [DefaultDebounceWindow].
	DebounceWindow time.Duration

	// Triggers recognises command phrases in finalized turns. Nil disables
	// command handling.
	Triggers *TriggerMatcher
}

// Machine is the turn state machine for one session. It is not safe for
// concurrent use; the session actor owns it.
type Machine struct {
	debounce time.Duration
	triggers *TriggerMatcher

	state     State
	utterance Utterance

	// speaking is the speech-activity signal. It is independent of state: it
	// turns on with any sign of user speech and off when the provider
	// reports the user paused or finished.
	speaking bool

	lastStarted time.Time
	emitted     bool
}

// NewMachine returns a Machine in the Idle state.
func NewMachine(cfg Config) *Machine {
	d := cfg.DebounceWindow
	if d <= 0 {
		d = DefaultDebounceWindow
	}
	return &Machine{debounce: d, triggers: cfg.Triggers}
}

// State returns the primary state.
func (m *Machine) State() State { return m.state }

// Utterance returns the current turn's transcript.
func (m *Machine) Utterance() Utterance { return m.utterance }

// Speaking reports the speech-activity signal.
func (m *Machine) Speaking() bool { return m.speaking }

// SetDebounceWindow changes the debounce window for subsequent events.
func (m *Machine) SetDebounceWindow(d time.Duration) {
	if d > 0 {
		m.debounce = d
	}
}

// Reset returns the machine to Idle with an empty utterance. The debounce
// history is kept so a restart cannot burst interrupts.
func (m *Machine) Reset() {
	m.state = Idle
	m.utterance = Utterance{}
	m.speaking = false
}

// Handle applies ev at time now and returns the resulting signals in emission
// order.
func (m *Machine) Handle(ev stt.TurnEvent, now time.Time) []Signal {
	var out []Signal

	switch ev.Kind {
	case stt.TurnStarted:
		m.state = Listening
		m.utterance = Utterance{}
		m.speaking = true
		out = m.startedSpeaking(out, now)

	case stt.PartialTranscript:
		if ev.Text == "" {
			break
		}
		if m.state == Idle {
			// Speech with no announced start still opens a turn.
			m.state = Listening
			m.utterance = Utterance{}
		}
		if !m.speaking {
			m.speaking = true
			out = m.startedSpeaking(out, now)
		}
		m.utterance.Text = ev.Text
		m.utterance.Confidence = ev.Confidence
		out = append(out, Signal{Kind: Partial, Text: ev.Text})

	case stt.EarlyFinal:
		if m.state != Listening {
			break
		}
		if ev.Text != "" {
			m.utterance.Text = ev.Text
			m.utterance.Confidence = ev.Confidence
		}
		m.speaking = false
		out = append(out, Signal{Kind: EarlyFinalHint, Text: m.utterance.Text, Confidence: ev.Confidence})

	case stt.TurnContinued:
		if m.state != Listening {
			break
		}
		if ev.Text != "" {
			m.utterance.Text = ev.Text
		}

	case stt.TurnFinal:
		out = m.finalize(out, ev)

	case stt.TranscriptionError:
		m.Reset()
		reason := ev.Text
		if reason == "" {
			reason = "transcription failed"
		}
		out = append(out, Signal{Kind: ConversationError, Text: reason})
	}

	return out
}

// finalize closes the current turn with ev and returns to Idle.
func (m *Machine) finalize(out []Signal, ev stt.TurnEvent) []Signal {
	m.state = Finalizing
	if ev.Text != "" {
		m.utterance.Text = ev.Text
	}
	m.utterance.Confidence = ev.Confidence
	m.utterance.Finalized = true
	text := m.utterance.Text
	conf := m.utterance.Confidence

	m.Reset()

	if text == "" {
		return out
	}
	if action, ok := m.triggers.Match(text); ok {
		return append(out, Signal{Kind: ActionTriggered, Text: text, Action: action})
	}
	return append(out, Signal{Kind: TurnCompleted, Text: text, Confidence: conf})
}

// startedSpeaking appends SpeechActivity, then UserStartedSpeaking unless one
// was emitted within the debounce window.
func (m *Machine) startedSpeaking(out []Signal, now time.Time) []Signal {
	out = append(out, Signal{Kind: SpeechActivity})
	if m.emitted && now.Sub(m.lastStarted) < m.debounce {
		return out
	}
	m.emitted = true
	m.lastStarted = now
	return append(out, Signal{Kind: UserStartedSpeaking})
}
