package session

import "github.com/novo-avatar/novo/pkg/provider/emotion"

// EventKind identifies an outbound session event.
type EventKind int

const (
	// ConversationStarted follows a successful StartConversation.
	ConversationStarted EventKind = iota + 1

	// UserStartedSpeaking reports speech onset. It is debounced.
	UserStartedSpeaking

	// PartialTranscript carries the current best transcript.
	PartialTranscript

	// FinalTranscript carries a finalized user turn.
	FinalTranscript

	// AgentReply carries the reply text before its audio is ready.
	AgentReply

	// AgentSpeaking carries reply audio and starts a playback item.
	AgentSpeaking

	// ConversationStopped follows StopConversation.
	ConversationStopped

	// ConversationError carries a human-readable failure reason.
	ConversationError

	// ActionTriggered carries an action kind for the client to perform.
	ActionTriggered

	// IdleCue reports that the agent has been silent for the idle window.
	IdleCue

	// VisionResult carries a camera description.
	VisionResult

	// VisionRequested asks the client for a fresh camera frame.
	VisionRequested

	// EmotionsDetected carries the strongest prosody emotions.
	EmotionsDetected
)

// String returns the wire name of the event.
func (k EventKind) String() string {
	switch k {
	case ConversationStarted:
		return "conversation_started"
	case UserStartedSpeaking:
		return "user_started_speaking"
	case PartialTranscript:
		return "partial_transcript"
	case FinalTranscript:
		return "final_transcript"
	case AgentReply:
		return "agent_reply"
	case AgentSpeaking:
		return "agent_speaking"
	case ConversationStopped:
		return "conversation_stopped"
	case ConversationError:
		return "conversation_error"
	case ActionTriggered:
		return "action_triggered"
	case IdleCue:
		return "idle_cue"
	case VisionResult:
		return "vision_result"
	case VisionRequested:
		return "vision_requested"
	case EmotionsDetected:
		return "emotions_detected"
	default:
		return "unknown"
	}
}

// Event is one outbound notification. Only the fields relevant to Kind are
// set.
type Event struct {
	Kind EventKind

	// Text is the transcript, the reply or the spoken text of AgentSpeaking.
	Text string

	// Audio is mono PCM16 at SampleRate (AgentSpeaking).
	Audio      []byte
	SampleRate int

	// ItemID names the playback item (AgentSpeaking). The client reports it
	// back through PlaybackFinished.
	ItemID string

	// Reason is set for ConversationError.
	Reason string

	// Action is set for ActionTriggered.
	Action string

	// Description, Immediate and Error describe a VisionResult. When Error
	// is set Description holds a message fit for display.
	Description string
	Immediate   bool
	Error       bool

	// Prompt is the user question behind a VisionRequested.
	Prompt string

	Emotions []emotion.Score
}

// Action kinds reported through ActionTriggered besides trigger phrases.
const (
	// ActionPreparePhoto asks the client to get the camera ready after the
	// user asked for a picture.
	ActionPreparePhoto = "prepare_photo"
)

// Failure reasons reported through ConversationError.
const (
	ReasonConnect     = "Failed to connect to transcription"
	ReasonTransport   = "Transcription connection error"
	ReasonGeneration  = "Failed to generate response"
	ReasonSynthesis   = "Failed to generate speech"
	visionFailureText = "Sorry, I had trouble analyzing the image."
)
