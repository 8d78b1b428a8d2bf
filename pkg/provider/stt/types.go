package stt

import (
	"errors"
	"time"
)

// ErrMalformedEvent marks a provider message that could not be mapped onto a
// [TurnEvent]. Such messages are dropped; they never end a turn.
var ErrMalformedEvent = errors.New("stt: malformed event")

// ErrIgnored marks a well-formed provider control message (connection
// acknowledgements, metadata) that carries no turn meaning.
var ErrIgnored = errors.New("stt: ignored message")

// EventKind enumerates the canonical turn event vocabulary.
type EventKind int

const (
	// TurnStarted reports that the user began a new turn.
	TurnStarted EventKind = iota + 1

	// PartialTranscript carries the provider's current best transcript for
	// the open turn.
	PartialTranscript

	// EarlyFinal is a low-latency hint that the turn is probably over. It never
	// finalizes the turn on its own.
	EarlyFinal

	// TurnContinued reports that the user resumed speaking after an early
	// final hint.
	TurnContinued

	// TurnFinal closes the turn with its authoritative transcript.
	TurnFinal

	// TranscriptionError reports a provider-side failure.
	TranscriptionError
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case TurnStarted:
		return "TurnStarted"
	case PartialTranscript:
		return "PartialTranscript"
	case EarlyFinal:
		return "EarlyFinal"
	case TurnContinued:
		return "TurnContinued"
	case TurnFinal:
		return "TurnFinal"
	case TranscriptionError:
		return "TranscriptionError"
	default:
		return "Unknown"
	}
}

// TurnEvent is a canonical, provider-independent turn event. Values are
// comparable with ==.
type TurnEvent struct {
	// Kind selects the event type.
	Kind EventKind

	// Text is the transcript for transcript-bearing kinds, or the
	// human-readable failure reason for [TranscriptionError].
	Text string

	// Confidence is the provider's end-of-turn confidence in the range 0..1.
	Confidence float64

	// Timestamp is the end of the audio window the event describes, measured
	// from the start of the stream.
	Timestamp time.Duration

	// TurnIndex identifies the turn within the stream, starting at 0.
	TurnIndex int
}
