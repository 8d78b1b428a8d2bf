package flux

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/novo-avatar/novo/pkg/provider/stt"
)

// message is the subset of a Flux server message the normalizer reads.
type message struct {
	Type                string  `json:"type"`
	Event               string  `json:"event"`
	TurnIndex           int     `json:"turn_index"`
	AudioWindowEnd      float64 `json:"audio_window_end"`
	Transcript          string  `json:"transcript"`
	EndOfTurnConfidence float64 `json:"end_of_turn_confidence"`

	// Error messages.
	Code        string `json:"code"`
	Description string `json:"description"`
}

// turnEvents maps Flux TurnInfo events onto canonical kinds.
var turnEvents = map[string]stt.EventKind{
	"StartOfTurn":    stt.TurnStarted,
	"Update":         stt.PartialTranscript,
	"EagerEndOfTurn": stt.EarlyFinal,
	"TurnResumed":    stt.TurnContinued,
	"EndOfTurn":      stt.TurnFinal,
}

// Normalize implements stt.Normalizer for Flux server messages.
func (p *Provider) Normalize(raw []byte) (stt.TurnEvent, error) {
	return Normalize(raw)
}

// Normalize maps a raw Flux message onto a canonical turn event. It is a pure
// function of raw.
func Normalize(raw []byte) (stt.TurnEvent, error) {
	var m message
	if err := json.Unmarshal(raw, &m); err != nil {
		return stt.TurnEvent{}, fmt.Errorf("flux: %w: %v", stt.ErrMalformedEvent, err)
	}

	switch m.Type {
	case "TurnInfo":
		kind, ok := turnEvents[m.Event]
		if !ok {
			return stt.TurnEvent{}, fmt.Errorf("flux: %w: unknown turn event %q", stt.ErrMalformedEvent, m.Event)
		}
		return stt.TurnEvent{
			Kind:       kind,
			Text:       m.Transcript,
			Confidence: clamp01(m.EndOfTurnConfidence),
			Timestamp:  seconds(m.AudioWindowEnd),
			TurnIndex:  m.TurnIndex,
		}, nil

	case "Error", "FatalError":
		reason := m.Description
		if reason == "" {
			reason = m.Code
		}
		if reason == "" {
			reason = "transcription provider error"
		}
		return stt.TurnEvent{Kind: stt.TranscriptionError, Text: reason}, nil

	case "Connected", "ConfigureSuccess":
		return stt.TurnEvent{}, stt.ErrIgnored

	case "":
		return stt.TurnEvent{}, fmt.Errorf("flux: %w: missing type", stt.ErrMalformedEvent)

	default:
		return stt.TurnEvent{}, fmt.Errorf("flux: %w: unknown message type %q", stt.ErrMalformedEvent, m.Type)
	}
}

func seconds(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
