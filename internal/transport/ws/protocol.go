package ws

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/novo-avatar/novo/internal/session"
	"github.com/novo-avatar/novo/pkg/provider/emotion"
	"github.com/novo-avatar/novo/pkg/types"
)

// Client message types. Binary messages carry microphone audio and have no
// type.
const (
	typeStartConversation = "start_conversation"
	typeStopConversation  = "stop_conversation"
	typeUpdateConfig      = "update_config"
	typeCameraStatus      = "camera_status"
	typeAnalyzeVision     = "analyze_vision"
	typePhotoCaptured     = "photo_captured"
	typePlaybackFinished  = "playback_finished"
)

// typeSessionOpened is the first message sent on every connection.
const typeSessionOpened = "session_opened"

// defaultImageMime is assumed for images sent as bare base64.
const defaultImageMime = "image/jpeg"

// errBadImage is returned for images that are neither a data URI nor base64.
var errBadImage = errors.New("ws: malformed image")

// clientMessage is a command from the browser. Only the fields relevant to
// Type are set.
type clientMessage struct {
	Type string `json:"type"`

	// start_conversation, update_config
	Config *clientConfig `json:"config,omitempty"`

	// camera_status
	Active bool `json:"active,omitempty"`

	// analyze_vision, photo_captured: a data URI or bare base64.
	Image     string `json:"image,omitempty"`
	Prompt    string `json:"prompt,omitempty"`
	Immediate bool   `json:"immediate,omitempty"`

	// playback_finished
	ItemID string `json:"item_id,omitempty"`
}

// clientConfig is the tunable part of the session settings. Durations are
// milliseconds.
type clientConfig struct {
	UserID            *string  `json:"user_id,omitempty"`
	EOTThreshold      *float64 `json:"eot_threshold,omitempty"`
	EagerEOTThreshold *float64 `json:"eager_eot_threshold,omitempty"`
	EOTTimeoutMS      *int     `json:"eot_timeout_ms,omitempty"`
	Keyterms          []string `json:"keyterms,omitempty"`
	DebounceMS        *int     `json:"debounce_ms,omitempty"`
	IdleTimeoutMS     *int     `json:"idle_timeout_ms,omitempty"`
	SystemPrompt      *string  `json:"system_prompt,omitempty"`
	Temperature       *float64 `json:"temperature,omitempty"`
	MaxTokens         *int     `json:"max_tokens,omitempty"`
	VoiceID           *string  `json:"voice_id,omitempty"`
	Emotion           *bool    `json:"emotion,omitempty"`
}

func (c *clientConfig) patch() session.ConfigPatch {
	if c == nil {
		return session.ConfigPatch{}
	}
	p := session.ConfigPatch{
		UserID:            c.UserID,
		EOTThreshold:      c.EOTThreshold,
		EagerEOTThreshold: c.EagerEOTThreshold,
		EOTTimeout:        millis(c.EOTTimeoutMS),
		Keyterms:          c.Keyterms,
		DebounceWindow:    millis(c.DebounceMS),
		IdleTimeout:       millis(c.IdleTimeoutMS),
		Persona:           c.SystemPrompt,
		Temperature:       c.Temperature,
		MaxTokens:         c.MaxTokens,
		Emotion:           c.Emotion,
	}
	if c.VoiceID != nil {
		p.Voice = &types.VoiceProfile{ID: *c.VoiceID}
	}
	return p
}

func millis(ms *int) *time.Duration {
	if ms == nil {
		return nil
	}
	d := time.Duration(*ms) * time.Millisecond
	return &d
}

// serverMessage is an event sent to the browser.
type serverMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`

	Text string `json:"text,omitempty"`

	// Audio is base64 encoded by encoding/json.
	Audio      []byte `json:"audio,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	ItemID     string `json:"item_id,omitempty"`

	Error  string `json:"error,omitempty"`
	Action string `json:"action,omitempty"`

	Description string `json:"description,omitempty"`
	Immediate   bool   `json:"immediate,omitempty"`
	Failed      bool   `json:"failed,omitempty"`

	Prompt   string          `json:"prompt,omitempty"`
	Emotions []emotion.Score `json:"emotions,omitempty"`
}

func toServerMessage(ev session.Event) serverMessage {
	return serverMessage{
		Type:        ev.Kind.String(),
		Text:        ev.Text,
		Audio:       ev.Audio,
		SampleRate:  ev.SampleRate,
		ItemID:      ev.ItemID,
		Error:       ev.Reason,
		Action:      ev.Action,
		Description: ev.Description,
		Immediate:   ev.Immediate,
		Failed:      ev.Error,
		Prompt:      ev.Prompt,
		Emotions:    ev.Emotions,
	}
}

// decodeImage accepts "data:<mime>;base64,<data>" or bare base64.
func decodeImage(s string) (data []byte, mime string, err error) {
	mime = defaultImageMime
	if rest, ok := strings.CutPrefix(s, "data:"); ok {
		header, payload, found := strings.Cut(rest, ",")
		if !found || !strings.HasSuffix(header, ";base64") {
			return nil, "", errBadImage
		}
		if m := strings.TrimSuffix(header, ";base64"); m != "" {
			mime = m
		}
		s = payload
	}
	data, err = base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", errBadImage, err)
	}
	if len(data) == 0 {
		return nil, "", errBadImage
	}
	return data, mime, nil
}
