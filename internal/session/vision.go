package session

import (
	"context"
	"time"

	"github.com/novo-avatar/novo/internal/generation"
	"github.com/novo-avatar/novo/pkg/provider/vision"
	"github.com/novo-avatar/novo/pkg/types"
)

// visionKind distinguishes why an image is being described.
type visionKind int

const (
	visionAnalyze visionKind = iota + 1
	visionPhoto
)

// visionDoneMsg carries a finished description back to the actor.
type visionDoneMsg struct {
	kind      visionKind
	desc      string
	err       error
	prompt    string
	immediate bool
}

// describe runs the vision provider in the background.
func (s *Session) describe(kind visionKind, image []byte, mime, prompt string, immediate bool) {
	if s.deps.Vision == nil {
		s.log.Warn("vision request without a vision provider")
		s.emit(Event{Kind: VisionResult, Description: visionFailureText, Immediate: immediate, Error: true})
		return
	}
	if prompt == "" {
		prompt = vision.DefaultPrompt
	}
	provider := s.deps.Vision
	go func() {
		start := time.Now()
		desc, err := provider.Describe(s.ctx, image, mime, prompt)
		s.deps.Metrics.VisionDuration.Record(context.WithoutCancel(s.ctx), time.Since(start).Seconds())
		status := "ok"
		if err != nil {
			status = "error"
		}
		s.deps.Metrics.RecordProviderRequest(context.WithoutCancel(s.ctx), "vision", "describe", status)
		s.post(visionDoneMsg{kind: kind, desc: desc, err: err, prompt: prompt, immediate: immediate})
	}()
}

func (s *Session) visionDone(m visionDoneMsg) {
	if m.err != nil {
		s.log.Error("vision analysis failed", "err", m.err)
		s.deps.Metrics.RecordProviderError(s.ctx, "vision", "describe")
		if m.kind == visionPhoto {
			return
		}
		s.emit(Event{Kind: VisionResult, Description: visionFailureText, Immediate: m.immediate, Error: true})
		return
	}

	s.lastVision = m.desc
	s.emit(Event{Kind: VisionResult, Description: m.desc, Immediate: m.immediate})

	switch m.kind {
	case visionAnalyze:
		if s.guard.DeliverVision(m.desc) {
			return
		}
		if m.immediate {
			s.replyToView(m.prompt, m.desc)
		}
	case visionPhoto:
		s.cameraActive = true
		s.replyToPhoto(m.desc)
	}
}

// replyToView answers the user's question about a frame they sent.
func (s *Session) replyToView(prompt, desc string) {
	if s.guard.Busy() {
		s.log.Info("generation in flight, skipping vision reply")
		return
	}
	s.history.Append(
		types.Message{Role: types.RoleUser, Content: prompt},
		generation.VisionContext(desc),
	)
	s.guard.OnTurnCompleted(prompt, 1,
		generation.WithoutUserMessage(),
		generation.WithScene(s.cameraActive, desc))
}

// replyToPhoto has the agent comment on a photo. It supersedes any reply in
// flight.
func (s *Session) replyToPhoto(desc string) {
	if s.guard.Cancel() {
		s.log.Info("photo captured, cancelling reply in flight")
	}
	s.player.UserActivity()
	s.history.Append(generation.PhotoContext(desc))
	if s.guard.OnTurnCompleted(generation.PhotoReplyCue, 1,
		generation.Transient(),
		generation.WithScene(true, desc)) {
		s.cueTask = s.guard.Current()
	}
}
