package session

import (
	"context"
	"errors"
	"time"

	"github.com/novo-avatar/novo/internal/presence"
	"github.com/novo-avatar/novo/pkg/audio"
	"github.com/novo-avatar/novo/pkg/audio/ingest"
	"github.com/novo-avatar/novo/pkg/provider/emotion"
	"github.com/novo-avatar/novo/pkg/provider/stt"
)

// emotionQueue bounds the frames waiting for the emotion stream. Frames are
// dropped when it is full.
const emotionQueue = 4

// Messages posted by the goroutines of a conversation. gen identifies the
// conversation so reports from a closed one are ignored.
type (
	sttEventMsg struct {
		gen uint64
		ev  stt.TurnEvent
	}
	sttClosedMsg struct {
		gen uint64
		err error
	}
	ingestFailedMsg struct {
		gen uint64
		err error
	}
	emotionMsg struct {
		gen    uint64
		scores []emotion.Score
	}
)

// conversation is the transport side of an active conversation: the
// transcription stream, the ingest pipeline feeding it and the optional
// emotion stream.
type conversation struct {
	gen      uint64
	stream   stt.Stream
	pipeline *ingest.Pipeline
	framer   *ingest.Framer
	cancel   context.CancelFunc

	emotion   emotion.Stream
	emotionIn chan []byte
	sampler   *emotion.Sampler
}

func (c *conversation) close() {
	c.cancel()
	_ = c.stream.Close()
	if c.emotion != nil {
		_ = c.emotion.Close()
	}
}

// current reports whether gen names the active conversation.
func (s *Session) current(gen uint64) bool {
	return s.conv != nil && s.conv.gen == gen
}

func (s *Session) start(patch ConfigPatch) {
	if s.conv != nil {
		s.log.Info("restarting conversation")
		s.closeConversation()
	}
	s.settings = patch.Apply(s.settings)
	s.resetGeneration()
	s.applySettings()
	s.machine.Reset()
	s.player.Interrupt()
	s.player.UserActivity()

	cfg := s.settings
	start := time.Now()
	stream, err := s.deps.STT.Connect(s.ctx, stt.StreamConfig{
		SampleRate:        cfg.SampleRate,
		Model:             cfg.Model,
		EOTThreshold:      cfg.EOTThreshold,
		EagerEOTThreshold: cfg.EagerEOTThreshold,
		EOTTimeout:        cfg.EOTTimeout,
		Keyterms:          cfg.Keyterms,
	})
	s.deps.Metrics.STTDuration.Record(s.ctx, time.Since(start).Seconds())
	if err != nil {
		s.log.Error("transcription connect failed", "err", err)
		s.deps.Metrics.RecordProviderError(s.ctx, "stt", "connect")
		s.emit(Event{Kind: ConversationError, Reason: ReasonConnect})
		return
	}
	s.deps.Metrics.RecordProviderRequest(s.ctx, "stt", "connect", "ok")

	s.convSeq++
	ctx, cancel := context.WithCancel(s.ctx)
	c := &conversation{
		gen:    s.convSeq,
		stream: stream,
		framer: ingest.NewFramer(audio.FrameBytes(cfg.SampleRate, cfg.FrameDuration)),
		cancel: cancel,
	}
	c.pipeline = ingest.New(stream,
		ingest.WithCapacity(cfg.IngestQueue),
		ingest.WithDrainInterval(cfg.DrainInterval),
		ingest.WithSentHook(func(n int) { s.deps.Metrics.IngestBytes.Add(ctx, int64(n)) }),
	)
	go s.forward(ctx, c)
	go s.readTranscripts(c)
	s.connectEmotion(ctx, c)

	s.conv = c
	s.deps.Metrics.ActiveConversations.Add(s.ctx, 1)
	s.presenceState(presence.StateActive, c.gen == 1)
	s.log.Info("conversation started", "user_id", cfg.UserID, "sample_rate", cfg.SampleRate)
	s.emit(Event{Kind: ConversationStarted})
}

func (s *Session) stop() {
	s.closeConversation()
	s.guard.Cancel()
	s.player.Interrupt()
	s.player.UserActivity()
	s.machine.Reset()
	s.presenceState(presence.StateIdle, false)
	s.log.Info("conversation stopped")
	s.emit(Event{Kind: ConversationStopped})
}

// fail ends the conversation after a transport failure. There is no
// automatic reconnect; the client starts a new conversation.
func (s *Session) fail(reason string) {
	s.closeConversation()
	s.machine.Reset()
	s.deps.Metrics.RecordProviderError(s.ctx, "stt", "stream")
	s.presenceState(presence.StateIdle, false)
	s.emit(Event{Kind: ConversationError, Reason: reason})
}

func (s *Session) closeConversation() {
	c := s.conv
	if c == nil {
		return
	}
	s.conv = nil
	c.close()
	s.deps.Metrics.ActiveConversations.Add(context.WithoutCancel(s.ctx), -1)
}

// audio frames pcm and queues it for transcription.
func (s *Session) audio(pcm []byte) {
	c := s.conv
	if c == nil {
		return
	}
	for _, f := range c.framer.Write(pcm) {
		err := c.pipeline.Submit(f)
		switch {
		case errors.Is(err, ingest.ErrBackpressureExceeded):
			s.deps.Metrics.IngestDrops.Add(s.ctx, 1)
			if now := s.deps.Clock.Now(); now.Sub(s.lastBackpressureLog) >= backpressureLogEvery {
				s.lastBackpressureLog = now
				s.log.Warn("audio backpressure, dropping oldest frame",
					"queued", c.pipeline.Len(),
					"dropped_total", c.pipeline.Dropped(),
				)
			}
		case err != nil:
			s.log.Warn("audio frame rejected", "seq", f.Seq, "err", err)
		}
		if c.emotionIn != nil && c.sampler.Admit() {
			select {
			case c.emotionIn <- f.Data:
			default:
			}
		}
	}
}

// forward drains the ingest pipeline into the transcription stream until the
// conversation ends.
func (s *Session) forward(ctx context.Context, c *conversation) {
	if err := c.pipeline.Run(ctx); err != nil && ctx.Err() == nil {
		s.post(ingestFailedMsg{gen: c.gen, err: err})
	}
}

// readTranscripts normalizes provider messages into turn events. Messages the
// provider sends that carry no turn information are skipped.
func (s *Session) readTranscripts(c *conversation) {
	for raw := range c.stream.Messages() {
		ev, err := s.deps.STT.Normalize(raw)
		switch {
		case errors.Is(err, stt.ErrIgnored):
			continue
		case err != nil:
			s.log.Warn("dropping malformed transcription message", "err", err)
			continue
		}
		if !s.post(sttEventMsg{gen: c.gen, ev: ev}) {
			return
		}
	}
	s.post(sttClosedMsg{gen: c.gen, err: c.stream.Err()})
}

// connectEmotion attaches the optional emotion stream. Failures only
// disable emotion analysis.
func (s *Session) connectEmotion(ctx context.Context, c *conversation) {
	if !s.settings.Emotion || s.deps.Emotion == nil {
		return
	}
	es, err := s.deps.Emotion.Connect(ctx, s.settings.SampleRate)
	if err != nil {
		s.log.Warn("emotion stream unavailable", "err", err)
		s.deps.Metrics.RecordProviderError(ctx, "emotion", "connect")
		return
	}
	c.emotion = es
	c.emotionIn = make(chan []byte, emotionQueue)
	c.sampler = emotion.NewSampler(s.settings.EmotionEvery)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case pcm := <-c.emotionIn:
				if err := es.Send(ctx, pcm); err != nil {
					s.log.Debug("emotion send failed", "err", err)
				}
			}
		}
	}()
	go func() {
		for scores := range es.Results() {
			if !s.post(emotionMsg{gen: c.gen, scores: emotion.Top(scores, emotion.DefaultTop)}) {
				return
			}
		}
	}()
}
