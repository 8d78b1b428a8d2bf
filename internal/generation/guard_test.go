package generation_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/novo-avatar/novo/internal/clock"
	"github.com/novo-avatar/novo/internal/generation"
	"github.com/novo-avatar/novo/pkg/memory"
	"github.com/novo-avatar/novo/pkg/provider/llm"
	llmmock "github.com/novo-avatar/novo/pkg/provider/llm/mock"
	ttsmock "github.com/novo-avatar/novo/pkg/provider/tts/mock"
	"github.com/novo-avatar/novo/pkg/types"
)

type harness struct {
	guard   *generation.Guard
	llm     *llmmock.Provider
	tts     *ttsmock.Provider
	clock   *clock.Fake
	results chan generation.Result
}

func newHarness(t *testing.T, deps generation.Deps) *harness {
	t.Helper()
	h := &harness{
		llm:     &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "Hello there!"}},
		tts:     &ttsmock.Provider{Audio: []byte{1, 2, 3, 4}},
		clock:   clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
		results: make(chan generation.Result, 16),
	}
	if deps.LLM == nil {
		deps.LLM = h.llm
	}
	if deps.TTS == nil {
		deps.TTS = h.tts
	}
	deps.Clock = h.clock
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	h.guard = generation.NewGuard(ctx, generation.Config{SessionID: "s1"}, deps,
		generation.NewHistory(generation.HistoryConfig{}),
		func(r generation.Result) { h.results <- r })
	return h
}

func (h *harness) next(t *testing.T) generation.Result {
	t.Helper()
	select {
	case r := <-h.results:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a generation result")
		return generation.Result{}
	}
}

func (h *harness) none(t *testing.T) {
	t.Helper()
	select {
	case r := <-h.results:
		t.Fatalf("unexpected result %+v", r)
	case <-time.After(100 * time.Millisecond):
	}
}

// drive waits for the task's results and commits them like the session actor.
func (h *harness) drive(t *testing.T) []generation.Result {
	t.Helper()
	var out []generation.Result
	for {
		r := h.next(t)
		if !h.guard.Commit(r) {
			t.Fatalf("Commit(%v) rejected a live result", r.Kind)
		}
		out = append(out, r)
		if r.Kind != generation.ReplyReady {
			return out
		}
	}
}

func roles(msgs []types.Message) string {
	parts := make([]string, len(msgs))
	for i, m := range msgs {
		parts[i] = m.Role
	}
	return strings.Join(parts, ",")
}

// ---- pipeline ----

func TestGuard_HappyPath(t *testing.T) {
	t.Parallel()
	h := newHarness(t, generation.Deps{})

	if !h.guard.OnTurnCompleted("hello", 0.9) {
		t.Fatal("OnTurnCompleted rejected the first turn")
	}
	got := h.drive(t)

	if len(got) != 2 || got[0].Kind != generation.ReplyReady || got[1].Kind != generation.AudioReady {
		t.Fatalf("results = %+v, want ReplyReady then AudioReady", got)
	}
	if got[0].Text != "Hello there!" || got[1].Text != "Hello there!" {
		t.Errorf("reply text = %q / %q", got[0].Text, got[1].Text)
	}
	if len(got[1].Audio) != 4 {
		t.Errorf("audio len = %d, want 4", len(got[1].Audio))
	}
	if h.guard.Busy() {
		t.Error("guard still busy after AudioReady")
	}

	msgs := h.guard.History().Messages()
	if roles(msgs) != "user,assistant" || msgs[0].Content != "hello" || msgs[1].Content != "Hello there!" {
		t.Errorf("history = %+v", msgs)
	}

	req, ok := h.llm.LastRequest()
	if !ok {
		t.Fatal("LLM not called")
	}
	if req.Temperature != generation.DefaultTemperature || req.MaxTokens != generation.DefaultMaxTokens {
		t.Errorf("request tuning = %v/%d", req.Temperature, req.MaxTokens)
	}
	if !strings.HasPrefix(req.SystemPrompt, "You are NoVo") {
		t.Errorf("system prompt = %q", req.SystemPrompt)
	}
	if texts := h.tts.Texts(); len(texts) != 1 || texts[0] != "Hello there!" {
		t.Errorf("TTS texts = %v", texts)
	}
}

func TestGuard_EmptyReplyUsesFallback(t *testing.T) {
	t.Parallel()
	h := newHarness(t, generation.Deps{})
	h.llm.CompleteResponse = &llm.CompletionResponse{Content: "   "}

	h.guard.OnTurnCompleted("hm", 0.5)
	got := h.drive(t)
	if got[0].Text != generation.FallbackReply {
		t.Errorf("reply = %q, want fallback", got[0].Text)
	}
}

func TestGuard_LLMFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t, generation.Deps{})
	h.llm.CompleteErr = errors.New("503")

	h.guard.OnTurnCompleted("hello", 0.9)
	got := h.drive(t)
	if len(got) != 1 || got[0].Kind != generation.Failed {
		t.Fatalf("results = %+v, want one Failed", got)
	}
	if !errors.Is(got[0].Err, generation.ErrGeneration) {
		t.Errorf("err = %v, want ErrGeneration", got[0].Err)
	}
	if h.guard.Busy() {
		t.Error("guard still busy after failure")
	}
	if !h.guard.OnTurnCompleted("again", 0.9) {
		t.Error("guard unusable after a failure")
	}
}

func TestGuard_TTSFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t, generation.Deps{})
	h.tts.SynthesizeErr = errors.New("quota")

	h.guard.OnTurnCompleted("hello", 0.9)
	got := h.drive(t)
	if len(got) != 2 || got[1].Kind != generation.Failed {
		t.Fatalf("results = %+v, want ReplyReady then Failed", got)
	}
	if !errors.Is(got[1].Err, generation.ErrSynthesis) {
		t.Errorf("err = %v, want ErrSynthesis", got[1].Err)
	}
	// The reply text was committed before synthesis failed.
	if roles(h.guard.History().Messages()) != "user,assistant" {
		t.Errorf("history roles = %s", roles(h.guard.History().Messages()))
	}
}

// ---- single flight ----

func TestGuard_SingleFlightDropsConcurrentTurn(t *testing.T) {
	t.Parallel()
	h := newHarness(t, generation.Deps{})
	release := make(chan struct{})
	h.llm.CompleteFunc = func(ctx context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
		<-release
		return &llm.CompletionResponse{Content: "first reply"}, nil
	}

	if !h.guard.OnTurnCompleted("first", 0.9) {
		t.Fatal("first turn rejected")
	}
	if h.guard.OnTurnCompleted("second", 0.9) {
		t.Fatal("second turn accepted while a task was in flight")
	}
	if n := h.guard.History().Len(); n != 1 {
		t.Errorf("history len = %d, want 1 (dropped turn must not be recorded)", n)
	}

	close(release)
	h.drive(t)

	if h.llm.CompleteCallCount() != 1 {
		t.Errorf("LLM calls = %d, want 1", h.llm.CompleteCallCount())
	}
	if !h.guard.OnTurnCompleted("third", 0.9) {
		t.Error("turn after completion rejected")
	}
}

// ---- cancellation ----

func TestGuard_CancelDuringLLM(t *testing.T) {
	t.Parallel()
	h := newHarness(t, generation.Deps{})
	entered := make(chan struct{})
	h.llm.CompleteFunc = func(ctx context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
		close(entered)
		<-ctx.Done()
		return nil, ctx.Err()
	}

	h.guard.OnTurnCompleted("tell me a story", 0.9)
	task := h.guard.Current()
	<-entered

	if !h.guard.Cancel() {
		t.Fatal("Cancel reported no task")
	}
	if !task.Cancelled() {
		t.Error("task not marked cancelled")
	}
	if h.guard.Cancel() {
		t.Error("second Cancel reported a task")
	}
	h.none(t)

	if h.tts.CallCount() != 0 {
		t.Error("TTS called for a cancelled task")
	}
	if roles(h.guard.History().Messages()) != "user" {
		t.Errorf("history roles = %s, want only the user turn", roles(h.guard.History().Messages()))
	}
}

func TestGuard_CommitDiscardsResultsAfterCancel(t *testing.T) {
	t.Parallel()
	h := newHarness(t, generation.Deps{})
	block := make(chan struct{})
	h.tts.SynthesizeFunc = func(ctx context.Context, _ string, _ types.VoiceProfile) ([]byte, error) {
		<-block
		return []byte{9}, nil
	}

	h.guard.OnTurnCompleted("hello", 0.9)
	reply := h.next(t)
	if reply.Kind != generation.ReplyReady {
		t.Fatalf("first result = %v", reply.Kind)
	}

	// Barge-in lands before the actor handled ReplyReady.
	h.guard.Cancel()
	if h.guard.Commit(reply) {
		t.Error("Commit accepted a result of a cancelled task")
	}
	close(block)
	h.none(t)

	if roles(h.guard.History().Messages()) != "user" {
		t.Errorf("history roles = %s, want only the user turn", roles(h.guard.History().Messages()))
	}
}

// ---- options ----

func TestGuard_TransientCueAndScene(t *testing.T) {
	t.Parallel()
	h := newHarness(t, generation.Deps{})
	h.guard.History().Append(generation.PhotoContext("a person in a red scarf"))

	h.guard.OnTurnCompleted(generation.PhotoReplyCue, 1,
		generation.Transient(),
		generation.WithScene(true, "a person in a red scarf"))
	h.drive(t)

	if roles(h.guard.History().Messages()) != "system,assistant" {
		t.Errorf("history roles = %s", roles(h.guard.History().Messages()))
	}
	req, _ := h.llm.LastRequest()
	if n := len(req.Messages); n != 2 || req.Messages[n-1].Content != generation.PhotoReplyCue {
		t.Errorf("request messages = %+v, want the photo context then the cue", req.Messages)
	}
	if !strings.Contains(req.SystemPrompt, "camera is ON") || !strings.Contains(req.SystemPrompt, "Current view: a person in a red scarf") {
		t.Errorf("system prompt lacks the scene:\n%s", req.SystemPrompt)
	}
}

func TestGuard_AwaitVisionDelivered(t *testing.T) {
	t.Parallel()
	h := newHarness(t, generation.Deps{})

	h.guard.OnTurnCompleted("what am I holding", 0.9, generation.AwaitVision(), generation.WithScene(true, ""))
	waitPending(t, h.clock)
	if !h.guard.Current().AwaitingVision() {
		t.Fatal("task not awaiting vision")
	}
	if !h.guard.DeliverVision("a coffee mug") {
		t.Fatal("DeliverVision not taken")
	}
	got := h.drive(t)

	if len(got[0].Context) != 1 || got[0].Context[0].Content != generation.CameraContextPrefix+"a coffee mug" {
		t.Errorf("result context = %+v", got[0].Context)
	}
	req, _ := h.llm.LastRequest()
	last := req.Messages[len(req.Messages)-1]
	if last.Role != types.RoleSystem || !strings.Contains(last.Content, "a coffee mug") {
		t.Errorf("last prompt message = %+v", last)
	}
	if roles(h.guard.History().Messages()) != "user,system,assistant" {
		t.Errorf("history roles = %s", roles(h.guard.History().Messages()))
	}
}

func TestGuard_AwaitVisionTimesOut(t *testing.T) {
	t.Parallel()
	h := newHarness(t, generation.Deps{})

	h.guard.OnTurnCompleted("can you see this", 0.9, generation.AwaitVision(), generation.WithScene(true, ""))
	waitPending(t, h.clock)
	h.clock.Advance(generation.DefaultVisionWait)

	got := h.drive(t)
	if len(got[0].Context) != 0 {
		t.Errorf("context after timeout = %+v, want none", got[0].Context)
	}
	if h.guard.DeliverVision("late") {
		t.Error("late description taken after the task finished")
	}
}

func TestGuard_MemoryRecall(t *testing.T) {
	t.Parallel()
	rec := &fakeRecaller{out: []memory.Recalled{{
		Exchange: memory.Exchange{UserText: "my dog is Rex", Reply: "Great name!"},
	}}}
	h := newHarness(t, generation.Deps{Memory: rec})

	h.guard.OnTurnCompleted("what was my dog's name", 0.9)
	h.drive(t)

	if rec.query != "what was my dog's name" || rec.sessionID != "s1" {
		t.Errorf("recall args = %q/%q", rec.sessionID, rec.query)
	}
	req, _ := h.llm.LastRequest()
	if !strings.Contains(req.SystemPrompt, `"my dog is Rex"`) {
		t.Errorf("system prompt lacks recalled memory:\n%s", req.SystemPrompt)
	}
}

func TestGuard_MemoryFailureIsNotFatal(t *testing.T) {
	t.Parallel()
	h := newHarness(t, generation.Deps{Memory: &fakeRecaller{err: errors.New("db down")}})
	h.guard.OnTurnCompleted("hello", 0.9)
	got := h.drive(t)
	if got[len(got)-1].Kind != generation.AudioReady {
		t.Errorf("last result = %v, want AudioReady", got[len(got)-1].Kind)
	}
}

type fakeRecaller struct {
	out       []memory.Recalled
	err       error
	sessionID string
	query     string
}

func (f *fakeRecaller) Recall(_ context.Context, sessionID, _ string, query string) ([]memory.Recalled, error) {
	f.sessionID = sessionID
	f.query = query
	return f.out, f.err
}

func waitPending(t *testing.T, c *clock.Fake) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for c.Pending() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timer never armed")
		}
		time.Sleep(time.Millisecond)
	}
}
