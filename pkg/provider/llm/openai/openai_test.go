package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/novo-avatar/novo/pkg/provider/llm"
	"github.com/novo-avatar/novo/pkg/types"
)

// ---- convertMessage ----

func TestConvertMessage_Roles(t *testing.T) {
	t.Parallel()

	sys, err := convertMessage(types.Message{Role: types.RoleSystem, Content: "You are NoVo."})
	if err != nil || sys.OfSystem == nil {
		t.Fatalf("system: param=%+v err=%v", sys, err)
	}
	usr, err := convertMessage(types.Message{Role: types.RoleUser, Content: "Hello!"})
	if err != nil || usr.OfUser == nil {
		t.Fatalf("user: param=%+v err=%v", usr, err)
	}
	asst, err := convertMessage(types.Message{Role: types.RoleAssistant, Content: "Hi there!", Name: "novo"})
	if err != nil || asst.OfAssistant == nil {
		t.Fatalf("assistant: param=%+v err=%v", asst, err)
	}
	if got := asst.OfAssistant.Content.OfString.Value; got != "Hi there!" {
		t.Errorf("assistant content = %q", got)
	}
	if got := asst.OfAssistant.Name.Value; got != "novo" {
		t.Errorf("assistant name = %q", got)
	}
}

func TestConvertMessage_UnknownRole(t *testing.T) {
	t.Parallel()
	if _, err := convertMessage(types.Message{Role: "tool", Content: "x"}); err == nil {
		t.Fatal("expected error for unknown role")
	}
}

// ---- New ----

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	if _, err := New("", "gpt-4o"); err == nil {
		t.Error("expected error for empty API key")
	}
	if _, err := New("key", ""); err == nil {
		t.Error("expected error for empty model")
	}
}

func TestBuildParams_NoMessages(t *testing.T) {
	t.Parallel()
	p, err := New("key", "gpt-4o")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.buildParams(llm.CompletionRequest{SystemPrompt: "hi"}); err == nil {
		t.Error("expected error for empty message list")
	}
}

// ---- Complete over HTTP ----

func TestComplete_RoundTrip(t *testing.T) {
	t.Parallel()

	var gotBody map[string]any
	var gotAuth, gotTitle string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotTitle = r.Header.Get("X-Title")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"openai/gpt-4o-mini",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"  Hello back!  "}}],
			"usage":{"prompt_tokens":12,"completion_tokens":3,"total_tokens":15}}`))
	}))
	defer srv.Close()

	p, err := New("sk-test", "openai/gpt-4o-mini",
		WithBaseURL(srv.URL+"/"),
		WithHeader("X-Title", "NoVo Voice Conversation"))
	if err != nil {
		t.Fatal(err)
	}

	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		SystemPrompt: "You are NoVo.",
		Messages:     []types.Message{{Role: types.RoleUser, Content: "hello"}},
		Temperature:  0.7,
		MaxTokens:    150,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "Hello back!" {
		t.Errorf("Content = %q, want trimmed reply", resp.Content)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("TotalTokens = %d, want 15", resp.Usage.TotalTokens)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotTitle != "NoVo Voice Conversation" {
		t.Errorf("X-Title = %q", gotTitle)
	}
	msgs, _ := gotBody["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("sent %d messages, want system + user", len(msgs))
	}
	if first, _ := msgs[0].(map[string]any); first["role"] != "system" {
		t.Errorf("first message role = %v, want system", first["role"])
	}
	if gotBody["max_completion_tokens"] != float64(150) {
		t.Errorf("max_completion_tokens = %v", gotBody["max_completion_tokens"])
	}
}

func TestComplete_EmptyChoices(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"m","choices":[]}`))
	}))
	defer srv.Close()

	p, _ := New("sk-test", "m", WithBaseURL(srv.URL+"/"))
	_, err := p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []types.Message{{Role: types.RoleUser, Content: "hello"}},
	})
	if !errors.Is(err, ErrEmptyChoices) {
		t.Fatalf("err = %v, want ErrEmptyChoices", err)
	}
}

func TestComplete_HTTPError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad model","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	p, _ := New("sk-test", "m", WithBaseURL(srv.URL+"/"))
	_, err := p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []types.Message{{Role: types.RoleUser, Content: "hello"}},
	})
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
}

func TestCountTokens(t *testing.T) {
	t.Parallel()
	p, _ := New("key", "gpt-4o")
	n, err := p.CountTokens([]types.Message{{Role: types.RoleUser, Content: "12345678"}})
	if err != nil {
		t.Fatal(err)
	}
	if n != 6 {
		t.Errorf("CountTokens = %d, want 6 (2 content + 4 overhead)", n)
	}
}
