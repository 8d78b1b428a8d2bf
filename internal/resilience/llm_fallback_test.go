package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/novo-avatar/novo/pkg/provider/llm"
	llmmock "github.com/novo-avatar/novo/pkg/provider/llm/mock"
	"github.com/novo-avatar/novo/pkg/types"
)

func TestLLMFallback_Complete_PrimarySuccess(t *testing.T) {
	primary := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "hello from primary"},
	}
	secondary := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "hello from secondary"},
	}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	resp, err := fb.Complete(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "hello from primary" {
		t.Fatalf("content = %q, want 'hello from primary'", resp.Content)
	}
	if primary.CompleteCallCount() != 1 {
		t.Fatalf("primary called %d times, want 1", primary.CompleteCallCount())
	}
	if secondary.CompleteCallCount() != 0 {
		t.Fatalf("secondary called %d times, want 0", secondary.CompleteCallCount())
	}
}

func TestLLMFallback_Complete_Failover(t *testing.T) {
	primary := &llmmock.Provider{CompleteErr: errors.New("primary down")}
	secondary := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "hello from secondary"},
	}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	resp, err := fb.Complete(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "hello from secondary" {
		t.Fatalf("content = %q, want 'hello from secondary'", resp.Content)
	}
}

func TestLLMFallback_Complete_AllFail(t *testing.T) {
	boom := errors.New("down")
	fb := NewLLMFallback(&llmmock.Provider{CompleteErr: boom}, "primary", FallbackConfig{})
	fb.AddFallback("secondary", &llmmock.Provider{CompleteErr: boom})

	_, err := fb.Complete(context.Background(), llm.CompletionRequest{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, should wrap the last provider error", err)
	}
}

func TestLLMFallback_Complete_CancelledIsNotFailover(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	primary := &llmmock.Provider{
		CompleteFunc: func(ctx context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
			cancel()
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	secondary := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "late"}}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{})
	fb.AddFallback("secondary", secondary)

	if _, err := fb.Complete(ctx, llm.CompletionRequest{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if secondary.CompleteCallCount() != 0 {
		t.Error("a barged-in request must not be retried on the fallback")
	}
}

func TestLLMFallback_PrimaryMetadata(t *testing.T) {
	primary := &llmmock.Provider{
		TokenCount:        42,
		ModelCapabilities: types.ModelCapabilities{ContextWindow: 128000},
	}
	secondary := &llmmock.Provider{TokenCount: 7}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{})
	fb.AddFallback("secondary", secondary)

	n, err := fb.CountTokens([]types.Message{{Role: types.RoleUser, Content: "hi"}})
	if err != nil || n != 42 {
		t.Errorf("CountTokens = %d, %v, want 42", n, err)
	}
	if got := fb.Capabilities().ContextWindow; got != 128000 {
		t.Errorf("ContextWindow = %d, want 128000", got)
	}
	if len(secondary.CountTokensCalls) != 0 {
		t.Error("secondary tokenizer should not be consulted")
	}
}
