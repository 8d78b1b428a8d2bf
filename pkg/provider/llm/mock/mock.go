// Package mock provides a test double for llm.Provider.
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/novo-avatar/novo/pkg/provider/llm"
	"github.com/novo-avatar/novo/pkg/types"
)

// Provider is a mock llm.Provider. Complete answers with CompleteFunc when set,
// otherwise with CompleteResponse and CompleteErr.
type Provider struct {
	mu sync.Mutex

	CompleteResponse *llm.CompletionResponse
	CompleteErr      error

	// CompleteFunc runs without the mock's lock held, so it may block on ctx
	// to stand in for a slow model.
	CompleteFunc func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)

	TokenCount        int
	CountTokensErr    error
	ModelCapabilities types.ModelCapabilities

	requests []llm.CompletionRequest

	// CountTokensCalls holds the messages of every CountTokens call.
	CountTokensCalls [][]types.Message
}

// Complete records a copy of req and answers it.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	req.Messages = slices.Clone(req.Messages)

	p.mu.Lock()
	p.requests = append(p.requests, req)
	fn, resp, err := p.CompleteFunc, p.CompleteResponse, p.CompleteErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return resp, err
}

// CompleteCallCount returns how many times Complete was called.
func (p *Provider) CompleteCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// LastRequest returns the most recent Complete request.
func (p *Provider) LastRequest() (llm.CompletionRequest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.requests) == 0 {
		return llm.CompletionRequest{}, false
	}
	return p.requests[len(p.requests)-1], true
}

func (p *Provider) CountTokens(messages []types.Message) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CountTokensCalls = append(p.CountTokensCalls, slices.Clone(messages))
	return p.TokenCount, p.CountTokensErr
}

func (p *Provider) Capabilities() types.ModelCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelCapabilities
}

var _ llm.Provider = (*Provider)(nil)
