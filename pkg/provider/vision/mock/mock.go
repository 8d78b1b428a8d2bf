// Package mock provides a test double for the vision.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/novo-avatar/novo/pkg/provider/vision"
)

// DescribeCall records a single invocation of Describe.
type DescribeCall struct {
	Image  []byte
	Mime   string
	Prompt string
}

// Provider is a mock implementation of vision.Provider.
type Provider struct {
	mu sync.Mutex

	// Description is returned by Describe.
	Description string

	// DescribeErr, if non-nil, is returned as the error from Describe.
	DescribeErr error

	// DescribeCalls records every invocation of Describe in order.
	DescribeCalls []DescribeCall
}

// Describe records the call and returns Description, DescribeErr.
func (p *Provider) Describe(_ context.Context, image []byte, mime, prompt string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.DescribeCalls = append(p.DescribeCalls, DescribeCall{Image: image, Mime: mime, Prompt: prompt})
	if p.DescribeErr != nil {
		return "", p.DescribeErr
	}
	return p.Description, nil
}

// CallCount returns the number of Describe invocations so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.DescribeCalls)
}

// Calls returns a copy of the recorded calls.
func (p *Provider) Calls() []DescribeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]DescribeCall(nil), p.DescribeCalls...)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.DescribeCalls = nil
}

var _ vision.Provider = (*Provider)(nil)
