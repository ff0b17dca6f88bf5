// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify the requests the voices send and to
// feed controlled replies without a live LLM backend. Set response fields
// before calling any method; Responses is consumed in order and falls back to
// CompleteResponse once exhausted.
//
// Example:
//
//	p := &mock.Provider{
//	    CompleteResponse: &llm.CompletionResponse{Content: `{"voice": null}`},
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/inkmemory/pkg/provider/llm"
)

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider is a mock implementation of llm.Provider.
type Provider struct {
	mu sync.Mutex

	// Responses are returned one per call, in order.
	Responses []*llm.CompletionResponse

	// CompleteResponse is returned once Responses is exhausted. May be nil.
	CompleteResponse *llm.CompletionResponse

	// CompleteErr, if non-nil, is returned as the error from Complete.
	CompleteErr error

	// CompleteFunc, if set, overrides every other field.
	CompleteFunc func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)

	calls []CompleteCall
}

var _ llm.Provider = (*Provider)(nil)

// Complete records the call and returns the configured response.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	req.Messages = append([]llm.Message(nil), req.Messages...)
	p.calls = append(p.calls, CompleteCall{Ctx: ctx, Req: req})
	fn := p.CompleteFunc
	if fn != nil {
		p.mu.Unlock()
		return fn(ctx, req)
	}
	defer p.mu.Unlock()
	if p.CompleteErr != nil {
		return nil, p.CompleteErr
	}
	if len(p.Responses) > 0 {
		resp := p.Responses[0]
		p.Responses = p.Responses[1:]
		return resp, nil
	}
	return p.CompleteResponse, nil
}

// Calls returns a copy of every recorded Complete invocation.
func (p *Provider) Calls() []CompleteCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]CompleteCall(nil), p.calls...)
}

// CallCount returns the number of Complete invocations.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// LastRequest returns the most recent request and whether one exists.
func (p *Provider) LastRequest() (llm.CompletionRequest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.calls) == 0 {
		return llm.CompletionRequest{}, false
	}
	return p.calls[len(p.calls)-1].Req, true
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = nil
}
