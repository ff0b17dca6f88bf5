package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/inkmemory/internal/observe"
	"github.com/MrWong99/inkmemory/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] over a [FallbackGroup] of LLM
// backends and records one provider request per attempt.
type LLMFallback struct {
	group   *FallbackGroup[llm.Provider]
	metrics *observe.Metrics
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred
// backend. A nil metrics selects [observe.DefaultMetrics].
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig, metrics *observe.Metrics) *LLMFallback {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &LLMFallback{
		group:   NewFallbackGroup(primary, primaryName, cfg),
		metrics: metrics,
	}
}

// AddFallback registers an additional backend.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Group exposes the underlying group, mainly for health reporting.
func (f *LLMFallback) Group() *FallbackGroup[llm.Provider] { return f.group }

// Complete sends req to the first healthy backend.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return Execute(ctx, f.group, func(name string, p llm.Provider) (*llm.CompletionResponse, error) {
		resp, err := p.Complete(ctx, req)
		switch {
		case err == nil:
			f.metrics.RecordProviderRequest(ctx, name, "llm", "ok")
		case errors.Is(err, context.Canceled):
			f.metrics.RecordProviderRequest(ctx, name, "llm", "canceled")
		default:
			f.metrics.RecordProviderRequest(ctx, name, "llm", "error")
			f.metrics.RecordProviderError(ctx, name, "llm")
		}
		return resp, err
	})
}
