package app

import (
	"fmt"
	"log/slog"

	"github.com/MrWong99/inkmemory/internal/config"
	"github.com/MrWong99/inkmemory/internal/observe"
	"github.com/MrWong99/inkmemory/internal/resilience"
	"github.com/MrWong99/inkmemory/pkg/provider/llm"
)

// BuildLLM constructs the configured LLM backends through reg and wraps them
// in a circuit-breaking failover group. It returns nil when providers.llm is
// not configured.
func BuildLLM(reg *config.Registry, pc config.ProvidersConfig, metrics *observe.Metrics) (llm.Provider, error) {
	if !pc.LLM.Configured() {
		return nil, nil
	}
	primary, err := reg.CreateLLM(pc.LLM)
	if err != nil {
		return nil, fmt.Errorf("app: providers.llm: %w", err)
	}
	fb := resilience.NewLLMFallback(primary, pc.LLM.Name, resilience.FallbackConfig{}, metrics)

	if pc.FallbackLLM.Configured() {
		secondary, err := reg.CreateLLM(pc.FallbackLLM)
		if err != nil {
			return nil, fmt.Errorf("app: providers.fallback_llm: %w", err)
		}
		name := pc.FallbackLLM.Name
		if name == pc.LLM.Name {
			name += "-fallback"
		}
		fb.AddFallback(name, secondary)
	}

	slog.Info("llm providers ready", "backends", fb.Group().Names())
	return fb, nil
}
