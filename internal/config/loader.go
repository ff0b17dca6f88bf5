package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists the LLM backends the app can construct.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = []string{"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"}

// MaxCommentsPerAnalysis bounds analysis.max_comments.
const MaxCommentsPerAnalysis = 5

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. Unknown keys are rejected. An empty document is valid.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Energy
	if cfg.Energy.CommentCost < 0 {
		errs = append(errs, fmt.Errorf("energy.comment_cost %v must not be negative", cfg.Energy.CommentCost))
	}
	if cfg.Energy.DuplicateRefund < 0 {
		errs = append(errs, fmt.Errorf("energy.duplicate_refund %v must not be negative", cfg.Energy.DuplicateRefund))
	}
	if cfg.Energy.StartingEnergy < 0 {
		errs = append(errs, fmt.Errorf("energy.starting_energy %v must not be negative", cfg.Energy.StartingEnergy))
	}
	if cfg.Energy.PerRune < 0 {
		errs = append(errs, fmt.Errorf("energy.per_rune %v must not be negative", cfg.Energy.PerRune))
	}
	if cfg.Energy.DuplicateRefund > cfg.Energy.CommentCost && cfg.Energy.CommentCost > 0 {
		slog.Warn("energy.duplicate_refund exceeds energy.comment_cost; repeated analysis will mint energy",
			"comment_cost", cfg.Energy.CommentCost, "duplicate_refund", cfg.Energy.DuplicateRefund)
	}

	// Session
	s := cfg.Session
	if s.Mode != "" && !s.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("session.mode %q is invalid; valid values: guest, account", s.Mode))
	}
	if _, err := s.Location(); err != nil {
		errs = append(errs, fmt.Errorf("session.timezone %q: %w", s.Timezone, err))
	}
	if s.AutosaveDelay < 0 {
		errs = append(errs, fmt.Errorf("session.autosave_delay %v must not be negative", s.AutosaveDelay))
	} else if s.AutosaveDelay > time.Minute {
		slog.Warn("session.autosave_delay is over a minute; edits may stay unsaved for a long time", "autosave_delay", s.AutosaveDelay)
	}
	if s.ListWindowDays < 0 {
		errs = append(errs, fmt.Errorf("session.list_window_days %d must not be negative", s.ListWindowDays))
	}
	if s.Mode == ModeAccount {
		if s.UserID == "" {
			errs = append(errs, errors.New("session.user_id is required in account mode"))
		}
		if cfg.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage.postgres_dsn is required in account mode"))
		}
	}

	// Storage
	st := cfg.Storage
	if st.LocalBackend != "" && !st.LocalBackend.IsValid() {
		errs = append(errs, fmt.Errorf("storage.local_backend %q is invalid; valid values: sqlite, redis", st.LocalBackend))
	}
	if st.LocalBackend == LocalRedis && st.RedisURL == "" {
		errs = append(errs, errors.New("storage.redis_url is required when storage.local_backend is redis"))
	}
	if st.PostgresDSN != "" && s.Mode == ModeGuest {
		slog.Warn("storage.postgres_dsn is set but session.mode is guest; the remote store will not be used")
	}

	// Providers
	validateProviderName("llm", cfg.Providers.LLM)
	validateProviderName("fallback_llm", cfg.Providers.FallbackLLM)
	if cfg.Providers.FallbackLLM.Configured() && !cfg.Providers.LLM.Configured() {
		errs = append(errs, errors.New("providers.fallback_llm requires providers.llm"))
	}
	if !cfg.Providers.LLM.Configured() {
		slog.Warn("no LLM provider configured; voices will not comment or chat")
	}

	// Analysis
	a := cfg.Analysis
	if a.MinTextLength < 0 {
		errs = append(errs, fmt.Errorf("analysis.min_text_length %d must not be negative", a.MinTextLength))
	}
	if a.MinChange < 0 {
		errs = append(errs, fmt.Errorf("analysis.min_change %d must not be negative", a.MinChange))
	}
	if a.MaxComments < 0 || a.MaxComments > MaxCommentsPerAnalysis {
		errs = append(errs, fmt.Errorf("analysis.max_comments %d is out of range [0, %d]", a.MaxComments, MaxCommentsPerAnalysis))
	}

	// Prompts
	for mood := range cfg.Prompts.Moods {
		if mood == "" {
			errs = append(errs, errors.New("prompts.moods has an empty mood name"))
		}
	}

	// Voices
	voiceIDsSeen := make(map[string]int, len(cfg.Voices))
	for i, v := range cfg.Voices {
		prefix := fmt.Sprintf("voices[%d]", i)
		if v.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
			continue
		}
		if prev, ok := voiceIDsSeen[v.ID]; ok {
			errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of voices[%d]", prefix, v.ID, prev))
		}
		voiceIDsSeen[v.ID] = i
		if v.SystemPrompt == "" && v.Tagline == "" {
			slog.Warn("voice has neither a tagline nor a system prompt", "voice", v.ID)
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if the entry names a provider that is
// not in [ValidProviderNames].
func validateProviderName(key string, p ProviderEntry) {
	if !p.Configured() || slices.Contains(ValidProviderNames, p.Name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo",
		"key", "providers."+key,
		"name", p.Name,
		"known", ValidProviderNames,
	)
}
