package voice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MrWong99/inkmemory/internal/observe"
	"github.com/MrWong99/inkmemory/pkg/document"
	"github.com/MrWong99/inkmemory/pkg/provider/llm"
	"github.com/MrWong99/inkmemory/pkg/textnorm"
)

// ErrMalformedReply is returned when the model's analysis reply is not the
// expected JSON shape.
var ErrMalformedReply = errors.New("voice: malformed analysis reply")

// DefaultMinTextLength is the trimmed rune count below which analysis is
// skipped without calling the model.
const DefaultMinTextLength = 20

const analysisSystemPrompt = "You are a careful reader of personal writing. You only ever reply with JSON."

// AnalyzerConfig tunes an [Analyzer]. Zero values select defaults.
type AnalyzerConfig struct {
	// MinTextLength defaults to [DefaultMinTextLength].
	MinTextLength int

	// MaxComments is the number of comments requested per call. Default 1.
	MaxComments int

	// Temperature is passed through to the provider.
	Temperature float64

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Request is the input of one analysis call.
type Request struct {
	// Text is the full plain text of the document.
	Text string

	// Applied are the visible comments, given to the model as context.
	Applied []document.Comment

	// Overlapped and NotFound are phrases the model must not suggest again.
	Overlapped []string
	NotFound   []string

	MoodPrompt string
	MetaPrompt string
}

// Result is the output of one analysis call.
type Result struct {
	// Candidates are pending comments ready for engine.ApplyComments.
	Candidates []document.Comment

	// NewCount is the number of candidates that are present in the text and
	// not already among the applied comments.
	NewCount int

	// Skipped is set when the text was too short to analyse.
	Skipped bool
}

// Analyzer asks the model for new comments on the document text.
type Analyzer struct {
	provider llm.Provider
	catalog  *Catalog
	cfg      AnalyzerConfig
}

// NewAnalyzer creates an [Analyzer]. A nil catalog selects [DefaultCatalog].
func NewAnalyzer(provider llm.Provider, catalog *Catalog, cfg AnalyzerConfig) *Analyzer {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	if cfg.MinTextLength <= 0 {
		cfg.MinTextLength = DefaultMinTextLength
	}
	if cfg.MaxComments <= 0 {
		cfg.MaxComments = 1
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Analyzer{provider: provider, catalog: catalog, cfg: cfg}
}

// Catalog returns the voices the analyzer chooses from.
func (a *Analyzer) Catalog() *Catalog { return a.catalog }

// Analyze returns candidate comments for req.Text. Candidates naming an
// unknown voice are dropped. Phrases that cannot be found are kept so the
// engine can blacklist them.
func (a *Analyzer) Analyze(ctx context.Context, req Request) (res Result, err error) {
	if utf8.RuneCountInString(strings.TrimSpace(req.Text)) < a.cfg.MinTextLength {
		return Result{Skipped: true}, nil
	}

	ctx, span := observe.StartSpan(ctx, "voice.analyze")
	defer func() { observe.EndSpan(span, err) }()

	start := time.Now()
	resp, err := a.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: analysisSystemPrompt,
		Messages: []llm.Message{{
			Role:    llm.RoleUser,
			Content: buildAnalysisPrompt(req, a.catalog, a.cfg.MaxComments),
		}},
		Temperature: a.cfg.Temperature,
	})
	a.cfg.Metrics.AnalysisDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return Result{}, fmt.Errorf("voice: analyze: %w", err)
	}
	if resp == nil {
		return Result{}, nil
	}

	triggers, err := parseTriggers(resp.Content)
	if err != nil {
		return Result{}, err
	}

	for _, tr := range triggers {
		if len(res.Candidates) == a.cfg.MaxComments {
			break
		}
		v, ok := a.catalog.Get(tr.VoiceID)
		if !ok {
			observe.Logger(ctx).Warn("analysis named unknown voice, skipping", "voice_id", tr.VoiceID)
			continue
		}
		phrase := strings.TrimSpace(tr.Phrase)
		if phrase == "" {
			continue
		}
		c := document.Comment{
			Phrase:  phrase,
			VoiceID: v.ID,
			Text:    strings.TrimSpace(tr.Comment),
			Icon:    v.Icon,
			Color:   v.Color,
		}
		res.Candidates = append(res.Candidates, c)
		if textnorm.Contains(req.Text, phrase) && !alreadyApplied(req.Applied, c) {
			res.NewCount++
		}
	}

	slog.Debug("analysis finished", "candidates", len(res.Candidates), "new", res.NewCount)
	return res, nil
}

func alreadyApplied(applied []document.Comment, c document.Comment) bool {
	for _, a := range applied {
		if a.SameAnchor(c) {
			return true
		}
	}
	return false
}

// trigger is one comment as the model writes it.
type trigger struct {
	Phrase  string `json:"phrase"`
	VoiceID string `json:"voice_id"`
	Comment string `json:"comment"`
}

type analysisReply struct {
	Voice  json.RawMessage `json:"voice"`
	Voices []trigger       `json:"voices"`
}

// parseTriggers accepts {"voice": {...}|null}, {"voices": [...]}, a bare
// null, and any of these wrapped in a fenced code block or prose.
func parseTriggers(content string) ([]trigger, error) {
	body := strings.TrimSpace(stripFences(content))
	if body == "" || body == "null" {
		return nil, nil
	}
	start, end := strings.IndexByte(body, '{'), strings.LastIndexByte(body, '}')
	if start < 0 || end < start {
		return nil, fmt.Errorf("%w: no JSON object", ErrMalformedReply)
	}

	var reply analysisReply
	if err := json.Unmarshal([]byte(body[start:end+1]), &reply); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}

	out := reply.Voices
	if raw := strings.TrimSpace(string(reply.Voice)); raw != "" && raw != "null" {
		var one trigger
		if err := json.Unmarshal(reply.Voice, &one); err != nil {
			return nil, fmt.Errorf("%w: voice: %v", ErrMalformedReply, err)
		}
		out = append([]trigger{one}, out...)
	}
	return out, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSuffix(strings.TrimSpace(s), "```")
}
