package app

import (
	"context"
	"fmt"

	"github.com/MrWong99/inkmemory/internal/config"
	"github.com/MrWong99/inkmemory/internal/feedback"
	"github.com/MrWong99/inkmemory/internal/observe"
	"github.com/MrWong99/inkmemory/internal/voice"
	"github.com/MrWong99/inkmemory/pkg/document"
)

// AnalyzeResult reports one analysis pass.
type AnalyzeResult struct {
	// Skipped is set when no LLM call was made, either because the text is
	// too short or because it changed too little since the last pass.
	Skipped bool

	// NewCount is how many candidates the analyzer considered new.
	NewCount int

	document.ApplyResult
}

// Analyze asks the voices for comments on the current text and applies them
// to the document within the energy budget.
//
// Every pass first credits the runes written since the previous pass:
// energy.per_rune energy per rune, and the rune count as weight. A document
// that already has visible comments is only re-analysed once its text has
// changed by at least analysis.min_change runes.
func (a *App) Analyze(ctx context.Context) (AnalyzeResult, error) {
	a.mu.RLock()
	analyzer := a.analyzer
	a.mu.RUnlock()
	if analyzer == nil {
		return AnalyzeResult{}, ErrNoProvider
	}

	snap := a.engine.Snapshot()
	text := snap.Text()
	a.accrue(snap.ID, text)
	snap = a.engine.Snapshot()

	a.mu.RLock()
	prompts := a.prompts
	minChange := a.analysis.MinChange
	last, analyzedOnce := a.lastAnalyzed, a.analyzedOnce
	if a.docID != snap.ID {
		analyzedOnce = false
	}
	a.mu.RUnlock()

	text = snap.Text()
	visible := snap.VisibleComments()
	if analyzedOnce && len(visible) > 0 && changedRunes(last, text) < minChange {
		return AnalyzeResult{Skipped: true}, nil
	}

	res, err := analyzer.Analyze(ctx, voice.Request{
		Text:       text,
		Applied:    visible,
		Overlapped: snap.OverlappedPhrases,
		NotFound:   snap.NotFoundPhrases,
		MoodPrompt: prompts.MoodPrompt(snap.SelectedMood),
		MetaPrompt: prompts.MetaPrompt,
	})
	if err != nil {
		return AnalyzeResult{}, fmt.Errorf("app: %w", err)
	}
	if res.Skipped {
		return AnalyzeResult{Skipped: true}, nil
	}

	a.mu.Lock()
	if a.docID == snap.ID {
		a.lastAnalyzed, a.analyzedOnce = text, true
	}
	a.mu.Unlock()

	applied := a.engine.ApplyComments(res.Candidates)
	a.metrics.RecordComments(ctx, "applied", len(applied.Applied))
	a.metrics.RecordComments(ctx, "staged", len(applied.Staged))
	a.metrics.RecordComments(ctx, "duplicate", applied.Duplicates)
	a.metrics.RecordComments(ctx, "overlapped", len(applied.Overlapped))
	a.metrics.RecordComments(ctx, "not_found", len(applied.NotFound))

	return AnalyzeResult{NewCount: res.NewCount, ApplyResult: applied}, nil
}

// accrue credits the runes written to document docID since the last credit.
func (a *App) accrue(docID, text string) {
	a.mu.Lock()
	if a.docID != docID {
		a.mu.Unlock()
		return
	}
	written := changedRunes(a.lastAccrued, text)
	a.lastAccrued = text
	a.mu.Unlock()

	perRune := a.cfg.Energy.PerRune
	if written == 0 || perRune <= 0 {
		return
	}
	a.engine.AccrueEnergyFor(docID, float64(written), float64(written)*perRune)
}

// changedRunes returns the length of the edited region between a and b: the
// longer of the two middles left after removing their common prefix and
// suffix.
func changedRunes(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	p := 0
	for p < len(ra) && p < len(rb) && ra[p] == rb[p] {
		p++
	}
	s := 0
	for s < len(ra)-p && s < len(rb)-p && ra[len(ra)-1-s] == rb[len(rb)-1-s] {
		s++
	}
	return max(len(ra)-p-s, len(rb)-p-s)
}

// ChatWithComment sends msg to the voice that wrote the comment and records
// both sides of the exchange in the comment's chat history. The user message
// stays recorded when the voice fails to answer.
func (a *App) ChatWithComment(ctx context.Context, commentID, msg string) (string, error) {
	chatter, prompts, err := a.voices()
	if err != nil {
		return "", err
	}

	snap := a.engine.Snapshot()
	c, ok := snap.Comment(commentID)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownComment, commentID)
	}
	// The comment itself opens the conversation.
	history := append([]document.ChatMessage{{Role: document.RoleAssistant, Content: c.Text}}, c.ChatHistory...)
	if !a.engine.AddCommentChatMessage(commentID, document.RoleUser, msg) {
		return "", fmt.Errorf("%w: %s", ErrUnknownComment, commentID)
	}

	reply, err := chatter.Reply(ctx, voice.ChatRequest{
		VoiceID:      c.VoiceID,
		History:      history,
		Message:      msg,
		OriginalText: snap.Text(),
		MetaPrompt:   prompts.MetaPrompt,
		StatePrompt:  prompts.MoodPrompt(snap.SelectedMood),
	})
	if err != nil {
		return "", fmt.Errorf("app: chat with comment %s: %w", commentID, err)
	}
	a.engine.AddCommentChatMessage(commentID, document.RoleAssistant, reply)
	return reply, nil
}

// InsertChat embeds a new conversation with voiceID at rune offset cursor of
// a text cell and returns the widget's id.
func (a *App) InsertChat(cellID string, cursor int, voiceID string) (string, error) {
	if _, ok := a.Catalog().Get(voiceID); !ok {
		return "", fmt.Errorf("app: %w: %s", voice.ErrUnknownVoice, voiceID)
	}
	id, ok := a.engine.InsertChatWidget(cellID, cursor, voiceID)
	if !ok {
		return "", fmt.Errorf("%w: cell %s at %d", ErrInsertFailed, cellID, cursor)
	}
	return id, nil
}

// ChatInWidget sends msg to the voice of an inline chat widget and records
// both sides of the exchange in the widget.
func (a *App) ChatInWidget(ctx context.Context, widgetID, msg string) (string, error) {
	chatter, prompts, err := a.voices()
	if err != nil {
		return "", err
	}

	w, ok := a.engine.ChatWidget(widgetID)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownWidget, widgetID)
	}
	history := w.ConversationHistory()
	if !a.engine.AppendWidgetMessage(widgetID, document.RoleUser, msg) {
		return "", fmt.Errorf("%w: %s", ErrUnknownWidget, widgetID)
	}

	snap := a.engine.Snapshot()
	reply, err := chatter.Reply(ctx, voice.ChatRequest{
		VoiceID:      w.VoiceID(),
		History:      history,
		Message:      msg,
		OriginalText: snap.Text(),
		MetaPrompt:   prompts.MetaPrompt,
		StatePrompt:  prompts.MoodPrompt(snap.SelectedMood),
	})
	if err != nil {
		return "", fmt.Errorf("app: chat in widget %s: %w", widgetID, err)
	}
	a.engine.AppendWidgetMessage(widgetID, document.RoleAssistant, reply)
	return reply, nil
}

func (a *App) voices() (*voice.Chatter, config.PromptsConfig, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.chatter == nil {
		return nil, config.PromptsConfig{}, ErrNoProvider
	}
	return a.chatter, a.prompts, nil
}

// ApplyPending surfaces a staged comment if energy allows.
func (a *App) ApplyPending(ctx context.Context, commentID string) bool {
	ok := a.engine.ApplyPending(commentID)
	if ok {
		a.metrics.RecordComments(ctx, "applied", 1)
	}
	return ok
}

// SetFeedback stars, kills or clears a comment and appends the judgment to
// the feedback log when one is configured. A failed log write is logged and
// does not undo the feedback.
func (a *App) SetFeedback(ctx context.Context, commentID string, fb document.Feedback) error {
	if !fb.IsValid() {
		return fmt.Errorf("app: invalid feedback %q", fb)
	}
	c, ok := a.engine.Snapshot().Comment(commentID)
	if !ok || !a.engine.SetCommentFeedback(commentID, fb) {
		return fmt.Errorf("%w: %s", ErrUnknownComment, commentID)
	}
	if a.feedback == nil {
		return nil
	}
	rec := feedback.NewRecord(a.engine.ID(), c, fb, a.now())
	if err := a.feedback.Save(rec); err != nil {
		observe.Logger(ctx).Warn("feedback not logged", "comment_id", commentID, "err", err)
	}
	return nil
}

// VoiceTally returns the logged stars and kills per voice id. It returns nil
// when no feedback log is configured.
func (a *App) VoiceTally() (map[string]feedback.Tally, error) {
	if a.feedback == nil {
		return nil, nil
	}
	recs, err := a.feedback.Records()
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	return feedback.TallyByVoice(recs), nil
}
