package voice

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrWong99/inkmemory/internal/observe"
	"github.com/MrWong99/inkmemory/pkg/document"
	"github.com/MrWong99/inkmemory/pkg/provider/llm"
)

// EmptyReply stands in for a reply the model left blank.
const EmptyReply = "..."

// ChatRequest is one user turn in a conversation with a voice.
type ChatRequest struct {
	VoiceID string

	// History excludes Message.
	History []document.ChatMessage
	Message string

	OriginalText string
	MetaPrompt   string
	StatePrompt  string
}

// Chatter answers the user in the voice of a persona.
type Chatter struct {
	provider    llm.Provider
	catalog     *Catalog
	temperature float64
}

// NewChatter creates a [Chatter]. A nil catalog selects [DefaultCatalog].
func NewChatter(provider llm.Provider, catalog *Catalog, temperature float64) *Chatter {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &Chatter{provider: provider, catalog: catalog, temperature: temperature}
}

// Reply returns the voice's answer to req.Message.
func (c *Chatter) Reply(ctx context.Context, req ChatRequest) (reply string, err error) {
	v, ok := c.catalog.Get(req.VoiceID)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownVoice, req.VoiceID)
	}

	ctx, span := observe.StartSpan(ctx, "voice.chat")
	defer func() { observe.EndSpan(span, err) }()

	msgs := make([]llm.Message, 0, len(req.History)+1)
	for _, m := range req.History {
		role := llm.RoleUser
		if m.Role == document.RoleAssistant {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Content: m.Content})
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: req.Message})

	resp, err := c.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: buildChatPrompt(v, req),
		Messages:     msgs,
		Temperature:  c.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("voice: chat with %s: %w", v.ID, err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return EmptyReply, nil
	}
	return strings.TrimSpace(resp.Content), nil
}
