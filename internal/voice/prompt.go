package voice

import (
	"fmt"
	"strings"

	"github.com/MrWong99/inkmemory/pkg/document"
)

// buildAnalysisPrompt renders the instruction that asks the model for new
// comments on req.Text. Sections without content are omitted.
func buildAnalysisPrompt(req Request, catalog *Catalog, maxComments int) string {
	var sb strings.Builder

	sb.WriteString("You read a private journal entry and answer as a set of inner voices.\n")

	// ── Text ──────────────────────────────────────────────────────────────────
	sb.WriteString("\n## Text to analyse\nTake phrases from this text only.\n\n")
	fmt.Fprintf(&sb, "%q\n", req.Text)

	// ── Voices ────────────────────────────────────────────────────────────────
	sb.WriteString("\n## Available voices\n")
	for _, v := range catalog.Voices() {
		fmt.Fprintf(&sb, "- id: %s | name: %s | (%s, %s)\n", v.ID, v.Name, v.Icon, v.Color)
		if p := strings.TrimSpace(v.SystemPrompt); p != "" {
			fmt.Fprintf(&sb, "  %s\n", p)
		}
	}

	// ── Context ───────────────────────────────────────────────────────────────
	highlighted := appliedPhrases(req.Applied)
	if len(req.Applied) > 0 {
		sb.WriteString("\n## Existing comments\nContext only. Do not take phrases from this section.\n")
		for _, c := range req.Applied {
			name := c.VoiceID
			if v, ok := catalog.Get(c.VoiceID); ok {
				name = v.Name
			}
			fmt.Fprintf(&sb, "\n%s on %q:\n  %s\n", name, c.Phrase, c.Text)
		}
		fmt.Fprintf(&sb, "\nAlready highlighted, do not overlap: %s\n", quoteList(highlighted))
	}

	if len(req.Overlapped) > 0 {
		sb.WriteString("\n## Rejected phrases\nThese overlapped an existing comment. Never suggest them or a variation of them.\n")
		for _, p := range req.Overlapped {
			fmt.Fprintf(&sb, "- %q\n", p)
		}
	}
	if len(req.NotFound) > 0 {
		sb.WriteString("\n## Hard blacklist\nThese failed exact verification against the text. Treat them as forbidden even if they look present.\n")
		for _, p := range req.NotFound {
			fmt.Fprintf(&sb, "- %q\n", p)
		}
	}

	// ── Task ──────────────────────────────────────────────────────────────────
	sb.WriteString("\n## Task\n")
	if maxComments == 1 {
		sb.WriteString("Find ONE new voice comment.\n")
	} else {
		fmt.Fprintf(&sb, "Find up to %d new voice comments.\n", maxComments)
	}
	sb.WriteString(`1. Pick a short phrase (2-4 words) that is an exact substring of the text above.
2. Pick a voice by its id from the list above. Never invent voices.
3. Write what that voice says in 1-2 sentences, in the same language as the text.
Return null when nothing is worth a comment or no safe phrase exists.
`)

	if p := strings.TrimSpace(req.MetaPrompt); p != "" {
		fmt.Fprintf(&sb, "\n## Additional instructions\n%s\n", p)
	}
	if p := strings.TrimSpace(req.MoodPrompt); p != "" {
		fmt.Fprintf(&sb, "\n## The writer's current state\n%s\n", p)
	}

	// ── Output ────────────────────────────────────────────────────────────────
	sb.WriteString("\n## Output\nReply with JSON only, no prose:\n")
	if maxComments == 1 {
		sb.WriteString(`{"voice": {"phrase": "...", "voice_id": "...", "comment": "..."}} or {"voice": null}` + "\n")
	} else {
		sb.WriteString(`{"voices": [{"phrase": "...", "voice_id": "...", "comment": "..."}]}` + "\n")
	}

	if len(req.Overlapped) > 0 || len(req.NotFound) > 0 {
		fmt.Fprintf(&sb, "\nReminder: never output %s.\n", quoteList(append(append([]string(nil), req.Overlapped...), req.NotFound...)))
	}
	return sb.String()
}

// buildChatPrompt renders the persona system prompt used by [Chatter].
func buildChatPrompt(v Voice, req ChatRequest) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are %s, one of the writer's inner voices.", v.Name)
	if t := strings.TrimSpace(v.Tagline); t != "" {
		fmt.Fprintf(&sb, "\n\nYour character: %s", t)
	}
	if p := strings.TrimSpace(v.SystemPrompt); p != "" {
		fmt.Fprintf(&sb, "\n%s", p)
	}
	fmt.Fprintf(&sb, "\n\nRespond in character as %s. Be concise (1-3 sentences) and answer in the writer's language.", v.Name)

	if text := strings.TrimSpace(req.OriginalText); text != "" {
		fmt.Fprintf(&sb, "\n\n## What the writer is writing\n---\n%s\n---\nYour first comment was about this text.", text)
	}
	if p := strings.TrimSpace(req.MetaPrompt); p != "" {
		fmt.Fprintf(&sb, "\n\n## Additional instructions\n%s", p)
	}
	if p := strings.TrimSpace(req.StatePrompt); p != "" {
		fmt.Fprintf(&sb, "\n\n## The writer's current state\n%s", p)
	}
	return sb.String()
}

func appliedPhrases(comments []document.Comment) []string {
	out := make([]string, 0, len(comments))
	for _, c := range comments {
		out = append(out, c.Phrase)
	}
	return out
}

func quoteList(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = fmt.Sprintf("%q", s)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
