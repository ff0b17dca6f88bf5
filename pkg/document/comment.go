package document

import (
	"time"

	"github.com/MrWong99/inkmemory/pkg/textnorm"
)

// Feedback is the user's judgment on a comment.
type Feedback string

const (
	FeedbackNone Feedback = ""
	FeedbackStar Feedback = "star"
	// FeedbackKill hides a comment from grouping and navigation. The comment
	// itself is kept.
	FeedbackKill Feedback = "kill"
)

// IsValid reports whether f is a known feedback value, including none.
func (f Feedback) IsValid() bool {
	switch f {
	case FeedbackNone, FeedbackStar, FeedbackKill:
		return true
	}
	return false
}

// Comment is an annotation written by a voice and anchored to Phrase.
//
// A comment starts out pending. It becomes visible once AppliedAt is set.
type Comment struct {
	ID          string        `json:"id"`
	Phrase      string        `json:"phrase"`
	VoiceID     string        `json:"voiceId"`
	Text        string        `json:"text"`
	Icon        string        `json:"icon"`
	Color       string        `json:"color"`
	AppliedAt   *time.Time    `json:"appliedAt,omitempty"`
	Feedback    Feedback      `json:"feedback,omitempty"`
	ChatHistory []ChatMessage `json:"chatHistory"`
}

// Applied reports whether the comment has been surfaced.
func (c Comment) Applied() bool { return c.AppliedAt != nil }

// Killed reports whether the user dismissed the comment.
func (c Comment) Killed() bool { return c.Feedback == FeedbackKill }

// Visible reports whether the comment takes part in anchoring and navigation.
func (c Comment) Visible() bool { return c.Applied() && !c.Killed() }

// SameAnchor reports whether c and o are the same phrase from the same voice.
func (c Comment) SameAnchor(o Comment) bool {
	return c.VoiceID == o.VoiceID && textnorm.Equal(c.Phrase, o.Phrase)
}

func (c Comment) clone() Comment {
	if c.AppliedAt != nil {
		t := *c.AppliedAt
		c.AppliedAt = &t
	}
	c.ChatHistory = cloneMessages(c.ChatHistory)
	return c
}
