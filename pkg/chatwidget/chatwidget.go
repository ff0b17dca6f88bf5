// Package chatwidget implements the inline conversation embedded in a widget
// cell. A Widget is a thin, append-only view over [document.ChatWidgetData].
// The owning cell stores the serialised form, so a widget lives exactly as
// long as its cell.
package chatwidget

import (
	"github.com/MrWong99/inkmemory/pkg/document"
)

// Widget is the conversation between the user and one voice.
//
// A Widget is not safe for concurrent use. The engine rebuilds one from cell
// data under its own lock for every change.
type Widget struct {
	voiceID string
	history []document.ChatMessage
}

// New returns an empty conversation with voiceID.
func New(voiceID string) *Widget {
	return &Widget{voiceID: voiceID}
}

// FromData restores a widget from its serialised form.
func FromData(d document.ChatWidgetData) *Widget {
	d = d.Clone()
	return &Widget{voiceID: d.VoiceID, history: d.ConversationHistory}
}

// ToData returns the serialised form of w. The result does not alias w.
func (w *Widget) ToData() document.ChatWidgetData {
	return document.ChatWidgetData{VoiceID: w.voiceID, ConversationHistory: w.ConversationHistory()}
}

// VoiceID returns the voice this conversation is with.
func (w *Widget) VoiceID() string { return w.voiceID }

// AddUserMessage appends a message written by the user.
func (w *Widget) AddUserMessage(text string) {
	w.history = append(w.history, document.ChatMessage{Role: document.RoleUser, Content: text})
}

// AddAssistantMessage appends a reply from the voice.
func (w *Widget) AddAssistantMessage(text string) {
	w.history = append(w.history, document.ChatMessage{Role: document.RoleAssistant, Content: text})
}

// ConversationHistory returns a copy of every message in order. Callers that
// need the history before the latest message slice it themselves.
func (w *Widget) ConversationHistory() []document.ChatMessage {
	if w.history == nil {
		return nil
	}
	out := make([]document.ChatMessage, len(w.history))
	copy(out, w.history)
	return out
}

// Len returns the number of messages.
func (w *Widget) Len() int { return len(w.history) }

// Last returns the most recent message.
func (w *Widget) Last() (document.ChatMessage, bool) {
	if len(w.history) == 0 {
		return document.ChatMessage{}, false
	}
	return w.history[len(w.history)-1], true
}
