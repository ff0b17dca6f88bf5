package document

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// UpdateTextCell replaces the content of a text cell and re-anchors every
// comment against the new text. It reports false when no text cell has the
// given id.
func (d *Document) UpdateTextCell(cellID, content string) bool {
	i := d.cellIndex(cellID)
	if i < 0 {
		return false
	}
	tc, ok := d.Cells[i].(TextCell)
	if !ok {
		return false
	}
	tc.Content = content
	d.Cells[i] = tc
	d.refreshAnchors()
	return true
}

// InsertWidgetAtCursor splits the text cell cellID at the rune offset cursor
// and places a new widget cell between the two fragments. A [TriggerChar]
// directly before the cursor is consumed. The fragment after the cursor
// always becomes a new text cell, even when empty, so the editor has
// somewhere to put the caret.
//
// The cursor is clamped into the cell's content. It returns the widget id,
// or false for an unknown cell or widget kind.
func (d *Document) InsertWidgetAtCursor(cellID string, cursor int, kind WidgetKind, data ChatWidgetData) (string, bool) {
	if !kind.IsValid() {
		return "", false
	}
	i := d.cellIndex(cellID)
	if i < 0 {
		return "", false
	}
	tc, ok := d.Cells[i].(TextCell)
	if !ok {
		return "", false
	}

	runes := []rune(tc.Content)
	cursor = min(max(cursor, 0), len(runes))
	before, after := runes[:cursor], runes[cursor:]
	if n := len(before); n > 0 && before[n-1] == TriggerChar {
		before = before[:n-1]
	}

	widget := WidgetCell{ID: uuid.NewString(), WidgetKind: kind, Data: data.Clone()}
	tail := TextCell{ID: uuid.NewString(), Content: stripMarkers(string(after))}
	tc.Content = stripMarkers(string(before))

	cells := make([]Cell, 0, len(d.Cells)+2)
	cells = append(cells, d.Cells[:i]...)
	cells = append(cells, tc, widget, tail)
	cells = append(cells, d.Cells[i+1:]...)
	d.Cells = cells

	d.refreshAnchors()
	return widget.ID, true
}

func stripMarkers(s string) string {
	return strings.ReplaceAll(s, string(WidgetMarker), "")
}

// UpdateWidgetData replaces the payload of a widget cell.
func (d *Document) UpdateWidgetData(widgetID string, data ChatWidgetData) bool {
	i := d.cellIndex(widgetID)
	if i < 0 {
		return false
	}
	wc, ok := d.Cells[i].(WidgetCell)
	if !ok {
		return false
	}
	wc.Data = data.Clone()
	d.Cells[i] = wc
	return true
}

// DeleteCell removes a cell. When no text cell is left, a fresh empty one is
// appended so there is always somewhere to write.
func (d *Document) DeleteCell(cellID string) bool {
	i := d.cellIndex(cellID)
	if i < 0 {
		return false
	}
	d.Cells = ensureTextCell(append(d.Cells[:i:i], d.Cells[i+1:]...))
	d.refreshAnchors()
	return true
}

// ensureTextCell appends an empty text cell to cells unless one is present.
func ensureTextCell(cells []Cell) []Cell {
	for _, c := range cells {
		if _, ok := c.(TextCell); ok {
			return cells
		}
	}
	return append(cells, TextCell{ID: uuid.NewString()})
}

// SetCommentFeedback records the user's judgment on a comment.
func (d *Document) SetCommentFeedback(commentID string, fb Feedback) bool {
	i := d.commentIndex(commentID)
	if i < 0 || !fb.IsValid() {
		return false
	}
	d.Comments[i].Feedback = fb
	d.refreshAnchors()
	return true
}

// AddCommentChatMessage appends one turn to a comment's conversation.
func (d *Document) AddCommentChatMessage(commentID string, role Role, content string) bool {
	i := d.commentIndex(commentID)
	if i < 0 {
		return false
	}
	d.Comments[i].ChatHistory = append(d.Comments[i].ChatHistory, ChatMessage{Role: role, Content: content})
	return true
}

// SetSelectedMood sets or clears (empty mood) the selected mood.
func (d *Document) SetSelectedMood(mood string) {
	d.SelectedMood = mood
}

// touch normalises a timestamp the way it is stored.
func touch(t time.Time) *time.Time {
	u := t.UTC()
	return &u
}
