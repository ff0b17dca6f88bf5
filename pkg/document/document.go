// Package document defines the journaling document: an ordered sequence of
// text and widget cells, the voice comments anchored into that text, and the
// energy ledger that gates how many comments may be surfaced.
//
// Mutators live on *Document and follow one rule: a reference to a cell or
// comment that no longer exists is not an error. The call is a no-op that
// reports false. Async callbacks routinely race against deletions.
//
// A Document is not safe for concurrent use. The engine package owns the live
// instance and hands out clones.
package document

import (
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// TriggerChar is the character that opens the voice picker. It is consumed
// when a widget is inserted right after it.
const TriggerChar = '@'

// WidgetMarker is the placeholder rune an editor may leave where a widget
// was inserted. It is stripped from text fragments on insertion.
const WidgetMarker = '￼'

// Document is the root aggregate of one journaling session.
type Document struct {
	ID                string
	Cells             []Cell
	Comments          []Comment
	Tasks             []json.RawMessage
	EnergyLedger      []EnergyEntry
	OverlappedPhrases []string
	NotFoundPhrases   []string
	SelectedMood      string
	CreatedAt         time.Time
}

// New returns a blank document with a fresh id and a single empty text cell.
func New(now time.Time) *Document {
	return &Document{
		ID:        uuid.NewString(),
		Cells:     []Cell{TextCell{ID: uuid.NewString()}},
		CreatedAt: now.UTC(),
	}
}

// Clone returns a deep copy of d.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := *d
	if d.Cells != nil {
		out.Cells = make([]Cell, len(d.Cells))
		for i, c := range d.Cells {
			out.Cells[i] = c.cloneCell()
		}
	}
	if d.Comments != nil {
		out.Comments = make([]Comment, len(d.Comments))
		for i, c := range d.Comments {
			out.Comments[i] = c.clone()
		}
	}
	if d.Tasks != nil {
		out.Tasks = make([]json.RawMessage, len(d.Tasks))
		for i, t := range d.Tasks {
			if t != nil {
				out.Tasks[i] = append(json.RawMessage(nil), t...)
			}
		}
	}
	out.EnergyLedger = cloneSlice(d.EnergyLedger)
	out.OverlappedPhrases = cloneSlice(d.OverlappedPhrases)
	out.NotFoundPhrases = cloneSlice(d.NotFoundPhrases)
	return &out
}

func cloneSlice[T any](in []T) []T {
	if in == nil {
		return nil
	}
	out := make([]T, len(in))
	copy(out, in)
	return out
}

// Text returns the concatenation of all text cells in reading order. Comment
// phrases are matched against this string.
func (d *Document) Text() string {
	var b strings.Builder
	for _, c := range d.Cells {
		if tc, ok := c.(TextCell); ok {
			b.WriteString(tc.Content)
		}
	}
	return b.String()
}

// HasContent reports whether at least one text cell holds non-whitespace text.
func (d *Document) HasContent() bool {
	for _, c := range d.Cells {
		if tc, ok := c.(TextCell); ok && strings.TrimSpace(tc.Content) != "" {
			return true
		}
	}
	return false
}

// IsBlank reports whether d looks freshly created: one empty text cell, no
// comments and no tasks.
func (d *Document) IsBlank() bool {
	if len(d.Cells) != 1 || len(d.Comments) != 0 || len(d.Tasks) != 0 {
		return false
	}
	tc, ok := d.Cells[0].(TextCell)
	return ok && tc.Content == ""
}

// Cell returns the cell with the given id.
func (d *Document) Cell(id string) (Cell, bool) {
	if i := d.cellIndex(id); i >= 0 {
		return d.Cells[i], true
	}
	return nil, false
}

// Comment returns the comment with the given id.
func (d *Document) Comment(id string) (Comment, bool) {
	if i := d.commentIndex(id); i >= 0 {
		return d.Comments[i], true
	}
	return Comment{}, false
}

// WordCount returns the number of whitespace-separated words across all text
// cells.
func (d *Document) WordCount() int {
	return len(strings.Fields(d.Text()))
}

// CharCount returns the number of runes across all text cells.
func (d *Document) CharCount() int {
	return utf8.RuneCountInString(d.Text())
}

func (d *Document) cellIndex(id string) int {
	for i, c := range d.Cells {
		if c.CellID() == id {
			return i
		}
	}
	return -1
}

func (d *Document) commentIndex(id string) int {
	for i, c := range d.Comments {
		if c.ID == id {
			return i
		}
	}
	return -1
}
