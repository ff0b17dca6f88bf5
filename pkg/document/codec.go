package document

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrInvalid is returned when serialised data does not describe a document.
var ErrInvalid = errors.New("document: invalid")

type wireDocument struct {
	ID                string            `json:"id"`
	Cells             []wireCell        `json:"cells"`
	Comments          []Comment         `json:"comments"`
	Tasks             []json.RawMessage `json:"tasks"`
	EnergyLedger      []EnergyEntry     `json:"energyLedger"`
	OverlappedPhrases []string          `json:"overlappedPhrases"`
	NotFoundPhrases   []string          `json:"notFoundPhrases"`
	SelectedMood      string            `json:"selectedMood,omitempty"`
	CreatedAt         time.Time         `json:"createdAt"`
}

type wireCell struct {
	Type       CellKind        `json:"type"`
	ID         string          `json:"id"`
	Content    *string         `json:"content,omitempty"`
	WidgetType WidgetKind      `json:"widgetType,omitempty"`
	Data       *ChatWidgetData `json:"data,omitempty"`
}

// MarshalJSON encodes the document with camelCase field names and cells
// tagged by "type".
func (d *Document) MarshalJSON() ([]byte, error) {
	w := wireDocument{
		ID:                d.ID,
		Comments:          d.Comments,
		Tasks:             d.Tasks,
		EnergyLedger:      d.EnergyLedger,
		OverlappedPhrases: d.OverlappedPhrases,
		NotFoundPhrases:   d.NotFoundPhrases,
		SelectedMood:      d.SelectedMood,
		CreatedAt:         d.CreatedAt,
	}
	if d.Cells != nil {
		w.Cells = make([]wireCell, 0, len(d.Cells))
	}
	for _, c := range d.Cells {
		switch c := c.(type) {
		case TextCell:
			content := c.Content
			w.Cells = append(w.Cells, wireCell{Type: CellText, ID: c.ID, Content: &content})
		case WidgetCell:
			data := c.Data
			w.Cells = append(w.Cells, wireCell{Type: CellWidget, ID: c.ID, WidgetType: c.WidgetKind, Data: &data})
		default:
			return nil, fmt.Errorf("document: marshal: unknown cell type %T", c)
		}
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes a document written by [Document.MarshalJSON]. A
// document without a text cell gets an empty one appended. Timestamps are
// converted to UTC.
func (d *Document) UnmarshalJSON(b []byte) error {
	var w wireDocument
	if err := json.Unmarshal(b, &w); err != nil {
		return fmt.Errorf("document: unmarshal: %w", err)
	}
	if w.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalid)
	}

	cells := make([]Cell, 0, len(w.Cells))
	for i, wc := range w.Cells {
		if wc.ID == "" {
			return fmt.Errorf("%w: cell %d has no id", ErrInvalid, i)
		}
		switch wc.Type {
		case CellText:
			var content string
			if wc.Content != nil {
				content = *wc.Content
			}
			cells = append(cells, TextCell{ID: wc.ID, Content: content})
		case CellWidget:
			if !wc.WidgetType.IsValid() {
				return fmt.Errorf("%w: cell %s has unknown widget type %q", ErrInvalid, wc.ID, wc.WidgetType)
			}
			var data ChatWidgetData
			if wc.Data != nil {
				data = *wc.Data
			}
			cells = append(cells, WidgetCell{ID: wc.ID, WidgetKind: wc.WidgetType, Data: data})
		default:
			return fmt.Errorf("%w: cell %s has unknown type %q", ErrInvalid, wc.ID, wc.Type)
		}
	}
	cells = ensureTextCell(cells)

	for i := range w.Comments {
		if at := w.Comments[i].AppliedAt; at != nil {
			w.Comments[i].AppliedAt = touch(*at)
		}
	}

	*d = Document{
		ID:                w.ID,
		Cells:             cells,
		Comments:          w.Comments,
		Tasks:             w.Tasks,
		EnergyLedger:      w.EnergyLedger,
		OverlappedPhrases: w.OverlappedPhrases,
		NotFoundPhrases:   w.NotFoundPhrases,
		SelectedMood:      w.SelectedMood,
		CreatedAt:         w.CreatedAt.UTC(),
	}
	return nil
}

// Marshal is shorthand for json.Marshal(d).
func Marshal(d *Document) ([]byte, error) {
	return json.Marshal(d)
}

// Unmarshal decodes a serialised document.
func Unmarshal(b []byte) (*Document, error) {
	d := new(Document)
	if err := json.Unmarshal(b, d); err != nil {
		return nil, err
	}
	return d, nil
}
