package document

// CellKind is the wire tag that distinguishes the two cell variants.
type CellKind string

const (
	CellText   CellKind = "text"
	CellWidget CellKind = "widget"
)

// WidgetKind identifies the embedded component a widget cell hosts.
type WidgetKind string

// WidgetChat is an inline conversation with one voice.
const WidgetChat WidgetKind = "chat"

// IsValid reports whether k is a known widget kind.
func (k WidgetKind) IsValid() bool {
	return k == WidgetChat
}

// Cell is one ordered unit of a document. The only implementations are
// [TextCell] and [WidgetCell]; callers switch on the concrete type.
type Cell interface {
	CellID() string
	Kind() CellKind
	cloneCell() Cell
}

// TextCell holds a run of user-editable text.
type TextCell struct {
	ID      string
	Content string
}

// CellID implements [Cell].
func (c TextCell) CellID() string { return c.ID }

// Kind implements [Cell].
func (c TextCell) Kind() CellKind { return CellText }

func (c TextCell) cloneCell() Cell { return c }

// WidgetCell embeds a widget between two text cells. The widget's state lives
// in Data and is destroyed together with the cell.
type WidgetCell struct {
	ID         string
	WidgetKind WidgetKind
	Data       ChatWidgetData
}

// CellID implements [Cell].
func (c WidgetCell) CellID() string { return c.ID }

// Kind implements [Cell].
func (c WidgetCell) Kind() CellKind { return CellWidget }

func (c WidgetCell) cloneCell() Cell {
	c.Data = c.Data.Clone()
	return c
}

// Role is the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is one turn of a conversation with a voice.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatWidgetData is the serialisable state of a chat widget.
type ChatWidgetData struct {
	VoiceID             string        `json:"voiceId"`
	ConversationHistory []ChatMessage `json:"conversationHistory"`
}

// Clone returns a deep copy of d.
func (d ChatWidgetData) Clone() ChatWidgetData {
	d.ConversationHistory = cloneMessages(d.ConversationHistory)
	return d
}

func cloneMessages(in []ChatMessage) []ChatMessage {
	if in == nil {
		return nil
	}
	out := make([]ChatMessage, len(in))
	copy(out, in)
	return out
}
