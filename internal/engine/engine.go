// Package engine owns the live journaling document and notifies subscribers
// after every change.
//
// The [Engine] is the only writer of its [document.Document]. Every mutation
// goes through an Engine method, which applies the change under a lock and
// then calls each subscriber synchronously with its own deep copy of the
// result. Subscribers may keep or modify their copy freely.
//
// Loading a document wholesale ([Engine.LoadState]) emits [EventLoaded], or
// [EventBlankReset] when the loaded document is freshly created. The session
// orchestrator reacts to blank resets by persisting them immediately.
//
// This package lives under internal/ because it encapsulates application-private
// state handling and is not intended to be imported by external code.
package engine

import (
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/inkmemory/pkg/chatwidget"
	"github.com/MrWong99/inkmemory/pkg/document"
)

// EventKind classifies an [Event].
type EventKind int

const (
	// EventMutated follows any change made through a mutator.
	EventMutated EventKind = iota
	// EventLoaded follows [Engine.LoadState] with a document that has history.
	EventLoaded
	// EventBlankReset follows [Engine.LoadState] with a freshly created,
	// empty document.
	EventBlankReset
)

// String implements [fmt.Stringer].
func (k EventKind) String() string {
	switch k {
	case EventMutated:
		return "mutated"
	case EventLoaded:
		return "loaded"
	case EventBlankReset:
		return "blank_reset"
	default:
		return "unknown"
	}
}

// Event is delivered to subscribers after each change.
type Event struct {
	Kind EventKind
	// Document is a deep copy owned by the receiving subscriber.
	Document *document.Document
}

// Listener receives engine events. Listeners run on the goroutine that made
// the change, after the engine lock has been released, so they may call back
// into the engine.
type Listener func(Event)

// Economy holds the energy constants used by [Engine.ApplyComments].
type Economy struct {
	// CommentCost is the energy one applied comment consumes.
	CommentCost float64
	// DuplicateRefund is credited for each candidate that repeats an existing
	// comment. Equal to CommentCost, repeated analysis is energy-neutral.
	DuplicateRefund float64
}

// DefaultEconomy charges [document.DefaultCommentCost] and refunds it in
// full.
func DefaultEconomy() Economy {
	return Economy{CommentCost: document.DefaultCommentCost, DuplicateRefund: document.DefaultCommentCost}
}

// Option configures an [Engine].
type Option func(*Engine)

// WithEconomy overrides the energy constants.
func WithEconomy(e Economy) Option {
	return func(en *Engine) { en.economy = e }
}

// WithClock overrides the clock used to stamp applied comments.
func WithClock(now func() time.Time) Option {
	return func(en *Engine) { en.now = now }
}

type subscription struct {
	id int
	fn Listener
}

// Engine is the reactive store around one document. All methods are safe for
// concurrent use.
type Engine struct {
	mu      sync.Mutex
	doc     *document.Document
	economy Economy
	now     func() time.Time

	subMu  sync.Mutex
	subs   []subscription
	nextID int
}

// New creates an engine holding doc. A nil doc starts the engine with a blank
// document.
func New(doc *document.Document, opts ...Option) *Engine {
	e := &Engine{economy: DefaultEconomy(), now: time.Now}
	for _, o := range opts {
		o(e)
	}
	if doc == nil {
		doc = document.New(e.now())
	}
	e.doc = doc.Clone()
	return e
}

// Subscribe registers fn and returns a function that removes it. Listeners
// are called in subscription order.
func (e *Engine) Subscribe(fn Listener) (unsubscribe func()) {
	e.subMu.Lock()
	id := e.nextID
	e.nextID++
	e.subs = append(e.subs, subscription{id: id, fn: fn})
	e.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.subMu.Lock()
			defer e.subMu.Unlock()
			for i, s := range e.subs {
				if s.id == id {
					e.subs = append(e.subs[:i:i], e.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (e *Engine) notify(kind EventKind, snap *document.Document) {
	e.subMu.Lock()
	subs := make([]subscription, len(e.subs))
	copy(subs, e.subs)
	e.subMu.Unlock()

	for i, s := range subs {
		d := snap
		if i > 0 {
			d = snap.Clone()
		}
		s.fn(Event{Kind: kind, Document: d})
	}
}

// mutate runs fn against the live document. When fn reports a change, every
// subscriber is notified with a snapshot taken before the lock is released.
func (e *Engine) mutate(op string, fn func(d *document.Document) bool) bool {
	e.mu.Lock()
	if !fn(e.doc) {
		id := e.doc.ID
		e.mu.Unlock()
		slog.Debug("engine: ignoring stale reference", "op", op, "session_id", id)
		return false
	}
	snap := e.doc.Clone()
	e.mu.Unlock()

	e.notify(EventMutated, snap)
	return true
}

// Snapshot returns a deep copy of the current document.
func (e *Engine) Snapshot() *document.Document {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.doc.Clone()
}

// ID returns the id of the current document.
func (e *Engine) ID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.doc.ID
}

// Economy returns the energy constants in use.
func (e *Engine) Economy() Economy {
	return e.economy
}

// LoadState replaces the current document with a copy of doc and notifies
// subscribers with [EventBlankReset] or [EventLoaded].
func (e *Engine) LoadState(doc *document.Document) {
	if doc == nil {
		doc = document.New(e.now())
	}
	next := doc.Clone()
	kind := EventLoaded
	if next.IsBlank() {
		kind = EventBlankReset
	}

	e.mu.Lock()
	e.doc = next
	snap := next.Clone()
	e.mu.Unlock()

	e.notify(kind, snap)
}

// UpdateTextCell replaces a text cell's content and re-anchors comments.
func (e *Engine) UpdateTextCell(cellID, content string) bool {
	return e.mutate("update_text_cell", func(d *document.Document) bool {
		return d.UpdateTextCell(cellID, content)
	})
}

// InsertWidgetAtCursor splits a text cell and embeds a widget. It returns the
// new widget's id.
func (e *Engine) InsertWidgetAtCursor(cellID string, cursor int, kind document.WidgetKind, data document.ChatWidgetData) (string, bool) {
	var id string
	ok := e.mutate("insert_widget", func(d *document.Document) bool {
		var ok bool
		id, ok = d.InsertWidgetAtCursor(cellID, cursor, kind, data)
		return ok
	})
	return id, ok
}

// InsertChatWidget is [Engine.InsertWidgetAtCursor] for a new, empty
// conversation with voiceID.
func (e *Engine) InsertChatWidget(cellID string, cursor int, voiceID string) (string, bool) {
	return e.InsertWidgetAtCursor(cellID, cursor, document.WidgetChat, chatwidget.New(voiceID).ToData())
}

// UpdateWidgetData replaces a widget cell's payload.
func (e *Engine) UpdateWidgetData(widgetID string, data document.ChatWidgetData) bool {
	return e.mutate("update_widget", func(d *document.Document) bool {
		return d.UpdateWidgetData(widgetID, data)
	})
}

// ChatWidget returns a copy of the conversation held by a widget cell.
func (e *Engine) ChatWidget(widgetID string) (*chatwidget.Widget, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.doc.Cell(widgetID)
	if !ok {
		return nil, false
	}
	wc, ok := c.(document.WidgetCell)
	if !ok || wc.WidgetKind != document.WidgetChat {
		return nil, false
	}
	return chatwidget.FromData(wc.Data), true
}

// AppendWidgetMessage adds one message to a chat widget's conversation. The
// read-modify-write happens under the engine lock, so concurrent replies are
// never lost.
func (e *Engine) AppendWidgetMessage(widgetID string, role document.Role, content string) bool {
	return e.mutate("append_widget_message", func(d *document.Document) bool {
		c, ok := d.Cell(widgetID)
		if !ok {
			return false
		}
		wc, ok := c.(document.WidgetCell)
		if !ok || wc.WidgetKind != document.WidgetChat {
			return false
		}
		w := chatwidget.FromData(wc.Data)
		switch role {
		case document.RoleUser:
			w.AddUserMessage(content)
		case document.RoleAssistant:
			w.AddAssistantMessage(content)
		default:
			return false
		}
		return d.UpdateWidgetData(widgetID, w.ToData())
	})
}

// DeleteCell removes a cell. The document always keeps at least one cell.
func (e *Engine) DeleteCell(cellID string) bool {
	return e.mutate("delete_cell", func(d *document.Document) bool {
		return d.DeleteCell(cellID)
	})
}

// SetCommentFeedback stars or kills a comment.
func (e *Engine) SetCommentFeedback(commentID string, fb document.Feedback) bool {
	return e.mutate("set_comment_feedback", func(d *document.Document) bool {
		return d.SetCommentFeedback(commentID, fb)
	})
}

// AddCommentChatMessage appends one turn to a comment's conversation.
func (e *Engine) AddCommentChatMessage(commentID string, role document.Role, content string) bool {
	return e.mutate("add_comment_chat", func(d *document.Document) bool {
		return d.AddCommentChatMessage(commentID, role, content)
	})
}

// SetSelectedMood sets or clears the mood of the current document.
func (e *Engine) SetSelectedMood(mood string) {
	e.mutate("set_mood", func(d *document.Document) bool {
		d.SetSelectedMood(mood)
		return true
	})
}

// ApplyComments runs analysis candidates through the energy economy. See
// [document.Document.ApplyComments].
func (e *Engine) ApplyComments(candidates []document.Comment) document.ApplyResult {
	var res document.ApplyResult
	e.mutate("apply_comments", func(d *document.Document) bool {
		res = d.ApplyComments(candidates, e.economy.CommentCost, e.economy.DuplicateRefund, e.now())
		return true
	})
	return res
}

// ApplyPending surfaces a staged comment when energy allows.
func (e *Engine) ApplyPending(commentID string) bool {
	return e.mutate("apply_pending", func(d *document.Document) bool {
		return d.ApplyPending(commentID, e.economy.CommentCost, e.now())
	})
}

// AccrueEnergy appends a ledger entry adding the given deltas.
func (e *Engine) AccrueEnergy(weightDelta, energyDelta float64) {
	e.mutate("accrue_energy", func(d *document.Document) bool {
		d.AccrueEnergy(weightDelta, energyDelta)
		return true
	})
}

// AccrueEnergyFor is [Engine.AccrueEnergy] for the document with id docID
// only. It reports false, leaving the ledger alone, when another document
// has been loaded in the meantime.
func (e *Engine) AccrueEnergyFor(docID string, weightDelta, energyDelta float64) bool {
	return e.mutate("accrue_energy", func(d *document.Document) bool {
		if d.ID != docID {
			return false
		}
		d.AccrueEnergy(weightDelta, energyDelta)
		return true
	})
}

// UnusedEnergy returns the energy left for new comments, derived from the
// ledger and the applied comments on every call.
func (e *Engine) UnusedEnergy() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.doc.UnusedEnergy(e.economy.CommentCost)
}
