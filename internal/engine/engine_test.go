package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/inkmemory/pkg/document"
)

var fixedNow = time.Date(2026, 2, 14, 8, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

// recorder collects events delivered to a subscriber.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) listen(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

func (r *recorder) last(t *testing.T) Event {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		t.Fatal("no events recorded")
	}
	return r.events[len(r.events)-1]
}

func newEngine(t *testing.T) (*Engine, *recorder, string) {
	t.Helper()
	e := New(nil, WithClock(clock))
	rec := &recorder{}
	e.Subscribe(rec.listen)
	return e, rec, e.Snapshot().Cells[0].CellID()
}

func TestEngine_MutationNotifiesSynchronously(t *testing.T) {
	t.Parallel()

	e, rec, cellID := newEngine(t)
	if !e.UpdateTextCell(cellID, "hello") {
		t.Fatal("update failed")
	}
	ev := rec.last(t)
	if ev.Kind != EventMutated {
		t.Errorf("kind = %v, want mutated", ev.Kind)
	}
	if got := ev.Document.Text(); got != "hello" {
		t.Errorf("snapshot text = %q, want hello", got)
	}
}

func TestEngine_StaleReferenceDoesNotNotify(t *testing.T) {
	t.Parallel()

	e, rec, _ := newEngine(t)
	if e.UpdateTextCell("gone", "x") {
		t.Error("stale update reported success")
	}
	if e.SetCommentFeedback("gone", document.FeedbackStar) {
		t.Error("stale feedback reported success")
	}
	if n := len(rec.kinds()); n != 0 {
		t.Errorf("events = %d, want 0", n)
	}
}

func TestEngine_SnapshotIsolation(t *testing.T) {
	t.Parallel()

	e, rec, cellID := newEngine(t)
	second := &recorder{}
	e.Subscribe(second.listen)

	e.UpdateTextCell(cellID, "original")
	ev := rec.last(t)
	ev.Document.UpdateTextCell(cellID, "tampered")
	ev.Document.Cells = nil

	if got := e.Snapshot().Text(); got != "original" {
		t.Errorf("engine text = %q, want original", got)
	}
	if got := second.last(t).Document.Text(); got != "original" {
		t.Errorf("second subscriber saw %q, want original", got)
	}

	snap := e.Snapshot()
	snap.UpdateTextCell(cellID, "also tampered")
	if got := e.Snapshot().Text(); got != "original" {
		t.Errorf("engine text after snapshot edit = %q", got)
	}
}

func TestEngine_LoadStateEvents(t *testing.T) {
	t.Parallel()

	e, rec, _ := newEngine(t)

	written := document.New(fixedNow)
	written.UpdateTextCell(written.Cells[0].CellID(), "yesterday's thoughts")
	e.LoadState(written)

	blank := document.New(fixedNow)
	e.LoadState(blank)

	kinds := rec.kinds()
	if len(kinds) != 2 || kinds[0] != EventLoaded || kinds[1] != EventBlankReset {
		t.Fatalf("kinds = %v, want [loaded blank_reset]", kinds)
	}
	if e.ID() != blank.ID {
		t.Errorf("ID = %s, want %s", e.ID(), blank.ID)
	}

	blank.UpdateTextCell(blank.Cells[0].CellID(), "after load")
	if e.Snapshot().Text() != "" {
		t.Error("engine aliases the loaded document")
	}
}

func TestEngine_UnsubscribeStopsDelivery(t *testing.T) {
	t.Parallel()

	e := New(nil)
	rec := &recorder{}
	unsub := e.Subscribe(rec.listen)
	cellID := e.Snapshot().Cells[0].CellID()

	e.UpdateTextCell(cellID, "one")
	unsub()
	unsub()
	e.UpdateTextCell(cellID, "two")

	if n := len(rec.kinds()); n != 1 {
		t.Errorf("events = %d, want 1", n)
	}
}

func TestEngine_ListenerMayCallBack(t *testing.T) {
	t.Parallel()

	e := New(nil)
	var seen string
	e.Subscribe(func(Event) { seen = e.Snapshot().Text() })
	e.UpdateTextCell(e.Snapshot().Cells[0].CellID(), "reentrant")

	if seen != "reentrant" {
		t.Errorf("listener saw %q", seen)
	}
}

func TestEngine_ApplyCommentsUsesEconomy(t *testing.T) {
	t.Parallel()

	e := New(nil, WithClock(clock), WithEconomy(Economy{CommentCost: 40, DuplicateRefund: 40}))
	cellID := e.Snapshot().Cells[0].CellID()
	e.UpdateTextCell(cellID, "The river was loud tonight.")
	e.AccrueEnergy(1, 100)

	res := e.ApplyComments([]document.Comment{
		{Phrase: "river was loud", VoiceID: "muse"},
		{Phrase: "tonight", VoiceID: "critic"},
		{Phrase: "The river", VoiceID: "sage"},
	})
	if len(res.Applied) != 2 || len(res.Overlapped) != 1 {
		t.Fatalf("result = %+v", res)
	}
	if got := e.UnusedEnergy(); got != 20 {
		t.Errorf("unused = %v, want 20", got)
	}

	c, _ := e.Snapshot().Comment(res.Applied[0])
	if !c.AppliedAt.Equal(fixedNow) {
		t.Errorf("AppliedAt = %v, want %v", c.AppliedAt, fixedNow)
	}
}

func TestEngine_ApplyPending(t *testing.T) {
	t.Parallel()

	e := New(nil, WithClock(clock))
	e.UpdateTextCell(e.Snapshot().Cells[0].CellID(), "quiet morning")
	res := e.ApplyComments([]document.Comment{{Phrase: "quiet", VoiceID: "v"}})
	if len(res.Staged) != 1 {
		t.Fatalf("result = %+v, want staged", res)
	}
	if e.ApplyPending(res.Staged[0]) {
		t.Error("applied without energy")
	}
	e.AccrueEnergy(0, document.DefaultCommentCost)
	if !e.ApplyPending(res.Staged[0]) {
		t.Error("ApplyPending failed with enough energy")
	}
}

func TestEngine_AccrueEnergyForLiveDocumentOnly(t *testing.T) {
	t.Parallel()

	e := New(nil, WithClock(clock))
	first := e.ID()
	if !e.AccrueEnergyFor(first, 12, 3) {
		t.Fatal("AccrueEnergyFor(live id) = false")
	}
	if w, en := e.Snapshot().CurrentWeight(), e.Snapshot().CurrentEnergy(); w != 12 || en != 3 {
		t.Errorf("weight, energy = %v, %v; want 12, 3", w, en)
	}

	e.LoadState(document.New(fixedNow))
	if e.AccrueEnergyFor(first, 12, 3) {
		t.Error("AccrueEnergyFor credited a document that is no longer loaded")
	}
	if n := len(e.Snapshot().EnergyLedger); n != 0 {
		t.Errorf("ledger entries = %d, want 0", n)
	}
}

func TestEngine_ChatWidget(t *testing.T) {
	t.Parallel()

	e, _, cellID := newEngine(t)
	e.UpdateTextCell(cellID, "ask @")
	wid, ok := e.InsertChatWidget(cellID, 5, "muse")
	if !ok {
		t.Fatal("insert failed")
	}
	if got := e.Snapshot().Text(); got != "ask " {
		t.Errorf("text = %q, want trigger consumed", got)
	}

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.AppendWidgetMessage(wid, document.RoleUser, "msg")
		}()
	}
	wg.Wait()

	w, ok := e.ChatWidget(wid)
	if !ok {
		t.Fatal("widget not found")
	}
	if w.Len() != 10 || w.VoiceID() != "muse" {
		t.Errorf("widget len=%d voice=%q, want 10 muse", w.Len(), w.VoiceID())
	}
	if e.AppendWidgetMessage(cellID, document.RoleUser, "x") {
		t.Error("appending to a text cell reported success")
	}
	if _, ok := e.ChatWidget(cellID); ok {
		t.Error("text cell returned as widget")
	}
}

func TestEngine_DeleteLastCell(t *testing.T) {
	t.Parallel()

	e, _, cellID := newEngine(t)
	e.DeleteCell(cellID)
	snap := e.Snapshot()
	if len(snap.Cells) != 1 || snap.Cells[0].Kind() != document.CellText {
		t.Errorf("cells = %#v, want one text cell", snap.Cells)
	}
}

func TestEventKind_String(t *testing.T) {
	t.Parallel()

	for kind, want := range map[EventKind]string{
		EventMutated:    "mutated",
		EventLoaded:     "loaded",
		EventBlankReset: "blank_reset",
		EventKind(99):   "unknown",
	} {
		if got := kind.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", kind, got, want)
		}
	}
}
