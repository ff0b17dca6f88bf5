package document

import (
	"encoding/json"
	"reflect"
	"slices"
	"testing"
	"time"
)

var t0 = time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

// docWithText returns a document whose only cell holds text, along with the
// cell id.
func docWithText(text string) (*Document, string) {
	d := New(t0)
	id := d.Cells[0].CellID()
	d.UpdateTextCell(id, text)
	return d, id
}

func textOf(t *testing.T, c Cell) string {
	t.Helper()
	tc, ok := c.(TextCell)
	if !ok {
		t.Fatalf("cell %s is %T, want TextCell", c.CellID(), c)
	}
	return tc.Content
}

func TestNew_IsBlank(t *testing.T) {
	t.Parallel()

	d := New(t0)
	if !d.IsBlank() {
		t.Error("new document should be blank")
	}
	if d.ID == "" {
		t.Error("new document has no id")
	}
	if !d.CreatedAt.Equal(t0) {
		t.Errorf("CreatedAt = %v, want %v", d.CreatedAt, t0)
	}
	if d.HasContent() {
		t.Error("new document should have no content")
	}
}

func TestUpdateTextCell(t *testing.T) {
	t.Parallel()

	d, id := docWithText("hello")
	if got := d.Text(); got != "hello" {
		t.Errorf("Text() = %q, want hello", got)
	}
	if d.IsBlank() {
		t.Error("document with text is not blank")
	}
	if d.UpdateTextCell("missing", "x") {
		t.Error("update of missing cell reported success")
	}
	if got := textOf(t, d.Cells[0]); got != "hello" {
		t.Errorf("content changed by stale update: %q", got)
	}
	if !d.UpdateTextCell(id, "") {
		t.Error("update to empty failed")
	}
}

func TestInsertWidgetAtCursor_SplitsAndConsumesTrigger(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		content    string
		cursor     int
		wantBefore string
		wantAfter  string
		consumed   bool
	}{
		{"trigger before cursor", "Dear diary @ today", 12, "Dear diary ", " today", true},
		{"no trigger", "abcdef", 3, "abc", "def", false},
		{"at end", "hi @", 4, "hi ", "", true},
		{"at start", "text", 0, "", "text", false},
		{"multibyte", "größe@zwei", 6, "größe", "zwei", true},
		{"cursor clamped", "abc", 99, "abc", "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d, id := docWithText(tc.content)
			widgetID, ok := d.InsertWidgetAtCursor(id, tc.cursor, WidgetChat, ChatWidgetData{VoiceID: "muse"})
			if !ok {
				t.Fatal("insert failed")
			}
			if len(d.Cells) != 3 {
				t.Fatalf("cells = %d, want 3", len(d.Cells))
			}
			before, after := textOf(t, d.Cells[0]), textOf(t, d.Cells[2])
			if before != tc.wantBefore || after != tc.wantAfter {
				t.Errorf("fragments = %q | %q, want %q | %q", before, after, tc.wantBefore, tc.wantAfter)
			}
			joined := before + after
			if tc.consumed {
				joined = before + "@" + after
			}
			if joined != tc.content {
				t.Errorf("fragments do not reassemble: %q != %q", joined, tc.content)
			}
			w, ok := d.Cells[1].(WidgetCell)
			if !ok || w.ID != widgetID || w.Data.VoiceID != "muse" {
				t.Errorf("middle cell = %#v, want widget %s", d.Cells[1], widgetID)
			}
			if d.Cells[0].CellID() != id {
				t.Error("before fragment should keep the original cell id")
			}
		})
	}
}

func TestInsertWidgetAtCursor_StripsMarkers(t *testing.T) {
	t.Parallel()

	d, id := docWithText("a" + string(WidgetMarker) + "b")
	if _, ok := d.InsertWidgetAtCursor(id, 3, WidgetChat, ChatWidgetData{}); !ok {
		t.Fatal("insert failed")
	}
	if got := textOf(t, d.Cells[0]); got != "ab" {
		t.Errorf("before = %q, want ab", got)
	}
}

func TestInsertWidgetAtCursor_RejectsWidgetTarget(t *testing.T) {
	t.Parallel()

	d, id := docWithText("x@")
	wid, _ := d.InsertWidgetAtCursor(id, 2, WidgetChat, ChatWidgetData{})
	if _, ok := d.InsertWidgetAtCursor(wid, 0, WidgetChat, ChatWidgetData{}); ok {
		t.Error("inserting into a widget cell should be a no-op")
	}
	if d.UpdateTextCell(wid, "text") {
		t.Error("updating a widget as text should be a no-op")
	}
}

func TestInsertWidgetAtCursor_RejectsUnknownKind(t *testing.T) {
	t.Parallel()

	d, id := docWithText("hello @")
	if _, ok := d.InsertWidgetAtCursor(id, 7, WidgetKind("poll"), ChatWidgetData{}); ok {
		t.Fatal("inserted a widget of unknown kind")
	}
	if len(d.Cells) != 1 || textOf(t, d.Cells[0]) != "hello @" {
		t.Errorf("cells changed: %#v", d.Cells)
	}
	b, err := Marshal(d)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if _, err := Unmarshal(b); err != nil {
		t.Errorf("document no longer loads: %v", err)
	}
}

func TestUpdateWidgetData(t *testing.T) {
	t.Parallel()

	d, id := docWithText("@")
	wid, _ := d.InsertWidgetAtCursor(id, 1, WidgetChat, ChatWidgetData{VoiceID: "v"})

	data := ChatWidgetData{VoiceID: "v", ConversationHistory: []ChatMessage{{Role: RoleUser, Content: "hi"}}}
	if !d.UpdateWidgetData(wid, data) {
		t.Fatal("update failed")
	}
	data.ConversationHistory[0].Content = "mutated"
	c, _ := d.Cell(wid)
	if got := c.(WidgetCell).Data.ConversationHistory[0].Content; got != "hi" {
		t.Errorf("widget data aliases caller slice: %q", got)
	}
	if d.UpdateWidgetData(id, data) {
		t.Error("updating a text cell as widget should be a no-op")
	}
}

func TestDeleteCell_NeverEmpty(t *testing.T) {
	t.Parallel()

	d, id := docWithText("only")
	if !d.DeleteCell(id) {
		t.Fatal("delete failed")
	}
	if len(d.Cells) != 1 {
		t.Fatalf("cells = %d, want 1", len(d.Cells))
	}
	if got := textOf(t, d.Cells[0]); got != "" {
		t.Errorf("replacement cell content = %q, want empty", got)
	}
	if d.Cells[0].CellID() == id {
		t.Error("replacement cell should have a fresh id")
	}
	if d.DeleteCell(id) {
		t.Error("deleting a missing cell reported success")
	}
}

func TestDeleteCell_KeepsATextCell(t *testing.T) {
	t.Parallel()

	d, id := docWithText("hello @")
	wid, ok := d.InsertWidgetAtCursor(id, 7, WidgetChat, ChatWidgetData{VoiceID: "starter"})
	if !ok {
		t.Fatal("insert failed")
	}
	for _, c := range slices.Clone(d.Cells) {
		if c.CellID() != wid && !d.DeleteCell(c.CellID()) {
			t.Fatalf("delete %s failed", c.CellID())
		}
	}

	if len(d.Cells) != 2 {
		t.Fatalf("cells = %d, want the widget and a text cell", len(d.Cells))
	}
	if d.Cells[0].CellID() != wid {
		t.Errorf("first cell = %s, want the widget", d.Cells[0].CellID())
	}
	if got := textOf(t, d.Cells[1]); got != "" {
		t.Errorf("appended text cell = %q, want empty", got)
	}
}

func TestDeleteCell_DestroysWidget(t *testing.T) {
	t.Parallel()

	d, id := docWithText("a@b")
	wid, _ := d.InsertWidgetAtCursor(id, 2, WidgetChat, ChatWidgetData{})
	d.DeleteCell(wid)
	if _, ok := d.Cell(wid); ok {
		t.Error("widget cell still present")
	}
	if len(d.Cells) != 2 {
		t.Errorf("cells = %d, want 2", len(d.Cells))
	}
}

func TestCommentMutators_MissingIDsAreNoOps(t *testing.T) {
	t.Parallel()

	d, _ := docWithText("x")
	if d.SetCommentFeedback("nope", FeedbackStar) {
		t.Error("feedback on missing comment reported success")
	}
	if d.AddCommentChatMessage("nope", RoleUser, "hi") {
		t.Error("chat on missing comment reported success")
	}
}

func TestClone_IsDeep(t *testing.T) {
	t.Parallel()

	d, id := docWithText("The garden was quiet this morning.")
	d.AccrueEnergy(1, 100)
	d.ApplyComments([]Comment{{Phrase: "garden", VoiceID: "muse"}}, 50, 50, t0)
	wid, _ := d.InsertWidgetAtCursor(id, 3, WidgetChat, ChatWidgetData{VoiceID: "muse"})
	d.Tasks = []json.RawMessage{json.RawMessage(`{"t":1}`)}

	c := d.Clone()
	if !reflect.DeepEqual(c, d) {
		t.Fatal("clone differs from original")
	}

	c.Comments[0].Text = "changed"
	*c.Comments[0].AppliedAt = t0.Add(time.Hour)
	c.EnergyLedger[0].Energy = 0
	c.Tasks[0][2] = 'x'
	c.UpdateWidgetData(wid, ChatWidgetData{VoiceID: "other"})

	if d.Comments[0].Text == "changed" || !d.Comments[0].AppliedAt.Equal(t0) {
		t.Error("comment mutation leaked into original")
	}
	if d.EnergyLedger[0].Energy != 100 {
		t.Error("ledger mutation leaked into original")
	}
	if string(d.Tasks[0]) != `{"t":1}` {
		t.Error("task mutation leaked into original")
	}
	if cell, _ := d.Cell(wid); cell.(WidgetCell).Data.VoiceID != "muse" {
		t.Error("widget mutation leaked into original")
	}
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	d, id := docWithText("Rain on the window. I kept thinking about “home” — again…")
	d.AccrueEnergy(3, 150)
	d.ApplyComments([]Comment{
		{Phrase: "rain on the window", VoiceID: "muse", Text: "Lovely image.", Icon: "🌧", Color: "#336699"},
		{Phrase: `"home"`, VoiceID: "critic", Text: "Which home?"},
		{Phrase: "absent phrase", VoiceID: "critic"},
	}, 50, 50, t0)
	d.SetCommentFeedback(d.Comments[0].ID, FeedbackStar)
	d.AddCommentChatMessage(d.Comments[1].ID, RoleUser, "The old one.")
	d.InsertWidgetAtCursor(id, 5, WidgetChat, ChatWidgetData{
		VoiceID:             "muse",
		ConversationHistory: []ChatMessage{{Role: RoleAssistant, Content: "Tell me more."}},
	})
	d.Tasks = []json.RawMessage{json.RawMessage(`{"title":"call mum"}`)}
	d.SetSelectedMood("calm")

	b, err := Marshal(d)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := Unmarshal(b)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !reflect.DeepEqual(got, d) {
		t.Errorf("round trip mismatch\n got: %#v\nwant: %#v", got, d)
	}
}

func TestRoundTrip_Blank(t *testing.T) {
	t.Parallel()

	d := New(t0)
	b, err := Marshal(d)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := Unmarshal(b)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !reflect.DeepEqual(got, d) {
		t.Errorf("round trip mismatch\n got: %#v\nwant: %#v", got, d)
	}
	if !got.IsBlank() {
		t.Error("blank document lost blankness through round trip")
	}
}

func TestUnmarshal_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
	}{
		{"not json", `{`},
		{"missing id", `{"cells":[]}`},
		{"unknown cell type", `{"id":"d","cells":[{"type":"image","id":"c"}]}`},
		{"unknown widget", `{"id":"d","cells":[{"type":"widget","id":"c","widgetType":"poll"}]}`},
		{"cell without id", `{"id":"d","cells":[{"type":"text","content":"x"}]}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Unmarshal([]byte(tc.in)); err == nil {
				t.Errorf("Unmarshal(%s) succeeded, want error", tc.in)
			}
		})
	}
}

func TestUnmarshal_EmptyCellsGetsTextCell(t *testing.T) {
	t.Parallel()

	d, err := Unmarshal([]byte(`{"id":"d","cells":[]}`))
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(d.Cells) != 1 || d.Cells[0].Kind() != CellText {
		t.Errorf("cells = %#v, want one text cell", d.Cells)
	}
}

func TestUnmarshal_WidgetOnlyGetsTextCell(t *testing.T) {
	t.Parallel()

	d, err := Unmarshal([]byte(`{"id":"d","cells":[{"type":"widget","id":"w","widgetType":"chat"}]}`))
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(d.Cells) != 2 || d.Cells[0].CellID() != "w" || d.Cells[1].Kind() != CellText {
		t.Errorf("cells = %#v, want the widget followed by a text cell", d.Cells)
	}
}

func TestVisibleComments_OrderedByAnchor(t *testing.T) {
	t.Parallel()

	d, _ := docWithText("first second third")
	d.AccrueEnergy(0, 500)
	d.ApplyComments([]Comment{
		{Phrase: "third", VoiceID: "a"},
		{Phrase: "first", VoiceID: "b"},
		{Phrase: "second", VoiceID: "c"},
	}, 50, 50, t0)

	var phrases []string
	for _, c := range d.VisibleComments() {
		phrases = append(phrases, c.Phrase)
	}
	if want := []string{"first", "second", "third"}; !slices.Equal(phrases, want) {
		t.Errorf("order = %v, want %v", phrases, want)
	}

	d.SetCommentFeedback(d.Comments[1].ID, FeedbackKill)
	if got := len(d.VisibleComments()); got != 2 {
		t.Errorf("visible after kill = %d, want 2", got)
	}
}
