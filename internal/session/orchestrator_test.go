package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/inkmemory/internal/engine"
	"github.com/MrWong99/inkmemory/internal/observe"
	"github.com/MrWong99/inkmemory/pkg/document"
	"github.com/MrWong99/inkmemory/pkg/persist"
	"github.com/MrWong99/inkmemory/pkg/persist/mock"
)

// zone is five hours behind UTC so that local and UTC days differ in the
// evening.
var zone = time.FixedZone("test", -5*60*60)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock(t time.Time) *clock { return &clock{now: t} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type fixture struct {
	eng    *engine.Engine
	remote *mock.RemoteStore
	local  *mock.LocalStore
	clock  *clock
	orch   *Orchestrator
}

func newFixture(t *testing.T, mode Mode, mutate func(*Config)) *fixture {
	t.Helper()
	clk := newClock(time.Date(2026, 3, 10, 10, 0, 0, 0, zone))
	f := &fixture{
		eng:    engine.New(nil, engine.WithClock(clk.Now)),
		remote: mock.NewRemoteStore(),
		local:  mock.NewLocalStore(),
		clock:  clk,
	}
	f.remote.Now = clk.Now
	cfg := Config{
		Engine:        f.eng,
		Mode:          mode,
		Remote:        f.remote,
		Local:         f.local,
		Location:      zone,
		AutosaveDelay: time.Hour,
		Now:           clk.Now,
	}
	if mode == ModeGuest {
		cfg.Remote = nil
	}
	if mutate != nil {
		mutate(&cfg)
	}
	o, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = o.Close(context.Background()) })
	f.orch = o
	return f
}

// seed stores a session whose document holds text and was last updated at
// updatedAt.
func (f *fixture) seed(id, text string, updatedAt time.Time) *document.Document {
	d := document.New(updatedAt)
	d.ID = id
	d.Cells = []document.Cell{document.TextCell{ID: id + "-cell", Content: text}}
	f.remote.Put(persist.SessionMeta{ID: id, Name: id, CreatedAt: d.CreatedAt, UpdatedAt: updatedAt.UTC()}, d)
	return d
}

func (f *fixture) firstCellID() string {
	return f.eng.Snapshot().Cells[0].CellID()
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func storedText(t *testing.T, r *mock.RemoteStore, id string) string {
	t.Helper()
	d, _, ok := r.Stored(id)
	if !ok {
		return ""
	}
	return d.Text()
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	eng := engine.New(nil)
	local := mock.NewLocalStore()

	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "missing engine", cfg: Config{Local: local}, wantErr: "engine is required"},
		{name: "missing local", cfg: Config{Engine: eng}, wantErr: "local store is required"},
		{name: "account without remote", cfg: Config{Engine: eng, Local: local, Mode: ModeAccount}, wantErr: "remote store is required"},
		{name: "unknown mode", cfg: Config{Engine: eng, Local: local, Mode: "cloud"}, wantErr: "unknown mode"},
		{name: "negative window", cfg: Config{Engine: eng, Local: local, ListWindowDays: -1}, wantErr: "list window"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}

	o, err := New(Config{Engine: eng, Local: local})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer o.Close(context.Background())
	if o.Mode() != ModeGuest {
		t.Errorf("default mode = %q, want guest", o.Mode())
	}
	if o.State() != StateUninitialized {
		t.Errorf("initial state = %v, want uninitialized", o.State())
	}
}

// ── Guest mode ───────────────────────────────────────────────────────────────

func TestGuest_StartBlankAndPersistChanges(t *testing.T) {
	t.Parallel()
	f := newFixture(t, ModeGuest, nil)
	ctx := context.Background()

	if err := f.orch.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if f.orch.State() != StateReady {
		t.Fatalf("state = %v, want ready", f.orch.State())
	}
	if _, ok := f.local.Value("inkmemory:current-document"); !ok {
		t.Fatal("blank guest document was not written")
	}
	if got := f.orch.CurrentEntryID(); got != f.eng.ID() {
		t.Errorf("CurrentEntryID = %q, want %q", got, f.eng.ID())
	}

	f.eng.UpdateTextCell(f.firstCellID(), "Dear diary")

	raw, _ := f.local.Value("inkmemory:current-document")
	doc, err := document.Unmarshal(raw)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if doc.Text() != "Dear diary" {
		t.Errorf("stored text = %q, want the edit written immediately", doc.Text())
	}
	if got := f.remote.CallCount("Save"); got != 0 {
		t.Errorf("remote saves = %d in guest mode, want 0", got)
	}
}

func TestGuest_RestoresDocument(t *testing.T) {
	t.Parallel()
	f := newFixture(t, ModeGuest, nil)
	ctx := context.Background()

	stored := document.New(f.clock.Now().AddDate(0, 0, -3))
	stored.Cells = []document.Cell{document.TextCell{ID: "c1", Content: "from three days ago"}}
	raw, err := document.Marshal(stored)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	_ = f.local.Set(ctx, "inkmemory:current-document", raw)

	if err := f.orch.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if f.eng.ID() != stored.ID {
		t.Errorf("engine id = %q, want the stored guest document %q", f.eng.ID(), stored.ID)
	}
	if got := f.eng.Snapshot().Text(); got != "from three days ago" {
		t.Errorf("text = %q", got)
	}
}

func TestGuest_CorruptDocumentStartsBlank(t *testing.T) {
	t.Parallel()
	f := newFixture(t, ModeGuest, nil)
	ctx := context.Background()
	_ = f.local.Set(ctx, "inkmemory:current-document", []byte("{not json"))

	if err := f.orch.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !f.eng.Snapshot().IsBlank() {
		t.Error("expected a blank document after a corrupt one")
	}
}

func TestGuest_ReadFailureStaysUninitialized(t *testing.T) {
	t.Parallel()
	f := newFixture(t, ModeGuest, nil)
	f.local.GetErr = errors.New("disk gone")

	err := f.orch.Start(context.Background())
	if !errors.Is(err, f.local.GetErr) {
		t.Fatalf("err = %v, want %v", err, f.local.GetErr)
	}
	if f.orch.State() != StateUninitialized {
		t.Errorf("state = %v, want uninitialized", f.orch.State())
	}
	if got := f.local.CallCount("Set"); got != 0 {
		t.Errorf("Set calls = %d, want 0 so the stored document survives", got)
	}
}

func TestGuest_MoodExpiresAtDayBoundary(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		date     string
		wantMood string
		wantKept bool
	}{
		{name: "chosen today", date: "2026-03-10", wantMood: "calm", wantKept: true},
		{name: "chosen yesterday", date: "2026-03-09", wantMood: "", wantKept: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, ModeGuest, nil)
			ctx := context.Background()
			_ = f.local.Set(ctx, "inkmemory:selected-mood", []byte(`{"mood":"calm","date":"`+tt.date+`"}`))

			if err := f.orch.Start(ctx); err != nil {
				t.Fatalf("Start: %v", err)
			}
			if got := f.eng.Snapshot().SelectedMood; got != tt.wantMood {
				t.Errorf("SelectedMood = %q, want %q", got, tt.wantMood)
			}
			if _, ok := f.local.Value("inkmemory:selected-mood"); ok != tt.wantKept {
				t.Errorf("mood record kept = %v, want %v", ok, tt.wantKept)
			}
		})
	}
}

func TestGuest_SetMoodStoresDate(t *testing.T) {
	t.Parallel()
	f := newFixture(t, ModeGuest, nil)
	ctx := context.Background()
	if err := f.orch.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	f.orch.SetMood(ctx, "hopeful")

	raw, ok := f.local.Value("inkmemory:selected-mood")
	if !ok || !strings.Contains(string(raw), `"date":"2026-03-10"`) || !strings.Contains(string(raw), "hopeful") {
		t.Errorf("mood record = %s", raw)
	}
	if got := f.eng.Snapshot().SelectedMood; got != "hopeful" {
		t.Errorf("SelectedMood = %q", got)
	}
}

func TestGuest_NoDayRollover(t *testing.T) {
	t.Parallel()
	f := newFixture(t, ModeGuest, nil)
	ctx := context.Background()
	if err := f.orch.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	id := f.eng.ID()

	f.clock.Set(f.clock.Now().AddDate(0, 0, 1))
	rolled, err := f.orch.CheckDayBoundary(ctx)
	if err != nil || rolled {
		t.Errorf("CheckDayBoundary = %v, %v; want false, nil", rolled, err)
	}
	if f.eng.ID() != id {
		t.Error("guest document changed at the day boundary")
	}
}

func TestGuest_SwitchSessionRejected(t *testing.T) {
	t.Parallel()
	f := newFixture(t, ModeGuest, nil)
	if err := f.orch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.orch.SwitchSession(context.Background(), "x"); !errors.Is(err, ErrGuestMode) {
		t.Errorf("err = %v, want ErrGuestMode", err)
	}
}

// ── Account startup ──────────────────────────────────────────────────────────

func TestAccount_ResumesTodaysSession(t *testing.T) {
	t.Parallel()
	f := newFixture(t, ModeAccount, nil)
	f.seed("today", "morning pages", f.clock.Now().Add(-time.Hour))

	if err := f.orch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if f.eng.ID() != "today" {
		t.Errorf("engine id = %q, want today", f.eng.ID())
	}
	if got := f.orch.CurrentEntryID(); got != "today" {
		t.Errorf("CurrentEntryID = %q, want today", got)
	}
	if got := f.remote.CallCount("Save"); got != 0 {
		t.Errorf("Save calls = %d, want 0 when resuming", got)
	}
	if v, _ := f.local.Value("inkmemory:current-session-id"); string(v) != "today" {
		t.Errorf("current pointer = %q, want today", v)
	}
}

func TestAccount_PrefersCurrentPointer(t *testing.T) {
	t.Parallel()
	f := newFixture(t, ModeAccount, nil)
	now := f.clock.Now()
	f.seed("newer", "b", now.Add(-time.Minute))
	f.seed("pointed", "a", now.Add(-2*time.Hour))
	_ = f.local.Set(context.Background(), "inkmemory:current-session-id", []byte("pointed"))

	if err := f.orch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if f.eng.ID() != "pointed" {
		t.Errorf("engine id = %q, want the session named by the pointer", f.eng.ID())
	}
}

func TestAccount_UnknownPointerFallsBackToMostRecent(t *testing.T) {
	t.Parallel()
	f := newFixture(t, ModeAccount, nil)
	now := f.clock.Now()
	f.seed("older", "a", now.Add(-2*time.Hour))
	f.seed("newer", "b", now.Add(-time.Minute))
	_ = f.local.Set(context.Background(), "inkmemory:current-session-id", []byte("deleted"))

	if err := f.orch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if f.eng.ID() != "newer" {
		t.Errorf("engine id = %q, want newer", f.eng.ID())
	}
}

func TestAccount_DayBoundaryStartsNewSession(t *testing.T) {
	t.Parallel()
	f := newFixture(t, ModeAccount, func(c *Config) { c.StartingEnergy = 100 })

	// 22:00 yesterday in the user's zone is already today in UTC.
	yesterday := time.Date(2026, 3, 9, 22, 0, 0, 0, zone)
	f.seed("yesterday", "last night", yesterday)

	if err := f.orch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	id := f.eng.ID()
	if id == "yesterday" {
		t.Fatal("loaded yesterday's session instead of starting fresh")
	}
	if got := f.remote.CallCount("Load"); got != 0 {
		t.Errorf("Load calls = %d, want 0", got)
	}
	stored, meta, ok := f.remote.Stored(id)
	if !ok {
		t.Fatal("new session was not persisted before any edit")
	}
	if !stored.IsBlank() {
		t.Error("persisted session is not blank")
	}
	if !strings.HasPrefix(meta.Name, "2026-03-10 - ") {
		t.Errorf("label = %q, want the local creation day prefix", meta.Name)
	}
	if got := f.orch.CurrentEntryID(); got != id {
		t.Errorf("CurrentEntryID = %q, want %q", got, id)
	}
	if got := f.eng.UnusedEnergy(); got != 100 {
		t.Errorf("UnusedEnergy = %v, want starting energy 100", got)
	}
}

func TestAccount_NoSessionsCreatesOne(t *testing.T) {
	t.Parallel()
	f := newFixture(t, ModeAccount, nil)

	if err := f.orch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, _, ok := f.remote.Stored(f.eng.ID()); !ok {
		t.Error("blank session was not persisted")
	}
	if f.orch.State() != StateReady {
		t.Errorf("state = %v, want ready", f.orch.State())
	}
}

func TestAccount_ListWindow(t *testing.T) {
	t.Parallel()
	f := newFixture(t, ModeAccount, func(c *Config) { c.ListWindowDays = 7 })

	if err := f.orch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	calls := f.remote.Calls()
	if len(calls) == 0 || calls[0].Method != "List" {
		t.Fatalf("first call = %v, want List", calls)
	}
	opts := calls[0].Args[0].(persist.ListOpts)
	if opts.FromDay != "2026-03-04" || opts.ToDay != "2026-03-10" {
		t.Errorf("window = %s..%s, want 2026-03-04..2026-03-10", opts.FromDay, opts.ToDay)
	}
}

func TestAccount_ListFailureStaysUninitialized(t *testing.T) {
	t.Parallel()
	f := newFixture(t, ModeAccount, nil)
	f.remote.ListErr = errors.New("offline")

	if err := f.orch.Start(context.Background()); !errors.Is(err, f.remote.ListErr) {
		t.Fatalf("err = %v, want %v", err, f.remote.ListErr)
	}
	if f.orch.State() != StateUninitialized {
		t.Errorf("state = %v, want uninitialized", f.orch.State())
	}
	if got := f.remote.CallCount("Save"); got != 0 {
		t.Errorf("Save calls = %d, want 0", got)
	}

	f.remote.ListErr = nil
	if err := f.orch.Start(context.Background()); err != nil {
		t.Fatalf("retry Start: %v", err)
	}
}

// ── Account saves ────────────────────────────────────────────────────────────

func TestAccount_DebouncedSaveCoalesces(t *testing.T) {
	t.Parallel()
	f := newFixture(t, ModeAccount, func(c *Config) { c.AutosaveDelay = 30 * time.Millisecond })
	if err := f.orch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.remote.Reset()

	cell := f.firstCellID()
	for _, s := range []string{"H", "He", "Hel", "Hell", "Hello"} {
		f.eng.UpdateTextCell(cell, s)
	}

	eventually(t, "debounced save", func() bool { return f.remote.CallCount("Save") > 0 })
	time.Sleep(80 * time.Millisecond)
	if got := f.remote.CallCount("Save"); got != 1 {
		t.Errorf("Save calls = %d, want 1", got)
	}
	if got := storedText(t, f.remote, f.eng.ID()); got != "Hello" {
		t.Errorf("stored text = %q, want Hello", got)
	}
}

func TestAccount_SaveNowBypassesDebounce(t *testing.T) {
	t.Parallel()
	f := newFixture(t, ModeAccount, nil)
	ctx := context.Background()
	if err := f.orch.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.eng.UpdateTextCell(f.firstCellID(), "right now")

	if err := f.orch.SaveNow(ctx); err != nil {
		t.Fatalf("SaveNow: %v", err)
	}
	if got := storedText(t, f.remote, f.eng.ID()); got != "right now" {
		t.Errorf("stored text = %q", got)
	}
	if f.orch.Scheduler().Pending() {
		t.Error("SaveNow left the debounced save pending")
	}
}

func TestAccount_SaveErrorSurfaces(t *testing.T) {
	t.Parallel()
	f := newFixture(t, ModeAccount, nil)
	ctx := context.Background()
	if err := f.orch.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.eng.UpdateTextCell(f.firstCellID(), "unsaved")
	f.remote.SaveErr = errors.New("503")

	if err := f.orch.SaveNow(ctx); !errors.Is(err, f.remote.SaveErr) {
		t.Errorf("err = %v, want %v", err, f.remote.SaveErr)
	}
	if got := f.eng.Snapshot().Text(); got != "unsaved" {
		t.Errorf("in-memory text = %q after failed save", got)
	}

	f.remote.SaveErr = nil
	if err := f.orch.SaveNow(ctx); err != nil {
		t.Fatalf("retry SaveNow: %v", err)
	}
}

func TestAccount_StaleSaveDoesNotRebind(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	f := newFixture(t, ModeAccount, func(c *Config) { c.Metrics = metrics })
	now := f.clock.Now()
	f.seed("x", "session x", now.Add(-time.Minute))
	f.seed("y", "session y", now.Add(-time.Hour))
	ctx := context.Background()
	if err := f.orch.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if f.eng.ID() != "x" {
		t.Fatalf("engine id = %q, want x", f.eng.ID())
	}

	started := make(chan struct{})
	release := make(chan struct{})
	f.remote.BeforeSave = func(_ context.Context, id string) error {
		if id == "x" {
			close(started)
			<-release
		}
		return nil
	}

	f.eng.UpdateTextCell("x-cell", "session x, edited")
	saved := make(chan error, 1)
	go func() { saved <- f.orch.SaveNow(ctx) }()
	<-started

	if err := f.orch.SwitchSession(ctx, "y"); err != nil {
		t.Fatalf("SwitchSession: %v", err)
	}
	close(release)
	if err := <-saved; err != nil {
		t.Fatalf("SaveNow: %v", err)
	}

	if got := f.orch.CurrentEntryID(); got != "y" {
		t.Errorf("CurrentEntryID = %q, want y", got)
	}
	if f.eng.ID() != "y" {
		t.Errorf("engine id = %q, want y", f.eng.ID())
	}
	if v, _ := f.local.Value("inkmemory:current-session-id"); string(v) != "y" {
		t.Errorf("current pointer = %q, want y", v)
	}
	if got := storedText(t, f.remote, "x"); got != "session x, edited" {
		t.Errorf("x stored text = %q, the save itself must still land", got)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if got := counterTotal(rm, "inkmemory.saves.stale"); got != 1 {
		t.Errorf("stale saves = %d, want 1", got)
	}
}

func counterTotal(rm metricdata.ResourceMetrics, name string) int64 {
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}

// ── Switching and starting fresh ─────────────────────────────────────────────

func TestAccount_SwitchSessionSavesOutgoing(t *testing.T) {
	t.Parallel()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	f := newFixture(t, ModeAccount, func(c *Config) { c.Metrics = metrics })
	now := f.clock.Now()
	f.seed("x", "x", now.Add(-time.Minute))
	f.seed("y", "y", now.Add(-time.Hour))
	ctx := context.Background()
	if err := f.orch.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	f.eng.UpdateTextCell("x-cell", "x before switching")
	if err := f.orch.SwitchSession(ctx, "y"); err != nil {
		t.Fatalf("SwitchSession: %v", err)
	}

	eventually(t, "outgoing save", func() bool {
		return storedText(t, f.remote, "x") == "x before switching"
	})
	if got := f.orch.CurrentEntryID(); got != "y" {
		t.Errorf("CurrentEntryID = %q, want y", got)
	}
	if v, _ := f.local.Value("inkmemory:current-session-id"); string(v) != "y" {
		t.Errorf("current pointer = %q, want y", v)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if got := counterTotal(rm, "inkmemory.saves.stale"); got != 0 {
		t.Errorf("stale saves = %d, want 0 for the outgoing save", got)
	}
}

func TestAccount_ConcurrentSaveAndSwitchAgree(t *testing.T) {
	t.Parallel()
	f := newFixture(t, ModeAccount, nil)
	now := f.clock.Now()
	f.seed("x", "x", now.Add(-time.Minute))
	f.seed("y", "y", now.Add(-time.Hour))
	ctx := context.Background()
	if err := f.orch.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	targets := []string{"y", "x"}
	for i := range 50 {
		f.eng.UpdateTextCell(f.firstCellID(), "edit "+strings.Repeat("!", i))
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := f.orch.SaveNow(ctx); err != nil && !errors.Is(err, ErrNotReady) {
				t.Errorf("SaveNow: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if err := f.orch.SwitchSession(ctx, targets[i%2]); err != nil {
				t.Errorf("SwitchSession: %v", err)
			}
		}()
		wg.Wait()

		live := f.eng.ID()
		if got := f.orch.CurrentEntryID(); got != live {
			t.Fatalf("round %d: CurrentEntryID = %q, engine shows %q", i, got, live)
		}
		if v, _ := f.local.Value("inkmemory:current-session-id"); string(v) != live {
			t.Fatalf("round %d: current pointer = %q, engine shows %q", i, v, live)
		}
	}
}

func TestAccount_SwitchSessionLoadError(t *testing.T) {
	t.Parallel()
	f := newFixture(t, ModeAccount, nil)
	f.seed("x", "x", f.clock.Now().Add(-time.Minute))
	ctx := context.Background()
	if err := f.orch.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	err := f.orch.SwitchSession(ctx, "missing")
	if !errors.Is(err, persist.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if f.orch.State() != StateReady {
		t.Errorf("state = %v, want ready", f.orch.State())
	}
	if f.eng.ID() != "x" {
		t.Errorf("engine id = %q, want x unchanged", f.eng.ID())
	}
}

func TestAccount_SwitchBeforeStart(t *testing.T) {
	t.Parallel()
	f := newFixture(t, ModeAccount, nil)
	if err := f.orch.SwitchSession(context.Background(), "x"); !errors.Is(err, ErrNotReady) {
		t.Errorf("err = %v, want ErrNotReady", err)
	}
}

func TestAccount_StartFresh(t *testing.T) {
	t.Parallel()

	t.Run("saves the outgoing session", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, ModeAccount, nil)
		f.seed("x", "x", f.clock.Now().Add(-time.Minute))
		ctx := context.Background()
		if err := f.orch.Start(ctx); err != nil {
			t.Fatalf("Start: %v", err)
		}
		f.eng.UpdateTextCell("x-cell", "keep me")

		if err := f.orch.StartFresh(ctx); err != nil {
			t.Fatalf("StartFresh: %v", err)
		}
		if got := storedText(t, f.remote, "x"); got != "keep me" {
			t.Errorf("outgoing text = %q, want keep me", got)
		}
		id := f.eng.ID()
		if id == "x" || !f.eng.Snapshot().IsBlank() {
			t.Errorf("engine holds %q, want a new blank document", id)
		}
		if _, _, ok := f.remote.Stored(id); !ok {
			t.Error("fresh session was not persisted")
		}
		if got := f.orch.CurrentEntryID(); got != id {
			t.Errorf("CurrentEntryID = %q, want %q", got, id)
		}
	})

	t.Run("outgoing save failure does not block", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, ModeAccount, nil)
		f.seed("x", "x", f.clock.Now().Add(-time.Minute))
		ctx := context.Background()
		if err := f.orch.Start(ctx); err != nil {
			t.Fatalf("Start: %v", err)
		}
		f.eng.UpdateTextCell("x-cell", "lost")
		f.remote.BeforeSave = func(_ context.Context, id string) error {
			if id == "x" {
				return errors.New("offline")
			}
			return nil
		}

		if err := f.orch.StartFresh(ctx); err != nil {
			t.Fatalf("StartFresh: %v", err)
		}
		if f.eng.ID() == "x" {
			t.Error("reset did not proceed")
		}
	})

	t.Run("skips saving an empty document", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, ModeAccount, nil)
		ctx := context.Background()
		if err := f.orch.Start(ctx); err != nil {
			t.Fatalf("Start: %v", err)
		}
		first := f.eng.ID()
		f.remote.Reset()

		if err := f.orch.StartFresh(ctx); err != nil {
			t.Fatalf("StartFresh: %v", err)
		}
		for _, c := range f.remote.Calls() {
			if c.Method == "Save" && c.Args[0] == first {
				t.Error("saved the empty outgoing document")
			}
		}
	})
}

func TestGuest_StartFresh(t *testing.T) {
	t.Parallel()
	f := newFixture(t, ModeGuest, nil)
	ctx := context.Background()
	if err := f.orch.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.eng.UpdateTextCell(f.firstCellID(), "scratch")
	old := f.eng.ID()

	if err := f.orch.StartFresh(ctx); err != nil {
		t.Fatalf("StartFresh: %v", err)
	}
	raw, _ := f.local.Value("inkmemory:current-document")
	doc, err := document.Unmarshal(raw)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if doc.ID == old || !doc.IsBlank() {
		t.Errorf("stored guest document = %q blank=%v, want a new blank one", doc.ID, doc.IsBlank())
	}
}

// ── Day watcher and shutdown ─────────────────────────────────────────────────

func TestAccount_CheckDayBoundary(t *testing.T) {
	t.Parallel()
	f := newFixture(t, ModeAccount, nil)
	f.seed("x", "x", f.clock.Now().Add(-time.Minute))
	ctx := context.Background()
	if err := f.orch.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if rolled, _ := f.orch.CheckDayBoundary(ctx); rolled {
		t.Fatal("rolled over on the same day")
	}

	f.eng.UpdateTextCell("x-cell", "late night")
	f.clock.Set(time.Date(2026, 3, 11, 0, 5, 0, 0, zone))
	rolled, err := f.orch.CheckDayBoundary(ctx)
	if err != nil || !rolled {
		t.Fatalf("CheckDayBoundary = %v, %v; want true, nil", rolled, err)
	}
	if f.eng.ID() == "x" {
		t.Error("engine still holds yesterday's session")
	}
	if got := storedText(t, f.remote, "x"); got != "late night" {
		t.Errorf("outgoing text = %q, want late night", got)
	}
	if _, _, ok := f.remote.Stored(f.eng.ID()); !ok {
		t.Error("new day's session was not persisted")
	}
	if rolled, _ := f.orch.CheckDayBoundary(ctx); rolled {
		t.Error("rolled over twice for the same day")
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	t.Parallel()
	f := newFixture(t, ModeAccount, func(c *Config) { c.DayCheckInterval = 5 * time.Millisecond })
	f.seed("x", "x", f.clock.Now().Add(-time.Minute))
	if err := f.orch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.orch.Run(ctx)
		close(done)
	}()

	f.clock.Set(f.clock.Now().AddDate(0, 0, 1))
	eventually(t, "rollover from Run", func() bool { return f.eng.ID() != "x" })

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestClose_FlushesPendingSave(t *testing.T) {
	t.Parallel()
	f := newFixture(t, ModeAccount, nil)
	ctx := context.Background()
	if err := f.orch.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	id := f.eng.ID()
	f.eng.UpdateTextCell(f.firstCellID(), "goodnight")

	if err := f.orch.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := storedText(t, f.remote, id); got != "goodnight" {
		t.Errorf("stored text = %q, want goodnight", got)
	}
	if f.orch.State() != StateClosed {
		t.Errorf("state = %v, want closed", f.orch.State())
	}

	saves := f.remote.CallCount("Save")
	f.eng.UpdateTextCell(f.firstCellID(), "after close")
	if f.orch.Scheduler().Pending() {
		t.Error("change after Close scheduled a save")
	}
	if got := f.remote.CallCount("Save"); got != saves {
		t.Errorf("Save calls = %d after Close, want %d", got, saves)
	}
	if err := f.orch.Close(ctx); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestLabel(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC) // 21:00 on the 9th in zone
	tests := []struct {
		name string
		text string
		want string
	}{
		{name: "empty", text: "", want: "2026-03-09 - Untitled"},
		{name: "first non-empty line", text: "\n  \nGood morning\nsecond", want: "2026-03-09 - Good morning"},
		{
			name: "truncated",
			text: "This is a very long first line that goes on and on",
			want: "2026-03-09 - This is a very long first line that goes…",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := document.New(created)
			d.Cells = []document.Cell{document.TextCell{ID: "c", Content: tt.text}}
			if got := Label(d, zone); got != tt.want {
				t.Errorf("Label = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()
	for s, want := range map[State]string{
		StateUninitialized: "uninitialized",
		StateLoading:       "loading",
		StateReady:         "ready",
		StateClosed:        "closed",
		State(42):          "unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
