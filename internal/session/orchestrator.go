// Package session decides which journaling document is current and keeps it
// persisted.
//
// The [Orchestrator] resolves the document to show at startup, saves changes
// (immediately to the local store for guests, debounced to the remote store
// for signed-in users), rolls over to a fresh document at the local day
// boundary, and guards the current-session binding against save completions
// that arrive after the user has moved on.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/inkmemory/internal/engine"
	"github.com/MrWong99/inkmemory/internal/observe"
	"github.com/MrWong99/inkmemory/pkg/document"
	"github.com/MrWong99/inkmemory/pkg/localday"
	"github.com/MrWong99/inkmemory/pkg/persist"
)

var (
	// ErrNotReady is returned when an operation needs the Ready state.
	ErrNotReady = errors.New("session: not ready")

	// ErrGuestMode is returned for operations that need an account.
	ErrGuestMode = errors.New("session: not available in guest mode")
)

// Mode selects where documents are persisted.
type Mode string

const (
	// ModeGuest keeps a single document in the local store.
	ModeGuest Mode = "guest"
	// ModeAccount saves sessions to the remote store.
	ModeAccount Mode = "account"
)

// IsValid reports whether m is a known mode.
func (m Mode) IsValid() bool { return m == ModeGuest || m == ModeAccount }

// State is the lifecycle state of an [Orchestrator].
type State int

const (
	StateUninitialized State = iota
	StateLoading
	StateReady
	StateClosed
)

// String implements [fmt.Stringer].
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Blank reset reasons recorded in metrics.
const (
	ReasonNoSessions  = "no_sessions"
	ReasonDayRollover = "day_rollover"
	ReasonStartFresh  = "start_fresh"
)

// DefaultDayCheckInterval is how often [Orchestrator.Run] looks for a day
// boundary.
const DefaultDayCheckInterval = time.Minute

// Config configures an [Orchestrator].
type Config struct {
	// Engine holds the live document. Required.
	Engine *engine.Engine

	// Mode defaults to ModeGuest.
	Mode Mode

	// Remote is required in account mode.
	Remote persist.RemoteStore

	// Local is required in both modes.
	Local persist.LocalStore

	// Location is the user's time zone for day boundaries. Nil means UTC.
	Location *time.Location

	// AutosaveDelay defaults to [DefaultAutosaveDelay].
	AutosaveDelay time.Duration

	// ListWindowDays limits the startup session list to the last N local
	// days including today. Zero lists every session.
	ListWindowDays int

	// StartingEnergy seeds the ledger of every fresh document.
	StartingEnergy float64

	// DayCheckInterval defaults to [DefaultDayCheckInterval].
	DayCheckInterval time.Duration

	// KeyPrefix defaults to [DefaultKeyPrefix].
	KeyPrefix string

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Now defaults to time.Now.
	Now func() time.Time

	// OnSaveError receives failures of background saves. May be nil.
	OnSaveError func(error)
}

// Orchestrator owns the session lifecycle around one [engine.Engine].
//
// All methods are safe for concurrent use.
type Orchestrator struct {
	cfg   Config
	keys  localKeys
	local *localGuard
	sched *Scheduler

	unsubscribe func()

	mu        sync.Mutex
	state     State
	currentID string
	day       string // local day the current document became current

	// pointerMu orders writes of the current-session pointer.
	pointerMu sync.Mutex
}

// New validates cfg and subscribes the orchestrator to the engine. Call
// [Orchestrator.Start] to load the initial document.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Mode == "" {
		cfg.Mode = ModeGuest
	}
	var errs []error
	if cfg.Engine == nil {
		errs = append(errs, errors.New("engine is required"))
	}
	if !cfg.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("unknown mode %q", cfg.Mode))
	}
	if cfg.Local == nil {
		errs = append(errs, errors.New("local store is required"))
	}
	if cfg.Mode == ModeAccount && cfg.Remote == nil {
		errs = append(errs, errors.New("remote store is required in account mode"))
	}
	if cfg.ListWindowDays < 0 {
		errs = append(errs, errors.New("list window must not be negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.DayCheckInterval <= 0 {
		cfg.DayCheckInterval = DefaultDayCheckInterval
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	o := &Orchestrator{
		cfg:   cfg,
		keys:  newLocalKeys(cfg.KeyPrefix),
		local: &localGuard{store: cfg.Local},
	}
	o.sched = NewScheduler(cfg.AutosaveDelay, cfg.Engine.Snapshot, o.saveRemote, o.reportSaveError)
	o.unsubscribe = cfg.Engine.Subscribe(o.onEvent)
	return o, nil
}

// Mode returns the persistence mode.
func (o *Orchestrator) Mode() Mode { return o.cfg.Mode }

// State returns the lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// CurrentEntryID returns the id of the session last bound as current. It is
// empty until a document has been loaded or saved.
func (o *Orchestrator) CurrentEntryID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.currentID
}

// Degraded reports whether the last best-effort local write failed.
func (o *Orchestrator) Degraded() bool { return o.local.isDegraded() }

// Scheduler exposes the save scheduler.
func (o *Orchestrator) Scheduler() *Scheduler { return o.sched }

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	if o.state != StateClosed {
		o.state = s
	}
	o.mu.Unlock()
}

// beginLoad moves Ready (or Uninitialized, when allowUninit) to Loading.
func (o *Orchestrator) beginLoad(allowUninit bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == StateReady || allowUninit && o.state == StateUninitialized {
		o.state = StateLoading
		return nil
	}
	return fmt.Errorf("%w: %s", ErrNotReady, o.state)
}

func (o *Orchestrator) today() string {
	return localday.Today(o.cfg.Now(), o.cfg.Location)
}

// makeCurrent records id as the current session as of today.
func (o *Orchestrator) makeCurrent(ctx context.Context, id string) {
	o.bind(ctx, id)
	o.mu.Lock()
	o.day = o.today()
	o.mu.Unlock()
}

// bind sets the current-session id and stores the pointer in account mode.
func (o *Orchestrator) bind(ctx context.Context, id string) {
	o.mu.Lock()
	o.currentID = id
	o.mu.Unlock()
	o.storePointer(ctx)
}

// bindIfLive binds savedID only while the engine still shows savedID or
// trigger. The engine is read under the same lock that guards currentID, so
// a load that runs concurrently either happens before the check and wins, or
// rebinds after it. It returns the live engine id.
func (o *Orchestrator) bindIfLive(ctx context.Context, savedID, trigger string) (live string, ok bool) {
	o.mu.Lock()
	live = o.cfg.Engine.ID()
	ok = live == savedID || live == trigger
	if ok {
		o.currentID = savedID
	}
	o.mu.Unlock()
	if ok {
		o.storePointer(ctx)
	}
	return live, ok
}

// storePointer writes the current-session id as it is when the write starts,
// so the last write always carries the latest binding.
func (o *Orchestrator) storePointer(ctx context.Context) {
	if o.cfg.Mode != ModeAccount {
		return
	}
	o.pointerMu.Lock()
	defer o.pointerMu.Unlock()
	o.mu.Lock()
	id := o.currentID
	o.mu.Unlock()
	o.local.set(ctx, o.keys.currentID, []byte(id))
}

func (o *Orchestrator) newBlank() *document.Document {
	d := document.New(o.cfg.Now())
	if o.cfg.StartingEnergy != 0 {
		d.AccrueEnergy(0, o.cfg.StartingEnergy)
	}
	return d
}

// ── Startup ──────────────────────────────────────────────────────────────────

// Start resolves and loads the initial document. On a read failure the
// orchestrator stays Uninitialized so that nothing overwrites stored data,
// and Start may be called again.
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := o.beginLoad(true); err != nil {
		return err
	}
	if o.cfg.Mode == ModeGuest {
		return o.startGuest(ctx)
	}
	return o.startAccount(ctx)
}

func (o *Orchestrator) startGuest(ctx context.Context) error {
	doc, err := o.readLocalDocument(ctx)
	if err != nil {
		o.setState(StateUninitialized)
		return err
	}

	doc.SelectedMood = ""
	if rec, ok := o.local.readMood(ctx, o.keys.mood); ok {
		if rec.Date == o.today() {
			doc.SelectedMood = rec.Mood
		} else {
			o.local.remove(ctx, o.keys.mood)
		}
	}

	o.cfg.Engine.LoadState(doc)
	o.makeCurrent(ctx, doc.ID)
	err = o.writeLocal(ctx, o.cfg.Engine.Snapshot())
	o.setState(StateReady)
	return err
}

// readLocalDocument returns the stored guest document, or a blank one when it
// is missing or unreadable. A failing store is an error so that the stored
// document is not replaced by a blank one.
func (o *Orchestrator) readLocalDocument(ctx context.Context) (*document.Document, error) {
	raw, err := o.cfg.Local.Get(ctx, o.keys.document)
	switch {
	case errors.Is(err, persist.ErrNotFound):
		return o.newBlank(), nil
	case err != nil:
		return nil, fmt.Errorf("session: read guest document: %w", err)
	}
	doc, err := document.Unmarshal(raw)
	if err != nil {
		observe.Logger(ctx).Warn("discarding unreadable guest document", "err", err)
		return o.newBlank(), nil
	}
	return doc, nil
}

func (o *Orchestrator) listOpts() persist.ListOpts {
	opts := persist.ListOpts{Location: o.cfg.Location}
	if n := o.cfg.ListWindowDays; n > 0 {
		now := o.cfg.Now().In(o.cfg.Location)
		opts.FromDay = localday.Key(now.AddDate(0, 0, -(n-1)), o.cfg.Location)
		opts.ToDay = localday.Key(now, o.cfg.Location)
	}
	return opts
}

func (o *Orchestrator) startAccount(ctx context.Context) error {
	log := observe.Logger(ctx)

	metas, err := o.cfg.Remote.List(ctx, o.listOpts())
	if err != nil {
		o.setState(StateUninitialized)
		return fmt.Errorf("session: list sessions: %w", err)
	}

	var (
		pick  persist.SessionMeta
		found bool
	)
	if raw, ok := o.local.get(ctx, o.keys.currentID); ok {
		pick, found = persist.Find(metas, string(raw))
	}
	if !found {
		pick, found = persist.MostRecent(metas)
	}

	today := o.today()
	if found && localday.Key(pick.UpdatedAt, o.cfg.Location) == today {
		doc, err := o.cfg.Remote.Load(ctx, pick.ID)
		if err != nil {
			o.setState(StateUninitialized)
			return fmt.Errorf("session: load %s: %w", pick.ID, err)
		}
		o.cfg.Engine.LoadState(doc)
		o.makeCurrent(ctx, pick.ID)
		o.setState(StateReady)
		log.Info("resumed session", "session_id", pick.ID)
		return nil
	}

	reason := ReasonNoSessions
	if found {
		reason = ReasonDayRollover
		log.Info("last session belongs to an earlier day, starting fresh",
			"session_id", pick.ID, "updated_at", pick.UpdatedAt)
	}
	return o.resetBlank(ctx, reason)
}

// resetBlank loads a fresh document and persists it before returning. The
// caller must have moved the orchestrator to Loading.
func (o *Orchestrator) resetBlank(ctx context.Context, reason string) error {
	blank := o.newBlank()
	o.cfg.Engine.LoadState(blank)
	o.cfg.Metrics.RecordBlankReset(ctx, reason)

	var err error
	if o.cfg.Mode == ModeAccount {
		err = o.sched.SaveSnapshot(ctx, o.cfg.Engine.Snapshot(), blank.ID)
		o.mu.Lock()
		o.day = o.today()
		o.mu.Unlock()
	} else {
		o.makeCurrent(ctx, blank.ID)
		err = o.writeLocal(ctx, o.cfg.Engine.Snapshot())
	}
	o.setState(StateReady)
	return err
}

// ── Change handling ──────────────────────────────────────────────────────────

// onEvent runs synchronously after every engine change. Events raised while
// the orchestrator itself is loading are ignored; those loads persist on
// their own.
func (o *Orchestrator) onEvent(ev engine.Event) {
	if o.State() != StateReady {
		return
	}
	ctx := context.Background()

	if o.cfg.Mode == ModeGuest {
		if err := o.writeLocal(ctx, ev.Document); err != nil {
			o.reportSaveError(err)
		}
		return
	}

	if ev.Kind == engine.EventBlankReset {
		trigger := ev.Document.ID
		go func() {
			if err := o.sched.FlushNow(ctx, trigger); err != nil {
				o.reportSaveError(err)
			}
		}()
		return
	}
	o.sched.ScheduleDebounced(ev.Document.ID)
}

func (o *Orchestrator) reportSaveError(err error) {
	observe.Logger(context.Background()).Error("background save failed", "err", err)
	if o.cfg.OnSaveError != nil {
		o.cfg.OnSaveError(err)
	}
}

// writeLocal stores the guest document.
func (o *Orchestrator) writeLocal(ctx context.Context, doc *document.Document) error {
	start := o.cfg.Now()
	b, err := document.Marshal(doc)
	if err == nil {
		err = o.cfg.Local.Set(ctx, o.keys.document, b)
	}
	o.cfg.Metrics.RecordSave(ctx, string(ModeGuest), statusOf(err), o.cfg.Now().Sub(start).Seconds())
	if err != nil {
		return fmt.Errorf("session: write guest document: %w", err)
	}
	return nil
}

// saveRemote saves snap and, if the engine still shows snap's session or the
// one that triggered the save, binds it as current. A completion that finds
// a different document loaded is stale and is dropped.
func (o *Orchestrator) saveRemote(ctx context.Context, snap *document.Document, trigger string) (err error) {
	ctx, span := observe.StartSessionSpan(ctx, "session.save", snap.ID,
		attribute.String("session.trigger", trigger))
	defer func() { observe.EndSpan(span, err) }()

	if err = o.store(ctx, snap); err != nil {
		return err
	}
	if live, ok := o.bindIfLive(ctx, snap.ID, trigger); !ok {
		observe.Logger(ctx).Warn("discarding stale save completion",
			"trigger", trigger, "live_session_id", live)
		span.SetAttributes(attribute.Bool("session.stale", true))
		o.cfg.Metrics.RecordStaleSave(ctx)
	}
	return nil
}

// saveOutgoingSnapshot saves a document that has just stopped being current.
// It never rebinds and its completion is not stale.
func (o *Orchestrator) saveOutgoingSnapshot(ctx context.Context, snap *document.Document) (err error) {
	ctx, span := observe.StartSessionSpan(ctx, "session.save_outgoing", snap.ID)
	defer func() { observe.EndSpan(span, err) }()
	return o.sched.Exclusive(func() error { return o.store(ctx, snap) })
}

// store writes snap to the remote store and records the save.
func (o *Orchestrator) store(ctx context.Context, snap *document.Document) error {
	start := o.cfg.Now()
	_, err := o.cfg.Remote.Save(ctx, snap.ID, snap, Label(snap, o.cfg.Location))
	o.cfg.Metrics.RecordSave(ctx, string(ModeAccount), statusOf(err), o.cfg.Now().Sub(start).Seconds())
	if err != nil {
		observe.Logger(ctx).Error("saving session failed", "err", err)
		return fmt.Errorf("session: save %s: %w", snap.ID, err)
	}
	return nil
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ── User operations ──────────────────────────────────────────────────────────

// SaveNow persists the current document immediately, bypassing the debounce.
func (o *Orchestrator) SaveNow(ctx context.Context) error {
	if s := o.State(); s != StateReady {
		return fmt.Errorf("%w: %s", ErrNotReady, s)
	}
	if o.cfg.Mode == ModeGuest {
		return o.writeLocal(ctx, o.cfg.Engine.Snapshot())
	}
	return o.sched.FlushNow(ctx, o.cfg.Engine.ID())
}

// SwitchSession loads another stored session. A scheduled save of the
// outgoing document is started in the background rather than dropped.
func (o *Orchestrator) SwitchSession(ctx context.Context, sessionID string) error {
	if o.cfg.Mode == ModeGuest {
		return ErrGuestMode
	}
	if err := o.beginLoad(false); err != nil {
		return err
	}

	if o.sched.CancelPending() {
		outgoing := o.cfg.Engine.Snapshot()
		go func() {
			if err := o.saveOutgoingSnapshot(context.Background(), outgoing); err != nil {
				o.reportSaveError(err)
			}
		}()
	}

	doc, err := o.cfg.Remote.Load(ctx, sessionID)
	if err != nil {
		o.setState(StateReady)
		return fmt.Errorf("session: switch to %s: %w", sessionID, err)
	}
	o.cfg.Engine.LoadState(doc)
	o.makeCurrent(ctx, sessionID)
	o.setState(StateReady)
	observe.Logger(observe.WithSession(ctx, sessionID)).Info("switched session")
	return nil
}

// StartFresh replaces the current document with a blank one. In account mode
// a document with content is saved first; that save is advisory and its
// failure only logs.
func (o *Orchestrator) StartFresh(ctx context.Context) error {
	if err := o.beginLoad(false); err != nil {
		return err
	}
	o.saveOutgoing(ctx)
	return o.resetBlank(ctx, ReasonStartFresh)
}

func (o *Orchestrator) saveOutgoing(ctx context.Context) {
	if o.cfg.Mode != ModeAccount {
		return
	}
	o.sched.CancelPending()
	outgoing := o.cfg.Engine.Snapshot()
	if !outgoing.HasContent() {
		return
	}
	if err := o.saveOutgoingSnapshot(ctx, outgoing); err != nil {
		observe.Logger(observe.WithSession(ctx, outgoing.ID)).Warn("saving outgoing session failed, continuing", "err", err)
	}
}

// SetMood selects a mood for the current document. Guests also keep the mood
// with today's date so that it expires at the day boundary.
func (o *Orchestrator) SetMood(ctx context.Context, mood string) {
	if o.cfg.Mode == ModeGuest {
		if mood == "" {
			o.local.remove(ctx, o.keys.mood)
		} else {
			o.local.writeMood(ctx, o.keys.mood, moodRecord{Mood: mood, Date: o.today()})
		}
	}
	o.cfg.Engine.SetSelectedMood(mood)
}

// ── Day boundary ─────────────────────────────────────────────────────────────

// CheckDayBoundary rolls an account session over to a fresh document when
// the local day has changed since it became current. It reports whether a
// rollover happened. Guest documents never roll over.
func (o *Orchestrator) CheckDayBoundary(ctx context.Context) (bool, error) {
	if o.cfg.Mode != ModeAccount {
		return false, nil
	}
	o.mu.Lock()
	day := o.day
	o.mu.Unlock()
	if day == "" || day == o.today() {
		return false, nil
	}
	if err := o.beginLoad(false); err != nil {
		return false, nil
	}
	observe.Logger(ctx).Info("local day changed, starting fresh", "previous_day", day)
	o.saveOutgoing(ctx)
	return true, o.resetBlank(ctx, ReasonDayRollover)
}

// Run checks for a day boundary every DayCheckInterval until ctx is done or
// the orchestrator is closed.
func (o *Orchestrator) Run(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.DayCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if o.State() == StateClosed {
				return
			}
			if _, err := o.CheckDayBoundary(ctx); err != nil {
				o.reportSaveError(err)
			}
		}
	}
}

// ── Shutdown ─────────────────────────────────────────────────────────────────

// Close stops listening to the engine and flushes a scheduled save. It is
// safe to call more than once.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	if o.state == StateClosed {
		o.mu.Unlock()
		return nil
	}
	wasReady := o.state == StateReady
	o.state = StateClosed
	o.mu.Unlock()

	o.unsubscribe()
	pending := o.sched.Pending()
	o.sched.Stop()
	if wasReady && pending {
		return o.sched.FlushNow(ctx, o.cfg.Engine.ID())
	}
	return nil
}

// ── Labels ───────────────────────────────────────────────────────────────────

const labelTitleRunes = 40

// Label names a session for listings: the local creation day followed by the
// first non-empty line of text, cut to 40 runes.
func Label(doc *document.Document, loc *time.Location) string {
	title := "Untitled"
	for _, line := range strings.Split(doc.Text(), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			title = line
			break
		}
	}
	if utf8.RuneCountInString(title) > labelTitleRunes {
		title = strings.TrimSpace(string([]rune(title)[:labelTitleRunes])) + "…"
	}
	return localday.Key(doc.CreatedAt, loc) + " - " + title
}
