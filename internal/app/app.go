// Package app wires the inkmemory subsystems into a running application.
//
// The App struct owns the full lifecycle: New opens the stores and builds the
// engine, session orchestrator and voices; Start loads the initial document;
// Run watches for the day boundary; Shutdown flushes pending saves and closes
// everything in order.
//
// For testing, inject stores via functional options (WithRemoteStore,
// WithLocalStore). When an option is not provided, New creates real stores
// from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/inkmemory/internal/config"
	"github.com/MrWong99/inkmemory/internal/engine"
	"github.com/MrWong99/inkmemory/internal/feedback"
	"github.com/MrWong99/inkmemory/internal/health"
	"github.com/MrWong99/inkmemory/internal/observe"
	"github.com/MrWong99/inkmemory/internal/session"
	"github.com/MrWong99/inkmemory/internal/voice"
	"github.com/MrWong99/inkmemory/pkg/persist"
	"github.com/MrWong99/inkmemory/pkg/persist/postgres"
	"github.com/MrWong99/inkmemory/pkg/persist/redis"
	"github.com/MrWong99/inkmemory/pkg/persist/sqlite"
	"github.com/MrWong99/inkmemory/pkg/provider/llm"
)

var (
	// ErrNoProvider is returned by voice operations when no LLM is configured.
	ErrNoProvider = errors.New("app: no LLM provider configured")

	// ErrUnknownComment is returned for a comment id that is not in the
	// current document.
	ErrUnknownComment = errors.New("app: unknown comment")

	// ErrUnknownWidget is returned for an id that is not a chat widget.
	ErrUnknownWidget = errors.New("app: unknown chat widget")

	// ErrInsertFailed is returned when a chat widget cannot be inserted at the
	// requested position.
	ErrInsertFailed = errors.New("app: cannot insert chat widget")
)

// Providers holds the LLM backing the voices. Nil means voices are disabled.
// Populated by main.go via [BuildLLM].
type Providers struct {
	LLM llm.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics
	now       func() time.Time
	levelVar  *slog.LevelVar

	remote   persist.RemoteStore
	local    persist.LocalStore
	checkers []health.Checker
	feedback *feedback.FileStore

	engine *engine.Engine
	orch   *session.Orchestrator

	// mu guards the hot-reloadable state below.
	mu       sync.RWMutex
	prompts  config.PromptsConfig
	analysis config.AnalysisConfig
	catalog  *voice.Catalog
	analyzer *voice.Analyzer
	chatter  *voice.Chatter

	// Baselines of the loaded document, reset whenever the engine loads
	// another one.
	docID        string
	lastAnalyzed string
	analyzedOnce bool
	lastAccrued  string

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRemoteStore injects a session store instead of connecting to Postgres.
func WithRemoteStore(s persist.RemoteStore) Option {
	return func(a *App) { a.remote = s }
}

// WithLocalStore injects a blob store instead of opening SQLite or Redis.
func WithLocalStore(s persist.LocalStore) Option {
	return func(a *App) { a.local = s }
}

// WithMetrics overrides [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithClock overrides time.Now for the engine and orchestrator.
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// WithLevelVar lets [App.ApplyConfig] change the log level at runtime.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. cfg must have
// defaults applied (see [config.Config.ApplyDefaults]).
//
// New opens the stores but does not read from them; call [App.Start] to load
// the initial document.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		now:       time.Now,
		prompts:   cfg.Prompts,
		analysis:  cfg.Analysis,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Stores ────────────────────────────────────────────────────────
	if err := a.initStores(ctx); err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: init stores: %w", err)
	}

	if cfg.Storage.FeedbackLog != "" {
		a.feedback = feedback.NewFileStore(cfg.Storage.FeedbackLog)
	}

	// ── 2. Voices ────────────────────────────────────────────────────────
	catalog, err := buildCatalog(cfg.Voices)
	if err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: init voices: %w", err)
	}
	a.setCatalog(catalog)

	// ── 3. Engine ────────────────────────────────────────────────────────
	a.engine = engine.New(nil,
		engine.WithEconomy(engine.Economy{
			CommentCost:     cfg.Energy.CommentCost,
			DuplicateRefund: cfg.Energy.DuplicateRefund,
		}),
		engine.WithClock(a.now),
	)
	a.docID = a.engine.ID()
	unsubscribe := a.engine.Subscribe(a.onEngineEvent)
	a.closers = append(a.closers, func() error {
		unsubscribe()
		return nil
	})

	// ── 4. Session orchestrator ──────────────────────────────────────────
	loc, err := cfg.Session.Location()
	if err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: %w", err)
	}
	a.orch, err = session.New(session.Config{
		Engine:         a.engine,
		Mode:           session.Mode(cfg.Session.Mode),
		Remote:         a.remote,
		Local:          a.local,
		Location:       loc,
		AutosaveDelay:  cfg.Session.AutosaveDelay,
		ListWindowDays: cfg.Session.ListWindowDays,
		StartingEnergy: cfg.Energy.StartingEnergy,
		Metrics:        a.metrics,
		Now:            a.now,
	})
	if err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: %w", err)
	}
	a.checkers = append(a.checkers, health.FlagChecker("local_writes", a.orch.Degraded))

	return a, nil
}

// initStores opens the remote and local stores concurrently.
func (a *App) initStores(ctx context.Context) error {
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	addCloser := func(name string, p health.Pinger, closer func() error) {
		mu.Lock()
		defer mu.Unlock()
		a.checkers = append(a.checkers, health.PingChecker(name, p))
		a.closers = append(a.closers, closer)
	}

	if a.remote == nil && a.cfg.Session.Mode == config.ModeAccount {
		g.Go(func() error {
			store, err := postgres.NewStore(ctx, a.cfg.Storage.PostgresDSN)
			if err != nil {
				return err
			}
			a.remote = store.Sessions(a.cfg.Session.UserID)
			addCloser("remote_store", store, func() error { store.Close(); return nil })
			slog.Info("connected remote session store", "user_id", a.cfg.Session.UserID)
			return nil
		})
	}

	if a.local == nil {
		g.Go(func() error {
			switch a.cfg.Storage.LocalBackend {
			case config.LocalRedis:
				store, err := redis.NewStore(a.cfg.Storage.RedisURL)
				if err != nil {
					return err
				}
				a.local = store
				addCloser("local_store", store, store.Close)
			default:
				store, err := sqlite.NewStore(a.cfg.Storage.SQLitePath)
				if err != nil {
					return err
				}
				a.local = store
				addCloser("local_store", store, store.Close)
			}
			slog.Info("opened local store", "backend", a.cfg.Storage.LocalBackend)
			return nil
		})
	}

	return g.Wait()
}

func buildCatalog(voices []voice.Voice) (*voice.Catalog, error) {
	if len(voices) == 0 {
		return voice.DefaultCatalog(), nil
	}
	return voice.NewCatalog(voices...)
}

// setCatalog rebuilds the analyzer and chatter around catalog.
func (a *App) setCatalog(catalog *voice.Catalog) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.catalog = catalog
	a.rebuildVoicesLocked()
}

func (a *App) rebuildVoicesLocked() {
	if a.providers.LLM == nil {
		a.analyzer, a.chatter = nil, nil
		return
	}
	temp := a.cfg.Providers.LLM.Temperature
	a.analyzer = voice.NewAnalyzer(a.providers.LLM, a.catalog, voice.AnalyzerConfig{
		MinTextLength: a.analysis.MinTextLength,
		MaxComments:   a.analysis.MaxComments,
		Temperature:   temp,
		Metrics:       a.metrics,
	})
	a.chatter = voice.NewChatter(a.providers.LLM, a.catalog, temp)
}

// onEngineEvent starts fresh analysis and accrual baselines whenever the
// engine loads a document.
func (a *App) onEngineEvent(ev engine.Event) {
	if ev.Kind == engine.EventMutated {
		return
	}
	text := ev.Document.Text()
	a.mu.Lock()
	defer a.mu.Unlock()
	a.docID = ev.Document.ID
	a.lastAnalyzed, a.analyzedOnce = "", false
	a.lastAccrued = text
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Engine returns the document engine.
func (a *App) Engine() *engine.Engine { return a.engine }

// Sessions returns the session orchestrator.
func (a *App) Sessions() *session.Orchestrator { return a.orch }

// RemoteStore returns the session store, or nil in guest mode.
func (a *App) RemoteStore() persist.RemoteStore { return a.remote }

// Catalog returns the voice catalogue in use.
func (a *App) Catalog() *voice.Catalog {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.catalog
}

// HealthCheckers returns readiness checks for the opened stores and the
// local write path.
func (a *App) HealthCheckers() []health.Checker {
	out := make([]health.Checker, len(a.checkers))
	copy(out, a.checkers)
	return out
}

// RecentSessions lists the user's most recently updated sessions. It returns
// [session.ErrGuestMode] in guest mode.
func (a *App) RecentSessions(ctx context.Context, limit int) ([]persist.SessionMeta, error) {
	if a.orch.Mode() != session.ModeAccount {
		return nil, session.ErrGuestMode
	}
	loc, err := a.cfg.Session.Location()
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	metas, err := a.remote.List(ctx, persist.ListOpts{Location: loc, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("app: list sessions: %w", err)
	}
	return metas, nil
}

// ─── Lifecycle ───────────────────────────────────────────────────────────────

// Start loads the initial document.
func (a *App) Start(ctx context.Context) error {
	if err := a.orch.Start(ctx); err != nil {
		return fmt.Errorf("app: start: %w", err)
	}
	slog.Info("journal ready",
		"mode", a.orch.Mode(),
		"session_id", a.orch.CurrentEntryID(),
		"voices", a.Catalog().Len(),
	)
	return nil
}

// Run watches for the local day boundary until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.orch.Run(ctx)
	return ctx.Err()
}

// Shutdown flushes a pending save and closes the stores. It is safe to call
// more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.orch != nil {
			if err := a.orch.Close(ctx); err != nil {
				slog.Error("final save failed", "err", err)
				shutdownErr = err
			}
		}

		select {
		case <-ctx.Done():
			slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers))
			shutdownErr = errors.Join(shutdownErr, ctx.Err())
			return
		default:
		}
		a.runClosers()
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

func (a *App) runClosers() {
	for i, closer := range a.closers {
		if err := closer(); err != nil {
			slog.Warn("closer error", "index", i, "err", err)
		}
	}
	a.closers = nil
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable parts of next. It is meant as the
// callback of a [config.Watcher].
func (a *App) ApplyConfig(prev, next *config.Config) {
	d := config.Diff(prev, next)
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
	}
	if !d.HotReloadable() {
		return
	}

	if d.LogLevelChanged && a.levelVar != nil {
		a.levelVar.Set(SlogLevel(d.NewLogLevel))
	}

	var catalog *voice.Catalog
	if d.VoicesChanged {
		c, err := buildCatalog(next.Voices)
		if err != nil {
			slog.Warn("ignoring invalid voices from reloaded config", "err", err)
		} else {
			catalog = c
		}
	}

	a.mu.Lock()
	a.prompts = next.Prompts
	a.analysis = next.Analysis
	if catalog != nil {
		a.catalog = catalog
	}
	if d.AnalysisChanged || catalog != nil {
		a.rebuildVoicesLocked()
	}
	a.mu.Unlock()

	slog.Info("applied config changes",
		"log_level", d.LogLevelChanged,
		"prompts", d.MetaPromptChanged || d.MoodsChanged,
		"analysis", d.AnalysisChanged,
		"voices", len(d.VoiceChanges),
	)
}

// SlogLevel maps a config level to a slog level. Unknown levels map to Info.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
