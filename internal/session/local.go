package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/MrWong99/inkmemory/pkg/persist"
)

// DefaultKeyPrefix namespaces the local keys.
const DefaultKeyPrefix = "inkmemory"

// localKeys names the blobs kept in the local store.
type localKeys struct {
	document  string
	mood      string
	currentID string
}

func newLocalKeys(prefix string) localKeys {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return localKeys{
		document:  prefix + ":current-document",
		mood:      prefix + ":selected-mood",
		currentID: prefix + ":current-session-id",
	}
}

// moodRecord is the guest-mode mood with the local day it was chosen on.
type moodRecord struct {
	Mood string `json:"mood"`
	Date string `json:"date"`
}

// localGuard performs best-effort local writes. Failures are logged and
// swallowed, and the guard reports itself degraded until the next success.
//
// It is used for the current-session pointer and the guest mood, whose loss
// only costs a slightly worse startup choice.
type localGuard struct {
	store    persist.LocalStore
	degraded atomic.Bool
}

func (g *localGuard) set(ctx context.Context, key string, value []byte) {
	if err := g.store.Set(ctx, key, value); err != nil {
		g.degraded.Store(true)
		slog.Warn("local store write failed, continuing", "key", key, "err", err)
		return
	}
	g.degraded.Store(false)
}

func (g *localGuard) remove(ctx context.Context, key string) {
	if err := g.store.Remove(ctx, key); err != nil {
		g.degraded.Store(true)
		slog.Warn("local store remove failed, continuing", "key", key, "err", err)
		return
	}
	g.degraded.Store(false)
}

// get returns the value under key. Missing keys and read failures both
// yield ok=false; read failures also mark the guard degraded.
func (g *localGuard) get(ctx context.Context, key string) ([]byte, bool) {
	b, err := g.store.Get(ctx, key)
	switch {
	case errors.Is(err, persist.ErrNotFound):
		return nil, false
	case err != nil:
		g.degraded.Store(true)
		slog.Warn("local store read failed, ignoring", "key", key, "err", err)
		return nil, false
	}
	g.degraded.Store(false)
	return b, true
}

func (g *localGuard) readMood(ctx context.Context, key string) (moodRecord, bool) {
	raw, ok := g.get(ctx, key)
	if !ok {
		return moodRecord{}, false
	}
	var rec moodRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		slog.Warn("discarding unreadable mood record", "key", key, "err", err)
		return moodRecord{}, false
	}
	return rec, true
}

func (g *localGuard) writeMood(ctx context.Context, key string, rec moodRecord) {
	b, err := json.Marshal(rec)
	if err != nil {
		return
	}
	g.set(ctx, key, b)
}

func (g *localGuard) isDegraded() bool { return g.degraded.Load() }
