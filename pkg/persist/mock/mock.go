// Package mock provides in-memory test doubles for the persist interfaces.
//
// Both mocks behave like real stores (a saved document can be loaded back)
// and additionally record every method call for assertion in tests. Exported
// *Err fields force failures. All mocks are safe for concurrent use via an
// internal [sync.Mutex].
//
// Typical usage:
//
//	remote := mock.NewRemoteStore()
//	remote.SaveErr = errors.New("offline")
//
//	// inject remote into the system under test …
//
//	if got := remote.CallCount("Save"); got != 1 {
//	    t.Errorf("expected 1 Save call, got %d", got)
//	}
package mock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/MrWong99/inkmemory/pkg/document"
	"github.com/MrWong99/inkmemory/pkg/persist"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// recorder is embedded by both mocks.
type recorder struct {
	mu    sync.Mutex
	calls []Call
}

func (r *recorder) record(method string, args ...any) {
	r.calls = append(r.calls, Call{Method: method, Args: args})
}

// Calls returns a copy of all recorded method invocations.
func (r *recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (r *recorder) CallCount(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears all recorded calls.
func (r *recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

// ─────────────────────────────────────────────────────────────────────────────
// RemoteStore
// ─────────────────────────────────────────────────────────────────────────────

type entry struct {
	meta persist.SessionMeta
	doc  *document.Document
}

// RemoteStore is an in-memory [persist.RemoteStore].
type RemoteStore struct {
	recorder

	sessions map[string]entry

	// Now stamps UpdatedAt on save. Defaults to [time.Now].
	Now func() time.Time

	// BeforeSave, when set, runs at the start of every Save without the
	// mock's lock held. Tests use it to hold a save in flight.
	BeforeSave func(ctx context.Context, sessionID string) error

	// SaveErr is returned by [RemoteStore.Save] when non-nil.
	SaveErr error
	// LoadErr is returned by [RemoteStore.Load] when non-nil.
	LoadErr error
	// ListErr is returned by [RemoteStore.List] when non-nil.
	ListErr error
	// DeleteErr is returned by [RemoteStore.Delete] when non-nil.
	DeleteErr error
}

var _ persist.RemoteStore = (*RemoteStore)(nil)

// NewRemoteStore returns an empty store.
func NewRemoteStore() *RemoteStore {
	return &RemoteStore{sessions: make(map[string]entry)}
}

// Put seeds a session with explicit metadata, bypassing Save and call
// recording.
func (m *RemoteStore) Put(meta persist.SessionMeta, doc *document.Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions == nil {
		m.sessions = make(map[string]entry)
	}
	m.sessions[meta.ID] = entry{meta: meta, doc: doc.Clone()}
}

// Stored returns a copy of the stored document and its metadata.
func (m *RemoteStore) Stored(sessionID string) (*document.Document, persist.SessionMeta, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return nil, persist.SessionMeta{}, false
	}
	return e.doc.Clone(), e.meta, true
}

// Len returns the number of stored sessions.
func (m *RemoteStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Save implements [persist.RemoteStore].
func (m *RemoteStore) Save(ctx context.Context, sessionID string, doc *document.Document, label string) (persist.SessionMeta, error) {
	m.mu.Lock()
	m.record("Save", sessionID, label)
	hook := m.BeforeSave
	m.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, sessionID); err != nil {
			return persist.SessionMeta{}, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return persist.SessionMeta{}, m.SaveErr
	}
	now := time.Now
	if m.Now != nil {
		now = m.Now
	}
	if m.sessions == nil {
		m.sessions = make(map[string]entry)
	}
	meta := m.sessions[sessionID].meta
	meta.ID = sessionID
	if label != "" {
		meta.Name = label
	}
	meta.CreatedAt = doc.CreatedAt
	meta.UpdatedAt = now().UTC()
	m.sessions[sessionID] = entry{meta: meta, doc: doc.Clone()}
	return meta, nil
}

// Load implements [persist.RemoteStore].
func (m *RemoteStore) Load(_ context.Context, sessionID string) (*document.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Load", sessionID)
	if m.LoadErr != nil {
		return nil, m.LoadErr
	}
	e, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("mock: load %s: %w", sessionID, persist.ErrNotFound)
	}
	return e.doc.Clone(), nil
}

// List implements [persist.RemoteStore].
func (m *RemoteStore) List(_ context.Context, opts persist.ListOpts) ([]persist.SessionMeta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("List", opts)
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	from, to, err := opts.Window()
	if err != nil {
		return nil, err
	}
	out := make([]persist.SessionMeta, 0, len(m.sessions))
	for _, e := range m.sessions {
		if !from.IsZero() && e.meta.UpdatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !e.meta.UpdatedAt.Before(to) {
			continue
		}
		out = append(out, e.meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// Delete implements [persist.RemoteStore].
func (m *RemoteStore) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Delete", sessionID)
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	delete(m.sessions, sessionID)
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// LocalStore
// ─────────────────────────────────────────────────────────────────────────────

// LocalStore is an in-memory [persist.LocalStore].
type LocalStore struct {
	recorder

	values map[string][]byte

	// SetErr is returned by [LocalStore.Set] when non-nil.
	SetErr error
	// GetErr is returned by [LocalStore.Get] when non-nil.
	GetErr error
}

var _ persist.LocalStore = (*LocalStore)(nil)

// NewLocalStore returns an empty store.
func NewLocalStore() *LocalStore {
	return &LocalStore{values: make(map[string][]byte)}
}

// Get implements [persist.LocalStore].
func (m *LocalStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Get", key)
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	v, ok := m.values[key]
	if !ok {
		return nil, persist.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Set implements [persist.LocalStore].
func (m *LocalStore) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Set", key)
	if m.SetErr != nil {
		return m.SetErr
	}
	if m.values == nil {
		m.values = make(map[string][]byte)
	}
	m.values[key] = append([]byte(nil), value...)
	return nil
}

// Remove implements [persist.LocalStore].
func (m *LocalStore) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Remove", key)
	delete(m.values, key)
	return nil
}

// Value returns the raw blob under key without recording a call.
func (m *LocalStore) Value(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok
}
