// Package persist defines where journaling sessions are stored.
//
// A [RemoteStore] keeps every session of one signed-in user. A [LocalStore]
// keeps small serialised blobs on the device: the guest document, the
// selected mood with its date, and a pointer to the current session.
//
// Implementations live in sub-packages: postgres (remote), sqlite and redis
// (local), and mock for tests.
package persist

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/inkmemory/pkg/document"
	"github.com/MrWong99/inkmemory/pkg/localday"
)

var (
	// ErrNotFound is returned when a session or key does not exist.
	ErrNotFound = errors.New("persist: not found")

	// ErrPayloadTooLarge is returned when a serialised document exceeds the
	// store's size limit. Retrying the same payload will not help, so callers
	// must not treat it like a transient I/O failure.
	ErrPayloadTooLarge = errors.New("persist: payload too large")

	// ErrClosed is returned by stores that have been closed.
	ErrClosed = errors.New("persist: store closed")
)

// SessionMeta describes a stored session without its content.
type SessionMeta struct {
	ID        string
	Name      string
	CreatedAt time.Time
	// UpdatedAt is assigned by the store on every save.
	UpdatedAt time.Time
}

// ListOpts narrows [RemoteStore.List].
type ListOpts struct {
	// Location interprets FromDay and ToDay. Nil means UTC.
	Location *time.Location
	// FromDay and ToDay are inclusive local days in YYYY-MM-DD form. Either
	// may be empty to leave that side of the window open.
	FromDay string
	ToDay   string
	// Limit caps the number of results. Zero means no limit.
	Limit int
}

// Window converts the local-day window into a half-open UTC range on
// updated_at. Zero instants mean the side is open.
func (o ListOpts) Window() (from, to time.Time, err error) {
	return localday.Range(o.FromDay, o.ToDay, o.Location)
}

// RemoteStore persists sessions for one user. Implementations must be safe
// for concurrent use.
type RemoteStore interface {
	// Save creates or replaces the session with the given id. An empty label
	// keeps the existing name.
	Save(ctx context.Context, sessionID string, doc *document.Document, label string) (SessionMeta, error)

	// Load returns the stored document. It returns [ErrNotFound] for unknown ids.
	Load(ctx context.Context, sessionID string) (*document.Document, error)

	// List returns session metadata, most recently updated first.
	List(ctx context.Context, opts ListOpts) ([]SessionMeta, error)

	// Delete removes a session. Deleting an unknown id is not an error.
	Delete(ctx context.Context, sessionID string) error
}

// LocalStore keeps serialised blobs under string keys. Implementations must be
// safe for concurrent use.
type LocalStore interface {
	// Get returns the blob under key or [ErrNotFound].
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
}

// MostRecent returns the entry with the latest UpdatedAt. Ties keep the
// earlier entry.
func MostRecent(metas []SessionMeta) (SessionMeta, bool) {
	if len(metas) == 0 {
		return SessionMeta{}, false
	}
	best := metas[0]
	for _, m := range metas[1:] {
		if m.UpdatedAt.After(best.UpdatedAt) {
			best = m
		}
	}
	return best, true
}

// Find returns the entry with the given id.
func Find(metas []SessionMeta, id string) (SessionMeta, bool) {
	for _, m := range metas {
		if m.ID == id {
			return m, true
		}
	}
	return SessionMeta{}, false
}
