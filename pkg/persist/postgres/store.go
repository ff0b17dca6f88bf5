package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/inkmemory/pkg/document"
	"github.com/MrWong99/inkmemory/pkg/persist"
)

// DefaultMaxPayload is the largest serialised document accepted by Save.
const DefaultMaxPayload = 8 << 20

var _ persist.RemoteStore = (*SessionStore)(nil)

// Option configures a [Store].
type Option func(*Store)

// WithMaxPayload overrides [DefaultMaxPayload]. Values <= 0 are ignored.
func WithMaxPayload(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxPayload = n
		}
	}
}

// Store owns the connection pool. All operations are safe for concurrent use.
type Store struct {
	pool       *pgxpool.Pool
	maxPayload int
}

// NewStore connects to the database at dsn, pings it and runs [Migrate].
func NewStore(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: %w", err)
	}

	s := &Store{pool: pool, maxPayload: DefaultMaxPayload}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Sessions returns the session store of one user.
func (s *Store) Sessions(userID string) *SessionStore {
	return &SessionStore{pool: s.pool, userID: userID, maxPayload: s.maxPayload}
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// SessionStore implements [persist.RemoteStore] for one user.
//
// Obtain one via [Store.Sessions] rather than constructing directly.
type SessionStore struct {
	pool       *pgxpool.Pool
	userID     string
	maxPayload int
}

// Save implements [persist.RemoteStore]. It upserts the session and stamps
// updated_at with the database clock. An empty label keeps the stored name.
func (s *SessionStore) Save(ctx context.Context, sessionID string, doc *document.Document, label string) (persist.SessionMeta, error) {
	payload, err := document.Marshal(doc)
	if err != nil {
		return persist.SessionMeta{}, fmt.Errorf("session store: save %s: %w", sessionID, err)
	}
	if len(payload) > s.maxPayload {
		return persist.SessionMeta{}, fmt.Errorf("session store: save %s: %d bytes: %w", sessionID, len(payload), persist.ErrPayloadTooLarge)
	}

	const q = `
		INSERT INTO journal_sessions (id, user_id, name, editor_state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (id) DO UPDATE SET
		    name         = COALESCE(NULLIF(EXCLUDED.name, ''), journal_sessions.name),
		    editor_state = EXCLUDED.editor_state,
		    updated_at   = now()
		WHERE journal_sessions.user_id = EXCLUDED.user_id
		RETURNING id, name, created_at, updated_at`

	createdAt := doc.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	var m persist.SessionMeta
	err = s.pool.QueryRow(ctx, q, sessionID, s.userID, label, string(payload), createdAt).
		Scan(&m.ID, &m.Name, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// The id exists but belongs to someone else.
		return persist.SessionMeta{}, fmt.Errorf("session store: save %s: %w", sessionID, persist.ErrNotFound)
	}
	if err != nil {
		return persist.SessionMeta{}, fmt.Errorf("session store: save %s: %w", sessionID, err)
	}
	return normalizeMeta(m), nil
}

// Load implements [persist.RemoteStore].
func (s *SessionStore) Load(ctx context.Context, sessionID string) (*document.Document, error) {
	const q = `
		SELECT editor_state
		FROM   journal_sessions
		WHERE  id = $1 AND user_id = $2`

	var raw []byte
	err := s.pool.QueryRow(ctx, q, sessionID, s.userID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("session store: load %s: %w", sessionID, persist.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("session store: load %s: %w", sessionID, err)
	}

	doc, err := document.Unmarshal(raw)
	if err != nil {
		return nil, fmt.Errorf("session store: load %s: %w", sessionID, err)
	}
	return doc, nil
}

// List implements [persist.RemoteStore]. The local-day window in opts is
// applied to updated_at.
func (s *SessionStore) List(ctx context.Context, opts persist.ListOpts) ([]persist.SessionMeta, error) {
	from, to, err := opts.Window()
	if err != nil {
		return nil, fmt.Errorf("session store: list: %w", err)
	}

	args := []any{s.userID} // $1 = user id
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{"user_id = $1"}
	if !from.IsZero() {
		conditions = append(conditions, "updated_at >= "+next(from))
	}
	if !to.IsZero() {
		conditions = append(conditions, "updated_at < "+next(to))
	}

	q := `
		SELECT id, name, created_at, updated_at
		FROM   journal_sessions
		WHERE  ` + strings.Join(conditions, " AND ") + `
		ORDER  BY updated_at DESC`
	if opts.Limit > 0 {
		q += " LIMIT " + next(opts.Limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("session store: list: %w", err)
	}
	metas, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (persist.SessionMeta, error) {
		var m persist.SessionMeta
		err := row.Scan(&m.ID, &m.Name, &m.CreatedAt, &m.UpdatedAt)
		return normalizeMeta(m), err
	})
	if err != nil {
		return nil, fmt.Errorf("session store: list: %w", err)
	}
	return metas, nil
}

// Delete implements [persist.RemoteStore].
func (s *SessionStore) Delete(ctx context.Context, sessionID string) error {
	const q = `DELETE FROM journal_sessions WHERE id = $1 AND user_id = $2`
	if _, err := s.pool.Exec(ctx, q, sessionID, s.userID); err != nil {
		return fmt.Errorf("session store: delete %s: %w", sessionID, err)
	}
	return nil
}

func normalizeMeta(m persist.SessionMeta) persist.SessionMeta {
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	return m
}
