package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/charlie/internal/store"
	"github.com/MrWong99/charlie/internal/voice"
)

var _ store.MessageLog = (*Store)(nil)

// Store is a [store.MessageLog] backed by a single [pgxpool.Pool]. All
// methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to the database at dsn, verifies the connection and runs
// [Migrate].
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Ping checks database connectivity. It backs the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}

// Append implements [store.MessageLog].
func (s *Store) Append(ctx context.Context, sessionID, userID string, msg voice.Message) error {
	const q = `
		INSERT INTO conversation_messages (id, session_id, user_id, role, text, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, q, msg.ID, sessionID, userID, string(msg.Role), msg.Text, msg.Timestamp)
	if err != nil {
		return fmt.Errorf("postgres store: append: %w", err)
	}
	return nil
}

// List implements [store.MessageLog].
func (s *Store) List(ctx context.Context, sessionID string) ([]voice.Message, error) {
	const q = `
		SELECT id, session_id, user_id, role, text, created_at
		FROM   conversation_messages
		WHERE  session_id = $1
		ORDER  BY created_at, id`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list: %w", err)
	}
	entries, err := collectEntries(rows)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, store.ErrNotFound
	}
	msgs := make([]voice.Message, len(entries))
	for i, e := range entries {
		msgs[i] = e.Message
	}
	return msgs, nil
}

// Search implements [store.MessageLog] using PostgreSQL full-text search.
// The query is passed to plainto_tsquery so no operator syntax is needed.
func (s *Store) Search(ctx context.Context, query string, opts store.SearchOpts) ([]store.Entry, error) {
	args := []any{query}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{
		"to_tsvector('simple', text) @@ plainto_tsquery('simple', $1)",
	}
	if opts.SessionID != "" {
		conditions = append(conditions, "session_id = "+next(opts.SessionID))
	}
	if opts.UserID != "" {
		conditions = append(conditions, "user_id = "+next(opts.UserID))
	}
	if opts.Role != "" {
		conditions = append(conditions, "role = "+next(string(opts.Role)))
	}
	if !opts.After.IsZero() {
		conditions = append(conditions, "created_at > "+next(opts.After))
	}
	if !opts.Before.IsZero() {
		conditions = append(conditions, "created_at < "+next(opts.Before))
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = store.DefaultSearchLimit
	}

	q := "SELECT id, session_id, user_id, role, text, created_at\n" +
		"FROM   conversation_messages\n" +
		"WHERE  " + strings.Join(conditions, "\n  AND  ") + "\n" +
		"ORDER  BY created_at, id\n" +
		"LIMIT  " + next(limit)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: search: %w", err)
	}
	return collectEntries(rows)
}

func collectEntries(rows pgx.Rows) ([]store.Entry, error) {
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Entry, error) {
		var (
			e    store.Entry
			role string
		)
		if err := row.Scan(&e.Message.ID, &e.SessionID, &e.UserID, &role, &e.Message.Text, &e.Message.Timestamp); err != nil {
			return store.Entry{}, err
		}
		e.Message.Role = voice.Role(role)
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan rows: %w", err)
	}
	if entries == nil {
		entries = []store.Entry{}
	}
	return entries, nil
}
