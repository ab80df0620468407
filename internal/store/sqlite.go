package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// dialect captures what differs between the SQL backends.
type dialect struct {
	driver string
	schema string
	// rebind rewrites "?" placeholders for drivers that want another style.
	rebind func(query string) string
}

var sqliteDialect = dialect{
	driver: "sqlite3",
	schema: `
    CREATE TABLE IF NOT EXISTS threads (
        seq INTEGER PRIMARY KEY AUTOINCREMENT,
        id TEXT UNIQUE NOT NULL, -- UUID
        owner_id TEXT NOT NULL,
        title TEXT NOT NULL DEFAULT '',
        metadata TEXT NOT NULL DEFAULT '{}',
        created_at INTEGER NOT NULL, -- unix nanoseconds
        updated_at INTEGER NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_threads_owner ON threads (owner_id, updated_at);

    CREATE TABLE IF NOT EXISTS messages (
        seq INTEGER PRIMARY KEY AUTOINCREMENT,
        id TEXT UNIQUE NOT NULL, -- UUID
        thread_id TEXT NOT NULL,
        role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
        content TEXT NOT NULL,
        created_at INTEGER NOT NULL,
        FOREIGN KEY (thread_id) REFERENCES threads (id)
    );
    CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages (thread_id, seq);
    `,
	rebind: func(query string) string { return query },
}

// Option configures a store.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source used for createdAt/updatedAt.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// SQLStore implements Store on database/sql. It backs both SQLite and PostgreSQL.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
}

func NewSQLiteStore(dataSourceName string, opts ...Option) (*SQLStore, error) {
	db, err := sql.Open(sqliteDialect.driver, dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps ":memory:" databases coherent and serializes writers.
	db.SetMaxOpenConns(1)
	return newSQLStore(db, sqliteDialect, buildOptions(opts))
}

func newSQLStore(db *sql.DB, d dialect, o options) (*SQLStore, error) {
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SQLStore{db: db, dialect: d, now: o.now}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) initSchema() error {
	_, err := s.db.Exec(s.dialect.schema)
	return err
}

func (s *SQLStore) q(query string) string {
	return s.dialect.rebind(query)
}

func (s *SQLStore) stamp() time.Time {
	return s.now().UTC()
}

// Thread methods
func (s *SQLStore) CreateThread(ctx context.Context, thread *Thread) error {
	if thread.Metadata == nil {
		thread.Metadata = map[string]any{}
	}
	metadata, err := json.Marshal(thread.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal thread metadata: %w", err)
	}

	thread.ID = uuid.NewString()
	thread.CreatedAt = s.stamp()
	thread.UpdatedAt = thread.CreatedAt

	_, err = s.db.ExecContext(ctx,
		s.q("INSERT INTO threads (id, owner_id, title, metadata, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)"),
		thread.ID, thread.OwnerID, thread.Title, string(metadata), thread.CreatedAt.UnixNano(), thread.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert thread: %w", err)
	}
	return nil
}

const threadColumns = "id, owner_id, title, metadata, created_at, updated_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanThread(row rowScanner) (*Thread, error) {
	var (
		t                Thread
		metadata         string
		created, updated int64
	)
	if err := row.Scan(&t.ID, &t.OwnerID, &t.Title, &metadata, &created, &updated); err != nil {
		return nil, err
	}
	t.Metadata = map[string]any{}
	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &t.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata of thread %s: %w", t.ID, err)
		}
	}
	t.CreatedAt = time.Unix(0, created).UTC()
	t.UpdatedAt = time.Unix(0, updated).UTC()
	return &t, nil
}

func (s *SQLStore) GetThread(ctx context.Context, threadID, ownerID string) (*Thread, error) {
	row := s.db.QueryRowContext(ctx,
		s.q("SELECT "+threadColumns+" FROM threads WHERE id = ? AND owner_id = ?"), threadID, ownerID)
	thread, err := scanThread(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrThreadNotFound
		}
		return nil, fmt.Errorf("failed to get thread: %w", err)
	}
	return thread, nil
}

func (s *SQLStore) ListThreads(ctx context.Context, ownerID string) ([]Thread, error) {
	rows, err := s.db.QueryContext(ctx,
		s.q("SELECT "+threadColumns+" FROM threads WHERE owner_id = ? ORDER BY updated_at DESC, seq DESC"), ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query threads: %w", err)
	}
	defer rows.Close()

	threads := []Thread{}
	for rows.Next() {
		thread, err := scanThread(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan thread row: %w", err)
		}
		threads = append(threads, *thread)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate threads: %w", err)
	}
	return threads, nil
}

func (s *SQLStore) UpdateThreadTitle(ctx context.Context, threadID, title string) error {
	res, err := s.db.ExecContext(ctx, s.q("UPDATE threads SET title = ? WHERE id = ?"), title, threadID)
	if err != nil {
		return fmt.Errorf("failed to update thread title: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrThreadNotFound
	}
	return nil
}

func (s *SQLStore) DeleteThread(ctx context.Context, threadID, ownerID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin delete: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		s.q("DELETE FROM messages WHERE thread_id IN (SELECT id FROM threads WHERE id = ? AND owner_id = ?)"),
		threadID, ownerID)
	if err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	_, err = tx.ExecContext(ctx, s.q("DELETE FROM threads WHERE id = ? AND owner_id = ?"), threadID, ownerID)
	if err != nil {
		return fmt.Errorf("failed to delete thread: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}
	return nil
}

// Message methods
func (s *SQLStore) AppendMessage(ctx context.Context, msg *Message) error {
	msg.ID = uuid.NewString()
	msg.CreatedAt = s.stamp()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin message insert: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, s.q("UPDATE threads SET updated_at = ? WHERE id = ?"),
		msg.CreatedAt.UnixNano(), msg.ThreadID)
	if err != nil {
		return fmt.Errorf("failed to touch thread: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrThreadNotFound
	}

	_, err = tx.ExecContext(ctx,
		s.q("INSERT INTO messages (id, thread_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)"),
		msg.ID, msg.ThreadID, msg.Role, msg.Content, msg.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit message: %w", err)
	}
	return nil
}

func (s *SQLStore) ListMessages(ctx context.Context, threadID string, limit int) ([]Message, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = s.db.QueryContext(ctx, s.q(`
        SELECT id, thread_id, role, content, created_at FROM (
            SELECT seq, id, thread_id, role, content, created_at
            FROM messages
            WHERE thread_id = ?
            ORDER BY seq DESC
            LIMIT ?
        ) AS recent
        ORDER BY seq ASC`), threadID, limit)
	} else {
		rows, err = s.db.QueryContext(ctx,
			s.q("SELECT id, thread_id, role, content, created_at FROM messages WHERE thread_id = ? ORDER BY seq ASC"), threadID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var (
			msg     Message
			content any
			created int64
		)
		if err := rows.Scan(&msg.ID, &msg.ThreadID, &msg.Role, &content, &created); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		msg.Content = NormalizeContent(content)
		msg.CreatedAt = time.Unix(0, created).UTC()
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return messages, nil
}
