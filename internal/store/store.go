package store

import (
	"context"
	"errors"
	"strings"
)

// ErrThreadNotFound is returned when a thread does not exist for the given owner.
var ErrThreadNotFound = errors.New("thread not found")

// Store is the durable session store for threads and their messages.
type Store interface {
	CreateThread(ctx context.Context, thread *Thread) error
	GetThread(ctx context.Context, threadID, ownerID string) (*Thread, error)
	// ListThreads returns the owner's threads, most recently updated first.
	ListThreads(ctx context.Context, ownerID string) ([]Thread, error)
	UpdateThreadTitle(ctx context.Context, threadID, title string) error
	// DeleteThread removes the thread and all its messages. Deleting an
	// unknown thread is not an error.
	DeleteThread(ctx context.Context, threadID, ownerID string) error

	// AppendMessage stores msg at the end of its thread and bumps the
	// thread's updatedAt.
	AppendMessage(ctx context.Context, msg *Message) error
	// ListMessages returns messages in append order. A positive limit keeps
	// only the last limit messages.
	ListMessages(ctx context.Context, threadID string, limit int) ([]Message, error)

	Close() error
}

// Open picks a backend from the database URL: "memory" for the in-process
// store, postgres:// or postgresql:// for PostgreSQL, anything else is a
// SQLite data source name.
func Open(databaseURL, authToken string) (Store, error) {
	switch {
	case databaseURL == "memory":
		return NewMemoryStore(), nil
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return NewPostgresStore(databaseURL, authToken)
	default:
		return NewSQLiteStore(databaseURL)
	}
}
