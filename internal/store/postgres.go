package store

import (
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	_ "github.com/lib/pq" // PostgreSQL driver
)

var postgresDialect = dialect{
	driver: "postgres",
	schema: `
    CREATE TABLE IF NOT EXISTS threads (
        seq BIGSERIAL PRIMARY KEY,
        id TEXT UNIQUE NOT NULL,
        owner_id TEXT NOT NULL,
        title TEXT NOT NULL DEFAULT '',
        metadata TEXT NOT NULL DEFAULT '{}',
        created_at BIGINT NOT NULL,
        updated_at BIGINT NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_threads_owner ON threads (owner_id, updated_at);

    CREATE TABLE IF NOT EXISTS messages (
        seq BIGSERIAL PRIMARY KEY,
        id TEXT UNIQUE NOT NULL,
        thread_id TEXT NOT NULL REFERENCES threads (id),
        role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
        content TEXT NOT NULL,
        created_at BIGINT NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages (thread_id, seq);
    `,
	rebind: rebindDollar,
}

// rebindDollar turns "?" placeholders into $1, $2, ...
func rebindDollar(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// NewPostgresStore opens a PostgreSQL-backed store. authToken, when set, is
// used as the password if the URL does not carry one.
func NewPostgresStore(databaseURL, authToken string, opts ...Option) (*SQLStore, error) {
	dsn, err := postgresDSN(databaseURL, authToken)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(postgresDialect.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	return newSQLStore(db, postgresDialect, buildOptions(opts))
}

func postgresDSN(databaseURL, authToken string) (string, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse DATABASE_URL: %w", err)
	}
	if authToken != "" && u.User != nil {
		if _, hasPassword := u.User.Password(); !hasPassword {
			u.User = url.UserPassword(u.User.Username(), authToken)
		}
	}
	if u.Query().Get("sslmode") == "" {
		q := u.Query()
		q.Set("sslmode", "disable")
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
