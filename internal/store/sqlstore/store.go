package sqlstore

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"           // Postgres driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

type SQLStore struct {
	db         *sql.DB
	driverName string
}

func New(driverName, dataSourceName string) (*SQLStore, error) {
	db, err := sql.Open(driverName, dataSourceName)
	if err != nil {
		return nil, err
	}
	if err = db.Ping(); err != nil {
		return nil, err
	}

	s := &SQLStore{db: db, driverName: driverName}
	if err := s.createTables(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) createTables() error {
	// Timestamps are stored as epoch milliseconds so the burn-deadline scan is
	// a plain integer comparison on both drivers.
	query := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT UNIQUE NOT NULL,
		password TEXT NOT NULL,
		public_key TEXT NOT NULL DEFAULT '',
		signature TEXT NOT NULL DEFAULT '',
		donation_amount BIGINT NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS friends (
		user_a BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		user_b BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		PRIMARY KEY (user_a, user_b)
	);

	CREATE TABLE IF NOT EXISTS chats (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL DEFAULT '',
		owner BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		private BOOLEAN NOT NULL DEFAULT FALSE,
		is_moment BOOLEAN NOT NULL DEFAULT FALSE,
		burn_time BIGINT,
		last_chat_at BIGINT NOT NULL DEFAULT 0
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_moment_owner ON chats(owner) WHERE is_moment;

	CREATE TABLE IF NOT EXISTS chat_members (
		chat_id BIGINT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		key TEXT NOT NULL DEFAULT '',
		unread INTEGER NOT NULL DEFAULT 0,
		mentioned BOOLEAN NOT NULL DEFAULT FALSE,
		do_not_disturb BOOLEAN NOT NULL DEFAULT FALSE,
		PRIMARY KEY (chat_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		content TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL DEFAULT 'TEXT',
		chat_id BIGINT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
		sender_id BIGINT REFERENCES users(id) ON DELETE CASCADE,
		time BIGINT NOT NULL,
		reply_to BIGINT REFERENCES messages(id) ON DELETE SET NULL,
		read_at BIGINT,
		burn_at BIGINT
	);
	CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id);
	CREATE INDEX IF NOT EXISTS idx_messages_burn ON messages(burn_at);

	CREATE TABLE IF NOT EXISTS message_reactions (
		message_id BIGINT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		emoji TEXT NOT NULL,
		PRIMARY KEY (message_id, user_id)
	);
	`

	if s.driverName == "postgres" {
		query = strings.ReplaceAll(query, "INTEGER PRIMARY KEY AUTOINCREMENT", "BIGSERIAL PRIMARY KEY")
	}

	_, err := s.db.Exec(query)
	return err
}

// rebind translates ? placeholders to $N for Postgres.
func (s *SQLStore) rebind(query string) string {
	if s.driverName == "postgres" {
		n := strings.Count(query, "?")
		for i := 1; i <= n; i++ {
			query = strings.Replace(query, "?", fmt.Sprintf("$%d", i), 1)
		}
	}
	return query
}
