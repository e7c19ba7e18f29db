package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Tyrowin/roomchat/internal/chat"
)

// SQLite persists the chat in a single database file.
type SQLite struct {
	db     *sql.DB
	dbPath string
	now    func() time.Time
}

// OpenSQLite opens (creating if needed) the database at dbPath and migrates
// the schema.
func OpenSQLite(dbPath string) (*SQLite, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create database directory: %w", chat.PersistenceFailure, err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %w", chat.PersistenceFailure, err)
	}
	// SQLite allows one writer; a single connection keeps writes ordered.
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db, dbPath: dbPath, now: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: initialize schema: %w", chat.PersistenceFailure, err)
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		name TEXT PRIMARY KEY,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS rooms (
		name TEXT PRIMARY KEY,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS room_joins (
		user_name TEXT NOT NULL,
		room_name TEXT NOT NULL,
		joined_at TEXT NOT NULL,
		PRIMARY KEY (user_name, room_name)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_name TEXT NOT NULL,
		sender TEXT NOT NULL,
		text TEXT NOT NULL,
		sent_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room_name, id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Timestamps are stored as UTC text in the wire layout so that string
// comparison orders them correctly across local clock changes.
func dbTime(t time.Time) string {
	return t.UTC().Format(chat.TimestampLayout)
}

func parseDBTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(chat.TimestampLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	return t.Local(), nil
}

func (s *SQLite) stamp() string {
	return dbTime(s.now())
}

func (s *SQLite) StoreUser(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO users (name, created_at) VALUES (?, ?)`, name, s.stamp())
	if err != nil {
		return fmt.Errorf("%w: store user %q: %w", chat.PersistenceFailure, name, err)
	}
	return nil
}

func (s *SQLite) CreateRoom(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO rooms (name, created_at) VALUES (?, ?)`, name, s.stamp())
	if err != nil {
		return fmt.Errorf("%w: create room %q: %w", chat.PersistenceFailure, name, err)
	}
	return nil
}

func (s *SQLite) StoreMessage(ctx context.Context, room string, msg chat.Message) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (room_name, sender, text, sent_at) VALUES (?, ?, ?, ?)`,
		room, msg.Sender, msg.Text, dbTime(msg.Sent))
	if err != nil {
		return fmt.Errorf("%w: store message in %q: %w", chat.PersistenceFailure, room, err)
	}
	return nil
}

func (s *SQLite) UserJoinTimestamp(ctx context.Context, user, room string, claimed time.Time) (time.Time, error) {
	candidate := dbTime(resolveJoin(claimed, s.now()))

	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO room_joins (user_name, room_name, joined_at) VALUES (?, ?, ?)`,
		user, room, candidate)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: record join of %q in %q: %w", chat.PersistenceFailure, user, room, err)
	}

	var joined string
	err = s.db.QueryRowContext(ctx,
		`SELECT joined_at FROM room_joins WHERE user_name = ? AND room_name = ?`, user, room).Scan(&joined)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: lookup join of %q in %q: %w", chat.PersistenceFailure, user, room, err)
	}

	at, err := parseDBTime(joined)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: stored join timestamp: %w", chat.PersistenceFailure, err)
	}
	return at, nil
}

func (s *SQLite) ReplayHistory(ctx context.Context, room string, since time.Time, fn func(chat.Message) error) error {
	query := `SELECT sender, text, sent_at FROM messages WHERE room_name = ? ORDER BY id`
	args := []any{room}
	if !since.IsZero() {
		query = `SELECT sender, text, sent_at FROM messages WHERE room_name = ? AND sent_at >= ? ORDER BY id`
		args = append(args, dbTime(since))
	}

	history, err := s.queryMessages(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%w: load history of %q: %w", chat.PersistenceFailure, room, err)
	}

	// Rows are drained before fn runs so a slow reader never pins the
	// only database connection.
	for _, msg := range history {
		if err := fn(msg); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) queryMessages(ctx context.Context, query string, args ...any) ([]chat.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []chat.Message
	for rows.Next() {
		var sender, text, sentAt string
		if err := rows.Scan(&sender, &text, &sentAt); err != nil {
			return nil, err
		}
		at, err := parseDBTime(sentAt)
		if err != nil {
			return nil, fmt.Errorf("malformed sent_at %q: %w", sentAt, err)
		}
		out = append(out, chat.ChatMessage(sender, text, at))
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}
