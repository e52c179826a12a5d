package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/quickchat/quickchat/internal/store"
)

// SQLiteStore implements store.MessageStore for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	room_id    TEXT    NOT NULL,
	seq        INTEGER NOT NULL,
	id         TEXT    NOT NULL,
	author     TEXT    NOT NULL,
	body       TEXT    NOT NULL DEFAULT '',
	att_name   TEXT,
	att_url    TEXT,
	att_type   TEXT,
	att_size   INTEGER,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (room_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_messages_room ON messages (room_id, created_at);
`

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file, or ":memory:" for tests.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveMessage persists a published message.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *store.Message) error {
	query := `
		INSERT INTO messages (room_id, seq, id, author, body, att_name, att_url, att_type, att_size, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var attName, attURL, attType sql.NullString
	var attSize sql.NullInt64
	if msg.Attachment != nil {
		attName = sql.NullString{String: msg.Attachment.Name, Valid: true}
		attURL = sql.NullString{String: msg.Attachment.URL, Valid: true}
		attType = sql.NullString{String: msg.Attachment.MediaType, Valid: true}
		attSize = sql.NullInt64{Int64: msg.Attachment.Size, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, query,
		msg.Room, msg.Seq, msg.ID, msg.Author, msg.Body,
		attName, attURL, attType, attSize,
		msg.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// ListRoomMessages returns a room's full history ordered by sequence.
func (s *SQLiteStore) ListRoomMessages(ctx context.Context, roomID string) ([]*store.Message, error) {
	query := `
		SELECT room_id, seq, id, author, body, att_name, att_url, att_type, att_size, created_at
		FROM messages
		WHERE room_id = ?
		ORDER BY seq ASC
	`

	rows, err := s.db.QueryContext(ctx, query, roomID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*store.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

// ListRooms returns every room id that has persisted messages.
func (s *SQLiteStore) ListRooms(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT room_id FROM messages ORDER BY room_id`)
	if err != nil {
		return nil, fmt.Errorf("query rooms: %w", err)
	}
	defer rows.Close()

	var rooms []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan room id: %w", err)
		}
		rooms = append(rooms, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rooms: %w", err)
	}
	return rooms, nil
}

func scanMessage(rows *sql.Rows) (*store.Message, error) {
	var msg store.Message
	var attName, attURL, attType sql.NullString
	var attSize sql.NullInt64
	var createdAt int64

	if err := rows.Scan(
		&msg.Room, &msg.Seq, &msg.ID, &msg.Author, &msg.Body,
		&attName, &attURL, &attType, &attSize, &createdAt,
	); err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}

	if attURL.Valid {
		msg.Attachment = &store.Attachment{
			Name:      attName.String,
			URL:       attURL.String,
			MediaType: attType.String,
			Size:      attSize.Int64,
		}
	}
	msg.CreatedAt = time.Unix(0, createdAt)
	return &msg, nil
}
