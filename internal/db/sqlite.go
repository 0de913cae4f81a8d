package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/RichardoC/talknow/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDSN keeps everything in memory: state is gone when the process exits.
const DefaultDSN = ":memory:?_foreign_keys=on"

var ErrNotFound = errors.New("not found")

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    username TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS conversations (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    title TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS conversations_session ON conversations(session_id, created_at);

CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    conversation_id TEXT NOT NULL,
    role TEXT NOT NULL,
    type TEXT NOT NULL,
    language TEXT NOT NULL DEFAULT '',
    content TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS messages_conversation ON messages(conversation_id, id);`

// Database is the sqlite implementation of the chat store.
type Database struct {
	db *sql.DB
}

// New opens the database at dsn and creates the schema.
func New(dsn string) (*Database, error) {
	if dsn == "" {
		dsn = DefaultDSN
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	// Every new connection to :memory: opens an empty database.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Database{db: db}, nil
}

func (db *Database) Close() error {
	return db.db.Close()
}

func (db *Database) CreateSession(ctx context.Context, s *models.Session) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	_, err := db.db.ExecContext(ctx,
		`INSERT INTO sessions (id, username, created_at) VALUES (?, ?, ?)`,
		s.ID, s.Username, s.CreatedAt)
	return err
}

func (db *Database) GetSession(ctx context.Context, id string) (*models.Session, error) {
	s := &models.Session{}
	err := db.db.QueryRowContext(ctx,
		`SELECT id, username, created_at FROM sessions WHERE id = ?`, id).
		Scan(&s.ID, &s.Username, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// DeleteSession removes the session with every conversation and message it owns.
func (db *Database) DeleteSession(ctx context.Context, id string) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM messages WHERE conversation_id IN (
			SELECT id FROM conversations WHERE session_id = ?)`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM conversations WHERE session_id = ?", id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}

	return tx.Commit()
}

func (db *Database) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now().UTC()
	}
	_, err := db.db.ExecContext(ctx, `
        INSERT INTO conversations (id, session_id, title, created_at)
        VALUES (?, ?, ?, ?)`,
		conv.ID, conv.SessionID, conv.Title, conv.CreatedAt)
	return err
}

// GetConversation returns the conversation without its messages.
func (db *Database) GetConversation(ctx context.Context, sessionID, id string) (*models.Conversation, error) {
	query := `
        SELECT c.id, c.session_id, c.title, c.created_at,
               (SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id)
        FROM conversations c
        WHERE c.id = ? AND c.session_id = ?`

	conv := &models.Conversation{}
	err := db.db.QueryRowContext(ctx, query, id, sessionID).
		Scan(&conv.ID, &conv.SessionID, &conv.Title, &conv.CreatedAt, &conv.MessageCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// GetConversations lists a session's conversations, newest first.
func (db *Database) GetConversations(ctx context.Context, sessionID string) ([]models.Conversation, error) {
	query := `
        SELECT c.id, c.session_id, c.title, c.created_at,
               (SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id)
        FROM conversations c
        WHERE c.session_id = ?
        ORDER BY c.created_at DESC, c.rowid DESC`

	rows, err := db.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return []models.Conversation{}, err
	}
	defer rows.Close()

	conversations := make([]models.Conversation, 0)
	for rows.Next() {
		var conv models.Conversation
		err := rows.Scan(&conv.ID, &conv.SessionID, &conv.Title, &conv.CreatedAt, &conv.MessageCount)
		if err != nil {
			return []models.Conversation{}, err
		}
		conversations = append(conversations, conv)
	}
	return conversations, rows.Err()
}

func (db *Database) DeleteConversation(ctx context.Context, sessionID, id string) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM conversations WHERE id = ? AND session_id = ?", id, sessionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE conversation_id = ?", id); err != nil {
		return err
	}

	return tx.Commit()
}

func (db *Database) UpdateConversationTitle(ctx context.Context, sessionID, id, title string) error {
	res, err := db.db.ExecContext(ctx,
		"UPDATE conversations SET title = ? WHERE id = ? AND session_id = ?", title, id, sessionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	return nil
}

func (db *Database) SaveMessage(ctx context.Context, msg *models.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	var content models.Payload = msg.Content
	if content == nil {
		content = models.Text("")
	}
	raw, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	query := `
        INSERT INTO messages (conversation_id, role, type, language, content, created_at)
        VALUES (?, ?, ?, ?, ?, ?)
        RETURNING id`

	return db.db.QueryRowContext(ctx, query,
		msg.ConvID, string(msg.Role), string(content.ContentType()), msg.Language, string(raw), msg.CreatedAt,
	).Scan(&msg.ID)
}

// GetMessages returns the messages of a conversation in the order they were
// added. limit <= 0 means all of them.
func (db *Database) GetMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `
        SELECT id, conversation_id, role, type, language, content, created_at
        FROM messages
        WHERE conversation_id = ?
        ORDER BY id DESC
        LIMIT ?`

	rows, err := db.db.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		return []models.Message{}, err
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var (
			msg     models.Message
			role    string
			typ     string
			content string
		)
		if err := rows.Scan(&msg.ID, &msg.ConvID, &role, &typ, &msg.Language, &content, &msg.CreatedAt); err != nil {
			return []models.Message{}, err
		}
		ct, err := models.ParseContentType(typ)
		if err != nil {
			return []models.Message{}, fmt.Errorf("message %d: %w", msg.ID, err)
		}
		payload, err := models.DecodePayload(ct, json.RawMessage(content))
		if err != nil {
			return []models.Message{}, fmt.Errorf("message %d: %w", msg.ID, err)
		}
		msg.Role = models.Role(role)
		msg.Content = payload
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return []models.Message{}, err
	}

	// Newest were read first so LIMIT keeps the tail of the conversation.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}
