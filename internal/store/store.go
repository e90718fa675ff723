package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Store is the SQLite-backed persistence layer for chats, messages, spending
// policies and the purchase audit trail.
//
// WAL is enabled to support concurrent reads while writing; writes are
// funneled through a single connection.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	p := filepath.Clean(strings.TrimSpace(path))
	if p == "" {
		return nil, errors.New("missing db path")
	}
	if dir := filepath.Dir(p); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Chat is one conversation row. Timestamps are RFC 3339 UTC strings; they
// are part of the REST contract.
type Chat struct {
	ID           string `json:"id"`
	UserID       string `json:"user_id"`
	Title        string `json:"title"`
	SystemPrompt string `json:"system_prompt"`
	Model        string `json:"model"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

// Message is one persisted turn. Metadata is the serialized assistant
// metadata envelope (executed tools, thoughts, sources) or nil.
type Message struct {
	ID        string          `json:"id"`
	ChatID    string          `json:"-"`
	UserID    string          `json:"-"`
	Role      string          `json:"role"`
	Content   string          `json:"content"`
	CreatedAt string          `json:"created_at"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// Transaction is one audit row for a treasury movement attempt, recorded
// whether or not the payment succeeded.
type Transaction struct {
	ID           int64          `json:"id"`
	UserID       string         `json:"user_id"`
	Amount       float64        `json:"amount"`
	ToAddress    string         `json:"to_address"`
	Currency     string         `json:"currency"`
	Status       string         `json:"status"`
	Category     string         `json:"category,omitempty"`
	Description  string         `json:"description,omitempty"`
	VendorName   string         `json:"vendor_name,omitempty"`
	ProductName  string         `json:"product_name,omitempty"`
	OrderID      string         `json:"order_id,omitempty"`
	TxHash       string         `json:"tx_hash,omitempty"`
	PolicyResult map[string]any `json:"policy_result,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	ConfirmedAt  *time.Time     `json:"confirmed_at,omitempty"`
}

func (s *Store) CreateChat(ctx context.Context, c Chat) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO chats (id, user_id, title, system_prompt, model, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?);`,
		c.ID, c.UserID, c.Title, c.SystemPrompt, c.Model, c.CreatedAt, c.UpdatedAt)
	return err
}

func (s *Store) GetChat(ctx context.Context, chatID string) (Chat, bool, error) {
	if s == nil || s.db == nil {
		return Chat{}, false, errors.New("store not initialized")
	}
	row := s.db.QueryRowContext(ctx, `
SELECT id, user_id, title, system_prompt, model, created_at, updated_at
FROM chats WHERE id = ?;`, strings.TrimSpace(chatID))
	var c Chat
	err := row.Scan(&c.ID, &c.UserID, &c.Title, &c.SystemPrompt, &c.Model, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Chat{}, false, nil
	}
	if err != nil {
		return Chat{}, false, err
	}
	return c, true, nil
}

func (s *Store) ListChats(ctx context.Context, userID string) ([]Chat, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, user_id, title, system_prompt, model, created_at, updated_at
FROM chats WHERE user_id = ? ORDER BY updated_at DESC;`, strings.TrimSpace(userID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Chat, 0)
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &c.SystemPrompt, &c.Model, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) SetChatTitle(ctx context.Context, chatID, title, updatedAt string) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	_, err := s.db.ExecContext(ctx, `UPDATE chats SET title = ?, updated_at = ? WHERE id = ?;`,
		title, updatedAt, strings.TrimSpace(chatID))
	return err
}

// TouchChat bumps updated_at, keeping the chat list ordered by activity.
func (s *Store) TouchChat(ctx context.Context, chatID, updatedAt string) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	_, err := s.db.ExecContext(ctx, `UPDATE chats SET updated_at = ? WHERE id = ?;`,
		updatedAt, strings.TrimSpace(chatID))
	return err
}

// DeleteChat removes a chat and its messages in one transaction.
func (s *Store) DeleteChat(ctx context.Context, chatID string) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	chatID = strings.TrimSpace(chatID)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_messages WHERE chat_id = ?;`, chatID); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE id = ?;`, chatID); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Store) InsertMessage(ctx context.Context, m Message) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	var metadata any
	if len(m.Metadata) > 0 {
		metadata = string(m.Metadata)
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO chat_messages (id, chat_id, user_id, role, content, metadata, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?);`,
		m.ID, m.ChatID, m.UserID, m.Role, m.Content, metadata, m.CreatedAt)
	return err
}

// ListMessages returns messages in chronological order. A positive limit
// returns only the newest N, still ascending.
func (s *Store) ListMessages(ctx context.Context, chatID string, limit int) ([]Message, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	chatID = strings.TrimSpace(chatID)

	query := `
SELECT id, chat_id, user_id, role, content, metadata, created_at
FROM chat_messages WHERE chat_id = ? ORDER BY created_at ASC;`
	args := []any{chatID}
	if limit > 0 {
		query = `
SELECT id, chat_id, user_id, role, content, metadata, created_at
FROM chat_messages WHERE chat_id = ? ORDER BY created_at DESC LIMIT ?;`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if limit > 0 {
		reverse(out)
	}
	return out, nil
}

// ListFirstMessages returns the oldest n messages of a chat (title context).
func (s *Store) ListFirstMessages(ctx context.Context, chatID string, n int) ([]Message, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if n <= 0 {
		n = 2
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, chat_id, user_id, role, content, metadata, created_at
FROM chat_messages WHERE chat_id = ? ORDER BY created_at ASC LIMIT ?;`,
		strings.TrimSpace(chatID), n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Message, 0, n)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) FirstUserMessage(ctx context.Context, chatID string) (string, error) {
	if s == nil || s.db == nil {
		return "", errors.New("store not initialized")
	}
	row := s.db.QueryRowContext(ctx, `
SELECT content FROM chat_messages
WHERE chat_id = ? AND role = 'user' ORDER BY created_at ASC LIMIT 1;`,
		strings.TrimSpace(chatID))
	var content string
	err := row.Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(content), nil
}

func scanMessage(rows *sql.Rows) (Message, error) {
	var (
		m        Message
		metadata sql.NullString
	)
	if err := rows.Scan(&m.ID, &m.ChatID, &m.UserID, &m.Role, &m.Content, &metadata, &m.CreatedAt); err != nil {
		return Message{}, err
	}
	if metadata.Valid && strings.TrimSpace(metadata.String) != "" {
		m.Metadata = json.RawMessage(metadata.String)
	}
	return m, nil
}

func reverse(msgs []Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}

func initSchema(db *sql.DB) error {
	if db == nil {
		return errors.New("nil db")
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return fmt.Errorf("pragma journal_mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=3000;`); err != nil {
		return fmt.Errorf("pragma busy_timeout: %w", err)
	}
	return migrateSchema(db)
}

func migrateSchema(db *sql.DB) error {
	const targetVersion = 1

	var v int
	if err := db.QueryRow(`PRAGMA user_version;`).Scan(&v); err != nil {
		return fmt.Errorf("pragma user_version: %w", err)
	}
	if v >= targetVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(schemaV1); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("apply schema: %w", err)
	}
	if _, err := tx.Exec(fmt.Sprintf(`PRAGMA user_version = %d;`, targetVersion)); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

const schemaV1 = `
CREATE TABLE IF NOT EXISTS chats (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  title TEXT NOT NULL DEFAULT '',
  system_prompt TEXT NOT NULL DEFAULT '',
  model TEXT NOT NULL DEFAULT '',
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chats_user ON chats(user_id, updated_at DESC);

CREATE TABLE IF NOT EXISTS chat_messages (
  id TEXT PRIMARY KEY,
  chat_id TEXT NOT NULL,
  user_id TEXT NOT NULL,
  role TEXT NOT NULL,
  content TEXT NOT NULL,
  metadata TEXT,
  created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_chat ON chat_messages(chat_id, created_at);

CREATE TABLE IF NOT EXISTS policies (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  name TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  rules TEXT NOT NULL DEFAULT '[]',
  enabled INTEGER NOT NULL DEFAULT 1,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_policies_user ON policies(user_id, enabled);

CREATE TABLE IF NOT EXISTS transactions (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  user_id TEXT NOT NULL,
  amount REAL NOT NULL,
  to_address TEXT NOT NULL DEFAULT '',
  currency TEXT NOT NULL DEFAULT 'USDC',
  status TEXT NOT NULL,
  category TEXT,
  description TEXT,
  vendor_name TEXT,
  product_name TEXT,
  order_id TEXT,
  tx_hash TEXT,
  policy_result TEXT,
  created_at_unix_ms INTEGER NOT NULL,
  confirmed_at_unix_ms INTEGER
);
CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions(user_id, created_at_unix_ms DESC);
`
