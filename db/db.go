package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"messenger/models"
)

var (
	ErrNoRows     = errors.New("no rows found")
	ErrChatExists = errors.New("chat between users already exists")
)

type DB struct {
	conn *sqlx.DB
}

func New(path string) (*DB, error) {
	// case_sensitive_like: login search is a case-sensitive substring match.
	conn, err := sqlx.Connect("sqlite3", path+"?_foreign_keys=1&_journal_mode=WAL&_case_sensitive_like=1")
	if err != nil {
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		conn.Close()
		return nil, err
	}

	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			login TEXT UNIQUE NOT NULL,
			credential TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chats (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			type TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS memberships (
			chat_id INTEGER NOT NULL REFERENCES chats(id),
			user_id INTEGER NOT NULL REFERENCES users(id),
			UNIQUE(chat_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id INTEGER NOT NULL REFERENCES chats(id),
			sender_id INTEGER NOT NULL REFERENCES users(id),
			text TEXT NOT NULL,
			sent_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
			read_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memberships_user ON memberships(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, id)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return err
		}
	}

	return nil
}

// IsUniqueViolation reports whether err is a sqlite unique-constraint failure.
// The dispatcher uses it to tell a login race from a genuine store error.
func IsUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// User methods

// CreateUser inserts a new user row. The credential is stored exactly as
// submitted: the protocol contract is plaintext equality, kept for
// compatibility with existing clients. Unsuitable for any real deployment.
func (db *DB) CreateUser(ctx context.Context, login, credential string) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		"INSERT INTO users (login, credential) VALUES (?, ?)", login, credential)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (db *DB) FindUserIDByLogin(ctx context.Context, login string) (int64, error) {
	var id int64
	err := db.conn.GetContext(ctx, &id, "SELECT id FROM users WHERE login = ?", login)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNoRows
	}
	return id, err
}

// CredentialMatches compares the submitted credential against the stored one.
// Unknown logins report false without an error.
func (db *DB) CredentialMatches(ctx context.Context, login, credential string) (bool, error) {
	var stored string
	err := db.conn.GetContext(ctx, &stored, "SELECT credential FROM users WHERE login = ?", login)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return stored == credential, nil
}

// SearchLogins returns logins containing text anywhere, case-sensitive, in
// natural row order. A nil exclude keeps every match; a non-nil one drops
// that login even when it is the empty string, which is itself a valid login.
func (db *DB) SearchLogins(ctx context.Context, text string, exclude *string) ([]string, error) {
	query := "SELECT login FROM users WHERE login LIKE '%' || ? || '%'"
	args := []any{text}
	if exclude != nil {
		query += " AND login <> ?"
		args = append(args, *exclude)
	}

	var logins []string
	err := db.conn.SelectContext(ctx, &logins, query, args...)
	return logins, err
}

// Chat methods

func (db *DB) CreateChat(ctx context.Context, name, chatType string) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		"INSERT INTO chats (name, type) VALUES (?, ?)", name, chatType)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (db *DB) AddMember(ctx context.Context, chatID, userID int64) error {
	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO memberships (chat_id, user_id) VALUES (?, ?)", chatID, userID)
	return err
}

// ChatExistsBetweenUsers reports whether any chat already has both users as
// members. Symmetric in the two ids and ignores chat type.
func (db *DB) ChatExistsBetweenUsers(ctx context.Context, userA, userB int64) (bool, error) {
	return chatExistsBetween(ctx, db.conn, userA, userB)
}

func chatExistsBetween(ctx context.Context, q sqlx.QueryerContext, userA, userB int64) (bool, error) {
	var exists bool
	err := sqlx.GetContext(ctx, q, &exists,
		`SELECT EXISTS(
			SELECT 1 FROM memberships a
			JOIN memberships b ON b.chat_id = a.chat_id
			WHERE a.user_id = ? AND b.user_id = ?
		)`, userA, userB)
	return exists, err
}

// CreateChatBetween creates a chat and its two membership rows in one
// transaction, with the dedup check inside it so a concurrent create of the
// same pair cannot slip between check and insert. Returns ErrChatExists when
// a chat already links the two users, regardless of name or type.
func (db *DB) CreateChatBetween(ctx context.Context, name, chatType string, userA, userB int64) (int64, error) {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	exists, err := chatExistsBetween(ctx, tx, userA, userB)
	if err != nil {
		return 0, err
	}
	if exists {
		return 0, ErrChatExists
	}

	res, err := tx.ExecContext(ctx, "INSERT INTO chats (name, type) VALUES (?, ?)", name, chatType)
	if err != nil {
		return 0, err
	}
	chatID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for _, userID := range []int64{userA, userB} {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO memberships (chat_id, user_id) VALUES (?, ?)", chatID, userID); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return chatID, nil
}

// ListChatsForUser returns, for each chat the user belongs to, the chat id,
// the other member's login, and whether any message from another member is
// still unread.
func (db *DB) ListChatsForUser(ctx context.Context, userID int64) ([]models.ChatSummary, error) {
	query := `
		SELECT c.id AS chat_id, u.login AS other_login,
			EXISTS(
				SELECT 1 FROM messages msg
				WHERE msg.chat_id = c.id AND msg.sender_id <> ? AND msg.read_at IS NULL
			) AS unread
		FROM chats c
		JOIN memberships own ON own.chat_id = c.id AND own.user_id = ?
		JOIN memberships other ON other.chat_id = c.id AND other.user_id <> ?
		JOIN users u ON u.id = other.user_id
		ORDER BY c.id ASC
	`

	var chats []models.ChatSummary
	err := db.conn.SelectContext(ctx, &chats, query, userID, userID, userID)
	return chats, err
}

func (db *DB) ListChatMembers(ctx context.Context, chatID int64) ([]int64, error) {
	var members []int64
	err := db.conn.SelectContext(ctx, &members,
		"SELECT user_id FROM memberships WHERE chat_id = ? ORDER BY user_id", chatID)
	return members, err
}

// Message methods

// InsertMessage stores a message with a store-assigned sent_at and null
// read_at.
func (db *DB) InsertMessage(ctx context.Context, chatID, senderID int64, text string) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		"INSERT INTO messages (chat_id, sender_id, text) VALUES (?, ?, ?)", chatID, senderID, text)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (db *DB) ListMessagesForChat(ctx context.Context, chatID int64) ([]models.Message, error) {
	var messages []models.Message
	err := db.conn.SelectContext(ctx, &messages,
		`SELECT id, chat_id, sender_id, text, sent_at, read_at
		FROM messages WHERE chat_id = ? ORDER BY id ASC`, chatID)
	return messages, err
}

// MarkMessageRead sets read_at once: a message already read keeps its
// original timestamp no matter how often the chat is fetched.
func (db *DB) MarkMessageRead(ctx context.Context, messageID int64, at time.Time) error {
	_, err := db.conn.ExecContext(ctx,
		"UPDATE messages SET read_at = ? WHERE id = ? AND read_at IS NULL",
		at.UTC().Format(time.RFC3339), messageID)
	return err
}
