package models

import "database/sql"

type User struct {
	ID         int64  `db:"id"`
	Login      string `db:"login"`
	Credential string `db:"credential"` // stored and compared as plaintext, see db.CredentialMatches
}

type Chat struct {
	ID   int64  `db:"id"`
	Name string `db:"name"`
	Type string `db:"type"` // "direct" or "group"; stored but not interpreted
}

type Membership struct {
	ChatID int64 `db:"chat_id"`
	UserID int64 `db:"user_id"`
}

type Message struct {
	ID       int64          `db:"id"`
	ChatID   int64          `db:"chat_id"`
	SenderID int64          `db:"sender_id"`
	Text     string         `db:"text"`
	SentAt   string         `db:"sent_at"`
	ReadAt   sql.NullString `db:"read_at"` // null until first fetched by a non-sender
}

// ChatSummary is the get_chats projection: one row per chat the user belongs
// to, carrying the counterpart's login and whether unread messages wait.
type ChatSummary struct {
	ChatID     int64  `db:"chat_id"`
	OtherLogin string `db:"other_login"`
	Unread     bool   `db:"unread"`
}
