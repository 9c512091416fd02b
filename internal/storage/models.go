package storage

import (
	"encoding/json"
	"time"
)

type User struct {
	ID          int64     `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

type Preferences struct {
	UserID    int64     `json:"user_id"`
	Topic     string    `json:"topic"`
	Region    string    `json:"region"`
	Locale    string    `json:"locale"`
	Sources   []string  `json:"sources"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NotificationSetting controls when a user's daily digest is generated.
// LastSentDate is the local calendar date (YYYY-MM-DD) of the last claimed
// digest.
type NotificationSetting struct {
	UserID         int64     `json:"user_id"`
	DigestTime     string    `json:"digest_time"`
	Enabled        bool      `json:"enabled"`
	LastSentDate   *string   `json:"last_sent_date"`
	TelegramChatID *int64    `json:"telegram_chat_id,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type DigestRecord struct {
	ID          int64           `json:"id"`
	UserID      int64           `json:"user_id"`
	DigestDate  string          `json:"digest_date"`
	PayloadJSON json.RawMessage `json:"payload"`
	CreatedAt   time.Time       `json:"created_at"`
}

type Notification struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	DigestID  int64     `json:"digest_id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}
