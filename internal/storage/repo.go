package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

func (s *Store) CreateUser(ctx context.Context, email, displayName string) (User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return User{}, fmt.Errorf("create user: email is empty")
	}
	now := time.Now().UTC()
	q := s.sql.Insert("users").
		Columns("email", "display_name", "created_at").
		Values(email, strings.TrimSpace(displayName), now).
		Suffix("RETURNING id")

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return User{}, fmt.Errorf("build create user query: %w", err)
	}
	u := User{Email: email, DisplayName: strings.TrimSpace(displayName), CreatedAt: now}
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&u.ID); err != nil {
		if isUniqueViolation(err) {
			return User{}, ErrConflict
		}
		return User{}, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, userID int64) (User, error) {
	q := s.sql.Select("id", "email", "display_name", "created_at").
		From("users").
		Where(sq.Eq{"id": userID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return User{}, fmt.Errorf("build get user query: %w", err)
	}
	var u User
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&u.ID, &u.Email, &u.DisplayName, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// GetPreferences returns ErrNotFound when the user never saved any.
func (s *Store) GetPreferences(ctx context.Context, userID int64) (Preferences, error) {
	q := s.sql.Select("user_id", "topic", "region", "locale", "sources_json", "updated_at").
		From("preferences").
		Where(sq.Eq{"user_id": userID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return Preferences{}, fmt.Errorf("build get preferences query: %w", err)
	}

	var p Preferences
	var sources string
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&p.UserID, &p.Topic, &p.Region, &p.Locale, &sources, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Preferences{}, ErrNotFound
		}
		return Preferences{}, fmt.Errorf("get preferences: %w", err)
	}
	if err := json.Unmarshal([]byte(sources), &p.Sources); err != nil {
		p.Sources = nil
	}
	if p.Sources == nil {
		p.Sources = []string{}
	}
	return p, nil
}

func (s *Store) PutPreferences(ctx context.Context, p Preferences) (Preferences, error) {
	if p.Sources == nil {
		p.Sources = []string{}
	}
	sources, err := json.Marshal(p.Sources)
	if err != nil {
		return Preferences{}, fmt.Errorf("marshal sources: %w", err)
	}
	p.UpdatedAt = time.Now().UTC()

	q := s.sql.Insert("preferences").
		Columns("user_id", "topic", "region", "locale", "sources_json", "updated_at").
		Values(p.UserID, p.Topic, p.Region, p.Locale, string(sources), p.UpdatedAt).
		Suffix("ON CONFLICT(user_id) DO UPDATE SET topic=excluded.topic, region=excluded.region, locale=excluded.locale, sources_json=excluded.sources_json, updated_at=excluded.updated_at")

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return Preferences{}, fmt.Errorf("build put preferences query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		if isForeignKeyViolation(err) {
			return Preferences{}, ErrNotFound
		}
		return Preferences{}, fmt.Errorf("put preferences: %w", err)
	}
	return p, nil
}

var settingColumns = []string{"user_id", "digest_time", "enabled", "last_sent_date", "telegram_chat_id", "updated_at"}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSetting(row rowScanner) (NotificationSetting, error) {
	var n NotificationSetting
	var lastSent sql.NullString
	var chatID sql.NullInt64
	if err := row.Scan(&n.UserID, &n.DigestTime, &n.Enabled, &lastSent, &chatID, &n.UpdatedAt); err != nil {
		return NotificationSetting{}, err
	}
	if lastSent.Valid {
		n.LastSentDate = &lastSent.String
	}
	if chatID.Valid {
		n.TelegramChatID = &chatID.Int64
	}
	return n, nil
}

func (s *Store) GetNotificationSetting(ctx context.Context, userID int64) (NotificationSetting, error) {
	q := s.sql.Select(settingColumns...).
		From("notification_settings").
		Where(sq.Eq{"user_id": userID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return NotificationSetting{}, fmt.Errorf("build get notification setting query: %w", err)
	}
	n, err := scanSetting(s.db.QueryRowContext(ctx, sqlStr, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return NotificationSetting{}, ErrNotFound
		}
		return NotificationSetting{}, fmt.Errorf("get notification setting: %w", err)
	}
	return n, nil
}

// PutNotificationSetting upserts the user-editable fields. last_sent_date is
// owned by the claim operations and is never overwritten here.
func (s *Store) PutNotificationSetting(ctx context.Context, n NotificationSetting) (NotificationSetting, error) {
	n.UpdatedAt = time.Now().UTC()
	q := s.sql.Insert("notification_settings").
		Columns("user_id", "digest_time", "enabled", "telegram_chat_id", "updated_at").
		Values(n.UserID, n.DigestTime, n.Enabled, n.TelegramChatID, n.UpdatedAt).
		Suffix("ON CONFLICT(user_id) DO UPDATE SET digest_time=excluded.digest_time, enabled=excluded.enabled, telegram_chat_id=excluded.telegram_chat_id, updated_at=excluded.updated_at")

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return NotificationSetting{}, fmt.Errorf("build put notification setting query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		if isForeignKeyViolation(err) {
			return NotificationSetting{}, ErrNotFound
		}
		return NotificationSetting{}, fmt.Errorf("put notification setting: %w", err)
	}
	return s.GetNotificationSetting(ctx, n.UserID)
}

// EnsureNotificationSetting creates a disabled row with the given digest
// time when the user has none, so manual digests can be claimed.
func (s *Store) EnsureNotificationSetting(ctx context.Context, userID int64, digestTime string) (NotificationSetting, error) {
	q := s.sql.Insert("notification_settings").
		Columns("user_id", "digest_time", "enabled", "updated_at").
		Values(userID, digestTime, false, time.Now().UTC()).
		Suffix("ON CONFLICT(user_id) DO NOTHING")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return NotificationSetting{}, fmt.Errorf("build ensure notification setting query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		if isForeignKeyViolation(err) {
			return NotificationSetting{}, ErrNotFound
		}
		return NotificationSetting{}, fmt.Errorf("ensure notification setting: %w", err)
	}
	return s.GetNotificationSetting(ctx, userID)
}

func (s *Store) ListEnabledNotificationSettings(ctx context.Context) ([]NotificationSetting, error) {
	q := s.sql.Select(settingColumns...).
		From("notification_settings").
		Where(sq.Eq{"enabled": true}).
		OrderBy("user_id ASC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list notification settings query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list notification settings: %w", err)
	}
	defer rows.Close()

	out := make([]NotificationSetting, 0)
	for rows.Next() {
		n, err := scanSetting(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification setting row: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notification setting rows: %w", err)
	}
	return out, nil
}

// ClaimDigestDate moves last_sent_date forward to date. It reports false when
// the stored date is already date or later, or the user has no settings row.
// Dates are YYYY-MM-DD text, so string order is date order.
func (s *Store) ClaimDigestDate(ctx context.Context, userID int64, date string) (bool, error) {
	q := s.sql.Update("notification_settings").
		Set("last_sent_date", date).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"user_id": userID}).
		Where(sq.Or{sq.Eq{"last_sent_date": nil}, sq.Lt{"last_sent_date": date}})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return false, fmt.Errorf("build claim digest query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return false, fmt.Errorf("claim digest date: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim digest rows affected: %w", err)
	}
	return n == 1, nil
}

// ReleaseDigestDate undoes a claim of date, restoring the previous value. A
// claim that has since moved on is left alone.
func (s *Store) ReleaseDigestDate(ctx context.Context, userID int64, date string, previous *string) error {
	q := s.sql.Update("notification_settings").
		Set("last_sent_date", previous).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"user_id": userID, "last_sent_date": date})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build release digest query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("release digest date: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
