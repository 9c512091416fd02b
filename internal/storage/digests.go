package storage

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// SaveDigest writes the digest and its notification in one transaction and
// pins last_sent_date to the digest date. A second digest for the same user
// and date returns ErrConflict.
func (s *Store) SaveDigest(ctx context.Context, d DigestRecord, n Notification) (DigestRecord, Notification, error) {
	if len(d.PayloadJSON) == 0 {
		d.PayloadJSON = []byte("{}")
	}
	now := time.Now().UTC()
	d.CreatedAt = now
	n.CreatedAt = now
	n.UserID = d.UserID
	n.Read = false

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return DigestRecord{}, Notification{}, fmt.Errorf("begin save digest: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	insertDigest, args, err := s.sql.Insert("digests").
		Columns("user_id", "digest_date", "payload_json", "created_at").
		Values(d.UserID, d.DigestDate, string(d.PayloadJSON), d.CreatedAt).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return DigestRecord{}, Notification{}, fmt.Errorf("build insert digest query: %w", err)
	}
	if err := tx.QueryRowContext(ctx, insertDigest, args...).Scan(&d.ID); err != nil {
		if isUniqueViolation(err) {
			return DigestRecord{}, Notification{}, ErrConflict
		}
		return DigestRecord{}, Notification{}, fmt.Errorf("insert digest: %w", err)
	}

	n.DigestID = d.ID
	insertNote, args, err := s.sql.Insert("notifications").
		Columns("user_id", "digest_id", "title", "body", "read", "created_at").
		Values(n.UserID, n.DigestID, n.Title, n.Body, false, n.CreatedAt).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return DigestRecord{}, Notification{}, fmt.Errorf("build insert notification query: %w", err)
	}
	if err := tx.QueryRowContext(ctx, insertNote, args...).Scan(&n.ID); err != nil {
		return DigestRecord{}, Notification{}, fmt.Errorf("insert notification: %w", err)
	}

	pin, args, err := s.sql.Update("notification_settings").
		Set("last_sent_date", d.DigestDate).
		Where(sq.Eq{"user_id": d.UserID}).
		ToSql()
	if err != nil {
		return DigestRecord{}, Notification{}, fmt.Errorf("build pin digest date query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, pin, args...); err != nil {
		return DigestRecord{}, Notification{}, fmt.Errorf("pin digest date: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return DigestRecord{}, Notification{}, fmt.Errorf("commit save digest: %w", err)
	}
	return d, n, nil
}

func (s *Store) HasDigest(ctx context.Context, userID int64, date string) (bool, error) {
	sqlStr, args, err := s.sql.Select("COUNT(*)").
		From("digests").
		Where(sq.Eq{"user_id": userID, "digest_date": date}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build has digest query: %w", err)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&n); err != nil {
		return false, fmt.Errorf("has digest: %w", err)
	}
	return n > 0, nil
}

func (s *Store) ListDigests(ctx context.Context, userID int64, limit uint64) ([]DigestRecord, error) {
	q := s.sql.Select("id", "user_id", "digest_date", "payload_json", "created_at").
		From("digests").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("created_at DESC", "id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list digests query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list digests: %w", err)
	}
	defer rows.Close()

	out := make([]DigestRecord, 0)
	for rows.Next() {
		var d DigestRecord
		var payload string
		if err := rows.Scan(&d.ID, &d.UserID, &d.DigestDate, &payload, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan digest row: %w", err)
		}
		d.PayloadJSON = []byte(payload)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate digest rows: %w", err)
	}
	return out, nil
}

func (s *Store) ListNotifications(ctx context.Context, userID int64, unreadOnly bool, limit uint64) ([]Notification, error) {
	where := sq.Eq{"user_id": userID}
	if unreadOnly {
		where["read"] = false
	}
	q := s.sql.Select("id", "user_id", "digest_id", "title", "body", "read", "created_at").
		From("notifications").
		Where(where).
		OrderBy("created_at DESC", "id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list notifications query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	out := make([]Notification, 0)
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.DigestID, &n.Title, &n.Body, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification row: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notification rows: %w", err)
	}
	return out, nil
}

func (s *Store) MarkNotificationRead(ctx context.Context, userID, notificationID int64) error {
	sqlStr, args, err := s.sql.Update("notifications").
		Set("read", true).
		Where(sq.Eq{"id": notificationID, "user_id": userID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build mark notification read query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
