package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "nested", "test.db"), true)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func createUser(t *testing.T, st *Store, email string) User {
	t.Helper()
	u, err := st.CreateUser(context.Background(), email, "Tester")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func TestUsers(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	u := createUser(t, st, " Alice@Example.com ")
	if u.ID == 0 || u.Email != "alice@example.com" {
		t.Fatalf("unexpected user %+v", u)
	}
	if _, err := st.CreateUser(ctx, "alice@example.com", ""); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict on duplicate email, got %v", err)
	}
	got, err := st.GetUser(ctx, u.ID)
	if err != nil || got.Email != u.Email {
		t.Fatalf("get user: %+v %v", got, err)
	}
	if _, err := st.GetUser(ctx, 999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPreferencesUpsert(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	u := createUser(t, st, "p@example.com")

	if _, err := st.GetPreferences(ctx, u.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound before save, got %v", err)
	}
	if _, err := st.PutPreferences(ctx, Preferences{UserID: u.ID, Topic: "ai", Region: "tw", Locale: "zh", Sources: []string{"https://a"}}); err != nil {
		t.Fatalf("put preferences: %v", err)
	}
	if _, err := st.PutPreferences(ctx, Preferences{UserID: u.ID, Topic: "markets", Region: "us", Locale: "en"}); err != nil {
		t.Fatalf("update preferences: %v", err)
	}
	p, err := st.GetPreferences(ctx, u.ID)
	if err != nil {
		t.Fatalf("get preferences: %v", err)
	}
	if p.Topic != "markets" || p.Region != "us" || len(p.Sources) != 0 || p.Sources == nil {
		t.Fatalf("unexpected preferences %+v", p)
	}
	if _, err := st.PutPreferences(ctx, Preferences{UserID: 404, Topic: "x"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown user, got %v", err)
	}
}

func TestNotificationSettingsAndClaim(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	a := createUser(t, st, "a@example.com")
	b := createUser(t, st, "b@example.com")

	chatID := int64(42)
	if _, err := st.PutNotificationSetting(ctx, NotificationSetting{UserID: a.ID, DigestTime: "09:00", Enabled: true, TelegramChatID: &chatID}); err != nil {
		t.Fatalf("put setting a: %v", err)
	}
	if _, err := st.PutNotificationSetting(ctx, NotificationSetting{UserID: b.ID, DigestTime: "10:00", Enabled: false}); err != nil {
		t.Fatalf("put setting b: %v", err)
	}

	enabled, err := st.ListEnabledNotificationSettings(ctx)
	if err != nil {
		t.Fatalf("list enabled: %v", err)
	}
	if len(enabled) != 1 || enabled[0].UserID != a.ID || enabled[0].TelegramChatID == nil || *enabled[0].TelegramChatID != 42 {
		t.Fatalf("unexpected enabled settings %+v", enabled)
	}

	ok, err := st.ClaimDigestDate(ctx, a.ID, "2026-10-14")
	if err != nil || !ok {
		t.Fatalf("first claim should win: ok=%v err=%v", ok, err)
	}
	ok, err = st.ClaimDigestDate(ctx, a.ID, "2026-10-14")
	if err != nil || ok {
		t.Fatalf("second claim should lose: ok=%v err=%v", ok, err)
	}

	if err := st.ReleaseDigestDate(ctx, a.ID, "2026-10-14", nil); err != nil {
		t.Fatalf("release: %v", err)
	}
	s, err := st.GetNotificationSetting(ctx, a.ID)
	if err != nil || s.LastSentDate != nil {
		t.Fatalf("release should restore null date: %+v %v", s, err)
	}

	prev := "2026-10-13"
	if ok, _ := st.ClaimDigestDate(ctx, a.ID, prev); !ok {
		t.Fatalf("claim of previous day failed")
	}
	if ok, _ := st.ClaimDigestDate(ctx, a.ID, "2026-10-14"); !ok {
		t.Fatalf("claim of next day failed")
	}
	if ok, err := st.ClaimDigestDate(ctx, a.ID, prev); err != nil || ok {
		t.Fatalf("claim must not move the date backwards: ok=%v err=%v", ok, err)
	}
	s, _ = st.GetNotificationSetting(ctx, a.ID)
	if s.LastSentDate == nil || *s.LastSentDate != "2026-10-14" {
		t.Fatalf("stale claim changed last sent date to %v", s.LastSentDate)
	}
	if err := st.ReleaseDigestDate(ctx, a.ID, "2026-10-14", &prev); err != nil {
		t.Fatalf("release: %v", err)
	}
	s, _ = st.GetNotificationSetting(ctx, a.ID)
	if s.LastSentDate == nil || *s.LastSentDate != prev {
		t.Fatalf("release should restore previous date, got %v", s.LastSentDate)
	}

	// editing settings keeps the claim state
	if _, err := st.PutNotificationSetting(ctx, NotificationSetting{UserID: a.ID, DigestTime: "07:30", Enabled: true}); err != nil {
		t.Fatalf("update setting: %v", err)
	}
	s, _ = st.GetNotificationSetting(ctx, a.ID)
	if s.DigestTime != "07:30" || s.LastSentDate == nil || *s.LastSentDate != prev {
		t.Fatalf("unexpected setting after edit %+v", s)
	}

	if ok, err := st.ClaimDigestDate(ctx, 999, "2026-10-14"); err != nil || ok {
		t.Fatalf("claim without settings row should not win: ok=%v err=%v", ok, err)
	}
}

func TestEnsureNotificationSetting(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	u := createUser(t, st, "e@example.com")

	s, err := st.EnsureNotificationSetting(ctx, u.ID, "08:00")
	if err != nil || s.Enabled || s.DigestTime != "08:00" {
		t.Fatalf("unexpected ensured setting %+v %v", s, err)
	}
	if _, err := st.PutNotificationSetting(ctx, NotificationSetting{UserID: u.ID, DigestTime: "06:00", Enabled: true}); err != nil {
		t.Fatalf("put: %v", err)
	}
	s, err = st.EnsureNotificationSetting(ctx, u.ID, "08:00")
	if err != nil || !s.Enabled || s.DigestTime != "06:00" {
		t.Fatalf("ensure must not overwrite existing row: %+v %v", s, err)
	}
}

func TestSaveDigestAndNotifications(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	u := createUser(t, st, "d@example.com")
	if _, err := st.EnsureNotificationSetting(ctx, u.ID, "09:00"); err != nil {
		t.Fatalf("ensure setting: %v", err)
	}

	d, n, err := st.SaveDigest(ctx,
		DigestRecord{UserID: u.ID, DigestDate: "2026-10-14", PayloadJSON: []byte(`{"items":[]}`)},
		Notification{Title: "Your digest", Body: "Markets stay cautious."},
	)
	if err != nil {
		t.Fatalf("save digest: %v", err)
	}
	if d.ID == 0 || n.ID == 0 || n.DigestID != d.ID || n.UserID != u.ID {
		t.Fatalf("unexpected saved records %+v %+v", d, n)
	}

	if _, _, err := st.SaveDigest(ctx, DigestRecord{UserID: u.ID, DigestDate: "2026-10-14"}, Notification{Title: "dup", Body: "dup"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate date, got %v", err)
	}

	has, err := st.HasDigest(ctx, u.ID, "2026-10-14")
	if err != nil || !has {
		t.Fatalf("has digest: %v %v", has, err)
	}
	s, _ := st.GetNotificationSetting(ctx, u.ID)
	if s.LastSentDate == nil || *s.LastSentDate != "2026-10-14" {
		t.Fatalf("save should pin last_sent_date, got %v", s.LastSentDate)
	}

	digests, err := st.ListDigests(ctx, u.ID, 10)
	if err != nil || len(digests) != 1 || string(digests[0].PayloadJSON) != `{"items":[]}` {
		t.Fatalf("list digests: %+v %v", digests, err)
	}

	unread, err := st.ListNotifications(ctx, u.ID, true, 0)
	if err != nil || len(unread) != 1 || unread[0].Read {
		t.Fatalf("list unread: %+v %v", unread, err)
	}
	if err := st.MarkNotificationRead(ctx, u.ID, n.ID); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	unread, _ = st.ListNotifications(ctx, u.ID, true, 0)
	if len(unread) != 0 {
		t.Fatalf("expected no unread notifications, got %d", len(unread))
	}
	all, _ := st.ListNotifications(ctx, u.ID, false, 0)
	if len(all) != 1 || !all[0].Read {
		t.Fatalf("expected one read notification, got %+v", all)
	}
	if err := st.MarkNotificationRead(ctx, u.ID+1, n.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("marking another user's notification should be ErrNotFound, got %v", err)
	}
}
