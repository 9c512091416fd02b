package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"dailydigest/internal/queue"
	"dailydigest/internal/scheduler"
	"dailydigest/internal/storage"
)

type createUserRequest struct {
	Email       string `json:"email" binding:"required,email"`
	DisplayName string `json:"display_name"`
}

type preferencesRequest struct {
	Topic   string   `json:"topic"`
	Region  string   `json:"region"`
	Locale  string   `json:"locale"`
	Sources []string `json:"sources"`
}

type notificationSettingsRequest struct {
	DigestTime     string `json:"digest_time"`
	Enabled        *bool  `json:"enabled"`
	TelegramChatID *int64 `json:"telegram_chat_id"`
}

func (s *Server) createUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, codeBadRequest, "invalid request body: "+err.Error())
		return
	}
	u, err := s.store.CreateUser(c.Request.Context(), req.Email, strings.TrimSpace(req.DisplayName))
	if err != nil {
		s.fail(c, err, "create user")
		return
	}
	c.JSON(http.StatusCreated, u)
}

// user resolves the :id path parameter to an existing user.
func (s *Server) user(c *gin.Context) (storage.User, bool) {
	id, ok := pathID(c, "id")
	if !ok {
		return storage.User{}, false
	}
	u, err := s.store.GetUser(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err, "load user")
		return storage.User{}, false
	}
	return u, true
}

func (s *Server) getUser(c *gin.Context) {
	u, ok := s.user(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, u)
}

func (s *Server) getPreferences(c *gin.Context) {
	u, ok := s.user(c)
	if !ok {
		return
	}
	p, err := s.store.GetPreferences(c.Request.Context(), u.ID)
	if errors.Is(err, storage.ErrNotFound) {
		p = storage.Preferences{
			UserID:  u.ID,
			Topic:   s.defaults.Topic,
			Region:  s.defaults.Region,
			Locale:  s.defaults.Locale,
			Sources: []string{},
		}
		err = nil
	}
	if err != nil {
		s.fail(c, err, "load preferences")
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) putPreferences(c *gin.Context) {
	u, ok := s.user(c)
	if !ok {
		return
	}
	var req preferencesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, codeBadRequest, "invalid request body: "+err.Error())
		return
	}

	sources := make([]string, 0, len(req.Sources))
	for _, src := range req.Sources {
		src = strings.TrimSpace(src)
		if src == "" {
			continue
		}
		if !strings.HasPrefix(src, "http://") && !strings.HasPrefix(src, "https://") {
			abort(c, http.StatusBadRequest, codeBadRequest, "sources must be http(s) feed URLs")
			return
		}
		sources = append(sources, src)
	}

	p, err := s.store.PutPreferences(c.Request.Context(), storage.Preferences{
		UserID:  u.ID,
		Topic:   strings.TrimSpace(req.Topic),
		Region:  strings.ToLower(strings.TrimSpace(req.Region)),
		Locale:  strings.TrimSpace(req.Locale),
		Sources: sources,
	})
	if err != nil {
		s.fail(c, err, "save preferences")
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) getNotificationSettings(c *gin.Context) {
	u, ok := s.user(c)
	if !ok {
		return
	}
	n, err := s.store.GetNotificationSetting(c.Request.Context(), u.ID)
	if errors.Is(err, storage.ErrNotFound) {
		n = storage.NotificationSetting{UserID: u.ID, DigestTime: scheduler.DefaultDigestTime}
		err = nil
	}
	if err != nil {
		s.fail(c, err, "load notification settings")
		return
	}
	c.JSON(http.StatusOK, n)
}

func (s *Server) putNotificationSettings(c *gin.Context) {
	u, ok := s.user(c)
	if !ok {
		return
	}
	var req notificationSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, codeBadRequest, "invalid request body: "+err.Error())
		return
	}

	ctx := c.Request.Context()
	current, err := s.store.GetNotificationSetting(ctx, u.ID)
	if errors.Is(err, storage.ErrNotFound) {
		current = storage.NotificationSetting{UserID: u.ID, DigestTime: scheduler.DefaultDigestTime}
		err = nil
	}
	if err != nil {
		s.fail(c, err, "load notification settings")
		return
	}

	if strings.TrimSpace(req.DigestTime) != "" {
		clock, err := scheduler.ParseClock(req.DigestTime)
		if err != nil {
			abort(c, http.StatusBadRequest, codeBadRequest, err.Error())
			return
		}
		current.DigestTime = clock
	}
	if req.Enabled != nil {
		current.Enabled = *req.Enabled
	}
	if req.TelegramChatID != nil {
		if *req.TelegramChatID == 0 {
			current.TelegramChatID = nil
		} else {
			current.TelegramChatID = req.TelegramChatID
		}
	}

	n, err := s.store.PutNotificationSetting(ctx, current)
	if err != nil {
		s.fail(c, err, "save notification settings")
		return
	}
	c.JSON(http.StatusOK, n)
}

// sendNow queues a manual digest when a queue is configured and otherwise
// generates it inside the request.
func (s *Server) sendNow(c *gin.Context) {
	u, ok := s.user(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	now := s.now()

	if s.queue == nil {
		d, err := s.digest.SendNow(ctx, u.ID, now)
		if err != nil {
			s.fail(c, err, "generate digest")
			return
		}
		c.JSON(http.StatusCreated, d)
		return
	}

	sent, err := s.store.HasDigest(ctx, u.ID, now.In(s.loc).Format("2006-01-02"))
	if err != nil {
		s.fail(c, err, "check digest")
		return
	}
	if sent {
		s.fail(c, scheduler.ErrAlreadySent, "send now")
		return
	}

	jobID, err := s.queue.Enqueue(ctx, queue.DigestJob{UserID: u.ID, RequestedAt: now})
	if err != nil {
		s.fail(c, err, "enqueue digest")
		return
	}
	s.metrics.SendNowEnqueued.Inc()
	s.logger.Info().Int64("user_id", u.ID).Str("job_id", jobID).Msg("send-now queued")
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "job_id": jobID})
}

func (s *Server) listDigests(c *gin.Context) {
	u, ok := s.user(c)
	if !ok {
		return
	}
	out, err := s.store.ListDigests(c.Request.Context(), u.ID, queryLimit(c, 30, 100))
	if err != nil {
		s.fail(c, err, "list digests")
		return
	}
	if out == nil {
		out = []storage.DigestRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"digests": out})
}

func (s *Server) listNotifications(c *gin.Context) {
	u, ok := s.user(c)
	if !ok {
		return
	}
	unread := c.Query("unread") == "true" || c.Query("unread") == "1"
	out, err := s.store.ListNotifications(c.Request.Context(), u.ID, unread, queryLimit(c, 50, 200))
	if err != nil {
		s.fail(c, err, "list notifications")
		return
	}
	if out == nil {
		out = []storage.Notification{}
	}
	c.JSON(http.StatusOK, gin.H{"notifications": out})
}

func (s *Server) markNotificationRead(c *gin.Context) {
	u, ok := s.user(c)
	if !ok {
		return
	}
	nid, ok := pathID(c, "nid")
	if !ok {
		return
	}
	if err := s.store.MarkNotificationRead(c.Request.Context(), u.ID, nid); err != nil {
		s.fail(c, err, "mark notification read")
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": nid, "read": true})
}
