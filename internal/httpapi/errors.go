package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"dailydigest/internal/news"
	"dailydigest/internal/scheduler"
	"dailydigest/internal/storage"
)

const (
	codeBadRequest  = "BAD_REQUEST"
	codeNotFound    = "NOT_FOUND"
	codeConflict    = "CONFLICT"
	codeRateLimited = "RATE_LIMITED"
	codeUpstream    = "UPSTREAM_ERROR"
	codeUnavailable = "SERVICE_UNAVAILABLE"
	codeInternal    = "INTERNAL_ERROR"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"error"`
}

func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, apiError{Code: code, Message: message})
}

// fail maps a domain error onto a response status.
func (s *Server) fail(c *gin.Context, err error, action string) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		abort(c, http.StatusNotFound, codeNotFound, "not found")
	case errors.Is(err, storage.ErrConflict):
		abort(c, http.StatusConflict, codeConflict, "already exists")
	case errors.Is(err, scheduler.ErrAlreadySent):
		abort(c, http.StatusConflict, codeConflict, "today's digest was already sent")
	case errors.Is(err, scheduler.ErrInProgress):
		abort(c, http.StatusConflict, codeConflict, "a digest is being generated right now")
	case errors.Is(err, news.ErrFeedUnreachable):
		abort(c, http.StatusBadGateway, codeUpstream, err.Error())
	default:
		s.logger.Error().Err(err).Str("route", c.FullPath()).Msg(action + " failed")
		abort(c, http.StatusInternalServerError, codeInternal, action+" failed")
	}
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		abort(c, http.StatusBadRequest, codeBadRequest, name+" must be a positive integer")
		return 0, false
	}
	return id, true
}

func queryLimit(c *gin.Context, def, max uint64) uint64 {
	raw := c.Query("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || n == 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
