package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"dailydigest/internal/news"
	"dailydigest/internal/providers"
	"dailydigest/internal/providers/router"
)

func (s *Server) regions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"regions": s.news.Regions()})
}

func (s *Server) getNews(c *gin.Context) {
	ctx := c.Request.Context()
	lang := strings.ToLower(strings.TrimSpace(c.DefaultQuery("lang", "en")))

	if s.limiter != nil {
		allowed, used, resetAt, err := s.limiter.Allow(ctx, c.ClientIP(), s.now())
		if err != nil {
			// redis trouble should not take the news endpoint down
			s.logger.Warn().Err(err).Msg("rate limiter unavailable")
		} else if !allowed {
			c.Header("Retry-After", resetAt.UTC().Format(http.TimeFormat))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":     codeRateLimited,
				"error":    "too many requests",
				"used":     used,
				"reset_at": resetAt.UTC(),
			})
			return
		}
	}

	res, err := s.news.Build(ctx, news.Query{
		Topic:     c.Query("topic"),
		Region:    c.DefaultQuery("region", s.defaults.Region),
		CustomURL: c.Query("customUrl"),
		Locale:    lang,
		Summarize: true,
	})
	if err != nil {
		if errors.Is(err, news.ErrFeedUnreachable) {
			s.logger.Warn().Err(err).Msg("news feed returned nothing")
			c.JSON(http.StatusBadGateway, gin.H{"items": []any{}, "error": news.FailureMessage(lang)})
			return
		}
		s.fail(c, err, "build news")
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) llmStatus(c *gin.Context) {
	d := s.llm.Select(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"provider": d, "available": d.Available()})
}

// llmTest does a tiny round trip through the router.
func (s *Server) llmTest(c *gin.Context) {
	ctx := c.Request.Context()
	d := s.llm.Select(ctx)
	if !d.Available() {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "error",
			"code":    router.CodeNoProvider,
			"message": d.Reason,
		})
		return
	}

	text, err := s.llm.AskVia(ctx, d, router.AskRequest{
		Messages:  []providers.Message{{Role: providers.RoleUser, Content: "Say 'test'"}},
		MaxTokens: 5,
		Timeout:   15 * time.Second,
	})
	if err != nil {
		status := http.StatusBadGateway
		if router.CodeOf(err) == router.CodeNoProvider {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"status":   "error",
			"code":     router.CodeOf(err),
			"provider": d,
			"message":  err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "success",
		"provider": d,
		"response": text,
	})
}
