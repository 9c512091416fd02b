package scheduler

import (
	"fmt"
	"strings"

	"dailydigest/internal/feed"
	"dailydigest/internal/news"
	"dailydigest/internal/summary"
)

const previewHeadlines = 3

type payload struct {
	Date          string            `json:"date"`
	Topic         string            `json:"topic"`
	Region        string            `json:"region"`
	Locale        string            `json:"locale"`
	Query         string            `json:"query"`
	Source        string            `json:"source"`
	Items         []feed.Item       `json:"items"`
	Takeaway      *summary.Takeaway `json:"takeaway"`
	TakeawayError string            `json:"takeaway_error,omitempty"`
}

func newPayload(date string, q news.Query, res *news.Result) payload {
	return payload{
		Date:          date,
		Topic:         q.Topic,
		Region:        res.Region.Code,
		Locale:        q.Locale,
		Query:         res.Query,
		Source:        res.Source,
		Items:         res.Items,
		Takeaway:      res.Takeaway,
		TakeawayError: res.TakeawayError,
	}
}

// renderNotification builds the stored notification text. Without a
// takeaway the body falls back to the first headlines.
func renderNotification(date, topic string, res *news.Result) (string, string) {
	title := fmt.Sprintf("Daily digest: %s (%s)", topic, date)

	var b strings.Builder
	if tk := res.Takeaway; tk != nil {
		b.WriteString(strings.TrimSpace(tk.Takeaway))
		if w := strings.TrimSpace(tk.ThingsToWatch); w != "" && w != strings.TrimSpace(tk.Takeaway) {
			b.WriteString("\n\n")
			b.WriteString(w)
		}
		return title, b.String()
	}

	fmt.Fprintf(&b, "%d headlines today.", len(res.Items))
	for i, it := range res.Items {
		if i == previewHeadlines {
			break
		}
		b.WriteString("\n- ")
		b.WriteString(it.Title)
	}
	return title, b.String()
}
