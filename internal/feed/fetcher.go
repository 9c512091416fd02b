package feed

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
)

const untitled = "(untitled)"

type Item struct {
	Title     string `json:"title"`
	Link      string `json:"link"`
	Summary   string `json:"summary,omitempty"`
	Published string `json:"published,omitempty"`
	Source    string `json:"source,omitempty"`

	PublishedAt time.Time `json:"-"`
}

type Fetcher struct {
	client    *http.Client
	userAgent string
}

func NewFetcher(client *http.Client, userAgent string) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Fetcher{client: client, userAgent: userAgent}
}

// Fetch downloads and normalizes one feed, newest first, capped at maxItems
// when maxItems > 0.
func (f *Fetcher) Fetch(ctx context.Context, feedURL string, maxItems int) ([]Item, error) {
	parser := gofeed.NewParser()
	parser.Client = f.client
	if f.userAgent != "" {
		parser.UserAgent = f.userAgent
	}

	parsed, err := parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", feedURL, err)
	}

	items := make([]Item, 0, len(parsed.Items))
	for _, it := range parsed.Items {
		if it == nil {
			continue
		}
		items = append(items, normalize(it, parsed.Title))
	}
	SortNewestFirst(items)
	if maxItems > 0 && len(items) > maxItems {
		items = items[:maxItems]
	}
	return items, nil
}

func normalize(it *gofeed.Item, feedTitle string) Item {
	out := Item{
		Title:   strings.TrimSpace(it.Title),
		Link:    it.Link,
		Summary: SanitizeHTML(it.Description),
		Source:  feedTitle,
	}
	if out.Title == "" {
		out.Title = untitled
	}
	if it.PublishedParsed != nil {
		out.PublishedAt = it.PublishedParsed.UTC()
		out.Published = out.PublishedAt.Format("2006-01-02 15:04")
	} else {
		out.Published = it.Published
	}
	return out
}

// SortNewestFirst orders items by publish time; undated items go last.
func SortNewestFirst(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].PublishedAt.After(items[j].PublishedAt)
	})
}

// SanitizeHTML reduces an HTML fragment to its text with collapsed whitespace.
func SanitizeHTML(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return strings.Join(strings.Fields(raw), " ")
	}
	var parts []string
	doc.Find("*").Contents().Each(func(_ int, s *goquery.Selection) {
		if goquery.NodeName(s) == "#text" {
			parts = append(parts, s.Text())
		}
	})
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}
