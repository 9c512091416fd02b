package summary

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"dailydigest/internal/feed"
	"dailydigest/internal/providers/router"
)

type reply struct {
	text string
	err  error
}

type scriptedAsker struct {
	replies  []reply
	requests []router.AskRequest
}

func (a *scriptedAsker) Ask(_ context.Context, req router.AskRequest) (string, error) {
	a.requests = append(a.requests, req)
	if len(a.replies) == 0 {
		return "", errors.New("unexpected call")
	}
	r := a.replies[0]
	a.replies = a.replies[1:]
	return r.text, r.err
}

func newTestSummarizer(a Asker) *Summarizer {
	return New(Config{Asker: a, Logger: zerolog.Nop()})
}

func headlines(n int) []feed.Item {
	items := make([]feed.Item, n)
	for i := range items {
		items[i] = feed.Item{Title: "Headline " + string(rune('A'+i))}
	}
	return items
}

const englishReply = "【Things to Watch Today】\n1. Rates\n2. Storms\n\n【Take Away】\nMarkets stay cautious."

func TestExtractSection(t *testing.T) {
	cases := []struct {
		text, label, want string
		ok                bool
	}{
		{"【Take Away】 X", "Take Away", "X", true},
		{"【take away】\n  spaced  \n", "Take Away", "spaced", true},
		{"[Take Away] bracketed [Next] other", "Take Away", "bracketed", true},
		{"Take Away: colon form\n\nTrailing paragraph", "Take Away", "colon form", true},
		{englishReply, LabelThingsToWatch, "1. Rates\n2. Storms", true},
		{"Things to Watch Today:\n1. rates\n2. storms\nTake Away: markets wobble", LabelThingsToWatch, "1. rates\n2. storms", true},
		{"Things to Watch Today:\n1. rates\n2. storms\nTake Away: markets wobble", LabelTakeaway, "markets wobble", true},
		{"Take Away: short\n【Things to Watch Today】 later", LabelTakeaway, "short", true},
		{"no header here", "Take Away", "", false},
		{"【Take Away】   ", "Take Away", "", false},
	}
	for _, tc := range cases {
		got, ok := ExtractSection(tc.text, tc.label)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("ExtractSection(%q, %q) = %q, %v; want %q, %v", tc.text, tc.label, got, ok, tc.want, tc.ok)
		}
	}
}

func TestSplitSectionsFallback(t *testing.T) {
	cases := []struct {
		text            string
		watch, takeaway string
	}{
		{"【Things to Watch Today】\n1. a\n【Take Away】", "1. a", "1. a"},
		{"Take Away: calm week", "calm week", "calm week"},
		{"plain reply", "plain reply", "plain reply"},
	}
	for _, tc := range cases {
		got := splitSections(tc.text)
		if got.ThingsToWatch != tc.watch || got.Takeaway != tc.takeaway {
			t.Fatalf("splitSections(%q) = %+v; want watch %q takeaway %q", tc.text, got, tc.watch, tc.takeaway)
		}
	}
}

func TestGenerateTakeawayEnglish(t *testing.T) {
	a := &scriptedAsker{replies: []reply{{text: englishReply}}}
	s := newTestSummarizer(a)

	tk, err := s.GenerateTakeaway(context.Background(), headlines(12), "en")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if tk.Takeaway != "Markets stay cautious." || tk.ThingsToWatch != "1. Rates\n2. Storms" {
		t.Fatalf("unexpected takeaway %+v", tk)
	}
	if tk.English != nil || tk.Locale != "en" {
		t.Fatalf("english locale should not carry a second section: %+v", tk)
	}
	if len(a.requests) != 1 {
		t.Fatalf("expected one llm call, got %d", len(a.requests))
	}
	req := a.requests[0]
	if req.MaxTokens != 500 || req.Temperature != 0.7 {
		t.Fatalf("unexpected request params %+v", req)
	}
	user := req.Messages[len(req.Messages)-1].Content
	if !strings.Contains(user, "10. Headline J") || strings.Contains(user, "Headline K") {
		t.Fatalf("prompt should carry exactly ten headlines:\n%s", user)
	}
}

func TestGenerateTakeawayWithoutHeaders(t *testing.T) {
	a := &scriptedAsker{replies: []reply{{text: "  just prose  "}}}
	tk, err := newTestSummarizer(a).GenerateTakeaway(context.Background(), headlines(2), "en")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if tk.ThingsToWatch != "just prose" || tk.Takeaway != "just prose" {
		t.Fatalf("raw text should fill both parts: %+v", tk)
	}
}

func TestGenerateTakeawayTranslates(t *testing.T) {
	a := &scriptedAsker{replies: []reply{
		{text: englishReply},
		{text: "【Things to Watch Today】\n1. 利率\n2. 風暴\n\n【Take Away】\n市場保持謹慎。"},
	}}
	tk, err := newTestSummarizer(a).GenerateTakeaway(context.Background(), headlines(3), "zh")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if tk.Locale != "zh-Hant" || tk.Takeaway != "市場保持謹慎。" {
		t.Fatalf("unexpected localized takeaway %+v", tk)
	}
	if tk.English == nil || tk.English.Takeaway != "Markets stay cautious." {
		t.Fatalf("english section missing: %+v", tk.English)
	}
	if !strings.Contains(a.requests[1].Messages[1].Content, "Traditional Chinese") {
		t.Fatalf("translation prompt should name the language: %s", a.requests[1].Messages[1].Content)
	}
}

func TestGenerateTakeawayTranslationFailureDegrades(t *testing.T) {
	a := &scriptedAsker{replies: []reply{
		{text: englishReply},
		{err: errors.New("boom")},
	}}
	tk, err := newTestSummarizer(a).GenerateTakeaway(context.Background(), headlines(3), "ja")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if tk.Locale != "en" || tk.Takeaway != "Markets stay cautious." || tk.TranslationError == "" {
		t.Fatalf("expected english fallback, got %+v", tk)
	}
}

func TestGenerateTakeawayErrors(t *testing.T) {
	s := newTestSummarizer(&scriptedAsker{})
	if _, err := s.GenerateTakeaway(context.Background(), nil, "en"); !errors.Is(err, ErrNoItems) {
		t.Fatalf("expected ErrNoItems, got %v", err)
	}

	rerr := &router.Error{Code: router.CodeNoProvider, Provider: router.KindAuto, Reason: "nothing configured"}
	a := &scriptedAsker{replies: []reply{{err: rerr}}}
	_, err := newTestSummarizer(a).GenerateTakeaway(context.Background(), headlines(1), "en")
	if router.CodeOf(err) != router.CodeNoProvider {
		t.Fatalf("expected router error to surface, got %v", err)
	}
}

func TestExpandTopic(t *testing.T) {
	cases := []struct {
		name  string
		topic string
		reply reply
		want  string
		calls int
	}{
		{"cjk", "選舉", reply{text: "election, politics"}, "選舉 OR election OR politics", 1},
		{"numbered", "地震", reply{text: "1. earthquake\n2. quake\n3. tsunami"}, "地震 OR earthquake OR quake", 1},
		{"non latin reply", "選舉", reply{text: "選舉, 政治"}, "選舉", 1},
		{"llm failure", "選舉", reply{err: errors.New("down")}, "選舉", 1},
		{"latin topic", "elections", reply{}, "elections", 0},
		{"hangul", "선거", reply{text: "election"}, "선거 OR election", 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := &scriptedAsker{replies: []reply{tc.reply}}
			got := newTestSummarizer(a).ExpandTopic(context.Background(), tc.topic)
			if got != tc.want {
				t.Fatalf("ExpandTopic(%q) = %q, want %q", tc.topic, got, tc.want)
			}
			if len(a.requests) != tc.calls {
				t.Fatalf("expected %d calls, got %d", tc.calls, len(a.requests))
			}
		})
	}
}

func TestParseLocale(t *testing.T) {
	cases := map[string]string{
		"":      "en",
		"en":    "en",
		"en-GB": "en-GB",
		"zh":    "zh-Hant",
		"ja":    "ja",
		"???":   "en",
	}
	for in, want := range cases {
		if got := ParseLocale(in).String(); got != want {
			t.Fatalf("ParseLocale(%q) = %q, want %q", in, got, want)
		}
	}
	if !IsEnglish(ParseLocale("en-GB")) {
		t.Fatalf("en-GB should be english")
	}
}
