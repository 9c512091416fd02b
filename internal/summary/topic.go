package summary

import (
	"context"
	"strings"
	"unicode"

	"dailydigest/internal/providers"
	"dailydigest/internal/providers/router"
)

// ExpandTopic widens a CJK topic with up to two Latin-script keywords so the
// search also matches English coverage. Any failure returns the topic as is.
func (s *Summarizer) ExpandTopic(ctx context.Context, topic string) string {
	topic = strings.TrimSpace(topic)
	if topic == "" || !HasCJK(topic) {
		return topic
	}

	reply, err := s.asker.Ask(ctx, router.AskRequest{
		Messages:  []providers.Message{{Role: providers.RoleUser, Content: keywordPrompt(topic)}},
		MaxTokens: keywordTokens,
		Timeout:   keywordTimeout,
	})
	if err != nil {
		s.logger.Debug().Err(err).Str("topic", topic).Msg("topic expansion skipped")
		return topic
	}

	keywords := latinKeywords(reply, topic)
	if len(keywords) == 0 {
		return topic
	}
	return topic + " OR " + strings.Join(keywords, " OR ")
}

func HasCJK(s string) bool {
	for _, r := range s {
		if unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul) {
			return true
		}
	}
	return false
}

func latinKeywords(reply, topic string) []string {
	fields := strings.FieldsFunc(reply, func(r rune) bool {
		return r == ',' || r == '\n' || r == ';' || r == '、' || r == '，'
	})
	seen := map[string]bool{strings.ToLower(topic): true}
	out := make([]string, 0, maxTopicKeywords)
	for _, f := range fields {
		kw := strings.TrimLeft(strings.TrimSpace(f), "-*0123456789.) ")
		kw = strings.Trim(kw, `"'. `)
		if !isLatinKeyword(kw) {
			continue
		}
		key := strings.ToLower(kw)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, kw)
		if len(out) == maxTopicKeywords {
			break
		}
	}
	return out
}

func isLatinKeyword(s string) bool {
	if s == "" {
		return false
	}
	hasLetter := false
	for _, r := range s {
		switch {
		case unicode.Is(unicode.Latin, r):
			hasLetter = true
		case unicode.IsDigit(r), r == ' ', r == '-', r == '\'':
		default:
			return false
		}
	}
	return hasLetter
}
