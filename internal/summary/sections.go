package summary

import (
	"regexp"
	"strings"
	"sync"
)

const (
	LabelThingsToWatch = "Things to Watch Today"
	LabelTakeaway      = "Take Away"
)

// compiled section patterns keyed by label.
var patternCache sync.Map

var (
	knownLabels = `(?:` + regexp.QuoteMeta(LabelThingsToWatch) + `|` + regexp.QuoteMeta(LabelTakeaway) + `)`
	headerRe    = regexp.MustCompile(`(?im)【` + knownLabels + `】|\[` + knownLabels + `\]|^[ \t]*` + knownLabels + `:`)
)

func sectionPatterns(label string) []*regexp.Regexp {
	if v, ok := patternCache.Load(label); ok {
		return v.([]*regexp.Regexp)
	}
	q := regexp.QuoteMeta(label)
	pats := []*regexp.Regexp{
		regexp.MustCompile(`(?is)【` + q + `】\s*(.*?)(?:【|\z)`),
		regexp.MustCompile(`(?is)\[` + q + `\]\s*(.*?)(?:\[|\z)`),
		regexp.MustCompile(`(?is)` + q + `:\s*(.*?)(?:\n\s*\n|\n[ \t]*(?:【|\[|` + knownLabels + `:)|\z)`),
	}
	v, _ := patternCache.LoadOrStore(label, pats)
	return v.([]*regexp.Regexp)
}

// ExtractSection returns the body that follows a section header. Headers may
// be written as 【label】, [label] or "label:"; matching ignores case and the
// body runs to the next header or the end of the text.
func ExtractSection(text, label string) (string, bool) {
	for _, re := range sectionPatterns(label) {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		body := strings.TrimSpace(m[1])
		if body != "" {
			return body, true
		}
	}
	return "", false
}

// splitSections pulls both parts out of a model reply. A reply without any
// recognizable header is used verbatim for both.
func splitSections(text string) Section {
	text = strings.TrimSpace(text)
	watch, okWatch := ExtractSection(text, LabelThingsToWatch)
	take, okTake := ExtractSection(text, LabelTakeaway)
	if !okWatch && !okTake {
		return Section{ThingsToWatch: text, Takeaway: text}
	}
	rest := stripHeaders(text)
	if !okWatch {
		watch = rest
	}
	if !okTake {
		take = rest
	}
	return Section{ThingsToWatch: watch, Takeaway: take}
}

// stripHeaders drops every known section header, leaving the bodies.
func stripHeaders(text string) string {
	return strings.TrimSpace(headerRe.ReplaceAllString(text, ""))
}
