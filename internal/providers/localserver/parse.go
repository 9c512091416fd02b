package localserver

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Shape records which response layout the text was found in.
type Shape int

const (
	ShapeChoiceMessage Shape = iota + 1 // choices[0].message.content
	ShapeChoiceContent                  // choices[0].content
	ShapeMessage                        // message.content
)

func (s Shape) String() string {
	switch s {
	case ShapeChoiceMessage:
		return "choices.message.content"
	case ShapeChoiceContent:
		return "choices.content"
	case ShapeMessage:
		return "message.content"
	default:
		return "unknown"
	}
}

type Reply struct {
	Text  string
	Shape Shape
}

// ParseError means the body held no recognizable content field.
type ParseError struct {
	Reason string
	Body   string
}

func (e *ParseError) Error() string {
	if e.Body == "" {
		return "parse local response: " + e.Reason
	}
	return fmt.Sprintf("parse local response: %s (body: %s)", e.Reason, e.Body)
}

type contentHolder struct {
	Content *string `json:"content"`
}

type localResponse struct {
	Choices []struct {
		Message *contentHolder `json:"message"`
		Content *string        `json:"content"`
	} `json:"choices"`
	Message *contentHolder `json:"message"`
}

// ParseResponse accepts the layouts local servers are known to return. The
// first non-blank content wins, in the order of the Shape constants.
func ParseResponse(body []byte) (Reply, error) {
	var resp localResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Reply{}, &ParseError{Reason: "invalid json: " + err.Error(), Body: snippet(body)}
	}

	if len(resp.Choices) > 0 {
		c0 := resp.Choices[0]
		if c0.Message != nil && nonBlank(c0.Message.Content) {
			return Reply{Text: *c0.Message.Content, Shape: ShapeChoiceMessage}, nil
		}
		if nonBlank(c0.Content) {
			return Reply{Text: *c0.Content, Shape: ShapeChoiceContent}, nil
		}
	}
	if resp.Message != nil && nonBlank(resp.Message.Content) {
		return Reply{Text: *resp.Message.Content, Shape: ShapeMessage}, nil
	}
	return Reply{}, &ParseError{Reason: "no content field", Body: snippet(body)}
}

func nonBlank(s *string) bool {
	return s != nil && strings.TrimSpace(*s) != ""
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if r := []rune(s); len(r) > 200 {
		return string(r[:200]) + "..."
	}
	return s
}
