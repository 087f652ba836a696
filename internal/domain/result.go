package domain

import (
	"encoding/json"
	"errors"
	"strings"
)

// MaxRequestRecords bounds SessionResult.Requests.
const MaxRequestRecords = 50

// ScreenshotPrefix is prepended to base64 PNG data.
const ScreenshotPrefix = "data:image/png;base64,"

// RequestRecord is one observed network request.
type RequestRecord struct {
	Method string `json:"method"`
	URL    string `json:"url"`
	Status *int   `json:"status"`
}

// ThankYouIndicators records which signals matched.
type ThankYouIndicators struct {
	URLMatch     bool `json:"urlMatch"`
	TitleMatch   bool `json:"titleMatch"`
	ContentMatch bool `json:"contentMatch"`
}

// ThankYouResult is computed once at session end.
type ThankYouResult struct {
	Detected   bool               `json:"detected"`
	URL        string             `json:"url"`
	Title      string             `json:"title"`
	URLChanged bool               `json:"urlChanged"`
	Indicators ThankYouIndicators `json:"indicators"`
}

// SessionResult is the sole externally visible output of a session.
type SessionResult struct {
	Screenshots   []string        `json:"screenshots"`
	Events        []TrackingEvent `json:"events"`
	Actions       []string        `json:"actions"`
	Requests      []RequestRecord `json:"requests"`
	DetectedTools []Platform      `json:"detectedTools"`
	ThankYouPage  ThankYouResult  `json:"thankYouPage"`
}

// NewSessionResult returns a result with every collection non-nil.
func NewSessionResult() *SessionResult {
	return &SessionResult{
		Screenshots:   []string{},
		Events:        []TrackingEvent{},
		Actions:       []string{},
		Requests:      []RequestRecord{},
		DetectedTools: []Platform{},
	}
}

// MarshalJSON keeps empty collections as [] instead of null.
func (r SessionResult) MarshalJSON() ([]byte, error) {
	type alias SessionResult
	a := alias(r)
	if a.Screenshots == nil {
		a.Screenshots = []string{}
	}
	if a.Events == nil {
		a.Events = []TrackingEvent{}
	}
	if a.Actions == nil {
		a.Actions = []string{}
	}
	if a.Requests == nil {
		a.Requests = []RequestRecord{}
	}
	if a.DetectedTools == nil {
		a.DetectedTools = []Platform{}
	}
	return json.Marshal(a)
}

// DetectTools returns the distinct platforms of events in first-seen order.
func DetectTools(events []TrackingEvent) []Platform {
	tools := []Platform{}
	seen := make(map[Platform]bool)
	for _, e := range events {
		if seen[e.Platform] {
			continue
		}
		seen[e.Platform] = true
		tools = append(tools, e.Platform)
	}
	return tools
}

// LastRequests returns at most MaxRequestRecords trailing records.
func LastRequests(records []RequestRecord) []RequestRecord {
	if len(records) <= MaxRequestRecords {
		out := make([]RequestRecord, len(records))
		copy(out, records)
		return out
	}
	out := make([]RequestRecord, MaxRequestRecords)
	copy(out, records[len(records)-MaxRequestRecords:])
	return out
}

// TruncateURL keeps the first 100 characters of a URL. It never splits a
// multi-byte character.
func TruncateURL(u string) string {
	const max = 100
	n := 0
	for i := range u {
		if n == max {
			return u[:i]
		}
		n++
	}
	return u
}

// OneLine joins the non-blank lines of s with single spaces, so that
// multi-line driver errors fit on one action line.
func OneLine(s string) string {
	if !strings.ContainsAny(s, "\r\n") {
		return s
	}
	var parts []string
	for _, line := range strings.FieldsFunc(s, func(r rune) bool { return r == '\n' || r == '\r' }) {
		if line = strings.TrimSpace(line); line != "" {
			parts = append(parts, line)
		}
	}
	return strings.Join(parts, " ")
}

// CountActions counts action lines containing substr.
func (r *SessionResult) CountActions(substr string) int {
	n := 0
	for _, a := range r.Actions {
		if strings.Contains(a, substr) {
			n++
		}
	}
	return n
}

// ErrorOutput is written by the subprocess tester on failure.
type ErrorOutput struct {
	Error       string          `json:"error"`
	Stack       string          `json:"stack,omitempty"`
	Screenshots []string        `json:"screenshots"`
	Events      []TrackingEvent `json:"events"`
	Actions     []string        `json:"actions"`
	Requests    []RequestRecord `json:"requests"`
}

// NewErrorOutput builds the failure payload for err.
func NewErrorOutput(err error) ErrorOutput {
	out := ErrorOutput{
		Error:       err.Error(),
		Screenshots: []string{},
		Events:      []TrackingEvent{},
		Actions:     []string{"Error: " + err.Error()},
		Requests:    []RequestRecord{},
	}
	var se *SessionError
	if errors.As(err, &se) {
		out.Stack = se.Stack
	}
	return out
}
