package github

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Failure kinds surfaced once retries are exhausted or a response is
// classified as non-retryable. Match them with errors.Is.
var (
	ErrRateLimited   = errors.New("rate limited")
	ErrForbidden     = errors.New("forbidden")
	ErrRequestFailed = errors.New("request failed")
)

type RequestError struct {
	Kind       error
	Method     string
	Endpoint   string
	StatusCode int
	Message    string
	Attempts   int
	Err        error
}

func (e *RequestError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s: %v", e.Method, scrubEndpoint(e.Endpoint), e.Kind)
	if e.Attempts > 1 {
		fmt.Fprintf(&b, " after %d attempts", e.Attempts)
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	switch {
	case e.Message != "":
		b.WriteString(": ")
		b.WriteString(e.Message)
	case e.Err != nil:
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *RequestError) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// StatusCode extracts the HTTP status of a RequestError, or 0.
func StatusCode(err error) int {
	var re *RequestError
	if errors.As(err, &re) {
		return re.StatusCode
	}
	return 0
}

// scrubEndpoint drops the query string so search terms and pagination noise
// stay out of error text.
func scrubEndpoint(endpoint string) string {
	if i := strings.IndexByte(endpoint, '?'); i >= 0 {
		return endpoint[:i]
	}
	return endpoint
}

// apiMessage returns the "message" field of a GitHub error body, falling back
// to a trimmed excerpt of the raw body.
func apiMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		return payload.Message
	}
	msg := strings.TrimSpace(string(body))
	const max = 200
	if len(msg) > max {
		msg = msg[:max] + "..."
	}
	return msg
}
