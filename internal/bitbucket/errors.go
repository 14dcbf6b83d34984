package bitbucket

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrNotFound matches a *StatusError carrying a 404.
var ErrNotFound = errors.New("not found")

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	msg := e.message()
	if msg == "" {
		return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.URL, e.StatusCode, msg)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// message prefers the messages of a Bitbucket error document over the raw body.
func (e *StatusError) message() string {
	var doc struct {
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal([]byte(e.Body), &doc); err == nil && len(doc.Errors) > 0 {
		msgs := make([]string, 0, len(doc.Errors))
		for _, m := range doc.Errors {
			msgs = append(msgs, m.Message)
		}
		return strings.Join(msgs, "; ")
	}
	return strings.TrimSpace(e.Body)
}
