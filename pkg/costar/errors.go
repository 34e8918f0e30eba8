package costar

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// APIError is returned once a call has exhausted its retry budget.
type APIError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("costar: %s failed after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// StatusError is a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("costar: unexpected status %d: %s", e.StatusCode, truncateBody(e.Body, maxErrorBody))
}

const maxErrorBody = 200

// truncateBody cuts s to at most n bytes without splitting a rune.
func truncateBody(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// GraphQLError is one entry of a GraphQL "errors" array.
type GraphQLError struct {
	Message string `json:"message"`
	Path    []any  `json:"path,omitempty"`
}

// GraphQLErrors is returned when a response carries a non-empty errors
// field.
type GraphQLErrors []GraphQLError

func (e GraphQLErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, ge := range e {
		msgs = append(msgs, ge.Message)
	}
	return "costar: graphql errors: " + strings.Join(msgs, "; ")
}
