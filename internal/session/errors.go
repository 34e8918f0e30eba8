package session

import (
	"fmt"

	"github.com/rotisserie/eris"
)

var (
	// ErrNotAuthenticated is returned when a request is attempted outside
	// the Authenticated state.
	ErrNotAuthenticated = eris.New("session: not authenticated")
	// ErrSessionExpired is returned when the platform answers with its
	// login page instead of data.
	ErrSessionExpired = eris.New("session: expired")
	// ErrSecondFactorTimeout is returned when the second-factor approval
	// is not observed within the timeout.
	ErrSecondFactorTimeout = eris.New("session: second factor approval timed out")
)

// ConfigError reports missing required session configuration. It is fatal at
// construction time.
type ConfigError struct {
	Field string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("session: %s is required", e.Field)
}

// AuthError reports a failed authentication step.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("session: %s: %v", e.Op, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// BlockedError reports a captcha or challenge page returned in place of
// data.
type BlockedError struct {
	Kind   BlockType
	Status int
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("session: request blocked (%s, status %d)", e.Kind, e.Status)
}
