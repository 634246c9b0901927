package provider

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrAuthFailed  = errors.New("authentication failed")
	ErrNotFound    = errors.New("not found")
	ErrInvalidURL  = errors.New("invalid URL")
	ErrRateLimited = errors.New("rate limited")
)

// ConfigurationError is fatal for the configuration being processed.
// No retry is attempted within the process.
type ConfigurationError struct {
	Message string
	Items   []string
	Hint    string
}

func (e *ConfigurationError) Error() string {
	msg := e.Message
	if len(e.Items) > 0 {
		msg += ": " + strings.Join(e.Items, ", ")
	}
	return msg
}

// NewConfigurationError builds a ConfigurationError from a format string.
func NewConfigurationError(format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Message: fmt.Sprintf(format, args...)}
}

// IsConfigurationError reports whether err is or wraps a *ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// OperationalError is a failed remote call. It is isolated to one build when it
// happens while posting, and aborts the run when it happens during a fetch.
type OperationalError struct {
	Op  string
	Err error
}

func (e *OperationalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *OperationalError) Unwrap() error {
	return e.Err
}

// OpError wraps err as an OperationalError for op. A nil err stays nil.
func OpError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &OperationalError{Op: op, Err: err}
}

// UserError wraps errors with user-friendly messages
type UserError struct {
	Message string
	Hint    string
	Err     error
}

func (e *UserError) Error() string {
	msg := e.Message
	if e.Hint != "" {
		msg += "\n\nHint: " + e.Hint
	}
	if e.Err != nil {
		msg += fmt.Sprintf("\n\nDetails: %v", e.Err)
	}
	return msg
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// WrapError converts errors to user-friendly messages for the CLI.
func WrapError(err error) error {
	if err == nil {
		return nil
	}

	var ce *ConfigurationError
	if errors.As(err, &ce) {
		return &UserError{
			Message: "Configuration error",
			Hint:    ce.Hint,
			Err:     err,
		}
	}

	if errors.Is(err, ErrAuthFailed) {
		return &UserError{
			Message: "Authentication failed",
			Hint:    "Check the credentials in the configuration file.\n  - AgileCentral: APIKey or AGILECENTRAL_API_KEY\n  - Jenkins: Username with API_Token or JENKINS_API_TOKEN",
			Err:     err,
		}
	}

	if errors.Is(err, ErrNotFound) {
		return &UserError{
			Message: "Resource not found",
			Hint:    "Check the server addresses and that your account can see the Workspace and Jenkins items.",
			Err:     err,
		}
	}

	return err
}
