package provider

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestWrapError_ConfigurationError(t *testing.T) {
	cfgErr := &ConfigurationError{
		Message: "targets not found in Jenkins inventory",
		Items:   []string{"Folder: deep", "View: Nightly"},
		Hint:    "Increase MaxDepth",
	}
	wrapped := WrapError(fmt.Errorf("validate: %w", cfgErr))

	userErr, ok := wrapped.(*UserError)
	if !ok {
		t.Fatalf("WrapError() returned %T, want *UserError", wrapped)
	}
	if userErr.Message != "Configuration error" {
		t.Errorf("Message = %q, want %q", userErr.Message, "Configuration error")
	}
	if userErr.Hint != "Increase MaxDepth" {
		t.Errorf("Hint = %q, want %q", userErr.Hint, "Increase MaxDepth")
	}
	if !IsConfigurationError(wrapped) {
		t.Error("IsConfigurationError(wrapped) = false, want true")
	}
}

func TestWrapError_AuthFailed(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{
			name: "ErrAuthFailed sentinel",
			err:  ErrAuthFailed,
		},
		{
			name: "wrapped ErrAuthFailed",
			err:  fmt.Errorf("request failed: %w", ErrAuthFailed),
		},
		{
			name: "operational error around ErrAuthFailed",
			err:  OpError("query project", ErrAuthFailed),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := WrapError(tt.err)

			userErr, ok := wrapped.(*UserError)
			if !ok {
				t.Fatalf("WrapError() returned %T, want *UserError", wrapped)
			}
			if userErr.Message != "Authentication failed" {
				t.Errorf("Message = %q, want %q", userErr.Message, "Authentication failed")
			}
			if !strings.Contains(userErr.Hint, "AGILECENTRAL_API_KEY") {
				t.Errorf("Hint should contain 'AGILECENTRAL_API_KEY', got %q", userErr.Hint)
			}
			if !strings.Contains(userErr.Hint, "JENKINS_API_TOKEN") {
				t.Errorf("Hint should contain 'JENKINS_API_TOKEN', got %q", userErr.Hint)
			}
		})
	}
}

func TestWrapError_OtherErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{
			name: "rate limited",
			err:  ErrRateLimited,
		},
		{
			name: "generic error",
			err:  errors.New("something went wrong"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := WrapError(tt.err)
			if wrapped != tt.err {
				t.Errorf("WrapError() = %v, want original error %v", wrapped, tt.err)
			}
		})
	}
}

func TestWrapError_NilError(t *testing.T) {
	if wrapped := WrapError(nil); wrapped != nil {
		t.Errorf("WrapError(nil) = %v, want nil", wrapped)
	}
}

func TestConfigurationError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *ConfigurationError
		want string
	}{
		{
			name: "message only",
			err:  &ConfigurationError{Message: "missing AgileCentral section"},
			want: "missing AgileCentral section",
		},
		{
			name: "message with items",
			err:  &ConfigurationError{Message: "projects not found", Items: []string{"Alpha", "Beta"}},
			want: "projects not found: Alpha, Beta",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOperationalError_Unwrap(t *testing.T) {
	if OpError("create build", nil) != nil {
		t.Error("OpError(nil) should be nil")
	}

	err := OpError("create build", ErrRateLimited)
	if !errors.Is(err, ErrRateLimited) {
		t.Error("errors.Is(err, ErrRateLimited) = false, want true")
	}
	if got := err.Error(); got != "create build: rate limited" {
		t.Errorf("Error() = %q, want %q", got, "create build: rate limited")
	}
}

func TestUserError_Error(t *testing.T) {
	tests := []struct {
		name     string
		userErr  *UserError
		wantHint string
		wantErr  string
	}{
		{
			name:    "message only",
			userErr: &UserError{Message: "Something went wrong"},
		},
		{
			name:     "message with hint and error",
			userErr:  &UserError{Message: "Something went wrong", Hint: "Try this", Err: errors.New("original")},
			wantHint: "Hint: Try this",
			wantErr:  "Details: original",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.userErr.Error()
			if !strings.HasPrefix(got, "Something went wrong") {
				t.Errorf("Error() = %q, want message first", got)
			}
			if tt.wantHint != "" && !strings.Contains(got, tt.wantHint) {
				t.Errorf("Error() should contain %q, got %q", tt.wantHint, got)
			}
			if tt.wantErr != "" && strings.Index(got, tt.wantErr) < strings.Index(got, tt.wantHint) {
				t.Errorf("Details should come after Hint in %q", got)
			}
		})
	}
}
