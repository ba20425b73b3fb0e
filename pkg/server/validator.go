package server

import (
	"context"
	"net/http"
)

// Actions passed to RequestValidator.
const (
	ActionCreateStatusList = "status-list/create"
	ActionRevoke           = "status-list/revoke"
	ActionSuspend          = "status-list/suspend"
	ActionReinstate        = "status-list/reinstate"
	ActionAnchor           = "status-list/anchor"
	ActionAddAnchor        = "trust/anchor/add"
	ActionRemoveAnchor     = "trust/anchor/remove"
	ActionAddEdge          = "trust/edge/add"
)

// RequestValidator validates mutating requests before processing.
// Implementations can check API keys, rate limits, permissions, etc.
type RequestValidator interface {
	// ValidateRequest is called before each mutating request.
	// Return nil to allow the request, or an error to reject it with 403.
	// The error message will be returned to the client.
	ValidateRequest(ctx context.Context, r *http.Request, action string) error
}

// ValidatorFunc adapts a function to RequestValidator.
type ValidatorFunc func(ctx context.Context, r *http.Request, action string) error

func (f ValidatorFunc) ValidateRequest(ctx context.Context, r *http.Request, action string) error {
	return f(ctx, r, action)
}

// ValidationError represents a validation failure with structured info.
type ValidationError struct {
	Code    string // Machine-readable error code (e.g., "RATE_LIMITED")
	Message string // Human-readable message
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError creates a new validation error.
func NewValidationError(code, message string) *ValidationError {
	return &ValidationError{Code: code, Message: message}
}
