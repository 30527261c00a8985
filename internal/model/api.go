package model

import (
	"fmt"
	"time"
)

// Field length limits for caller-supplied text.
// Manual responses flow into Postgres TEXT columns and into the context of
// every subsequent specialist query; the caps keep a single oversized
// submission from bloating all downstream step payloads.
const (
	MaxResponseTextLen = 64 * 1024 // 64 KB
	MaxEventIDLen      = 200
)

// ValidateResponseText checks a manual step/synthesis submission.
// Blank input is rejected here so it never costs a gateway round-trip.
func ValidateResponseText(text string) error {
	if len(text) == 0 {
		return fmt.Errorf("response text is required")
	}
	if len(text) > MaxResponseTextLen {
		return fmt.Errorf("response text exceeds maximum length of %d bytes", MaxResponseTextLen)
	}
	return nil
}

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput       = "INVALID_INPUT"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeConflict           = "CONFLICT"
	ErrCodePreconditionFailed = "PRECONDITION_FAILED"
	ErrCodeUpstreamFailure    = "UPSTREAM_FAILURE"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeRateLimited        = "RATE_LIMITED"
)

// CreateInvestigationRequest is the request body for POST /v1/investigations.
type CreateInvestigationRequest struct {
	Workflow Workflow `json:"workflow"`
	Mode     string   `json:"mode"`
	EventID  *string  `json:"event_id,omitempty"`
}

// Validate checks the create request before any state is allocated.
func (r CreateInvestigationRequest) Validate() error {
	if err := r.Workflow.Validate(); err != nil {
		return err
	}
	if _, err := ParseMode(r.Mode); err != nil {
		return err
	}
	if r.EventID != nil {
		if len(*r.EventID) == 0 {
			return fmt.Errorf("event_id must not be empty when provided")
		}
		if len(*r.EventID) > MaxEventIDLen {
			return fmt.Errorf("event_id must be at most %d characters", MaxEventIDLen)
		}
	}
	return nil
}

// SubmitResponseRequest is the request body for
// POST /v1/investigations/{id}/step/response.
type SubmitResponseRequest struct {
	Text string `json:"text"`
}

// SetModeRequest is the request body for PUT /v1/investigations/{id}/mode.
type SetModeRequest struct {
	Mode string `json:"mode"`
}

// StepQueryResponse is the response for GET /v1/investigations/{id}/step/query.
type StepQueryResponse struct {
	AgentID   string `json:"agent_id"`
	Role      string `json:"role,omitempty"`
	Query     string `json:"query"`
	Context   string `json:"context,omitempty"`
	Synthesis bool   `json:"synthesis"`
}

// AuthTokenRequest is the request body for POST /auth/token.
type AuthTokenRequest struct {
	AccountID string `json:"account_id"`
	APIKey    string `json:"api_key"`
}

// AuthTokenResponse is the response for POST /auth/token.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CreateAccountRequest is the request body for POST /v1/accounts.
type CreateAccountRequest struct {
	AccountID string      `json:"account_id"`
	Name      string      `json:"name"`
	Role      AccountRole `json:"role"`
	APIKey    string      `json:"api_key"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status       string `json:"status"`
	Version      string `json:"version"`
	Postgres     string `json:"postgres"`
	Gateway      string `json:"gateway,omitempty"`
	OpenSessions int    `json:"open_sessions"`
	Uptime       int64  `json:"uptime_seconds"`
}
