package ai

import (
	"fmt"
	"time"
)

// AuthError indicates authentication/authorization failures (401/403).
type AuthError struct{ *APIError }

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed: %s", e.APIError.Error())
}

// RateLimitError indicates 429 responses and may include a Retry-After.
type RateLimitError struct {
	*APIError
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited: wait about %ds before retrying: %s", int(e.RetryAfter.Seconds()), e.APIError.Error())
	}
	return fmt.Sprintf("rate limited: %s", e.APIError.Error())
}

// ModelNotFoundError indicates the requested model is not available.
type ModelNotFoundError struct{ *APIError }

func (e *ModelNotFoundError) Error() string {
	return fmt.Sprintf("model not found: %s", e.APIError.Error())
}

// BadRequestError indicates a 4xx request problem (e.g., 400 validation).
type BadRequestError struct{ *APIError }

func (e *BadRequestError) Error() string { return fmt.Sprintf("bad request: %s", e.APIError.Error()) }

// QuotaExceededError indicates billing/quota problems.
type QuotaExceededError struct{ *APIError }

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded: %s", e.APIError.Error())
}

// ServerError indicates 5xx errors from the provider.
type ServerError struct{ *APIError }

func (e *ServerError) Error() string { return fmt.Sprintf("provider error: %s", e.APIError.Error()) }

// NoToolCallError indicates the model answered without invoking the offered
// code tool (e.g., plain prose instead of code).
type NoToolCallError struct{ Model string }

func (e *NoToolCallError) Error() string {
	return fmt.Sprintf("model %s returned no tool invocation", e.Model)
}

// MalformedToolArgsError indicates a tool invocation whose arguments could not
// be decoded or lacked the required `code` field.
type MalformedToolArgsError struct {
	Tool string
	Err  error
}

func (e *MalformedToolArgsError) Error() string {
	return fmt.Sprintf("malformed arguments for tool %s: %v", e.Tool, e.Err)
}

func (e *MalformedToolArgsError) Unwrap() error { return e.Err }

// EmptyResponseError indicates a plain-text call that produced no content.
type EmptyResponseError struct{ Model string }

func (e *EmptyResponseError) Error() string {
	return fmt.Sprintf("model %s returned an empty response", e.Model)
}
