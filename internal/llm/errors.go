/*
Copyright 2026 The rowforge Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package llm

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/rowforge/batch-engine/internal/breaker"
)

// ErrorCategory classifies provider failures for retry decisions and
// observability.
type ErrorCategory string

const (
	ErrCategoryConfig      ErrorCategory = "CONFIG_ERROR"     // missing/invalid credential or client setup, not retryable
	ErrCategoryAuth        ErrorCategory = "AUTH_ERROR"       // credential rejected by the provider, not retryable
	ErrCategoryRateLimit   ErrorCategory = "RATE_LIMIT"       // admission rejected or provider 429, retryable with backoff
	ErrCategoryServer      ErrorCategory = "SERVER_ERROR"     // network/timeout/5xx, retryable
	ErrCategoryInvalidResp ErrorCategory = "INVALID_RESPONSE" // malformed provider output, not retryable
	ErrCategoryInvalidReq  ErrorCategory = "INVALID_REQ"      // provider rejected the request shape, not retryable
)

// Error is the classified failure surfaced by providers and the client.
type Error struct {
	Category ErrorCategory
	Message  string
	Err      error // original cause, may be nil
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether another attempt against the provider could
// succeed. Rate limits and server-side failures are transient; everything
// else needs a changed request or configuration.
func (e *Error) IsRetryable() bool {
	return e.Category == ErrCategoryRateLimit || e.Category == ErrCategoryServer
}

func newError(category ErrorCategory, cause error, format string, args ...any) *Error {
	return &Error{
		Category: category,
		Message:  fmt.Sprintf(format, args...),
		Err:      cause,
	}
}

// CategoryOf extracts the category from err, or empty when err is not a
// classified provider error.
func CategoryOf(err error) ErrorCategory {
	var e *Error
	if errors.As(err, &e) {
		return e.Category
	}
	return ""
}

// IsTransient reports whether err is a server-side/network failure worth
// retrying on the same connection, excluding rate limits. The client's
// internal retry loop uses this: rate-limit rejections are surfaced to the
// caller instead of being retried in place.
func IsTransient(err error) bool {
	return CategoryOf(err) == ErrCategoryServer
}

// RowRetryable reports whether a row-level retry (with backoff, in the batch
// processor) may succeed. Circuit-breaker short-circuits and rate-limit
// rejections are transient at that level even though the client does not
// retry them itself.
func RowRetryable(err error) bool {
	if errors.Is(err, breaker.ErrOpen) {
		return true
	}
	switch CategoryOf(err) {
	case ErrCategoryRateLimit, ErrCategoryServer:
		return true
	case "":
		// Not a classified provider error; defer to the error's own
		// classification when it carries one.
		var r interface{ IsRetryable() bool }
		if errors.As(err, &r) {
			return r.IsRetryable()
		}
	}
	return false
}

// categoryForStatus maps provider HTTP status codes to error categories.
func categoryForStatus(statusCode int) ErrorCategory {
	switch statusCode {
	case http.StatusBadRequest:
		return ErrCategoryInvalidReq
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrCategoryAuth
	case http.StatusTooManyRequests:
		return ErrCategoryRateLimit
	default:
		if statusCode >= 500 {
			return ErrCategoryServer
		}
		return ErrCategoryInvalidReq
	}
}
