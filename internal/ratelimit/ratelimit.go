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

// Package ratelimit provides fixed-window admission control per caller,
// tracking both request counts and token counts.
//
// The window granularity is one minute, keyed by wall-clock truncation; no
// sliding-window smoothing. Admission control here is a cost-control
// mechanism, not a security boundary: implementations backed by an external
// store fail open when the store is unreachable.
package ratelimit

import (
	"context"
	"time"
)

// Window is the admission window granularity.
const Window = time.Minute

// Limits are the per-caller ceilings for one window.
type Limits struct {
	RequestsPerMinute int
	TokensPerMinute   int
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed bool
	// Reason names the exhausted ceiling ("requests" or "tokens") when the
	// request was rejected. Empty when allowed.
	Reason string
}

var admitted = Decision{Allowed: true}

// Limiter decides whether a caller may issue another request in the current
// window.
type Limiter interface {
	// Check admits or rejects one request carrying estimatedTokens. On
	// admission the request and the token estimate are recorded in the
	// caller's current window; a rejection records nothing.
	Check(ctx context.Context, caller string, estimatedTokens int) Decision

	// ReconcileUsage replaces a previously recorded token estimate with the
	// actual consumption once the request has completed. Each call applies
	// its own estimate/actual delta exactly once; it never retroactively
	// changes prior admission decisions.
	ReconcileUsage(ctx context.Context, caller string, estimatedTokens, inputTokens, outputTokens int)
}

// windowStart truncates now to the window boundary.
func windowStart(now time.Time) time.Time {
	return now.Truncate(Window)
}
