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

package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter is a process-local Limiter. Suitable for a single worker
// process; use the redis-backed limiter when several processes share one
// provider quota.
type MemoryLimiter struct {
	mu      sync.Mutex
	limits  Limits
	windows map[string]*memWindow

	now func() time.Time // test hook
}

type memWindow struct {
	start    time.Time
	requests int
	tokens   int
}

// NewMemoryLimiter returns a limiter enforcing the given per-caller limits.
func NewMemoryLimiter(limits Limits) *MemoryLimiter {
	return &MemoryLimiter{
		limits:  limits,
		windows: make(map[string]*memWindow),
		now:     time.Now,
	}
}

// current returns the caller's window for the current minute, superseding a
// stale one. Callers hold l.mu.
func (l *MemoryLimiter) current(caller string) *memWindow {
	start := windowStart(l.now())
	w := l.windows[caller]
	if w == nil || !w.start.Equal(start) {
		w = &memWindow{start: start}
		l.windows[caller] = w
	}
	return w
}

// Check implements Limiter.
func (l *MemoryLimiter) Check(_ context.Context, caller string, estimatedTokens int) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.current(caller)
	if w.requests+1 > l.limits.RequestsPerMinute {
		return Decision{Reason: "requests"}
	}
	if w.tokens+estimatedTokens > l.limits.TokensPerMinute {
		return Decision{Reason: "tokens"}
	}
	w.requests++
	w.tokens += estimatedTokens
	return admitted
}

// ReconcileUsage implements Limiter. The delta lands in the caller's current
// window; if the wall clock rolled over since the estimate was recorded, the
// stale window is already ignored and the adjustment is a no-op there.
func (l *MemoryLimiter) ReconcileUsage(_ context.Context, caller string, estimatedTokens, inputTokens, outputTokens int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.current(caller)
	w.tokens += inputTokens + outputTokens - estimatedTokens
	if w.tokens < 0 {
		w.tokens = 0
	}
}
