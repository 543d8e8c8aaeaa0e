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

// Package progress derives percent-complete and time-remaining estimates
// from processed/total/elapsed snapshots.
package progress

import (
	"sync"
	"time"
)

// Stats is a point-in-time progress summary.
type Stats struct {
	Percent   float64       `json:"percent"`
	Remaining int           `json:"remaining"`
	ETA       time.Duration `json:"eta_ns"`
}

// Tracker keeps only the most recent snapshot; history is not accumulated.
// One writer updates it after each row transition, any number of readers
// may poll it concurrently.
type Tracker struct {
	mu        sync.RWMutex
	processed int
	total     int
	elapsed   time.Duration
}

// NewTracker returns a tracker with an empty snapshot: zero percent, zero ETA.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Update overwrites the snapshot. Negative inputs are clamped to zero.
func (t *Tracker) Update(processed, total int, elapsed time.Duration) {
	if processed < 0 {
		processed = 0
	}
	if total < 0 {
		total = 0
	}
	if elapsed < 0 {
		elapsed = 0
	}
	t.mu.Lock()
	t.processed = processed
	t.total = total
	t.elapsed = elapsed
	t.mu.Unlock()
}

// Percent returns processed/total*100 clamped to [0, 100]. A zero total
// reports 0.
func (t *Tracker) Percent() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.percentLocked()
}

func (t *Tracker) percentLocked() float64 {
	if t.total == 0 || t.processed == 0 {
		return 0
	}
	if t.processed >= t.total {
		return 100
	}
	return float64(t.processed) / float64(t.total) * 100
}

// ETA estimates the remaining wall-clock time by extrapolating the average
// per-row duration so far. It returns 0 when nothing has been processed yet:
// with no completed rows there is no rate to extrapolate from.
func (t *Tracker) ETA() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.etaLocked()
}

func (t *Tracker) etaLocked() time.Duration {
	if t.processed == 0 {
		return 0
	}
	remaining := t.total - t.processed
	if remaining <= 0 {
		return 0
	}
	perRow := t.elapsed / time.Duration(t.processed)
	return perRow * time.Duration(remaining)
}

// GetStats returns percent, remaining row count and ETA from one consistent
// read of the snapshot.
func (t *Tracker) GetStats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	remaining := t.total - t.processed
	if remaining < 0 {
		remaining = 0
	}
	return Stats{
		Percent:   t.percentLocked(),
		Remaining: remaining,
		ETA:       t.etaLocked(),
	}
}
