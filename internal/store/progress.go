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

// Package store persists batch progress snapshots so status can be polled
// from outside the worker process while a run is in flight.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"k8s.io/klog/v2"

	"github.com/rowforge/batch-engine/internal/batch"
	"github.com/rowforge/batch-engine/internal/progress"
)

const progressKeysPrefix = "rowforge:progress:"

// Snapshot is the externally visible state of one batch at a moment in time.
type Snapshot struct {
	BatchID   string         `json:"batch_id"`
	Status    batch.Status   `json:"status"`
	Stats     batch.Stats    `json:"stats"`
	Progress  progress.Stats `json:"progress"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// ProgressStore writes snapshots to redis with a TTL. Entries expire on
// their own once a run is finished and nobody refreshes them.
type ProgressStore struct {
	client *goredis.Client
	ttl    time.Duration
}

// NewProgressStore wraps an existing redis client; the caller keeps
// ownership of the client's lifecycle.
func NewProgressStore(client *goredis.Client, ttl time.Duration) (*ProgressStore, error) {
	if client == nil {
		return nil, fmt.Errorf("nil redis client")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("ttl must be positive, got %v", ttl)
	}
	return &ProgressStore{client: client, ttl: ttl}, nil
}

func progressKey(batchID string) string {
	return progressKeysPrefix + batchID
}

// Set stores or replaces the snapshot for its batch.
func (s *ProgressStore) Set(ctx context.Context, snap *Snapshot) error {
	if snap == nil || snap.BatchID == "" {
		return fmt.Errorf("snapshot requires a batch ID")
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, progressKey(snap.BatchID), data, s.ttl).Err(); err != nil {
		klog.FromContext(ctx).Error(err, "Failed to store progress snapshot", "batchID", snap.BatchID)
		return err
	}
	return nil
}

// Get retrieves the snapshot for a batch. A missing entry returns (nil, nil).
func (s *ProgressStore) Get(ctx context.Context, batchID string) (*Snapshot, error) {
	data, err := s.client.Get(ctx, progressKey(batchID)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("corrupt progress snapshot for %s: %w", batchID, err)
	}
	return &snap, nil
}

// Delete removes the snapshot for a completed or cancelled batch.
func (s *ProgressStore) Delete(ctx context.Context, batchID string) error {
	return s.client.Del(ctx, progressKey(batchID)).Err()
}
