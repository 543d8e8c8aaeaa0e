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

// Package batch drives one processing run from pending to a terminal
// status, producing one RowResult per input row.
package batch

import "github.com/rowforge/batch-engine/internal/llm"

// Status of a whole batch. Transitions are monotonic along
// pending -> processing -> one of the terminal states; there is no way back.
type Status string

const (
	StatusPending             Status = "pending"
	StatusProcessing          Status = "processing"
	StatusCompleted           Status = "completed"
	StatusCompletedWithErrors Status = "completed_with_errors"
	StatusFailed              Status = "failed"
	StatusCancelled           Status = "cancelled"
)

// Terminal reports whether no further status transition can occur.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCompletedWithErrors, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// RowStatus of one row within a batch.
type RowStatus string

const (
	RowPending    RowStatus = "pending"
	RowProcessing RowStatus = "processing"
	RowSuccess    RowStatus = "success"
	RowError      RowStatus = "error"
)

// RowResult is the outcome of processing one row. Index is the position in
// the original row sequence; results are always reported in that order no
// matter which network call returned first.
type RowResult struct {
	Index   int               `json:"index"`
	Input   map[string]string `json:"input"`
	Output  string            `json:"output"`
	Status  RowStatus         `json:"status"`
	Error   string            `json:"error,omitempty"`
	Retries int               `json:"retries"`
	Usage   llm.Usage         `json:"usage"`
}

// Stats is a point-in-time aggregate over the batch's rows. Processed counts
// rows in a terminal state (success or error); Failed counts the errors
// among them.
type Stats struct {
	Total     int `json:"total"`
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}
