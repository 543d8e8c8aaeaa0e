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

// This file contains the orchestrator that fans rows out to workers.

package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/rowforge/batch-engine/internal/llm"
	"github.com/rowforge/batch-engine/internal/metrics"
	"github.com/rowforge/batch-engine/internal/retry"
	"github.com/rowforge/batch-engine/internal/util/logging"
)

const (
	defaultConcurrency = 5
	defaultRowBackoff  = time.Second
)

// RowProcessor is the unit the orchestrator calls per row. Implemented by
// *llm.Client; tests substitute stubs.
type RowProcessor interface {
	ProcessRow(ctx context.Context, promptTemplate string, row map[string]string) (*llm.RowOutput, error)
}

// ProgressFunc is invoked after each row reaches a terminal state.
type ProgressFunc func(processed, total int, elapsed time.Duration)

// Options configures one batch run.
type Options struct {
	// ID identifies the batch. Generated when empty.
	ID string

	// Prompt is the template applied to every row. Mandatory.
	Prompt string

	// Rows are the input records, one result slot each, in this order.
	Rows []map[string]string

	// MaxRetries is the per-row retry budget for transient failures,
	// independent between rows. Zero disables row retries.
	MaxRetries int

	// Concurrency bounds the number of rows in flight. Default: 5.
	Concurrency int

	// RowBackoff seeds the exponential delay between row retries.
	// Default: 1s.
	RowBackoff time.Duration
}

// Processor owns one BatchJob for its whole lifecycle. Construct with New,
// run with Process (once), poll with Results/Stats/Status from any
// goroutine.
type Processor struct {
	client RowProcessor
	opts   Options

	mu        sync.Mutex
	status    Status
	results   []RowResult
	observers []ProgressFunc
	started   time.Time
	processed int
	failed    int

	notifyMu sync.Mutex // serializes observer callbacks

	cancelOnce sync.Once
	stop       chan struct{}

	sem chan struct{}
	wg  sync.WaitGroup
}

// New validates opts and allocates one pending RowResult per input row.
func New(client RowProcessor, opts Options) (*Processor, error) {
	if client == nil {
		return nil, fmt.Errorf("batch processor requires a row processor client")
	}
	if opts.Prompt == "" {
		return nil, fmt.Errorf("batch processor requires a prompt template")
	}
	if opts.ID == "" {
		opts.ID = uuid.New().String()
	}
	if opts.MaxRetries < 0 {
		return nil, fmt.Errorf("max retries must be non-negative, got %d", opts.MaxRetries)
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.RowBackoff <= 0 {
		opts.RowBackoff = defaultRowBackoff
	}

	results := make([]RowResult, len(opts.Rows))
	for i, row := range opts.Rows {
		results[i] = RowResult{Index: i, Input: row, Status: RowPending}
	}

	return &Processor{
		client:  client,
		opts:    opts,
		status:  StatusPending,
		results: results,
		stop:    make(chan struct{}),
		sem:     make(chan struct{}, opts.Concurrency),
	}, nil
}

// Process runs every row to a terminal state and then settles the batch
// status. It may be called once per Processor; rows run concurrently up to
// the configured bound, and one row's permanent failure never aborts the
// others.
//
// Cancel stops new rows from starting; rows already in flight finish and
// are recorded normally. Cancelling ctx also stops new rows, but
// additionally aborts the provider calls in flight, which are then
// recorded as row errors.
func (p *Processor) Process(ctx context.Context) error {
	p.mu.Lock()
	if p.status != StatusPending {
		p.mu.Unlock()
		return fmt.Errorf("batch %s already started (status %s)", p.opts.ID, p.status)
	}
	p.status = StatusProcessing
	p.started = time.Now()
	p.mu.Unlock()

	logger := klog.FromContext(ctx).WithValues("batchID", p.opts.ID)
	logger.Info("Batch started", "rows", len(p.opts.Rows), "concurrency", p.opts.Concurrency)

dispatch:
	for i := range p.opts.Rows {
		// Cooperative cancellation: rows not yet started stay pending.
		select {
		case <-p.stop:
			break dispatch
		case <-ctx.Done():
			p.Cancel()
			break dispatch
		default:
		}

		select {
		case <-p.stop:
			break dispatch
		case <-ctx.Done():
			p.Cancel()
			break dispatch
		case p.sem <- struct{}{}:
		}

		// The slot and a cancellation can be ready at the same time and the
		// select above picks arbitrarily; re-check so a won slot never
		// starts a row after cancellation was requested.
		select {
		case <-p.stop:
			<-p.sem
			break dispatch
		case <-ctx.Done():
			p.Cancel()
			<-p.sem
			break dispatch
		default:
		}

		p.wg.Add(1)
		go func(index int) {
			rowLogger := logger.WithValues("rowIndex", index)
			rowCtx := klog.NewContext(ctx, rowLogger)
			metrics.IncActiveWorkers()
			defer func() {
				if r := recover(); r != nil {
					rowLogger.Error(fmt.Errorf("%v", r), "Panic recovered in row worker")
					p.finishRow(index, "", llm.Usage{}, fmt.Errorf("internal error: %v", r))
				}
				metrics.DecActiveWorkers()
				<-p.sem
				p.wg.Done()
			}()
			p.runRow(rowCtx, index)
		}(i)
	}

	p.wg.Wait()
	status := p.settle()
	metrics.RecordBatchProcessed(string(status), time.Since(p.started))
	logger.Info("Batch finished", "status", status, "stats", p.Stats())
	return nil
}

// runRow drives one row through its independent retry budget.
func (p *Processor) runRow(ctx context.Context, index int) {
	p.mu.Lock()
	p.results[index].Status = RowProcessing
	row := p.results[index].Input
	p.mu.Unlock()

	out, err := retry.Do(ctx, func(ctx context.Context) (*llm.RowOutput, error) {
		return p.client.ProcessRow(ctx, p.opts.Prompt, row)
	}, retry.Options{
		MaxRetries:   p.opts.MaxRetries,
		InitialDelay: p.opts.RowBackoff,
		ShouldRetry:  llm.RowRetryable,
		OnRetry: func(delay time.Duration, attempt int) {
			metrics.RecordRowRetry()
			p.mu.Lock()
			p.results[index].Retries = attempt
			p.mu.Unlock()
			klog.FromContext(ctx).V(logging.DEBUG).Info("Retrying row", "attempt", attempt, "delay", delay)
		},
	})

	if err != nil {
		p.finishRow(index, "", llm.Usage{}, err)
		return
	}
	p.finishRow(index, out.Text, out.Usage, nil)
}

// finishRow records a row's terminal state and notifies observers.
// notifyMu spans both the counter update and the callbacks, so observers see
// strictly increasing processed counts.
func (p *Processor) finishRow(index int, output string, usage llm.Usage, err error) {
	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()

	p.mu.Lock()
	r := &p.results[index]
	if r.Status == RowSuccess || r.Status == RowError {
		// Already terminal (panic path after a recorded outcome).
		p.mu.Unlock()
		return
	}
	if err != nil {
		r.Status = RowError
		r.Error = err.Error()
		p.failed++
	} else {
		r.Status = RowSuccess
		r.Output = output
		r.Usage = usage
	}
	p.processed++
	processed := p.processed
	total := len(p.results)
	elapsed := time.Since(p.started)
	observers := make([]ProgressFunc, len(p.observers))
	copy(observers, p.observers)
	p.mu.Unlock()

	if err != nil {
		metrics.RecordRowProcessed(metrics.ResultError)
	} else {
		metrics.RecordRowProcessed(metrics.ResultSuccess)
	}

	for _, fn := range observers {
		fn(processed, total, elapsed)
	}
}

// settle decides the batch's terminal status once no more rows will run.
func (p *Processor) settle() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	pending := len(p.results) - p.processed
	switch {
	case p.isCancelled() && pending > 0:
		p.status = StatusCancelled
	case p.failed == 0:
		p.status = StatusCompleted
	case p.failed == len(p.results):
		p.status = StatusFailed
	default:
		p.status = StatusCompletedWithErrors
	}
	return p.status
}

func (p *Processor) isCancelled() bool {
	select {
	case <-p.stop:
		return true
	default:
		return false
	}
}

// Cancel requests cooperative cancellation. Idempotent.
func (p *Processor) Cancel() {
	p.cancelOnce.Do(func() { close(p.stop) })
}

// OnProgress registers a callback invoked after each row completes. Must be
// called before Process.
func (p *Processor) OnProgress(fn ProgressFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, fn)
}

// ProcessRow runs exactly one row end-to-end and returns the generated
// text. It touches no aggregate batch state.
func (p *Processor) ProcessRow(ctx context.Context, row map[string]string) (string, error) {
	out, err := p.client.ProcessRow(ctx, p.opts.Prompt, row)
	if err != nil {
		return "", err
	}
	return out.Text, nil
}

// Results returns a snapshot of per-row results in original row order.
// Callers may poll during processing for partial results.
func (p *Processor) Results() []RowResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]RowResult, len(p.results))
	copy(out, p.results)
	return out
}

// Stats returns aggregate counts consistent with the current results.
func (p *Processor) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Total:     len(p.results),
		Processed: p.processed,
		Failed:    p.failed,
	}
}

// Status returns the batch status.
func (p *Processor) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// ID returns the batch identifier.
func (p *Processor) ID() string {
	return p.opts.ID
}

// TotalRows returns the number of input rows.
func (p *Processor) TotalRows() int {
	return len(p.opts.Rows)
}

// Elapsed returns the wall-clock time since Process started, zero before.
func (p *Processor) Elapsed() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started.IsZero() {
		return 0
	}
	return time.Since(p.started)
}
