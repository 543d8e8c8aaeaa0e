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
	"context"
	"time"

	"golang.org/x/time/rate"
	"k8s.io/klog/v2"

	"github.com/rowforge/batch-engine/internal/breaker"
	"github.com/rowforge/batch-engine/internal/ratelimit"
	"github.com/rowforge/batch-engine/internal/retry"
	"github.com/rowforge/batch-engine/internal/template"
	"github.com/rowforge/batch-engine/internal/util/logging"
)

// ClientConfig tunes the per-row request pipeline.
type ClientConfig struct {
	// CallerID identifies the quota owner for rate-limit admission.
	CallerID string

	// MaxRetries bounds the client's internal retry loop around each
	// provider call. Only transient provider failures are retried here;
	// rate-limit rejections surface to the caller. Zero selects the
	// default of 2; negative disables the internal retries.
	MaxRetries int

	// InitialBackoff seeds the exponential retry delay. Default: 1s.
	InitialBackoff time.Duration

	// RequestsPerSecond smooths outbound request dispatch, complementary to
	// the per-minute admission window. Zero disables pacing.
	RequestsPerSecond float64

	// BreakerThreshold is the consecutive-failure count that opens the
	// circuit. Default: 5.
	BreakerThreshold int

	// BreakerTimeout is the cooldown before the circuit probes recovery.
	// Default: 30s.
	BreakerTimeout time.Duration
}

func (c *ClientConfig) setDefaults() {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	} else if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = time.Second
	}
	if c.BreakerThreshold == 0 {
		c.BreakerThreshold = 5
	}
	if c.BreakerTimeout == 0 {
		c.BreakerTimeout = 30 * time.Second
	}
}

// RowOutput is the outcome of processing one row end-to-end.
type RowOutput struct {
	Text  string
	Usage Usage
}

// Client turns one input row into one completion: template substitution,
// rate-limit admission, outbound pacing, then the provider call wrapped in
// retry and circuit-breaker protection.
//
// One Client is shared by all workers of a batch; the breaker state and the
// pacer are the shared pieces, and both are safe for concurrent use.
type Client struct {
	provider Provider
	limiter  ratelimit.Limiter
	brk      *breaker.Breaker
	pacer    *rate.Limiter
	cfg      ClientConfig
}

// NewClient wires a provider with admission control and failure protection.
// The limiter may be nil, disabling admission control entirely.
func NewClient(provider Provider, limiter ratelimit.Limiter, cfg ClientConfig) (*Client, error) {
	if provider == nil {
		return nil, newError(ErrCategoryConfig, nil, "client requires an initialized provider")
	}
	cfg.setDefaults()

	var pacer *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		pacer = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Client{
		provider: provider,
		limiter:  limiter,
		brk:      breaker.New(cfg.BreakerThreshold, cfg.BreakerTimeout),
		pacer:    pacer,
		cfg:      cfg,
	}, nil
}

// Breaker exposes the circuit state for introspection and health reporting.
func (c *Client) Breaker() *breaker.Breaker {
	return c.brk
}

// EstimateTokens is the pre-call token estimate used for admission: the
// usual four-characters-per-token heuristic on the substituted prompt.
// Actual usage reconciles the window after the call.
func EstimateTokens(prompt string) int {
	return len(prompt)/4 + 1
}

// ProcessRow substitutes row values into promptTemplate and runs one
// completion. Failures come back classified: rate-limit rejections as
// ErrCategoryRateLimit, circuit short-circuits as breaker.ErrOpen, provider
// failures per the taxonomy in errors.go.
func (c *Client) ProcessRow(ctx context.Context, promptTemplate string, row map[string]string) (*RowOutput, error) {
	logger := klog.FromContext(ctx)

	prompt := template.Render(promptTemplate, row)
	estimated := EstimateTokens(prompt)

	if c.limiter != nil {
		if d := c.limiter.Check(ctx, c.cfg.CallerID, estimated); !d.Allowed {
			return nil, newError(ErrCategoryRateLimit, nil,
				"rate limit exceeded for %q (%s)", c.cfg.CallerID, d.Reason)
		}
	}

	if c.pacer != nil {
		if err := c.pacer.Wait(ctx); err != nil {
			return nil, err
		}
	}

	result, err := retry.Do(ctx, func(ctx context.Context) (*Result, error) {
		var res *Result
		execErr := c.brk.Execute(func() error {
			var genErr error
			res, genErr = c.provider.Generate(ctx, prompt)
			return genErr
		})
		return res, execErr
	}, retry.Options{
		MaxRetries:   c.cfg.MaxRetries,
		InitialDelay: c.cfg.InitialBackoff,
		ShouldRetry:  IsTransient,
		OnRetry: func(delay time.Duration, attempt int) {
			logger.V(logging.DEBUG).Info("Retrying provider call",
				"provider", c.provider.Name(), "attempt", attempt, "delay", delay)
		},
	})
	if err != nil {
		return nil, err
	}

	if c.limiter != nil {
		c.limiter.ReconcileUsage(ctx, c.cfg.CallerID, estimated,
			result.Usage.InputTokens, result.Usage.OutputTokens)
	}

	return &RowOutput{Text: result.Text, Usage: result.Usage}, nil
}
