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
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rowforge/batch-engine/internal/breaker"
	"github.com/rowforge/batch-engine/internal/ratelimit"
)

// stubProvider records prompts and replays scripted outcomes.
type stubProvider struct {
	mu      sync.Mutex
	prompts []string
	errs    []error // consumed per call; nil entry means success
	text    string
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Generate(_ context.Context, prompt string) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, prompt)
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &Result{Text: s.text, Usage: Usage{InputTokens: 10, OutputTokens: 5}}, nil
}

func fastClientConfig() ClientConfig {
	return ClientConfig{
		CallerID:       "tester",
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
	}
}

func TestNewClientRequiresProvider(t *testing.T) {
	_, err := NewClient(nil, nil, ClientConfig{})
	if CategoryOf(err) != ErrCategoryConfig {
		t.Errorf("category = %q, want %q", CategoryOf(err), ErrCategoryConfig)
	}
}

func TestProcessRowSubstitutesTemplate(t *testing.T) {
	stub := &stubProvider{text: "ok"}
	c, err := NewClient(stub, nil, fastClientConfig())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	out, err := c.ProcessRow(context.Background(),
		"Say the email: {{email}}", map[string]string{"email": "a@b.com"})
	if err != nil {
		t.Fatalf("ProcessRow: %v", err)
	}
	if out.Text == "" {
		t.Error("expected non-empty text")
	}

	// The prompt sent downstream must be fully substituted.
	if len(stub.prompts) != 1 {
		t.Fatalf("provider saw %d prompts, want 1", len(stub.prompts))
	}
	if got := stub.prompts[0]; got != "Say the email: a@b.com" || strings.Contains(got, "{{") {
		t.Errorf("downstream prompt = %q", got)
	}
}

func TestProcessRowRateLimited(t *testing.T) {
	stub := &stubProvider{text: "ok"}
	limiter := ratelimit.NewMemoryLimiter(ratelimit.Limits{RequestsPerMinute: 1, TokensPerMinute: 100000})
	c, err := NewClient(stub, limiter, fastClientConfig())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	ctx := context.Background()
	if _, err := c.ProcessRow(ctx, "p", nil); err != nil {
		t.Fatalf("first row: %v", err)
	}
	_, err = c.ProcessRow(ctx, "p", nil)
	if CategoryOf(err) != ErrCategoryRateLimit {
		t.Fatalf("second row: category = %q, want %q", CategoryOf(err), ErrCategoryRateLimit)
	}
	// A rejected request never reaches the provider.
	if len(stub.prompts) != 1 {
		t.Errorf("provider saw %d prompts, want 1", len(stub.prompts))
	}
}

func TestProcessRowRetriesTransient(t *testing.T) {
	stub := &stubProvider{
		text: "recovered",
		errs: []error{
			newError(ErrCategoryServer, nil, "502"),
			newError(ErrCategoryServer, nil, "503"),
			nil,
		},
	}
	c, err := NewClient(stub, nil, fastClientConfig())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	out, err := c.ProcessRow(context.Background(), "p", nil)
	if err != nil {
		t.Fatalf("ProcessRow: %v", err)
	}
	if out.Text != "recovered" {
		t.Errorf("text = %q", out.Text)
	}
	if len(stub.prompts) != 3 {
		t.Errorf("provider saw %d calls, want 3", len(stub.prompts))
	}
}

func TestProcessRowNegativeMaxRetriesDisablesRetries(t *testing.T) {
	stub := &stubProvider{errs: []error{newError(ErrCategoryServer, nil, "500")}}
	cfg := fastClientConfig()
	cfg.MaxRetries = -1
	c, _ := NewClient(stub, nil, cfg)

	_, err := c.ProcessRow(context.Background(), "p", nil)
	if CategoryOf(err) != ErrCategoryServer {
		t.Fatalf("category = %q, want %q", CategoryOf(err), ErrCategoryServer)
	}
	if len(stub.prompts) != 1 {
		t.Errorf("provider saw %d calls, want 1", len(stub.prompts))
	}
}

func TestProcessRowDoesNotRetryAuthError(t *testing.T) {
	stub := &stubProvider{errs: []error{newError(ErrCategoryAuth, nil, "401")}}
	c, _ := NewClient(stub, nil, fastClientConfig())

	_, err := c.ProcessRow(context.Background(), "p", nil)
	if CategoryOf(err) != ErrCategoryAuth {
		t.Fatalf("category = %q, want %q", CategoryOf(err), ErrCategoryAuth)
	}
	if len(stub.prompts) != 1 {
		t.Errorf("provider saw %d calls, want 1", len(stub.prompts))
	}
}

func TestProcessRowBreakerOpens(t *testing.T) {
	failing := newError(ErrCategoryServer, nil, "500")
	stub := &stubProvider{errs: []error{failing, failing, failing, failing, failing, failing}}
	cfg := fastClientConfig()
	cfg.BreakerThreshold = 3
	cfg.BreakerTimeout = time.Hour
	c, _ := NewClient(stub, nil, cfg)

	// First row burns its attempts (1 + 2 retries) and opens the breaker.
	if _, err := c.ProcessRow(context.Background(), "p", nil); err == nil {
		t.Fatal("expected failure")
	}
	if !c.Breaker().IsOpen() {
		t.Fatal("breaker should be open after three consecutive failures")
	}

	// The next row is short-circuited without touching the provider.
	seen := len(stub.prompts)
	_, err := c.ProcessRow(context.Background(), "p", nil)
	if !errors.Is(err, breaker.ErrOpen) {
		t.Fatalf("expected breaker.ErrOpen, got %v", err)
	}
	if len(stub.prompts) != seen {
		t.Error("provider was called while the breaker was open")
	}
	if !RowRetryable(err) {
		t.Error("a short-circuited row should stay retryable at the row level")
	}
}

func TestProcessRowReconcilesUsage(t *testing.T) {
	stub := &stubProvider{text: strings.Repeat("x", 10)}
	limiter := ratelimit.NewMemoryLimiter(ratelimit.Limits{RequestsPerMinute: 100, TokensPerMinute: 1000})
	c, _ := NewClient(stub, limiter, fastClientConfig())

	ctx := context.Background()
	// ~1000 chars estimates to ~251 tokens; the stub reports 15 actual, so
	// reconciliation frees the difference and many more rows fit.
	longPrompt := strings.Repeat("a", 1000)
	for i := 0; i < 4; i++ {
		if _, err := c.ProcessRow(ctx, longPrompt, nil); err != nil {
			t.Fatalf("row %d: %v", i, err)
		}
	}
}
