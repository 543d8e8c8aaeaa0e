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
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newChatServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *OpenAIProvider) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p, err := NewOpenAIProvider(OpenAIConfig{
		BaseURL: srv.URL,
		APIKey:  "test-key",
		Model:   "test-model",
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewOpenAIProvider: %v", err)
	}
	return srv, p
}

func TestOpenAIConfigValidation(t *testing.T) {
	_, err := NewOpenAIProvider(OpenAIConfig{BaseURL: "http://x", Model: "m"})
	if CategoryOf(err) != ErrCategoryConfig {
		t.Errorf("missing API key: category = %q, want %q", CategoryOf(err), ErrCategoryConfig)
	}
	_, err = NewOpenAIProvider(OpenAIConfig{APIKey: "k", Model: "m"})
	if CategoryOf(err) != ErrCategoryConfig {
		t.Errorf("missing base URL: category = %q, want %q", CategoryOf(err), ErrCategoryConfig)
	}
}

func TestOpenAIGenerate(t *testing.T) {
	var gotAuth, gotPrompt, gotModel string
	_, p := newChatServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var req chatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		gotModel = req.Model
		if len(req.Messages) == 1 {
			gotPrompt = req.Messages[0].Content
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "generated text"}},
			},
			"usage": map[string]int{"prompt_tokens": 12, "completion_tokens": 7},
		})
	})

	res, err := p.Generate(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Text != "generated text" {
		t.Errorf("text = %q", res.Text)
	}
	if res.Usage.InputTokens != 12 || res.Usage.OutputTokens != 7 {
		t.Errorf("usage = %+v, want 12/7", res.Usage)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotPrompt != "hello world" || gotModel != "test-model" {
		t.Errorf("request carried prompt=%q model=%q", gotPrompt, gotModel)
	}
}

func TestOpenAIErrorClassification(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorCategory
	}{
		{http.StatusUnauthorized, ErrCategoryAuth},
		{http.StatusForbidden, ErrCategoryAuth},
		{http.StatusTooManyRequests, ErrCategoryRateLimit},
		{http.StatusInternalServerError, ErrCategoryServer},
		{http.StatusBadGateway, ErrCategoryServer},
		{http.StatusServiceUnavailable, ErrCategoryServer},
		{http.StatusBadRequest, ErrCategoryInvalidReq},
	}
	for _, tc := range tests {
		status := tc.status
		_, p := newChatServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"type":"test","message":"boom"}}`))
		})
		_, err := p.Generate(context.Background(), "x")
		if got := CategoryOf(err); got != tc.want {
			t.Errorf("status %d: category = %q, want %q", tc.status, got, tc.want)
		}
	}
}

func TestOpenAIInvalidResponse(t *testing.T) {
	_, p := newChatServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	})
	_, err := p.Generate(context.Background(), "x")
	if got := CategoryOf(err); got != ErrCategoryInvalidResp {
		t.Errorf("empty choices: category = %q, want %q", got, ErrCategoryInvalidResp)
	}

	var e *Error
	if errors.As(err, &e) && e.IsRetryable() {
		t.Error("invalid response must not be retryable")
	}
}

func TestOpenAINetworkError(t *testing.T) {
	srv, p := newChatServer(t, func(w http.ResponseWriter, r *http.Request) {})
	srv.Close()

	_, err := p.Generate(context.Background(), "x")
	if got := CategoryOf(err); got != ErrCategoryServer {
		t.Errorf("network error: category = %q, want %q", got, ErrCategoryServer)
	}
}

func TestOpenAICancellationPassesThrough(t *testing.T) {
	release := make(chan struct{})
	_, p := newChatServer(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
	})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := p.Generate(ctx, "x")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
