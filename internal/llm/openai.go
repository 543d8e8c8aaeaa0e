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
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"k8s.io/klog/v2"

	"github.com/rowforge/batch-engine/internal/util/logging"
	utiltls "github.com/rowforge/batch-engine/internal/util/tls"
)

const chatCompletionsPath = "/v1/chat/completions"

// OpenAIConfig configures an OpenAI-compatible chat-completions backend.
// Any gateway speaking the same wire format works (vLLM, llm-d, OpenAI).
type OpenAIConfig struct {
	BaseURL string        // e.g. "https://api.openai.com" or a local gateway
	APIKey  string        // bearer credential, mandatory
	Model   string        // model identifier sent with every request
	Timeout time.Duration // per-request wall-clock timeout (default: 2 minutes)

	MaxIdleConns    int           // connection pool size (default: 100)
	IdleConnTimeout time.Duration // idle connection lifetime (default: 90 seconds)

	// Certificates is only consulted for gateways behind a private CA or
	// requiring mutual TLS. Empty means the system trust store.
	Certificates utiltls.Certificates
}

// OpenAIProvider implements Provider against an OpenAI-compatible endpoint.
//
// Retries are owned by the caller's retry policy; resty's built-in retry
// stays disabled so one Generate call maps to exactly one HTTP request.
type OpenAIProvider struct {
	client *resty.Client
	model  string
}

// NewOpenAIProvider validates the credential and builds the HTTP client.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, newError(ErrCategoryConfig, nil, "openai provider requires an API key")
	}
	if cfg.BaseURL == "" {
		return nil, newError(ErrCategoryConfig, nil, "openai provider requires a base URL")
	}
	if cfg.Model == "" {
		return nil, newError(ErrCategoryConfig, nil, "openai provider requires a model")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 100
	}
	if cfg.IdleConnTimeout == 0 {
		cfg.IdleConnTimeout = 90 * time.Second
	}

	// Start from Go's secure transport defaults, raise the per-host pool
	// since batch workloads hit one host with many concurrent requests.
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = cfg.MaxIdleConns
	transport.MaxIdleConnsPerHost = cfg.MaxIdleConns
	transport.IdleConnTimeout = cfg.IdleConnTimeout
	if !cfg.Certificates.IsEmpty() {
		tlsConf, err := utiltls.ClientConfig(cfg.Certificates)
		if err != nil {
			return nil, newError(ErrCategoryConfig, err, "openai provider tls setup failed: %v", err)
		}
		transport.TLSClientConfig = tlsConf
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetAuthToken(cfg.APIKey).
		SetTransport(transport)

	return &OpenAIProvider{client: client, model: cfg.Model}, nil
}

func (p *OpenAIProvider) Name() string { return "openai" }

type chatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Generate implements Provider.
func (p *OpenAIProvider) Generate(ctx context.Context, prompt string) (*Result, error) {
	logger := klog.FromContext(ctx)

	body := chatCompletionRequest{
		Model:    p.model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	}

	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(body).
		Post(chatCompletionsPath)
	if err != nil {
		return nil, p.classifyRequestError(ctx, err)
	}

	if resp.StatusCode() != http.StatusOK {
		return nil, p.classifyErrorResponse(ctx, resp.StatusCode(), resp.Body())
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		logger.Error(err, "Provider returned unparseable body", "provider", p.Name(), "bodySize", len(resp.Body()))
		return nil, newError(ErrCategoryInvalidResp, err, "failed to parse provider response: %v", err)
	}
	if len(parsed.Choices) == 0 {
		logger.Error(nil, "Provider response carries no choices", "provider", p.Name())
		return nil, newError(ErrCategoryInvalidResp, nil, "provider response contains no choices")
	}

	return &Result{
		Text: parsed.Choices[0].Message.Content,
		Usage: Usage{
			InputTokens:  parsed.Usage.PromptTokens,
			OutputTokens: parsed.Usage.CompletionTokens,
		},
	}, nil
}

// classifyRequestError maps transport-level failures. Caller cancellation is
// passed through unclassified so retry policies stop immediately.
func (p *OpenAIProvider) classifyRequestError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return newError(ErrCategoryServer, err, "request timed out")
	}
	return newError(ErrCategoryServer, err, "request failed: %v", err)
}

// classifyErrorResponse parses the OpenAI-style error envelope and maps the
// status code onto the error taxonomy.
func (p *OpenAIProvider) classifyErrorResponse(ctx context.Context, statusCode int, body []byte) error {
	var envelope struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}

	message := string(body)
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		message = envelope.Error.Message
	}

	category := categoryForStatus(statusCode)
	klog.FromContext(ctx).V(logging.DEBUG).Info("Provider request failed",
		"provider", p.Name(), "status", statusCode, "category", category)

	return newError(category, fmt.Errorf("status %d: %s", statusCode, message),
		"HTTP %d: %s", statusCode, message)
}
