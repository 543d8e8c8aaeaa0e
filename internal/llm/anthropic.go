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
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"k8s.io/klog/v2"

	"github.com/rowforge/batch-engine/internal/util/logging"
)

// AnthropicConfig configures the Anthropic Messages API backend.
type AnthropicConfig struct {
	APIKey    string        // mandatory
	Model     string        // default: claude-sonnet-4-20250514
	MaxTokens int           // completion budget per request (default: 4096)
	Timeout   time.Duration // per-request wall-clock timeout (default: 2 minutes)
}

// AnthropicProvider implements Provider on the official SDK. The SDK's own
// retry loop is disabled; the caller's retry policy decides.
type AnthropicProvider struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewAnthropicProvider validates the credential and builds the SDK client.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, newError(ErrCategoryConfig, nil, "anthropic provider requires an API key")
	}
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-20250514"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Minute
	}

	client := anthropic.NewClient(
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(cfg.Timeout),
		option.WithMaxRetries(0),
	)
	return &AnthropicProvider{
		client:    client,
		model:     anthropic.Model(cfg.Model),
		maxTokens: int64(cfg.MaxTokens),
	}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

// Generate implements Provider.
func (p *AnthropicProvider) Generate(ctx context.Context, prompt string) (*Result, error) {
	msg, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     p.model,
		MaxTokens: p.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, p.classifyError(ctx, err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(text.Text)
		}
	}
	if sb.Len() == 0 {
		klog.FromContext(ctx).Error(nil, "Provider response carries no text blocks",
			"provider", p.Name(), "stopReason", msg.StopReason)
		return nil, newError(ErrCategoryInvalidResp, nil, "provider response contains no text")
	}

	return &Result{
		Text: sb.String(),
		Usage: Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}, nil
}

func (p *AnthropicProvider) classifyError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}

	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		category := categoryForStatus(apierr.StatusCode)
		klog.FromContext(ctx).V(logging.DEBUG).Info("Provider request failed",
			"provider", p.Name(), "status", apierr.StatusCode, "category", category)
		return newError(category, err, "anthropic API error (HTTP %d): %v", apierr.StatusCode, err)
	}

	// No API error envelope: network-level failure or timeout.
	return newError(ErrCategoryServer, err, "request failed: %v", err)
}
