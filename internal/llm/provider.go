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

// Package llm issues single-row completion requests to a text-generation
// provider, applying template substitution, rate-limit admission and
// retry/circuit-breaker protection.
package llm

import "context"

// Usage is the token consumption reported by the provider for one request.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Result is one completed generation.
type Result struct {
	Text  string
	Usage Usage
}

// Provider issues one completion request to a concrete model backend.
// Implementations classify every failure as an *Error so callers can make
// retry decisions without knowing the backend.
type Provider interface {
	// Name identifies the backend in logs and metrics.
	Name() string

	// Generate runs one completion for the given prompt text.
	Generate(ctx context.Context, prompt string) (*Result, error)
}
