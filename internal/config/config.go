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

// The batch engine's configuration definitions.

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Duration decodes yaml values written either as strings like "30s" or as
// plain nanosecond integers.
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration %v", value.Value)
	}
	*d = Duration(n)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

type Config struct {
	// Provider selection and credentials.
	Provider string `json:"provider" yaml:"provider"`
	BaseURL  string `json:"base_url" yaml:"base_url"`
	APIKey   string `json:"api_key" yaml:"api_key"`
	Model    string `json:"model" yaml:"model"`

	// TLS material for self-hosted gateways. All optional.
	TLSCertFile   string `json:"tls_cert_file" yaml:"tls_cert_file"`
	TLSKeyFile    string `json:"tls_key_file" yaml:"tls_key_file"`
	TLSCACertFile string `json:"tls_ca_cert_file" yaml:"tls_ca_cert_file"`
	TLSInsecure   bool   `json:"tls_insecure_skip_verify" yaml:"tls_insecure_skip_verify"`

	// Per-request behavior.
	RequestTimeout Duration `json:"request_timeout" yaml:"request_timeout"`
	MaxTokens      int      `json:"max_tokens" yaml:"max_tokens"`

	// Batch behavior. MaxRetries is the per-row retry budget; an explicit
	// zero disables row retries.
	MaxWorkers int      `json:"max_workers" yaml:"max_workers"`
	MaxRetries int      `json:"max_retries" yaml:"max_retries"`
	RowBackoff Duration `json:"row_backoff" yaml:"row_backoff"`

	// Admission control and pacing.
	CallerID          string  `json:"caller_id" yaml:"caller_id"`
	RequestsPerMinute int     `json:"requests_per_minute" yaml:"requests_per_minute"`
	TokensPerMinute   int     `json:"tokens_per_minute" yaml:"tokens_per_minute"`
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"`

	// Circuit breaker.
	BreakerThreshold int      `json:"breaker_threshold" yaml:"breaker_threshold"`
	BreakerTimeout   Duration `json:"breaker_timeout" yaml:"breaker_timeout"`

	// Shared state. Empty RedisURL keeps rate limiting process-local and
	// disables progress snapshots.
	RedisURL     string   `json:"redis_url" yaml:"redis_url"`
	RedisTimeout Duration `json:"redis_timeout" yaml:"redis_timeout"`
	ProgressTTL  Duration `json:"progress_ttl" yaml:"progress_ttl"`

	MetricsAddress string `json:"metrics_address" yaml:"metrics_address"`
}

// NewConfig returns a Config with default values.
func NewConfig() *Config {
	return &Config{
		Provider:          ProviderOpenAI,
		BaseURL:           "https://api.openai.com",
		Model:             "gpt-4o-mini",
		RequestTimeout:    Duration(2 * time.Minute),
		MaxTokens:         4096,
		MaxWorkers:        5,
		MaxRetries:        3,
		RowBackoff:        Duration(time.Second),
		CallerID:          "default",
		RequestsPerMinute: 60,
		TokensPerMinute:   90_000,
		BreakerThreshold:  5,
		BreakerTimeout:    Duration(30 * time.Second),
		RedisTimeout:      Duration(3 * time.Second),
		ProgressTTL:       Duration(24 * time.Hour),
		MetricsAddress:    ":9090",
	}
}

// LoadFromYAML loads the configuration from a YAML file.
func (c *Config) LoadFromYAML(filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(c); err != nil {
		return err
	}
	return nil
}

// ApplyEnv fills the credential from the environment when the file left it
// empty, matching the provider's conventional variable.
func (c *Config) ApplyEnv() {
	if c.APIKey != "" {
		return
	}
	switch c.Provider {
	case ProviderAnthropic:
		c.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	default:
		c.APIKey = os.Getenv("OPENAI_API_KEY")
	}
}

// Validate rejects configurations the engine cannot start with.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderOpenAI, ProviderAnthropic:
	default:
		return fmt.Errorf("unknown provider %q", c.Provider)
	}
	if c.APIKey == "" {
		return fmt.Errorf("no API key configured for provider %q", c.Provider)
	}
	if c.MaxWorkers <= 0 {
		return fmt.Errorf("max_workers must be positive, got %d", c.MaxWorkers)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative, got %d", c.MaxRetries)
	}
	return nil
}
