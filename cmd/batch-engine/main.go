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

// The entry point for the batch engine worker process.

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"k8s.io/klog/v2"

	"github.com/rowforge/batch-engine/internal/batch"
	"github.com/rowforge/batch-engine/internal/config"
	"github.com/rowforge/batch-engine/internal/input"
	"github.com/rowforge/batch-engine/internal/llm"
	"github.com/rowforge/batch-engine/internal/metrics"
	"github.com/rowforge/batch-engine/internal/progress"
	"github.com/rowforge/batch-engine/internal/ratelimit"
	"github.com/rowforge/batch-engine/internal/store"
	"github.com/rowforge/batch-engine/internal/util/logging"
	uredis "github.com/rowforge/batch-engine/internal/util/redis"
	utiltls "github.com/rowforge/batch-engine/internal/util/tls"
)

func main() {
	// initialize klog
	klog.InitFlags(nil)
	defer klog.Flush()

	cfg := config.NewConfig()
	fs := flag.NewFlagSet("batch-engine", flag.ExitOnError)

	cfgFilePath := fs.String("config", "cmd/batch-engine/config.yaml", "Path to configuration file")
	inputPath := fs.String("input", "", "Path to the CSV input file (header row names the template variables)")
	prompt := fs.String("prompt", "", "Prompt template with {{column}} placeholders")
	promptFile := fs.String("prompt-file", "", "Read the prompt template from this file instead of -prompt")
	outputPath := fs.String("output", "", "Path for the JSON results file (default: stdout)")
	batchID := fs.String("batch-id", "", "Batch identifier (default: generated)")
	klog.InitFlags(fs)
	fs.Parse(os.Args[1:])

	if err := cfg.LoadFromYAML(*cfgFilePath); err != nil {
		klog.InfoS("Failed to load config file, using defaults", "path", *cfgFilePath)
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		klog.ErrorS(err, "Invalid configuration")
		os.Exit(1)
	}

	promptTemplate, err := resolvePrompt(*prompt, *promptFile)
	if err != nil {
		klog.ErrorS(err, "Failed to resolve prompt template")
		os.Exit(1)
	}
	if *inputPath == "" {
		klog.ErrorS(nil, "No input file given, use -input")
		os.Exit(1)
	}
	rows, err := input.ReadCSVFile(*inputPath)
	if err != nil {
		klog.ErrorS(err, "Failed to read input file", "path", *inputPath)
		os.Exit(1)
	}

	// setup context with graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalChan := make(chan os.Signal, 2)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-signalChan
		klog.InfoS("Received shutdown signal, cancelling batch...", "signal", sig)
		cancel() // stops new rows and aborts the calls in flight

		sig = <-signalChan
		klog.InfoS("Received second shutdown signal, forcing shutdown...", "signal", sig)
		os.Exit(1) // force exit immediately for second signal
	}()

	// setup metrics and health checks endpoints (background goroutine)
	go func() {
		m := http.NewServeMux()

		m.Handle("/metrics", metrics.Handler())
		m.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ok"))
		})
		klog.InfoS("Starting observability server", "address", cfg.MetricsAddress)
		if err := http.ListenAndServe(cfg.MetricsAddress, m); err != nil {
			klog.ErrorS(err, "Observability server failed")
		}
	}()

	// shared state: redis-backed rate limiting and progress snapshots when
	// a redis URL is configured, process-local otherwise
	var (
		limiter       ratelimit.Limiter
		progressStore *store.ProgressStore
	)
	limits := ratelimit.Limits{
		RequestsPerMinute: cfg.RequestsPerMinute,
		TokensPerMinute:   cfg.TokensPerMinute,
	}
	if cfg.RedisURL != "" {
		rds, err := uredis.NewClient(ctx, &uredis.ClientConfig{
			Url:         cfg.RedisURL,
			ServiceName: "batch-engine",
			Timeout:     cfg.RedisTimeout.Std(),
		})
		if err != nil {
			klog.ErrorS(err, "Failed to connect to redis")
			os.Exit(1)
		}
		defer rds.Close()
		limiter, err = ratelimit.NewRedisLimiter(rds, limits)
		if err != nil {
			klog.ErrorS(err, "Failed to initialize rate limiter")
			os.Exit(1)
		}
		progressStore, err = store.NewProgressStore(rds, cfg.ProgressTTL.Std())
		if err != nil {
			klog.ErrorS(err, "Failed to initialize progress store")
			os.Exit(1)
		}
	} else {
		limiter = ratelimit.NewMemoryLimiter(limits)
	}

	provider, err := buildProvider(cfg)
	if err != nil {
		klog.ErrorS(err, "Failed to initialize provider", "provider", cfg.Provider)
		os.Exit(1)
	}

	client, err := llm.NewClient(provider, limiter, llm.ClientConfig{
		CallerID:          cfg.CallerID,
		RequestsPerSecond: cfg.RequestsPerSecond,
		BreakerThreshold:  cfg.BreakerThreshold,
		BreakerTimeout:    cfg.BreakerTimeout.Std(),
	})
	if err != nil {
		klog.ErrorS(err, "Failed to initialize client")
		os.Exit(1)
	}

	proc, err := batch.New(client, batch.Options{
		ID:          *batchID,
		Prompt:      promptTemplate,
		Rows:        rows,
		MaxRetries:  cfg.MaxRetries,
		Concurrency: cfg.MaxWorkers,
		RowBackoff:  cfg.RowBackoff.Std(),
	})
	if err != nil {
		klog.ErrorS(err, "Failed to initialize batch processor")
		os.Exit(1)
	}

	tracker := progress.NewTracker()
	proc.OnProgress(func(processed, total int, elapsed time.Duration) {
		tracker.Update(processed, total, elapsed)
		stats := tracker.GetStats()
		klog.V(logging.INFO).InfoS("Batch progress", "batchID", proc.ID(),
			"processed", processed, "total", total,
			"percent", fmt.Sprintf("%.1f", stats.Percent), "eta", stats.ETA.Round(time.Second))
		if progressStore != nil {
			snap := &store.Snapshot{
				BatchID:   proc.ID(),
				Status:    proc.Status(),
				Stats:     proc.Stats(),
				Progress:  stats,
				UpdatedAt: time.Now().UTC(),
			}
			if err := progressStore.Set(ctx, snap); err != nil {
				klog.V(logging.WARNING).ErrorS(err, "Failed to persist progress snapshot", "batchID", proc.ID())
			}
		}
	})

	klog.InfoS("Starting batch", "batchID", proc.ID(), "rows", proc.TotalRows(),
		"workers", cfg.MaxWorkers, "provider", cfg.Provider, "model", cfg.Model)

	if err := proc.Process(ctx); err != nil {
		klog.ErrorS(err, "Batch run failed", "batchID", proc.ID())
		os.Exit(1)
	}

	status := proc.Status()
	stats := proc.Stats()
	klog.InfoS("Batch finished", "batchID", proc.ID(), "status", status,
		"processed", stats.Processed, "failed", stats.Failed, "elapsed", proc.Elapsed().Round(time.Millisecond))

	if progressStore != nil {
		snap := &store.Snapshot{
			BatchID:   proc.ID(),
			Status:    status,
			Stats:     stats,
			Progress:  tracker.GetStats(),
			UpdatedAt: time.Now().UTC(),
		}
		if err := progressStore.Set(context.Background(), snap); err != nil {
			klog.ErrorS(err, "Failed to persist final snapshot", "batchID", proc.ID())
		}
	}

	if err := writeResults(*outputPath, proc); err != nil {
		klog.ErrorS(err, "Failed to write results", "path", *outputPath)
		os.Exit(1)
	}

	switch status {
	case batch.StatusCompleted:
		os.Exit(0)
	case batch.StatusCompletedWithErrors:
		os.Exit(2)
	default: // failed or cancelled
		os.Exit(1)
	}
}

func resolvePrompt(prompt, promptFile string) (string, error) {
	if prompt != "" && promptFile != "" {
		return "", fmt.Errorf("use either -prompt or -prompt-file, not both")
	}
	if promptFile != "" {
		data, err := os.ReadFile(promptFile)
		if err != nil {
			return "", err
		}
		prompt = strings.TrimSpace(string(data))
	}
	if prompt == "" {
		return "", fmt.Errorf("no prompt template given, use -prompt or -prompt-file")
	}
	return prompt, nil
}

func buildProvider(cfg *config.Config) (llm.Provider, error) {
	switch cfg.Provider {
	case config.ProviderAnthropic:
		return llm.NewAnthropicProvider(llm.AnthropicConfig{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
			Timeout:   cfg.RequestTimeout.Std(),
		})
	default:
		return llm.NewOpenAIProvider(llm.OpenAIConfig{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			Timeout: cfg.RequestTimeout.Std(),
			Certificates: utiltls.Certificates{
				CertFile:   cfg.TLSCertFile,
				KeyFile:    cfg.TLSKeyFile,
				CaCertFile: cfg.TLSCACertFile,
				Insecure:   cfg.TLSInsecure,
			},
		})
	}
}

// batchReport is the shape of the results file.
type batchReport struct {
	BatchID string            `json:"batch_id"`
	Status  batch.Status      `json:"status"`
	Stats   batch.Stats       `json:"stats"`
	Elapsed string            `json:"elapsed"`
	Results []batch.RowResult `json:"results"`
}

func writeResults(path string, proc *batch.Processor) error {
	report := batchReport{
		BatchID: proc.ID(),
		Status:  proc.Status(),
		Stats:   proc.Stats(),
		Elapsed: proc.Elapsed().Round(time.Millisecond).String(),
		Results: proc.Results(),
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if path == "" {
		_, err := os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
