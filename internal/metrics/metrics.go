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

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// result labels
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

var (
	rowsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rows_processed_total",
			Help: "Total number of rows processed",
		}, []string{"result"},
	)

	rowRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "row_retries_total",
			Help: "Total number of row-level retry attempts",
		},
	)

	batchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name: "batch_processing_duration_seconds",
			Help: "Duration of whole-batch processing in seconds",
			// 0.1s up to ~27m, doubling per bucket.
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 15),
		},
	)

	batchesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batches_processed_total",
			Help: "Total number of batches by terminal status",
		}, []string{"status"},
	)

	activeWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_workers",
			Help: "Current number of workers processing rows",
		},
	)
)

func init() {
	prometheus.MustRegister(rowsProcessed)
	prometheus.MustRegister(rowRetries)
	prometheus.MustRegister(batchDuration)
	prometheus.MustRegister(batchesProcessed)
	prometheus.MustRegister(activeWorkers)
}

// RecordRowProcessed counts one row reaching a terminal state.
func RecordRowProcessed(result string) {
	rowsProcessed.WithLabelValues(result).Inc()
}

// RecordRowRetry counts one row-level retry attempt.
func RecordRowRetry() {
	rowRetries.Inc()
}

// RecordBatchProcessed observes a finished batch and its duration.
func RecordBatchProcessed(status string, duration time.Duration) {
	batchesProcessed.WithLabelValues(status).Inc()
	batchDuration.Observe(duration.Seconds())
}

// IncActiveWorkers increments the gauge for active workers.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the gauge for active workers.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// Handler serves the prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
