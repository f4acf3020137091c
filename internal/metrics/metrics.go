// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package metrics exposes Prometheus counters for the ingestion pipeline.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Request outcomes recorded by ObserveRequest.
const (
	OutcomeOK        = "ok"
	OutcomeTransient = "transient"
	OutcomeFatal     = "fatal"
)

// Metrics holds the collectors for one process.
type Metrics struct {
	requests       *prometheus.CounterVec
	requestSeconds *prometheus.HistogramVec
	fetched        prometheus.Counter
	duplicates     prometheus.Counter
	batchErrors    prometheus.Counter
	retries        prometheus.Counter
	runs           *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pms_api_requests_total",
			Help: "E-utilities requests by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		requestSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pms_api_request_duration_seconds",
			Help:    "E-utilities request latency, excluding rate limiter waits.",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		fetched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pms_records_fetched_total",
			Help: "Records newly inserted into a project.",
		}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pms_records_duplicates_total",
			Help: "Candidate records skipped because the project already held them.",
		}),
		batchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pms_batch_errors_total",
			Help: "Batches that exhausted their retries.",
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pms_batch_retries_total",
			Help: "Batch attempts repeated after a transient failure.",
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pms_search_runs_total",
			Help: "Search runs by terminal status.",
		}, []string{"status"}),
	}
	for _, c := range []prometheus.Collector{
		m.requests, m.requestSeconds, m.fetched, m.duplicates, m.batchErrors, m.retries, m.runs,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("registering collector: %w", err)
		}
	}
	return m, nil
}

// ObserveRequest records one E-utilities call.
func (m *Metrics) ObserveRequest(endpoint, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(endpoint, outcome).Inc()
	m.requestSeconds.WithLabelValues(endpoint).Observe(d.Seconds())
}

// AddFetched counts newly inserted records.
func (m *Metrics) AddFetched(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.fetched.Add(float64(n))
}

// AddDuplicates counts skipped records.
func (m *Metrics) AddDuplicates(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.duplicates.Add(float64(n))
}

// IncBatchError counts one exhausted batch.
func (m *Metrics) IncBatchError() {
	if m == nil {
		return
	}
	m.batchErrors.Inc()
}

// IncRetry counts one repeated attempt.
func (m *Metrics) IncRetry() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

// IncRun counts one finished run.
func (m *Metrics) IncRun(status string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(status).Inc()
}

// WriteTextfile writes every metric gathered from g to path in the text
// exposition format, for node_exporter's textfile collector.
func WriteTextfile(g prometheus.Gatherer, path string) error {
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
