// Copyright (c) 2026 TempBox Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics exposes Prometheus instrumentation for the ingestion
// pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// InboundRequests counts webhook deliveries by provider and terminal
	// pipeline outcome (stored, duplicate, no_inbox, rejected).
	InboundRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbound_requests_total",
			Help: "Inbound webhook deliveries by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	// PipelineDuration observes end-to-end pipeline latency per outcome.
	PipelineDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_duration_seconds",
			Help:    "Inbound pipeline processing duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"outcome"},
	)
)

// RecordOutcome increments the request counter and observes the duration for
// one webhook delivery.
func RecordOutcome(provider, outcome string, duration time.Duration) {
	InboundRequests.WithLabelValues(provider, outcome).Inc()
	PipelineDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}
