// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gatherer

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bureau-foundation/sysmon/lib/ipc"
)

// Metrics instruments Handles. A nil *Metrics records nothing.
type Metrics struct {
	requests *prometheus.CounterVec
	failures *prometheus.CounterVec
	restarts *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics creates the gatherer metrics and registers them with
// registerer.
func NewMetrics(registerer prometheus.Registerer) (*Metrics, error) {
	metrics := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sysmon",
			Subsystem: "gatherer",
			Name:      "requests_total",
			Help:      "Execute calls by message and outcome.",
		}, []string{"message", "outcome"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sysmon",
			Subsystem: "gatherer",
			Name:      "attempt_failures_total",
			Help:      "Failed request attempts by message and kind.",
		}, []string{"message", "kind"}),
		restarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sysmon",
			Subsystem: "gatherer",
			Name:      "restarts_total",
			Help:      "Gatherer respawns by reason.",
		}, []string{"reason"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sysmon",
			Subsystem: "gatherer",
			Name:      "request_duration_seconds",
			Help:      "Wall time of Execute calls, retries included.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"message"}),
	}
	for _, collector := range []prometheus.Collector{metrics.requests, metrics.failures, metrics.restarts, metrics.duration} {
		if err := registerer.Register(collector); err != nil {
			return nil, err
		}
	}
	return metrics, nil
}

func (m *Metrics) observeRequest(message ipc.Message, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(message.String(), outcome).Inc()
	m.duration.WithLabelValues(message.String()).Observe(elapsed.Seconds())
}

func (m *Metrics) observeFailure(message ipc.Message, err error) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(message.String(), failureKind(err)).Inc()
}

func (m *Metrics) observeRestart(reason string) {
	if m == nil {
		return
	}
	m.restarts.WithLabelValues(reason).Inc()
}

// failureKind labels an attempt failure.
func failureKind(err error) string {
	switch {
	case errors.Is(err, ErrWorkerDisconnected):
		return "disconnect"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrProtocol):
		return "protocol"
	default:
		return "other"
	}
}
