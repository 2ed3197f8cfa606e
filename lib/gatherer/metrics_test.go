// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gatherer

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bureau-foundation/sysmon/lib/ipc"
)

// counterValue reads one counter sample from registry.
func counterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
	metrics:
		for _, metric := range family.GetMetric() {
			for _, pair := range metric.GetLabel() {
				if labels[pair.GetName()] != pair.GetValue() {
					continue metrics
				}
			}
			return metric.GetCounter().GetValue()
		}
	}
	return 0
}

func TestMetricsRecordRetriesAndRestarts(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics, err := NewMetrics(registry)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	transport := &fakeTransport{respond: func(ipc.Request) fakeReply { return timeoutReply() }}
	handle, err := New(Config{
		Command:      []string{"g"},
		Transport:    transport,
		Launcher:     &fakeLauncher{},
		ReplyTimeout: time.Millisecond,
		Metrics:      metrics,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := handle.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	handle.Execute(context.Background(), ipc.MessageGetProcesses, 0, func(ipc.Reply, bool) bool { return true })

	if got := counterValue(t, registry, "sysmon_gatherer_attempt_failures_total", map[string]string{"message": "get-processes", "kind": "timeout"}); got != 3 {
		t.Errorf("timeout failures = %v, want 3", got)
	}
	if got := counterValue(t, registry, "sysmon_gatherer_restarts_total", map[string]string{"reason": "unresponsive"}); got != 1 {
		t.Errorf("unresponsive restarts = %v, want 1", got)
	}
	if got := counterValue(t, registry, "sysmon_gatherer_requests_total", map[string]string{"message": "get-processes", "outcome": "fatal"}); got != 1 {
		t.Errorf("fatal requests = %v, want 1", got)
	}

	if _, err := NewMetrics(registry); err == nil {
		t.Error("registering the metrics twice should fail")
	}
}

func TestNilMetricsAreInert(t *testing.T) {
	var metrics *Metrics
	metrics.observeRequest(ipc.MessageGetApps, "ok", time.Second)
	metrics.observeFailure(ipc.MessageGetApps, ErrTimeout)
	metrics.observeRestart("crash")
}
