// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/sysmon/cmd/sysmon/cli"
	"github.com/bureau-foundation/sysmon/lib/ipc"
	"github.com/bureau-foundation/sysmon/lib/supervisor"
)

// watchGauges mirror the latest sample for scraping.
type watchGauges struct {
	utilization prometheus.Gauge
	memoryUsed  prometheus.Gauge
	memoryTotal prometheus.Gauge
	processes   prometheus.Gauge
}

func newWatchGauges(registerer prometheus.Registerer) (*watchGauges, error) {
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "sysmon", Subsystem: "host", Name: name, Help: help})
	}
	gauges := &watchGauges{
		utilization: gauge("cpu_utilization_percent", "System-wide CPU utilization."),
		memoryUsed:  gauge("memory_used_bytes", "Memory in use."),
		memoryTotal: gauge("memory_total_bytes", "Installed memory."),
		processes:   gauge("processes", "Running processes."),
	}
	for _, collector := range []prometheus.Collector{gauges.utilization, gauges.memoryUsed, gauges.memoryTotal, gauges.processes} {
		if err := registerer.Register(collector); err != nil {
			return nil, err
		}
	}
	return gauges, nil
}

func (g *watchGauges) observe(sample ipc.CPUDynamicInfo) {
	g.utilization.Set(float64(sample.Utilization))
	g.memoryUsed.Set(float64(sample.MemoryUsed))
	g.memoryTotal.Set(float64(sample.MemoryTotal))
	g.processes.Set(float64(sample.ProcessCount))
}

func watchCommand() *cli.Command {
	var (
		session       session
		interval      time.Duration
		count         int
		metricsListen string
	)
	return &cli.Command{
		Name:    "watch",
		Summary: "Print a load summary at a fixed interval",
		Examples: []cli.Example{
			{Description: "Serve Prometheus metrics while watching", Command: "sysmon watch --metrics-listen 127.0.0.1:9477"},
		},
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("watch", pflag.ContinueOnError)
			session.addFlags(flags)
			flags.DurationVar(&interval, "interval", 2*time.Second, "time between samples")
			flags.IntVar(&count, "count", 0, "stop after this many samples (0 runs until interrupted)")
			flags.StringVar(&metricsListen, "metrics-listen", "", "serve Prometheus metrics on this address")
			return flags
		},
		Run: func(ctx context.Context, args []string) error {
			if interval <= 0 {
				return fmt.Errorf("--interval must be positive")
			}
			registry := prometheus.NewRegistry()
			registry.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			gauges, err := newWatchGauges(registry)
			if err != nil {
				return err
			}

			monitor, err := session.open(ctx, registry, nil)
			if err != nil {
				return err
			}
			defer monitor.Close()

			if metricsListen != "" {
				shutdown, err := serveMetrics(metricsListen, registry)
				if err != nil {
					return err
				}
				defer shutdown()
			}
			return watch(ctx, monitor, gauges, os.Stdout, interval, count)
		},
	}
}

// serveMetrics starts a /metrics endpoint and returns its shutdown.
func serveMetrics(address string, registry *prometheus.Registry) (func(), error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("listening for metrics on %s: %w", address, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go server.Serve(listener)
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}, nil
}

func watch(ctx context.Context, monitor *supervisor.Supervisor, gauges *watchGauges, w io.Writer, interval time.Duration, count int) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for taken := 0; count == 0 || taken < count; taken++ {
		sample, err := monitor.CPUDynamicInfo(ctx)
		switch {
		case errors.Is(err, supervisor.ErrDegraded):
			fmt.Fprintf(os.Stderr, "sample skipped: %v\n", err)
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			return err
		default:
			gauges.observe(sample)
			fmt.Fprintf(w, "%s  cpu %5.1f%%  mem %s / %s  procs %d  restarts %d\n",
				time.Now().Format(time.TimeOnly), sample.Utilization,
				formatBytes(float64(sample.MemoryUsed)), formatBytes(float64(sample.MemoryTotal)),
				sample.ProcessCount, monitor.Restarts())
		}
		if count != 0 && taken+1 >= count {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
	return nil
}
