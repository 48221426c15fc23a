/*
Package metrics exports imageop activity to Prometheus.

# Overview

	┌─────────────┐
	│  Collector  │  ← implements the cache and session recorders
	└──────┬──────┘
	       │
	   ┌───┴────────────────────────────┐
	   │                                │
	┌──▼───────────┐         ┌──────────▼──────┐
	│  Prometheus  │         │  HTTP Endpoints │
	│   Registry   │         │  /metrics       │
	│              │         │  /health        │
	│ - Counters   │         │  /debug/computes│
	│ - Histograms │         └─────────────────┘
	│ - Gauges     │
	└──────────────┘

Series, all under the configured namespace:

	resolves_total{kind,result}        descriptor lookups, result is hit or miss
	computes_total{kind,status}        compute steps, status is success, failed or cancelled
	compute_duration_seconds{kind}     compute step latency
	live_nodes                         nodes registered in the cache
	retained_bytes                     bitmap bytes kept on the retention list
	clears_total                       forced clears
	cleared_bitmaps_total              bitmaps dropped by forced clears
	sweep_directories_total{result}    stale session directories, deleted or failed
	reclaim_attempts_total             shutdown deletion attempts
	reclaims_total{result}             shutdown outcome, reclaimed or failed

Usage:

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   true,
		Port:      9108,
		Namespace: "imageop",
	})
	if err != nil {
		return err
	}
	if err := collector.Start(ctx); err != nil {
		return err
	}
	defer collector.Stop(context.Background())

A collector built from a disabled config has no registry and ignores every call,
so callers never need to check for nil.
*/
package metrics
