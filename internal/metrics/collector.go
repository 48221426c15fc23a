package metrics

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/objectfs/imageop/internal/logging"
)

// Collector records cache and scratch-store activity into its own Prometheus registry.
// A disabled collector accepts every call and records nothing.
type Collector struct {
	mu       sync.RWMutex
	config   *Config
	registry *prometheus.Registry
	logger   log.Interface

	resolves        *prometheus.CounterVec
	computes        *prometheus.CounterVec
	computeDuration *prometheus.HistogramVec
	liveNodes       prometheus.Gauge
	retainedBytes   prometheus.Gauge
	clears          prometheus.Counter
	clearedBitmaps  prometheus.Counter
	sweepDirs       *prometheus.CounterVec
	reclaimAttempts prometheus.Counter
	reclaims        *prometheus.CounterVec

	computeSummary map[string]*ComputeSummary
	started        time.Time

	server   *http.Server
	listener net.Listener
}

// Config represents metrics configuration
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
	Subsystem string `yaml:"subsystem"`
	// Runtime adds the Go runtime and process collectors.
	Runtime bool `yaml:"runtime"`
}

// ComputeSummary tracks compute outcomes for one operation kind
type ComputeSummary struct {
	Count         int64         `json:"count"`
	Failures      int64         `json:"failures"`
	TotalDuration time.Duration `json:"total_duration"`
	AvgDuration   time.Duration `json:"avg_duration"`
	Last          time.Time     `json:"last"`
}

// NewCollector creates a new metrics collector
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = &Config{
			Enabled:   true,
			Port:      9108,
			Path:      "/metrics",
			Namespace: "imageop",
		}
	}
	if config.Path == "" {
		config.Path = "/metrics"
	}

	c := &Collector{
		config:         config,
		logger:         logging.Component(nil, "metrics"),
		computeSummary: make(map[string]*ComputeSummary),
		started:        time.Now(),
	}

	if !config.Enabled {
		return c, nil
	}

	c.registry = prometheus.NewRegistry()
	c.initMetrics()

	if err := c.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	return c, nil
}

// Enabled reports whether the collector records anything.
func (c *Collector) Enabled() bool {
	return c.config.Enabled
}

// Registry returns the collector's registry, nil when disabled.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns the HTTP handler serving the metrics endpoint and debug pages.
func (c *Collector) Handler() http.Handler {
	mux := http.NewServeMux()
	if c.registry != nil {
		mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		}))
	}
	mux.HandleFunc("/health", c.healthHandler)
	mux.HandleFunc("/debug/computes", c.debugComputesHandler)
	return mux
}

// Start serves the metrics endpoint in the background until Stop or ctx ends.
func (c *Collector) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", c.config.Port))
	if err != nil {
		return fmt.Errorf("metrics listen: %w", err)
	}

	c.mu.Lock()
	c.listener = ln
	c.server = &http.Server{
		Handler:           c.Handler(),
		ReadHeaderTimeout: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	srv := c.server
	c.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			c.logger.WithError(err).Error("metrics server stopped")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	c.logger.WithField("addr", ln.Addr().String()).Info("serving metrics")
	return nil
}

// Addr returns the bound listen address once started.
func (c *Collector) Addr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.listener == nil {
		return ""
	}
	return c.listener.Addr().String()
}

// Stop stops the metrics collection server
func (c *Collector) Stop(ctx context.Context) error {
	c.mu.RLock()
	srv := c.server
	c.mu.RUnlock()
	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

// RecordResolve counts a cache lookup. hit means the node already existed.
func (c *Collector) RecordResolve(kind string, hit bool) {
	if !c.config.Enabled {
		return
	}
	c.resolves.With(prometheus.Labels{
		"kind":   kind,
		"result": map[bool]string{true: "hit", false: "miss"}[hit],
	}).Inc()
}

// RecordCompute records one finished compute step.
func (c *Collector) RecordCompute(kind, status string, duration time.Duration) {
	if !c.config.Enabled {
		return
	}

	c.mu.Lock()
	s, ok := c.computeSummary[kind]
	if !ok {
		s = &ComputeSummary{}
		c.computeSummary[kind] = s
	}
	s.Count++
	if status != "success" {
		s.Failures++
	}
	s.TotalDuration += duration
	s.AvgDuration = time.Duration(int64(s.TotalDuration) / s.Count)
	s.Last = time.Now()
	c.mu.Unlock()

	c.computes.With(prometheus.Labels{"kind": kind, "status": status}).Inc()
	c.computeDuration.With(prometheus.Labels{"kind": kind}).Observe(duration.Seconds())
}

// SetLiveNodes updates the live node gauge.
func (c *Collector) SetLiveNodes(n int) {
	if !c.config.Enabled {
		return
	}
	c.liveNodes.Set(float64(n))
}

// SetRetainedBytes updates the retention list size gauge.
func (c *Collector) SetRetainedBytes(n int64) {
	if !c.config.Enabled {
		return
	}
	c.retainedBytes.Set(float64(n))
}

// RecordClear records a forced clear and the number of bitmaps it dropped.
func (c *Collector) RecordClear(dropped int) {
	if !c.config.Enabled {
		return
	}
	c.clears.Inc()
	c.clearedBitmaps.Add(float64(dropped))
}

// RecordSweep counts stale session directories by outcome ("deleted" or "failed").
func (c *Collector) RecordSweep(result string, n int) {
	if !c.config.Enabled || n == 0 {
		return
	}
	c.sweepDirs.With(prometheus.Labels{"result": result}).Add(float64(n))
}

// RecordReclaimAttempt counts one shutdown deletion attempt.
func (c *Collector) RecordReclaimAttempt() {
	if !c.config.Enabled {
		return
	}
	c.reclaimAttempts.Inc()
}

// RecordReclaim records the final shutdown outcome ("reclaimed" or "failed").
func (c *Collector) RecordReclaim(result string) {
	if !c.config.Enabled {
		return
	}
	c.reclaims.With(prometheus.Labels{"result": result}).Inc()
}

// ComputeSummaries returns a copy of the per-kind compute summaries.
func (c *Collector) ComputeSummaries() map[string]ComputeSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]ComputeSummary, len(c.computeSummary))
	for k, v := range c.computeSummary {
		out[k] = *v
	}
	return out
}

func (c *Collector) initMetrics() {
	ns, sub := c.config.Namespace, c.config.Subsystem

	c.resolves = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub,
		Name: "resolves_total",
		Help: "Operation descriptor resolutions by kind and hit/miss",
	}, []string{"kind", "result"})

	c.computes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub,
		Name: "computes_total",
		Help: "Finished compute steps by kind and status",
	}, []string{"kind", "status"})

	c.computeDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns, Subsystem: sub,
		Name:    "compute_duration_seconds",
		Help:    "Duration of compute steps in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16), // 0.5ms to ~16s
	}, []string{"kind"})

	c.liveNodes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns, Subsystem: sub,
		Name: "live_nodes",
		Help: "Operation nodes currently registered in the cache",
	})

	c.retainedBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns, Subsystem: sub,
		Name: "retained_bytes",
		Help: "Bitmap bytes held by the retention list",
	})

	c.clears = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub,
		Name: "clears_total",
		Help: "Forced cache clears",
	})

	c.clearedBitmaps = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub,
		Name: "cleared_bitmaps_total",
		Help: "Bitmaps dropped by forced clears",
	})

	c.sweepDirs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub,
		Name: "sweep_directories_total",
		Help: "Abandoned session directories handled by the startup sweep",
	}, []string{"result"})

	c.reclaimAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub,
		Name: "reclaim_attempts_total",
		Help: "Session directory deletion attempts during shutdown",
	})

	c.reclaims = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub,
		Name: "reclaims_total",
		Help: "Shutdown reclamation outcomes",
	}, []string{"result"})
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.resolves,
		c.computes,
		c.computeDuration,
		c.liveNodes,
		c.retainedBytes,
		c.clears,
		c.clearedBitmaps,
		c.sweepDirs,
		c.reclaimAttempts,
		c.reclaims,
	}
	if c.config.Runtime {
		metrics = append(metrics,
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}

	return nil
}

// HTTP handlers

func (c *Collector) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy","service":"imageop-metrics"}`))
}

func (c *Collector) debugComputesHandler(w http.ResponseWriter, r *http.Request) {
	summaries := c.ComputeSummaries()

	w.Header().Set("Content-Type", "text/plain")
	writef := func(format string, args ...interface{}) { _, _ = fmt.Fprintf(w, format, args...) }

	writef("Compute Summary\n")
	writef("===============\n\n")
	writef("Uptime: %v\n\n", time.Since(c.started).Round(time.Second))

	if len(summaries) == 0 {
		writef("No computes recorded.\n")
		return
	}

	kinds := make([]string, 0, len(summaries))
	for k := range summaries {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	writef("%-8s %10s %10s %14s %10s\n", "Kind", "Count", "Failures", "Avg Duration", "Last")
	for _, k := range kinds {
		s := summaries[k]
		writef("%-8s %10d %10d %14v %10s\n", k, s.Count, s.Failures, s.AvgDuration, s.Last.Format("15:04:05"))
	}
}
