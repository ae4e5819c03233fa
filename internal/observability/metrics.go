// Package observability exposes Prometheus metrics for the analysis
// pipeline. The collector shape -- an Enabled switch, an optional
// self-hosted /metrics HTTP server, and no-op behavior when disabled -- is
// adapted from the donor's internal/infra/observability.MetricsCollector,
// retargeted from LLM-session/tool-execution metrics to chapter-pipeline
// metrics.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"novelpipe/internal/logging"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var logger = logging.NewComponentLogger("observability")

// MetricsConfig controls whether metrics are recorded and served.
type MetricsConfig struct {
	Enabled        bool
	PrometheusPort int
}

// Collector records pipeline metrics. When Enabled is false every Record*
// method is a no-op, so callers never need to branch on configuration.
type Collector struct {
	enabled bool
	server  *http.Server

	chaptersProcessed *prometheus.CounterVec
	chapterDuration   *prometheus.HistogramVec
	llmRequests       *prometheus.CounterVec
	llmDuration       *prometheus.HistogramVec
	consolidatorStage *prometheus.HistogramVec
	activeTasks       prometheus.Gauge
}

// NewMetricsCollector builds a Collector and, if a port is given, starts
// a background HTTP server exposing /metrics. Disabled configs return a
// Collector whose methods are all no-ops.
func NewMetricsCollector(cfg MetricsConfig) (*Collector, error) {
	if !cfg.Enabled {
		return &Collector{enabled: false}, nil
	}

	reg := prometheus.NewRegistry()
	c := &Collector{
		enabled: true,
		chaptersProcessed: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "novelpipe_chapters_processed_total",
			Help: "Chapters successfully processed, by novel and outcome.",
		}, []string{"novel_id", "outcome"}),
		chapterDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "novelpipe_chapter_duration_seconds",
			Help:    "Wall-clock time to process one chapter through the full pipeline.",
			Buckets: prometheus.DefBuckets,
		}, []string{"novel_id"}),
		llmRequests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "novelpipe_llm_requests_total",
			Help: "LLM completion calls, by model and outcome.",
		}, []string{"model", "outcome"}),
		llmDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "novelpipe_llm_request_duration_seconds",
			Help:    "LLM completion call latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"model"}),
		consolidatorStage: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "novelpipe_consolidator_stage_duration_seconds",
			Help:    "HierarchyConsolidator per-stage duration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		activeTasks: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "novelpipe_active_analysis_tasks",
			Help: "Analysis tasks currently running or paused.",
		}),
	}

	if cfg.PrometheusPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		c.server = &http.Server{Addr: fmt.Sprintf(":%d", cfg.PrometheusPort), Handler: mux}
		go func() {
			if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server: %v", err)
			}
		}()
	}

	return c, nil
}

// Shutdown stops the background HTTP server, if one was started.
func (c *Collector) Shutdown(ctx context.Context) error {
	if c == nil || c.server == nil {
		return nil
	}
	return c.server.Shutdown(ctx)
}

// RecordChapterProcessed records one chapter's outcome and duration.
func (c *Collector) RecordChapterProcessed(novelID, outcome string, d time.Duration) {
	if c == nil || !c.enabled {
		return
	}
	c.chaptersProcessed.WithLabelValues(novelID, outcome).Inc()
	c.chapterDuration.WithLabelValues(novelID).Observe(d.Seconds())
}

// RecordLLMRequest records one LLM completion call.
func (c *Collector) RecordLLMRequest(model, outcome string, d time.Duration) {
	if c == nil || !c.enabled {
		return
	}
	c.llmRequests.WithLabelValues(model, outcome).Inc()
	c.llmDuration.WithLabelValues(model).Observe(d.Seconds())
}

// RecordConsolidatorStage records how long one HierarchyConsolidator stage took.
func (c *Collector) RecordConsolidatorStage(stage string, d time.Duration) {
	if c == nil || !c.enabled {
		return
	}
	c.consolidatorStage.WithLabelValues(stage).Observe(d.Seconds())
}

// IncrementActiveTasks and DecrementActiveTasks track concurrently
// running/paused analysis tasks.
func (c *Collector) IncrementActiveTasks() {
	if c == nil || !c.enabled {
		return
	}
	c.activeTasks.Inc()
}

func (c *Collector) DecrementActiveTasks() {
	if c == nil || !c.enabled {
		return
	}
	c.activeTasks.Dec()
}
