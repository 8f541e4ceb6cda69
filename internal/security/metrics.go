package security

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// StoreLatency can be used by store implementations to record operation latency.
	StoreLatency *prometheus.HistogramVec

	// TransfersTotal counts orchestrated transfers by outcome.
	TransfersTotal *prometheus.CounterVec

	// BackgroundTasksTotal counts fire-and-forget tasks by task name and outcome.
	BackgroundTasksTotal *prometheus.CounterVec

	// BackgroundTasksInFlight tracks tasks that have been dispatched but not finished.
	BackgroundTasksInFlight prometheus.Gauge

	// FileCopiesTotal counts object-storage copies by outcome (copied, skipped, failed).
	FileCopiesTotal *prometheus.CounterVec

	// SearchIndexOpsTotal counts search index writes by operation and outcome.
	SearchIndexOpsTotal *prometheus.CounterVec
)

var validLabelKey = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ParseMetricsLabels parses a comma-separated list of key=value pairs into
// Prometheus labels. Values support ${VAR} / $VAR environment variable expansion.
// Label values may not contain commas. Returns nil for an empty string.
func ParseMetricsLabels(s string) (prometheus.Labels, error) {
	s = os.Expand(s, os.Getenv)
	if s == "" {
		return nil, nil
	}
	labels := prometheus.Labels{}
	for _, pair := range strings.Split(s, ",") {
		idx := strings.IndexByte(pair, '=')
		if idx < 0 {
			return nil, fmt.Errorf("invalid label %q: expected key=value", pair)
		}
		k, v := pair[:idx], pair[idx+1:]
		if !validLabelKey.MatchString(k) {
			return nil, fmt.Errorf("invalid label key %q: must match [a-zA-Z_][a-zA-Z0-9_]*", k)
		}
		labels[k] = v
	}
	return labels, nil
}

var initMetricsOnce sync.Once

// InitMetrics registers all Prometheus metrics with the given constant labels.
// Safe to call multiple times; only the first call registers.
func InitMetrics(constLabels prometheus.Labels) {
	initMetricsOnce.Do(func() {
		initMetricsInner(constLabels)
	})
}

func initMetricsInner(constLabels prometheus.Labels) {
	reg := prometheus.WrapRegistererWith(constLabels, prometheus.DefaultRegisterer)
	f := promauto.With(reg)

	httpRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coa_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "status"},
	)

	httpRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coa_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	StoreLatency = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coa_store_latency_seconds",
			Help:    "Record store operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	TransfersTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coa_transfers_total",
			Help: "Total ownership transfers by outcome",
		},
		[]string{"outcome"},
	)

	BackgroundTasksTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coa_background_tasks_total",
			Help: "Total background tasks by task and outcome",
		},
		[]string{"task", "outcome"},
	)

	BackgroundTasksInFlight = f.NewGauge(prometheus.GaugeOpts{
		Name: "coa_background_tasks_in_flight",
		Help: "Background tasks dispatched and not yet finished",
	})

	FileCopiesTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coa_file_copies_total",
			Help: "Object storage copies by outcome",
		},
		[]string{"outcome"},
	)

	SearchIndexOpsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coa_search_index_ops_total",
			Help: "Search index writes by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)
}

// CountTransfer increments TransfersTotal when metrics are initialized.
func CountTransfer(outcome string) {
	if TransfersTotal != nil {
		TransfersTotal.WithLabelValues(outcome).Inc()
	}
}

// CountFileCopies adds n to FileCopiesTotal when metrics are initialized.
func CountFileCopies(outcome string, n int) {
	if FileCopiesTotal != nil && n > 0 {
		FileCopiesTotal.WithLabelValues(outcome).Add(float64(n))
	}
}

// CountBackgroundTask increments BackgroundTasksTotal when metrics are initialized.
func CountBackgroundTask(task, outcome string) {
	if BackgroundTasksTotal != nil {
		BackgroundTasksTotal.WithLabelValues(task, outcome).Inc()
	}
}

// AddBackgroundInFlight adjusts BackgroundTasksInFlight when metrics are initialized.
func AddBackgroundInFlight(delta float64) {
	if BackgroundTasksInFlight != nil {
		BackgroundTasksInFlight.Add(delta)
	}
}

// CountSearchIndexOp increments SearchIndexOpsTotal when metrics are initialized.
func CountSearchIndexOp(operation string, err error) {
	if SearchIndexOpsTotal == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	SearchIndexOpsTotal.WithLabelValues(operation, outcome).Inc()
}

// MetricsMiddleware records HTTP request metrics for Prometheus.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if httpRequestsTotal == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		httpRequestsTotal.WithLabelValues(c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method).Observe(duration.Seconds())
	}
}
