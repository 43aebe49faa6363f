package observability

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	types "github.com/yungbote/widgetchat-backend/internal/domain"
	"github.com/yungbote/widgetchat-backend/internal/platform/logger"
)

const namespace = "widgetchat"

// Metrics owns a private registry so tests and multiple instances never collide
// on the global one. A nil *Metrics is a valid no-op.
type Metrics struct {
	registry *prometheus.Registry

	apiRequests *prometheus.CounterVec
	apiLatency  *prometheus.HistogramVec
	apiInflight prometheus.Gauge

	inferenceRequests *prometheus.CounterVec
	inferenceLatency  *prometheus.HistogramVec

	jobsFinished *prometheus.CounterVec
	jobDuration  *prometheus.HistogramVec
	queueDepth   *prometheus.GaugeVec

	messagesIngested *prometheus.CounterVec
	realtimeDropped  prometheus.Counter

	dbStats   *prometheus.GaugeVec
	redisUp   prometheus.Gauge
	redisPing prometheus.Gauge

	scrapeInterval time.Duration
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		apiRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "API requests by method/route/status.",
		}, []string{"method", "route", "status"}),
		apiLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_duration_seconds",
			Help:      "API request latency in seconds.",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"method", "route", "status"}),
		apiInflight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "api_inflight_requests",
			Help:      "In-flight API requests.",
		}),
		inferenceRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inference_requests_total",
			Help:      "Generate calls by model/status.",
		}, []string{"model", "status"}),
		inferenceLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_request_duration_seconds",
			Help:      "Generate latency in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"model", "status"}),
		jobsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Terminal job transitions by job_type/status.",
		}, []string{"job_type", "status"}),
		jobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Job execution time from claim to terminal status.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"job_type", "status"}),
		queueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "job_queue_depth",
			Help:      "job_run rows by status.",
		}, []string{"status"}),
		messagesIngested: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_ingested_total",
			Help:      "Ingest outcomes by result.",
		}, []string{"result"}),
		realtimeDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_events_unsubscribed_total",
			Help:      "Events published to a channel with no local subscriber.",
		}),
		dbStats: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_pool",
			Help:      "database/sql pool statistics.",
		}, []string{"stat"}),
		redisUp: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "redis_up",
			Help:      "1 when the last redis ping succeeded.",
		}),
		redisPing: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "redis_ping_seconds",
			Help:      "Latency of the last redis ping.",
		}),
		scrapeInterval: 15 * time.Second,
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "UNKNOWN"
	}
	if route == "" {
		route = "unknown"
	}
	if status == "" {
		status = "0"
	}
	m.apiRequests.WithLabelValues(method, route, status).Inc()
	m.apiLatency.WithLabelValues(method, route, status).Observe(dur.Seconds())
}

func (m *Metrics) ApiInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Inc()
}

func (m *Metrics) ApiInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Dec()
}

// ObserveInference records one generate call.
func (m *Metrics) ObserveInference(model string, ok bool, dur time.Duration) {
	if m == nil {
		return
	}
	model = strings.TrimSpace(model)
	if model == "" {
		model = "unknown"
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.inferenceRequests.WithLabelValues(model, status).Inc()
	if dur > 0 {
		m.inferenceLatency.WithLabelValues(model, status).Observe(dur.Seconds())
	}
}

// JobFinished implements the job runtime observer.
func (m *Metrics) JobFinished(job *types.JobRun, status string, dur time.Duration) {
	if m == nil || job == nil {
		return
	}
	m.jobsFinished.WithLabelValues(job.JobType, status).Inc()
	m.jobDuration.WithLabelValues(job.JobType, status).Observe(dur.Seconds())
}

func (m *Metrics) IncIngest(result string) {
	if m == nil {
		return
	}
	m.messagesIngested.WithLabelValues(result).Inc()
}

func (m *Metrics) IncRealtimeUnsubscribed() {
	if m == nil {
		return
	}
	m.realtimeDropped.Inc()
}

func (m *Metrics) StartPostgresCollector(ctx context.Context, log *logger.Logger, db *gorm.DB) {
	if m == nil || db == nil {
		return
	}
	go m.every(ctx, func() {
		sqlDB, err := db.DB()
		if err != nil {
			if log != nil {
				log.Warn("metrics: db stats unavailable", "error", err)
			}
			return
		}
		stats := sqlDB.Stats()
		m.dbStats.WithLabelValues("open_connections").Set(float64(stats.OpenConnections))
		m.dbStats.WithLabelValues("in_use").Set(float64(stats.InUse))
		m.dbStats.WithLabelValues("idle").Set(float64(stats.Idle))
		m.dbStats.WithLabelValues("wait_count").Set(float64(stats.WaitCount))
		m.dbStats.WithLabelValues("wait_duration_seconds").Set(stats.WaitDuration.Seconds())
		m.dbStats.WithLabelValues("max_open_connections").Set(float64(stats.MaxOpenConnections))
	})
}

func (m *Metrics) StartRedisCollector(ctx context.Context, log *logger.Logger, rdb *goredis.Client) {
	if m == nil || rdb == nil {
		return
	}
	go m.every(ctx, func() {
		start := time.Now()
		if err := rdb.Ping(ctx).Err(); err != nil {
			m.redisUp.Set(0)
			if log != nil {
				log.Warn("metrics: redis ping failed", "error", err)
			}
			return
		}
		m.redisUp.Set(1)
		m.redisPing.Set(time.Since(start).Seconds())
	})
}

func (m *Metrics) StartJobQueueCollector(ctx context.Context, log *logger.Logger, db *gorm.DB) {
	if m == nil || db == nil {
		return
	}
	statuses := []string{types.JobStatusQueued, types.JobStatusRunning, types.JobStatusSucceeded, types.JobStatusFailed}
	go m.every(ctx, func() {
		if err := m.CollectQueueDepth(ctx, db, statuses); err != nil && log != nil {
			log.Warn("metrics: job queue depth query failed", "error", err)
		}
	})
}

// CollectQueueDepth refreshes the queue depth gauge once.
func (m *Metrics) CollectQueueDepth(ctx context.Context, db *gorm.DB, statuses []string) error {
	for _, s := range statuses {
		m.queueDepth.WithLabelValues(s).Set(0)
	}
	var rows []struct {
		Status string
		Count  int64
	}
	if err := db.WithContext(ctx).
		Model(&types.JobRun{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return err
	}
	for _, row := range rows {
		status := strings.TrimSpace(row.Status)
		if status == "" {
			status = "unknown"
		}
		m.queueDepth.WithLabelValues(status).Set(float64(row.Count))
	}
	return nil
}

func (m *Metrics) every(ctx context.Context, fn func()) {
	ticker := time.NewTicker(m.scrapeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}
