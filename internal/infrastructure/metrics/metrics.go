// Package metrics exposes Prometheus counters for the gamification core.
// Domain counters are fed from the event bus; HTTP counters from middleware.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/feedbackhub/gamification/internal/domain/shared"
)

const namespace = "gamification"

// Metrics owns a private registry so tests and multiple instances never
// collide on the global one.
type Metrics struct {
	registry *prometheus.Registry

	PointsReconciled   prometheus.Counter
	PointsDelta        prometheus.Counter
	LevelChanges       *prometheus.CounterVec
	AchievementsEarned *prometheus.CounterVec
	ActivitiesRecorded *prometheus.CounterVec
	LoginsRecorded     prometheus.Counter

	EventHandlerRuns *prometheus.CounterVec
	JobRuns          *prometheus.CounterVec

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		PointsReconciled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "points_reconciled_total",
			Help:      "Syncs that corrected a drifted point total.",
		}),
		PointsDelta: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "points_reconciled_delta_total",
			Help:      "Absolute points corrected by syncs.",
		}),
		LevelChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "level_changes_total",
			Help:      "Stored level rewrites by direction.",
		}, []string{"direction"}),
		AchievementsEarned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "achievements_awarded_total",
			Help:      "Newly inserted awards.",
		}, []string{"achievement_id"}),
		ActivitiesRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activities_recorded_total",
			Help:      "Ledger rows appended through the API.",
		}, []string{"activity_type"}),
		LoginsRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "daily_logins_total",
			Help:      "First logins of a day.",
		}),
		EventHandlerRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_handler_runs_total",
			Help:      "Event handler executions by outcome.",
		}, []string{"event_type", "outcome"}),
		JobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Scheduled job executions by outcome.",
		}, []string{"job", "outcome"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.PointsReconciled,
		m.PointsDelta,
		m.LevelChanges,
		m.AchievementsEarned,
		m.ActivitiesRecorded,
		m.LoginsRecorded,
		m.EventHandlerRuns,
		m.JobRuns,
		m.HTTPRequests,
		m.HTTPDuration,
	)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RegisterGauge exposes a value sampled at scrape time, e.g. pool usage.
func (m *Metrics) RegisterGauge(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

// ObserveEvent counts domain events.
func (m *Metrics) ObserveEvent(event shared.Event) {
	switch e := event.(type) {
	case shared.PointsReconciledEvent:
		m.PointsReconciled.Inc()
		delta := e.NewPoints - e.PreviousPoints
		if delta < 0 {
			delta = -delta
		}
		m.PointsDelta.Add(float64(delta))
	case shared.LevelChangedEvent:
		direction := "down"
		if e.IsLevelUp() {
			direction = "up"
		}
		m.LevelChanges.WithLabelValues(direction).Inc()
	case shared.AchievementEarnedEvent:
		m.AchievementsEarned.WithLabelValues(e.AchievementID).Inc()
	case shared.ActivityRecordedEvent:
		m.ActivitiesRecorded.WithLabelValues(e.ActivityType).Inc()
	case shared.LoginRecordedEvent:
		if e.FirstToday {
			m.LoginsRecorded.Inc()
		}
	}
}

// ObserveHandler counts event handler executions.
func (m *Metrics) ObserveHandler(eventType shared.EventType, _ time.Duration, err error) {
	m.EventHandlerRuns.WithLabelValues(string(eventType), outcome(err)).Inc()
}

// ObserveJob counts scheduled job executions.
func (m *Metrics) ObserveJob(job string, err error) {
	m.JobRuns.WithLabelValues(job, outcome(err)).Inc()
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, route string, status int, duration time.Duration) {
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
