// Package metrics exposes engine activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/liamcoop/automations/internal/config"
	"github.com/liamcoop/automations/internal/logger"
	"github.com/liamcoop/automations/rules"
)

// durationBuckets covers in-process handlers through slow webhooks (1ms - 30s)
var durationBuckets = []float64{0.001, 0.005, 0.025, 0.1, 0.5, 1, 5, 30}

// EngineMetrics implements rules.Observer.
//
// Metrics (with the configured namespace and subsystem):
//   - events_processed_total{event_type}
//   - events_rejected_total{event_type}
//   - event_processing_duration_seconds{event_type}
//   - rules_matched_total{event_type}
//   - rules_fired_total, rules_skipped_total
//   - actions_total{action_type,status}
//   - action_duration_seconds{action_type}
//   - queue_depth
//   - log_warnings_total, log_errors_total
type EngineMetrics struct {
	registry *prometheus.Registry
	enabled  bool

	eventsProcessed *prometheus.CounterVec
	eventsRejected  *prometheus.CounterVec
	eventDuration   *prometheus.HistogramVec
	rulesMatched    *prometheus.CounterVec
	rulesFired      prometheus.Counter
	rulesSkipped    prometheus.Counter
	actions         *prometheus.CounterVec
	actionDuration  *prometheus.HistogramVec
	queueDepth      prometheus.Gauge
}

var _ rules.Observer = (*EngineMetrics)(nil)

// New creates the engine metrics and registers them on registry.
// A nil registry gets a fresh one.
func New(cfg config.MetricsConfig, registry *prometheus.Registry) *EngineMetrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	ns, sub := cfg.Namespace, cfg.Subsystem

	m := &EngineMetrics{
		registry: registry,
		enabled:  cfg.Enabled,
		eventsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "events_processed_total",
			Help: "Total number of events processed",
		}, []string{"event_type"}),
		eventsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "events_rejected_total",
			Help: "Total number of events rejected because the queue was full",
		}, []string{"event_type"}),
		eventDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: sub,
			Name:    "event_processing_duration_seconds",
			Help:    "Time spent processing one event, including every action",
			Buckets: durationBuckets,
		}, []string{"event_type"}),
		rulesMatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "rules_matched_total",
			Help: "Total number of rules whose trigger matched an event",
		}, []string{"event_type"}),
		rulesFired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "rules_fired_total",
			Help: "Total number of rules that passed their conditions and ran actions",
		}),
		rulesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "rules_skipped_total",
			Help: "Total number of matched rules whose conditions were not met",
		}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "actions_total",
			Help: "Total number of actions attempted, by outcome",
		}, []string{"action_type", "status"}),
		actionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: sub,
			Name:    "action_duration_seconds",
			Help:    "Action handler duration",
			Buckets: durationBuckets,
		}, []string{"action_type"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub,
			Name: "queue_depth",
			Help: "Events waiting in the dispatch queue",
		}),
	}

	registry.MustRegister(
		m.eventsProcessed,
		m.eventsRejected,
		m.eventDuration,
		m.rulesMatched,
		m.rulesFired,
		m.rulesSkipped,
		m.actions,
		m.actionDuration,
		m.queueDepth,
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "log_warnings_total",
			Help: "Warnings logged, counted before sampling",
		}, func() float64 { return float64(logger.TotalWarnings.Load()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "log_errors_total",
			Help: "Errors logged, counted before sampling",
		}, func() float64 { return float64(logger.TotalErrors.Load()) }),
	)

	return m
}

// Registry returns the registry the metrics are registered on
func (m *EngineMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *EngineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// EventProcessed implements rules.Observer.
func (m *EngineMetrics) EventProcessed(eventType rules.EventType, matched int, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.eventsProcessed.WithLabelValues(string(eventType)).Inc()
	m.eventDuration.WithLabelValues(string(eventType)).Observe(duration.Seconds())
	m.rulesMatched.WithLabelValues(string(eventType)).Add(float64(matched))
}

// EventRejected implements rules.Observer.
func (m *EngineMetrics) EventRejected(eventType rules.EventType) {
	if !m.enabled {
		return
	}
	m.eventsRejected.WithLabelValues(string(eventType)).Inc()
}

// RuleFired implements rules.Observer.
func (m *EngineMetrics) RuleFired(string) {
	if !m.enabled {
		return
	}
	m.rulesFired.Inc()
}

// RuleSkipped implements rules.Observer.
func (m *EngineMetrics) RuleSkipped(string) {
	if !m.enabled {
		return
	}
	m.rulesSkipped.Inc()
}

// ActionFinished implements rules.Observer.
func (m *EngineMetrics) ActionFinished(actionType rules.ActionType, status rules.Status, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.actions.WithLabelValues(string(actionType), string(status)).Inc()
	m.actionDuration.WithLabelValues(string(actionType)).Observe(duration.Seconds())
}

// QueueDepth implements rules.Observer.
func (m *EngineMetrics) QueueDepth(depth int) {
	if !m.enabled {
		return
	}
	m.queueDepth.Set(float64(depth))
}
