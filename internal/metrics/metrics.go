// Package metrics holds the Prometheus collectors of the signal pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "signalboard"

// Metrics groups the collectors on a private registry so tests and multiple
// engines in one process never collide on registration.
type Metrics struct {
	Registry *prometheus.Registry

	SamplesIngested  *prometheus.CounterVec
	FeedGaps         *prometheus.CounterVec
	Evaluations      prometheus.Counter
	EvaluationErrors *prometheus.CounterVec
	SignalsFired     *prometheus.CounterVec
	PersistFailures  prometheus.Counter
	PublishFailures  prometheus.Counter
	WSClients        prometheus.Gauge
	NotifySent       *prometheus.CounterVec
	NotifyFailures   *prometheus.CounterVec
	NotifyDropped    prometheus.Counter
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		SamplesIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "samples_ingested_total", Help: "Samples accepted by the indicator calculator"},
			[]string{"timeframe"},
		),
		FeedGaps: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "feed_gaps_total", Help: "Out-of-order samples rejected and forward gaps flagged"},
			[]string{"kind"},
		),
		Evaluations: prometheus.NewCounter(
			prometheus.CounterOpts{Namespace: namespace, Name: "evaluations_total", Help: "Predicate evaluations"},
		),
		EvaluationErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "evaluation_errors_total", Help: "Predicate evaluations that could not be decided"},
			[]string{"reason"},
		),
		SignalsFired: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "signals_fired_total", Help: "Signals emitted by the rule engine"},
			[]string{"signal_type"},
		),
		PersistFailures: prometheus.NewCounter(
			prometheus.CounterOpts{Namespace: namespace, Name: "signal_persist_failures_total", Help: "Signals the store failed to append"},
		),
		PublishFailures: prometheus.NewCounter(
			prometheus.CounterOpts{Namespace: namespace, Name: "signal_publish_failures_total", Help: "Signals the delivery channel failed to publish"},
		),
		WSClients: prometheus.NewGauge(
			prometheus.GaugeOpts{Namespace: namespace, Name: "ws_clients", Help: "Open delivery channel connections"},
		),
		NotifySent: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "notifications_sent_total", Help: "Notifications delivered per sender"},
			[]string{"sender"},
		),
		NotifyFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "notification_failures_total", Help: "Notification sends that failed per sender"},
			[]string{"sender"},
		),
		NotifyDropped: prometheus.NewCounter(
			prometheus.CounterOpts{Namespace: namespace, Name: "notifications_dropped_total", Help: "Signals dropped because the notification queue was full"},
		),
	}
	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.SamplesIngested,
		m.FeedGaps,
		m.Evaluations,
		m.EvaluationErrors,
		m.SignalsFired,
		m.PersistFailures,
		m.PublishFailures,
		m.WSClients,
		m.NotifySent,
		m.NotifyFailures,
		m.NotifyDropped,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
