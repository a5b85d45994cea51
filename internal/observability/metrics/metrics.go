package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// WebhookMetrics exposes counters/histograms for webhook ingestion and handler fan-out.
type WebhookMetrics struct {
	receivedTotal   *prometheus.CounterVec
	handlerTotal    *prometheus.CounterVec
	handlerDuration *prometheus.HistogramVec
	replayTotal     *prometheus.CounterVec
}

func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	m := &WebhookMetrics{
		receivedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "webhooks",
			Name:      "received_total",
			Help:      "Inbound webhook deliveries by outcome",
		}, []string{"provider", "event_type", "outcome"}),
		handlerTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "webhooks",
			Name:      "handler_total",
			Help:      "Handler executions by status",
		}, []string{"event_type", "handler", "status"}),
		handlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "webhooks",
			Name:      "handler_duration_seconds",
			Help:      "Latency of individual webhook handlers",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event_type", "handler"}),
		replayTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "webhooks",
			Name:      "replay_total",
			Help:      "Replayed webhook events by result",
		}, []string{"result"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.receivedTotal, m.handlerTotal, m.handlerDuration, m.replayTotal)
	return m
}

func (m *WebhookMetrics) ObserveReceived(provider, eventType, outcome string) {
	if m == nil {
		return
	}
	m.receivedTotal.WithLabelValues(provider, eventType, outcome).Inc()
}

func (m *WebhookMetrics) ObserveHandler(eventType, handler string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.handlerTotal.WithLabelValues(eventType, handler, status).Inc()
	m.handlerDuration.WithLabelValues(eventType, handler).Observe(elapsed.Seconds())
}

func (m *WebhookMetrics) ObserveReplay(result string) {
	if m == nil {
		return
	}
	m.replayTotal.WithLabelValues(result).Inc()
}
