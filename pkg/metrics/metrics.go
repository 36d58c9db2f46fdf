// Package metrics holds the Prometheus collectors shared by both services.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	reservations     *prometheus.CounterVec
	reservationTime  *prometheus.HistogramVec
	transitions      *prometheus.CounterVec
	messages         *prometheus.CounterVec
	outboxDispatches *prometheus.CounterVec
	handlerDurations *prometheus.HistogramVec
	gatherer         prometheus.Gatherer
}

// New registers every collector on reg. Pass prometheus.NewRegistry() in tests.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inventory_reservations_total",
			Help: "Reservation attempts by entry point and result.",
		}, []string{"entry", "result"}),
		reservationTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "inventory_reservation_duration_seconds",
			Help:    "Duration of one check-then-commit reservation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"entry"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "order_status_transitions_total",
			Help: "Order status changes by target status and whether they applied.",
		}, []string{"status", "applied"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "consumer_messages_total",
			Help: "Consumed messages by topic and result.",
		}, []string{"topic", "result"}),
		outboxDispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_dispatch_total",
			Help: "Outbox rows handed to the broker by topic and result.",
		}, []string{"topic", "result"}),
		handlerDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "consumer_handler_duration_seconds",
			Help:    "Time spent handling one message including retries.",
			Buckets: prometheus.DefBuckets,
		}, []string{"topic"}),
		gatherer: reg,
	}
	reg.MustRegister(m.reservations, m.reservationTime, m.transitions, m.messages, m.outboxDispatches, m.handlerDurations)
	return m
}

func (m *Metrics) Reservation(entry, result string, started time.Time) {
	m.reservations.WithLabelValues(entry, result).Inc()
	m.reservationTime.WithLabelValues(entry).Observe(time.Since(started).Seconds())
}

func (m *Metrics) Transition(status string, applied bool) {
	label := "false"
	if applied {
		label = "true"
	}
	m.transitions.WithLabelValues(status, label).Inc()
}

func (m *Metrics) Message(topic, result string, started time.Time) {
	m.messages.WithLabelValues(topic, result).Inc()
	m.handlerDurations.WithLabelValues(topic).Observe(time.Since(started).Seconds())
}

func (m *Metrics) Dispatch(topic, result string) {
	m.outboxDispatches.WithLabelValues(topic, result).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
