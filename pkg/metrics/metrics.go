// Package metrics exposes prometheus counters for the order lifecycle.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the counters the lifecycle services report into.
type Metrics struct {
	registry *prometheus.Registry

	// SagaSteps counts shipment provisioning step outcomes,
	// labelled step={create_shipment,assign_waybill,generate_pickup},
	// outcome={ok,error,skipped}.
	SagaSteps *prometheus.CounterVec

	// WebhookEvents counts carrier webhook outcomes, labelled
	// outcome={applied,history_only,unknown_order,unknown_status,error}.
	WebhookEvents *prometheus.CounterVec

	// Cancellations counts cancellation outcomes, labelled
	// outcome={ok,rejected,error}.
	Cancellations *prometheus.CounterVec
}

// New registers the lifecycle counters on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		SagaSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shipment_saga_steps_total",
			Help: "Shipment provisioning saga step outcomes.",
		}, []string{"step", "outcome"}),
		WebhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carrier_webhook_events_total",
			Help: "Carrier webhook delivery outcomes.",
		}, []string{"outcome"}),
		Cancellations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "order_cancellations_total",
			Help: "Order cancellation outcomes.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.SagaSteps, m.WebhookEvents, m.Cancellations)
	return m
}

// Handler serves the registry in prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
