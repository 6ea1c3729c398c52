// Package metrics holds the Prometheus counters maintained by the dispatch engine.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "amqpmock"

// Collector groups the broker's counters.
type Collector struct {
	Published     *prometheus.CounterVec
	Unroutable    *prometheus.CounterVec
	Routed        *prometheus.CounterVec
	Delivered     *prometheus.CounterVec
	HandlerPanics *prometheus.CounterVec
}

// NewCollector creates the counters and registers them with reg.
// A nil reg leaves the counters unregistered.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_published_total",
			Help:      "Total number of messages published, by exchange",
		}, []string{"exchange"}),
		Unroutable: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_unroutable_total",
			Help:      "Total number of published messages that matched no binding",
		}, []string{"exchange"}),
		Routed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_routed_total",
			Help:      "Total number of binding matches, by exchange and target queue",
		}, []string{"exchange", "queue"}),
		Delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_delivered_total",
			Help:      "Total number of handler invocations, by queue",
		}, []string{"queue"}),
		HandlerPanics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_panics_total",
			Help:      "Total number of recovered handler panics, by queue",
		}, []string{"queue"}),
	}

	if reg == nil {
		return c, nil
	}

	for _, col := range []prometheus.Collector{c.Published, c.Unroutable, c.Routed, c.Delivered, c.HandlerPanics} {
		if err := reg.Register(col); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}
	return c, nil
}
