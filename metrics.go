// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package link

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Request outcomes
const (
	outcomeOK      = "ok"
	outcomeRemote  = "remote_error"
	outcomeTimeout = "timeout"
	outcomeFailed  = "failed"
)

type metrics struct {
	pending     prometheus.Gauge
	requests    *prometheus.CounterVec
	inbound     *prometheus.CounterVec
	disconnects prometheus.Counter
}

func newMetrics(linkType string) *metrics {
	labels := prometheus.Labels{"link_type": linkType}
	return &metrics{
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "link_pending_requests",
			Help:        "Requests waiting for a reply.",
			ConstLabels: labels,
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "link_requests_total",
			Help:        "Outbound requests by outcome.",
			ConstLabels: labels,
		}, []string{"outcome"}),
		inbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "link_inbound_requests_total",
			Help:        "Inbound requests served by outcome.",
			ConstLabels: labels,
		}, []string{"outcome"}),
		disconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "link_disconnects_total",
			Help:        "Relay connections lost or closed.",
			ConstLabels: labels,
		}),
	}
}

func (m *metrics) register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.pending, m.requests, m.inbound, m.disconnects} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
