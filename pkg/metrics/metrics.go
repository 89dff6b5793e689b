// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause

// Package metrics holds the Prometheus collectors exported by the agent.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "execguard"

// Metrics groups every collector the agent updates.
type Metrics struct {
	rules          *prometheus.GaugeVec
	notifications  *prometheus.CounterVec
	moduleOps      *prometheus.CounterVec
	moduleLoaded   *prometheus.GaugeVec
	reconcileFails *prometheus.CounterVec
	requests       *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg skips
// registration, which is what unit tests want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		rules: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "policy",
			Name:      "rules",
			Help:      "Number of rules in the policy store by state.",
		}, []string{"state"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "policy",
			Name:      "notifications_total",
			Help:      "Change notifications emitted by the policy store.",
		}, []string{"kind"}),
		moduleOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "enforcement",
			Name:      "operations_total",
			Help:      "Enforcement module operations by outcome.",
		}, []string{"module", "op", "result"}),
		moduleLoaded: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "enforcement",
			Name:      "loaded",
			Help:      "1 when the enforcement module is attached to its kernel hook.",
		}, []string{"module"}),
		reconcileFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "failures_total",
			Help:      "Notifications whose enforcement step failed.",
		}, []string{"module"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Management requests served, by surface and method.",
		}, []string{"surface", "method", "result"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.rules,
			m.notifications,
			m.moduleOps,
			m.moduleLoaded,
			m.reconcileFails,
			m.requests,
		)
	}
	return m
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// SetRuleCounts records the number of active and inactive rules.
func (m *Metrics) SetRuleCounts(active, inactive int) {
	if m == nil {
		return
	}
	m.rules.WithLabelValues("active").Set(float64(active))
	m.rules.WithLabelValues("inactive").Set(float64(inactive))
}

// Notification counts one store notification of the given kind.
func (m *Metrics) Notification(kind string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(kind).Inc()
}

// ModuleOp counts one enforcement module operation.
func (m *Metrics) ModuleOp(module, op string, err error) {
	if m == nil {
		return
	}
	m.moduleOps.WithLabelValues(module, op, result(err)).Inc()
}

// SetModuleLoaded records whether module is attached.
func (m *Metrics) SetModuleLoaded(module string, loaded bool) {
	if m == nil {
		return
	}
	v := 0.0
	if loaded {
		v = 1
	}
	m.moduleLoaded.WithLabelValues(module).Set(v)
}

// ReconcileFailure counts a failed enforcement step.
func (m *Metrics) ReconcileFailure(module string) {
	if m == nil {
		return
	}
	m.reconcileFails.WithLabelValues(module).Inc()
}

// Request counts one management request.
func (m *Metrics) Request(surface, method string, err error) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(surface, method, result(err)).Inc()
}
