// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package metrics exposes Prometheus collectors for the flow engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// FlowMetrics holds all Prometheus collectors the flow engine updates.
type FlowMetrics struct {
	ActiveFlows    prometheus.Gauge
	MemoryUsed     prometheus.Gauge
	SpareQueueSize prometheus.Gauge
	Emergency      prometheus.Gauge
	FlowsCreated   prometheus.Counter
	FlowsEvicted   *prometheus.CounterVec
	FlowsDropped   prometheus.Counter
	ManagerPasses  prometheus.Counter
}

// NewFlowMetrics creates the flow engine's Prometheus collectors.
func NewFlowMetrics() *FlowMetrics {
	return &FlowMetrics{
		ActiveFlows: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flowengine_active_flows",
			Help: "Number of flows currently tracked in the flow table.",
		}),
		MemoryUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flowengine_memory_used_bytes",
			Help: "Bytes currently accounted against the flow memcap.",
		}),
		SpareQueueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flowengine_spare_queue_size",
			Help: "Number of pre-allocated flow records sitting in the spare queue.",
		}),
		Emergency: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flowengine_emergency",
			Help: "1 if the flow engine is in emergency eviction mode, 0 otherwise.",
		}),
		FlowsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowengine_flows_created_total",
			Help: "Total number of flows created by the packet entry point.",
		}),
		FlowsEvicted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowengine_flows_evicted_total",
			Help: "Total number of flows evicted by the manager, by reason.",
		}, []string{"reason"}),
		FlowsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowengine_flows_dropped_total",
			Help: "Total number of packets that proceeded without a flow because none could be obtained.",
		}),
		ManagerPasses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowengine_manager_passes_total",
			Help: "Total number of eviction passes the flow manager has completed.",
		}),
	}
}

// Describe implements prometheus.Collector.
func (m *FlowMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.ActiveFlows.Describe(ch)
	m.MemoryUsed.Describe(ch)
	m.SpareQueueSize.Describe(ch)
	m.Emergency.Describe(ch)
	m.FlowsCreated.Describe(ch)
	m.FlowsEvicted.Describe(ch)
	m.FlowsDropped.Describe(ch)
	m.ManagerPasses.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *FlowMetrics) Collect(ch chan<- prometheus.Metric) {
	m.ActiveFlows.Collect(ch)
	m.MemoryUsed.Collect(ch)
	m.SpareQueueSize.Collect(ch)
	m.Emergency.Collect(ch)
	m.FlowsCreated.Collect(ch)
	m.FlowsEvicted.Collect(ch)
	m.FlowsDropped.Collect(ch)
	m.ManagerPasses.Collect(ch)
}

// Register registers all collectors with the given registerer.
func (m *FlowMetrics) Register(reg prometheus.Registerer) error {
	return reg.Register(m)
}
