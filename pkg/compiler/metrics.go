// Copyright 2025 The Kubernetes Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package compiler

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "og"
	subsystem = "view_compiler"
)

// Metrics provides access to view compiler metrics.
var Metrics = newCompilerMetrics()

// CompilerMetrics holds prometheus metrics for view compilations.
type CompilerMetrics struct {
	compilations        *prometheus.CounterVec
	compilationTime     *prometheus.HistogramVec
	graphNodes          *prometheus.HistogramVec
	unsatisfied         *prometheus.CounterVec
	prunedResolutions   prometheus.Counter
	retainedResolutions prometheus.Gauge
}

func newCompilerMetrics() *CompilerMetrics {
	return &CompilerMetrics{
		compilations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "compilations_total",
				Help:      "Total number of view compilations by kind and result.",
			},
			[]string{"kind", "result"}, // result: "success", "error" or "cancelled"
		),
		compilationTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "compilation_duration_seconds",
				Help:      "View compilation time in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~16s
			},
			[]string{"kind"},
		),
		graphNodes: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "graph_nodes",
				Help:      "Number of nodes in each compiled dependency graph.",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
			},
			[]string{"kind"},
		),
		unsatisfied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "unsatisfied_requirements_total",
				Help:      "Terminal requirements dropped because they could not be satisfied.",
			},
			[]string{"kind"},
		),
		prunedResolutions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "pruned_resolutions_total",
				Help:      "Resolution map entries removed after compilation.",
			},
		),
		retainedResolutions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "retained_resolutions",
				Help:      "Resolution map size after the most recent compilation.",
			},
		),
	}
}

// ObserveCompilation records the outcome and duration of a compilation.
func (m *CompilerMetrics) ObserveCompilation(kind Kind, durationSeconds float64, err error) {
	result := "success"
	switch {
	case IsCancelled(err):
		result = "cancelled"
	case err != nil:
		result = "error"
	}
	m.compilations.WithLabelValues(string(kind), result).Inc()
	m.compilationTime.WithLabelValues(string(kind)).Observe(durationSeconds)
}

// ObserveGraph records the size of a compiled graph and the requirements
// its builder dropped.
func (m *CompilerMetrics) ObserveGraph(kind Kind, nodes, unsatisfied int) {
	m.graphNodes.WithLabelValues(string(kind)).Observe(float64(nodes))
	m.unsatisfied.WithLabelValues(string(kind)).Add(float64(unsatisfied))
}

// ObserveResolutions records a resolution map pruning.
func (m *CompilerMetrics) ObserveResolutions(pruned, retained int) {
	m.prunedResolutions.Add(float64(pruned))
	m.retainedResolutions.Set(float64(retained))
}

// MustRegister registers the metrics with the given Prometheus registry.
func (m *CompilerMetrics) MustRegister(registry prometheus.Registerer) {
	registry.MustRegister(
		m.compilations,
		m.compilationTime,
		m.graphNodes,
		m.unsatisfied,
		m.prunedResolutions,
		m.retainedResolutions,
	)
}

func init() {
	Metrics.MustRegister(prometheus.DefaultRegisterer)
}
