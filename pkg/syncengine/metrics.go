/*
Copyright 2026 The KubeEdge Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

   http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package syncengine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kubeedge/ptalk-mapper/pkg/mappercommon"
)

const (
	metricNamespace = "ptalk_mapper"
	metricSubsystem = "sync"

	resultSuccess = "success"
)

var (
	// Use buckets ranging from 5 ms to 30 seconds.
	latencyBuckets = []float64{0.005, 0.025, 0.1, 0.5, 2.5, 10, 30}
)

// Metrics are the collectors updated by an Engine.
type Metrics struct {
	operations *prometheus.CounterVec
	latencies  *prometheus.HistogramVec
	queueDepth *prometheus.GaugeVec
}

func newMetrics() *Metrics {
	return &Metrics{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Subsystem: metricSubsystem,
				Name:      "operations_total",
				Help:      "Field operations executed against devices, labeled by field, operation and result code",
			},
			[]string{"field", "op", "result"},
		),
		latencies: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricNamespace,
				Subsystem: metricSubsystem,
				Name:      "operation_duration_seconds",
				Help:      "Latency of field operations in seconds, queue wait excluded",
				Buckets:   latencyBuckets,
			},
			[]string{"op"},
		),
		queueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricNamespace,
				Subsystem: metricSubsystem,
				Name:      "queue_depth",
				Help:      "Operations waiting in the queue of a device",
			},
			[]string{"device"},
		),
	}
}

func (m *Metrics) register(r prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.operations, m.latencies, m.queueDepth} {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) observe(o *op, err error, elapsed time.Duration) {
	result := resultSuccess
	if err != nil {
		result = mappercommon.ErrorCode(err)
	}
	m.operations.WithLabelValues(o.field.String(), string(o.kind), result).Inc()
	m.latencies.WithLabelValues(string(o.kind)).Observe(elapsed.Seconds())
}

func (m *Metrics) reject(o *op, err error) {
	m.operations.WithLabelValues(o.field.String(), string(o.kind), mappercommon.ErrorCode(err)).Inc()
}

func (m *Metrics) setDepth(address string, depth int) {
	m.queueDepth.WithLabelValues(address).Set(float64(depth))
}
