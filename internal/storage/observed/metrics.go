// --------------------------------------------------------------------------------
// Author: Thomas F McGeehan V
//
// This file is part of a software project developed by Thomas F McGeehan V.
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.
//
// For more information about the MIT License, please visit:
// https://opensource.org/licenses/MIT
//
// Acknowledgment appreciated but not required.
// --------------------------------------------------------------------------------

package observed

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is a Prometheus-backed hook sink: register it against a Hooks
// registry once at startup and every observed storage operation updates
// the counters and latency histograms.
type Metrics struct {
	operations *prometheus.CounterVec
	bytes      *prometheus.CounterVec
	errors     *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewMetrics builds and registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parquedb_storage_operations_total",
			Help: "Storage plane operations by type.",
		}, []string{"op"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parquedb_storage_bytes_total",
			Help: "Bytes transferred by operation type.",
		}, []string{"op"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parquedb_storage_errors_total",
			Help: "Storage plane errors by operation type.",
		}, []string{"op"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "parquedb_storage_duration_ms",
			Help:    "Storage plane operation latency in milliseconds.",
			Buckets: prometheus.ExponentialBuckets(0.1, 4, 8),
		}, []string{"op"}),
	}
	reg.MustRegister(m.operations, m.bytes, m.errors, m.duration)
	return m
}

// Attach registers the metric hooks against hooks.
func (m *Metrics) Attach(hooks *Hooks) {
	record := func(ctx OpContext, res OpResult) {
		m.operations.WithLabelValues(ctx.OperationType).Inc()
		m.bytes.WithLabelValues(ctx.OperationType).Add(float64(res.BytesTransferred))
		m.duration.WithLabelValues(ctx.OperationType).Observe(res.DurationMs)
	}
	hooks.RegisterRead(record)
	hooks.RegisterWrite(record)
	hooks.RegisterDelete(record)
	hooks.RegisterError(func(ctx OpContext, _ error) {
		m.errors.WithLabelValues(ctx.OperationType).Inc()
	})
}
