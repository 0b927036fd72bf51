// Copyright 2025 VeloxVoIP
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// 	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package stats

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/frostbyte73/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/veloxvoip/voicebridge/pkg/config"
)

const namespace = "voicebridge"

type HealthStatus int

const (
	HealthOK HealthStatus = iota
	HealthUnderLoad
	HealthShutdown
)

func (s HealthStatus) String() string {
	switch s {
	case HealthOK:
		return "Healthy"
	case HealthUnderLoad:
		return "Under load"
	case HealthShutdown:
		return "Shutting down"
	default:
		return "Unknown"
	}
}

// Monitor tracks process-wide call metrics. All methods are safe on a nil Monitor.
type Monitor struct {
	maxCalls int64
	active   atomic.Int64
	shutdown core.Fuse

	registry *prometheus.Registry

	callsActive      prometheus.Gauge
	callsTotal       *prometheus.CounterVec
	callDuration     prometheus.Histogram
	interruptions    prometheus.Counter
	toolCalls        *prometheus.CounterVec
	toolDuration     *prometheus.HistogramVec
	callLogWrites    *prometheus.CounterVec
	protocolErrors   *prometheus.CounterVec
	audioBytes       *prometheus.CounterVec
	rejectedStreams  prometheus.Counter
	adminRequests    *prometheus.CounterVec
	rateLimitUpdates prometheus.Counter
}

func NewMonitor(conf *config.Config) (*Monitor, error) {
	m := &Monitor{
		maxCalls: int64(conf.MaxConcurrentCalls),
		registry: prometheus.NewRegistry(),
		callsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calls_active",
			Help:      "Number of calls currently bridged",
		}),
		callsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Finished calls by end reason",
		}, []string{"reason"}),
		callDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Call duration in seconds",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200, 1800},
		}),
		interruptions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interruptions_total",
			Help:      "Barge-in interruptions executed",
		}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool invocations by tool and status",
		}, []string{"tool", "status"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_duration_seconds",
			Help:      "Tool invocation latency",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"tool"}),
		callLogWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_log_writes_total",
			Help:      "Call log writes by result",
		}, []string{"result"}),
		protocolErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_errors_total",
			Help:      "Malformed or unexpected messages by leg",
		}, []string{"leg"}),
		audioBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_total",
			Help:      "Audio bytes relayed by direction",
		}, []string{"direction"}),
		rejectedStreams: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_streams_total",
			Help:      "Media streams refused at capacity or by allowlist",
		}),
		adminRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admin_requests_total",
			Help:      "Administrative API requests by route and status code",
		}, []string{"route", "code"}),
		rateLimitUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_updates_total",
			Help:      "Rate limit updates received from the realtime service",
		}),
	}

	for _, c := range []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.callsActive,
		m.callsTotal,
		m.callDuration,
		m.interruptions,
		m.toolCalls,
		m.toolDuration,
		m.callLogWrites,
		m.protocolErrors,
		m.audioBytes,
		m.rejectedStreams,
		m.adminRequests,
		m.rateLimitUpdates,
	} {
		if err := m.registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Handler serves the monitor's registry in the Prometheus exposition format.
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Monitor) Shutdown() {
	if m == nil {
		return
	}
	m.shutdown.Break()
}

func (m *Monitor) Health() HealthStatus {
	if m == nil {
		return HealthOK
	}
	if m.shutdown.IsBroken() {
		return HealthShutdown
	}
	if m.maxCalls > 0 && m.active.Load() >= m.maxCalls {
		return HealthUnderLoad
	}
	return HealthOK
}

// CanAccept reports whether a new call may be admitted.
func (m *Monitor) CanAccept() bool {
	return m.Health() == HealthOK
}

func (m *Monitor) ActiveCalls() int64 {
	if m == nil {
		return 0
	}
	return m.active.Load()
}

func (m *Monitor) CallStarted() {
	if m == nil {
		return
	}
	m.active.Add(1)
	m.callsActive.Inc()
}

func (m *Monitor) CallEnded(reason string, dur time.Duration) {
	if m == nil {
		return
	}
	m.active.Add(-1)
	m.callsActive.Dec()
	m.callsTotal.WithLabelValues(reason).Inc()
	m.callDuration.Observe(dur.Seconds())
}

func (m *Monitor) Interruption() {
	if m == nil {
		return
	}
	m.interruptions.Inc()
}

func (m *Monitor) ToolCall(tool, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, status).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(dur.Seconds())
}

func (m *Monitor) CallLogWrite(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.callLogWrites.WithLabelValues(result).Inc()
}

func (m *Monitor) ProtocolError(leg string) {
	if m == nil {
		return
	}
	m.protocolErrors.WithLabelValues(leg).Inc()
}

func (m *Monitor) AudioBytes(direction string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.audioBytes.WithLabelValues(direction).Add(float64(n))
}

func (m *Monitor) StreamRejected() {
	if m == nil {
		return
	}
	m.rejectedStreams.Inc()
}

func (m *Monitor) AdminRequest(route string, code int) {
	if m == nil {
		return
	}
	m.adminRequests.WithLabelValues(route, http.StatusText(code)).Inc()
}

func (m *Monitor) RateLimitsUpdated() {
	if m == nil {
		return
	}
	m.rateLimitUpdates.Inc()
}
