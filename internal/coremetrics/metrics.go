// Package coremetrics wires the messaging core's Prometheus
// collectors, mirroring the Registry pattern used throughout the
// teacher's variants (internal/metrics in go-server and go-server-3).
package coremetrics

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"
)

// Registry groups every collector the core exposes. Each Registry owns
// its own prometheus.Registry rather than registering against the
// global prometheus.DefaultRegisterer, so multiple Registry instances
// (one per test, one per demo process) never collide on duplicate
// collector names.
type Registry struct {
	reg *prometheus.Registry

	ActiveSessions   prometheus.Gauge
	BufferAcquires   prometheus.Counter
	BufferExhausted  prometheus.Counter
	MessagesSent     prometheus.Counter
	MessagesReceived prometheus.Counter
	MessagesDropped  prometheus.Counter
	RPCInFlight      prometheus.Gauge
	RPCCompleted     prometheus.Counter
	RPCTimedOut      prometheus.Counter
	RPCLatency       prometheus.Histogram
	ReconnectAttempt prometheus.Counter
	ReconnectSuccess prometheus.Counter

	ProcessCPUPercent  prometheus.Gauge
	ProcessMemoryBytes prometheus.Gauge
}

// NewRegistry creates a fresh prometheus.Registry and registers every
// collector against it via promauto.With, matching the Registry
// pattern in the teacher repo but instance-scoped rather than process-
// global so tests (and multiple demo instances in one binary) can each
// create their own without a duplicate-registration panic.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		reg: reg,

		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "remotecore_sessions_active",
			Help: "Number of live remote sessions (stream + datagram).",
		}),
		BufferAcquires: factory.NewCounter(prometheus.CounterOpts{
			Name: "remotecore_buffer_acquires_total",
			Help: "Total buffer pool acquire calls.",
		}),
		BufferExhausted: factory.NewCounter(prometheus.CounterOpts{
			Name: "remotecore_buffer_exhausted_total",
			Help: "Total buffer pool acquires that allocated a fresh array.",
		}),
		MessagesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "remotecore_messages_sent_total",
			Help: "Total messages framed and handed to a transport write.",
		}),
		MessagesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "remotecore_messages_received_total",
			Help: "Total messages successfully decoded off the wire.",
		}),
		MessagesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "remotecore_messages_dropped_total",
			Help: "Total inbound frames dropped (decode error, unknown id, framing error).",
		}),
		RPCInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "remotecore_rpc_inflight",
			Help: "Number of RPC entries currently awaiting a response.",
		}),
		RPCCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "remotecore_rpc_completed_total",
			Help: "Total RPC entries completed with a response.",
		}),
		RPCTimedOut: factory.NewCounter(prometheus.CounterOpts{
			Name: "remotecore_rpc_timeout_total",
			Help: "Total RPC entries fired by the sweeper as timed out.",
		}),
		RPCLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "remotecore_rpc_latency_seconds",
			Help:    "Latency between RPC registration and completion.",
			Buckets: prometheus.DefBuckets,
		}),
		ReconnectAttempt: factory.NewCounter(prometheus.CounterOpts{
			Name: "remotecore_reconnect_attempts_total",
			Help: "Total reconnect attempts made by the reconnect supervisor.",
		}),
		ReconnectSuccess: factory.NewCounter(prometheus.CounterOpts{
			Name: "remotecore_reconnect_success_total",
			Help: "Total reconnect attempts that re-established a session.",
		}),
		ProcessCPUPercent: factory.NewGauge(prometheus.GaugeOpts{
			Name: "remotecore_process_cpu_percent",
			Help: "Process CPU usage percentage, sampled via gopsutil.",
		}),
		ProcessMemoryBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "remotecore_process_memory_rss_bytes",
			Help: "Process resident set size in bytes, sampled via gopsutil.",
		}),
	}
}

// RunProcessSampler periodically refreshes ProcessCPUPercent and
// ProcessMemoryBytes until ctx is cancelled. Grounded on the
// gopsutil-backed process.MemoryInfo()/cpu.Percent sampling loop in
// ws/server.go's stats goroutine and go-server/internal/metrics/system.go's
// SystemMetrics.updateCPUMetrics.
func (r *Registry) RunProcessSampler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if memInfo, err := proc.MemoryInfo(); err == nil {
				r.ProcessMemoryBytes.Set(float64(memInfo.RSS))
			}
			if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
				r.ProcessCPUPercent.Set(percents[0])
			}
		}
	}
}

// Handler exposes this Registry's own collectors over HTTP for
// scraping (not the process-global default registry).
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
