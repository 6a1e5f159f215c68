// Package metrics exposes supervisor counters and gauges in Prometheus
// format. Each Recorder owns its own registry so several supervisors (and
// tests) never collide on metric registration.
package metrics

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/log"
)

const (
	namespace = "rinawarp"
	subsystem = "supervisor"
)

// Request outcomes used as the "outcome" label.
const (
	OutcomeOK         = "ok"
	OutcomeToolError  = "tool_error"
	OutcomeTimeout    = "timeout"
	OutcomeStopped    = "stopped"
	OutcomeNotRunning = "not_running"
	OutcomeSendError  = "send_error"
	OutcomeCancelled  = "cancelled"
)

// Reasons used as the "reason" label for dropped results.
const (
	UnmatchedLate    = "late"
	UnmatchedUnknown = "unknown"
)

// Recorder holds the supervisor's metrics. A nil *Recorder is valid and
// records nothing.
type Recorder struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	pending         prometheus.Gauge
	workerUp        prometheus.Gauge
	spawns          prometheus.Counter
	crashes         prometheus.Counter
	restarts        prometheus.Counter
	spawnFailures   prometheus.Counter
	unmatched       *prometheus.CounterVec
	restartDelay    prometheus.Gauge
}

// New creates a Recorder with a fresh registry that also carries the
// standard Go runtime and process collectors.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "tool_requests_total",
				Help:      "Tool requests by tool and outcome",
			},
			[]string{"tool", "outcome"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "tool_request_duration_seconds",
				Help:      "Time from request to settlement, by tool",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 60},
			},
			[]string{"tool"},
		),
		pending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pending_requests",
			Help:      "Requests awaiting a result",
		}),
		workerUp: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "worker_up",
			Help:      "1 while a worker process is running",
		}),
		spawns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "worker_spawns_total",
			Help:      "Successful worker spawns",
		}),
		crashes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "worker_crashes_total",
			Help:      "Unexpected worker exits",
		}),
		restarts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "worker_restarts_total",
			Help:      "Automatic restart attempts after a crash",
		}),
		spawnFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "worker_spawn_failures_total",
			Help:      "Worker spawn attempts that failed",
		}),
		unmatched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "unmatched_results_total",
				Help:      "tool:result messages with no pending request",
			},
			[]string{"reason"},
		),
		restartDelay: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "restart_delay_seconds",
			Help:      "Delay before the most recently scheduled restart",
		}),
	}
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// ObserveRequest records a settled request.
func (r *Recorder) ObserveRequest(tool, outcome string, d time.Duration) {
	if r == nil {
		return
	}
	r.requests.WithLabelValues(tool, outcome).Inc()
	r.requestDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// SetPending sets the number of requests awaiting a result.
func (r *Recorder) SetPending(n int) {
	if r == nil {
		return
	}
	r.pending.Set(float64(n))
}

// WorkerSpawned records a successful spawn.
func (r *Recorder) WorkerSpawned() {
	if r == nil {
		return
	}
	r.spawns.Inc()
	r.workerUp.Set(1)
}

// WorkerDown records that no worker is running.
func (r *Recorder) WorkerDown() {
	if r == nil {
		return
	}
	r.workerUp.Set(0)
}

// WorkerCrashed records an unexpected exit and the delay before the next attempt.
func (r *Recorder) WorkerCrashed(restartDelay time.Duration) {
	if r == nil {
		return
	}
	r.crashes.Inc()
	r.workerUp.Set(0)
	r.restartDelay.Set(restartDelay.Seconds())
}

// RestartAttempted records an automatic restart attempt.
func (r *Recorder) RestartAttempted() {
	if r == nil {
		return
	}
	r.restarts.Inc()
}

// SpawnFailed records a failed spawn.
func (r *Recorder) SpawnFailed() {
	if r == nil {
		return
	}
	r.spawnFailures.Inc()
}

// UnmatchedResult records a dropped tool:result.
func (r *Recorder) UnmatchedResult(reason string) {
	if r == nil {
		return
	}
	r.unmatched.WithLabelValues(reason).Inc()
}

// RegisterSinkDrops exposes fn as the count of UI messages dropped
// because a subscriber was too slow.
func (r *Recorder) RegisterSinkDrops(fn func() uint64) {
	if r == nil {
		return
	}
	err := r.registry.Register(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sink_dropped_total",
			Help:      "Messages a slow subscriber did not receive",
		},
		func() float64 { return float64(fn()) },
	))
	if err != nil {
		log.ErrorErr(log.CatMetrics, "failed to register sink drop counter", err)
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// SetupEndpoint starts an HTTP server exposing /metrics and, when health
// is non-nil, /healthz with its JSON-encoded result. The caller shuts the
// returned server down.
func SetupEndpoint(addr string, r *Recorder, health func() any) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	if health != nil {
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			if err := json.NewEncoder(w).Encode(health()); err != nil {
				log.ErrorErr(log.CatMetrics, "failed to encode health", err)
			}
		})
	}

	server := &http.Server{
		Addr:        addr,
		Handler:     mux,
		ReadTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.ErrorErr(log.CatMetrics, "metrics endpoint stopped", err, "addr", addr)
		}
	}()

	log.Info(log.CatMetrics, "metrics endpoint listening", "addr", addr)
	return server
}
