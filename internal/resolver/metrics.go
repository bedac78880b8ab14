// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package resolver

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Status constants for script call metrics.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// ScriptCalls counts calls into plugin scripts.
// Use RegisterMetrics to register this with a Prometheus registry.
var ScriptCalls = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "resolverd_script_calls_total",
		Help: "Total number of script calls by plugin, call and status",
	},
	[]string{"plugin", "call", "status"},
)

// ScriptCallDuration is the histogram for script call duration.
// Use RegisterMetrics to register this with a Prometheus registry.
var ScriptCallDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "resolverd_script_call_duration_seconds",
		Help:    "Script call duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"plugin", "call"},
)

// ResultsReported counts normalized results forwarded to the pipeline.
var ResultsReported = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "resolverd_results_reported_total",
		Help: "Total number of results forwarded to the pipeline",
	},
	[]string{"plugin"},
)

// RecordsRejected counts records dropped by the normalizer.
var RecordsRejected = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "resolverd_records_rejected_total",
		Help: "Total number of script records rejected by reason",
	},
	[]string{"plugin", "reason"},
)

// ProtocolViolations counts synchronous replies to asynchronous calls.
var ProtocolViolations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "resolverd_protocol_violations_total",
		Help: "Total number of synchronous replies to asynchronous calls",
	},
	[]string{"plugin", "call"},
)

// HandlesAbandoned counts query handles discarded without a result.
var HandlesAbandoned = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "resolverd_query_handles_abandoned_total",
		Help: "Total number of query handles discarded without a result",
	},
	[]string{"plugin", "cause"},
)

// PluginState reports the current lifecycle state per plugin, one series per state.
var PluginState = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "resolverd_plugin_state",
		Help: "Plugin lifecycle state (1 for the current state)",
	},
	[]string{"plugin", "state"},
)

// RegisterMetrics registers resolver metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(ScriptCalls)
	reg.MustRegister(ScriptCallDuration)
	reg.MustRegister(ResultsReported)
	reg.MustRegister(RecordsRejected)
	reg.MustRegister(ProtocolViolations)
	reg.MustRegister(HandlesAbandoned)
	reg.MustRegister(PluginState)
}

// RecordScriptCall records one script call and its duration.
func RecordScriptCall(plugin, call string, duration time.Duration, err error) {
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	ScriptCalls.WithLabelValues(plugin, call, status).Inc()
	ScriptCallDuration.WithLabelValues(plugin, call).Observe(duration.Seconds())
}

// RecordResults adds n forwarded results.
func RecordResults(plugin string, n int) {
	ResultsReported.WithLabelValues(plugin).Add(float64(n))
}

// RecordRejected increments the rejected-record counter.
func RecordRejected(plugin, reason string) {
	RecordsRejected.WithLabelValues(plugin, reason).Inc()
}

// RecordProtocolViolation increments the protocol violation counter.
func RecordProtocolViolation(plugin, call string) {
	ProtocolViolations.WithLabelValues(plugin, call).Inc()
}

// RecordHandleAbandoned increments the abandoned handle counter.
// cause is one of "stop", "reload", "expired".
func RecordHandleAbandoned(plugin, cause string, n int) {
	if n <= 0 {
		return
	}
	HandlesAbandoned.WithLabelValues(plugin, cause).Add(float64(n))
}

var allStates = []State{StateUnloaded, StateLoading, StateReady, StateRunning, StateStopped}

// RecordState sets the state gauge for plugin.
func RecordState(plugin string, s State) {
	for _, st := range allStates {
		v := 0.0
		if st == s {
			v = 1
		}
		PluginState.WithLabelValues(plugin, st.String()).Set(v)
	}
}
