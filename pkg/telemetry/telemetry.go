package telemetry

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Engine instrumentation. Collectors are registered on the default registry
// so embedding applications can expose them alongside their own metrics, or
// serve Handler() directly.

var (
	// BatchesTotal counts reconciled input batches by source
	// (live, back, forward, send, decrypt, receipt, sweep).
	BatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roomline_batches_total",
		Help: "Input batches applied by the reconciler, by source.",
	}, []string{"source"})

	// EventsTotal counts ingested raw events by outcome.
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roomline_events_total",
		Help: "Raw events processed, by outcome (item, control, duplicate, undecodable).",
	}, []string{"outcome"})

	// OrphanDropsTotal counts buffered mutations dropped without ever
	// resolving a target.
	OrphanDropsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomline_orphan_drops_total",
		Help: "Buffered mutations dropped because their target never appeared.",
	})

	// EchoTotal counts local echo lifecycle transitions.
	EchoTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roomline_echo_total",
		Help: "Local echo lifecycle transitions.",
	}, []string{"state"})

	// DiffOpsTotal counts emitted diff operations by kind.
	DiffOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roomline_diff_ops_total",
		Help: "Diff operations published to subscribers, by op.",
	}, []string{"op"})

	// QueueDepth is the current depth of the intake queue.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "roomline_queue_depth",
		Help: "Current depth of the intake queue.",
	})

	// Items is the current number of rendered timeline items, virtual
	// entries included.
	Items = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "roomline_items",
		Help: "Rendered timeline items in the latest snapshot.",
	})

	// SubscribersDropped counts diff subscribers disconnected for falling
	// behind.
	SubscribersDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomline_subscribers_dropped_total",
		Help: "Diff subscribers dropped because their channel was full.",
	})
)

// Handler returns an http.Handler exposing /metrics and /healthz for
// embedding applications that want a standalone exposition endpoint.
func Handler() http.Handler {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}).Methods(http.MethodGet)
	return r
}
