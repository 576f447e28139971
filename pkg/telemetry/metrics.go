// Package telemetry holds the process-wide Prometheus instruments. They are
// registered on the default registry and served via /metrics.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomgraph_events_persisted_total",
		Help: "Events durably written together with their state group.",
	})

	StateGroupsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomgraph_state_groups_created_total",
		Help: "New state groups materialized (inherited groups excluded).",
	})

	ForkMerges = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomgraph_fork_merges_total",
		Help: "Event creations that merged two or more parent branches.",
	})

	StateCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomgraph_state_cache_hits_total",
		Help: "State derivations served from the tree cache.",
	})

	StateCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomgraph_state_cache_misses_total",
		Help: "State derivations that had to hit the store.",
	})

	ReceiptsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomgraph_receipts_accepted_total",
		Help: "Ordered updates accepted and assigned a stream position.",
	})

	ReceiptsStale = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomgraph_receipts_stale_total",
		Help: "Ordered updates rejected as not new.",
	})

	FanoutEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roomgraph_fanout_enqueued_total",
		Help: "Outbound federation items enqueued, by kind.",
	}, []string{"kind"})

	FanoutDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomgraph_fanout_dropped_total",
		Help: "Outbound federation items dropped because the queue was full.",
	})

	FanoutQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "roomgraph_fanout_queue_depth",
		Help: "Current depth of the outbound federation queue.",
	})
)
