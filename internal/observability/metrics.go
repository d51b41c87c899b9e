package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesReconciled counts messages merged into local state by input channel.
	MessagesReconciled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gigsync_messages_reconciled_total",
		Help: "Total number of messages merged into local state, by input channel",
	}, []string{"channel"}) // fetch, send, push

	// DedupDrops counts duplicate inserts suppressed by the dedup-insert contract.
	DedupDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gigsync_dedup_drops_total",
		Help: "Total number of duplicate message inserts suppressed",
	}, []string{"channel"})

	// PushEvents counts inbound push events by type.
	PushEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gigsync_push_events_total",
		Help: "Total inbound push events by type",
	}, []string{"event_type"})

	// ConversationSwitches counts open-conversation switches.
	ConversationSwitches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gigsync_conversation_switches_total",
		Help: "Total number of open-conversation switches",
	})

	// StaleFetchDiscards counts history fetches discarded by the epoch guard.
	StaleFetchDiscards = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gigsync_stale_fetch_discards_total",
		Help: "Total number of stale history fetches discarded",
	})

	// SendFailures counts failed sends by reason.
	SendFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gigsync_send_failures_total",
		Help: "Total number of failed message sends by reason",
	}, []string{"reason"}) // validation, upload, api

	// APIRequestLatency records REST request latency by endpoint.
	APIRequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gigsync_api_request_latency_seconds",
		Help:    "REST request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	// EventBusDrops counts engine events dropped because a subscriber was slow.
	EventBusDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gigsync_event_bus_drops_total",
		Help: "Total number of engine events dropped due to a full subscriber buffer",
	})
)
