package outbox

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	publishedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "communities_outbox_published_total",
		Help: "Outbox events published to the broker and marked SENT.",
	})

	publishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "communities_outbox_publish_failures_total",
		Help: "Failed broker publish attempts (each attempt counts).",
	})

	quarantinedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "communities_outbox_quarantined_total",
		Help: "Outbox events marked SENT without publishing.",
	}, []string{"reason"})

	backlogScans = promauto.NewCounter(prometheus.CounterOpts{
		Name: "communities_outbox_backlog_scans_total",
		Help: "Backlog drains, including idle-timer forced scans.",
	})

	gcDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "communities_outbox_gc_deleted_total",
		Help: "SENT rows removed by the janitor.",
	})
)
