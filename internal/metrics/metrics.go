// Package metrics declares the service's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConsumptionsRecorded counts committed ledger adds, partitioned by
	// whether the unit was spilled and whether a barrel had capacity.
	ConsumptionsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tapboard_consumptions_recorded_total",
		Help: "Committed consumption entries.",
	}, []string{"spilled", "barrel"})

	// ConsumptionsUndone counts committed removeLast operations.
	ConsumptionsUndone = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tapboard_consumptions_undone_total",
		Help: "Committed remove-last operations.",
	})

	// BroadcastsSent counts per-connection push deliveries.
	BroadcastsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tapboard_broadcasts_sent_total",
		Help: "Update payloads delivered to subscriber connections.",
	})

	// BroadcastsDropped counts per-connection deliveries skipped because the
	// connection's send buffer was full.
	BroadcastsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tapboard_broadcasts_dropped_total",
		Help: "Update payloads dropped for slow subscriber connections.",
	})

	// Subscribers tracks currently connected live viewers.
	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tapboard_subscribers",
		Help: "Currently subscribed live connections.",
	})
)
