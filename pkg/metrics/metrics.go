package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// NotificationsDispatched counts dispatch attempts by notification type and result (sent|failed).
	NotificationsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "herald_notifications_dispatched_total",
			Help: "Total number of notification dispatch attempts",
		},
		[]string{"type", "result"},
	)

	// DispatchSweeps counts dispatcher sweeps over the pending queue.
	DispatchSweeps = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "herald_dispatch_sweeps_total",
			Help: "Total number of pending-notification sweeps",
		},
	)

	// PendingBacklog tracks the number of pending notifications seen in the last sweep.
	PendingBacklog = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "herald_pending_backlog",
			Help: "Pending notifications observed during the most recent sweep",
		},
	)
)
