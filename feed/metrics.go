package feed

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var feedRowsInserted = promauto.NewCounter(prometheus.CounterOpts{
	Name: "pubgate_feed_rows_inserted_total",
	Help: "Number of feed rows written by fan-out",
})

var notificationsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pubgate_notifications_created_total",
	Help: "Number of notifications by type",
}, []string{"type"})
