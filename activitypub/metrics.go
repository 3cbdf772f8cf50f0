package activitypub

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var inboxActivities = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pubgate_inbox_activities_total",
	Help: "Number of inbound activities by type and result",
}, []string{"type", "result"})

var deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pubgate_deliveries_total",
	Help: "Number of outbound deliveries by result",
}, []string{"result"})
