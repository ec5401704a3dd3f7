package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for the report pipeline.
type Metrics struct {
	ReportsCreated         prometheus.Counter
	ClusterLinks           prometheus.Counter
	ClusterConflicts       prometheus.Counter
	CascadeUpdates         prometheus.Counter
	CascadeFailures        prometheus.Counter
	NotificationsDelivered prometheus.Counter
	NotificationsDropped   prometheus.Counter
}

// New registers and returns the application metrics.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ReportsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "civicplus_reports_created_total",
			Help: "Total number of reports created.",
		}),
		ClusterLinks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "civicplus_cluster_links_total",
			Help: "Total number of reports linked into an existing cluster.",
		}),
		ClusterConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "civicplus_cluster_link_conflicts_total",
			Help: "Total number of optimistic-lock conflicts during cluster linkage.",
		}),
		CascadeUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "civicplus_cascade_updates_total",
			Help: "Total number of member reports updated by status cascades.",
		}),
		CascadeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "civicplus_cascade_failures_total",
			Help: "Total number of member writes that failed mid-cascade.",
		}),
		NotificationsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "civicplus_notifications_delivered_total",
			Help: "Total number of events delivered to active listeners.",
		}),
		NotificationsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "civicplus_notifications_dropped_total",
			Help: "Total number of events dropped because no listener was ready.",
		}),
	}

	reg.MustRegister(
		m.ReportsCreated,
		m.ClusterLinks,
		m.ClusterConflicts,
		m.CascadeUpdates,
		m.CascadeFailures,
		m.NotificationsDelivered,
		m.NotificationsDropped,
	)

	return m
}
