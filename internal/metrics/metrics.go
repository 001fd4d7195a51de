// Package metrics exposes Prometheus counters for the relay. The
// persistent telemetry tables remain the durable record; these mirror
// them for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the relay server.
type Metrics struct {
	registry *prometheus.Registry

	Uploads         prometheus.Counter
	BoxListUploads  prometheus.Counter
	Exchanges       prometheus.Counter
	Deliveries      prometheus.Counter
	InboxPops       prometheus.Counter
	LocationEntries prometheus.Counter
	Anomalies       *prometheus.CounterVec
	SweepDeletions  *prometheus.CounterVec
}

// New creates and registers the relay metrics on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Uploads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netpass_outbox_uploads_total",
			Help: "Outbox message uploads accepted.",
		}),
		BoxListUploads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netpass_boxlist_uploads_total",
			Help: "Mailbox list uploads accepted.",
		}),
		Exchanges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netpass_exchanges_total",
			Help: "Device pairs processed by the relay matcher.",
		}),
		Deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netpass_deliveries_total",
			Help: "Messages delivered to an inbox.",
		}),
		InboxPops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netpass_inbox_pops_total",
			Help: "Inbox messages handed to a device.",
		}),
		LocationEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netpass_location_entries_total",
			Help: "Successful location entries.",
		}),
		Anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "netpass_upload_anomalies_total",
			Help: "Structurally valid but unexpected field values seen on upload.",
		}, []string{"reason"}),
		SweepDeletions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "netpass_sweep_deletions_total",
			Help: "Rows removed by the retention sweeper.",
		}, []string{"table"}),
	}
	reg.MustRegister(
		m.Uploads, m.BoxListUploads, m.Exchanges, m.Deliveries,
		m.InboxPops, m.LocationEntries, m.Anomalies, m.SweepDeletions,
	)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
