// Package observability defines the Prometheus metrics of a wikitool run.
//
// The tool is a batch CLI, so metrics are not scraped from an HTTP endpoint;
// they are written once per command as a node-exporter textfile.
package observability

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the collectors of one process on a private registry.
type Metrics struct {
	reg *prometheus.Registry

	APIRequests     *prometheus.CounterVec
	APIErrors       *prometheus.CounterVec
	PagesFetched    prometheus.Counter
	FilesDownloaded prometheus.Counter
	NodesSkipped    prometheus.Counter
	NodeFailures    prometheus.Counter
	UsersRanked     prometheus.Counter
	FilesUploaded   prometheus.Counter
	PagesEdited     prometheus.Counter
	CommandDuration *prometheus.HistogramVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		reg: reg,
		APIRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wikitool_api_requests_total",
			Help: "Total number of MediaWiki API requests issued.",
		}, []string{"action"}),
		APIErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wikitool_api_errors_total",
			Help: "Total number of MediaWiki API requests that failed.",
		}, []string{"action"}),
		PagesFetched: factory.NewCounter(prometheus.CounterOpts{
			Name: "wikitool_pages_fetched_total",
			Help: "Total number of pages written to disk.",
		}),
		FilesDownloaded: factory.NewCounter(prometheus.CounterOpts{
			Name: "wikitool_files_downloaded_total",
			Help: "Total number of embedded files downloaded.",
		}),
		NodesSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "wikitool_nodes_skipped_total",
			Help: "Total number of resources skipped because they were already processed.",
		}),
		NodeFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "wikitool_node_failures_total",
			Help: "Total number of pages, files or users whose processing failed.",
		}),
		UsersRanked: factory.NewCounter(prometheus.CounterOpts{
			Name: "wikitool_users_ranked_total",
			Help: "Total number of users included in a personal ranking.",
		}),
		FilesUploaded: factory.NewCounter(prometheus.CounterOpts{
			Name: "wikitool_files_uploaded_total",
			Help: "Total number of local files uploaded to the site.",
		}),
		PagesEdited: factory.NewCounter(prometheus.CounterOpts{
			Name: "wikitool_pages_edited_total",
			Help: "Total number of pages saved to the site.",
		}),
		CommandDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wikitool_command_seconds",
			Help:    "Wall time spent executing a shell command.",
			Buckets: prometheus.ExponentialBuckets(0.1, 4, 8),
		}, []string{"command"}),
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// WriteFile writes all metrics to path in the text exposition format.
func (m *Metrics) WriteFile(path string) error {
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.reg); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
