package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DomainMetrics holds the wdnd-specific Prometheus collectors: block
// production throughput, trie commit latency, and message bus queue
// depth per state machine. These are registered on their own Registry
// rather than prometheus's global DefaultRegisterer, so a node can be
// constructed more than once in a test process without collector
// registration panics.
type DomainMetrics struct {
	registry *prometheus.Registry

	// BlocksPacked counts every block successfully packed by the
	// blockchain engine.
	BlocksPacked prometheus.Counter

	// TrieCommitSeconds observes the wall-clock duration of each
	// header/body trie commit performed during a block pack.
	TrieCommitSeconds prometheus.Histogram

	// BusQueueDepth reports the current mailbox depth of each state
	// machine's bus.Waiter, labeled by engine name.
	BusQueueDepth *prometheus.GaugeVec
}

// NewDomainMetrics builds and registers the wdnd domain collectors.
func NewDomainMetrics() *DomainMetrics {
	registry := prometheus.NewRegistry()

	dm := &DomainMetrics{
		registry: registry,
		BlocksPacked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wdnd",
			Subsystem: "blockchain",
			Name:      "blocks_packed_total",
			Help:      "Total number of blocks successfully packed.",
		}),
		TrieCommitSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "wdnd",
			Subsystem: "trie",
			Name:      "commit_duration_seconds",
			Help:      "Time spent committing header/body tries during a block pack.",
			Buckets:   prometheus.DefBuckets,
		}),
		BusQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "wdnd",
			Subsystem: "bus",
			Name:      "queue_depth",
			Help:      "Current number of buffered messages in a state machine's mailbox.",
		}, []string{"engine"}),
	}

	registry.MustRegister(dm.BlocksPacked, dm.TrieCommitSeconds, dm.BusQueueDepth)
	return dm
}

// Handler returns an http.Handler serving these collectors (and nothing
// else) in Prometheus exposition format.
func (dm *DomainMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(dm.registry, promhttp.HandlerOpts{})
}
