package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestDomainMetricsBlocksPacked(t *testing.T) {
	dm := NewDomainMetrics()
	dm.BlocksPacked.Inc()
	dm.BlocksPacked.Inc()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	dm.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, "wdnd_blockchain_blocks_packed_total 2") {
		t.Errorf("expected blocks_packed_total 2 in output, got:\n%s", body)
	}
}

func TestDomainMetricsTrieCommitSeconds(t *testing.T) {
	dm := NewDomainMetrics()
	dm.TrieCommitSeconds.Observe(0.05)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	dm.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, "wdnd_trie_commit_duration_seconds") {
		t.Errorf("expected trie commit histogram in output, got:\n%s", body)
	}
}

func TestDomainMetricsBusQueueDepth(t *testing.T) {
	dm := NewDomainMetrics()
	dm.BusQueueDepth.WithLabelValues("blockchain").Set(3)
	dm.BusQueueDepth.WithLabelValues("task").Set(0)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	dm.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, `wdnd_bus_queue_depth{engine="blockchain"} 3`) {
		t.Errorf("expected blockchain queue depth 3 in output, got:\n%s", body)
	}
}

func TestNewDomainMetricsIndependentRegistries(t *testing.T) {
	// Building two DomainMetrics instances must not panic with a
	// duplicate-collector registration error, since each uses its own
	// prometheus.Registry rather than the global DefaultRegisterer.
	_ = NewDomainMetrics()
	_ = NewDomainMetrics()
}
