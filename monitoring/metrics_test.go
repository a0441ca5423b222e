package monitoring

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics

	m.RecordReceived()
	m.RecordDuplicate()
	m.RecordOverflow(QueueOutgoing)
	m.RecordSend("text", nil)
	m.UpdateDedupSize(3, true)
	m.UpdatePeers(2)
	m.RecordGroupFanout(time.Millisecond)

	if m.Registry() != nil {
		t.Error("Nil metrics should have a nil registry")
	}
}

func TestRecordSend(t *testing.T) {
	m := NewMetrics("test")

	m.RecordSend("text", nil)
	m.RecordSend("text", nil)
	m.RecordSend("text", errors.New("unreachable"))

	if got := testutil.ToFloat64(m.MessagesSent.WithLabelValues("text")); got != 2 {
		t.Errorf("Expected 2 sent, got %v", got)
	}
	if got := testutil.ToFloat64(m.SendFailures); got != 1 {
		t.Errorf("Expected 1 failure, got %v", got)
	}
}

func TestDedupAndOverflow(t *testing.T) {
	m := NewMetrics("test")

	m.RecordDuplicate()
	m.RecordOverflow(QueueIncoming)
	m.UpdateDedupSize(501, false)
	m.UpdateDedupSize(0, true)

	if got := testutil.ToFloat64(m.DuplicatesDropped); got != 1 {
		t.Errorf("Expected 1 duplicate, got %v", got)
	}
	if got := testutil.ToFloat64(m.QueueOverflow.WithLabelValues(QueueIncoming)); got != 1 {
		t.Errorf("Expected 1 overflow, got %v", got)
	}
	if got := testutil.ToFloat64(m.DedupSetSize); got != 0 {
		t.Errorf("Expected dedup size 0, got %v", got)
	}
	if got := testutil.ToFloat64(m.DedupClears); got != 1 {
		t.Errorf("Expected 1 clear, got %v", got)
	}
}

func TestIndependentRegistries(t *testing.T) {
	a := NewMetrics("lanchat")
	b := NewMetrics("lanchat")

	a.RecordPeerFound()

	if got := testutil.ToFloat64(b.PeersFound); got != 0 {
		t.Errorf("Metrics of separate nodes should not share state, got %v", got)
	}
}

func TestMetricsServer(t *testing.T) {
	m := NewMetrics("test")
	m.UpdatePeers(3)

	srv := NewMetricsServer("127.0.0.1:0", m)
	if err := srv.StartAsync(); err != nil {
		t.Fatalf("StartAsync failed: %v", err)
	}
	defer srv.Stop()

	base := "http://" + srv.Addr().String()

	resp, err := http.Get(base + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}

	resp, err = http.Get(base + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "test_peers_online 3") {
		t.Errorf("Expected peers gauge in output, got:\n%s", body)
	}

	if err := srv.StartAsync(); err == nil {
		t.Error("Second StartAsync should fail")
	}
}

func TestMetricsServerRestart(t *testing.T) {
	srv := NewMetricsServer("127.0.0.1:0", NewMetrics("test"))

	if err := srv.Stop(); err != nil {
		t.Errorf("Stop before start should be a no-op, got %v", err)
	}
	if err := srv.StartAsync(); err != nil {
		t.Fatalf("StartAsync failed: %v", err)
	}
	if err := srv.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if srv.Addr() != nil {
		t.Errorf("Expected nil address after Stop, got %v", srv.Addr())
	}

	if err := srv.StartAsync(); err != nil {
		t.Fatalf("StartAsync after Stop failed: %v", err)
	}
	defer srv.Stop()

	resp, err := http.Get("http://" + srv.Addr().String() + "/health")
	if err != nil {
		t.Fatalf("GET /health after restart failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
}
