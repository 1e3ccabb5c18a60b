package telemetry

import (
	"testing"
	"time"

	"github.com/quorumhq/quorum/config"
)

func enabledConfig() config.TelemetryConfig {
	return config.TelemetryConfig{Enabled: true, CostTracking: true}
}

func TestRecordRequestAveragesLatency(t *testing.T) {
	tel := New(enabledConfig())

	tel.RecordRequest(RequestEvent{ID: "r1", Success: true, Duration: 100 * time.Millisecond, Tokens: 50})
	tel.RecordRequest(RequestEvent{ID: "r2", Success: false, Duration: 300 * time.Millisecond, Tokens: 30})

	snap := tel.Snapshot()
	if snap.TotalRequests != 2 || snap.SuccessfulRequests != 1 || snap.FailedRequests != 1 {
		t.Fatalf("unexpected counters: %+v", snap)
	}
	if snap.AverageLatency != 200*time.Millisecond {
		t.Fatalf("expected 200ms average, got %v", snap.AverageLatency)
	}
	if tel.TotalTokens() != 80 {
		t.Fatalf("expected 80 tokens, got %d", tel.TotalTokens())
	}
}

func TestRecordAgentEventSuccessRate(t *testing.T) {
	tel := New(enabledConfig())

	tel.RecordAgentEvent(AgentEvent{AgentID: "a1", Success: true, Duration: 100 * time.Millisecond, Model: "gpt-4o", Tokens: 10})
	tel.RecordAgentEvent(AgentEvent{AgentID: "a1", Success: false, Duration: 200 * time.Millisecond, Model: "gpt-4o", Tokens: 20})

	snap := tel.Snapshot()
	if snap.AgentExecutions["a1"] != 2 {
		t.Fatalf("expected 2 executions, got %d", snap.AgentExecutions["a1"])
	}
	if rate := snap.AgentSuccessRates["a1"]; rate != 0.5 {
		t.Fatalf("expected 0.5 success rate, got %f", rate)
	}
	if avg := snap.AgentAverageTimes["a1"]; avg != 150*time.Millisecond {
		t.Fatalf("expected 150ms average, got %v", avg)
	}
	if tel.TotalTokens() != 30 {
		t.Fatalf("expected 30 tokens, got %d", tel.TotalTokens())
	}
}

func TestRecordRetrievalCountsEmptyHits(t *testing.T) {
	tel := New(enabledConfig())

	tel.RecordRetrieval(RetrievalEvent{Chunks: 5})
	tel.RecordRetrieval(RetrievalEvent{Chunks: 0})

	snap := tel.Snapshot()
	if snap.RetrievalRequests != 2 || snap.RetrievalChunkCount != 5 || snap.RetrievalEmptyHits != 1 {
		t.Fatalf("unexpected retrieval metrics: %+v", snap)
	}
}

func TestDisabledTelemetryRecordsNothing(t *testing.T) {
	tel := New(config.TelemetryConfig{Enabled: false, CostTracking: true})

	tel.RecordRequest(RequestEvent{ID: "r1", Success: true, Duration: time.Second, Tokens: 100})
	tel.RecordAgentEvent(AgentEvent{AgentID: "a1", Success: true, Tokens: 100})
	tel.RecordRetrieval(RetrievalEvent{Chunks: 3})

	snap := tel.Snapshot()
	if snap.TotalRequests != 0 || snap.RetrievalRequests != 0 || tel.TotalTokens() != 0 {
		t.Fatalf("disabled telemetry must not record: %+v tokens=%d", snap, tel.TotalTokens())
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	tel := New(enabledConfig())
	tel.RecordAgentEvent(AgentEvent{AgentID: "a1", Success: true, Duration: time.Millisecond})

	snap := tel.Snapshot()
	snap.AgentExecutions["a1"] = 99

	if tel.Snapshot().AgentExecutions["a1"] != 1 {
		t.Fatal("mutating a snapshot must not affect internal state")
	}
}
