package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/quorumhq/quorum/config"
	"github.com/quorumhq/quorum/internal/telemetry"
)

func TestOpsStats(t *testing.T) {
	tele := telemetry.New(config.TelemetryConfig{Enabled: true, CostTracking: true})
	tele.RecordRequest(telemetry.RequestEvent{ID: "r1", Success: true, Duration: 50 * time.Millisecond, Tokens: 20})
	tele.RecordAgentEvent(telemetry.AgentEvent{AgentID: "a1", Success: true, Duration: 10 * time.Millisecond, Model: "m", Tokens: 5})
	tele.RecordRetrieval(telemetry.RetrievalEvent{Chunks: 3})

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/ops/stats", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := &OpsHandler{Telemetry: tele}
	if err := h.stats(c); err != nil {
		t.Fatalf("stats: %v", err)
	}
	var resp StatsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.TotalRequests != 1 || resp.SuccessfulRequests != 1 {
		t.Fatalf("unexpected request counters: %+v", resp)
	}
	if resp.AgentExecutions["a1"] != 1 || resp.AgentSuccessRates["a1"] != 1.0 {
		t.Fatalf("unexpected agent metrics: %+v", resp)
	}
	if resp.RetrievalRequests != 1 || resp.RetrievalChunkCount != 3 {
		t.Fatalf("unexpected retrieval metrics: %+v", resp)
	}
	if resp.TotalTokens != 25 {
		t.Fatalf("expected 25 total tokens, got %d", resp.TotalTokens)
	}
}
