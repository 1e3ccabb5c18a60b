package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/quorumhq/quorum/internal/telemetry"
)

// OpsHandler exposes operational telemetry.
type OpsHandler struct {
	Telemetry *telemetry.Telemetry
}

func (h *OpsHandler) Register(g *echo.Group, secret []byte) {
	g.Use(func(next echo.HandlerFunc) echo.HandlerFunc { return withAuth(next, secret) })
	g.GET("/stats", h.stats)
}

// Stats
//
//	@Summary		Processing statistics
//	@Description	Returns request, agent and retrieval metrics plus cumulative token spend
//	@Tags			ops
//	@Produce		json
//	@Success		200	{object}	StatsResponse
//	@Failure		401	{object}	HTTPError
//	@Router			/api/ops/stats [get]
func (h *OpsHandler) stats(c echo.Context) error {
	snap := h.Telemetry.Snapshot()
	agentTimes := make(map[string]string, len(snap.AgentAverageTimes))
	for id, d := range snap.AgentAverageTimes {
		agentTimes[id] = d.String()
	}
	return c.JSON(http.StatusOK, StatsResponse{
		TotalRequests:       snap.TotalRequests,
		SuccessfulRequests:  snap.SuccessfulRequests,
		FailedRequests:      snap.FailedRequests,
		AverageLatency:      snap.AverageLatency.String(),
		AgentExecutions:     snap.AgentExecutions,
		AgentSuccessRates:   snap.AgentSuccessRates,
		AgentAverageTimes:   agentTimes,
		RetrievalRequests:   snap.RetrievalRequests,
		RetrievalEmptyHits:  snap.RetrievalEmptyHits,
		RetrievalChunkCount: snap.RetrievalChunkCount,
		TotalTokens:         h.Telemetry.TotalTokens(),
	})
}
