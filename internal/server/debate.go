package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/quorumhq/quorum/internal/debate"
	"github.com/quorumhq/quorum/internal/memory"
	"github.com/quorumhq/quorum/internal/persona"
	"github.com/quorumhq/quorum/internal/store"
	"github.com/quorumhq/quorum/internal/telemetry"
)

// DebateHandler answers questions through multiple personas at once.
type DebateHandler struct {
	Coordinator *debate.Coordinator
	Memory      *memory.Service
	Telemetry   *telemetry.Telemetry
}

func (h *DebateHandler) Register(g *echo.Group, secret []byte) {
	g.Use(func(next echo.HandlerFunc) echo.HandlerFunc { return withAuth(next, secret) })
	g.POST("", h.debate)
}

// Debate
//
//	@Summary		Ask multiple agents
//	@Description	Fans a question out to several personas concurrently, optionally synthesizing a debate
//	@Tags			debate
//	@Accept			json
//	@Produce		json
//	@Param			payload	body		DebateRequest	true	"Debate payload"
//	@Success		200		{object}	DebateResponse
//	@Failure		400		{object}	HTTPError
//	@Failure		422		{object}	HTTPError
//	@Failure		500		{object}	HTTPError
//	@Router			/api/debate [post]
func (h *DebateHandler) debate(c echo.Context) error {
	var req DebateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Question) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question is required")
	}

	ctx := c.Request().Context()
	role := requestRole(c)
	userID, _ := c.Get("user_id").(string)
	started := time.Now()

	respond := persona.RespondOptions{
		Role:      role,
		Version:   req.Version,
		MaxTokens: req.MaxTokens,
	}
	if req.SessionID != "" && h.Memory != nil {
		if convCtx, err := h.Memory.GetOptimizedContext(ctx, req.SessionID, req.Question); err == nil {
			respond.Context = &convCtx
		}
	}

	result, err := h.Coordinator.Debate(ctx, req.Question, req.AgentIDs, debate.Options{
		EnableDebate: req.EnableDebate,
		Respond:      respond,
	})
	if err != nil {
		debatesTotal.WithLabelValues("error").Inc()
		var noAgents debate.ErrNoValidAgents
		if errors.As(err, &noAgents) {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, noAgents.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	// Commit the whole turn only after every agent has answered, so a
	// failed debate never leaves a dangling user message.
	if req.SessionID != "" && h.Memory != nil {
		_, _ = h.Memory.AddMessage(ctx, req.SessionID, store.MessageRoleUser, req.Question,
			memory.AddOptions{UserID: userID})
	}

	resp := DebateResponse{
		DebateSummary: result.DebateSummary,
		Consensus:     result.Consensus,
		Disagreements: result.Disagreements,
		SessionID:     req.SessionID,
	}
	agents := make([]string, 0, len(result.Responses))
	var tokens int64
	for _, r := range result.Responses {
		resp.Responses = append(resp.Responses, AskResponse{
			Answer:     r.Answer,
			Confidence: r.Confidence,
			Sources:    r.Sources,
			AgentID:    r.AgentID,
			AgentName:  r.AgentName,
		})
		agents = append(agents, r.AgentID)
		tokens += r.Tokens
		answerConfidence.Observe(r.Confidence)
		if req.SessionID != "" && h.Memory != nil {
			_, _ = h.Memory.AddMessage(ctx, req.SessionID, store.MessageRoleAssistant, r.Answer,
				memory.AddOptions{UserID: userID, AgentID: r.AgentID})
		}
	}

	debatesTotal.WithLabelValues("ok").Inc()
	if h.Telemetry != nil {
		h.Telemetry.RecordRequest(telemetry.RequestEvent{
			ID:         req.SessionID,
			Success:    true,
			Duration:   time.Since(started),
			AgentsUsed: agents,
			Tokens:     tokens,
		})
	}

	return c.JSON(http.StatusOK, resp)
}
