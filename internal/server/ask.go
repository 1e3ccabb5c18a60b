package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/quorumhq/quorum/internal/memory"
	"github.com/quorumhq/quorum/internal/persona"
	"github.com/quorumhq/quorum/internal/policy"
	"github.com/quorumhq/quorum/internal/retrieval"
	"github.com/quorumhq/quorum/internal/store"
	"github.com/quorumhq/quorum/internal/synthesis"
	"github.com/quorumhq/quorum/internal/telemetry"
)

// AskHandler answers questions, either through a named persona or as a
// plain grounded answer when no agent is requested.
type AskHandler struct {
	Engine      *persona.Engine
	Retriever   persona.ChunkRetriever
	Synthesizer *synthesis.Synthesizer
	Memory      *memory.Service
	Telemetry   *telemetry.Telemetry
}

func (h *AskHandler) Register(g *echo.Group, secret []byte) {
	g.Use(func(next echo.HandlerFunc) echo.HandlerFunc { return withAuth(next, secret) })
	g.POST("", h.ask)
}

// Ask
//
//	@Summary		Ask a question
//	@Description	Answers a question grounded in retrieved context, through a persona when agent_id is given
//	@Tags			ask
//	@Accept			json
//	@Produce		json
//	@Param			payload	body		AskRequest	true	"Question payload"
//	@Success		200		{object}	AskResponse
//	@Failure		400		{object}	HTTPError
//	@Failure		404		{object}	HTTPError
//	@Failure		500		{object}	HTTPError
//	@Router			/api/ask [post]
func (h *AskHandler) ask(c echo.Context) error {
	var req AskRequest
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

	var convCtx *memory.OptimizedContext
	var prefs memory.Preferences
	if req.SessionID != "" && h.Memory != nil {
		if oc, err := h.Memory.GetOptimizedContext(ctx, req.SessionID, req.Question); err == nil {
			convCtx = &oc
		}
		if full, err := h.Memory.GetContext(ctx, req.SessionID); err == nil {
			prefs = full.Preferences
		}
	}

	var result synthesis.AnswerResult
	var err error
	if strings.TrimSpace(req.AgentID) == "" {
		result, err = h.askGrounded(c, req, role, convCtx)
	} else {
		result, err = h.Engine.Respond(ctx, req.Question, req.AgentID, persona.RespondOptions{
			Role:        role,
			Version:     req.Version,
			Context:     convCtx,
			Preferences: prefs,
			MaxTokens:   req.MaxTokens,
		})
	}
	if err != nil {
		questionsTotal.WithLabelValues("error").Inc()
		var notFound persona.ErrAgentNotFound
		if errors.As(err, &notFound) {
			return echo.NewHTTPError(http.StatusNotFound, notFound.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	// Commit the turn as a pair only after the answer exists, so a failed
	// request never leaves a dangling user message.
	if req.SessionID != "" && h.Memory != nil {
		_, _ = h.Memory.AddMessage(ctx, req.SessionID, store.MessageRoleUser, req.Question,
			memory.AddOptions{UserID: userID, AgentID: req.AgentID})
		_, _ = h.Memory.AddMessage(ctx, req.SessionID, store.MessageRoleAssistant, result.Answer,
			memory.AddOptions{UserID: userID, AgentID: result.AgentID})
	}

	questionsTotal.WithLabelValues("ok").Inc()
	answerConfidence.Observe(result.Confidence)
	if h.Telemetry != nil {
		agents := []string{}
		if result.AgentID != "" {
			agents = append(agents, result.AgentID)
		}
		h.Telemetry.RecordRequest(telemetry.RequestEvent{
			ID:         req.SessionID,
			Success:    true,
			Duration:   time.Since(started),
			AgentsUsed: agents,
			Tokens:     result.Tokens,
			Confidence: result.Confidence,
		})
	}

	return c.JSON(http.StatusOK, AskResponse{
		Answer:     result.Answer,
		Confidence: result.Confidence,
		Sources:    result.Sources,
		AgentID:    result.AgentID,
		AgentName:  result.AgentName,
		SessionID:  req.SessionID,
	})
}

// askGrounded answers without a persona: retrieve under the caller's
// role, then synthesize from the surviving chunks.
func (h *AskHandler) askGrounded(c echo.Context, req AskRequest, role policy.Role, convCtx *memory.OptimizedContext) (synthesis.AnswerResult, error) {
	ctx := c.Request().Context()

	retrievalStarted := time.Now()
	res, err := h.Retriever.Retrieve(ctx, retrieval.Query{
		Question: req.Question,
		Role:     role,
		Version:  req.Version,
	})
	if err != nil {
		return synthesis.AnswerResult{}, err
	}
	if h.Telemetry != nil {
		h.Telemetry.RecordRetrieval(telemetry.RetrievalEvent{
			Chunks:   len(res.Chunks),
			Duration: time.Since(retrievalStarted),
		})
	}

	opts := synthesis.Options{MaxTokens: req.MaxTokens, Role: string(role)}
	if convCtx != nil {
		opts.Context = convCtx.Render()
	}
	return h.Synthesizer.Synthesize(ctx, req.Question, res.Chunks, opts)
}
