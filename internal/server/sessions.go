package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/quorumhq/quorum/internal/memory"
)

// SessionsHandler surfaces conversation history and derived context.
type SessionsHandler struct {
	Memory *memory.Service
}

func (h *SessionsHandler) Register(g *echo.Group, secret []byte) {
	g.Use(func(next echo.HandlerFunc) echo.HandlerFunc { return withAuth(next, secret) })
	g.GET("/:id/messages", h.messages)
	g.GET("/:id/context", h.context)
}

// SessionMessages
//
//	@Summary	List session messages
//	@Tags		sessions
//	@Produce	json
//	@Param		id		path		string	true	"Session ID"
//	@Param		limit	query		int		false	"Most recent N messages"
//	@Success	200		{array}		MessageResponse
//	@Failure	500		{object}	HTTPError
//	@Router		/api/sessions/{id}/messages [get]
func (h *SessionsHandler) messages(c echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
		limit = n
	}
	msgs, err := h.Memory.ListMessages(c.Request().Context(), c.Param("id"), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, MessageResponse{
			ID:        m.ID,
			Role:      m.Role,
			Content:   m.Content,
			AgentID:   m.AgentID,
			CreatedAt: m.CreatedAt.Format(time.RFC3339),
		})
	}
	return c.JSON(http.StatusOK, out)
}

// SessionContext
//
//	@Summary	Get assembled session context
//	@Tags		sessions
//	@Produce	json
//	@Param		id	path		string	true	"Session ID"
//	@Success	200	{object}	SessionContextResponse
//	@Failure	500	{object}	HTTPError
//	@Router		/api/sessions/{id}/context [get]
func (h *SessionsHandler) context(c echo.Context) error {
	id := c.Param("id")
	ctx, err := h.Memory.GetContext(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	resp := SessionContextResponse{
		SessionID:    id,
		MessageCount: ctx.MessageCount,
		Summary:      ctx.Summary,
		KeyTopics:    ctx.KeyTopics,
		Messages:     make([]MessageResponse, 0, len(ctx.Messages)),
	}
	for _, m := range ctx.Messages {
		resp.Messages = append(resp.Messages, MessageResponse{
			ID:        m.ID,
			Role:      m.Role,
			Content:   m.Content,
			AgentID:   m.AgentID,
			CreatedAt: m.CreatedAt.Format(time.RFC3339),
		})
	}
	return c.JSON(http.StatusOK, resp)
}
