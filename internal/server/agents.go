package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/quorumhq/quorum/internal/store"
)

// AgentsHandler lists the personas available for asking.
type AgentsHandler struct {
	Store *store.Store
}

func (h *AgentsHandler) Register(g *echo.Group, secret []byte) {
	g.Use(func(next echo.HandlerFunc) echo.HandlerFunc { return withAuth(next, secret) })
	g.GET("", h.list)
}

// ListAgents
//
//	@Summary	List enabled agents
//	@Tags		agents
//	@Produce	json
//	@Success	200	{array}		AgentResponse
//	@Failure	500	{object}	HTTPError
//	@Router		/api/agents [get]
func (h *AgentsHandler) list(c echo.Context) error {
	personas, err := h.Store.ListPersonas(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]AgentResponse, 0, len(personas))
	for _, p := range personas {
		out = append(out, AgentResponse{
			ID:        p.ID,
			Name:      p.Name,
			Title:     p.Title,
			Role:      p.Role,
			Focus:     p.Focus,
			Expertise: p.Expertise,
			Enabled:   p.Enabled,
		})
	}
	return c.JSON(http.StatusOK, out)
}
