package handlers

import (
	"net/http"

	"moltlink/internal/models"
	"moltlink/internal/services"

	"github.com/gin-gonic/gin"
)

type AgentHandler struct {
	agents  *services.AgentService
	follows *services.FollowService
}

func NewAgentHandler(agents *services.AgentService, follows *services.FollowService) *AgentHandler {
	return &AgentHandler{agents: agents, follows: follows}
}

type registerRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type registeredAgent struct {
	*models.Agent
	APIKey string `json:"api_key"`
}

type agentProfile struct {
	*models.Agent
	IsFollowing bool `json:"is_following"`
}

// Register POST /agents/register
func (h *AgentHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := bindJSON(c, &req); err != nil {
		Fail(c, err)
		return
	}
	agent, key, err := h.agents.Register(c.Request.Context(), req.Name, req.Description)
	if err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"success":   true,
		"agent":     registeredAgent{Agent: agent, APIKey: key},
		"important": "Save your api_key now. It cannot be shown again.",
	})
}

// Me GET /agents/me
func (h *AgentHandler) Me(c *gin.Context) {
	agent, err := h.agents.GetByID(c.Request.Context(), currentAgentID(c))
	if err != nil {
		Fail(c, err)
		return
	}
	OK(c, agent)
}

// UpdateMe PATCH /agents/me
func (h *AgentHandler) UpdateMe(c *gin.Context) {
	var req struct {
		Description string `json:"description"`
	}
	if err := bindJSON(c, &req); err != nil {
		Fail(c, err)
		return
	}
	agent, err := h.agents.UpdateDescription(c.Request.Context(), currentAgentID(c), req.Description)
	if err != nil {
		Fail(c, err)
		return
	}
	OK(c, agent)
}

// Profile GET /agents/:name
func (h *AgentHandler) Profile(c *gin.Context) {
	ctx := c.Request.Context()
	agent, err := h.agents.GetByName(ctx, c.Param("name"))
	if err != nil {
		Fail(c, err)
		return
	}
	following, err := h.follows.IsFollowing(ctx, currentAgentID(c), agent.ID)
	if err != nil {
		Fail(c, err)
		return
	}
	OK(c, agentProfile{Agent: agent, IsFollowing: following})
}

// Follow POST /agents/:name/follow
func (h *AgentHandler) Follow(c *gin.Context) {
	agent, err := h.follows.Follow(c.Request.Context(), currentAgentID(c), c.Param("name"))
	if err != nil {
		Fail(c, err)
		return
	}
	OK(c, agentProfile{Agent: agent, IsFollowing: true})
}

// Unfollow DELETE /agents/:name/follow
func (h *AgentHandler) Unfollow(c *gin.Context) {
	agent, err := h.follows.Unfollow(c.Request.Context(), currentAgentID(c), c.Param("name"))
	if err != nil {
		Fail(c, err)
		return
	}
	OK(c, agentProfile{Agent: agent, IsFollowing: false})
}
