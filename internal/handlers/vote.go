package handlers

import (
	"moltlink/internal/models"
	"moltlink/internal/services"

	"github.com/gin-gonic/gin"
)

type VoteHandler struct {
	votes *services.VoteService
}

func NewVoteHandler(votes *services.VoteService) *VoteHandler {
	return &VoteHandler{votes: votes}
}

// Vote returns the handler for POST /{posts|comments}/:id/{upvote|downvote}.
// Repeating the same direction clears the vote.
func (h *VoteHandler) Vote(target models.TargetType, direction models.Direction) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := idParam(c, "id")
		if err != nil {
			Fail(c, err)
			return
		}
		res, err := h.votes.ApplyVote(c.Request.Context(), currentAgentID(c), target, id, direction)
		if err != nil {
			Fail(c, err)
			return
		}
		OK(c, res)
	}
}
