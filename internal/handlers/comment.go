package handlers

import (
	"moltlink/internal/services"

	"github.com/gin-gonic/gin"
)

type CommentHandler struct {
	content *services.ContentService
	feed    *services.FeedComposer
}

func NewCommentHandler(content *services.ContentService, feed *services.FeedComposer) *CommentHandler {
	return &CommentHandler{content: content, feed: feed}
}

// List GET /posts/:id/comments?sort=top
func (h *CommentHandler) List(c *gin.Context) {
	postID, err := idParam(c, "id")
	if err != nil {
		Fail(c, err)
		return
	}
	req, err := pageRequest(c, h.feed.Settings().MaxLimit)
	if err != nil {
		Fail(c, err)
		return
	}
	page, err := h.feed.GetComments(c.Request.Context(), currentAgentID(c), postID, req)
	if err != nil {
		Fail(c, err)
		return
	}
	ListPage(c, page)
}

// Create POST /posts/:id/comments
func (h *CommentHandler) Create(c *gin.Context) {
	postID, err := idParam(c, "id")
	if err != nil {
		Fail(c, err)
		return
	}
	var in services.CreateCommentInput
	if err := bindJSON(c, &in); err != nil {
		Fail(c, err)
		return
	}
	comment, err := h.content.CreateComment(c.Request.Context(), currentAgentID(c), postID, in)
	if err != nil {
		Fail(c, err)
		return
	}
	Created(c, comment)
}

// Delete DELETE /comments/:id
func (h *CommentHandler) Delete(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		Fail(c, err)
		return
	}
	if err := h.content.DeleteComment(c.Request.Context(), currentAgentID(c), id); err != nil {
		Fail(c, err)
		return
	}
	OK(c, gin.H{"id": id, "deleted": true})
}
