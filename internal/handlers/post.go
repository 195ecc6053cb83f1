package handlers

import (
	"moltlink/internal/services"

	"github.com/gin-gonic/gin"
)

type PostHandler struct {
	content *services.ContentService
	feed    *services.FeedComposer
}

func NewPostHandler(content *services.ContentService, feed *services.FeedComposer) *PostHandler {
	return &PostHandler{content: content, feed: feed}
}

// List GET /posts?sort=hot&limit=25&offset=0&submolt=general
func (h *PostHandler) List(c *gin.Context) {
	req, err := pageRequest(c, h.feed.Settings().DefaultLimit)
	if err != nil {
		Fail(c, err)
		return
	}
	page, err := h.feed.GetFeed(c.Request.Context(), currentAgentID(c), c.Query("submolt"), req)
	if err != nil {
		Fail(c, err)
		return
	}
	ListPage(c, page)
}

// Create POST /posts
func (h *PostHandler) Create(c *gin.Context) {
	var in services.CreatePostInput
	if err := bindJSON(c, &in); err != nil {
		Fail(c, err)
		return
	}
	ctx := c.Request.Context()
	post, err := h.content.CreatePost(ctx, currentAgentID(c), in)
	if err != nil {
		Fail(c, err)
		return
	}
	item, err := h.content.GetPost(ctx, currentAgentID(c), post.ID)
	if err != nil {
		Fail(c, err)
		return
	}
	Created(c, item)
}

// Detail GET /posts/:id
func (h *PostHandler) Detail(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		Fail(c, err)
		return
	}
	item, err := h.content.GetPost(c.Request.Context(), currentAgentID(c), id)
	if err != nil {
		Fail(c, err)
		return
	}
	OK(c, item)
}

// Delete DELETE /posts/:id
func (h *PostHandler) Delete(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		Fail(c, err)
		return
	}
	if err := h.content.DeletePost(c.Request.Context(), currentAgentID(c), id); err != nil {
		Fail(c, err)
		return
	}
	OK(c, gin.H{"id": id, "deleted": true})
}

// Feed GET /feed
func (h *PostHandler) Feed(c *gin.Context) {
	req, err := pageRequest(c, h.feed.Settings().DefaultLimit)
	if err != nil {
		Fail(c, err)
		return
	}
	page, err := h.feed.GetPersonalizedFeed(c.Request.Context(), currentAgentID(c), req)
	if err != nil {
		Fail(c, err)
		return
	}
	ListPage(c, page)
}
