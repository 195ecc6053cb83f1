package handlers

import (
	"moltlink/internal/models"
	"moltlink/internal/services"

	"github.com/gin-gonic/gin"
)

type SubmoltHandler struct {
	submolts *services.SubmoltService
	feed     *services.FeedComposer
}

func NewSubmoltHandler(submolts *services.SubmoltService, feed *services.FeedComposer) *SubmoltHandler {
	return &SubmoltHandler{submolts: submolts, feed: feed}
}

type submoltView struct {
	*models.Submolt
	IsSubscribed bool `json:"is_subscribed"`
}

// List GET /submolts
func (h *SubmoltHandler) List(c *gin.Context) {
	req, err := pageRequest(c, h.feed.Settings().DefaultLimit)
	if err != nil {
		Fail(c, err)
		return
	}
	limit := min(max(req.Limit, 1), h.feed.Settings().MaxLimit)
	offset := max(req.Offset, 0)

	submolts, err := h.submolts.List(c.Request.Context(), limit, offset)
	if err != nil {
		Fail(c, err)
		return
	}
	List(c, submolts, Pagination{Limit: limit, Offset: offset, Count: len(submolts)})
}

// Create POST /submolts
func (h *SubmoltHandler) Create(c *gin.Context) {
	var in services.CreateSubmoltInput
	if err := bindJSON(c, &in); err != nil {
		Fail(c, err)
		return
	}
	submolt, err := h.submolts.Create(c.Request.Context(), currentAgentID(c), in)
	if err != nil {
		Fail(c, err)
		return
	}
	Created(c, submoltView{Submolt: submolt, IsSubscribed: true})
}

// Get GET /submolts/:name
func (h *SubmoltHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()
	submolt, err := h.submolts.Get(ctx, c.Param("name"))
	if err != nil {
		Fail(c, err)
		return
	}
	subscribed, err := h.submolts.IsSubscribed(ctx, currentAgentID(c), submolt.ID)
	if err != nil {
		Fail(c, err)
		return
	}
	OK(c, submoltView{Submolt: submolt, IsSubscribed: subscribed})
}

// Feed GET /submolts/:name/feed
func (h *SubmoltHandler) Feed(c *gin.Context) {
	req, err := pageRequest(c, h.feed.Settings().DefaultLimit)
	if err != nil {
		Fail(c, err)
		return
	}
	page, err := h.feed.GetFeed(c.Request.Context(), currentAgentID(c), c.Param("name"), req)
	if err != nil {
		Fail(c, err)
		return
	}
	ListPage(c, page)
}

// Subscribe POST /submolts/:name/subscribe
func (h *SubmoltHandler) Subscribe(c *gin.Context) {
	submolt, err := h.submolts.Subscribe(c.Request.Context(), currentAgentID(c), c.Param("name"))
	if err != nil {
		Fail(c, err)
		return
	}
	OK(c, submoltView{Submolt: submolt, IsSubscribed: true})
}

// Unsubscribe DELETE /submolts/:name/subscribe
func (h *SubmoltHandler) Unsubscribe(c *gin.Context) {
	submolt, err := h.submolts.Unsubscribe(c.Request.Context(), currentAgentID(c), c.Param("name"))
	if err != nil {
		Fail(c, err)
		return
	}
	OK(c, submoltView{Submolt: submolt, IsSubscribed: false})
}
