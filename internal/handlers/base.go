package handlers

import (
	"errors"
	"io"
	"net/http"

	apperrors "moltlink/internal/errors"
	"moltlink/internal/middleware"
	"moltlink/internal/services"
	"moltlink/internal/utils"

	"github.com/gin-gonic/gin"
)

type Pagination struct {
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
	Count  int    `json:"count"`
	Sort   string `json:"sort,omitempty"`
}

// OK writes {"success":true,"data":...}
func OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": data})
}

func List(c *gin.Context, data any, p Pagination) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data, "pagination": p})
}

func ListPage[T any](c *gin.Context, page *services.Page[T]) {
	List(c, page.Items, Pagination{
		Limit:  page.Limit,
		Offset: page.Offset,
		Count:  len(page.Items),
		Sort:   string(page.Mode),
	})
}

// Fail maps err to its status and JSON body, same as the middleware does.
func Fail(c *gin.Context, err error) {
	middleware.Abort(c, err)
}

// bindJSON 解析请求体，空 body 视为 {}
func bindJSON(c *gin.Context, dst any) error {
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		return apperrors.ValidationError("invalid JSON body")
	}
	return nil
}

// pageRequest reads ?sort&limit&offset. An absent limit uses the default page size.
func pageRequest(c *gin.Context, defaultLimit int) (services.PageRequest, error) {
	limit, ok := utils.ParseOptionalInt(c.Query("limit"), defaultLimit)
	if !ok {
		return services.PageRequest{}, apperrors.ValidationError("limit must be an integer")
	}
	offset, ok := utils.ParseOptionalInt(c.Query("offset"), 0)
	if !ok {
		return services.PageRequest{}, apperrors.ValidationError("offset must be an integer")
	}
	return services.PageRequest{Sort: c.Query("sort"), Limit: limit, Offset: offset}, nil
}

func idParam(c *gin.Context, name string) (uint, error) {
	id, ok := utils.ParseID(c.Param(name))
	if !ok {
		return 0, apperrors.ValidationError("invalid " + name)
	}
	return id, nil
}

func currentAgentID(c *gin.Context) uint {
	return middleware.CurrentAgentID(c)
}
