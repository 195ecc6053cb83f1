package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type HealthHandler struct {
	db *gorm.DB
}

func NewHealthHandler(db *gorm.DB) *HealthHandler {
	return &HealthHandler{db: db}
}

// Healthz GET /healthz
func (h *HealthHandler) Healthz(c *gin.Context) {
	sqldb, err := h.db.DB()
	if err == nil {
		err = sqldb.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "status": "database unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "status": "ok"})
}
