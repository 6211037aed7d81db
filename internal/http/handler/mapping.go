// Package handler holds the operational HTTP surface: mapping previews,
// configuration management, and job inspection.
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tasksync.app/tasksync/internal/mapper"
)

type MappingHandler struct{}

func NewMappingHandler() *MappingHandler {
	return &MappingHandler{}
}

type previewRequest struct {
	Schema   []mapper.Property `json:"schema" binding:"required"`
	AIFields []string          `json:"ai_fields"`
}

// Preview proposes a field mapping for a destination schema without
// persisting anything. Teams review the proposal before saving it on the
// source config.
func (h *MappingHandler) Preview(c *gin.Context) {
	var req previewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	fields := req.AIFields
	if len(fields) == 0 {
		fields = mapper.AIFields
	}

	mapping := mapper.ProposeMapping(req.Schema, fields)
	c.JSON(http.StatusOK, gin.H{"mapping": mapping})
}
