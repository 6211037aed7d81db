package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"tasksync.app/tasksync/internal/domain"
	"tasksync.app/tasksync/internal/sink"
	"tasksync.app/tasksync/internal/source"
	"tasksync.app/tasksync/internal/store"
)

type ConfigHandler struct {
	configs  store.SourceConfigStore
	registry *source.Registry
	sink     sink.Sink
}

func NewConfigHandler(configs store.SourceConfigStore, registry *source.Registry, taskSink sink.Sink) *ConfigHandler {
	return &ConfigHandler{
		configs:  configs,
		registry: registry,
		sink:     taskSink,
	}
}

// Create validates and stores a new source configuration.
func (h *ConfigHandler) Create(c *gin.Context) {
	var cfg domain.SourceConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	adapter, err := h.registry.Get(cfg.Source)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported source"})
		return
	}
	if err := adapter.ValidateConfig(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	created, err := h.configs.Create(c.Request.Context(), &cfg)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store config"})
		return
	}
	c.JSON(http.StatusCreated, created)
}

// Test performs live round-trips against both the source and the destination
// with the team's stored credentials.
func (h *ConfigHandler) Test(c *gin.Context) {
	ctx := c.Request.Context()

	teamID := c.Query("team_id")
	sourceType := domain.SourceType(c.Query("source"))
	if teamID == "" || sourceType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "team_id and source are required"})
		return
	}

	cfg, err := h.configs.GetActive(ctx, teamID, sourceType)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active configuration"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load config"})
		return
	}

	adapter, err := h.registry.Get(sourceType)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported source"})
		return
	}

	result := gin.H{"source": "ok", "destination": "ok"}
	status := http.StatusOK
	if err := adapter.TestConnection(ctx, cfg); err != nil {
		result["source"] = err.Error()
		status = http.StatusBadGateway
	}
	if err := h.sink.TestConnection(ctx, cfg); err != nil {
		result["destination"] = err.Error()
		status = http.StatusBadGateway
	}
	c.JSON(status, result)
}
