package handler

import (
	"net/http"

	"deposit-ledger/internal/adapter/http/dto"
	"deposit-ledger/internal/adapter/http/middleware"
	"deposit-ledger/internal/core/ports"
	"deposit-ledger/pkg/apperror"
	"deposit-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// AdminHandler serves population stats and settings.
type AdminHandler struct {
	reporting ports.ReportingService
	settings  ports.SettingsService
	log       zerolog.Logger
}

func NewAdminHandler(reporting ports.ReportingService, settings ports.SettingsService, log zerolog.Logger) *AdminHandler {
	return &AdminHandler{reporting: reporting, settings: settings, log: log}
}

// Stats handles GET /api/v1/stats.
func (h *AdminHandler) Stats(c *gin.Context) {
	stats, err := h.reporting.SystemStats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, stats)
}

// ListSettings handles GET /api/v1/settings.
func (h *AdminHandler) ListSettings(c *gin.Context) {
	all, err := h.settings.All(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, all)
}

// PutSetting handles PUT /api/v1/settings/:key.
func (h *AdminHandler) PutSetting(c *gin.Context) {
	key := c.Param("key")

	var req dto.SettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	if err := h.settings.Set(c.Request.Context(), key, req.Value); err != nil {
		response.Error(c, err)
		return
	}
	h.log.Info().Str("operator", middleware.Operator(c)).Str("key", key).Str("value", req.Value).Msg("setting updated")

	value, err := h.settings.Get(c.Request.Context(), key)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"key": key, "value": value})
}

// HealthCheck pings every dependency; any failure reports degraded with 503.
func HealthCheck(checkers ...ports.HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		type depStatus struct {
			Status string `json:"status"`
			Error  string `json:"error,omitempty"`
		}

		deps := make(map[string]depStatus)
		allHealthy := true

		for _, checker := range checkers {
			if err := checker.Ping(c.Request.Context()); err != nil {
				deps[checker.Name()] = depStatus{Status: "unhealthy", Error: err.Error()}
				allHealthy = false
			} else {
				deps[checker.Name()] = depStatus{Status: "healthy"}
			}
		}

		status := "healthy"
		httpCode := http.StatusOK
		if !allHealthy {
			status = "degraded"
			httpCode = http.StatusServiceUnavailable
		}

		c.JSON(httpCode, gin.H{
			"status":       status,
			"dependencies": deps,
		})
	}
}
