package handler

import (
	"errors"
	"io"

	"deposit-ledger/internal/adapter/http/dto"
	"deposit-ledger/internal/adapter/http/middleware"
	"deposit-ledger/internal/core/ports"
	"deposit-ledger/pkg/apperror"
	"deposit-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// SweepHandler triggers custodial sweeps to the treasury.
type SweepHandler struct {
	agent     ports.SweepAgent
	minRetain uint64
	log       zerolog.Logger
}

// NewSweepHandler creates a new SweepHandler. minRetain is the default retention floor.
func NewSweepHandler(agent ports.SweepAgent, minRetain uint64, log zerolog.Logger) *SweepHandler {
	return &SweepHandler{agent: agent, minRetain: minRetain, log: log}
}

// floor reads an optional body overriding the retention floor.
func (h *SweepHandler) floor(c *gin.Context) (uint64, bool) {
	var req dto.SweepRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.Error(c, apperror.Validation(err.Error()))
		return 0, false
	}
	if req.MinRetainLamports != nil {
		return *req.MinRetainLamports, true
	}
	return h.minRetain, true
}

// SweepAll handles POST /api/v1/sweeps.
func (h *SweepHandler) SweepAll(c *gin.Context) {
	minRetain, ok := h.floor(c)
	if !ok {
		return
	}

	h.log.Info().Str("operator", middleware.Operator(c)).Uint64("min_retain", minRetain).Msg("batch sweep requested")
	result, err := h.agent.SweepAll(c.Request.Context(), minRetain)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, result)
}

// SweepOne handles POST /api/v1/sweeps/:id.
func (h *SweepHandler) SweepOne(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		return
	}
	minRetain, ok := h.floor(c)
	if !ok {
		return
	}

	h.log.Info().Str("operator", middleware.Operator(c)).Int64("account_id", id).Msg("sweep requested")
	result, err := h.agent.Sweep(c.Request.Context(), id, minRetain)
	if err != nil {
		// A failed sweep still carries its per-account result.
		var appErr *apperror.AppError
		if result != nil && errors.As(err, &appErr) {
			c.JSON(appErr.HTTPStatus, gin.H{
				"error_code": appErr.Code,
				"message":    appErr.Message,
				"data":       result,
				"request_id": c.GetString(middleware.CtxRequestID),
			})
			return
		}
		response.Error(c, err)
		return
	}
	response.OK(c, result)
}
