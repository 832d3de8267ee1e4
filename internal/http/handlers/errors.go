package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gurssagar/finalicp-sub006/internal/http/dto"
	"github.com/gurssagar/finalicp-sub006/internal/middleware"
	"github.com/gurssagar/finalicp-sub006/internal/services"
	"go.uber.org/zap"
)

// Stable error codes returned to clients.
const (
	CodeValidation        = "validation_error"
	CodeUnauthorized      = "unauthorized"
	CodeNotFound          = "not_found"
	CodeInvalidState      = "invalid_state"
	CodeEscrowBusy        = "escrow_busy"
	CodeLedgerUnavailable = "ledger_unavailable"
	CodeTransferRejected  = "transfer_rejected"
	CodeInternal          = "internal"
)

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrValidation):
		return fiber.StatusBadRequest, CodeValidation
	case errors.Is(err, services.ErrUnauthorized):
		return fiber.StatusForbidden, CodeUnauthorized
	case errors.Is(err, services.ErrNotFound):
		return fiber.StatusNotFound, CodeNotFound
	case errors.Is(err, services.ErrInvalidState):
		return fiber.StatusConflict, CodeInvalidState
	case errors.Is(err, services.ErrEscrowBusy):
		return fiber.StatusServiceUnavailable, CodeEscrowBusy
	case errors.Is(err, services.ErrLedgerUnavailable):
		return fiber.StatusServiceUnavailable, CodeLedgerUnavailable
	case errors.Is(err, services.ErrTransferRejected):
		return fiber.StatusUnprocessableEntity, CodeTransferRejected
	default:
		return fiber.StatusInternalServerError, CodeInternal
	}
}

// writeError maps a service error to its HTTP status and error body.
func writeError(c *fiber.Ctx, log *zap.Logger, err error) error {
	status, code := classify(err)
	reqID, _ := c.Locals(middleware.CtxRequestID).(string)

	resp := dto.ErrorResponse{
		Error:     err.Error(),
		Code:      code,
		Retryable: services.IsRetryable(err),
		RequestID: reqID,
	}
	var verr *services.ValidationError
	if errors.As(err, &verr) {
		resp.Field = verr.Field
	}
	if status == fiber.StatusInternalServerError {
		log.Error("request failed", zap.String("request_id", reqID), zap.Error(err))
		resp.Error = "internal error"
	}
	return c.Status(status).JSON(resp)
}

func badRequest(c *fiber.Ctx, field, msg string) error {
	reqID, _ := c.Locals(middleware.CtxRequestID).(string)
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
		Error:     msg,
		Code:      CodeValidation,
		Field:     field,
		RequestID: reqID,
	})
}
