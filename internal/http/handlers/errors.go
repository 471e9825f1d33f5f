package handlers

import (
	"errors"
	"strconv"

	"github.com/custody-ledger/backend/internal/http/dto"
	"github.com/custody-ledger/backend/internal/ledger"
	"github.com/custody-ledger/backend/internal/middleware"
	"github.com/custody-ledger/backend/internal/models"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	errInvalidSystemID = errors.New("invalid rental system id")
	errInvalidBookID   = errors.New("invalid book id")
)

// AddressFunc turns a client-supplied address into a ledger identity.
type AddressFunc func(string) (ledger.Address, error)

// statusFor maps a service error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrLedgerNotFound), errors.Is(err, ledger.ErrNotFound):
		return fiber.StatusNotFound
	}
	switch ledger.KindOf(err) {
	case ledger.KindUnauthorized:
		return fiber.StatusForbidden
	case ledger.KindInvalidState:
		return fiber.StatusConflict
	case ledger.KindInvalidInput:
		return fiber.StatusBadRequest
	case ledger.KindDeadlinePassed:
		return fiber.StatusUnprocessableEntity
	}
	return fiber.StatusInternalServerError
}

func writeError(c *fiber.Ctx, log *zap.Logger, err error) error {
	status := statusFor(err)
	reqID, _ := c.Locals(middleware.CtxRequestID).(string)
	resp := dto.ErrorResponse{Error: err.Error(), Code: ledger.CodeOf(err), RequestID: reqID}
	if status == fiber.StatusNotFound && resp.Code == "" {
		resp.Code = "not_found"
	}
	if status == fiber.StatusInternalServerError {
		log.Error("request failed", zap.String("request_id", reqID), zap.Error(err))
		resp.Error = "internal error"
	}
	return c.Status(status).JSON(resp)
}

func badRequest(c *fiber.Ctx, msg string) error {
	reqID, _ := c.Locals(middleware.CtxRequestID).(string)
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: msg, RequestID: reqID})
}

func parseLedgerID(c *fiber.Ctx) (uuid.UUID, error) {
	return uuid.Parse(c.Params("id"))
}

func parseBookID(c *fiber.Ctx) (uint64, error) {
	return strconv.ParseUint(c.Params("bookId"), 10, 64)
}

// eventQuery reads after_seq and limit for event listings.
func eventQuery(c *fiber.Ctx) (uint64, int) {
	var after uint64
	if v := c.Query("after_seq"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			after = n
		}
	}
	limit := 100
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	return after, limit
}
