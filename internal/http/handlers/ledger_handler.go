package handlers

import (
	"github.com/custody-ledger/backend/internal/http/dto"
	"github.com/custody-ledger/backend/internal/services"
	"github.com/custody-ledger/backend/internal/storage"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 200
)

// LedgerHandler serves reads that apply to any ledger kind.
type LedgerHandler struct {
	payoutService *services.PayoutService
	audit         storage.AuditStore
	log           *zap.Logger
}

func NewLedgerHandler(payoutService *services.PayoutService, audit storage.AuditStore, log *zap.Logger) *LedgerHandler {
	return &LedgerHandler{payoutService: payoutService, audit: audit, log: log}
}

// ListPayouts shows the settlement progress of every payout a ledger
// authorized, oldest first.
func (h *LedgerHandler) ListPayouts(c *fiber.Ctx) error {
	id, err := parseLedgerID(c)
	if err != nil {
		return badRequest(c, "invalid ledger id")
	}
	payouts, err := h.payoutService.ListByLedger(c.Context(), id)
	if err != nil {
		return writeError(c, h.log, err)
	}
	views := make([]dto.PayoutRecordView, 0, len(payouts))
	for _, p := range payouts {
		views = append(views, dto.NewPayoutRecordView(p))
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: views})
}

func (h *LedgerHandler) AuditTrail(c *fiber.Ctx) error {
	id, err := parseLedgerID(c)
	if err != nil {
		return badRequest(c, "invalid ledger id")
	}
	limit := c.QueryInt("limit", defaultAuditLimit)
	if limit <= 0 || limit > maxAuditLimit {
		return badRequest(c, "limit must be between 1 and 200")
	}
	entries, err := h.audit.ByEntity(c.Context(), id, limit)
	if err != nil {
		return writeError(c, h.log, err)
	}
	views := make([]dto.AuditEntryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, dto.NewAuditEntryView(e))
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: views})
}
