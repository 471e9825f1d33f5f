package handlers

import (
	"github.com/custody-ledger/backend/internal/http/dto"
	"github.com/custody-ledger/backend/internal/ledger"
	"github.com/custody-ledger/backend/internal/middleware"
	"github.com/custody-ledger/backend/internal/models"
	"github.com/custody-ledger/backend/internal/services"
	"github.com/custody-ledger/backend/internal/ton"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type EscrowHandler struct {
	escrowService *services.EscrowService
	v             *validator.Validate
	normalize     AddressFunc
	log           *zap.Logger
}

func NewEscrowHandler(escrowService *services.EscrowService, v *validator.Validate, normalize AddressFunc, log *zap.Logger) *EscrowHandler {
	return &EscrowHandler{escrowService: escrowService, v: v, normalize: normalize, log: log}
}

func (h *EscrowHandler) CreateEscrow(c *fiber.Ctx) error {
	var req dto.CreateEscrowRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	if err := h.v.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	var parties [3]ledger.Address
	for i, raw := range []string{req.Payer, req.Payee, req.Arbitrator} {
		addr, err := h.normalize(raw)
		if err != nil {
			return badRequest(c, err.Error())
		}
		parties[i] = addr
	}
	amount, err := ledger.ParseAmount(req.Amount)
	if err != nil {
		return writeError(c, h.log, err)
	}

	rec, err := h.escrowService.CreateEscrow(c.Context(), services.Party(middleware.GetCaller(c)), services.CreateEscrowInput{
		Payer:      parties[0],
		Payee:      parties[1],
		Arbitrator: parties[2],
		Amount:     amount,
		Deadline:   req.Deadline,
	})
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: h.view(rec)})
}

func (h *EscrowHandler) GetEscrow(c *fiber.Ctx) error {
	id, err := parseLedgerID(c)
	if err != nil {
		return badRequest(c, "invalid escrow id")
	}
	rec, err := h.escrowService.GetEscrow(c.Context(), id)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: h.view(rec)})
}

func (h *EscrowHandler) GetBalance(c *fiber.Ctx) error {
	id, err := parseLedgerID(c)
	if err != nil {
		return badRequest(c, "invalid escrow id")
	}
	bal, err := h.escrowService.Balance(c.Context(), id)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: fiber.Map{"balance": dto.NewAmount(bal)}})
}

func (h *EscrowHandler) Deposit(c *fiber.Ctx) error {
	var req dto.DepositRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	if err := h.v.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}
	value, err := ledger.ParseAmount(req.Amount)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return h.mutate(c, func(id uuid.UUID, caller services.Caller) (*models.EscrowRecord, ledger.Result, error) {
		return h.escrowService.Deposit(c.Context(), id, caller, value)
	})
}

func (h *EscrowHandler) ConfirmDelivery(c *fiber.Ctx) error {
	return h.mutate(c, func(id uuid.UUID, caller services.Caller) (*models.EscrowRecord, ledger.Result, error) {
		return h.escrowService.ConfirmDelivery(c.Context(), id, caller)
	})
}

func (h *EscrowHandler) ReleaseFunds(c *fiber.Ctx) error {
	return h.mutate(c, func(id uuid.UUID, caller services.Caller) (*models.EscrowRecord, ledger.Result, error) {
		return h.escrowService.ReleaseFunds(c.Context(), id, caller)
	})
}

func (h *EscrowHandler) InitiateDispute(c *fiber.Ctx) error {
	return h.mutate(c, func(id uuid.UUID, caller services.Caller) (*models.EscrowRecord, ledger.Result, error) {
		return h.escrowService.InitiateDispute(c.Context(), id, caller)
	})
}

func (h *EscrowHandler) GetEvents(c *fiber.Ctx) error {
	id, err := parseLedgerID(c)
	if err != nil {
		return badRequest(c, "invalid escrow id")
	}
	after, limit := eventQuery(c)
	evs, err := h.escrowService.Events(c.Context(), id, after, limit)
	if err != nil {
		return writeError(c, h.log, err)
	}
	if evs == nil {
		evs = []models.LedgerEvent{}
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: evs})
}

func (h *EscrowHandler) mutate(c *fiber.Ctx, op func(uuid.UUID, services.Caller) (*models.EscrowRecord, ledger.Result, error)) error {
	id, err := parseLedgerID(c)
	if err != nil {
		return badRequest(c, "invalid escrow id")
	}
	rec, res, err := op(id, services.Party(middleware.GetCaller(c)))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: fiber.Map{
		"escrow": h.view(rec),
		"result": dto.NewResultView(res),
	}})
}

func (h *EscrowHandler) view(rec *models.EscrowRecord) dto.EscrowView {
	return dto.NewEscrowView(rec, ton.DepositMemo(rec.ID))
}
