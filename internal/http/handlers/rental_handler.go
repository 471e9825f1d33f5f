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

type RentalHandler struct {
	rentalService *services.RentalService
	v             *validator.Validate
	log           *zap.Logger
}

func NewRentalHandler(rentalService *services.RentalService, v *validator.Validate, log *zap.Logger) *RentalHandler {
	return &RentalHandler{rentalService: rentalService, v: v, log: log}
}

func (h *RentalHandler) CreateRentalSystem(c *fiber.Ctx) error {
	rec, err := h.rentalService.CreateRentalSystem(c.Context(), services.Party(middleware.GetCaller(c)))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: dto.NewRentalSystemView(rec)})
}

func (h *RentalHandler) GetRentalSystem(c *fiber.Ctx) error {
	id, err := parseLedgerID(c)
	if err != nil {
		return badRequest(c, "invalid rental system id")
	}
	rec, err := h.rentalService.GetRentalSystem(c.Context(), id)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.NewRentalSystemView(rec)})
}

func (h *RentalHandler) AddBook(c *fiber.Ctx) error {
	id, err := parseLedgerID(c)
	if err != nil {
		return badRequest(c, "invalid rental system id")
	}
	var req dto.AddBookRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	if err := h.v.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}
	price, err := ledger.ParseAmount(req.RentalPrice)
	if err != nil {
		return writeError(c, h.log, err)
	}

	res, err := h.rentalService.AddBook(c.Context(), id, services.Party(middleware.GetCaller(c)), ledger.Book{
		ID:          *req.ID,
		Title:       req.Title,
		Author:      req.Author,
		Description: req.Description,
		RentalPrice: price,
	})
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: dto.NewResultView(res)})
}

func (h *RentalHandler) ListBooks(c *fiber.Ctx) error {
	id, err := parseLedgerID(c)
	if err != nil {
		return badRequest(c, "invalid rental system id")
	}
	books, err := h.rentalService.Books(c.Context(), id)
	if err != nil {
		return writeError(c, h.log, err)
	}
	views := make([]dto.BookView, 0, len(books))
	for _, b := range books {
		views = append(views, dto.NewBookView(b))
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: views})
}

func (h *RentalHandler) GetBook(c *fiber.Ctx) error {
	id, bookID, err := h.bookParams(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	b, err := h.rentalService.Book(c.Context(), id, bookID)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: fiber.Map{
		"book":             dto.NewBookView(b),
		"rent_memo_prefix": ton.RentMemoPrefix(id, bookID),
	}})
}

func (h *RentalHandler) RentBook(c *fiber.Ctx) error {
	var req dto.RentBookRequest
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
	period, err := ledger.PeriodFromSeconds(req.PeriodSeconds)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return h.mutateBook(c, func(id uuid.UUID, bookID uint64, caller services.Caller) (ledger.Result, error) {
		return h.rentalService.RentBook(c.Context(), id, caller, bookID, period, value)
	})
}

func (h *RentalHandler) ReturnBook(c *fiber.Ctx) error {
	return h.mutateBook(c, func(id uuid.UUID, bookID uint64, caller services.Caller) (ledger.Result, error) {
		return h.rentalService.ReturnBook(c.Context(), id, caller, bookID)
	})
}

func (h *RentalHandler) ReportDamage(c *fiber.Ctx) error {
	return h.mutateBook(c, func(id uuid.UUID, bookID uint64, caller services.Caller) (ledger.Result, error) {
		return h.rentalService.ReportDamage(c.Context(), id, caller, bookID)
	})
}

func (h *RentalHandler) GetAgreement(c *fiber.Ctx) error {
	id, bookID, err := h.bookParams(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	a, err := h.rentalService.Agreement(c.Context(), id, bookID)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.NewAgreementView(a)})
}

func (h *RentalHandler) GetHistory(c *fiber.Ctx) error {
	id, bookID, err := h.bookParams(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	list, err := h.rentalService.History(c.Context(), id, bookID)
	if err != nil {
		return writeError(c, h.log, err)
	}
	views := make([]dto.AgreementView, 0, len(list))
	for _, a := range list {
		views = append(views, dto.NewAgreementView(a))
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: views})
}

func (h *RentalHandler) WithdrawRetained(c *fiber.Ctx) error {
	id, err := parseLedgerID(c)
	if err != nil {
		return badRequest(c, "invalid rental system id")
	}
	res, err := h.rentalService.WithdrawRetained(c.Context(), id, services.Party(middleware.GetCaller(c)))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.NewResultView(res)})
}

func (h *RentalHandler) GetEvents(c *fiber.Ctx) error {
	id, err := parseLedgerID(c)
	if err != nil {
		return badRequest(c, "invalid rental system id")
	}
	after, limit := eventQuery(c)
	evs, err := h.rentalService.Events(c.Context(), id, after, limit)
	if err != nil {
		return writeError(c, h.log, err)
	}
	if evs == nil {
		evs = []models.LedgerEvent{}
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: evs})
}

func (h *RentalHandler) bookParams(c *fiber.Ctx) (uuid.UUID, uint64, error) {
	id, err := parseLedgerID(c)
	if err != nil {
		return uuid.Nil, 0, errInvalidSystemID
	}
	bookID, err := parseBookID(c)
	if err != nil {
		return uuid.Nil, 0, errInvalidBookID
	}
	return id, bookID, nil
}

func (h *RentalHandler) mutateBook(c *fiber.Ctx, op func(uuid.UUID, uint64, services.Caller) (ledger.Result, error)) error {
	id, bookID, err := h.bookParams(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	res, err := op(id, bookID, services.Party(middleware.GetCaller(c)))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.NewResultView(res)})
}
