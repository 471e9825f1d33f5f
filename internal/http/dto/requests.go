package dto

import "time"

// Amounts are decimal coin strings ("1.5" TON); they are converted to base
// units before reaching a ledger.

type CreateEscrowRequest struct {
	Payer      string    `json:"payer" validate:"required"`
	Payee      string    `json:"payee" validate:"required"`
	Arbitrator string    `json:"arbitrator" validate:"required"`
	Amount     string    `json:"amount" validate:"required,numeric"`
	Deadline   time.Time `json:"deadline" validate:"required"`
}

type DepositRequest struct {
	Amount string `json:"amount" validate:"required,numeric"`
}

type AddBookRequest struct {
	ID          *uint64 `json:"id" validate:"required"`
	Title       string  `json:"title" validate:"required,max=256"`
	Author      string  `json:"author" validate:"max=256"`
	Description string  `json:"description" validate:"max=4096"`
	RentalPrice string  `json:"rental_price" validate:"required,numeric"`
}

type RentBookRequest struct {
	PeriodSeconds int64  `json:"period_seconds" validate:"required,gt=0,max=315360000"`
	Amount        string `json:"amount" validate:"required,numeric"`
}
