package dto

import (
	"math/big"
	"time"

	"github.com/custody-ledger/backend/internal/ledger"
	"github.com/custody-ledger/backend/internal/models"
	"github.com/google/uuid"
)

type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

// Amount is a value in base units alongside its coin rendering.
type Amount struct {
	Nano string `json:"nano"`
	TON  string `json:"ton"`
}

func NewAmount(v *big.Int) Amount {
	if v == nil {
		v = new(big.Int)
	}
	return Amount{Nano: v.String(), TON: ledger.FormatAmount(v)}
}

type EscrowView struct {
	ID             uuid.UUID `json:"id"`
	Payer          string    `json:"payer"`
	Payee          string    `json:"payee"`
	Arbitrator     string    `json:"arbitrator"`
	Amount         Amount    `json:"amount"`
	Balance        Amount    `json:"balance"`
	Deadline       time.Time `json:"deadline"`
	PayerConfirmed bool      `json:"payer_confirmed"`
	PayeeConfirmed bool      `json:"payee_confirmed"`
	DisputeActive  bool      `json:"dispute_active"`
	Released       bool      `json:"released"`
	DepositMemo    string    `json:"deposit_memo"`
	CreatedBy      string    `json:"created_by"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func NewEscrowView(e *models.EscrowRecord, memo string) EscrowView {
	st := e.State
	return EscrowView{
		ID:             e.ID,
		Payer:          string(st.Payer),
		Payee:          string(st.Payee),
		Arbitrator:     string(st.Arbitrator),
		Amount:         NewAmount(st.Amount),
		Balance:        NewAmount(st.Balance),
		Deadline:       st.Deadline,
		PayerConfirmed: st.PayerConfirmed,
		PayeeConfirmed: st.PayeeConfirmed,
		DisputeActive:  st.DisputeActive,
		Released:       st.Released,
		DepositMemo:    memo,
		CreatedBy:      string(e.CreatedBy),
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
}

type RentalSystemView struct {
	ID        uuid.UUID `json:"id"`
	Owner     string    `json:"owner"`
	Books     int       `json:"books"`
	Retained  Amount    `json:"retained"`
	CreatedAt time.Time `json:"created_at"`
}

func NewRentalSystemView(r *models.RentalRecord) RentalSystemView {
	return RentalSystemView{
		ID:        r.ID,
		Owner:     string(r.State.Owner),
		Books:     len(r.State.Books),
		Retained:  NewAmount(r.State.Retained),
		CreatedAt: r.CreatedAt,
	}
}

type BookView struct {
	ID          uint64 `json:"id"`
	Title       string `json:"title"`
	Author      string `json:"author"`
	Description string `json:"description"`
	RentalPrice Amount `json:"rental_price"`
	Available   bool   `json:"available"`
}

func NewBookView(b ledger.Book) BookView {
	return BookView{
		ID:          b.ID,
		Title:       b.Title,
		Author:      b.Author,
		Description: b.Description,
		RentalPrice: NewAmount(b.RentalPrice),
		Available:   b.Available,
	}
}

type AgreementView struct {
	BookID        uint64     `json:"book_id"`
	Renter        string     `json:"renter"`
	RentalPrice   Amount     `json:"rental_price"`
	PeriodSeconds int64      `json:"period_seconds"`
	Deposit       Amount     `json:"deposit"`
	StartTime     time.Time  `json:"start_time"`
	Active        bool       `json:"active"`
	Returned      bool       `json:"returned"`
	Damaged       bool       `json:"damaged"`
	ReturnedAt    *time.Time `json:"returned_at,omitempty"`
	LateFee       Amount     `json:"late_fee"`
	DamageFee     Amount     `json:"damage_fee"`
	Refund        Amount     `json:"refund"`
}

func NewAgreementView(a ledger.RentalAgreement) AgreementView {
	return AgreementView{
		BookID:        a.BookID,
		Renter:        string(a.Renter),
		RentalPrice:   NewAmount(a.RentalPrice),
		PeriodSeconds: int64(a.RentalPeriod / time.Second),
		Deposit:       NewAmount(a.Deposit),
		StartTime:     a.StartTime,
		Active:        a.Active,
		Returned:      a.Returned,
		Damaged:       a.Damaged,
		ReturnedAt:    a.ReturnedAt,
		LateFee:       NewAmount(a.LateFee),
		DamageFee:     NewAmount(a.DamageFee),
		Refund:        NewAmount(a.Refund),
	}
}

type PayoutView struct {
	To     string `json:"to"`
	Amount Amount `json:"amount"`
	Reason string `json:"reason"`
}

// ResultView is what a mutating call returns: the events it emitted and the
// payouts it authorized.
type ResultView struct {
	Events  []ledger.Event `json:"events"`
	Payouts []PayoutView   `json:"payouts"`
}

func NewResultView(res ledger.Result) ResultView {
	out := ResultView{Events: res.Events, Payouts: make([]PayoutView, 0, len(res.Payouts))}
	if out.Events == nil {
		out.Events = []ledger.Event{}
	}
	for _, p := range res.Payouts {
		out.Payouts = append(out.Payouts, PayoutView{To: string(p.To), Amount: NewAmount(p.Amount), Reason: p.Reason})
	}
	return out
}

// PayoutRecordView is a payout as tracked through settlement.
type PayoutRecordView struct {
	ID        uuid.UUID `json:"id"`
	LedgerID  uuid.UUID `json:"ledger_id"`
	Recipient string    `json:"recipient"`
	Amount    Amount    `json:"amount"`
	Reason    string    `json:"reason"`
	Status    string    `json:"status"`
	Attempts  int       `json:"attempts"`
	LastError *string   `json:"last_error,omitempty"`
	TxRef     *string   `json:"tx_ref,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewPayoutRecordView(p models.Payout) PayoutRecordView {
	return PayoutRecordView{
		ID:        p.ID,
		LedgerID:  p.LedgerID,
		Recipient: string(p.Recipient),
		Amount:    NewAmount(p.Amount),
		Reason:    p.Reason,
		Status:    p.Status,
		Attempts:  p.Attempts,
		LastError: p.LastError,
		TxRef:     p.TxRef,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

type AuditEntryView struct {
	Actor      string    `json:"actor,omitempty"`
	ActorType  string    `json:"actor_type"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	Meta       any       `json:"meta,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func NewAuditEntryView(e models.AuditLog) AuditEntryView {
	return AuditEntryView{
		Actor:      e.Actor,
		ActorType:  e.ActorType,
		Action:     e.Action,
		EntityType: e.EntityType,
		Meta:       e.Meta,
		CreatedAt:  e.CreatedAt,
	}
}
