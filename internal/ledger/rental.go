package ledger

import (
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"
)

// MaxRentalPeriod bounds the period a renter may ask for.
const MaxRentalPeriod = 10 * 365 * 24 * time.Hour

// PeriodFromSeconds converts a renter-supplied period. Values that are not
// positive or exceed MaxRentalPeriod fail with ErrInvalidPeriod instead of
// overflowing time.Duration.
func PeriodFromSeconds(secs int64) (time.Duration, error) {
	if secs <= 0 || secs > int64(MaxRentalPeriod/time.Second) {
		return 0, fmt.Errorf("%w: %d seconds", ErrInvalidPeriod, secs)
	}
	return time.Duration(secs) * time.Second, nil
}

// Book is a catalog entry. Available is false exactly while a rental on it is active.
type Book struct {
	ID          uint64   `json:"id"`
	Title       string   `json:"title"`
	Author      string   `json:"author"`
	Description string   `json:"description"`
	RentalPrice *big.Int `json:"rental_price"`
	Available   bool     `json:"available"`
}

// RentalAgreement records one rental of a book. It is never deleted.
type RentalAgreement struct {
	BookID       uint64        `json:"book_id"`
	Renter       Address       `json:"renter"`
	RentalPrice  *big.Int      `json:"rental_price"`
	RentalPeriod time.Duration `json:"rental_period"`
	Deposit      *big.Int      `json:"deposit"`
	StartTime    time.Time     `json:"start_time"`
	Active       bool          `json:"active"`
	Returned     bool          `json:"returned"`
	Damaged      bool          `json:"damaged"`
	ReturnedAt   *time.Time    `json:"returned_at,omitempty"`
	LateFee      *big.Int      `json:"late_fee"`
	DamageFee    *big.Int      `json:"damage_fee"`
	Refund       *big.Int      `json:"refund"`
}

// RentalState is the full persistent state of one rental system.
type RentalState struct {
	Owner      Address                      `json:"owner"`
	Books      map[uint64]Book              `json:"books"`
	Agreements map[uint64][]RentalAgreement `json:"agreements"`
	Retained   *big.Int                     `json:"retained"`
	Seq        uint64                       `json:"seq"`
}

// RentalLedger is a catalog of books with at most one active agreement per book.
// All methods are safe for concurrent use; each is one atomic transition.
type RentalLedger struct {
	mu     sync.Mutex
	st     RentalState
	policy FeePolicy
}

// NewRentalLedger returns an empty catalog owned by owner.
func NewRentalLedger(owner Address, policy FeePolicy) (*RentalLedger, error) {
	if owner == "" {
		return nil, fmt.Errorf("%w: owner is required", ErrInvalidParties)
	}
	return RestoreRentalLedger(RentalState{Owner: owner}, policy), nil
}

// RestoreRentalLedger rebuilds a rental ledger from a stored snapshot.
func RestoreRentalLedger(st RentalState, policy FeePolicy) *RentalLedger {
	if policy == nil {
		policy = ProratedFeePolicy{}
	}
	return &RentalLedger{st: st.copy(), policy: policy}
}

// State returns a snapshot that shares no memory with the ledger.
func (r *RentalLedger) State() RentalState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.st.copy()
}

func (s RentalState) copy() RentalState {
	out := RentalState{
		Owner:      s.Owner,
		Books:      make(map[uint64]Book, len(s.Books)),
		Agreements: make(map[uint64][]RentalAgreement, len(s.Agreements)),
		Retained:   clone(s.Retained),
		Seq:        s.Seq,
	}
	for id, b := range s.Books {
		out.Books[id] = b.copy()
	}
	for id, list := range s.Agreements {
		cp := make([]RentalAgreement, len(list))
		for i, a := range list {
			cp[i] = a.copy()
		}
		out.Agreements[id] = cp
	}
	return out
}

func (b Book) copy() Book {
	b.RentalPrice = clone(b.RentalPrice)
	return b
}

func (a RentalAgreement) copy() RentalAgreement {
	a.RentalPrice = clone(a.RentalPrice)
	a.Deposit = clone(a.Deposit)
	a.LateFee = clone(a.LateFee)
	a.DamageFee = clone(a.DamageFee)
	a.Refund = clone(a.Refund)
	if a.ReturnedAt != nil {
		t := *a.ReturnedAt
		a.ReturnedAt = &t
	}
	return a
}

// active returns the live agreement for a book, if any.
func (s *RentalState) active(id uint64) *RentalAgreement {
	list := s.Agreements[id]
	if n := len(list); n > 0 && list[n-1].Active {
		return &list[n-1]
	}
	return nil
}

// AddBook puts a new, available book in the catalog.
func (r *RentalLedger) AddBook(caller Address, b Book) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := &r.st
	if caller != st.Owner {
		return Result{}, ErrUnauthorized
	}
	if _, ok := st.Books[b.ID]; ok {
		return Result{}, fmt.Errorf("%w: book %d", ErrDuplicateID, b.ID)
	}
	if b.RentalPrice == nil || b.RentalPrice.Sign() <= 0 {
		return Result{}, fmt.Errorf("%w: rental price must be positive", ErrInvalidAmount)
	}

	b = b.copy()
	b.Available = true
	st.Books[b.ID] = b

	em := emitter{seq: &st.Seq}
	em.emit(EventBookAdded, Arg{"bookId", b.ID}, Arg{"title", b.Title}, Arg{"rentalPrice", clone(b.RentalPrice)})
	return em.res, nil
}

// RentBook opens an agreement holding the full rental price as deposit.
func (r *RentalLedger) RentBook(caller Address, id uint64, period time.Duration, value *big.Int, now time.Time) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := &r.st
	book, ok := st.Books[id]
	if !ok {
		return Result{}, fmt.Errorf("%w: book %d", ErrNotFound, id)
	}
	if !book.Available {
		return Result{}, ErrNotAvailable
	}
	if value == nil || value.Cmp(book.RentalPrice) != 0 {
		return Result{}, fmt.Errorf("%w: expected %s, got %s", ErrAmountMismatch, book.RentalPrice, value)
	}
	if period <= 0 || period > MaxRentalPeriod {
		return Result{}, ErrInvalidPeriod
	}
	if caller == "" {
		return Result{}, ErrUnauthorized
	}

	a := RentalAgreement{
		BookID:       id,
		Renter:       caller,
		RentalPrice:  clone(value),
		RentalPeriod: period,
		Deposit:      clone(value),
		StartTime:    now,
		Active:       true,
		LateFee:      zero(),
		DamageFee:    zero(),
		Refund:       zero(),
	}
	st.Agreements[id] = append(st.Agreements[id], a)
	book.Available = false
	st.Books[id] = book

	em := emitter{seq: &st.Seq}
	em.emit(EventBookRented,
		Arg{"bookId", id},
		Arg{"renter", caller},
		Arg{"rentalPrice", clone(value)},
		Arg{"rentalPeriod", period},
		Arg{"deposit", clone(value)},
	)
	return em.res, nil
}

// ReturnBook closes the active agreement, withholds fees and refunds the rest.
func (r *RentalLedger) ReturnBook(caller Address, id uint64, now time.Time) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := &r.st
	a := st.active(id)
	if a == nil {
		return Result{}, ErrNoActiveRental
	}
	if caller != a.Renter {
		return Result{}, ErrUnauthorized
	}

	ch := r.policy.Assess(a.copy(), now)
	refund := new(big.Int).Sub(a.Deposit, ch.LateFee)
	refund.Sub(refund, ch.DamageFee)
	if refund.Sign() < 0 {
		return Result{}, fmt.Errorf("%w: fees exceed deposit", ErrInvalidAmount)
	}

	returnedAt := now
	a.Active = false
	a.Returned = true
	a.ReturnedAt = &returnedAt
	a.LateFee = clone(ch.LateFee)
	a.DamageFee = clone(ch.DamageFee)
	a.Refund = refund

	book := st.Books[id]
	book.Available = true
	st.Books[id] = book

	st.Retained = new(big.Int).Add(clone(st.Retained), ch.LateFee)
	st.Retained.Add(st.Retained, ch.DamageFee)

	em := emitter{seq: &st.Seq}
	em.emit(EventBookReturned,
		Arg{"bookId", id},
		Arg{"renter", a.Renter},
		Arg{"rentalPrice", clone(a.RentalPrice)},
		Arg{"deposit", clone(a.Deposit)},
		Arg{"lateFee", clone(ch.LateFee)},
	)
	if ch.DamageFee.Sign() > 0 {
		em.emit(EventDamageCharged, Arg{"bookId", id}, Arg{"renter", a.Renter}, Arg{"damageFee", clone(ch.DamageFee)})
	}
	em.pay(a.Renter, refund, ReasonRentalRefund)
	return em.res, nil
}

// ReportDamage flags the active agreement; the charge is settled on return.
// The renter or the catalog owner may report.
func (r *RentalLedger) ReportDamage(caller Address, id uint64) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := &r.st
	a := st.active(id)
	if a == nil {
		return Result{}, ErrNoActiveRental
	}
	if caller != a.Renter && caller != st.Owner {
		return Result{}, ErrUnauthorized
	}
	if a.Damaged {
		return Result{}, nil
	}
	a.Damaged = true

	em := emitter{seq: &st.Seq}
	em.emit(EventDamageReported, Arg{"bookId", id}, Arg{"reporter", caller})
	return em.res, nil
}

// WithdrawRetained pays withheld fees out to the owner.
func (r *RentalLedger) WithdrawRetained(caller Address) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := &r.st
	if caller != st.Owner {
		return Result{}, ErrUnauthorized
	}
	if st.Retained == nil || st.Retained.Sign() <= 0 {
		return Result{}, ErrNothingToWithdraw
	}

	amount := st.Retained
	st.Retained = zero()

	em := emitter{seq: &st.Seq}
	em.emit(EventRetainedWithdrawn, Arg{"owner", caller}, Arg{"amount", clone(amount)})
	em.pay(caller, amount, ReasonRetainedWithdraw)
	return em.res, nil
}

// Book returns a catalog entry.
func (r *RentalLedger) Book(id uint64) (Book, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.st.Books[id]
	if !ok {
		return Book{}, fmt.Errorf("%w: book %d", ErrNotFound, id)
	}
	return b.copy(), nil
}

// Books returns the catalog ordered by id.
func (r *RentalLedger) Books() []Book {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Book, 0, len(r.st.Books))
	for _, b := range r.st.Books {
		out = append(out, b.copy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RentalAgreement is getRentalAgreement: the most recent agreement for a book.
func (r *RentalLedger) RentalAgreement(id uint64) (RentalAgreement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.st.Agreements[id]
	if len(list) == 0 {
		return RentalAgreement{}, fmt.Errorf("%w: no agreement for book %d", ErrNotFound, id)
	}
	return list[len(list)-1].copy(), nil
}

// History returns every agreement for a book, oldest first.
func (r *RentalLedger) History(id uint64) []RentalAgreement {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.st.Agreements[id]
	out := make([]RentalAgreement, len(list))
	for i, a := range list {
		out[i] = a.copy()
	}
	return out
}

// Retained returns withheld fees not yet withdrawn.
func (r *RentalLedger) Retained() *big.Int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return clone(r.st.Retained)
}
