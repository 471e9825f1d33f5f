package ledger

import (
	"fmt"
	"math/big"
	"sync"
	"time"
)

// EscrowTerms are fixed when an escrow is created.
type EscrowTerms struct {
	Payer      Address   `json:"payer"`
	Payee      Address   `json:"payee"`
	Arbitrator Address   `json:"arbitrator"`
	Amount     *big.Int  `json:"amount"`
	Deadline   time.Time `json:"deadline"`
}

// EscrowState is the full persistent state of one escrow.
type EscrowState struct {
	EscrowTerms
	Balance        *big.Int `json:"balance"`
	PayerConfirmed bool     `json:"payer_confirmed"`
	PayeeConfirmed bool     `json:"payee_confirmed"`
	DisputeActive  bool     `json:"dispute_active"`
	Released       bool     `json:"released"`
	Seq            uint64   `json:"seq"`
}

// Escrow holds one payment in trust among payer, payee and arbitrator.
// All methods are safe for concurrent use; each is one atomic transition.
type Escrow struct {
	mu sync.Mutex
	st EscrowState
}

// NewEscrow validates terms and returns an unfunded escrow.
func NewEscrow(t EscrowTerms) (*Escrow, error) {
	if t.Payer == "" || t.Payee == "" || t.Arbitrator == "" {
		return nil, fmt.Errorf("%w: payer, payee and arbitrator are required", ErrInvalidParties)
	}
	if t.Payer == t.Payee || t.Payer == t.Arbitrator || t.Payee == t.Arbitrator {
		return nil, fmt.Errorf("%w: parties must be distinct", ErrInvalidParties)
	}
	if t.Amount == nil || t.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: escrow amount must be positive", ErrInvalidAmount)
	}
	t.Amount = clone(t.Amount)
	return &Escrow{st: EscrowState{EscrowTerms: t, Balance: zero()}}, nil
}

// RestoreEscrow rebuilds an escrow from a stored snapshot.
func RestoreEscrow(st EscrowState) *Escrow {
	return &Escrow{st: st.copy()}
}

// State returns a snapshot that shares no memory with the escrow.
func (e *Escrow) State() EscrowState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st.copy()
}

// Balance is getContractBalance.
func (e *Escrow) Balance() *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return clone(e.st.Balance)
}

func (s EscrowState) copy() EscrowState {
	out := s
	out.Amount = clone(s.Amount)
	out.Balance = clone(s.Balance)
	return out
}

func (s *EscrowState) roleOf(caller Address) string {
	switch caller {
	case "":
		return ""
	case s.Payer:
		return RolePayer
	case s.Payee:
		return RolePayee
	case s.Arbitrator:
		return RoleArbitrator
	}
	return ""
}

// Deposit funds the escrow with exactly the agreed amount before the deadline.
func (e *Escrow) Deposit(caller Address, value *big.Int, now time.Time) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := &e.st
	if !HasPermission(st.roleOf(caller), ActDeposit) {
		return Result{}, ErrUnauthorized
	}
	if st.Released {
		return Result{}, ErrAlreadyReleased
	}
	if st.Balance.Sign() != 0 {
		return Result{}, ErrAlreadyFunded
	}
	if now.After(st.Deadline) {
		return Result{}, ErrDeadlinePassed
	}
	if value == nil || value.Cmp(st.Amount) != 0 {
		return Result{}, fmt.Errorf("%w: expected %s, got %s", ErrAmountMismatch, st.Amount, value)
	}

	st.Balance = clone(value)
	em := emitter{seq: &st.Seq}
	em.emit(EventDeposited, Arg{"payer", caller}, Arg{"amount", clone(value)})
	return em.res, nil
}

// ConfirmDelivery records the payer's or payee's confirmation. Repeats are no-ops.
func (e *Escrow) ConfirmDelivery(caller Address) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := &e.st
	role := st.roleOf(caller)
	if !HasPermission(role, ActConfirm) {
		return Result{}, ErrUnauthorized
	}
	if st.Released {
		return Result{}, ErrAlreadyReleased
	}

	flag := &st.PayerConfirmed
	if role == RolePayee {
		flag = &st.PayeeConfirmed
	}
	if *flag {
		return Result{}, nil
	}
	*flag = true

	em := emitter{seq: &st.Seq}
	em.emit(EventDeliveryConfirmed, Arg{"party", caller})
	return em.res, nil
}

// ReleaseFunds pays the whole balance to the payee once both parties
// confirmed and no dispute is open.
func (e *Escrow) ReleaseFunds(caller Address) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := &e.st
	if st.Released {
		return Result{}, ErrAlreadyReleased
	}
	if !st.PayerConfirmed || !st.PayeeConfirmed || st.DisputeActive || st.Balance.Sign() <= 0 {
		return Result{}, ErrNotReady
	}

	amount := st.Balance
	st.Balance = zero()
	st.Released = true

	em := emitter{seq: &st.Seq}
	em.emit(EventFundsReleased, Arg{"amount", clone(amount)}, Arg{"payee", st.Payee})
	em.pay(st.Payee, amount, ReasonEscrowRelease)
	return em.res, nil
}

// InitiateDispute blocks release until resolved off-ledger.
func (e *Escrow) InitiateDispute(caller Address) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := &e.st
	if !HasPermission(st.roleOf(caller), ActDispute) {
		return Result{}, ErrUnauthorized
	}
	if st.Released {
		return Result{}, ErrAlreadyReleased
	}
	if st.DisputeActive {
		return Result{}, nil
	}
	st.DisputeActive = true

	em := emitter{seq: &st.Seq}
	em.emit(EventDisputeInitiated, Arg{"party", caller})
	return em.res, nil
}
