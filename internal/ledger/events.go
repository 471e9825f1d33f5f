package ledger

import (
	"encoding/json"
	"math/big"
	"time"
)

// Event names.
const (
	EventDeposited         = "Deposited"
	EventDeliveryConfirmed = "DeliveryConfirmed"
	EventFundsReleased     = "FundsReleased"
	EventDisputeInitiated  = "DisputeInitiated"

	EventBookAdded         = "BookAdded"
	EventBookRented        = "BookRented"
	EventBookReturned      = "BookReturned"
	EventDamageReported    = "DamageReported"
	EventDamageCharged     = "DamageCharged"
	EventRetainedWithdrawn = "RetainedWithdrawn"
)

// Arg is one positional event field.
type Arg struct {
	Name  string
	Value any
}

// Event is an ordered record emitted by a ledger. Args keep their declared order.
type Event struct {
	Seq  uint64 `json:"seq"`
	Name string `json:"name"`
	Args []Arg  `json:"args"`
}

// Arg returns the value of the named field.
func (e Event) Arg(name string) (any, bool) {
	for _, a := range e.Args {
		if a.Name == name {
			return a.Value, true
		}
	}
	return nil, false
}

// Amount returns a big.Int field, or nil.
func (e Event) Amount(name string) *big.Int {
	v, _ := e.Arg(name)
	n, _ := v.(*big.Int)
	return n
}

type argJSON struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// MarshalJSON renders amounts as decimal strings and durations as seconds.
func (a Arg) MarshalJSON() ([]byte, error) {
	v := a.Value
	switch t := v.(type) {
	case *big.Int:
		v = t.String()
	case time.Duration:
		v = int64(t / time.Second)
	case Address:
		v = string(t)
	}
	return json.Marshal(argJSON{Name: a.Name, Value: v})
}

// UnmarshalJSON keeps values in their wire form (amounts stay strings).
func (a *Arg) UnmarshalJSON(data []byte) error {
	var raw argJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	a.Name = raw.Name
	a.Value = raw.Value
	return nil
}

// Payout is value owed to a party once state has been committed.
type Payout struct {
	To     Address  `json:"to"`
	Amount *big.Int `json:"amount"`
	Reason string   `json:"reason"`
}

// Payout reasons.
const (
	ReasonEscrowRelease    = "escrow_release"
	ReasonRentalRefund     = "rental_refund"
	ReasonRetainedWithdraw = "retained_withdraw"
	ReasonRejectedTransfer = "rejected_transfer"
)

// Result is what a successful mutation produced. Failed mutations return the zero Result.
type Result struct {
	Events  []Event
	Payouts []Payout
}

// emitter assigns sequence numbers from a ledger's counter.
type emitter struct {
	seq *uint64
	res Result
}

func (em *emitter) emit(name string, args ...Arg) {
	*em.seq++
	em.res.Events = append(em.res.Events, Event{Seq: *em.seq, Name: name, Args: args})
}

func (em *emitter) pay(to Address, amount *big.Int, reason string) {
	if amount.Sign() <= 0 {
		return
	}
	em.res.Payouts = append(em.res.Payouts, Payout{To: to, Amount: clone(amount), Reason: reason})
}
