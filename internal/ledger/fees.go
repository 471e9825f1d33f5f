package ledger

import (
	"math/big"
	"time"
)

const bpsDenominator = 10000

// Charges are the amounts withheld from a deposit on return.
type Charges struct {
	LateFee   *big.Int
	DamageFee *big.Int
}

// FeePolicy decides what is withheld when an agreement is returned at returnedAt.
// Implementations must keep LateFee+DamageFee within the agreement's deposit.
type FeePolicy interface {
	Assess(a RentalAgreement, returnedAt time.Time) Charges
}

// ProratedFeePolicy withholds deposit×overdue/period for late returns, and
// DamageBPS of the deposit for damaged ones.
type ProratedFeePolicy struct {
	DamageBPS int64
}

func (p ProratedFeePolicy) Assess(a RentalAgreement, returnedAt time.Time) Charges {
	late := zero()
	overdue := returnedAt.Sub(a.StartTime) - a.RentalPeriod
	if overdue > 0 && a.RentalPeriod > 0 {
		late.Mul(a.Deposit, big.NewInt(int64(overdue)))
		late.Quo(late, big.NewInt(int64(a.RentalPeriod)))
	}
	return capCharges(a, late, p.DamageBPS)
}

// FlatFeePolicy withholds Fee on every return, whatever the elapsed time.
type FlatFeePolicy struct {
	Fee       *big.Int
	DamageBPS int64
}

func (p FlatFeePolicy) Assess(a RentalAgreement, _ time.Time) Charges {
	return capCharges(a, clone(p.Fee), p.DamageBPS)
}

func capCharges(a RentalAgreement, late *big.Int, damageBPS int64) Charges {
	deposit := clone(a.Deposit)
	late = minInt(late, deposit)

	damage := zero()
	if a.Damaged && damageBPS > 0 {
		damage.Mul(deposit, big.NewInt(damageBPS))
		damage.Quo(damage, big.NewInt(bpsDenominator))
	}
	room := new(big.Int).Sub(deposit, late)
	return Charges{LateFee: late, DamageFee: minInt(damage, room)}
}
