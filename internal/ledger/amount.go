package ledger

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Decimals is the number of fractional digits of one coin (1 TON = 10^9 nanoTON).
const Decimals = 9

// Address identifies a party. Edges normalize it before it reaches a ledger.
type Address string

func (a Address) String() string { return string(a) }

// ParseAmount converts a decimal coin string ("1", "0.5") to base units.
func ParseAmount(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty amount", ErrInvalidAmount)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("%w: negative amount %q", ErrInvalidAmount, s)
	}
	units := d.Shift(Decimals)
	if !units.Equal(units.Truncate(0)) {
		return nil, fmt.Errorf("%w: %q has more than %d decimals", ErrInvalidAmount, s, Decimals)
	}
	return units.BigInt(), nil
}

// MustParseAmount is ParseAmount for constants and tests.
func MustParseAmount(s string) *big.Int {
	v, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return v
}

// FormatAmount renders base units as a decimal coin string.
func FormatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -Decimals).String()
}

func zero() *big.Int { return new(big.Int) }

func clone(v *big.Int) *big.Int {
	if v == nil {
		return zero()
	}
	return new(big.Int).Set(v)
}

func minInt(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return clone(a)
	}
	return clone(b)
}
