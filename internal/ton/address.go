package ton

import (
	"fmt"
	"strings"

	"github.com/custody-ledger/backend/internal/ledger"
	"github.com/xssnick/tonutils-go/address"
)

// NormalizeAddress parses a user-friendly or raw ("0:<hex>") address and
// returns its bounceable mainnet form, so the same account always maps to
// the same ledger identity.
func NormalizeAddress(s string) (ledger.Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("empty address")
	}

	var (
		a   *address.Address
		err error
	)
	if strings.Contains(s, ":") {
		a, err = address.ParseRawAddr(s)
	} else {
		a, err = address.ParseAddr(s)
	}
	if err != nil {
		return "", fmt.Errorf("invalid address %q: %w", s, err)
	}
	return Identity(a), nil
}

// Identity is the ledger identity of a parsed address.
func Identity(a *address.Address) ledger.Address {
	cp := a.Copy()
	cp.SetBounce(true)
	cp.SetTestnetOnly(false)
	return ledger.Address(cp.String())
}
