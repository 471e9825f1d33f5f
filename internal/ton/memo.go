package ton

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/custody-ledger/backend/internal/ledger"
	"github.com/google/uuid"
	"github.com/xssnick/tonutils-go/tlb"
)

// Intent kinds carried in transfer memos.
const (
	IntentDeposit = "escrow"
	IntentRent    = "rent"
)

// Intent is what an incoming transfer asks the ledger to do with its value.
type Intent struct {
	Kind     string
	LedgerID uuid.UUID
	BookID   uint64
	Period   time.Duration
}

// ParseMemo decodes "escrow:<uuid>" and "rent:<uuid>:<bookId>:<periodSeconds>".
func ParseMemo(memo string) (Intent, error) {
	parts := strings.Split(strings.TrimSpace(memo), ":")
	switch parts[0] {
	case IntentDeposit:
		if len(parts) != 2 {
			return Intent{}, fmt.Errorf("escrow memo: want escrow:<id>, got %q", memo)
		}
		id, err := uuid.Parse(parts[1])
		if err != nil {
			return Intent{}, fmt.Errorf("escrow memo: %w", err)
		}
		return Intent{Kind: IntentDeposit, LedgerID: id}, nil

	case IntentRent:
		if len(parts) != 4 {
			return Intent{}, fmt.Errorf("rent memo: want rent:<id>:<book>:<seconds>, got %q", memo)
		}
		id, err := uuid.Parse(parts[1])
		if err != nil {
			return Intent{}, fmt.Errorf("rent memo: %w", err)
		}
		bookID, err := strconv.ParseUint(parts[2], 10, 64)
		if err != nil {
			return Intent{}, fmt.Errorf("rent memo: book id: %w", err)
		}
		secs, err := strconv.ParseInt(parts[3], 10, 64)
		if err != nil {
			return Intent{}, fmt.Errorf("rent memo: period must be seconds, got %q", parts[3])
		}
		period, err := ledger.PeriodFromSeconds(secs)
		if err != nil {
			return Intent{}, fmt.Errorf("rent memo: %w", err)
		}
		return Intent{Kind: IntentRent, LedgerID: id, BookID: bookID, Period: period}, nil
	}
	return Intent{}, fmt.Errorf("unknown memo %q", memo)
}

// DepositMemo is the memo a payer attaches to fund an escrow.
func DepositMemo(escrowID uuid.UUID) string {
	return IntentDeposit + ":" + escrowID.String()
}

// RentMemo is the memo a renter attaches to rent a book.
func RentMemo(systemID uuid.UUID, bookID uint64, period time.Duration) string {
	return RentMemoPrefix(systemID, bookID) + strconv.FormatInt(int64(period/time.Second), 10)
}

// RentMemoPrefix is RentMemo without the period, which the renter chooses.
func RentMemoPrefix(systemID uuid.UUID, bookID uint64) string {
	return fmt.Sprintf("%s:%s:%d:", IntentRent, systemID, bookID)
}

// ExtractComment parses a text comment from an InternalMessage body.
// TON text comments have opcode 0x00000000 followed by UTF-8 text.
func ExtractComment(inMsg *tlb.InternalMessage) string {
	body := inMsg.Body
	if body == nil {
		return ""
	}

	slice := body.BeginParse()
	if slice.BitsLeft() < 32 {
		return ""
	}

	op, err := slice.LoadUInt(32)
	if err != nil || op != 0 {
		return ""
	}

	remaining := slice.BitsLeft()
	if remaining < 8 {
		return ""
	}

	data, err := slice.LoadSlice(remaining)
	if err != nil {
		return ""
	}

	return strings.TrimSpace(string(data))
}
