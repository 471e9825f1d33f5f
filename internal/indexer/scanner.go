package indexer

import (
	"context"
	"encoding/hex"
	"fmt"
	"sort"

	tonutil "github.com/custody-ledger/backend/internal/ton"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/ton"
	"go.uber.org/zap"
)

const txPageSize = 100

// Chain is the slice of the lite-client API the scanner reads.
type Chain interface {
	CurrentMasterchainInfo(ctx context.Context) (*ton.BlockIDExt, error)
	GetAccount(ctx context.Context, block *ton.BlockIDExt, addr *address.Address) (*tlb.Account, error)
	ListTransactions(ctx context.Context, addr *address.Address, num uint32, lt uint64, txHash []byte) ([]*tlb.Transaction, error)
}

// CursorStore persists the scan position and per-transaction outcomes.
type CursorStore interface {
	Load(ctx context.Context) (lt uint64, hash []byte, ok bool, err error)
	Save(ctx context.Context, lt uint64, hash []byte) error
	Seen(ctx context.Context, lt uint64) (bool, error)
	Mark(ctx context.Context, lt uint64, outcome string) error
}

type Handler interface {
	Handle(ctx context.Context, t Transfer) (string, error)
}

// Scanner walks the hot wallet's new transactions in logical-time order and
// hands incoming transfers to a Handler.
type Scanner struct {
	chain    Chain
	wallet   *address.Address
	cursor   CursorStore
	handler  Handler
	pageSize int
	log      *zap.Logger
}

func NewScanner(chain Chain, wallet *address.Address, cursor CursorStore, handler Handler, log *zap.Logger) *Scanner {
	return &Scanner{chain: chain, wallet: wallet, cursor: cursor, handler: handler, pageSize: txPageSize, log: log}
}

func (s *Scanner) account(ctx context.Context) (*tlb.Account, error) {
	block, err := s.chain.CurrentMasterchainInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("get master block: %w", err)
	}
	acc, err := s.chain.GetAccount(ctx, block, s.wallet)
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return acc, nil
}

// Init places the cursor at the wallet's latest transaction on first run, so
// history from before the service existed is never replayed.
func (s *Scanner) Init(ctx context.Context) error {
	lt, _, ok, err := s.cursor.Load(ctx)
	if err != nil {
		return err
	}
	if ok {
		s.log.Info("resuming from saved cursor", zap.Uint64("lt", lt))
		return nil
	}

	acc, err := s.account(ctx)
	if err != nil {
		return err
	}
	if acc == nil || !acc.IsActive || acc.LastTxLT == 0 {
		s.log.Info("hot wallet not active yet, starting from LT=0")
		return s.cursor.Save(ctx, 0, nil)
	}

	s.log.Info("cursor initialized at current account state",
		zap.Uint64("lt", acc.LastTxLT),
		zap.String("hash", hex.EncodeToString(acc.LastTxHash)),
	)
	return s.cursor.Save(ctx, acc.LastTxLT, acc.LastTxHash)
}

// Poll handles everything newer than the cursor. The cursor only advances
// once every new transaction is handled, so a failed poll is retried in
// full and the per-transaction marks keep the retry from applying twice.
func (s *Scanner) Poll(ctx context.Context) error {
	cursorLT, _, _, err := s.cursor.Load(ctx)
	if err != nil {
		return fmt.Errorf("load cursor: %w", err)
	}

	acc, err := s.account(ctx)
	if err != nil {
		return err
	}
	if acc == nil || !acc.IsActive || acc.LastTxLT <= cursorLT {
		return nil
	}

	txs, err := s.since(ctx, acc, cursorLT)
	if err != nil {
		return fmt.Errorf("fetch transactions: %w", err)
	}
	if len(txs) > 0 {
		s.log.Info("found new transactions", zap.Int("count", len(txs)))
	}
	for _, tx := range txs {
		if err := s.process(ctx, tx); err != nil {
			return fmt.Errorf("tx %d: %w", tx.LT, err)
		}
	}

	return s.cursor.Save(ctx, acc.LastTxLT, acc.LastTxHash)
}

// since pages backwards from the account's last transaction until it passes
// cursorLT, and returns the newer transactions oldest first.
func (s *Scanner) since(ctx context.Context, acc *tlb.Account, cursorLT uint64) ([]*tlb.Transaction, error) {
	var out []*tlb.Transaction
	lt, hash := acc.LastTxLT, acc.LastTxHash

	for {
		page, err := s.chain.ListTransactions(ctx, s.wallet, uint32(s.pageSize), lt, hash)
		if err != nil {
			return nil, fmt.Errorf("list transactions (lt=%d): %w", lt, err)
		}
		if len(page) == 0 {
			break
		}

		done := false
		for _, tx := range page {
			if tx.LT <= cursorLT {
				done = true
				continue
			}
			out = append(out, tx)
		}
		if done || len(page) < s.pageSize || page[0].PrevTxLT == 0 {
			break
		}
		lt, hash = page[0].PrevTxLT, page[0].PrevTxHash
	}

	sort.Slice(out, func(i, j int) bool { return out[i].LT < out[j].LT })
	return out, nil
}

func (s *Scanner) process(ctx context.Context, tx *tlb.Transaction) error {
	if tx.IO.In == nil {
		return nil
	}
	msg, ok := tx.IO.In.Msg.(*tlb.InternalMessage)
	if !ok || msg == nil || msg.Bounced {
		return nil
	}

	seen, err := s.cursor.Seen(ctx, tx.LT)
	if err != nil || seen {
		return err
	}

	outcome, err := s.handler.Handle(ctx, Transfer{
		Key:    TransferKey(s.wallet, tx.LT),
		LT:     tx.LT,
		From:   tonutil.Identity(msg.SrcAddr),
		Amount: msg.Amount.Nano(),
		Memo:   tonutil.ExtractComment(msg),
	})
	if err != nil {
		return err
	}
	s.log.Debug("transfer handled", zap.Uint64("lt", tx.LT), zap.String("outcome", outcome))
	return s.cursor.Mark(ctx, tx.LT, outcome)
}

// TransferKey names the incoming transaction lt of wallet. Logical times are
// unique per account.
func TransferKey(wallet *address.Address, lt uint64) string {
	return fmt.Sprintf("%s:%d", wallet.String(), lt)
}
