package ton

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/custody-ledger/backend/internal/models"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/ton"
	"github.com/xssnick/tonutils-go/ton/wallet"
	"go.uber.org/zap"
)

// How far back FindSent looks through the wallet's own transactions.
const (
	findPageSize = 20
	findMaxPages = 10
)

// WalletSender pays out from the hot wallet.
type WalletSender struct {
	api ton.APIClientWrapped
	w   *wallet.Wallet
	log *zap.Logger
}

// NewWalletSender opens the V4R2 hot wallet derived from a space-separated seed phrase.
func NewWalletSender(api ton.APIClientWrapped, seed string, log *zap.Logger) (*WalletSender, error) {
	words := strings.Fields(seed)
	if len(words) == 0 {
		return nil, fmt.Errorf("empty wallet seed")
	}
	w, err := wallet.FromSeed(api, words, wallet.V4R2)
	if err != nil {
		return nil, fmt.Errorf("open wallet: %w", err)
	}
	log.Info("payout wallet ready", zap.String("address", w.WalletAddress().String()))
	return &WalletSender{api: api, w: w, log: log}, nil
}

// Send transfers the payout amount with its memo and waits for the wallet
// transaction. The returned reference is the transaction hash.
func (s *WalletSender) Send(ctx context.Context, p models.Payout) (string, error) {
	to, err := address.ParseAddr(string(p.Recipient))
	if err != nil {
		return "", fmt.Errorf("recipient %q: %w", p.Recipient, err)
	}

	msg, err := s.w.BuildTransfer(to, tlb.FromNanoTON(p.Amount), false, p.Memo())
	if err != nil {
		return "", fmt.Errorf("build transfer: %w", err)
	}

	tx, _, err := s.w.SendWaitTransaction(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("send transfer: %w", err)
	}

	ref := hex.EncodeToString(tx.Hash)
	s.log.Info("payout sent",
		zap.String("payout_id", p.ID.String()),
		zap.String("to", to.String()),
		zap.String("amount", tlb.FromNanoTON(p.Amount).String()),
		zap.String("tx_hash", ref),
	)
	return ref, nil
}

// FindSent walks the wallet's transactions back to the payout's creation and
// looks for an outgoing message carrying the payout memo.
func (s *WalletSender) FindSent(ctx context.Context, p models.Payout) (string, bool, error) {
	master, err := s.api.CurrentMasterchainInfo(ctx)
	if err != nil {
		return "", false, fmt.Errorf("get masterchain info: %w", err)
	}
	acc, err := s.api.GetAccount(ctx, master, s.w.WalletAddress())
	if err != nil {
		return "", false, fmt.Errorf("get wallet account: %w", err)
	}
	if !acc.IsActive || acc.LastTxLT == 0 {
		return "", false, nil
	}

	memo := p.Memo()
	since := p.CreatedAt.Add(-time.Minute)
	lt, hash := acc.LastTxLT, acc.LastTxHash
	for range findMaxPages {
		page, err := s.api.ListTransactions(ctx, s.w.WalletAddress(), findPageSize, lt, hash)
		if errors.Is(err, ton.ErrNoTransactionsWereFound) {
			return "", false, nil
		}
		if err != nil {
			return "", false, fmt.Errorf("list wallet transactions: %w", err)
		}
		if len(page) == 0 {
			return "", false, nil
		}
		// Pages come oldest first.
		for i := len(page) - 1; i >= 0; i-- {
			tx := page[i]
			if carriesComment(tx, memo) {
				return hex.EncodeToString(tx.Hash), true, nil
			}
			if time.Unix(int64(tx.Now), 0).Before(since) {
				return "", false, nil
			}
		}
		if page[0].PrevTxLT == 0 {
			return "", false, nil
		}
		lt, hash = page[0].PrevTxLT, page[0].PrevTxHash
	}
	return "", false, fmt.Errorf("payout %s: no answer within %d pages", p.ID, findMaxPages)
}

func carriesComment(tx *tlb.Transaction, memo string) bool {
	if tx.IO.Out == nil {
		return false
	}
	msgs, err := tx.IO.Out.ToSlice()
	if err != nil {
		return false
	}
	for i := range msgs {
		if msgs[i].MsgType != tlb.MsgTypeInternal {
			continue
		}
		if msgs[i].AsInternal().Comment() == memo {
			return true
		}
	}
	return false
}
