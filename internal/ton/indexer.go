package ton

import (
	"context"
	"encoding/hex"
	"fmt"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/ton"
	"go.uber.org/zap"
)

const (
	redisCursorLT   = "ton-indexer:cursor:lt"
	redisCursorHash = "ton-indexer:cursor:hash"
	txBatchSize     = 100
	// well past the 3 minute validity of custody wallet messages
	pendingExpiry = 15 * time.Minute
)

// Indexer credits inbound custody wallet transfers to the deposit book and
// commits the outbound transfers that pay settlements.
type Indexer struct {
	api  ton.APIClientWrapped
	addr *address.Address
	book Book
	rdb  *redis.Client
	log  *zap.Logger
}

func NewIndexer(api ton.APIClientWrapped, addr *address.Address, book Book, rdb *redis.Client, log *zap.Logger) *Indexer {
	return &Indexer{api: api, addr: addr, book: book, rdb: rdb, log: log}
}

// Run polls until ctx is done.
func (ix *Indexer) Run(ctx context.Context, interval time.Duration) {
	ix.initCursor(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := ix.Poll(ctx); err != nil {
				ix.log.Error("poll cycle failed", zap.Error(err))
				continue
			}
			// only after a clean poll: a landed payout must be committed before its reservation can expire
			if err := ix.ExpirePending(ctx, time.Now()); err != nil {
				ix.log.Error("expire pending settlements failed", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

// initCursor sets the initial cursor position on first run, so that only
// transactions arriving after startup are credited.
func (ix *Indexer) initCursor(ctx context.Context) {
	existing, _ := ix.rdb.Get(ctx, redisCursorLT).Result()
	if existing != "" {
		ix.log.Info("resuming from saved cursor", zap.String("lt", existing))
		return
	}

	block, err := ix.api.CurrentMasterchainInfo(ctx)
	if err != nil {
		ix.log.Warn("failed to get master block for cursor init", zap.Error(err))
		ix.rdb.Set(ctx, redisCursorLT, "0", 0)
		return
	}

	account, err := ix.api.GetAccount(ctx, block, ix.addr)
	if err != nil {
		ix.log.Warn("failed to get account for cursor init", zap.Error(err))
		ix.rdb.Set(ctx, redisCursorLT, "0", 0)
		return
	}

	if account == nil || !account.IsActive || account.LastTxLT == 0 {
		ix.log.Info("custody wallet not active yet, starting from LT=0")
		ix.rdb.Set(ctx, redisCursorLT, "0", 0)
		return
	}

	ix.saveCursor(ctx, account.LastTxLT, account.LastTxHash)
	ix.log.Info("cursor initialized at current account state",
		zap.Uint64("lt", account.LastTxLT),
		zap.String("hash", hex.EncodeToString(account.LastTxHash)),
	)
}

func (ix *Indexer) loadCursorLT(ctx context.Context) uint64 {
	val, err := ix.rdb.Get(ctx, redisCursorLT).Result()
	if err != nil || val == "" {
		return 0
	}
	lt, _ := strconv.ParseUint(val, 10, 64)
	return lt
}

func (ix *Indexer) saveCursor(ctx context.Context, lt uint64, hash []byte) {
	ix.rdb.Set(ctx, redisCursorLT, strconv.FormatUint(lt, 10), 0)
	ix.rdb.Set(ctx, redisCursorHash, hex.EncodeToString(hash), 0)
}

// Poll credits every transaction newer than the cursor, then advances it.
// The cursor is not advanced if a credit fails, so the cycle is retried.
func (ix *Indexer) Poll(ctx context.Context) error {
	cursorLT := ix.loadCursorLT(ctx)

	block, err := ix.api.CurrentMasterchainInfo(ctx)
	if err != nil {
		return fmt.Errorf("get master block: %w", err)
	}

	account, err := ix.api.GetAccount(ctx, block, ix.addr)
	if err != nil {
		return fmt.Errorf("get account: %w", err)
	}

	if account == nil || !account.IsActive || account.LastTxLT == 0 {
		return nil
	}
	if account.LastTxLT <= cursorLT {
		return nil
	}

	newTxs, err := ix.fetchNewTransactions(ctx, account, cursorLT)
	if err != nil {
		return fmt.Errorf("fetch transactions: %w", err)
	}

	if len(newTxs) > 0 {
		ix.log.Info("found new transactions", zap.Int("count", len(newTxs)))
	}
	for _, tx := range newTxs {
		if err := ix.process(ctx, tx); err != nil {
			return err
		}
	}

	ix.saveCursor(ctx, account.LastTxLT, account.LastTxHash)
	return nil
}

// fetchNewTransactions retrieves all transactions with LT > cursorLT in chronological order.
func (ix *Indexer) fetchNewTransactions(ctx context.Context, account *tlb.Account, cursorLT uint64) ([]*tlb.Transaction, error) {
	var allTxs []*tlb.Transaction

	lt := account.LastTxLT
	hash := account.LastTxHash

	for {
		txs, err := ix.api.ListTransactions(ctx, ix.addr, uint32(txBatchSize), lt, hash)
		if err != nil {
			return nil, fmt.Errorf("list transactions (lt=%d): %w", lt, err)
		}
		if len(txs) == 0 {
			break
		}

		reachedCursor := false
		for _, tx := range txs {
			if tx.LT <= cursorLT {
				reachedCursor = true
				continue
			}
			allTxs = append(allTxs, tx)
		}

		if reachedCursor || len(txs) < txBatchSize {
			break
		}

		oldest := txs[0]
		if oldest.PrevTxLT == 0 {
			break
		}
		lt = oldest.PrevTxLT
		hash = oldest.PrevTxHash
	}

	sort.Slice(allTxs, func(i, j int) bool {
		return allTxs[i].LT < allTxs[j].LT
	})

	return allTxs, nil
}

func (ix *Indexer) process(ctx context.Context, tx *tlb.Transaction) error {
	if tx.IO.Out != nil {
		out, err := tx.IO.Out.ToSlice()
		if err != nil {
			return fmt.Errorf("parse out messages lt %d: %w", tx.LT, err)
		}
		for _, m := range out {
			msg, ok := m.Msg.(*tlb.InternalMessage)
			if !ok || msg == nil {
				continue
			}
			if err := ix.commitSettlement(ctx, tx.LT, msg); err != nil {
				return err
			}
		}
	}

	if tx.IO.In == nil {
		return nil
	}
	inMsg, ok := tx.IO.In.Msg.(*tlb.InternalMessage)
	if !ok || inMsg == nil {
		return nil
	}

	d, ok := ParseDeposit(inMsg)
	if !ok {
		ix.log.Debug("transfer is not a deposit, skipping",
			zap.Uint64("lt", tx.LT),
			zap.String("amount", inMsg.Amount.String()),
		)
		return nil
	}

	credited, err := ix.book.Credit(ctx, d.Memo, tx.LT, d.Amount)
	if err != nil {
		return fmt.Errorf("credit lt %d: %w", tx.LT, err)
	}
	if credited {
		ix.log.Info("deposit credited",
			zap.Uint64("lt", tx.LT),
			zap.String("from", inMsg.SrcAddr.String()),
			zap.String("memo", d.Memo),
			zap.Uint64("amount_e8s", d.Amount),
		)
	}
	return nil
}

// commitSettlement records lt as the payout of a settlement memo carried by an
// outgoing transfer. The gateway may have committed it already.
func (ix *Indexer) commitSettlement(ctx context.Context, lt uint64, msg *tlb.InternalMessage) error {
	memo, ok := ParseSettlement(msg)
	if !ok {
		return nil
	}
	err := ix.book.Commit(ctx, memo, lt)
	switch {
	case errors.Is(err, ErrNotReserved):
		ix.log.Error("payout found for a settlement with no reservation",
			zap.Uint64("lt", lt),
			zap.String("memo", memo),
			zap.String("amount", msg.Amount.String()),
		)
		return nil
	case err != nil:
		return fmt.Errorf("commit lt %d: %w", lt, err)
	}
	ix.log.Info("settlement confirmed on chain", zap.Uint64("lt", lt), zap.String("memo", memo))
	return nil
}

// ExpirePending returns reservations whose transfer can no longer land.
func (ix *Indexer) ExpirePending(ctx context.Context, now time.Time) error {
	pending, err := ix.book.Pending(ctx)
	if err != nil {
		return err
	}
	for _, p := range pending {
		if now.Sub(p.Since) < pendingExpiry {
			continue
		}
		if err := ix.book.Cancel(ctx, p.Memo, p.DepositMemo, p.Amount); err != nil {
			return fmt.Errorf("expire %s: %w", p.Memo, err)
		}
		ix.log.Warn("settlement reservation expired",
			zap.String("memo", p.Memo),
			zap.Uint64("amount_e8s", p.Amount),
			zap.Time("since", p.Since),
		)
	}
	return nil
}

// ParseSettlement recognizes the comment of an outgoing release or refund payout.
func ParseSettlement(msg *tlb.InternalMessage) (string, bool) {
	comment := ExtractComment(msg)
	for _, prefix := range []string{"release:", "refund:"} {
		if id, ok := strings.CutPrefix(comment, prefix); ok && id != "" {
			return comment, true
		}
	}
	return "", false
}

type Deposit struct {
	Memo   string
	Amount uint64 // e8s
}

// ParseDeposit recognizes a non-bounced, positive transfer whose comment is a deposit memo.
func ParseDeposit(inMsg *tlb.InternalMessage) (Deposit, bool) {
	if inMsg.Bounced {
		return Deposit{}, false
	}
	memo, ok := DepositMemo(ExtractComment(inMsg))
	if !ok {
		return Deposit{}, false
	}
	amount, ok := FromNano(inMsg.Amount.Nano())
	if !ok || amount == 0 {
		return Deposit{}, false
	}
	return Deposit{Memo: memo, Amount: amount}, true
}
