package ton

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gurssagar/finalicp-sub006/internal/ledger"
	"github.com/gurssagar/finalicp-sub006/internal/models"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/ton"
	"github.com/xssnick/tonutils-go/ton/wallet"
	"go.uber.org/zap"
)

// settlementTimeout bounds book writes that must happen after the caller's ctx is gone.
const settlementTimeout = 5 * time.Second

// ErrNotSent marks a Send failure that happened before the message left the
// process. Any other Send error may have been broadcast.
var ErrNotSent = errors.New("ton: transfer not sent")

// Sender pays out of the custody wallet and returns the logical time of the
// outgoing transaction.
type Sender interface {
	Send(ctx context.Context, to *address.Address, amount tlb.Coins, comment string) (uint64, error)
}

type WalletSender struct {
	api ton.APIClientWrapped
	w   *wallet.Wallet
}

// NewWalletSender opens the custody wallet from its space separated mnemonic.
func NewWalletSender(api ton.APIClientWrapped, seed string) (*WalletSender, error) {
	w, err := wallet.FromSeed(api, strings.Fields(seed), wallet.V4R2)
	if err != nil {
		return nil, fmt.Errorf("open custody wallet: %w", err)
	}
	return &WalletSender{api: api, w: w}, nil
}

func (s *WalletSender) Address() *address.Address {
	return s.w.WalletAddress()
}

func (s *WalletSender) Send(ctx context.Context, to *address.Address, amount tlb.Coins, comment string) (uint64, error) {
	msg, err := s.w.BuildTransfer(to, amount, to.IsBounceable(), comment)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrNotSent, err)
	}
	ext, err := s.w.BuildExternalMessageForMany(ctx, []*wallet.Message{msg})
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrNotSent, err)
	}
	tx, _, _, err := s.api.SendExternalMessageWaitTransaction(ctx, ext)
	if err != nil {
		return 0, err
	}
	return tx.LT, nil
}

// Gateway implements ledger.Gateway over the deposit book and the custody wallet.
// Block indices are transaction logical times.
type Gateway struct {
	book   Book
	sender Sender
	log    *zap.Logger
}

func NewGateway(book Book, sender Sender, log *zap.Logger) *Gateway {
	return &Gateway{book: book, sender: sender, log: log}
}

func (g *Gateway) BalanceOf(ctx context.Context, acc models.Account) (ledger.Balance, error) {
	memo := acc.Memo()
	if memo == "" {
		return ledger.Balance{}, errors.New("ton: only deposit subaccounts are tracked")
	}
	bal, err := g.book.Balance(ctx, memo)
	if err != nil {
		return ledger.Balance{}, ledger.Unavailable("balance_of", err)
	}
	return bal, nil
}

func (g *Gateway) Transfer(ctx context.Context, args ledger.TransferArgs) (uint64, error) {
	if args.Amount == 0 {
		return 0, &ledger.TransferError{Kind: ledger.TransferErrorRejected, Message: "zero amount"}
	}
	if args.Memo == "" {
		return 0, &ledger.TransferError{Kind: ledger.TransferErrorRejected, Message: "memo required"}
	}
	if args.To.Subaccount != nil {
		return 0, &ledger.TransferError{Kind: ledger.TransferErrorRejected, Message: "destination subaccounts are not supported"}
	}
	to, err := address.ParseAddr(args.To.Owner.String())
	if err != nil {
		return 0, &ledger.TransferError{Kind: ledger.TransferErrorRejected, Message: "invalid destination address"}
	}

	from := args.FromSubaccount.Hex()
	res, err := g.book.Reserve(ctx, args.Memo, from, args.Amount)
	if err != nil {
		return 0, ledger.Unavailable("transfer", err)
	}
	switch res.Status {
	case AlreadySettled:
		lt := res.LT
		return 0, &ledger.TransferError{Kind: ledger.TransferErrorDuplicate, DuplicateOf: &lt}
	case SettlementPending:
		return 0, &ledger.TransferError{Kind: ledger.TransferErrorTemporarilyUnavailable, Message: "settlement in flight"}
	case Insufficient:
		return 0, &ledger.TransferError{Kind: ledger.TransferErrorInsufficientFunds, Balance: res.Balance}
	}

	lt, err := g.sender.Send(ctx, to, ToCoins(args.Amount), args.Memo)
	if err != nil {
		if !errors.Is(err, ErrNotSent) {
			// the message may still land; the indexer commits or expires the reservation
			g.log.Error("ton transfer outcome unknown, settlement left pending",
				zap.String("memo", args.Memo),
				zap.Uint64("amount_e8s", args.Amount),
				zap.Error(err),
			)
			return 0, ledger.Unavailable("transfer", err)
		}

		// the reservation must be returned even if ctx is done
		cctx, cancel := context.WithTimeout(context.Background(), settlementTimeout)
		defer cancel()
		if cerr := g.book.Cancel(cctx, args.Memo, from, args.Amount); cerr != nil {
			g.log.Error("failed to cancel reservation", zap.String("memo", args.Memo), zap.Error(cerr))
		}
		return 0, ledger.Unavailable("transfer", err)
	}

	cctx, cancel := context.WithTimeout(context.Background(), settlementTimeout)
	defer cancel()
	if err := g.book.Commit(cctx, args.Memo, lt); err != nil {
		g.log.Error("transfer sent but not committed", zap.String("memo", args.Memo), zap.Uint64("lt", lt), zap.Error(err))
	}
	g.log.Info("ton transfer sent",
		zap.String("memo", args.Memo),
		zap.String("to", to.String()),
		zap.Uint64("amount_e8s", args.Amount),
		zap.Uint64("lt", lt),
	)
	return lt, nil
}
