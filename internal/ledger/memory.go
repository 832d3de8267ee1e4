package ledger

import (
	"context"
	"sync"

	"github.com/gurssagar/finalicp-sub006/internal/models"
)

// MemoryLedger is an in-process ledger used for local development and tests.
// Every deposit and transfer is appended as a block.
type MemoryLedger struct {
	mu          sync.Mutex
	owner       models.Principal
	balances    map[string]uint64
	lastInbound map[string]uint64
	dedup       map[string]uint64
	blocks      []Block

	failBalance  []error
	failTransfer []error

	balanceCalls  int
	transferCalls int
}

type Block struct {
	Index  uint64
	From   *models.Account
	To     models.Account
	Amount uint64
	Memo   string
}

// NewMemoryLedger creates a ledger whose transfer sources are subaccounts of owner.
func NewMemoryLedger(owner models.Principal) *MemoryLedger {
	return &MemoryLedger{
		owner:       owner,
		balances:    make(map[string]uint64),
		lastInbound: make(map[string]uint64),
		dedup:       make(map[string]uint64),
	}
}

// Deposit mints amount into account, as an external payer would.
func (l *MemoryLedger) Deposit(account models.Account, amount uint64) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendLocked(nil, account, amount, "")
}

func (l *MemoryLedger) BalanceOf(ctx context.Context, account models.Account) (Balance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.balanceCalls++
	if err := ctx.Err(); err != nil {
		return Balance{}, Unavailable("balance_of", err)
	}
	if len(l.failBalance) > 0 {
		err := l.failBalance[0]
		l.failBalance = l.failBalance[1:]
		return Balance{}, err
	}

	key := account.Key()
	b := Balance{Amount: l.balances[key]}
	if idx, ok := l.lastInbound[key]; ok {
		b.LastBlockIndex = &idx
	}
	return b, nil
}

func (l *MemoryLedger) Transfer(ctx context.Context, args TransferArgs) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.transferCalls++
	if err := ctx.Err(); err != nil {
		return 0, Unavailable("transfer", err)
	}
	if len(l.failTransfer) > 0 {
		err := l.failTransfer[0]
		l.failTransfer = l.failTransfer[1:]
		return 0, err
	}

	sub := args.FromSubaccount
	from := models.Account{Owner: l.owner, Subaccount: &sub}

	var dedupKey string
	if args.Memo != "" {
		dedupKey = from.Key() + "|" + args.Memo
		if idx, ok := l.dedup[dedupKey]; ok {
			return 0, &TransferError{Kind: TransferErrorDuplicate, DuplicateOf: &idx}
		}
	}
	if args.Amount == 0 {
		return 0, &TransferError{Kind: TransferErrorRejected, Message: "zero amount"}
	}
	if bal := l.balances[from.Key()]; bal < args.Amount {
		return 0, &TransferError{Kind: TransferErrorInsufficientFunds, Balance: bal}
	}

	l.balances[from.Key()] -= args.Amount
	idx := l.appendLocked(&from, args.To, args.Amount, args.Memo)
	if dedupKey != "" {
		l.dedup[dedupKey] = idx
	}
	return idx, nil
}

func (l *MemoryLedger) appendLocked(from *models.Account, to models.Account, amount uint64, memo string) uint64 {
	idx := uint64(len(l.blocks))
	to = to.Clone()
	l.blocks = append(l.blocks, Block{Index: idx, From: from, To: to, Amount: amount, Memo: memo})
	l.balances[to.Key()] += amount
	l.lastInbound[to.Key()] = idx
	return idx
}

// FailNextBalance queues errors returned by subsequent BalanceOf calls.
func (l *MemoryLedger) FailNextBalance(errs ...error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failBalance = append(l.failBalance, errs...)
}

// FailNextTransfer queues errors returned by subsequent Transfer calls.
func (l *MemoryLedger) FailNextTransfer(errs ...error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failTransfer = append(l.failTransfer, errs...)
}

func (l *MemoryLedger) TransferCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transferCalls
}

func (l *MemoryLedger) BalanceCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balanceCalls
}

// Blocks returns a copy of the chain.
func (l *MemoryLedger) Blocks() []Block {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Block, len(l.blocks))
	copy(out, l.blocks)
	return out
}
