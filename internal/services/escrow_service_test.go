package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gurssagar/finalicp-sub006/internal/events"
	"github.com/gurssagar/finalicp-sub006/internal/ledger"
	"github.com/gurssagar/finalicp-sub006/internal/lock"
	"github.com/gurssagar/finalicp-sub006/internal/metrics"
	"github.com/gurssagar/finalicp-sub006/internal/models"
	"github.com/gurssagar/finalicp-sub006/internal/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	custody    models.Principal = "custody"
	authority  models.Principal = "authority"
	relayer    models.Principal = "relayer"
	client     models.Principal = "client-C"
	freelancer models.Principal = "freelancer-F"
	stranger   models.Principal = "mallory"
)

type fixture struct {
	svc    *EscrowService
	ledger *ledger.MemoryLedger
	store  *repositories.MemoryEscrowRepo
	audit  *repositories.MemoryAuditRepo
	bus    *events.MemoryBus
	locker *lock.KeyedMutex
	admin  *AdminConfig
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ledger: ledger.NewMemoryLedger(custody),
		store:  repositories.NewMemoryEscrowRepo(),
		audit:  repositories.NewMemoryAuditRepo(),
		bus:    events.NewMemoryBus(),
		locker: lock.NewKeyedMutex(),
	}
	r := relayer
	f.admin = NewAdminConfig(authority, authority, &r)
	f.svc = NewEscrowService(f.store, f.audit, f.ledger, f.locker, f.admin, f.bus, metrics.New(), custody, zap.NewNop())
	return f
}

func (f *fixture) create(t *testing.T, amount uint64) *models.Escrow {
	t.Helper()
	e, err := f.svc.Create(context.Background(), client, CreateEscrowInput{
		ProjectID:      "proj-1",
		Client:         client,
		Freelancer:     freelancer,
		ExpectedAmount: amount,
	})
	require.NoError(t, err)
	return e
}

func (f *fixture) funded(t *testing.T, amount uint64) *models.Escrow {
	t.Helper()
	e := f.create(t, amount)
	f.ledger.Deposit(e.DepositAccount, amount)
	res, err := f.svc.RefreshFunding(context.Background(), e.ID)
	require.NoError(t, err)
	require.True(t, res.Funded)
	return res.Escrow
}

func countType(types []string, want string) int {
	n := 0
	for _, t := range types {
		if t == want {
			n++
		}
	}
	return n
}

func TestEscrowScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	e := f.create(t, 500_000_000)
	assert.Equal(t, models.EscrowStatusCreated, e.Status)
	require.NotNil(t, e.DepositAccount.Subaccount)
	assert.Equal(t, custody, e.DepositAccount.Owner)

	acc, err := f.svc.GetDepositAccount(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.DepositAccount.Key(), acc.Key())

	res, err := f.svc.RefreshFunding(ctx, e.ID)
	require.NoError(t, err)
	assert.False(t, res.Funded)
	assert.Equal(t, uint64(0), res.Balance)
	assert.Equal(t, models.EscrowStatusCreated, res.Escrow.Status)

	depositIdx := f.ledger.Deposit(acc, 500_000_000)

	res, err = f.svc.RefreshFunding(ctx, e.ID)
	require.NoError(t, err)
	assert.True(t, res.Funded)
	assert.Equal(t, uint64(500_000_000), res.Balance)
	assert.Equal(t, models.EscrowStatusFunded, res.Escrow.Status)
	require.NotNil(t, res.Escrow.FundingBlockIndex)
	assert.Equal(t, depositIdx, *res.Escrow.FundingBlockIndex)
	assert.NotNil(t, res.Escrow.FundedAt)

	released, err := f.svc.Release(ctx, client, e.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EscrowStatusReleased, released.Status)
	require.NotNil(t, released.SettlementBlockIndex)
	assert.Equal(t, released.SettlementBlockIndex, released.LedgerBlockIndex())
	require.NotNil(t, released.SettledAmount)
	assert.Equal(t, uint64(500_000_000), *released.SettledAmount)

	blocks := f.ledger.Blocks()
	last := blocks[len(blocks)-1]
	assert.Equal(t, *released.SettlementBlockIndex, last.Index)
	assert.Equal(t, freelancer, last.To.Owner)
	assert.Nil(t, last.To.Subaccount)
	assert.Equal(t, uint64(500_000_000), last.Amount)

	_, err = f.svc.Release(ctx, client, e.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = f.svc.Refund(ctx, relayer, e.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, 1, f.ledger.TransferCalls())

	// terminal escrows still report as funded
	res, err = f.svc.RefreshFunding(ctx, e.ID)
	require.NoError(t, err)
	assert.True(t, res.Funded)
	assert.Equal(t, models.EscrowStatusReleased, res.Escrow.Status)

	assert.Equal(t, []string{
		events.EventEscrowCreated,
		events.EventEscrowFunded,
		events.EventEscrowReleased,
	}, f.bus.Types())

	trail, err := f.svc.Events(ctx, e.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, trail, 3)
	assert.Equal(t, events.EventEscrowReleased, trail[0].Action)
	assert.Equal(t, models.ActorClient, trail[0].ActorType)
}

func TestRefreshFunding_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	e := f.create(t, 1000)

	f.ledger.Deposit(e.DepositAccount, 999)
	for i := 0; i < 5; i++ {
		res, err := f.svc.RefreshFunding(ctx, e.ID)
		require.NoError(t, err)
		assert.False(t, res.Funded)
		assert.Equal(t, uint64(999), res.Balance)
	}

	f.ledger.Deposit(e.DepositAccount, 1)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.RefreshFunding(ctx, e.ID)
			assert.NoError(t, err)
			if err == nil {
				assert.True(t, res.Funded)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, countType(f.bus.Types(), events.EventEscrowFunded))
	got, err := f.svc.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EscrowStatusFunded, got.Status)
	assert.Equal(t, 0, f.locker.Len())
}

func TestRefreshFunding_Overpayment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	e := f.create(t, 100)
	f.ledger.Deposit(e.DepositAccount, 150)

	res, err := f.svc.RefreshFunding(ctx, e.ID)
	require.NoError(t, err)
	assert.True(t, res.Funded)

	_, err = f.svc.Release(ctx, client, e.ID)
	require.NoError(t, err)

	// surplus stays in the deposit subaccount
	res, err = f.svc.RefreshFunding(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), res.Balance)
}

func TestRefreshFunding_LedgerUnavailable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	e := f.create(t, 100)
	f.ledger.Deposit(e.DepositAccount, 100)
	f.ledger.FailNextBalance(ledger.Unavailable("balance_of", errors.New("connection reset")))

	_, err := f.svc.RefreshFunding(ctx, e.ID)
	assert.ErrorIs(t, err, ErrLedgerUnavailable)
	assert.True(t, IsRetryable(err))

	got, _ := f.svc.Get(ctx, e.ID)
	assert.Equal(t, models.EscrowStatusCreated, got.Status)

	res, err := f.svc.RefreshFunding(ctx, e.ID)
	require.NoError(t, err)
	assert.True(t, res.Funded)
}

func TestRelease_Authorization(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	created := f.create(t, 100)
	_, err := f.svc.Release(ctx, client, created.ID)
	assert.ErrorIs(t, err, ErrInvalidState)

	e := f.funded(t, 100)
	for _, caller := range []models.Principal{stranger, freelancer, authority} {
		_, err := f.svc.Release(ctx, caller, e.ID)
		assert.ErrorIs(t, err, ErrUnauthorized, "caller %s", caller)
	}
	assert.Equal(t, 0, f.ledger.TransferCalls())

	got, _ := f.svc.Get(ctx, e.ID)
	assert.Equal(t, models.EscrowStatusFunded, got.Status)

	released, err := f.svc.Release(ctx, relayer, e.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EscrowStatusReleased, released.Status)
}

func TestRefund_Authorization(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	e := f.funded(t, 100)
	for _, caller := range []models.Principal{client, freelancer, stranger} {
		_, err := f.svc.Refund(ctx, caller, e.ID)
		assert.ErrorIs(t, err, ErrUnauthorized, "caller %s", caller)
	}
	assert.Equal(t, 0, f.ledger.TransferCalls())

	refunded, err := f.svc.Refund(ctx, authority, e.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EscrowStatusRefunded, refunded.Status)

	blocks := f.ledger.Blocks()
	assert.Equal(t, client, blocks[len(blocks)-1].To.Owner)

	// a cleared relayer loses its rights
	require.NoError(t, f.admin.SetRelayer(context.Background(), authority, nil))
	other := f.funded(t, 100)
	_, err = f.svc.Refund(ctx, relayer, other.ID)
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = f.svc.Release(ctx, relayer, other.ID)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestReleaseRefundRace(t *testing.T) {
	ctx := context.Background()

	for round := 0; round < 20; round++ {
		f := newFixture(t)
		e := f.funded(t, 100)

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			wins    int
			invalid int
		)
		call := func(fn func() error) {
			defer wg.Done()
			err := fn()
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrInvalidState):
				invalid++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}

		wg.Add(2)
		go call(func() error { _, err := f.svc.Release(ctx, client, e.ID); return err })
		go call(func() error { _, err := f.svc.Refund(ctx, relayer, e.ID); return err })
		wg.Wait()

		assert.Equal(t, 1, wins)
		assert.Equal(t, 1, invalid)
		assert.Equal(t, 1, f.ledger.TransferCalls())
	}
}

func TestRelease_TransientFailureThenRetry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	e := f.funded(t, 100)

	f.ledger.FailNextTransfer(
		errors.New("dial tcp: i/o timeout"),
		&ledger.TransferError{Kind: ledger.TransferErrorTemporarilyUnavailable},
	)

	for i := 0; i < 2; i++ {
		_, err := f.svc.Release(ctx, client, e.ID)
		assert.ErrorIs(t, err, ErrLedgerUnavailable)
		assert.True(t, IsRetryable(err))

		got, _ := f.svc.Get(ctx, e.ID)
		assert.Equal(t, models.EscrowStatusFunded, got.Status)
		assert.Nil(t, got.SettlementBlockIndex)
	}

	released, err := f.svc.Release(ctx, client, e.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EscrowStatusReleased, released.Status)
}

func TestRelease_DuplicateTreatedAsSettled(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	e := f.funded(t, 100)

	// an earlier attempt landed on the ledger but its reply was lost
	landed, err := f.ledger.Transfer(ctx, ledger.TransferArgs{
		FromSubaccount: *e.DepositAccount.Subaccount,
		To:             models.Account{Owner: freelancer},
		Amount:         100,
		Memo:           "release:" + e.ID,
	})
	require.NoError(t, err)

	released, err := f.svc.Release(ctx, client, e.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EscrowStatusReleased, released.Status)
	require.NotNil(t, released.SettlementBlockIndex)
	assert.Equal(t, landed, *released.SettlementBlockIndex)

	bal, err := f.ledger.BalanceOf(ctx, models.Account{Owner: freelancer})
	require.NoError(t, err)
	assert.Equal(t, uint64(100), bal.Amount)
}

func TestRelease_Rejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	e := f.funded(t, 100)

	f.ledger.FailNextTransfer(&ledger.TransferError{Kind: ledger.TransferErrorInsufficientFunds, Balance: 3})
	_, err := f.svc.Release(ctx, client, e.ID)
	assert.ErrorIs(t, err, ErrTransferRejected)
	assert.False(t, IsRetryable(err))

	var terr *ledger.TransferError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, uint64(3), terr.Balance)

	got, _ := f.svc.Get(ctx, e.ID)
	assert.Equal(t, models.EscrowStatusFunded, got.Status)
}

func TestEscrowBusy(t *testing.T) {
	f := newFixture(t)
	e := f.create(t, 100)

	unlock, err := f.locker.Lock(context.Background(), e.ID)
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = f.svc.RefreshFunding(ctx, e.ID)
	assert.ErrorIs(t, err, ErrEscrowBusy)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, 0, f.ledger.BalanceCalls())
}

func TestNotFound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.GetDepositAccount(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.RefreshFunding(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.Release(ctx, client, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.Refund(ctx, relayer, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.Events(ctx, "nope", 10, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	past := time.Now().Add(-time.Minute)
	long := make([]byte, maxProjectIDLength+1)
	for i := range long {
		long[i] = 'p'
	}

	valid := CreateEscrowInput{ProjectID: "p", Client: client, Freelancer: freelancer, ExpectedAmount: 1}
	tests := []struct {
		name   string
		mutate func(in *CreateEscrowInput)
		field  string
	}{
		{"empty project", func(in *CreateEscrowInput) { in.ProjectID = "  " }, "project_id"},
		{"long project", func(in *CreateEscrowInput) { in.ProjectID = string(long) }, "project_id"},
		{"empty client", func(in *CreateEscrowInput) { in.Client = "" }, "client"},
		{"bad freelancer", func(in *CreateEscrowInput) { in.Freelancer = "a b" }, "freelancer"},
		{"padded client", func(in *CreateEscrowInput) { in.Client = " client-C" }, "principal"},
		{"self escrow", func(in *CreateEscrowInput) { in.Freelancer = in.Client }, "freelancer"},
		{"zero amount", func(in *CreateEscrowInput) { in.ExpectedAmount = 0 }, "expected_amount"},
		{"amount overflow", func(in *CreateEscrowInput) { in.ExpectedAmount = 1 << 63 }, "expected_amount"},
		{"release in past", func(in *CreateEscrowInput) { in.ReleaseAt = &past }, "release_at"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := valid
			tt.mutate(&in)
			_, err := f.svc.Create(context.Background(), client, in)
			require.ErrorIs(t, err, ErrValidation)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}

	list, err := f.svc.List(context.Background(), repositories.EscrowFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCreate_DistinctDeposits(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, 10)
	b := f.create(t, 10)

	assert.NotEqual(t, a.ID, b.ID)
	assert.NotEqual(t, a.DepositAccount.Key(), b.DepositAccount.Key())
	assert.Equal(t, 0, f.ledger.BalanceCalls()+f.ledger.TransferCalls())
}

func TestReconcilePending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var pending []*models.Escrow
	for i := 0; i < 5; i++ {
		pending = append(pending, f.create(t, 100))
	}
	f.ledger.Deposit(pending[0].DepositAccount, 100)
	f.ledger.Deposit(pending[3].DepositAccount, 100)
	f.ledger.Deposit(pending[4].DepositAccount, 40)

	report, err := f.svc.ReconcilePending(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, BatchReport{Checked: 5, Succeeded: 2, Failed: 0}, report)

	status := models.EscrowStatusCreated
	left, err := f.svc.List(ctx, repositories.EscrowFilter{Status: &status})
	require.NoError(t, err)
	assert.Len(t, left, 3)
}

func TestReleaseDue(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return now }

	soon := now.Add(time.Hour)
	later := now.Add(48 * time.Hour)
	mk := func(at *time.Time) *models.Escrow {
		e, err := f.svc.Create(ctx, client, CreateEscrowInput{
			ProjectID: "proj", Client: client, Freelancer: freelancer, ExpectedAmount: 100, ReleaseAt: at,
		})
		require.NoError(t, err)
		f.ledger.Deposit(e.DepositAccount, 100)
		_, err = f.svc.RefreshFunding(ctx, e.ID)
		require.NoError(t, err)
		return e
	}
	due := mk(&soon)
	notDue := mk(&later)
	unscheduled := mk(nil)

	report, err := f.svc.ReleaseDue(ctx, now.Add(2*time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, BatchReport{Checked: 1, Succeeded: 1}, report)

	for id, want := range map[string]models.EscrowStatus{
		due.ID:         models.EscrowStatusReleased,
		notDue.ID:      models.EscrowStatusFunded,
		unscheduled.ID: models.EscrowStatusFunded,
	} {
		got, err := f.svc.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got.Status)
	}

	trail, err := f.svc.Events(ctx, due.ID, 1, 0)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, models.ActorRelayer, trail[0].ActorType)

	require.NoError(t, f.admin.SetRelayer(context.Background(), authority, nil))
	report, err = f.svc.ReleaseDue(ctx, now.Add(72*time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, BatchReport{}, report)
}
