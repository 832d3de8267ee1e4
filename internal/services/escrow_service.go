package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gurssagar/finalicp-sub006/internal/account"
	"github.com/gurssagar/finalicp-sub006/internal/events"
	"github.com/gurssagar/finalicp-sub006/internal/ledger"
	"github.com/gurssagar/finalicp-sub006/internal/lock"
	"github.com/gurssagar/finalicp-sub006/internal/metrics"
	"github.com/gurssagar/finalicp-sub006/internal/models"
	"github.com/gurssagar/finalicp-sub006/internal/rbac"
	"github.com/gurssagar/finalicp-sub006/internal/repositories"
	"go.uber.org/zap"
)

const maxProjectIDLength = 128

type EscrowService struct {
	store     repositories.EscrowStore
	auditRepo repositories.AuditStore
	gateway   ledger.Gateway
	locker    lock.Locker
	admin     *AdminConfig
	publisher events.Publisher
	metrics   *metrics.Registry
	custody   models.Principal
	now       func() time.Time
	log       *zap.Logger
}

func NewEscrowService(
	store repositories.EscrowStore,
	auditRepo repositories.AuditStore,
	gateway ledger.Gateway,
	locker lock.Locker,
	admin *AdminConfig,
	publisher events.Publisher,
	m *metrics.Registry,
	custody models.Principal,
	log *zap.Logger,
) *EscrowService {
	return &EscrowService{
		store:     store,
		auditRepo: auditRepo,
		gateway:   gateway,
		locker:    locker,
		admin:     admin,
		publisher: publisher,
		metrics:   m,
		custody:   custody,
		now:       time.Now,
		log:       log,
	}
}

type CreateEscrowInput struct {
	ProjectID      string
	Client         models.Principal
	Freelancer     models.Principal
	ExpectedAmount uint64
	ReleaseAt      *time.Time
}

// RefreshResult reports the deposit balance seen by a funding check.
// Funded is true for every status past created.
type RefreshResult struct {
	Funded  bool           `json:"funded"`
	Balance uint64         `json:"balance"`
	Escrow  *models.Escrow `json:"escrow"`
}

type BatchReport struct {
	Checked   int `json:"checked"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

func (s *EscrowService) Create(ctx context.Context, caller models.Principal, in CreateEscrowInput) (e *models.Escrow, err error) {
	defer func() { s.observe("create", err) }()

	if err := s.validateCreate(in); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	now := s.now().UTC()
	e = &models.Escrow{
		ID:             id,
		ProjectID:      strings.TrimSpace(in.ProjectID),
		Client:         in.Client,
		Freelancer:     in.Freelancer,
		ExpectedAmount: in.ExpectedAmount,
		DepositAccount: account.Derive(s.custody, id),
		Status:         models.EscrowStatusCreated,
		CreatedAt:      now,
	}
	if in.ReleaseAt != nil {
		at := in.ReleaseAt.UTC()
		e.ReleaseAt = &at
	}

	if err := s.store.Create(ctx, e); err != nil {
		return nil, fmt.Errorf("store escrow: %w", err)
	}

	s.record(ctx, e, &caller, models.ActorUser, events.EventEscrowCreated, map[string]any{
		"project_id":      e.ProjectID,
		"expected_amount": e.ExpectedAmount,
		"deposit_account": e.DepositAccount.Key(),
	})
	s.log.Info("escrow created",
		zap.String("escrow_id", e.ID),
		zap.String("project_id", e.ProjectID),
		zap.Uint64("expected_amount", e.ExpectedAmount),
	)
	return e, nil
}

func (s *EscrowService) validateCreate(in CreateEscrowInput) error {
	project := strings.TrimSpace(in.ProjectID)
	if project == "" {
		return invalid("project_id", "must not be empty")
	}
	if len(project) > maxProjectIDLength {
		return invalid("project_id", "longer than %d characters", maxProjectIDLength)
	}
	if _, err := models.ParsePrincipal(in.Client.String()); err != nil {
		return invalid("client", "%s", err)
	}
	if _, err := models.ParsePrincipal(in.Freelancer.String()); err != nil {
		return invalid("freelancer", "%s", err)
	}
	if in.Client != models.Principal(strings.TrimSpace(in.Client.String())) ||
		in.Freelancer != models.Principal(strings.TrimSpace(in.Freelancer.String())) {
		return invalid("principal", "must not carry surrounding whitespace")
	}
	if in.Client == in.Freelancer {
		return invalid("freelancer", "must differ from client")
	}
	if in.ExpectedAmount == 0 {
		return invalid("expected_amount", "must be positive")
	}
	if in.ExpectedAmount > math.MaxInt64 {
		return invalid("expected_amount", "exceeds %d", int64(math.MaxInt64))
	}
	if in.ReleaseAt != nil && !in.ReleaseAt.After(s.now()) {
		return invalid("release_at", "must be in the future")
	}
	return nil
}

func (s *EscrowService) Get(ctx context.Context, id string) (*models.Escrow, error) {
	e, err := s.store.GetByID(ctx, id)
	if errors.Is(err, repositories.ErrEscrowNotFound) {
		return nil, fmt.Errorf("escrow %s: %w", id, ErrNotFound)
	}
	return e, err
}

func (s *EscrowService) GetDepositAccount(ctx context.Context, id string) (models.Account, error) {
	e, err := s.Get(ctx, id)
	if err != nil {
		return models.Account{}, err
	}
	return e.DepositAccount, nil
}

func (s *EscrowService) List(ctx context.Context, f repositories.EscrowFilter) ([]models.Escrow, error) {
	return s.store.List(ctx, f)
}

// Events returns the audit trail of one escrow, newest first.
func (s *EscrowService) Events(ctx context.Context, id string, limit, offset int) ([]models.AuditLog, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.auditRepo.GetByEntity(ctx, models.EntityEscrow, id, limit, offset)
}

// RefreshFunding reconciles the deposit balance against the record. It is safe
// to call repeatedly and concurrently: at most one call moves created to funded.
func (s *EscrowService) RefreshFunding(ctx context.Context, id string) (res *RefreshResult, err error) {
	defer func() { s.observe("refresh_funding", err) }()

	unlock, err := s.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	e, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	bal, err := s.balanceOf(ctx, e.DepositAccount)
	if err != nil {
		return nil, err
	}

	res = &RefreshResult{Balance: bal.Amount, Escrow: e}
	if e.Status != models.EscrowStatusCreated {
		res.Funded = true
		return res, nil
	}
	if bal.Amount < e.ExpectedAmount {
		return res, nil
	}

	funded, err := s.store.Transition(ctx, id, models.EscrowStatusCreated, models.EscrowTransition{
		To:         models.EscrowStatusFunded,
		At:         s.now().UTC(),
		BlockIndex: bal.LastBlockIndex,
	})
	if errors.Is(err, repositories.ErrStatusConflict) {
		// another process funded it first
		if e, err = s.Get(ctx, id); err != nil {
			return nil, err
		}
		res.Funded = true
		res.Escrow = e
		return res, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mark funded: %w", err)
	}

	s.metrics.Transition(string(models.EscrowStatusCreated), string(models.EscrowStatusFunded))
	s.record(ctx, funded, nil, models.ActorSystem, events.EventEscrowFunded, map[string]any{
		"balance":     bal.Amount,
		"block_index": optUint(funded.FundingBlockIndex),
	})
	s.log.Info("escrow funded",
		zap.String("escrow_id", id),
		zap.Uint64("balance", bal.Amount),
	)

	res.Funded = true
	res.Escrow = funded
	return res, nil
}

// Release pays the freelancer. Only the client of record or the relayer may call it.
func (s *EscrowService) Release(ctx context.Context, caller models.Principal, id string) (e *models.Escrow, err error) {
	defer func() { s.observe("release", err) }()

	unlock, err := s.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	e, err = s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.admin.Sync(ctx); err != nil {
		return nil, err
	}
	actorType, ok := rbac.Grant(s.rolesOf(caller, e), rbac.PermRelease)
	if !ok {
		return nil, fmt.Errorf("release %s by %s: %w", id, caller, ErrUnauthorized)
	}

	return s.settle(ctx, e, caller, actorType, models.EscrowStatusReleased, models.Account{Owner: e.Freelancer})
}

// Refund returns the deposit to the client. Only the relayer or the authority may call it.
func (s *EscrowService) Refund(ctx context.Context, caller models.Principal, id string) (e *models.Escrow, err error) {
	defer func() { s.observe("refund", err) }()

	unlock, err := s.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	e, err = s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.admin.Sync(ctx); err != nil {
		return nil, err
	}
	actorType, ok := rbac.Grant(s.rolesOf(caller, e), rbac.PermRefund)
	if !ok {
		return nil, fmt.Errorf("refund %s by %s: %w", id, caller, ErrUnauthorized)
	}

	return s.settle(ctx, e, caller, actorType, models.EscrowStatusRefunded, models.Account{Owner: e.Client})
}

// rolesOf lists the roles caller holds on e, escrow parties first.
func (s *EscrowService) rolesOf(caller models.Principal, e *models.Escrow) []string {
	var roles []string
	if caller == e.Client {
		roles = append(roles, rbac.RoleClient)
	}
	if caller == e.Freelancer {
		roles = append(roles, rbac.RoleFreelancer)
	}
	if s.admin.IsRelayer(caller) {
		roles = append(roles, rbac.RoleRelayer)
	}
	if caller == s.admin.Authority() {
		roles = append(roles, rbac.RoleAuthority)
	}
	return roles
}

// settle moves expected_amount out of the deposit and records the terminal status.
// The escrow lock must be held.
func (s *EscrowService) settle(ctx context.Context, e *models.Escrow, caller models.Principal, actorType string, to models.EscrowStatus, dest models.Account) (*models.Escrow, error) {
	if e.Status != models.EscrowStatusFunded {
		return nil, fmt.Errorf("escrow %s is %s: %w", e.ID, e.Status, ErrInvalidState)
	}
	if e.DepositAccount.Subaccount == nil {
		return nil, fmt.Errorf("escrow %s has no deposit subaccount", e.ID)
	}

	memo := SettlementMemo(to, e.ID)
	blockIndex, err := s.transfer(ctx, ledger.TransferArgs{
		FromSubaccount: *e.DepositAccount.Subaccount,
		To:             dest,
		Amount:         e.ExpectedAmount,
		Memo:           memo,
	})
	if err != nil {
		s.log.Warn("settlement transfer failed",
			zap.String("escrow_id", e.ID),
			zap.String("to_status", string(to)),
			zap.Error(err),
		)
		return nil, err
	}

	settled, err := s.store.Transition(ctx, e.ID, models.EscrowStatusFunded, models.EscrowTransition{
		To:         to,
		At:         s.now().UTC(),
		BlockIndex: blockIndex,
		Amount:     e.ExpectedAmount,
	})
	if err != nil {
		// The ledger has moved funds. A retry with the same memo is reported as a
		// duplicate and completes the transition.
		s.log.Error("transfer executed but status not recorded",
			zap.String("escrow_id", e.ID),
			zap.String("memo", memo),
			zap.Uint64p("block_index", blockIndex),
			zap.Error(err),
		)
		if errors.Is(err, repositories.ErrStatusConflict) {
			return nil, fmt.Errorf("escrow %s settled concurrently: %w", e.ID, ErrInvalidState)
		}
		return nil, fmt.Errorf("record settlement: %w", err)
	}

	s.metrics.Transition(string(models.EscrowStatusFunded), string(to))
	eventType := events.EventEscrowReleased
	if to == models.EscrowStatusRefunded {
		eventType = events.EventEscrowRefunded
	}
	s.record(ctx, settled, &caller, actorType, eventType, map[string]any{
		"to":          dest.Key(),
		"amount":      e.ExpectedAmount,
		"block_index": optUint(blockIndex),
	})
	s.log.Info("escrow settled",
		zap.String("escrow_id", e.ID),
		zap.String("status", string(to)),
		zap.String("actor", caller.String()),
		zap.Uint64p("block_index", blockIndex),
	)
	return settled, nil
}

// SettlementMemo is the ledger memo of the transfer that moves an escrow to status to.
func SettlementMemo(to models.EscrowStatus, id string) string {
	if to == models.EscrowStatusRefunded {
		return "refund:" + id
	}
	return "release:" + id
}

// ReconcilePending runs RefreshFunding over every created escrow, batch at a time.
func (s *EscrowService) ReconcilePending(ctx context.Context, batch int) (BatchReport, error) {
	var report BatchReport
	batch = batchSize(batch)
	status := models.EscrowStatusCreated
	offset := 0

	for {
		page, err := s.store.List(ctx, repositories.EscrowFilter{Status: &status, Limit: batch, Offset: offset})
		if err != nil {
			return report, fmt.Errorf("list pending: %w", err)
		}

		for _, e := range page {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			report.Checked++
			res, err := s.RefreshFunding(ctx, e.ID)
			switch {
			case err != nil:
				report.Failed++
				offset++
				s.log.Warn("refresh funding failed", zap.String("escrow_id", e.ID), zap.Error(err))
			case res.Funded:
				report.Succeeded++
			default:
				offset++
			}
		}

		if len(page) < batch {
			return report, nil
		}
	}
}

// ReleaseDue releases funded escrows whose release_at has passed, acting as the relayer.
func (s *EscrowService) ReleaseDue(ctx context.Context, now time.Time, batch int) (BatchReport, error) {
	var report BatchReport

	// the relayer may have been rotated or revoked by another process
	if err := s.admin.Sync(ctx); err != nil {
		return report, err
	}
	relayer := s.admin.Relayer()
	if relayer == nil {
		return report, nil
	}

	batch = batchSize(batch)
	status := models.EscrowStatusFunded
	offset := 0
	for {
		page, err := s.store.List(ctx, repositories.EscrowFilter{
			Status:           &status,
			ReleaseDueBefore: &now,
			Limit:            batch,
			Offset:           offset,
		})
		if err != nil {
			return report, fmt.Errorf("list due: %w", err)
		}

		for _, e := range page {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			report.Checked++
			_, err := s.Release(ctx, *relayer, e.ID)
			switch {
			case err == nil:
				report.Succeeded++
			case errors.Is(err, ErrInvalidState):
				// settled by someone else since the listing
			default:
				report.Failed++
				offset++
				s.log.Warn("scheduled release failed", zap.String("escrow_id", e.ID), zap.Error(err))
			}
		}

		if len(page) < batch {
			return report, nil
		}
	}
}

func batchSize(n int) int {
	switch {
	case n <= 0:
		return 20
	case n > 100:
		return 100
	}
	return n
}

func (s *EscrowService) lock(ctx context.Context, id string) (func(), error) {
	unlock, err := s.locker.Lock(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("escrow %s: %w: %w", id, ErrEscrowBusy, err)
	}
	return unlock, nil
}

func (s *EscrowService) balanceOf(ctx context.Context, acc models.Account) (ledger.Balance, error) {
	started := time.Now()
	bal, err := s.gateway.BalanceOf(ctx, acc)
	if err != nil {
		s.metrics.LedgerCall("balance_of", "error", started)
		return ledger.Balance{}, fmt.Errorf("balance of %s: %w: %w", acc.Key(), ErrLedgerUnavailable, err)
	}
	s.metrics.LedgerCall("balance_of", "ok", started)
	return bal, nil
}

// transfer executes args and maps the ledger outcome. A duplicate means an
// earlier attempt with the same memo already landed and counts as success.
func (s *EscrowService) transfer(ctx context.Context, args ledger.TransferArgs) (*uint64, error) {
	started := time.Now()
	idx, err := s.gateway.Transfer(ctx, args)
	if err == nil {
		s.metrics.LedgerCall("transfer", "ok", started)
		return &idx, nil
	}

	var terr *ledger.TransferError
	if !errors.As(err, &terr) {
		s.metrics.LedgerCall("transfer", "unavailable", started)
		return nil, fmt.Errorf("transfer %s: %w: %w", args.Memo, ErrLedgerUnavailable, err)
	}
	s.metrics.LedgerCall("transfer", terr.Kind.String(), started)

	switch terr.Kind {
	case ledger.TransferErrorDuplicate:
		s.log.Info("transfer already executed", zap.String("memo", args.Memo), zap.Uint64p("block_index", terr.DuplicateOf))
		return terr.DuplicateOf, nil
	case ledger.TransferErrorTemporarilyUnavailable:
		return nil, fmt.Errorf("transfer %s: %w: %w", args.Memo, ErrLedgerUnavailable, err)
	case ledger.TransferErrorInsufficientFunds, ledger.TransferErrorRejected, ledger.TransferErrorGeneric:
		return nil, fmt.Errorf("transfer %s: %w: %w", args.Memo, ErrTransferRejected, err)
	default:
		return nil, fmt.Errorf("transfer %s: unknown outcome %d: %w: %w", args.Memo, terr.Kind, ErrTransferRejected, err)
	}
}

// record writes the audit entry and publishes the lifecycle event. Failures are logged only.
func (s *EscrowService) record(ctx context.Context, e *models.Escrow, actor *models.Principal, actorType, action string, meta map[string]any) {
	meta["status"] = string(e.Status)
	if err := s.auditRepo.Log(ctx, models.AuditLog{
		Actor:      actor,
		ActorType:  actorType,
		Action:     action,
		EntityType: models.EntityEscrow,
		EntityID:   e.ID,
		Meta:       meta,
	}); err != nil {
		s.log.Error("audit log", zap.String("escrow_id", e.ID), zap.String("action", action), zap.Error(err))
	}

	if err := s.publisher.Publish(ctx, events.StreamEscrow, events.Event{
		Type: action,
		Payload: map[string]any{
			"escrow_id":  e.ID,
			"project_id": e.ProjectID,
			"client":     e.Client.String(),
			"freelancer": e.Freelancer.String(),
			"status":     string(e.Status),
		},
	}); err != nil {
		s.log.Warn("publish event", zap.String("escrow_id", e.ID), zap.String("type", action), zap.Error(err))
	}
}

func (s *EscrowService) observe(op string, err error) {
	s.metrics.Operation(op, resultLabel(err))
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrEscrowBusy):
		return "busy"
	case errors.Is(err, ErrLedgerUnavailable):
		return "ledger_unavailable"
	case errors.Is(err, ErrTransferRejected):
		return "transfer_rejected"
	default:
		return "error"
	}
}

func optUint(v *uint64) any {
	if v == nil {
		return nil
	}
	return *v
}
