package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gurssagar/finalicp-sub006/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const escrowColumns = `
	escrow_id, project_id, client, freelancer, expected_amount,
	deposit_owner, deposit_subaccount, status,
	created_at, funded_at, release_at, settled_at,
	funding_block_index, settlement_block_index, settled_amount`

type EscrowRepo struct {
	pool *pgxpool.Pool
}

func NewEscrowRepo(pool *pgxpool.Pool) *EscrowRepo {
	return &EscrowRepo{pool: pool}
}

func (r *EscrowRepo) Create(ctx context.Context, e *models.Escrow) error {
	var sub []byte
	if e.DepositAccount.Subaccount != nil {
		sub = e.DepositAccount.Subaccount[:]
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO escrows (escrow_id, project_id, client, freelancer, expected_amount,
		                     deposit_owner, deposit_subaccount, status, created_at, release_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, e.ID, e.ProjectID, string(e.Client), string(e.Freelancer), int64(e.ExpectedAmount),
		string(e.DepositAccount.Owner), sub, string(e.Status), e.CreatedAt, e.ReleaseAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrEscrowExists
	}
	return err
}

func (r *EscrowRepo) GetByID(ctx context.Context, id string) (*models.Escrow, error) {
	// escrow_id is a UUID column; anything else cannot match a row
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrEscrowNotFound
	}
	row := r.pool.QueryRow(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE escrow_id = $1`, id)
	e, err := scanEscrow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEscrowNotFound
	}
	return e, err
}

// Transition applies t only if the row is still in status from.
func (r *EscrowRepo) Transition(ctx context.Context, id string, from models.EscrowStatus, t models.EscrowTransition) (*models.Escrow, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrEscrowNotFound
	}
	if !models.IsValidTransition(from, t.To) {
		return nil, ErrStatusConflict
	}

	var blockIndex *int64
	if t.BlockIndex != nil {
		v := int64(*t.BlockIndex)
		blockIndex = &v
	}

	var row pgx.Row
	switch t.To {
	case models.EscrowStatusFunded:
		row = r.pool.QueryRow(ctx, `
			UPDATE escrows SET status = $3, funded_at = $4, funding_block_index = $5
			WHERE escrow_id = $1 AND status = $2
			RETURNING `+escrowColumns,
			id, string(from), string(t.To), t.At, blockIndex)
	default:
		row = r.pool.QueryRow(ctx, `
			UPDATE escrows SET status = $3, settled_at = $4, settlement_block_index = $5, settled_amount = $6
			WHERE escrow_id = $1 AND status = $2
			RETURNING `+escrowColumns,
			id, string(from), string(t.To), t.At, blockIndex, int64(t.Amount))
	}

	e, err := scanEscrow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrStatusConflict
	}
	return e, err
}

func (r *EscrowRepo) List(ctx context.Context, f EscrowFilter) ([]models.Escrow, error) {
	query := `SELECT ` + escrowColumns + ` FROM escrows`
	args := []any{}
	argIdx := 1
	where := []string{}

	if f.Client != nil {
		where = append(where, fmt.Sprintf("client = $%d", argIdx))
		args = append(args, string(*f.Client))
		argIdx++
	}
	if f.Freelancer != nil {
		where = append(where, fmt.Sprintf("freelancer = $%d", argIdx))
		args = append(args, string(*f.Freelancer))
		argIdx++
	}
	if f.Party != nil {
		where = append(where, fmt.Sprintf("(client = $%d OR freelancer = $%d)", argIdx, argIdx))
		args = append(args, string(*f.Party))
		argIdx++
	}
	if f.Status != nil {
		where = append(where, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, string(*f.Status))
		argIdx++
	}
	if f.ProjectID != nil {
		where = append(where, fmt.Sprintf("project_id = $%d", argIdx))
		args = append(args, *f.ProjectID)
		argIdx++
	}
	if f.ReleaseDueBefore != nil {
		where = append(where, fmt.Sprintf("release_at IS NOT NULL AND release_at <= $%d", argIdx))
		args = append(args, *f.ReleaseDueBefore)
		argIdx++
	}

	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC, escrow_id LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, f.limit(), f.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var escrows []models.Escrow
	for rows.Next() {
		e, err := scanEscrow(rows)
		if err != nil {
			return nil, err
		}
		escrows = append(escrows, *e)
	}
	return escrows, rows.Err()
}

func scanEscrow(row pgx.Row) (*models.Escrow, error) {
	var (
		e             models.Escrow
		client        string
		freelancer    string
		expected      int64
		owner         string
		sub           []byte
		status        string
		fundingIdx    *int64
		settlementIdx *int64
		settledAmount *int64
		fundedAt      *time.Time
		releaseAt     *time.Time
		settledAt     *time.Time
	)
	if err := row.Scan(&e.ID, &e.ProjectID, &client, &freelancer, &expected,
		&owner, &sub, &status,
		&e.CreatedAt, &fundedAt, &releaseAt, &settledAt,
		&fundingIdx, &settlementIdx, &settledAmount); err != nil {
		return nil, err
	}

	e.Client = models.Principal(client)
	e.Freelancer = models.Principal(freelancer)
	e.ExpectedAmount = uint64(expected)
	e.Status = models.EscrowStatus(status)
	e.FundedAt = fundedAt
	e.ReleaseAt = releaseAt
	e.SettledAt = settledAt
	e.FundingBlockIndex = toUint(fundingIdx)
	e.SettlementBlockIndex = toUint(settlementIdx)
	e.SettledAmount = toUint(settledAmount)

	e.DepositAccount = models.Account{Owner: models.Principal(owner)}
	if len(sub) > 0 {
		if len(sub) != models.SubaccountSize {
			return nil, fmt.Errorf("escrow %s: corrupt deposit subaccount (%d bytes)", e.ID, len(sub))
		}
		var s models.Subaccount
		copy(s[:], sub)
		e.DepositAccount.Subaccount = &s
	}
	return &e, nil
}

func toUint(v *int64) *uint64 {
	if v == nil {
		return nil
	}
	u := uint64(*v)
	return &u
}
