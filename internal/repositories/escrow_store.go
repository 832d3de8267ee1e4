package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/gurssagar/finalicp-sub006/internal/models"
)

var (
	ErrEscrowNotFound = errors.New("escrow not found")
	ErrEscrowExists   = errors.New("escrow already exists")
	// ErrStatusConflict means the record was not in the expected status when a transition was applied.
	ErrStatusConflict = errors.New("escrow status changed concurrently")

	ErrAdminConfigNotFound = errors.New("admin config not initialized")
)

// EscrowStore persists escrow records. Transition is a compare-and-set on status.
type EscrowStore interface {
	Create(ctx context.Context, e *models.Escrow) error
	GetByID(ctx context.Context, id string) (*models.Escrow, error)
	Transition(ctx context.Context, id string, from models.EscrowStatus, t models.EscrowTransition) (*models.Escrow, error)
	List(ctx context.Context, f EscrowFilter) ([]models.Escrow, error)
}

// AuditStore records who did what to which entity.
type AuditStore interface {
	Log(ctx context.Context, entry models.AuditLog) error
	GetByEntity(ctx context.Context, entityType, entityID string, limit, offset int) ([]models.AuditLog, error)
}

// AdminConfigStore holds the one admin settings record shared by every process.
type AdminConfigStore interface {
	Load(ctx context.Context) (*models.AdminSettings, error)
	// Init writes s only if no record exists yet.
	Init(ctx context.Context, s models.AdminSettings) error
	SetTreasury(ctx context.Context, treasury models.Principal) error
	// SetRelayer stores relayer; nil clears it.
	SetRelayer(ctx context.Context, relayer *models.Principal) error
}

type EscrowFilter struct {
	Client           *models.Principal
	Freelancer       *models.Principal
	Party            *models.Principal // client or freelancer
	Status           *models.EscrowStatus
	ProjectID        *string
	ReleaseDueBefore *time.Time
	Limit            int
	Offset           int
}

func (f EscrowFilter) limit() int {
	switch {
	case f.Limit <= 0:
		return 20
	case f.Limit > 100:
		return 100
	}
	return f.Limit
}
