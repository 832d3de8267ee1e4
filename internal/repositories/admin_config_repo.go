package repositories

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gurssagar/finalicp-sub006/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type AdminConfigRepo struct {
	pool *pgxpool.Pool
}

func NewAdminConfigRepo(pool *pgxpool.Pool) *AdminConfigRepo {
	return &AdminConfigRepo{pool: pool}
}

func (r *AdminConfigRepo) Load(ctx context.Context) (*models.AdminSettings, error) {
	var (
		s        models.AdminSettings
		treasury string
		relayer  *string
	)
	err := r.pool.QueryRow(ctx, `
		SELECT treasury, relayer, updated_at FROM admin_config WHERE id
	`).Scan(&treasury, &relayer, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAdminConfigNotFound
	}
	if err != nil {
		return nil, err
	}
	s.Treasury = models.Principal(treasury)
	if relayer != nil {
		p := models.Principal(*relayer)
		s.Relayer = &p
	}
	return &s, nil
}

func (r *AdminConfigRepo) Init(ctx context.Context, s models.AdminSettings) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO admin_config (id, treasury, relayer) VALUES (TRUE, $1, $2)
		ON CONFLICT (id) DO NOTHING
	`, string(s.Treasury), principalPtr(s.Relayer))
	return err
}

func (r *AdminConfigRepo) SetTreasury(ctx context.Context, treasury models.Principal) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE admin_config SET treasury = $1, updated_at = now() WHERE id
	`, string(treasury))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAdminConfigNotFound
	}
	return nil
}

func (r *AdminConfigRepo) SetRelayer(ctx context.Context, relayer *models.Principal) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE admin_config SET relayer = $1, updated_at = now() WHERE id
	`, principalPtr(relayer))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAdminConfigNotFound
	}
	return nil
}

func principalPtr(p *models.Principal) *string {
	if p == nil {
		return nil
	}
	s := string(*p)
	return &s
}

// MemoryAdminConfigRepo is an AdminConfigStore for single-process deployments and tests.
// Processes sharing one instance see each other's changes.
type MemoryAdminConfigRepo struct {
	mu       sync.RWMutex
	settings *models.AdminSettings
}

func NewMemoryAdminConfigRepo() *MemoryAdminConfigRepo {
	return &MemoryAdminConfigRepo{}
}

func (r *MemoryAdminConfigRepo) Load(_ context.Context) (*models.AdminSettings, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.settings == nil {
		return nil, ErrAdminConfigNotFound
	}
	return cloneSettings(r.settings), nil
}

func (r *MemoryAdminConfigRepo) Init(_ context.Context, s models.AdminSettings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.settings == nil {
		s.UpdatedAt = time.Now()
		r.settings = cloneSettings(&s)
	}
	return nil
}

func (r *MemoryAdminConfigRepo) SetTreasury(_ context.Context, treasury models.Principal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.settings == nil {
		return ErrAdminConfigNotFound
	}
	r.settings.Treasury = treasury
	r.settings.UpdatedAt = time.Now()
	return nil
}

func (r *MemoryAdminConfigRepo) SetRelayer(_ context.Context, relayer *models.Principal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.settings == nil {
		return ErrAdminConfigNotFound
	}
	r.settings.Relayer = clonePrincipal(relayer)
	r.settings.UpdatedAt = time.Now()
	return nil
}

func cloneSettings(s *models.AdminSettings) *models.AdminSettings {
	c := *s
	c.Relayer = clonePrincipal(s.Relayer)
	return &c
}

func clonePrincipal(p *models.Principal) *models.Principal {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}
