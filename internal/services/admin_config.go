package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/gurssagar/finalicp-sub006/internal/events"
	"github.com/gurssagar/finalicp-sub006/internal/models"
	"github.com/gurssagar/finalicp-sub006/internal/rbac"
	"github.com/gurssagar/finalicp-sub006/internal/repositories"
	"go.uber.org/zap"
)

// AdminConfig holds the deploying authority and the principals it appoints.
// The authority is fixed at construction. Treasury and relayer live in the
// store so every process sees the same values; the fields below cache the
// last read.
type AdminConfig struct {
	mu        sync.RWMutex
	authority models.Principal
	store     repositories.AdminConfigStore
	treasury  models.Principal
	relayer   *models.Principal
}

// NewAdminConfig returns a config backed by a private in-memory store.
func NewAdminConfig(authority, treasury models.Principal, relayer *models.Principal) *AdminConfig {
	store := repositories.NewMemoryAdminConfigRepo()
	_ = store.Init(context.Background(), models.AdminSettings{Treasury: treasury, Relayer: relayer})

	c := &AdminConfig{authority: authority, store: store, treasury: treasury}
	if relayer != nil {
		r := *relayer
		c.relayer = &r
	}
	return c
}

// LoadAdminConfig seeds store with seed unless it already holds settings, then
// reads them. Values changed by the authority survive restarts.
func LoadAdminConfig(ctx context.Context, authority models.Principal, store repositories.AdminConfigStore, seed models.AdminSettings) (*AdminConfig, error) {
	if err := store.Init(ctx, seed); err != nil {
		return nil, fmt.Errorf("seed admin config: %w", err)
	}
	c := &AdminConfig{authority: authority, store: store}
	if err := c.Sync(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Sync refreshes the cached settings from the store.
func (c *AdminConfig) Sync(ctx context.Context) error {
	s, err := c.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load admin config: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.treasury = s.Treasury
	c.relayer = s.Relayer
	return nil
}

func (c *AdminConfig) Authority() models.Principal {
	return c.authority
}

func (c *AdminConfig) Treasury() models.Principal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.treasury
}

func (c *AdminConfig) Relayer() *models.Principal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.relayer == nil {
		return nil
	}
	r := *c.relayer
	return &r
}

func (c *AdminConfig) IsRelayer(p models.Principal) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.relayer != nil && *c.relayer == p
}

func (c *AdminConfig) authorize(caller models.Principal) error {
	var roles []string
	if caller == c.authority {
		roles = append(roles, rbac.RoleAuthority)
	}
	if _, ok := rbac.Grant(roles, rbac.PermConfigure); !ok {
		return fmt.Errorf("configure by %s: %w", caller, ErrUnauthorized)
	}
	return nil
}

func (c *AdminConfig) SetTreasury(ctx context.Context, caller, treasury models.Principal) error {
	if err := c.authorize(caller); err != nil {
		return err
	}
	if treasury.IsZero() {
		return invalid("treasury", "must not be empty")
	}
	if err := c.store.SetTreasury(ctx, treasury); err != nil {
		return fmt.Errorf("store treasury: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.treasury = treasury
	return nil
}

// SetRelayer replaces the relayer. nil clears it.
func (c *AdminConfig) SetRelayer(ctx context.Context, caller models.Principal, relayer *models.Principal) error {
	if err := c.authorize(caller); err != nil {
		return err
	}
	var r *models.Principal
	if relayer != nil {
		if relayer.IsZero() {
			return invalid("relayer", "must not be empty")
		}
		v := *relayer
		r = &v
	}
	if err := c.store.SetRelayer(ctx, r); err != nil {
		return fmt.Errorf("store relayer: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.relayer = r
	return nil
}

// AdminService audits and publishes admin config changes.
type AdminService struct {
	cfg       *AdminConfig
	auditRepo repositories.AuditStore
	publisher events.Publisher
	log       *zap.Logger
}

func NewAdminService(cfg *AdminConfig, auditRepo repositories.AuditStore, publisher events.Publisher, log *zap.Logger) *AdminService {
	return &AdminService{cfg: cfg, auditRepo: auditRepo, publisher: publisher, log: log}
}

func (s *AdminService) Config() *AdminConfig {
	return s.cfg
}

// Current returns the settings as stored, which may have been changed by another process.
func (s *AdminService) Current(ctx context.Context) (models.AdminSettings, error) {
	if err := s.cfg.Sync(ctx); err != nil {
		return models.AdminSettings{}, err
	}
	return models.AdminSettings{Treasury: s.cfg.Treasury(), Relayer: s.cfg.Relayer()}, nil
}

func (s *AdminService) SetTreasury(ctx context.Context, caller, treasury models.Principal) error {
	old := s.cfg.Treasury()
	if err := s.cfg.SetTreasury(ctx, caller, treasury); err != nil {
		return err
	}
	s.changed(ctx, caller, "treasury", old.String(), treasury.String())
	return nil
}

func (s *AdminService) SetRelayer(ctx context.Context, caller models.Principal, relayer *models.Principal) error {
	old := s.cfg.Relayer()
	if err := s.cfg.SetRelayer(ctx, caller, relayer); err != nil {
		return err
	}
	s.changed(ctx, caller, "relayer", optString(old), optString(relayer))
	return nil
}

func (s *AdminService) changed(ctx context.Context, caller models.Principal, field, oldValue, newValue string) {
	if err := s.auditRepo.Log(ctx, models.AuditLog{
		Actor:      &caller,
		ActorType:  models.ActorAuthority,
		Action:     "admin_set_" + field,
		EntityType: models.EntityAdminConfig,
		EntityID:   field,
		Meta:       map[string]any{"old": oldValue, "new": newValue},
	}); err != nil {
		s.log.Error("audit admin change", zap.String("field", field), zap.Error(err))
	}

	if err := s.publisher.Publish(ctx, events.StreamEscrow, events.Event{
		Type:    events.EventAdminConfigChanged,
		Payload: map[string]any{"field": field, "old": oldValue, "new": newValue},
	}); err != nil {
		s.log.Warn("publish admin change", zap.String("field", field), zap.Error(err))
	}
	s.log.Info("admin config changed", zap.String("field", field), zap.String("new", newValue))
}

func optString(p *models.Principal) string {
	if p == nil {
		return ""
	}
	return p.String()
}
