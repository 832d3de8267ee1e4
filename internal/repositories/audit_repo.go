package repositories

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gurssagar/finalicp-sub006/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

type AuditRepo struct {
	pool *pgxpool.Pool
}

func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

func (r *AuditRepo) Log(ctx context.Context, entry models.AuditLog) error {
	var actor *string
	if entry.Actor != nil {
		s := entry.Actor.String()
		actor = &s
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO audit_log (actor, actor_type, action, entity_type, entity_id, meta)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, actor, entry.ActorType, entry.Action, entry.EntityType, entry.EntityID, entry.Meta)
	return err
}

func (r *AuditRepo) GetByEntity(ctx context.Context, entityType, entityID string, limit, offset int) ([]models.AuditLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, actor, actor_type, action, entity_type, entity_id, meta, created_at
		FROM audit_log WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at DESC LIMIT $3 OFFSET $4
	`, entityType, entityID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.AuditLog
	for rows.Next() {
		var (
			l     models.AuditLog
			actor *string
		)
		if err := rows.Scan(&l.ID, &actor, &l.ActorType, &l.Action, &l.EntityType, &l.EntityID, &l.Meta, &l.CreatedAt); err != nil {
			return nil, err
		}
		if actor != nil {
			p := models.Principal(*actor)
			l.Actor = &p
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// MemoryAuditRepo keeps audit entries in process memory.
type MemoryAuditRepo struct {
	mu      sync.RWMutex
	entries []models.AuditLog
}

func NewMemoryAuditRepo() *MemoryAuditRepo {
	return &MemoryAuditRepo{}
}

func (r *MemoryAuditRepo) Log(_ context.Context, entry models.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry.ID = uuid.New()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	r.entries = append(r.entries, entry)
	return nil
}

func (r *MemoryAuditRepo) GetByEntity(_ context.Context, entityType, entityID string, limit, offset int) ([]models.AuditLog, error) {
	if limit <= 0 {
		limit = 50
	}

	r.mu.RLock()
	var logs []models.AuditLog
	for i := len(r.entries) - 1; i >= 0; i-- {
		e := r.entries[i]
		if e.EntityType == entityType && e.EntityID == entityID {
			logs = append(logs, e)
		}
	}
	r.mu.RUnlock()

	if offset >= len(logs) {
		return nil, nil
	}
	logs = logs[offset:]
	if len(logs) > limit {
		logs = logs[:limit]
	}
	return logs, nil
}
