package repositories

import (
	"context"
	"sort"
	"sync"

	"github.com/gurssagar/finalicp-sub006/internal/models"
)

type MemoryEscrowRepo struct {
	mu      sync.RWMutex
	escrows map[string]*models.Escrow
}

func NewMemoryEscrowRepo() *MemoryEscrowRepo {
	return &MemoryEscrowRepo{escrows: make(map[string]*models.Escrow)}
}

func (r *MemoryEscrowRepo) Create(_ context.Context, e *models.Escrow) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.escrows[e.ID]; exists {
		return ErrEscrowExists
	}
	r.escrows[e.ID] = e.Clone()
	return nil
}

func (r *MemoryEscrowRepo) GetByID(_ context.Context, id string) (*models.Escrow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.escrows[id]; ok {
		return e.Clone(), nil
	}
	return nil, ErrEscrowNotFound
}

func (r *MemoryEscrowRepo) Transition(_ context.Context, id string, from models.EscrowStatus, t models.EscrowTransition) (*models.Escrow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.escrows[id]
	if !ok {
		return nil, ErrEscrowNotFound
	}
	if e.Status != from || !models.IsValidTransition(from, t.To) {
		return nil, ErrStatusConflict
	}
	t.Apply(e)
	return e.Clone(), nil
}

func (r *MemoryEscrowRepo) List(_ context.Context, f EscrowFilter) ([]models.Escrow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []models.Escrow
	for _, e := range r.escrows {
		if matches(e, f) {
			matched = append(matched, *e.Clone())
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if f.Offset >= len(matched) {
		return nil, nil
	}
	matched = matched[f.Offset:]
	if limit := f.limit(); len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func matches(e *models.Escrow, f EscrowFilter) bool {
	if f.Client != nil && e.Client != *f.Client {
		return false
	}
	if f.Freelancer != nil && e.Freelancer != *f.Freelancer {
		return false
	}
	if f.Party != nil && e.Client != *f.Party && e.Freelancer != *f.Party {
		return false
	}
	if f.Status != nil && e.Status != *f.Status {
		return false
	}
	if f.ProjectID != nil && e.ProjectID != *f.ProjectID {
		return false
	}
	if f.ReleaseDueBefore != nil && (e.ReleaseAt == nil || e.ReleaseAt.After(*f.ReleaseDueBefore)) {
		return false
	}
	return true
}
