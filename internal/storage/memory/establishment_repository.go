package memory

import (
	"context"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

type establishmentRepositoryInMemory struct {
	store *Store
}

// NewEstablishmentRepository возвращает in-memory репозиторий заведений.
func NewEstablishmentRepository(store *Store) domain.EstablishmentRepository {
	return &establishmentRepositoryInMemory{store: store}
}

func (r *establishmentRepositoryInMemory) Create(_ context.Context, e domain.Establishment) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, exists := r.store.establishments[e.ID]; exists {
		return domain.NewError(domain.KindConflict, nil, "establishment %s already exists", e.ID)
	}
	e.Products = nil
	r.store.establishments[e.ID] = e
	return nil
}

func (r *establishmentRepositoryInMemory) Get(_ context.Context, id string) (domain.Establishment, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	e, ok := r.store.establishments[id]
	if !ok {
		return domain.Establishment{}, domain.ErrEstablishmentNotFound
	}
	return e, nil
}

func (r *establishmentRepositoryInMemory) ListActive(_ context.Context) ([]domain.Establishment, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	result := make([]domain.Establishment, 0, len(r.store.establishments))
	for _, e := range r.store.establishments {
		if !e.Active {
			continue
		}
		result = append(result, e)
	}
	return result, nil
}

func (r *establishmentRepositoryInMemory) Save(_ context.Context, e domain.Establishment) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	current, ok := r.store.establishments[e.ID]
	if !ok {
		return domain.ErrEstablishmentNotFound
	}
	// Владелец и дата создания не меняются через Save.
	current.Name = e.Name
	current.Address = e.Address
	current.Active = e.Active
	current.UpdatedAt = e.UpdatedAt
	r.store.establishments[e.ID] = current
	return nil
}

var _ domain.EstablishmentRepository = (*establishmentRepositoryInMemory)(nil)
