package memory

import (
	"context"
	"sort"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

type productRepositoryInMemory struct {
	store *Store
}

// NewProductRepository возвращает in-memory репозиторий продуктов.
func NewProductRepository(store *Store) domain.ProductRepository {
	return &productRepositoryInMemory{store: store}
}

func (r *productRepositoryInMemory) Create(_ context.Context, p domain.Product) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.establishments[p.EstablishmentID]; !ok {
		return domain.ErrEstablishmentNotFound
	}
	if _, exists := r.store.products[p.ID]; exists {
		return domain.NewError(domain.KindConflict, nil, "product %s already exists", p.ID)
	}
	p.EstablishmentName = ""
	r.store.products[p.ID] = p
	return nil
}

func (r *productRepositoryInMemory) Get(_ context.Context, id string) (domain.Product, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	p, ok := r.store.products[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	p.EstablishmentName = r.store.establishments[p.EstablishmentID].Name
	return p, nil
}

func (r *productRepositoryInMemory) GetWithOwner(_ context.Context, id string) (domain.Product, string, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	p, ok := r.store.products[id]
	if !ok {
		return domain.Product{}, "", domain.ErrProductNotFound
	}
	e := r.store.establishments[p.EstablishmentID]
	p.EstablishmentName = e.Name
	return p, e.OwnerID, nil
}

func (r *productRepositoryInMemory) ListByEstablishment(_ context.Context, establishmentID string) ([]domain.Product, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	return r.store.productsOf(establishmentID), nil
}

func (r *productRepositoryInMemory) Save(_ context.Context, p domain.Product) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	current, ok := r.store.products[p.ID]
	if !ok {
		return domain.ErrProductNotFound
	}
	current.Name = p.Name
	current.Description = p.Description
	current.PriceMinor = p.PriceMinor
	current.UpdatedAt = p.UpdatedAt
	r.store.products[p.ID] = current
	return nil
}

func (r *productRepositoryInMemory) Delete(_ context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.products[id]; !ok {
		return domain.ErrProductNotFound
	}
	delete(r.store.products, id)
	return nil
}

// productsOf вызывается под блокировкой store.mu.
func (s *Store) productsOf(establishmentID string) []domain.Product {
	result := make([]domain.Product, 0)
	for _, p := range s.products {
		if p.EstablishmentID == establishmentID {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result
}

var _ domain.ProductRepository = (*productRepositoryInMemory)(nil)
