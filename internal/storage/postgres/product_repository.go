package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

type productRepository struct {
	db *sql.DB
}

// NewProductRepository создаёт PostgreSQL-реализацию ProductRepository.
func NewProductRepository(store *Store) domain.ProductRepository {
	return &productRepository{db: store.DB()}
}

func (r *productRepository) Create(ctx context.Context, p domain.Product) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO products (id, establishment_id, name, description, price_minor, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, p.ID, p.EstablishmentID, p.Name, p.Description, p.PriceMinor, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		switch {
		case isForeignKeyViolation(err):
			return domain.ErrEstablishmentNotFound
		case isUniqueViolation(err):
			return domain.NewError(domain.KindConflict, err, "product %s already exists", p.ID)
		}
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

func (r *productRepository) Get(ctx context.Context, id string) (domain.Product, error) {
	p, _, err := r.GetWithOwner(ctx, id)
	return p, err
}

func (r *productRepository) GetWithOwner(ctx context.Context, id string) (domain.Product, string, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var (
		p       domain.Product
		ownerID string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT p.id, p.establishment_id, e.name, p.name, p.description, p.price_minor,
		       p.created_at, p.updated_at, e.owner_id
		FROM products p
		JOIN establishments e ON e.id = p.establishment_id
		WHERE p.id = $1
	`, id).Scan(
		&p.ID, &p.EstablishmentID, &p.EstablishmentName, &p.Name, &p.Description, &p.PriceMinor,
		&p.CreatedAt, &p.UpdatedAt, &ownerID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, "", domain.ErrProductNotFound
		}
		return domain.Product{}, "", fmt.Errorf("select product: %w", err)
	}
	return p, ownerID, nil
}

func (r *productRepository) ListByEstablishment(ctx context.Context, establishmentID string) ([]domain.Product, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, establishment_id, name, description, price_minor, created_at, updated_at
		FROM products
		WHERE establishment_id = $1
		ORDER BY created_at, id
	`, establishmentID)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Product, 0)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.EstablishmentID, &p.Name, &p.Description, &p.PriceMinor, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan product row: %w", err)
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate product rows: %w", err)
	}
	return result, nil
}

func (r *productRepository) Save(ctx context.Context, p domain.Product) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE products
		SET name = $2,
		    description = $3,
		    price_minor = $4,
		    updated_at = $5
		WHERE id = $1
	`, p.ID, p.Name, p.Description, p.PriceMinor, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update product: %w", err)
	}
	return expectAffected(res, domain.ErrProductNotFound)
}

func (r *productRepository) Delete(ctx context.Context, id string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	return expectAffected(res, domain.ErrProductNotFound)
}

var _ domain.ProductRepository = (*productRepository)(nil)
