package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

type establishmentRepository struct {
	db *sql.DB
}

// NewEstablishmentRepository создаёт PostgreSQL-реализацию EstablishmentRepository.
func NewEstablishmentRepository(store *Store) domain.EstablishmentRepository {
	return &establishmentRepository{db: store.DB()}
}

const establishmentColumns = `id, owner_id, name, address, active, created_at, updated_at`

func (r *establishmentRepository) Create(ctx context.Context, e domain.Establishment) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO establishments (`+establishmentColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, e.ID, e.OwnerID, e.Name, e.Address, e.Active, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.NewError(domain.KindConflict, err, "establishment %s already exists", e.ID)
		}
		return fmt.Errorf("insert establishment: %w", err)
	}
	return nil
}

func (r *establishmentRepository) Get(ctx context.Context, id string) (domain.Establishment, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `SELECT `+establishmentColumns+` FROM establishments WHERE id = $1`, id)
	e, err := scanEstablishment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Establishment{}, domain.ErrEstablishmentNotFound
		}
		return domain.Establishment{}, fmt.Errorf("select establishment: %w", err)
	}
	return e, nil
}

func (r *establishmentRepository) ListActive(ctx context.Context) ([]domain.Establishment, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+establishmentColumns+`
		FROM establishments
		WHERE active
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list establishments: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Establishment, 0)
	for rows.Next() {
		e, err := scanEstablishment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan establishment row: %w", err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate establishment rows: %w", err)
	}
	return result, nil
}

func (r *establishmentRepository) Save(ctx context.Context, e domain.Establishment) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE establishments
		SET name = $2,
		    address = $3,
		    active = $4,
		    updated_at = $5
		WHERE id = $1
	`, e.ID, e.Name, e.Address, e.Active, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update establishment: %w", err)
	}
	return expectAffected(res, domain.ErrEstablishmentNotFound)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEstablishment(row rowScanner) (domain.Establishment, error) {
	var e domain.Establishment
	err := row.Scan(&e.ID, &e.OwnerID, &e.Name, &e.Address, &e.Active, &e.CreatedAt, &e.UpdatedAt)
	return e, err
}

// expectAffected возвращает notFound, если UPDATE/DELETE не затронул ни одной строки.
func expectAffected(res sql.Result, notFound error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return notFound
	}
	return nil
}

var _ domain.EstablishmentRepository = (*establishmentRepository)(nil)
