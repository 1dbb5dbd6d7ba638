package domain

import (
	"strings"
	"time"
)

// Product: позиция меню заведения. Удаляется физически.
type Product struct {
	ID              string
	EstablishmentID string
	// EstablishmentName: read-model поле, заполняется при выборке по ID.
	EstablishmentName string
	Name              string
	Description       string
	PriceMinor        int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ProductPatch: частичное обновление продукта.
type ProductPatch struct {
	Name        *string
	Description *string
	PriceMinor  *int64
}

// ProductSnapshot: то, что транзакция заказа читает о продукте.
type ProductSnapshot struct {
	ID              string
	EstablishmentID string
	PriceMinor      int64
}

// Validate проверяет обязательные поля продукта.
func (p *Product) Validate() []error {
	var errs []error

	if strings.TrimSpace(p.Name) == "" {
		errs = append(errs, ErrNameRequired)
	}
	if p.EstablishmentID == "" {
		errs = append(errs, ErrEstablishmentIDRequired)
	}
	if p.PriceMinor < 0 {
		errs = append(errs, ErrPriceNegative)
	}

	return errs
}

// Apply применяет патч к продукту.
func (p *Product) Apply(patch ProductPatch, now time.Time) {
	if patch.Name != nil {
		p.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Description != nil {
		p.Description = *patch.Description
	}
	if patch.PriceMinor != nil {
		p.PriceMinor = *patch.PriceMinor
	}
	p.UpdatedAt = now
}
