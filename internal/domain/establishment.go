package domain

import (
	"strings"
	"time"
)

// Establishment: заведение, которым владеет пользователь.
// Не удаляется физически: деактивация выставляет Active=false.
type Establishment struct {
	ID        string
	OwnerID   string
	Name      string
	Address   string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
	// Products заполняется только при чтении карточки заведения.
	Products []Product
}

// EstablishmentPatch: частичное обновление; nil означает "не менять".
type EstablishmentPatch struct {
	Name    *string
	Address *string
}

// Validate проверяет обязательные поля заведения.
func (e *Establishment) Validate() []error {
	var errs []error

	if e.OwnerID == "" {
		errs = append(errs, ErrOwnerRequired)
	}
	if strings.TrimSpace(e.Name) == "" {
		errs = append(errs, ErrNameRequired)
	}

	return errs
}

// Apply применяет патч к заведению.
func (e *Establishment) Apply(p EstablishmentPatch, now time.Time) {
	if p.Name != nil {
		e.Name = strings.TrimSpace(*p.Name)
	}
	if p.Address != nil {
		e.Address = strings.TrimSpace(*p.Address)
	}
	e.UpdatedAt = now
}
