package product

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

// Input: данные для создания продукта.
type Input struct {
	EstablishmentID string
	Name            string
	Description     string
	// PriceMinor обязателен; nil означает, что цену не передали.
	PriceMinor *int64
}

// Service реализует сценарии работы с продуктами.
// Права на продукт наследуются от владельца заведения.
type Service struct {
	repo           domain.ProductRepository
	establishments domain.EstablishmentRepository
	logger         *log.Entry
	now            func() time.Time
}

// NewService конструирует сервис с зависимостями.
func NewService(repo domain.ProductRepository, establishments domain.EstablishmentRepository, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.WithField("component", "product-service")
	}
	return &Service{
		repo:           repo,
		establishments: establishments,
		logger:         logger,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Create добавляет продукт в заведение, которым владеет actorID.
func (s *Service) Create(ctx context.Context, actorID string, in Input) (domain.Product, error) {
	now := s.now()
	p := domain.Product{
		ID:              uuid.NewString(),
		EstablishmentID: strings.TrimSpace(in.EstablishmentID),
		Name:            strings.TrimSpace(in.Name),
		Description:     in.Description,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if in.PriceMinor != nil {
		p.PriceMinor = *in.PriceMinor
	}
	errs := p.Validate()
	if in.PriceMinor == nil {
		errs = append(errs, domain.ErrPriceRequired)
	}
	if err := domain.InvalidInput(errs); err != nil {
		return domain.Product{}, err
	}

	e, err := s.establishments.Get(ctx, p.EstablishmentID)
	if err != nil {
		return domain.Product{}, err
	}
	if err := domain.AuthorizeOwner(actorID, e.OwnerID); err != nil {
		s.deny(p.EstablishmentID, "", actorID)
		return domain.Product{}, err
	}

	if err := s.repo.Create(ctx, p); err != nil {
		s.logger.WithError(err).WithField("establishment_id", p.EstablishmentID).Error("failed to create product")
		return domain.Product{}, err
	}
	p.EstablishmentName = e.Name

	s.logger.WithFields(log.Fields{
		"product_id":       p.ID,
		"establishment_id": p.EstablishmentID,
	}).Info("product created")
	return p, nil
}

// Update применяет частичное обновление; доступно только владельцу заведения.
func (s *Service) Update(ctx context.Context, id, actorID string, patch domain.ProductPatch) (domain.Product, error) {
	p, err := s.loadOwned(ctx, id, actorID)
	if err != nil {
		return domain.Product{}, err
	}

	p.Apply(patch, s.now())
	if err := domain.InvalidInput(p.Validate()); err != nil {
		return domain.Product{}, err
	}

	if err := s.repo.Save(ctx, p); err != nil {
		s.logger.WithError(err).WithField("product_id", id).Error("failed to update product")
		return domain.Product{}, err
	}
	return p, nil
}

// Delete удаляет продукт физически; цены в уже созданных заказах не затрагиваются.
func (s *Service) Delete(ctx context.Context, id, actorID string) error {
	if _, err := s.loadOwned(ctx, id, actorID); err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		s.logger.WithError(err).WithField("product_id", id).Error("failed to delete product")
		return err
	}

	s.logger.WithField("product_id", id).Info("product deleted")
	return nil
}

// FindByID возвращает продукт с именем заведения.
func (s *Service) FindByID(ctx context.Context, id string) (domain.Product, error) {
	return s.repo.Get(ctx, id)
}

// FindByEstablishment возвращает все продукты заведения без фильтра по активности.
func (s *Service) FindByEstablishment(ctx context.Context, establishmentID string) ([]domain.Product, error) {
	if strings.TrimSpace(establishmentID) == "" {
		return nil, domain.ErrEstablishmentIDRequired
	}
	return s.repo.ListByEstablishment(ctx, establishmentID)
}

func (s *Service) loadOwned(ctx context.Context, id, actorID string) (domain.Product, error) {
	p, ownerID, err := s.repo.GetWithOwner(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	if err := domain.AuthorizeOwner(actorID, ownerID); err != nil {
		s.deny(p.EstablishmentID, id, actorID)
		return domain.Product{}, err
	}
	return p, nil
}

func (s *Service) deny(establishmentID, productID, actorID string) {
	s.logger.WithFields(log.Fields{
		"establishment_id": establishmentID,
		"product_id":       productID,
		"actor_id":         actorID,
	}).Debug("product access denied")
}
