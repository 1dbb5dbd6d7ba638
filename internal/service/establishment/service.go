package establishment

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

// Service реализует сценарии работы с заведениями.
type Service struct {
	repo     domain.EstablishmentRepository
	products domain.ProductRepository
	logger   *log.Entry
	now      func() time.Time
}

// NewService конструирует сервис с зависимостями.
func NewService(repo domain.EstablishmentRepository, products domain.ProductRepository, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.WithField("component", "establishment-service")
	}
	return &Service{
		repo:     repo,
		products: products,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create регистрирует заведение; создать его может любой аутентифицированный пользователь.
func (s *Service) Create(ctx context.Context, ownerID, name, address string) (domain.Establishment, error) {
	if ownerID == "" {
		return domain.Establishment{}, domain.ErrUnauthenticated
	}

	now := s.now()
	e := domain.Establishment{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Name:      strings.TrimSpace(name),
		Address:   strings.TrimSpace(address),
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := domain.InvalidInput(e.Validate()); err != nil {
		return domain.Establishment{}, err
	}

	if err := s.repo.Create(ctx, e); err != nil {
		s.logger.WithError(err).Error("failed to create establishment")
		return domain.Establishment{}, err
	}

	s.logger.WithFields(log.Fields{
		"establishment_id": e.ID,
		"owner_id":         ownerID,
	}).Info("establishment created")
	return e, nil
}

// Update применяет частичное обновление; доступно только владельцу.
func (s *Service) Update(ctx context.Context, id, actorID string, patch domain.EstablishmentPatch) (domain.Establishment, error) {
	e, err := s.loadOwned(ctx, id, actorID)
	if err != nil {
		return domain.Establishment{}, err
	}

	e.Apply(patch, s.now())
	if err := domain.InvalidInput(e.Validate()); err != nil {
		return domain.Establishment{}, err
	}

	if err := s.repo.Save(ctx, e); err != nil {
		s.logger.WithError(err).WithField("establishment_id", id).Error("failed to update establishment")
		return domain.Establishment{}, err
	}
	return e, nil
}

// Deactivate выполняет мягкое удаление: продукты и заказы остаются нетронутыми.
func (s *Service) Deactivate(ctx context.Context, id, actorID string) (domain.Establishment, error) {
	e, err := s.loadOwned(ctx, id, actorID)
	if err != nil {
		return domain.Establishment{}, err
	}

	e.Active = false
	e.UpdatedAt = s.now()
	if err := s.repo.Save(ctx, e); err != nil {
		s.logger.WithError(err).WithField("establishment_id", id).Error("failed to deactivate establishment")
		return domain.Establishment{}, err
	}

	s.logger.WithField("establishment_id", id).Info("establishment deactivated")
	return e, nil
}

// FindByID возвращает заведение вместе с продуктами, в том числе неактивное.
func (s *Service) FindByID(ctx context.Context, id string) (domain.Establishment, error) {
	e, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.Establishment{}, err
	}

	products, err := s.products.ListByEstablishment(ctx, id)
	if err != nil {
		s.logger.WithError(err).WithField("establishment_id", id).Error("failed to load establishment products")
		return domain.Establishment{}, err
	}
	e.Products = products
	return e, nil
}

// FindAll возвращает только активные заведения; порядок не гарантируется.
func (s *Service) FindAll(ctx context.Context) ([]domain.Establishment, error) {
	return s.repo.ListActive(ctx)
}

func (s *Service) loadOwned(ctx context.Context, id, actorID string) (domain.Establishment, error) {
	e, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.Establishment{}, err
	}
	if err := domain.AuthorizeOwner(actorID, e.OwnerID); err != nil {
		s.logger.WithFields(log.Fields{
			"establishment_id": id,
			"actor_id":         actorID,
		}).Debug("establishment access denied")
		return domain.Establishment{}, err
	}
	return e, nil
}
