// Package httpapi: JSON API маркетплейса поверх chi.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/metrics"
	"github.com/vladislavdragonenkov/marketplace/internal/service/product"
)

const (
	defaultRequestTimeout = 15 * time.Second
	maxBodyBytes          = 1 << 20

	// IdempotencyKeyHeader: необязательный ключ идемпотентности для POST /orders.
	IdempotencyKeyHeader = "Idempotency-Key"
	// IdempotentReplayHeader выставляется, когда ответ отдан по уже использованному ключу.
	IdempotentReplayHeader = "Idempotent-Replayed"
	maxIdempotencyKeyLen   = 128
)

// EstablishmentService: операции над заведениями.
type EstablishmentService interface {
	Create(ctx context.Context, ownerID, name, address string) (domain.Establishment, error)
	Update(ctx context.Context, id, actorID string, patch domain.EstablishmentPatch) (domain.Establishment, error)
	Deactivate(ctx context.Context, id, actorID string) (domain.Establishment, error)
	FindByID(ctx context.Context, id string) (domain.Establishment, error)
	FindAll(ctx context.Context) ([]domain.Establishment, error)
}

// ProductService: операции над продуктами.
type ProductService interface {
	Create(ctx context.Context, actorID string, in product.Input) (domain.Product, error)
	Update(ctx context.Context, id, actorID string, patch domain.ProductPatch) (domain.Product, error)
	Delete(ctx context.Context, id, actorID string) error
	FindByID(ctx context.Context, id string) (domain.Product, error)
	FindByEstablishment(ctx context.Context, establishmentID string) ([]domain.Product, error)
}

// OrderService: операции над заказами.
type OrderService interface {
	CreateOrderIdempotent(ctx context.Context, key, customerID, establishmentID string, lines []domain.OrderLine) (domain.Order, bool, error)
	CancelOrder(ctx context.Context, orderID, customerID string) (domain.Order, error)
	ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error)
}

// Services: зависимости обработчиков.
type Services struct {
	Establishments EstablishmentService
	Products       ProductService
	Orders         OrderService
}

// Options: необязательные параметры роутера.
type Options struct {
	Verifier       TokenVerifier
	Metrics        *metrics.HTTPMetrics
	Logger         *log.Entry
	RequestTimeout time.Duration
}

type server struct {
	services Services
	verifier TokenVerifier
	metrics  *metrics.HTTPMetrics
	logger   *log.Entry
}

// NewRouter собирает роутер API. Без Verifier все защищённые маршруты отвечают 401.
func NewRouter(services Services, opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "http-api")
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.Verifier == nil {
		opts.Verifier = rejectAll{}
	}

	s := &server{
		services: services,
		verifier: opts.Verifier,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, s.instrument, middleware.Recoverer)
	r.Use(middleware.Timeout(opts.RequestTimeout))

	r.Route("/establishments", func(r chi.Router) {
		r.Get("/", s.listEstablishments)
		r.Get("/{id}", s.getEstablishment)

		r.Group(func(r chi.Router) {
			r.Use(s.requireIdentity)
			r.Post("/", s.createEstablishment)
			r.Put("/{id}", s.updateEstablishment)
			r.Delete("/{id}", s.deactivateEstablishment)
		})
	})

	r.Route("/products", func(r chi.Router) {
		r.Get("/", s.listProducts)
		r.Get("/{id}", s.getProduct)

		r.Group(func(r chi.Router) {
			r.Use(s.requireIdentity)
			r.Post("/", s.createProduct)
			r.Put("/{id}", s.updateProduct)
			r.Delete("/{id}", s.deleteProduct)
		})
	})

	r.Route("/orders", func(r chi.Router) {
		r.Use(s.requireIdentity)
		r.Post("/", s.createOrder)
		r.Get("/", s.listOrders)
		r.Patch("/{id}/cancel", s.cancelOrder)
	})

	return r
}

type rejectAll struct{}

func (rejectAll) Verify(string) (Identity, error) {
	return Identity{}, errors.New("token verification is not configured")
}

// instrument пишет access-лог и HTTP-метрики с шаблоном маршрута в качестве метки.
func (s *server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		if s.metrics != nil {
			s.metrics.RequestStarted()
		}

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(started)

		if s.metrics != nil {
			s.metrics.RequestFinished(r.Method, route, strconv.Itoa(status), elapsed)
		}
		s.requestLogger(r).WithFields(log.Fields{
			"route":       route,
			"status":      status,
			"bytes":       ww.BytesWritten(),
			"duration_ms": elapsed.Milliseconds(),
		}).Info("http request")
	})
}

func (s *server) requestLogger(r *http.Request) *log.Entry {
	fields := log.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
	}
	if id := middleware.GetReqID(r.Context()); id != "" {
		fields["request_id"] = id
	}
	if identity, ok := IdentityFrom(r.Context()); ok {
		fields["user_id"] = identity.ID
	}
	return s.logger.WithFields(fields)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return domain.NewError(domain.KindInvalidInput, err, "request body is required")
		}
		if domain.KindOf(err) != domain.KindUnexpected {
			return err
		}
		return domain.NewError(domain.KindInvalidInput, err, "invalid request body: %v", err)
	}
	return nil
}

func actorID(r *http.Request) string {
	identity, _ := IdentityFrom(r.Context())
	return identity.ID
}

func idempotencyKey(r *http.Request) (string, error) {
	key := r.Header.Get(IdempotencyKeyHeader)
	if len(key) > maxIdempotencyKeyLen {
		return "", domain.NewError(domain.KindInvalidInput, nil, "%s must be at most %d characters", IdempotencyKeyHeader, maxIdempotencyKeyLen)
	}
	return key, nil
}
