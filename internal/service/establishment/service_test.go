package establishment_test

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/service/establishment"
	"github.com/vladislavdragonenkov/marketplace/internal/storage/memory"
)

func loggerForTests() *logrus.Entry {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return logger.WithField("component", "test")
}

func newService(t *testing.T) (*establishment.Service, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	svc := establishment.NewService(
		memory.NewEstablishmentRepository(store),
		memory.NewProductRepository(store),
		loggerForTests(),
	)
	return svc, store
}

func strPtr(s string) *string { return &s }

func TestCreate(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	e, err := svc.Create(ctx, "owner-a", " Cafe ", "Main st. 1")
	require.NoError(t, err)
	require.NotEmpty(t, e.ID)
	require.True(t, e.Active)
	require.Equal(t, "Cafe", e.Name)
	require.Equal(t, "owner-a", e.OwnerID)

	_, err = svc.Create(ctx, "owner-a", "", "addr")
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = svc.Create(ctx, "", "Cafe", "addr")
	require.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestUpdate_OnlyOwner(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	e, err := svc.Create(ctx, "owner-a", "Cafe", "Main st. 1")
	require.NoError(t, err)

	_, err = svc.Update(ctx, e.ID, "owner-b", domain.EstablishmentPatch{Name: strPtr("Hijacked")})
	require.ErrorIs(t, err, domain.ErrPermissionDenied)

	unchanged, err := svc.FindByID(ctx, e.ID)
	require.NoError(t, err)
	require.Equal(t, "Cafe", unchanged.Name)

	updated, err := svc.Update(ctx, e.ID, "owner-a", domain.EstablishmentPatch{Address: strPtr("Second st. 2")})
	require.NoError(t, err)
	require.Equal(t, "Cafe", updated.Name)
	require.Equal(t, "Second st. 2", updated.Address)

	_, err = svc.Update(ctx, "missing", "owner-a", domain.EstablishmentPatch{})
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.Update(ctx, e.ID, "owner-a", domain.EstablishmentPatch{Name: strPtr("  ")})
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestDeactivate_HidesFromFindAllButKeepsProducts(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	e1, err := svc.Create(ctx, "owner-a", "Cafe", "addr")
	require.NoError(t, err)
	e2, err := svc.Create(ctx, "owner-a", "Bar", "addr")
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, memory.NewProductRepository(store).Create(ctx, domain.Product{
		ID: "p-1", EstablishmentID: e1.ID, Name: "Latte", PriceMinor: 450, CreatedAt: now, UpdatedAt: now,
	}))

	_, err = svc.Deactivate(ctx, e1.ID, "owner-b")
	require.ErrorIs(t, err, domain.ErrPermissionDenied)

	deactivated, err := svc.Deactivate(ctx, e1.ID, "owner-a")
	require.NoError(t, err)
	require.False(t, deactivated.Active)

	all, err := svc.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, e2.ID, all[0].ID)

	found, err := svc.FindByID(ctx, e1.ID)
	require.NoError(t, err)
	require.False(t, found.Active)
	require.Len(t, found.Products, 1)
	require.Equal(t, "p-1", found.Products[0].ID)

	_, err = svc.Deactivate(ctx, "missing", "owner-a")
	require.ErrorIs(t, err, domain.ErrEstablishmentNotFound)
}
