package app_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-arrower/uow"
	"github.com/go-arrower/uow/memory"
)

var (
	ctx = context.Background()

	errOpenFailed = errors.New("open failed")
)

type (
	placeOrder struct {
		ID    int    `validate:"required,min=1"`
		Email string `validate:"omitempty,email"`
	}

	order struct {
		ID    int
		Email string
	}
)

type orderRepo struct {
	*uow.BaseRepository[order]
}

var ordersKey = uow.NewKey[*orderRepo]("orders")

func newOrderRepo(s uow.Session, u *uow.UnitOfWork) (*orderRepo, error) {
	return &orderRepo{BaseRepository: uow.NewRepository[order](s, u)}, nil
}

func registerOrders(u *uow.UnitOfWork) error {
	return uow.Register(u, ordersKey, newOrderRepo)
}

// countOrders returns the number of committed orders in db.
func countOrders(t *testing.T, db *memory.Database) int {
	t.Helper()

	u, err := uow.Open(ctx, db.Open)
	require.NoError(t, err)

	defer u.Dispose(ctx) //nolint:errcheck // read only

	repo, err := uow.BaseRepositoryOf[order](u)
	require.NoError(t, err)

	count, err := repo.Count(ctx)
	require.NoError(t, err)

	return count
}

func failingOpener(context.Context) (uow.Session, error) {
	return nil, errOpenFailed
}
