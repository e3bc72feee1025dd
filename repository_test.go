package uow_test

import (
	"slices"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/go-arrower/uow"
	"github.com/go-arrower/uow/memory"
	"github.com/go-arrower/uow/q"
)

// newOrders returns a repository on a database seeded with the given orders.
func newOrders(t *testing.T, orders ...Order) (*uow.UnitOfWork, *uow.BaseRepository[Order]) {
	t.Helper()

	db := memory.NewDatabase()

	seed := db.Session()
	for _, o := range orders {
		require.NoError(t, seed.AddPending(ctx, o))
	}

	_, err := seed.Commit(ctx)
	require.NoError(t, err)

	u, err := uow.Open(ctx, db.Open)
	require.NoError(t, err)

	repo, err := uow.BaseRepositoryOf[Order](u)
	require.NoError(t, err)

	return u, repo
}

func TestOrderRepo(t *testing.T) {
	t.Parallel()

	u, _ := uow.Open(ctx, memory.NewDatabase().Open)
	require.NoError(t, uow.Register(u, ordersKey, NewOrderRepo))

	repo, err := uow.Get(ctx, u, ordersKey)
	require.NoError(t, err)

	order := Order{ID: 1, CustomerID: gofakeit.UUID(), Status: "open", Total: gofakeit.Price(1, 100)}
	assert.NoError(t, repo.Insert(ctx, order))

	n, err := repo.Save(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, n)

	got, found, err := repo.GetByID(ctx, 1)
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, order, got)

	again, err := uow.Get(ctx, u, ordersKey)
	assert.NoError(t, err)
	assert.Same(t, repo, again)

	open, err := again.FindOpen(ctx)
	assert.NoError(t, err)
	assert.Equal(t, []Order{order}, open)
}

func TestBaseRepository_Find(t *testing.T) {
	t.Parallel()

	orders := []Order{
		{ID: 3, Status: "open", Total: 30},
		{ID: 1, Status: "paid", Total: 10},
		{ID: 2, Status: "open", Total: 20},
	}

	t.Run("default order", func(t *testing.T) {
		t.Parallel()

		_, repo := newOrders(t, orders...)

		all, err := repo.Find(ctx)
		assert.NoError(t, err)
		assert.Equal(t, orders, all)
	})

	t.Run("empty", func(t *testing.T) {
		t.Parallel()

		_, repo := newOrders(t)

		all, err := repo.Find(ctx)
		assert.NoError(t, err)
		assert.NotNil(t, all)
		assert.Empty(t, all)
	})

	t.Run("filter and order", func(t *testing.T) {
		t.Parallel()

		_, repo := newOrders(t, orders...)

		open, err := repo.Find(ctx,
			uow.Where(q.Where("Status").Is("open")),
			uow.OrderBy(q.Desc("Total")),
		)
		assert.NoError(t, err)
		assert.Equal(t, []Order{orders[0], orders[2]}, open)
	})

	t.Run("multiple filters", func(t *testing.T) {
		t.Parallel()

		_, repo := newOrders(t, orders...)

		found, err := repo.Find(ctx,
			uow.Where(q.Where("Status").Is("open")),
			uow.Where(q.Where("Total").LessThan(25)),
		)
		assert.NoError(t, err)
		assert.Equal(t, []Order{orders[2]}, found)
	})

	t.Run("unknown include", func(t *testing.T) {
		t.Parallel()

		_, repo := newOrders(t, orders...)

		_, err := repo.Find(ctx, uow.Include("Invoices"))
		assert.ErrorIs(t, err, uow.ErrUnknownInclude)
	})
}

func TestBaseRepository_Find_Property(t *testing.T) {
	t.Parallel()

	statuses := []string{"open", "paid", "shipped"}

	rapid.Check(t, func(t *rapid.T) {
		ids := rapid.SliceOfNDistinct(rapid.IntRange(1, 1000), 0, 30, rapid.ID[int]).Draw(t, "ids")
		status := rapid.SampledFrom(statuses).Draw(t, "status")

		orders := make([]Order, 0, len(ids))
		for _, id := range ids {
			orders = append(orders, Order{ID: id, Status: rapid.SampledFrom(statuses).Draw(t, "order status")})
		}

		db := memory.NewDatabase()
		u := uow.New(db.Session())
		repo, _ := uow.BaseRepositoryOf[Order](u)

		for _, o := range orders {
			if err := repo.Insert(ctx, o); err != nil {
				t.Fatal(err)
			}
		}

		if _, err := repo.Save(ctx); err != nil {
			t.Fatal(err)
		}

		all, err := repo.Find(ctx)
		if err != nil {
			t.Fatal(err)
		}

		if !slices.Equal(orders, all) {
			t.Fatalf("expected all orders in insertion order, got %v", all)
		}

		found, err := repo.Find(ctx, uow.Where(q.Where("Status").Is(status)))
		if err != nil {
			t.Fatal(err)
		}

		expected := []Order{}
		for _, o := range orders {
			if o.Status == status {
				expected = append(expected, o)
			}
		}

		if !slices.Equal(expected, found) {
			t.Fatalf("expected %v, got %v", expected, found)
		}

		count, _ := repo.Count(ctx, uow.Where(q.Where("Status").Is(status)))
		exists, _ := repo.Exists(ctx, uow.Where(q.Where("Status").Is(status)))

		if count != len(expected) || exists != (len(expected) > 0) {
			t.Fatalf("count %d and exists %t do not match %d orders", count, exists, len(expected))
		}
	})
}

func TestBaseRepository_FindOne(t *testing.T) {
	t.Parallel()

	_, repo := newOrders(t,
		Order{ID: 1, Status: "open"},
		Order{ID: 2, Status: "open"},
		Order{ID: 3, Status: "paid"},
	)

	t.Run("none", func(t *testing.T) {
		t.Parallel()

		o, found, err := repo.FindOne(ctx, uow.Where(q.Where("Status").Is("shipped")))
		assert.NoError(t, err)
		assert.False(t, found)
		assert.Empty(t, o)
	})

	t.Run("one", func(t *testing.T) {
		t.Parallel()

		o, found, err := repo.FindOne(ctx, uow.Where(q.Where("Status").Is("paid")))
		assert.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, 3, o.ID)
	})

	t.Run("multiple", func(t *testing.T) {
		t.Parallel()

		_, found, err := repo.FindOne(ctx, uow.Where(q.Where("Status").Is("open")))
		assert.ErrorIs(t, err, uow.ErrMultipleMatches)
		assert.False(t, found)
	})
}

func TestBaseRepository_Exists(t *testing.T) {
	t.Parallel()

	_, repo := newOrders(t, Order{ID: 1, Status: "open"})

	ok, err := repo.Exists(ctx)
	assert.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Exists(ctx, uow.Where(q.Where("Status").Is("paid")), uow.OrderBy(q.Asc("ID")))
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestBaseRepository_Count(t *testing.T) {
	t.Parallel()

	_, repo := newOrders(t, Order{ID: 1, Status: "open"}, Order{ID: 2, Status: "paid"})

	count, err := repo.Count(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = repo.Count(ctx, uow.Where(q.Where("Status").Is("paid")), uow.Include("Invoices"))
	assert.NoError(t, err, "includes are ignored")
	assert.Equal(t, 1, count)
}

func TestBaseRepository_GetByID(t *testing.T) {
	t.Parallel()

	u, repo := newOrders(t, Order{ID: 1, Status: "open"})

	o, found, err := repo.GetByID(ctx, 1)
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "open", o.Status)

	_, found, err = repo.GetByID(ctx, 2)
	assert.NoError(t, err)
	assert.False(t, found)

	t.Run("pointer entities", func(t *testing.T) {
		t.Parallel()

		ptrRepo, err := uow.BaseRepositoryOf[*Order](u)
		require.NoError(t, err)

		o, found, err := ptrRepo.GetByID(ctx, 1)
		assert.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, 1, o.ID)
	})
}

func TestBaseRepository_Update(t *testing.T) {
	t.Parallel()

	_, repo := newOrders(t, Order{ID: 1, Status: "open"})

	assert.NoError(t, repo.Update(ctx, Order{ID: 1, Status: "paid"}), "detached entities are attached")
	assert.Equal(t, uow.Modified, repo.Session().State(Order{ID: 1}))

	_, err := repo.Save(ctx)
	assert.NoError(t, err)

	o, _, _ := repo.GetByID(ctx, 1)
	assert.Equal(t, "paid", o.Status)

	assert.ErrorIs(t, repo.Update(ctx, Order{}), uow.ErrMissingID)
}

func TestBaseRepository_Delete(t *testing.T) {
	t.Parallel()

	t.Run("delete", func(t *testing.T) {
		t.Parallel()

		_, repo := newOrders(t, Order{ID: 1}, Order{ID: 2})

		assert.NoError(t, repo.Delete(ctx, Order{ID: 1}))
		assert.Equal(t, uow.Deleted, repo.Session().State(Order{ID: 1}))

		_, err := repo.Save(ctx)
		assert.NoError(t, err)

		count, _ := repo.Count(ctx)
		assert.Equal(t, 1, count)
	})

	t.Run("absent entity", func(t *testing.T) {
		t.Parallel()

		_, repo := newOrders(t, Order{ID: 1})

		assert.NoError(t, repo.Delete(ctx, Order{}))
		assert.Equal(t, 0, repo.Session().Pending())

		ptrRepo := uow.NewRepository[*Order](repo.Session(), repo.UnitOfWork())
		assert.NoError(t, ptrRepo.Delete(ctx, nil))
		assert.Equal(t, 0, repo.Session().Pending())
	})

	t.Run("by id", func(t *testing.T) {
		t.Parallel()

		_, repo := newOrders(t, Order{ID: 1})

		assert.NoError(t, repo.DeleteByID(ctx, 1))
		assert.Equal(t, 1, repo.Session().Pending())
	})

	t.Run("by unknown id", func(t *testing.T) {
		t.Parallel()

		_, repo := newOrders(t, Order{ID: 1})
		_ = repo.Insert(ctx, Order{ID: 2})

		pending := repo.Session().Pending()

		assert.NoError(t, repo.DeleteByID(ctx, 42))
		assert.Equal(t, pending, repo.Session().Pending())
	})

	t.Run("pending insert", func(t *testing.T) {
		t.Parallel()

		_, repo := newOrders(t)

		_ = repo.Insert(ctx, Order{ID: 1})
		assert.NoError(t, repo.Delete(ctx, Order{ID: 1}))
		assert.Equal(t, 0, repo.Session().Pending(), "deleting a new entity forgets it")
	})
}

func TestBaseRepository_Save(t *testing.T) {
	t.Parallel()

	t.Run("without unit of work", func(t *testing.T) {
		t.Parallel()

		db := memory.NewDatabase()
		repo := uow.NewRepository[Order](db.Session(), nil)

		_ = repo.Insert(ctx, Order{ID: 1})

		n, err := repo.Save(ctx)
		assert.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Nil(t, repo.UnitOfWork())
	})

	t.Run("duplicate insert", func(t *testing.T) {
		t.Parallel()

		_, repo := newOrders(t, Order{ID: 1})

		assert.NoError(t, repo.Insert(ctx, Order{ID: 1}))

		_, err := repo.Save(ctx)
		assert.ErrorIs(t, err, uow.ErrAlreadyExists)
	})

	t.Run("insert twice", func(t *testing.T) {
		t.Parallel()

		_, repo := newOrders(t, Order{ID: 1})

		_ = repo.Update(ctx, Order{ID: 1})
		assert.ErrorIs(t, repo.Insert(ctx, Order{ID: 1}), uow.ErrAlreadyTracked)
	})
}
