package memory_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-arrower/uow"
	"github.com/go-arrower/uow/memory"
	"github.com/go-arrower/uow/q"
)

var ctx = context.Background()

type (
	Customer struct {
		ID   string
		Name string
	}

	Product struct {
		ID    int
		Title string
	}

	OrderItem struct {
		ID        int
		OrderID   int
		ProductID int
		Product   *Product
		Quantity  int
	}

	Order struct {
		ID         int
		CustomerID string
		Customer   *Customer
		Items      []OrderItem
		Status     string
		Total      float64
	}
)

func seed(t *testing.T, db *memory.Database, entities ...any) {
	t.Helper()

	s := db.Session()
	for _, e := range entities {
		require.NoError(t, s.AddPending(ctx, e))
	}

	_, err := s.Commit(ctx)
	require.NoError(t, err)
}

func TestSession_Commit(t *testing.T) {
	t.Parallel()

	t.Run("insert", func(t *testing.T) {
		t.Parallel()

		db := memory.NewDatabase()
		s := db.Session()

		assert.NoError(t, s.AddPending(ctx, Order{ID: 1}))
		assert.NoError(t, s.AddPending(ctx, &Order{ID: 2}))
		assert.Equal(t, uow.Added, s.State(Order{ID: 1}))
		assert.Equal(t, 2, s.Pending())

		n, err := s.Commit(ctx)
		assert.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.Equal(t, 0, s.Pending())
		assert.Equal(t, uow.Unchanged, s.State(Order{ID: 1}))

		count, err := db.Session().Query(Order{}).Count(ctx)
		assert.NoError(t, err)
		assert.Equal(t, 2, count)
	})

	t.Run("nothing to commit", func(t *testing.T) {
		t.Parallel()

		n, err := memory.NewDatabase().Session().Commit(ctx)
		assert.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("update and delete", func(t *testing.T) {
		t.Parallel()

		db := memory.NewDatabase()
		seed(t, db, Order{ID: 1, Status: "new"}, Order{ID: 2})

		s := db.Session()
		assert.NoError(t, s.MarkModified(ctx, Order{ID: 1, Status: "paid"}))
		assert.NoError(t, s.MarkRemoved(ctx, Order{ID: 2}))

		n, err := s.Commit(ctx)
		assert.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.Equal(t, uow.Detached, s.State(Order{ID: 2}))

		var o Order
		found, err := db.Session().LookupByKey(ctx, &o, 1)
		assert.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "paid", o.Status)

		found, err = db.Session().LookupByKey(ctx, &o, 2)
		assert.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("already exists", func(t *testing.T) {
		t.Parallel()

		db := memory.NewDatabase()
		seed(t, db, Order{ID: 1})

		s := db.Session()
		assert.NoError(t, s.AddPending(ctx, Order{ID: 1}))

		_, err := s.Commit(ctx)
		assert.ErrorIs(t, err, uow.ErrAlreadyExists)
		assert.Equal(t, 1, s.Pending(), "failed changes stay pending")
	})

	t.Run("update missing", func(t *testing.T) {
		t.Parallel()

		s := memory.NewDatabase().Session()
		assert.NoError(t, s.MarkModified(ctx, Order{ID: 1}))

		_, err := s.Commit(ctx)
		assert.ErrorIs(t, err, uow.ErrNotFound)
	})

	t.Run("atomic", func(t *testing.T) {
		t.Parallel()

		db := memory.NewDatabase()
		seed(t, db, Order{ID: 1}, Customer{ID: "c1"})

		s := db.Session()
		assert.NoError(t, s.AddPending(ctx, Order{ID: 2}))
		assert.NoError(t, s.AddPending(ctx, Customer{ID: "c2"}))
		assert.NoError(t, s.MarkRemoved(ctx, Order{ID: 1}))
		assert.NoError(t, s.AddPending(ctx, Customer{ID: "c1"})) // fails

		_, err := s.Commit(ctx)
		assert.ErrorIs(t, err, uow.ErrAlreadyExists)

		orders := []Order{}
		assert.NoError(t, db.Session().Query(Order{}).All(ctx, &orders))
		assert.Equal(t, []Order{{ID: 1}}, orders)

		customers := []Customer{}
		assert.NoError(t, db.Session().Query(Customer{}).All(ctx, &customers))
		assert.Equal(t, []Customer{{ID: "c1"}}, customers)
	})

	t.Run("relations are not stored with the entity", func(t *testing.T) {
		t.Parallel()

		db := memory.NewDatabase()
		seed(t, db, Order{ID: 1, Items: []OrderItem{{ID: 1}}, Customer: &Customer{ID: "c"}})

		var o Order
		_, err := db.Session().LookupByKey(ctx, &o, 1)
		assert.NoError(t, err)
		assert.Nil(t, o.Items)
		assert.Nil(t, o.Customer)
	})

	t.Run("cancelled context", func(t *testing.T) {
		t.Parallel()

		cctx, cancel := context.WithCancel(ctx)
		cancel()

		s := memory.NewDatabase().Session()
		assert.ErrorIs(t, s.AddPending(cctx, Order{ID: 1}), context.Canceled)

		_, err := s.Commit(cctx)
		assert.ErrorIs(t, err, context.Canceled)

		_, err = s.Query(Order{}).Count(cctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestSession_LookupByKey(t *testing.T) {
	t.Parallel()

	db := memory.NewDatabase()
	seed(t, db, Order{ID: 1, Status: "committed"}, Order{ID: 2})

	t.Run("tracked entities first", func(t *testing.T) {
		t.Parallel()

		s := db.Session()
		assert.NoError(t, s.MarkModified(ctx, Order{ID: 1, Status: "pending"}))
		assert.NoError(t, s.AddPending(ctx, Order{ID: 3}))
		assert.NoError(t, s.MarkRemoved(ctx, Order{ID: 2}))

		var o *Order
		found, err := s.LookupByKey(ctx, &o, 1)
		assert.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "pending", o.Status)

		found, err = s.LookupByKey(ctx, &o, int64(3))
		assert.NoError(t, err)
		assert.True(t, found)

		found, err = s.LookupByKey(ctx, &o, 2)
		assert.NoError(t, err)
		assert.False(t, found, "removed entities are not found")
	})

	t.Run("returns copies", func(t *testing.T) {
		t.Parallel()

		s := db.Session()

		var o Order
		_, _ = s.LookupByKey(ctx, &o, 1)
		o.Status = "changed"

		var again Order
		_, _ = s.LookupByKey(ctx, &again, 1)
		assert.Equal(t, "committed", again.Status)
	})

	t.Run("invalid destination", func(t *testing.T) {
		t.Parallel()

		_, err := db.Session().LookupByKey(ctx, Order{}, 1)
		assert.ErrorIs(t, err, uow.ErrInvalidEntity)
	})
}

func TestQuery(t *testing.T) {
	t.Parallel()

	db := memory.NewDatabase()
	seed(t, db,
		Customer{ID: "c1", Name: "Alice"},
		Customer{ID: "c2", Name: "Bob"},
		Product{ID: 10, Title: "pen"},
		Product{ID: 11, Title: "ink"},
		Order{ID: 3, CustomerID: "c1", Status: "open", Total: 30},
		Order{ID: 1, CustomerID: "c2", Status: "paid", Total: 10},
		Order{ID: 2, CustomerID: "c1", Status: "open", Total: 20},
		OrderItem{ID: 1, OrderID: 1, ProductID: 10, Quantity: 1},
		OrderItem{ID: 2, OrderID: 1, ProductID: 11, Quantity: 2},
		OrderItem{ID: 3, OrderID: 2, ProductID: 10, Quantity: 3},
	)

	ids := func(orders []Order) []int {
		result := []int{}
		for _, o := range orders {
			result = append(result, o.ID)
		}

		return result
	}

	t.Run("insertion order by default", func(t *testing.T) {
		t.Parallel()

		orders := []Order{}
		assert.NoError(t, db.Session().Query(Order{}).All(ctx, &orders))
		assert.Equal(t, []int{3, 1, 2}, ids(orders))
	})

	t.Run("filter order limit", func(t *testing.T) {
		t.Parallel()

		orders := []Order{}
		err := db.Session().Query(Order{}).
			Where(q.Where("Status").Is("open")).
			OrderBy(q.Asc("Total")).
			Limit(1).
			All(ctx, &orders)
		assert.NoError(t, err)
		assert.Equal(t, []int{2}, ids(orders))
	})

	t.Run("where is combined", func(t *testing.T) {
		t.Parallel()

		count, err := db.Session().Query(Order{}).
			Where(q.Where("Status").Is("open")).
			Where(q.Where("Total").GreaterThan(25)).
			Count(ctx)
		assert.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("query is immutable", func(t *testing.T) {
		t.Parallel()

		base := db.Session().Query(Order{})
		_ = base.Where(q.Where("Status").Is("paid"))

		count, err := base.Count(ctx)
		assert.NoError(t, err)
		assert.Equal(t, 3, count)
	})

	t.Run("pointer destination", func(t *testing.T) {
		t.Parallel()

		orders := []*Order{}
		assert.NoError(t, db.Session().Query(Order{}).OrderBy(q.Desc("ID")).All(ctx, &orders))
		assert.Len(t, orders, 3)
		assert.Equal(t, 3, orders[0].ID)
	})

	t.Run("any", func(t *testing.T) {
		t.Parallel()

		ok, err := db.Session().Query(Order{}).Where(q.Where("Status").Is("cancelled")).Any(ctx)
		assert.NoError(t, err)
		assert.False(t, ok)

		ok, err = db.Session().Query(Order{}).Any(ctx)
		assert.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("include", func(t *testing.T) {
		t.Parallel()

		orders := []Order{}
		err := db.Session().Query(Order{}).
			Include("Customer").
			Include("Items.Product").
			OrderBy(q.Asc("ID")).
			All(ctx, &orders)
		assert.NoError(t, err)

		assert.Equal(t, "Bob", orders[0].Customer.Name)
		assert.Len(t, orders[0].Items, 2)
		assert.Equal(t, "ink", orders[0].Items[1].Product.Title)
		assert.Len(t, orders[1].Items, 1)
		assert.Empty(t, orders[2].Items)
	})

	t.Run("unknown field", func(t *testing.T) {
		t.Parallel()

		err := memory.NewDatabase().Session().Query(Order{}).Where(q.Where("Unknown").Is(1)).All(ctx, &[]Order{})
		assert.ErrorIs(t, err, q.ErrInvalidQuery)

		_, err = db.Session().Query(Order{}).OrderBy(q.Asc("Unknown")).Count(ctx)
		assert.ErrorIs(t, err, q.ErrInvalidQuery)
	})

	t.Run("unknown include", func(t *testing.T) {
		t.Parallel()

		err := memory.NewDatabase().Session().Query(Order{}).Include("Invoices").All(ctx, &[]Order{})
		assert.ErrorIs(t, err, uow.ErrUnknownInclude)
	})

	t.Run("invalid entity", func(t *testing.T) {
		t.Parallel()

		_, err := db.Session().Query(42).Count(ctx)
		assert.ErrorIs(t, err, uow.ErrInvalidEntity)

		err = db.Session().Query(Order{}).All(ctx, &[]Customer{})
		assert.ErrorIs(t, err, uow.ErrInvalidEntity)
	})
}

func TestSession_Dispose(t *testing.T) {
	t.Parallel()

	s := memory.NewDatabase().Session()
	assert.NoError(t, s.AddPending(ctx, Order{ID: 1}))

	assert.NoError(t, s.Dispose(ctx))
	assert.NoError(t, s.Dispose(ctx))
	assert.Equal(t, 0, s.Pending())

	_, err := s.Commit(ctx)
	assert.ErrorIs(t, err, uow.ErrUseAfterDispose)
}

func TestDatabase_Open(t *testing.T) {
	t.Parallel()

	db := memory.NewDatabase(memory.WithIDField("Email"))

	type user struct {
		Email string
	}

	u, err := uow.Open(ctx, db.Open)
	require.NoError(t, err)

	repo, err := uow.BaseRepositoryOf[user](u)
	require.NoError(t, err)

	email := gofakeit.Email()
	assert.NoError(t, repo.Insert(ctx, user{Email: email}))

	_, err = repo.Save(ctx)
	assert.NoError(t, err)

	got, found, err := repo.GetByID(ctx, email)
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, email, got.Email)
}

func TestJSONStore(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	store, err := memory.NewJSONStore(dir)
	require.NoError(t, err)

	t.Run("persist and load", func(t *testing.T) {
		t.Parallel()

		sub := filepath.Join(dir, "persist")
		store, err := memory.NewJSONStore(sub)
		require.NoError(t, err)

		db := memory.NewDatabase(memory.WithStore(store))
		seed(t, db, Order{ID: 2, Status: "open"}, Order{ID: 1})

		assert.FileExists(t, filepath.Join(sub, "Order.json"))

		reloaded := memory.NewDatabase(memory.WithStore(store))

		orders := []Order{}
		assert.NoError(t, reloaded.Session().Query(Order{}).All(ctx, &orders))
		assert.Equal(t, []Order{{ID: 2, Status: "open"}, {ID: 1}}, orders, "insertion order is kept")
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()

		var orders []Order
		err := store.Load("missing.json", &orders)
		assert.ErrorIs(t, err, memory.ErrLoad)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("corrupt file", func(t *testing.T) {
		t.Parallel()

		sub := filepath.Join(dir, "corrupt")
		store, err := memory.NewJSONStore(sub)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(sub, "Order.json"), []byte("{not json"), 0o600))

		_, err = memory.NewDatabase(memory.WithStore(store)).Session().Query(Order{}).Count(ctx)
		assert.ErrorIs(t, err, memory.ErrLoad)
	})
}

type failingStore struct{}

var errDisk = errors.New("disk full")

func (failingStore) Store(string, any) error { return errDisk }

func (failingStore) Load(string, any) error { return os.ErrNotExist }

func TestDatabase_FailingStore(t *testing.T) {
	t.Parallel()

	db := memory.NewDatabase(memory.WithStore(failingStore{}))

	s := db.Session()
	assert.NoError(t, s.AddPending(ctx, Order{ID: 1}))

	_, err := s.Commit(ctx)
	assert.ErrorIs(t, err, memory.ErrStore)
	assert.ErrorIs(t, err, errDisk)
	assert.Equal(t, 1, s.Pending())

	count, err := db.Session().Query(Order{}).Count(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 0, count, "nothing is applied if the store fails")
}
