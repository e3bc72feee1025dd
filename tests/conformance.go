// Package tests contains the suite every engine of the unit of work has to pass
// and, behind the integration build tag, the harness to run it against real infrastructure.
package tests

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-arrower/uow"
	"github.com/go-arrower/uow/q"
	"github.com/go-arrower/uow/tests/testdata"
)

// NewStore returns a SessionOpener of an empty store with the schema of testdata.Migrations.
// It is called once for every test case.
type NewStore func(t *testing.T) uow.SessionOpener

// SessionSuite runs the behaviour every uow.Session has to show, independent of its engine.
func SessionSuite(t *testing.T, newStore NewStore) {
	t.Helper()

	ctx := context.Background()

	open := func(t *testing.T, seed ...any) (uow.SessionOpener, uow.Session) {
		t.Helper()

		opener := newStore(t)

		s, err := opener(ctx)
		require.NoError(t, err)

		for _, e := range seed {
			require.NoError(t, s.AddPending(ctx, e))
		}

		_, err = s.Commit(ctx)
		require.NoError(t, err)
		require.NoError(t, s.Dispose(ctx))

		s, err = opener(ctx)
		require.NoError(t, err)

		t.Cleanup(func() { _ = s.Dispose(ctx) })

		return opener, s
	}

	fresh := func(t *testing.T, opener uow.SessionOpener) uow.Session {
		t.Helper()

		s, err := opener(ctx)
		require.NoError(t, err)

		t.Cleanup(func() { _ = s.Dispose(ctx) })

		return s
	}

	t.Run("insert and lookup", func(t *testing.T) {
		t.Parallel()

		order := testdata.NewOrder(1)
		opener, s := open(t, order)

		var got testdata.Order
		found, err := s.LookupByKey(ctx, &got, 1)
		assert.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, Normalise(order), Normalise(got))

		found, err = fresh(t, opener).LookupByKey(ctx, &got, 2)
		assert.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("update", func(t *testing.T) {
		t.Parallel()

		order := testdata.NewOrder(1)
		opener, s := open(t, order)

		order.Status = "changed"
		require.NoError(t, s.Attach(ctx, order))
		require.NoError(t, s.MarkModified(ctx, order))
		assert.Equal(t, uow.Modified, s.State(order))

		n, err := s.Commit(ctx)
		assert.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, uow.Unchanged, s.State(order))

		var got testdata.Order
		_, _ = fresh(t, opener).LookupByKey(ctx, &got, 1)
		assert.Equal(t, "changed", got.Status)
	})

	t.Run("delete", func(t *testing.T) {
		t.Parallel()

		opener, s := open(t, testdata.NewOrder(1), testdata.NewOrder(2))

		require.NoError(t, s.MarkRemoved(ctx, testdata.Order{ID: 1}))

		_, err := s.Commit(ctx)
		assert.NoError(t, err)
		assert.Equal(t, uow.Detached, s.State(testdata.Order{ID: 1}))

		count, err := fresh(t, opener).Query(testdata.Order{}).Count(ctx)
		assert.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("insert existing", func(t *testing.T) {
		t.Parallel()

		_, s := open(t, testdata.NewOrder(1))

		require.NoError(t, s.AddPending(ctx, testdata.NewOrder(1)))

		_, err := s.Commit(ctx)
		assert.ErrorIs(t, err, uow.ErrAlreadyExists)
		assert.Equal(t, 1, s.Pending())
	})

	t.Run("update missing", func(t *testing.T) {
		t.Parallel()

		_, s := open(t)

		require.NoError(t, s.MarkModified(ctx, testdata.NewOrder(1)))

		_, err := s.Commit(ctx)
		assert.ErrorIs(t, err, uow.ErrNotFound)
	})

	t.Run("delete missing", func(t *testing.T) {
		t.Parallel()

		_, s := open(t)

		require.NoError(t, s.MarkRemoved(ctx, testdata.NewOrder(1)))

		_, err := s.Commit(ctx)
		assert.ErrorIs(t, err, uow.ErrNotFound)
	})

	t.Run("commit is atomic", func(t *testing.T) {
		t.Parallel()

		customer := testdata.NewCustomer()
		opener, s := open(t, testdata.NewOrder(1), customer)

		require.NoError(t, s.AddPending(ctx, testdata.NewOrder(2)))
		require.NoError(t, s.MarkRemoved(ctx, testdata.Order{ID: 1}))
		require.NoError(t, s.AddPending(ctx, testdata.NewCustomer()))
		require.NoError(t, s.AddPending(ctx, customer))

		_, err := s.Commit(ctx)
		assert.ErrorIs(t, err, uow.ErrAlreadyExists)
		assert.Equal(t, 4, s.Pending())

		orders := []testdata.Order{}
		assert.NoError(t, fresh(t, opener).Query(testdata.Order{}).All(ctx, &orders))
		assert.Len(t, orders, 1)
		assert.Equal(t, 1, orders[0].ID)

		count, _ := fresh(t, opener).Query(testdata.Customer{}).Count(ctx)
		assert.Equal(t, 1, count)
	})

	t.Run("identity map", func(t *testing.T) {
		t.Parallel()

		_, s := open(t, testdata.NewOrder(1), testdata.NewOrder(2))

		require.NoError(t, s.MarkModified(ctx, testdata.Order{ID: 1, Status: "tracked"}))
		require.NoError(t, s.MarkRemoved(ctx, testdata.Order{ID: 2}))
		require.NoError(t, s.AddPending(ctx, testdata.Order{ID: 3}))

		var got *testdata.Order
		found, err := s.LookupByKey(ctx, &got, 1)
		assert.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "tracked", got.Status)

		found, _ = s.LookupByKey(ctx, &got, 2)
		assert.False(t, found)

		found, _ = s.LookupByKey(ctx, &got, 3)
		assert.True(t, found)
	})

	t.Run("query", func(t *testing.T) {
		t.Parallel()

		_, s := open(t,
			testdata.Order{ID: 1, Status: "paid", Total: 10},
			testdata.Order{ID: 2, Status: "open", Total: 20},
			testdata.Order{ID: 3, Status: "open", Total: 30},
		)

		ids := func(orders []testdata.Order) []int {
			result := []int{}
			for _, o := range orders {
				result = append(result, o.ID)
			}

			return result
		}

		orders := []testdata.Order{}
		assert.NoError(t, s.Query(testdata.Order{}).All(ctx, &orders))
		assert.Equal(t, []int{1, 2, 3}, ids(orders))

		err := s.Query(testdata.Order{}).
			Where(q.Where("Status").Is("open")).
			OrderBy(q.Desc("Total")).
			All(ctx, &orders)
		assert.NoError(t, err)
		assert.Equal(t, []int{3, 2}, ids(orders))

		err = s.Query(testdata.Order{}).
			Where(q.Or(q.Where("Total").LessThan(15), q.Where("Total").GreaterThan(25))).
			OrderBy(q.Asc("ID")).
			Limit(1).
			All(ctx, &orders)
		assert.NoError(t, err)
		assert.Equal(t, []int{1}, ids(orders))

		err = s.Query(testdata.Order{}).Where(q.Where("ID").In(2, 3)).All(ctx, &orders)
		assert.NoError(t, err)
		assert.Equal(t, []int{2, 3}, ids(orders))

		// an empty query matches everything, also inside of an Or
		err = s.Query(testdata.Order{}).
			Where(q.Or(q.Query{}, q.Where("Status").Is("open"))).
			All(ctx, &orders)
		assert.NoError(t, err)
		assert.Equal(t, []int{1, 2, 3}, ids(orders))

		nested := q.Query{Conditions: q.ConditionGroup{Groups: []q.ConditionGroup{{Groups: []q.ConditionGroup{{}}}}}}
		err = s.Query(testdata.Order{}).Where(nested).All(ctx, &orders)
		assert.NoError(t, err)
		assert.Equal(t, []int{1, 2, 3}, ids(orders))

		count, err := s.Query(testdata.Order{}).Where(q.Where("Status").IsNot("paid")).Count(ctx)
		assert.NoError(t, err)
		assert.Equal(t, 2, count)

		count, err = s.Query(testdata.Order{}).Limit(2).Count(ctx)
		assert.NoError(t, err)
		assert.Equal(t, 2, count)

		ok, err := s.Query(testdata.Order{}).Where(q.Where("Status").Is("shipped")).Any(ctx)
		assert.NoError(t, err)
		assert.False(t, ok)

		_, err = s.Query(testdata.Order{}).Where(q.Where("Unknown").Is(1)).Count(ctx)
		assert.ErrorIs(t, err, q.ErrInvalidQuery)
	})

	t.Run("include", func(t *testing.T) {
		t.Parallel()

		_, s := open(t,
			testdata.Customer{ID: "c1", Name: "Alice"},
			testdata.Customer{ID: "c2", Name: "Bob"},
			testdata.Product{ID: 10, Title: "pen"},
			testdata.Product{ID: 11, Title: "ink"},
			testdata.Order{ID: 1, CustomerID: "c2"},
			testdata.Order{ID: 2, CustomerID: "c1"},
			testdata.Order{ID: 3, CustomerID: "c1"},
			testdata.OrderItem{ID: 1, OrderID: 1, ProductID: 10, Quantity: 1},
			testdata.OrderItem{ID: 2, OrderID: 1, ProductID: 11, Quantity: 2},
			testdata.OrderItem{ID: 3, OrderID: 2, ProductID: 10, Quantity: 3},
		)

		orders := []*testdata.Order{}
		err := s.Query(testdata.Order{}).
			Include("Customer, Items.Product").
			OrderBy(q.Asc("ID")).
			All(ctx, &orders)
		require.NoError(t, err)
		require.Len(t, orders, 3)

		assert.Equal(t, "Bob", orders[0].Customer.Name)
		assert.Equal(t, "Alice", orders[1].Customer.Name)

		require.Len(t, orders[0].Items, 2)
		assert.Equal(t, "pen", orders[0].Items[0].Product.Title)
		assert.Equal(t, "ink", orders[0].Items[1].Product.Title)
		assert.Len(t, orders[1].Items, 1)
		assert.Empty(t, orders[2].Items)

		err = s.Query(testdata.Order{}).Include("Invoices").All(ctx, &orders)
		assert.ErrorIs(t, err, uow.ErrUnknownInclude)
	})

	t.Run("dispose", func(t *testing.T) {
		t.Parallel()

		_, s := open(t)

		require.NoError(t, s.AddPending(ctx, testdata.NewOrder(1)))
		assert.NoError(t, s.Dispose(ctx))
		assert.NoError(t, s.Dispose(ctx))

		_, err := s.Commit(ctx)
		assert.ErrorIs(t, err, uow.ErrUseAfterDispose)
	})

	t.Run("unit of work", func(t *testing.T) {
		t.Parallel()

		opener, _ := open(t)

		u, err := uow.Open(ctx, opener)
		require.NoError(t, err)

		defer u.Dispose(ctx) //nolint:errcheck // test cleanup

		repo, err := uow.BaseRepositoryOf[testdata.Order](u)
		require.NoError(t, err)

		for i := 1; i <= 3; i++ {
			require.NoError(t, repo.Insert(ctx, testdata.NewOrder(i)))
		}

		n, err := u.Save(ctx)
		assert.NoError(t, err)
		assert.Equal(t, 3, n)

		assert.NoError(t, repo.DeleteByID(ctx, 42))
		assert.Equal(t, 0, u.Session().Pending())

		_, _, err = repo.FindOne(ctx)
		assert.ErrorIs(t, err, uow.ErrMultipleMatches)

		all, err := repo.Find(ctx)
		assert.NoError(t, err)
		assert.Len(t, all, 3)
	})
}

// Normalise returns o comparable to an order loaded from any engine.
func Normalise(o testdata.Order) testdata.Order {
	o.CreatedAt = o.CreatedAt.UTC()

	return o
}
