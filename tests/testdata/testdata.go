// Package testdata contains the entities and the schema used by the conformance suite of the engines.
//
//nolint:gochecknoglobals // this is testdata and global variables are a feature
package testdata

import (
	"embed"
	"io/fs"
	"time"

	"github.com/brianvoe/gofakeit/v6"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrations creates the tables of all entities in this package.
var Migrations = mustSub(migrations, "migrations")

func mustSub(fsys fs.FS, dir string) fs.FS {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		panic(err)
	}

	return sub
}

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
		CreatedAt  time.Time
	}
)

var Statuses = []string{"open", "paid", "shipped"}

// NewOrder returns an order with random values and the given id.
func NewOrder(id int) Order {
	return Order{
		ID:         id,
		CustomerID: gofakeit.UUID(),
		Status:     gofakeit.RandomString(Statuses),
		Total:      gofakeit.Price(1, 1000),
		CreatedAt:  gofakeit.DateRange(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), time.Now()).UTC().Truncate(time.Second),
	}
}

func NewCustomer() Customer {
	return Customer{
		ID:   gofakeit.UUID(),
		Name: gofakeit.Name(),
	}
}
