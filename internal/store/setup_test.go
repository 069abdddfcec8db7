package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/safar/souk/internal/checkout"
	"github.com/safar/souk/internal/config"
	"github.com/safar/souk/internal/database"
	"github.com/safar/souk/internal/models"
	"github.com/shopspring/decimal"
)

func setupSQLiteDB(t *testing.T) *sqlx.DB {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "souk.db") + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := database.NewConnection(&config.DatabaseConfig{Driver: database.DriverSQLite, URL: dsn})
	if err != nil {
		t.Fatalf("Failed to open sqlite database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("Failed to close database: %v", err)
		}
	})

	if _, err := database.Migrate(context.Background(), db, "up"); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	return db
}

var seq atomic.Int64

func createUser(t *testing.T, db *sqlx.DB) *models.User {
	t.Helper()
	n := seq.Add(1)
	user, err := CreateUser(context.Background(), db, fmt.Sprintf("user%d@example.com", n), fmt.Sprintf("User %d", n))
	if err != nil {
		t.Fatalf("Create user: %v", err)
	}
	return user
}

func createFlatProduct(t *testing.T, db *sqlx.DB, shopID int64, price string, stock int) *models.Product {
	t.Helper()
	product, err := CreateProduct(context.Background(), db, NewProduct{
		ShopID: shopID,
		Name:   fmt.Sprintf("Product %d", seq.Add(1)),
		Price:  decimal.RequireFromString(price),
		Stock:  stock,
	})
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}
	return product
}

// createSizedProduct creates a product sold in Taille S and M with the given
// stocks.
func createSizedProduct(t *testing.T, db *sqlx.DB, shopID int64, price string, small, medium int) *models.Product {
	t.Helper()
	product, err := CreateProduct(context.Background(), db, NewProduct{
		ShopID: shopID,
		Name:   fmt.Sprintf("Robe %d", seq.Add(1)),
		Price:  decimal.RequireFromString(price),
		Variants: []NewVariant{
			{Attributes: map[string]string{"Taille": "S"}, Stock: small},
			{Attributes: map[string]string{"Taille": "M"}, Stock: medium},
		},
	})
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}
	return product
}

func testShipping() checkout.Shipping {
	return checkout.Shipping{Address: "12 Rue Didouche Mourad", Wilaya: "Alger", Phone: "0555123456"}
}

func newKey() string {
	return fmt.Sprintf("batch-%d", seq.Add(1))
}

func variantStock(t *testing.T, db *sqlx.DB, productID int64, size string) int {
	t.Helper()
	p, err := GetProduct(context.Background(), db, productID)
	if err != nil {
		t.Fatalf("Get product: %v", err)
	}
	for _, v := range p.Variants {
		if v.Attributes["Taille"] == size {
			return v.Stock
		}
	}
	t.Fatalf("Product %d has no variant %s", productID, size)
	return 0
}

func productStock(t *testing.T, db *sqlx.DB, productID int64) int {
	t.Helper()
	p, err := GetProduct(context.Background(), db, productID)
	if err != nil {
		t.Fatalf("Get product: %v", err)
	}
	return p.Stock
}
