package store

import (
	"context"
	"errors"
	"testing"

	"github.com/safar/souk/internal/database"
	"github.com/safar/souk/internal/models"
	"github.com/shopspring/decimal"
)

func TestCreateProductWithVariants(t *testing.T) {
	db := setupSQLiteDB(t)
	ctx := context.Background()

	product, err := CreateProduct(ctx, db, NewProduct{
		ShopID: 7,
		Name:   "Kaftan",
		Price:  decimal.NewFromInt(4500),
		Stock:  99,
		Variants: []NewVariant{
			{Attributes: map[string]string{"Taille": "S", "Couleur": "Rouge"}, Stock: 2},
			{Attributes: map[string]string{"Taille": "M"}, Stock: 1, PriceOverride: decimal.NewNullDecimal(decimal.NewFromInt(4800))},
		},
	})
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}

	if !product.HasVariants {
		t.Error("Product should have variants")
	}
	if product.Stock != 0 {
		t.Errorf("Flat stock of a varianted product should be 0, got %d", product.Stock)
	}
	if len(product.Variants) != 2 {
		t.Fatalf("Expected 2 variants, got %d", len(product.Variants))
	}
	if product.Variants[0].Attributes["Couleur"] != "Rouge" {
		t.Errorf("Expected first variant in creation order, got %v", product.Variants[0].Attributes)
	}
	if !product.Variants[1].PriceOverride.Valid || !product.Variants[1].PriceOverride.Decimal.Equal(decimal.NewFromInt(4800)) {
		t.Errorf("Expected price override 4800, got %v", product.Variants[1].PriceOverride)
	}
	if product.Variants[0].PriceOverride.Valid {
		t.Error("First variant should have no price override")
	}

	fetched, err := GetProduct(ctx, db, product.ID)
	if err != nil {
		t.Fatalf("Get product: %v", err)
	}
	if !fetched.Price.Equal(decimal.NewFromInt(4500)) {
		t.Errorf("Expected price 4500, got %s", fetched.Price)
	}

	if _, err := GetProduct(ctx, db, 123456); !errors.Is(err, database.ErrProductNotFound) {
		t.Errorf("Expected product not found, got: %v", err)
	}
}

func TestCreateProductRejectsDuplicateVariants(t *testing.T) {
	db := setupSQLiteDB(t)

	_, err := CreateProduct(context.Background(), db, NewProduct{
		ShopID: 1,
		Name:   "Robe",
		Price:  decimal.NewFromInt(2500),
		Variants: []NewVariant{
			{Attributes: map[string]string{"Taille": "S"}, Stock: 1},
			{Attributes: map[string]string{"Taille": "S", "Couleur": ""}, Stock: 1},
		},
	})

	var validationErr *models.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("Expected validation error, got: %v", err)
	}
	if validationErr.Field != "variants" {
		t.Errorf("Expected field variants, got %s", validationErr.Field)
	}
}

func TestListProducts(t *testing.T) {
	db := setupSQLiteDB(t)
	ctx := context.Background()

	createFlatProduct(t, db, 1, "100", 1)
	createSizedProduct(t, db, 1, "200", 1, 1)
	createFlatProduct(t, db, 2, "300", 1)

	page, err := ListProducts(ctx, db, 0, 1, 2)
	if err != nil {
		t.Fatalf("List products: %v", err)
	}
	if page.Total != 3 || page.TotalPages != 2 || len(page.Items) != 2 {
		t.Errorf("Expected 2 of 3 products over 2 pages, got %d of %d over %d", len(page.Items), page.Total, page.TotalPages)
	}

	shop, err := ListProducts(ctx, db, 1, 1, 10)
	if err != nil {
		t.Fatalf("List shop products: %v", err)
	}
	if shop.Total != 2 {
		t.Fatalf("Expected 2 products in shop 1, got %d", shop.Total)
	}
	withVariants := 0
	for _, p := range shop.Items {
		withVariants += len(p.Variants)
	}
	if withVariants != 2 {
		t.Errorf("Expected variants loaded for the page, got %d", withVariants)
	}
}

func TestUpdateStockOptimistic(t *testing.T) {
	db := setupSQLiteDB(t)
	ctx := context.Background()

	flat := createFlatProduct(t, db, 1, "100", 1)
	if err := UpdateStockOptimistic(ctx, db, flat.ID, 0, 10, flat.Version); err != nil {
		t.Fatalf("Update stock: %v", err)
	}
	if got := productStock(t, db, flat.ID); got != 10 {
		t.Errorf("Expected stock 10, got %d", got)
	}
	if err := UpdateStockOptimistic(ctx, db, flat.ID, 0, 5, flat.Version); !errors.Is(err, database.ErrOptimisticLockFailed) {
		t.Errorf("Expected optimistic lock failure on a stale version, got: %v", err)
	}

	robe := createSizedProduct(t, db, 1, "200", 1, 1)
	small := robe.Variants[0]
	if err := UpdateStockOptimistic(ctx, db, robe.ID, small.ID, 4, small.Version); err != nil {
		t.Fatalf("Update variant stock: %v", err)
	}
	if got := variantStock(t, db, robe.ID, "S"); got != 4 {
		t.Errorf("Expected S stock 4, got %d", got)
	}
	if err := UpdateStockOptimistic(ctx, db, robe.ID, 0, 4, robe.Version); !errors.Is(err, database.ErrOptimisticLockFailed) {
		t.Errorf("Flat stock of a varianted product must not be writable, got: %v", err)
	}
}

func TestLikes(t *testing.T) {
	db := setupSQLiteDB(t)
	ctx := context.Background()
	product := createFlatProduct(t, db, 1, "100", 1)

	for i := 0; i < 2; i++ {
		n, err := LikeProduct(ctx, db, product.ID, 42)
		if err != nil {
			t.Fatalf("Like product: %v", err)
		}
		if n != 1 {
			t.Errorf("Liking twice should count once, got %d", n)
		}
	}

	n, err := UnlikeProduct(ctx, db, product.ID, 42)
	if err != nil {
		t.Fatalf("Unlike product: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected 0 likes, got %d", n)
	}

	if _, err := LikeProduct(ctx, db, 999999, 42); !errors.Is(err, database.ErrProductNotFound) {
		t.Errorf("Expected product not found, got: %v", err)
	}
}

func TestUsers(t *testing.T) {
	db := setupSQLiteDB(t)
	ctx := context.Background()

	user := createUser(t, db)
	if _, err := CreateUser(ctx, db, user.Email, "Again"); err == nil {
		t.Error("Expected duplicate email to be rejected")
	}

	fetched, err := GetUser(ctx, db, user.ID)
	if err != nil {
		t.Fatalf("Get user: %v", err)
	}
	if fetched.Email != user.Email {
		t.Errorf("Expected email %s, got %s", user.Email, fetched.Email)
	}

	page, err := ListUsers(ctx, db, 1, 10)
	if err != nil {
		t.Fatalf("List users: %v", err)
	}
	if page.Total != 1 {
		t.Errorf("Expected 1 user, got %d", page.Total)
	}

	if _, err := GetUser(ctx, db, 777); !errors.Is(err, database.ErrUserNotFound) {
		t.Errorf("Expected user not found, got: %v", err)
	}
}
