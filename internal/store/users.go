package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/safar/souk/internal/database"
	"github.com/safar/souk/internal/models"
)

const userColumns = `id, email, name, created_at, updated_at, version`

func CreateUser(ctx context.Context, db *sqlx.DB, email, name string) (*models.User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, models.Invalid("email", "is required")
	}

	user := &models.User{}
	now := time.Now().UTC()

	query := `
		INSERT INTO users (email, name, created_at, updated_at, version)
		VALUES (?, ?, ?, ?, 1)
		RETURNING ` + userColumns

	if err := db.QueryRowxContext(ctx, db.Rebind(query), email, name, now, now).StructScan(user); err != nil {
		if database.IsUniqueViolation(err) {
			return nil, models.Invalid("email", "%s is already registered", email)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	return user, nil
}

func GetUser(ctx context.Context, db *sqlx.DB, id int64) (*models.User, error) {
	user := &models.User{}

	err := db.GetContext(ctx, user, db.Rebind(`SELECT `+userColumns+` FROM users WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return user, nil
}

func ListUsers(ctx context.Context, db *sqlx.DB, page, pageSize int) (*OffsetPage[models.User], error) {
	var total int64
	if err := db.GetContext(ctx, &total, `SELECT COUNT(*) FROM users`); err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}

	offset := (page - 1) * pageSize
	query := `SELECT ` + userColumns + ` FROM users
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`

	users := []models.User{}
	if err := db.SelectContext(ctx, &users, db.Rebind(query), pageSize, offset); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	return &OffsetPage[models.User]{
		Items:      users,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages(total, pageSize),
	}, nil
}

// CountUserOrders counts a user's orders that were not cancelled; it decides
// first-order promo eligibility.
func CountUserOrders(ctx context.Context, q sqlx.ExtContext, userID int64) (int, error) {
	var n int
	query := q.Rebind(`SELECT COUNT(*) FROM orders WHERE user_id = ? AND status <> ?`)
	if err := sqlx.GetContext(ctx, q, &n, query, userID, models.OrderStatusCancelled); err != nil {
		return 0, fmt.Errorf("count user orders: %w", err)
	}
	return n, nil
}
