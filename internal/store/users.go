package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/safar/go-cart-store/internal/database"
	"github.com/safar/go-cart-store/internal/models"
)

const userColumns = `id, email, username, hashed_password, created_at, updated_at`

func scanUser(row rowScanner, user *models.User) error {
	return row.Scan(
		&user.ID,
		&user.Email,
		&user.Username,
		&user.HashedPassword,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
}

func CreateUser(ctx context.Context, q Querier, email, username, hashedPassword string) (*models.User, error) {
	user := &models.User{}

	query := `
		INSERT INTO users (email, username, hashed_password, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		RETURNING ` + userColumns

	err := scanUser(q.QueryRowContext(ctx, query, email, username, hashedPassword), user)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", database.TranslateError(err))
	}

	return user, nil
}

func GetUser(ctx context.Context, q Querier, id uuid.UUID) (*models.User, error) {
	user := &models.User{}

	err := scanUser(q.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id), user)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return user, nil
}

func GetUserByEmail(ctx context.Context, q Querier, email string) (*models.User, error) {
	user := &models.User{}

	err := scanUser(q.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, email), user)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}

	return user, nil
}

func ListUsers(ctx context.Context, q Querier, page, pageSize int) (*OffsetPage, error) {
	var total int64
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}

	offset := (page - 1) * pageSize
	query := `
		SELECT ` + userColumns + `
		FROM users
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2`

	rows, err := q.QueryContext(ctx, query, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		var user models.User
		if err := scanUser(rows, &user); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return newOffsetPage(users, total, page, pageSize), nil
}

// UpdateUserRequest carries a partial update; nil fields keep their
// current value.
type UpdateUserRequest struct {
	Email          *string
	Username       *string
	HashedPassword *string
}

func UpdateUser(ctx context.Context, q Querier, id uuid.UUID, req UpdateUserRequest) (*models.User, error) {
	user := &models.User{}

	query := `
		UPDATE users
		SET email = COALESCE($2, email),
		    username = COALESCE($3, username),
		    hashed_password = COALESCE($4, hashed_password),
		    updated_at = NOW()
		WHERE id = $1
		RETURNING ` + userColumns

	err := scanUser(q.QueryRowContext(ctx, query, id, req.Email, req.Username, req.HashedPassword), user)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrUserNotFound
		}
		return nil, fmt.Errorf("update user: %w", database.TranslateError(err))
	}

	return user, nil
}

// LockUser takes the user row lock, which also blocks new carts for the
// user until tx ends.
func LockUser(ctx context.Context, tx *sql.Tx, id uuid.UUID) error {
	var locked uuid.UUID
	err := tx.QueryRowContext(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return database.ErrUserNotFound
		}
		return fmt.Errorf("lock user: %w", err)
	}
	return nil
}

// DeleteUser removes the user and, by cascade, every cart of the user.
// Callers release open reservations first.
func DeleteUser(ctx context.Context, q Querier, id uuid.UUID) (*models.User, error) {
	user := &models.User{}

	err := scanUser(q.QueryRowContext(ctx,
		`DELETE FROM users WHERE id = $1 RETURNING `+userColumns, id), user)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrUserNotFound
		}
		return nil, fmt.Errorf("delete user: %w", database.TranslateError(err))
	}

	return user, nil
}

// OwnerRepository exposes users as cart owners.
type OwnerRepository struct{}

func (OwnerRepository) LockOwner(ctx context.Context, tx *sql.Tx, ownerID uuid.UUID) error {
	return LockUser(ctx, tx, ownerID)
}

func (OwnerRepository) DeleteOwner(ctx context.Context, tx *sql.Tx, ownerID uuid.UUID) error {
	_, err := DeleteUser(ctx, tx, ownerID)
	return err
}
