package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

// Repository stores users in Postgres. Each call borrows one pooled
// connection and returns it before the call returns.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// GetByEmail returns ErrUserNotFound when no row matches.
func (r *Repository) GetByEmail(ctx context.Context, email string) (User, error) {
	var (
		user     User
		fullName sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, email, full_name, hashed_password, is_active, created_at
		FROM users
		WHERE email = $1
	`, email).Scan(&user.ID, &user.Email, &fullName, &user.HashedPassword, &user.IsActive, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("query user by email: %w", err)
	}
	user.FullName = fullName.String

	return user, nil
}

// Create inserts user. The unique constraint on email decides races between
// concurrent creates; the loser gets ErrDuplicateUser.
func (r *Repository) Create(ctx context.Context, user User) (User, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return User{}, fmt.Errorf("generate uuid v7: %w", err)
	}
	user.ID = id.String()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO users (id, email, full_name, hashed_password, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, user.ID, user.Email, nullString(user.FullName), user.HashedPassword, user.IsActive, user.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return User{}, ErrDuplicateUser
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}

	return user, nil
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}
