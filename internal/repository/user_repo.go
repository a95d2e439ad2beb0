package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/evetabi/lendpool/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// UserRepository stores API and staff users. A user's id doubles as its
// lending account id.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts a new user row. Duplicate emails and usernames surface as
// ErrEmailTaken and ErrUsernameTaken.
func (r *UserRepository) Create(ctx context.Context, u *domain.User) error {
	query := `
		INSERT INTO users (id, email, username, password_hash, role, is_active, created_at, updated_at)
		VALUES (:id, :email, :username, :password_hash, :role, :is_active, :created_at, :updated_at)`
	_, err := r.db.NamedExecContext(ctx, query, u)
	switch {
	case err == nil:
		return nil
	case isPgUniqueViolation(err, "users_email_key"):
		return domain.ErrEmailTaken
	case isPgUniqueViolation(err, "users_username_key"):
		return domain.ErrUsernameTaken
	}
	return fmt.Errorf("user_repo.Create: %w", err)
}

// GetByID fetches a user by primary key.
func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return r.getBy(ctx, "GetByID", "id", id)
}

// GetByEmail fetches a user by its lower-cased email address.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.getBy(ctx, "GetByEmail", "email", email)
}

// column is always a literal from this file.
func (r *UserRepository) getBy(ctx context.Context, op, column string, v interface{}) (*domain.User, error) {
	var u domain.User
	err := r.db.GetContext(ctx, &u, `SELECT * FROM users WHERE `+column+` = $1`, v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user_repo.%s: %w", op, err)
	}
	return &u, nil
}

// List returns a page of users, newest first, plus the total count. An empty
// role lists every user.
func (r *UserRepository) List(ctx context.Context, role domain.UserRole, limit, offset int) ([]*domain.User, int, error) {
	const filter = `($1 = '' OR role = $1)`
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM users WHERE `+filter, string(role)); err != nil {
		return nil, 0, fmt.Errorf("user_repo.List count: %w", err)
	}
	users := make([]*domain.User, 0)
	if err := r.db.SelectContext(ctx, &users,
		`SELECT * FROM users WHERE `+filter+` ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		string(role), limit, offset); err != nil {
		return nil, 0, fmt.Errorf("user_repo.List select: %w", err)
	}
	return users, total, nil
}

// CountByRole returns the number of active users per role.
func (r *UserRepository) CountByRole(ctx context.Context) (map[domain.UserRole]int, error) {
	var rows []struct {
		Role  domain.UserRole `db:"role"`
		Count int             `db:"count"`
	}
	if err := r.db.SelectContext(ctx, &rows,
		`SELECT role, COUNT(*) AS count FROM users WHERE is_active GROUP BY role`); err != nil {
		return nil, fmt.Errorf("user_repo.CountByRole: %w", err)
	}
	out := make(map[domain.UserRole]int, len(rows))
	for _, row := range rows {
		out[row.Role] = row.Count
	}
	return out, nil
}

// UpdateRole changes a user's role (back-office operation).
func (r *UserRepository) UpdateRole(ctx context.Context, userID uuid.UUID, role domain.UserRole) error {
	return r.update(ctx, "UpdateRole", `UPDATE users SET role = $1, updated_at = now() WHERE id = $2`, string(role), userID)
}

// SetActive suspends or re-activates a user. Suspended users cannot log in
// or refresh tokens.
func (r *UserRepository) SetActive(ctx context.Context, userID uuid.UUID, active bool) error {
	return r.update(ctx, "SetActive", `UPDATE users SET is_active = $1, updated_at = now() WHERE id = $2`, active, userID)
}

func (r *UserRepository) update(ctx context.Context, op, query string, args ...interface{}) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("user_repo.%s: %w", op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// isPgUniqueViolation checks whether err is a PostgreSQL unique constraint
// violation for the given constraint name.
func isPgUniqueViolation(err error, constraintName string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "23505" && pqErr.Constraint == constraintName
}
