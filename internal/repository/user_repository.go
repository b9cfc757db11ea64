package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"mestredb/api/internal/models"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrEmailTaken   = errors.New("email already in use")
)

// DBTX is satisfied by *pgxpool.Pool, pgx.Tx and test doubles.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type ListFilter struct {
	Deleted bool
	Limit   int
	Offset  int
}

type UserRepository struct {
	db DBTX
}

func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, name, email, password_hash, is_superuser, last_access, last_login, created_at, updated_at, deleted_at`

// bumpUpdatedAt keeps updated_at strictly increasing even when two writes land
// within the same clock tick.
const bumpUpdatedAt = `updated_at = GREATEST(NOW(), updated_at + interval '1 microsecond')`

func scanUser(row pgx.Row) (models.User, error) {
	var user models.User
	if err := row.Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.PasswordHash,
		&user.IsSuperuser,
		&user.LastAccess,
		&user.LastLogin,
		&user.CreatedAt,
		&user.UpdatedAt,
		&user.DeletedAt,
	); err != nil {
		return models.User{}, mapError(err)
	}
	return user, nil
}

func mapError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrUserNotFound
	}
	if isUniqueViolation(err) {
		return ErrEmailTaken
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (r *UserRepository) Create(ctx context.Context, user models.NewUser) (models.User, error) {
	query := `
		INSERT INTO users (name, email, password_hash, is_superuser, last_access, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW(), NOW())
		RETURNING ` + userColumns

	return scanUser(r.db.QueryRow(ctx, query, user.Name, user.Email, user.PasswordHash, user.IsSuperuser))
}

func (r *UserRepository) FindByID(ctx context.Context, id int64) (models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1 AND deleted_at IS NULL`
	return scanUser(r.db.QueryRow(ctx, query, id))
}

func (r *UserRepository) FindByIDWithDeleted(ctx context.Context, id int64) (models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.db.QueryRow(ctx, query, id))
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1 AND deleted_at IS NULL`
	return scanUser(r.db.QueryRow(ctx, query, email))
}

// FindByEmailWithDeleted prefers the active row and otherwise returns the most
// recently deleted one.
func (r *UserRepository) FindByEmailWithDeleted(ctx context.Context, email string) (models.User, error) {
	query := `
		SELECT ` + userColumns + ` FROM users
		WHERE email = $1
		ORDER BY (deleted_at IS NULL) DESC, deleted_at DESC
		LIMIT 1`
	return scanUser(r.db.QueryRow(ctx, query, email))
}

func (r *UserRepository) Update(ctx context.Context, id int64, upd models.UserUpdate) (models.User, error) {
	query := `
		UPDATE users SET
			name = COALESCE($2, name),
			email = COALESCE($3, email),
			password_hash = COALESCE($4, password_hash),
			is_superuser = COALESCE($5, is_superuser),
			` + bumpUpdatedAt + `
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING ` + userColumns

	return scanUser(r.db.QueryRow(ctx, query, id, upd.Name, upd.Email, upd.PasswordHash, upd.IsSuperuser))
}

// SoftDelete marks an active user as deleted. ErrUserNotFound covers both a
// missing row and one that is already deleted.
func (r *UserRepository) SoftDelete(ctx context.Context, id int64) error {
	query := `UPDATE users SET deleted_at = NOW(), ` + bumpUpdatedAt + ` WHERE id = $1 AND deleted_at IS NULL`
	cmd, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// Restore clears deleted_at. The partial unique index rejects the restore
// with ErrEmailTaken when another active user holds the address.
func (r *UserRepository) Restore(ctx context.Context, id int64) (models.User, error) {
	query := `
		UPDATE users SET deleted_at = NULL, ` + bumpUpdatedAt + `
		WHERE id = $1 AND deleted_at IS NOT NULL
		RETURNING ` + userColumns
	return scanUser(r.db.QueryRow(ctx, query, id))
}

func (r *UserRepository) HardDelete(ctx context.Context, id int64) error {
	cmd, err := r.db.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *UserRepository) List(ctx context.Context, filter ListFilter) ([]models.User, int, error) {
	where := `deleted_at IS NULL`
	order := `id ASC`
	if filter.Deleted {
		where = `deleted_at IS NOT NULL`
		order = `deleted_at DESC, id ASC`
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE `+where).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE ` + where + ` ORDER BY ` + order + ` LIMIT $1 OFFSET $2`
	rows, err := r.db.Query(ctx, query, filter.Limit, filter.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := make([]models.User, 0, filter.Limit)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

func (r *UserRepository) UpdateLastLogin(ctx context.Context, id int64, at time.Time) error {
	cmd, err := r.db.Exec(ctx, `UPDATE users SET last_login = $2, last_access = $2, ` + bumpUpdatedAt + ` WHERE id = $1 AND deleted_at IS NULL`, id, at)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *UserRepository) UpdateLastAccess(ctx context.Context, id int64, at time.Time) error {
	cmd, err := r.db.Exec(ctx, `UPDATE users SET last_access = $2, ` + bumpUpdatedAt + ` WHERE id = $1 AND deleted_at IS NULL`, id, at)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}
