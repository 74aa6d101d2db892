package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository provides PostgreSQL backed persistence. It is the principal
// directory used by authentication and authorization.
type Repository struct {
	db DBTX
}

// NewRepository constructs a repository.
func NewRepository(db DBTX) *Repository {
	return &Repository{db: db}
}

const selectPrincipal = `SELECT u.id, u.email, u.first_name, u.last_name, COALESCE(u.password_hash, ''), u.is_active,
       r.id, r.name, r.is_active
FROM users u
LEFT JOIN roles r ON r.id = u.role_id`

// FindByEmail resolves a principal by exact email.
func (r *Repository) FindByEmail(ctx context.Context, email string) (*Principal, error) {
	return r.findOne(ctx, selectPrincipal+` WHERE u.email = $1`, email)
}

// FindByID resolves a principal by id.
func (r *Repository) FindByID(ctx context.Context, id int64) (*Principal, error) {
	return r.findOne(ctx, selectPrincipal+` WHERE u.id = $1`, id)
}

func (r *Repository) findOne(ctx context.Context, query string, arg any) (*Principal, error) {
	var (
		p          Principal
		roleID     *int64
		roleName   *string
		roleActive *bool
	)
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&p.ID, &p.Email, &p.FirstName, &p.LastName, &p.PasswordHash, &p.IsActive,
		&roleID, &roleName, &roleActive,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("users: find principal: %w", err)
	}
	if roleID == nil {
		return &p, nil
	}
	p.Role = &Role{ID: *roleID, Name: *roleName, IsActive: *roleActive}
	perms, err := r.rolePermissions(ctx, *roleID)
	if err != nil {
		return nil, err
	}
	p.Role.Permissions = perms
	return &p, nil
}

func (r *Repository) rolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	rows, err := r.db.Query(ctx, `SELECT p.id, p.name, p.is_active
FROM role_permissions rp
JOIN permissions p ON p.id = rp.permission_id
WHERE rp.role_id = $1
ORDER BY p.name`, roleID)
	if err != nil {
		return nil, fmt.Errorf("users: role permissions: %w", err)
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		var perm Permission
		if err := rows.Scan(&perm.ID, &perm.Name, &perm.IsActive); err != nil {
			return nil, fmt.Errorf("users: scan permission: %w", err)
		}
		perms = append(perms, perm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("users: role permissions: %w", err)
	}
	return perms, nil
}

// ListUsers returns all users. Password hashes are never selected.
func (r *Repository) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := r.db.Query(ctx, `SELECT u.id, u.email, u.first_name, u.last_name, COALESCE(r.name, ''), u.is_active, u.created_at, u.updated_at
FROM users u
LEFT JOIN roles r ON r.id = u.role_id
ORDER BY u.id`)
	if err != nil {
		return nil, fmt.Errorf("users: list: %w", err)
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.Role, &u.IsActive, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("users: scan: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("users: list: %w", err)
	}
	return out, nil
}
