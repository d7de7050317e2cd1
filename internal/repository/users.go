package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/campusmart/internal/model"
)

// CreateUser создаёт пользователя и его профиль с ролью покупателя.
func (r *PostgresRepository) CreateUser(ctx context.Context, id, email string, passwordHash []byte, fullName, phone string) (*model.Profile, error) {
	var p model.Profile
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO users (id, email, password_hash) VALUES ($1, $2, $3)`,
			id, email, passwordHash,
		); err != nil {
			if _, ok := isUniqueViolation(err); ok {
				return fmt.Errorf("%w: %s", ErrUserExists, email)
			}
			return fmt.Errorf("insert user: %w", err)
		}

		return tx.QueryRow(ctx,
			`INSERT INTO profiles (id, email, full_name, phone, role)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING id, email, full_name, phone, role, created_at`,
			id, email, fullName, phone, string(model.RoleCustomer),
		).Scan(&p.ID, &p.Email, &p.FullName, &p.Phone, &p.Role, &p.CreatedAt)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetUserByEmail возвращает учётные данные пользователя по email.
func (r *PostgresRepository) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var u model.User
	err := r.pool.QueryRow(ctx,
		`SELECT id, email, password_hash FROM users WHERE email = $1`,
		email,
	).Scan(&u.ID, &u.Email, &u.PasswordHash)
	if err != nil {
		if notFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// GetProfile возвращает профиль пользователя.
func (r *PostgresRepository) GetProfile(ctx context.Context, userID string) (*model.Profile, error) {
	if err := checkID(userID); err != nil {
		return nil, err
	}
	var p model.Profile
	err := r.pool.QueryRow(ctx,
		`SELECT id, email, full_name, phone, role, created_at FROM profiles WHERE id = $1`,
		userID,
	).Scan(&p.ID, &p.Email, &p.FullName, &p.Phone, &p.Role, &p.CreatedAt)
	if err != nil {
		if notFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &p, nil
}

// SetRole меняет роль пользователя.
func (r *PostgresRepository) SetRole(ctx context.Context, userID string, role model.Role) error {
	if err := checkID(userID); err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `UPDATE profiles SET role = $2 WHERE id = $1`, userID, string(role))
	if err != nil {
		return fmt.Errorf("set role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
