package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"shop_back_end/internal/models"
	"shop_back_end/internal/store"
)

// A NULL shop_name means the user has no shop.
const userColumns = `id, name, email, password_hash, role, shop_name, shop_location, created_at, updated_at`

func scanUser(row pgx.Row) (models.User, error) {
	var (
		u        models.User
		role     string
		shopName *string
		location string
	)
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &role,
		&shopName, &location, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return models.User{}, err
	}
	u.Role = models.Role(role)
	if shopName != nil {
		u.Shop = &models.Shop{Name: *shopName, Location: location}
	}
	return u, nil
}

func shopColumns(u models.User) (name *string, location string) {
	if u.Shop == nil {
		return nil, ""
	}
	return &u.Shop.Name, u.Shop.Location
}

func (s *Store) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at DESC`)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	out := make([]models.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, mapErr(rows.Err())
}

func (s *Store) GetUser(ctx context.Context, id string) (models.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	return u, mapErr(err)
}

func (s *Store) CreateUser(ctx context.Context, u models.User) error {
	shopName, location := shopColumns(u)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		u.ID, u.Name, u.Email, u.PasswordHash, string(u.Role), shopName, location, u.CreatedAt, u.UpdatedAt)
	return mapErr(err)
}

func (s *Store) UpdateUser(ctx context.Context, u models.User) error {
	shopName, location := shopColumns(u)
	tag, err := s.pool.Exec(ctx, `
		UPDATE users
		SET name = $2, email = $3, role = $4, shop_name = $5, shop_location = $6, updated_at = $7
		WHERE id = $1`,
		u.ID, u.Name, u.Email, string(u.Role), shopName, location, u.UpdatedAt)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
