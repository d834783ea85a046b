package scylla

import (
	"context"
	"fmt"
	"sort"

	"github.com/gocql/gocql"

	"shop_back_end/internal/models"
	"shop_back_end/internal/store"
)

const userColumns = `user_id, name, email, password_hash, role, shop_name, shop_location, has_shop, created_at, updated_at`

func scanUser(sc func(dest ...interface{}) error) (models.User, error) {
	var (
		u       models.User
		id      gocql.UUID
		role    string
		shop    models.Shop
		hasShop bool
	)
	err := sc(&id, &u.Name, &u.Email, &u.PasswordHash, &role,
		&shop.Name, &shop.Location, &hasShop, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return models.User{}, err
	}
	u.ID = id.String()
	u.Role = models.Role(role)
	if hasShop {
		u.Shop = &shop
	}
	return u, nil
}

func shopValues(u models.User) (name, location string, hasShop bool) {
	if u.Shop == nil {
		return "", "", false
	}
	return u.Shop.Name, u.Shop.Location, true
}

func (s *Store) getUser(ctx context.Context, id string, consistency gocql.Consistency) (models.User, error) {
	uid, err := parseID(id)
	if err != nil {
		return models.User{}, err
	}
	q := s.users.Query(`SELECT `+userColumns+` FROM users WHERE user_id = ?`, uid).
		WithContext(ctx).Consistency(consistency)
	u, err := scanUser(func(dest ...interface{}) error { return q.Scan(dest...) })
	return u, mapErr(err)
}

func (s *Store) GetUser(ctx context.Context, id string) (models.User, error) {
	return s.getUser(ctx, id, gocql.Quorum)
}

func (s *Store) ListUsers(ctx context.Context) ([]models.User, error) {
	iter := s.users.Query(`SELECT ` + userColumns + ` FROM users`).WithContext(ctx).Iter()

	out := make([]models.User, 0)
	for {
		u, err := scanUser(func(dest ...interface{}) error {
			if !iter.Scan(dest...) {
				return errIterDone
			}
			return nil
		})
		if err != nil {
			break
		}
		out = append(out, u)
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// claimEmail reserves email for uid in users_by_email.
func (s *Store) claimEmail(ctx context.Context, email string, uid gocql.UUID) error {
	applied, err := s.users.Query(`INSERT INTO users_by_email (email, user_id) VALUES (?, ?) IF NOT EXISTS`,
		email, uid).WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return err
	}
	if !applied {
		return store.ErrAlreadyExists
	}
	return nil
}

// releaseEmail drops the claim only if uid still holds it.
func (s *Store) releaseEmail(ctx context.Context, email string, uid gocql.UUID) error {
	_, err := s.users.Query(`DELETE FROM users_by_email WHERE email = ? IF user_id = ?`, email, uid).
		WithContext(context.WithoutCancel(ctx)).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return fmt.Errorf("release email %s: %w", email, err)
	}
	return nil
}

func (s *Store) CreateUser(ctx context.Context, u models.User) error {
	uid, err := gocql.ParseUUID(u.ID)
	if err != nil {
		return fmt.Errorf("user id %q: %w", u.ID, err)
	}
	if err := s.claimEmail(ctx, u.Email, uid); err != nil {
		return err
	}

	shopName, location, hasShop := shopValues(u)
	applied, err := s.users.Query(`
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?) IF NOT EXISTS`,
		uid, u.Name, u.Email, u.PasswordHash, string(u.Role), shopName, location, hasShop, u.CreatedAt, u.UpdatedAt).
		WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err == nil && !applied {
		err = store.ErrAlreadyExists
	}
	if err != nil {
		if relErr := s.releaseEmail(ctx, u.Email, uid); relErr != nil {
			return fmt.Errorf("%w; %v", err, relErr)
		}
		return err
	}
	return nil
}

func (s *Store) UpdateUser(ctx context.Context, u models.User) error {
	cur, err := s.getUser(ctx, u.ID, gocql.Consistency(gocql.Serial))
	if err != nil {
		return err
	}
	uid, _ := gocql.ParseUUID(cur.ID)

	moved := cur.Email != u.Email
	if moved {
		if err := s.claimEmail(ctx, u.Email, uid); err != nil {
			return err
		}
	}

	shopName, location, hasShop := shopValues(u)
	applied, err := s.users.Query(`
		UPDATE users
		SET name = ?, email = ?, role = ?, shop_name = ?, shop_location = ?, has_shop = ?, updated_at = ?
		WHERE user_id = ? IF EXISTS`,
		u.Name, u.Email, string(u.Role), shopName, location, hasShop, u.UpdatedAt, uid).
		WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err == nil && !applied {
		err = store.ErrNotFound
	}
	if err != nil {
		if moved {
			if relErr := s.releaseEmail(ctx, u.Email, uid); relErr != nil {
				return fmt.Errorf("%w; %v", err, relErr)
			}
		}
		return err
	}

	if moved {
		return s.releaseEmail(ctx, cur.Email, uid)
	}
	return nil
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	cur, err := s.getUser(ctx, id, gocql.Consistency(gocql.Serial))
	if err != nil {
		return err
	}
	uid, _ := gocql.ParseUUID(cur.ID)

	applied, err := s.users.Query(`DELETE FROM users WHERE user_id = ? IF EXISTS`, uid).
		WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return err
	}
	if !applied {
		return store.ErrNotFound
	}
	return s.releaseEmail(ctx, cur.Email, uid)
}
