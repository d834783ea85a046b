package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"shop_back_end/internal/models"
	"shop_back_end/internal/store"
	"shop_back_end/internal/utils"
)

// bcrypt ignores everything past 72 bytes.
const maxPasswordBytes = 72

type UserInput struct {
	Name     string       `json:"name"`
	Email    string       `json:"email"`
	Password string       `json:"password"`
	Role     models.Role  `json:"role"`
	Shop     *models.Shop `json:"shop"`
}

// ShopUpdate is the body of PUT /api/shop/me. Empty values are ignored.
type ShopUpdate struct {
	ShopName     string `json:"shopName"`
	ShopLocation string `json:"shopLocation"`
}

type UserService struct {
	users store.UserStore
	log   *slog.Logger
	now   func() time.Time
	hash  func(password string) (string, error)
}

func NewUserService(users store.UserStore, log *slog.Logger) *UserService {
	return &UserService{
		users: users,
		log:   log,
		now:   func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
		hash:  utils.HashPassword,
	}
}

// normalizeUser trims and lowercases in place, then validates.
func normalizeUser(u *models.User) error {
	u.Name = strings.TrimSpace(u.Name)
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.Shop != nil {
		u.Shop.Name = strings.TrimSpace(u.Shop.Name)
		u.Shop.Location = strings.TrimSpace(u.Shop.Location)
	}

	switch {
	case u.Name == "":
		return validationf("name is required")
	case u.Email == "" || !strings.Contains(u.Email, "@"):
		return validationf("a valid email is required")
	case !models.ValidRole(u.Role):
		return validationf("unknown role %q", u.Role)
	case models.IsShopManager(u.Role) && (u.Shop == nil || u.Shop.Name == ""):
		return validationf("shop name is required for shop managers")
	}
	return nil
}

func (s *UserService) List(ctx context.Context, actor models.Actor) ([]models.User, error) {
	if !models.IsAdmin(actor.Role) {
		return nil, ErrForbidden
	}
	return s.users.ListUsers(ctx)
}

func (s *UserService) Get(ctx context.Context, actor models.Actor, id string) (models.User, error) {
	if !models.IsAdmin(actor.Role) {
		return models.User{}, ErrForbidden
	}
	return s.get(ctx, id)
}

func (s *UserService) get(ctx context.Context, id string) (models.User, error) {
	u, err := s.users.GetUser(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return models.User{}, ErrUserNotFound
	}
	return u, err
}

// Create adds an account on an admin's behalf. Only shop managers keep the
// shop details they were given.
func (s *UserService) Create(ctx context.Context, actor models.Actor, in UserInput) (models.User, error) {
	if !models.IsAdmin(actor.Role) {
		return models.User{}, ErrForbidden
	}
	if in.Role == "" {
		in.Role = models.RoleUser
	}

	now := s.now()
	u := models.User{
		ID:        uuid.NewString(),
		Name:      in.Name,
		Email:     in.Email,
		Role:      in.Role,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if models.IsShopManager(in.Role) && in.Shop != nil {
		shop := *in.Shop
		u.Shop = &shop
	}
	if err := normalizeUser(&u); err != nil {
		return models.User{}, err
	}
	switch {
	case in.Password == "":
		return models.User{}, validationf("password is required")
	case len(in.Password) > maxPasswordBytes:
		return models.User{}, validationf("password must be at most %d bytes", maxPasswordBytes)
	}

	hash, err := s.hash(in.Password)
	if err != nil {
		return models.User{}, err
	}
	u.PasswordHash = hash

	if err := s.users.CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return models.User{}, ErrEmailTaken
		}
		return models.User{}, err
	}

	s.log.Info("user created", "user_id", u.ID, "role", u.Role, "by", actor.UserID)
	return u, nil
}

// Update applies patch to any account. The password is not editable here.
func (s *UserService) Update(ctx context.Context, actor models.Actor, id string, patch models.UserPatch) (models.User, error) {
	if !models.IsAdmin(actor.Role) {
		return models.User{}, ErrForbidden
	}
	u, err := s.get(ctx, id)
	if err != nil {
		return models.User{}, err
	}
	patch.Apply(&u)
	return s.save(ctx, u)
}

func (s *UserService) Delete(ctx context.Context, actor models.Actor, id string) error {
	if !models.IsAdmin(actor.Role) {
		return ErrForbidden
	}
	if err := s.users.DeleteUser(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	s.log.Info("user deleted", "user_id", id, "by", actor.UserID)
	return nil
}

// Profile returns the calling shop manager's account.
func (s *UserService) Profile(ctx context.Context, actor models.Actor) (models.User, error) {
	if !models.IsShopManager(actor.Role) {
		return models.User{}, ErrForbidden
	}
	return s.get(ctx, actor.UserID)
}

// UpdateShop edits the calling shop manager's shop details.
func (s *UserService) UpdateShop(ctx context.Context, actor models.Actor, in ShopUpdate) (models.User, error) {
	if !models.IsShopManager(actor.Role) {
		return models.User{}, ErrForbidden
	}
	u, err := s.get(ctx, actor.UserID)
	if err != nil {
		return models.User{}, err
	}

	var patch models.ShopPatch
	if name := strings.TrimSpace(in.ShopName); name != "" {
		patch.Name = &name
	}
	if location := strings.TrimSpace(in.ShopLocation); location != "" {
		patch.Location = &location
	}
	patch.Apply(&u)
	return s.save(ctx, u)
}

func (s *UserService) save(ctx context.Context, u models.User) (models.User, error) {
	if err := normalizeUser(&u); err != nil {
		return models.User{}, err
	}
	u.UpdatedAt = s.now()
	if err := s.users.UpdateUser(ctx, u); err != nil {
		switch {
		case errors.Is(err, store.ErrAlreadyExists):
			return models.User{}, ErrEmailTaken
		case errors.Is(err, store.ErrNotFound):
			return models.User{}, ErrUserNotFound
		}
		return models.User{}, err
	}
	return u, nil
}
