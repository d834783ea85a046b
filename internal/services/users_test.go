package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shop_back_end/internal/models"
	"shop_back_end/internal/utils"
)

func managerInput(email string) UserInput {
	return UserInput{
		Name:     " Mia ",
		Email:    email,
		Password: "hunter22",
		Role:     models.RoleShopManager,
		Shop:     &models.Shop{Name: "Corner Shop", Location: "Lyon"},
	}
}

func TestCreateUser(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.users.Create(ctx, manager, managerInput("mia@example.com"))
	assert.ErrorIs(t, err, ErrForbidden)

	u, err := e.users.Create(ctx, admin, managerInput(" Mia@Example.COM "))
	require.NoError(t, err)
	assert.Equal(t, "Mia", u.Name)
	assert.Equal(t, "mia@example.com", u.Email)
	require.NotNil(t, u.Shop)
	assert.Equal(t, "Corner Shop", u.Shop.Name)

	stored, err := e.store.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "hunter22", stored.PasswordHash)
	ok, err := utils.VerifyPassword("hunter22", stored.PasswordHash)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = e.users.Create(ctx, admin, managerInput("MIA@example.com"))
	assert.ErrorIs(t, err, ErrEmailTaken)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCreateUserValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	cases := map[string]func(*UserInput){
		"missing name":         func(in *UserInput) { in.Name = "  " },
		"bad email":            func(in *UserInput) { in.Email = "nope" },
		"missing password":     func(in *UserInput) { in.Password = "" },
		"unknown role":         func(in *UserInput) { in.Role = "owner" },
		"manager without shop": func(in *UserInput) { in.Shop = nil },
		"manager blank shop":   func(in *UserInput) { in.Shop = &models.Shop{Name: " "} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := managerInput("v@example.com")
			mutate(&in)
			_, err := e.users.Create(ctx, admin, in)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestCreatePlainUserDropsShop(t *testing.T) {
	e := newEnv(t)
	in := managerInput("plain@example.com")
	in.Role = ""

	u, err := e.users.Create(context.Background(), admin, in)
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser, u.Role)
	assert.Nil(t, u.Shop)
}

func TestListUsersNewestFirst(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	e.users.now = func() time.Time { tick++; return base.Add(time.Duration(tick) * time.Minute) }

	first, err := e.users.Create(ctx, admin, managerInput("first@example.com"))
	require.NoError(t, err)
	second, err := e.users.Create(ctx, admin, managerInput("second@example.com"))
	require.NoError(t, err)

	_, err = e.users.List(ctx, shopper)
	assert.ErrorIs(t, err, ErrForbidden)

	all, err := e.users.List(ctx, models.Actor{UserID: "root", Role: models.RoleSuperAdmin})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID)
	assert.Equal(t, first.ID, all[1].ID)
}

func TestUpdateUser(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	mia, err := e.users.Create(ctx, admin, managerInput("mia@example.com"))
	require.NoError(t, err)
	other, err := e.users.Create(ctx, admin, managerInput("other@example.com"))
	require.NoError(t, err)

	taken := "Other@example.com"
	_, err = e.users.Update(ctx, admin, mia.ID, models.UserPatch{Email: &taken})
	assert.ErrorIs(t, err, ErrEmailTaken)

	location := "Paris"
	email := "MIA2@example.com"
	updated, err := e.users.Update(ctx, admin, mia.ID, models.UserPatch{
		Email: &email,
		Shop:  &models.ShopPatch{Location: &location},
	})
	require.NoError(t, err)
	assert.Equal(t, "mia2@example.com", updated.Email)
	assert.Equal(t, "Corner Shop", updated.Shop.Name)
	assert.Equal(t, "Paris", updated.Shop.Location)

	stored, err := e.store.GetUser(ctx, mia.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, stored.PasswordHash)

	bad := models.Role("owner")
	_, err = e.users.Update(ctx, admin, other.ID, models.UserPatch{Role: &bad})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = e.users.Update(ctx, manager, other.ID, models.UserPatch{})
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = e.users.Update(ctx, admin, "missing", models.UserPatch{})
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestDeleteUser(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	u, err := e.users.Create(ctx, admin, managerInput("gone@example.com"))
	require.NoError(t, err)

	assert.ErrorIs(t, e.users.Delete(ctx, shopper, u.ID), ErrForbidden)
	require.NoError(t, e.users.Delete(ctx, admin, u.ID))
	_, err = e.users.Get(ctx, admin, u.ID)
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.ErrorIs(t, e.users.Delete(ctx, admin, u.ID), ErrUserNotFound)

	_, err = e.users.Create(ctx, admin, managerInput("gone@example.com"))
	assert.NoError(t, err)
}

func TestShopProfile(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	u, err := e.users.Create(ctx, admin, managerInput("mia@example.com"))
	require.NoError(t, err)
	self := models.Actor{UserID: u.ID, Role: models.RoleShopManager}

	_, err = e.users.Profile(ctx, admin)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = e.users.Profile(ctx, manager)
	assert.ErrorIs(t, err, ErrUserNotFound)

	got, err := e.users.Profile(ctx, self)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	updated, err := e.users.UpdateShop(ctx, self, ShopUpdate{ShopName: "", ShopLocation: " Nice "})
	require.NoError(t, err)
	assert.Equal(t, "Corner Shop", updated.Shop.Name)
	assert.Equal(t, "Nice", updated.Shop.Location)

	updated, err = e.users.UpdateShop(ctx, self, ShopUpdate{ShopName: "Big Shop"})
	require.NoError(t, err)
	assert.Equal(t, "Big Shop", updated.Shop.Name)
	assert.Equal(t, "Nice", updated.Shop.Location)

	_, err = e.users.UpdateShop(ctx, shopper, ShopUpdate{ShopName: "x"})
	assert.ErrorIs(t, err, ErrForbidden)
}
