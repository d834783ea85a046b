package models

import "time"

type Role string

const (
	RoleUser        Role = "user"
	RoleShopManager Role = "shopmanager"
	RoleAdmin       Role = "admin"
	RoleSuperAdmin  Role = "superadmin"
)

// ValidRole reports whether r is one of the known roles.
func ValidRole(r Role) bool {
	switch r {
	case RoleUser, RoleShopManager, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// ParseRole maps a token claim to a Role. Unknown values fall back to RoleUser.
func ParseRole(s string) Role {
	switch r := Role(s); r {
	case RoleShopManager, RoleAdmin, RoleSuperAdmin:
		return r
	}
	return RoleUser
}

// Actor is the authenticated caller of an operation.
type Actor struct {
	UserID string
	Role   Role
}

func IsAdmin(r Role) bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

func IsShopManager(r Role) bool {
	return r == RoleShopManager
}

// CanManageProducts gates product create/update/delete.
func CanManageProducts(r Role) bool {
	return IsAdmin(r) || IsShopManager(r)
}

// CanManageOrders gates order status changes and reading other users' orders.
func CanManageOrders(r Role) bool {
	return IsAdmin(r)
}

// CanEditProduct applies the ownership rule: managers edit their own products, admins any.
func CanEditProduct(a Actor, p Product) bool {
	if IsAdmin(a.Role) {
		return true
	}
	return IsShopManager(a.Role) && p.OwnerID == a.UserID
}

// Shop holds a shop manager's storefront details.
type Shop struct {
	Name     string `json:"name"`
	Location string `json:"location,omitempty"`
}

type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	Shop         *Shop     `json:"shop,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Clone returns a copy that shares no pointers with u.
func (u User) Clone() User {
	if u.Shop != nil {
		shop := *u.Shop
		u.Shop = &shop
	}
	return u
}

type ShopPatch struct {
	Name     *string `json:"name"`
	Location *string `json:"location"`
}

// UserPatch carries the fields an admin may edit. Nil fields are left untouched.
type UserPatch struct {
	Name  *string    `json:"name"`
	Email *string    `json:"email"`
	Role  *Role      `json:"role"`
	Shop  *ShopPatch `json:"shop"`
}

// Apply writes the non-nil fields of patch onto u.
func (patch UserPatch) Apply(u *User) {
	if patch.Name != nil {
		u.Name = *patch.Name
	}
	if patch.Email != nil {
		u.Email = *patch.Email
	}
	if patch.Role != nil {
		u.Role = *patch.Role
	}
	if patch.Shop != nil {
		patch.Shop.Apply(u)
	}
}

// Apply writes the non-nil shop fields onto u, creating its shop if needed.
func (patch ShopPatch) Apply(u *User) {
	if patch.Name == nil && patch.Location == nil {
		return
	}
	shop := Shop{}
	if u.Shop != nil {
		shop = *u.Shop
	}
	if patch.Name != nil {
		shop.Name = *patch.Name
	}
	if patch.Location != nil {
		shop.Location = *patch.Location
	}
	u.Shop = &shop
}
