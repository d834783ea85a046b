package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Cart struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Items     []CartItem `json:"items"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// CartItem is a line of a cart. Only ProductID and Quantity are stored;
// the other fields are filled from the live product when the cart is served.
type CartItem struct {
	ProductID string           `json:"product_id"`
	Quantity  int              `json:"quantity"`
	Name      string           `json:"name,omitempty"`
	Price     *decimal.Decimal `json:"price,omitempty"`
	ImageURL  string           `json:"image_url,omitempty"`
	Stock     *int             `json:"stock,omitempty"`
}

// Stored strips the display fields of the item.
func (i CartItem) Stored() CartItem {
	return CartItem{ProductID: i.ProductID, Quantity: i.Quantity}
}

// StoredItems copies items keeping only the persisted fields.
func StoredItems(items []CartItem) []CartItem {
	out := make([]CartItem, 0, len(items))
	for _, it := range items {
		out = append(out, it.Stored())
	}
	return out
}

// SetItem replaces the quantity of an existing line or appends a new one.
func (c *Cart) SetItem(productID string, quantity int) {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			c.Items[i].Quantity = quantity
			return
		}
	}
	c.Items = append(c.Items, CartItem{ProductID: productID, Quantity: quantity})
}

// RemoveItem drops the line for productID and reports whether one was present.
func (c *Cart) RemoveItem(productID string) bool {
	kept := c.Items[:0]
	removed := false
	for _, it := range c.Items {
		if it.ProductID == productID {
			removed = true
			continue
		}
		kept = append(kept, it)
	}
	c.Items = kept
	return removed
}
