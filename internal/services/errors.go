package services

import (
	"errors"
	"fmt"

	"shop_back_end/internal/store"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrEmptyCart         = errors.New("cart is empty")
	ErrProductNotFound   = errors.New("product not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrStorageConflict   = errors.New("concurrent modification, retry")
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")

	ErrCartNotFound  = fmt.Errorf("cart %w", ErrNotFound)
	ErrOrderNotFound = fmt.Errorf("order %w", ErrNotFound)
	ErrUserNotFound  = fmt.Errorf("user %w", ErrNotFound)

	ErrEmailTaken = fmt.Errorf("%w: email already in use", ErrValidation)
)

// ProductError names the product a checkout or cart operation failed on.
// Err is ErrProductNotFound or ErrInsufficientStock.
type ProductError struct {
	Err       error
	ProductID string
	Name      string
	Available int
	Requested int
}

func (e *ProductError) Error() string {
	if errors.Is(e.Err, ErrInsufficientStock) {
		return fmt.Sprintf("%s: product %s (%s) has %d, %d requested",
			e.Err, e.ProductID, e.Name, e.Available, e.Requested)
	}
	return fmt.Sprintf("%s: %s", e.Err, e.ProductID)
}

func (e *ProductError) Unwrap() error {
	return e.Err
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// storageErr translates store errors that reach a service boundary.
func storageErr(err error) error {
	if errors.Is(err, store.ErrConflict) {
		return fmt.Errorf("%w: %v", ErrStorageConflict, err)
	}
	return err
}
