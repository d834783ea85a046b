package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"shop_back_end/internal/services"
)

type errorKind struct {
	target error
	status int
	code   string
}

// Checked in order; the first match wins.
var errorKinds = []errorKind{
	{services.ErrValidation, http.StatusBadRequest, "validation_error"},
	{services.ErrEmptyCart, http.StatusBadRequest, "empty_cart"},
	{services.ErrInsufficientStock, http.StatusBadRequest, "insufficient_stock"},
	{services.ErrProductNotFound, http.StatusNotFound, "product_not_found"},
	{services.ErrNotFound, http.StatusNotFound, "not_found"},
	{services.ErrStorageConflict, http.StatusConflict, "storage_conflict"},
	{services.ErrForbidden, http.StatusForbidden, "forbidden"},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
	{context.Canceled, http.StatusServiceUnavailable, "canceled"},
}

// writeError renders err as a JSON error body. Unknown errors are logged
// and reported as a bare 500.
func writeError(c *gin.Context, log *slog.Logger, err error) {
	_ = c.Error(err)

	for _, k := range errorKinds {
		if !errors.Is(err, k.target) {
			continue
		}
		body := gin.H{"error": err.Error(), "code": k.code}
		var perr *services.ProductError
		if errors.As(err, &perr) {
			body["product_id"] = perr.ProductID
			if perr.Name != "" {
				body["product"] = perr.Name
			}
			if errors.Is(perr.Err, services.ErrInsufficientStock) {
				body["available"] = perr.Available
				body["requested"] = perr.Requested
			}
		}
		if k.status == http.StatusConflict {
			body["retryable"] = true
		}
		c.JSON(k.status, body)
		return
	}

	log.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "code": "internal_error"})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error(), "code": "validation_error"})
}
