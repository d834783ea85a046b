package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"shop_back_end/internal/models"
)

const (
	ctxUserID = "user_id"
	ctxRole   = "role"
)

// AuthRequired validates an HS256 bearer token and stores its user_id and
// role claims in the gin context.
func AuthRequired(secret []byte, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortUnauthorized(c, "missing token")
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			abortUnauthorized(c, "invalid authorization header")
			return
		}

		claims := jwt.MapClaims{}
		token, err := jwt.ParseWithClaims(parts[1], claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return secret, nil
		}, jwt.WithExpirationRequired())
		if err != nil || !token.Valid {
			log.Debug("jwt rejected", "error", err)
			abortUnauthorized(c, "invalid token")
			return
		}

		userID, ok := claims["user_id"].(string)
		if !ok || userID == "" {
			abortUnauthorized(c, "user_id claim missing")
			return
		}
		role, _ := claims["role"].(string)

		c.Set(ctxUserID, userID)
		c.Set(ctxRole, models.ParseRole(role))
		c.Next()
	}
}

// Actor returns the authenticated caller. UserID is empty on public routes.
func Actor(c *gin.Context) models.Actor {
	a := models.Actor{UserID: c.GetString(ctxUserID), Role: models.RoleUser}
	if r, ok := c.Get(ctxRole); ok {
		if role, ok := r.(models.Role); ok {
			a.Role = role
		}
	}
	return a
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg, "code": "unauthorized"})
}
