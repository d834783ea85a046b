package utils

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"shop_back_end/internal/models"
)

// GenerateJWT signs an HS256 token carrying the user_id and role claims
// that the auth middleware reads.
func GenerateJWT(secret []byte, userID string, role models.Role, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"user_id": userID,
		"role":    string(role),
		"exp":     time.Now().Add(ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}
