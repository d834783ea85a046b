package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shop_back_end/internal/logger"
	"shop_back_end/internal/models"
	"shop_back_end/internal/utils"
)

var secret = []byte("test-secret")

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(mw ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	handlers := append(mw, func(c *gin.Context) {
		a := Actor(c)
		c.JSON(http.StatusOK, gin.H{"user_id": a.UserID, "role": a.Role})
	})
	r.GET("/", handlers...)
	return r
}

func get(r http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthRequired(t *testing.T) {
	r := newRouter(AuthRequired(secret, logger.Discard()))

	token, err := utils.GenerateJWT(secret, "u1", models.RoleShopManager, time.Hour)
	require.NoError(t, err)
	w := get(r, token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":"u1","role":"shopmanager"}`, w.Body.String())

	expired, err := utils.GenerateJWT(secret, "u1", models.RoleUser, -time.Minute)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, get(r, expired).Code)

	forged, err := utils.GenerateJWT([]byte("other"), "u1", models.RoleAdmin, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, get(r, forged).Code)

	assert.Equal(t, http.StatusUnauthorized, get(r, "").Code)
}

func TestAuthRequiredRejectsMissingUserID(t *testing.T) {
	r := newRouter(AuthRequired(secret, logger.Discard()))
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(secret)
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, get(r, token).Code)
}

func TestUnknownRoleIsUser(t *testing.T) {
	r := newRouter(AuthRequired(secret, logger.Discard()))
	token, err := utils.GenerateJWT(secret, "u1", "root", time.Hour)
	require.NoError(t, err)

	w := get(r, token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":"u1","role":"user"}`, w.Body.String())
}

func TestRequireRole(t *testing.T) {
	r := newRouter(AuthRequired(secret, logger.Discard()), RequireRole(models.CanManageOrders))

	user, err := utils.GenerateJWT(secret, "u1", models.RoleUser, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, get(r, user).Code)

	admin, err := utils.GenerateJWT(secret, "a1", models.RoleSuperAdmin, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, get(r, admin).Code)
}

type countingLimiter struct {
	limit int64
	hits  map[string]int64
	err   error
}

func (l *countingLimiter) Allow(_ context.Context, key string) (bool, int64, error) {
	if l.err != nil {
		return false, 0, l.err
	}
	l.hits[key]++
	return l.hits[key] <= l.limit, max(l.limit-l.hits[key], 0), nil
}

func (l *countingLimiter) Window() time.Duration { return time.Minute }

func TestCartRateLimit(t *testing.T) {
	limiter := &countingLimiter{limit: 2, hits: map[string]int64{}}
	log := logger.Discard()
	r := newRouter(AuthRequired(secret, log), CartRateLimit(limiter, log))
	token, err := utils.GenerateJWT(secret, "u1", models.RoleUser, time.Hour)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, get(r, token).Code)
	w := get(r, token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	w = get(r, token)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.JSONEq(t, `{"error":"too many cart updates, slow down","code":"rate_limited","retry_after":60}`, w.Body.String())
}

func TestCartRateLimitFailsOpen(t *testing.T) {
	log := logger.Discard()
	token, err := utils.GenerateJWT(secret, "u1", models.RoleUser, time.Hour)
	require.NoError(t, err)

	broken := newRouter(AuthRequired(secret, log), CartRateLimit(&countingLimiter{err: errors.New("redis down")}, log))
	assert.Equal(t, http.StatusOK, get(broken, token).Code)

	disabled := newRouter(AuthRequired(secret, log), CartRateLimit(nil, log))
	assert.Equal(t, http.StatusOK, get(disabled, token).Code)
}
