package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Abdullah-AboOun/CertifyChain/internal/auth"
	"github.com/Abdullah-AboOun/CertifyChain/internal/config"
)

const testWallet = "0x00000000000000000000000000000000000A11CE"

func setupTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

func TestAuthMiddleware(t *testing.T) {
	cfg := &config.Config{
		JWT: config.JWTConfig{
			Secret:     "test-secret-key-for-testing",
			Expiration: 24 * time.Hour,
			Issuer:     "test-issuer",
		},
	}

	newRouter := func() *gin.Engine {
		router := setupTestRouter()
		router.Use(AuthMiddleware(cfg))
		router.GET("/api/v1/me/entity", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"wallet_address": WalletAddress(c)})
		})
		return router
	}

	do := func(router *gin.Engine, header string) *httptest.ResponseRecorder {
		req, _ := http.NewRequest(http.MethodGet, "/api/v1/me/entity", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	t.Run("Valid token sets the lower-cased wallet", func(t *testing.T) {
		token, err := auth.GenerateToken(testWallet, cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.Expiration)
		require.NoError(t, err)

		w := do(newRouter(), "Bearer "+token)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"wallet_address":"0x00000000000000000000000000000000000a11ce"}`, w.Body.String())
	})

	t.Run("Missing Authorization header returns 401", func(t *testing.T) {
		w := do(newRouter(), "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "authorization header required")
		assert.Contains(t, w.Body.String(), `"code":"unauthorized"`)
	})

	t.Run("Invalid Authorization header format returns 401", func(t *testing.T) {
		router := newRouter()
		testCases := []struct {
			name   string
			header string
		}{
			{"No Bearer prefix", "invalid-token"},
			{"Wrong prefix", "Basic invalid-token"},
			{"Only Bearer", "Bearer"},
			{"Empty after Bearer", "Bearer "},
		}

		for _, tc := range testCases {
			t.Run(tc.name, func(t *testing.T) {
				assert.Equal(t, http.StatusUnauthorized, do(router, tc.header).Code)
			})
		}
	})

	t.Run("Invalid token returns 401", func(t *testing.T) {
		w := do(newRouter(), "Bearer invalid-token")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "invalid or expired token")
	})

	t.Run("Expired token returns 401", func(t *testing.T) {
		token, err := auth.GenerateToken(testWallet, cfg.JWT.Secret, cfg.JWT.Issuer, -1*time.Hour)
		require.NoError(t, err)

		w := do(newRouter(), "Bearer "+token)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "invalid or expired token")
	})

	t.Run("Token signed with wrong secret returns 401", func(t *testing.T) {
		token, err := auth.GenerateToken(testWallet, "wrong-secret-key", cfg.JWT.Issuer, 24*time.Hour)
		require.NoError(t, err)

		w := do(newRouter(), "Bearer "+token)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Handler is not reached without a session", func(t *testing.T) {
		router := setupTestRouter()
		router.Use(AuthMiddleware(cfg))
		reached := false
		router.GET("/api/v1/me/certificates", func(c *gin.Context) {
			reached = true
		})

		req, _ := http.NewRequest(http.MethodGet, "/api/v1/me/certificates", nil)
		router.ServeHTTP(httptest.NewRecorder(), req)
		assert.False(t, reached)
	})
}

func TestWalletAddressOutsideAuth(t *testing.T) {
	router := setupTestRouter()
	router.GET("/api/v1/fees", func(c *gin.Context) {
		c.String(http.StatusOK, WalletAddress(c))
	})

	req, _ := http.NewRequest(http.MethodGet, "/api/v1/fees", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Empty(t, w.Body.String())
}
