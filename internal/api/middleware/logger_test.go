package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Abdullah-AboOun/CertifyChain/internal/auth"
	"github.com/Abdullah-AboOun/CertifyChain/internal/config"
)

func loggedRequest(t *testing.T, register func(*gin.Engine), req *http.Request) (int, map[string]interface{}) {
	t.Helper()
	core, recorded := observer.New(zapcore.InfoLevel)

	router := setupTestRouter()
	router.Use(LoggerMiddleware(zap.New(core)))
	register(router)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	logs := recorded.All()
	require.Len(t, logs, 1)
	assert.Equal(t, "HTTP request", logs[0].Message)
	return w.Code, logs[0].ContextMap()
}

func TestLoggerMiddleware(t *testing.T) {
	t.Run("Logs successful request", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, "/api/v1/fees?unit=wei", nil)
		req.Header.Set("User-Agent", "certifychain-cli")
		code, fields := loggedRequest(t, func(r *gin.Engine) {
			r.GET("/api/v1/fees", func(c *gin.Context) {
				time.Sleep(5 * time.Millisecond)
				c.JSON(http.StatusOK, gin.H{})
			})
		}, req)

		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "GET", fields["method"])
		assert.Equal(t, "/api/v1/fees", fields["path"])
		assert.Equal(t, "unit=wei", fields["query"])
		assert.Equal(t, int64(200), fields["status"])
		assert.Equal(t, "certifychain-cli", fields["user_agent"])
		assert.NotEmpty(t, fields["ip"])
		latency, ok := fields["latency"].(time.Duration)
		assert.True(t, ok)
		assert.GreaterOrEqual(t, latency, 5*time.Millisecond)
		assert.NotContains(t, fields, "wallet")
	})

	t.Run("Logs error status", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPost, "/api/v1/certificates", nil)
		code, fields := loggedRequest(t, func(r *gin.Engine) {
			r.POST("/api/v1/certificates", func(c *gin.Context) {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "database unavailable"})
			})
		}, req)

		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, int64(503), fields["status"])
	})

	t.Run("Logs unmatched route", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, "/api/v1/nothing", nil)
		_, fields := loggedRequest(t, func(r *gin.Engine) {}, req)
		assert.Equal(t, int64(404), fields["status"])
		assert.Equal(t, "/api/v1/nothing", fields["path"])
	})

	t.Run("Logs the session wallet", func(t *testing.T) {
		cfg := &config.Config{JWT: config.JWTConfig{Secret: "test-secret-key-for-testing"}}
		token, err := auth.GenerateToken(testWallet, cfg.JWT.Secret, "test", time.Hour)
		require.NoError(t, err)

		req, _ := http.NewRequest(http.MethodGet, "/api/v1/me/entity", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		_, fields := loggedRequest(t, func(r *gin.Engine) {
			r.GET("/api/v1/me/entity", AuthMiddleware(cfg), func(c *gin.Context) {
				c.Status(http.StatusNoContent)
			})
		}, req)
		assert.Equal(t, "0x00000000000000000000000000000000000a11ce", fields["wallet"])
	})
}
