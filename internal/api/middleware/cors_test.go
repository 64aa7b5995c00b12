package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/Abdullah-AboOun/CertifyChain/internal/config"
)

func corsRouter(enabled bool, origins ...string) *gin.Engine {
	cfg := &config.Config{
		Security: config.SecurityConfig{
			CORSEnabled: enabled,
			CORSOrigins: origins,
		},
	}
	router := setupTestRouter()
	router.Use(CORSMiddleware(cfg))
	handler := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"method": c.Request.Method})
	}
	router.GET("/api/v1/certificates", handler)
	router.POST("/api/v1/certificates", handler)
	router.PUT("/api/v1/certificates", handler)
	router.PATCH("/api/v1/certificates", handler)
	return router
}

func preflight(router *gin.Engine, origin, method, headers string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(http.MethodOptions, "/api/v1/certificates", nil)
	req.Header.Set("Origin", origin)
	req.Header.Set("Access-Control-Request-Method", method)
	if headers != "" {
		req.Header.Set("Access-Control-Request-Headers", headers)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCORSMiddleware(t *testing.T) {
	const dashboard = "http://localhost:3000"

	t.Run("Preflight from allowed origin", func(t *testing.T) {
		w := preflight(corsRouter(true, dashboard, "http://localhost:8000"), dashboard, "GET", "")
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Origin"), dashboard)
	})

	t.Run("Actual request from allowed origin", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, "/api/v1/certificates", nil)
		req.Header.Set("Origin", dashboard)
		w := httptest.NewRecorder()
		corsRouter(true, dashboard).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, dashboard, w.Header().Get("Access-Control-Allow-Origin"))
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))
		assert.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), "Retry-After")
	})

	t.Run("Disallowed origin gets no allow header", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, "/api/v1/certificates", nil)
		req.Header.Set("Origin", "http://evil.com")
		w := httptest.NewRecorder()
		corsRouter(true, dashboard).ServeHTTP(w, req)

		assert.NotEqual(t, "http://evil.com", w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("Wildcard allows any origin", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, "/api/v1/certificates", nil)
		req.Header.Set("Origin", "https://verifier.example")
		w := httptest.NewRecorder()
		corsRouter(true, "*").ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("Disabled sets no headers", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, "/api/v1/certificates", nil)
		req.Header.Set("Origin", dashboard)
		w := httptest.NewRecorder()
		corsRouter(false).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("API methods are allowed", func(t *testing.T) {
		router := corsRouter(true, dashboard)
		for _, method := range []string{"GET", "POST", "PUT", "PATCH"} {
			t.Run(method, func(t *testing.T) {
				w := preflight(router, dashboard, method, "")
				assert.Equal(t, http.StatusNoContent, w.Code)
				assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), method)
			})
		}
	})

	t.Run("Authorization header is allowed", func(t *testing.T) {
		w := preflight(corsRouter(true, dashboard), dashboard, "POST", "Authorization,Content-Type")
		allowed := w.Header().Get("Access-Control-Allow-Headers")
		assert.Contains(t, allowed, "Authorization")
		assert.Contains(t, allowed, "Content-Type")
	})
}
