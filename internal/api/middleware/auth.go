// Package middleware provides HTTP middleware functions for the CertifyChain API server.
// It includes authentication, logging, CORS handling, rate limiting and request metrics
// that are applied to HTTP requests before they reach the handlers.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Abdullah-AboOun/CertifyChain/internal/apperr"
	"github.com/Abdullah-AboOun/CertifyChain/internal/auth"
	"github.com/Abdullah-AboOun/CertifyChain/internal/config"
)

// WalletAddressKey is the context key holding the lower-cased wallet address
// of an authenticated request.
const WalletAddressKey = "wallet_address"

// AuthMiddleware validates JWT tokens and sets the wallet context
func AuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Get token from Authorization header
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortUnauthorized(c, "authorization header required")
			return
		}

		// Extract token from "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
			abortUnauthorized(c, "invalid authorization header format")
			return
		}

		claims, err := auth.ValidateToken(parts[1], cfg.JWT.Secret)
		if err != nil {
			abortUnauthorized(c, "invalid or expired token")
			return
		}

		c.Set(WalletAddressKey, claims.WalletAddress)
		c.Next()
	}
}

// WalletAddress returns the authenticated wallet of the request, or the
// empty string outside AuthMiddleware.
func WalletAddress(c *gin.Context) string {
	return c.GetString(WalletAddressKey)
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg, "code": apperr.KindUnauthorized})
}
