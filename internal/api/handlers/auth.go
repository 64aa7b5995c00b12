package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Abdullah-AboOun/CertifyChain/internal/api/middleware"
	"github.com/Abdullah-AboOun/CertifyChain/internal/apperr"
	"github.com/Abdullah-AboOun/CertifyChain/internal/auth"
	"github.com/Abdullah-AboOun/CertifyChain/internal/config"
)

// AuthHandler handles wallet sign-in
type AuthHandler struct {
	jwt     config.JWTConfig
	session config.SessionConfig
	logger  *zap.Logger
	now     func() time.Time
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(cfg *config.Config, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		jwt:     cfg.JWT,
		session: cfg.Session,
		logger:  logger,
		now:     time.Now,
	}
}

// SignInRequest is a signed sign-in challenge
type SignInRequest struct {
	Message   string `json:"message" binding:"required"`
	Signature string `json:"signature" binding:"required"`
	Address   string `json:"address" binding:"required"`
}

// SignInResponse carries the session token
type SignInResponse struct {
	Token         string    `json:"token"`
	WalletAddress string    `json:"wallet_address"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// SignIn exchanges a signed challenge for a session token
// @Summary Wallet sign-in
// @Description Verify an EIP-191 signature over the sign-in challenge and return a JWT
// @Accept json
// @Produce json
// @Param request body SignInRequest true "Signed challenge"
// @Success 200 {object} SignInResponse
// @Router /api/v1/auth/signin [post]
func (h *AuthHandler) SignIn(c *gin.Context) {
	var req SignInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	now := h.now()
	wallet, err := auth.VerifySignIn(req.Message, req.Signature, req.Address, h.session.ChallengeMaxAge, now)
	if err != nil {
		h.logger.Warn("Sign-in failed", zap.String("address", req.Address), zap.Error(err))
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: err.Error(), Code: apperr.KindUnauthorized})
		return
	}

	token, err := auth.GenerateToken(wallet, h.jwt.Secret, h.jwt.Issuer, h.jwt.Expiration)
	if err != nil {
		respondError(c, h.logger, "failed to issue session token", err)
		return
	}

	h.logger.Info("Wallet signed in", zap.String("wallet", wallet))
	c.JSON(http.StatusOK, SignInResponse{
		Token:         token,
		WalletAddress: wallet,
		ExpiresAt:     now.Add(h.jwt.Expiration).UTC(),
	})
}

// GetCurrentUser returns the signed-in wallet
// @Summary Get current session
// @Success 200 {object} map[string]string
// @Router /api/v1/auth/me [get]
func (h *AuthHandler) GetCurrentUser(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"wallet_address": middleware.WalletAddress(c),
	})
}
