package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Abdullah-AboOun/CertifyChain/internal/service"
)

// VerifyHandler serves the public chain-backed reads
type VerifyHandler struct {
	verify   *service.VerifyService
	fees     *service.FeeService
	registry *service.RegistryService
	logger   *zap.Logger
}

// NewVerifyHandler creates a new verify handler
func NewVerifyHandler(verify *service.VerifyService, fees *service.FeeService, registry *service.RegistryService, logger *zap.Logger) *VerifyHandler {
	return &VerifyHandler{
		verify:   verify,
		fees:     fees,
		registry: registry,
		logger:   logger,
	}
}

// Verify checks a certificate on the registry
// @Summary Verify certificate
// @Description A certificate the registry does not know is reported with status not_found
// @Produce json
// @Param onChainId path string true "On-chain certificate id"
// @Success 200 {object} service.VerifyResult
// @Router /api/v1/verify/{onChainId} [get]
func (h *VerifyHandler) Verify(c *gin.Context) {
	result, err := h.verify.Verify(c.Request.Context(), c.Param("onChainId"))
	if err != nil {
		respondError(c, h.logger, "failed to verify certificate", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Fees returns the current registration and issuance fees
// @Summary Get fees
// @Produce json
// @Success 200 {object} service.Fees
// @Router /api/v1/fees [get]
func (h *VerifyHandler) Fees(c *gin.Context) {
	fees, err := h.fees.GetFees(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, "failed to read fees", err)
		return
	}
	c.JSON(http.StatusOK, fees)
}

// Registry compares a wallet's registry entry with its stored entity
// @Summary Get registry status of a wallet
// @Produce json
// @Param address path string true "Wallet address"
// @Success 200 {object} service.EntityRegistration
// @Router /api/v1/wallets/{address}/registry [get]
func (h *VerifyHandler) Registry(c *gin.Context) {
	reg, err := h.registry.Lookup(c.Request.Context(), c.Param("address"))
	if err != nil {
		respondError(c, h.logger, "failed to read registry", err)
		return
	}
	c.JSON(http.StatusOK, reg)
}
