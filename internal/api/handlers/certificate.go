package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Abdullah-AboOun/CertifyChain/internal/api/middleware"
	"github.com/Abdullah-AboOun/CertifyChain/internal/apperr"
	"github.com/Abdullah-AboOun/CertifyChain/internal/database/models"
	"github.com/Abdullah-AboOun/CertifyChain/internal/service"
)

// CertificateHandler handles certificate operations
type CertificateHandler struct {
	certificates *service.CertificateService
	logger       *zap.Logger
}

// NewCertificateHandler creates a new certificate handler
func NewCertificateHandler(certificates *service.CertificateService, logger *zap.Logger) *CertificateHandler {
	return &CertificateHandler{
		certificates: certificates,
		logger:       logger,
	}
}

// RevokeRequest optionally carries the revocation transaction
type RevokeRequest struct {
	RevokeTxHash string `json:"revoke_tx_hash"`
}

// Search lists certificates matching the query
// @Summary Search certificates
// @Produce json
// @Param q query string false "Recipient name, email or hash"
// @Param recipient_email query string false "Exact recipient email"
// @Param is_revoked query bool false "Revocation filter"
// @Param limit query int false "Page size (1-100)"
// @Param cursor query string false "Cursor from the previous page"
// @Success 200 {object} service.SearchResult
// @Router /api/v1/certificates [get]
func (h *CertificateHandler) Search(c *gin.Context) {
	req := &service.SearchRequest{
		Query:          c.Query("q"),
		RecipientEmail: c.Query("recipient_email"),
		Cursor:         c.Query("cursor"),
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		respondError(c, h.logger, "invalid limit", err)
		return
	}
	req.Limit = limit
	if v := c.Query("is_revoked"); v != "" {
		revoked, err := strconv.ParseBool(v)
		if err != nil {
			respondError(c, h.logger, "invalid is_revoked", apperr.Validation("invalid is_revoked %q", v))
			return
		}
		req.IsRevoked = &revoked
	}

	result, err := h.certificates.Search(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, "failed to search certificates", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetCertificate returns a certificate with its status
// @Summary Get certificate
// @Produce json
// @Param id path int true "Certificate ID"
// @Success 200 {object} service.CertificateStatus
// @Router /api/v1/certificates/{id} [get]
func (h *CertificateHandler) GetCertificate(c *gin.Context) {
	id, err := certificateID(c)
	if err != nil {
		respondError(c, h.logger, "invalid certificate id", err)
		return
	}

	cert, err := h.certificates.GetCertificate(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, "failed to get certificate", err)
		return
	}
	c.JSON(http.StatusOK, service.BuildCertificateStatus(cert))
}

// Lookup finds a certificate by on-chain id or content hash
// @Summary Look up certificate
// @Produce json
// @Param blockchain_id query string false "On-chain certificate id"
// @Param hash query string false "Certificate hash"
// @Success 200 {object} service.CertificateStatus
// @Router /api/v1/lookup/certificate [get]
func (h *CertificateHandler) Lookup(c *gin.Context) {
	ctx := c.Request.Context()
	var (
		cert *models.Certificate
		err  error
	)
	switch {
	case c.Query("blockchain_id") != "":
		cert, err = h.certificates.GetByBlockchainID(ctx, c.Query("blockchain_id"))
	case c.Query("hash") != "":
		cert, err = h.certificates.GetByHash(ctx, c.Query("hash"))
	default:
		err = apperr.Validation("blockchain_id or hash is required")
	}
	if err != nil {
		respondError(c, h.logger, "failed to look up certificate", err)
		return
	}
	c.JSON(http.StatusOK, service.BuildCertificateStatus(cert))
}

// ListMine lists the certificates issued by the signed-in wallet
// @Summary List own certificates
// @Produce json
// @Success 200 {array} service.CertificateStatus
// @Router /api/v1/me/certificates [get]
func (h *CertificateHandler) ListMine(c *gin.Context) {
	certs, err := h.certificates.ListByOwner(c.Request.Context(), middleware.WalletAddress(c))
	if err != nil {
		respondError(c, h.logger, "failed to list certificates", err)
		return
	}
	c.JSON(http.StatusOK, certs)
}

// CreateCertificate stores a new certificate for an owned entity
// @Summary Create certificate
// @Accept json
// @Produce json
// @Param request body service.CreateCertificateRequest true "Certificate"
// @Success 201 {object} models.Certificate
// @Router /api/v1/certificates [post]
func (h *CertificateHandler) CreateCertificate(c *gin.Context) {
	var req service.CreateCertificateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	cert, err := h.certificates.CreateCertificate(c.Request.Context(), middleware.WalletAddress(c), &req)
	if err != nil {
		respondError(c, h.logger, "failed to create certificate", err)
		return
	}
	c.JSON(http.StatusCreated, cert)
}

// AttachChainID records the on-chain id of an owned certificate
// @Summary Attach on-chain id
// @Accept json
// @Produce json
// @Param id path int true "Certificate ID"
// @Param request body ChainLinkRequest true "Chain issuance"
// @Success 200 {object} models.Certificate
// @Router /api/v1/certificates/{id}/chain [put]
func (h *CertificateHandler) AttachChainID(c *gin.Context) {
	id, err := certificateID(c)
	if err != nil {
		respondError(c, h.logger, "invalid certificate id", err)
		return
	}
	var req ChainLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	cert, err := h.certificates.AttachChainID(c.Request.Context(), middleware.WalletAddress(c), id, req.BlockchainID, req.TransactionHash)
	if err != nil {
		respondError(c, h.logger, "failed to attach chain id", err)
		return
	}
	c.JSON(http.StatusOK, cert)
}

// RevokeCertificate marks an owned certificate revoked
// @Summary Revoke certificate
// @Accept json
// @Produce json
// @Param id path int true "Certificate ID"
// @Param request body RevokeRequest false "Revocation transaction"
// @Success 200 {object} models.Certificate
// @Router /api/v1/certificates/{id}/revoke [put]
func (h *CertificateHandler) RevokeCertificate(c *gin.Context) {
	id, err := certificateID(c)
	if err != nil {
		respondError(c, h.logger, "invalid certificate id", err)
		return
	}
	var req RevokeRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}

	cert, err := h.certificates.RevokeCertificate(c.Request.Context(), middleware.WalletAddress(c), id, req.RevokeTxHash)
	if err != nil {
		respondError(c, h.logger, "failed to revoke certificate", err)
		return
	}
	c.JSON(http.StatusOK, cert)
}
