package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Abdullah-AboOun/CertifyChain/internal/api/middleware"
	"github.com/Abdullah-AboOun/CertifyChain/internal/apperr"
	"github.com/Abdullah-AboOun/CertifyChain/internal/service"
)

// EntityHandler handles issuing entity operations
type EntityHandler struct {
	entities     *service.EntityService
	certificates *service.CertificateService
	logger       *zap.Logger
}

// NewEntityHandler creates a new entity handler
func NewEntityHandler(entities *service.EntityService, certificates *service.CertificateService, logger *zap.Logger) *EntityHandler {
	return &EntityHandler{
		entities:     entities,
		certificates: certificates,
		logger:       logger,
	}
}

// ListEntities pages through all issuing entities
// @Summary List entities
// @Produce json
// @Param limit query int false "Page size (1-100)"
// @Param cursor query string false "Cursor from the previous page"
// @Success 200 {object} service.EntityPage
// @Router /api/v1/entities [get]
func (h *EntityHandler) ListEntities(c *gin.Context) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		respondError(c, h.logger, "invalid limit", err)
		return
	}
	page, err := h.entities.ListEntities(c.Request.Context(), limit, c.Query("cursor"))
	if err != nil {
		respondError(c, h.logger, "failed to list entities", err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// ListEntityCertificates lists the certificates an entity issued
// @Summary List certificates of an entity
// @Produce json
// @Param id path string true "Entity ID"
// @Success 200 {array} service.CertificateStatus
// @Router /api/v1/entities/{id}/certificates [get]
func (h *EntityHandler) ListEntityCertificates(c *gin.Context) {
	certs, err := h.certificates.ListByEntity(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, "failed to list certificates", err)
		return
	}
	c.JSON(http.StatusOK, certs)
}

// GetWalletEntity returns the entity registered for a wallet
// @Summary Get entity by wallet
// @Produce json
// @Param address path string true "Wallet address"
// @Success 200 {object} models.IssuingEntity
// @Router /api/v1/wallets/{address}/entity [get]
func (h *EntityHandler) GetWalletEntity(c *gin.Context) {
	address := c.Param("address")
	entity, err := h.entities.GetEntityByWallet(c.Request.Context(), address)
	if err == nil && entity == nil {
		err = apperr.NotFound("no entity for wallet %s", address)
	}
	if err != nil {
		respondError(c, h.logger, "failed to get entity", err)
		return
	}
	c.JSON(http.StatusOK, entity)
}

// GetMyEntity returns the entity of the signed-in wallet
// @Summary Get own entity
// @Produce json
// @Success 200 {object} models.IssuingEntity
// @Router /api/v1/me/entity [get]
func (h *EntityHandler) GetMyEntity(c *gin.Context) {
	wallet := middleware.WalletAddress(c)
	entity, err := h.entities.GetEntityByOwner(c.Request.Context(), wallet)
	if err == nil && entity == nil {
		err = apperr.NotFound("wallet %s has no entity", wallet)
	}
	if err != nil {
		respondError(c, h.logger, "failed to get entity", err)
		return
	}
	c.JSON(http.StatusOK, entity)
}

// CreateEntity creates the entity of the signed-in wallet
// @Summary Create entity
// @Accept json
// @Produce json
// @Param request body service.CreateEntityRequest true "Entity profile"
// @Success 201 {object} models.IssuingEntity
// @Router /api/v1/entities [post]
func (h *EntityHandler) CreateEntity(c *gin.Context) {
	var req service.CreateEntityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	entity, err := h.entities.CreateEntity(c.Request.Context(), middleware.WalletAddress(c), &req)
	if err != nil {
		respondError(c, h.logger, "failed to create entity", err)
		return
	}
	c.JSON(http.StatusCreated, entity)
}

// UpdateEntity changes profile fields of an owned entity
// @Summary Update entity
// @Accept json
// @Produce json
// @Param id path string true "Entity ID"
// @Param request body service.UpdateEntityRequest true "Fields to change"
// @Success 200 {object} models.IssuingEntity
// @Router /api/v1/entities/{id} [patch]
func (h *EntityHandler) UpdateEntity(c *gin.Context) {
	var req service.UpdateEntityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	entity, err := h.entities.UpdateEntity(c.Request.Context(), middleware.WalletAddress(c), c.Param("id"), &req)
	if err != nil {
		respondError(c, h.logger, "failed to update entity", err)
		return
	}
	c.JSON(http.StatusOK, entity)
}

// LinkEntityChain records the confirmed registration of an owned entity
// @Summary Link entity to its chain registration
// @Accept json
// @Produce json
// @Param id path string true "Entity ID"
// @Param request body ChainLinkRequest true "Chain registration"
// @Success 200 {object} models.IssuingEntity
// @Router /api/v1/entities/{id}/chain [put]
func (h *EntityHandler) LinkEntityChain(c *gin.Context) {
	var req ChainLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	entity, err := h.entities.LinkEntityChain(c.Request.Context(), middleware.WalletAddress(c), c.Param("id"), req.BlockchainID, req.TransactionHash)
	if err != nil {
		respondError(c, h.logger, "failed to link entity", err)
		return
	}
	c.JSON(http.StatusOK, entity)
}
