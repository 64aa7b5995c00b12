package service

import (
	"context"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/Abdullah-AboOun/CertifyChain/internal/apperr"
	"github.com/Abdullah-AboOun/CertifyChain/internal/database"
	"github.com/Abdullah-AboOun/CertifyChain/internal/database/models"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
	maxNameLength   = 200
)

// EntityService handles issuing entity operations
type EntityService struct {
	db     *database.Database
	logger *zap.Logger
}

// NewEntityService creates a new entity service
func NewEntityService(db *database.Database, logger *zap.Logger) *EntityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EntityService{
		db:     db,
		logger: logger,
	}
}

// EntityProfile holds the descriptive fields of an issuing entity
type EntityProfile struct {
	Name               string `json:"name"`
	Description        string `json:"description,omitempty"`
	OrganizationType   string `json:"organization_type,omitempty"`
	Country            string `json:"country,omitempty"`
	Website            string `json:"website,omitempty"`
	Email              string `json:"email,omitempty"`
	Phone              string `json:"phone,omitempty"`
	Address            string `json:"address,omitempty"`
	RegistrationNumber string `json:"registration_number,omitempty"`
	TaxID              string `json:"tax_id,omitempty"`
}

// Validate checks the profile fields
func (p *EntityProfile) Validate() error {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return apperr.Validation("entity name is required")
	}
	if len(name) > maxNameLength {
		return apperr.Validation("entity name exceeds %d characters", maxNameLength)
	}
	if err := validateEmail("email", p.Email); err != nil {
		return err
	}
	return validateURL("website", p.Website)
}

// CreateEntityRequest represents a request to create an issuing entity.
// BlockchainID and TransactionHash are set when the chain registration is
// already confirmed.
type CreateEntityRequest struct {
	WalletAddress string `json:"wallet_address"`
	EntityProfile
	BlockchainID    string `json:"blockchain_id,omitempty"`
	TransactionHash string `json:"transaction_hash,omitempty"`
}

// UpdateEntityRequest carries the profile fields to change; nil fields are left as is
type UpdateEntityRequest struct {
	Name               *string `json:"name,omitempty"`
	Description        *string `json:"description,omitempty"`
	OrganizationType   *string `json:"organization_type,omitempty"`
	Country            *string `json:"country,omitempty"`
	Website            *string `json:"website,omitempty"`
	Email              *string `json:"email,omitempty"`
	Phone              *string `json:"phone,omitempty"`
	Address            *string `json:"address,omitempty"`
	RegistrationNumber *string `json:"registration_number,omitempty"`
	TaxID              *string `json:"tax_id,omitempty"`
}

// EntityPage is one page of the public entity list
type EntityPage struct {
	Items      []models.IssuingEntity `json:"items"`
	NextCursor string                 `json:"next_cursor,omitempty"`
}

// CreateEntity stores a new entity for owner. The entity's wallet must be the
// owner's wallet and each wallet can hold a single entity.
func (s *EntityService) CreateEntity(ctx context.Context, owner string, req *CreateEntityRequest) (*models.IssuingEntity, error) {
	owner = normalizeAddress(owner)
	if !common.IsHexAddress(req.WalletAddress) {
		return nil, apperr.Validation("invalid wallet address %q", req.WalletAddress)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.TransactionHash != "" {
		if err := validateTxHash(req.TransactionHash); err != nil {
			return nil, err
		}
	}
	if normalizeAddress(req.WalletAddress) != owner {
		return nil, apperr.Unauthorized("wallet address does not match the signed-in wallet")
	}

	existing, err := s.GetEntityByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperr.Conflict("entity already exists for wallet %s", owner)
	}

	p := req.EntityProfile
	entity := &models.IssuingEntity{
		OwnerAddress:       owner,
		WalletAddress:      owner,
		Name:               strings.TrimSpace(p.Name),
		Description:        p.Description,
		OrganizationType:   p.OrganizationType,
		Country:            p.Country,
		Website:            p.Website,
		Email:              p.Email,
		Phone:              p.Phone,
		Address:            p.Address,
		RegistrationNumber: p.RegistrationNumber,
		TaxID:              p.TaxID,
	}
	if req.BlockchainID != "" {
		id := strings.ToLower(req.BlockchainID)
		entity.BlockchainID = &id
	}
	if req.TransactionHash != "" {
		tx := strings.ToLower(req.TransactionHash)
		entity.TransactionHash = &tx
	}
	if err := s.db.CreateEntity(ctx, entity); err != nil {
		return nil, storeError(err, "failed to create entity")
	}

	s.logger.Info("Entity created",
		zap.String("entity_id", entity.ID),
		zap.String("wallet", owner),
	)
	return entity, nil
}

// GetEntity returns an entity by id
func (s *EntityService) GetEntity(ctx context.Context, id string) (*models.IssuingEntity, error) {
	entity, err := s.db.GetEntity(ctx, id)
	if err != nil {
		return nil, storeError(err, "entity %s", id)
	}
	return entity, nil
}

// GetEntityByOwner returns the caller's entity, or nil when there is none
func (s *EntityService) GetEntityByOwner(ctx context.Context, owner string) (*models.IssuingEntity, error) {
	entity, err := s.db.GetEntityByOwner(ctx, owner)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, nil
		}
		return nil, storeError(err, "failed to look up entity")
	}
	return entity, nil
}

// GetEntityByWallet returns the entity registered for a wallet, or nil
func (s *EntityService) GetEntityByWallet(ctx context.Context, address string) (*models.IssuingEntity, error) {
	if !common.IsHexAddress(address) {
		return nil, apperr.Validation("invalid wallet address %q", address)
	}
	entity, err := s.db.GetEntityByWallet(ctx, address)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, nil
		}
		return nil, storeError(err, "failed to look up entity")
	}
	return entity, nil
}

// UpdateEntity changes the profile of an entity owned by owner
func (s *EntityService) UpdateEntity(ctx context.Context, owner, id string, req *UpdateEntityRequest) (*models.IssuingEntity, error) {
	entity, err := s.owned(ctx, owner, id)
	if err != nil {
		return nil, err
	}

	fields := map[string]any{}
	set := func(column string, v *string) {
		if v != nil {
			fields[column] = *v
		}
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		req.Name = &name
	}
	set("name", req.Name)
	set("description", req.Description)
	set("organization_type", req.OrganizationType)
	set("country", req.Country)
	set("website", req.Website)
	set("email", req.Email)
	set("phone", req.Phone)
	set("address", req.Address)
	set("registration_number", req.RegistrationNumber)
	set("tax_id", req.TaxID)
	if len(fields) == 0 {
		return entity, nil
	}

	merged := profileOf(entity)
	applyUpdate(&merged, req)
	if err := merged.Validate(); err != nil {
		return nil, err
	}

	if err := s.db.UpdateEntity(ctx, id, fields); err != nil {
		return nil, storeError(err, "failed to update entity %s", id)
	}
	return s.GetEntity(ctx, id)
}

// LinkEntityChain records the confirmed chain registration of an entity.
// txHash may be empty when the registration predates this application, in
// which case blockchainID is required. A linked transaction is never
// replaced by another one.
func (s *EntityService) LinkEntityChain(ctx context.Context, owner, id, blockchainID, txHash string) (*models.IssuingEntity, error) {
	if txHash == "" && blockchainID == "" {
		return nil, apperr.Validation("a transaction hash or blockchain id is required")
	}
	if txHash != "" {
		if err := validateTxHash(txHash); err != nil {
			return nil, err
		}
	}
	entity, err := s.owned(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	txHash = strings.ToLower(txHash)
	blockchainID = strings.ToLower(blockchainID)

	fields := map[string]any{}
	if current := entity.TransactionHash; current != nil && *current != "" {
		if txHash != "" && *current != txHash {
			return nil, apperr.Conflict("entity %s is already linked to transaction %s", id, *current)
		}
	} else if txHash != "" {
		fields["transaction_hash"] = txHash
	}
	if blockchainID != "" && (entity.BlockchainID == nil || *entity.BlockchainID == "") {
		fields["blockchain_id"] = blockchainID
	}
	if len(fields) == 0 {
		return entity, nil
	}
	if err := s.db.UpdateEntity(ctx, id, fields); err != nil {
		return nil, storeError(err, "failed to link entity %s", id)
	}

	s.logger.Info("Entity linked to chain",
		zap.String("entity_id", id),
		zap.String("blockchain_id", blockchainID),
		zap.String("tx_hash", txHash),
	)
	return s.GetEntity(ctx, id)
}

// ListEntities pages through all entities, newest first
func (s *EntityService) ListEntities(ctx context.Context, limit int, cursor string) (*EntityPage, error) {
	limit, err := pageSize(limit)
	if err != nil {
		return nil, err
	}
	entities, err := s.db.ListEntities(ctx, limit+1, cursor)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, apperr.Validation("unknown cursor %q", cursor)
		}
		return nil, storeError(err, "failed to list entities")
	}

	page := &EntityPage{Items: entities}
	if len(entities) > limit {
		page.Items = entities[:limit]
		page.NextCursor = page.Items[limit-1].ID
	}
	if page.Items == nil {
		page.Items = []models.IssuingEntity{}
	}
	return page, nil
}

func (s *EntityService) owned(ctx context.Context, owner, id string) (*models.IssuingEntity, error) {
	entity, err := s.GetEntity(ctx, id)
	if err != nil {
		return nil, err
	}
	if entity.OwnerAddress != normalizeAddress(owner) {
		return nil, apperr.Unauthorized("entity %s is not owned by the signed-in wallet", id)
	}
	return entity, nil
}

func pageSize(limit int) (int, error) {
	switch {
	case limit == 0:
		return defaultPageSize, nil
	case limit < 1 || limit > maxPageSize:
		return 0, apperr.Validation("limit must be between 1 and %d", maxPageSize)
	}
	return limit, nil
}

func profileOf(e *models.IssuingEntity) EntityProfile {
	return EntityProfile{
		Name:               e.Name,
		Description:        e.Description,
		OrganizationType:   e.OrganizationType,
		Country:            e.Country,
		Website:            e.Website,
		Email:              e.Email,
		Phone:              e.Phone,
		Address:            e.Address,
		RegistrationNumber: e.RegistrationNumber,
		TaxID:              e.TaxID,
	}
}

func applyUpdate(p *EntityProfile, req *UpdateEntityRequest) {
	for dst, src := range map[*string]*string{
		&p.Name:               req.Name,
		&p.Description:        req.Description,
		&p.OrganizationType:   req.OrganizationType,
		&p.Country:            req.Country,
		&p.Website:            req.Website,
		&p.Email:              req.Email,
		&p.Phone:              req.Phone,
		&p.Address:            req.Address,
		&p.RegistrationNumber: req.RegistrationNumber,
		&p.TaxID:              req.TaxID,
	} {
		if src != nil {
			*dst = *src
		}
	}
}
