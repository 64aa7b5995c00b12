package service

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Abdullah-AboOun/CertifyChain/internal/apperr"
	"github.com/Abdullah-AboOun/CertifyChain/internal/chain"
	"github.com/Abdullah-AboOun/CertifyChain/internal/database"
	"github.com/Abdullah-AboOun/CertifyChain/internal/database/models"
)

// EntityReader reads issuing entities from the registry contract
type EntityReader interface {
	IsEntityRegistered(ctx context.Context, address common.Address) (bool, error)
	EntityInfo(ctx context.Context, address common.Address) (*chain.EntityInfo, error)
	EntityCertificates(ctx context.Context, address common.Address) ([]*big.Int, error)
}

// RegistryService compares a wallet's registry entry with its stored entity
type RegistryService struct {
	chain  EntityReader
	db     *database.Database
	logger *zap.Logger
}

// NewRegistryService creates a new registry service
func NewRegistryService(reader EntityReader, db *database.Database, logger *zap.Logger) *RegistryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RegistryService{
		chain:  reader,
		db:     db,
		logger: logger,
	}
}

// EntityRegistration is the registry's view of a wallet next to the stored
// entity. StoreLag is set when the wallet is registered but the row is
// missing or unlinked; UnconfirmedLink when the row carries a chain link the
// registry does not know.
type EntityRegistration struct {
	WalletAddress    string                `json:"wallet_address"`
	Registered       bool                  `json:"registered"`
	Name             string                `json:"name,omitempty"`
	IsActive         bool                  `json:"is_active"`
	RegisteredAt     *time.Time            `json:"registered_at,omitempty"`
	CertificateCount string                `json:"certificate_count"`
	Certificates     []string              `json:"certificates"`
	Entity           *models.IssuingEntity `json:"entity,omitempty"`
	StoreLag         bool                  `json:"store_lag"`
	UnconfirmedLink  bool                  `json:"unconfirmed_link"`
}

// Lookup reads the registry entry and on-chain certificate ids of address.
func (s *RegistryService) Lookup(ctx context.Context, address string) (*EntityRegistration, error) {
	if !common.IsHexAddress(address) {
		return nil, apperr.Validation("invalid wallet address %q", address)
	}
	wallet := common.HexToAddress(address)
	reg := &EntityRegistration{
		WalletAddress:    strings.ToLower(wallet.Hex()),
		CertificateCount: "0",
		Certificates:     []string{},
	}

	entity, err := s.db.GetEntityByWallet(ctx, reg.WalletAddress)
	switch {
	case errors.Is(err, database.ErrNotFound):
	case err != nil:
		return nil, storeError(err, "failed to look up entity")
	default:
		reg.Entity = entity
	}

	registered, err := s.chain.IsEntityRegistered(ctx, wallet)
	if err != nil {
		return nil, err
	}
	reg.Registered = registered
	if !registered {
		reg.UnconfirmedLink = entity != nil && entity.OnChain()
		return reg, nil
	}
	reg.StoreLag = entity == nil || !entity.OnChain()

	var (
		info *chain.EntityInfo
		ids  []*big.Int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		info, err = s.chain.EntityInfo(gctx, wallet)
		return err
	})
	g.Go(func() error {
		var err error
		ids, err = s.chain.EntityCertificates(gctx, wallet)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	reg.Name = info.Name
	reg.IsActive = info.IsActive
	if !info.RegisteredAt.IsZero() && info.RegisteredAt.Unix() > 0 {
		at := info.RegisteredAt
		reg.RegisteredAt = &at
	}
	if info.CertCount != nil {
		reg.CertificateCount = info.CertCount.String()
	}
	for _, id := range ids {
		reg.Certificates = append(reg.Certificates, chain.FormatOnChainID(id))
	}
	return reg, nil
}
