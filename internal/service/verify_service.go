package service

import (
	"context"
	"errors"
	"math/big"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Abdullah-AboOun/CertifyChain/internal/apperr"
	"github.com/Abdullah-AboOun/CertifyChain/internal/chain"
	"github.com/Abdullah-AboOun/CertifyChain/internal/database"
	"github.com/Abdullah-AboOun/CertifyChain/internal/database/models"
)

// CertificateReader reads certificates from the registry contract
type CertificateReader interface {
	VerifyCertificate(ctx context.Context, id *big.Int) (*chain.CertificateRecord, error)
}

// FeeReader reads the registry fees
type FeeReader interface {
	RegistrationFee(ctx context.Context) (*big.Int, error)
	IssuanceFee(ctx context.Context) (*big.Int, error)
}

// VerifyService checks a certificate against the registry and the store
type VerifyService struct {
	chain  CertificateReader
	db     *database.Database
	logger *zap.Logger
}

// NewVerifyService creates a new verify service
func NewVerifyService(reader CertificateReader, db *database.Database, logger *zap.Logger) *VerifyService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VerifyService{
		chain:  reader,
		db:     db,
		logger: logger,
	}
}

// VerifyResult combines the on-chain record with the stored row.
// StoreLag is set when the store has not caught up with the chain: the row
// is missing, or its revocation flag differs.
type VerifyResult struct {
	Status      string                   `json:"status"`
	OnChainID   string                   `json:"on_chain_id"`
	Chain       *chain.CertificateRecord `json:"chain,omitempty"`
	Certificate *models.Certificate      `json:"certificate,omitempty"`
	StoreLag    bool                     `json:"store_lag"`
	HashMatches *bool                    `json:"hash_matches,omitempty"`
}

// Verify looks up an on-chain id. A certificate that was never issued yields
// a result with status not_found rather than an error.
func (s *VerifyService) Verify(ctx context.Context, onChainID string) (*VerifyResult, error) {
	id, err := chain.ParseOnChainID(onChainID)
	if err != nil {
		return nil, err
	}
	result := &VerifyResult{OnChainID: chain.FormatOnChainID(id)}

	rec, err := s.chain.VerifyCertificate(ctx, id)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			result.Status = StatusNotFound
			return result, nil
		}
		return nil, err
	}
	result.Chain = rec
	result.Status = StatusValid
	if rec.IsRevoked {
		result.Status = StatusRevoked
	}

	cert, err := s.db.GetCertificateByBlockchainID(ctx, result.OnChainID)
	switch {
	case errors.Is(err, database.ErrNotFound):
		result.StoreLag = true
	case err != nil:
		// the chain answer stands on its own
		s.logger.Warn("Failed to load stored certificate",
			zap.String("on_chain_id", result.OnChainID),
			zap.Error(err),
		)
	default:
		result.Certificate = cert
		matches := strings.EqualFold(cert.CertificateHash, rec.Hash)
		result.HashMatches = &matches
		result.StoreLag = cert.IsRevoked != rec.IsRevoked
	}
	return result, nil
}

// FeeService reads the current registry fees
type FeeService struct {
	chain FeeReader
}

// NewFeeService creates a new fee service
func NewFeeService(reader FeeReader) *FeeService {
	return &FeeService{chain: reader}
}

// Fees lists both fees in wei and in ether
type Fees struct {
	RegistrationWei string `json:"registration_fee_wei"`
	Registration    string `json:"registration_fee"`
	IssuanceWei     string `json:"issuance_fee_wei"`
	Issuance        string `json:"issuance_fee"`
}

// GetFees reads both fees concurrently
func (s *FeeService) GetFees(ctx context.Context) (*Fees, error) {
	var registration, issuance *big.Int
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		registration, err = s.chain.RegistrationFee(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		issuance, err = s.chain.IssuanceFee(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &Fees{
		RegistrationWei: registration.String(),
		Registration:    chain.FormatEther(registration),
		IssuanceWei:     issuance.String(),
		Issuance:        chain.FormatEther(issuance),
	}, nil
}
