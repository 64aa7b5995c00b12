package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Abdullah-AboOun/CertifyChain/internal/apperr"
	"github.com/Abdullah-AboOun/CertifyChain/internal/chain"
	"github.com/Abdullah-AboOun/CertifyChain/internal/database"
	"github.com/Abdullah-AboOun/CertifyChain/internal/database/models"
)

// Certificate status values
const (
	StatusValid        = "valid"
	StatusRevoked      = "revoked"
	StatusPendingChain = "pending_chain"
	StatusNotFound     = "not_found"
)

// CertificateService handles certificate operations
type CertificateService struct {
	db     *database.Database
	logger *zap.Logger
	now    func() time.Time
}

// NewCertificateService creates a new certificate service
func NewCertificateService(db *database.Database, logger *zap.Logger) *CertificateService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CertificateService{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

// CreateCertificateRequest represents a request to issue a certificate
type CreateCertificateRequest struct {
	IssuerID       string `json:"issuer_id"`
	RecipientName  string `json:"recipient_name"`
	RecipientEmail string `json:"recipient_email,omitempty"`
	Description    string `json:"description,omitempty"`
	DocumentURL    string `json:"document_url,omitempty"`
}

// Validate checks the request fields
func (r *CreateCertificateRequest) Validate() error {
	if strings.TrimSpace(r.IssuerID) == "" {
		return apperr.Validation("issuer_id is required")
	}
	return r.ValidatePayload()
}

// ValidatePayload checks the recipient and document fields only
func (r *CreateCertificateRequest) ValidatePayload() error {
	name := strings.TrimSpace(r.RecipientName)
	if name == "" {
		return apperr.Validation("recipient name is required")
	}
	if len(name) > maxNameLength {
		return apperr.Validation("recipient name exceeds %d characters", maxNameLength)
	}
	if err := validateEmail("recipient email", r.RecipientEmail); err != nil {
		return err
	}
	// local uploads are served from a relative path
	if strings.HasPrefix(r.DocumentURL, "/") {
		return nil
	}
	return validateURL("document URL", r.DocumentURL)
}

// SearchRequest filters the public certificate search
type SearchRequest struct {
	Query          string
	RecipientEmail string
	IsRevoked      *bool
	Limit          int
	Cursor         string
}

// SearchResult is one page of search results
type SearchResult struct {
	Items      []*CertificateStatus `json:"items"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

// CertificateStatus represents a certificate with status information
type CertificateStatus struct {
	*models.Certificate
	Status     string `json:"status"`
	IssuerName string `json:"issuer_name,omitempty"`
}

// ComputeCertificateHash returns the content hash anchored on-chain: the hex
// SHA-256 of "recipient|email|issuer|issuedAtMillis".
func ComputeCertificateHash(recipientName, recipientEmail, issuerName string, issuedAt time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%d", recipientName, recipientEmail, issuerName, issuedAt.UnixMilli())))
	return hex.EncodeToString(sum[:])
}

// CreateCertificate stores a new certificate for an entity owned by owner.
// The hash is computed here so the chain payload and the row always agree.
func (s *CertificateService) CreateCertificate(ctx context.Context, owner string, req *CreateCertificateRequest) (*models.Certificate, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	issuer, err := s.db.GetEntity(ctx, req.IssuerID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, apperr.Unauthorized("issuer %s is not an entity of the signed-in wallet", req.IssuerID)
		}
		return nil, storeError(err, "failed to look up issuer")
	}
	if issuer.OwnerAddress != normalizeAddress(owner) {
		return nil, apperr.Unauthorized("issuer %s is not an entity of the signed-in wallet", req.IssuerID)
	}

	issuedAt := time.UnixMilli(s.now().UnixMilli())
	name := strings.TrimSpace(req.RecipientName)
	cert := &models.Certificate{
		CertificateHash: ComputeCertificateHash(name, req.RecipientEmail, issuer.Name, issuedAt),
		RecipientName:   name,
		Description:     req.Description,
		DocumentURL:     req.DocumentURL,
		IssuedAt:        issuedAt,
		IssuerID:        issuer.ID,
	}
	if req.RecipientEmail != "" {
		email := req.RecipientEmail
		cert.RecipientEmail = &email
	}

	if err := s.db.CreateCertificate(ctx, cert); err != nil {
		return nil, storeError(err, "failed to create certificate")
	}
	cert.Issuer = issuer

	s.logger.Info("Certificate created",
		zap.Uint("certificate_id", cert.ID),
		zap.String("issuer_id", issuer.ID),
		zap.String("hash", cert.CertificateHash),
	)
	return cert, nil
}

// GetCertificate returns a certificate by id
func (s *CertificateService) GetCertificate(ctx context.Context, id uint) (*models.Certificate, error) {
	cert, err := s.db.GetCertificate(ctx, id)
	if err != nil {
		return nil, storeError(err, "certificate %d", id)
	}
	return cert, nil
}

// GetByBlockchainID returns the certificate anchored under an on-chain id,
// given as hex or decimal
func (s *CertificateService) GetByBlockchainID(ctx context.Context, onChainID string) (*models.Certificate, error) {
	id, err := chain.ParseOnChainID(onChainID)
	if err != nil {
		return nil, err
	}
	cert, err := s.db.GetCertificateByBlockchainID(ctx, chain.FormatOnChainID(id))
	if err != nil {
		return nil, storeError(err, "certificate with on-chain id %s", onChainID)
	}
	return cert, nil
}

// GetByHash returns the certificate with a content hash
func (s *CertificateService) GetByHash(ctx context.Context, hash string) (*models.Certificate, error) {
	hash = strings.TrimPrefix(strings.ToLower(hash), "0x")
	if !hashPattern.MatchString(hash) {
		return nil, apperr.Validation("invalid certificate hash %q", hash)
	}
	cert, err := s.db.GetCertificateByHash(ctx, hash)
	if err != nil {
		return nil, storeError(err, "certificate with hash %s", hash)
	}
	return cert, nil
}

// AttachChainID links a certificate owned by owner to its on-chain record
func (s *CertificateService) AttachChainID(ctx context.Context, owner string, id uint, onChainID, txHash string) (*models.Certificate, error) {
	chainID, err := chain.ParseOnChainID(onChainID)
	if err != nil {
		return nil, err
	}
	if err := validateTxHash(txHash); err != nil {
		return nil, err
	}
	if _, err := s.owned(ctx, owner, id); err != nil {
		return nil, err
	}

	normalized := chain.FormatOnChainID(chainID)
	if err := s.db.AttachCertificateChainID(ctx, id, normalized, strings.ToLower(txHash)); err != nil {
		return nil, storeError(err, "failed to attach on-chain id to certificate %d", id)
	}

	s.logger.Info("Certificate anchored",
		zap.Uint("certificate_id", id),
		zap.String("on_chain_id", normalized),
		zap.String("tx_hash", txHash),
	)
	return s.GetCertificate(ctx, id)
}

// RevokeCertificate revokes a certificate owned by owner. A revoked
// certificate is returned unchanged, except that a missing revocation
// transaction hash is filled in.
func (s *CertificateService) RevokeCertificate(ctx context.Context, owner string, id uint, revokeTxHash string) (*models.Certificate, error) {
	var txHash *string
	if revokeTxHash != "" {
		if err := validateTxHash(revokeTxHash); err != nil {
			return nil, err
		}
		lower := strings.ToLower(revokeTxHash)
		txHash = &lower
	}
	cert, err := s.owned(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	if cert.IsRevoked {
		if txHash == nil || cert.RevokeTxHash != nil && *cert.RevokeTxHash != "" {
			return cert, nil
		}
		filled, err := s.db.FillRevokeTxHash(ctx, id, *txHash)
		if err != nil {
			return nil, storeError(err, "failed to record revocation of certificate %d", id)
		}
		if !filled {
			return cert, nil
		}
		s.logger.Info("Revocation transaction recorded",
			zap.Uint("certificate_id", id),
			zap.String("tx_hash", *txHash),
		)
		return s.GetCertificate(ctx, id)
	}

	changed, err := s.db.RevokeCertificate(ctx, id, s.now(), txHash)
	if err != nil {
		return nil, storeError(err, "failed to revoke certificate %d", id)
	}
	if changed {
		s.logger.Info("Certificate revoked", zap.Uint("certificate_id", id))
	}
	return s.GetCertificate(ctx, id)
}

// ListByOwner returns the certificates issued by owner's entity, most recent first
func (s *CertificateService) ListByOwner(ctx context.Context, owner string) ([]*CertificateStatus, error) {
	issuer, err := s.db.GetEntityByOwner(ctx, owner)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return []*CertificateStatus{}, nil
		}
		return nil, storeError(err, "failed to look up entity")
	}
	return s.listByIssuer(ctx, issuer)
}

// ListByEntity returns the certificates issued by an entity, most recent first
func (s *CertificateService) ListByEntity(ctx context.Context, entityID string) ([]*CertificateStatus, error) {
	issuer, err := s.db.GetEntity(ctx, entityID)
	if err != nil {
		return nil, storeError(err, "entity %s", entityID)
	}
	return s.listByIssuer(ctx, issuer)
}

func (s *CertificateService) listByIssuer(ctx context.Context, issuer *models.IssuingEntity) ([]*CertificateStatus, error) {
	certs, err := s.db.ListCertificatesByIssuer(ctx, issuer.ID)
	if err != nil {
		return nil, storeError(err, "failed to list certificates")
	}
	result := make([]*CertificateStatus, len(certs))
	for i := range certs {
		certs[i].Issuer = issuer
		result[i] = BuildCertificateStatus(&certs[i])
	}
	return result, nil
}

// Search matches a keyword against recipient name, email and hash
func (s *CertificateService) Search(ctx context.Context, req *SearchRequest) (*SearchResult, error) {
	limit, err := pageSize(req.Limit)
	if err != nil {
		return nil, err
	}
	var cursor uint64
	if req.Cursor != "" {
		cursor, err = strconv.ParseUint(req.Cursor, 10, 64)
		if err != nil || cursor == 0 {
			return nil, apperr.Validation("invalid cursor %q", req.Cursor)
		}
	}

	certs, err := s.db.SearchCertificates(ctx, database.CertificateFilter{
		Query:          strings.TrimSpace(req.Query),
		RecipientEmail: strings.TrimSpace(req.RecipientEmail),
		IsRevoked:      req.IsRevoked,
		Cursor:         uint(cursor),
		Limit:          limit + 1,
	})
	if err != nil {
		return nil, storeError(err, "failed to search certificates")
	}

	result := &SearchResult{}
	if len(certs) > limit {
		certs = certs[:limit]
		result.NextCursor = strconv.FormatUint(uint64(certs[limit-1].ID), 10)
	}
	result.Items = make([]*CertificateStatus, len(certs))
	for i := range certs {
		result.Items[i] = BuildCertificateStatus(&certs[i])
	}
	return result, nil
}

func (s *CertificateService) owned(ctx context.Context, owner string, id uint) (*models.Certificate, error) {
	cert, err := s.GetCertificate(ctx, id)
	if err != nil {
		return nil, err
	}
	if cert.Issuer == nil || cert.Issuer.OwnerAddress != normalizeAddress(owner) {
		return nil, apperr.Unauthorized("certificate %d was not issued by the signed-in wallet", id)
	}
	return cert, nil
}

// BuildCertificateStatus derives the display status of a stored certificate
func BuildCertificateStatus(cert *models.Certificate) *CertificateStatus {
	status := &CertificateStatus{Certificate: cert}
	if cert.Issuer != nil {
		status.IssuerName = cert.Issuer.Name
	}
	switch {
	case cert.IsRevoked:
		status.Status = StatusRevoked
	case !cert.Anchored():
		status.Status = StatusPendingChain
	default:
		status.Status = StatusValid
	}
	return status
}
