package service

import (
	"context"

	"github.com/Abdullah-AboOun/CertifyChain/internal/database/models"
)

// Records exposes the owner-scoped store operations of the reconciliation
// flow on top of the local services, for processes that hold the database
// themselves. The CLI goes through apiclient instead; the flow tests run on
// this store.
type Records struct {
	entities     *EntityService
	certificates *CertificateService
}

// NewRecords creates the in-process record store
func NewRecords(entities *EntityService, certificates *CertificateService) *Records {
	return &Records{entities: entities, certificates: certificates}
}

func (r *Records) MyEntity(ctx context.Context, owner string) (*models.IssuingEntity, error) {
	return r.entities.GetEntityByOwner(ctx, owner)
}

func (r *Records) CreateEntity(ctx context.Context, owner string, req *CreateEntityRequest) (*models.IssuingEntity, error) {
	return r.entities.CreateEntity(ctx, owner, req)
}

func (r *Records) LinkEntityChain(ctx context.Context, owner, entityID, blockchainID, txHash string) (*models.IssuingEntity, error) {
	return r.entities.LinkEntityChain(ctx, owner, entityID, blockchainID, txHash)
}

func (r *Records) CreateCertificate(ctx context.Context, owner string, req *CreateCertificateRequest) (*models.Certificate, error) {
	return r.certificates.CreateCertificate(ctx, owner, req)
}

func (r *Records) GetCertificate(ctx context.Context, id uint) (*models.Certificate, error) {
	return r.certificates.GetCertificate(ctx, id)
}

func (r *Records) AttachChainID(ctx context.Context, owner string, id uint, onChainID, txHash string) (*models.Certificate, error) {
	return r.certificates.AttachChainID(ctx, owner, id, onChainID, txHash)
}

func (r *Records) RevokeCertificate(ctx context.Context, owner string, id uint, revokeTxHash string) (*models.Certificate, error) {
	return r.certificates.RevokeCertificate(ctx, owner, id, revokeTxHash)
}
