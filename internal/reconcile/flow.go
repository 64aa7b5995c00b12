// Package reconcile coordinates the registry contract and the record store
// into single operations. The two have independent failure domains and no
// shared transaction, so every operation reports an explicit Outcome telling
// which side holds the requested change. Partial states that can be finished
// later are written to a journal and replayed by Retry, which only ever
// performs the store half.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Abdullah-AboOun/CertifyChain/internal/apperr"
	"github.com/Abdullah-AboOun/CertifyChain/internal/chain"
	"github.com/Abdullah-AboOun/CertifyChain/internal/database/models"
	"github.com/Abdullah-AboOun/CertifyChain/internal/journal"
	"github.com/Abdullah-AboOun/CertifyChain/internal/metrics"
	"github.com/Abdullah-AboOun/CertifyChain/internal/service"
)

const tracerName = "github.com/Abdullah-AboOun/CertifyChain/internal/reconcile"

// Chain is the registry contract as the flow uses it.
type Chain interface {
	IsEntityRegistered(ctx context.Context, address common.Address) (bool, error)
	RegistrationFee(ctx context.Context) (*big.Int, error)
	IssuanceFee(ctx context.Context) (*big.Int, error)
	RegisterEntity(ctx context.Context, name string, fee *big.Int) (*chain.Receipt, error)
	IssueCertificate(ctx context.Context, certificateHash, metadata string, fee *big.Int) (*chain.Receipt, error)
	RevokeCertificate(ctx context.Context, id *big.Int) (*chain.Receipt, error)
	VerifyCertificate(ctx context.Context, id *big.Int) (*chain.CertificateRecord, error)
	LookupReceipt(ctx context.Context, method, txHash string) (*chain.Receipt, error)
}

// Records is the owner-scoped record store. It is served in-process by
// service.Records and remotely by apiclient.Client.
type Records interface {
	MyEntity(ctx context.Context, owner string) (*models.IssuingEntity, error)
	CreateEntity(ctx context.Context, owner string, req *service.CreateEntityRequest) (*models.IssuingEntity, error)
	LinkEntityChain(ctx context.Context, owner, entityID, blockchainID, txHash string) (*models.IssuingEntity, error)
	CreateCertificate(ctx context.Context, owner string, req *service.CreateCertificateRequest) (*models.Certificate, error)
	GetCertificate(ctx context.Context, id uint) (*models.Certificate, error)
	AttachChainID(ctx context.Context, owner string, id uint, onChainID, txHash string) (*models.Certificate, error)
	RevokeCertificate(ctx context.Context, owner string, id uint, revokeTxHash string) (*models.Certificate, error)
}

// Journal keeps incomplete operations.
type Journal interface {
	Record(e *journal.Entry) error
	Pending(wallet string) ([]*journal.Entry, error)
	Update(e *journal.Entry) error
	Resolve(e *journal.Entry) error
}

// Session is the signed-in wallet every operation runs as.
type Session struct {
	Address common.Address
}

// NewSession parses a wallet address.
func NewSession(address string) (Session, error) {
	if !common.IsHexAddress(address) {
		return Session{}, apperr.Validation("invalid wallet address %q", address)
	}
	return Session{Address: common.HexToAddress(address)}, nil
}

// Owner is the lower-cased address the store keys ownership on.
func (s Session) Owner() string {
	return strings.ToLower(s.Address.Hex())
}

// Flow runs reconciled operations.
type Flow struct {
	chain    Chain
	records  Records
	journal  Journal
	metrics  *metrics.Metrics
	logger   *zap.Logger
	tracer   trace.Tracer
	inflight *inflight
}

// New creates a flow. m may be nil.
func New(c Chain, records Records, j Journal, m *metrics.Metrics, logger *zap.Logger) *Flow {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Flow{
		chain:    c,
		records:  records,
		journal:  j,
		metrics:  m,
		logger:   logger.Named("reconcile"),
		tracer:   otel.Tracer(tracerName),
		inflight: newInflight(),
	}
}

func (f *Flow) start(ctx context.Context, op Op, s Session, key string) (context.Context, trace.Span, *Outcome, func(), error) {
	out := newOutcome(op)
	release, err := f.inflight.acquire(fmt.Sprintf("%s:%s:%s", op, s.Owner(), key))
	if err != nil {
		return ctx, nil, out, nil, err
	}
	ctx, span := f.tracer.Start(ctx, "reconcile."+string(op), trace.WithAttributes(
		attribute.String("wallet", s.Owner()),
	))
	return ctx, span, out, release, nil
}

func (f *Flow) finish(span trace.Span, s Session, out *Outcome, err error) (*Outcome, error) {
	if err != nil {
		out.Error = err.Error()
	}
	f.metrics.ObserveFlow(string(out.Op), string(out.Consistency))

	fields := []zap.Field{
		zap.String("op", string(out.Op)),
		zap.String("wallet", s.Owner()),
		zap.String("state", string(out.State)),
		zap.String("consistency", string(out.Consistency)),
		zap.Int("chain_writes", out.ChainWrites),
		zap.Int("store_writes", out.StoreWrites),
		zap.String("tx_hash", out.TxHash),
	}
	if span != nil {
		span.SetAttributes(
			attribute.String("state", string(out.State)),
			attribute.String("consistency", string(out.Consistency)),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
	if err != nil {
		f.logger.Warn("Operation incomplete", append(fields, zap.Error(err))...)
		return out, err
	}
	f.logger.Info("Operation finished", fields...)
	return out, nil
}

// journalFor records an incomplete operation. A journal failure is logged and
// reported in the outcome error; it never hides the original failure.
func (f *Flow) journalFor(out *Outcome, e *journal.Entry, cause error) error {
	e.State = string(StateChainConfirmed)
	if out.State == StateChainUnknown {
		e.State = string(StateChainUnknown)
	}
	e.TxHash = out.TxHash
	e.OnChainID = out.OnChainID
	if cause != nil {
		e.LastError = cause.Error()
	}
	if err := f.journal.Record(e); err != nil {
		f.logger.Error("Failed to journal incomplete operation",
			zap.String("op", e.Op),
			zap.String("tx_hash", e.TxHash),
			zap.Error(err),
		)
		return errors.Join(cause, fmt.Errorf("failed to journal transaction %s: %w", out.TxHash, err))
	}
	out.JournalID = e.ID
	return cause
}

// Register makes the session's wallet an issuing entity on both sides. The
// chain write happens first unless the wallet is already registered; the row
// is then created, or linked when it already exists.
func (f *Flow) Register(ctx context.Context, s Session, req *service.CreateEntityRequest) (*Outcome, error) {
	ctx, span, out, release, err := f.start(ctx, OpRegister, s, "")
	if err != nil {
		return f.finish(span, s, out, err)
	}
	defer release()
	return f.finish(span, s, out, f.register(ctx, s, req, out))
}

func (f *Flow) register(ctx context.Context, s Session, req *service.CreateEntityRequest, out *Outcome) error {
	owner := s.Owner()
	if req.WalletAddress == "" {
		req.WalletAddress = owner
	}
	if err := req.Validate(); err != nil {
		return err
	}
	if !strings.EqualFold(req.WalletAddress, owner) {
		return apperr.Unauthorized("wallet address does not match the signed-in wallet")
	}

	onChain, err := f.chain.IsEntityRegistered(ctx, s.Address)
	if err != nil {
		return err
	}
	existing, err := f.records.MyEntity(ctx, owner)
	if err != nil {
		return err
	}
	out.Entity = existing
	if onChain && existing != nil && existing.OnChain() {
		out.Consistency = BothConsistent
		out.to(StateDone)
		return nil
	}

	// the row's link is write-once, so a second registration could not be recorded
	if !onChain && existing != nil && existing.TransactionHash != nil && *existing.TransactionHash != "" {
		out.Consistency = StoreOnly
		return apperr.Conflict("entity %s is linked to transaction %s but the wallet is not registered on chain",
			existing.ID, *existing.TransactionHash)
	}

	if onChain {
		out.to(StateChainConfirmed)
	} else {
		fee, err := f.chain.RegistrationFee(ctx)
		if err != nil {
			return err
		}
		out.to(StateChainPending)
		receipt, err := f.chain.RegisterEntity(ctx, strings.TrimSpace(req.Name), fee)
		switch {
		case err == nil:
			out.ChainWrites++
			out.TxHash = receipt.TxHash
			out.OnChainID = receipt.OnChainID
			out.to(StateChainConfirmed)
		case apperr.IsAlreadyExists(err):
			f.logger.Info("Entity already registered on chain", zap.String("wallet", owner))
			out.to(StateChainConfirmed)
		default:
			if pending, ok := chain.AsPending(err); ok {
				out.TxHash = pending.TxHash
				out.to(StateChainUnknown)
				out.Consistency = Unknown
				return f.journalFor(out, registerEntry(owner, existing, req), err)
			}
			out.to(StateChainFailed)
			if existing != nil {
				out.Consistency = StoreOnly
			}
			return err
		}
	}
	if out.OnChainID == "" {
		out.OnChainID = chain.EntityChainID(s.Address)
	}

	entity, err := f.writeEntity(ctx, owner, existing, req, out.OnChainID, out.TxHash)
	if err != nil {
		out.to(StateStoreFailed)
		out.Consistency = ChainOnly
		return f.journalFor(out, registerEntry(owner, existing, req), err)
	}
	out.Entity = entity
	out.StoreWrites++
	out.to(StateStoreWritten)
	out.to(StateDone)
	out.Consistency = BothConsistent
	return nil
}

// writeEntity creates the row with its chain linkage, or links an existing
// row. It never creates a second row.
func (f *Flow) writeEntity(ctx context.Context, owner string, existing *models.IssuingEntity, req *service.CreateEntityRequest, blockchainID, txHash string) (*models.IssuingEntity, error) {
	if existing != nil {
		return f.records.LinkEntityChain(ctx, owner, existing.ID, blockchainID, txHash)
	}
	create := *req
	create.BlockchainID = blockchainID
	create.TransactionHash = txHash
	return f.records.CreateEntity(ctx, owner, &create)
}

func registerEntry(owner string, existing *models.IssuingEntity, req *service.CreateEntityRequest) *journal.Entry {
	e := &journal.Entry{Op: string(OpRegister), Wallet: owner}
	if existing != nil {
		e.EntityID = existing.ID
	}
	e.Payload, _ = json.Marshal(req)
	return e
}

// Issue creates the certificate row, anchors its hash on-chain and attaches
// the on-chain id. The row comes first because its hash is the chain payload.
func (f *Flow) Issue(ctx context.Context, s Session, req *service.CreateCertificateRequest) (*Outcome, error) {
	key := strings.ToLower(strings.TrimSpace(req.RecipientName) + "|" + req.RecipientEmail)
	ctx, span, out, release, err := f.start(ctx, OpIssue, s, key)
	if err != nil {
		return f.finish(span, s, out, err)
	}
	defer release()
	return f.finish(span, s, out, f.issue(ctx, s, req, out))
}

func (f *Flow) issue(ctx context.Context, s Session, req *service.CreateCertificateRequest, out *Outcome) error {
	owner := s.Owner()
	if err := req.ValidatePayload(); err != nil {
		return err
	}

	entity, err := f.records.MyEntity(ctx, owner)
	if err != nil {
		return err
	}
	if entity == nil {
		return apperr.Unauthorized("wallet %s has no issuing entity", owner)
	}
	if req.IssuerID == "" {
		req.IssuerID = entity.ID
	}
	registered, err := f.chain.IsEntityRegistered(ctx, s.Address)
	if err != nil {
		return err
	}
	if !registered {
		return apperr.Unauthorized("wallet %s is not registered on chain", owner)
	}
	fee, err := f.chain.IssuanceFee(ctx)
	if err != nil {
		return err
	}

	cert, err := f.records.CreateCertificate(ctx, owner, req)
	if err != nil {
		return err
	}
	out.StoreWrites++
	out.Certificate = cert
	out.Consistency = StoreOnly
	return f.anchor(ctx, owner, cert, fee, out)
}

// ResumeIssue anchors a stored certificate whose chain write failed.
func (f *Flow) ResumeIssue(ctx context.Context, s Session, certID uint) (*Outcome, error) {
	ctx, span, out, release, err := f.start(ctx, OpResume, s, fmt.Sprint(certID))
	if err != nil {
		return f.finish(span, s, out, err)
	}
	defer release()
	return f.finish(span, s, out, f.resume(ctx, s, certID, out))
}

func (f *Flow) resume(ctx context.Context, s Session, certID uint, out *Outcome) error {
	owner := s.Owner()
	cert, err := f.ownedCertificate(ctx, owner, certID)
	if err != nil {
		return err
	}
	out.Certificate = cert
	if cert.Anchored() {
		out.OnChainID = *cert.BlockchainID
		out.Consistency = BothConsistent
		out.to(StateDone)
		return nil
	}
	if cert.IsRevoked {
		return apperr.Conflict("certificate %d is revoked and cannot be anchored", certID)
	}
	out.Consistency = StoreOnly

	if err := f.unsettled(owner, OpIssue, certID); err != nil {
		return err
	}

	fee, err := f.chain.IssuanceFee(ctx)
	if err != nil {
		return err
	}
	return f.anchor(ctx, owner, cert, fee, out)
}

// anchor runs the chain write and the attach step of an issuance.
func (f *Flow) anchor(ctx context.Context, owner string, cert *models.Certificate, fee *big.Int, out *Outcome) error {
	entry := func() *journal.Entry {
		return &journal.Entry{Op: string(OpIssue), Wallet: owner, CertificateID: cert.ID}
	}

	out.to(StateChainPending)
	receipt, err := f.chain.IssueCertificate(ctx, cert.CertificateHash, cert.Description, fee)
	if err != nil {
		if pending, ok := chain.AsPending(err); ok {
			out.TxHash = pending.TxHash
			out.to(StateChainUnknown)
			out.Consistency = Unknown
			return f.journalFor(out, entry(), err)
		}
		out.to(StateChainFailed)
		return err
	}
	out.ChainWrites++
	out.TxHash = receipt.TxHash
	out.OnChainID = receipt.OnChainID
	out.to(StateChainConfirmed)

	updated, err := f.records.AttachChainID(ctx, owner, cert.ID, receipt.OnChainID, receipt.TxHash)
	if err != nil {
		out.to(StateStoreFailed)
		out.Consistency = ChainOnly
		return f.journalFor(out, entry(), err)
	}
	out.Certificate = updated
	out.StoreWrites++
	out.to(StateStoreWritten)
	out.to(StateDone)
	out.Consistency = BothConsistent
	return nil
}

// Revoke revokes a certificate on-chain, then in the store. Until the store
// catches up a chain-only revocation still reads as valid in the store.
func (f *Flow) Revoke(ctx context.Context, s Session, certID uint) (*Outcome, error) {
	ctx, span, out, release, err := f.start(ctx, OpRevoke, s, fmt.Sprint(certID))
	if err != nil {
		return f.finish(span, s, out, err)
	}
	defer release()
	return f.finish(span, s, out, f.revoke(ctx, s, certID, out))
}

func (f *Flow) revoke(ctx context.Context, s Session, certID uint, out *Outcome) error {
	owner := s.Owner()
	cert, err := f.ownedCertificate(ctx, owner, certID)
	if err != nil {
		return err
	}
	out.Certificate = cert
	// a journaled revocation carries the transaction hash the row still needs
	if err := f.unsettled(owner, OpRevoke, certID); err != nil {
		return err
	}
	if cert.IsRevoked {
		out.Consistency = BothConsistent
		out.to(StateDone)
		return nil
	}

	if cert.Anchored() {
		if err := f.revokeOnChain(ctx, owner, cert, out); err != nil {
			return err
		}
	}

	updated, err := f.records.RevokeCertificate(ctx, owner, certID, out.TxHash)
	if err != nil {
		out.to(StateStoreFailed)
		if !cert.Anchored() {
			return err
		}
		out.Consistency = ChainOnly
		return f.journalFor(out, &journal.Entry{Op: string(OpRevoke), Wallet: owner, CertificateID: certID}, err)
	}
	out.Certificate = updated
	out.StoreWrites++
	out.to(StateStoreWritten)
	out.to(StateDone)
	out.Consistency = BothConsistent
	return nil
}

// revokeOnChain checks the chain record first so an already revoked
// certificate costs no transaction. A revert saying it is already revoked is
// accepted as well.
func (f *Flow) revokeOnChain(ctx context.Context, owner string, cert *models.Certificate, out *Outcome) error {
	id, err := chain.ParseOnChainID(*cert.BlockchainID)
	if err != nil {
		return err
	}
	out.OnChainID = *cert.BlockchainID

	rec, err := f.chain.VerifyCertificate(ctx, id)
	if err != nil {
		return err
	}
	if rec.IsRevoked {
		out.to(StateChainConfirmed)
		return nil
	}

	out.to(StateChainPending)
	receipt, err := f.chain.RevokeCertificate(ctx, id)
	switch {
	case err == nil:
		out.ChainWrites++
		out.TxHash = receipt.TxHash
		out.to(StateChainConfirmed)
		return nil
	case apperr.IsAlreadyExists(err):
		out.to(StateChainConfirmed)
		return nil
	}
	if pending, ok := chain.AsPending(err); ok {
		out.TxHash = pending.TxHash
		out.to(StateChainUnknown)
		out.Consistency = Unknown
		return f.journalFor(out, &journal.Entry{Op: string(OpRevoke), Wallet: owner, CertificateID: cert.ID}, err)
	}
	out.to(StateChainFailed)
	return err
}

// unsettled fails with a Conflict while the journal holds an op entry for
// the certificate.
func (f *Flow) unsettled(owner string, op Op, certID uint) error {
	entries, err := f.journal.Pending(owner)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Op == string(op) && e.CertificateID == certID {
			return apperr.Conflict("%s of certificate %d is journaled as %s and not settled yet, run retry", op, certID, e.ID)
		}
	}
	return nil
}

func (f *Flow) ownedCertificate(ctx context.Context, owner string, id uint) (*models.Certificate, error) {
	cert, err := f.records.GetCertificate(ctx, id)
	if err != nil {
		return nil, err
	}
	if cert.Issuer == nil || !strings.EqualFold(cert.Issuer.OwnerAddress, owner) {
		return nil, apperr.Unauthorized("certificate %d was not issued by the signed-in wallet", id)
	}
	return cert, nil
}
