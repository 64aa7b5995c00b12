// Package chain wraps the CertificateRegistry contract: fee lookups, entity
// registration, certificate issuance, revocation and verification.
//
// Write methods block until the transaction is mined or the confirmation
// timeout elapses. A timeout yields a *PendingError carrying the transaction
// hash, so callers can record the operation as unknown instead of losing it.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/Abdullah-AboOun/CertifyChain/internal/apperr"
	"github.com/Abdullah-AboOun/CertifyChain/internal/config"
	"github.com/Abdullah-AboOun/CertifyChain/internal/metrics"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/Abdullah-AboOun/CertifyChain/internal/chain"

// Backend is the subset of an Ethereum client the registry needs.
type Backend interface {
	bind.ContractBackend
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Signer produces transaction options for the wallet paying fees.
type Signer interface {
	Address() common.Address
	TransactOpts(ctx context.Context, chainID *big.Int) (*bind.TransactOpts, error)
}

// Receipt is the confirmed result of a write.
type Receipt struct {
	TxHash      string `json:"transaction_hash"`
	OnChainID   string `json:"on_chain_id,omitempty"`
	BlockNumber uint64 `json:"block_number"`
	GasUsed     uint64 `json:"gas_used"`
}

// CertificateRecord is the registry's view of a certificate.
type CertificateRecord struct {
	ID         *big.Int       `json:"id"`
	Hash       string         `json:"certificate_hash"`
	Issuer     common.Address `json:"issuer"`
	IssuedAt   time.Time      `json:"issued_at"`
	IsRevoked  bool           `json:"is_revoked"`
	Metadata   string         `json:"metadata"`
	IssuerName string         `json:"issuer_name"`
}

// EntityInfo is the registry's view of an issuing entity.
type EntityInfo struct {
	Address      common.Address `json:"address"`
	Name         string         `json:"name"`
	IsActive     bool           `json:"is_active"`
	RegisteredAt time.Time      `json:"registered_at"`
	CertCount    *big.Int       `json:"cert_count"`
}

// Client talks to one deployed registry contract.
type Client struct {
	backend        Backend
	contract       *bind.BoundContract
	address        common.Address
	signer         Signer
	chainID        *big.Int
	confirmTimeout time.Duration
	callTimeout    time.Duration
	metrics        *metrics.Metrics
	logger         *zap.Logger
	tracer         trace.Tracer
	closer         func()
}

// Dial connects to the RPC endpoint in cfg. signer may be nil for a
// read-only client.
func Dial(ctx context.Context, cfg config.ChainConfig, signer Signer, m *metrics.Metrics, logger *zap.Logger) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindChainUnavailable, err, "failed to dial %s", cfg.RPCURL)
	}
	c, err := NewClient(ec, cfg, signer, m, logger)
	if err != nil {
		ec.Close()
		return nil, err
	}
	c.closer = ec.Close
	return c, nil
}

// NewClient binds the registry at cfg.ContractAddress on backend.
func NewClient(backend Backend, cfg config.ChainConfig, signer Signer, m *metrics.Metrics, logger *zap.Logger) (*Client, error) {
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid contract address: %q", cfg.ContractAddress)
	}
	parsed, err := ParseABI()
	if err != nil {
		return nil, fmt.Errorf("failed to parse registry ABI: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	address := common.HexToAddress(cfg.ContractAddress)
	return &Client{
		backend:        backend,
		contract:       bind.NewBoundContract(address, parsed, backend, backend, backend),
		address:        address,
		signer:         signer,
		chainID:        big.NewInt(cfg.ChainID),
		confirmTimeout: cfg.ConfirmationTimeout,
		callTimeout:    cfg.CallTimeout,
		metrics:        m,
		logger:         logger.Named("chain"),
		tracer:         otel.Tracer(tracerName),
	}, nil
}

// Close releases the RPC connection when the client dialed it.
func (c *Client) Close() {
	if c.closer != nil {
		c.closer()
	}
}

// ContractAddress returns the registry address.
func (c *Client) ContractAddress() common.Address {
	return c.address
}

// Reads

// IsEntityRegistered reports whether address has registered on-chain.
func (c *Client) IsEntityRegistered(ctx context.Context, address common.Address) (bool, error) {
	out, err := c.call(ctx, MethodIsRegisteredEntity, address)
	if err != nil {
		return false, err
	}
	registered, ok := out[0].(bool)
	if !ok {
		return false, decodeError(MethodIsRegisteredEntity, out[0])
	}
	return registered, nil
}

// RegistrationFee returns the fee in wei for registerEntity.
func (c *Client) RegistrationFee(ctx context.Context) (*big.Int, error) {
	return c.fee(ctx, MethodRegistrationFee)
}

// IssuanceFee returns the fee in wei for issueCertificate.
func (c *Client) IssuanceFee(ctx context.Context) (*big.Int, error) {
	return c.fee(ctx, MethodIssuanceFee)
}

func (c *Client) fee(ctx context.Context, method string) (*big.Int, error) {
	out, err := c.call(ctx, method)
	if err != nil {
		return nil, err
	}
	fee, ok := out[0].(*big.Int)
	if !ok {
		return nil, decodeError(method, out[0])
	}
	return fee, nil
}

// VerifyCertificate reads a certificate. A revert or a zeroed record is
// reported as NotFound; a revoked certificate is returned with IsRevoked set.
func (c *Client) VerifyCertificate(ctx context.Context, id *big.Int) (*CertificateRecord, error) {
	out, err := c.call(ctx, MethodVerifyCertificate, id)
	if err != nil {
		if apperr.Is(err, apperr.KindChainRejected) {
			return nil, &apperr.Error{Kind: apperr.KindNotFound, Msg: fmt.Sprintf("certificate %s not found on chain", id), Err: err}
		}
		return nil, err
	}
	rec, err := decodeCertificateRecord(out)
	if err != nil {
		return nil, err
	}
	if rec.ID == nil || rec.ID.Sign() == 0 {
		return nil, apperr.NotFound("certificate %s not found on chain", id)
	}
	return rec, nil
}

// EntityInfo reads the registry entry for address.
func (c *Client) EntityInfo(ctx context.Context, address common.Address) (*EntityInfo, error) {
	out, err := c.call(ctx, MethodGetEntityInfo, address)
	if err != nil {
		return nil, err
	}
	return decodeEntityInfo(out)
}

// EntityCertificates lists the on-chain ids issued by address.
func (c *Client) EntityCertificates(ctx context.Context, address common.Address) ([]*big.Int, error) {
	out, err := c.call(ctx, MethodGetEntityCertificates, address)
	if err != nil {
		return nil, err
	}
	ids, ok := out[0].([]*big.Int)
	if !ok {
		return nil, decodeError(MethodGetEntityCertificates, out[0])
	}
	return ids, nil
}

// LookupReceipt fetches the receipt of a previously broadcast transaction
// made with method. It returns NotFound while the transaction is pending and
// ChainRejected if it reverted.
func (c *Client) LookupReceipt(ctx context.Context, method, txHash string) (*Receipt, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	receipt, err := c.backend.TransactionReceipt(ctx, common.HexToHash(txHash))
	if errors.Is(err, ethereum.NotFound) {
		return nil, apperr.NotFound("transaction %s not mined yet", txHash)
	}
	if err != nil {
		return nil, classify("receipt lookup", err)
	}
	return toReceipt(method, receipt)
}

// Writes

// RegisterEntity registers the signer as an issuing entity, paying fee.
func (c *Client) RegisterEntity(ctx context.Context, name string, fee *big.Int) (*Receipt, error) {
	receipt, err := c.transact(ctx, MethodRegisterEntity, fee, name)
	if err != nil {
		return nil, err
	}
	return toReceipt(MethodRegisterEntity, receipt)
}

// IssueCertificate anchors certificateHash on-chain, paying fee. The new
// on-chain id is read from the first topic of the first receipt log.
func (c *Client) IssueCertificate(ctx context.Context, certificateHash, metadata string, fee *big.Int) (*Receipt, error) {
	receipt, err := c.transact(ctx, MethodIssueCertificate, fee, certificateHash, metadata)
	if err != nil {
		return nil, err
	}
	return toReceipt(MethodIssueCertificate, receipt)
}

// RevokeCertificate revokes an on-chain certificate.
func (c *Client) RevokeCertificate(ctx context.Context, id *big.Int) (*Receipt, error) {
	receipt, err := c.transact(ctx, MethodRevokeCertificate, nil, id)
	if err != nil {
		return nil, err
	}
	return toReceipt(MethodRevokeCertificate, receipt)
}

func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout > 0 {
		return context.WithTimeout(ctx, c.callTimeout)
	}
	return context.WithCancel(ctx)
}

func (c *Client) call(ctx context.Context, method string, params ...any) ([]any, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()
	ctx, span := c.tracer.Start(ctx, "chain."+method)
	defer span.End()

	start := time.Now()
	var out []any
	err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, method, params...)
	c.metrics.ObserveChainCall(method, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, classify(method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s returned no values", method)
	}
	return out, nil
}

func (c *Client) transact(ctx context.Context, method string, value *big.Int, params ...any) (*types.Receipt, error) {
	if c.signer == nil {
		return nil, apperr.New(apperr.KindInternal, "chain client has no signer for %s", method)
	}
	ctx, span := c.tracer.Start(ctx, "chain."+method, trace.WithAttributes(
		attribute.String("chain.contract", c.address.Hex()),
		attribute.String("chain.from", c.signer.Address().Hex()),
	))
	defer span.End()
	start := time.Now()

	opts, err := c.signer.TransactOpts(ctx, c.chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare %s transaction: %w", method, err)
	}
	opts.Context = ctx
	opts.Value = value

	tx, err := c.contract.Transact(opts, method, params...)
	if err != nil {
		c.metrics.ObserveChainCall(method, time.Since(start), err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, classify(method, err)
	}
	txHash := tx.Hash().Hex()
	span.SetAttributes(attribute.String("chain.tx_hash", txHash))
	c.logger.Info("Transaction submitted",
		zap.String("method", method),
		zap.String("tx_hash", txHash),
	)

	waitCtx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()
	receipt, err := bind.WaitMined(waitCtx, c.backend, tx)
	c.metrics.ObserveChainCall(method, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			c.logger.Warn("Transaction confirmation abandoned",
				zap.String("method", method),
				zap.String("tx_hash", txHash),
				zap.Error(err),
			)
			return nil, &PendingError{Method: method, TxHash: txHash, Err: err}
		}
		return nil, classify(method, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		err := apperr.New(apperr.KindChainRejected, "%s transaction %s reverted", method, txHash)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	c.logger.Info("Transaction confirmed",
		zap.String("method", method),
		zap.String("tx_hash", txHash),
		zap.Uint64("block", receipt.BlockNumber.Uint64()),
	)
	return receipt, nil
}

func toReceipt(method string, r *types.Receipt) (*Receipt, error) {
	if r.Status != types.ReceiptStatusSuccessful {
		return nil, apperr.New(apperr.KindChainRejected, "%s transaction %s reverted", method, r.TxHash.Hex())
	}
	out := &Receipt{
		TxHash:  r.TxHash.Hex(),
		GasUsed: r.GasUsed,
	}
	if r.BlockNumber != nil {
		out.BlockNumber = r.BlockNumber.Uint64()
	}

	switch method {
	case MethodIssueCertificate:
		id, err := OnChainIDFromReceipt(r)
		if err != nil {
			return nil, fmt.Errorf("transaction %s: %w", out.TxHash, err)
		}
		out.OnChainID = id
	case MethodRegisterEntity:
		// the entity id is informative only; a missing log is not an error
		out.OnChainID, _ = OnChainIDFromReceipt(r)
	}
	return out, nil
}

// OnChainIDFromReceipt returns topic 1 of the receipt's first log, which for
// CertificateIssued is the indexed certificate id.
func OnChainIDFromReceipt(r *types.Receipt) (string, error) {
	if len(r.Logs) == 0 {
		return "", errors.New("receipt has no logs")
	}
	topics := r.Logs[0].Topics
	if len(topics) < 2 {
		return "", fmt.Errorf("first log has %d topics, need 2", len(topics))
	}
	return topics[1].Hex(), nil
}

// ParseOnChainID accepts a 0x-prefixed hex topic or a decimal id.
func ParseOnChainID(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	var id *big.Int
	var ok bool
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		digits := s[2:]
		if len(digits) == 0 || len(digits) > 64 {
			return nil, apperr.Validation("invalid on-chain id %q", s)
		}
		id, ok = new(big.Int).SetString(digits, 16)
	} else {
		id, ok = new(big.Int).SetString(s, 10)
		if ok && id.BitLen() > 256 {
			ok = false
		}
	}
	if !ok || id.Sign() <= 0 {
		return nil, apperr.Validation("invalid on-chain id %q", s)
	}
	return id, nil
}

// EntityChainID returns the EntityRegistered topic of address: the address
// left-padded to 32 bytes.
func EntityChainID(address common.Address) string {
	return common.BytesToHash(address.Bytes()).Hex()
}

// FormatOnChainID renders id the way it appears as an event topic.
func FormatOnChainID(id *big.Int) string {
	return common.BigToHash(id).Hex()
}

// FormatEther renders a wei amount in ether without trailing zeros.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	s := new(big.Rat).SetFrac(wei, big.NewInt(1e18)).FloatString(18)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

func decodeError(method string, v any) error {
	return fmt.Errorf("unexpected %s return type %T", method, v)
}

func decodeCertificateRecord(out []any) (*CertificateRecord, error) {
	if len(out) != 7 {
		return nil, fmt.Errorf("verifyCertificate returned %d values, want 7", len(out))
	}
	id, ok1 := out[0].(*big.Int)
	hash, ok2 := out[1].(string)
	issuer, ok3 := out[2].(common.Address)
	issuedAt, ok4 := out[3].(*big.Int)
	revoked, ok5 := out[4].(bool)
	metadata, ok6 := out[5].(string)
	issuerName, ok7 := out[6].(string)
	if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6 && ok7) {
		return nil, fmt.Errorf("unexpected verifyCertificate return types")
	}
	return &CertificateRecord{
		ID:         id,
		Hash:       hash,
		Issuer:     issuer,
		IssuedAt:   time.Unix(issuedAt.Int64(), 0).UTC(),
		IsRevoked:  revoked,
		Metadata:   metadata,
		IssuerName: issuerName,
	}, nil
}

func decodeEntityInfo(out []any) (*EntityInfo, error) {
	if len(out) != 5 {
		return nil, fmt.Errorf("getEntityInfo returned %d values, want 5", len(out))
	}
	addr, ok1 := out[0].(common.Address)
	name, ok2 := out[1].(string)
	active, ok3 := out[2].(bool)
	registeredAt, ok4 := out[3].(*big.Int)
	count, ok5 := out[4].(*big.Int)
	if !(ok1 && ok2 && ok3 && ok4 && ok5) {
		return nil, fmt.Errorf("unexpected getEntityInfo return types")
	}
	return &EntityInfo{
		Address:      addr,
		Name:         name,
		IsActive:     active,
		RegisteredAt: time.Unix(registeredAt.Int64(), 0).UTC(),
		CertCount:    count,
	}, nil
}
