// Package apiclient talks to the CertifyChain API on behalf of a wallet. It
// serves the record store half of the reconciliation flow for the command
// line client, so API errors are turned back into apperr kinds.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/Abdullah-AboOun/CertifyChain/internal/apperr"
	"github.com/Abdullah-AboOun/CertifyChain/internal/auth"
	"github.com/Abdullah-AboOun/CertifyChain/internal/config"
	"github.com/Abdullah-AboOun/CertifyChain/internal/database/models"
	"github.com/Abdullah-AboOun/CertifyChain/internal/service"
)

const apiPrefix = "/api/v1"

// Signer signs the sign-in challenge
type Signer interface {
	Address() common.Address
	SignMessage(message string) (string, error)
}

// Client is an API session for one wallet
type Client struct {
	baseURL string
	http    *retryablehttp.Client
	logger  *zap.Logger

	mu     sync.RWMutex
	token  string
	wallet string
}

// New creates a client for cfg.APIURL. Only reads are retried.
func New(cfg config.ClientConfig, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	base, err := url.Parse(cfg.APIURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid API URL %q", cfg.APIURL)
	}

	logger = logger.Named("apiclient")
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = leveledLogger{logger.Sugar()}
	rc.CheckRetry = retryReads
	// the last response is returned so its error body can be decoded
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	if cfg.Timeout > 0 {
		rc.HTTPClient.Timeout = cfg.Timeout
	}

	return &Client{
		baseURL: strings.TrimSuffix(base.String(), "/"),
		http:    rc,
		logger:  logger,
	}, nil
}

type writeKey struct{}

// retryReads retries GETs only; a write may have been applied before the
// connection failed.
func retryReads(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Value(writeKey{}) != nil {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// SignIn signs a fresh challenge and keeps the session token
func (c *Client) SignIn(ctx context.Context, signer Signer) error {
	message := auth.ChallengeMessage(signer.Address(), time.Now())
	signature, err := signer.SignMessage(message)
	if err != nil {
		return err
	}

	var resp struct {
		Token         string `json:"token"`
		WalletAddress string `json:"wallet_address"`
	}
	err = c.do(ctx, http.MethodPost, "/auth/signin", map[string]string{
		"message":   message,
		"signature": signature,
		"address":   signer.Address().Hex(),
	}, &resp)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.token = resp.Token
	c.wallet = strings.ToLower(resp.WalletAddress)
	c.mu.Unlock()

	c.logger.Debug("Signed in", zap.String("wallet", resp.WalletAddress))
	return nil
}

// Wallet returns the signed-in wallet, lower-cased
func (c *Client) Wallet() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.wallet
}

func (c *Client) session(owner string) error {
	wallet := c.Wallet()
	if wallet == "" {
		return apperr.Unauthorized("not signed in")
	}
	if !strings.EqualFold(owner, wallet) {
		return apperr.Unauthorized("session belongs to %s, not %s", wallet, owner)
	}
	return nil
}

// MyEntity returns the entity of owner, or nil when it has none
func (c *Client) MyEntity(ctx context.Context, owner string) (*models.IssuingEntity, error) {
	if err := c.session(owner); err != nil {
		return nil, err
	}
	var entity models.IssuingEntity
	err := c.do(ctx, http.MethodGet, "/me/entity", nil, &entity)
	if apperr.Is(err, apperr.KindNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entity, nil
}

func (c *Client) CreateEntity(ctx context.Context, owner string, req *service.CreateEntityRequest) (*models.IssuingEntity, error) {
	if err := c.session(owner); err != nil {
		return nil, err
	}
	var entity models.IssuingEntity
	if err := c.do(ctx, http.MethodPost, "/entities", req, &entity); err != nil {
		return nil, err
	}
	return &entity, nil
}

func (c *Client) LinkEntityChain(ctx context.Context, owner, entityID, blockchainID, txHash string) (*models.IssuingEntity, error) {
	if err := c.session(owner); err != nil {
		return nil, err
	}
	var entity models.IssuingEntity
	body := chainLink{BlockchainID: blockchainID, TransactionHash: txHash}
	if err := c.do(ctx, http.MethodPut, "/entities/"+url.PathEscape(entityID)+"/chain", body, &entity); err != nil {
		return nil, err
	}
	return &entity, nil
}

func (c *Client) CreateCertificate(ctx context.Context, owner string, req *service.CreateCertificateRequest) (*models.Certificate, error) {
	if err := c.session(owner); err != nil {
		return nil, err
	}
	var cert models.Certificate
	if err := c.do(ctx, http.MethodPost, "/certificates", req, &cert); err != nil {
		return nil, err
	}
	return &cert, nil
}

func (c *Client) GetCertificate(ctx context.Context, id uint) (*models.Certificate, error) {
	var cert models.Certificate
	if err := c.do(ctx, http.MethodGet, certificatePath(id), nil, &cert); err != nil {
		return nil, err
	}
	return &cert, nil
}

func (c *Client) AttachChainID(ctx context.Context, owner string, id uint, onChainID, txHash string) (*models.Certificate, error) {
	if err := c.session(owner); err != nil {
		return nil, err
	}
	var cert models.Certificate
	body := chainLink{BlockchainID: onChainID, TransactionHash: txHash}
	if err := c.do(ctx, http.MethodPut, certificatePath(id)+"/chain", body, &cert); err != nil {
		return nil, err
	}
	return &cert, nil
}

func (c *Client) RevokeCertificate(ctx context.Context, owner string, id uint, revokeTxHash string) (*models.Certificate, error) {
	if err := c.session(owner); err != nil {
		return nil, err
	}
	var cert models.Certificate
	body := map[string]string{"revoke_tx_hash": revokeTxHash}
	if err := c.do(ctx, http.MethodPut, certificatePath(id)+"/revoke", body, &cert); err != nil {
		return nil, err
	}
	return &cert, nil
}

// Fees reads the registry fees through the API
func (c *Client) Fees(ctx context.Context) (*service.Fees, error) {
	var fees service.Fees
	if err := c.do(ctx, http.MethodGet, "/fees", nil, &fees); err != nil {
		return nil, err
	}
	return &fees, nil
}

// Verify checks an on-chain id through the API
func (c *Client) Verify(ctx context.Context, onChainID string) (*service.VerifyResult, error) {
	var result service.VerifyResult
	if err := c.do(ctx, http.MethodGet, "/verify/"+url.PathEscape(onChainID), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Registry reads the registry status of a wallet through the API
func (c *Client) Registry(ctx context.Context, address string) (*service.EntityRegistration, error) {
	var reg service.EntityRegistration
	if err := c.do(ctx, http.MethodGet, "/wallets/"+url.PathEscape(address)+"/registry", nil, &reg); err != nil {
		return nil, err
	}
	return &reg, nil
}

// Upload sends a document image and returns the URL it is served from
func (c *Client) Upload(ctx context.Context, filename string, r io.Reader) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", fmt.Errorf("failed to read %s: %w", filename, err)
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/uploads", body.Bytes())
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var resp struct {
		URL string `json:"url"`
	}
	if err := c.send(req, &resp); err != nil {
		return "", err
	}
	return resp.URL, nil
}

type chainLink struct {
	BlockchainID    string `json:"blockchain_id,omitempty"`
	TransactionHash string `json:"transaction_hash,omitempty"`
}

func certificatePath(id uint) string {
	return "/certificates/" + strconv.FormatUint(uint64(id), 10)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body []byte) (*retryablehttp.Request, error) {
	var raw any
	if body != nil {
		raw = body
	}
	if method != http.MethodGet {
		ctx = context.WithValue(ctx, writeKey{}, true)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+apiPrefix+path, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	c.mu.RLock()
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	c.mu.RUnlock()
	return req, nil
}

func (c *Client) send(req *retryablehttp.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return apperr.Wrap(apperr.KindStoreUnavailable, errors.Join(err, ctxErr), "%s %s", req.Method, req.URL.Path)
		}
		return apperr.Wrap(apperr.KindStoreUnavailable, err, "%s %s", req.Method, req.URL.Path)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.Wrap(apperr.KindInternal, err, "failed to decode %s %s response", req.Method, req.URL.Path)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(raw, &body); err != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(raw))
		if body.Error == "" {
			body.Error = resp.Status
		}
	}
	return apperr.FromStatus(resp.StatusCode, body.Code, body.Error)
}

// leveledLogger routes retryablehttp logs to zap
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
