package handlers_test

import (
	"math/big"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Abdullah-AboOun/CertifyChain/internal/apperr"
	"github.com/Abdullah-AboOun/CertifyChain/internal/chain"
)

type verifyBody struct {
	Status      string `json:"status"`
	OnChainID   string `json:"on_chain_id"`
	StoreLag    bool   `json:"store_lag"`
	HashMatches *bool  `json:"hash_matches"`
	Chain       *struct {
		IsRevoked  bool   `json:"is_revoked"`
		IssuerName string `json:"issuer_name"`
	} `json:"chain"`
	Certificate *certificateBody `json:"certificate"`
}

func TestVerifyHandler_Integration(t *testing.T) {
	env := setupTestEnvironment(t)
	alice := newWallet(t)
	token, entity := env.createEntity(t, alice, "Acme University")
	cert := env.createCertificate(t, token, entity.ID, "Jane Doe")

	rec := env.do(t, http.MethodPut, "/api/v1/certificates/"+strconv.FormatUint(uint64(cert.ID), 10)+"/chain", token, map[string]string{
		"blockchain_id":    "1",
		"transaction_hash": txHash(5),
	})
	require.Equal(t, http.StatusOK, rec.Code)

	anchored := chain.FormatOnChainID(big.NewInt(1))
	record := func(revoked bool) *chain.CertificateRecord {
		return &chain.CertificateRecord{
			ID:         big.NewInt(1),
			Hash:       cert.CertificateHash,
			Issuer:     alice.Address(),
			IssuedAt:   time.Now().UTC(),
			IsRevoked:  revoked,
			Metadata:   "BSc Computer Science",
			IssuerName: "Acme University",
		}
	}

	t.Run("Valid certificate matches the stored row", func(t *testing.T) {
		call := env.Chain.On("VerifyCertificate", anchored).Return(record(false), nil).Once()
		defer call.Unset()

		rec := env.do(t, http.MethodGet, "/api/v1/verify/1", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		got := decode[verifyBody](t, rec)
		assert.Equal(t, "valid", got.Status)
		assert.Equal(t, anchored, got.OnChainID)
		assert.False(t, got.StoreLag)
		require.NotNil(t, got.HashMatches)
		assert.True(t, *got.HashMatches)
		require.NotNil(t, got.Certificate)
		assert.Equal(t, cert.ID, got.Certificate.ID)
	})

	t.Run("Revoked on chain but not in the store lags", func(t *testing.T) {
		call := env.Chain.On("VerifyCertificate", anchored).Return(record(true), nil).Once()
		defer call.Unset()

		rec := env.do(t, http.MethodGet, "/api/v1/verify/"+anchored, "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		got := decode[verifyBody](t, rec)
		assert.Equal(t, "revoked", got.Status)
		assert.True(t, got.StoreLag)
	})

	t.Run("Never issued reports not found", func(t *testing.T) {
		missing := chain.FormatOnChainID(big.NewInt(999))
		call := env.Chain.On("VerifyCertificate", missing).Return(nil, apperr.NotFound("certificate does not exist")).Once()
		defer call.Unset()

		rec := env.do(t, http.MethodGet, "/api/v1/verify/999", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		got := decode[verifyBody](t, rec)
		assert.Equal(t, "not_found", got.Status)
		assert.Nil(t, got.Chain)
	})

	t.Run("Malformed id is rejected before the chain", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/v1/verify/not-a-number", "", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Unreachable chain", func(t *testing.T) {
		call := env.Chain.On("VerifyCertificate", mock.Anything).
			Return(nil, apperr.New(apperr.KindChainUnavailable, "dial tcp: connection refused")).Once()
		defer call.Unset()

		rec := env.do(t, http.MethodGet, "/api/v1/verify/2", "", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "chain_unavailable", decode[errorBody](t, rec).Code)
	})

	env.Chain.AssertExpectations(t)
}

func TestFees_Integration(t *testing.T) {
	env := setupTestEnvironment(t)

	t.Run("Both fees in wei and ether", func(t *testing.T) {
		env.Chain.On("RegistrationFee").Return(big.NewInt(1e14), nil).Once()
		env.Chain.On("IssuanceFee").Return(big.NewInt(5e13), nil).Once()

		rec := env.do(t, http.MethodGet, "/api/v1/fees", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		fees := decode[map[string]string](t, rec)
		assert.Equal(t, "100000000000000", fees["registration_fee_wei"])
		assert.Equal(t, "0.0001", fees["registration_fee"])
		assert.Equal(t, "0.00005", fees["issuance_fee"])
	})

	t.Run("Fee read failure", func(t *testing.T) {
		env.Chain.On("RegistrationFee").Return(nil, apperr.New(apperr.KindChainUnavailable, "timeout")).Once()
		env.Chain.On("IssuanceFee").Return(big.NewInt(5e13), nil).Maybe()

		rec := env.do(t, http.MethodGet, "/api/v1/fees", "", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

type registryBody struct {
	WalletAddress    string      `json:"wallet_address"`
	Registered       bool        `json:"registered"`
	Name             string      `json:"name"`
	CertificateCount string      `json:"certificate_count"`
	Certificates     []string    `json:"certificates"`
	Entity           *entityBody `json:"entity"`
	StoreLag         bool        `json:"store_lag"`
	UnconfirmedLink  bool        `json:"unconfirmed_link"`
}

func TestRegistryHandler_Integration(t *testing.T) {
	env := setupTestEnvironment(t)
	alice := newWallet(t)
	_, entity := env.createEntity(t, alice, "Acme University")
	path := "/api/v1/wallets/" + alice.Address().Hex() + "/registry"

	t.Run("Registered wallet lists its on-chain certificates", func(t *testing.T) {
		calls := []*mock.Call{
			env.Chain.On("IsEntityRegistered", alice.Address()).Return(true, nil).Once(),
			env.Chain.On("EntityInfo", alice.Address()).Return(&chain.EntityInfo{
				Address:   alice.Address(),
				Name:      "Acme University",
				IsActive:  true,
				CertCount: big.NewInt(1),
			}, nil).Once(),
			env.Chain.On("EntityCertificates", alice.Address()).Return([]*big.Int{big.NewInt(3)}, nil).Once(),
		}
		defer func() {
			for _, c := range calls {
				c.Unset()
			}
		}()

		rec := env.do(t, http.MethodGet, path, "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		got := decode[registryBody](t, rec)
		assert.True(t, got.Registered)
		assert.Equal(t, "Acme University", got.Name)
		assert.Equal(t, "1", got.CertificateCount)
		assert.Equal(t, []string{chain.FormatOnChainID(big.NewInt(3))}, got.Certificates)
		require.NotNil(t, got.Entity)
		assert.Equal(t, entity.ID, got.Entity.ID)
		assert.True(t, got.StoreLag, "the row was never linked")
	})

	t.Run("Unregistered wallet", func(t *testing.T) {
		call := env.Chain.On("IsEntityRegistered", alice.Address()).Return(false, nil).Once()
		defer call.Unset()

		rec := env.do(t, http.MethodGet, path, "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		got := decode[registryBody](t, rec)
		assert.False(t, got.Registered)
		assert.Empty(t, got.Certificates)
		assert.False(t, got.UnconfirmedLink)
	})

	t.Run("Invalid address", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/v1/wallets/acme/registry", "", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Chain unavailable", func(t *testing.T) {
		call := env.Chain.On("IsEntityRegistered", alice.Address()).Return(false, apperr.New(apperr.KindChainUnavailable, "rpc down")).Once()
		defer call.Unset()

		rec := env.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}
