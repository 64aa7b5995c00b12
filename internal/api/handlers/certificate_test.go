package handlers_test

import (
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Abdullah-AboOun/CertifyChain/internal/chain"
)

func TestCertificateHandler_Integration(t *testing.T) {
	env := setupTestEnvironment(t)
	alice := newWallet(t)
	token, entity := env.createEntity(t, alice, "Acme University")
	bobToken, _ := env.createEntity(t, newWallet(t), "Other College")

	cert := env.createCertificate(t, token, entity.ID, "Jane Doe")
	path := "/api/v1/certificates/" + strconv.FormatUint(uint64(cert.ID), 10)
	onChainID := chain.FormatOnChainID(big.NewInt(7))

	t.Run("Created certificate is pending the chain", func(t *testing.T) {
		assert.Len(t, cert.CertificateHash, 64)
		assert.Nil(t, cert.BlockchainID)

		rec := env.do(t, http.MethodGet, path, "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		got := decode[certificateBody](t, rec)
		assert.Equal(t, "pending_chain", got.Status)
		assert.Equal(t, "Acme University", got.IssuerName)
	})

	t.Run("Issuing for a foreign entity is refused", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/certificates", bobToken, map[string]string{
			"issuer_id":      entity.ID,
			"recipient_name": "Mallory",
		})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("Invalid recipient", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/certificates", token, map[string]string{
			"issuer_id":       entity.ID,
			"recipient_name":  "Jane Doe",
			"recipient_email": "not-an-email",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "validation", decode[errorBody](t, rec).Code)
	})

	t.Run("Invalid and unknown ids", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/v1/certificates/abc", "", nil).Code)
		assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/v1/certificates/9999", "", nil).Code)
	})

	t.Run("Attach on-chain id", func(t *testing.T) {
		rec := env.do(t, http.MethodPut, path+"/chain", bobToken, map[string]string{
			"blockchain_id":    onChainID,
			"transaction_hash": txHash(3),
		})
		assert.Equal(t, http.StatusForbidden, rec.Code)

		rec = env.do(t, http.MethodPut, path+"/chain", token, map[string]string{
			"blockchain_id":    "7",
			"transaction_hash": txHash(3),
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		got := decode[certificateBody](t, rec)
		require.NotNil(t, got.BlockchainID)
		assert.Equal(t, onChainID, *got.BlockchainID)
	})

	t.Run("Lookup by on-chain id and hash", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/v1/lookup/certificate?blockchain_id="+onChainID, "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, cert.ID, decode[certificateBody](t, rec).ID)
		assert.Equal(t, "valid", decode[certificateBody](t, rec).Status)

		rec = env.do(t, http.MethodGet, "/api/v1/lookup/certificate?hash="+cert.CertificateHash, "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, cert.ID, decode[certificateBody](t, rec).ID)

		rec = env.do(t, http.MethodGet, "/api/v1/lookup/certificate", "", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Revoke is owner only and monotonic", func(t *testing.T) {
		rec := env.do(t, http.MethodPut, path+"/revoke", bobToken, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)

		rec = env.do(t, http.MethodPut, path+"/revoke", token, map[string]string{"revoke_tx_hash": txHash(4)})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.True(t, decode[certificateBody](t, rec).IsRevoked)

		rec = env.do(t, http.MethodPut, path+"/revoke", token, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, decode[certificateBody](t, rec).IsRevoked)

		rec = env.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, "revoked", decode[certificateBody](t, rec).Status)
	})

	t.Run("Own and entity listings", func(t *testing.T) {
		env.createCertificate(t, token, entity.ID, "John Roe")

		rec := env.do(t, http.MethodGet, "/api/v1/me/certificates", token, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, decode[[]certificateBody](t, rec), 2)

		rec = env.do(t, http.MethodGet, "/api/v1/entities/"+entity.ID+"/certificates", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, decode[[]certificateBody](t, rec), 2)

		rec = env.do(t, http.MethodGet, "/api/v1/me/certificates", bobToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, decode[[]certificateBody](t, rec))
	})

	t.Run("Search with filters and cursor", func(t *testing.T) {
		for i := range 3 {
			env.createCertificate(t, token, entity.ID, fmt.Sprintf("Sam Doe %d", i))
		}

		type page struct {
			Items      []certificateBody `json:"items"`
			NextCursor string            `json:"next_cursor"`
		}
		rec := env.do(t, http.MethodGet, "/api/v1/certificates?q=doe&limit=3", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		first := decode[page](t, rec)
		assert.Len(t, first.Items, 3)
		require.NotEmpty(t, first.NextCursor)

		rec = env.do(t, http.MethodGet, "/api/v1/certificates?q=doe&limit=3&cursor="+first.NextCursor, "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		second := decode[page](t, rec)
		assert.Len(t, second.Items, 1)
		assert.Equal(t, "Jane Doe", second.Items[0].RecipientName)

		rec = env.do(t, http.MethodGet, "/api/v1/certificates?is_revoked=true", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		revoked := decode[page](t, rec)
		require.Len(t, revoked.Items, 1)
		assert.Equal(t, cert.ID, revoked.Items[0].ID)

		rec = env.do(t, http.MethodGet, "/api/v1/certificates?is_revoked=maybe", "", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
