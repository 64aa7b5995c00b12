package database

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Abdullah-AboOun/CertifyChain/internal/config"
	"github.com/Abdullah-AboOun/CertifyChain/internal/database/models"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDB creates a test database with migrations
func setupTestDB(t *testing.T) *Database {
	t.Helper()
	cfg := &config.Config{
		Database: config.DatabaseConfig{
			Type: "sqlite",
			SQLite: config.SQLiteConfig{
				Path: t.TempDir() + "/test.db",
			},
		},
	}

	db, err := New(cfg)
	require.NoError(t, err, "Failed to create test database")
	require.NoError(t, db.Migrate(), "Failed to run migrations")
	t.Cleanup(func() { db.Close() })
	return db
}

func strPtr(s string) *string { return &s }

func newEntity(t *testing.T, db *Database, wallet string) *models.IssuingEntity {
	t.Helper()
	entity := &models.IssuingEntity{
		OwnerAddress:  wallet,
		WalletAddress: wallet,
		Name:          "Acme University",
	}
	require.NoError(t, db.CreateEntity(context.Background(), entity))
	return entity
}

func newCertificate(t *testing.T, db *Database, issuerID, name, hash string) *models.Certificate {
	t.Helper()
	cert := &models.Certificate{
		CertificateHash: hash,
		RecipientName:   name,
		IssuedAt:        time.Now(),
		IssuerID:        issuerID,
	}
	require.NoError(t, db.CreateCertificate(context.Background(), cert))
	return cert
}

func TestNew(t *testing.T) {
	t.Run("Create SQLite database successfully", func(t *testing.T) {
		db := setupTestDB(t)
		assert.NoError(t, db.Ping(context.Background()))
		assert.NotNil(t, db.DB())
	})

	t.Run("Unsupported database type", func(t *testing.T) {
		_, err := New(&config.Config{Database: config.DatabaseConfig{Type: "mysql"}})
		assert.ErrorContains(t, err, "unsupported database type")
	})

	t.Run("Migrate is repeatable", func(t *testing.T) {
		db := setupTestDB(t)
		assert.NoError(t, db.Migrate())
	})
}

func TestEntityOperations(t *testing.T) {
	ctx := context.Background()

	t.Run("Create assigns id and lower-cases addresses", func(t *testing.T) {
		db := setupTestDB(t)
		entity := newEntity(t, db, "0xABCDEF0000000000000000000000000000000001")

		assert.Len(t, entity.ID, 36)
		assert.Equal(t, "0xabcdef0000000000000000000000000000000001", entity.WalletAddress)
		assert.False(t, entity.OnChain())

		got, err := db.GetEntityByWallet(ctx, "0xAbCdEf0000000000000000000000000000000001")
		require.NoError(t, err)
		assert.Equal(t, entity.ID, got.ID)

		got, err = db.GetEntityByOwner(ctx, entity.OwnerAddress)
		require.NoError(t, err)
		assert.Equal(t, entity.ID, got.ID)
	})

	t.Run("Duplicate wallet is rejected", func(t *testing.T) {
		db := setupTestDB(t)
		newEntity(t, db, "0x0000000000000000000000000000000000000001")

		err := db.CreateEntity(ctx, &models.IssuingEntity{
			OwnerAddress:  "0x0000000000000000000000000000000000000001",
			WalletAddress: "0x0000000000000000000000000000000000000001",
			Name:          "Again",
		})
		assert.ErrorIs(t, err, ErrDuplicate)
	})

	t.Run("Missing entity", func(t *testing.T) {
		db := setupTestDB(t)
		_, err := db.GetEntity(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, db.UpdateEntity(ctx, "missing", map[string]any{"name": "x"}), ErrNotFound)
	})

	t.Run("Update links chain", func(t *testing.T) {
		db := setupTestDB(t)
		entity := newEntity(t, db, "0x0000000000000000000000000000000000000002")

		require.NoError(t, db.UpdateEntity(ctx, entity.ID, map[string]any{
			"transaction_hash": "0xfeed",
			"blockchain_id":    "0x01",
		}))
		got, err := db.GetEntity(ctx, entity.ID)
		require.NoError(t, err)
		assert.True(t, got.OnChain())
		assert.Equal(t, "0xfeed", *got.TransactionHash)
	})

	t.Run("List pages newest first", func(t *testing.T) {
		db := setupTestDB(t)
		for i := 1; i <= 5; i++ {
			newEntity(t, db, fmt.Sprintf("0x%040d", i))
		}

		first, err := db.ListEntities(ctx, 3, "")
		require.NoError(t, err)
		require.Len(t, first, 3)

		second, err := db.ListEntities(ctx, 3, first[2].ID)
		require.NoError(t, err)
		require.Len(t, second, 2)

		seen := map[string]bool{}
		for _, e := range append(first, second...) {
			assert.False(t, seen[e.ID], "entity listed twice")
			seen[e.ID] = true
		}
	})
}

func TestCertificateOperations(t *testing.T) {
	ctx := context.Background()

	t.Run("Create and read back with issuer", func(t *testing.T) {
		db := setupTestDB(t)
		entity := newEntity(t, db, "0x0000000000000000000000000000000000000003")
		cert := newCertificate(t, db, entity.ID, "Jane Doe", "aa")

		got, err := db.GetCertificate(ctx, cert.ID)
		require.NoError(t, err)
		assert.Equal(t, "Jane Doe", got.RecipientName)
		require.NotNil(t, got.Issuer)
		assert.Equal(t, "Acme University", got.Issuer.Name)
		assert.False(t, got.IsRevoked)
		assert.False(t, got.Anchored())

		got, err = db.GetCertificateByHash(ctx, "AA")
		require.NoError(t, err)
		assert.Equal(t, cert.ID, got.ID)
	})

	t.Run("Issuer must exist", func(t *testing.T) {
		db := setupTestDB(t)
		err := db.CreateCertificate(ctx, &models.Certificate{
			CertificateHash: "bb",
			RecipientName:   "Nobody",
			IssuedAt:        time.Now(),
			IssuerID:        "missing",
		})
		assert.Error(t, err)
	})

	t.Run("Attach chain id is write-once", func(t *testing.T) {
		db := setupTestDB(t)
		entity := newEntity(t, db, "0x0000000000000000000000000000000000000004")
		cert := newCertificate(t, db, entity.ID, "Jane Doe", "cc")

		require.NoError(t, db.AttachCertificateChainID(ctx, cert.ID, "0xABC", "0xtx1"))
		require.NoError(t, db.AttachCertificateChainID(ctx, cert.ID, "0xabc", "0xtx1"))
		assert.ErrorIs(t, db.AttachCertificateChainID(ctx, cert.ID, "0xdef", "0xtx2"), ErrChainIDMismatch)
		assert.ErrorIs(t, db.AttachCertificateChainID(ctx, 999, "0xdef", "0xtx2"), ErrNotFound)

		got, err := db.GetCertificateByBlockchainID(ctx, "0xAbc")
		require.NoError(t, err)
		assert.Equal(t, "0xtx1", *got.TransactionHash)
	})

	t.Run("Two certificates cannot share an on-chain id", func(t *testing.T) {
		db := setupTestDB(t)
		entity := newEntity(t, db, "0x0000000000000000000000000000000000000005")
		a := newCertificate(t, db, entity.ID, "A", "d1")
		b := newCertificate(t, db, entity.ID, "B", "d2")

		require.NoError(t, db.AttachCertificateChainID(ctx, a.ID, "0x01", "0xtx"))
		assert.ErrorIs(t, db.AttachCertificateChainID(ctx, b.ID, "0x01", "0xtx"), ErrDuplicate)
	})

	t.Run("Revoke is monotonic", func(t *testing.T) {
		db := setupTestDB(t)
		entity := newEntity(t, db, "0x0000000000000000000000000000000000000006")
		cert := newCertificate(t, db, entity.ID, "Jane Doe", "ee")

		first := time.Now().Add(-time.Hour)
		changed, err := db.RevokeCertificate(ctx, cert.ID, first, strPtr("0xrevoke"))
		require.NoError(t, err)
		assert.True(t, changed)

		changed, err = db.RevokeCertificate(ctx, cert.ID, time.Now(), nil)
		require.NoError(t, err)
		assert.False(t, changed)

		got, err := db.GetCertificate(ctx, cert.ID)
		require.NoError(t, err)
		assert.True(t, got.IsRevoked)
		require.NotNil(t, got.RevokeTxHash)
		assert.Equal(t, "0xrevoke", *got.RevokeTxHash)
		assert.WithinDuration(t, first, *got.RevokedAt, time.Second)

		_, err = db.RevokeCertificate(ctx, 999, time.Now(), nil)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Revoke transaction is filled once", func(t *testing.T) {
		db := setupTestDB(t)
		entity := newEntity(t, db, "0x0000000000000000000000000000000000000009")
		cert := newCertificate(t, db, entity.ID, "Jane Doe", "ef")

		filled, err := db.FillRevokeTxHash(ctx, cert.ID, "0xAB")
		require.NoError(t, err)
		assert.False(t, filled, "an active certificate is not touched")

		_, err = db.RevokeCertificate(ctx, cert.ID, time.Now(), nil)
		require.NoError(t, err)
		filled, err = db.FillRevokeTxHash(ctx, cert.ID, "0xAB")
		require.NoError(t, err)
		assert.True(t, filled)
		filled, err = db.FillRevokeTxHash(ctx, cert.ID, "0xcd")
		require.NoError(t, err)
		assert.False(t, filled)

		got, err := db.GetCertificate(ctx, cert.ID)
		require.NoError(t, err)
		assert.Equal(t, "0xab", *got.RevokeTxHash)
	})

	t.Run("List by issuer newest first", func(t *testing.T) {
		db := setupTestDB(t)
		entity := newEntity(t, db, "0x0000000000000000000000000000000000000007")
		old := &models.Certificate{CertificateHash: "f1", RecipientName: "Old", IssuedAt: time.Now().Add(-time.Hour), IssuerID: entity.ID}
		require.NoError(t, db.CreateCertificate(ctx, old))
		newCertificate(t, db, entity.ID, "New", "f2")

		certs, err := db.ListCertificatesByIssuer(ctx, entity.ID)
		require.NoError(t, err)
		require.Len(t, certs, 2)
		assert.Equal(t, "New", certs[0].RecipientName)
	})
}

func TestSearchCertificates(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	entity := newEntity(t, db, "0x0000000000000000000000000000000000000008")

	for i := 0; i < 5; i++ {
		cert := newCertificate(t, db, entity.ID, fmt.Sprintf("Student %d", i), fmt.Sprintf("%064d", i))
		if i == 0 {
			_, err := db.RevokeCertificate(ctx, cert.ID, time.Now(), nil)
			require.NoError(t, err)
		}
	}
	email := "jane@example.com"
	require.NoError(t, db.CreateCertificate(ctx, &models.Certificate{
		CertificateHash: "ab12",
		RecipientName:   "Jane Doe",
		RecipientEmail:  &email,
		IssuedAt:        time.Now(),
		IssuerID:        entity.ID,
	}))

	t.Run("Keyword matches name, email and hash", func(t *testing.T) {
		certs, err := db.SearchCertificates(ctx, CertificateFilter{Query: "student", Limit: 10})
		require.NoError(t, err)
		assert.Len(t, certs, 5)

		certs, err = db.SearchCertificates(ctx, CertificateFilter{Query: "example.com", Limit: 10})
		require.NoError(t, err)
		require.Len(t, certs, 1)
		assert.Equal(t, "Jane Doe", certs[0].RecipientName)

		certs, err = db.SearchCertificates(ctx, CertificateFilter{Query: "ab1", Limit: 10})
		require.NoError(t, err)
		assert.Len(t, certs, 1)
	})

	t.Run("Wildcards in the query are literal", func(t *testing.T) {
		certs, err := db.SearchCertificates(ctx, CertificateFilter{Query: "%", Limit: 10})
		require.NoError(t, err)
		assert.Empty(t, certs)
	})

	t.Run("Filters", func(t *testing.T) {
		revoked := true
		certs, err := db.SearchCertificates(ctx, CertificateFilter{IsRevoked: &revoked, Limit: 10})
		require.NoError(t, err)
		require.Len(t, certs, 1)
		assert.Equal(t, "Student 0", certs[0].RecipientName)

		certs, err = db.SearchCertificates(ctx, CertificateFilter{RecipientEmail: email, Limit: 10})
		require.NoError(t, err)
		assert.Len(t, certs, 1)
	})

	t.Run("Cursor continues below the last id", func(t *testing.T) {
		page, err := db.SearchCertificates(ctx, CertificateFilter{Limit: 4})
		require.NoError(t, err)
		require.Len(t, page, 4)
		assert.Greater(t, page[0].ID, page[3].ID)

		rest, err := db.SearchCertificates(ctx, CertificateFilter{Limit: 4, Cursor: page[3].ID})
		require.NoError(t, err)
		assert.Len(t, rest, 2)
	})
}

func TestTranslate(t *testing.T) {
	assert.Nil(t, translate(nil))
	assert.ErrorIs(t, translate(&pq.Error{Code: "23505"}), ErrDuplicate)
	assert.ErrorIs(t, translate(errors.New("constraint failed: UNIQUE constraint failed: certificates.certificate_hash (2067)")), ErrDuplicate)

	other := errors.New("disk I/O error")
	assert.Equal(t, other, translate(other))
}
