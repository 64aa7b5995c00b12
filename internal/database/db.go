// Package database provides database connection management, migrations and
// data access methods for CertifyChain's issuing entities and certificates.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/Abdullah-AboOun/CertifyChain/internal/config"
	"github.com/Abdullah-AboOun/CertifyChain/internal/database/models"
	"github.com/glebarez/sqlite"
	_ "github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"
)

// Database represents the database connection and operations
type Database struct {
	db     *gorm.DB
	dbType string
}

// New creates a new database connection
func New(cfg *config.Config) (*Database, error) {
	gormCfg := &gorm.Config{
		Logger:                 gormlogger.Discard,
		SkipDefaultTransaction: true,
	}

	var db *gorm.DB
	var err error

	switch cfg.Database.Type {
	case "sqlite":
		dsn := cfg.Database.SQLite.Path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
		db, err = gorm.Open(sqlite.Open(dsn), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open SQLite database: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get SQLite handle: %w", err)
		}
		// SQLite only allows one writer at a time
		sqlDB.SetMaxOpenConns(1)
	case "postgres":
		sqlDB, err := sql.Open("postgres", cfg.GetDSN())
		if err != nil {
			return nil, fmt.Errorf("failed to open PostgreSQL database: %w", err)
		}
		sqlDB.SetMaxOpenConns(cfg.Database.Postgres.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.Database.Postgres.MaxIdleConns)
		db, err = gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), gormCfg)
		if err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("failed to open PostgreSQL database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Database.Type)
	}

	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, fmt.Errorf("failed to install tracing plugin: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Database{
		db:     db,
		dbType: cfg.Database.Type,
	}, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Migrate creates or updates the schema
func (d *Database) Migrate() error {
	if err := d.db.AutoMigrate(&models.IssuingEntity{}, &models.Certificate{}); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// DB returns the underlying gorm handle
func (d *Database) DB() *gorm.DB {
	return d.db
}

// Ping checks the connection is alive
func (d *Database) Ping(ctx context.Context) error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (d *Database) likeOp() string {
	if d.dbType == "postgres" {
		return "ILIKE"
	}
	return "LIKE"
}

// Entity operations

// CreateEntity inserts a new issuing entity
func (d *Database) CreateEntity(ctx context.Context, entity *models.IssuingEntity) error {
	return translate(d.db.WithContext(ctx).Create(entity).Error)
}

// GetEntity retrieves an entity by id
func (d *Database) GetEntity(ctx context.Context, id string) (*models.IssuingEntity, error) {
	return d.findEntity(ctx, "id = ?", id)
}

// GetEntityByOwner retrieves the entity created by a session identity
func (d *Database) GetEntityByOwner(ctx context.Context, owner string) (*models.IssuingEntity, error) {
	return d.findEntity(ctx, "owner_address = ?", strings.ToLower(owner))
}

// GetEntityByWallet retrieves the entity registered for a wallet address
func (d *Database) GetEntityByWallet(ctx context.Context, wallet string) (*models.IssuingEntity, error) {
	return d.findEntity(ctx, "wallet_address = ?", strings.ToLower(wallet))
}

func (d *Database) findEntity(ctx context.Context, query string, arg any) (*models.IssuingEntity, error) {
	var entity models.IssuingEntity
	if err := d.db.WithContext(ctx).Where(query, arg).First(&entity).Error; err != nil {
		return nil, translate(err)
	}
	return &entity, nil
}

// UpdateEntity applies column updates to an entity
func (d *Database) UpdateEntity(ctx context.Context, id string, fields map[string]any) error {
	res := d.db.WithContext(ctx).Model(&models.IssuingEntity{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListEntities pages through entities, newest first. cursor is the id of the
// last entity of the previous page.
func (d *Database) ListEntities(ctx context.Context, limit int, cursor string) ([]models.IssuingEntity, error) {
	q := d.db.WithContext(ctx).Order("registered_at DESC").Order("id DESC").Limit(limit)
	if cursor != "" {
		last, err := d.GetEntity(ctx, cursor)
		if err != nil {
			return nil, err
		}
		q = q.Where("registered_at < ? OR (registered_at = ? AND id < ?)", last.RegisteredAt, last.RegisteredAt, last.ID)
	}

	var entities []models.IssuingEntity
	if err := q.Find(&entities).Error; err != nil {
		return nil, translate(err)
	}
	return entities, nil
}

// Certificate operations

// CreateCertificate inserts a new certificate
func (d *Database) CreateCertificate(ctx context.Context, cert *models.Certificate) error {
	return translate(d.db.WithContext(ctx).Create(cert).Error)
}

// GetCertificate retrieves a certificate with its issuer
func (d *Database) GetCertificate(ctx context.Context, id uint) (*models.Certificate, error) {
	return d.findCertificate(ctx, "id = ?", id)
}

// GetCertificateByBlockchainID retrieves a certificate by its on-chain identifier
func (d *Database) GetCertificateByBlockchainID(ctx context.Context, blockchainID string) (*models.Certificate, error) {
	return d.findCertificate(ctx, "blockchain_id = ?", strings.ToLower(blockchainID))
}

// GetCertificateByHash retrieves a certificate by its content hash
func (d *Database) GetCertificateByHash(ctx context.Context, hash string) (*models.Certificate, error) {
	return d.findCertificate(ctx, "certificate_hash = ?", strings.ToLower(hash))
}

func (d *Database) findCertificate(ctx context.Context, query string, arg any) (*models.Certificate, error) {
	var cert models.Certificate
	if err := d.db.WithContext(ctx).Preload("Issuer").Where(query, arg).First(&cert).Error; err != nil {
		return nil, translate(err)
	}
	return &cert, nil
}

// ListCertificatesByIssuer returns all certificates of an entity, most recent first
func (d *Database) ListCertificatesByIssuer(ctx context.Context, issuerID string) ([]models.Certificate, error) {
	var certs []models.Certificate
	err := d.db.WithContext(ctx).
		Where("issuer_id = ?", issuerID).
		Order("issued_at DESC").Order("id DESC").
		Find(&certs).Error
	if err != nil {
		return nil, translate(err)
	}
	return certs, nil
}

// AttachCertificateChainID links a certificate to its on-chain record. An
// identifier once set can only be re-attached with the same value.
func (d *Database) AttachCertificateChainID(ctx context.Context, id uint, blockchainID, txHash string) error {
	blockchainID = strings.ToLower(blockchainID)
	res := d.db.WithContext(ctx).Model(&models.Certificate{}).
		Where("id = ? AND (blockchain_id IS NULL OR blockchain_id = ?)", id, blockchainID).
		Updates(map[string]any{
			"blockchain_id":    blockchainID,
			"transaction_hash": txHash,
		})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := d.GetCertificate(ctx, id); err != nil {
			return err
		}
		return ErrChainIDMismatch
	}
	return nil
}

// RevokeCertificate flags a certificate as revoked. It reports false when the
// certificate was already revoked; the stored revocation is left as is.
func (d *Database) RevokeCertificate(ctx context.Context, id uint, revokedAt time.Time, revokeTxHash *string) (bool, error) {
	res := d.db.WithContext(ctx).Model(&models.Certificate{}).
		Where("id = ? AND is_revoked = ?", id, false).
		Updates(map[string]any{
			"is_revoked":     true,
			"revoked_at":     revokedAt,
			"revoke_tx_hash": revokeTxHash,
		})
	if res.Error != nil {
		return false, translate(res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := d.GetCertificate(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// FillRevokeTxHash records the revocation transaction of a revoked
// certificate that has none yet. It reports whether the row changed.
func (d *Database) FillRevokeTxHash(ctx context.Context, id uint, revokeTxHash string) (bool, error) {
	res := d.db.WithContext(ctx).Model(&models.Certificate{}).
		Where("id = ? AND is_revoked = ? AND (revoke_tx_hash IS NULL OR revoke_tx_hash = ?)", id, true, "").
		Update("revoke_tx_hash", strings.ToLower(revokeTxHash))
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected > 0, nil
}

// CertificateFilter narrows a certificate search
type CertificateFilter struct {
	Query          string
	RecipientEmail string
	IsRevoked      *bool
	Cursor         uint
	Limit          int
}

// SearchCertificates matches the query against recipient name, recipient
// email and hash, newest id first, starting after Cursor.
func (d *Database) SearchCertificates(ctx context.Context, f CertificateFilter) ([]models.Certificate, error) {
	q := d.db.WithContext(ctx).Preload("Issuer").Order("id DESC").Limit(f.Limit)

	if f.Query != "" {
		pattern := "%" + escapeLike(f.Query) + "%"
		op := d.likeOp()
		q = q.Where(
			fmt.Sprintf("recipient_name %[1]s ? ESCAPE '\\' OR recipient_email %[1]s ? ESCAPE '\\' OR certificate_hash %[1]s ? ESCAPE '\\'", op),
			pattern, pattern, pattern,
		)
	}
	if f.RecipientEmail != "" {
		q = q.Where("recipient_email = ?", f.RecipientEmail)
	}
	if f.IsRevoked != nil {
		q = q.Where("is_revoked = ?", *f.IsRevoked)
	}
	if f.Cursor > 0 {
		q = q.Where("id < ?", f.Cursor)
	}

	var certs []models.Certificate
	if err := q.Find(&certs).Error; err != nil {
		return nil, translate(err)
	}
	return certs, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
