// Package models defines the persisted records of CertifyChain: issuing
// entities and the certificates they issue.
package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// IssuingEntity is an organization allowed to issue certificates. It may
// exist before its on-chain registration is confirmed; BlockchainID and
// TransactionHash are filled in once it is.
type IssuingEntity struct {
	ID                 string    `gorm:"primaryKey;size:36" json:"id"`
	OwnerAddress       string    `gorm:"uniqueIndex;size:42;not null" json:"owner_address"`
	WalletAddress      string    `gorm:"uniqueIndex;size:42;not null" json:"wallet_address"`
	Name               string    `gorm:"not null" json:"name"`
	Description        string    `json:"description,omitempty"`
	OrganizationType   string    `json:"organization_type,omitempty"`
	Country            string    `json:"country,omitempty"`
	Website            string    `json:"website,omitempty"`
	Email              string    `json:"email,omitempty"`
	Phone              string    `json:"phone,omitempty"`
	Address            string    `json:"address,omitempty"`
	RegistrationNumber string    `json:"registration_number,omitempty"`
	TaxID              string    `json:"tax_id,omitempty"`
	BlockchainID       *string   `gorm:"size:66" json:"blockchain_id,omitempty"`
	TransactionHash    *string   `gorm:"size:66" json:"transaction_hash,omitempty"`
	RegisteredAt       time.Time `gorm:"autoCreateTime" json:"registered_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// BeforeCreate assigns the id and normalizes addresses.
func (e *IssuingEntity) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.WalletAddress = strings.ToLower(e.WalletAddress)
	e.OwnerAddress = strings.ToLower(e.OwnerAddress)
	return nil
}

// OnChain reports whether the entity's chain registration has been linked.
func (e *IssuingEntity) OnChain() bool {
	return e.TransactionHash != nil && *e.TransactionHash != "" ||
		e.BlockchainID != nil && *e.BlockchainID != ""
}

// Certificate is an issued credential. The row is written before the chain
// transaction so CertificateHash can be the on-chain payload.
type Certificate struct {
	ID              uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	BlockchainID    *string        `gorm:"uniqueIndex;size:66" json:"blockchain_id,omitempty"`
	CertificateHash string         `gorm:"uniqueIndex;size:64;not null" json:"certificate_hash"`
	RecipientName   string         `gorm:"not null" json:"recipient_name"`
	RecipientEmail  *string        `gorm:"index" json:"recipient_email,omitempty"`
	Description     string         `json:"description,omitempty"`
	DocumentURL     string         `json:"document_url,omitempty"`
	IsRevoked       bool           `gorm:"not null;default:false" json:"is_revoked"`
	IssuedAt        time.Time      `gorm:"not null" json:"issued_at"`
	RevokedAt       *time.Time     `json:"revoked_at,omitempty"`
	TransactionHash *string        `gorm:"size:66" json:"transaction_hash,omitempty"`
	RevokeTxHash    *string        `gorm:"size:66" json:"revoke_tx_hash,omitempty"`
	IssuerID        string         `gorm:"index;size:36;not null" json:"issuer_id"`
	Issuer          *IssuingEntity `gorm:"foreignKey:IssuerID;constraint:OnDelete:RESTRICT" json:"issuer,omitempty"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Anchored reports whether the certificate has an on-chain identifier.
func (c *Certificate) Anchored() bool {
	return c.BlockchainID != nil && *c.BlockchainID != ""
}

// Email returns the recipient email or the empty string.
func (c *Certificate) Email() string {
	if c.RecipientEmail == nil {
		return ""
	}
	return *c.RecipientEmail
}
