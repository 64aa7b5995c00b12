// Package wallet provides the signing identity of the command line client:
// account discovery, EIP-191 message signing for sign-in, and transaction
// options for fee-paying contract writes.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/Abdullah-AboOun/CertifyChain/internal/config"
)

// Wallet holds one unlocked private key.
type Wallet struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// New wraps an existing private key.
func New(key *ecdsa.PrivateKey) *Wallet {
	return &Wallet{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

// FromConfig unlocks the keystore file, or parses the hex private key when
// no keystore is configured.
func FromConfig(cfg config.WalletConfig) (*Wallet, error) {
	if cfg.KeystorePath != "" {
		return FromKeystore(cfg.KeystorePath, cfg.Passphrase)
	}
	return FromHex(cfg.PrivateKey)
}

// FromKeystore decrypts a go-ethereum keystore JSON file.
func FromKeystore(path, passphrase string) (*Wallet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read keystore: %w", err)
	}
	key, err := keystore.DecryptKey(data, passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt keystore: %w", err)
	}
	return New(key.PrivateKey), nil
}

// FromHex parses a hex-encoded secp256k1 private key.
func FromHex(hexKey string) (*Wallet, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return New(key), nil
}

// Address returns the wallet's checksummed address.
func (w *Wallet) Address() common.Address {
	return w.address
}

// RequestAccounts lists the accounts the wallet controls.
func (w *Wallet) RequestAccounts() []common.Address {
	return []common.Address{w.address}
}

// SignMessage produces a personal_sign (EIP-191) signature over message,
// hex-encoded with a recovery id of 27 or 28.
func (w *Wallet) SignMessage(message string) (string, error) {
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), w.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign message: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

// TransactOpts returns signing options for chainID.
func (w *Wallet) TransactOpts(ctx context.Context, chainID *big.Int) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(w.key, chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}
	opts.Context = ctx
	return opts, nil
}
