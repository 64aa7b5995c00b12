package reconcile

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Abdullah-AboOun/CertifyChain/internal/apperr"
	"github.com/Abdullah-AboOun/CertifyChain/internal/chain"
)

// fakeChain is an in-memory registry. Writes succeed unless an error is set
// for the method; a *chain.PendingError leaves the write unapplied until the
// test mines it.
type fakeChain struct {
	mu         sync.Mutex
	registered map[common.Address]bool
	certs      map[string]*chain.CertificateRecord
	receipts   map[string]*chain.Receipt
	nextID     int64
	nextTx     int
	writes     int
	issued     []string
	metadata   []string

	registerErr error
	issueErr    error
	revokeErr   error
	receiptErr  error
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		registered: map[common.Address]bool{},
		certs:      map[string]*chain.CertificateRecord{},
		receipts:   map[string]*chain.Receipt{},
	}
}

var (
	registrationFee = big.NewInt(100_000_000_000_000)
	issuanceFee     = big.NewInt(50_000_000_000_000)
)

func (c *fakeChain) txHash() string {
	c.nextTx++
	return fmt.Sprintf("0x%064x", c.nextTx)
}

func pending(method, txHash string) error {
	return &chain.PendingError{Method: method, TxHash: txHash, Err: context.DeadlineExceeded}
}

func rejected(reason string, alreadyExists bool) error {
	return &apperr.Error{Kind: apperr.KindChainRejected, Msg: "execution reverted: " + reason, AlreadyExists: alreadyExists}
}

func (c *fakeChain) IsEntityRegistered(_ context.Context, address common.Address) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registered[address], nil
}

func (c *fakeChain) RegistrationFee(context.Context) (*big.Int, error) {
	return registrationFee, nil
}

func (c *fakeChain) IssuanceFee(context.Context) (*big.Int, error) {
	return issuanceFee, nil
}

// RegisterEntity registers the fake signer, alice.
func (c *fakeChain) RegisterEntity(_ context.Context, name string, fee *big.Int) (*chain.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.registerErr != nil {
		return nil, c.registerErr
	}
	if fee.Cmp(registrationFee) != 0 {
		return nil, rejected("insufficient fee", false)
	}
	if c.registered[alice.Address] {
		return nil, rejected("entity already registered", true)
	}
	c.registered[alice.Address] = true
	c.writes++
	return &chain.Receipt{TxHash: c.txHash(), OnChainID: chain.EntityChainID(alice.Address)}, nil
}

func (c *fakeChain) IssueCertificate(_ context.Context, certificateHash, metadata string, fee *big.Int) (*chain.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.issued = append(c.issued, certificateHash)
	c.metadata = append(c.metadata, metadata)
	if c.issueErr != nil {
		return nil, c.issueErr
	}
	if fee.Cmp(issuanceFee) != 0 {
		return nil, rejected("insufficient fee", false)
	}
	return c.issueLocked(certificateHash, metadata), nil
}

func (c *fakeChain) issueLocked(certificateHash, metadata string) *chain.Receipt {
	c.nextID++
	id := big.NewInt(c.nextID)
	c.certs[chain.FormatOnChainID(id)] = &chain.CertificateRecord{
		ID:         id,
		Hash:       certificateHash,
		Issuer:     alice.Address,
		IssuedAt:   time.Now(),
		Metadata:   metadata,
		IssuerName: "Acme University",
	}
	c.writes++
	return &chain.Receipt{TxHash: c.txHash(), OnChainID: chain.FormatOnChainID(id)}
}

func (c *fakeChain) RevokeCertificate(_ context.Context, id *big.Int) (*chain.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.revokeErr != nil {
		return nil, c.revokeErr
	}
	rec, ok := c.certs[chain.FormatOnChainID(id)]
	if !ok {
		return nil, rejected("certificate does not exist", false)
	}
	if rec.IsRevoked {
		return nil, rejected("certificate already revoked", true)
	}
	rec.IsRevoked = true
	c.writes++
	return &chain.Receipt{TxHash: c.txHash()}, nil
}

func (c *fakeChain) VerifyCertificate(_ context.Context, id *big.Int) (*chain.CertificateRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.certs[chain.FormatOnChainID(id)]
	if !ok {
		return nil, apperr.NotFound("certificate %s not found", id)
	}
	cp := *rec
	return &cp, nil
}

func (c *fakeChain) LookupReceipt(_ context.Context, _ string, txHash string) (*chain.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.receiptErr != nil {
		return nil, c.receiptErr
	}
	r, ok := c.receipts[txHash]
	if !ok {
		return nil, apperr.NotFound("transaction %s not mined yet", txHash)
	}
	return r, nil
}

// mine records a receipt for txHash, as if a transaction reported pending
// was confirmed later.
func (c *fakeChain) mine(txHash string, r *chain.Receipt) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r.TxHash = txHash
	c.receipts[txHash] = r
}

func (c *fakeChain) chainWrites() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes
}

// mineIssue confirms a pending issuance of the last submitted hash.
func (c *fakeChain) mineIssue(txHash string) *chain.Receipt {
	c.mu.Lock()
	r := c.issueLocked(c.issued[len(c.issued)-1], c.metadata[len(c.metadata)-1])
	c.mu.Unlock()
	c.mine(txHash, r)
	return r
}
