// Package journal persists reconciliation steps that are known to be
// incomplete: a chain transaction whose confirmation was abandoned, or a
// confirmed chain write whose store half failed. Entries live in an embedded
// badger database on the client machine and are replayed by the retry
// command.
package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const keyPrefix = "pending/"

// ErrNotFound is returned for an unknown entry id.
var ErrNotFound = errors.New("journal entry not found")

// Entry is one incomplete operation.
type Entry struct {
	ID            string          `json:"id"`
	Op            string          `json:"op"`
	Wallet        string          `json:"wallet"`
	State         string          `json:"state"`
	TxHash        string          `json:"tx_hash,omitempty"`
	OnChainID     string          `json:"on_chain_id,omitempty"`
	EntityID      string          `json:"entity_id,omitempty"`
	CertificateID uint            `json:"certificate_id,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Attempts      int             `json:"attempts"`
	LastError     string          `json:"last_error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Journal is a badger-backed store of entries keyed by wallet.
type Journal struct {
	db     *badger.DB
	logger *zap.Logger
}

// Open opens the journal at path, creating the directory when needed. An
// empty path opens an in-memory journal.
func Open(path string, logger *zap.Logger) (*Journal, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create journal dir: %w", err)
		}
		opts = badger.DefaultOptions(path)
	}
	opts = opts.
		WithLogger(newBadgerLogger(logger)).
		WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	return &Journal{db: db, logger: logger.Named("journal")}, nil
}

// Close closes the journal.
func (j *Journal) Close() error {
	return j.db.Close()
}

func entryKey(wallet, id string) []byte {
	return []byte(keyPrefix + strings.ToLower(wallet) + "/" + id)
}

// Record stores a new entry and assigns its id.
func (j *Journal) Record(e *Entry) error {
	if e.Wallet == "" || e.Op == "" {
		return errors.New("journal entry needs an op and a wallet")
	}
	now := time.Now().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.Wallet = strings.ToLower(e.Wallet)
	e.CreatedAt = now
	e.UpdatedAt = now
	if err := j.put(e); err != nil {
		return err
	}

	j.logger.Info("Pending operation recorded",
		zap.String("id", e.ID),
		zap.String("op", e.Op),
		zap.String("state", e.State),
		zap.String("tx_hash", e.TxHash),
	)
	return nil
}

// Update overwrites an existing entry.
func (j *Journal) Update(e *Entry) error {
	if _, err := j.Get(e.Wallet, e.ID); err != nil {
		return err
	}
	e.UpdatedAt = time.Now().UTC()
	return j.put(e)
}

func (j *Journal) put(e *Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode journal entry: %w", err)
	}
	err = j.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey(e.Wallet, e.ID), data)
	})
	if err != nil {
		return fmt.Errorf("failed to write journal entry: %w", err)
	}
	return nil
}

// Get returns one entry.
func (j *Journal) Get(wallet, id string) (*Entry, error) {
	var e Entry
	err := j.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(entryKey(wallet, id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &e)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read journal entry: %w", err)
	}
	return &e, nil
}

// Pending lists the entries of wallet, oldest first.
func (j *Journal) Pending(wallet string) ([]*Entry, error) {
	prefix := []byte(keyPrefix + strings.ToLower(wallet) + "/")
	var entries []*Entry
	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var e Entry
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			})
			if err != nil {
				return err
			}
			entries = append(entries, &e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list journal entries: %w", err)
	}
	sort.Slice(entries, func(a, b int) bool {
		return entries[a].CreatedAt.Before(entries[b].CreatedAt)
	})
	return entries, nil
}

// Resolve removes an entry once its operation is complete.
func (j *Journal) Resolve(e *Entry) error {
	err := j.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(entryKey(e.Wallet, e.ID))
	})
	if err != nil {
		return fmt.Errorf("failed to delete journal entry: %w", err)
	}
	j.logger.Info("Pending operation resolved",
		zap.String("id", e.ID),
		zap.String("op", e.Op),
	)
	return nil
}
