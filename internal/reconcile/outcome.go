package reconcile

import (
	"github.com/Abdullah-AboOun/CertifyChain/internal/database/models"
)

// State is a step of one reconciled operation.
type State string

const (
	StateNotStarted     State = "not_started"
	StateChainPending   State = "chain_pending"
	StateChainConfirmed State = "chain_confirmed"
	StateChainFailed    State = "chain_failed"
	StateChainUnknown   State = "chain_unknown"
	StateStoreWritten   State = "store_written"
	StateStoreFailed    State = "store_failed"
	StateDone           State = "done"
)

// Consistency tells where the requested change has landed.
type Consistency string

const (
	// BothConsistent: the chain and the store agree on the requested state.
	BothConsistent Consistency = "both_consistent"
	// ChainOnly: the chain write confirmed, the store has not caught up.
	ChainOnly Consistency = "chain_only"
	// StoreOnly: the row exists but its chain write failed or never ran.
	StoreOnly Consistency = "store_only"
	// Unknown: a transaction was broadcast and its fate is not known yet.
	Unknown Consistency = "unknown"
	// None: neither side changed.
	None Consistency = "none"
)

// Op names a reconciled operation.
type Op string

const (
	OpRegister Op = "register"
	OpIssue    Op = "issue"
	OpResume   Op = "resume_issue"
	OpRevoke   Op = "revoke"
	OpRetry    Op = "retry"
)

// Outcome is the result of an operation, whether it completed or not. A
// failed operation still reports what was written and the transaction hash
// of any chain write.
type Outcome struct {
	Op          Op                    `json:"op"`
	State       State                 `json:"state"`
	Consistency Consistency           `json:"consistency"`
	Trace       []State               `json:"trace"`
	ChainWrites int                   `json:"chain_writes"`
	StoreWrites int                   `json:"store_writes"`
	TxHash      string                `json:"tx_hash,omitempty"`
	OnChainID   string                `json:"on_chain_id,omitempty"`
	Entity      *models.IssuingEntity `json:"entity,omitempty"`
	Certificate *models.Certificate   `json:"certificate,omitempty"`
	JournalID   string                `json:"journal_id,omitempty"`
	Error       string                `json:"error,omitempty"`
}

func newOutcome(op Op) *Outcome {
	return &Outcome{
		Op:          op,
		State:       StateNotStarted,
		Consistency: None,
		Trace:       []State{StateNotStarted},
	}
}

func (o *Outcome) to(s State) {
	o.State = s
	o.Trace = append(o.Trace, s)
}

// Retryable reports whether the store half can be replayed by Retry.
func (o *Outcome) Retryable() bool {
	return o.JournalID != ""
}
