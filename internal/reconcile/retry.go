package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Abdullah-AboOun/CertifyChain/internal/apperr"
	"github.com/Abdullah-AboOun/CertifyChain/internal/chain"
	"github.com/Abdullah-AboOun/CertifyChain/internal/journal"
	"github.com/Abdullah-AboOun/CertifyChain/internal/service"
)

var receiptMethods = map[Op]string{
	OpRegister: chain.MethodRegisterEntity,
	OpIssue:    chain.MethodIssueCertificate,
	OpRevoke:   chain.MethodRevokeCertificate,
}

// Retry replays the journaled operations of the session's wallet. Unknown
// transactions are looked up by hash; confirmed ones get their store half
// written. Retry never submits a chain transaction. Entries that still
// cannot complete stay in the journal with their attempt count raised.
func (f *Flow) Retry(ctx context.Context, s Session) ([]*Outcome, error) {
	release, err := f.inflight.acquire(fmt.Sprintf("%s:%s", OpRetry, s.Owner()))
	if err != nil {
		return nil, err
	}
	defer release()

	entries, err := f.journal.Pending(s.Owner())
	if err != nil {
		return nil, err
	}

	var errs []error
	outcomes := make([]*Outcome, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		ctx, span := f.tracer.Start(ctx, "reconcile.retry")
		out := newOutcome(Op(e.Op))
		out.JournalID = e.ID
		out.TxHash = e.TxHash
		out.OnChainID = e.OnChainID

		out, err := f.finish(span, s, out, f.replay(ctx, s, e, out))
		outcomes = append(outcomes, out)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", e.Op, e.ID, err))
		}
	}
	return outcomes, errors.Join(errs...)
}

func (f *Flow) replay(ctx context.Context, s Session, e *journal.Entry, out *Outcome) error {
	op := Op(e.Op)
	method, ok := receiptMethods[op]
	if !ok {
		f.logger.Warn("Dropping journal entry with unknown op", zap.String("id", e.ID), zap.String("op", e.Op))
		return f.journal.Resolve(e)
	}

	if e.State == string(StateChainUnknown) {
		out.to(StateChainUnknown)
		out.Consistency = Unknown
		settled, err := f.settle(ctx, s, e, method, out)
		if err != nil || !settled {
			return f.keep(e, err)
		}
	}
	out.to(StateChainConfirmed)
	out.Consistency = ChainOnly

	if err := f.replayStore(ctx, s, e, out); err != nil {
		out.to(StateStoreFailed)
		return f.keep(e, err)
	}
	out.StoreWrites++
	out.to(StateStoreWritten)
	out.to(StateDone)
	out.Consistency = BothConsistent
	out.JournalID = ""
	return f.journal.Resolve(e)
}

// settle resolves an unknown transaction. It returns true once the chain
// holds the requested state, and false while the transaction is unmined or
// after it reverted without the state being in place.
func (f *Flow) settle(ctx context.Context, s Session, e *journal.Entry, method string, out *Outcome) (bool, error) {
	receipt, err := f.chain.LookupReceipt(ctx, method, e.TxHash)
	switch {
	case err == nil:
		out.TxHash = receipt.TxHash
		if receipt.OnChainID != "" {
			out.OnChainID = receipt.OnChainID
		}
		e.State = string(StateChainConfirmed)
		e.OnChainID = out.OnChainID
		e.TxHash = receipt.TxHash
		if err := f.journal.Update(e); err != nil {
			return false, err
		}
		return true, nil
	case apperr.Is(err, apperr.KindNotFound):
		f.logger.Info("Transaction still pending", zap.String("tx_hash", e.TxHash), zap.String("op", e.Op))
		return false, nil
	case !apperr.Is(err, apperr.KindChainRejected):
		return false, err
	}

	// The transaction reverted. Another submission may still have produced
	// the requested state.
	held, checkErr := f.stateHolds(ctx, s, e)
	if checkErr != nil {
		return false, checkErr
	}
	if held {
		out.TxHash = ""
		e.TxHash = ""
		e.State = string(StateChainConfirmed)
		if err := f.journal.Update(e); err != nil {
			return false, err
		}
		return true, nil
	}

	out.to(StateChainFailed)
	out.Consistency = None
	if e.Op == string(OpIssue) {
		out.Consistency = StoreOnly
	}
	out.JournalID = ""
	if resolveErr := f.journal.Resolve(e); resolveErr != nil {
		return false, errors.Join(err, resolveErr)
	}
	return false, err
}

func (f *Flow) stateHolds(ctx context.Context, s Session, e *journal.Entry) (bool, error) {
	switch Op(e.Op) {
	case OpRegister:
		return f.chain.IsEntityRegistered(ctx, s.Address)
	case OpRevoke:
		cert, err := f.records.GetCertificate(ctx, e.CertificateID)
		if err != nil {
			return false, err
		}
		if !cert.Anchored() {
			return false, nil
		}
		id, err := chain.ParseOnChainID(*cert.BlockchainID)
		if err != nil {
			return false, err
		}
		rec, err := f.chain.VerifyCertificate(ctx, id)
		if err != nil {
			return false, err
		}
		return rec.IsRevoked, nil
	}
	// a reverted issuance has no on-chain id to look for
	return false, nil
}

func (f *Flow) replayStore(ctx context.Context, s Session, e *journal.Entry, out *Outcome) error {
	owner := s.Owner()
	switch Op(e.Op) {
	case OpRegister:
		var existing *service.CreateEntityRequest
		if len(e.Payload) > 0 {
			existing = &service.CreateEntityRequest{}
			if err := json.Unmarshal(e.Payload, existing); err != nil {
				return fmt.Errorf("failed to decode journaled registration: %w", err)
			}
		}
		entity, err := f.records.MyEntity(ctx, owner)
		if err != nil {
			return err
		}
		if entity == nil && existing == nil {
			return apperr.Validation("journal entry %s has no registration payload", e.ID)
		}
		if out.OnChainID == "" {
			out.OnChainID = chain.EntityChainID(s.Address)
		}
		req := existing
		if req == nil {
			req = &service.CreateEntityRequest{}
		}
		entity, err = f.writeEntity(ctx, owner, entity, req, out.OnChainID, out.TxHash)
		if err != nil {
			return err
		}
		out.Entity = entity
	case OpIssue:
		if out.OnChainID == "" {
			return apperr.Validation("journal entry %s has no on-chain id", e.ID)
		}
		cert, err := f.records.AttachChainID(ctx, owner, e.CertificateID, out.OnChainID, out.TxHash)
		if err != nil {
			return err
		}
		out.Certificate = cert
	case OpRevoke:
		cert, err := f.records.RevokeCertificate(ctx, owner, e.CertificateID, out.TxHash)
		if err != nil {
			return err
		}
		out.Certificate = cert
	}
	return nil
}

// keep leaves e in the journal for the next retry.
func (f *Flow) keep(e *journal.Entry, cause error) error {
	if cause == nil && e.State == string(StateChainUnknown) {
		e.Attempts++
		return f.journal.Update(e)
	}
	if cause == nil {
		return nil
	}
	if errors.Is(cause, journal.ErrNotFound) {
		return cause
	}
	e.Attempts++
	e.LastError = cause.Error()
	if err := f.journal.Update(e); err != nil {
		// the entry was resolved after a revert
		if errors.Is(err, journal.ErrNotFound) {
			return cause
		}
		return errors.Join(cause, err)
	}
	return cause
}
