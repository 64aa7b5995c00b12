package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Abdullah-AboOun/CertifyChain/internal/apperr"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// PendingError is returned when a transaction was broadcast but no receipt
// arrived before the confirmation deadline. The transaction may still mine.
type PendingError struct {
	Method string
	TxHash string
	Err    error
}

func (e *PendingError) Error() string {
	return fmt.Sprintf("%s transaction %s not confirmed: %v", e.Method, e.TxHash, e.Err)
}

func (e *PendingError) Unwrap() error {
	return &apperr.Error{Kind: apperr.KindChainUnavailable, Msg: "confirmation timed out", Err: e.Err}
}

// AsPending extracts a *PendingError from err's chain.
func AsPending(err error) (*PendingError, bool) {
	var pe *PendingError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

var alreadyExistsReasons = []string{
	"already registered",
	"already revoked",
	"already exists",
}

// classify turns a go-ethereum error into an *apperr.Error.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	if _, ok := AsPending(err); ok {
		return err
	}

	if reason, ok := revertReason(err); ok {
		return &apperr.Error{
			Kind:          apperr.KindChainRejected,
			Msg:           fmt.Sprintf("%s reverted: %s", op, reason),
			Err:           err,
			AlreadyExists: isAlreadyExists(reason),
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return apperr.Wrap(apperr.KindChainUnavailable, err, "%s timed out", op)
	case strings.Contains(msg, "insufficient funds"),
		strings.Contains(msg, "nonce too low"),
		strings.Contains(msg, "replacement transaction underpriced"),
		strings.Contains(msg, "intrinsic gas too low"):
		return apperr.Wrap(apperr.KindChainRejected, err, "%s rejected", op)
	}
	return apperr.Wrap(apperr.KindChainUnavailable, err, "%s failed", op)
}

// revertReason reports whether err is an execution revert and its reason.
func revertReason(err error) (string, bool) {
	var de rpc.DataError
	if errors.As(err, &de) {
		if data, ok := de.ErrorData().(string); ok {
			if raw, decErr := hexutil.Decode(data); decErr == nil {
				if reason, unpackErr := abi.UnpackRevert(raw); unpackErr == nil {
					return reason, true
				}
			}
		}
	}

	msg := err.Error()
	const marker = "execution reverted"
	idx := strings.Index(strings.ToLower(msg), marker)
	if idx < 0 {
		return "", false
	}
	reason := strings.TrimSpace(strings.TrimPrefix(msg[idx+len(marker):], ":"))
	if reason == "" {
		reason = "unknown reason"
	}
	return reason, true
}

func isAlreadyExists(reason string) bool {
	reason = strings.ToLower(reason)
	for _, s := range alreadyExistsReasons {
		if strings.Contains(reason, s) {
			return true
		}
	}
	return false
}
