package service

import (
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"regexp"
	"strings"

	"github.com/Abdullah-AboOun/CertifyChain/internal/apperr"
	"github.com/Abdullah-AboOun/CertifyChain/internal/database"
)

var (
	txHashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)
	hashPattern   = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)
)

// storeError classifies a database error for callers of the service layer.
func storeError(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	msg := fmt.Sprintf(format, args...)
	switch {
	case errors.Is(err, database.ErrNotFound):
		return apperr.Wrap(apperr.KindNotFound, err, "%s", msg)
	case errors.Is(err, database.ErrDuplicate), errors.Is(err, database.ErrChainIDMismatch):
		return apperr.Wrap(apperr.KindConflict, err, "%s", msg)
	default:
		return apperr.Wrap(apperr.KindStoreUnavailable, err, "%s", msg)
	}
}

func validateEmail(field, v string) error {
	if v == "" {
		return nil
	}
	addr, err := mail.ParseAddress(v)
	if err != nil || addr.Address != v {
		return apperr.Validation("%s %q is not a valid email address", field, v)
	}
	return nil
}

func validateURL(field, v string) error {
	if v == "" {
		return nil
	}
	u, err := url.Parse(v)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return apperr.Validation("%s %q is not a valid http(s) URL", field, v)
	}
	return nil
}

func validateTxHash(v string) error {
	if !txHashPattern.MatchString(v) {
		return apperr.Validation("invalid transaction hash %q", v)
	}
	return nil
}

func normalizeAddress(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}
