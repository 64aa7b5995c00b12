package auth

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

const challengeTemplate = "Sign this message to authenticate with CertifyChain.\n\nWallet: %s\nTimestamp: %d"

var challengePattern = regexp.MustCompile(`^Sign this message to authenticate with CertifyChain\.\n\nWallet: (0x[0-9a-fA-F]{40})\nTimestamp: (\d+)$`)

var (
	ErrMalformedChallenge = errors.New("malformed sign-in message")
	ErrSignatureMismatch  = errors.New("signature does not match address")
	ErrStaleChallenge     = errors.New("sign-in message expired")
)

// ChallengeMessage builds the plaintext a wallet signs to sign in.
func ChallengeMessage(address common.Address, at time.Time) string {
	return fmt.Sprintf(challengeTemplate, address.Hex(), at.UnixMilli())
}

// ParseChallenge extracts the address and timestamp from a sign-in message.
func ParseChallenge(message string) (common.Address, time.Time, error) {
	m := challengePattern.FindStringSubmatch(message)
	if m == nil {
		return common.Address{}, time.Time{}, ErrMalformedChallenge
	}
	ms, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return common.Address{}, time.Time{}, ErrMalformedChallenge
	}
	return common.HexToAddress(m[1]), time.UnixMilli(ms), nil
}

// RecoverAddress returns the address that produced an EIP-191 signature over
// message. Both 0/1 and 27/28 recovery ids are accepted.
func RecoverAddress(message, signature string) (common.Address, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid signature encoding: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("invalid signature length %d", len(sig))
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// VerifySignIn checks a {message, signature, address} sign-in attempt and
// returns the lower-cased wallet address that becomes the session identity.
// The signer, the claimed address and the address inside the message must
// all match, and the message must be younger than maxAge.
func VerifySignIn(message, signature, claimed string, maxAge time.Duration, now time.Time) (string, error) {
	if !common.IsHexAddress(claimed) {
		return "", fmt.Errorf("invalid address %q", claimed)
	}
	inMessage, issuedAt, err := ParseChallenge(message)
	if err != nil {
		return "", err
	}
	recovered, err := RecoverAddress(message, signature)
	if err != nil {
		return "", err
	}
	if !strings.EqualFold(recovered.Hex(), claimed) || inMessage != recovered {
		return "", ErrSignatureMismatch
	}
	if age := now.Sub(issuedAt); maxAge > 0 && (age > maxAge || age < -time.Minute) {
		return "", ErrStaleChallenge
	}
	return strings.ToLower(recovered.Hex()), nil
}
