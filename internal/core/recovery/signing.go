package recovery

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/crypto/hkdf"

	"github.com/vietddude/payguard/internal/core/domain"
)

const signingInfo = "recovery-session-v1"

// ErrMissingSecret is returned when no signing secret is configured.
var ErrMissingSecret = errors.New("recovery signing secret is required")

// Signer computes and checks session signatures. The HMAC key is derived
// from the configured secret so the raw secret is never used directly.
type Signer struct {
	key []byte
}

// NewSigner derives a signing key from secret.
func NewSigner(secret string) (*Signer, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(signingInfo)), key); err != nil {
		return nil, fmt.Errorf("derive signing key: %w", err)
	}
	return &Signer{key: key}, nil
}

// Sign returns the hex HMAC-SHA256 over the session's immutable fields.
func (s *Signer) Sign(sess *domain.RecoverySession) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(canonical(sess)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether the stored signature matches the session fields.
func (s *Signer) Verify(sess *domain.RecoverySession) bool {
	got, err := hex.DecodeString(sess.Signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(canonical(sess)))
	return hmac.Equal(got, mac.Sum(nil))
}

// canonical serializes the signed fields. Decimal strings are normalized and
// times are whole seconds so a round trip through any store verifies.
func canonical(sess *domain.RecoverySession) string {
	actions := make([]string, 0, len(sess.AuthorizedActions))
	for a, spec := range sess.AuthorizedActions {
		actions = append(actions, fmt.Sprintf("%s=%s:%s:%s", a, spec.Field, spec.Amount.String(), spec.Destination))
	}
	sort.Strings(actions)

	return strings.Join([]string{
		sess.Key,
		sess.UserID,
		sess.TransactionID,
		sess.Currency,
		sess.ExpectedAmount.String(),
		sess.ReceivedAmount.String(),
		sess.Variance.String(),
		string(sess.Category),
		strings.Join(actions, ","),
		fmt.Sprintf("%d", sess.ExpiresAt.Unix()),
	}, "|")
}

// SessionKey is the deterministic key of the session for a user's transaction.
func SessionKey(userID, transactionID string) string {
	return RoundSessionKey(userID, transactionID, 0)
}

// RoundSessionKey is the key of evaluation round n. Round 0 is SessionKey.
func RoundSessionKey(userID, transactionID string, round int) string {
	material := userID + "|" + transactionID
	if round > 0 {
		material += "|" + strconv.Itoa(round)
	}
	sum := sha256.Sum256([]byte(material))
	return "rs_" + hex.EncodeToString(sum[:])[:24]
}
