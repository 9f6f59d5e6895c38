package recovery

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vietddude/payguard/internal/core/domain"
)

// Outcome is the expected result class of a redemption. Infrastructure
// failures are returned as errors instead.
type Outcome string

const (
	OutcomeOK               Outcome = "ok"
	OutcomeExpiredSession   Outcome = "expired_session"
	OutcomeForbidden        Outcome = "forbidden"
	OutcomeInvalidSignature Outcome = "invalid_signature"
	OutcomeUnknownAction    Outcome = "unknown_action"
)

// Result describes a redemption attempt.
type Result struct {
	Outcome       Outcome               `json:"outcome"`
	SessionKey    string                `json:"session_key"`
	TransactionID string                `json:"transaction_id,omitempty"`
	Action        domain.RecoveryAction `json:"action,omitempty"`
	Amount        decimal.Decimal       `json:"amount"`
	HoldStatus    domain.HoldStatus     `json:"hold_status,omitempty"`
	// Replayed is true when the session had already been redeemed and the
	// original result is returned unchanged.
	Replayed   bool      `json:"replayed"`
	RedeemedAt time.Time `json:"redeemed_at,omitempty"`
}

// OK reports whether the action was (or had already been) applied.
func (r Result) OK() bool { return r.Outcome == OutcomeOK }

func fromRedemption(red *domain.Redemption, replayed bool) Result {
	return Result{
		Outcome:       OutcomeOK,
		SessionKey:    red.SessionKey,
		TransactionID: red.TransactionID,
		Action:        red.Action,
		Amount:        red.Amount,
		HoldStatus:    red.HoldStatus,
		Replayed:      replayed,
		RedeemedAt:    red.RedeemedAt,
	}
}
