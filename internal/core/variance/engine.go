// Package variance turns a mismatch between the expected and received amount
// of a payment into one of a small set of safe recovery decisions.
package variance

import (
	"github.com/shopspring/decimal"

	"github.com/vietddude/payguard/internal/core/domain"
)

var (
	noiseThreshold  = decimal.RequireFromString("0.01")
	creditThreshold = decimal.RequireFromString("0.10")
)

// Input is one variance evaluation request.
type Input struct {
	Expected decimal.Decimal
	Received decimal.Decimal
	// Class overrides the size class derived from Expected when set.
	Class SizeClass
	// CollectedBuyerFee is deducted from escrow_amount for partial proceeds.
	CollectedBuyerFee decimal.Decimal
}

// Decision is the outcome of a variance evaluation.
type Decision struct {
	Category      domain.VarianceCategory
	Class         SizeClass
	Expected      decimal.Decimal
	Received      decimal.Decimal
	Variance      decimal.Decimal
	RawVariance   decimal.Decimal
	Tolerance     decimal.Decimal
	MinAcceptable decimal.Decimal
	Actions       map[domain.RecoveryAction]domain.ActionSpec
	Reason        string
}

// AutoAction returns the single action applied without user input, if any.
func (d Decision) AutoAction() (domain.RecoveryAction, bool) {
	if d.Category != domain.CategoryAutoAccept {
		return "", false
	}
	for a := range d.Actions {
		return a, true
	}
	return "", false
}

// Engine evaluates variances against tolerance bands.
type Engine struct {
	bands map[SizeClass]Band
}

// NewEngine creates an engine; nil bands means DefaultBands.
func NewEngine(bands map[SizeClass]Band) *Engine {
	if bands == nil {
		bands = DefaultBands()
	}
	return &Engine{bands: bands}
}

// Evaluate maps (expected, received, size class) to a decision. First match wins:
// noise, credited overpayment, sub-threshold overpayment, tolerated
// underpayment, then self-service.
func (e *Engine) Evaluate(in Input) Decision {
	class := in.Class
	if class == "" {
		class = ClassifySize(in.Expected)
	}
	band, ok := e.bands[class]
	if !ok {
		band = DefaultBands()[class]
	}

	tolerance := band.Tolerance(in.Expected)
	raw := in.Received.Sub(in.Expected)
	d := Decision{
		Class:         class,
		Expected:      in.Expected,
		Received:      in.Received,
		RawVariance:   raw,
		Variance:      raw,
		Tolerance:     tolerance,
		MinAcceptable: in.Expected.Sub(tolerance),
		Actions:       map[domain.RecoveryAction]domain.ActionSpec{},
	}

	switch {
	case raw.Abs().LessThan(noiseThreshold):
		d.Category = domain.CategoryAutoAccept
		d.Variance = decimal.Zero
		d.Reason = "exact match"

	case raw.GreaterThanOrEqual(creditThreshold):
		d.Category = domain.CategoryAutoAccept
		d.Actions[domain.ActionCreditExcess] = domain.ActionSpec{
			Field:       "credit_excess",
			Amount:      raw,
			Destination: "wallet",
		}
		d.Reason = "overpayment credited to wallet"

	case raw.IsPositive():
		d.Category = domain.CategoryAutoAccept
		d.Variance = decimal.Zero
		d.Reason = "overpayment below credit threshold"

	case in.Received.GreaterThanOrEqual(d.MinAcceptable):
		d.Category = domain.CategoryAutoAccept
		d.Actions[domain.ActionReducedAmount] = domain.ActionSpec{
			Field:  "reduced_amount",
			Amount: in.Received,
		}
		d.Reason = "underpayment within tolerance"

	default:
		d.Category = domain.CategorySelfService
		d.Actions[domain.ActionCompletePayment] = domain.ActionSpec{
			Field:  "amount_needed",
			Amount: in.Expected.Sub(in.Received),
		}
		d.Actions[domain.ActionProceedPartial] = domain.ActionSpec{
			Field:  "escrow_amount",
			Amount: escrowAmount(in.Received, in.CollectedBuyerFee),
		}
		d.Actions[domain.ActionCancelRefund] = domain.ActionSpec{
			Field:       "refund_amount",
			Amount:      in.Received,
			Destination: "wallet",
		}
		d.Reason = "underpayment beyond tolerance"
	}

	return d
}

// escrowAmount removes an already-collected buyer fee from the received
// amount so the held principal is correct.
func escrowAmount(received, fee decimal.Decimal) decimal.Decimal {
	if !fee.IsPositive() || fee.GreaterThanOrEqual(received) {
		return received
	}
	return received.Sub(fee)
}
