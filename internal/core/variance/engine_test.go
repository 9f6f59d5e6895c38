package variance

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/vietddude/payguard/internal/core/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// =============================================================================
// Tolerance bands
// =============================================================================

func TestClassifySize(t *testing.T) {
	tests := []struct {
		expected string
		want     SizeClass
	}{
		{"0.01", SizeSmall},
		{"49.99", SizeSmall},
		{"50", SizeMedium},
		{"500", SizeMedium},
		{"500.01", SizeLarge},
		{"10000", SizeLarge},
	}
	for _, tt := range tests {
		if got := ClassifySize(d(tt.expected)); got != tt.want {
			t.Errorf("ClassifySize(%s) = %s, want %s", tt.expected, got, tt.want)
		}
	}
}

func TestBandTolerance(t *testing.T) {
	bands := DefaultBands()
	tests := []struct {
		name     string
		class    SizeClass
		expected string
		want     string
	}{
		{"small percentage", SizeSmall, "21", "1.05"},
		{"small min clamp", SizeSmall, "5", "0.50"},
		{"small under max", SizeSmall, "49.99", "2.50"},
		{"medium percentage", SizeMedium, "100", "3"},
		{"medium min clamp", SizeMedium, "20", "1"},
		{"medium max clamp", SizeMedium, "500", "15"},
		{"large percentage", SizeLarge, "600", "6"},
		{"large max clamp", SizeLarge, "5000", "10"},
		{"large min clamp", SizeLarge, "150", "2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := bands[tt.class].Tolerance(d(tt.expected))
			if !got.Equal(d(tt.want)) {
				t.Errorf("tolerance = %s, want %s", got, tt.want)
			}
		})
	}
}

// =============================================================================
// Decision table
// =============================================================================

func TestEvaluate_UnderpaymentWithinTolerance(t *testing.T) {
	dec := NewEngine(nil).Evaluate(Input{Expected: d("21.00"), Received: d("20.00")})

	if dec.Category != domain.CategoryAutoAccept {
		t.Fatalf("category = %s, want auto_accept", dec.Category)
	}
	if !dec.Tolerance.Equal(d("1.05")) {
		t.Errorf("tolerance = %s, want 1.05", dec.Tolerance)
	}
	spec, ok := dec.Actions[domain.ActionReducedAmount]
	if !ok || !spec.Amount.Equal(d("20.00")) {
		t.Errorf("reduced_amount = %v, want 20.00", spec.Amount)
	}
	if len(dec.Actions) != 1 {
		t.Errorf("expected exactly one action, got %d", len(dec.Actions))
	}
}

func TestEvaluate_UnderpaymentBeyondTolerance(t *testing.T) {
	dec := NewEngine(nil).Evaluate(Input{Expected: d("21.00"), Received: d("9.57")})

	if dec.Category != domain.CategorySelfService {
		t.Fatalf("category = %s, want self_service", dec.Category)
	}
	if len(dec.Actions) != 3 {
		t.Fatalf("expected 3 actions, got %d", len(dec.Actions))
	}
	if a := dec.Actions[domain.ActionCompletePayment]; !a.Amount.Equal(d("11.43")) || a.Field != "amount_needed" {
		t.Errorf("complete_payment = %+v, want amount_needed 11.43", a)
	}
	if a := dec.Actions[domain.ActionProceedPartial]; !a.Amount.Equal(d("9.57")) {
		t.Errorf("escrow_amount = %s, want 9.57", a.Amount)
	}
	a := dec.Actions[domain.ActionCancelRefund]
	if !a.Amount.Equal(d("9.57")) || a.Destination != "wallet" {
		t.Errorf("cancel_refund = %+v, want 9.57 to wallet", a)
	}
}

func TestEvaluate_OverpaymentCredited(t *testing.T) {
	dec := NewEngine(nil).Evaluate(Input{Expected: d("100.00"), Received: d("100.50")})

	if dec.Category != domain.CategoryAutoAccept {
		t.Fatalf("category = %s, want auto_accept", dec.Category)
	}
	if a := dec.Actions[domain.ActionCreditExcess]; !a.Amount.Equal(d("0.50")) {
		t.Errorf("credit_excess = %s, want 0.50", a.Amount)
	}
	if !dec.Variance.Equal(d("0.50")) {
		t.Errorf("variance = %s, want 0.50", dec.Variance)
	}
	if action, ok := dec.AutoAction(); !ok || action != domain.ActionCreditExcess {
		t.Errorf("AutoAction = %s, %v", action, ok)
	}
}

func TestEvaluate_SmallOverpaymentNotCredited(t *testing.T) {
	dec := NewEngine(nil).Evaluate(Input{Expected: d("100.00"), Received: d("100.03")})

	if dec.Category != domain.CategoryAutoAccept {
		t.Fatalf("category = %s, want auto_accept", dec.Category)
	}
	if !dec.Variance.IsZero() {
		t.Errorf("variance = %s, want 0", dec.Variance)
	}
	if len(dec.Actions) != 0 {
		t.Errorf("expected no actions, got %v", dec.Actions)
	}
	if _, ok := dec.AutoAction(); ok {
		t.Error("no auto action expected")
	}
}

func TestEvaluate_NoiseNormalized(t *testing.T) {
	e := NewEngine(nil)
	for _, received := range []string{"100.00", "100.009", "99.991", "99.995"} {
		dec := e.Evaluate(Input{Expected: d("100.00"), Received: d(received)})
		if dec.Category != domain.CategoryAutoAccept {
			t.Errorf("received %s: category = %s", received, dec.Category)
		}
		if !dec.Variance.IsZero() {
			t.Errorf("received %s: variance = %s, want exactly 0", received, dec.Variance)
		}
	}
}

func TestEvaluate_BuyerFeeReducesEscrow(t *testing.T) {
	dec := NewEngine(nil).Evaluate(Input{
		Expected:          d("21.00"),
		Received:          d("9.57"),
		CollectedBuyerFee: d("0.57"),
	})
	if a := dec.Actions[domain.ActionProceedPartial]; !a.Amount.Equal(d("9.00")) {
		t.Errorf("escrow_amount = %s, want 9.00", a.Amount)
	}
	// Fee never applies to the refund.
	if a := dec.Actions[domain.ActionCancelRefund]; !a.Amount.Equal(d("9.57")) {
		t.Errorf("refund_amount = %s, want 9.57", a.Amount)
	}

	dec = NewEngine(nil).Evaluate(Input{
		Expected:          d("21.00"),
		Received:          d("1.00"),
		CollectedBuyerFee: d("2.00"),
	})
	if a := dec.Actions[domain.ActionProceedPartial]; !a.Amount.Equal(d("1.00")) {
		t.Errorf("fee >= received should leave escrow at received, got %s", a.Amount)
	}
}

func TestEvaluate_ClassOverride(t *testing.T) {
	// $40 in the large band: 1% = 0.40, clamped to min 2.00.
	dec := NewEngine(nil).Evaluate(Input{Expected: d("40"), Received: d("38.50"), Class: SizeLarge})
	if !dec.Tolerance.Equal(d("2")) {
		t.Errorf("tolerance = %s, want 2", dec.Tolerance)
	}
	if dec.Category != domain.CategoryAutoAccept {
		t.Errorf("category = %s, want auto_accept", dec.Category)
	}
}

// =============================================================================
// Properties
// =============================================================================

func TestEvaluate_Properties(t *testing.T) {
	e := NewEngine(nil)
	expectedAmounts := []string{"1", "12.34", "49.99", "50", "137.80", "500", "501", "2500", "99999.99"}
	deltas := []string{"-500", "-50", "-12.5", "-3", "-1.01", "-0.5", "-0.1", "-0.009", "0", "0.005", "0.09", "0.1", "0.11", "7", "1000"}

	for _, es := range expectedAmounts {
		for _, ds := range deltas {
			expected := d(es)
			received := expected.Add(d(ds))
			if received.IsNegative() {
				continue
			}
			dec := e.Evaluate(Input{Expected: expected, Received: received})
			variance := received.Sub(expected)

			if dec.Category == domain.CategoryAutoRefund {
				t.Fatalf("%s/%s: AutoRefund must never be chosen", es, ds)
			}

			if variance.Abs().LessThan(d("0.01")) && !dec.Variance.IsZero() {
				t.Errorf("%s/%s: noise variance not normalized: %s", es, ds, dec.Variance)
			}

			if variance.GreaterThanOrEqual(d("0.10")) {
				if dec.Category != domain.CategoryAutoAccept {
					t.Errorf("%s/%s: overpayment category = %s", es, ds, dec.Category)
				}
				if !dec.Actions[domain.ActionCreditExcess].Amount.Equal(variance) {
					t.Errorf("%s/%s: credit_excess = %s, want %s", es, ds, dec.Actions[domain.ActionCreditExcess].Amount, variance)
				}
			}

			if received.LessThan(dec.MinAcceptable) {
				if dec.Category != domain.CategorySelfService {
					t.Errorf("%s/%s: category = %s, want self_service", es, ds, dec.Category)
					continue
				}
				needed := dec.Actions[domain.ActionCompletePayment].Amount
				if needed.Add(received).Sub(expected).Abs().GreaterThan(d("0.01")) {
					t.Errorf("%s/%s: amount_needed + received != expected", es, ds)
				}
				if !dec.Actions[domain.ActionProceedPartial].Amount.Equal(received) {
					t.Errorf("%s/%s: escrow_amount != received", es, ds)
				}
				if !dec.Actions[domain.ActionCancelRefund].Amount.Equal(received) {
					t.Errorf("%s/%s: refund_amount != received", es, ds)
				}
			}
		}
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	e := NewEngine(nil)
	in := Input{Expected: d("73.10"), Received: d("60.00")}
	first := e.Evaluate(in)
	for i := 0; i < 50; i++ {
		got := e.Evaluate(in)
		if got.Category != first.Category || !got.Tolerance.Equal(first.Tolerance) {
			t.Fatalf("iteration %d differs: %+v vs %+v", i, got, first)
		}
	}
}
