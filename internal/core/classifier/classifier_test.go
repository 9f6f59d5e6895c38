package classifier

import (
	"testing"

	"github.com/vietddude/payguard/internal/core/domain"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		code   string
		msg    string
		kind   string
		expect Category
	}{
		{"network error code", "NETWORK_ERROR", "", "", Technical},
		{"api timeout code", "API_TIMEOUT", "", "", Technical},
		{"provider alias", "FINCRA_API_TIMEOUT", "", "", Technical},
		{"provider prefix stripped", "DYNOPAY_SERVICE_UNAVAILABLE", "", "", Technical},
		{"rate limit lower case", "rate_limit_exceeded", "", "", Technical},
		{"user balance ignores message", "USER_INSUFFICIENT_BALANCE", "timeout while checking", "ValueError", RequiresReview},
		{"invalid address", "INVALID_ADDRESS", "", "", RequiresReview},
		{"frozen account", "ACCOUNT_FROZEN", "", "", RequiresReview},
		{"unknown code with timeout message", "E123", "Upstream Timeout after 30s", "", Technical},
		{"unknown code with 503", "E500", "received 503 from gateway", "", Technical},
		{"insufficient funds beats try again", "E1", "Insufficient funds, try again later", "", RequiresReview},
		{"whitelist message", "", "destination not whitelisted", "", RequiresReview},
		{"exception kind timeout", "", "", "TimeoutError", Technical},
		{"unknown everything", "SOMETHING_NEW", "weird", "ValueError", RequiresReview},
		{"empty signal", "", "", "", RequiresReview},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.code, tt.msg, tt.kind); got != tt.expect {
				t.Errorf("Classify(%q, %q, %q) = %v, want %v", tt.code, tt.msg, tt.kind, got, tt.expect)
			}
		})
	}
}

func TestClassify_Deterministic(t *testing.T) {
	inputs := []Signal{
		{Code: "FINCRA_API_TIMEOUT"},
		{Code: "X", Message: "connection reset by peer"},
		{Code: "USER_INSUFFICIENT_BALANCE", Message: "...", ExceptionKind: "ValueError"},
		{Message: "ACCOUNT IS FROZEN"},
	}
	for _, in := range inputs {
		first := ClassifySignal(in)
		for i := 0; i < 50; i++ {
			if got := ClassifySignal(in); got != first {
				t.Fatalf("ClassifySignal(%+v) changed between calls: %+v vs %+v", in, first, got)
			}
		}
	}
}

func TestClassifySignal_Family(t *testing.T) {
	tests := []struct {
		sig     Signal
		family  Family
		rule    Rule
		failure domain.FailureType
	}{
		{Signal{Code: "NETWORK_ERROR"}, FamilyTransient, RuleRetryableCode, domain.FailureTypeTechnical},
		{Signal{Code: "INVALID_BANK_DETAILS"}, FamilyUser, RuleNonRetryableCode, domain.FailureTypeUser},
		{Signal{Code: "AUTH_FAILED"}, FamilyPermanent, RuleNonRetryableCode, domain.FailureTypePermanent},
		{Signal{Code: "KRAKEN_EFUNDING_UNKNOWN_KEY"}, FamilyPermanent, RuleNonRetryableCode, domain.FailureTypePermanent},
		{Signal{Message: "Currency not supported"}, FamilyPermanent, RuleMessagePattern, domain.FailureTypePermanent},
		{Signal{Code: "???"}, FamilyUnknown, RuleDefault, domain.FailureTypePermanent},
	}

	for _, tt := range tests {
		got := ClassifySignal(tt.sig)
		if got.Family != tt.family || got.Rule != tt.rule {
			t.Errorf("ClassifySignal(%+v) = %s/%s, want %s/%s", tt.sig, got.Family, got.Rule, tt.family, tt.rule)
		}
		if got.FailureType() != tt.failure {
			t.Errorf("FailureType(%+v) = %s, want %s", tt.sig, got.FailureType(), tt.failure)
		}
	}
}

func TestNormalizeCode(t *testing.T) {
	tests := map[string]string{
		" api-timeout ":             "API_TIMEOUT",
		"FINCRA_NETWORK_ERROR":      "NETWORK_ERROR",
		"BANK_INVALID_BANK_DETAILS": "INVALID_BANK_DETAILS",
		"BANK_SOMETHING":            "BANK_SOMETHING",
	}
	for in, want := range tests {
		if got := NormalizeCode(in); got != want {
			t.Errorf("NormalizeCode(%q) = %q, want %q", in, got, want)
		}
	}
}
