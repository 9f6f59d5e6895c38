// Package classifier triages external payment failures into errors that are
// safe to retry automatically and errors that need a human decision.
package classifier

import (
	"regexp"
	"strings"

	"github.com/vietddude/payguard/internal/core/domain"
)

// Category is the coarse triage result.
type Category string

const (
	Technical      Category = "technical"
	RequiresReview Category = "requires_review"
)

// Family refines RequiresReview into user-correctable and operator-level failures.
type Family string

const (
	FamilyTransient Family = "transient"
	FamilyUser      Family = "user"
	FamilyPermanent Family = "permanent"
	FamilyUnknown   Family = "unknown"
)

// Rule records which precedence rule produced a classification.
type Rule string

const (
	RuleRetryableCode    Rule = "retryable_code"
	RuleNonRetryableCode Rule = "non_retryable_code"
	RuleMessagePattern   Rule = "message_pattern"
	RuleExceptionKind    Rule = "exception_kind"
	RuleDefault          Rule = "default"
	RulePanic            Rule = "panic"
)

// Signal is a failure reported by a provider call.
type Signal struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	ExceptionKind string `json:"exception_kind"`
}

// Result is the full classification.
type Result struct {
	Category Category
	Family   Family
	Rule     Rule
	// Code is the normalized error code.
	Code string
}

// FailureType maps the result onto the transaction's failure_type.
func (r Result) FailureType() domain.FailureType {
	switch r.Family {
	case FamilyTransient:
		return domain.FailureTypeTechnical
	case FamilyUser:
		return domain.FailureTypeUser
	case FamilyPermanent, FamilyUnknown:
		return domain.FailureTypePermanent
	default:
		return domain.FailureTypePermanent
	}
}

var retryableCodes = map[string]struct{}{
	"NETWORK_ERROR":         {},
	"CONNECTION_ERROR":      {},
	"CONNECTION_RESET":      {},
	"API_TIMEOUT":           {},
	"TIMEOUT":               {},
	"GATEWAY_TIMEOUT":       {},
	"SERVICE_UNAVAILABLE":   {},
	"BAD_GATEWAY":           {},
	"INTERNAL_SERVER_ERROR": {},
	"RATE_LIMIT_EXCEEDED":   {},
	"TOO_MANY_REQUESTS":     {},
	"TEMPORARY_FAILURE":     {},
	"PROVIDER_BUSY":         {},
}

var userCodes = map[string]struct{}{
	"INSUFFICIENT_FUNDS":        {},
	"INSUFFICIENT_BALANCE":      {},
	"USER_INSUFFICIENT_BALANCE": {},
	"INVALID_ADDRESS":           {},
	"INVALID_WALLET_ADDRESS":    {},
	"INVALID_BANK_DETAILS":      {},
	"INVALID_ACCOUNT_NUMBER":    {},
	"INVALID_BANK_CODE":         {},
	"ACCOUNT_NAME_MISMATCH":     {},
	"AMOUNT_BELOW_MINIMUM":      {},
	"AMOUNT_ABOVE_MAXIMUM":      {},
	"INVALID_DESTINATION":       {},
}

var permanentCodes = map[string]struct{}{
	"AUTH_FAILED":                 {},
	"AUTHENTICATION_FAILED":       {},
	"INVALID_API_KEY":             {},
	"UNAUTHORIZED":                {},
	"FORBIDDEN":                   {},
	"ACCOUNT_FROZEN":              {},
	"ACCOUNT_SUSPENDED":           {},
	"UNSUPPORTED_CURRENCY":        {},
	"PROVIDER_INSUFFICIENT_FUNDS": {},
	"PROVIDER_FUNDING_REQUIRED":   {},
	"ADDRESS_NOT_WHITELISTED":     {},
	"IP_NOT_WHITELISTED":          {},
}

// providerAliases maps provider-specific codes onto canonical ones.
var providerAliases = map[string]string{
	"FINCRA_API_TIMEOUT":           "API_TIMEOUT",
	"FINCRA_NETWORK_ERROR":         "NETWORK_ERROR",
	"FINCRA_SERVICE_UNAVAILABLE":   "SERVICE_UNAVAILABLE",
	"FINCRA_INSUFFICIENT_FUNDS":    "PROVIDER_INSUFFICIENT_FUNDS",
	"KRAKEN_EAPI_RATE_LIMIT":       "RATE_LIMIT_EXCEEDED",
	"KRAKEN_EGENERAL_TEMPORARY":    "TEMPORARY_FAILURE",
	"KRAKEN_ESERVICE_UNAVAILABLE":  "SERVICE_UNAVAILABLE",
	"KRAKEN_EFUNDING_UNKNOWN_KEY":  "ADDRESS_NOT_WHITELISTED",
	"KRAKEN_EFUNDING_INSUFFICIENT": "PROVIDER_INSUFFICIENT_FUNDS",
	"KRAKEN_EAPI_INVALID_KEY":      "INVALID_API_KEY",
	"DYNOPAY_TIMEOUT":              "API_TIMEOUT",
	"DYNOPAY_RATE_LIMIT":           "RATE_LIMIT_EXCEEDED",
	"BLOCKBEE_API_ERROR":           "SERVICE_UNAVAILABLE",
}

// knownProviderPrefixes are stripped when a code has no explicit alias.
var knownProviderPrefixes = []string{"FINCRA_", "KRAKEN_", "DYNOPAY_", "BLOCKBEE_", "BANK_", "PAYOUT_"}

var (
	retryablePatterns = []*regexp.Regexp{
		regexp.MustCompile(`time(d)?\s*out|timeout`),
		regexp.MustCompile(`connection (refused|reset|closed|aborted)`),
		regexp.MustCompile(`network (error|unreachable)`),
		regexp.MustCompile(`service (temporarily )?unavailable`),
		regexp.MustCompile(`\b(502|503|504)\b`),
		regexp.MustCompile(`bad gateway|gateway time`),
		regexp.MustCompile(`rate.?limit|too many requests|\b429\b`),
		regexp.MustCompile(`temporar(y|ily)`),
		regexp.MustCompile(`try again later`),
	}
	userPatterns = []*regexp.Regexp{
		regexp.MustCompile(`insufficient (funds|balance)`),
		regexp.MustCompile(`invalid (wallet |crypto )?address`),
		regexp.MustCompile(`invalid (bank|account) (details|number|code)`),
		regexp.MustCompile(`account name (does not match|mismatch)`),
		regexp.MustCompile(`below (the )?minimum`),
	}
	permanentPatterns = []*regexp.Regexp{
		regexp.MustCompile(`auth(entication|orization)? fail`),
		regexp.MustCompile(`invalid api key|unauthori[sz]ed|forbidden`),
		regexp.MustCompile(`account (is )?(frozen|suspended|locked)`),
		regexp.MustCompile(`unsupported currency|currency not supported`),
		regexp.MustCompile(`not whitelisted|whitelist`),
		regexp.MustCompile(`needs funding|insufficient (provider|merchant) (funds|balance)`),
	}
)

var transientExceptionKinds = map[string]struct{}{
	"timeouterror":             {},
	"connectionerror":          {},
	"connecttimeout":           {},
	"readtimeout":              {},
	"context.deadlineexceeded": {},
	"net.operror":              {},
	"url.error":                {},
}

// Classify maps a failure signal to Technical or RequiresReview.
// It is pure and total; a panic inside classification yields RequiresReview.
func Classify(code, message, exceptionKind string) Category {
	return ClassifySignal(Signal{Code: code, Message: message, ExceptionKind: exceptionKind}).Category
}

// ClassifySignal returns the detailed classification for a signal.
func ClassifySignal(sig Signal) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Category: RequiresReview, Family: FamilyUnknown, Rule: RulePanic, Code: sig.Code}
		}
	}()

	code := NormalizeCode(sig.Code)

	// 1. Retryable codes
	if _, ok := retryableCodes[code]; ok {
		return Result{Category: Technical, Family: FamilyTransient, Rule: RuleRetryableCode, Code: code}
	}

	// 2. Non-retryable codes
	if _, ok := userCodes[code]; ok {
		return Result{Category: RequiresReview, Family: FamilyUser, Rule: RuleNonRetryableCode, Code: code}
	}
	if _, ok := permanentCodes[code]; ok {
		return Result{Category: RequiresReview, Family: FamilyPermanent, Rule: RuleNonRetryableCode, Code: code}
	}

	// 3. Message patterns. Non-retryable families are checked first so that
	// "insufficient funds, try again later" never retries.
	msg := strings.ToLower(sig.Message)
	if msg != "" {
		if matchAny(userPatterns, msg) {
			return Result{Category: RequiresReview, Family: FamilyUser, Rule: RuleMessagePattern, Code: code}
		}
		if matchAny(permanentPatterns, msg) {
			return Result{Category: RequiresReview, Family: FamilyPermanent, Rule: RuleMessagePattern, Code: code}
		}
		if matchAny(retryablePatterns, msg) {
			return Result{Category: Technical, Family: FamilyTransient, Rule: RuleMessagePattern, Code: code}
		}
	}

	// 3b. Transport exception kinds, only when neither code nor message matched.
	if _, ok := transientExceptionKinds[strings.ToLower(strings.TrimSpace(sig.ExceptionKind))]; ok {
		return Result{Category: Technical, Family: FamilyTransient, Rule: RuleExceptionKind, Code: code}
	}

	// 4. Unknown errors never auto-retry.
	return Result{Category: RequiresReview, Family: FamilyUnknown, Rule: RuleDefault, Code: code}
}

// NormalizeCode upper-cases a code and resolves provider-specific aliases.
func NormalizeCode(code string) string {
	c := strings.ToUpper(strings.TrimSpace(code))
	c = strings.ReplaceAll(c, "-", "_")
	c = strings.ReplaceAll(c, " ", "_")
	if alias, ok := providerAliases[c]; ok {
		return alias
	}
	for _, prefix := range knownProviderPrefixes {
		if !strings.HasPrefix(c, prefix) {
			continue
		}
		stripped := strings.TrimPrefix(c, prefix)
		if isKnown(stripped) {
			return stripped
		}
	}
	return c
}

func isKnown(code string) bool {
	if _, ok := retryableCodes[code]; ok {
		return true
	}
	if _, ok := userCodes[code]; ok {
		return true
	}
	_, ok := permanentCodes[code]
	return ok
}

func matchAny(patterns []*regexp.Regexp, s string) bool {
	for _, p := range patterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}
