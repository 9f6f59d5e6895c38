// Package authz holds the explicit capability checks run at the start of
// each payment use case.
package authz

import (
	"errors"
	"fmt"
	"slices"
)

// Role grants capabilities beyond acting on one's own resources.
type Role string

const (
	RoleSystem   Role = "system"
	RoleOperator Role = "operator"
)

// Capability names a use case.
type Capability string

const (
	CapSubmitFailure    Capability = "submit_failure"
	CapEvaluateVariance Capability = "evaluate_variance"
	CapProcessBatch     Capability = "process_batch"
	CapRedeem           Capability = "redeem_recovery_action"
	CapCancel           Capability = "cancel_transaction"
	CapBeginCashout     Capability = "begin_cashout"
	CapExecuteTransfer  Capability = "execute_transfer"
	CapOpenDeposit      Capability = "open_deposit"
	CapViewTransaction  Capability = "view_transaction"
)

// Caller is the authenticated principal of a request.
type Caller struct {
	UserID string
	Roles  []Role
}

// System is the caller used by background jobs.
var System = Caller{UserID: "system", Roles: []Role{RoleSystem}}

func (c Caller) Has(r Role) bool { return slices.Contains(c.Roles, r) }

// Decision is the typed result of a capability check.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow(reason string) Decision { return Decision{Allowed: true, Reason: reason} }
func deny(reason string) Decision  { return Decision{Allowed: false, Reason: reason} }

// Err returns nil when allowed.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrForbidden, d.Reason)
}

// ErrForbidden wraps every denied decision.
var ErrForbidden = errors.New("forbidden")

// Check decides whether caller may use capability on a resource owned by owner.
// owner is empty for capabilities that have no owning user.
func Check(caller Caller, capability Capability, owner string) Decision {
	switch capability {
	case CapSubmitFailure, CapEvaluateVariance, CapProcessBatch, CapExecuteTransfer:
		if caller.Has(RoleSystem) {
			return allow("system role")
		}
		return deny(string(capability) + " requires the system role")

	case CapRedeem:
		// Only the session owner may choose a recovery action.
		if caller.UserID != "" && caller.UserID == owner {
			return allow("owner")
		}
		return deny("caller does not own the recovery session")

	case CapCancel, CapViewTransaction:
		if caller.Has(RoleOperator) || caller.Has(RoleSystem) {
			return allow("privileged role")
		}
		if caller.UserID != "" && caller.UserID == owner {
			return allow("owner")
		}
		return deny("caller does not own the transaction")

	case CapBeginCashout, CapOpenDeposit:
		if caller.Has(RoleSystem) {
			return allow("system role")
		}
		if caller.UserID != "" && caller.UserID == owner {
			return allow("owner")
		}
		return deny("caller may only act on their own wallet")

	default:
		return deny("unknown capability")
	}
}
