package holds

import (
	"errors"
	"time"

	"github.com/vietddude/payguard/internal/core/domain"
)

// State is an alias for domain.HoldStatus for internal use.
type State = domain.HoldStatus

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid hold transition")

// ValidTransitions defines allowed hold transitions.
// ConsumedSent and Released are terminal.
var ValidTransitions = map[State][]State{
	domain.HoldStatusActive: {
		domain.HoldStatusConsumedSent,
		domain.HoldStatusFailedHeld,
		domain.HoldStatusReleased,
	},
	domain.HoldStatusFailedHeld: {
		domain.HoldStatusConsumedSent,
		domain.HoldStatusReleased,
	},
}

// CanTransition checks if a transition from one state to another is valid.
func CanTransition(from, to State) bool {
	for _, target := range ValidTransitions[from] {
		if target == to {
			return true
		}
	}
	return false
}

// Transition represents a hold state change with metadata.
type Transition struct {
	HoldID    string
	From      State
	To        State
	Amount    string
	Reason    string
	Timestamp time.Time
}

// StateDescription returns a human-readable description of a state.
func StateDescription(s State) string {
	switch s {
	case domain.HoldStatusActive:
		return "Active - funds reserved for a pending transfer"
	case domain.HoldStatusFailedHeld:
		return "Failed held - transfer failed, funds kept until resolution"
	case domain.HoldStatusConsumedSent:
		return "Consumed - provider confirmed the transfer"
	case domain.HoldStatusReleased:
		return "Released - funds returned to available balance"
	default:
		return "Unknown state"
	}
}
