// Package lifecycle implements the alert status state machine.
package lifecycle

import (
	"fmt"

	"github.com/dwsmith1983/tripwire/pkg/types"
)

// Transition table: from -> allowed tos
var validTransitions = map[types.AlertStatus][]types.AlertStatus{
	types.AlertActive:       {types.AlertAcknowledged, types.AlertResolved},
	types.AlertAcknowledged: {types.AlertResolved},
	types.AlertResolved:     {},
}

// CanTransition checks if moving an alert from one status to another is valid.
func CanTransition(from, to types.AlertStatus) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Transition validates the move, returning an error if it is invalid.
func Transition(from, to types.AlertStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	return nil
}

// IsTerminal returns true if the status is final.
func IsTerminal(status types.AlertStatus) bool {
	return status == types.AlertResolved
}

// IsOpen reports whether an alert in status still counts toward health and
// may escalate.
func IsOpen(status types.AlertStatus) bool {
	return status == types.AlertActive || status == types.AlertAcknowledged
}
