package connection

import (
	"fmt"
	"strings"
)

// Status is the lifecycle state of a bank connection. The set of values is
// closed; use ParseStatus at the edges.
type Status string

const (
	StatusDraft             Status = "DRAFT"
	StatusPendingActivation Status = "PENDING_ACTIVATION"
	StatusActive            Status = "ACTIVE"
	StatusError             Status = "ERROR"
	StatusDisabled          Status = "DISABLED"
)

var allStatuses = []Status{
	StatusDraft,
	StatusPendingActivation,
	StatusActive,
	StatusError,
	StatusDisabled,
}

// transitions is the complete legal graph. Anything not listed is illegal.
var transitions = map[Status][]Status{
	StatusDraft:             {StatusPendingActivation},
	StatusPendingActivation: {StatusActive, StatusError},
	StatusActive:            {StatusError, StatusDisabled},
	StatusError:             {StatusPendingActivation, StatusActive, StatusDisabled},
	StatusDisabled:          {},
}

// AllStatuses returns every status in lifecycle order.
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
	return st, nil
}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

func (s Status) Terminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

// AllowedTargets lists the statuses reachable from s in one step.
func (s Status) AllowedTargets() []Status {
	targets := transitions[s]
	out := make([]Status, len(targets))
	copy(out, targets)
	return out
}

func (s Status) String() string { return string(s) }

// CanTransition reports whether from -> to is an edge of the legal graph.
func CanTransition(from, to Status) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}
