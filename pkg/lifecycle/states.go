package lifecycle

import (
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
)

// PlanState represents a plan's position in the approval workflow.
type PlanState string

const (
	StateDraft     PlanState = "draft"
	StateSolving   PlanState = "solving"
	StateSolved    PlanState = "solved"
	StateApproved  PlanState = "approved"
	StateRejected  PlanState = "rejected"
	StateFailed    PlanState = "failed"
	StatePublished PlanState = "published"
)

// AllStates lists every defined plan state.
var AllStates = []PlanState{
	StateDraft, StateSolving, StateSolved, StateApproved,
	StateRejected, StateFailed, StatePublished,
}

// Valid reports whether s is one of the defined plan states.
func (s PlanState) Valid() bool {
	for _, st := range AllStates {
		if st == s {
			return true
		}
	}
	return false
}

// TransitionRule defines an allowed lifecycle transition.
type TransitionRule struct {
	From PlanState
	To   PlanState
}

// DefaultTransitions defines the allowed plan state transitions.
// Published is terminal: no rule leads out of it.
var DefaultTransitions = []TransitionRule{
	{From: StateDraft, To: StateSolving},
	{From: StateDraft, To: StateRejected},
	{From: StateSolving, To: StateSolved},
	{From: StateSolving, To: StateFailed},
	{From: StateSolved, To: StateApproved},
	{From: StateSolved, To: StateRejected},
	{From: StateSolved, To: StateDraft},
	{From: StateApproved, To: StatePublished},
	{From: StateApproved, To: StateRejected},
	{From: StateApproved, To: StateDraft},
	{From: StateRejected, To: StateDraft},
	{From: StateFailed, To: StateDraft},
}

// Machine validates plan state transitions against the rule table.
type Machine struct {
	allowed map[PlanState]mapset.Set[PlanState]
}

// NewMachine creates a machine with the default rules.
func NewMachine() *Machine {
	m := &Machine{allowed: make(map[PlanState]mapset.Set[PlanState], len(AllStates))}
	for _, st := range AllStates {
		m.allowed[st] = mapset.NewSet[PlanState]()
	}
	for _, rule := range DefaultTransitions {
		m.allowed[rule.From].Add(rule.To)
	}
	return m
}

// ValidateTransition checks whether from->to is allowed. A same-state request
// is allowed; the transition service treats it as an idempotent no-op. On a
// disallowed transition the returned TransitionError carries the full set of
// legal next states for caller diagnostics.
func (m *Machine) ValidateTransition(from, to PlanState) error {
	if from == to {
		return nil
	}
	set, ok := m.allowed[from]
	if !ok {
		return &TransitionError{
			Code:    CodeUnknownState,
			From:    from,
			To:      to,
			Message: fmt.Sprintf("unknown plan state %q", from),
		}
	}
	if !set.Contains(to) {
		return &TransitionError{
			Code:    CodeInvalidTransition,
			From:    from,
			To:      to,
			Allowed: m.AllowedTransitions(from),
			Message: fmt.Sprintf("no transition defined from %s to %s", from, to),
		}
	}
	return nil
}

// AllowedTransitions returns the legal target states from the given state,
// in rule-table order. Returns nil for terminal states.
func (m *Machine) AllowedTransitions(from PlanState) []PlanState {
	var allowed []PlanState
	for _, rule := range DefaultTransitions {
		if rule.From == from {
			allowed = append(allowed, rule.To)
		}
	}
	return allowed
}

// Terminal reports whether the state has no outgoing transitions.
func (m *Machine) Terminal(s PlanState) bool {
	set, ok := m.allowed[s]
	return ok && set.Cardinality() == 0
}

// Error codes attached to TransitionError.
const (
	CodeInvalidTransition = "PLAN_INVALID_TRANSITION"
	CodeUnknownState      = "PLAN_UNKNOWN_STATE"
)

// TransitionError is a structured error for invalid transition requests.
type TransitionError struct {
	Code    string      `json:"code"`
	From    PlanState   `json:"from"`
	To      PlanState   `json:"to"`
	Allowed []PlanState `json:"allowedStates,omitempty"`
	Message string      `json:"message"`
}

func (e *TransitionError) Error() string {
	return e.Message
}
