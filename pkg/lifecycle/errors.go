package lifecycle

import (
	"errors"
	"fmt"
)

// ErrPlanNotFound is returned when the requested plan does not exist within
// the caller's tenant.
var ErrPlanNotFound = errors.New("plan not found")

// ErrPerformedByRequired is returned when a transition names no actor, either
// in the request body or the actor header.
var ErrPerformedByRequired = errors.New("performedBy is required")

// DuplicateActionError reports a transition that would repeat a one-time
// action already present in the approval log. A plan can be approved once and
// promoted from approved to published once, regardless of intervening
// reverts.
type DuplicateActionError struct {
	PlanID  string
	ToState PlanState
}

func (e *DuplicateActionError) Error() string {
	return fmt.Sprintf("plan %s already has a recorded transition into %s", e.PlanID, e.ToState)
}
