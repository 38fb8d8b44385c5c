// Package lifecycle implements the dispatch-plan approval workflow: the
// plan state machine, the append-only approval log, and the transition
// service that applies state changes atomically under the per-plan lock.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/dispatchlab/planhub/internal/db"
	"github.com/dispatchlab/planhub/pkg/planlock"
	"github.com/dispatchlab/planhub/pkg/tenancy"
)

// DefaultFreezeWindow is how long publishing is frozen after a successful
// publish.
const DefaultFreezeWindow = 12 * time.Hour

// TransitionRequest carries the inputs for one state transition.
type TransitionRequest struct {
	To          PlanState      `json:"to"`
	PerformedBy string         `json:"performedBy,omitempty"`
	Reason      string         `json:"reason,omitempty"`
	KPISnapshot map[string]any `json:"kpiSnapshot,omitempty"`
}

// TransitionResult reports an applied or idempotent transition.
type TransitionResult struct {
	PlanID      string         `json:"planId"`
	From        PlanState      `json:"from"`
	To          PlanState      `json:"to"`
	Action      ApprovalAction `json:"action,omitempty"`
	Idempotent  bool           `json:"idempotent"`
	FreezeUntil *time.Time     `json:"freezeUntil,omitempty"`
}

// TransitionService applies plan state transitions. Each transition runs in
// a single transaction holding the per-plan lock: validate against the
// machine, guard one-time actions against the approval log, update the plan
// row, and append the log entry.
type TransitionService struct {
	db      *gorm.DB
	machine *Machine
	locker  planlock.Locker
	logger  *slog.Logger

	// FreezeWindow is stamped on the plan when it enters published.
	FreezeWindow time.Duration

	now func() time.Time
}

// NewTransitionService creates a transition service with the default rule
// table and freeze window.
func NewTransitionService(gormDB *gorm.DB, locker planlock.Locker, logger *slog.Logger) *TransitionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TransitionService{
		db:           gormDB,
		machine:      NewMachine(),
		locker:       locker,
		logger:       logger,
		FreezeWindow: DefaultFreezeWindow,
		now:          time.Now,
	}
}

// Machine exposes the service's transition rule table.
func (s *TransitionService) Machine() *Machine {
	return s.machine
}

// Transition moves a plan to the requested state. A request for the plan's
// current state succeeds without writing anything. Callers receive
// planlock.ErrPlanLocked when another operation holds the plan and should
// retry with backoff.
func (s *TransitionService) Transition(ctx context.Context, scope tenancy.Scope, planID string, req TransitionRequest) (*TransitionResult, error) {
	if !req.To.Valid() {
		return nil, &TransitionError{
			Code:    CodeUnknownState,
			To:      req.To,
			Message: fmt.Sprintf("unknown target state %q", req.To),
		}
	}
	performedBy := req.PerformedBy
	if performedBy == "" {
		performedBy = scope.Actor
	}
	if performedBy == "" {
		return nil, ErrPerformedByRequired
	}

	var (
		result  *TransitionResult
		release func()
	)
	defer func() {
		if release != nil {
			release()
		}
	}()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rel, err := s.locker.Acquire(tx, scope.TenantID, planID)
		if err != nil {
			return err
		}
		release = rel

		var plan PlanRecord
		if err := tx.Where("tenant_id = ? AND id = ?", scope.TenantID, planID).First(&plan).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPlanNotFound
			}
			return fmt.Errorf("load plan: %w", err)
		}

		from := plan.State
		if from == req.To {
			result = &TransitionResult{
				PlanID:      planID,
				From:        from,
				To:          req.To,
				Idempotent:  true,
				FreezeUntil: plan.FreezeUntil,
			}
			return nil
		}

		if err := s.machine.ValidateTransition(from, req.To); err != nil {
			return err
		}

		if req.To == StateApproved || req.To == StatePublished {
			dup, err := HasTransitionInto(tx, scope.TenantID, planID, req.To)
			if err != nil {
				return err
			}
			if dup {
				return &DuplicateActionError{PlanID: planID, ToState: req.To}
			}
		}

		now := s.now()
		updates := map[string]any{
			"state":            req.To,
			"state_changed_at": now,
			"state_changed_by": performedBy,
		}
		var freezeUntil *time.Time
		if req.To == StatePublished {
			fu := now.Add(s.FreezeWindow)
			freezeUntil = &fu
			updates["published_at"] = now
			updates["published_by"] = performedBy
			updates["freeze_until"] = fu
		}
		if err := tx.Model(&PlanRecord{}).
			Where("tenant_id = ? AND id = ?", scope.TenantID, planID).
			Updates(updates).Error; err != nil {
			return fmt.Errorf("update plan state: %w", err)
		}

		entry := &ApprovalRecord{
			TenantID:    scope.TenantID,
			PlanID:      planID,
			Action:      actionForTarget(req.To),
			FromState:   from,
			ToState:     req.To,
			PerformedBy: performedBy,
			Reason:      req.Reason,
			KPISnapshot: JSONAny{Data: anyMap(req.KPISnapshot)},
			CreatedAt:   now,
		}
		if err := AppendApproval(tx, entry); err != nil {
			// The partial unique indexes on the log back up the guard
			// above against writers racing past the lock.
			if db.IsUniqueViolation(err) {
				return &DuplicateActionError{PlanID: planID, ToState: req.To}
			}
			return fmt.Errorf("append approval entry: %w", err)
		}

		result = &TransitionResult{
			PlanID:      planID,
			From:        from,
			To:          req.To,
			Action:      entry.Action,
			FreezeUntil: freezeUntil,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !result.Idempotent {
		s.logger.Info("plan state changed",
			"tenant", scope.TenantID,
			"plan_id", planID,
			"from", result.From,
			"to", result.To,
			"action", result.Action,
			"performed_by", performedBy)
	}
	return result, nil
}

// actionForTarget derives the log action from the target state. Entering
// draft from any state is a revert.
func actionForTarget(to PlanState) ApprovalAction {
	switch to {
	case StateDraft:
		return ActionRevert
	case StateSolving:
		return ActionSubmit
	case StateSolved:
		return ActionComplete
	case StateFailed:
		return ActionFail
	case StateApproved:
		return ActionApprove
	case StateRejected:
		return ActionReject
	case StatePublished:
		return ActionPublish
	default:
		return ApprovalAction(to)
	}
}

// anyMap keeps a nil map as a nil JSON value rather than an empty object.
func anyMap(m map[string]any) any {
	if m == nil {
		return nil
	}
	return m
}
