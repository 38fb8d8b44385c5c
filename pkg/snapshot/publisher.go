// Package snapshot implements versioned publishing of approved plans:
// immutable snapshot records, the single-active-version chain, the
// post-publish freeze window, and audited freeze overrides.
package snapshot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dispatchlab/planhub/internal/db"
	"github.com/dispatchlab/planhub/pkg/lifecycle"
	"github.com/dispatchlab/planhub/pkg/planlock"
	"github.com/dispatchlab/planhub/pkg/tenancy"
)

// MinForceReasonLen is the shortest justification accepted for a freeze
// override.
const MinForceReasonLen = 10

// ErrConcurrentPublish is returned when two publishers race past the plan
// lock and collide on the version number. The loser can retry.
var ErrConcurrentPublish = errors.New("concurrent publish detected, retry")

// ErrForceReasonRequired is returned when a freeze override carries no
// justification or one shorter than MinForceReasonLen.
var ErrForceReasonRequired = fmt.Errorf("freeze override requires a justification of at least %d characters", MinForceReasonLen)

// FreezeError reports a publish blocked by an active freeze window.
type FreezeError struct {
	FreezeUntil time.Time
	Remaining   time.Duration
}

func (e *FreezeError) Error() string {
	return fmt.Sprintf("plan is frozen until %s (%s remaining)",
		e.FreezeUntil.Format(time.RFC3339), e.Remaining.Round(time.Second))
}

// StateError reports a publish attempted from a state that cannot publish.
type StateError struct {
	State   lifecycle.PlanState
	Allowed []lifecycle.PlanState
}

func (e *StateError) Error() string {
	return fmt.Sprintf("plan in state %s cannot be published", e.State)
}

// PublishRequest carries the inputs for one publish operation.
type PublishRequest struct {
	PublishedBy string         `json:"publishedBy,omitempty"`
	Reason      string         `json:"reason,omitempty"`
	KPISnapshot map[string]any `json:"kpiSnapshot,omitempty"`
	Assignments map[string]any `json:"assignments,omitempty"`
	Routes      map[string]any `json:"routes,omitempty"`

	// Integrity hashes from the solve run. Any left empty is computed
	// from the corresponding payload.
	InputHash    string `json:"inputHash,omitempty"`
	OutputHash   string `json:"outputHash,omitempty"`
	EvidenceHash string `json:"evidenceHash,omitempty"`

	// Force publishes through an active freeze window. ForceReason is
	// mandatory and recorded on both the snapshot and the approval log.
	Force       bool   `json:"force,omitempty"`
	ForceReason string `json:"forceReason,omitempty"`
}

// PublishResult reports a completed publish.
type PublishResult struct {
	PlanID        string    `json:"planId"`
	SnapshotID    string    `json:"snapshotId"`
	VersionNumber int       `json:"versionNumber"`
	FreezeUntil   time.Time `json:"freezeUntil"`
	Forced        bool      `json:"forced"`
	PublishCount  int       `json:"publishCount"`
}

// Publisher builds immutable versioned snapshots of approved plans. Publish
// runs in a single transaction under the same per-plan lock the transition
// service uses; the unique (plan, version) and single-active indexes back
// the lock up against writers that race past it.
type Publisher struct {
	db     *gorm.DB
	locker planlock.Locker
	logger *slog.Logger

	// FreezeWindow is stamped on each new snapshot.
	FreezeWindow time.Duration

	now func() time.Time
}

// NewPublisher creates a publisher with the default freeze window.
func NewPublisher(gormDB *gorm.DB, locker planlock.Locker, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		db:           gormDB,
		locker:       locker,
		logger:       logger,
		FreezeWindow: lifecycle.DefaultFreezeWindow,
		now:          time.Now,
	}
}

// Publish creates the next snapshot version of the plan, supersedes the
// previous active version, stamps the freeze window, and appends the publish
// entry to the approval log. The plan must be approved, or already published
// for a re-publish that supersedes the running version.
func (p *Publisher) Publish(ctx context.Context, scope tenancy.Scope, planID string, req PublishRequest) (*PublishResult, error) {
	publishedBy := req.PublishedBy
	if publishedBy == "" {
		publishedBy = scope.Actor
	}
	if publishedBy == "" {
		return nil, lifecycle.ErrPerformedByRequired
	}

	var (
		result  *PublishResult
		release func()
	)
	defer func() {
		if release != nil {
			release()
		}
	}()

	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rel, err := p.locker.Acquire(tx, scope.TenantID, planID)
		if err != nil {
			return err
		}
		release = rel

		var plan lifecycle.PlanRecord
		if err := tx.Where("tenant_id = ? AND id = ?", scope.TenantID, planID).First(&plan).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return lifecycle.ErrPlanNotFound
			}
			return fmt.Errorf("load plan: %w", err)
		}

		if plan.State != lifecycle.StateApproved && plan.State != lifecycle.StatePublished {
			return &StateError{
				State:   plan.State,
				Allowed: []lifecycle.PlanState{lifecycle.StateApproved, lifecycle.StatePublished},
			}
		}

		now := p.now()
		active, err := activeSnapshot(tx, scope.TenantID, planID)
		if err != nil {
			return err
		}
		forced := false
		if until := effectiveFreeze(active, &plan); until != nil && now.Before(*until) {
			if !req.Force {
				return &FreezeError{FreezeUntil: *until, Remaining: until.Sub(now)}
			}
			if len(strings.TrimSpace(req.ForceReason)) < MinForceReasonLen {
				return ErrForceReasonRequired
			}
			forced = true
		}

		if plan.State == lifecycle.StateApproved {
			dup, err := lifecycle.HasTransitionInto(tx, scope.TenantID, planID, lifecycle.StatePublished)
			if err != nil {
				return err
			}
			if dup {
				return &lifecycle.DuplicateActionError{PlanID: planID, ToState: lifecycle.StatePublished}
			}
		}

		highest, err := maxVersionNumber(tx, scope.TenantID, planID)
		if err != nil {
			return err
		}
		nextVersion := highest + 1

		if active != nil {
			err := tx.Model(&SnapshotRecord{}).
				Where("tenant_id = ? AND plan_id = ? AND status = ?", scope.TenantID, planID, StatusActive).
				Updates(map[string]any{
					"status":        StatusSuperseded,
					"superseded_at": now,
				}).Error
			if err != nil {
				return fmt.Errorf("supersede active snapshot: %w", err)
			}
		}

		freezeUntil := now.Add(p.FreezeWindow)
		record := &SnapshotRecord{
			ID:                 uuid.New().String(),
			TenantID:           scope.TenantID,
			PlanID:             planID,
			VersionNumber:      nextVersion,
			Status:             StatusActive,
			InputHash:          orHash(req.InputHash, req.Assignments),
			OutputHash:         orHash(req.OutputHash, req.Routes),
			EvidenceHash:       orHash(req.EvidenceHash, req.KPISnapshot),
			Assignments:        lifecycle.JSONAny{Data: mapOrNil(req.Assignments)},
			Routes:             lifecycle.JSONAny{Data: mapOrNil(req.Routes)},
			FreezeUntil:        freezeUntil,
			PublishedBy:        publishedBy,
			PublishReason:      req.Reason,
			ForcedDuringFreeze: forced,
			ForceReason:        req.ForceReason,
			CreatedAt:          now,
		}
		if err := tx.Create(record).Error; err != nil {
			if db.IsUniqueViolation(err) {
				return ErrConcurrentPublish
			}
			return fmt.Errorf("create snapshot: %w", err)
		}

		updates := map[string]any{
			"state":               lifecycle.StatePublished,
			"state_changed_at":    now,
			"state_changed_by":    publishedBy,
			"current_snapshot_id": record.ID,
			"publish_count":       gorm.Expr("publish_count + 1"),
			"freeze_until":        freezeUntil,
			"published_at":        now,
			"published_by":        publishedBy,
		}
		if err := tx.Model(&lifecycle.PlanRecord{}).
			Where("tenant_id = ? AND id = ?", scope.TenantID, planID).
			Updates(updates).Error; err != nil {
			return fmt.Errorf("update plan publish state: %w", err)
		}

		entry := &lifecycle.ApprovalRecord{
			TenantID:           scope.TenantID,
			PlanID:             planID,
			Action:             lifecycle.ActionPublish,
			FromState:          plan.State,
			ToState:            lifecycle.StatePublished,
			PerformedBy:        publishedBy,
			Reason:             req.Reason,
			KPISnapshot:        lifecycle.JSONAny{Data: mapOrNil(req.KPISnapshot)},
			ForcedDuringFreeze: forced,
			ForceReason:        req.ForceReason,
			CreatedAt:          now,
		}
		if err := lifecycle.AppendApproval(tx, entry); err != nil {
			if db.IsUniqueViolation(err) {
				return ErrConcurrentPublish
			}
			return fmt.Errorf("append publish entry: %w", err)
		}

		result = &PublishResult{
			PlanID:        planID,
			SnapshotID:    record.ID,
			VersionNumber: nextVersion,
			FreezeUntil:   freezeUntil,
			Forced:        forced,
			PublishCount:  plan.PublishCount + 1,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.logger.Info("plan published",
		"tenant", scope.TenantID,
		"plan_id", planID,
		"snapshot_id", result.SnapshotID,
		"version", result.VersionNumber,
		"forced", result.Forced,
		"published_by", publishedBy)
	return result, nil
}

// effectiveFreeze returns the freeze boundary to enforce: the active
// snapshot's stamp, or the plan row's when every snapshot has been archived.
func effectiveFreeze(active *SnapshotRecord, plan *lifecycle.PlanRecord) *time.Time {
	if active != nil {
		return &active.FreezeUntil
	}
	return plan.FreezeUntil
}

// orHash returns the supplied hash, or the sha256 hex digest of the
// payload's JSON encoding when the caller did not provide one.
// encoding/json writes map keys in sorted order, so identical payloads hash
// identically.
func orHash(supplied string, payload map[string]any) string {
	if supplied != "" {
		return supplied
	}
	if len(payload) == 0 {
		return ""
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func mapOrNil(m map[string]any) any {
	if m == nil {
		return nil
	}
	return m
}
