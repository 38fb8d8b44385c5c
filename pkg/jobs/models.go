package jobs

import (
	"time"

	"github.com/dispatchlab/planhub/pkg/lifecycle"
)

// JobState represents the lifecycle state of a solve job.
type JobState string

const (
	JobStateQueued    JobState = "queued"
	JobStateRunning   JobState = "running"
	JobStateSucceeded JobState = "succeeded"
	JobStateFailed    JobState = "failed"
	JobStateCanceled  JobState = "canceled"
)

// SolveJob is one queued optimization run for a plan. The worker drives the
// plan through solving while the job runs and stores the solver's result
// payloads on the row for the publish step to pick up.
type SolveJob struct {
	ID          string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	TenantID    string    `gorm:"column:tenant_id;index:idx_solve_jobs_tenant;not null"`
	PlanID      string    `gorm:"column:plan_id;index:idx_solve_jobs_plan;not null"`
	RequestedBy string    `gorm:"column:requested_by"`
	RequestedAt time.Time `gorm:"column:requested_at;index:idx_solve_jobs_state_time,priority:2;not null"`
	State       JobState  `gorm:"column:state;index:idx_solve_jobs_state_time,priority:1;not null;default:queued"`
	// Nullable so cleared and absent keys never collide on the unique index.
	IdempotencyKey *string    `gorm:"column:idempotency_key;uniqueIndex:uq_solve_jobs_idempotency"`
	StartedAt      *time.Time `gorm:"column:started_at"`
	FinishedAt     *time.Time `gorm:"column:finished_at"`
	AttemptCount   int        `gorm:"column:attempt_count;default:0"`
	LastError      string     `gorm:"column:last_error;type:text"`
	DurationMs     int64      `gorm:"column:duration_ms"`

	ResultAssignments lifecycle.JSONAny `gorm:"column:result_assignments;type:text"`
	ResultRoutes      lifecycle.JSONAny `gorm:"column:result_routes;type:text"`
	ResultKPI         lifecycle.JSONAny `gorm:"column:result_kpi;type:text"`
	InputHash         string            `gorm:"column:input_hash;type:varchar(64)"`
	OutputHash        string            `gorm:"column:output_hash;type:varchar(64)"`
	EvidenceHash      string            `gorm:"column:evidence_hash;type:varchar(64)"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName returns the GORM table name.
func (SolveJob) TableName() string { return "solve_jobs" }

// IsTerminal returns true if the job is in a terminal state.
func (j *SolveJob) IsTerminal() bool {
	switch j.State {
	case JobStateSucceeded, JobStateFailed, JobStateCanceled:
		return true
	}
	return false
}
