package lifecycle

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// JSONAny is a free-form JSON value stored as text.
type JSONAny struct {
	Data any
}

// Value implements driver.Valuer.
func (j JSONAny) Value() (driver.Value, error) {
	if j.Data == nil {
		return nil, nil
	}
	b, err := json.Marshal(j.Data)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (j *JSONAny) Scan(value any) error {
	if value == nil {
		j.Data = nil
		return nil
	}
	switch v := value.(type) {
	case string:
		if v == "" {
			j.Data = nil
			return nil
		}
		return json.Unmarshal([]byte(v), &j.Data)
	case []byte:
		if len(v) == 0 {
			j.Data = nil
			return nil
		}
		return json.Unmarshal(v, &j.Data)
	default:
		return fmt.Errorf("unsupported type for JSONAny: %T", value)
	}
}

// PlanRecord is the aggregate root row for a dispatch plan. Mutable workflow
// fields (state, freeze window, current snapshot pointer) only change under
// the per-plan lock.
type PlanRecord struct {
	ID                string     `gorm:"primaryKey;column:id;type:varchar(36)"`
	TenantID          string     `gorm:"column:tenant_id;index:idx_plans_tenant_state,priority:1;not null"`
	SiteID            string     `gorm:"column:site_id;index:idx_plans_site"`
	Name              string     `gorm:"column:name;not null"`
	State             PlanState  `gorm:"column:state;index:idx_plans_tenant_state,priority:2;not null;default:draft"`
	StateChangedAt    time.Time  `gorm:"column:state_changed_at"`
	StateChangedBy    string     `gorm:"column:state_changed_by"`
	CurrentSnapshotID *string    `gorm:"column:current_snapshot_id;type:varchar(36)"`
	PublishCount      int        `gorm:"column:publish_count;not null;default:0"`
	FreezeUntil       *time.Time `gorm:"column:freeze_until"`
	PublishedAt       *time.Time `gorm:"column:published_at"`
	PublishedBy       string     `gorm:"column:published_by"`
	CreatedAt         time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName returns the table name for plans.
func (PlanRecord) TableName() string {
	return "plans"
}

// ApprovalAction classifies an approval log entry by the transition it
// records.
type ApprovalAction string

const (
	ActionSubmit   ApprovalAction = "submit"
	ActionComplete ApprovalAction = "complete"
	ActionFail     ApprovalAction = "fail"
	ActionApprove  ApprovalAction = "approve"
	ActionReject   ApprovalAction = "reject"
	ActionPublish  ApprovalAction = "publish"
	ActionRevert   ApprovalAction = "revert"
)

// ApprovalRecord is one entry in the append-only approval log. Rows are never
// updated or deleted; reverting a plan appends a revert entry rather than
// removing the approval it undoes.
type ApprovalRecord struct {
	ID                 string         `gorm:"primaryKey;column:id;type:varchar(36)"`
	TenantID           string         `gorm:"column:tenant_id;index:idx_approvals_tenant"`
	PlanID             string         `gorm:"column:plan_id;index:idx_approvals_plan_time,priority:1;not null"`
	Action             ApprovalAction `gorm:"column:action;not null"`
	FromState          PlanState      `gorm:"column:from_state;not null"`
	ToState            PlanState      `gorm:"column:to_state;not null"`
	PerformedBy        string         `gorm:"column:performed_by;not null"`
	Reason             string         `gorm:"column:reason;type:text"`
	KPISnapshot        JSONAny        `gorm:"column:kpi_snapshot;type:text"`
	ForcedDuringFreeze bool           `gorm:"column:forced_during_freeze;not null;default:false"`
	ForceReason        string         `gorm:"column:force_reason;type:text"`
	CreatedAt          time.Time      `gorm:"column:created_at;index:idx_approvals_plan_time,priority:2;autoCreateTime"`
}

// TableName returns the table name for approval log entries.
func (ApprovalRecord) TableName() string {
	return "plan_approvals"
}

// Plan is the API representation of a plan.
type Plan struct {
	ID                 string      `json:"id"`
	TenantID           string      `json:"tenantId"`
	SiteID             string      `json:"siteId,omitempty"`
	Name               string      `json:"name"`
	State              PlanState   `json:"state"`
	StateChangedAt     string      `json:"stateChangedAt,omitempty"`
	StateChangedBy     string      `json:"stateChangedBy,omitempty"`
	CurrentSnapshotID  string      `json:"currentSnapshotId,omitempty"`
	PublishCount       int         `json:"publishCount"`
	FreezeUntil        string      `json:"freezeUntil,omitempty"`
	PublishedAt        string      `json:"publishedAt,omitempty"`
	PublishedBy        string      `json:"publishedBy,omitempty"`
	AllowedTransitions []PlanState `json:"allowedTransitions,omitempty"`
	CreatedAt          string      `json:"createdAt,omitempty"`
	UpdatedAt          string      `json:"updatedAt,omitempty"`
}

// PlanList is a paginated list of plans.
type PlanList struct {
	Items         []Plan `json:"items"`
	PageSize      int    `json:"pageSize"`
	NextPageToken string `json:"nextPageToken,omitempty"`
	TotalSize     int    `json:"totalSize"`
}

// Approval is the API representation of an approval log entry.
type Approval struct {
	ID                 string         `json:"id"`
	PlanID             string         `json:"planId"`
	Action             ApprovalAction `json:"action"`
	FromState          PlanState      `json:"fromState"`
	ToState            PlanState      `json:"toState"`
	PerformedBy        string         `json:"performedBy"`
	Reason             string         `json:"reason,omitempty"`
	KPISnapshot        any            `json:"kpiSnapshot,omitempty"`
	ForcedDuringFreeze bool           `json:"forcedDuringFreeze,omitempty"`
	ForceReason        string         `json:"forceReason,omitempty"`
	CreatedAt          string         `json:"createdAt,omitempty"`
}

// ApprovalList is a paginated list of approval log entries.
type ApprovalList struct {
	Items         []Approval `json:"items"`
	PageSize      int        `json:"pageSize"`
	NextPageToken string     `json:"nextPageToken,omitempty"`
	TotalSize     int        `json:"totalSize"`
}

func planToAPI(rec *PlanRecord, machine *Machine) Plan {
	p := Plan{
		ID:           rec.ID,
		TenantID:     rec.TenantID,
		SiteID:       rec.SiteID,
		Name:         rec.Name,
		State:        rec.State,
		PublishCount: rec.PublishCount,
		PublishedBy:  rec.PublishedBy,
	}
	if !rec.StateChangedAt.IsZero() {
		p.StateChangedAt = rec.StateChangedAt.Format(time.RFC3339)
	}
	p.StateChangedBy = rec.StateChangedBy
	if rec.CurrentSnapshotID != nil {
		p.CurrentSnapshotID = *rec.CurrentSnapshotID
	}
	if rec.FreezeUntil != nil {
		p.FreezeUntil = rec.FreezeUntil.Format(time.RFC3339)
	}
	if rec.PublishedAt != nil {
		p.PublishedAt = rec.PublishedAt.Format(time.RFC3339)
	}
	if machine != nil {
		p.AllowedTransitions = machine.AllowedTransitions(rec.State)
	}
	if !rec.CreatedAt.IsZero() {
		p.CreatedAt = rec.CreatedAt.Format(time.RFC3339)
	}
	if !rec.UpdatedAt.IsZero() {
		p.UpdatedAt = rec.UpdatedAt.Format(time.RFC3339)
	}
	return p
}

func approvalToAPI(rec *ApprovalRecord) Approval {
	a := Approval{
		ID:                 rec.ID,
		PlanID:             rec.PlanID,
		Action:             rec.Action,
		FromState:          rec.FromState,
		ToState:            rec.ToState,
		PerformedBy:        rec.PerformedBy,
		Reason:             rec.Reason,
		KPISnapshot:        rec.KPISnapshot.Data,
		ForcedDuringFreeze: rec.ForcedDuringFreeze,
		ForceReason:        rec.ForceReason,
	}
	if !rec.CreatedAt.IsZero() {
		a.CreatedAt = rec.CreatedAt.Format(time.RFC3339)
	}
	return a
}
