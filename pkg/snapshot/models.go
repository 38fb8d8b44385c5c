package snapshot

import (
	"time"

	"github.com/dispatchlab/planhub/pkg/lifecycle"
)

// SnapshotStatus tracks where a snapshot sits in the version chain.
type SnapshotStatus string

const (
	// StatusActive marks the snapshot field crews currently execute.
	// At most one snapshot per plan is active.
	StatusActive SnapshotStatus = "active"
	// StatusSuperseded marks a snapshot replaced by a newer version.
	StatusSuperseded SnapshotStatus = "superseded"
	// StatusArchived marks a superseded snapshot past its retention window.
	StatusArchived SnapshotStatus = "archived"
)

// SnapshotRecord is one immutable published plan version. Rows are written
// once by Publish; the only later mutations are the status handoff
// (active to superseded to archived) and payload backfill on non-active
// rows.
type SnapshotRecord struct {
	ID                 string            `gorm:"primaryKey;column:id;type:varchar(36)"`
	TenantID           string            `gorm:"column:tenant_id;index:idx_snapshots_tenant;not null"`
	PlanID             string            `gorm:"column:plan_id;uniqueIndex:uq_snapshots_plan_version,priority:1;index:idx_snapshots_plan_status,priority:1;not null"`
	VersionNumber      int               `gorm:"column:version_number;uniqueIndex:uq_snapshots_plan_version,priority:2;not null"`
	Status             SnapshotStatus    `gorm:"column:status;index:idx_snapshots_plan_status,priority:2;not null;default:active"`
	InputHash          string            `gorm:"column:input_hash;type:varchar(64)"`
	OutputHash         string            `gorm:"column:output_hash;type:varchar(64)"`
	EvidenceHash       string            `gorm:"column:evidence_hash;type:varchar(64)"`
	Assignments        lifecycle.JSONAny `gorm:"column:assignments;type:text"`
	Routes             lifecycle.JSONAny `gorm:"column:routes;type:text"`
	FreezeUntil        time.Time         `gorm:"column:freeze_until;not null"`
	PublishedBy        string            `gorm:"column:published_by;not null"`
	PublishReason      string            `gorm:"column:publish_reason;type:text"`
	ForcedDuringFreeze bool              `gorm:"column:forced_during_freeze;not null;default:false"`
	ForceReason        string            `gorm:"column:force_reason;type:text"`
	SupersededAt       *time.Time        `gorm:"column:superseded_at"`
	ArchivedAt         *time.Time        `gorm:"column:archived_at"`
	CreatedAt          time.Time         `gorm:"column:created_at;autoCreateTime"`
}

// TableName returns the table name for plan snapshots.
func (SnapshotRecord) TableName() string {
	return "plan_snapshots"
}

// Snapshot is the API representation of a published plan version.
type Snapshot struct {
	ID                 string         `json:"id"`
	PlanID             string         `json:"planId"`
	VersionNumber      int            `json:"versionNumber"`
	Status             SnapshotStatus `json:"status"`
	InputHash          string         `json:"inputHash,omitempty"`
	OutputHash         string         `json:"outputHash,omitempty"`
	EvidenceHash       string         `json:"evidenceHash,omitempty"`
	Assignments        any            `json:"assignments,omitempty"`
	Routes             any            `json:"routes,omitempty"`
	FreezeUntil        string         `json:"freezeUntil,omitempty"`
	PublishedBy        string         `json:"publishedBy"`
	PublishReason      string         `json:"publishReason,omitempty"`
	ForcedDuringFreeze bool           `json:"forcedDuringFreeze,omitempty"`
	ForceReason        string         `json:"forceReason,omitempty"`
	SupersededAt       string         `json:"supersededAt,omitempty"`
	ArchivedAt         string         `json:"archivedAt,omitempty"`
	CreatedAt          string         `json:"createdAt,omitempty"`
}

// SnapshotList is a paginated list of snapshots, newest version first.
type SnapshotList struct {
	Items         []Snapshot `json:"items"`
	PageSize      int        `json:"pageSize"`
	NextPageToken string     `json:"nextPageToken,omitempty"`
	TotalSize     int        `json:"totalSize"`
}

func snapshotToAPI(rec *SnapshotRecord) Snapshot {
	s := Snapshot{
		ID:                 rec.ID,
		PlanID:             rec.PlanID,
		VersionNumber:      rec.VersionNumber,
		Status:             rec.Status,
		InputHash:          rec.InputHash,
		OutputHash:         rec.OutputHash,
		EvidenceHash:       rec.EvidenceHash,
		Assignments:        rec.Assignments.Data,
		Routes:             rec.Routes.Data,
		PublishedBy:        rec.PublishedBy,
		PublishReason:      rec.PublishReason,
		ForcedDuringFreeze: rec.ForcedDuringFreeze,
		ForceReason:        rec.ForceReason,
	}
	if !rec.FreezeUntil.IsZero() {
		s.FreezeUntil = rec.FreezeUntil.Format(time.RFC3339)
	}
	if rec.SupersededAt != nil {
		s.SupersededAt = rec.SupersededAt.Format(time.RFC3339)
	}
	if rec.ArchivedAt != nil {
		s.ArchivedAt = rec.ArchivedAt.Format(time.RFC3339)
	}
	if !rec.CreatedAt.IsZero() {
		s.CreatedAt = rec.CreatedAt.Format(time.RFC3339)
	}
	return s
}
