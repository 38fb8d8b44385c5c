package escalation

import (
	"time"
)

// ScopeType identifies one level of the scope hierarchy.
type ScopeType string

const (
	ScopePlatform     ScopeType = "platform"
	ScopeOrganization ScopeType = "organization"
	ScopeTenant       ScopeType = "tenant"
	ScopeSite         ScopeType = "site"
)

// Valid reports whether t is a defined scope type.
func (t ScopeType) Valid() bool {
	switch t {
	case ScopePlatform, ScopeOrganization, ScopeTenant, ScopeSite:
		return true
	}
	return false
}

// Aggregated status values. Severity runs 0 (worst) to 4: any active S0/S1
// blocks the scope, S2 degrades it, S3/S4 are informational.
const (
	StatusBlocked  = "blocked"
	StatusDegraded = "degraded"
	StatusHealthy  = "healthy"
)

// MaxSeverity is the least severe escalation level.
const MaxSeverity = 4

// OrgRecord is one organization in the scope hierarchy.
type OrgRecord struct {
	ID        string    `gorm:"primaryKey;column:id;type:varchar(255)"`
	Name      string    `gorm:"column:name;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName returns the table name for organizations.
func (OrgRecord) TableName() string {
	return "orgs"
}

// TenantRecord is one tenant in the scope hierarchy.
type TenantRecord struct {
	ID        string    `gorm:"primaryKey;column:id;type:varchar(255)"`
	OrgID     string    `gorm:"column:org_id;index:idx_tenants_org;not null"`
	Name      string    `gorm:"column:name;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName returns the table name for tenants.
func (TenantRecord) TableName() string {
	return "tenants"
}

// SiteRecord is one site in the scope hierarchy.
type SiteRecord struct {
	ID        string    `gorm:"primaryKey;column:id;type:varchar(255)"`
	TenantID  string    `gorm:"column:tenant_id;index:idx_sites_tenant;not null"`
	Name      string    `gorm:"column:name;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName returns the table name for sites.
func (SiteRecord) TableName() string {
	return "sites"
}

// EscalationRecord is one escalation counter. A scope holds at most one row
// per reason code; raising the same reason again refreshes the row in place.
// The platform scope uses an empty ScopeID.
type EscalationRecord struct {
	ID         string     `gorm:"primaryKey;column:id;type:varchar(36)"`
	ScopeType  ScopeType  `gorm:"column:scope_type;uniqueIndex:uq_escalations_scope_reason,priority:1;not null"`
	ScopeID    string     `gorm:"column:scope_id;uniqueIndex:uq_escalations_scope_reason,priority:2;not null;default:''"`
	ReasonCode string     `gorm:"column:reason_code;uniqueIndex:uq_escalations_scope_reason,priority:3;not null"`
	Severity   int        `gorm:"column:severity;not null"`
	Message    string     `gorm:"column:message;type:text"`
	Active     bool       `gorm:"column:active;index:idx_escalations_active,priority:1;not null;default:true"`
	ExpiresAt  *time.Time `gorm:"column:expires_at;index:idx_escalations_active,priority:2"`
	CreatedAt  time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName returns the table name for escalations.
func (EscalationRecord) TableName() string {
	return "escalations"
}

// Escalation is the API representation of an escalation counter.
type Escalation struct {
	ID         string    `json:"id"`
	ScopeType  ScopeType `json:"scopeType"`
	ScopeID    string    `json:"scopeId,omitempty"`
	ReasonCode string    `json:"reasonCode"`
	Severity   int       `json:"severity"`
	Message    string    `json:"message,omitempty"`
	Active     bool      `json:"active"`
	ExpiresAt  string    `json:"expiresAt,omitempty"`
	CreatedAt  string    `json:"createdAt,omitempty"`
	UpdatedAt  string    `json:"updatedAt,omitempty"`
}

func escalationToAPI(rec *EscalationRecord) Escalation {
	e := Escalation{
		ID:         rec.ID,
		ScopeType:  rec.ScopeType,
		ScopeID:    rec.ScopeID,
		ReasonCode: rec.ReasonCode,
		Severity:   rec.Severity,
		Message:    rec.Message,
		Active:     rec.Active,
	}
	if rec.ExpiresAt != nil {
		e.ExpiresAt = rec.ExpiresAt.Format(time.RFC3339)
	}
	if !rec.CreatedAt.IsZero() {
		e.CreatedAt = rec.CreatedAt.Format(time.RFC3339)
	}
	if !rec.UpdatedAt.IsZero() {
		e.UpdatedAt = rec.UpdatedAt.Format(time.RFC3339)
	}
	return e
}
