package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// PlanStore provides persistence for plan aggregates.
type PlanStore struct {
	db *gorm.DB
}

// NewPlanStore creates a plan store backed by the given database.
func NewPlanStore(db *gorm.DB) *PlanStore {
	return &PlanStore{db: db}
}

// AutoMigrate creates or updates the plan and approval log tables.
func (s *PlanStore) AutoMigrate() error {
	if err := s.db.AutoMigrate(&PlanRecord{}); err != nil {
		return fmt.Errorf("auto-migrate plans: %w", err)
	}
	if err := s.db.AutoMigrate(&ApprovalRecord{}); err != nil {
		return fmt.Errorf("auto-migrate plan_approvals: %w", err)
	}
	return nil
}

// Create inserts a new plan. Missing fields get workflow defaults: a fresh
// ID, the draft state, and a state-change stamp.
func (s *PlanStore) Create(record *PlanRecord) error {
	if record.TenantID == "" {
		return fmt.Errorf("tenant ID is required")
	}
	if record.Name == "" {
		return fmt.Errorf("plan name is required")
	}
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.State == "" {
		record.State = StateDraft
	}
	if record.StateChangedAt.IsZero() {
		record.StateChangedAt = time.Now()
	}
	if err := s.db.Create(record).Error; err != nil {
		return fmt.Errorf("create plan: %w", err)
	}
	return nil
}

// Get retrieves a plan scoped to the tenant. Returns nil, nil when the plan
// does not exist.
func (s *PlanStore) Get(tenantID, planID string) (*PlanRecord, error) {
	var record PlanRecord
	err := s.db.Where("tenant_id = ? AND id = ?", tenantID, planID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get plan: %w", err)
	}
	return &record, nil
}

// PlanFilter narrows List results.
type PlanFilter struct {
	SiteID string
	State  PlanState
}

// List returns a page of the tenant's plans ordered by creation time
// descending. The page token is the created_at timestamp of the last record
// of the previous page.
func (s *PlanStore) List(tenantID string, filter PlanFilter, pageSize int, pageToken string) ([]PlanRecord, string, int, error) {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	q := s.db.Model(&PlanRecord{}).Where("tenant_id = ?", tenantID)
	if filter.SiteID != "" {
		q = q.Where("site_id = ?", filter.SiteID)
	}
	if filter.State != "" {
		q = q.Where("state = ?", filter.State)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, "", 0, fmt.Errorf("count plans: %w", err)
	}

	if pageToken != "" {
		t, err := time.Parse(time.RFC3339Nano, pageToken)
		if err != nil {
			return nil, "", 0, fmt.Errorf("invalid page token: %w", err)
		}
		q = q.Where("created_at < ?", t)
	}

	var records []PlanRecord
	if err := q.Order("created_at DESC").Limit(pageSize + 1).Find(&records).Error; err != nil {
		return nil, "", 0, fmt.Errorf("list plans: %w", err)
	}

	nextToken := ""
	if len(records) > pageSize {
		records = records[:pageSize]
		nextToken = records[len(records)-1].CreatedAt.Format(time.RFC3339Nano)
	}
	return records, nextToken, int(total), nil
}
