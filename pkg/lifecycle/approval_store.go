package lifecycle

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ApprovalStore provides read access to the append-only approval log.
// Writes happen inside the transition and publish transactions via
// AppendApproval.
type ApprovalStore struct {
	db *gorm.DB
}

// NewApprovalStore creates an approval log store.
func NewApprovalStore(db *gorm.DB) *ApprovalStore {
	return &ApprovalStore{db: db}
}

// ListByPlan returns a page of a plan's approval log ordered newest first.
func (s *ApprovalStore) ListByPlan(tenantID, planID string, pageSize int, pageToken string) ([]ApprovalRecord, string, int, error) {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	q := s.db.Model(&ApprovalRecord{}).Where("tenant_id = ? AND plan_id = ?", tenantID, planID)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, "", 0, fmt.Errorf("count approvals: %w", err)
	}

	if pageToken != "" {
		t, err := time.Parse(time.RFC3339Nano, pageToken)
		if err != nil {
			return nil, "", 0, fmt.Errorf("invalid page token: %w", err)
		}
		q = q.Where("created_at < ?", t)
	}

	var records []ApprovalRecord
	if err := q.Order("created_at DESC").Limit(pageSize + 1).Find(&records).Error; err != nil {
		return nil, "", 0, fmt.Errorf("list approvals: %w", err)
	}

	nextToken := ""
	if len(records) > pageSize {
		records = records[:pageSize]
		nextToken = records[len(records)-1].CreatedAt.Format(time.RFC3339Nano)
	}
	return records, nextToken, int(total), nil
}

// HasTransitionInto reports whether the plan's log already contains the
// one-time transition into the given state. Only approved and the
// approved-to-published promotion are one-time actions; any other target
// returns false.
func (s *ApprovalStore) HasTransitionInto(tenantID, planID string, to PlanState) (bool, error) {
	return HasTransitionInto(s.db, tenantID, planID, to)
}

// HasTransitionInto is the transaction-scoped form of the duplicate-action
// guard; the transition service and the publisher call it on their own tx.
func HasTransitionInto(tx *gorm.DB, tenantID, planID string, to PlanState) (bool, error) {
	q := tx.Model(&ApprovalRecord{}).Where("tenant_id = ? AND plan_id = ?", tenantID, planID)
	switch to {
	case StateApproved:
		q = q.Where("to_state = ?", StateApproved)
	case StatePublished:
		q = q.Where("from_state = ? AND to_state = ?", StateApproved, StatePublished)
	default:
		return false, nil
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return false, fmt.Errorf("scan approval log: %w", err)
	}
	return n > 0, nil
}

// AppendApproval writes one log entry on the given handle, filling in the ID
// and timestamp when absent.
func AppendApproval(tx *gorm.DB, record *ApprovalRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	if err := tx.Create(record).Error; err != nil {
		return err
	}
	return nil
}
