package snapshot

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/dispatchlab/planhub/pkg/lifecycle"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ErrSnapshotActive is returned when maintenance touches the payload of the
// active snapshot, which is immutable while crews execute it.
var ErrSnapshotActive = errors.New("active snapshot payload is immutable")

// ErrSnapshotNotFound is returned when the requested snapshot does not exist
// within the caller's tenant.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// SnapshotStore provides persistence for published plan versions.
type SnapshotStore struct {
	db *gorm.DB
}

// NewSnapshotStore creates a snapshot store backed by the given database.
func NewSnapshotStore(db *gorm.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// AutoMigrate creates or updates the snapshot table.
func (s *SnapshotStore) AutoMigrate() error {
	if err := s.db.AutoMigrate(&SnapshotRecord{}); err != nil {
		return fmt.Errorf("auto-migrate plan_snapshots: %w", err)
	}
	return nil
}

// Get retrieves one version of a plan. Returns nil, nil when absent.
func (s *SnapshotStore) Get(tenantID, planID string, version int) (*SnapshotRecord, error) {
	var record SnapshotRecord
	err := s.db.Where("tenant_id = ? AND plan_id = ? AND version_number = ?", tenantID, planID, version).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	return &record, nil
}

// GetActive retrieves the plan's active snapshot. Returns nil, nil when the
// plan has never been published or its latest version was archived.
func (s *SnapshotStore) GetActive(tenantID, planID string) (*SnapshotRecord, error) {
	return activeSnapshot(s.db, tenantID, planID)
}

// activeSnapshot is the transaction-scoped active-version lookup used inside
// the publish transaction.
func activeSnapshot(tx *gorm.DB, tenantID, planID string) (*SnapshotRecord, error) {
	var record SnapshotRecord
	err := tx.Where("tenant_id = ? AND plan_id = ? AND status = ?", tenantID, planID, StatusActive).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get active snapshot: %w", err)
	}
	return &record, nil
}

// maxVersionNumber returns the highest version number the plan has ever been
// assigned, zero when unpublished. Archived versions still count: version
// numbers are never reused.
func maxVersionNumber(tx *gorm.DB, tenantID, planID string) (int, error) {
	var highest int
	err := tx.Model(&SnapshotRecord{}).
		Where("tenant_id = ? AND plan_id = ?", tenantID, planID).
		Select("COALESCE(MAX(version_number), 0)").
		Scan(&highest).Error
	if err != nil {
		return 0, fmt.Errorf("scan version numbers: %w", err)
	}
	return highest, nil
}

// ListByPlan returns a page of a plan's snapshots ordered by version number
// descending. The page token is the version number of the last record of the
// previous page.
func (s *SnapshotStore) ListByPlan(tenantID, planID string, pageSize int, pageToken string) ([]SnapshotRecord, string, int, error) {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	q := s.db.Model(&SnapshotRecord{}).Where("tenant_id = ? AND plan_id = ?", tenantID, planID)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, "", 0, fmt.Errorf("count snapshots: %w", err)
	}

	if pageToken != "" {
		v, err := strconv.Atoi(pageToken)
		if err != nil {
			return nil, "", 0, fmt.Errorf("invalid page token: %w", err)
		}
		q = q.Where("version_number < ?", v)
	}

	var records []SnapshotRecord
	if err := q.Order("version_number DESC").Limit(pageSize + 1).Find(&records).Error; err != nil {
		return nil, "", 0, fmt.Errorf("list snapshots: %w", err)
	}

	nextToken := ""
	if len(records) > pageSize {
		records = records[:pageSize]
		nextToken = strconv.Itoa(records[len(records)-1].VersionNumber)
	}
	return records, nextToken, int(total), nil
}

// BackfillPayloads fills in missing assignment and route payloads on a
// superseded or archived snapshot, typically after recovering them from the
// solver's artifact store. The active snapshot is immutable and hashes are
// never touched.
func (s *SnapshotStore) BackfillPayloads(tenantID, planID string, version int, assignments, routes map[string]any) error {
	record, err := s.Get(tenantID, planID, version)
	if err != nil {
		return err
	}
	if record == nil {
		return ErrSnapshotNotFound
	}
	if record.Status == StatusActive {
		return ErrSnapshotActive
	}

	updates := map[string]any{}
	if record.Assignments.Data == nil && assignments != nil {
		updates["assignments"] = lifecycle.JSONAny{Data: assignments}
	}
	if record.Routes.Data == nil && routes != nil {
		updates["routes"] = lifecycle.JSONAny{Data: routes}
	}
	if len(updates) == 0 {
		return nil
	}
	if err := s.db.Model(&SnapshotRecord{}).
		Where("tenant_id = ? AND plan_id = ? AND version_number = ?", tenantID, planID, version).
		Updates(updates).Error; err != nil {
		return fmt.Errorf("backfill snapshot payloads: %w", err)
	}
	return nil
}

// ArchiveSuperseded moves superseded snapshots older than the retention
// window into archived, returning how many rows changed.
func (s *SnapshotStore) ArchiveSuperseded(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	result := s.db.Model(&SnapshotRecord{}).
		Where("status = ? AND superseded_at < ?", StatusSuperseded, cutoff).
		Updates(map[string]any{
			"status":      StatusArchived,
			"archived_at": time.Now(),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("archive snapshots: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// CountByStatus returns per-status snapshot counts for a tenant.
func (s *SnapshotStore) CountByStatus(tenantID string) (map[SnapshotStatus]int64, error) {
	type row struct {
		Status SnapshotStatus
		N      int64
	}
	var rows []row
	err := s.db.Model(&SnapshotRecord{}).
		Select("status, COUNT(*) AS n").
		Where("tenant_id = ?", tenantID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count snapshots by status: %w", err)
	}
	counts := make(map[SnapshotStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.N
	}
	return counts, nil
}
