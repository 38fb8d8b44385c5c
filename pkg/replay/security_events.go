package replay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// SecurityEventStore provides append-only access to the security event log.
type SecurityEventStore struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewSecurityEventStore creates a security event store.
func NewSecurityEventStore(db *gorm.DB, logger *slog.Logger) *SecurityEventStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SecurityEventStore{db: db, logger: logger}
}

// AutoMigrate creates or updates the security event table.
func (s *SecurityEventStore) AutoMigrate() error {
	if err := s.db.AutoMigrate(&SecurityEventRecord{}); err != nil {
		return fmt.Errorf("auto-migrate security_events: %w", err)
	}
	return nil
}

// Append inserts one event record, filling in the ID when absent.
func (s *SecurityEventStore) Append(ctx context.Context, record *SecurityEventRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("append security event: %w", err)
	}
	return nil
}

// Emit appends an event for a detected anomaly, pulling request attributes
// from the context metadata. Append failures are logged, never propagated:
// the rejection must reach the caller even when the log write fails.
func (s *SecurityEventStore) Emit(ctx context.Context, eventType string, severity int, details map[string]any) {
	meta := MetaFromContext(ctx)
	source := meta.Source
	if source == "" {
		source = "api"
	}
	record := &SecurityEventRecord{
		EventType:  eventType,
		Severity:   severity,
		Source:     source,
		TenantID:   meta.TenantID,
		Path:       meta.Path,
		RemoteAddr: meta.RemoteAddr,
		Details:    details,
	}
	if err := s.Append(ctx, record); err != nil {
		s.logger.Error("security event write failed",
			"event_type", eventType, "error", err)
		return
	}
	s.logger.Warn("security event",
		"event_type", eventType,
		"severity", severity,
		"tenant", meta.TenantID,
		"path", meta.Path,
		"remote_addr", meta.RemoteAddr)
}

// List returns a page of events matching the parsed filter, newest first.
// A nil filter matches everything.
func (s *SecurityEventStore) List(filter *EventFilter, pageSize int, pageToken string) ([]SecurityEventRecord, string, int, error) {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	q := s.db.Model(&SecurityEventRecord{})
	if filter != nil {
		q = filter.Apply(q)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, "", 0, fmt.Errorf("count security events: %w", err)
	}

	if pageToken != "" {
		t, err := time.Parse(time.RFC3339Nano, pageToken)
		if err != nil {
			return nil, "", 0, fmt.Errorf("invalid page token: %w", err)
		}
		q = q.Where("created_at < ?", t)
	}

	var records []SecurityEventRecord
	if err := q.Order("created_at DESC").Limit(pageSize + 1).Find(&records).Error; err != nil {
		return nil, "", 0, fmt.Errorf("list security events: %w", err)
	}

	nextToken := ""
	if len(records) > pageSize {
		records = records[:pageSize]
		nextToken = records[len(records)-1].CreatedAt.Format(time.RFC3339Nano)
	}
	return records, nextToken, int(total), nil
}

// DeleteOlderThan removes events created before the cutoff, returning how
// many rows were deleted.
func (s *SecurityEventStore) DeleteOlderThan(cutoff time.Time) (int64, error) {
	result := s.db.Where("created_at < ?", cutoff).Delete(&SecurityEventRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("delete security events: %w", result.Error)
	}
	return result.RowsAffected, nil
}
