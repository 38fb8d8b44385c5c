package escalation

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ScopeRef names one scope in the hierarchy. The platform scope has an
// empty ID.
type ScopeRef struct {
	Type ScopeType
	ID   string
}

// EscalationStore persists escalation counters.
type EscalationStore struct {
	db *gorm.DB
}

// NewEscalationStore creates an escalation store.
func NewEscalationStore(db *gorm.DB) *EscalationStore {
	return &EscalationStore{db: db}
}

// AutoMigrate creates or updates the escalation table.
func (s *EscalationStore) AutoMigrate() error {
	if err := s.db.AutoMigrate(&EscalationRecord{}); err != nil {
		return fmt.Errorf("auto-migrate escalations: %w", err)
	}
	return nil
}

// Raise creates or refreshes the escalation for (scope, reason). Raising an
// existing reason updates its severity, message, and expiry in place and
// reactivates it.
func (s *EscalationStore) Raise(record *EscalationRecord) error {
	if !record.ScopeType.Valid() {
		return fmt.Errorf("invalid scope type %q", record.ScopeType)
	}
	if record.ScopeType != ScopePlatform && record.ScopeID == "" {
		return fmt.Errorf("scope ID is required for %s escalations", record.ScopeType)
	}
	if record.ReasonCode == "" {
		return fmt.Errorf("reason code is required")
	}
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	record.Active = true

	err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "scope_type"}, {Name: "scope_id"}, {Name: "reason_code"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"severity", "message", "active", "expires_at", "updated_at",
		}),
	}).Create(record).Error
	if err != nil {
		return fmt.Errorf("raise escalation: %w", err)
	}
	return nil
}

// Resolve deactivates an escalation by ID. Returns gorm.ErrRecordNotFound
// when no such escalation exists.
func (s *EscalationStore) Resolve(id string) error {
	result := s.db.Model(&EscalationRecord{}).
		Where("id = ?", id).
		Update("active", false)
	if result.Error != nil {
		return fmt.Errorf("resolve escalation: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// Get retrieves an escalation by ID. Returns nil, nil when absent.
func (s *EscalationStore) Get(id string) (*EscalationRecord, error) {
	var record EscalationRecord
	err := s.db.Where("id = ?", id).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get escalation: %w", err)
	}
	return &record, nil
}

// ListActiveForScopes returns the active, unexpired escalations for any of
// the given scopes.
func (s *EscalationStore) ListActiveForScopes(scopes []ScopeRef) ([]EscalationRecord, error) {
	if len(scopes) == 0 {
		return nil, nil
	}
	now := time.Now()

	q := s.db.Where("active = ?", true).
		Where("expires_at IS NULL OR expires_at > ?", now)

	scopeCond := s.db.Session(&gorm.Session{NewDB: true})
	for i, ref := range scopes {
		cond := s.db.Session(&gorm.Session{NewDB: true}).
			Where("scope_type = ? AND scope_id = ?", ref.Type, ref.ID)
		if i == 0 {
			scopeCond = cond
		} else {
			scopeCond = scopeCond.Or(cond)
		}
	}
	q = q.Where(scopeCond)

	var records []EscalationRecord
	if err := q.Order("severity ASC, updated_at DESC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list escalations: %w", err)
	}
	return records, nil
}

// ListByScope returns every escalation row for one scope, active or not.
func (s *EscalationStore) ListByScope(scopeType ScopeType, scopeID string) ([]EscalationRecord, error) {
	var records []EscalationRecord
	err := s.db.Where("scope_type = ? AND scope_id = ?", scopeType, scopeID).
		Order("severity ASC, updated_at DESC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list escalations: %w", err)
	}
	return records, nil
}

// DeleteExpired removes up to limit escalations whose expiry has passed,
// returning how many were removed. Sized for the shared cleanup worker.
func (s *EscalationStore) DeleteExpired(limit int) (int64, error) {
	if limit <= 0 {
		limit = 1000
	}
	now := time.Now()
	result := s.db.
		Where("id IN (?)", s.db.Model(&EscalationRecord{}).
			Select("id").
			Where("expires_at IS NOT NULL AND expires_at <= ?", now).
			Limit(limit)).
		Delete(&EscalationRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("delete expired escalations: %w", result.Error)
	}
	return result.RowsAffected, nil
}
