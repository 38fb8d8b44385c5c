package escalation

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// HierarchyStore persists the platform > organization > tenant > site tree.
// The reporter walks it in both directions when aggregating status.
type HierarchyStore struct {
	db *gorm.DB
}

// NewHierarchyStore creates a hierarchy store.
func NewHierarchyStore(db *gorm.DB) *HierarchyStore {
	return &HierarchyStore{db: db}
}

// AutoMigrate creates or updates the hierarchy tables.
func (s *HierarchyStore) AutoMigrate() error {
	for _, model := range []any{&OrgRecord{}, &TenantRecord{}, &SiteRecord{}} {
		if err := s.db.AutoMigrate(model); err != nil {
			return fmt.Errorf("auto-migrate hierarchy: %w", err)
		}
	}
	return nil
}

// UpsertOrg creates or renames an organization.
func (s *HierarchyStore) UpsertOrg(record *OrgRecord) error {
	if record.ID == "" {
		return fmt.Errorf("org ID is required")
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name"}),
	}).Create(record).Error
	if err != nil {
		return fmt.Errorf("upsert org: %w", err)
	}
	return nil
}

// UpsertTenant creates or moves a tenant.
func (s *HierarchyStore) UpsertTenant(record *TenantRecord) error {
	if record.ID == "" || record.OrgID == "" {
		return fmt.Errorf("tenant ID and org ID are required")
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"org_id", "name"}),
	}).Create(record).Error
	if err != nil {
		return fmt.Errorf("upsert tenant: %w", err)
	}
	return nil
}

// UpsertSite creates or moves a site.
func (s *HierarchyStore) UpsertSite(record *SiteRecord) error {
	if record.ID == "" || record.TenantID == "" {
		return fmt.Errorf("site ID and tenant ID are required")
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"tenant_id", "name"}),
	}).Create(record).Error
	if err != nil {
		return fmt.Errorf("upsert site: %w", err)
	}
	return nil
}

// GetTenant retrieves a tenant. Returns nil, nil when absent.
func (s *HierarchyStore) GetTenant(tenantID string) (*TenantRecord, error) {
	var record TenantRecord
	err := s.db.Where("id = ?", tenantID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	return &record, nil
}

// GetSite retrieves a site. Returns nil, nil when absent.
func (s *HierarchyStore) GetSite(siteID string) (*SiteRecord, error) {
	var record SiteRecord
	err := s.db.Where("id = ?", siteID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get site: %w", err)
	}
	return &record, nil
}

// ListOrgs returns every organization.
func (s *HierarchyStore) ListOrgs() ([]OrgRecord, error) {
	var records []OrgRecord
	if err := s.db.Order("id").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list orgs: %w", err)
	}
	return records, nil
}

// ListTenantsByOrg returns the organization's tenants.
func (s *HierarchyStore) ListTenantsByOrg(orgID string) ([]TenantRecord, error) {
	var records []TenantRecord
	if err := s.db.Where("org_id = ?", orgID).Order("id").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	return records, nil
}

// ListSitesByTenant returns the tenant's sites.
func (s *HierarchyStore) ListSitesByTenant(tenantID string) ([]SiteRecord, error) {
	var records []SiteRecord
	if err := s.db.Where("tenant_id = ?", tenantID).Order("id").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	return records, nil
}
