package escalation

import (
	"context"
	"fmt"
	"strconv"

	mapset "github.com/deckarep/golang-set/v2"
)

// AggregatedStatus is the status rollup for one scope.
type AggregatedStatus struct {
	ScopeType        ScopeType      `json:"scopeType"`
	ScopeID          string         `json:"scopeId,omitempty"`
	Status           string         `json:"status"`
	MinSeverity      *int           `json:"minSeverity,omitempty"`
	CountsBySeverity map[string]int `json:"countsBySeverity"`
	ScopeCount       int            `json:"scopesConsidered"`
	EscalationCount  int            `json:"activeEscalations"`
	Escalations      []Escalation   `json:"escalations,omitempty"`
}

// Reporter computes aggregated escalation status across the scope
// hierarchy. A scope inherits every escalation on its ancestors and, for
// container scopes, everything raised below it: a platform incident blocks
// every site, and a single bad site surfaces in its organization's rollup.
type Reporter struct {
	hierarchy *HierarchyStore
	store     *EscalationStore
}

// NewReporter creates a reporter over the given stores.
func NewReporter(hierarchy *HierarchyStore, store *EscalationStore) *Reporter {
	return &Reporter{hierarchy: hierarchy, store: store}
}

// AggregatedStatus rolls up the scope's own escalations with those of its
// ancestors and descendants.
func (r *Reporter) AggregatedStatus(ctx context.Context, scopeType ScopeType, scopeID string) (*AggregatedStatus, error) {
	if !scopeType.Valid() {
		return nil, fmt.Errorf("invalid scope type %q", scopeType)
	}
	if scopeType == ScopePlatform {
		scopeID = ""
	} else if scopeID == "" {
		return nil, fmt.Errorf("scope ID is required for %s status", scopeType)
	}

	scopes, err := r.collectScopes(scopeType, scopeID)
	if err != nil {
		return nil, err
	}

	refs := scopes.ToSlice()
	records, err := r.store.ListActiveForScopes(refs)
	if err != nil {
		return nil, err
	}

	status := &AggregatedStatus{
		ScopeType:        scopeType,
		ScopeID:          scopeID,
		Status:           StatusHealthy,
		CountsBySeverity: map[string]int{},
		ScopeCount:       len(refs),
		EscalationCount:  len(records),
	}
	for s := 0; s <= MaxSeverity; s++ {
		status.CountsBySeverity[strconv.Itoa(s)] = 0
	}

	minSeverity := -1
	for i := range records {
		rec := &records[i]
		status.CountsBySeverity[strconv.Itoa(rec.Severity)]++
		if minSeverity < 0 || rec.Severity < minSeverity {
			minSeverity = rec.Severity
		}
		status.Escalations = append(status.Escalations, escalationToAPI(rec))
	}
	if minSeverity >= 0 {
		status.MinSeverity = &minSeverity
		switch {
		case minSeverity <= 1:
			status.Status = StatusBlocked
		case minSeverity == 2:
			status.Status = StatusDegraded
		}
	}
	return status, nil
}

// collectScopes gathers the scope itself, its ancestors, and its
// descendants. Scopes missing from the hierarchy degrade gracefully: the
// rollup still covers the scope itself and the platform.
func (r *Reporter) collectScopes(scopeType ScopeType, scopeID string) (mapset.Set[ScopeRef], error) {
	scopes := mapset.NewSet[ScopeRef]()
	scopes.Add(ScopeRef{Type: ScopePlatform, ID: ""})
	if scopeType != ScopePlatform {
		scopes.Add(ScopeRef{Type: scopeType, ID: scopeID})
	}

	switch scopeType {
	case ScopePlatform:
		orgs, err := r.hierarchy.ListOrgs()
		if err != nil {
			return nil, err
		}
		for _, org := range orgs {
			scopes.Add(ScopeRef{Type: ScopeOrganization, ID: org.ID})
			if err := r.addTenantsOf(scopes, org.ID); err != nil {
				return nil, err
			}
		}

	case ScopeOrganization:
		if err := r.addTenantsOf(scopes, scopeID); err != nil {
			return nil, err
		}

	case ScopeTenant:
		tenant, err := r.hierarchy.GetTenant(scopeID)
		if err != nil {
			return nil, err
		}
		if tenant != nil {
			scopes.Add(ScopeRef{Type: ScopeOrganization, ID: tenant.OrgID})
		}
		if err := r.addSitesOf(scopes, scopeID); err != nil {
			return nil, err
		}

	case ScopeSite:
		site, err := r.hierarchy.GetSite(scopeID)
		if err != nil {
			return nil, err
		}
		if site != nil {
			scopes.Add(ScopeRef{Type: ScopeTenant, ID: site.TenantID})
			tenant, err := r.hierarchy.GetTenant(site.TenantID)
			if err != nil {
				return nil, err
			}
			if tenant != nil {
				scopes.Add(ScopeRef{Type: ScopeOrganization, ID: tenant.OrgID})
			}
		}
	}
	return scopes, nil
}

func (r *Reporter) addTenantsOf(scopes mapset.Set[ScopeRef], orgID string) error {
	tenants, err := r.hierarchy.ListTenantsByOrg(orgID)
	if err != nil {
		return err
	}
	for _, tenant := range tenants {
		scopes.Add(ScopeRef{Type: ScopeTenant, ID: tenant.ID})
		if err := r.addSitesOf(scopes, tenant.ID); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reporter) addSitesOf(scopes mapset.Set[ScopeRef], tenantID string) error {
	sites, err := r.hierarchy.ListSitesByTenant(tenantID)
	if err != nil {
		return err
	}
	for _, site := range sites {
		scopes.Add(ScopeRef{Type: ScopeSite, ID: site.ID})
	}
	return nil
}
