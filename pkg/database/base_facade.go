package database

import (
	"github.com/phtran-dev/spax/pkg/logger/log"
	"github.com/phtran-dev/spax/pkg/sql"
	"gorm.io/gorm"
)

// BaseFacade is the base structure for all facades, providing DB access
// scoped either to the shared schema or to one tenant's schema.
type BaseFacade struct {
	tenantCode string // empty means the shared (public) scope
}

// getDB retrieves the pool for the facade's scope. Tenant pools carry a
// search path of tenant_{code},public, so tenant-scope tables resolve to the
// tenant's schema while shared tables stay reachable.
func (f *BaseFacade) getDB() *gorm.DB {
	if f.tenantCode == "" {
		return sql.GetDefaultDB()
	}
	if db := sql.GetTenantDB(f.tenantCode); db != nil {
		return db
	}
	log.Errorf("getDB: no pool registered for tenant '%s', falling back to default DB", f.tenantCode)
	return sql.GetDefaultDB()
}

// withTenant returns a new facade scope for the given tenant.
func (f *BaseFacade) withTenant(tenantCode string) BaseFacade {
	return BaseFacade{
		tenantCode: tenantCode,
	}
}
