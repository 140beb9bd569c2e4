// Copyright (C) 2025-2026, SPAX contributors. All rights reserved.
// See LICENSE for license information.

package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/phtran-dev/spax/pkg/cache"
	"github.com/phtran-dev/spax/pkg/database"
	"github.com/phtran-dev/spax/pkg/errors"
	"github.com/phtran-dev/spax/pkg/tenant"
)

const tenantContextKey = "tenantCode"

// HandleTenant resolves the tenant from the path segment (or the X-Tenant-ID
// header as a fallback), rejects codes that fail validation or are not
// active, and stores the code on both the gin context and the request
// context. The active check runs against the cached registry so an unknown
// tenant is refused before any tenant-scope SQL.
func HandleTenant(tenants database.TenantFacadeInterface, caches *cache.Caches) gin.HandlerFunc {
	return func(c *gin.Context) {
		code := c.Param("tenant")
		if code == "" {
			code = c.GetHeader("X-Tenant-ID")
		}
		if err := tenant.ValidateCode(code); err != nil {
			c.Error(errors.NewError().
				WithCode(errors.TenantNotFound).
				WithMessagef("invalid tenant %q", code).
				WithError(err))
			c.Abort()
			return
		}

		codes, err := caches.ActiveTenants.GetOrLoad(c.Request.Context(), "all", tenants.ListActiveTenantCodes)
		if err != nil {
			c.Error(err)
			c.Abort()
			return
		}
		active := false
		for _, known := range codes {
			if known == code {
				active = true
				break
			}
		}
		if !active {
			c.Error(errors.NewError().
				WithCode(errors.TenantNotFound).
				WithMessagef("tenant %q not found", code))
			c.Abort()
			return
		}

		c.Set(tenantContextKey, code)
		c.Request = c.Request.WithContext(tenant.WithCode(c.Request.Context(), code))
		c.Next()
	}
}

// TenantCode returns the code resolved by HandleTenant for this request.
func TenantCode(c *gin.Context) string {
	return c.GetString(tenantContextKey)
}
