// Copyright (C) 2025-2026, SPAX contributors. All rights reserved.
// See LICENSE for license information.

package database

import (
	"context"

	"github.com/phtran-dev/spax/pkg/database/model"
	dal "github.com/phtran-dev/spax/pkg/sql/util"
)

// AuditFacadeInterface defines the tenant-scope audit trail interface
type AuditFacadeInterface interface {
	Record(ctx context.Context, entry *model.AuditLog) error
	ListRecent(ctx context.Context, limit int) ([]*model.AuditLog, error)
	WithTenant(tenantCode string) AuditFacadeInterface
}

// AuditFacade implements AuditFacadeInterface
type AuditFacade struct {
	BaseFacade
}

func NewAuditFacade() AuditFacadeInterface {
	return &AuditFacade{}
}

func (f *AuditFacade) WithTenant(tenantCode string) AuditFacadeInterface {
	return &AuditFacade{
		BaseFacade: f.withTenant(tenantCode),
	}
}

func (f *AuditFacade) Record(ctx context.Context, entry *model.AuditLog) error {
	return dal.CheckErr(f.getDB().WithContext(ctx).Create(entry).Error, false)
}

func (f *AuditFacade) ListRecent(ctx context.Context, limit int) ([]*model.AuditLog, error) {
	var entries []*model.AuditLog
	err := f.getDB().WithContext(ctx).
		Order("id DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, dal.CheckErr(err, false)
}
