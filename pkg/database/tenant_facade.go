// Copyright (C) 2025-2026, SPAX contributors. All rights reserved.
// See LICENSE for license information.

package database

import (
	"context"
	"errors"
	"time"

	"github.com/phtran-dev/spax/pkg/database/model"
	errors2 "github.com/phtran-dev/spax/pkg/errors"
	dal "github.com/phtran-dev/spax/pkg/sql/util"
	"gorm.io/gorm"
)

// TenantFacadeInterface defines the database operation interface for the
// shared tenant registry.
type TenantFacadeInterface interface {
	CreateTenant(ctx context.Context, tenant *model.Tenant) error
	UpdateTenant(ctx context.Context, tenant *model.Tenant) error
	DeleteTenant(ctx context.Context, code string) error
	GetTenantByCode(ctx context.Context, code string) (*model.Tenant, error)
	ListTenants(ctx context.Context) ([]*model.Tenant, error)
	ListActiveTenantCodes(ctx context.Context) ([]string, error)
}

// TenantFacade implements TenantFacadeInterface
type TenantFacade struct {
	BaseFacade
}

func NewTenantFacade() TenantFacadeInterface {
	return &TenantFacade{}
}

func (f *TenantFacade) CreateTenant(ctx context.Context, tenant *model.Tenant) error {
	return dal.CheckErr(f.getDB().WithContext(ctx).Create(tenant).Error, false)
}

func (f *TenantFacade) UpdateTenant(ctx context.Context, tenant *model.Tenant) error {
	tenant.UpdatedAt = time.Now()
	return dal.CheckErr(f.getDB().WithContext(ctx).Save(tenant).Error, false)
}

func (f *TenantFacade) DeleteTenant(ctx context.Context, code string) error {
	return dal.CheckErr(f.getDB().WithContext(ctx).
		Where("code = ?", code).
		Delete(&model.Tenant{}).Error, false)
}

func (f *TenantFacade) GetTenantByCode(ctx context.Context, code string) (*model.Tenant, error) {
	tenant := &model.Tenant{}
	err := f.getDB().WithContext(ctx).Where("code = ?", code).First(tenant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors2.NewError().
				WithCode(errors2.TenantNotFound).
				WithMessagef("tenant %q not found", code)
		}
		return nil, dal.CheckErr(err, false)
	}
	return tenant, nil
}

func (f *TenantFacade) ListTenants(ctx context.Context) ([]*model.Tenant, error) {
	var tenants []*model.Tenant
	err := f.getDB().WithContext(ctx).Order("code").Find(&tenants).Error
	return tenants, dal.CheckErr(err, false)
}

func (f *TenantFacade) ListActiveTenantCodes(ctx context.Context) ([]string, error) {
	var codes []string
	err := f.getDB().WithContext(ctx).
		Model(&model.Tenant{}).
		Where("active = ?", true).
		Order("code").
		Pluck("code", &codes).Error
	return codes, dal.CheckErr(err, false)
}
