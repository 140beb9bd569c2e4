// Copyright (C) 2025-2026, SPAX contributors. All rights reserved.
// See LICENSE for license information.

package sql

import (
	"fmt"
	"sync"
	"time"

	"github.com/phtran-dev/spax/pkg/logger/log"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

const (
	dbKeyDefault = "default"

	tenantKeyPrefix = "tenant:"
)

var (
	connPools    = map[string]*gorm.DB{}
	connPoolLock = &sync.RWMutex{}
)

var (
	errInvalidConfig = fmt.Errorf("config invalid")
)

type DatabaseConfig struct {
	Host        string `json:"host" yaml:"host"`
	Port        int    `json:"port" yaml:"port"`
	UserName    string `json:"user_name" yaml:"user_name"`
	Password    string `json:"password" yaml:"password"`
	DBName      string `json:"db_name" yaml:"db_name"`
	LogMode     bool   `json:"log_mode" yaml:"log_mode"`
	MaxIdleConn int    `json:"max_idle_conn" yaml:"max_idle_conn"`
	MaxOpenConn int    `json:"max_open_conn" yaml:"max_open_conn"`
	SSLMode     string `json:"ssl_mode" yaml:"ssl_mode"`
	Driver      string `json:"driver" yaml:"driver"`
	TimeZone    string `json:"time_zone" yaml:"time_zone"`
	// SearchPath sets the Postgres schema search path for every session
	// opened by this pool. Empty means the server default.
	SearchPath string `json:"search_path" yaml:"search_path"`
}

func (d DatabaseConfig) Validate() error {
	if d.Host == "" || d.Port == 0 || d.DBName == "" {
		return errInvalidConfig
	}
	return nil
}

type opts func(db *gorm.DB)

func InitDefault(conf DatabaseConfig, opts ...opts) (*gorm.DB, error) {
	return InitGormDB(dbKeyDefault, conf, opts...)
}

// InitTenantDB opens (or returns) a pool whose sessions resolve unqualified
// table names inside the tenant's schema first. The pool is keyed by tenant
// code, so every tenant gets exactly one pool per process.
func InitTenantDB(tenantCode string, conf DatabaseConfig, opts ...opts) (*gorm.DB, error) {
	conf.SearchPath = fmt.Sprintf("tenant_%s,public", tenantCode)
	return InitGormDB(tenantKeyPrefix+tenantCode, conf, opts...)
}

func InitGormDB(key string, conf DatabaseConfig, opts ...opts) (*gorm.DB, error) {
	if gormDB := GetDB(key); gormDB != nil {
		return gormDB, nil
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	// First confirm default settings
	if conf.Driver == "" {
		conf.Driver = DriverNamePostgres
	}
	dialector := getDialector(conf)
	gormDB, err := gorm.Open(dialector, &gorm.Config{
		NamingStrategy: schema.NamingStrategy{
			SingularTable: true,
		},
		FullSaveAssociations:                     false,
		Logger:                                   NullLogger{},
		PrepareStmt:                              false,
		DisableAutomaticPing:                     false,
		DisableForeignKeyConstraintWhenMigrating: false,
		DisableNestedTransaction:                 false,
		AllowGlobalUpdate:                        false,
		QueryFields:                              false,
		Plugins:                                  nil,
	})
	if err != nil {
		return nil, err
	}

	// Configure connection pool parameters to ensure connections are periodically refreshed
	// This prevents connecting to old nodes after master-slave failover
	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	if conf.MaxIdleConn > 0 {
		sqlDB.SetMaxIdleConns(conf.MaxIdleConn)
	} else {
		sqlDB.SetMaxIdleConns(10)
	}

	if conf.MaxOpenConn > 0 {
		sqlDB.SetMaxOpenConns(conf.MaxOpenConn)
	} else {
		sqlDB.SetMaxOpenConns(40)
	}

	sqlDB.SetConnMaxLifetime(5 * time.Minute)
	sqlDB.SetConnMaxIdleTime(2 * time.Minute)

	log.Infof("Configured connection pool for '%s': MaxIdleConn=%d, MaxOpenConn=%d, ConnMaxLifetime=5m, ConnMaxIdleTime=2m",
		key, conf.MaxIdleConn, conf.MaxOpenConn)

	for _, opt := range opts {
		opt(gormDB)
	}
	connPoolLock.Lock()
	defer connPoolLock.Unlock()
	connPools[key] = gormDB
	return gormDB, nil
}

// RegisterDB installs a pre-built pool under the given key. Tests use this to
// route facades at an in-memory database.
func RegisterDB(key string, db *gorm.DB) {
	connPoolLock.Lock()
	defer connPoolLock.Unlock()
	connPools[key] = db
}

func RegisterDefaultDB(db *gorm.DB) {
	RegisterDB(dbKeyDefault, db)
}

func RegisterTenantDB(tenantCode string, db *gorm.DB) {
	RegisterDB(tenantKeyPrefix+tenantCode, db)
}

func GetDB(key string) *gorm.DB {
	connPoolLock.RLock()
	defer connPoolLock.RUnlock()

	if db, ok := connPools[key]; ok {
		return db
	}
	return nil
}

func GetDefaultDB() *gorm.DB {
	return GetDB(dbKeyDefault)
}

func GetTenantDB(tenantCode string) *gorm.DB {
	return GetDB(tenantKeyPrefix + tenantCode)
}

// CloseTenantDB drops a tenant pool from the registry and closes its
// underlying connections. Used when a tenant is deactivated.
func CloseTenantDB(tenantCode string) error {
	connPoolLock.Lock()
	defer connPoolLock.Unlock()

	key := tenantKeyPrefix + tenantCode
	db, ok := connPools[key]
	if !ok {
		return nil
	}
	delete(connPools, key)
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
