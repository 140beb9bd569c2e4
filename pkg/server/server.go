// Copyright (C) 2025-2026, SPAX contributors. All rights reserved.
// See LICENSE for license information.

// Package server owns the two HTTP listeners: the main API engine built from
// the registered route groups, and the health/metrics side port.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/phtran-dev/spax/pkg/config"
	"github.com/phtran-dev/spax/pkg/logger/log"
	"github.com/phtran-dev/spax/pkg/router"
	"github.com/phtran-dev/spax/pkg/utils/goroutineUtil"
)

// InitServer builds the API engine, starts the health listener and blocks
// serving the main port. Components must already be wired and their route
// groups registered.
func InitServer(ctx context.Context, cfg *config.Config) error {
	ginEngine := gin.New()
	ginEngine.Use(gin.Recovery())
	if err := router.InitRouter(ginEngine, cfg); err != nil {
		return err
	}

	AddDefaultRegister("/health", func() (interface{}, error) {
		return map[string]string{"status": "ok"}, nil
	})
	InitHealthServer(cfg.GetHealthPort())

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.GetHttpPort()),
		Handler: ginEngine,
	}
	goroutineUtil.SafeGoroutine(func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorf("API server shutdown: %v", err)
		}
	})
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
