// Copyright (C) 2025-2026, SPAX contributors. All rights reserved.
// See LICENSE for license information.

package router

import (
	"github.com/gin-gonic/gin"
	"github.com/phtran-dev/spax/pkg/config"
	"github.com/phtran-dev/spax/pkg/router/middleware"
)

// GroupRegister mounts one route group under the root. API packages register
// their groups at wiring time and InitRouter replays them onto the engine.
type GroupRegister func(root *gin.RouterGroup) error

var (
	groupRegisters []GroupRegister
)

func RegisterGroup(group GroupRegister) {
	groupRegisters = append(groupRegisters, group)
}

// ResetGroups clears the registrations; tests building throwaway engines use
// it between cases.
func ResetGroups() {
	groupRegisters = nil
}

func InitRouter(engine *gin.Engine, cfg *config.Config) error {
	root := engine.Group("")
	root.Use(middleware.HandleMetrics())
	root.Use(middleware.HandleLogging())

	// Error handling middleware is always enabled
	root.Use(middleware.HandleErrors())

	// CORS middleware is always enabled
	root.Use(middleware.CorsMiddleware())

	for _, group := range groupRegisters {
		err := group(root)
		if err != nil {
			return err
		}
	}
	return nil
}
