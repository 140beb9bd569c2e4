// Copyright (C) 2025-2026, SPAX contributors. All rights reserved.
// See LICENSE for license information.

package server

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/phtran-dev/spax/pkg/logger/log"
	"github.com/phtran-dev/spax/pkg/utils/goroutineUtil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// The health server is a second, unauthenticated listener carrying /metrics
// and the liveness routes, kept off the main API port.

var (
	once     sync.Once
	engineMu sync.RWMutex
	engine   *gin.Engine

	registersMu sync.Mutex
	registers   = []func(g *gin.RouterGroup){}

	defaultGather prometheus.Gatherer = prometheus.DefaultGatherer
)

func init() {
	AddRegister(addMetrics)
}

// SetDefaultGather overrides the prometheus gatherer backing /metrics.
func SetDefaultGather(gather prometheus.Gatherer) {
	defaultGather = gather
}

// AddRegister queues a route register applied when the health server starts.
func AddRegister(register func(g *gin.RouterGroup)) {
	registersMu.Lock()
	defer registersMu.Unlock()
	registers = append(registers, register)
}

// AddDefaultRegister queues a GET route whose body comes from method; an
// error renders as 500.
func AddDefaultRegister(path string, method func() (interface{}, error)) {
	AddRegister(func(g *gin.RouterGroup) {
		g.GET(path, func(c *gin.Context) {
			data, err := method()
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, data)
		})
	})
}

func addMetrics(g *gin.RouterGroup) {
	handler := promhttp.HandlerFor(defaultGather, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	g.GET("/metrics", gin.WrapH(handler))
}

// InitHealthServer starts the side listener once; later calls are no-ops.
func InitHealthServer(port int) {
	once.Do(func() {
		engineMu.Lock()
		engine = gin.New()
		engine.Use(gin.Recovery())
		group := engine.Group("")
		registersMu.Lock()
		for _, register := range registers {
			register(group)
		}
		registersMu.Unlock()
		healthEngine := engine
		engineMu.Unlock()

		goroutineUtil.SafeGoroutine(func() {
			if err := healthEngine.Run(fmt.Sprintf(":%d", port)); err != nil {
				log.Errorf("Health server on port %d stopped: %v", port, err)
			}
		})
	})
}
