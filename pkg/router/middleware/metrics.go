// Copyright (C) 2025-2026, SPAX contributors. All rights reserved.
// See LICENSE for license information.

package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/phtran-dev/spax/pkg/metrics"
)

var (
	httpRequestsTotal = metrics.NewCounterVec(
		"http_requests", "HTTP requests by route and status", []string{"method", "route", "status"})
	httpRequestSeconds = metrics.NewHistogramVec(
		"http_request_duration", "HTTP request wall time by route", []string{"method", "route"})
)

func HandleMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		// unmatched requests all land in one bucket to keep cardinality flat
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequestsTotal.Inc(c.Request.Method, route, strconv.Itoa(c.Writer.Status()))
		httpRequestSeconds.Observe(time.Since(start).Seconds(), c.Request.Method, route)
	}
}
