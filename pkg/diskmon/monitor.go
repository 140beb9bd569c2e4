// Copyright (C) 2025-2026, SPAX contributors. All rights reserved.
// See LICENSE for license information.

// Package diskmon samples free space on local volumes and raises a block
// flag the ingest accept paths consult before taking new files.
package diskmon

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/phtran-dev/spax/pkg/config"
	"github.com/phtran-dev/spax/pkg/logger/log"
	"github.com/phtran-dev/spax/pkg/metrics"
	"github.com/phtran-dev/spax/pkg/storage"
)

const (
	criticalPercent = 5
	blockPercent    = 10
	warnPercent     = 20
)

var (
	diskFreeBytes = metrics.NewGaugeVec(
		"disk_free_bytes", "Free bytes on the filesystem backing a local volume", []string{"volume"})
	diskFreePercent = metrics.NewGaugeVec(
		"disk_free_percent", "Free space percentage on a local volume", []string{"volume"})
	ingestBlockedGauge = metrics.NewGaugeVec(
		"ingest_blocked", "1 while ingest is refused for lack of disk space", nil)
)

// Monitor periodically walks the local volumes. Ingest is blocked while any
// of them is under the block threshold; object-store volumes have no local
// filesystem and are never sampled.
type Monitor struct {
	manager *storage.Manager
	cfg     config.DiskMonitorConfig
	blocked atomic.Bool
}

func NewMonitor(manager *storage.Manager, cfg config.DiskMonitorConfig) *Monitor {
	return &Monitor{manager: manager, cfg: cfg}
}

// IngestBlocked reports the flag set by the last sample.
func (m *Monitor) IngestBlocked() bool {
	return m.blocked.Load()
}

// Run samples immediately and then on the configured interval until ctx is
// cancelled.
func (m *Monitor) Run(ctx context.Context) {
	m.Sample()
	ticker := time.NewTicker(m.cfg.GetInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sample()
		}
	}
}

// Sample walks the registry once and recomputes the block flag.
func (m *Monitor) Sample() {
	block := false
	thresholdBytes := m.cfg.GetThresholdMB() * 1024 * 1024

	for _, v := range m.manager.LocalVolumes() {
		provider, err := m.manager.Provider(v.ID)
		if err != nil {
			log.Errorf("Disk sample volume %s: %v", v.Code, err)
			continue
		}
		local, ok := provider.(*storage.LocalProvider)
		if !ok {
			continue
		}
		free, err := local.AvailableBytes()
		if err != nil {
			log.Errorf("Disk sample volume %s: %v", v.Code, err)
			continue
		}
		total, err := local.TotalBytes()
		if err != nil || total == 0 {
			log.Errorf("Disk sample volume %s: total unavailable: %v", v.Code, err)
			continue
		}
		percent := float64(free) / float64(total) * 100

		diskFreeBytes.Set(float64(free), v.Code)
		diskFreePercent.Set(percent, v.Code)

		switch {
		case percent < criticalPercent:
			log.Errorf("Volume %s critically low on space: %.1f%% free", v.Code, percent)
			block = true
		case percent < blockPercent || free < thresholdBytes:
			log.Warnf("Volume %s low on space, blocking ingest: %.1f%% free (%d bytes)", v.Code, percent, free)
			block = true
		case percent < warnPercent:
			log.Warnf("Volume %s running low on space: %.1f%% free", v.Code, percent)
		}
	}

	m.blocked.Store(block)
	if block {
		ingestBlockedGauge.Set(1)
	} else {
		ingestBlockedGauge.Set(0)
	}
}
