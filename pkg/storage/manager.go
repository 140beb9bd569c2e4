// Copyright (C) 2025-2026, SPAX contributors. All rights reserved.
// See LICENSE for license information.

package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/phtran-dev/spax/pkg/errors"
	"github.com/phtran-dev/spax/pkg/logger/log"
)

const (
	TierHot  = "HOT"
	TierWarm = "WARM"
	TierCold = "COLD"

	StatusActive   = "ACTIVE"
	StatusReadOnly = "READ_ONLY"
	StatusOffline  = "OFFLINE"

	// writeSafetyBytes is the free-space floor below which a local volume is
	// skipped as a write target.
	writeSafetyBytes = 1 << 30
)

// Volume is the in-memory projection of one storage_volume row.
type Volume struct {
	ID           int64
	Code         string
	Kind         string
	Tier         string
	Status       string
	Priority     int
	BasePath     string
	PathTemplate string

	Bucket    string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

func (v *Volume) connConfig() S3Config {
	return S3Config{
		Endpoint:   v.Endpoint,
		Region:     v.Region,
		AccessKey:  v.AccessKey,
		SecretKey:  v.SecretKey,
		Bucket:     v.Bucket,
		PathPrefix: v.BasePath,
		Secure:     v.UseSSL,
	}
}

// VolumeLoader fetches the registry, typically from the shared database.
type VolumeLoader func(ctx context.Context) ([]*Volume, error)

type managerSnapshot struct {
	byTier map[string][]*Volume // sorted by priority descending
	byID   map[int64]*Volume
}

// Manager holds the volume registry and a provider per volume. Providers are
// built lazily and kept across reloads unless the connection config changed;
// object-store providers own connection pools.
type Manager struct {
	loader   VolumeLoader
	resolver *PathResolver

	mu        sync.RWMutex
	snapshot  *managerSnapshot
	providers map[int64]Provider
	provConf  map[int64]S3Config
}

func NewManager(loader VolumeLoader, resolver *PathResolver) *Manager {
	return &Manager{
		loader:    loader,
		resolver:  resolver,
		snapshot:  &managerSnapshot{byTier: map[string][]*Volume{}, byID: map[int64]*Volume{}},
		providers: map[int64]Provider{},
		provConf:  map[int64]S3Config{},
	}
}

// Reload replaces the tier index atomically. Concurrent readers see either
// the old or the new registry, never a mix. Providers whose connection config
// did not change are retained; the compiled-template cache is dropped.
func (m *Manager) Reload(ctx context.Context) error {
	volumes, err := m.loader(ctx)
	if err != nil {
		return err
	}
	next := &managerSnapshot{byTier: map[string][]*Volume{}, byID: map[int64]*Volume{}}
	for _, v := range volumes {
		next.byTier[v.Tier] = append(next.byTier[v.Tier], v)
		next.byID[v.ID] = v
	}
	for _, vols := range next.byTier {
		sort.Slice(vols, func(i, j int) bool { return vols[i].Priority > vols[j].Priority })
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot = next
	for id, conf := range m.provConf {
		v, ok := next.byID[id]
		if !ok || v.connConfig() != conf {
			delete(m.providers, id)
			delete(m.provConf, id)
		}
	}
	if m.resolver != nil {
		m.resolver.InvalidateCache()
	}
	log.Infof("Volume registry reloaded: %d volumes", len(volumes))
	return nil
}

func (m *Manager) current() *managerSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

// ActiveWriteVolume returns the highest-priority ACTIVE volume in the tier
// with enough free space to accept writes.
func (m *Manager) ActiveWriteVolume(tier string) (*Volume, error) {
	for _, v := range m.current().byTier[tier] {
		if v.Status != StatusActive {
			continue
		}
		if v.Kind == KindLocal {
			provider, err := m.Provider(v.ID)
			if err != nil {
				continue
			}
			local, ok := provider.(*LocalProvider)
			if ok {
				free, err := local.AvailableBytes()
				if err != nil || free < writeSafetyBytes {
					log.Warnf("Volume %s skipped as write target: free=%d err=%v", v.Code, free, err)
					continue
				}
			}
		}
		return v, nil
	}
	return nil, errors.NewError().
		WithCode(errors.NoWriteVolume).
		WithMessagef("no writable volume in tier %s", tier)
}

func (m *Manager) Volume(volumeID int64) (*Volume, error) {
	v, ok := m.current().byID[volumeID]
	if !ok {
		return nil, errors.NewError().
			WithCode(errors.UnknownVolume).
			WithMessagef("unknown volume %d", volumeID)
	}
	return v, nil
}

// Provider returns the cached provider for a volume, building it on first
// use.
func (m *Manager) Provider(volumeID int64) (Provider, error) {
	m.mu.RLock()
	p, ok := m.providers[volumeID]
	m.mu.RUnlock()
	if ok {
		return p, nil
	}

	v, err := m.Volume(volumeID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.providers[volumeID]; ok {
		return p, nil
	}
	p, err = buildProvider(v)
	if err != nil {
		return nil, err
	}
	m.providers[volumeID] = p
	m.provConf[volumeID] = v.connConfig()
	return p, nil
}

// PathTemplate returns the volume's template override or the given default.
func (m *Manager) PathTemplate(v *Volume, defaultTemplate string) string {
	if v.PathTemplate != "" {
		return v.PathTemplate
	}
	return defaultTemplate
}

// TierVolumes lists the volumes of a tier, highest priority first.
func (m *Manager) TierVolumes(tier string) []*Volume {
	return m.current().byTier[tier]
}

// LocalVolumes lists local-kind volumes for the disk monitor.
func (m *Manager) LocalVolumes() []*Volume {
	var out []*Volume
	for _, v := range m.current().byID {
		if v.Kind == KindLocal {
			out = append(out, v)
		}
	}
	return out
}

func buildProvider(v *Volume) (Provider, error) {
	switch v.Kind {
	case KindLocal:
		return NewLocalProvider(v.BasePath)
	case KindS3:
		return NewS3Provider(v.connConfig())
	}
	return nil, errors.NewError().
		WithCode(errors.UnknownVolume).
		WithMessagef("unsupported provider kind %q", v.Kind)
}
