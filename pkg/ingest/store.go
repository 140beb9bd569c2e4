// Copyright (C) 2025-2026, SPAX contributors. All rights reserved.
// See LICENSE for license information.

package ingest

import (
	"context"
	"io"

	"github.com/phtran-dev/spax/pkg/dicom"
	"github.com/phtran-dev/spax/pkg/storage"
)

// FileStorer places a parsed file onto the active write volume.
type FileStorer interface {
	StoreIncoming(ctx context.Context, tenantCode string, meta *dicom.Metadata, src io.Reader, size int64) (volumeID int64, storagePath string, err error)
}

// ArchiveStorer writes incoming files to the highest-priority HOT volume at
// the path the volume's template resolves to.
type ArchiveStorer struct {
	manager         *storage.Manager
	resolver        *storage.PathResolver
	defaultTemplate string
}

func NewArchiveStorer(manager *storage.Manager, resolver *storage.PathResolver, defaultTemplate string) *ArchiveStorer {
	return &ArchiveStorer{
		manager:         manager,
		resolver:        resolver,
		defaultTemplate: defaultTemplate,
	}
}

func (s *ArchiveStorer) StoreIncoming(ctx context.Context, tenantCode string, meta *dicom.Metadata, src io.Reader, size int64) (int64, string, error) {
	volume, err := s.manager.ActiveWriteVolume(storage.TierHot)
	if err != nil {
		return 0, "", err
	}
	template := s.manager.PathTemplate(volume, s.defaultTemplate)
	path, err := s.resolver.Resolve(template, tenantCode, meta.Attributes)
	if err != nil {
		return 0, "", err
	}
	provider, err := s.manager.Provider(volume.ID)
	if err != nil {
		return 0, "", err
	}
	if err := provider.Write(ctx, path, src, size); err != nil {
		return 0, "", err
	}
	return volume.ID, path, nil
}
