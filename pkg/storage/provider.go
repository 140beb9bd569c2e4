// Copyright (C) 2025-2026, SPAX contributors. All rights reserved.
// See LICENSE for license information.

package storage

import (
	"context"
	"io"

	"github.com/phtran-dev/spax/pkg/errors"
)

const (
	KindLocal = "local"
	KindS3    = "s3"
)

// Provider is the byte-level capability set every volume backend implements.
// Paths are relative, forward-slash separated, and already carry the tenant
// prefix produced by the path resolver.
type Provider interface {
	// Write stores size bytes from r at path, overwriting any existing object.
	Write(ctx context.Context, path string, r io.Reader, size int64) error
	Read(ctx context.Context, path string) (io.ReadCloser, error)
	Delete(ctx context.Context, path string) error
	Exists(ctx context.Context, path string) (bool, error)
	Size(ctx context.Context, path string) (int64, error)
	// CopyFrom pulls srcPath out of src and stores it at dstPath on this
	// provider. Used by the lifecycle migration worker.
	CopyFrom(ctx context.Context, src Provider, srcPath, dstPath string) error
}

func wrapStorage(err error, msg string) error {
	return errors.NewError().
		WithCode(errors.StorageUnavailable).
		WithMessage(msg).
		WithError(err)
}
