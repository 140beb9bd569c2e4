// Copyright (C) 2025-2026, SPAX contributors. All rights reserved.
// See LICENSE for license information.

package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/phtran-dev/spax/pkg/errors"
)

// LocalProvider stores objects under a rooted directory. Any path that does
// not resolve to a descendant of the root is refused.
type LocalProvider struct {
	root string
}

func NewLocalProvider(root string) (*LocalProvider, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, wrapStorage(err, "invalid volume root")
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, wrapStorage(err, "failed to create volume root")
	}
	return &LocalProvider{root: abs}, nil
}

func (p *LocalProvider) Root() string {
	return p.root
}

// resolve maps a relative object path onto the filesystem, rejecting
// traversal outside the root.
func (p *LocalProvider) resolve(path string) (string, error) {
	full := filepath.Join(p.root, filepath.FromSlash(path))
	if full != p.root && !strings.HasPrefix(full, p.root+string(filepath.Separator)) {
		return "", errors.NewError().
			WithCode(errors.StorageUnavailable).
			WithMessagef("path %q escapes volume root", path)
	}
	return full, nil
}

func (p *LocalProvider) Write(ctx context.Context, path string, r io.Reader, size int64) error {
	full, err := p.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return wrapStorage(err, "failed to create directory")
	}
	// write to a sibling temp file then rename so readers never observe a
	// partial object
	tmp, err := os.CreateTemp(filepath.Dir(full), ".spax-*")
	if err != nil {
		return wrapStorage(err, "failed to create temp file")
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return wrapStorage(err, "failed to write object")
	}
	if err := tmp.Close(); err != nil {
		return wrapStorage(err, "failed to close object")
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return wrapStorage(err, "failed to finalize object")
	}
	return nil
}

func (p *LocalProvider) Read(ctx context.Context, path string) (io.ReadCloser, error) {
	full, err := p.resolve(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewError().
				WithCode(errors.NotFound).
				WithMessagef("object %q not found", path)
		}
		return nil, wrapStorage(err, "failed to open object")
	}
	return f, nil
}

func (p *LocalProvider) Delete(ctx context.Context, path string) error {
	full, err := p.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return wrapStorage(err, "failed to delete object")
	}
	return nil
}

func (p *LocalProvider) Exists(ctx context.Context, path string) (bool, error) {
	full, err := p.resolve(path)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(full)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, wrapStorage(err, "failed to stat object")
}

func (p *LocalProvider) Size(ctx context.Context, path string) (int64, error) {
	full, err := p.resolve(path)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, errors.NewError().
				WithCode(errors.NotFound).
				WithMessagef("object %q not found", path)
		}
		return 0, wrapStorage(err, "failed to stat object")
	}
	return info.Size(), nil
}

func (p *LocalProvider) CopyFrom(ctx context.Context, src Provider, srcPath, dstPath string) error {
	r, err := src.Read(ctx, srcPath)
	if err != nil {
		return err
	}
	defer r.Close()
	return p.Write(ctx, dstPath, r, -1)
}

// AvailableBytes reports free space on the filesystem holding the root.
func (p *LocalProvider) AvailableBytes() (int64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(p.root, &stat); err != nil {
		return 0, wrapStorage(err, "statfs failed")
	}
	return int64(stat.Bavail) * int64(stat.Bsize), nil
}

func (p *LocalProvider) TotalBytes() (int64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(p.root, &stat); err != nil {
		return 0, wrapStorage(err, "statfs failed")
	}
	return int64(stat.Blocks) * int64(stat.Bsize), nil
}
