// Copyright (C) 2025-2026, SPAX contributors. All rights reserved.
// See LICENSE for license information.

package storage

import (
	"context"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/phtran-dev/spax/pkg/errors"
)

// S3Config covers AWS S3 and any S3-compatible endpoint (MinIO, Ceph RGW).
type S3Config struct {
	Endpoint   string
	Region     string
	AccessKey  string
	SecretKey  string
	Bucket     string
	PathPrefix string
	Secure     bool
}

// S3Provider implements Provider on top of an S3-compatible object store.
// The minio client holds its own connection pool, so providers are built
// once per volume and cached by the volume manager.
type S3Provider struct {
	client     *minio.Client
	bucket     string
	pathPrefix string
}

func NewS3Provider(cfg S3Config) (*S3Provider, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, wrapStorage(err, "failed to create s3 client")
	}
	prefix := strings.TrimRight(cfg.PathPrefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &S3Provider{
		client:     client,
		bucket:     cfg.Bucket,
		pathPrefix: prefix,
	}, nil
}

func (p *S3Provider) objectKey(path string) string {
	return p.pathPrefix + path
}

func (p *S3Provider) Write(ctx context.Context, path string, r io.Reader, size int64) error {
	_, err := p.client.PutObject(ctx, p.bucket, p.objectKey(path), r, size, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return wrapStorage(err, "failed to upload object")
	}
	return nil
}

func (p *S3Provider) Read(ctx context.Context, path string) (io.ReadCloser, error) {
	obj, err := p.client.GetObject(ctx, p.bucket, p.objectKey(path), minio.GetObjectOptions{})
	if err != nil {
		return nil, wrapStorage(err, "failed to get object")
	}
	// GetObject is lazy; surface not-found on the first stat
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, errors.NewError().
				WithCode(errors.NotFound).
				WithMessagef("object %q not found", path)
		}
		return nil, wrapStorage(err, "failed to stat object")
	}
	return obj, nil
}

func (p *S3Provider) Delete(ctx context.Context, path string) error {
	err := p.client.RemoveObject(ctx, p.bucket, p.objectKey(path), minio.RemoveObjectOptions{})
	if err != nil {
		return wrapStorage(err, "failed to delete object")
	}
	return nil
}

func (p *S3Provider) Exists(ctx context.Context, path string) (bool, error) {
	_, err := p.client.StatObject(ctx, p.bucket, p.objectKey(path), minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return false, nil
	}
	return false, wrapStorage(err, "failed to stat object")
}

func (p *S3Provider) Size(ctx context.Context, path string) (int64, error) {
	info, err := p.client.StatObject(ctx, p.bucket, p.objectKey(path), minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return 0, errors.NewError().
				WithCode(errors.NotFound).
				WithMessagef("object %q not found", path)
		}
		return 0, wrapStorage(err, "failed to stat object")
	}
	return info.Size, nil
}

func (p *S3Provider) CopyFrom(ctx context.Context, src Provider, srcPath, dstPath string) error {
	size, err := src.Size(ctx, srcPath)
	if err != nil {
		return err
	}
	r, err := src.Read(ctx, srcPath)
	if err != nil {
		return err
	}
	defer r.Close()
	return p.Write(ctx, dstPath, r, size)
}
