// Copyright (C) 2025-2026, SPAX contributors. All rights reserved.
// See LICENSE for license information.

package ingest

import (
	"context"
	"time"

	"github.com/phtran-dev/spax/pkg/config"
	"github.com/phtran-dev/spax/pkg/errors"
)

// Message is one file awaiting indexing.
type Message struct {
	TenantCode string    `json:"tenant_code"`
	FilePath   string    `json:"file_path"`
	ReceivedAt time.Time `json:"received_at"`
}

// Handler processes one delivered batch. Returning nil acknowledges every
// message; returning an error (or panicking) leaves the batch unacknowledged
// for redelivery.
type Handler func(ctx context.Context, batch []Message) error

// Queue is the durable per-tenant ingest queue. Delivery is at least once;
// the downstream upsert is idempotent so redelivery is safe.
type Queue interface {
	Publish(ctx context.Context, msg Message) error
	// ConsumeForTenant reads up to batchSize messages for this consumer
	// identity, blocking for about two seconds when the stream is idle. The
	// first read after startup drains the consumer's pending list so messages
	// delivered before a crash are reprocessed.
	ConsumeForTenant(ctx context.Context, tenantCode string, batchSize int, handler Handler) error
	PendingCount(ctx context.Context, tenantCode string) (int64, error)
	Close() error
}

// NewQueue builds the queue backend selected by configuration.
func NewQueue(cfg config.QueueConfig) (Queue, error) {
	switch cfg.GetBackend() {
	case config.QueueBackendStream:
		return NewStreamQueue(cfg.Redis)
	case config.QueueBackendWal:
		return NewWalQueue(), nil
	default:
		return nil, errors.NewError().
			WithCode(errors.CodeLackOfConfig).
			WithMessagef("unknown queue backend %q", cfg.Backend)
	}
}
