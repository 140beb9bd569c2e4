// Copyright (C) 2025-2026, SPAX contributors. All rights reserved.
// See LICENSE for license information.

// Package bootstrap wires the archive components together and starts the
// server. The binary under cmd stays a thin shell around StartServer.
package bootstrap

import (
	"context"

	"github.com/phtran-dev/spax/pkg/api"
	"github.com/phtran-dev/spax/pkg/cache"
	"github.com/phtran-dev/spax/pkg/config"
	"github.com/phtran-dev/spax/pkg/correction"
	"github.com/phtran-dev/spax/pkg/database"
	"github.com/phtran-dev/spax/pkg/diskmon"
	"github.com/phtran-dev/spax/pkg/ingest"
	"github.com/phtran-dev/spax/pkg/lifecycle"
	"github.com/phtran-dev/spax/pkg/logger/log"
	"github.com/phtran-dev/spax/pkg/metadata"
	"github.com/phtran-dev/spax/pkg/partition"
	"github.com/phtran-dev/spax/pkg/server"
	"github.com/phtran-dev/spax/pkg/sql"
	"github.com/phtran-dev/spax/pkg/storage"
	"github.com/phtran-dev/spax/pkg/utils/goroutineUtil"
)

// StartServer builds every component from configuration, registers the HTTP
// surface and blocks serving until ctx is cancelled or the listener fails.
func StartServer(ctx context.Context) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	if err := log.InitGlobalLogger(cfg.Log); err != nil {
		return err
	}
	if _, err := sql.InitDefault(cfg.Database); err != nil {
		return err
	}

	tenants := database.NewTenantFacade()
	codes, err := tenants.ListActiveTenantCodes(ctx)
	if err != nil {
		return err
	}
	for _, code := range codes {
		if _, err := sql.InitTenantDB(code, cfg.Database); err != nil {
			return err
		}
	}
	log.Infof("Opened pools for %d active tenants", len(codes))

	backend, err := cache.NewBackend(cfg.Cache)
	if err != nil {
		return err
	}
	caches := cache.NewCaches(backend)
	defer caches.Close()

	resolver := storage.NewPathResolver()
	manager := storage.NewManager(database.NewVolumeFacade().LoadVolumes, resolver)
	if err := manager.Reload(ctx); err != nil {
		return err
	}

	queue, err := ingest.NewQueue(cfg.Queue)
	if err != nil {
		return err
	}
	defer queue.Close()
	storer := ingest.NewArchiveStorer(manager, resolver, cfg.Storage.GetDefaultPathTemplate())
	indexer := ingest.FacadeIndexer{}

	builder := metadata.NewBuilder(manager)
	goroutineUtil.SafeGoroutine(func() { builder.Run(ctx) })

	consumer := ingest.NewConsumer(queue, storer, indexer, caches, tenants, builder, cfg.Ingest)
	goroutineUtil.SafeGoroutine(func() { consumer.Run(ctx) })

	monitor := diskmon.NewMonitor(manager, cfg.DiskMonitor)
	goroutineUtil.SafeGoroutine(func() { monitor.Run(ctx) })

	evaluator := lifecycle.NewEvaluator(manager, caches, cfg.Lifecycle)
	stopEvaluator, err := evaluator.Start()
	if err != nil {
		return err
	}
	defer stopEvaluator()

	migrationWorker := lifecycle.NewMigrationWorker(manager, builder, caches, cfg.Lifecycle)
	goroutineUtil.SafeGoroutine(func() { migrationWorker.Run(ctx) })

	var compressionWorker *lifecycle.CompressionWorker
	if cmd := cfg.Lifecycle.GetTranscoderCmd(); len(cmd) > 0 {
		transcoder, err := lifecycle.NewCommandTranscoder(cmd)
		if err != nil {
			return err
		}
		compressionWorker = lifecycle.NewCompressionWorker(manager, transcoder, cfg.Lifecycle)
		goroutineUtil.SafeGoroutine(func() { compressionWorker.Run(ctx) })
	} else {
		log.Warn("No transcoder configured, compression tasks will not be drained on this node")
	}

	maintainer := partition.NewMaintainer(cfg.Partition)
	stopMaintainer, err := maintainer.Start()
	if err != nil {
		return err
	}
	defer stopMaintainer()

	corrector := correction.NewWorker(caches, cfg.Correction)
	goroutineUtil.SafeGoroutine(func() { corrector.Run(ctx) })

	handlers := api.NewHandlers(api.Deps{
		Cfg:               cfg,
		Queue:             queue,
		Monitor:           monitor,
		Manager:           manager,
		Caches:            caches,
		Storer:            storer,
		Indexer:           indexer,
		Metadata:          builder,
		Evaluator:         evaluator,
		MigrationWorker:   migrationWorker,
		CompressionWorker: compressionWorker,
		Maintainer:        maintainer,
	})
	handlers.Register()

	return server.InitServer(ctx, cfg)
}
