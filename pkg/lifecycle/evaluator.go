// Copyright (C) 2025-2026, SPAX contributors. All rights reserved.
// See LICENSE for license information.

// Package lifecycle moves and recompresses archived instances according to
// admin-defined rules: a scheduled evaluator turns rules into task rows and
// workers drain the task tables.
package lifecycle

import (
	"context"
	"time"

	"github.com/phtran-dev/spax/pkg/cache"
	"github.com/phtran-dev/spax/pkg/config"
	"github.com/phtran-dev/spax/pkg/database"
	"github.com/phtran-dev/spax/pkg/database/model"
	"github.com/phtran-dev/spax/pkg/logger/log"
	"github.com/phtran-dev/spax/pkg/metrics"
	"github.com/phtran-dev/spax/pkg/storage"
	"github.com/robfig/cron/v3"
)

var (
	tasksCreated = metrics.NewCounterVec(
		"lifecycle_tasks_created", "Task rows created by rule evaluation", []string{"action"})
	tasksFinished = metrics.NewCounterVec(
		"lifecycle_tasks_finished", "Task outcomes", []string{"action", "status"})
)

// Evaluator walks enabled rules on a schedule and materialises task rows.
// Evaluation is idempotent: an instance with an existing migration task and a
// study with an open compression task are both skipped, so re-running a pass
// changes nothing.
type Evaluator struct {
	manager   *storage.Manager
	caches    *cache.Caches
	tenants   database.TenantFacadeInterface
	lifecycle database.LifecycleFacadeInterface
	studies   database.StudyFacadeInterface
	instances database.InstanceFacadeInterface
	cfg       config.LifecycleConfig

	cron *cron.Cron
}

func NewEvaluator(manager *storage.Manager, caches *cache.Caches, cfg config.LifecycleConfig) *Evaluator {
	return &Evaluator{
		manager:   manager,
		caches:    caches,
		tenants:   database.NewTenantFacade(),
		lifecycle: database.NewLifecycleFacade(),
		studies:   database.NewStudyFacade(),
		instances: database.NewInstanceFacade(),
		cfg:       cfg,
	}
}

// Start schedules the nightly pass. The returned stop function waits for a
// running pass to finish.
func (e *Evaluator) Start() (func(), error) {
	e.cron = cron.New()
	_, err := e.cron.AddFunc(e.cfg.GetEvaluatorCron(), func() {
		if err := e.RunOnce(context.Background()); err != nil {
			log.Errorf("Lifecycle evaluation failed: %v", err)
		}
	})
	if err != nil {
		return nil, err
	}
	e.cron.Start()
	return func() { <-e.cron.Stop().Done() }, nil
}

// RunOnce evaluates every enabled rule against every active tenant.
func (e *Evaluator) RunOnce(ctx context.Context) error {
	codes, err := e.tenants.ListActiveTenantCodes(ctx)
	if err != nil {
		return err
	}

	migrateRules, err := e.rulesByAction(ctx, model.ActionMigrate)
	if err != nil {
		return err
	}
	compressRules, err := e.rulesByAction(ctx, model.ActionCompress)
	if err != nil {
		return err
	}

	for _, tenantCode := range codes {
		for _, rule := range migrateRules {
			if !ruleApplies(rule, tenantCode) {
				continue
			}
			if err := e.evaluateMigrate(ctx, tenantCode, rule); err != nil {
				log.Errorf("Lifecycle MIGRATE rule %d tenant %s: %v", rule.ID, tenantCode, err)
			}
		}
		for _, rule := range compressRules {
			if !ruleApplies(rule, tenantCode) {
				continue
			}
			if err := e.evaluateCompress(ctx, tenantCode, rule); err != nil {
				log.Errorf("Lifecycle COMPRESS rule %d tenant %s: %v", rule.ID, tenantCode, err)
			}
		}
	}
	return nil
}

// rulesByAction reads the per-action rule list through the lifecycle-rules
// cache; admin rule CRUD evicts it.
func (e *Evaluator) rulesByAction(ctx context.Context, action string) ([]*model.LifecycleRule, error) {
	cached, err := e.caches.LifecycleRules.GetOrLoad(ctx, action, func(ctx context.Context) ([]model.LifecycleRule, error) {
		rows, err := e.lifecycle.ListEnabledRulesByAction(ctx, action)
		if err != nil {
			return nil, err
		}
		rules := make([]model.LifecycleRule, 0, len(rows))
		for _, row := range rows {
			rules = append(rules, *row)
		}
		return rules, nil
	})
	if err != nil {
		return nil, err
	}
	rules := make([]*model.LifecycleRule, 0, len(cached))
	for i := range cached {
		rules = append(rules, &cached[i])
	}
	return rules, nil
}

func ruleApplies(rule *model.LifecycleRule, tenantCode string) bool {
	return rule.TenantCode == "" || rule.TenantCode == tenantCode
}

func (e *Evaluator) evaluateMigrate(ctx context.Context, tenantCode string, rule *model.LifecycleRule) error {
	sourceIDs := e.tierVolumeIDs(rule.SourceTier)
	if len(sourceIDs) == 0 {
		return nil
	}
	target, err := e.manager.ActiveWriteVolume(rule.TargetTier)
	if err != nil {
		return err
	}

	cutoff := time.Now().AddDate(0, 0, -rule.ConditionDays)
	candidates, err := e.instances.WithTenant(tenantCode).ListMigrationCandidates(ctx, database.MigrationCondition{
		VolumeIDs:     sourceIDs,
		ConditionKind: rule.ConditionKind,
		OlderThan:     cutoff,
		Limit:         e.cfg.GetEvaluationCap(),
	})
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return nil
	}

	tasks := make([]*model.MigrationTask, 0, len(candidates))
	for _, instance := range candidates {
		tasks = append(tasks, &model.MigrationTask{
			RuleID:         rule.ID,
			TenantCode:     tenantCode,
			InstanceID:     instance.ID,
			CreatedDate:    instance.CreatedDate,
			SeriesUID:      instance.SeriesUID,
			SourceVolumeID: instance.VolumeID,
			TargetVolumeID: target.ID,
			DeleteSource:   rule.DeleteSource,
			Status:         model.TaskStatusPending,
		})
	}
	created, err := e.lifecycle.CreateMigrationTasks(ctx, tasks)
	if err != nil {
		return err
	}
	if created > 0 {
		tasksCreated.Add(float64(created), model.ActionMigrate)
		log.Infof("Lifecycle MIGRATE rule %d tenant %s: %d tasks queued", rule.ID, tenantCode, created)
	}
	return nil
}

func (e *Evaluator) evaluateCompress(ctx context.Context, tenantCode string, rule *model.LifecycleRule) error {
	cutoff := time.Now().AddDate(0, 0, -rule.ConditionDays)
	studies, err := e.studies.WithTenant(tenantCode).
		ListStudiesOlderThan(ctx, rule.ConditionKind, cutoff, e.cfg.GetEvaluationCap())
	if err != nil {
		return err
	}

	lifecycle := e.lifecycle.WithTenant(tenantCode)
	created := 0
	for _, study := range studies {
		open, err := lifecycle.HasOpenCompressionTask(ctx, study.ID, rule.CompressionType)
		if err != nil {
			return err
		}
		if open {
			continue
		}
		err = lifecycle.CreateCompressionTask(ctx, &model.CompressionTask{
			RuleID:          rule.ID,
			StudyFK:         study.ID,
			CompressionType: rule.CompressionType,
			TargetTsuid:     TargetTransferSyntax(rule.CompressionType),
			Status:          model.TaskStatusPending,
		})
		if err != nil {
			return err
		}
		created++
	}
	if created > 0 {
		tasksCreated.Add(float64(created), model.ActionCompress)
		log.Infof("Lifecycle COMPRESS rule %d tenant %s: %d tasks queued", rule.ID, tenantCode, created)
	}
	return nil
}

func (e *Evaluator) tierVolumeIDs(tier string) []int64 {
	var ids []int64
	for _, v := range e.manager.TierVolumes(tier) {
		ids = append(ids, v.ID)
	}
	return ids
}

// TargetTransferSyntax maps a compression type onto the transfer syntax the
// transcoder produces.
func TargetTransferSyntax(compressionType string) string {
	switch compressionType {
	case "JPEG2000_LOSSLESS":
		return "1.2.840.10008.1.2.4.90"
	case "JPEG2000":
		return "1.2.840.10008.1.2.4.91"
	case "JPEG_LS_LOSSLESS":
		return "1.2.840.10008.1.2.4.80"
	case "JPEG_LOSSLESS":
		return "1.2.840.10008.1.2.4.70"
	default:
		return "1.2.840.10008.1.2.4.90"
	}
}
