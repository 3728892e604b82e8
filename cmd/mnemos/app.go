package main

import (
	"context"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"mnemos/internal/attention"
	"mnemos/internal/audit"
	"mnemos/internal/config"
	"mnemos/internal/embedding"
	"mnemos/internal/enrich"
	"mnemos/internal/index"
	"mnemos/internal/permission"
	"mnemos/internal/profile"
	"mnemos/internal/record"
	"mnemos/internal/render"
	"mnemos/internal/service"
	"mnemos/internal/store"
	"mnemos/internal/write"
)

// App holds the wired component graph.
type App struct {
	Service       *service.Service
	Tiered        *store.Tiered
	Backups       *write.BackupStore
	Maintenance   *service.Maintenance
	HotEnabled    bool
	EmbeddingName string

	closers []func() error
}

// buildApp wires every component from config, leaves first.
func buildApp(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{}

	engine, err := embedding.NewEngine(embedding.Config{
		Provider:        cfg.Embedding.Provider,
		LocalDimensions: cfg.Embedding.LocalDimensions,
		OllamaEndpoint:  cfg.Embedding.OllamaEndpoint,
		OllamaModel:     cfg.Embedding.OllamaModel,
		GenAIAPIKey:     cfg.Embedding.GenAIAPIKey,
		GenAIModel:      cfg.Embedding.GenAIModel,
	})
	if err != nil {
		return nil, err
	}
	guarded := embedding.NewGuardedEngine(engine, cfg.Embedding.MaxInflight)
	app.EmbeddingName = engine.Name()

	warm, err := store.NewWarmTier(cfg.Storage.WarmPath)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, warm.Close)

	cold, err := store.NewColdTier(cfg.Storage.ColdPath)
	if err != nil {
		return nil, err
	}

	// The hot tier is optional at startup: warm absorbs hot-routed records
	// when Redis is unreachable.
	var hot *store.HotTier
	hot, err = store.NewHotTier(ctx, cfg.Storage.RedisAddr, cfg.Storage.RedisPassword,
		cfg.Storage.RedisDB, cfg.HotTTL(), cfg.Storage.HotCapacity)
	if err != nil {
		logger.Warn("hot tier unavailable, continuing without", zap.Error(err))
		hot = nil
	}
	app.HotEnabled = hot != nil

	tiered := store.NewTiered(hot, warm, cold, store.Config{
		Policy: recordPolicy(cfg),
		HotTTL: cfg.HotTTL(), HotCapacity: cfg.Storage.HotCapacity,
		CacheTTL: cfg.CacheTTL(), CacheCapacity: cfg.Storage.CacheCapacity,
	})
	app.Tiered = tiered

	indexes, err := index.NewManager(warm, tiered, guarded, index.Config{
		EnableVector:   cfg.Index.EnableVector,
		EnableFulltext: cfg.Index.EnableFulltext,
		RetryMax:       cfg.Index.RetryMax,
		RetryBase:      time.Duration(cfg.Index.RetryBaseMs) * time.Millisecond,
		SourcePref:     cfg.Index.SourcePrefault,
	})
	if err != nil {
		return nil, err
	}

	pipeline := enrich.New(guarded, nil)
	scorer := attention.NewScorer()

	profileStore, err := profile.NewStore(filepath.Join(cfg.DataDir, "profile.db"))
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, profileStore.Close)
	profiles := profile.NewEngine(profileStore, cfg.ProfileTTL(), cfg.Profile.MatchThreshold)

	renderer := render.New(profiles, guarded)

	checker := permission.NewChecker(permission.Level(cfg.Permission.DefaultLevel),
		cfg.Permission.DailyOpDefault, cfg.Write.BatchSizeDefault)

	auditLog, err := audit.NewLog(cfg.Permission.AuditPath)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, auditLog.Close)

	backups, err := write.NewBackupStore(filepath.Join(cfg.DataDir, "backups"),
		timeHours(cfg.Write.BackupRetentionHours))
	if err != nil {
		return nil, err
	}
	app.Backups = backups

	executor := write.NewExecutor(tiered, indexes, checker, auditLog, backups, nil,
		cfg.Write.BatchSizeDefault, cfg.Write.BatchSizeHardCap)
	conv := write.NewConversational(executor, cfg.SessionTTL())

	svc := service.New(tiered, indexes, pipeline, scorer, profiles, renderer,
		executor, conv, checker, auditLog, service.Limits{
			MaxBatchRecords:  cfg.Limits.MaxBatchRecords,
			MaxInflightBatch: cfg.Limits.MaxInflightBatch,
			UserQueueDepth:   cfg.Limits.UserQueueDepth,
			Deadline:         cfg.Deadline(),
		})
	executor.SetReprocessor(svc.Reprocess)
	app.Service = svc

	app.Maintenance = service.NewMaintenance(svc, backups, service.MaintenanceConfig{
		ArchiveFloor: cfg.Profile.ArchiveFloor,
		ArchiveAfter: timeHours(cfg.Profile.ArchiveAfterDays * 24),
	})

	app.closers = append(app.closers, tiered.Close)
	return app, nil
}

func recordPolicy(cfg *config.Config) record.TierPolicy {
	return record.TierPolicy{
		MinInfluenceHot:  cfg.Storage.MinInfluenceHot,
		MinInfluenceWarm: cfg.Storage.MinInfluenceWarm,
		RecencyHotDays:   cfg.Storage.RecencyHotDays,
		RecencyWarmDays:  cfg.Storage.RecencyWarmDays,
	}
}

func timeHours(h int) time.Duration { return time.Duration(h) * time.Hour }

// Close releases components in reverse wiring order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Debug("close failed", zap.Error(err))
		}
	}
}
