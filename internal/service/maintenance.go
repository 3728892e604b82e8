package service

import (
	"context"
	"sync"
	"time"

	"mnemos/internal/logging"
	"mnemos/internal/write"
)

// MaintenanceConfig tunes the background workers.
type MaintenanceConfig struct {
	MigrateInterval  time.Duration // tier migration sweep
	PruneInterval    time.Duration // backup pruning
	AuditRetainDays  int           // audit file retention
	ArchiveFloor     float64       // profile archival weight floor
	ArchiveAfter     time.Duration // time without update before archival
	ArchiveUsers     func() []string
}

// Maintenance runs the background workers: tier migration, backup pruning,
// audit rotation, and conversational session expiry.
type Maintenance struct {
	svc     *Service
	backups *write.BackupStore
	cfg     MaintenanceConfig

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewMaintenance wires the workers; call Start to run them.
func NewMaintenance(svc *Service, backups *write.BackupStore, cfg MaintenanceConfig) *Maintenance {
	if cfg.MigrateInterval <= 0 {
		cfg.MigrateInterval = time.Hour
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = time.Hour
	}
	if cfg.AuditRetainDays <= 0 {
		cfg.AuditRetainDays = 90
	}
	return &Maintenance{svc: svc, backups: backups, cfg: cfg, stop: make(chan struct{})}
}

// Start launches the workers.
func (m *Maintenance) Start() {
	m.wg.Add(1)
	go m.loop()
	logging.Maintenance("Maintenance workers started (migrate=%v prune=%v)",
		m.cfg.MigrateInterval, m.cfg.PruneInterval)
}

func (m *Maintenance) loop() {
	defer m.wg.Done()

	migrate := time.NewTicker(m.cfg.MigrateInterval)
	prune := time.NewTicker(m.cfg.PruneInterval)
	sessions := time.NewTicker(time.Minute)
	defer migrate.Stop()
	defer prune.Stop()
	defer sessions.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-migrate.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			if _, err := m.svc.tiered.Migrate(ctx); err != nil {
				logging.Get(logging.CategoryMaintenance).Warn("Tier migration failed: %v", err)
			}
			m.archiveProfiles(ctx)
			cancel()
		case <-prune.C:
			if _, err := m.backups.Prune(); err != nil {
				logging.Get(logging.CategoryMaintenance).Warn("Backup pruning failed: %v", err)
			}
			if _, err := m.svc.auditLog.Rotate(m.cfg.AuditRetainDays); err != nil {
				logging.Get(logging.CategoryMaintenance).Warn("Audit rotation failed: %v", err)
			}
		case <-sessions.C:
			m.svc.conv.ExpireSessions()
		}
	}
}

func (m *Maintenance) archiveProfiles(ctx context.Context) {
	if m.cfg.ArchiveFloor <= 0 || m.cfg.ArchiveUsers == nil {
		return
	}
	for _, userID := range m.cfg.ArchiveUsers() {
		if _, err := m.svc.profiles.Archive(ctx, userID, m.cfg.ArchiveFloor, m.cfg.ArchiveAfter); err != nil {
			logging.Get(logging.CategoryMaintenance).Warn("Profile archival failed for %s: %v", userID, err)
		}
	}
}

// Stop halts the workers and waits for them to exit.
func (m *Maintenance) Stop() {
	close(m.stop)
	m.wg.Wait()
}
