package bridge

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// MaintenanceStore is the cleanup surface of the database.
type MaintenanceStore interface {
	CleanupOldRecords(ctx context.Context, retentionDays int) error
}

// Maintenance prunes aged correlation records on a fixed interval.
// Pending ledger rows are never touched; only terminal history ages out.
type Maintenance struct {
	store         MaintenanceStore
	retentionDays int
	interval      time.Duration
	logger        *logrus.Logger
}

func NewMaintenance(store MaintenanceStore, retentionDays int, interval time.Duration, logger *logrus.Logger) *Maintenance {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	return &Maintenance{
		store:         store,
		retentionDays: retentionDays,
		interval:      interval,
		logger:        logger,
	}
}

// Run blocks until ctx is cancelled, cleaning once per interval. The
// first cleanup happens one interval after start so a crash-looping
// process doesn't hammer the store.
func (m *Maintenance) Run(ctx context.Context) {
	if m.retentionDays <= 0 {
		m.logger.Info("Record retention disabled")
		return
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			if err := m.store.CleanupOldRecords(ctx, m.retentionDays); err != nil {
				m.logger.WithError(err).Error("Record cleanup failed")
				continue
			}
			m.logger.WithFields(logrus.Fields{
				"retention_days": m.retentionDays,
				"took":           time.Since(start),
			}).Debug("Cleaned up aged records")
		}
	}
}
