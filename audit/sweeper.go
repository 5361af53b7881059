package audit

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/billing_ledger/config"
	"bitbucket.org/mmdatafocus/billing_ledger/models"
	"bitbucket.org/mmdatafocus/billing_ledger/utils"
	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	DefaultRetentionMonths = 24
	sweepLockKey           = "lock:invoice_audit_retention"
	sweepLockTTL           = 10 * time.Minute
)

// Sweeper deletes audit entries older than the retention window, across all tenants, in batches.
// With a lock client only one replica sweeps at a time; without one it assumes a single worker.
type Sweeper struct {
	db              *gorm.DB
	locker          *redislock.Client
	clock           models.Clock
	retentionMonths int
	batchSize       int
}

func NewSweeper(db *gorm.DB, locker *redislock.Client, clock models.Clock, retentionMonths int, batchSize int) *Sweeper {
	if clock == nil {
		clock = models.SystemClock{}
	}
	if retentionMonths <= 0 {
		retentionMonths = DefaultRetentionMonths
	}
	if batchSize <= 0 {
		batchSize = 500
	}
	return &Sweeper{db: db, locker: locker, clock: clock, retentionMonths: retentionMonths, batchSize: batchSize}
}

func (s *Sweeper) Cutoff() time.Time {
	return s.clock.Now().AddDate(0, -s.retentionMonths, 0)
}

// Sweep returns the number of deleted rows. It is idempotent; a run that finds another
// replica holding the lock deletes nothing and returns no error.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	logger := config.GetLogger()
	if s.locker != nil {
		lock, err := s.locker.Obtain(ctx, sweepLockKey, sweepLockTTL, nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			logger.WithFields(logrus.Fields{"module": "audit", "funcName": "Sweep"}).Info("retention sweep already running elsewhere")
			return 0, nil
		} else if err != nil {
			config.LogError(logger, "audit", "Sweep", "obtain sweep lock", nil, err)
			return 0, err
		}
		defer func() {
			_ = lock.Release(context.Background())
		}()
	}

	cutoff := s.Cutoff()
	ctx = utils.SetSkipTenantScopeInContext(ctx, true)
	db := s.db.WithContext(ctx)

	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		var ids []int
		err := db.Model(&models.InvoiceAuditLog{}).
			Where("created_at < ?", cutoff).
			Order("id ASC").
			Limit(s.batchSize).
			Pluck("id", &ids).Error
		if err != nil {
			config.LogError(logger, "audit", "Sweep", "select expired entries", cutoff, err)
			return total, err
		}
		if len(ids) == 0 {
			break
		}
		result := db.Where("id IN ?", ids).Delete(&models.InvoiceAuditLog{})
		if result.Error != nil {
			config.LogError(logger, "audit", "Sweep", "delete expired entries", len(ids), result.Error)
			return total, result.Error
		}
		total += result.RowsAffected
		if len(ids) < s.batchSize {
			break
		}
	}

	logger.WithFields(logrus.Fields{
		"module":   "audit",
		"funcName": "Sweep",
		"cutoff":   cutoff,
		"deleted":  total,
	}).Info("audit retention sweep finished")
	return total, nil
}
