// Package numbering owns invoice prefixes and serial allocation.
//
// A full invoice number is produced in two phases: the %TOKEN% date placeholders of the
// prefix are resolved against the invoice's issue date, then the tenant's {TOKEN} format
// template is applied. The resolved prefix is what serials are counted under.
package numbering

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/billing_ledger/config"
	"bitbucket.org/mmdatafocus/billing_ledger/models"
	"bitbucket.org/mmdatafocus/billing_ledger/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	lockShare  = "SHARE"
	lockUpdate = "UPDATE"
)

type Service struct {
	db      *gorm.DB
	tenants models.TenantDirectory
	clock   models.Clock
	retry   utils.RetryPolicy
}

func NewService(db *gorm.DB, tenants models.TenantDirectory, clock models.Clock, retry utils.RetryPolicy) *Service {
	if clock == nil {
		clock = models.SystemClock{}
	}
	return &Service{db: db, tenants: tenants, clock: clock, retry: retry}
}

// Reservation is the number allocated to one invoice inside a finalize transaction.
type Reservation struct {
	PrefixId   int
	PrefixUsed string
	Serial     int64
	Number     string
}

// GetActivePrefix returns the tenant's active prefix, creating it from the tenant default if there is none.
func (s *Service) GetActivePrefix(ctx context.Context, tenantId string) (*models.InvoicePrefix, error) {
	tenant, err := s.tenants.GetTenant(ctx, tenantId)
	if err != nil {
		return nil, err
	}
	var prefix *models.InvoicePrefix
	_, err = utils.RetryOnContention(ctx, s.retry, func(int) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var txErr error
			prefix, txErr = ActivePrefixTx(tx, tenantId, defaultPrefixFor(tenant.Billing), s.clock.Now(), lockShare)
			return txErr
		})
	})
	if err != nil {
		return nil, err
	}
	return prefix, nil
}

// ActivePrefixTx reads the active prefix row under the given lock strength and creates it when missing.
func ActivePrefixTx(tx *gorm.DB, tenantId string, defaultPrefix string, now time.Time, strength string) (*models.InvoicePrefix, error) {
	var rows []models.InvoicePrefix
	err := tx.Clauses(clause.Locking{Strength: strength}).
		Where("tenant_id = ? AND ended_at IS NULL", tenantId).
		Order("id DESC").
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) > 0 {
		return &rows[0], nil
	}
	// A concurrent first use inserts too; the loser hits idx_prefix_one_active and retries.
	prefix := models.NewActivePrefix(tenantId, defaultPrefix, now, models.SystemActor.UserId)
	if err := tx.Create(&prefix).Error; err != nil {
		return nil, err
	}
	return &prefix, nil
}

// ReserveNextSerial locks the invoices numbered under (tenant, prefixUsed) and returns max+1.
// It must run inside the transaction that stores the number; the lock is what serializes
// concurrent finalize calls for the same prefix.
func ReserveNextSerial(tx *gorm.DB, tenantId string, prefixUsed string) (int64, error) {
	var last []models.Invoice
	err := tx.Clauses(clause.Locking{Strength: lockUpdate}).
		Select("id", "serial_number").
		Where("tenant_id = ? AND prefix_used = ? AND serial_number IS NOT NULL", tenantId, prefixUsed).
		Order("serial_number DESC").
		Limit(1).
		Find(&last).Error
	if err != nil {
		return 0, err
	}
	if len(last) == 0 || last[0].SerialNumber == nil {
		return 1, nil
	}
	return *last[0].SerialNumber + 1, nil
}

// ReserveTx allocates the next number for an invoice issued on issueDate.
func (s *Service) ReserveTx(tx *gorm.DB, tenant *models.TenantProfile, issueDate time.Time) (*Reservation, error) {
	prefix, err := ActivePrefixTx(tx, tenant.TenantId, defaultPrefixFor(tenant.Billing), s.clock.Now(), lockShare)
	if err != nil {
		return nil, err
	}
	prefixUsed := ResolvePrefix(prefix.Prefix, issueDate)
	serial, err := ReserveNextSerial(tx, tenant.TenantId, prefixUsed)
	if err != nil {
		return nil, err
	}
	return &Reservation{
		PrefixId:   prefix.ID,
		PrefixUsed: prefixUsed,
		Serial:     serial,
		Number:     applyFormat(tenant.Billing, prefixUsed, serial, issueDate),
	}, nil
}

// RunWithRetry runs fn in a transaction, retrying the whole transaction on lock contention.
// Exhausted retries come back as *utils.SerialAllocationError; other errors pass through unchanged.
func (s *Service) RunWithRetry(ctx context.Context, tenantId string, fn func(tx *gorm.DB) error) error {
	attempts, err := utils.RetryOnContention(ctx, s.retry, func(attempt int) error {
		if attempt > 1 {
			config.GetLogger().WithFields(logrus.Fields{
				"module":    "numbering",
				"funcName":  "RunWithRetry",
				"tenant_id": tenantId,
				"attempt":   attempt,
			}).Warn("retrying serial allocation after lock contention")
		}
		return s.db.WithContext(ctx).Transaction(fn)
	})
	if err != nil && utils.IsContentionError(err) {
		return &utils.SerialAllocationError{TenantId: tenantId, Attempts: attempts, Err: err}
	}
	return err
}

// PreviewNextNumber renders the number the next finalize would get today. It takes no locks
// and creates nothing, so the result is a hint, not a reservation.
func (s *Service) PreviewNextNumber(ctx context.Context, tenantId string) (string, error) {
	tenant, err := s.tenants.GetTenant(ctx, tenantId)
	if err != nil {
		return "", err
	}
	db := s.db.WithContext(ctx)

	prefixTemplate := defaultPrefixFor(tenant.Billing)
	var active []models.InvoicePrefix
	if err := db.Where("tenant_id = ? AND ended_at IS NULL", tenantId).Order("id DESC").Limit(1).Find(&active).Error; err != nil {
		return "", err
	}
	if len(active) > 0 {
		prefixTemplate = active[0].Prefix
	}

	now := s.clock.Now()
	prefixUsed := ResolvePrefix(prefixTemplate, now)
	var maxSerial sql.NullInt64
	err = db.Model(&models.Invoice{}).
		Where("tenant_id = ? AND prefix_used = ?", tenantId, prefixUsed).
		Select("MAX(serial_number)").
		Row().Scan(&maxSerial)
	if err != nil {
		return "", err
	}
	next := maxSerial.Int64 + 1
	return applyFormat(tenant.Billing, prefixUsed, next, now), nil
}

// ChangeActivePrefix ends the current prefix and starts newPrefix in one transaction.
// Invoices already numbered keep their prefix_used.
func (s *Service) ChangeActivePrefix(ctx context.Context, tenantId string, newPrefix string, actor models.Actor) (*models.InvoicePrefix, error) {
	if err := ValidatePrefix(newPrefix); err != nil {
		return nil, err
	}
	now := s.clock.Now()
	var created *models.InvoicePrefix
	_, err := utils.RetryOnContention(ctx, s.retry, func(int) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var current []models.InvoicePrefix
			err := tx.Clauses(clause.Locking{Strength: lockUpdate}).
				Where("tenant_id = ? AND ended_at IS NULL", tenantId).
				Find(&current).Error
			if err != nil {
				return err
			}
			if len(current) == 1 && current[0].Prefix == newPrefix {
				created = &current[0]
				return nil
			}
			if len(current) > 0 {
				err = tx.Model(&models.InvoicePrefix{}).
					Where("tenant_id = ? AND ended_at IS NULL", tenantId).
					Updates(models.EndPrefixColumns(now)).Error
				if err != nil {
					return err
				}
			}
			prefix := models.NewActivePrefix(tenantId, newPrefix, now, actor.UserId)
			if err := tx.Create(&prefix).Error; err != nil {
				return err
			}
			var active int64
			if err := tx.Model(&models.InvoicePrefix{}).Where("tenant_id = ? AND ended_at IS NULL", tenantId).Count(&active).Error; err != nil {
				return err
			}
			if active != 1 {
				return fmt.Errorf("tenant %s has %d active prefixes", tenantId, active)
			}
			created = &prefix
			return nil
		})
	})
	if err != nil {
		config.LogError(config.GetLogger(), "numbering", "ChangeActivePrefix", tenantId, newPrefix, err)
		return nil, err
	}
	return created, nil
}

// PrefixHistory lists every prefix version of a tenant, newest first.
func (s *Service) PrefixHistory(ctx context.Context, tenantId string) ([]*models.InvoicePrefix, error) {
	var prefixes []*models.InvoicePrefix
	err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantId).Order("started_at DESC, id DESC").Find(&prefixes).Error
	if err != nil {
		return nil, err
	}
	return prefixes, nil
}
