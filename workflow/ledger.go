// Package workflow is the invoice state machine: draft editing, finalization and the
// status changes after it. Every mutating operation loads the invoice under a row lock
// and runs the explicit guard in models before it writes anything.
package workflow

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/billing_ledger/audit"
	"bitbucket.org/mmdatafocus/billing_ledger/calculation"
	"bitbucket.org/mmdatafocus/billing_ledger/models"
	"bitbucket.org/mmdatafocus/billing_ledger/numbering"
	"bitbucket.org/mmdatafocus/billing_ledger/snapshot"
	"bitbucket.org/mmdatafocus/billing_ledger/utils"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const tracerName = "bitbucket.org/mmdatafocus/billing_ledger/workflow"

type Options struct {
	DB      *gorm.DB
	Tenants models.TenantDirectory
	Clients models.ClientDirectory
	Actors  models.ActorResolver
	Clock   models.Clock

	// SnapshotCache is optional.
	SnapshotCache    *redis.Client
	SnapshotCacheTTL time.Duration

	Retry           utils.RetryPolicy
	FinalizeTimeout time.Duration
}

type Ledger struct {
	db      *gorm.DB
	tenants models.TenantDirectory
	clients models.ClientDirectory
	actors  models.ActorResolver
	clock   models.Clock

	numbering *numbering.Service
	snapshots *snapshot.Store
	audit     *audit.Recorder

	finalizeTimeout time.Duration
	tracer          trace.Tracer
}

func NewLedger(opts Options) *Ledger {
	if opts.Clock == nil {
		opts.Clock = models.SystemClock{}
	}
	if opts.Actors == nil {
		opts.Actors = models.ContextActorResolver{}
	}
	if opts.Retry.Attempts == 0 {
		opts.Retry = utils.DefaultRetryPolicy()
	}
	return &Ledger{
		db:              opts.DB,
		tenants:         opts.Tenants,
		clients:         opts.Clients,
		actors:          opts.Actors,
		clock:           opts.Clock,
		numbering:       numbering.NewService(opts.DB, opts.Tenants, opts.Clock, opts.Retry),
		snapshots:       snapshot.NewStore(opts.DB, opts.SnapshotCache, opts.SnapshotCacheTTL),
		audit:           audit.NewRecorder(opts.DB, opts.Clock),
		finalizeTimeout: opts.FinalizeTimeout,
		tracer:          otel.Tracer(tracerName),
	}
}

// scoped puts the tenant on the context so the tenant scope plugin also filters every statement.
func scoped(ctx context.Context, tenantId string) context.Context {
	return utils.SetTenantIdInContext(ctx, tenantId)
}

// loadForUpdate locks the invoice row for the rest of the transaction.
func loadForUpdate(tx *gorm.DB, tenantId string, invoiceId int) (*models.Invoice, error) {
	var inv models.Invoice
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC, id ASC")
		}).
		Where("tenant_id = ? AND id = ?", tenantId, invoiceId).
		First(&inv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &inv, nil
}

// recalculate runs the engine over the invoice as it is now.
func recalculate(inv *models.Invoice, tenant *models.TenantProfile) (calculation.Breakdown, error) {
	return calculation.Calculate(inv.CalculationItems(), inv.CalculationConfig(tenant.Billing.TaxSettings))
}

// GetInvoice reads an invoice with its items. It takes no lock; the tenant filter comes from scoped.
func (l *Ledger) GetInvoice(ctx context.Context, tenantId string, invoiceId int) (*models.Invoice, error) {
	var inv models.Invoice
	err := l.db.WithContext(scoped(ctx, tenantId)).
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC, id ASC")
		}).
		Where("id = ?", invoiceId).
		First(&inv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &inv, nil
}
