package workflow

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/billing_ledger/appctx"
	"bitbucket.org/mmdatafocus/billing_ledger/audit"
	"bitbucket.org/mmdatafocus/billing_ledger/config"
	"bitbucket.org/mmdatafocus/billing_ledger/models"
	"bitbucket.org/mmdatafocus/billing_ledger/snapshot"
	"bitbucket.org/mmdatafocus/billing_ledger/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type StatusOptions struct {
	// Snapshot appends a snapshot capturing the new status. Ignored for invoices that were never finalized.
	Snapshot bool
}

type StatusChange struct {
	InvoiceId  int                  `json:"invoice_id"`
	From       models.InvoiceStatus `json:"from"`
	To         models.InvoiceStatus `json:"to"`
	SnapshotId int                  `json:"snapshot_id,omitempty"`
	ChangedAt  time.Time            `json:"changed_at"`
}

// ChangeStatus moves an invoice along the status graph. Finalized content is never touched:
// only the status column changes, and an optional snapshot is derived from the latest one.
func (l *Ledger) ChangeStatus(ctx context.Context, tenantId string, invoiceId int, to models.InvoiceStatus, opts StatusOptions) (*StatusChange, error) {
	actor, err := l.actors.ResolveActor(ctx)
	if err != nil {
		return nil, err
	}
	ctx = scoped(ctx, tenantId)

	var change *StatusChange
	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inv, err := loadForUpdate(tx, tenantId, invoiceId)
		if err != nil {
			return err
		}
		if err := models.GuardInvoiceWrite(inv, []string{"status"}, to); err != nil {
			return err
		}
		from := inv.Status
		now := l.clock.Now()

		res := tx.Model(&models.Invoice{}).
			Where("tenant_id = ? AND id = ? AND status = ?", tenantId, invoiceId, from).
			Update("status", to)
		if res.Error != nil {
			config.LogError(config.GetLogger(), "status.go", "ChangeStatus", "UpdateStatus", invoiceId, res.Error)
			return res.Error
		}
		if res.RowsAffected != 1 {
			return &utils.TransitionError{From: string(from), To: string(to), Reason: "invoice changed concurrently"}
		}
		inv.Status = to
		change = &StatusChange{InvoiceId: invoiceId, From: from, To: to, ChangedAt: now}

		if opts.Snapshot && from != models.InvoiceStatusDraft {
			snap, err := l.deriveSnapshotTx(tx, tenantId, invoiceId, to, actor, now)
			if err != nil {
				return err
			}
			change.SnapshotId = snap.ID
		}

		if _, err := l.audit.RecordTx(tx, tenantId, audit.Entry{
			InvoiceId:   invoiceId,
			Action:      models.AuditActionStatusChange,
			Actor:       actor,
			Description: "Status changed from " + string(from) + " to " + string(to),
			Before:      map[string]interface{}{"status": from},
			After:       map[string]interface{}{"status": to, "snapshot_id": change.SnapshotId},
		}); err != nil {
			return err
		}
		return enqueueEventTx(tx, newInvoiceEvent(models.InvoiceEventStatusChanged, inv, from, change.SnapshotId, now))
	})
	if err != nil {
		return nil, err
	}
	return change, nil
}

// ConfirmPayment marks an invoice paid. The paid status is committed first; the snapshot that
// records it is secondary and a failure there is logged, not returned.
func (l *Ledger) ConfirmPayment(ctx context.Context, tenantId string, invoiceId int) (*StatusChange, error) {
	change, err := l.ChangeStatus(ctx, tenantId, invoiceId, models.InvoiceStatusPaid, StatusOptions{})
	if err != nil {
		return nil, err
	}
	actor, err := l.actors.ResolveActor(ctx)
	if err != nil {
		actor = models.SystemActor
	}
	err = l.db.WithContext(scoped(ctx, tenantId)).Transaction(func(tx *gorm.DB) error {
		snap, err := l.deriveSnapshotTx(tx, tenantId, invoiceId, models.InvoiceStatusPaid, actor, l.clock.Now())
		if err != nil {
			return err
		}
		change.SnapshotId = snap.ID
		return nil
	})
	if err != nil {
		change.SnapshotId = 0
		config.GetLogger().WithFields(logrus.Fields{
			"module":     "status.go",
			"funcName":   "ConfirmPayment",
			"tenant_id":  tenantId,
			"invoice_id": invoiceId,
		}).Warn("paid snapshot not created: " + err.Error())
	}
	return change, nil
}

// deriveSnapshotTx copies the latest snapshot with only the status and metadata replaced,
// so the financial content stays exactly what was frozen at finalize.
func (l *Ledger) deriveSnapshotTx(tx *gorm.DB, tenantId string, invoiceId int, status models.InvoiceStatus, actor models.Actor, at time.Time) (*models.InvoiceSnapshot, error) {
	latest, err := l.snapshots.LatestTx(tx, tenantId, invoiceId)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, &utils.TransitionError{From: string(status), To: string(status), Reason: "invoice has no finalized snapshot"}
		}
		return nil, err
	}
	payload := latest.Data
	payload.Invoice.Status = status
	payload.Metadata = snapshot.Metadata{
		GeneratedAt:    at.UTC(),
		SchemaVersion:  snapshot.SchemaVersion,
		CapturedStatus: status,
		ActorId:        actor.UserId,
		ActorName:      actor.UserName,
	}
	if tx.Statement != nil && tx.Statement.Context != nil {
		payload.Metadata.CorrelationId = appctx.GetRequestInfo(tx.Statement.Context).CorrelationId
	}
	snap, err := l.snapshots.CreateTx(tx, tenantId, invoiceId, &payload)
	if err != nil {
		return nil, err
	}
	if err := enqueueArchiveTx(tx, snap); err != nil {
		return nil, err
	}
	return snap, nil
}
