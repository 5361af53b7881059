package workflow

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/billing_ledger/appctx"
	"bitbucket.org/mmdatafocus/billing_ledger/audit"
	"bitbucket.org/mmdatafocus/billing_ledger/calculation"
	"bitbucket.org/mmdatafocus/billing_ledger/config"
	"bitbucket.org/mmdatafocus/billing_ledger/models"
	"bitbucket.org/mmdatafocus/billing_ledger/snapshot"
	"bitbucket.org/mmdatafocus/billing_ledger/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"
)

type FinalizeResult struct {
	InvoiceId     int                `json:"invoice_id"`
	InvoiceNumber string             `json:"invoice_number"`
	PrefixUsed    string             `json:"prefix_used"`
	SerialNumber  int64              `json:"serial_number"`
	Totals        calculation.Totals `json:"totals"`
	SnapshotId    int                `json:"snapshot_id"`
	FinalizedAt   time.Time          `json:"finalized_at"`
}

// Finalize freezes a draft: it recomputes totals, reserves the next serial under the active
// prefix, stores the snapshot, the audit row and the outbox messages, all in one transaction.
// Any failure leaves the draft and the serial sequence exactly as they were.
func (l *Ledger) Finalize(ctx context.Context, tenantId string, invoiceId int) (result *FinalizeResult, err error) {
	logger := config.GetLogger()
	ctx, span := l.tracer.Start(ctx, "ledger.Finalize")
	span.SetAttributes(attribute.String("tenant_id", tenantId), attribute.Int("invoice_id", invoiceId))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else if result != nil {
			span.SetAttributes(attribute.String("invoice_number", result.InvoiceNumber))
		}
		span.End()
	}()

	if l.finalizeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.finalizeTimeout)
		defer cancel()
	}

	actor, err := l.actors.ResolveActor(ctx)
	if err != nil {
		return nil, err
	}
	tenant, err := l.tenants.GetTenant(ctx, tenantId)
	if err != nil {
		config.LogError(logger, "finalize.go", "Finalize", "GetTenant", tenantId, err)
		return nil, err
	}
	ctx = scoped(ctx, tenantId)
	correlationId := appctx.GetRequestInfo(ctx).CorrelationId

	var lastPrefix string
	err = l.numbering.RunWithRetry(ctx, tenantId, func(tx *gorm.DB) error {
		inv, err := loadForUpdate(tx, tenantId, invoiceId)
		if err != nil {
			return err
		}
		if err := models.CheckFinalizeTransition(inv); err != nil {
			return err
		}
		if inv.ClientId == nil || *inv.ClientId == 0 {
			return utils.ErrMissingClient
		}
		if len(inv.Items) == 0 {
			return utils.ErrMissingItems
		}
		client, err := l.clients.GetClient(ctx, tenantId, *inv.ClientId)
		if err != nil {
			config.LogError(logger, "finalize.go", "Finalize", "GetClient", *inv.ClientId, err)
			return err
		}

		breakdown, err := recalculate(inv, tenant)
		if err != nil {
			return err
		}

		reservation, err := l.numbering.ReserveTx(tx, tenant, inv.IssueDate)
		if err != nil {
			return err
		}
		lastPrefix = reservation.PrefixUsed

		now := l.clock.Now()
		before := *inv
		inv.ApplyTotals(breakdown.Totals)
		inv.Status = models.InvoiceStatusFinalized
		inv.InvoiceNumber = &reservation.Number
		inv.PrefixUsed = &reservation.PrefixUsed
		inv.SerialNumber = &reservation.Serial
		inv.PrefixId = &reservation.PrefixId
		inv.FinalizedAt = &now

		columns := models.TotalsColumns(breakdown.Totals)
		columns["status"] = models.InvoiceStatusFinalized
		columns["invoice_number"] = reservation.Number
		columns["prefix_used"] = reservation.PrefixUsed
		columns["serial_number"] = reservation.Serial
		columns["prefix_id"] = reservation.PrefixId
		columns["finalized_at"] = now
		res := tx.Model(&models.Invoice{}).
			Where("tenant_id = ? AND id = ? AND status = ?", tenantId, invoiceId, models.InvoiceStatusDraft).
			Updates(columns)
		if res.Error != nil {
			config.LogError(logger, "finalize.go", "Finalize", "UpdateInvoice", invoiceId, res.Error)
			return res.Error
		}
		if res.RowsAffected != 1 {
			return &utils.TransitionError{From: string(before.Status), To: string(models.InvoiceStatusFinalized), Reason: "invoice changed concurrently"}
		}

		payload, err := snapshot.Build(snapshot.BuildInput{
			Invoice:       inv,
			Tenant:        tenant,
			Client:        client,
			Breakdown:     breakdown,
			Status:        models.InvoiceStatusFinalized,
			Actor:         actor,
			At:            now,
			CorrelationId: correlationId,
		})
		if err != nil {
			return err
		}
		snap, err := l.snapshots.CreateTx(tx, tenantId, invoiceId, payload)
		if err != nil {
			config.LogError(logger, "finalize.go", "Finalize", "CreateSnapshot", invoiceId, err)
			return err
		}

		if _, err := l.audit.RecordTx(tx, tenantId, audit.Entry{
			InvoiceId:   invoiceId,
			Action:      models.AuditActionFinalize,
			Actor:       actor,
			Description: "Finalized invoice " + reservation.Number,
			Before:      auditState(&before),
			After:       auditState(inv),
		}); err != nil {
			return err
		}

		if err := enqueueEventTx(tx, newInvoiceEvent(models.InvoiceEventFinalized, inv, before.Status, snap.ID, now)); err != nil {
			return err
		}
		if err := enqueueArchiveTx(tx, snap); err != nil {
			return err
		}

		result = &FinalizeResult{
			InvoiceId:     invoiceId,
			InvoiceNumber: reservation.Number,
			PrefixUsed:    reservation.PrefixUsed,
			SerialNumber:  reservation.Serial,
			Totals:        breakdown.Totals,
			SnapshotId:    snap.ID,
			FinalizedAt:   now,
		}
		return nil
	})
	if err != nil {
		var allocErr *utils.SerialAllocationError
		if errors.As(err, &allocErr) {
			allocErr.Prefix = lastPrefix
			config.LogError(logger, "finalize.go", "Finalize", "RunWithRetry", invoiceId, err)
		}
		return nil, err
	}

	config.LogInfo(logger, "finalize.go", "Finalize", "invoice finalized", logrus.Fields{
		"tenant_id":      tenantId,
		"invoice_id":     invoiceId,
		"invoice_number": result.InvoiceNumber,
	})
	return result, nil
}

// auditState is the subset of an invoice recorded as before/after on audit rows.
func auditState(inv *models.Invoice) map[string]interface{} {
	return map[string]interface{}{
		"status":         inv.Status,
		"client_id":      inv.ClientId,
		"issue_date":     inv.IssueDate,
		"due_date":       inv.DueDate,
		"currency":       inv.Currency,
		"discount_value": inv.DiscountValue,
		"discount_type":  inv.DiscountType,
		"invoice_number": inv.InvoiceNumber,
		"serial_number":  inv.SerialNumber,
		"subtotal":       inv.Subtotal,
		"tax_amount":     inv.TaxAmount,
		"fee":            inv.Fee,
		"grand_total":    inv.GrandTotal,
		"items":          len(inv.Items),
	}
}
