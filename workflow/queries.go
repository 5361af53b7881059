package workflow

import (
	"context"

	"bitbucket.org/mmdatafocus/billing_ledger/audit"
	"bitbucket.org/mmdatafocus/billing_ledger/calculation"
	"bitbucket.org/mmdatafocus/billing_ledger/models"
	"bitbucket.org/mmdatafocus/billing_ledger/snapshot"
	"bitbucket.org/mmdatafocus/billing_ledger/utils"
)

// PreviewTotals runs the engine over unsaved input with the tenant's settings. It goes
// through the same item conversion and config as CreateDraft and Finalize.
func (l *Ledger) PreviewTotals(ctx context.Context, tenantId string, input DraftInput) (calculation.Breakdown, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return calculation.Breakdown{}, err
	}
	tenant, err := l.tenants.GetTenant(ctx, tenantId)
	if err != nil {
		return calculation.Breakdown{}, err
	}
	inv := models.Invoice{DiscountValue: input.DiscountValue, DiscountType: input.DiscountType}
	for i, in := range input.Items {
		inv.Items = append(inv.Items, in.toModel(0, i+1))
	}
	return recalculate(&inv, tenant)
}

// PreviewInvoice recomputes a stored invoice without writing anything.
func (l *Ledger) PreviewInvoice(ctx context.Context, tenantId string, invoiceId int) (calculation.Breakdown, error) {
	tenant, err := l.tenants.GetTenant(ctx, tenantId)
	if err != nil {
		return calculation.Breakdown{}, err
	}
	inv, err := l.GetInvoice(ctx, tenantId, invoiceId)
	if err != nil {
		return calculation.Breakdown{}, err
	}
	return recalculate(inv, tenant)
}

func (l *Ledger) PreviewNextNumber(ctx context.Context, tenantId string) (string, error) {
	return l.numbering.PreviewNextNumber(scoped(ctx, tenantId), tenantId)
}

func (l *Ledger) ChangeActivePrefix(ctx context.Context, tenantId string, newPrefix string) (*models.InvoicePrefix, error) {
	actor, err := l.actors.ResolveActor(ctx)
	if err != nil {
		return nil, err
	}
	return l.numbering.ChangeActivePrefix(scoped(ctx, tenantId), tenantId, newPrefix, actor)
}

func (l *Ledger) PrefixHistory(ctx context.Context, tenantId string) ([]*models.InvoicePrefix, error) {
	return l.numbering.PrefixHistory(scoped(ctx, tenantId), tenantId)
}

// GetSnapshot returns the newest snapshot of an invoice.
func (l *Ledger) GetSnapshot(ctx context.Context, tenantId string, invoiceId int) (*snapshot.Record, error) {
	return l.snapshots.Latest(scoped(ctx, tenantId), tenantId, invoiceId)
}

func (l *Ledger) GetSnapshotById(ctx context.Context, tenantId string, snapshotId int) (*snapshot.Record, error) {
	return l.snapshots.Get(scoped(ctx, tenantId), tenantId, snapshotId)
}

func (l *Ledger) ListSnapshots(ctx context.Context, tenantId string, invoiceId int) ([]*snapshot.Record, error) {
	return l.snapshots.List(scoped(ctx, tenantId), tenantId, invoiceId)
}

func (l *Ledger) GetAuditTrail(ctx context.Context, tenantId string, invoiceId int) ([]*models.InvoiceAuditLog, error) {
	return l.audit.Trail(scoped(ctx, tenantId), tenantId, invoiceId)
}

// RecordPdfGenerated is called by the rendering collaborator after it produced a PDF from a snapshot.
func (l *Ledger) RecordPdfGenerated(ctx context.Context, tenantId string, invoiceId int, snapshotId int) error {
	actor, err := l.actors.ResolveActor(ctx)
	if err != nil {
		return err
	}
	record, err := l.snapshots.Get(scoped(ctx, tenantId), tenantId, snapshotId)
	if err != nil {
		return err
	}
	if record.InvoiceId != invoiceId {
		return utils.ErrorRecordNotFound
	}
	_, err = l.audit.Record(scoped(ctx, tenantId), tenantId, audit.Entry{
		InvoiceId:   invoiceId,
		Action:      models.AuditActionPdfGenerate,
		Actor:       actor,
		Description: "Generated PDF from snapshot",
		After:       map[string]interface{}{"snapshot_id": snapshotId, "payload_hash": record.PayloadHash},
	})
	return err
}
