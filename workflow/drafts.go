package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"bitbucket.org/mmdatafocus/billing_ledger/audit"
	"bitbucket.org/mmdatafocus/billing_ledger/calculation"
	"bitbucket.org/mmdatafocus/billing_ledger/config"
	"bitbucket.org/mmdatafocus/billing_ledger/models"
	"bitbucket.org/mmdatafocus/billing_ledger/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type ItemInput struct {
	Description  string           `json:"description" validate:"required,max=500"`
	Quantity     decimal.Decimal  `json:"quantity"`
	UnitPrice    decimal.Decimal  `json:"unit_price"`
	TaxRate      *decimal.Decimal `json:"tax_rate"`
	TaxInclusive bool             `json:"tax_inclusive"`
}

type DraftInput struct {
	ClientId      *int                     `json:"client_id"`
	IssueDate     time.Time                `json:"issue_date"`
	DueDate       *time.Time               `json:"due_date"`
	Currency      string                   `json:"currency" validate:"omitempty,len=3"`
	Notes         string                   `json:"notes"`
	DiscountValue decimal.Decimal          `json:"discount_value"`
	DiscountType  calculation.DiscountType `json:"discount_type" validate:"omitempty,oneof=fixed percent"`
	ControlNumber string                   `json:"control_number" validate:"max=100"`
	QrCode        string                   `json:"qr_code"`
	Items         []ItemInput              `json:"items" validate:"dive"`
}

// DraftPatch carries only the fields the caller wants to change.
type DraftPatch struct {
	ClientId      *int                      `json:"client_id,omitempty"`
	IssueDate     *time.Time                `json:"issue_date,omitempty"`
	DueDate       *time.Time                `json:"due_date,omitempty"`
	Currency      *string                   `json:"currency,omitempty"`
	Notes         *string                   `json:"notes,omitempty"`
	DiscountValue *decimal.Decimal          `json:"discount_value,omitempty"`
	DiscountType  *calculation.DiscountType `json:"discount_type,omitempty"`
	ControlNumber *string                   `json:"control_number,omitempty"`
	QrCode        *string                   `json:"qr_code,omitempty"`
}

func (in ItemInput) toModel(invoiceId int, position int) models.InvoiceItem {
	item := models.InvoiceItem{
		InvoiceId:    invoiceId,
		Position:     position,
		Description:  in.Description,
		Quantity:     in.Quantity,
		UnitPrice:    in.UnitPrice,
		TaxInclusive: in.TaxInclusive,
	}
	if in.TaxRate != nil {
		item.TaxRate = decimal.NewNullDecimal(*in.TaxRate)
	}
	return item
}

// CreateDraft stores a new draft with engine-computed totals. Drafts have no number.
func (l *Ledger) CreateDraft(ctx context.Context, tenantId string, input DraftInput) (*models.Invoice, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	actor, err := l.actors.ResolveActor(ctx)
	if err != nil {
		return nil, err
	}
	tenant, err := l.tenants.GetTenant(ctx, tenantId)
	if err != nil {
		return nil, err
	}
	if input.IssueDate.IsZero() {
		input.IssueDate = l.clock.Now()
	}
	if input.Currency == "" {
		input.Currency = tenant.Billing.Currency
	}

	inv := models.Invoice{
		TenantId:      tenantId,
		ClientId:      input.ClientId,
		Status:        models.InvoiceStatusDraft,
		IssueDate:     input.IssueDate.UTC(),
		DueDate:       input.DueDate,
		Currency:      input.Currency,
		Notes:         input.Notes,
		DiscountValue: input.DiscountValue,
		DiscountType:  input.DiscountType,
		ControlNumber: input.ControlNumber,
		QrCode:        input.QrCode,
	}
	for i, in := range input.Items {
		inv.Items = append(inv.Items, in.toModel(0, i+1))
	}
	breakdown, err := recalculate(&inv, tenant)
	if err != nil {
		return nil, err
	}
	inv.ApplyTotals(breakdown.Totals)

	ctx = scoped(ctx, tenantId)
	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&inv).Error; err != nil {
			config.LogError(config.GetLogger(), "drafts.go", "CreateDraft", "CreateInvoice", tenantId, err)
			return err
		}
		_, err := l.audit.RecordTx(tx, tenantId, audit.Entry{
			InvoiceId:   inv.ID,
			Action:      models.AuditActionCreate,
			Actor:       actor,
			Description: "Created draft invoice",
			After:       auditState(&inv),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// UpdateDraft applies the non-nil fields of patch through UpdateFields.
func (l *Ledger) UpdateDraft(ctx context.Context, tenantId string, invoiceId int, patch DraftPatch) (*models.Invoice, error) {
	b, err := json.Marshal(patch)
	if err != nil {
		return nil, err
	}
	fields := map[string]interface{}{}
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return l.GetInvoice(ctx, tenantId, invoiceId)
	}
	return l.UpdateFields(ctx, tenantId, invoiceId, fields)
}

// UpdateFields is the generic patch path, keyed by invoice json field names. Every write is
// checked by models.GuardInvoiceWrite before anything is decoded. A lone status entry is
// handed to ChangeStatus.
func (l *Ledger) UpdateFields(ctx context.Context, tenantId string, invoiceId int, fields map[string]interface{}) (*models.Invoice, error) {
	if len(fields) == 0 {
		return nil, utils.NewValidationError("", "nothing to update")
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var newStatus models.InvoiceStatus
	if raw, ok := fields["status"]; ok {
		s, _ := raw.(string)
		status, err := models.ParseInvoiceStatus(s)
		if err != nil {
			return nil, utils.NewValidationError("status", "is not a known invoice status")
		}
		newStatus = status
		if len(fields) == 1 {
			if _, err := l.ChangeStatus(ctx, tenantId, invoiceId, newStatus, StatusOptions{}); err != nil {
				return nil, err
			}
			return l.GetInvoice(ctx, tenantId, invoiceId)
		}
	}

	actor, err := l.actors.ResolveActor(ctx)
	if err != nil {
		return nil, err
	}
	tenant, err := l.tenants.GetTenant(ctx, tenantId)
	if err != nil {
		return nil, err
	}

	ctx = scoped(ctx, tenantId)
	var updated models.Invoice
	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inv, err := loadForUpdate(tx, tenantId, invoiceId)
		if err != nil {
			return err
		}
		if err := models.GuardInvoiceWrite(inv, names, newStatus); err != nil {
			return err
		}
		if newStatus != "" {
			return utils.NewValidationError("status", "must be changed on its own")
		}
		if _, ok := fields["items"]; ok {
			return utils.NewValidationError("items", "is managed through item operations")
		}

		b, err := json.Marshal(fields)
		if err != nil {
			return err
		}
		updated = *inv
		if err := json.Unmarshal(b, &updated); err != nil {
			return utils.NewValidationError("", fmt.Sprintf("invalid field value: %v", err))
		}
		if updated.Currency != "" && len(updated.Currency) != 3 {
			return utils.NewValidationError("currency", "must be a 3 letter code")
		}

		breakdown, err := recalculate(&updated, tenant)
		if err != nil {
			return err
		}
		updated.ApplyTotals(breakdown.Totals)

		columns := append([]string(nil), names...)
		for column := range models.TotalsColumns(breakdown.Totals) {
			columns = append(columns, column)
		}
		if err := tx.Model(&updated).Select(columns).Updates(&updated).Error; err != nil {
			config.LogError(config.GetLogger(), "drafts.go", "UpdateFields", "UpdateInvoice", fields, err)
			return err
		}
		_, err = l.audit.RecordTx(tx, tenantId, audit.Entry{
			InvoiceId:   invoiceId,
			Action:      models.AuditActionUpdate,
			Actor:       actor,
			Description: "Updated draft fields",
			Before:      auditState(inv),
			After:       auditState(&updated),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// AddItem appends a line to a draft and recomputes its totals.
func (l *Ledger) AddItem(ctx context.Context, tenantId string, invoiceId int, input ItemInput) (*models.InvoiceItem, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	var created models.InvoiceItem
	err := l.editItems(ctx, tenantId, invoiceId, "Added item", func(tx *gorm.DB, inv *models.Invoice) error {
		position := 1
		for _, item := range inv.Items {
			if item.Position >= position {
				position = item.Position + 1
			}
		}
		created = input.toModel(inv.ID, position)
		inv.Items = append(inv.Items, created)
		return nil
	}, func(tx *gorm.DB, inv *models.Invoice) error {
		return tx.Create(&created).Error
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateItem replaces one line of a draft.
func (l *Ledger) UpdateItem(ctx context.Context, tenantId string, invoiceId int, itemId int, input ItemInput) (*models.InvoiceItem, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	var changed models.InvoiceItem
	err := l.editItems(ctx, tenantId, invoiceId, "Updated item", func(tx *gorm.DB, inv *models.Invoice) error {
		for i := range inv.Items {
			if inv.Items[i].ID == itemId {
				next := input.toModel(inv.ID, inv.Items[i].Position)
				next.ID = itemId
				next.CreatedAt = inv.Items[i].CreatedAt
				inv.Items[i] = next
				changed = next
				return nil
			}
		}
		return utils.ErrorRecordNotFound
	}, func(tx *gorm.DB, inv *models.Invoice) error {
		return tx.Model(&changed).
			Where("invoice_id = ?", inv.ID).
			Select("description", "quantity", "unit_price", "tax_rate", "tax_inclusive").
			Updates(&changed).Error
	})
	if err != nil {
		return nil, err
	}
	return &changed, nil
}

func (l *Ledger) DeleteItem(ctx context.Context, tenantId string, invoiceId int, itemId int) error {
	return l.editItems(ctx, tenantId, invoiceId, "Deleted item", func(tx *gorm.DB, inv *models.Invoice) error {
		for i := range inv.Items {
			if inv.Items[i].ID == itemId {
				inv.Items = append(inv.Items[:i], inv.Items[i+1:]...)
				return nil
			}
		}
		return utils.ErrorRecordNotFound
	}, func(tx *gorm.DB, inv *models.Invoice) error {
		return tx.Where("invoice_id = ? AND id = ?", inv.ID, itemId).Delete(&models.InvoiceItem{}).Error
	})
}

// editItems runs the shared item write path: lock, guard, change the in-memory lines,
// recompute, then persist the line and the totals together.
func (l *Ledger) editItems(ctx context.Context, tenantId string, invoiceId int, description string,
	apply func(tx *gorm.DB, inv *models.Invoice) error, persist func(tx *gorm.DB, inv *models.Invoice) error) error {
	actor, err := l.actors.ResolveActor(ctx)
	if err != nil {
		return err
	}
	tenant, err := l.tenants.GetTenant(ctx, tenantId)
	if err != nil {
		return err
	}
	ctx = scoped(ctx, tenantId)
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inv, err := loadForUpdate(tx, tenantId, invoiceId)
		if err != nil {
			return err
		}
		if err := models.GuardItemWrite(inv); err != nil {
			return err
		}
		before := auditState(inv)
		if err := apply(tx, inv); err != nil {
			return err
		}
		breakdown, err := recalculate(inv, tenant)
		if err != nil {
			return err
		}
		inv.ApplyTotals(breakdown.Totals)
		if err := persist(tx, inv); err != nil {
			config.LogError(config.GetLogger(), "drafts.go", "editItems", description, invoiceId, err)
			return err
		}
		if err := tx.Model(&models.Invoice{}).
			Where("tenant_id = ? AND id = ?", tenantId, invoiceId).
			Updates(models.TotalsColumns(breakdown.Totals)).Error; err != nil {
			return err
		}
		_, err = l.audit.RecordTx(tx, tenantId, audit.Entry{
			InvoiceId:   invoiceId,
			Action:      models.AuditActionUpdate,
			Actor:       actor,
			Description: description,
			Before:      before,
			After:       auditState(inv),
		})
		return err
	})
}

// DeleteDraft physically removes a draft and its lines. Audit rows stay.
func (l *Ledger) DeleteDraft(ctx context.Context, tenantId string, invoiceId int) error {
	actor, err := l.actors.ResolveActor(ctx)
	if err != nil {
		return err
	}
	ctx = scoped(ctx, tenantId)
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inv, err := loadForUpdate(tx, tenantId, invoiceId)
		if err != nil {
			return err
		}
		if err := models.GuardDelete(inv); err != nil {
			return err
		}
		if err := tx.Where("invoice_id = ?", invoiceId).Delete(&models.InvoiceItem{}).Error; err != nil {
			return err
		}
		if err := tx.Where("tenant_id = ? AND id = ?", tenantId, invoiceId).Delete(&models.Invoice{}).Error; err != nil {
			config.LogError(config.GetLogger(), "drafts.go", "DeleteDraft", "DeleteInvoice", invoiceId, err)
			return err
		}
		_, err = l.audit.RecordTx(tx, tenantId, audit.Entry{
			InvoiceId:   invoiceId,
			Action:      models.AuditActionDelete,
			Actor:       actor,
			Description: "Deleted draft invoice",
			Before:      auditState(inv),
		})
		return err
	})
}
