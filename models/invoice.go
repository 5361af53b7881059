package models

import (
	"time"

	"bitbucket.org/mmdatafocus/billing_ledger/calculation"
	"bitbucket.org/mmdatafocus/billing_ledger/utils"
	"github.com/shopspring/decimal"
)

// Computed totals keep the scale the engine produced them with.
type Invoice struct {
	ID                 int                      `gorm:"primary_key" json:"id"`
	TenantId           string                   `gorm:"size:64;index;not null;uniqueIndex:idx_invoice_number,priority:1;uniqueIndex:idx_invoice_serial,priority:1" json:"tenant_id"`
	ClientId           *int                     `gorm:"index" json:"client_id"`
	Status             InvoiceStatus            `gorm:"size:20;index;not null;default:'draft'" json:"status"`
	IssueDate          time.Time                `gorm:"not null" json:"issue_date"`
	DueDate            *time.Time               `json:"due_date"`
	Currency           string                   `gorm:"size:3" json:"currency"`
	Notes              string                   `gorm:"type:text" json:"notes"`
	DiscountValue      decimal.Decimal          `gorm:"type:decimal(20,4);default:0" json:"discount_value"`
	DiscountType       calculation.DiscountType `gorm:"size:10" json:"discount_type"`
	Subtotal           decimal.Decimal          `gorm:"type:decimal(36,16);default:0" json:"subtotal"`
	DiscountAmount     decimal.Decimal          `gorm:"type:decimal(36,16);default:0" json:"discount_amount"`
	TaxAmount          decimal.Decimal          `gorm:"type:decimal(36,16);default:0" json:"tax_amount"`
	InclusiveTaxAmount decimal.Decimal          `gorm:"type:decimal(36,16);default:0" json:"inclusive_tax_amount"`
	Fee                decimal.Decimal          `gorm:"type:decimal(36,16);default:0" json:"fee"`
	GrandTotal         decimal.Decimal          `gorm:"type:decimal(36,16);default:0" json:"grand_total"`
	InvoiceNumber      *string                  `gorm:"size:100;uniqueIndex:idx_invoice_number,priority:2" json:"invoice_number"`
	PrefixUsed         *string                  `gorm:"size:100;uniqueIndex:idx_invoice_serial,priority:2" json:"prefix_used"`
	SerialNumber       *int64                   `gorm:"uniqueIndex:idx_invoice_serial,priority:3" json:"serial_number"`
	PrefixId           *int                     `json:"prefix_id"`
	ControlNumber      string                   `gorm:"size:100" json:"control_number"`
	QrCode             string                   `gorm:"type:text" json:"qr_code"`
	FinalizedAt        *time.Time               `json:"finalized_at"`
	Items              []InvoiceItem            `gorm:"foreignKey:InvoiceId" json:"items"`
	CreatedAt          time.Time                `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time                `gorm:"autoUpdateTime" json:"updated_at"`
}

type InvoiceItem struct {
	ID           int                 `gorm:"primary_key" json:"id"`
	InvoiceId    int                 `gorm:"index;not null" json:"invoice_id"`
	Position     int                 `gorm:"default:0" json:"position"`
	Description  string              `gorm:"size:500;not null" json:"description"`
	Quantity     decimal.Decimal     `gorm:"type:decimal(20,4);not null" json:"quantity"`
	UnitPrice    decimal.Decimal     `gorm:"type:decimal(20,4);not null" json:"unit_price"`
	TaxRate      decimal.NullDecimal `gorm:"type:decimal(7,4)" json:"tax_rate"`
	TaxInclusive bool                `gorm:"not null;default:false" json:"tax_inclusive"`
	CreatedAt    time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

func (item InvoiceItem) CalculationItem() calculation.Item {
	ci := calculation.Item{
		Quantity:     item.Quantity,
		UnitPrice:    item.UnitPrice,
		TaxInclusive: item.TaxInclusive,
	}
	if item.TaxRate.Valid {
		r := item.TaxRate.Decimal
		ci.TaxRate = &r
	}
	return ci
}

func (inv *Invoice) CalculationItems() []calculation.Item {
	items := make([]calculation.Item, 0, len(inv.Items))
	for _, item := range inv.Items {
		items = append(items, item.CalculationItem())
	}
	return items
}

// CalculationConfig is the only way an invoice is turned into engine input.
func (inv *Invoice) CalculationConfig(settings calculation.TaxSettings) calculation.Config {
	return calculation.ConfigFor(settings, inv.DiscountValue, inv.DiscountType)
}

// ApplyTotals copies engine output onto the invoice. Nothing else writes these fields.
func (inv *Invoice) ApplyTotals(t calculation.Totals) {
	inv.Subtotal = t.Subtotal
	inv.DiscountAmount = t.Discount
	inv.TaxAmount = t.TaxAmount
	inv.InclusiveTaxAmount = t.InclusiveTaxAmount
	inv.Fee = t.Fee
	inv.GrandTotal = t.GrandTotal
}

func (inv *Invoice) StoredTotals() calculation.Totals {
	return calculation.Totals{
		Subtotal:              inv.Subtotal,
		Discount:              inv.DiscountAmount,
		SubtotalAfterDiscount: inv.Subtotal.Sub(inv.DiscountAmount),
		TaxAmount:             inv.TaxAmount,
		InclusiveTaxAmount:    inv.InclusiveTaxAmount,
		Fee:                   inv.Fee,
		GrandTotal:            inv.GrandTotal,
	}
}

// TotalsColumns returns the update map for engine-computed totals.
func TotalsColumns(t calculation.Totals) map[string]interface{} {
	return map[string]interface{}{
		"subtotal":             t.Subtotal,
		"discount_amount":      t.Discount,
		"tax_amount":           t.TaxAmount,
		"inclusive_tax_amount": t.InclusiveTaxAmount,
		"fee":                  t.Fee,
		"grand_total":          t.GrandTotal,
	}
}

func (inv *Invoice) HasNumber() bool {
	return inv.InvoiceNumber != nil && *inv.InvoiceNumber != ""
}

func (inv *Invoice) NumberString() string {
	return utils.DereferencePtr(inv.InvoiceNumber)
}
