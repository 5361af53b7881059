// Package reports builds tax exports. Every figure comes from stored snapshot payloads,
// never from live invoice rows, so an export is reproducible for as long as the snapshots exist.
package reports

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"bitbucket.org/mmdatafocus/billing_ledger/models"
	"bitbucket.org/mmdatafocus/billing_ledger/snapshot"
	"bitbucket.org/mmdatafocus/billing_ledger/utils"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const (
	InvoiceSheet = "Invoices"
	RateSheet    = "Tax by rate"
)

type ExcelExporter interface {
	GetCellValues() []interface{}
}

type SnapshotSource interface {
	ListForPeriod(ctx context.Context, tenantId string, status models.InvoiceStatus, from time.Time, to time.Time) ([]*snapshot.Record, error)
}

var invoiceHeadings = []string{
	"InvoiceNumber", "IssueDate", "Currency", "BuyerName", "BuyerTaxId",
	"Subtotal", "Discount", "TaxableAmount", "Tax", "InclusiveTax", "Fee", "GrandTotal",
	"SnapshotId", "PayloadHash",
}

var rateHeadings = []string{"TaxRate", "TaxableAmount", "Tax", "LineCount"}

type InvoiceRow struct {
	InvoiceNumber string
	IssueDate     time.Time
	Currency      string
	BuyerName     string
	BuyerTaxId    string
	Totals        snapshotTotals
	SnapshotId    int
	PayloadHash   string
}

type snapshotTotals struct {
	Subtotal, Discount, Taxable, Tax, InclusiveTax, Fee, GrandTotal decimal.Decimal
}

func (r InvoiceRow) GetCellValues() []interface{} {
	return []interface{}{
		r.InvoiceNumber,
		r.IssueDate.Format("2006-01-02"),
		r.Currency,
		r.BuyerName,
		r.BuyerTaxId,
		money(r.Totals.Subtotal),
		money(r.Totals.Discount),
		money(r.Totals.Taxable),
		money(r.Totals.Tax),
		money(r.Totals.InclusiveTax),
		money(r.Totals.Fee),
		money(r.Totals.GrandTotal),
		r.SnapshotId,
		r.PayloadHash,
	}
}

type RateRow struct {
	Rate      decimal.Decimal
	Taxable   decimal.Decimal
	Tax       decimal.Decimal
	LineCount int
}

func (r RateRow) GetCellValues() []interface{} {
	return []interface{}{r.Rate.String(), money(r.Taxable), money(r.Tax), r.LineCount}
}

// Summary is what an export contained.
type Summary struct {
	Invoices   int
	Tax        decimal.Decimal
	GrandTotal decimal.Decimal
	InvoiceIds []int
}

func money(d decimal.Decimal) float64 {
	return utils.RoundMoney(d).InexactFloat64()
}

// BuildRows turns snapshot records into export rows. Records are read as stored.
func BuildRows(records []*snapshot.Record) ([]InvoiceRow, []RateRow) {
	invoices := make([]InvoiceRow, 0, len(records))
	byRate := map[string]*RateRow{}
	for _, rec := range records {
		p := rec.Data
		invoices = append(invoices, InvoiceRow{
			InvoiceNumber: p.Invoice.Number,
			IssueDate:     p.Invoice.IssueDate,
			Currency:      p.Invoice.Currency,
			BuyerName:     p.Buyer.Name,
			BuyerTaxId:    p.Buyer.TaxId,
			Totals: snapshotTotals{
				Subtotal:     p.Totals.Subtotal,
				Discount:     p.Totals.Discount,
				Taxable:      p.Totals.SubtotalAfterDiscount,
				Tax:          p.Totals.TaxAmount,
				InclusiveTax: p.Totals.InclusiveTaxAmount,
				Fee:          p.Totals.Fee,
				GrandTotal:   p.Totals.GrandTotal,
			},
			SnapshotId:  rec.ID,
			PayloadHash: rec.PayloadHash,
		})
		for _, item := range p.Items {
			key := item.TaxRate.String()
			row, ok := byRate[key]
			if !ok {
				row = &RateRow{Rate: item.TaxRate}
				byRate[key] = row
			}
			row.Taxable = row.Taxable.Add(item.LineTotal.Sub(item.DiscountShare))
			row.Tax = row.Tax.Add(item.TaxAmount)
			row.LineCount++
		}
	}
	sort.SliceStable(invoices, func(i, j int) bool {
		if !invoices[i].IssueDate.Equal(invoices[j].IssueDate) {
			return invoices[i].IssueDate.Before(invoices[j].IssueDate)
		}
		return invoices[i].InvoiceNumber < invoices[j].InvoiceNumber
	})
	rates := make([]RateRow, 0, len(byRate))
	for _, row := range byRate {
		rates = append(rates, *row)
	}
	sort.Slice(rates, func(i, j int) bool { return rates[i].Rate.LessThan(rates[j].Rate) })
	return invoices, rates
}

// ExportSnapshots writes the finalized snapshots captured in [from, to) as an xlsx workbook.
func ExportSnapshots(ctx context.Context, source SnapshotSource, tenantId string, from time.Time, to time.Time, w io.Writer) (*Summary, error) {
	if !from.Before(to) {
		return nil, utils.NewValidationError("period", "start must be before end")
	}
	records, err := source.ListForPeriod(ctx, tenantId, models.InvoiceStatusFinalized, from, to)
	if err != nil {
		return nil, err
	}
	invoices, rates := BuildRows(records)

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", InvoiceSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(RateSheet); err != nil {
		return nil, err
	}

	summary := &Summary{Invoices: len(invoices)}
	invoiceRows := make([]ExcelExporter, 0, len(invoices))
	for _, row := range invoices {
		invoiceRows = append(invoiceRows, row)
		summary.Tax = summary.Tax.Add(row.Totals.Tax)
		summary.GrandTotal = summary.GrandTotal.Add(row.Totals.GrandTotal)
	}
	for _, rec := range records {
		summary.InvoiceIds = append(summary.InvoiceIds, rec.InvoiceId)
	}
	rateRows := make([]ExcelExporter, 0, len(rates))
	for _, row := range rates {
		rateRows = append(rateRows, row)
	}

	if err := writeSheet(f, InvoiceSheet, invoiceHeadings, invoiceRows); err != nil {
		return nil, err
	}
	if err := writeSheet(f, RateSheet, rateHeadings, rateRows); err != nil {
		return nil, err
	}
	if err := f.Write(w); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return summary, nil
}

func writeSheet(f *excelize.File, sheet string, headings []string, data []ExcelExporter) error {
	for col, h := range headings {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
	}
	for i, d := range data {
		for col, value := range d.GetCellValues() {
			cell, err := excelize.CoordinatesToCellName(col+1, i+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				return err
			}
		}
	}
	return nil
}
