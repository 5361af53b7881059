// Package snapshot builds and stores the self-contained, append-only copies of an invoice
// that PDF rendering and tax export read instead of the live rows.
package snapshot

import (
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/billing_ledger/calculation"
	"bitbucket.org/mmdatafocus/billing_ledger/models"
	"bitbucket.org/mmdatafocus/billing_ledger/utils"
	"github.com/shopspring/decimal"
)

const SchemaVersion = "1.0"

type Payload struct {
	Invoice    Header             `json:"invoice"`
	Seller     Seller             `json:"seller"`
	Buyer      Buyer              `json:"buyer"`
	Items      []Item             `json:"items"`
	Totals     calculation.Totals `json:"totals"`
	Compliance Compliance         `json:"compliance"`
	Metadata   Metadata           `json:"metadata"`
}

type Header struct {
	ID            int                      `json:"id"`
	Number        string                   `json:"number"`
	PrefixUsed    string                   `json:"prefix_used"`
	SerialNumber  int64                    `json:"serial_number"`
	Status        models.InvoiceStatus     `json:"status"`
	IssueDate     time.Time                `json:"issue_date"`
	DueDate       *time.Time               `json:"due_date,omitempty"`
	Currency      string                   `json:"currency"`
	Notes         string                   `json:"notes,omitempty"`
	DiscountValue decimal.Decimal          `json:"discount_value"`
	DiscountType  calculation.DiscountType `json:"discount_type"`
	FinalizedAt   *time.Time               `json:"finalized_at,omitempty"`
}

type Seller struct {
	TenantId           string `json:"tenant_id"`
	Name               string `json:"name"`
	Address            string `json:"address"`
	Email              string `json:"email"`
	Phone              string `json:"phone"`
	TaxId              string `json:"tax_id"`
	RegistrationNumber string `json:"registration_number"`
	LogoReference      string `json:"logo_reference"`
}

type Buyer struct {
	ClientId int    `json:"client_id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Address  string `json:"address"`
	TaxId    string `json:"tax_id"`
}

type Item struct {
	Position      int             `json:"position"`
	Description   string          `json:"description"`
	Quantity      decimal.Decimal `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	TaxRate       decimal.Decimal `json:"tax_rate"`
	TaxInclusive  bool            `json:"tax_inclusive"`
	LineTotal     decimal.Decimal `json:"line_total"`
	DiscountShare decimal.Decimal `json:"discount_share"`
	TaxAmount     decimal.Decimal `json:"tax_amount"`
}

type Compliance struct {
	ControlNumber string `json:"control_number,omitempty"`
	QrCode        string `json:"qr_code,omitempty"`
	TaxEnabled    bool   `json:"tax_enabled"`
	TaxRegistered bool   `json:"tax_registered"`
}

type Metadata struct {
	GeneratedAt    time.Time            `json:"generated_at"`
	SchemaVersion  string               `json:"schema_version"`
	CapturedStatus models.InvoiceStatus `json:"captured_status"`
	ActorId        int                  `json:"actor_id"`
	ActorName      string               `json:"actor_name"`
	CorrelationId  string               `json:"correlation_id,omitempty"`
}

// BuildInput is everything a snapshot copies. Breakdown must be the engine output for Invoice.Items.
type BuildInput struct {
	Invoice       *models.Invoice
	Tenant        *models.TenantProfile
	Client        *models.ClientProfile
	Breakdown     calculation.Breakdown
	Status        models.InvoiceStatus
	Actor         models.Actor
	At            time.Time
	CorrelationId string
}

// Build copies every field by value. Nothing in the payload needs a later lookup.
func Build(in BuildInput) (*Payload, error) {
	inv := in.Invoice
	if inv == nil || in.Tenant == nil || in.Client == nil {
		return nil, fmt.Errorf("snapshot: invoice, tenant and client are required")
	}
	if len(in.Breakdown.Lines) != len(inv.Items) {
		return nil, fmt.Errorf("snapshot: breakdown has %d lines for %d items", len(in.Breakdown.Lines), len(inv.Items))
	}

	header := Header{
		ID:            inv.ID,
		Number:        inv.NumberString(),
		Status:        in.Status,
		IssueDate:     inv.IssueDate.UTC(),
		DueDate:       utcPtr(inv.DueDate),
		Currency:      inv.Currency,
		Notes:         inv.Notes,
		DiscountValue: inv.DiscountValue,
		DiscountType:  inv.DiscountType,
		FinalizedAt:   utcPtr(inv.FinalizedAt),
		PrefixUsed:    utils.DereferencePtr(inv.PrefixUsed),
		SerialNumber:  utils.DereferencePtr(inv.SerialNumber),
	}

	items := make([]Item, len(inv.Items))
	for i, item := range inv.Items {
		line := in.Breakdown.Lines[i]
		items[i] = Item{
			Position:      item.Position,
			Description:   item.Description,
			Quantity:      item.Quantity,
			UnitPrice:     item.UnitPrice,
			TaxRate:       line.TaxRate,
			TaxInclusive:  item.TaxInclusive,
			LineTotal:     line.LineTotal,
			DiscountShare: line.DiscountShare,
			TaxAmount:     line.TaxAmount,
		}
	}

	tenant := in.Tenant
	client := in.Client
	return &Payload{
		Invoice: header,
		Seller: Seller{
			TenantId:           tenant.TenantId,
			Name:               tenant.Name,
			Address:            tenant.Address,
			Email:              tenant.Email,
			Phone:              tenant.Phone,
			TaxId:              tenant.TaxId,
			RegistrationNumber: tenant.RegistrationNumber,
			LogoReference:      tenant.LogoReference,
		},
		Buyer: Buyer{
			ClientId: client.ID,
			Name:     client.Name,
			Email:    client.Email,
			Phone:    client.Phone,
			Address:  client.Address,
			TaxId:    client.TaxId,
		},
		Items:  items,
		Totals: in.Breakdown.Totals,
		Compliance: Compliance{
			ControlNumber: inv.ControlNumber,
			QrCode:        inv.QrCode,
			TaxEnabled:    tenant.Billing.TaxEnabled,
			TaxRegistered: tenant.Billing.TaxRegistered,
		},
		Metadata: Metadata{
			GeneratedAt:    in.At.UTC(),
			SchemaVersion:  SchemaVersion,
			CapturedStatus: in.Status,
			ActorId:        in.Actor.UserId,
			ActorName:      in.Actor.UserName,
			CorrelationId:  in.CorrelationId,
		},
	}, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
