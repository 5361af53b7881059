// Package calculation is the single place invoice totals are computed.
//
// Calculate is pure: no I/O, no clock, no globals. Preview, draft save, finalize and
// reporting all go through it with a Config built by ConfigFor, so the same logical
// input always produces the same totals.
package calculation

import (
	"bitbucket.org/mmdatafocus/billing_ledger/utils"
	"github.com/shopspring/decimal"
)

type DiscountType string

const (
	DiscountTypeFixed   DiscountType = "fixed"
	DiscountTypePercent DiscountType = "percent"
)

type Item struct {
	Quantity     decimal.Decimal  `json:"quantity"`
	UnitPrice    decimal.Decimal  `json:"unit_price"`
	TaxRate      *decimal.Decimal `json:"tax_rate,omitempty"`
	TaxInclusive bool             `json:"tax_inclusive"`
}

// TaxSettings is the tenant-level part of Config.
type TaxSettings struct {
	TaxEnabled     bool            `json:"tax_enabled"`
	TaxRegistered  bool            `json:"tax_registered"`
	DefaultTaxRate decimal.Decimal `json:"default_tax_rate"`
	FeeEnabled     bool            `json:"fee_enabled"`
	FeeRate        decimal.Decimal `json:"fee_rate"`
}

// Config holds percentages as whole numbers (16 means 16%).
type Config struct {
	TaxSettings
	DiscountValue decimal.Decimal `json:"discount_value"`
	DiscountType  DiscountType    `json:"discount_type" validate:"omitempty,oneof=fixed percent"`
}

// Totals of one invoice. Tax on tax-inclusive items is already inside SubtotalAfterDiscount, so
// GrandTotal is SubtotalAfterDiscount + (TaxAmount - InclusiveTaxAmount) + Fee, and the fee is
// charged on that same base. With inclusive items present GrandTotal is less than
// SubtotalAfterDiscount + TaxAmount + Fee.
type Totals struct {
	Subtotal              decimal.Decimal `json:"subtotal"`
	Discount              decimal.Decimal `json:"discount"`
	SubtotalAfterDiscount decimal.Decimal `json:"subtotal_after_discount"`
	TaxAmount             decimal.Decimal `json:"tax_amount"`
	InclusiveTaxAmount    decimal.Decimal `json:"inclusive_tax_amount"`
	Fee                   decimal.Decimal `json:"fee"`
	GrandTotal            decimal.Decimal `json:"grand_total"`
}

// Line is the per-item breakdown. Values are unrounded.
type Line struct {
	LineTotal     decimal.Decimal `json:"line_total"`
	DiscountShare decimal.Decimal `json:"discount_share"`
	TaxableAmount decimal.Decimal `json:"taxable_amount"`
	TaxRate       decimal.Decimal `json:"tax_rate"`
	TaxAmount     decimal.Decimal `json:"tax_amount"`
}

type Breakdown struct {
	Totals Totals `json:"totals"`
	Lines  []Line `json:"lines"`
}

func ConfigFor(settings TaxSettings, discountValue decimal.Decimal, discountType DiscountType) Config {
	return Config{
		TaxSettings:   settings,
		DiscountValue: discountValue,
		DiscountType:  discountType,
	}
}

// Calculate runs subtotal -> discount -> tax -> fee -> grand total in that order.
func Calculate(items []Item, config Config) (Breakdown, error) {
	if err := validate(items, config); err != nil {
		return Breakdown{}, err
	}

	lines := make([]Line, len(items))
	subtotal := decimal.Zero
	for i, item := range items {
		lines[i].LineTotal = item.Quantity.Mul(item.UnitPrice)
		subtotal = subtotal.Add(lines[i].LineTotal)
	}

	var discount decimal.Decimal
	if config.DiscountType == DiscountTypePercent {
		discount = utils.PercentOf(subtotal, config.DiscountValue)
	} else {
		discount = utils.MinDecimal(config.DiscountValue, subtotal)
	}
	subtotalAfterDiscount := subtotal.Sub(discount)

	taxActive := config.TaxEnabled && config.TaxRegistered
	exclusiveTax := decimal.Zero
	allTax := decimal.Zero
	for i, item := range items {
		line := &lines[i]
		if subtotal.IsPositive() {
			line.DiscountShare = discount.Mul(line.LineTotal).Div(subtotal)
		}
		line.TaxableAmount = line.LineTotal.Sub(line.DiscountShare)
		if !taxActive {
			continue
		}
		line.TaxRate = config.DefaultTaxRate
		if item.TaxRate != nil {
			line.TaxRate = *item.TaxRate
		}
		if item.TaxInclusive {
			line.TaxAmount = line.TaxableAmount.Mul(line.TaxRate).Div(utils.DecimalOneHundred.Add(line.TaxRate))
		} else {
			line.TaxAmount = utils.PercentOf(line.TaxableAmount, line.TaxRate)
			exclusiveTax = exclusiveTax.Add(line.TaxAmount)
		}
		allTax = allTax.Add(line.TaxAmount)
	}
	taxAmount := utils.RoundMoney(allTax)
	exclusiveTax = utils.RoundMoney(exclusiveTax)

	fee := decimal.Zero
	if config.FeeEnabled {
		fee = utils.RoundMoney(utils.PercentOf(subtotalAfterDiscount.Add(exclusiveTax), config.FeeRate))
	}

	return Breakdown{
		Totals: Totals{
			Subtotal:              subtotal,
			Discount:              discount,
			SubtotalAfterDiscount: subtotalAfterDiscount,
			TaxAmount:             taxAmount,
			InclusiveTaxAmount:    taxAmount.Sub(exclusiveTax),
			Fee:                   fee,
			GrandTotal:            subtotalAfterDiscount.Add(exclusiveTax).Add(fee),
		},
		Lines: lines,
	}, nil
}

// Inputs are stored at four decimal places; anything finer would make the stored draft
// compute different totals than the input did.
const scaleReason = "must have at most 4 decimal places"

func validate(items []Item, config Config) error {
	if err := utils.ValidateStruct(config); err != nil {
		return err
	}
	if config.DiscountValue.IsNegative() {
		return utils.NewValidationError("discount_value", "must not be negative")
	}
	if !utils.FitsPlaces(config.DiscountValue, utils.StoredPlaces) {
		return utils.NewValidationError("discount_value", scaleReason)
	}
	if config.DiscountType == DiscountTypePercent && config.DiscountValue.GreaterThan(utils.DecimalOneHundred) {
		return utils.NewValidationError("discount_value", "percent discount must not exceed 100")
	}
	if config.DefaultTaxRate.IsNegative() {
		return utils.NewValidationError("default_tax_rate", "must not be negative")
	}
	if config.FeeRate.IsNegative() {
		return utils.NewValidationError("fee_rate", "must not be negative")
	}
	for _, item := range items {
		if item.Quantity.IsNegative() {
			return utils.NewValidationError("quantity", "must not be negative")
		}
		if item.UnitPrice.IsNegative() {
			return utils.NewValidationError("unit_price", "must not be negative")
		}
		if item.TaxRate != nil && item.TaxRate.IsNegative() {
			return utils.NewValidationError("tax_rate", "must not be negative")
		}
		if !utils.FitsPlaces(item.Quantity, utils.StoredPlaces) {
			return utils.NewValidationError("quantity", scaleReason)
		}
		if !utils.FitsPlaces(item.UnitPrice, utils.StoredPlaces) {
			return utils.NewValidationError("unit_price", scaleReason)
		}
		if item.TaxRate != nil && !utils.FitsPlaces(*item.TaxRate, utils.StoredPlaces) {
			return utils.NewValidationError("tax_rate", scaleReason)
		}
	}
	return nil
}
