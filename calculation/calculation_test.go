package calculation

import (
	"encoding/json"
	"errors"
	"testing"

	"bitbucket.org/mmdatafocus/billing_ledger/utils"
	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func rate(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func registeredSettings() TaxSettings {
	return TaxSettings{
		TaxEnabled:     true,
		TaxRegistered:  true,
		DefaultTaxRate: dec("16"),
		FeeEnabled:     true,
		FeeRate:        dec("3"),
	}
}

func assertMoney(t *testing.T, name string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(dec(want)) {
		t.Fatalf("%s: expected %s, got %s", name, want, got.StringFixed(2))
	}
}

func TestCalculate_Fixtures(t *testing.T) {
	items := []Item{{Quantity: dec("10"), UnitPrice: dec("100"), TaxRate: rate("16")}}

	cases := []struct {
		name       string
		settings   TaxSettings
		discount   decimal.Decimal
		discType   DiscountType
		subtotal   string
		discountAm string
		afterDisc  string
		tax        string
		fee        string
		grandTotal string
	}{
		{
			name:       "registered with fee",
			settings:   registeredSettings(),
			subtotal:   "1000", discountAm: "0", afterDisc: "1000",
			tax: "160", fee: "34.80", grandTotal: "1194.80",
		},
		{
			name: "not tax registered forces zero tax",
			settings: func() TaxSettings {
				s := registeredSettings()
				s.TaxRegistered = false
				return s
			}(),
			subtotal: "1000", discountAm: "0", afterDisc: "1000",
			tax: "0", fee: "30", grandTotal: "1030",
		},
		{
			name:     "fixed discount clamped to subtotal",
			settings: registeredSettings(),
			discount: dec("1500"), discType: DiscountTypeFixed,
			subtotal: "1000", discountAm: "1000", afterDisc: "0",
			tax: "0", fee: "0", grandTotal: "0",
		},
		{
			name:     "percent discount reduces taxable base",
			settings: registeredSettings(),
			discount: dec("10"), discType: DiscountTypePercent,
			subtotal: "1000", discountAm: "100", afterDisc: "900",
			tax: "144", fee: "31.32", grandTotal: "1075.32",
		},
		{
			name: "tax disabled",
			settings: TaxSettings{
				TaxEnabled:    false,
				TaxRegistered: true,
			},
			subtotal: "1000", discountAm: "0", afterDisc: "1000",
			tax: "0", fee: "0", grandTotal: "1000",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := Calculate(items, ConfigFor(tc.settings, tc.discount, tc.discType))
			if err != nil {
				t.Fatalf("Calculate: %v", err)
			}
			assertMoney(t, "subtotal", out.Totals.Subtotal, tc.subtotal)
			assertMoney(t, "discount", out.Totals.Discount, tc.discountAm)
			assertMoney(t, "subtotal_after_discount", out.Totals.SubtotalAfterDiscount, tc.afterDisc)
			assertMoney(t, "tax_amount", out.Totals.TaxAmount, tc.tax)
			assertMoney(t, "fee", out.Totals.Fee, tc.fee)
			assertMoney(t, "grand_total", out.Totals.GrandTotal, tc.grandTotal)
		})
	}
}

func TestCalculate_DiscountAllocatedProRataAcrossRates(t *testing.T) {
	items := []Item{
		{Quantity: dec("1"), UnitPrice: dec("300"), TaxRate: rate("16")},
		{Quantity: dec("1"), UnitPrice: dec("100"), TaxRate: rate("0")},
	}
	settings := registeredSettings()
	settings.FeeEnabled = false

	out, err := Calculate(items, ConfigFor(settings, dec("100"), DiscountTypeFixed))
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	// 75 of the 100 discount lands on the taxed line: (300 - 75) * 16% = 36
	assertMoney(t, "tax_amount", out.Totals.TaxAmount, "36")
	assertMoney(t, "line[0].discount_share", out.Lines[0].DiscountShare, "75")
	assertMoney(t, "line[1].discount_share", out.Lines[1].DiscountShare, "25")
	assertMoney(t, "grand_total", out.Totals.GrandTotal, "336")
}

func TestCalculate_DefaultRateAndInclusiveItems(t *testing.T) {
	items := []Item{
		{Quantity: dec("2"), UnitPrice: dec("50")},
		{Quantity: dec("1"), UnitPrice: dec("116"), TaxRate: rate("16"), TaxInclusive: true},
	}
	settings := registeredSettings()
	settings.FeeEnabled = false

	out, err := Calculate(items, ConfigFor(settings, decimal.Zero, ""))
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	// exclusive: 100 * 16% = 16, inclusive: 116 * 16/116 = 16
	assertMoney(t, "tax_amount", out.Totals.TaxAmount, "32")
	assertMoney(t, "inclusive_tax_amount", out.Totals.InclusiveTaxAmount, "16")
	assertMoney(t, "grand_total", out.Totals.GrandTotal, "232")
}

func TestCalculate_RoundsOnlyTheAggregatedTax(t *testing.T) {
	// three lines of 0.10 at 5% each carry 0.005 of tax; rounding per line would give 0.03
	items := []Item{
		{Quantity: dec("1"), UnitPrice: dec("0.10")},
		{Quantity: dec("1"), UnitPrice: dec("0.10")},
		{Quantity: dec("1"), UnitPrice: dec("0.10")},
	}
	settings := registeredSettings()
	settings.DefaultTaxRate = dec("5")
	settings.FeeEnabled = false

	out, err := Calculate(items, ConfigFor(settings, decimal.Zero, ""))
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	assertMoney(t, "tax_amount", out.Totals.TaxAmount, "0.02")
}

func TestCalculate_HalfUpRounding(t *testing.T) {
	items := []Item{{Quantity: dec("1"), UnitPrice: dec("0.50")}}
	settings := registeredSettings()
	settings.DefaultTaxRate = dec("1")
	settings.FeeEnabled = false

	out, err := Calculate(items, ConfigFor(settings, decimal.Zero, ""))
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	// 0.005 rounds up to 0.01
	assertMoney(t, "tax_amount", out.Totals.TaxAmount, "0.01")
}

func TestCalculate_IsDeterministic(t *testing.T) {
	items := []Item{
		{Quantity: dec("3"), UnitPrice: dec("19.99"), TaxRate: rate("16")},
		{Quantity: dec("1.5"), UnitPrice: dec("7.333"), TaxRate: rate("8")},
		{Quantity: dec("7"), UnitPrice: dec("0.01"), TaxInclusive: true},
	}
	config := ConfigFor(registeredSettings(), dec("12.5"), DiscountTypePercent)

	var first []byte
	for run := 0; run < 3; run++ {
		out, err := Calculate(items, config)
		if err != nil {
			t.Fatalf("run=%d Calculate: %v", run, err)
		}
		b, err := json.Marshal(out)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if run == 0 {
			first = b
			continue
		}
		if string(b) != string(first) {
			t.Fatalf("run=%d output differs\nfirst: %s\ngot:   %s", run, first, b)
		}
	}
}

func TestCalculate_RejectsInvalidInput(t *testing.T) {
	cases := []struct {
		name   string
		items  []Item
		config Config
		field  string
	}{
		{"negative quantity", []Item{{Quantity: dec("-1"), UnitPrice: dec("1")}}, Config{}, "quantity"},
		{"negative price", []Item{{Quantity: dec("1"), UnitPrice: dec("-1")}}, Config{}, "unit_price"},
		{"negative discount", nil, Config{DiscountValue: dec("-5"), DiscountType: DiscountTypeFixed}, "discount_value"},
		{"percent over 100", nil, Config{DiscountValue: dec("101"), DiscountType: DiscountTypePercent}, "discount_value"},
		{"unknown discount type", nil, Config{DiscountType: "bogus"}, "discount_type"},
		{"price finer than stored scale", []Item{{Quantity: dec("1"), UnitPrice: dec("0.12345")}}, Config{}, "unit_price"},
		{"quantity finer than stored scale", []Item{{Quantity: dec("0.00001"), UnitPrice: dec("1")}}, Config{}, "quantity"},
		{"rate finer than stored scale", []Item{{Quantity: dec("1"), UnitPrice: dec("1"), TaxRate: rate("16.00005")}}, Config{}, "tax_rate"},
		{"discount finer than stored scale", nil, Config{DiscountValue: dec("1.23456"), DiscountType: DiscountTypeFixed}, "discount_value"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Calculate(tc.items, tc.config)
			if !errors.Is(err, utils.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			var ve *utils.ValidationError
			if !errors.As(err, &ve) || ve.Field != tc.field {
				t.Fatalf("expected field %s, got %v", tc.field, err)
			}
		})
	}
}

func TestCalculate_AcceptsTrailingZerosBeyondStoredScale(t *testing.T) {
	items := []Item{{Quantity: dec("2.000000"), UnitPrice: dec("10.1234000")}}
	out, err := Calculate(items, ConfigFor(TaxSettings{}, decimal.Zero, ""))
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	assertMoney(t, "subtotal", out.Totals.Subtotal, "20.2468")
}
