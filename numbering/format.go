package numbering

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/billing_ledger/models"
	"bitbucket.org/mmdatafocus/billing_ledger/utils"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultPrefix       = "INV"
	DefaultNumberFormat = "{PREFIX}-{NUMBER}"
)

var prefixPattern = regexp.MustCompile(`^(?:[A-Za-z0-9_-]|%(?:YYYY|YY|MMMM|MMM|MM|M|DD|D)%)+$`)

func init() {
	if err := utils.RegisterValidation("invoice_prefix", validatePrefixTag); err != nil {
		panic(err)
	}
}

func validatePrefixTag(fl validator.FieldLevel) bool {
	return prefixPattern.MatchString(fl.Field().String())
}

type prefixInput struct {
	Prefix string `json:"prefix" validate:"required,max=50,invoice_prefix"`
}

// ValidatePrefix checks a prefix template before it is stored.
func ValidatePrefix(prefix string) error {
	return utils.ValidateStruct(prefixInput{Prefix: prefix})
}

// ResolvePrefix substitutes the %TOKEN% date placeholders of a prefix for the given date.
// It is the first of the two rendering phases and never touches {TOKEN} format tokens.
func ResolvePrefix(prefix string, at time.Time) string {
	month := at.Month().String()
	r := strings.NewReplacer(
		"%YYYY%", fmt.Sprintf("%04d", at.Year()),
		"%YY%", fmt.Sprintf("%02d", at.Year()%100),
		"%MMMM%", month,
		"%MMM%", month[:3],
		"%MM%", fmt.Sprintf("%02d", int(at.Month())),
		"%M%", strconv.Itoa(int(at.Month())),
		"%DD%", fmt.Sprintf("%02d", at.Day()),
		"%D%", strconv.Itoa(at.Day()),
	)
	return r.Replace(prefix)
}

// RenderFullNumber resolves the prefix for the reference date, then applies the tenant format template.
func RenderFullNumber(settings models.TenantBillingSettings, prefix string, serial int64, at time.Time) string {
	return applyFormat(settings, ResolvePrefix(prefix, at), serial, at)
}

// applyFormat needs both {PREFIX} and {NUMBER} in the template: serials restart under a new
// prefix, so a number rendered without the prefix would repeat one already issued.
func applyFormat(settings models.TenantBillingSettings, resolvedPrefix string, serial int64, at time.Time) string {
	format := settings.NumberFormat
	if !strings.Contains(format, "{NUMBER}") || !strings.Contains(format, "{PREFIX}") {
		format = DefaultNumberFormat
	}
	padding := settings.NumberPadding
	if padding < 0 {
		padding = 0
	}
	r := strings.NewReplacer(
		"{PREFIX}", resolvedPrefix,
		"{NUMBER}", fmt.Sprintf("%0*d", padding, serial),
		"{YEAR}", strconv.Itoa(at.Year()),
		"{SUFFIX}", settings.NumberSuffix,
	)
	return r.Replace(format)
}

func defaultPrefixFor(settings models.TenantBillingSettings) string {
	if settings.DefaultPrefix != "" && ValidatePrefix(settings.DefaultPrefix) == nil {
		return settings.DefaultPrefix
	}
	return DefaultPrefix
}
