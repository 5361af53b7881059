package models

import (
	"sort"

	"bitbucket.org/mmdatafocus/billing_ledger/utils"
)

// allowedTransitions is the status graph. draft -> finalized is listed but only Finalize may take it.
var allowedTransitions = map[InvoiceStatus][]InvoiceStatus{
	InvoiceStatusDraft:     {InvoiceStatusFinalized, InvoiceStatusCancelled},
	InvoiceStatusFinalized: {InvoiceStatusSent, InvoiceStatusCancelled},
	InvoiceStatusSent:      {InvoiceStatusPaid, InvoiceStatusOverdue, InvoiceStatusCancelled},
	InvoiceStatusOverdue:   {InvoiceStatusPaid, InvoiceStatusCancelled},
	InvoiceStatusPaid:      {},
	InvoiceStatusCancelled: {},
}

type fieldKind int

const (
	fieldEditable fieldKind = iota
	fieldComputed
	fieldNumbering
	fieldReadOnly
	fieldStatus
)

var invoiceFields = map[string]fieldKind{
	"client_id":            fieldEditable,
	"issue_date":           fieldEditable,
	"due_date":             fieldEditable,
	"currency":             fieldEditable,
	"notes":                fieldEditable,
	"discount_value":       fieldEditable,
	"discount_type":        fieldEditable,
	"control_number":       fieldEditable,
	"qr_code":              fieldEditable,
	"items":                fieldEditable,
	"subtotal":             fieldComputed,
	"discount_amount":      fieldComputed,
	"tax_amount":           fieldComputed,
	"inclusive_tax_amount": fieldComputed,
	"fee":                  fieldComputed,
	"grand_total":          fieldComputed,
	"invoice_number":       fieldNumbering,
	"prefix_used":          fieldNumbering,
	"serial_number":        fieldNumbering,
	"prefix_id":            fieldNumbering,
	"finalized_at":         fieldNumbering,
	"id":                   fieldReadOnly,
	"tenant_id":            fieldReadOnly,
	"created_at":           fieldReadOnly,
	"updated_at":           fieldReadOnly,
	"status":               fieldStatus,
}

func IsTerminal(status InvoiceStatus) bool {
	next, ok := allowedTransitions[status]
	return ok && len(next) == 0
}

// CheckTransition validates a status move requested by anything other than Finalize.
func CheckTransition(from InvoiceStatus, to InvoiceStatus) error {
	if _, ok := allowedTransitions[to]; !ok {
		return &utils.TransitionError{From: string(from), To: string(to), Reason: "unknown status"}
	}
	if from == to {
		return &utils.TransitionError{From: string(from), To: string(to), Reason: "invoice is already " + string(to)}
	}
	if to == InvoiceStatusFinalized {
		return &utils.TransitionError{From: string(from), To: string(to), Reason: "use finalize"}
	}
	return checkEdge(from, to)
}

// CheckFinalizeTransition is the one path into finalized.
func CheckFinalizeTransition(inv *Invoice) error {
	if inv.HasNumber() || inv.SerialNumber != nil {
		return &utils.TransitionError{From: string(inv.Status), To: string(InvoiceStatusFinalized), Reason: "invoice already has a number"}
	}
	return checkEdge(inv.Status, InvoiceStatusFinalized)
}

func checkEdge(from InvoiceStatus, to InvoiceStatus) error {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return nil
		}
	}
	return &utils.TransitionError{From: string(from), To: string(to), Reason: "transition not allowed"}
}

// GuardInvoiceWrite is called before any write that touches the given invoice fields (json names).
// A status entry is checked against the transition table; everything else must be a draft-editable field.
func GuardInvoiceWrite(inv *Invoice, fields []string, newStatus InvoiceStatus) error {
	sorted := append([]string(nil), fields...)
	sort.Strings(sorted)

	for _, field := range sorted {
		kind, known := invoiceFields[field]
		if kind == fieldStatus {
			continue
		}
		if !inv.Status.IsMutable() {
			return &utils.ImmutableRecordError{InvoiceId: inv.ID, Status: string(inv.Status), Field: field}
		}
		switch {
		case !known:
			return utils.NewValidationError(field, "is not a writable invoice field")
		case kind == fieldComputed:
			return utils.NewValidationError(field, "is computed by the calculation engine")
		case kind == fieldNumbering:
			return utils.NewValidationError(field, "is assigned at finalize")
		case kind == fieldReadOnly:
			return utils.NewValidationError(field, "is read-only")
		}
	}
	for _, field := range sorted {
		if field == "status" {
			return CheckTransition(inv.Status, newStatus)
		}
	}
	return nil
}

// GuardItemWrite rejects item inserts, updates and deletes on anything but a draft.
func GuardItemWrite(inv *Invoice) error {
	if !inv.Status.IsMutable() {
		return &utils.ImmutableRecordError{InvoiceId: inv.ID, Status: string(inv.Status), Field: "items"}
	}
	return nil
}

// GuardDelete allows physical deletion of drafts only.
func GuardDelete(inv *Invoice) error {
	if !inv.Status.IsMutable() {
		return &utils.ImmutableRecordError{InvoiceId: inv.ID, Status: string(inv.Status), Field: "invoice"}
	}
	return nil
}
