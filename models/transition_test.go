package models

import (
	"errors"
	"testing"

	"bitbucket.org/mmdatafocus/billing_ledger/utils"
)

func TestCheckTransition(t *testing.T) {
	cases := []struct {
		from InvoiceStatus
		to   InvoiceStatus
		ok   bool
	}{
		{InvoiceStatusDraft, InvoiceStatusCancelled, true},
		{InvoiceStatusDraft, InvoiceStatusFinalized, false}, // only Finalize
		{InvoiceStatusDraft, InvoiceStatusSent, false},
		{InvoiceStatusFinalized, InvoiceStatusSent, true},
		{InvoiceStatusFinalized, InvoiceStatusPaid, false},
		{InvoiceStatusSent, InvoiceStatusPaid, true},
		{InvoiceStatusSent, InvoiceStatusOverdue, true},
		{InvoiceStatusSent, InvoiceStatusDraft, false},
		{InvoiceStatusOverdue, InvoiceStatusPaid, true},
		{InvoiceStatusOverdue, InvoiceStatusCancelled, true},
		{InvoiceStatusPaid, InvoiceStatusCancelled, false},
		{InvoiceStatusCancelled, InvoiceStatusDraft, false},
		{InvoiceStatusSent, InvoiceStatusSent, false},
		{InvoiceStatusSent, "archived", false},
	}
	for _, tc := range cases {
		err := CheckTransition(tc.from, tc.to)
		if tc.ok && err != nil {
			t.Fatalf("%s -> %s: expected allowed, got %v", tc.from, tc.to, err)
		}
		if !tc.ok && !errors.Is(err, utils.ErrInvalidTransition) {
			t.Fatalf("%s -> %s: expected invalid transition, got %v", tc.from, tc.to, err)
		}
	}
}

func TestCheckFinalizeTransition_RejectsNumberedInvoice(t *testing.T) {
	number := "INV-0001"
	inv := &Invoice{ID: 1, Status: InvoiceStatusDraft, InvoiceNumber: &number}
	if err := CheckFinalizeTransition(inv); !errors.Is(err, utils.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	inv.InvoiceNumber = nil
	if err := CheckFinalizeTransition(inv); err != nil {
		t.Fatalf("expected draft without number to be finalizable, got %v", err)
	}
}

func TestGuardInvoiceWrite_FinalizedRejectsFinancialFields(t *testing.T) {
	inv := &Invoice{ID: 7, Status: InvoiceStatusFinalized}
	for _, field := range []string{"subtotal", "client_id", "invoice_number", "notes", "items"} {
		err := GuardInvoiceWrite(inv, []string{field}, "")
		if !errors.Is(err, utils.ErrImmutableRecordViolation) {
			t.Fatalf("field=%s: expected immutable violation, got %v", field, err)
		}
	}
}

func TestGuardInvoiceWrite_StatusOnly(t *testing.T) {
	inv := &Invoice{ID: 7, Status: InvoiceStatusSent}
	if err := GuardInvoiceWrite(inv, []string{"status"}, InvoiceStatusPaid); err != nil {
		t.Fatalf("sent -> paid: %v", err)
	}
	if err := GuardInvoiceWrite(inv, []string{"status"}, InvoiceStatusDraft); !errors.Is(err, utils.ErrInvalidTransition) {
		t.Fatalf("sent -> draft: expected invalid transition, got %v", err)
	}
	// status is allowed but the rest of the patch is not
	if err := GuardInvoiceWrite(inv, []string{"status", "grand_total"}, InvoiceStatusPaid); !errors.Is(err, utils.ErrImmutableRecordViolation) {
		t.Fatalf("expected immutable violation, got %v", err)
	}
}

func TestGuardInvoiceWrite_Draft(t *testing.T) {
	inv := &Invoice{ID: 3, Status: InvoiceStatusDraft}
	if err := GuardInvoiceWrite(inv, []string{"client_id", "notes", "discount_value"}, ""); err != nil {
		t.Fatalf("draft edit: %v", err)
	}
	for _, field := range []string{"grand_total", "serial_number", "tenant_id", "bogus"} {
		var ve *utils.ValidationError
		err := GuardInvoiceWrite(inv, []string{field}, "")
		if !errors.As(err, &ve) || ve.Field != field {
			t.Fatalf("field=%s: expected validation error, got %v", field, err)
		}
	}
}

func TestGuardItemWriteAndDelete(t *testing.T) {
	draft := &Invoice{ID: 1, Status: InvoiceStatusDraft}
	if err := GuardItemWrite(draft); err != nil {
		t.Fatalf("draft item write: %v", err)
	}
	if err := GuardDelete(draft); err != nil {
		t.Fatalf("draft delete: %v", err)
	}
	for _, status := range []InvoiceStatus{InvoiceStatusFinalized, InvoiceStatusSent, InvoiceStatusPaid, InvoiceStatusOverdue, InvoiceStatusCancelled} {
		inv := &Invoice{ID: 2, Status: status}
		if err := GuardItemWrite(inv); !errors.Is(err, utils.ErrImmutableRecordViolation) {
			t.Fatalf("status=%s item write: expected immutable violation, got %v", status, err)
		}
		if err := GuardDelete(inv); !errors.Is(err, utils.ErrImmutableRecordViolation) {
			t.Fatalf("status=%s delete: expected immutable violation, got %v", status, err)
		}
	}
}
