package models

import "errors"

type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "draft"
	InvoiceStatusFinalized InvoiceStatus = "finalized"
	InvoiceStatusSent      InvoiceStatus = "sent"
	InvoiceStatusPaid      InvoiceStatus = "paid"
	InvoiceStatusOverdue   InvoiceStatus = "overdue"
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
)

func ParseInvoiceStatus(s string) (InvoiceStatus, error) {
	invoiceStatus := map[string]InvoiceStatus{
		"draft":     InvoiceStatusDraft,
		"finalized": InvoiceStatusFinalized,
		"sent":      InvoiceStatusSent,
		"paid":      InvoiceStatusPaid,
		"overdue":   InvoiceStatusOverdue,
		"cancelled": InvoiceStatusCancelled,
	}
	status, ok := invoiceStatus[s]
	if !ok {
		return "", errors.New("invalid invoice status: " + s)
	}
	return status, nil
}

// IsMutable reports whether financial and structural fields may still change.
func (s InvoiceStatus) IsMutable() bool {
	return s == InvoiceStatusDraft
}

type AuditAction string

const (
	AuditActionCreate       AuditAction = "create"
	AuditActionUpdate       AuditAction = "update"
	AuditActionDelete       AuditAction = "delete"
	AuditActionFinalize     AuditAction = "finalize"
	AuditActionStatusChange AuditAction = "status_change"
	AuditActionPdfGenerate  AuditAction = "pdf_generate"
	AuditActionExport       AuditAction = "export"
)

type AuditChannel string

const (
	AuditChannelWeb    AuditChannel = "web"
	AuditChannelApi    AuditChannel = "api"
	AuditChannelSystem AuditChannel = "system"
)

// Outbox publish statuses for OutboxMessage.PublishStatus.
const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

// Outbox topics. The dispatcher routes each topic to its publisher.
const (
	OutboxTopicInvoiceEvents   = "invoice.events"
	OutboxTopicSnapshotArchive = "invoice.snapshot.archive"
)

const (
	InvoiceEventFinalized     = "invoice.finalized"
	InvoiceEventStatusChanged = "invoice.status_changed"
	InvoiceEventSnapshotTaken = "invoice.snapshot_taken"
)
