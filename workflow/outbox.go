package workflow

import (
	"encoding/json"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/billing_ledger/appctx"
	"bitbucket.org/mmdatafocus/billing_ledger/config"
	"bitbucket.org/mmdatafocus/billing_ledger/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// InvoiceEvent is the body published on the invoice events topic.
type InvoiceEvent struct {
	EventId        string               `json:"event_id"`
	Type           string               `json:"type"`
	TenantId       string               `json:"tenant_id"`
	InvoiceId      int                  `json:"invoice_id"`
	InvoiceNumber  string               `json:"invoice_number,omitempty"`
	Status         models.InvoiceStatus `json:"status"`
	PreviousStatus models.InvoiceStatus `json:"previous_status,omitempty"`
	SnapshotId     int                  `json:"snapshot_id,omitempty"`
	GrandTotal     decimal.Decimal      `json:"grand_total"`
	Currency       string               `json:"currency"`
	OccurredAt     time.Time            `json:"occurred_at"`
}

func newInvoiceEvent(eventType string, inv *models.Invoice, previous models.InvoiceStatus, snapshotId int, at time.Time) InvoiceEvent {
	return InvoiceEvent{
		EventId:        uuid.NewString(),
		Type:           eventType,
		TenantId:       inv.TenantId,
		InvoiceId:      inv.ID,
		InvoiceNumber:  inv.NumberString(),
		Status:         inv.Status,
		PreviousStatus: previous,
		SnapshotId:     snapshotId,
		GrandTotal:     inv.GrandTotal,
		Currency:       inv.Currency,
		OccurredAt:     at.UTC(),
	}
}

// enqueueEventTx writes the event in the caller's transaction; the dispatcher publishes it after commit.
func enqueueEventTx(tx *gorm.DB, event InvoiceEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	attributes := map[string]string{"event_type": event.Type, "tenant_id": event.TenantId}
	return enqueueTx(tx, models.OutboxMessage{
		TenantId:    event.TenantId,
		InvoiceId:   event.InvoiceId,
		Topic:       models.OutboxTopicInvoiceEvents,
		EventType:   event.Type,
		OrderingKey: fmt.Sprintf("%s:%d", event.TenantId, event.InvoiceId),
		Payload:     string(body),
	}, attributes)
}

// enqueueArchiveTx queues the stored snapshot bytes for the write-once archive.
func enqueueArchiveTx(tx *gorm.DB, snap *models.InvoiceSnapshot) error {
	attributes := map[string]string{
		config.ArchiveObjectAttribute: ArchiveObjectName(snap),
		"payload_hash":                snap.PayloadHash,
		"schema_version":              snap.SchemaVersion,
	}
	return enqueueTx(tx, models.OutboxMessage{
		TenantId:  snap.TenantId,
		InvoiceId: snap.InvoiceId,
		Topic:     models.OutboxTopicSnapshotArchive,
		EventType: models.InvoiceEventSnapshotTaken,
		Payload:   snap.Payload,
	}, attributes)
}

func ArchiveObjectName(snap *models.InvoiceSnapshot) string {
	return fmt.Sprintf("snapshots/%s/%d/%d-%s.json", snap.TenantId, snap.InvoiceId, snap.ID, snap.Status)
}

func enqueueTx(tx *gorm.DB, msg models.OutboxMessage, attributes map[string]string) error {
	b, err := json.Marshal(attributes)
	if err != nil {
		return err
	}
	msg.Attributes = string(b)
	msg.PublishStatus = models.OutboxPublishStatusPending
	if tx.Statement != nil && tx.Statement.Context != nil {
		msg.CorrelationId = appctx.GetRequestInfo(tx.Statement.Context).CorrelationId
	}
	return tx.Create(&msg).Error
}
