// Package audit appends invoice audit entries and runs the age-based retention sweep,
// which is the only code path allowed to delete them.
package audit

import (
	"context"
	"fmt"

	"bitbucket.org/mmdatafocus/billing_ledger/appctx"
	"bitbucket.org/mmdatafocus/billing_ledger/models"
	"bitbucket.org/mmdatafocus/billing_ledger/utils"
	"gorm.io/gorm"
)

type Entry struct {
	InvoiceId   int
	Action      models.AuditAction
	Actor       models.Actor
	Description string
	Before      interface{}
	After       interface{}
}

type Recorder struct {
	db    *gorm.DB
	clock models.Clock
}

func NewRecorder(db *gorm.DB, clock models.Clock) *Recorder {
	if clock == nil {
		clock = models.SystemClock{}
	}
	return &Recorder{db: db, clock: clock}
}

// RecordTx appends one row inside the caller's transaction. Caller address, agent, channel
// and correlation id come from the request info the boundary put on the context.
func (r *Recorder) RecordTx(tx *gorm.DB, tenantId string, entry Entry) (*models.InvoiceAuditLog, error) {
	if tenantId == "" || entry.InvoiceId == 0 || entry.Action == "" {
		return nil, fmt.Errorf("audit entry needs tenant, invoice and action")
	}
	info := appctx.RequestInfo{}
	if tx.Statement != nil && tx.Statement.Context != nil {
		info = appctx.GetRequestInfo(tx.Statement.Context)
	}
	channel := models.AuditChannel(info.Channel)
	if channel == "" {
		channel = models.AuditChannelSystem
	}
	before, err := marshalState(entry.Before)
	if err != nil {
		return nil, fmt.Errorf("audit %s before state: %w", entry.Action, err)
	}
	after, err := marshalState(entry.After)
	if err != nil {
		return nil, fmt.Errorf("audit %s after state: %w", entry.Action, err)
	}

	row := models.InvoiceAuditLog{
		TenantId:      tenantId,
		InvoiceId:     entry.InvoiceId,
		Action:        entry.Action,
		Description:   entry.Description,
		Before:        before,
		After:         after,
		UserId:        entry.Actor.UserId,
		UserName:      entry.Actor.UserName,
		IPAddress:     info.IPAddress,
		UserAgent:     info.UserAgent,
		Channel:       channel,
		CorrelationId: info.CorrelationId,
		CreatedAt:     r.clock.Now(),
	}
	if err := tx.Create(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// Record appends one row in its own transaction, for actions that have no other write
// (e.g. pdf_generate reported by the rendering collaborator).
func (r *Recorder) Record(ctx context.Context, tenantId string, entry Entry) (*models.InvoiceAuditLog, error) {
	var row *models.InvoiceAuditLog
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		row, err = r.RecordTx(tx, tenantId, entry)
		return err
	})
	return row, err
}

// Trail lists an invoice's entries oldest first. The tenant filter comes from the scope plugin.
func (r *Recorder) Trail(ctx context.Context, tenantId string, invoiceId int) ([]*models.InvoiceAuditLog, error) {
	var rows []*models.InvoiceAuditLog
	err := r.db.WithContext(utils.SetTenantIdInContext(ctx, tenantId)).
		Where("invoice_id = ?", invoiceId).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func marshalState(v interface{}) (string, error) {
	if v == nil {
		return "", nil
	}
	return utils.MarshalToJSON(v)
}
