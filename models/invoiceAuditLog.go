package models

import "time"

// InvoiceAuditLog rows are append-only. The retention sweep is the only delete.
type InvoiceAuditLog struct {
	ID            int          `gorm:"primary_key" json:"id"`
	TenantId      string       `gorm:"size:64;not null;index" json:"tenant_id"`
	InvoiceId     int          `gorm:"not null;index" json:"invoice_id"`
	Action        AuditAction  `gorm:"size:30;not null" json:"action"`
	Description   string       `gorm:"type:text" json:"description"`
	Before        string       `gorm:"type:text" json:"before"`
	After         string       `gorm:"type:text" json:"after"`
	UserId        int          `gorm:"index" json:"user_id"`
	UserName      string       `gorm:"size:100" json:"user_name"`
	IPAddress     string       `gorm:"size:45" json:"ip_address"`
	UserAgent     string       `gorm:"size:255" json:"user_agent"`
	Channel       AuditChannel `gorm:"size:20" json:"channel"`
	CorrelationId string       `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time    `gorm:"index;not null" json:"created_at"`
}
