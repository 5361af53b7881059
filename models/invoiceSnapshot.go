package models

import "time"

type InvoiceSnapshot struct {
	ID            int           `gorm:"primary_key" json:"id"`
	TenantId      string        `gorm:"size:64;not null;index" json:"tenant_id"`
	InvoiceId     int           `gorm:"not null;index:idx_snapshot_invoice,priority:1" json:"invoice_id"`
	Status        InvoiceStatus `gorm:"size:20;not null" json:"status"`
	SchemaVersion string        `gorm:"size:10;not null" json:"schema_version"`
	Payload       string        `gorm:"type:longtext;not null" json:"payload"`
	PayloadHash   string        `gorm:"size:64;not null" json:"payload_hash"`
	CreatedBy     int           `json:"created_by"`
	CreatedByName string        `gorm:"size:100" json:"created_by_name"`
	CreatedAt     time.Time     `gorm:"autoCreateTime;index:idx_snapshot_invoice,priority:2" json:"created_at"`
}
