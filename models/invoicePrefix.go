package models

import "time"

// InvoicePrefix is one version of a tenant's numbering prefix. Rows are ended, never rewritten.
// ActiveTenantId is set only while the row is active; its unique index allows one active
// prefix per tenant.
type InvoicePrefix struct {
	ID             int        `gorm:"primary_key" json:"id"`
	TenantId       string     `gorm:"size:64;not null;index:idx_prefix_active,priority:1" json:"tenant_id"`
	Prefix         string     `gorm:"size:50;not null" json:"prefix"`
	StartedAt      time.Time  `gorm:"not null" json:"started_at"`
	EndedAt        *time.Time `gorm:"index:idx_prefix_active,priority:2" json:"ended_at"`
	ActiveTenantId *string    `gorm:"size:64;uniqueIndex:idx_prefix_one_active" json:"-"`
	CreatedBy      int        `gorm:"index" json:"created_by"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

func NewActivePrefix(tenantId string, prefix string, startedAt time.Time, createdBy int) InvoicePrefix {
	active := tenantId
	return InvoicePrefix{
		TenantId:       tenantId,
		Prefix:         prefix,
		StartedAt:      startedAt,
		ActiveTenantId: &active,
		CreatedBy:      createdBy,
	}
}

// EndPrefixColumns is the update that retires an active prefix.
func EndPrefixColumns(endedAt time.Time) map[string]interface{} {
	return map[string]interface{}{
		"ended_at":         endedAt,
		"active_tenant_id": nil,
	}
}

func (p *InvoicePrefix) IsActive() bool {
	return p.EndedAt == nil
}
