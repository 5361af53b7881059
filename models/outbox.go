package models

import "time"

// OutboxMessage is written in the same transaction as the invoice change it describes
// and published after commit by the dispatcher.
type OutboxMessage struct {
	ID            int    `gorm:"primary_key;index:idx_outbox_dispatch,priority:3" json:"id"`
	TenantId      string `gorm:"size:64;not null;index" json:"tenant_id"`
	InvoiceId     int    `gorm:"index" json:"invoice_id"`
	Topic         string `gorm:"size:100;not null" json:"topic"`
	EventType     string `gorm:"size:100;not null" json:"event_type"`
	OrderingKey   string `gorm:"size:100" json:"ordering_key"`
	Payload       string `gorm:"type:longtext;not null" json:"payload"`
	Attributes    string `gorm:"type:text" json:"attributes"`
	CorrelationId string `gorm:"size:64;index" json:"correlation_id"`

	PublishStatus    string     `gorm:"size:20;index;not null;default:'PENDING';index:idx_outbox_dispatch,priority:1" json:"publish_status"` // PENDING|PROCESSING|SENT|FAILED|DEAD
	PublishedAt      *time.Time `gorm:"index" json:"published_at"`
	ExternalId       *string    `gorm:"size:255" json:"external_id"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index;index:idx_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time `gorm:"index" json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string { return "invoice_outbox_messages" }
