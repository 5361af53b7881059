package models

import "gorm.io/gorm"

func MigrateTable(db *gorm.DB) error {
	return db.AutoMigrate(
		&Invoice{}, &InvoiceItem{},
		&InvoicePrefix{},
		&InvoiceSnapshot{},
		&InvoiceAuditLog{},
		&OutboxMessage{},
	)
}
