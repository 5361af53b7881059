package workflow

import (
	"os"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/billing_ledger/config"
	"bitbucket.org/mmdatafocus/billing_ledger/models"
	"bitbucket.org/mmdatafocus/billing_ledger/utils"
	"github.com/google/uuid"
)

// Runs against a real mysql so the row locks and the unique index race for real.
// TEST_MYSQL_DSN example: user:pass@tcp(127.0.0.1:3306)/ledger_test?parseTime=true&loc=UTC
func TestFinalize_ConcurrentSerialsOnMySQL(t *testing.T) {
	dsn := os.Getenv("TEST_MYSQL_DSN")
	if os.Getenv("INTEGRATION_TESTS") != "1" || dsn == "" {
		t.Skip("set INTEGRATION_TESTS=1 and TEST_MYSQL_DSN to run")
	}
	db, err := config.OpenMySQL(dsn)
	if err != nil {
		t.Fatalf("open mysql: %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	// first use of a tenant races on prefix creation as well as on the first serial
	h := newHarnessOn(t, db, utils.RetryPolicy{Attempts: 30, InitialBackoff: 5 * time.Millisecond, MaxBackoff: 200 * time.Millisecond})
	tenantId := "it-" + uuid.NewString()
	h.tenants.mu.Lock()
	h.tenants.tenants[tenantId] = &models.TenantProfile{TenantId: tenantId, Name: "Integration Ltd", Billing: registeredBilling()}
	h.tenants.mu.Unlock()

	assertConsecutiveFinalizes(t, h, tenantId, 16)

	var active int64
	if err := db.Model(&models.InvoicePrefix{}).Where("tenant_id = ? AND ended_at IS NULL", tenantId).Count(&active).Error; err != nil {
		t.Fatalf("count prefixes: %v", err)
	}
	if active != 1 {
		t.Fatalf("expected one active prefix, got %d", active)
	}
}
