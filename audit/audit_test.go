package audit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/billing_ledger/appctx"
	"bitbucket.org/mmdatafocus/billing_ledger/config"
	"bitbucket.org/mmdatafocus/billing_ledger/models"
	"bitbucket.org/mmdatafocus/billing_ledger/utils"
	"gorm.io/gorm"
)

type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time { return c.now }

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := config.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := models.MigrateTable(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestRecord_CapturesRequestContext(t *testing.T) {
	db := newTestDB(t)
	clock := &fixedClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	rec := NewRecorder(db, clock)

	ctx := appctx.WithRequestInfo(context.Background(), appctx.RequestInfo{
		IPAddress:     "10.0.0.8",
		UserAgent:     "invoice-ui/2.1",
		Channel:       string(models.AuditChannelWeb),
		CorrelationId: "corr-1",
	})
	row, err := rec.Record(ctx, "t1", Entry{
		InvoiceId:   4,
		Action:      models.AuditActionFinalize,
		Actor:       models.Actor{UserId: 3, UserName: "alice"},
		Description: "finalized as INV-0001",
		After:       map[string]string{"status": "finalized"},
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if row.IPAddress != "10.0.0.8" || row.UserAgent != "invoice-ui/2.1" || row.Channel != models.AuditChannelWeb || row.CorrelationId != "corr-1" {
		t.Fatalf("request context not captured: %+v", row)
	}
	var after map[string]string
	if err := json.Unmarshal([]byte(row.After), &after); err != nil || after["status"] != "finalized" {
		t.Fatalf("unexpected after state %q (%v)", row.After, err)
	}
	if row.Before != "" {
		t.Fatalf("expected empty before state, got %q", row.Before)
	}
}

func TestRecord_DefaultsToSystemChannel(t *testing.T) {
	db := newTestDB(t)
	rec := NewRecorder(db, nil)
	row, err := rec.Record(context.Background(), "t1", Entry{InvoiceId: 1, Action: models.AuditActionCreate, Actor: models.SystemActor})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if row.Channel != models.AuditChannelSystem {
		t.Fatalf("expected system channel, got %s", row.Channel)
	}
	if _, err := rec.Record(context.Background(), "t1", Entry{Action: models.AuditActionCreate}); err == nil {
		t.Fatalf("expected error for entry without invoice")
	}
}

func TestTrail_OrderedAndTenantScoped(t *testing.T) {
	db := newTestDB(t)
	clock := &fixedClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	rec := NewRecorder(db, clock)
	ctx := context.Background()

	actions := []models.AuditAction{models.AuditActionCreate, models.AuditActionUpdate, models.AuditActionFinalize, models.AuditActionStatusChange}
	for _, action := range actions {
		clock.now = clock.now.Add(time.Minute)
		if _, err := rec.Record(ctx, "t1", Entry{InvoiceId: 9, Action: action}); err != nil {
			t.Fatalf("Record %s: %v", action, err)
		}
	}
	if _, err := rec.Record(ctx, "t2", Entry{InvoiceId: 9, Action: models.AuditActionCreate}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	trail, err := rec.Trail(ctx, "t1", 9)
	if err != nil {
		t.Fatalf("Trail: %v", err)
	}
	if len(trail) != len(actions) {
		t.Fatalf("expected %d entries, got %d", len(actions), len(trail))
	}
	for i, action := range actions {
		if trail[i].Action != action {
			t.Fatalf("entry %d: expected %s, got %s", i, action, trail[i].Action)
		}
	}

	// the tenant scope plugin limits unfiltered reads to the context tenant
	var scoped []models.InvoiceAuditLog
	if err := db.WithContext(utils.SetTenantIdInContext(ctx, "t2")).Find(&scoped).Error; err != nil {
		t.Fatalf("scoped find: %v", err)
	}
	if len(scoped) != 1 || scoped[0].TenantId != "t2" {
		t.Fatalf("expected only t2 rows, got %d", len(scoped))
	}
}

func TestSweep_DeletesOnlyExpiredEntries(t *testing.T) {
	db := newTestDB(t)
	clock := &fixedClock{}
	rec := NewRecorder(db, clock)
	ctx := context.Background()

	now := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	ages := []time.Time{
		now.AddDate(-3, 0, 0),
		now.AddDate(0, -25, 0),
		now.AddDate(0, -24, -1),
		now.AddDate(0, -23, 0),
		now.AddDate(0, 0, -1),
	}
	for i, at := range ages {
		clock.now = at
		tenant := "t1"
		if i%2 == 1 {
			tenant = "t2"
		}
		if _, err := rec.Record(ctx, tenant, Entry{InvoiceId: i + 1, Action: models.AuditActionUpdate}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	clock.now = now
	sweeper := NewSweeper(db, nil, clock, 0, 2)
	if !sweeper.Cutoff().Equal(now.AddDate(0, -24, 0)) {
		t.Fatalf("expected default 24 month window, got cutoff %s", sweeper.Cutoff())
	}
	// a tenant on the context must not narrow the sweep
	deleted, err := sweeper.Sweep(utils.SetTenantIdInContext(ctx, "t1"))
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if deleted != 3 {
		t.Fatalf("expected 3 expired entries deleted, got %d", deleted)
	}
	var remaining int64
	db.Model(&models.InvoiceAuditLog{}).Count(&remaining)
	if remaining != 2 {
		t.Fatalf("expected 2 entries left, got %d", remaining)
	}

	again, err := sweeper.Sweep(ctx)
	if err != nil || again != 0 {
		t.Fatalf("second sweep: expected 0, got %d (%v)", again, err)
	}
}

func TestRecordTx_FailsWhenStateCannotBeEncoded(t *testing.T) {
	db := newTestDB(t)
	rec := NewRecorder(db, &fixedClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)})

	_, err := rec.Record(context.Background(), "t1", Entry{
		InvoiceId: 4,
		Action:    models.AuditActionUpdate,
		Actor:     models.Actor{UserId: 3},
		Before:    map[string]interface{}{"total": func() {}},
	})
	if err == nil {
		t.Fatalf("expected an encoding error")
	}

	var rows int64
	db.Model(&models.InvoiceAuditLog{}).Count(&rows)
	if rows != 0 {
		t.Fatalf("expected no audit row to be written, got %d", rows)
	}
}
