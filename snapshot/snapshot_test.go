package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/billing_ledger/calculation"
	"bitbucket.org/mmdatafocus/billing_ledger/config"
	"bitbucket.org/mmdatafocus/billing_ledger/models"
	"bitbucket.org/mmdatafocus/billing_ledger/utils"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

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

func fixtureInput(t *testing.T) BuildInput {
	t.Helper()
	number := "INV-2026-0001"
	prefixUsed := "INV-2026"
	serial := int64(1)
	clientId := 5
	finalizedAt := time.Date(2026, 2, 1, 9, 30, 0, 0, time.UTC)
	rate := decimal.NewFromInt(16)
	inv := &models.Invoice{
		ID:            11,
		TenantId:      "t1",
		ClientId:      &clientId,
		Status:        models.InvoiceStatusFinalized,
		IssueDate:     time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		Currency:      "KES",
		InvoiceNumber: &number,
		PrefixUsed:    &prefixUsed,
		SerialNumber:  &serial,
		ControlNumber: "CU-001",
		QrCode:        "https://tax.example/qr/1",
		FinalizedAt:   &finalizedAt,
		Items: []models.InvoiceItem{
			{ID: 1, Position: 1, Description: "Consulting", Quantity: decimal.NewFromInt(10), UnitPrice: decimal.NewFromInt(100), TaxRate: decimal.NewNullDecimal(rate)},
		},
	}
	tenant := &models.TenantProfile{
		TenantId: "t1", Name: "Acme Ltd", Address: "1 Main St", Email: "billing@acme.test", Phone: "+254700000000",
		TaxId: "P051", RegistrationNumber: "REG-9", LogoReference: "logos/acme.png",
		Billing: models.TenantBillingSettings{TaxSettings: calculation.TaxSettings{
			TaxEnabled: true, TaxRegistered: true, DefaultTaxRate: rate, FeeEnabled: true, FeeRate: decimal.NewFromInt(3),
		}},
	}
	client := &models.ClientProfile{ID: clientId, Name: "Globex", Email: "ap@globex.test", Address: "2 Side Rd", TaxId: "P099"}

	breakdown, err := calculation.Calculate(inv.CalculationItems(), inv.CalculationConfig(tenant.Billing.TaxSettings))
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	return BuildInput{
		Invoice:   inv,
		Tenant:    tenant,
		Client:    client,
		Breakdown: breakdown,
		Status:    models.InvoiceStatusFinalized,
		Actor:     models.Actor{UserId: 3, UserName: "alice"},
		At:        finalizedAt,
	}
}

func TestBuild_CopiesEverythingByValue(t *testing.T) {
	in := fixtureInput(t)
	payload, err := Build(in)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if payload.Seller.Name != "Acme Ltd" || payload.Seller.TaxId != "P051" || payload.Seller.LogoReference != "logos/acme.png" {
		t.Fatalf("unexpected seller: %+v", payload.Seller)
	}
	if payload.Buyer.Name != "Globex" || payload.Buyer.ClientId != 5 {
		t.Fatalf("unexpected buyer: %+v", payload.Buyer)
	}
	if payload.Invoice.Number != "INV-2026-0001" || payload.Invoice.SerialNumber != 1 {
		t.Fatalf("unexpected header: %+v", payload.Invoice)
	}
	if len(payload.Items) != 1 || !payload.Items[0].LineTotal.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("unexpected items: %+v", payload.Items)
	}
	if payload.Compliance.ControlNumber != "CU-001" || payload.Metadata.SchemaVersion != SchemaVersion {
		t.Fatalf("unexpected compliance/metadata: %+v %+v", payload.Compliance, payload.Metadata)
	}

	want, _ := json.Marshal(in.Breakdown.Totals)
	got, _ := json.Marshal(payload.Totals)
	if !bytes.Equal(want, got) {
		t.Fatalf("totals differ from engine output\nengine:   %s\nsnapshot: %s", want, got)
	}

	// later edits to the sources do not reach an already built payload
	in.Tenant.Name = "Renamed"
	in.Invoice.Items[0].Description = "Changed"
	if payload.Seller.Name != "Acme Ltd" || payload.Items[0].Description != "Consulting" {
		t.Fatalf("payload shares state with its sources")
	}
}

func TestBuild_RejectsMismatchedBreakdown(t *testing.T) {
	in := fixtureInput(t)
	in.Breakdown.Lines = nil
	if _, err := Build(in); err == nil {
		t.Fatalf("expected error for breakdown without lines")
	}
	in = fixtureInput(t)
	in.Client = nil
	if _, err := Build(in); err == nil {
		t.Fatalf("expected error without client")
	}
}

func TestStore_ReadBackIsIndependentOfSources(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db, nil, 0)
	ctx := context.Background()

	in := fixtureInput(t)
	payload, err := Build(in)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	row, err := store.CreateTx(db, "t1", in.Invoice.ID, payload)
	if err != nil {
		t.Fatalf("CreateTx: %v", err)
	}
	first, err := store.Get(ctx, "t1", row.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	// mutate and delete everything the snapshot was built from
	in.Tenant.Name = "Someone Else"
	in.Client.Name = "Nobody"
	in.Invoice.Items = nil
	db.Where("tenant_id = ?", "t1").Delete(&models.Invoice{})

	second, err := store.Get(ctx, "t1", row.ID)
	if err != nil {
		t.Fatalf("Get after source changes: %v", err)
	}
	if !bytes.Equal(first.Raw, second.Raw) {
		t.Fatalf("snapshot changed after source mutation")
	}
	if second.Data.Seller.Name != "Acme Ltd" || second.Data.Buyer.Name != "Globex" || len(second.Data.Items) != 1 {
		t.Fatalf("unexpected payload: %+v", second.Data)
	}
	if !second.Data.Totals.GrandTotal.Equal(decimal.RequireFromString("1194.80")) {
		t.Fatalf("expected grand total 1194.80, got %s", second.Data.Totals.GrandTotal)
	}
	// decoding and re-encoding reproduces the stored bytes
	reencoded, _, err := Encode(&second.Data)
	if err != nil || !bytes.Equal(reencoded, second.Raw) {
		t.Fatalf("re-encoded payload differs: %s", reencoded)
	}
}

func TestStore_DetectsTampering(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db, nil, 0)
	ctx := context.Background()

	payload, err := Build(fixtureInput(t))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	row, err := store.CreateTx(db, "t1", 11, payload)
	if err != nil {
		t.Fatalf("CreateTx: %v", err)
	}
	if err := db.Exec("UPDATE invoice_snapshots SET payload = REPLACE(payload, 'Globex', 'Initech') WHERE id = ?", row.ID).Error; err != nil {
		t.Fatalf("tamper: %v", err)
	}
	if _, err := store.Get(ctx, "t1", row.ID); !errors.Is(err, utils.ErrSnapshotTampered) {
		t.Fatalf("expected tamper detection, got %v", err)
	}
}

func TestStore_LatestAndList(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db, nil, 0)
	ctx := context.Background()

	if _, err := store.Latest(ctx, "t1", 11); !errors.Is(err, utils.ErrorRecordNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	in := fixtureInput(t)
	for _, status := range []models.InvoiceStatus{models.InvoiceStatusFinalized, models.InvoiceStatusSent, models.InvoiceStatusPaid} {
		in.Status = status
		in.At = in.At.Add(time.Hour)
		payload, err := Build(in)
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		if _, err := store.Create(ctx, "t1", 11, payload); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	latest, err := store.Latest(ctx, "t1", 11)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest.Status != models.InvoiceStatusPaid {
		t.Fatalf("expected latest to be paid, got %s", latest.Status)
	}
	all, err := store.List(ctx, "t1", 11)
	if err != nil || len(all) != 3 {
		t.Fatalf("expected 3 snapshots, got %d (%v)", len(all), err)
	}
	if all[0].Status != models.InvoiceStatusFinalized || all[2].Status != models.InvoiceStatusPaid {
		t.Fatalf("unexpected order: %s, %s", all[0].Status, all[2].Status)
	}

	// other tenants see nothing
	if others, _ := store.List(ctx, "t2", 11); len(others) != 0 {
		t.Fatalf("expected no snapshots for t2, got %d", len(others))
	}
}

func TestStore_RedisCache(t *testing.T) {
	addr := os.Getenv("REDIS_ADDRESS")
	if os.Getenv("INTEGRATION_TESTS") != "1" || addr == "" {
		t.Skip("set INTEGRATION_TESTS=1 and REDIS_ADDRESS to run")
	}
	ctx := context.Background()
	cache := redis.NewClient(&redis.Options{Addr: addr})
	defer cache.Close()

	db := newTestDB(t)
	store := NewStore(db, cache, time.Minute)
	payload, err := Build(fixtureInput(t))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	row, err := store.CreateTx(db, "t1", 11, payload)
	if err != nil {
		t.Fatalf("CreateTx: %v", err)
	}
	defer cache.Del(ctx, cacheKey("t1", row.ID))

	if _, err := store.Get(ctx, "t1", row.ID); err != nil {
		t.Fatalf("Get: %v", err)
	}
	// served from cache once the row is gone
	db.Exec("DELETE FROM invoice_snapshots WHERE id = ?", row.ID)
	cached, err := store.Get(ctx, "t1", row.ID)
	if err != nil {
		t.Fatalf("cached Get: %v", err)
	}
	if cached.Data.Buyer.Name != "Globex" {
		t.Fatalf("unexpected cached payload: %+v", cached.Data.Buyer)
	}
}
