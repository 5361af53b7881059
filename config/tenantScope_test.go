package config

import (
	"context"
	"testing"

	"bitbucket.org/mmdatafocus/billing_ledger/appctx"
)

type scopedRow struct {
	ID       int    `gorm:"primary_key"`
	TenantId string `gorm:"size:64"`
	Name     string `gorm:"size:50"`
}

type unscopedRow struct {
	ID   int `gorm:"primary_key"`
	Name string
}

func tenantCtx(tenantId string) context.Context {
	return appctx.Set(context.Background(), appctx.ContextKeyTenantId, tenantId)
}

func TestTenantScopePlugin(t *testing.T) {
	db, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&scopedRow{}, &unscopedRow{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	seed := []scopedRow{{TenantId: "a", Name: "a1"}, {TenantId: "a", Name: "a2"}, {TenantId: "b", Name: "b1"}}
	if err := db.Create(&seed).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := db.Create(&[]unscopedRow{{Name: "x"}, {Name: "y"}}).Error; err != nil {
		t.Fatalf("seed unscoped: %v", err)
	}

	count := func(ctx context.Context, model interface{}) int64 {
		t.Helper()
		var n int64
		if err := db.WithContext(ctx).Model(model).Count(&n).Error; err != nil {
			t.Fatalf("count: %v", err)
		}
		return n
	}

	cases := []struct {
		name  string
		ctx   context.Context
		model interface{}
		want  int64
	}{
		{"tenant a", tenantCtx("a"), &scopedRow{}, 2},
		{"tenant b", tenantCtx("b"), &scopedRow{}, 1},
		{"no tenant on context", context.Background(), &scopedRow{}, 3},
		{"skip flag", appctx.Set(tenantCtx("a"), appctx.ContextKeySkipTenantScope, true), &scopedRow{}, 3},
		{"model without tenant column", tenantCtx("a"), &unscopedRow{}, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := count(tc.ctx, tc.model); got != tc.want {
				t.Fatalf("expected %d rows, got %d", tc.want, got)
			}
		})
	}

	// an explicit filter for another tenant does not escape the context tenant
	var leaked []scopedRow
	if err := db.WithContext(tenantCtx("a")).Where("tenant_id = ?", "b").Find(&leaked).Error; err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(leaked) != 0 {
		t.Fatalf("expected no rows of tenant b, got %d", len(leaked))
	}

	res := db.WithContext(tenantCtx("b")).Model(&scopedRow{}).Where("name <> ?", "").Update("name", "renamed")
	if res.Error != nil || res.RowsAffected != 1 {
		t.Fatalf("scoped update: expected 1 row, got %d (%v)", res.RowsAffected, res.Error)
	}
	res = db.WithContext(tenantCtx("b")).Where("name = ?", "a1").Delete(&scopedRow{})
	if res.Error != nil || res.RowsAffected != 0 {
		t.Fatalf("scoped delete must not reach tenant a, deleted %d (%v)", res.RowsAffected, res.Error)
	}
	if got := count(tenantCtx("a"), &scopedRow{}); got != 2 {
		t.Fatalf("tenant a rows changed, got %d", got)
	}
}
