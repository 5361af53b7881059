package config

import (
	"context"

	"bitbucket.org/mmdatafocus/billing_ledger/appctx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const tenantColumn = "tenant_id"

// TenantScopePlugin ANDs "tenant_id = <context tenant>" into every query, row scan, update and
// delete on a model that has a tenant_id column. A statement that names another tenant
// explicitly therefore matches nothing.
//
// Statements run without a context tenant are left alone; so are raw SQL and creates.
// Internal jobs that work across tenants (retention sweep, outbox dispatcher) opt out with
// ContextKeySkipTenantScope.
type TenantScopePlugin struct{}

func NewTenantScopePlugin() *TenantScopePlugin { return &TenantScopePlugin{} }

func (p *TenantScopePlugin) Name() string { return "tenant_scope" }

func (p *TenantScopePlugin) Initialize(db *gorm.DB) error {
	callbacks := db.Callback()
	if err := callbacks.Query().Before("gorm:query").Register("tenant_scope:query", scopeToTenant); err != nil {
		return err
	}
	if err := callbacks.Row().Before("gorm:row").Register("tenant_scope:row", scopeToTenant); err != nil {
		return err
	}
	if err := callbacks.Update().Before("gorm:update").Register("tenant_scope:update", scopeToTenant); err != nil {
		return err
	}
	return callbacks.Delete().Before("gorm:delete").Register("tenant_scope:delete", scopeToTenant)
}

func scopeToTenant(db *gorm.DB) {
	stmt := db.Statement
	if stmt == nil || stmt.Context == nil || stmt.Schema == nil {
		return
	}
	tenantId, ok := scopedTenant(stmt.Context)
	if !ok {
		return
	}
	if stmt.Schema.LookUpField(tenantColumn) == nil {
		return
	}
	stmt.AddClause(clause.Where{Exprs: []clause.Expression{
		clause.Eq{Column: clause.Column{Table: stmt.Table, Name: tenantColumn}, Value: tenantId},
	}})
}

func scopedTenant(ctx context.Context) (string, bool) {
	if skip, _ := appctx.GetBool(ctx, appctx.ContextKeySkipTenantScope); skip {
		return "", false
	}
	tenantId, _ := appctx.GetString(ctx, appctx.ContextKeyTenantId)
	return tenantId, tenantId != ""
}
