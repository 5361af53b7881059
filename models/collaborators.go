package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/billing_ledger/calculation"
	"bitbucket.org/mmdatafocus/billing_ledger/utils"
)

// TenantBillingSettings is the tenant configuration the ledger reads on every calculation and numbering call.
type TenantBillingSettings struct {
	calculation.TaxSettings
	DefaultPrefix string `json:"default_prefix"`
	NumberFormat  string `json:"number_format"`
	NumberPadding int    `json:"number_padding"`
	NumberSuffix  string `json:"number_suffix"`
	Currency      string `json:"currency"`
}

type TenantProfile struct {
	TenantId           string                `json:"tenant_id"`
	Name               string                `json:"name"`
	Address            string                `json:"address"`
	Email              string                `json:"email"`
	Phone              string                `json:"phone"`
	TaxId              string                `json:"tax_id"`
	RegistrationNumber string                `json:"registration_number"`
	LogoReference      string                `json:"logo_reference"`
	Billing            TenantBillingSettings `json:"billing"`
}

type ClientProfile struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
	TaxId   string `json:"tax_id"`
}

type Actor struct {
	UserId   int    `json:"user_id"`
	UserName string `json:"user_name"`
}

// SystemActor is used by scheduled jobs.
var SystemActor = Actor{UserId: 0, UserName: "system"}

type TenantDirectory interface {
	GetTenant(ctx context.Context, tenantId string) (*TenantProfile, error)
}

type ClientDirectory interface {
	GetClient(ctx context.Context, tenantId string, clientId int) (*ClientProfile, error)
}

type ActorResolver interface {
	ResolveActor(ctx context.Context) (Actor, error)
}

type Clock interface {
	Now() time.Time
}

// ContextActorResolver reads the actor the request boundary put on the context.
type ContextActorResolver struct{}

func (ContextActorResolver) ResolveActor(ctx context.Context) (Actor, error) {
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok {
		return Actor{}, utils.NewValidationError("user_id", "is required in context")
	}
	userName, _ := utils.GetUserNameFromContext(ctx)
	return Actor{UserId: userId, UserName: userName}, nil
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
