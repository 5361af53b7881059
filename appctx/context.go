package appctx

import "context"

// ContextKey is the shared type for all context keys in this codebase.
// Keeping it in a tiny package avoids import cycles (config <-> utils).
type ContextKey string

func (c ContextKey) String() string { return string(c) }

var (
	ContextKeyTenantId      = ContextKey("TenantId")
	ContextKeyUserId        = ContextKey("UserId")
	ContextKeyUserName      = ContextKey("UserName")
	ContextKeyCorrelationId = ContextKey("CorrelationId")

	// Request context captured by the calling boundary for audit rows.
	ContextKeyIPAddress = ContextKey("IPAddress")
	ContextKeyUserAgent = ContextKey("UserAgent")
	ContextKeyChannel   = ContextKey("Channel")

	// ContextKeySkipTenantScope forces tenant scoping to be disabled for the request.
	// Use sparingly (internal ops only, e.g. the retention sweep).
	ContextKeySkipTenantScope = ContextKey("SkipTenantScope")
)

func GetString(ctx context.Context, key ContextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	return v, ok
}

func GetBool(ctx context.Context, key ContextKey) (bool, bool) {
	v, ok := ctx.Value(key).(bool)
	return v, ok
}

func GetInt(ctx context.Context, key ContextKey) (int, bool) {
	v, ok := ctx.Value(key).(int)
	return v, ok
}

func Set(ctx context.Context, key ContextKey, value any) context.Context {
	return context.WithValue(ctx, key, value)
}

// RequestInfo is the optional caller context recorded on audit rows.
type RequestInfo struct {
	IPAddress     string
	UserAgent     string
	Channel       string
	CorrelationId string
}

func GetRequestInfo(ctx context.Context) RequestInfo {
	var info RequestInfo
	info.IPAddress, _ = GetString(ctx, ContextKeyIPAddress)
	info.UserAgent, _ = GetString(ctx, ContextKeyUserAgent)
	info.Channel, _ = GetString(ctx, ContextKeyChannel)
	info.CorrelationId, _ = GetString(ctx, ContextKeyCorrelationId)
	return info
}

func WithRequestInfo(ctx context.Context, info RequestInfo) context.Context {
	if info.IPAddress != "" {
		ctx = Set(ctx, ContextKeyIPAddress, info.IPAddress)
	}
	if info.UserAgent != "" {
		ctx = Set(ctx, ContextKeyUserAgent, info.UserAgent)
	}
	if info.Channel != "" {
		ctx = Set(ctx, ContextKeyChannel, info.Channel)
	}
	if info.CorrelationId != "" {
		ctx = Set(ctx, ContextKeyCorrelationId, info.CorrelationId)
	}
	return ctx
}
