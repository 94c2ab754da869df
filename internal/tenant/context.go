package tenant

import "context"

// TenantContext 请求级的租户与操作者信息，由 HTTP 边界写入一次，下游鉴权与数据隔离只读使用。
type TenantContext struct {
	TenantID      string
	UserID        string
	Roles         []string
	IsSystemAdmin bool
}

type tenantContextKey struct{}

type organizationKey struct{}

// WithTenantContext attaches the given TenantContext to the provided context and returns
// a derived context.
func WithTenantContext(ctx context.Context, tc TenantContext) context.Context {
	return context.WithValue(ctx, tenantContextKey{}, tc)
}

// FromContext attempts to retrieve a TenantContext from the given context.
func FromContext(ctx context.Context) (TenantContext, bool) {
	tc, ok := ctx.Value(tenantContextKey{}).(TenantContext)
	return tc, ok
}

// MustTenantContext panics when the TenantContext is missing; only for code behind the resolver middleware.
func MustTenantContext(ctx context.Context) TenantContext {
	tc, ok := FromContext(ctx)
	if !ok {
		panic("tenant: TenantContext missing from context")
	}
	return tc
}

// WithOrganization 发布解析出的组织，同时写入 TenantContext
func WithOrganization(ctx context.Context, org *Organization) context.Context {
	ctx = context.WithValue(ctx, organizationKey{}, org)
	tc, _ := FromContext(ctx)
	tc.TenantID = org.ID
	return WithTenantContext(ctx, tc)
}

// CurrentTenant 当前请求的组织
func CurrentTenant(ctx context.Context) (*Organization, bool) {
	org, ok := ctx.Value(organizationKey{}).(*Organization)
	return org, ok && org != nil
}

// MustCurrentTenant 缺少组织时 panic
func MustCurrentTenant(ctx context.Context) *Organization {
	org, ok := CurrentTenant(ctx)
	if !ok {
		panic("tenant: organization missing from context")
	}
	return org
}
