package tenant

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// Repository 组织查找。每种解析键各一个方法，未命中返回 ErrTenantNotFound，
// 命中多条返回 ErrAmbiguousTenant。
type Repository interface {
	FindByCustomDomain(ctx context.Context, host string) (*Organization, error)
	FindBySubdomain(ctx context.Context, label string) (*Organization, error)
	FindBySlug(ctx context.Context, slug string) (*Organization, error)
}

// GormRepository 基于 GORM 的组织查找
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository 创建组织仓储
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

// FindByCustomDomain 只匹配已验证的自定义域名
func (r *GormRepository) FindByCustomDomain(ctx context.Context, host string) (*Organization, error) {
	return r.findOne(ctx, "custom_domain", host, func(db *gorm.DB) *gorm.DB {
		return db.Where("domain_verified_at IS NOT NULL")
	})
}

// FindBySubdomain 按子域名标签匹配
func (r *GormRepository) FindBySubdomain(ctx context.Context, label string) (*Organization, error) {
	return r.findOne(ctx, "subdomain", label, nil)
}

// FindBySlug 按路径段匹配
func (r *GormRepository) FindBySlug(ctx context.Context, slug string) (*Organization, error) {
	return r.findOne(ctx, "slug", slug, nil)
}

// findOne 最多取两行，用于发现歧义
func (r *GormRepository) findOne(ctx context.Context, column, value string, scope func(*gorm.DB) *gorm.DB) (*Organization, error) {
	if value == "" {
		return nil, ErrTenantNotFound
	}

	db := r.db.WithContext(ctx).Where("LOWER("+column+") = ?", value)
	if scope != nil {
		db = db.Scopes(scope)
	}

	var orgs []*Organization
	if err := db.Limit(2).Find(&orgs).Error; err != nil {
		return nil, fmt.Errorf("tenant: lookup by %s: %w", column, err)
	}
	switch len(orgs) {
	case 0:
		return nil, ErrTenantNotFound
	case 1:
		return orgs[0], nil
	default:
		return nil, fmt.Errorf("%w: %s=%q", ErrAmbiguousTenant, column, value)
	}
}
