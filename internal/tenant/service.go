package tenant

import (
	"context"
	"fmt"
	"strings"
	"time"

	"feedbackhub/internal/recordstore"
)

// cacheInvalidator 由 CachedRepository 实现
type cacheInvalidator interface {
	Invalidate(ctx context.Context, org *Organization) error
}

// Service 组织写操作，全部经过记录存储，因此带版本号与审计
type Service struct {
	store    *recordstore.Store
	resolver *Resolver
	repo     Repository
}

// NewService 创建组织服务
func NewService(store *recordstore.Store, resolver *Resolver, repo Repository) *Service {
	return &Service{store: store, resolver: resolver, repo: repo}
}

// CreateInput 创建组织参数
type CreateInput struct {
	Name      string
	Slug      string
	Subdomain string
	Tier      Tier
}

// Create 创建组织
func (s *Service) Create(ctx context.Context, in CreateInput) (*Organization, error) {
	tier := in.Tier
	if tier == "" {
		tier = TierFree
	}
	if !tier.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTier, tier)
	}
	org := &Organization{
		Name:      strings.TrimSpace(in.Name),
		Slug:      strings.ToLower(strings.TrimSpace(in.Slug)),
		Subdomain: strings.ToLower(strings.TrimSpace(in.Subdomain)),
		Tier:      tier,
	}
	if _, err := s.store.Create(ctx, org); err != nil {
		return nil, err
	}
	return org, nil
}

// ChangeTier 变更等级，旧的规范根地址写入 URLs 以便追溯
func (s *Service) ChangeTier(ctx context.Context, id string, tier Tier) (*Organization, error) {
	if !tier.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTier, tier)
	}
	return s.mutate(ctx, id, func(org *Organization) error {
		if org.Tier == tier {
			return nil
		}
		if base, err := s.resolver.CanonicalBase(org); err == nil {
			org.rememberURL(base)
		}
		org.Tier = tier
		return nil
	})
}

// VerifyDomain 绑定并标记自定义域名已验证。域名验证本身（DNS TXT 等）不在这里做。
func (s *Service) VerifyDomain(ctx context.Context, id, domain string, verifiedAt time.Time) (*Organization, error) {
	domain = NormalizeHost(domain)
	if domain == "" {
		return nil, fmt.Errorf("tenant: empty domain")
	}
	return s.mutate(ctx, id, func(org *Organization) error {
		org.CustomDomain = &domain
		at := verifiedAt.UTC()
		org.DomainVerifiedAt = &at
		return nil
	})
}

func (s *Service) mutate(ctx context.Context, id string, fn func(*Organization) error) (*Organization, error) {
	var org Organization
	snap, err := s.store.Load(ctx, &org, id)
	if err != nil {
		return nil, err
	}
	before := org
	if err := fn(&org); err != nil {
		return nil, err
	}
	if _, err := s.store.Update(ctx, &org, snap); err != nil {
		return nil, err
	}
	if inv, ok := s.repo.(cacheInvalidator); ok {
		_ = inv.Invalidate(ctx, &before)
		_ = inv.Invalidate(ctx, &org)
	}
	return &org, nil
}
