package tenant

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// MatchKind 命中的解析键
type MatchKind string

const (
	MatchCustomDomain MatchKind = "custom_domain"
	MatchSubdomain    MatchKind = "subdomain"
	MatchSlug         MatchKind = "slug"
)

// Resolution 单次解析的结果
type Resolution struct {
	Organization *Organization
	MatchedBy    MatchKind
	// Rest 去掉租户前缀后的路径，不含开头的 /
	Rest string
	// CanonicalURL 当前等级下的规范地址，包含原始查询串
	CanonicalURL string
	// Redirect 请求地址与规范地址不一致
	Redirect bool
}

// ResolverConfig 解析器配置
type ResolverConfig struct {
	MainDomain string
	Scheme     string
}

// Resolver 租户解析状态机：自定义域名 > 子域名 > 路径段，逐级短路。
type Resolver struct {
	repo       Repository
	mainDomain string
	scheme     string
	tracer     trace.Tracer
}

// NewResolver 创建解析器
func NewResolver(repo Repository, cfg ResolverConfig) (*Resolver, error) {
	main := NormalizeHost(cfg.MainDomain)
	if main == "" {
		return nil, errors.New("tenant: main domain is required")
	}
	scheme := cfg.Scheme
	if scheme == "" {
		scheme = "https"
	}
	return &Resolver{
		repo:       repo,
		mainDomain: main,
		scheme:     scheme,
		tracer:     otel.Tracer("feedbackhub/internal/tenant"),
	}, nil
}

// MainDomain 规范化后的主域名
func (r *Resolver) MainDomain() string {
	return r.mainDomain
}

// Resolve 解析 host + path 对应的组织，并计算规范地址。path 为解码后的 URL.Path
func (r *Resolver) Resolve(ctx context.Context, host, path, rawQuery string) (*Resolution, error) {
	host = NormalizeHost(host)
	ctx, span := r.tracer.Start(ctx, "Tenant.Resolve", trace.WithAttributes(
		attribute.String("host", host),
	))
	defer span.End()

	res, err := r.match(ctx, host, path)
	if err != nil {
		if !errors.Is(err, ErrTenantNotFound) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "tenant lookup failed")
		}
		return nil, err
	}
	span.SetAttributes(
		attribute.String("matched_by", string(res.MatchedBy)),
		attribute.String("organization_id", res.Organization.ID),
	)

	canonHost, canonPath, err := r.canonical(res.Organization, res.Rest)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	// path 为解码后的形式，拼进 Location 前需要重新转义
	res.CanonicalURL = r.scheme + "://" + canonHost + (&url.URL{Path: canonPath}).EscapedPath()
	if rawQuery != "" {
		res.CanonicalURL += "?" + rawQuery
	}
	res.Redirect = locationKey(host, path) != locationKey(canonHost, canonPath)
	return res, nil
}

func (r *Resolver) match(ctx context.Context, host, path string) (*Resolution, error) {
	org, err := r.repo.FindByCustomDomain(ctx, host)
	if err == nil {
		return &Resolution{Organization: org, MatchedBy: MatchCustomDomain, Rest: trimSlashes(path)}, nil
	}
	if !errors.Is(err, ErrTenantNotFound) {
		return nil, err
	}

	if host != r.mainDomain {
		label, _, _ := strings.Cut(host, ".")
		org, err := r.repo.FindBySubdomain(ctx, label)
		if err == nil {
			return &Resolution{Organization: org, MatchedBy: MatchSubdomain, Rest: trimSlashes(path)}, nil
		}
		return nil, err
	}

	segment, rest, _ := strings.Cut(trimSlashes(path), "/")
	org, err = r.repo.FindBySlug(ctx, strings.ToLower(segment))
	if err != nil {
		return nil, err
	}
	return &Resolution{Organization: org, MatchedBy: MatchSlug, Rest: rest}, nil
}

// canonical 按组织当前等级计算规范 host 与 path，与命中的解析键无关
func (r *Resolver) canonical(org *Organization, rest string) (string, string, error) {
	pathBased := func() (string, string, error) {
		return r.mainDomain, "/" + joinPath(org.Slug, rest), nil
	}
	subdomain := func() (string, string, error) {
		if org.Subdomain == "" {
			return pathBased()
		}
		return strings.ToLower(org.Subdomain) + "." + r.mainDomain, "/" + rest, nil
	}

	switch org.Tier {
	case TierFree:
		return pathBased()
	case TierBasic, TierPro:
		return subdomain()
	case TierEnterprise:
		if domain := org.VerifiedDomain(); domain != "" {
			return domain, "/" + rest, nil
		}
		return subdomain()
	}
	return "", "", fmt.Errorf("%w: %q", ErrUnknownTier, org.Tier)
}

// CanonicalBase 组织当前等级下的规范根地址
func (r *Resolver) CanonicalBase(org *Organization) (string, error) {
	host, path, err := r.canonical(org, "")
	if err != nil {
		return "", err
	}
	return r.scheme + "://" + host + strings.TrimSuffix(path, "/"), nil
}

// NormalizeHost 小写，去掉端口与结尾的点
func NormalizeHost(host string) string {
	host = strings.TrimSpace(strings.ToLower(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.TrimSuffix(host, ".")
}

func trimSlashes(p string) string {
	return strings.Trim(p, "/")
}

func joinPath(first, rest string) string {
	if rest == "" {
		return first + "/"
	}
	return first + "/" + rest
}

// locationKey 比较时忽略首尾的 /，"/" 与空路径等价
func locationKey(host, path string) string {
	return host + "/" + trimSlashes(path)
}
