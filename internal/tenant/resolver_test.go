package tenant

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mainDomain = "katauser.com"

type fakeOrganizationRepository struct {
	items []*Organization
	calls []string
	err   error
}

func (r *fakeOrganizationRepository) find(kind string, match func(*Organization) bool) (*Organization, error) {
	r.calls = append(r.calls, kind)
	if r.err != nil {
		return nil, r.err
	}
	var found []*Organization
	for _, o := range r.items {
		if match(o) {
			found = append(found, o)
		}
	}
	switch len(found) {
	case 0:
		return nil, ErrTenantNotFound
	case 1:
		return found[0], nil
	}
	return nil, ErrAmbiguousTenant
}

func (r *fakeOrganizationRepository) FindByCustomDomain(_ context.Context, host string) (*Organization, error) {
	return r.find("domain", func(o *Organization) bool { return o.VerifiedDomain() == host })
}

func (r *fakeOrganizationRepository) FindBySubdomain(_ context.Context, label string) (*Organization, error) {
	return r.find("subdomain", func(o *Organization) bool { return label != "" && strings.EqualFold(o.Subdomain, label) })
}

func (r *fakeOrganizationRepository) FindBySlug(_ context.Context, slug string) (*Organization, error) {
	return r.find("slug", func(o *Organization) bool { return slug != "" && strings.EqualFold(o.Slug, slug) })
}

func newTestResolver(t *testing.T, orgs ...*Organization) (*Resolver, *fakeOrganizationRepository) {
	t.Helper()
	repo := &fakeOrganizationRepository{items: orgs}
	r, err := NewResolver(repo, ResolverConfig{MainDomain: mainDomain})
	require.NoError(t, err)
	return r, repo
}

func verified(domain string) (*string, *time.Time) {
	at := time.Now()
	return &domain, &at
}

func TestResolveWrongSlugNotFound(t *testing.T) {
	r, _ := newTestResolver(t, &Organization{ID: "o1", Slug: "acme", Subdomain: "acme-sub", Tier: TierBasic})

	_, err := r.Resolve(context.Background(), mainDomain, "/acme-other", "")
	assert.ErrorIs(t, err, ErrTenantNotFound)
}

func TestResolveUpgradedTierRedirectsToSubdomain(t *testing.T) {
	org := &Organization{ID: "o1", Slug: "acme", Subdomain: "acme-sub", Tier: TierPro}
	r, _ := newTestResolver(t, org)

	res, err := r.Resolve(context.Background(), mainDomain, "/acme", "")
	require.NoError(t, err)
	assert.Same(t, org, res.Organization)
	assert.Equal(t, MatchSlug, res.MatchedBy)
	assert.True(t, res.Redirect)
	assert.Equal(t, "https://acme-sub.katauser.com/", res.CanonicalURL)
}

func TestResolvePrecedence(t *testing.T) {
	domain, at := verified("feedback.acme.io")
	org := &Organization{ID: "o1", Slug: "acme", Subdomain: "acme", CustomDomain: domain, DomainVerifiedAt: at, Tier: TierEnterprise}
	r, repo := newTestResolver(t, org)

	res, err := r.Resolve(context.Background(), "feedback.acme.io", "/boards", "")
	require.NoError(t, err)
	assert.Equal(t, MatchCustomDomain, res.MatchedBy)
	assert.False(t, res.Redirect)
	assert.Equal(t, []string{"domain"}, repo.calls, "custom domain short-circuits")

	// 旧子域名仍然解析到同一组织，但跳转到自定义域名
	res, err = r.Resolve(context.Background(), "acme.katauser.com", "/boards", "sort=top")
	require.NoError(t, err)
	assert.Same(t, org, res.Organization)
	assert.Equal(t, MatchSubdomain, res.MatchedBy)
	assert.True(t, res.Redirect)
	assert.Equal(t, "https://feedback.acme.io/boards?sort=top", res.CanonicalURL)
}

func TestResolveCustomDomainShadowsSubdomainCollision(t *testing.T) {
	domain, at := verified("acme.katauser.com")
	owner := &Organization{ID: "owner", Slug: "owner", Subdomain: "owner", CustomDomain: domain, DomainVerifiedAt: at, Tier: TierEnterprise}
	squatter := &Organization{ID: "squatter", Slug: "squat", Subdomain: "acme", Tier: TierPro}
	r, _ := newTestResolver(t, owner, squatter)

	res, err := r.Resolve(context.Background(), "acme.katauser.com", "/", "")
	require.NoError(t, err)
	assert.Equal(t, "owner", res.Organization.ID)
}

func TestResolveUnverifiedDomainIgnored(t *testing.T) {
	domain := "feedback.acme.io"
	org := &Organization{ID: "o1", Slug: "acme", Subdomain: "acme", CustomDomain: &domain, Tier: TierEnterprise}
	r, _ := newTestResolver(t, org)

	_, err := r.Resolve(context.Background(), "feedback.acme.io", "/", "")
	assert.ErrorIs(t, err, ErrTenantNotFound, "falls through to subdomain label 'feedback'")

	res, err := r.Resolve(context.Background(), "acme.katauser.com", "/", "")
	require.NoError(t, err)
	assert.False(t, res.Redirect, "enterprise without verified domain uses the subdomain form")
}

func TestResolveCanonicalPerTier(t *testing.T) {
	domain, at := verified("acme.io")
	cases := []struct {
		tier     Tier
		host     string
		path     string
		redirect bool
		want     string
	}{
		{TierFree, mainDomain, "/acme/roadmap", false, "https://katauser.com/acme/roadmap"},
		{TierFree, mainDomain, "/acme", false, "https://katauser.com/acme/"},
		{TierFree, "acme.katauser.com", "/roadmap", true, "https://katauser.com/acme/roadmap"},
		{TierBasic, "acme.katauser.com", "/roadmap", false, "https://acme.katauser.com/roadmap"},
		{TierPro, mainDomain, "/acme/roadmap", true, "https://acme.katauser.com/roadmap"},
		{TierEnterprise, "acme.katauser.com", "/roadmap", true, "https://acme.io/roadmap"},
		{TierEnterprise, "ACME.IO:443", "/roadmap/", false, "https://acme.io/roadmap"},
	}
	for _, tc := range cases {
		t.Run(string(tc.tier)+" "+tc.host+tc.path, func(t *testing.T) {
			org := &Organization{ID: "o1", Slug: "acme", Subdomain: "acme", CustomDomain: domain, DomainVerifiedAt: at, Tier: tc.tier}
			r, _ := newTestResolver(t, org)

			res, err := r.Resolve(context.Background(), tc.host, tc.path, "")
			require.NoError(t, err)
			assert.Equal(t, tc.redirect, res.Redirect)
			assert.Equal(t, tc.want, res.CanonicalURL)
		})
	}
}

func TestResolveSlugRest(t *testing.T) {
	r, _ := newTestResolver(t, &Organization{ID: "o1", Slug: "acme", Tier: TierFree})

	res, err := r.Resolve(context.Background(), mainDomain, "/ACME/api/v1/audit-trails", "")
	require.NoError(t, err)
	assert.Equal(t, "api/v1/audit-trails", res.Rest)
	assert.Equal(t, MatchSlug, res.MatchedBy)
}

func TestResolveCanonicalURLEscapesPath(t *testing.T) {
	r, _ := newTestResolver(t, &Organization{ID: "o1", Slug: "acme", Subdomain: "acme-sub", Tier: TierPro})

	// 对应请求 /acme/search%3Fq/x%20y?page=2
	res, err := r.Resolve(context.Background(), mainDomain, "/acme/search?q/x y", "page=2")
	require.NoError(t, err)
	assert.True(t, res.Redirect)
	assert.Equal(t, "search?q/x y", res.Rest)
	assert.Equal(t, "https://acme-sub.katauser.com/search%3Fq/x%20y?page=2", res.CanonicalURL)
}

func TestResolveMainDomainWithoutSlug(t *testing.T) {
	r, _ := newTestResolver(t, &Organization{ID: "o1", Slug: "acme", Tier: TierFree})

	_, err := r.Resolve(context.Background(), mainDomain, "/", "")
	assert.ErrorIs(t, err, ErrTenantNotFound)
}

func TestResolveAmbiguous(t *testing.T) {
	r, _ := newTestResolver(t,
		&Organization{ID: "o1", Slug: "acme", Subdomain: "acme", Tier: TierPro},
		&Organization{ID: "o2", Slug: "acme2", Subdomain: "ACME", Tier: TierPro},
	)

	_, err := r.Resolve(context.Background(), "acme.katauser.com", "/", "")
	assert.ErrorIs(t, err, ErrAmbiguousTenant)
}

func TestResolveUnknownTier(t *testing.T) {
	r, _ := newTestResolver(t, &Organization{ID: "o1", Slug: "acme", Tier: "platinum"})

	_, err := r.Resolve(context.Background(), mainDomain, "/acme", "")
	assert.ErrorIs(t, err, ErrUnknownTier)
}

func TestResolveRepositoryFailure(t *testing.T) {
	r, repo := newTestResolver(t)
	repo.err = errors.New("db down")

	_, err := r.Resolve(context.Background(), mainDomain, "/acme", "")
	assert.EqualError(t, err, "db down")
	assert.Equal(t, []string{"domain"}, repo.calls)
}

func TestNormalizeHost(t *testing.T) {
	assert.Equal(t, "acme.katauser.com", NormalizeHost("ACME.katauser.com.:8080"))
	assert.Equal(t, "katauser.com", NormalizeHost(" katauser.com "))
	assert.Equal(t, "katauser.com", NormalizeHost("katauser.com."))
}

func TestCanonicalBase(t *testing.T) {
	r, _ := newTestResolver(t)
	base, err := r.CanonicalBase(&Organization{Slug: "acme", Subdomain: "acme", Tier: TierFree})
	require.NoError(t, err)
	assert.Equal(t, "https://katauser.com/acme", base)

	base, err = r.CanonicalBase(&Organization{Slug: "acme", Subdomain: "acme", Tier: TierPro})
	require.NoError(t, err)
	assert.Equal(t, "https://acme.katauser.com", base)
}

func TestOrganizationContext(t *testing.T) {
	_, ok := CurrentTenant(context.Background())
	assert.False(t, ok)
	assert.Panics(t, func() { MustCurrentTenant(context.Background()) })

	ctx := WithTenantContext(context.Background(), TenantContext{UserID: "u1"})
	ctx = WithOrganization(ctx, &Organization{ID: "o1"})

	assert.Equal(t, "o1", MustCurrentTenant(ctx).ID)
	tc := MustTenantContext(ctx)
	assert.Equal(t, "o1", tc.TenantID)
	assert.Equal(t, "u1", tc.UserID)
}
