package tenant

import (
	"context"
	"testing"
	"time"

	"feedbackhub/internal/audit"
	"feedbackhub/internal/auth"
	"feedbackhub/internal/recordstore"
	"feedbackhub/internal/tracking"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db := setupTenantDB(t)
	require.NoError(t, db.AutoMigrate(&audit.Record{}))

	reg := tracking.NewRegistry()
	require.NoError(t, Register(reg))
	auditStore := audit.NewStore(db)
	store := recordstore.New(db, tracking.NewEngine(reg, tracking.WithHistoryReader(auditStore)), auditStore, nil)

	repo := NewGormRepository(db)
	resolver, err := NewResolver(repo, ResolverConfig{MainDomain: mainDomain})
	require.NoError(t, err)
	return NewService(store, resolver, repo), db
}

func asAdmin() context.Context {
	return auth.WithActor(context.Background(), &auth.Actor{ID: "admin-1"})
}

func TestServiceCreate(t *testing.T) {
	svc, db := setupService(t)

	org, err := svc.Create(asAdmin(), CreateInput{Name: " Acme ", Slug: "ACME", Subdomain: "Acme"})
	require.NoError(t, err)
	assert.Equal(t, "Acme", org.Name)
	assert.Equal(t, "acme", org.Slug)
	assert.Equal(t, TierFree, org.Tier)
	assert.Equal(t, int64(1), org.Version)
	require.NotNil(t, org.CreatedBy)
	assert.Equal(t, "admin-1", *org.CreatedBy)

	var records []audit.Record
	require.NoError(t, db.Where("entity_id = ?", org.ID).Find(&records).Error)
	require.Len(t, records, 1)
	assert.Equal(t, org.ID, *records[0].OrganizationID)
	assert.Equal(t, "acme", records[0].After["slug"])
}

func TestServiceCreateRejectsUnknownTier(t *testing.T) {
	svc, _ := setupService(t)

	_, err := svc.Create(asAdmin(), CreateInput{Name: "Acme", Slug: "acme", Tier: "platinum"})
	assert.ErrorIs(t, err, ErrUnknownTier)
}

func TestServiceChangeTier(t *testing.T) {
	svc, db := setupService(t)
	org, err := svc.Create(asAdmin(), CreateInput{Name: "Acme", Slug: "acme", Subdomain: "acme-sub"})
	require.NoError(t, err)

	updated, err := svc.ChangeTier(asAdmin(), org.ID, TierPro)
	require.NoError(t, err)
	assert.Equal(t, TierPro, updated.Tier)
	assert.Equal(t, int64(2), updated.Version)
	assert.Equal(t, []string{"https://katauser.com/acme"}, []string(updated.URLs))

	var records []audit.Record
	require.NoError(t, db.Where("entity_id = ?", org.ID).Find(&records).Error)
	require.Len(t, records, 2)
	var change *audit.Record
	for i := range records {
		if len(records[i].Before) > 0 {
			change = &records[i]
		}
	}
	require.NotNil(t, change)
	assert.Equal(t, "free", change.Before["tier"])
	assert.Equal(t, "pro", change.After["tier"])
	assert.Contains(t, change.After, "urls")

	// 新等级下，旧的路径地址跳转到子域名
	res, err := svc.resolver.Resolve(context.Background(), mainDomain, "/acme", "")
	require.NoError(t, err)
	assert.True(t, res.Redirect)
	assert.Equal(t, "https://acme-sub.katauser.com/", res.CanonicalURL)

	// 等级不变时不产生新版本
	same, err := svc.ChangeTier(asAdmin(), org.ID, TierPro)
	require.NoError(t, err)
	assert.Equal(t, int64(2), same.Version)
}

func TestServiceVerifyDomain(t *testing.T) {
	svc, _ := setupService(t)
	org, err := svc.Create(asAdmin(), CreateInput{Name: "Acme", Slug: "acme", Subdomain: "acme", Tier: TierEnterprise})
	require.NoError(t, err)

	_, err = svc.VerifyDomain(asAdmin(), org.ID, "", time.Now())
	assert.Error(t, err)

	updated, err := svc.VerifyDomain(asAdmin(), org.ID, "Feedback.Acme.IO.", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "feedback.acme.io", updated.VerifiedDomain())

	res, err := svc.resolver.Resolve(context.Background(), "acme.katauser.com", "/", "")
	require.NoError(t, err)
	assert.True(t, res.Redirect)
	assert.Equal(t, "https://feedback.acme.io/", res.CanonicalURL)
}

func TestServiceMissingOrganization(t *testing.T) {
	svc, _ := setupService(t)

	_, err := svc.ChangeTier(asAdmin(), "00000000-0000-0000-0000-000000000000", TierPro)
	assert.ErrorIs(t, err, recordstore.ErrNotFound)
}
