package tenant

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unreachableRedis() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         "127.0.0.1:1",
		DialTimeout:  50 * time.Millisecond,
		ReadTimeout:  50 * time.Millisecond,
		WriteTimeout: 50 * time.Millisecond,
		MaxRetries:   -1,
	})
}

func TestCachedRepositoryFallsBackWhenRedisDown(t *testing.T) {
	db := setupTenantDB(t)
	require.NoError(t, db.Create(&Organization{Name: "Acme", Slug: "acme", Subdomain: "acme"}).Error)

	rdb := unreachableRedis()
	defer rdb.Close()

	repo := NewCachedRepository(NewGormRepository(db), rdb, time.Minute, nil)
	org, err := repo.FindBySlug(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, "Acme", org.Name)

	_, err = repo.FindBySlug(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrTenantNotFound)
}

func TestNewCachedRepositoryDisabled(t *testing.T) {
	next := &fakeOrganizationRepository{}
	assert.Same(t, next, NewCachedRepository(next, nil, time.Minute, nil))

	rdb := unreachableRedis()
	defer rdb.Close()
	assert.Same(t, next, NewCachedRepository(next, rdb, 0, nil))
}

type countingRepository struct {
	fakeOrganizationRepository
	slugCalls int
}

func (r *countingRepository) FindBySlug(ctx context.Context, slug string) (*Organization, error) {
	r.slugCalls++
	return r.fakeOrganizationRepository.FindBySlug(ctx, slug)
}

func TestLocalCachedRepository(t *testing.T) {
	org := &Organization{ID: "o1", Slug: "acme", Subdomain: "acme", Tier: TierFree}
	next := &countingRepository{fakeOrganizationRepository: fakeOrganizationRepository{items: []*Organization{org}}}
	repo := NewLocalCachedRepository(next, 16, time.Minute)

	for i := 0; i < 3; i++ {
		got, err := repo.FindBySlug(context.Background(), "acme")
		require.NoError(t, err)
		assert.Same(t, org, got)
	}
	assert.Equal(t, 1, next.slugCalls)

	// 未命中不缓存
	for i := 0; i < 2; i++ {
		_, err := repo.FindBySlug(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrTenantNotFound)
	}
	assert.Equal(t, 3, next.slugCalls)

	local := repo.(*LocalCachedRepository)
	require.NoError(t, local.Invalidate(context.Background(), org))
	_, err := repo.FindBySlug(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, 4, next.slugCalls)
	assert.Equal(t, int64(2), local.Stats().Hits)
}

func TestNewLocalCachedRepositoryDisabled(t *testing.T) {
	next := &fakeOrganizationRepository{}
	assert.Same(t, next, NewLocalCachedRepository(next, 0, time.Minute))
	assert.Same(t, next, NewLocalCachedRepository(next, 10, 0))
}
