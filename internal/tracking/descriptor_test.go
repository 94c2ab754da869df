package tracking

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterMergesBaselineIgnoredFields(t *testing.T) {
	reg := NewRegistry()
	d, err := reg.Register(&widget{}, WithIgnoredFields("color"))
	require.NoError(t, err)

	assert.Equal(t, "widgets", d.Table)
	assert.True(t, d.Ignored("color"))
	for _, f := range BaselineIgnoredFields {
		assert.True(t, d.Ignored(f), f)
	}
	assert.False(t, d.Ignored("name"))
	assert.True(t, d.Auditable)
	assert.True(t, d.AuditDeletes)
	assert.True(t, d.TrackUser)
}

func TestRegisterConfigurationErrors(t *testing.T) {
	cases := []struct {
		name   string
		entity Entity
		opts   []Option
	}{
		{"unknown ignored field", &widget{}, []Option{WithIgnoredFields("colour")}},
		{"versioning without field", &gauge{}, []Option{WithoutUserTracking(), WithVersioning(true)}},
		{"user tracking without stamps", &gauge{}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewRegistry().Register(tc.entity, tc.opts...)
			assert.ErrorIs(t, err, ErrConfiguration)
		})
	}
}

func TestRegisterDuplicate(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(&widget{})

	_, err := reg.Register(&widget{})
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Panics(t, func() { reg.MustRegister(&widget{}) })
	assert.Equal(t, []string{"Widget"}, reg.Types())
}

func TestDescriptorNotRegistered(t *testing.T) {
	_, err := NewRegistry().Descriptor("Nope")
	assert.ErrorIs(t, err, ErrNotRegistered)
}

type countingIntrospector struct {
	calls atomic.Int32
	has   bool
	err   error
	delay time.Duration
}

func (c *countingIntrospector) HasColumn(context.Context, string, string) (bool, error) {
	c.calls.Add(1)
	time.Sleep(c.delay)
	return c.has, c.err
}

func TestCapabilityCacheSingleFlight(t *testing.T) {
	introspector := &countingIntrospector{has: true, delay: 20 * time.Millisecond}
	cache := NewCapabilityCache(introspector, time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			has, err := cache.HasColumn(context.Background(), "widgets", "version")
			assert.NoError(t, err)
			assert.True(t, has)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), introspector.calls.Load())

	_, err := cache.HasColumn(context.Background(), "widgets", "version")
	require.NoError(t, err)
	assert.Equal(t, int32(1), introspector.calls.Load())
}

func TestCapabilityCacheExpires(t *testing.T) {
	introspector := &countingIntrospector{has: false}
	cache := NewCapabilityCache(introspector, time.Minute)
	now := time.Now()
	cache.now = func() time.Time { return now }

	_, _ = cache.HasColumn(context.Background(), "widgets", "version")
	now = now.Add(30 * time.Second)
	_, _ = cache.HasColumn(context.Background(), "widgets", "version")
	assert.Equal(t, int32(1), introspector.calls.Load())

	now = now.Add(time.Minute)
	_, _ = cache.HasColumn(context.Background(), "widgets", "version")
	assert.Equal(t, int32(2), introspector.calls.Load())

	cache.Invalidate()
	_, _ = cache.HasColumn(context.Background(), "widgets", "version")
	assert.Equal(t, int32(3), introspector.calls.Load())
}

func TestCapabilityCacheDoesNotCacheErrors(t *testing.T) {
	introspector := &countingIntrospector{err: errors.New("no table")}
	cache := NewCapabilityCache(introspector, time.Hour)

	_, err := cache.HasColumn(context.Background(), "widgets", "version")
	assert.Error(t, err)
	_, err = cache.HasColumn(context.Background(), "widgets", "version")
	assert.Error(t, err)
	assert.Equal(t, int32(2), introspector.calls.Load())
}

func TestEngineUsesCapabilityCache(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(&widget{})
	introspector := &countingIntrospector{has: false}
	engine := NewEngine(reg, WithCapabilityCache(NewCapabilityCache(introspector, time.Hour)))

	w := &widget{ID: "w1"}
	require.NoError(t, engine.OnCreate(context.Background(), w))
	assert.Equal(t, int64(0), w.Version, "table without version column")

	require.NoError(t, engine.OnCreate(context.Background(), &widget{ID: "w2"}))
	assert.Equal(t, int32(1), introspector.calls.Load())
}

func TestDirtyNormalizesValues(t *testing.T) {
	name := "a"
	same := "a"
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	local := at.In(time.FixedZone("CST", 8*3600))

	original := map[string]any{"name": &name, "at": at, "tags": []string{"x"}, "gone": nil}
	current := map[string]any{"name": &same, "at": local, "tags": []string{"x", "y"}, "new": 1}

	assert.Equal(t, []string{"new", "tags"}, Dirty(original, current))
}
