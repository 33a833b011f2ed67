package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freightwise/logistics-cli/internal/model"
)

func TestKeyNormalization(t *testing.T) {
	t.Parallel()

	a := Key(model.ProviderClassification, "LED bulbs", "electronics")
	b := Key(model.ProviderClassification, "  led BULBS ", "ELECTRONICS")
	assert.Equal(t, a, b)

	assert.NotEqual(t, a, Key(model.ProviderClassification, "led lamps", "electronics"))
	assert.NotEqual(t, a, Key(model.ProviderTariff, "led bulbs", "electronics"))
}

func TestCacheHitMarksFromCache(t *testing.T) {
	t.Parallel()

	c := New()
	key := Key(model.ProviderTariff, "guangzhou-moscow")
	c.Put(key, model.ProviderResult{
		Kind:    model.ProviderTariff,
		Tariffs: &model.TariffSheet{Route: "guangzhou-moscow"},
	}, time.Hour)

	res, ok := c.Get(key)
	require.True(t, ok)
	assert.True(t, res.FromCache)
	require.NotNil(t, res.Tariffs)
	assert.Equal(t, "guangzhou-moscow", res.Tariffs.Route)
}

func TestCacheMiss(t *testing.T) {
	t.Parallel()

	c := New()
	_, ok := c.Get(Key(model.ProviderTariff, "nowhere"))
	assert.False(t, ok)
}

func TestCacheExpiry(t *testing.T) {
	t.Parallel()

	now := time.Unix(1000, 0)
	c := New().WithNow(func() time.Time { return now })

	key := Key(model.ProviderClassification, "led bulbs")
	c.Put(key, model.ProviderResult{Kind: model.ProviderClassification}, time.Minute)

	_, ok := c.Get(key)
	require.True(t, ok)

	now = now.Add(61 * time.Second)
	_, ok = c.Get(key)
	assert.False(t, ok, "expired entry must read as a miss")
}

func TestCacheZeroTTLDisables(t *testing.T) {
	t.Parallel()

	c := New()
	key := Key(model.ProviderSupplier, "shenzhen bright co")
	c.Put(key, model.ProviderResult{Kind: model.ProviderSupplier}, 0)

	_, ok := c.Get(key)
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestCachePurge(t *testing.T) {
	t.Parallel()

	now := time.Unix(1000, 0)
	c := New().WithNow(func() time.Time { return now })

	c.Put(Key(model.ProviderTariff, "a-b"), model.ProviderResult{}, time.Minute)
	c.Put(Key(model.ProviderTariff, "c-d"), model.ProviderResult{}, time.Hour)
	require.Equal(t, 2, c.Len())

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, c.Purge())
	assert.Equal(t, 1, c.Len())
}

func TestCacheLastWriterWins(t *testing.T) {
	t.Parallel()

	c := New()
	key := Key(model.ProviderClassification, "cable")
	c.Put(key, model.ProviderResult{Classification: &model.Classification{Code: "1111"}}, time.Hour)
	c.Put(key, model.ProviderResult{Classification: &model.Classification{Code: "2222"}}, time.Hour)

	res, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, "2222", res.Classification.Code)
}
