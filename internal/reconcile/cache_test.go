package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescriptorCache_HitsAndMisses(t *testing.T) {
	f := &stubFetcher{}
	c := NewDescriptorCache(f, 10, time.Minute)
	ctx := context.Background()

	for range 3 {
		doc, err := c.FetchTileJSON(ctx, "https://t/a.json")
		require.NoError(t, err)
		assert.Equal(t, "https://t/a/{z}/{x}/{y}.png", doc.Template())
	}
	assert.Equal(t, int32(1), f.calls.Load())

	s := c.Stats()
	assert.Equal(t, 1, s.Entries)
	assert.Equal(t, int64(2), s.Hits)
	assert.Equal(t, int64(1), s.Misses)
	assert.InDelta(t, 2.0/3.0, s.HitRate, 1e-9)
}

func TestDescriptorCache_FailuresNotCached(t *testing.T) {
	f := &stubFetcher{}
	c := NewDescriptorCache(f, 10, time.Minute)

	_, err := c.FetchTileJSON(context.Background(), "https://t/fail.json")
	require.Error(t, err)
	_, err = c.FetchTileJSON(context.Background(), "https://t/fail.json")
	require.Error(t, err)
	assert.Equal(t, int32(2), f.calls.Load())
	assert.Zero(t, c.Stats().Entries)
}

func TestDescriptorCache_TTL(t *testing.T) {
	f := &stubFetcher{}
	c := NewDescriptorCache(f, 10, time.Minute)
	now := time.Now()
	c.now = func() time.Time { return now }

	_, _ = c.FetchTileJSON(context.Background(), "https://t/a.json")
	now = now.Add(2 * time.Minute)
	_, _ = c.FetchTileJSON(context.Background(), "https://t/a.json")
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestDescriptorCache_EvictsOldest(t *testing.T) {
	f := &stubFetcher{}
	c := NewDescriptorCache(f, 2, time.Minute)
	ctx := context.Background()

	_, _ = c.FetchTileJSON(ctx, "https://t/a.json")
	_, _ = c.FetchTileJSON(ctx, "https://t/b.json")
	_, _ = c.FetchTileJSON(ctx, "https://t/a.json") // a is now newest
	_, _ = c.FetchTileJSON(ctx, "https://t/c.json") // evicts b

	f.calls.Store(0)
	_, _ = c.FetchTileJSON(ctx, "https://t/a.json")
	assert.Zero(t, f.calls.Load())
	_, _ = c.FetchTileJSON(ctx, "https://t/b.json")
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestDescriptorCache_Purge(t *testing.T) {
	c := NewDescriptorCache(&stubFetcher{}, 2, time.Minute)
	_, _ = c.FetchTileJSON(context.Background(), "https://t/a.json")
	c.Purge()
	assert.Zero(t, c.Stats().Entries)
}
