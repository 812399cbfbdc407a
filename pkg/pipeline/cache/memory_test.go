package cache_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askiada/go-stepcache/pkg/pipeline/cache"
)

func TestMemoryCachePutGet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := cache.NewMemoryCache()
	key := cache.Key{Experiment: "asc1", Queue: "pre", Step: "read", Sample: "file1"}

	_, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Put(ctx, key, cache.Entry{Status: cache.StatusSuccess, Artifact: 42}))

	entry, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, cache.StatusSuccess, entry.Status)
	assert.Equal(t, 42, entry.Artifact)
}

func TestMemoryCacheOverwrite(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := cache.NewMemoryCache()
	key := cache.Key{Experiment: "asc1", Queue: "pre", Step: "read", Sample: "file1"}

	require.NoError(t, c.Put(ctx, key, cache.Entry{Status: cache.StatusFailed, Error: "boom"}))
	require.NoError(t, c.Put(ctx, key, cache.Entry{Status: cache.StatusSuccess, Artifact: "fixed"}))

	entry, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, cache.StatusSuccess, entry.Status)
	assert.Empty(t, entry.Error)
}

func TestMemoryCacheInvalidateScopedToExperiment(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := cache.NewMemoryCache()
	keep := cache.Key{Experiment: "other", Queue: "pre", Step: "read", Sample: "file1"}
	drop := cache.Key{Experiment: "asc1", Queue: "pre", Step: "read", Sample: "file1"}

	require.NoError(t, c.Put(ctx, keep, cache.Entry{Status: cache.StatusSuccess}))
	require.NoError(t, c.Put(ctx, drop, cache.Entry{Status: cache.StatusSuccess}))

	require.NoError(t, c.Invalidate(ctx, "asc1"))

	_, ok, err := c.Get(ctx, drop)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = c.Get(ctx, keep)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryCacheListOrdered(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := cache.NewMemoryCache()

	keys := []cache.Key{
		{Experiment: "asc1", Queue: "scale", Step: "estimate", Sample: "file2"},
		{Experiment: "asc1", Queue: "pre", Step: "read", Sample: "file2"},
		{Experiment: "asc1", Queue: "pre", Step: "read", Sample: "file1"},
	}
	for _, key := range keys {
		require.NoError(t, c.Put(ctx, key, cache.Entry{Status: cache.StatusSuccess}))
	}

	listed, err := c.List(ctx, "asc1")
	require.NoError(t, err)
	require.Len(t, listed, 3)
	assert.Equal(t, "file1", listed[0].Key.Sample)
	assert.Equal(t, "file2", listed[1].Key.Sample)
	assert.Equal(t, "scale", listed[2].Key.Queue)
}

func TestMemoryCacheConcurrentWritesDistinctKeys(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := cache.NewMemoryCache()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := cache.Key{Experiment: "asc1", Queue: "pre", Step: "read", Sample: string(rune('a' + i))}
			assert.NoError(t, c.Put(ctx, key, cache.Entry{Status: cache.StatusSuccess}))
		}(i)
	}
	wg.Wait()

	listed, err := c.List(ctx, "asc1")
	require.NoError(t, err)
	assert.Len(t, listed, 32)
}
