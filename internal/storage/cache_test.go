package storage

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrlokans/skyferry/internal/entities"
)

func countingFactory(builds *int) Factory {
	return func(_ context.Context, provider entities.ProviderName, userID uint) (Provider, error) {
		*builds++
		return nil, nil
	}
}

func TestClientCache_ReusesClients(t *testing.T) {
	builds := 0
	cache := NewClientCache(4, countingFactory(&builds))

	_, err := cache.Resolve(context.Background(), entities.ProviderDropbox, 1)
	require.NoError(t, err)
	_, err = cache.Resolve(context.Background(), entities.ProviderDropbox, 1)
	require.NoError(t, err)

	assert.Equal(t, 1, builds)
	assert.Equal(t, 1, cache.Len())
}

func TestClientCache_SeparateEntriesPerPair(t *testing.T) {
	builds := 0
	cache := NewClientCache(4, countingFactory(&builds))

	ctx := context.Background()
	_, err := cache.Resolve(ctx, entities.ProviderDropbox, 1)
	require.NoError(t, err)
	_, err = cache.Resolve(ctx, entities.ProviderDropbox, 2)
	require.NoError(t, err)
	_, err = cache.Resolve(ctx, entities.ProviderGoogleDrive, 1)
	require.NoError(t, err)

	assert.Equal(t, 3, builds)
	assert.Equal(t, 3, cache.Len())
}

func TestClientCache_EvictsBeyondCapacity(t *testing.T) {
	builds := 0
	cache := NewClientCache(2, countingFactory(&builds))

	ctx := context.Background()
	for userID := uint(1); userID <= 5; userID++ {
		_, err := cache.Resolve(ctx, entities.ProviderDropbox, userID)
		require.NoError(t, err)
	}

	assert.Equal(t, 2, cache.Len())
	assert.Equal(t, 5, builds)

	// An evicted pair is rebuilt on the next resolve.
	_, err := cache.Resolve(ctx, entities.ProviderDropbox, 1)
	require.NoError(t, err)
	assert.Equal(t, 6, builds)
}

func TestClientCache_FactoryErrorNotCached(t *testing.T) {
	calls := 0
	cache := NewClientCache(4, func(_ context.Context, _ entities.ProviderName, _ uint) (Provider, error) {
		calls++
		return nil, fmt.Errorf("no token stored")
	})

	ctx := context.Background()
	_, err := cache.Resolve(ctx, entities.ProviderDropbox, 1)
	assert.Error(t, err)
	_, err = cache.Resolve(ctx, entities.ProviderDropbox, 1)
	assert.Error(t, err)

	assert.Equal(t, 2, calls)
	assert.Zero(t, cache.Len())
}

func TestClientCache_RecycleReportsEvictions(t *testing.T) {
	builds := 0
	cache := NewClientCache(8, countingFactory(&builds))

	ctx := context.Background()
	for userID := uint(1); userID <= 4; userID++ {
		_, err := cache.Resolve(ctx, entities.ProviderDropbox, userID)
		require.NoError(t, err)
	}

	assert.Zero(t, cache.Recycle())
	assert.Equal(t, 4, cache.Len())
}
