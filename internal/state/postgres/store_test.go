package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ducminhle1904/adaptive-dip-bot/internal/ledger"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/pricing"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/state"
)

func setupStore(t *testing.T) *Store {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	store, err := NewStore(ctx, pool, "", "")
	require.NoError(t, err)
	return store
}

func TestStoreRoundTrip(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	_, err := store.Load(ctx)
	assert.True(t, errors.Is(err, state.ErrNoSnapshot))

	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	snap := &state.Snapshot{
		Version: state.SnapshotVersion,
		SavedAt: ts,
		Assets:  []state.AssetRecord{{Address: "0xwld", Symbol: "WLD", BaseToken: "0xusdc", AddedAt: ts}},
		Prices: map[string][]pricing.PricePoint{
			"0xwld": {{Timestamp: ts, Price: 1.25, Source: "router"}},
		},
		Ledger: map[string]ledger.AssetLedger{
			"0xwld": {Address: "0xwld", Symbol: "WLD", QuantityHeld: 8, WeightedAveragePrice: 1.25, TotalCostBasis: 10},
		},
	}
	require.NoError(t, store.Save(ctx, snap))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, snap.Assets, loaded.Assets)
	assert.Equal(t, 1.25, loaded.Prices["0xwld"][0].Price)
	assert.Equal(t, 10.0, loaded.Ledger["0xwld"].TotalCostBasis)

	// second save replaces the row
	snap.SavedAt = ts.Add(time.Minute)
	snap.Assets = nil
	require.NoError(t, store.Save(ctx, snap))
	loaded, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded.Assets)
	assert.True(t, loaded.SavedAt.Equal(ts.Add(time.Minute)))
}
