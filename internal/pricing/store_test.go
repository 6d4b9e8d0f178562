package pricing

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	boterrors "github.com/ducminhle1904/adaptive-dip-bot/internal/errors"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/events"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(ev events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func newTestStore(clock *testClock, pub events.Publisher) *Store {
	return NewStore(Config{}, pub, WithClock(clock.Now))
}

func TestIngestRejectsNonPositivePrices(t *testing.T) {
	clock := newTestClock()
	pub := &recordingPublisher{}
	store := newTestStore(clock, pub)

	assert.False(t, store.Ingest("WLD", 0, "router", clock.Now()))
	assert.False(t, store.Ingest("WLD", -1, "router", clock.Now()))
	assert.Equal(t, 0, store.Len("WLD"))
	assert.Empty(t, pub.events)

	assert.True(t, store.Ingest("WLD", 1.2, "router", clock.Now()))
	assert.Equal(t, 1, store.Len("WLD"))
}

func TestIngestEmitsPriceUpdateWithChange(t *testing.T) {
	clock := newTestClock()
	pub := &recordingPublisher{}
	store := newTestStore(clock, pub)

	store.Ingest("WLD", 1.0, "router", clock.Now())
	clock.Advance(25 * time.Hour)
	store.Ingest("WLD", 1.1, "bybit", clock.Now())

	require.Len(t, pub.events, 2)
	update, ok := pub.events[1].(*events.PriceUpdate)
	require.True(t, ok)
	assert.Equal(t, "WLD", update.Asset)
	assert.Equal(t, "bybit", update.Source)
	assert.InDelta(t, 10.0, update.Change24h, 1e-9)
}

func TestRetentionPrunesOldPoints(t *testing.T) {
	clock := newTestClock()
	store := NewStore(Config{Retention: time.Hour}, nil, WithClock(clock.Now))

	store.Ingest("A", 1, "t", clock.Now())
	clock.Advance(30 * time.Minute)
	store.Ingest("A", 2, "t", clock.Now())
	clock.Advance(45 * time.Minute)
	store.Ingest("A", 3, "t", clock.Now())

	assert.Equal(t, 2, store.Len("A"))

	clock.Advance(2 * time.Hour)
	assert.Equal(t, 2, store.Prune())
	assert.Equal(t, 0, store.Len("A"))
}

func TestLateObservationKeepsOrder(t *testing.T) {
	clock := newTestClock()
	store := newTestStore(clock, nil)
	base := clock.Now()

	store.Ingest("A", 1, "t", base)
	store.Ingest("A", 3, "t", base.Add(2*time.Minute))
	store.Ingest("A", 2, "t", base.Add(time.Minute))

	history := store.History("A", time.Time{})
	require.Len(t, history, 3)
	assert.Equal(t, []float64{1, 2, 3}, []float64{history[0].Price, history[1].Price, history[2].Price})

	latest, ok := store.Latest("A")
	require.True(t, ok)
	assert.Equal(t, 3.0, latest.Price)
}

func TestPriceAtAndMaxSince(t *testing.T) {
	clock := newTestClock()
	store := newTestStore(clock, nil)
	base := clock.Now()

	for i, price := range []float64{1.0, 1.4, 1.2, 0.9} {
		store.Ingest("A", price, "t", base.Add(time.Duration(i)*10*time.Minute))
	}
	clock.Advance(30 * time.Minute)

	p, ok := store.PriceAt("A", base.Add(15*time.Minute))
	require.True(t, ok)
	assert.Equal(t, 1.4, p.Price)

	_, ok = store.PriceAt("A", base.Add(-time.Minute))
	assert.False(t, ok)

	highest, ok := store.MaxSince("A", base.Add(15*time.Minute))
	require.True(t, ok)
	assert.Equal(t, 1.2, highest)

	_, ok = store.MaxSince("missing", base)
	assert.False(t, ok)
}

func TestSMAUnavailableBelowThreePoints(t *testing.T) {
	clock := newTestClock()
	store := newTestStore(clock, nil)

	store.Ingest("A", 10, "t", clock.Now())
	store.Ingest("A", 20, "t", clock.Now())

	value := store.ComputeSMA("A", Window5m)
	assert.False(t, value.Available())
	assert.Equal(t, 0.0, value.Average)
	assert.Equal(t, 2, value.SampleCount)

	_, err := store.SMA("A", Window5m)
	assert.True(t, errors.Is(err, boterrors.ErrInsufficientData))

	_, err = store.SMA("missing", Window5m)
	assert.True(t, errors.Is(err, boterrors.ErrUnknownAsset))
}

func TestSMAFiltersWindowAndThrottles(t *testing.T) {
	clock := newTestClock()
	store := newTestStore(clock, nil)
	base := clock.Now()

	// one old point outside the 5min window
	store.Ingest("A", 100, "t", base.Add(-10*time.Minute))
	store.Ingest("A", 1, "t", base.Add(-3*time.Minute))
	store.Ingest("A", 2, "t", base.Add(-2*time.Minute))
	store.Ingest("A", 3, "t", base.Add(-1*time.Minute))

	value, err := store.SMA("A", Window5m)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, value.Average, 1e-12)
	assert.Equal(t, 3, value.SampleCount)

	hourly, err := store.SMA("A", Window1h)
	require.NoError(t, err)
	assert.InDelta(t, 26.5, hourly.Average, 1e-12)

	// within the throttle interval the cached value is served
	store.Ingest("A", 8, "t", base)
	clock.Advance(10 * time.Second)
	assert.False(t, store.RefreshSMA("A"))
	cached, err := store.SMA("A", Window5m)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, cached.Average, 1e-12)

	clock.Advance(150 * time.Second)
	assert.True(t, store.RefreshSMA("A"))
	fresh, err := store.SMA("A", Window5m)
	require.NoError(t, err)
	// the -3min point has aged out of the window by now
	assert.Equal(t, 3, fresh.SampleCount)
	assert.InDelta(t, 13.0/3.0, fresh.Average, 1e-12)
}

func TestSnapshotRestore(t *testing.T) {
	clock := newTestClock()
	store := newTestStore(clock, nil)
	store.Ingest("A", 1, "t", clock.Now())
	store.Ingest("B", 2, "t", clock.Now())

	snap := store.Snapshot()
	snap["B"] = append(snap["B"], PricePoint{Timestamp: clock.Now(), Price: -5})

	restored := newTestStore(clock, nil)
	restored.Restore(snap)

	assert.Equal(t, []string{"A", "B"}, restored.Assets())
	assert.Equal(t, 1, restored.Len("B"))

	restored.Remove("A")
	assert.Equal(t, []string{"B"}, restored.Assets())
}

func TestParseTimeframe(t *testing.T) {
	tests := []struct {
		label string
		want  time.Duration
		ok    bool
	}{
		{"5min", 5 * time.Minute, true},
		{"5m", 5 * time.Minute, true},
		{"1d", 24 * time.Hour, true},
		{"7d", 7 * 24 * time.Hour, true},
		{"90m", 90 * time.Minute, true},
		{"-1h", 0, false},
		{"soon", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			got, err := ParseTimeframe(tt.label)
			if !tt.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
