package pricing

import (
	"sort"
	"sync"
	"time"

	boterrors "github.com/ducminhle1904/adaptive-dip-bot/internal/errors"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/events"
)

const (
	// DefaultRetention is how long price points are kept
	DefaultRetention = 7 * 24 * time.Hour
	// DefaultSMARecomputeInterval throttles SMA recomputation per asset
	DefaultSMARecomputeInterval = 30 * time.Second
	// MinSMASamples is the minimum number of points for a usable SMA
	MinSMASamples = 3
)

// PricePoint is a single price observation; immutable once stored
type PricePoint struct {
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
	Source    string    `json:"source"`
}

// SMAValue is a cached moving average for one window
type SMAValue struct {
	Average        float64   `json:"average"`
	SampleCount    int       `json:"sample_count"`
	LastComputedAt time.Time `json:"last_computed_at"`
}

// Available reports whether enough points were in range
func (v SMAValue) Available() bool {
	return v.SampleCount >= MinSMASamples
}

// Config holds the store tunables
type Config struct {
	Retention            time.Duration
	SMARecomputeInterval time.Duration
}

// Option customizes a Store
type Option func(*Store)

// WithClock replaces time.Now, used by tests and replays
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

type series struct {
	mu        sync.RWMutex
	points    []PricePoint // ascending by timestamp
	sma       map[Window]SMAValue
	smaAt     time.Time
	smaLoaded bool
}

// Store owns the price history and SMA caches of every asset
type Store struct {
	mu        sync.RWMutex
	series    map[string]*series
	cfg       Config
	now       func() time.Time
	publisher events.Publisher
}

// NewStore creates an empty price store. publisher may be nil.
func NewStore(cfg Config, publisher events.Publisher, opts ...Option) *Store {
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.SMARecomputeInterval <= 0 {
		cfg.SMARecomputeInterval = DefaultSMARecomputeInterval
	}

	s := &Store{
		series:    make(map[string]*series),
		cfg:       cfg,
		now:       time.Now,
		publisher: publisher,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) get(asset string) (*series, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ser, ok := s.series[asset]
	return ser, ok
}

func (s *Store) getOrCreate(asset string) *series {
	if ser, ok := s.get(asset); ok {
		return ser
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ser, ok := s.series[asset]; ok {
		return ser
	}
	ser := &series{sma: make(map[Window]SMAValue)}
	s.series[asset] = ser
	return ser
}

// Ingest appends a price observation. Non-positive prices are ignored and
// reported as not accepted. A zero timestamp means now.
func (s *Store) Ingest(asset string, price float64, source string, ts time.Time) bool {
	if price <= 0 || asset == "" {
		return false
	}
	if ts.IsZero() {
		ts = s.now()
	}

	ser := s.getOrCreate(asset)
	point := PricePoint{Timestamp: ts, Price: price, Source: source}

	ser.mu.Lock()
	n := len(ser.points)
	if n == 0 || !ts.Before(ser.points[n-1].Timestamp) {
		ser.points = append(ser.points, point)
	} else {
		// late observation, keep the series ordered
		idx := sort.Search(n, func(i int) bool { return ser.points[i].Timestamp.After(ts) })
		ser.points = append(ser.points, PricePoint{})
		copy(ser.points[idx+1:], ser.points[idx:])
		ser.points[idx] = point
	}
	s.pruneLocked(ser)
	change := change24hLocked(ser, s.now())
	ser.mu.Unlock()

	if s.publisher != nil {
		s.publisher.Publish(&events.PriceUpdate{
			BaseEvent: events.NewBaseEvent(events.EventTypePriceUpdate, ts),
			Asset:     asset,
			Price:     price,
			Change24h: change,
			Source:    source,
		})
	}
	return true
}

// pruneLocked drops points older than the retention horizon
func (s *Store) pruneLocked(ser *series) int {
	cutoff := s.now().Add(-s.cfg.Retention)
	idx := sort.Search(len(ser.points), func(i int) bool {
		return !ser.points[i].Timestamp.Before(cutoff)
	})
	if idx == 0 {
		return 0
	}
	ser.points = append([]PricePoint(nil), ser.points[idx:]...)
	return idx
}

// Prune applies retention to every asset and returns the number of dropped points
func (s *Store) Prune() int {
	removed := 0
	for _, asset := range s.Assets() {
		ser, ok := s.get(asset)
		if !ok {
			continue
		}
		ser.mu.Lock()
		removed += s.pruneLocked(ser)
		ser.mu.Unlock()
	}
	return removed
}

// Latest returns the most recent observation
func (s *Store) Latest(asset string) (PricePoint, bool) {
	ser, ok := s.get(asset)
	if !ok {
		return PricePoint{}, false
	}
	ser.mu.RLock()
	defer ser.mu.RUnlock()
	if len(ser.points) == 0 {
		return PricePoint{}, false
	}
	return ser.points[len(ser.points)-1], true
}

// History returns a copy of the points at or after since
func (s *Store) History(asset string, since time.Time) []PricePoint {
	ser, ok := s.get(asset)
	if !ok {
		return nil
	}
	ser.mu.RLock()
	defer ser.mu.RUnlock()

	idx := sort.Search(len(ser.points), func(i int) bool {
		return !ser.points[i].Timestamp.Before(since)
	})
	out := make([]PricePoint, len(ser.points)-idx)
	copy(out, ser.points[idx:])
	return out
}

// PriceAt returns the latest observation at or before t
func (s *Store) PriceAt(asset string, t time.Time) (PricePoint, bool) {
	ser, ok := s.get(asset)
	if !ok {
		return PricePoint{}, false
	}
	ser.mu.RLock()
	defer ser.mu.RUnlock()
	return priceAtLocked(ser, t)
}

func priceAtLocked(ser *series, t time.Time) (PricePoint, bool) {
	idx := sort.Search(len(ser.points), func(i int) bool {
		return ser.points[i].Timestamp.After(t)
	})
	if idx == 0 {
		return PricePoint{}, false
	}
	return ser.points[idx-1], true
}

// MaxSince returns the highest price observed at or after since
func (s *Store) MaxSince(asset string, since time.Time) (float64, bool) {
	points := s.History(asset, since)
	if len(points) == 0 {
		return 0, false
	}
	highest := points[0].Price
	for _, p := range points[1:] {
		if p.Price > highest {
			highest = p.Price
		}
	}
	return highest, true
}

// Change24h returns the percentage change against the price 24h ago, or
// against the oldest point when the history is shorter than a day.
func (s *Store) Change24h(asset string) float64 {
	ser, ok := s.get(asset)
	if !ok {
		return 0
	}
	ser.mu.RLock()
	defer ser.mu.RUnlock()
	return change24hLocked(ser, s.now())
}

func change24hLocked(ser *series, now time.Time) float64 {
	if len(ser.points) == 0 {
		return 0
	}
	ref, ok := priceAtLocked(ser, now.Add(-24*time.Hour))
	if !ok {
		ref = ser.points[0]
	}
	if ref.Price <= 0 {
		return 0
	}
	latest := ser.points[len(ser.points)-1].Price
	return (latest - ref.Price) / ref.Price * 100
}

// ComputeSMA averages the points in [now-window, now] without touching the cache.
// Fewer than MinSMASamples points yields an unavailable value with a zero average.
func (s *Store) ComputeSMA(asset string, window Window) SMAValue {
	ser, ok := s.get(asset)
	if !ok {
		return SMAValue{}
	}
	now := s.now()
	ser.mu.RLock()
	defer ser.mu.RUnlock()
	return computeSMALocked(ser, window, now)
}

func computeSMALocked(ser *series, window Window, now time.Time) SMAValue {
	from := now.Add(-window.Duration())
	sum := 0.0
	count := 0
	for i := len(ser.points) - 1; i >= 0; i-- {
		p := ser.points[i]
		if p.Timestamp.After(now) {
			continue
		}
		if p.Timestamp.Before(from) {
			break
		}
		sum += p.Price
		count++
	}

	value := SMAValue{SampleCount: count, LastComputedAt: now}
	if count >= MinSMASamples {
		value.Average = sum / float64(count)
	}
	return value
}

// RefreshSMA recomputes every cached window for asset unless the last
// recompute happened within the throttle interval. Returns true when recomputed.
func (s *Store) RefreshSMA(asset string) bool {
	ser, ok := s.get(asset)
	if !ok {
		return false
	}
	now := s.now()

	ser.mu.Lock()
	defer ser.mu.Unlock()

	if ser.smaLoaded && now.Sub(ser.smaAt) < s.cfg.SMARecomputeInterval {
		return false
	}
	for _, w := range AllWindows {
		ser.sma[w] = computeSMALocked(ser, w, now)
	}
	ser.smaAt = now
	ser.smaLoaded = true
	return true
}

// SMA returns the cached average for window, refreshing it when the cache is stale
func (s *Store) SMA(asset string, window Window) (SMAValue, error) {
	if window.Duration() == 0 {
		return SMAValue{}, boterrors.NewValidationError("pricing", "SMA", "unknown window "+string(window))
	}
	ser, ok := s.get(asset)
	if !ok {
		return SMAValue{}, boterrors.NewUnknownAssetError("pricing", "SMA", asset)
	}

	s.RefreshSMA(asset)

	ser.mu.RLock()
	defer ser.mu.RUnlock()
	value := ser.sma[window]
	if !value.Available() {
		return value, boterrors.NewInsufficientDataError("pricing", "SMA", "fewer than 3 points in "+string(window))
	}
	return value, nil
}

// Len returns the number of stored points for asset
func (s *Store) Len(asset string) int {
	ser, ok := s.get(asset)
	if !ok {
		return 0
	}
	ser.mu.RLock()
	defer ser.mu.RUnlock()
	return len(ser.points)
}

// Remove forgets an asset's history and caches
func (s *Store) Remove(asset string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.series, asset)
}

// Assets lists assets with stored history
func (s *Store) Assets() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	assets := make([]string, 0, len(s.series))
	for asset := range s.series {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	return assets
}

// Snapshot copies all series
func (s *Store) Snapshot() map[string][]PricePoint {
	out := make(map[string][]PricePoint)
	for _, asset := range s.Assets() {
		ser, ok := s.get(asset)
		if !ok {
			continue
		}
		ser.mu.RLock()
		out[asset] = append([]PricePoint(nil), ser.points...)
		ser.mu.RUnlock()
	}
	return out
}

// Restore replaces the history with a snapshot, dropping invalid points
// and anything past retention. SMA caches are rebuilt lazily.
func (s *Store) Restore(snapshot map[string][]PricePoint) {
	restored := make(map[string]*series, len(snapshot))
	for asset, points := range snapshot {
		valid := make([]PricePoint, 0, len(points))
		for _, p := range points {
			if p.Price > 0 && !p.Timestamp.IsZero() {
				valid = append(valid, p)
			}
		}
		sort.SliceStable(valid, func(i, j int) bool { return valid[i].Timestamp.Before(valid[j].Timestamp) })
		ser := &series{points: valid, sma: make(map[Window]SMAValue)}
		s.pruneLocked(ser)
		restored[asset] = ser
	}

	s.mu.Lock()
	s.series = restored
	s.mu.Unlock()
}
