package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "adaptive_bot"

// Metrics is the Prometheus recorder for the engine. Each instance owns its
// registry so tests and embedded engines never collide on registration.
type Metrics struct {
	registry *prometheus.Registry
	health   *HealthChecker

	price           *prometheus.GaugeVec
	priceUpdates    *prometheus.CounterVec
	quoteFailures   *prometheus.CounterVec
	tradesTotal     *prometheus.CounterVec
	tradeValue      *prometheus.HistogramVec
	tradeFailures   *prometheus.CounterVec
	triggerFires    *prometheus.CounterVec
	strategyTick    *prometheus.HistogramVec
	snapshotSaves   *prometheus.CounterVec
	assetsTracked   prometheus.Gauge
	assetsDropped   *prometheus.CounterVec
	eventsPublished *prometheus.CounterVec
}

// NewMetrics registers the engine collectors. health may be nil.
func NewMetrics(health *HealthChecker) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		health:   health,

		price: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "asset_price",
			Help:      "Latest accepted price per asset in its base token",
		}, []string{"asset"}),
		priceUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "price_updates_total",
			Help:      "Accepted price observations",
		}, []string{"asset", "source"}),
		quoteFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quote_failures_total",
			Help:      "Failed quote fetches",
		}, []string{"asset"}),
		tradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_total",
			Help:      "Executed swaps",
		}, []string{"asset", "side"}),
		tradeValue: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "trade_value",
			Help:      "Distribution of executed swap values in base token",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"side"}),
		tradeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trade_failures_total",
			Help:      "Swaps that failed or were rejected",
		}, []string{"asset", "side"}),
		triggerFires: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trigger_fires_total",
			Help:      "Matched triggers by action and outcome",
		}, []string{"action", "result"}),
		strategyTick: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "strategy_tick_seconds",
			Help:      "Duration of one strategy evaluation",
			Buckets:   prometheus.DefBuckets,
		}, []string{"strategy"}),
		snapshotSaves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_saves_total",
			Help:      "Snapshot save attempts by outcome",
		}, []string{"result"}),
		assetsTracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "assets_tracked",
			Help:      "Assets currently in the registry",
		}),
		assetsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assets_dropped_total",
			Help:      "Assets removed after persistent quote failures",
		}, []string{"asset"}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Events seen on the bus by type",
		}, []string{"type"}),
	}

	m.registry.MustRegister(
		m.price, m.priceUpdates, m.quoteFailures,
		m.tradesTotal, m.tradeValue, m.tradeFailures,
		m.triggerFires, m.strategyTick, m.snapshotSaves,
		m.assetsTracked, m.assetsDropped, m.eventsPublished,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry, e.g. for extra collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) PriceIngested(asset, source string, price float64) {
	m.price.WithLabelValues(asset).Set(price)
	m.priceUpdates.WithLabelValues(asset, source).Inc()
	if m.health != nil {
		m.health.MarkPrice()
	}
}

func (m *Metrics) QuoteFailed(asset string) {
	m.quoteFailures.WithLabelValues(asset).Inc()
}

func (m *Metrics) TradeExecuted(asset, side string, value float64) {
	m.tradesTotal.WithLabelValues(asset, side).Inc()
	m.tradeValue.WithLabelValues(side).Observe(value)
	if m.health != nil {
		m.health.MarkTrade()
	}
}

func (m *Metrics) TradeFailed(asset, side string) {
	m.tradeFailures.WithLabelValues(asset, side).Inc()
}

func (m *Metrics) TriggerFired(action string, success bool) {
	m.triggerFires.WithLabelValues(action, result(success)).Inc()
}

func (m *Metrics) StrategyTick(strategyID string, took time.Duration) {
	m.strategyTick.WithLabelValues(strategyID).Observe(took.Seconds())
}

func (m *Metrics) SnapshotSaved(err error) {
	m.snapshotSaves.WithLabelValues(result(err == nil)).Inc()
	if m.health != nil {
		m.health.MarkSnapshot(err)
	}
}

func (m *Metrics) AssetsTracked(n int) {
	m.assetsTracked.Set(float64(n))
}

func (m *Metrics) AssetDropped(asset string) {
	m.assetsDropped.WithLabelValues(asset).Inc()
	m.price.DeleteLabelValues(asset)
}

// EventSeen counts a bus event by type
func (m *Metrics) EventSeen(eventType string) {
	m.eventsPublished.WithLabelValues(eventType).Inc()
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
