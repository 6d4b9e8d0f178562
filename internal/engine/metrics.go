package engine

import "time"

// Recorder receives engine measurements. The monitoring package provides
// the Prometheus implementation.
type Recorder interface {
	PriceIngested(asset, source string, price float64)
	QuoteFailed(asset string)
	TradeExecuted(asset, side string, value float64)
	TradeFailed(asset, side string)
	TriggerFired(action string, success bool)
	StrategyTick(strategyID string, took time.Duration)
	SnapshotSaved(err error)
	AssetsTracked(n int)
	AssetDropped(asset string)
}

type nopRecorder struct{}

func (nopRecorder) PriceIngested(string, string, float64) {}
func (nopRecorder) QuoteFailed(string) {}
func (nopRecorder) TradeExecuted(string, string, float64) {}
func (nopRecorder) TradeFailed(string, string) {}
func (nopRecorder) TriggerFired(string, bool) {}
func (nopRecorder) StrategyTick(string, time.Duration) {}
func (nopRecorder) SnapshotSaved(error) {}
func (nopRecorder) AssetsTracked(int) {}
func (nopRecorder) AssetDropped(string) {}
