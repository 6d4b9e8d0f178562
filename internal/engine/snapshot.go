package engine

import (
	"context"
	"time"

	boterrors "github.com/ducminhle1904/adaptive-dip-bot/internal/errors"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/state"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/strategy"
)

// Snapshot captures the recoverable state of every registry
func (e *Engine) Snapshot() *state.Snapshot {
	e.mu.RLock()
	strategies := make([]strategy.Snapshot, 0, len(e.strategies))
	for _, r := range e.strategies {
		strategies = append(strategies, r.strategy.Snapshot())
	}
	e.mu.RUnlock()

	return &state.Snapshot{
		Version:    state.SnapshotVersion,
		SavedAt:    e.now(),
		Assets:     e.assets.records(),
		Prices:     e.prices.Snapshot(),
		Ledger:     e.ledger.Snapshot(),
		Strategies: strategies,
		Triggers:   e.book.Snapshot(),
	}
}

// SaveSnapshot persists the current state, retrying transient failures
func (e *Engine) SaveSnapshot(ctx context.Context) error {
	snap := e.Snapshot()
	err := e.recovery.ExecuteWithRecovery(ctx, component, "snapshot", func(ctx context.Context) error {
		return e.snapshots.Save(ctx, snap)
	})

	e.snapMu.Lock()
	e.lastSnapshotErr = err
	if err == nil {
		e.lastSnapshotAt = snap.SavedAt
	}
	e.snapMu.Unlock()

	e.metrics.SnapshotSaved(err)
	if err != nil {
		e.logger.LogError("snapshot save", err)
		return err
	}
	e.logger.Debug("Snapshot saved: %d assets, %d strategies, %d triggers",
		len(snap.Assets), len(snap.Strategies), len(snap.Triggers))
	return nil
}

func (e *Engine) snapshotLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = e.SaveSnapshot(ctx)
		}
	}
}

// Restore loads the last snapshot into the registries. It runs once per
// engine; Start calls it, and offline readers call it directly. A missing
// snapshot is a fresh start.
func (e *Engine) Restore(ctx context.Context) error {
	e.mu.Lock()
	if e.restored {
		e.mu.Unlock()
		return nil
	}
	e.restored = true
	e.mu.Unlock()

	snap, err := e.snapshots.Load(ctx)
	if isNoSnapshot(err) {
		e.logger.Info("No snapshot found, starting fresh")
		return nil
	}
	if err != nil {
		return err
	}

	e.prices.Restore(snap.Prices)
	e.ledger.Restore(snap.Ledger)
	e.book.Restore(snap.Triggers)

	for _, rec := range snap.Assets {
		e.assets.add(rec, e.newQuoteBreaker(rec.Address))
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ss := range snap.Strategies {
		s, err := strategy.Restore(ss, e.validator)
		if err != nil {
			e.recovery.Record(err, boterrors.ErrorCategoryValidation, component, "restore")
			e.logger.LogError("restore strategy "+ss.Config.ID, err)
			continue
		}
		e.strategies[s.ID()] = &strategyRunner{strategy: s}
	}

	e.logger.Status("Restored snapshot from %s: %d assets, %d strategies, %d triggers",
		snap.SavedAt.Format(time.RFC3339), len(snap.Assets), len(snap.Strategies), len(snap.Triggers))
	e.metrics.AssetsTracked(e.assets.len())
	return nil
}
