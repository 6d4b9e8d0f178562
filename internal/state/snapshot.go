package state

import (
	"context"
	"errors"
	"time"

	"github.com/ducminhle1904/adaptive-dip-bot/internal/ledger"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/pricing"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/strategy"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/triggers"
)

// SnapshotVersion is bumped on incompatible layout changes
const SnapshotVersion = "1"

// ErrNoSnapshot is returned by Load when nothing was saved yet
var ErrNoSnapshot = errors.New("no snapshot saved")

// AssetRecord is a tracked asset and its quote health
type AssetRecord struct {
	Address             string    `json:"address"`
	Symbol              string    `json:"symbol"`
	BaseToken           string    `json:"base_token"`
	AddedAt             time.Time `json:"added_at"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	FirstFailureAt      time.Time `json:"first_failure_at,omitempty"`
}

// Snapshot is the complete recoverable state of the engine
type Snapshot struct {
	Version    string                          `json:"version"`
	SavedAt    time.Time                       `json:"saved_at"`
	Assets     []AssetRecord                   `json:"assets"`
	Prices     map[string][]pricing.PricePoint `json:"prices"`
	Ledger     map[string]ledger.AssetLedger   `json:"ledger"`
	Strategies []strategy.Snapshot             `json:"strategies"`
	Triggers   []triggers.Trigger              `json:"triggers"`
}

// Store persists snapshots
type Store interface {
	Save(ctx context.Context, snap *Snapshot) error
	Load(ctx context.Context) (*Snapshot, error)
}

// Validate checks a loaded snapshot before it is restored
func (s *Snapshot) Validate() error {
	if s.Version != SnapshotVersion {
		return errors.New("unsupported snapshot version " + s.Version)
	}
	seen := make(map[string]bool, len(s.Strategies))
	for _, st := range s.Strategies {
		if st.Config.ID == "" {
			return errors.New("strategy without id")
		}
		if seen[st.Config.ID] {
			return errors.New("duplicate strategy id " + st.Config.ID)
		}
		seen[st.Config.ID] = true
	}
	return nil
}

// Nop discards snapshots, used when persistence is disabled
type Nop struct{}

func (Nop) Save(context.Context, *Snapshot) error { return nil }

func (Nop) Load(context.Context) (*Snapshot, error) { return nil, ErrNoSnapshot }
