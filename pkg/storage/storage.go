package storage

import (
	"context"
	"time"

	"github.com/raterudder/solarkbridge/pkg/types"
)

// Database persists the integrated energy counters of plants.
type Database interface {
	// GetEnergyCounters returns the latest counters of plantID. A plant that
	// was never saved yields empty counters and no error.
	GetEnergyCounters(ctx context.Context, plantID string) (types.EnergyCounters, error)
	// SetEnergyCounters saves counters as the latest and as the snapshot of
	// their UTC day.
	SetEnergyCounters(ctx context.Context, counters types.EnergyCounters) error

	// GetEnergyHistory returns the daily snapshots with a day in [start, end).
	GetEnergyHistory(ctx context.Context, plantID string, start, end time.Time) ([]types.EnergyCounters, error)

	// Lifecycle
	Close() error
}

// dayID is the document ID of the daily snapshot containing t.
func dayID(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}
