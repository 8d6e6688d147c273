package storage

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/raterudder/solarkbridge/pkg/types"
)

// Memory keeps counters in process. Totals restart from zero with the
// process.
type Memory struct {
	mu      sync.Mutex
	latest  map[string]types.EnergyCounters
	history map[string]map[string]types.EnergyCounters
}

var _ Database = (*Memory)(nil)

// NewMemory returns an empty in-memory database.
func NewMemory() *Memory {
	return &Memory{
		latest:  make(map[string]types.EnergyCounters),
		history: make(map[string]map[string]types.EnergyCounters),
	}
}

func cloneCounters(c types.EnergyCounters) types.EnergyCounters {
	c.TotalsKWh = maps.Clone(c.TotalsKWh)
	return c
}

func (m *Memory) GetEnergyCounters(ctx context.Context, plantID string) (types.EnergyCounters, error) {
	if plantID == "" {
		return types.EnergyCounters{}, errors.New("plantID cannot be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.latest[plantID]
	if !ok {
		return types.EnergyCounters{PlantID: plantID}, nil
	}
	return cloneCounters(c), nil
}

func (m *Memory) SetEnergyCounters(ctx context.Context, counters types.EnergyCounters) error {
	if counters.PlantID == "" {
		return errors.New("plantID cannot be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latest[counters.PlantID] = cloneCounters(counters)
	days := m.history[counters.PlantID]
	if days == nil {
		days = make(map[string]types.EnergyCounters)
		m.history[counters.PlantID] = days
	}
	days[dayID(counters.UpdatedAt)] = cloneCounters(counters)
	return nil
}

func (m *Memory) GetEnergyHistory(ctx context.Context, plantID string, start, end time.Time) ([]types.EnergyCounters, error) {
	if plantID == "" {
		return nil, errors.New("plantID cannot be empty")
	}
	startID, endID := dayID(start), dayID(end)

	m.mu.Lock()
	defer m.mu.Unlock()
	days := m.history[plantID]
	var out []types.EnergyCounters
	for _, id := range slices.Sorted(maps.Keys(days)) {
		if id >= startID && id < endID {
			out = append(out, cloneCounters(days[id]))
		}
	}
	return out, nil
}

func (m *Memory) Close() error {
	return nil
}
