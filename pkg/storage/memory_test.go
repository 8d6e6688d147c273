package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raterudder/solarkbridge/pkg/types"
)

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	defer m.Close()

	c, err := m.GetEnergyCounters(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, types.EnergyCounters{PlantID: "p1"}, c)

	_, err = m.GetEnergyCounters(ctx, "")
	assert.ErrorContains(t, err, "plantID cannot be empty")

	day1 := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	totals := map[string]float64{types.MetricGridExportEnergy: 3}
	require.NoError(t, m.SetEnergyCounters(ctx, types.EnergyCounters{PlantID: "p1", TotalsKWh: totals, UpdatedAt: day1}))
	totals[types.MetricGridExportEnergy] = 99

	c, err = m.GetEnergyCounters(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 3.0, c.TotalsKWh[types.MetricGridExportEnergy], "saved counters are copied")

	require.NoError(t, m.SetEnergyCounters(ctx, types.EnergyCounters{
		PlantID:   "p1",
		TotalsKWh: map[string]float64{types.MetricGridExportEnergy: 4},
		UpdatedAt: day1.Add(time.Hour),
	}))
	require.NoError(t, m.SetEnergyCounters(ctx, types.EnergyCounters{
		PlantID:   "p1",
		TotalsKWh: map[string]float64{types.MetricGridExportEnergy: 7},
		UpdatedAt: day1.Add(48 * time.Hour),
	}))

	history, err := m.GetEnergyHistory(ctx, "p1", day1, day1.Add(72*time.Hour))
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 4.0, history[0].TotalsKWh[types.MetricGridExportEnergy], "last write of the day wins")
	assert.Equal(t, 7.0, history[1].TotalsKWh[types.MetricGridExportEnergy])

	history, err = m.GetEnergyHistory(ctx, "p1", day1.Add(24*time.Hour), day1.Add(48*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, history)
}
