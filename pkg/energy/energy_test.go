package energy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raterudder/solarkbridge/pkg/types"
)

func TestIntegrator(t *testing.T) {
	start := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("Trapezoid", func(t *testing.T) {
		var i Integrator
		assert.Equal(t, 0.0, i.Add(1000, start), "first sample is the baseline")
		// (1000+3000)/2 W for one hour
		assert.InDelta(t, 2.0, i.Add(3000, start.Add(time.Hour)), 1e-9)
		assert.InDelta(t, 2.75, i.Add(0, start.Add(90*time.Minute)), 1e-9)
		assert.InDelta(t, 2.75, i.Total(), 1e-9)
	})

	t.Run("NegativeClamped", func(t *testing.T) {
		var i Integrator
		i.Add(-500, start)
		assert.Equal(t, 0.0, i.Add(-500, start.Add(time.Hour)))
		assert.InDelta(t, 0.5, i.Add(1000, start.Add(2*time.Hour)), 1e-9)
	})

	t.Run("TimeNotAdvancing", func(t *testing.T) {
		var i Integrator
		i.Add(1000, start)
		assert.Equal(t, 0.0, i.Add(1000, start))
		assert.Equal(t, 0.0, i.Add(1000, start.Add(-time.Minute)))
		assert.InDelta(t, 1.0, i.Add(1000, start.Add(59*time.Minute)), 1e-9)
	})

	t.Run("Restore", func(t *testing.T) {
		var i Integrator
		i.Add(1000, start)
		i.Add(1000, start.Add(time.Hour))
		i.Restore(10)
		assert.Equal(t, 10.0, i.Total())
		assert.Equal(t, 10.0, i.Add(5000, start.Add(5*time.Hour)), "restore drops the previous sample")
		assert.InDelta(t, 15.0, i.Add(5000, start.Add(6*time.Hour)), 1e-9)
	})
}

func TestCounters(t *testing.T) {
	start := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewCounters(types.Sensors)
	require.Len(t, c.Totals(), 4)

	c.Restore(map[string]float64{
		types.MetricGridImportEnergy: 100,
		"unknown":                    5,
	})

	m := types.Metrics{
		types.MetricGridImportPower:       2000.0,
		types.MetricGridExportPower:       0.0,
		types.MetricBatteryChargePower:    0.0,
		types.MetricBatteryDischargePower: 500.0,
	}
	c.Update(m, start)
	assert.Equal(t, 100.0, m[types.MetricGridImportEnergy])
	assert.Equal(t, 0.0, m[types.MetricBatteryDischargeEnergy])

	m2 := m.Clone()
	c.Update(m2, start.Add(30*time.Minute))
	assert.InDelta(t, 101.0, m2.Float(types.MetricGridImportEnergy), 1e-9)
	assert.InDelta(t, 0.25, m2.Float(types.MetricBatteryDischargeEnergy), 1e-9)
	assert.Equal(t, 0.0, m2[types.MetricGridExportEnergy])

	snap := c.Snapshot("p1", start)
	assert.Equal(t, "p1", snap.PlantID)
	assert.InDelta(t, 101.0, snap.TotalsKWh[types.MetricGridImportEnergy], 1e-9)
	assert.NotContains(t, snap.TotalsKWh, "unknown")
}
