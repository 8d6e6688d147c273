// Package energy integrates power readings into energy totals.
package energy

import (
	"math"
	"sync"
	"time"

	"github.com/raterudder/solarkbridge/pkg/types"
)

// Integrator accumulates kWh from power samples in watts using the
// trapezoidal rule. The zero value starts at 0 kWh with no previous sample.
type Integrator struct {
	kwh       float64
	lastPower float64
	lastAt    time.Time
}

// Add records a power sample taken at at and returns the new total. The
// first sample only sets the baseline. Negative power counts as 0 and a
// sample that isn't later than the previous one adds nothing.
func (i *Integrator) Add(powerW float64, at time.Time) float64 {
	if powerW < 0 || math.IsNaN(powerW) || math.IsInf(powerW, 0) {
		powerW = 0
	}
	if !i.lastAt.IsZero() {
		if dt := at.Sub(i.lastAt).Seconds(); dt > 0 {
			i.kwh += (i.lastPower + powerW) / 2 * dt / 3600 / 1000
		}
	}
	i.lastAt = at
	i.lastPower = powerW
	return i.kwh
}

// Total returns the accumulated energy in kWh.
func (i *Integrator) Total() float64 {
	return i.kwh
}

// Restore sets the total to kwh and forgets the previous sample so the next
// Add starts a new baseline.
func (i *Integrator) Restore(kwh float64) {
	if kwh < 0 || math.IsNaN(kwh) {
		kwh = 0
	}
	i.kwh = kwh
	i.lastAt = time.Time{}
	i.lastPower = 0
}

// Counters runs one Integrator per integrated sensor.
type Counters struct {
	mu          sync.Mutex
	sources     map[string]string
	integrators map[string]*Integrator
}

// NewCounters returns counters for every integrated sensor in sensors.
func NewCounters(sensors []types.SensorDescription) *Counters {
	c := &Counters{
		sources:     make(map[string]string),
		integrators: make(map[string]*Integrator),
	}
	for _, s := range sensors {
		if !s.Integrated() {
			continue
		}
		c.sources[s.Key] = s.SourceKey
		c.integrators[s.Key] = &Integrator{}
	}
	return c
}

// Restore loads persisted totals. Keys that aren't integrated sensors are
// ignored.
func (c *Counters) Restore(totals map[string]float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, kwh := range totals {
		if i, ok := c.integrators[key]; ok {
			i.Restore(kwh)
		}
	}
}

// Update feeds the power metrics in m to their integrators and writes the
// resulting totals back into m.
func (c *Counters) Update(m types.Metrics, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, source := range c.sources {
		m[key] = c.integrators[key].Add(m.Float(source), at)
	}
}

// Totals returns a copy of the current totals.
func (c *Counters) Totals() map[string]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	totals := make(map[string]float64, len(c.integrators))
	for key, i := range c.integrators {
		totals[key] = i.Total()
	}
	return totals
}

// Snapshot returns the totals as EnergyCounters ready to persist.
func (c *Counters) Snapshot(plantID string, at time.Time) types.EnergyCounters {
	return types.EnergyCounters{
		PlantID:   plantID,
		TotalsKWh: c.Totals(),
		UpdatedAt: at,
	}
}
