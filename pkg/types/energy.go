package types

import "time"

// EnergyCounters are the persisted integrated energy totals of a plant,
// keyed by the integrated metric (e.g. MetricGridImportEnergy).
type EnergyCounters struct {
	PlantID   string             `json:"plantID"`
	TotalsKWh map[string]float64 `json:"totalsKWh"`
	UpdatedAt time.Time          `json:"updatedAt"`
}
