package types

import (
	"maps"
	"strconv"
)

// Keys of the normalized telemetry map. Every parsed Metrics value carries
// all of the power, energy and status keys.
const (
	MetricPVPower               = "pv_power"
	MetricBatteryPower          = "battery_power"
	MetricBatteryChargePower    = "battery_charge_power"
	MetricBatteryDischargePower = "battery_discharge_power"
	MetricGridPower             = "grid_power"
	MetricGridImportPower       = "grid_import_power"
	MetricGridExportPower       = "grid_export_power"
	MetricLoadPower             = "load_power"
	MetricBatterySOC            = "battery_soc"
	MetricEnergyToday           = "energy_today"
	MetricEnergyTotal           = "energy_total"
	MetricGridStatus            = "grid_status"
	MetricGeneratorStatus       = "generator_status"

	MetricGridImportEnergy       = "grid_import_energy"
	MetricGridExportEnergy       = "grid_export_energy"
	MetricBatteryChargeEnergy    = "battery_charge_energy"
	MetricBatteryDischargeEnergy = "battery_discharge_energy"
)

const (
	StatusUnknown    = "Unknown"
	GridActive       = "Active"
	GridInactive     = "Inactive"
	GeneratorRunning = "Running"
	GeneratorOff     = "Off"
)

// Metrics is the flat normalized telemetry map for a plant. Values are
// float64 for power/energy keys and string for status keys.
type Metrics map[string]any

// Float returns the numeric value for key or 0 if it is missing or not a number.
func (m Metrics) Float(key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0
		}
		return f
	}
	return 0
}

// String returns the string value for key, StatusUnknown if it isn't a string.
func (m Metrics) String(key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return StatusUnknown
}

// Clone returns a shallow copy.
func (m Metrics) Clone() Metrics {
	return maps.Clone(m)
}
