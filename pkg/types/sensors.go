package types

// SensorDescription describes a read-only telemetry entity.
type SensorDescription struct {
	Key         string
	Name        string
	Unit        string
	DeviceClass string
	StateClass  string
	// SourceKey is set on integrated energy sensors and names the power
	// metric they integrate.
	SourceKey string
}

// Integrated reports whether the sensor is computed locally from a power metric.
func (d SensorDescription) Integrated() bool {
	return d.SourceKey != ""
}

// Sensors lists every telemetry entity exposed by the bridge.
var Sensors = []SensorDescription{
	{Key: MetricPVPower, Name: "PV Power", Unit: "W", DeviceClass: "power", StateClass: "measurement"},
	{Key: MetricBatteryPower, Name: "Battery Power", Unit: "W", DeviceClass: "power", StateClass: "measurement"},
	{Key: MetricBatteryChargePower, Name: "Battery Charge Power", Unit: "W", DeviceClass: "power", StateClass: "measurement"},
	{Key: MetricBatteryDischargePower, Name: "Battery Discharge Power", Unit: "W", DeviceClass: "power", StateClass: "measurement"},
	{Key: MetricGridPower, Name: "Grid Power (Net)", Unit: "W", DeviceClass: "power", StateClass: "measurement"},
	{Key: MetricLoadPower, Name: "Load Power", Unit: "W", DeviceClass: "power", StateClass: "measurement"},
	{Key: MetricGridImportPower, Name: "Grid Import Power", Unit: "W", DeviceClass: "power", StateClass: "measurement"},
	{Key: MetricGridExportPower, Name: "Grid Export Power", Unit: "W", DeviceClass: "power", StateClass: "measurement"},
	{Key: MetricBatterySOC, Name: "Battery SOC", Unit: "%", DeviceClass: "battery", StateClass: "measurement"},
	{Key: MetricEnergyToday, Name: "Energy Today", Unit: "kWh", DeviceClass: "energy", StateClass: "total_increasing"},
	{Key: MetricEnergyTotal, Name: "Energy Total", Unit: "kWh", DeviceClass: "energy", StateClass: "total_increasing"},
	{Key: MetricGridStatus, Name: "Grid Status", DeviceClass: "enum"},
	{Key: MetricGeneratorStatus, Name: "Generator Status", DeviceClass: "enum"},
	{Key: MetricGridImportEnergy, SourceKey: MetricGridImportPower, Name: "Grid Import Energy", Unit: "kWh", DeviceClass: "energy", StateClass: "total_increasing"},
	{Key: MetricGridExportEnergy, SourceKey: MetricGridExportPower, Name: "Grid Export Energy", Unit: "kWh", DeviceClass: "energy", StateClass: "total_increasing"},
	{Key: MetricBatteryChargeEnergy, SourceKey: MetricBatteryChargePower, Name: "Battery Charge Energy", Unit: "kWh", DeviceClass: "energy", StateClass: "total_increasing"},
	{Key: MetricBatteryDischargeEnergy, SourceKey: MetricBatteryDischargePower, Name: "Battery Discharge Energy", Unit: "kWh", DeviceClass: "energy", StateClass: "total_increasing"},
}
