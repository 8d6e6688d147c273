package solark

import (
	"fmt"
	"math"

	"github.com/raterudder/solarkbridge/pkg/types"
)

const pvStringCount = 12

// ParsePlantData normalizes combined live and flow data into Metrics. It
// never fails: missing or non-numeric inputs become 0 and every standard key
// is always present.
func ParsePlantData(data map[string]any) types.Metrics {
	m := types.Metrics{}

	// energy
	if v, ok := data["energyToday"]; ok {
		m[types.MetricEnergyToday] = safeFloat(v)
	} else if v, ok := data["etoday"]; ok {
		m[types.MetricEnergyToday] = safeFloat(v)
	}
	if v, ok := data["energyTotal"]; ok {
		m[types.MetricEnergyTotal] = safeFloat(v)
	} else if v, ok := data["etotal"]; ok {
		m[types.MetricEnergyTotal] = safeFloat(v)
	}

	// state of charge
	if v, ok := data["soc"]; ok {
		m[types.MetricBatterySOC] = safeFloat(v)
	} else if capacity := safeFloat(data["batteryCap"]); capacity > 0 {
		m[types.MetricBatterySOC] = safeFloat(data["curCap"]) / capacity * 100
	}

	// pv
	if v, ok := data["pvPower"]; ok {
		m[types.MetricPVPower] = safeFloat(v)
	} else if sum := pvStringSum(data); sum != 0 {
		m[types.MetricPVPower] = sum
	}

	// battery, positive is discharging
	if v, ok := data["battPower"]; ok {
		power := math.Abs(safeFloat(v))
		if truthy(data["toBat"]) && !truthy(data["batTo"]) {
			power = -power
		}
		m[types.MetricBatteryPower] = power
	} else {
		volt := safeFloat(data["curVolt"])
		current := safeFloat(data["chargeCurrent"])
		if volt != 0 || current != 0 {
			m[types.MetricBatteryPower] = volt * current
		}
	}
	battery := m.Float(types.MetricBatteryPower)
	switch {
	case battery > 0:
		m[types.MetricBatteryDischargePower] = battery
		m[types.MetricBatteryChargePower] = 0.0
	case battery < 0:
		m[types.MetricBatteryDischargePower] = 0.0
		m[types.MetricBatteryChargePower] = -battery
	default:
		m[types.MetricBatteryDischargePower] = 0.0
		m[types.MetricBatteryChargePower] = 0.0
	}

	if v, ok := data["gridOrMeterPower"]; ok {
		m[types.MetricGridPower] = safeFloat(v)
	}

	// load
	if v, ok := data["loadOrEpsPower"]; ok {
		m[types.MetricLoadPower] = safeFloat(v)
	} else if load := inverterOutputPower(data); load != 0 {
		m[types.MetricLoadPower] = load
	}

	parseGridFlow(data, m)

	gridTo, toGrid := data["gridTo"], data["toGrid"]
	if gridTo == false && toGrid == false {
		m[types.MetricGridStatus] = types.GridInactive
	} else if truthy(gridTo) || truthy(toGrid) {
		m[types.MetricGridStatus] = types.GridActive
	}

	if genOn, ok := data["genOn"]; ok && genOn != nil {
		if truthy(genOn) {
			m[types.MetricGeneratorStatus] = types.GeneratorRunning
		} else {
			m[types.MetricGeneratorStatus] = types.GeneratorOff
		}
	}

	for _, key := range []string{
		types.MetricPVPower,
		types.MetricBatteryPower,
		types.MetricGridPower,
		types.MetricLoadPower,
		types.MetricGridImportPower,
		types.MetricGridExportPower,
		types.MetricBatterySOC,
		types.MetricEnergyToday,
		types.MetricEnergyTotal,
		types.MetricBatteryChargePower,
		types.MetricBatteryDischargePower,
	} {
		if _, ok := m[key]; !ok {
			m[key] = 0.0
		}
	}
	for _, key := range []string{types.MetricGridStatus, types.MetricGeneratorStatus} {
		if _, ok := m[key]; !ok {
			m[key] = types.StatusUnknown
		}
	}
	return m
}

// pvStringSum adds volt{i}*current{i} for every MPPT string that reports at
// least one of the two.
func pvStringSum(data map[string]any) float64 {
	var sum float64
	for i := 1; i <= pvStringCount; i++ {
		v, vok := data[fmt.Sprintf("volt%d", i)]
		c, cok := data[fmt.Sprintf("current%d", i)]
		if (!vok || v == nil) && (!cok || c == nil) {
			continue
		}
		sum += safeFloat(v) * safeFloat(c)
	}
	return sum
}

func inverterOutputPower(data map[string]any) float64 {
	volt := safeFloat(data["inverterOutputVoltage"])
	current := safeFloat(data["current"])
	pf := 1.0
	if f, ok := toFloat(data["powerFactor"]); ok && f != 0 {
		pf = f
	}
	return volt * current * pf
}

// parseGridFlow splits grid power into import and export. Three-phase meter
// readings win, then explicit import/export fields, then for systems without
// a meter the net grid power with the direction flags.
func parseGridFlow(data map[string]any, m types.Metrics) {
	net := safeFloat(data["meterA"]) + safeFloat(data["meterB"]) + safeFloat(data["meterC"])
	if net != 0 {
		if net > 0 {
			m[types.MetricGridImportPower] = net
			m[types.MetricGridExportPower] = 0.0
		} else {
			m[types.MetricGridImportPower] = 0.0
			m[types.MetricGridExportPower] = -net
		}
		return
	}

	if v, ok := data["gridImportPower"]; ok {
		m[types.MetricGridImportPower] = safeFloat(v)
	}
	if v, ok := data["gridExportPower"]; ok {
		m[types.MetricGridExportPower] = safeFloat(v)
	}
	if m.Float(types.MetricGridImportPower) != 0 || m.Float(types.MetricGridExportPower) != 0 {
		return
	}
	if hasMeter(data["existsMeter"]) {
		return
	}

	flow := safeFloat(data["gridOrMeterPower"])
	if flow == 0 {
		return
	}
	gridTo := data["gridTo"] == true
	toGrid := data["toGrid"] == true
	switch {
	case gridTo && !toGrid:
		m[types.MetricGridImportPower] = math.Abs(flow)
		m[types.MetricGridExportPower] = 0.0
	case toGrid && !gridTo:
		m[types.MetricGridImportPower] = 0.0
		m[types.MetricGridExportPower] = math.Abs(flow)
	case flow > 0:
		m[types.MetricGridImportPower] = flow
		m[types.MetricGridExportPower] = 0.0
	default:
		m[types.MetricGridImportPower] = 0.0
		m[types.MetricGridExportPower] = -flow
	}
}

// hasMeter reads existsMeter; false, 0, "0" and absent all mean no meter.
func hasMeter(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != "0"
	}
	if f, ok := toFloat(v); ok {
		return f != 0
	}
	return true
}
