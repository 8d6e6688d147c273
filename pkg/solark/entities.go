package solark

import (
	"fmt"

	"github.com/raterudder/solarkbridge/pkg/types"
)

var days = []struct{ key, label string }{
	{"mondayOn", "Monday"},
	{"tuesdayOn", "Tuesday"},
	{"wednesdayOn", "Wednesday"},
	{"thursdayOn", "Thursday"},
	{"fridayOn", "Friday"},
	{"saturdayOn", "Saturday"},
	{"sundayOn", "Sunday"},
}

// SettingEntities returns the writable settings exposed as controls.
func SettingEntities() []types.SettingEntity {
	entities := []types.SettingEntity{
		{Kind: types.EntityNumber, Key: "sysWorkMode", Name: "System Work Mode", Min: 0, Max: 10, Step: 1},
		{Kind: types.EntityNumber, Key: "energyMode", Name: "Work Mode", Min: 0, Max: 10, Step: 1},
		{Kind: types.EntityNumber, Key: "solarMaxSellPower", Name: "Max Solar Power", Unit: "W", Min: 500, Max: 19500, Step: 1},
		{Kind: types.EntityNumber, Key: "zeroExportPower", Name: "Zero Export Power", Unit: "W", Min: 0, Max: 500, Step: 1},
		{Kind: types.EntityNumber, Key: "pvMaxLimit", Name: "Max Sell Power", Unit: "W", Min: 500, Max: 32000, Step: 1},
	}
	for slot := 1; slot <= 6; slot++ {
		entities = append(entities,
			types.SettingEntity{Kind: types.EntityNumber, Key: fmt.Sprintf("sellTime%dPac", slot), Name: fmt.Sprintf("Power %d", slot), Unit: "W", Min: 0, Max: 14000, Step: 1},
			types.SettingEntity{Kind: types.EntityNumber, Key: fmt.Sprintf("cap%d", slot), Name: fmt.Sprintf("Battery SOC %d", slot), Unit: "%", Min: 0, Max: 100, Step: 1},
		)
	}

	entities = append(entities,
		types.SettingEntity{Kind: types.EntitySwitch, Key: "solarSell", Name: "Solar Sell", OnValue: 1, OffValue: 0},
		types.SettingEntity{Kind: types.EntitySwitch, Key: "peakAndVallery", Name: "Energy Pattern (Time Of Use)", OnValue: 1, OffValue: 0},
	)
	for slot := 1; slot <= 6; slot++ {
		entities = append(entities,
			types.SettingEntity{Kind: types.EntitySwitch, Key: fmt.Sprintf("time%don", slot), Name: fmt.Sprintf("Sell Time %d Enabled", slot), OnValue: true, OffValue: false},
			types.SettingEntity{Kind: types.EntitySwitch, Key: fmt.Sprintf("genTime%don", slot), Name: fmt.Sprintf("Charge Time %d Enabled", slot), OnValue: true, OffValue: false},
		)
	}
	for _, d := range days {
		entities = append(entities, types.SettingEntity{Kind: types.EntitySwitch, Key: d.key, Name: "Time Of Use " + d.label, OnValue: true, OffValue: false})
	}

	entities = append(entities,
		types.SettingEntity{Kind: types.EntitySelect, Key: "sysWorkMode", Name: "Work Mode", Options: []types.SelectOption{
			{Label: "Grid Selling", Value: 0},
			{Label: "Limited power to Load", Value: 1},
			{Label: "Limited to Home", Value: 2},
		}},
		types.SettingEntity{Kind: types.EntitySelect, Key: "energyMode", Name: "Energy Pattern", Options: []types.SelectOption{
			{Label: "Batt First", Value: 0},
			{Label: "Load First", Value: 1},
		}},
	)
	for slot := 1; slot <= 6; slot++ {
		entities = append(entities, types.SettingEntity{Kind: types.EntityTime, Key: fmt.Sprintf("sellTime%d", slot), Name: fmt.Sprintf("Time %d", slot)})
	}
	return entities
}

// EntityValue converts a user supplied state (as a string, the way MQTT and
// form inputs carry it) into the raw value to write for e.
func EntityValue(e types.SettingEntity, state string) (any, error) {
	switch e.Kind {
	case types.EntityNumber:
		f, ok := toFloat(state)
		if !ok {
			return nil, newError(KindInvalidArgument, nil, "%s: invalid number %q", e.Key, state)
		}
		if f < e.Min || f > e.Max {
			return nil, newError(KindInvalidArgument, nil, "%s: must be between %v and %v", e.Key, e.Min, e.Max)
		}
		return int(f), nil
	case types.EntitySwitch:
		on, err := coerceBool(state)
		if err != nil {
			return nil, newError(KindInvalidArgument, err, "%s: %v", e.Key, err)
		}
		if on {
			return e.OnValue, nil
		}
		return e.OffValue, nil
	case types.EntitySelect:
		for _, o := range e.Options {
			if o.Label == state {
				return o.Value, nil
			}
		}
		return nil, newError(KindInvalidArgument, nil, "%s: unknown option %q", e.Key, state)
	case types.EntityTime:
		t, err := coerceClock(state)
		if err != nil {
			return nil, newError(KindInvalidArgument, err, "%s: %v", e.Key, err)
		}
		return t, nil
	}
	return nil, newError(KindInvalidArgument, nil, "%s: unsupported entity kind %s", e.Key, e.Kind)
}

// EntityState renders the current raw setting for e as the string published
// to consumers. ok is false when the setting is absent.
func EntityState(e types.SettingEntity, settings types.InverterSettings) (string, bool) {
	v, ok := settings[e.Key]
	if !ok || v == nil {
		return "", false
	}
	switch e.Kind {
	case types.EntityNumber:
		f, ok := toFloat(v)
		if !ok {
			return "", false
		}
		return fmt.Sprintf("%g", f), true
	case types.EntitySwitch:
		switch {
		case valuesEqual(v, e.OnValue):
			return "ON", true
		case valuesEqual(v, e.OffValue):
			return "OFF", true
		case truthy(v):
			return "ON", true
		}
		return "OFF", true
	case types.EntitySelect:
		f, ok := toFloat(v)
		if !ok {
			return "", false
		}
		for _, o := range e.Options {
			if float64(o.Value) == f {
				return o.Label, true
			}
		}
		return "", false
	case types.EntityTime:
		s := asString(v)
		if s == "" {
			return "", false
		}
		if t, err := coerceClock(s); err == nil {
			return t, true
		}
		return s, true
	}
	return "", false
}
