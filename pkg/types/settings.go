package types

import (
	"maps"
	"strconv"
	"time"
)

// InverterSettings is the flat common-settings object of one inverter as the
// cloud returns it: numbers, booleans and "HH:MM" strings keyed by setting name.
type InverterSettings map[string]any

// Float returns the numeric value of key. Booleans map to 1 and 0.
func (s InverterSettings) Float(key string) (float64, bool) {
	switch v := s[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}
	return 0, false
}

// Clone returns a shallow copy.
func (s InverterSettings) Clone() InverterSettings {
	return maps.Clone(s)
}

// SettingsSnapshot is the result of one settings poll of the master inverter.
type SettingsSnapshot struct {
	SN        string           `json:"sn"`
	Settings  InverterSettings `json:"settings"`
	FetchedAt time.Time        `json:"fetchedAt"`
	Pending   bool             `json:"pending"`
}

// EntityKind is the Home Assistant platform a setting is exposed on.
type EntityKind string

const (
	EntityNumber EntityKind = "number"
	EntitySwitch EntityKind = "switch"
	EntitySelect EntityKind = "select"
	EntityTime   EntityKind = "text"
)

// SelectOption maps a human label to the raw setting value.
type SelectOption struct {
	Label string
	Value int
}

// SettingEntity describes a writable inverter setting.
type SettingEntity struct {
	Kind EntityKind
	Key  string
	Name string
	Unit string

	// number
	Min  float64
	Max  float64
	Step float64

	// switch
	OnValue  any
	OffValue any

	// select
	Options []SelectOption
}

// ID is the stable identifier used for topics and unique ids.
func (e SettingEntity) ID() string {
	return string(e.Kind) + "_" + e.Key
}
