package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetricsAccessors(t *testing.T) {
	m := Metrics{
		MetricPVPower:      1500.0,
		MetricBatterySOC:   80,
		MetricLoadPower:    "1100.5",
		MetricGridPower:    "n/a",
		MetricGridStatus:   GridActive,
		MetricBatteryPower: true,
	}

	assert.Equal(t, 1500.0, m.Float(MetricPVPower))
	assert.Equal(t, 80.0, m.Float(MetricBatterySOC))
	assert.Equal(t, 1100.5, m.Float(MetricLoadPower))
	assert.Equal(t, 0.0, m.Float(MetricGridPower))
	assert.Equal(t, 0.0, m.Float(MetricBatteryPower))
	assert.Equal(t, 0.0, m.Float("missing"))

	assert.Equal(t, GridActive, m.String(MetricGridStatus))
	assert.Equal(t, StatusUnknown, m.String(MetricGeneratorStatus))
	assert.Equal(t, StatusUnknown, m.String(MetricPVPower))

	c := m.Clone()
	c[MetricPVPower] = 1.0
	assert.Equal(t, 1500.0, m[MetricPVPower])
}

func TestInverterSettingsFloat(t *testing.T) {
	s := InverterSettings{
		"cap1":       20,
		"pvMaxLimit": 9000.0,
		"time1on":    true,
		"genTime1on": false,
		"energyMode": "1",
		"sellTime1":  "00:00",
	}

	tests := []struct {
		key    string
		want   float64
		wantOK bool
	}{
		{"cap1", 20, true},
		{"pvMaxLimit", 9000, true},
		{"time1on", 1, true},
		{"genTime1on", 0, true},
		{"energyMode", 1, true},
		{"sellTime1", 0, false},
		{"missing", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, ok := s.Float(tt.key)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestSensors(t *testing.T) {
	keys := map[string]bool{}
	var integrated int
	for _, s := range Sensors {
		assert.False(t, keys[s.Key], "duplicate sensor %s", s.Key)
		keys[s.Key] = true
		if s.Integrated() {
			integrated++
			assert.Equal(t, "kWh", s.Unit, s.Key)
			assert.Equal(t, "total_increasing", s.StateClass, s.Key)
		}
	}
	assert.Equal(t, 4, integrated)
	for _, s := range Sensors {
		if s.Integrated() {
			assert.True(t, keys[s.SourceKey], "%s integrates unknown %s", s.Key, s.SourceKey)
		}
	}
}

func TestSettingEntityID(t *testing.T) {
	e := SettingEntity{Kind: EntityTime, Key: "sellTime1"}
	assert.Equal(t, "text_sellTime1", e.ID())
}
