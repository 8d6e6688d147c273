package solark

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raterudder/solarkbridge/pkg/types"
)

func TestBuildConfigureUpdates(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		updates, err := BuildConfigureUpdates(map[string]any{
			"work_mode":         "limited_to_home",
			"energy_mode":       "load_first",
			"max_solar_power":   "8000",
			"zero_export_power": 20.0,
			"max_sell_power":    9000,
			"solar_sell":        "on",
			"time_of_use":       false,
			"sunday":            "yes",
			"slot2_time":        "5:30",
			"slot2_power":       4000.0,
			"slot2_soc":         "35",
			"slot2_mode":        "both",
			"slot6_mode":        "sell",
		})
		require.NoError(t, err)
		assert.Equal(t, types.InverterSettings{
			"sysWorkMode":       2,
			"energyMode":        1,
			"solarMaxSellPower": 8000,
			"zeroExportPower":   20,
			"pvMaxLimit":        9000,
			"solarSell":         1,
			"peakAndVallery":    0,
			"sundayOn":          true,
			"sellTime2":         "05:30",
			"sellTime2Pac":      4000,
			"cap2":              35,
			"time2on":           true,
			"genTime2on":        true,
			"time6on":           false,
			"genTime6on":        true,
		}, updates)
	})

	t.Run("Empty", func(t *testing.T) {
		updates, err := BuildConfigureUpdates(nil)
		require.NoError(t, err)
		assert.Empty(t, updates)
	})

	t.Run("AllErrorsReported", func(t *testing.T) {
		_, err := BuildConfigureUpdates(map[string]any{
			"max_solar_power": 100,
			"work_mode":       "turbo",
			"slot7_time":      "01:00",
			"slot1_time":      "25:00",
			"slot1_soc":       101,
			"monday":          "maybe",
			"slot1_mode":      "discharge",
		})
		require.Error(t, err)
		assert.True(t, IsKind(err, KindInvalidArgument))
		msg := err.Error()
		assert.Contains(t, msg, "max_solar_power: must be between 500 and 19500")
		assert.Contains(t, msg, "work_mode: must be one of grid_selling, limited_to_home, limited_to_load")
		assert.Contains(t, msg, "slot7_time: unknown parameter")
		assert.Contains(t, msg, `slot1_time: invalid time "25:00"`)
		assert.Contains(t, msg, "slot1_soc: must be between 0 and 100")
		assert.Contains(t, msg, `monday: invalid boolean value "maybe"`)
		assert.Contains(t, msg, "slot1_mode: must be one of off, sell, charge, both")
	})
}

func TestSlotModeName(t *testing.T) {
	assert.Equal(t, "off", SlotModeName(false, false))
	assert.Equal(t, "sell", SlotModeName(false, true))
	assert.Equal(t, "charge", SlotModeName(true, false))
	assert.Equal(t, "both", SlotModeName(true, true))
}

func TestCoerceClock(t *testing.T) {
	tests := []struct {
		in   any
		want string
		ok   bool
	}{
		{"05:00", "05:00", true},
		{"5:00", "05:00", true},
		{" 23:59:30 ", "23:59", true},
		{"24:00", "", false},
		{"12:60", "", false},
		{"noon", "", false},
		{"1", "", false},
		{1200, "", false},
	}
	for _, tt := range tests {
		got, err := coerceClock(tt.in)
		if tt.ok {
			assert.NoError(t, err, tt.in)
			assert.Equal(t, tt.want, got)
		} else {
			assert.Error(t, err, tt.in)
		}
	}
}
