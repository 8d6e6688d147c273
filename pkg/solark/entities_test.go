package solark

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raterudder/solarkbridge/pkg/types"
)

func findEntity(t *testing.T, id string) types.SettingEntity {
	t.Helper()
	for _, e := range SettingEntities() {
		if e.ID() == id {
			return e
		}
	}
	require.FailNow(t, "entity not found", id)
	return types.SettingEntity{}
}

func TestSettingEntities(t *testing.T) {
	seen := map[string]bool{}
	for _, e := range SettingEntities() {
		assert.False(t, seen[e.ID()], "duplicate id %s", e.ID())
		seen[e.ID()] = true
		assert.NotEmpty(t, e.Name)
		if e.Kind == types.EntityNumber {
			assert.Less(t, e.Min, e.Max, e.ID())
		}
	}
	assert.True(t, seen["number_cap6"])
	assert.True(t, seen["switch_genTime1on"])
	assert.True(t, seen["select_sysWorkMode"])
	assert.True(t, seen["text_sellTime3"])
}

func TestEntityValue(t *testing.T) {
	tests := []struct {
		id    string
		state string
		want  any
	}{
		{"number_pvMaxLimit", "9000", 9000},
		{"number_cap1", "35.0", 35},
		{"switch_solarSell", "ON", 1},
		{"switch_solarSell", "OFF", 0},
		{"switch_time1on", "ON", true},
		{"switch_sundayOn", "off", false},
		{"select_sysWorkMode", "Limited to Home", 2},
		{"select_energyMode", "Batt First", 0},
		{"text_sellTime2", "6:15", "06:15"},
	}
	for _, tt := range tests {
		t.Run(tt.id+"="+tt.state, func(t *testing.T) {
			got, err := EntityValue(findEntity(t, tt.id), tt.state)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	invalid := []struct{ id, state string }{
		{"number_pvMaxLimit", "100"},
		{"number_cap1", "lots"},
		{"switch_solarSell", "maybe"},
		{"select_sysWorkMode", "Turbo"},
		{"text_sellTime2", "25:00"},
	}
	for _, tt := range invalid {
		_, err := EntityValue(findEntity(t, tt.id), tt.state)
		assert.True(t, IsKind(err, KindInvalidArgument), tt.id+"="+tt.state)
	}
}

func TestEntityState(t *testing.T) {
	settings := types.InverterSettings{
		"pvMaxLimit":  9000.0,
		"solarSell":   1.0,
		"time1on":     false,
		"mondayOn":    true,
		"sysWorkMode": 1.0,
		"energyMode":  7.0,
		"sellTime2":   "6:15",
	}
	tests := []struct {
		id   string
		want string
		ok   bool
	}{
		{"number_pvMaxLimit", "9000", true},
		{"switch_solarSell", "ON", true},
		{"switch_time1on", "OFF", true},
		{"switch_mondayOn", "ON", true},
		{"select_sysWorkMode", "Limited power to Load", true},
		{"select_energyMode", "", false},
		{"text_sellTime2", "06:15", true},
		{"number_cap1", "", false},
	}
	for _, tt := range tests {
		got, ok := EntityState(findEntity(t, tt.id), settings)
		assert.Equal(t, tt.ok, ok, tt.id)
		assert.Equal(t, tt.want, got, tt.id)
	}
}
