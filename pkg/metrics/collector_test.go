package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raterudder/solarkbridge/pkg/types"
)

type fakeSource struct {
	metrics  types.Metrics
	at       time.Time
	settings types.SettingsSnapshot
	degraded bool
}

func (s *fakeSource) PlantID() string { return "p1" }

func (s *fakeSource) Metrics() (types.Metrics, time.Time) { return s.metrics, s.at }

func (s *fakeSource) Settings() types.SettingsSnapshot { return s.settings }

func (s *fakeSource) Degraded() bool { return s.degraded }

func TestCollectorBeforeFirstPoll(t *testing.T) {
	c := NewCollector(&fakeSource{degraded: true})

	err := testutil.CollectAndCompare(c, strings.NewReader(`
# HELP solark_up Whether the last telemetry poll succeeded
# TYPE solark_up gauge
solark_up{plant_id="p1"} 0
`), "solark_up")
	require.NoError(t, err)
	assert.Equal(t, 1, testutil.CollectAndCount(c))
}

func TestCollector(t *testing.T) {
	src := &fakeSource{
		metrics: types.Metrics{
			types.MetricPVPower:          1600.0,
			types.MetricBatterySOC:       80.0,
			types.MetricGridStatus:       types.GridActive,
			types.MetricGeneratorStatus:  types.GeneratorOff,
			types.MetricGridImportEnergy: 1.5,
		},
		at: time.Unix(1700000000, 0),
		settings: types.SettingsSnapshot{
			SN:      "sn1",
			Pending: true,
			Settings: types.InverterSettings{
				"cap1":      20,
				"time1on":   true,
				"sellTime1": "00:00",
			},
		},
	}
	c := NewCollector(src)

	err := testutil.CollectAndCompare(c, strings.NewReader(`
# HELP solark_up Whether the last telemetry poll succeeded
# TYPE solark_up gauge
solark_up{plant_id="p1"} 1
# HELP solark_last_poll_timestamp_seconds Time of the last successful telemetry poll
# TYPE solark_last_poll_timestamp_seconds gauge
solark_last_poll_timestamp_seconds{plant_id="p1"} 1.7e+09
# HELP solark_pv_power_watts PV Power
# TYPE solark_pv_power_watts gauge
solark_pv_power_watts{plant_id="p1"} 1600
# HELP solark_battery_soc_percent Battery SOC
# TYPE solark_battery_soc_percent gauge
solark_battery_soc_percent{plant_id="p1"} 80
# HELP solark_grid_import_energy_kwh Grid Import Energy
# TYPE solark_grid_import_energy_kwh counter
solark_grid_import_energy_kwh{plant_id="p1"} 1.5
# HELP solark_status Grid and generator status (1 for the current state)
# TYPE solark_status gauge
solark_status{plant_id="p1",sensor="generator_status",state="Off"} 1
solark_status{plant_id="p1",sensor="grid_status",state="Active"} 1
# HELP solark_settings_pending Whether written settings are still waiting to be confirmed by the cloud
# TYPE solark_settings_pending gauge
solark_settings_pending{plant_id="p1",sn="sn1"} 1
# HELP solark_setting_value Numeric inverter settings of the master inverter
# TYPE solark_setting_value gauge
solark_setting_value{key="cap1",plant_id="p1",sn="sn1"} 20
`))
	require.NoError(t, err)
}

func TestCollectorLint(t *testing.T) {
	c := NewCollector(&fakeSource{})
	problems, err := testutil.CollectAndLint(c)
	require.NoError(t, err)
	assert.Empty(t, problems)
}
