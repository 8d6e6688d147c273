package solark

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raterudder/solarkbridge/pkg/types"
)

// settingsCloud serves a plant whose inverters have the given settings. A
// nil settings entry answers reads with a non-object data field.
type settingsCloud struct {
	mu       sync.Mutex
	sns      []string
	settings map[string]map[string]any
	reads    map[string]int
	writes   []map[string]any
}

func (s *settingsCloud) handler(t *testing.T) http.HandlerFunc {
	return withLogin(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		switch {
		case r.URL.Path == "/api/v1/plant/p1/inverters":
			var infos []any
			for _, sn := range s.sns {
				infos = append(infos, map[string]any{"sn": sn})
			}
			json.NewEncoder(w).Encode(envelope(map[string]any{"infos": infos}))
		case strings.HasSuffix(r.URL.Path, "/read"):
			sn := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/v1/common/setting/"), "/read")
			s.reads[sn]++
			if st := s.settings[sn]; st != nil {
				json.NewEncoder(w).Encode(envelope(st))
			} else {
				json.NewEncoder(w).Encode(envelope("none"))
			}
		case strings.HasSuffix(r.URL.Path, "/set"):
			var body map[string]any
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			s.writes = append(s.writes, body)
			json.NewEncoder(w).Encode(map[string]any{"code": 0, "msg": "Success"})
		default:
			http.Error(w, "not found: "+r.URL.Path, 404)
		}
	})
}

func newSettingsCloud(t *testing.T, sns []string, settings map[string]map[string]any) (*Client, *settingsCloud) {
	s := &settingsCloud{sns: sns, settings: settings, reads: map[string]int{}}
	return newTestClient(t, s.handler(t)), s
}

func TestGetCommonSettings(t *testing.T) {
	c, _ := newSettingsCloud(t, []string{"A"}, map[string]map[string]any{
		"A": {"equipMode": 1, "pvMaxLimit": 9000},
	})
	ctx := context.Background()

	settings, err := c.GetCommonSettings(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 9000.0, settings["pvMaxLimit"])

	_, err = c.GetCommonSettings(ctx, "B")
	assert.True(t, IsKind(err, KindInvalidSettings))
	assert.EqualError(t, err, "Invalid settings response")

	_, err = c.GetCommonSettings(ctx, "")
	assert.True(t, IsKind(err, KindInvalidArgument))
}

func TestGetMasterCommonSettings(t *testing.T) {
	ctx := context.Background()

	t.Run("ScanStopsAtMaster", func(t *testing.T) {
		c, cloud := newSettingsCloud(t, []string{"A", "B", "C"}, map[string]map[string]any{
			"A": {"equipMode": 2},
			"B": {"equipMode": 1, "cap1": 30},
			"C": {"equipMode": 1},
		})
		sn, settings, err := c.GetMasterCommonSettings(ctx, false)
		require.NoError(t, err)
		assert.Equal(t, "B", sn)
		assert.Equal(t, 30.0, settings["cap1"])
		assert.Equal(t, map[string]int{"A": 1, "B": 1}, cloud.reads)

		// the cached master is read directly
		sn, _, err = c.GetMasterCommonSettings(ctx, false)
		require.NoError(t, err)
		assert.Equal(t, "B", sn)
		assert.Equal(t, map[string]int{"A": 1, "B": 2}, cloud.reads)

		// a forced refresh scans again
		_, _, err = c.GetMasterCommonSettings(ctx, true)
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"A": 2, "B": 3}, cloud.reads)
	})

	t.Run("SkipsInvalidSettings", func(t *testing.T) {
		c, _ := newSettingsCloud(t, []string{"A", "B"}, map[string]map[string]any{
			"B": {"equipMode": "1"},
		})
		_, _, err := c.GetMasterCommonSettings(ctx, false)
		assert.True(t, IsKind(err, KindMasterNotFound), "string equipMode is not a master marker")

		c, _ = newSettingsCloud(t, []string{"A", "B"}, map[string]map[string]any{
			"B": {"equipMode": 1},
		})
		sn, _, err := c.GetMasterCommonSettings(ctx, false)
		require.NoError(t, err)
		assert.Equal(t, "B", sn)
	})

	t.Run("CachedMasterDemoted", func(t *testing.T) {
		c, cloud := newSettingsCloud(t, []string{"A", "B"}, map[string]map[string]any{
			"A": {"equipMode": 1},
			"B": {"equipMode": 2},
		})
		sn, _, err := c.GetMasterCommonSettings(ctx, false)
		require.NoError(t, err)
		assert.Equal(t, "A", sn)

		cloud.mu.Lock()
		cloud.settings["A"] = map[string]any{"equipMode": 2}
		cloud.settings["B"] = map[string]any{"equipMode": 1}
		cloud.mu.Unlock()

		sn, _, err = c.GetMasterCommonSettings(ctx, false)
		require.NoError(t, err)
		assert.Equal(t, "B", sn)
		assert.Equal(t, "B", c.cachedMaster())
	})

	t.Run("SingleInverterFallback", func(t *testing.T) {
		c, _ := newSettingsCloud(t, []string{"A"}, map[string]map[string]any{
			"A": {"equipMode": 0, "cap1": 15},
		})
		sn, settings, err := c.GetMasterCommonSettings(ctx, false)
		require.NoError(t, err)
		assert.Equal(t, "A", sn)
		assert.Equal(t, 15.0, settings["cap1"])
		assert.Equal(t, "A", c.cachedMaster())
	})

	t.Run("NoMaster", func(t *testing.T) {
		c, _ := newSettingsCloud(t, []string{"A", "B"}, map[string]map[string]any{
			"A": {"equipMode": 0},
			"B": {"equipMode": 2},
		})
		_, _, err := c.GetMasterCommonSettings(ctx, false)
		assert.True(t, IsKind(err, KindMasterNotFound))
		assert.EqualError(t, err, "Master inverter not found (equipMode != 1)")
	})

	t.Run("NoInverters", func(t *testing.T) {
		c, _ := newSettingsCloud(t, nil, nil)
		_, _, err := c.GetMasterCommonSettings(ctx, false)
		assert.True(t, IsKind(err, KindNoInverters))
		assert.EqualError(t, err, "No inverters found for plant")
	})
}

func TestSetCommonSettings(t *testing.T) {
	ctx := context.Background()

	t.Run("FullPayload", func(t *testing.T) {
		c, cloud := newSettingsCloud(t, []string{"A"}, map[string]map[string]any{
			"A": {
				"equipMode":  1,
				"pvMaxLimit": 9000,
				"sellTime1":  "00:00",
				"cap1":       20,
				"time1on":    false,
				"unrelated":  "x",
				"battMode":   nil,
			},
		})
		_, err := c.SetCommonSettings(ctx, "A", types.InverterSettings{"cap1": 50}, true)
		require.NoError(t, err)

		require.Len(t, cloud.writes, 1)
		assert.Equal(t, map[string]any{
			"sn":         "A",
			"pvMaxLimit": 9000.0,
			"sellTime1":  "00:00",
			"cap1":       50.0,
			"time1on":    false,
		}, cloud.writes[0])
	})

	t.Run("PendingOverlay", func(t *testing.T) {
		c, cloud := newSettingsCloud(t, []string{"A"}, map[string]map[string]any{
			"A": {"equipMode": 1, "cap1": 20},
		})
		_, err := c.SetCommonSettings(ctx, "A", types.InverterSettings{"cap1": 50}, false)
		require.NoError(t, err)
		assert.True(t, c.HasPendingSettings())

		settings, err := c.GetCommonSettings(ctx, "A")
		require.NoError(t, err)
		assert.Equal(t, 50, settings["cap1"], "unconfirmed write is shown")

		cloud.mu.Lock()
		cloud.settings["A"]["cap1"] = 50
		cloud.mu.Unlock()
		settings, err = c.GetCommonSettings(ctx, "A")
		require.NoError(t, err)
		assert.Equal(t, 50.0, settings["cap1"])
		assert.False(t, c.HasPendingSettings())
	})

	t.Run("NotMaster", func(t *testing.T) {
		c, cloud := newSettingsCloud(t, []string{"A", "B"}, map[string]map[string]any{
			"A": {"equipMode": 1},
			"B": {"equipMode": 2},
		})
		_, err := c.SetCommonSettings(ctx, "B", types.InverterSettings{"cap1": 50}, true)
		assert.True(t, IsKind(err, KindNotMaster))
		assert.EqualError(t, err, "Inverter B is not master (equipMode=2)")
		assert.Empty(t, cloud.writes)

		_, err = c.SetCommonSettings(ctx, "B", types.InverterSettings{"cap1": 50}, false)
		require.NoError(t, err)
		assert.Len(t, cloud.writes, 1)
	})

	t.Run("SoleInverterAllowed", func(t *testing.T) {
		c, cloud := newSettingsCloud(t, []string{"A"}, map[string]map[string]any{
			"A": {"equipMode": 0},
		})
		_, err := c.SetCommonSettings(ctx, "A", types.InverterSettings{"cap1": 50}, true)
		require.NoError(t, err)
		assert.Len(t, cloud.writes, 1)
	})

	t.Run("InvalidSettings", func(t *testing.T) {
		c, cloud := newSettingsCloud(t, []string{"A"}, map[string]map[string]any{})
		_, err := c.SetCommonSettings(ctx, "A", types.InverterSettings{"cap1": 50}, false)
		assert.True(t, IsKind(err, KindInvalidSettings))
		assert.Empty(t, cloud.writes)
	})
}

func TestSetSystemWorkModeSlot(t *testing.T) {
	ctx := context.Background()

	t.Run("Mode", func(t *testing.T) {
		c, cloud := newSettingsCloud(t, []string{"A"}, map[string]map[string]any{
			"A": {"equipMode": 1, "time3on": true, "genTime3on": false},
		})
		mode := SlotModeSell
		sellTime := "06:30"
		pac := 5000.0
		workMode := 1
		_, err := c.SetSystemWorkModeSlot(ctx, "A", SlotUpdate{
			Slot:        3,
			SellTime:    &sellTime,
			SellPac:     &pac,
			Mode:        &mode,
			Enabled:     new(bool),
			SysWorkMode: &workMode,
		}, true)
		require.NoError(t, err)
		require.Len(t, cloud.writes, 1)
		w := cloud.writes[0]
		assert.Equal(t, "06:30", w["sellTime3"])
		assert.Equal(t, 5000.0, w["sellTime3Pac"])
		assert.Equal(t, false, w["time3on"])
		assert.Equal(t, true, w["genTime3on"])
		assert.Equal(t, 1.0, w["sysWorkMode"])
	})

	t.Run("InvalidSlotNoRequest", func(t *testing.T) {
		c, cloud := newSettingsCloud(t, []string{"A"}, map[string]map[string]any{"A": {"equipMode": 1}})
		for _, slot := range []int{0, 7} {
			_, err := c.SetSystemWorkModeSlot(ctx, "A", SlotUpdate{Slot: slot}, true)
			assert.True(t, IsKind(err, KindInvalidArgument))
		}
		bad := SlotMode(5)
		_, err := c.SetSystemWorkModeSlot(ctx, "A", SlotUpdate{Slot: 1, Mode: &bad}, true)
		assert.True(t, IsKind(err, KindInvalidArgument))
		assert.Empty(t, cloud.reads)
		assert.Empty(t, cloud.writes)
	})
}

func TestSlotMode(t *testing.T) {
	for _, m := range []SlotMode{SlotModeOff, SlotModeSell, SlotModeCharge} {
		parsed, err := ParseSlotMode(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, parsed)
	}
	_, err := ParseSlotMode("both")
	assert.True(t, IsKind(err, KindInvalidArgument))

	tests := []struct {
		mode         SlotMode
		charge, sell bool
	}{
		{SlotModeOff, false, false},
		{SlotModeSell, false, true},
		{SlotModeCharge, true, false},
	}
	for _, tt := range tests {
		charge, sell := tt.mode.flags()
		assert.Equal(t, tt.charge, charge, tt.mode.String())
		assert.Equal(t, tt.sell, sell, tt.mode.String())
	}
}
