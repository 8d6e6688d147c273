// Package metrics exposes the latest bridge state as Prometheus metrics.
package metrics

import (
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/raterudder/solarkbridge/pkg/types"
)

// Source is the part of *bridge.Bridge the collector reads.
type Source interface {
	PlantID() string
	Metrics() (types.Metrics, time.Time)
	Settings() types.SettingsSnapshot
	Degraded() bool
}

// Collector implements prometheus.Collector over the bridge's cached state.
// Nothing is fetched on scrape.
type Collector struct {
	source Source

	sensors  map[string]*prometheus.Desc
	status   *prometheus.Desc
	up       *prometheus.Desc
	lastPoll *prometheus.Desc
	pending  *prometheus.Desc
	setting  *prometheus.Desc
}

// NewCollector creates a collector for source.
func NewCollector(source Source) *Collector {
	c := &Collector{
		source:  source,
		sensors: make(map[string]*prometheus.Desc),
		status: prometheus.NewDesc(
			"solark_status",
			"Grid and generator status (1 for the current state)",
			[]string{"plant_id", "sensor", "state"},
			nil,
		),
		up: prometheus.NewDesc(
			"solark_up",
			"Whether the last telemetry poll succeeded",
			[]string{"plant_id"},
			nil,
		),
		lastPoll: prometheus.NewDesc(
			"solark_last_poll_timestamp_seconds",
			"Time of the last successful telemetry poll",
			[]string{"plant_id"},
			nil,
		),
		pending: prometheus.NewDesc(
			"solark_settings_pending",
			"Whether written settings are still waiting to be confirmed by the cloud",
			[]string{"plant_id", "sn"},
			nil,
		),
		setting: prometheus.NewDesc(
			"solark_setting_value",
			"Numeric inverter settings of the master inverter",
			[]string{"plant_id", "sn", "key"},
			nil,
		),
	}
	for _, s := range types.Sensors {
		if s.DeviceClass == "enum" {
			continue
		}
		c.sensors[s.Key] = prometheus.NewDesc(
			"solark_"+s.Key+unitSuffix(s.Unit),
			s.Name,
			[]string{"plant_id"},
			nil,
		)
	}
	return c
}

func unitSuffix(unit string) string {
	switch unit {
	case "W":
		return "_watts"
	case "kWh":
		return "_kwh"
	case "%":
		return "_percent"
	}
	return ""
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.sensors {
		ch <- d
	}
	ch <- c.status
	ch <- c.up
	ch <- c.lastPoll
	ch <- c.pending
	ch <- c.setting
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	plantID := c.source.PlantID()

	up := 1.0
	if c.source.Degraded() {
		up = 0
	}
	ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, up, plantID)

	m, at := c.source.Metrics()
	if m != nil {
		ch <- prometheus.MustNewConstMetric(c.lastPoll, prometheus.GaugeValue, float64(at.Unix()), plantID)
		for _, s := range types.Sensors {
			if _, ok := m[s.Key]; !ok {
				continue
			}
			if s.DeviceClass == "enum" {
				ch <- prometheus.MustNewConstMetric(c.status, prometheus.GaugeValue, 1, plantID, s.Key, m.String(s.Key))
				continue
			}
			vt := prometheus.GaugeValue
			if s.Integrated() {
				vt = prometheus.CounterValue
			}
			ch <- prometheus.MustNewConstMetric(c.sensors[s.Key], vt, m.Float(s.Key), plantID)
		}
	}

	snap := c.source.Settings()
	if snap.SN == "" {
		return
	}
	pending := 0.0
	if snap.Pending {
		pending = 1
	}
	ch <- prometheus.MustNewConstMetric(c.pending, prometheus.GaugeValue, pending, plantID, snap.SN)

	keys := make([]string, 0, len(snap.Settings))
	for k := range snap.Settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		// booleans and clock strings are skipped
		if _, isBool := snap.Settings[k].(bool); isBool {
			continue
		}
		v, ok := snap.Settings.Float(k)
		if !ok {
			continue
		}
		ch <- prometheus.MustNewConstMetric(c.setting, prometheus.GaugeValue, v, plantID, snap.SN, k)
	}
}
