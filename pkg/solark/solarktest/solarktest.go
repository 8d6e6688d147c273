// Package solarktest runs an in-process imitation of the Sol-Ark cloud for
// tests of code built on the solark client.
package solarktest

import (
	"encoding/json"
	"maps"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/raterudder/solarkbridge/pkg/solark"
)

const (
	PlantID = "12345"
	SN      = "2207101234"
	Token   = "test-token"
)

// Cloud is a fake Sol-Ark cloud. Its state is changed through the setters and
// is safe to use from concurrent tests.
type Cloud struct {
	server *httptest.Server

	mu        sync.Mutex
	inverters []map[string]any
	settings  map[string]map[string]any
	live      map[string]map[string]any
	flow      map[string]any
	oauthDown bool
	flowDown  bool
	// applyWrites makes set requests update the stored settings.
	applyWrites bool
	requests    map[string]int
	writes      map[string][]map[string]any
}

// New starts a fake cloud with one master inverter.
func New() *Cloud {
	c := &Cloud{
		inverters: []map[string]any{
			{"sn": SN, "status": 1.0, "etoday": 12.5, "etotal": 3456.7},
		},
		settings: map[string]map[string]any{
			SN: DefaultSettings(),
		},
		live: map[string]map[string]any{
			SN: {
				"sn":             SN,
				"pvPower":        1500.0,
				"battPower":      500.0,
				"toBat":          true,
				"batTo":          false,
				"soc":            80.0,
				"meterA":         100.0,
				"meterB":         50.0,
				"meterC":         0.0,
				"loadOrEpsPower": 1100.0,
			},
		},
		flow: map[string]any{
			"pvPower":          1600.0,
			"gridOrMeterPower": 150.0,
			"gridTo":           true,
			"toGrid":           false,
			"genOn":            false,
		},
		applyWrites: true,
		requests:    map[string]int{},
		writes:      map[string][]map[string]any{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /oauth/token", c.handleOAuth)
	mux.HandleFunc("POST /rest/account/login", c.handleLegacy)
	mux.HandleFunc("GET /api/v1/plant/{plant}/inverters", c.authed(c.handlePlantInverters))
	mux.HandleFunc("GET /api/v1/dy/store/{sn}/read", c.authed(c.handleLive))
	mux.HandleFunc("GET /api/v1/plant/energy/{plant}/flow", c.authed(c.handleFlow))
	mux.HandleFunc("GET /api/v1/common/setting/{sn}/read", c.authed(c.handleSettingsRead))
	mux.HandleFunc("POST /api/v1/common/setting/{sn}/set", c.authed(c.handleSettingsSet))
	mux.HandleFunc("GET /api/v1/plants", c.authed(c.handleList("plants")))
	mux.HandleFunc("GET /api/v1/inverters", c.authed(c.handleList("inverters")))
	mux.HandleFunc("GET /api/v1/gateways", c.authed(c.handleList("gateways")))

	c.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		c.requests[r.URL.Path]++
		c.mu.Unlock()
		mux.ServeHTTP(w, r)
	}))
	return c
}

// DefaultSettings returns the settings of a typical master inverter.
func DefaultSettings() map[string]any {
	return map[string]any{
		"equipMode":         1.0,
		"sysWorkMode":       1.0,
		"energyMode":        0.0,
		"solarSell":         1.0,
		"peakAndVallery":    1.0,
		"pvMaxLimit":        9000.0,
		"solarMaxSellPower": 9000.0,
		"zeroExportPower":   20.0,
		"sellTime1":         "00:00",
		"sellTime2":         "05:00",
		"sellTime1Pac":      8000.0,
		"cap1":              20.0,
		"time1on":           false,
		"genTime1on":        false,
		"mondayOn":          true,
		"safetyType":        2.0,
		"battMode":          0.0,
	}
}

func (c *Cloud) URL() string {
	return c.server.URL
}

func (c *Cloud) Close() {
	c.server.Close()
}

// Config returns a client config pointed at the fake.
func (c *Cloud) Config() solark.Config {
	return solark.Config{
		Username:       "user@example.com",
		Password:       "secret",
		PlantID:        PlantID,
		BaseURL:        "https://www.mysolark.com",
		APIURL:         c.server.URL,
		LegacyLoginURL: c.server.URL + "/rest/account/login",
		HTTPClient:     c.server.Client(),
	}
}

// Client returns a new client for the fake.
func (c *Cloud) Client() *solark.Client {
	return solark.New(c.Config())
}

// Requests returns how many requests were made to path.
func (c *Cloud) Requests(path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests[path]
}

// Writes returns the payloads posted to the settings endpoint of sn.
func (c *Cloud) Writes(sn string) []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]map[string]any(nil), c.writes[sn]...)
}

// SetSetting changes one stored setting.
func (c *Cloud) SetSetting(sn, key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.settings[sn] == nil {
		c.settings[sn] = map[string]any{}
	}
	c.settings[sn][key] = value
}

// SetInverters replaces the plant's inverters and their settings.
func (c *Cloud) SetInverters(inverters []map[string]any, settings map[string]map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inverters = inverters
	c.settings = settings
}

// SetLive replaces the live telemetry of sn.
func (c *Cloud) SetLive(sn string, live map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.live[sn] = live
}

// SetApplyWrites controls whether writes change stored settings. Turning it
// off simulates the propagation delay of the real cloud.
func (c *Cloud) SetApplyWrites(apply bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applyWrites = apply
}

// SetOAuthDown makes the OAuth endpoint fail so the legacy login is used.
func (c *Cloud) SetOAuthDown(down bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.oauthDown = down
}

// SetFlowDown makes the flow endpoint return an API error.
func (c *Cloud) SetFlowDown(down bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flowDown = down
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func ok(data any) map[string]any {
	return map[string]any{"code": 0, "msg": "Success", "data": data}
}

func (c *Cloud) authed(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+Token {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		h(w, r)
	}
}

func (c *Cloud) handleOAuth(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	down := c.oauthDown
	c.mu.Unlock()
	if down {
		http.Error(w, "oauth unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, ok(map[string]any{
		"access_token":  Token,
		"refresh_token": "refresh",
		"expires_in":    3600,
	}))
}

func (c *Cloud) handleLegacy(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"token": Token})
}

func (c *Cloud) handlePlantInverters(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := make([]any, 0, len(c.inverters))
	for _, inv := range c.inverters {
		list = append(list, maps.Clone(inv))
	}
	writeJSON(w, ok(map[string]any{"infos": list, "total": len(list)}))
}

func (c *Cloud) handleLive(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	writeJSON(w, ok(maps.Clone(c.live[r.PathValue("sn")])))
}

func (c *Cloud) handleFlow(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.flowDown {
		writeJSON(w, map[string]any{"code": 102, "msg": "flow unavailable"})
		return
	}
	writeJSON(w, ok(maps.Clone(c.flow)))
}

func (c *Cloud) handleSettingsRead(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, found := c.settings[r.PathValue("sn")]
	if !found {
		writeJSON(w, ok(nil))
		return
	}
	writeJSON(w, ok(maps.Clone(s)))
}

func (c *Cloud) handleSettingsSet(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad body", http.StatusBadRequest)
		return
	}
	sn := r.PathValue("sn")

	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes[sn] = append(c.writes[sn], body)
	if c.applyWrites {
		if c.settings[sn] == nil {
			c.settings[sn] = map[string]any{}
		}
		for k, v := range body {
			if k == "sn" {
				continue
			}
			c.settings[sn][k] = v
		}
	}
	writeJSON(w, map[string]any{"code": 0, "msg": "Success"})
}

func (c *Cloud) handleList(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		defer c.mu.Unlock()
		var infos []any
		switch kind {
		case "plants":
			infos = []any{map[string]any{"id": PlantID, "name": "Home"}}
		case "inverters":
			for _, inv := range c.inverters {
				infos = append(infos, maps.Clone(inv))
			}
		case "gateways":
			infos = []any{map[string]any{"sn": "E470000001", "status": 1}}
		}
		writeJSON(w, ok(map[string]any{
			"infos": infos,
			"total": len(infos),
		}))
	}
}
