package solark

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/raterudder/solarkbridge/pkg/common"
	"github.com/raterudder/solarkbridge/pkg/log"
)

const (
	DefaultBaseURL = "https://www.mysolark.com"
	DefaultAPIURL  = "https://ecsprod-api-new.solarkcloud.com"

	requestTimeout = 30 * time.Second
)

// flowOverlayKeys are the flow-data fields that replace live telemetry
// fields when both are present.
var flowOverlayKeys = []string{
	"pvPower",
	"battPower",
	"gridOrMeterPower",
	"loadOrEpsPower",
	"soc",
	"gridTo",
	"toGrid",
	"toBat",
	"batTo",
	"existsMeter",
	"genOn",
}

// Config holds what is needed to talk to one plant.
type Config struct {
	Username string
	Password string
	PlantID  string
	// BaseURL is the web app origin sent as Origin/Referer.
	BaseURL string
	APIURL  string
	// LegacyLoginURL defaults to DefaultLegacyLoginURL.
	LegacyLoginURL string
	// HTTPClient defaults to a client with a 30 second timeout.
	HTTPClient *http.Client
	// PendingTTL defaults to DefaultPendingTTL.
	PendingTTL time.Duration
}

// Validate checks that the credentials and plant are set.
func (cfg Config) Validate() error {
	var missing []string
	if cfg.Username == "" {
		missing = append(missing, "username")
	}
	if cfg.Password == "" {
		missing = append(missing, "password")
	}
	if cfg.PlantID == "" {
		missing = append(missing, "plant id")
	}
	if len(missing) > 0 {
		return errors.New("missing solark " + strings.Join(missing, ", "))
	}
	return nil
}

// Client talks to the Sol-Ark cloud on behalf of one plant. It owns the
// session token, the inverter listing cache, the discovered master inverter
// and the pending setting overrides. Construct one per plant.
type Client struct {
	client  *http.Client
	baseURL string
	apiURL  string
	plantID string
	auth    *auth
	now     func() time.Time

	invMu     sync.Mutex
	inverters []Inverter
	invLoaded bool

	masterMu sync.Mutex
	masterSN string

	pending *PendingOverrides
}

// New returns a Client for cfg.
func New(cfg Config) *Client {
	c := &Client{}
	c.init(cfg)
	return c
}

func (c *Client) init(cfg Config) {
	baseURL := strings.TrimRight(lo.CoalesceOrEmpty(cfg.BaseURL, DefaultBaseURL), "/")
	apiURL := strings.TrimRight(lo.CoalesceOrEmpty(cfg.APIURL, DefaultAPIURL), "/")
	legacyURL := lo.CoalesceOrEmpty(cfg.LegacyLoginURL, DefaultLegacyLoginURL)

	client := cfg.HTTPClient
	if client == nil {
		client = common.HTTPClient(requestTimeout)
	} else {
		client = common.WrapClient(client)
	}
	ttl := cfg.PendingTTL
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}

	c.client = client
	c.baseURL = baseURL
	c.apiURL = apiURL
	c.plantID = cfg.PlantID
	c.now = time.Now
	c.auth = newAuth(client, cfg.Username, cfg.Password, baseURL, apiURL, legacyURL)
	c.pending = NewPendingOverrides(ttl)
}

// PlantID returns the plant this client is bound to.
func (c *Client) PlantID() string {
	return c.plantID
}

// Login forces a fresh login, trying each login method in order.
func (c *Client) Login(ctx context.Context) error {
	return c.auth.login(ctx)
}

// TestConnection logs in and fetches one round of plant data.
func (c *Client) TestConnection(ctx context.Context) error {
	if err := c.Login(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "solark test connection failed", slog.Any("error", err))
		return err
	}
	if _, err := c.GetPlantData(ctx, nil, nil); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "solark test connection failed", slog.Any("error", err))
		return err
	}
	return nil
}

// GetInverterLiveData returns live telemetry of the plant's first inverter.
// The listing's etoday/etotal are copied in when the live payload lacks
// energyToday/energyTotal. A plant without inverters yields an empty map.
func (c *Client) GetInverterLiveData(ctx context.Context) (map[string]any, error) {
	invs, err := c.Inverters(ctx)
	if err != nil {
		return nil, err
	}
	if len(invs) == 0 {
		log.Ctx(ctx).WarnContext(ctx, "no inverters found for plant", slog.String("plantID", c.plantID))
		return map[string]any{}, nil
	}

	first := invs[0]
	sn := first.SN()
	if sn == "" {
		log.Ctx(ctx).WarnContext(ctx, "first inverter for plant has no sn", slog.String("plantID", c.plantID))
		return map[string]any{}, nil
	}

	live, err := c.GetInverterLiveDataBySN(ctx, sn)
	if err != nil {
		return nil, err
	}
	if v, ok := first["etoday"]; ok && v != nil {
		if _, ok := live["energyToday"]; !ok {
			live["energyToday"] = v
		}
	}
	if v, ok := first["etotal"]; ok && v != nil {
		if _, ok := live["energyTotal"]; !ok {
			live["energyTotal"] = v
		}
	}
	return live, nil
}

// GetInverterLiveDataBySN returns live telemetry of the inverter sn.
func (c *Client) GetInverterLiveDataBySN(ctx context.Context, sn string) (map[string]any, error) {
	if sn == "" {
		return nil, newError(KindInvalidArgument, nil, "inverter sn is required")
	}
	params := url.Values{}
	params.Set("sn", sn)
	res, err := c.get(ctx, "/api/v1/dy/store/"+sn+"/read", params)
	if err != nil {
		return nil, err
	}

	var payload any = res
	if d, ok := res["data"]; ok && truthy(d) {
		payload = d
	}
	live, ok := asObject(payload)
	if !ok || live == nil {
		log.Ctx(ctx).DebugContext(ctx, "live data is not an object", slog.String("sn", sn))
		return map[string]any{}, nil
	}
	return live, nil
}

// GetFlowData returns today's power-flow snapshot. Flow data only enriches
// live telemetry so request failures are logged and yield an empty map.
func (c *Client) GetFlowData(ctx context.Context) (map[string]any, error) {
	if err := c.auth.ensureToken(ctx); err != nil {
		return nil, err
	}
	params := url.Values{}
	params.Set("date", c.now().UTC().Format(time.DateOnly))

	res, err := c.get(ctx, "/api/v1/plant/energy/"+c.plantID+"/flow", params)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "energy flow request failed", slog.Any("error", err))
		return map[string]any{}, nil
	}
	if data, ok := asObject(res["data"]); ok && data != nil {
		return data, nil
	}
	if res != nil {
		return res, nil
	}
	return map[string]any{}, nil
}

// GetPlantData combines live telemetry with flow data. Nil arguments are
// fetched. Flow fields in flowOverlayKeys replace the live ones.
func (c *Client) GetPlantData(ctx context.Context, live, flow map[string]any) (map[string]any, error) {
	if live == nil {
		var err error
		live, err = c.GetInverterLiveData(ctx)
		if err != nil {
			return nil, err
		}
	}
	combined := maps.Clone(live)
	if combined == nil {
		combined = map[string]any{}
	}

	if flow == nil {
		var err error
		flow, err = c.GetFlowData(ctx)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "unable to merge flow data into live data", slog.Any("error", err))
			return combined, nil
		}
	}
	for _, key := range flowOverlayKeys {
		if v, ok := flow[key]; ok {
			combined[key] = v
		}
	}
	return combined, nil
}

// InverterListParams are the query parameters of the account-wide
// inverter listing.
type InverterListParams struct {
	Page           int
	Limit          int
	Total          int
	Layout         string
	Status         int
	SN             string
	PlantID        string
	Type           int
	SoftVer        string
	HMIVer         string
	AgentCompanyID int
	GSN            string
}

// DefaultInverterListParams returns the first page with the web app's defaults.
func DefaultInverterListParams() InverterListParams {
	return InverterListParams{
		Page:           1,
		Limit:          10,
		Layout:         "sizes,prev,+pager,+next,+jumper",
		Status:         -1,
		Type:           -2,
		AgentCompanyID: -1,
	}
}

func (p InverterListParams) values() url.Values {
	v := url.Values{}
	v.Set("page", strconv.Itoa(p.Page))
	v.Set("limit", strconv.Itoa(p.Limit))
	v.Set("total", strconv.Itoa(p.Total))
	v.Set("layout", p.Layout)
	v.Set("status", strconv.Itoa(p.Status))
	v.Set("sn", p.SN)
	v.Set("plantId", p.PlantID)
	v.Set("type", strconv.Itoa(p.Type))
	v.Set("softVer", p.SoftVer)
	v.Set("hmiVer", p.HMIVer)
	v.Set("agentCompanyId", strconv.Itoa(p.AgentCompanyID))
	v.Set("gsn", p.GSN)
	return v
}

// GetInverters lists inverters visible to the account.
func (c *Client) GetInverters(ctx context.Context, p InverterListParams) (map[string]any, error) {
	return c.get(ctx, "/api/v1/inverters", p.values())
}

// PlantListParams are the query parameters of the plant listing.
type PlantListParams struct {
	Page    int
	Limit   int
	Name    string
	Status  string
	Type    int
	SortCol string
	Order   int
}

// DefaultPlantListParams returns the first page sorted by creation time.
func DefaultPlantListParams() PlantListParams {
	return PlantListParams{
		Page:    1,
		Limit:   10,
		Type:    -1,
		SortCol: "createAt",
		Order:   2,
	}
}

func (p PlantListParams) values() url.Values {
	v := url.Values{}
	v.Set("page", strconv.Itoa(p.Page))
	v.Set("limit", strconv.Itoa(p.Limit))
	v.Set("name", p.Name)
	v.Set("status", p.Status)
	v.Set("type", strconv.Itoa(p.Type))
	v.Set("sortCol", p.SortCol)
	v.Set("order", strconv.Itoa(p.Order))
	return v
}

// GetPlants lists plants visible to the account.
func (c *Client) GetPlants(ctx context.Context, p PlantListParams) (map[string]any, error) {
	return c.get(ctx, "/api/v1/plants", p.values())
}

// GatewayListParams are the query parameters of the gateway listing.
type GatewayListParams struct {
	Page           int
	Limit          int
	Status         int
	SN             string
	PlantID        string
	SoftVer        string
	HardVer        string
	InvSN          string
	Protocol       int
	AgentCompanyID int
	Lan            string
}

// DefaultGatewayListParams returns the first page in English.
func DefaultGatewayListParams() GatewayListParams {
	return GatewayListParams{
		Page:           1,
		Limit:          10,
		Status:         -1,
		Protocol:       -1,
		AgentCompanyID: -1,
		Lan:            "en",
	}
}

func (p GatewayListParams) values() url.Values {
	v := url.Values{}
	v.Set("page", strconv.Itoa(p.Page))
	v.Set("limit", strconv.Itoa(p.Limit))
	v.Set("status", strconv.Itoa(p.Status))
	v.Set("sn", p.SN)
	v.Set("plantId", p.PlantID)
	v.Set("softVer", p.SoftVer)
	v.Set("hardVer", p.HardVer)
	v.Set("invSn", p.InvSN)
	v.Set("protocol", strconv.Itoa(p.Protocol))
	v.Set("agentCompanyId", strconv.Itoa(p.AgentCompanyID))
	v.Set("lan", p.Lan)
	return v
}

// GetGateways lists data-logger gateways visible to the account.
func (c *Client) GetGateways(ctx context.Context, p GatewayListParams) (map[string]any, error) {
	return c.get(ctx, "/api/v1/gateways", p.values())
}
