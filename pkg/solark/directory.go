package solark

import (
	"context"
	"log/slog"
	"net/url"

	"github.com/raterudder/solarkbridge/pkg/log"
)

// Inverter is one entry of the plant's inverter listing as returned by the
// cloud.
type Inverter map[string]any

// SN returns the serial number, preferring "sn" over "deviceSn".
func (i Inverter) SN() string {
	if sn := asString(i["sn"]); sn != "" {
		return sn
	}
	return asString(i["deviceSn"])
}

// inverterListKeys are tried in order; the first non-empty array wins.
var inverterListKeys = []string{"infos", "list", "records"}

func extractInverters(res map[string]any) []Inverter {
	data, ok := asObject(res["data"])
	if !ok {
		return nil
	}
	for _, key := range inverterListKeys {
		list, ok := data[key].([]any)
		if !ok || len(list) == 0 {
			continue
		}
		out := make([]Inverter, 0, len(list))
		for _, item := range list {
			if m, ok := asObject(item); ok {
				out = append(out, Inverter(m))
			}
		}
		return out
	}
	return nil
}

// Inverters returns the plant's inverters. The list is fetched once and
// cached for the lifetime of the client; concurrent first callers share a
// single request.
func (c *Client) Inverters(ctx context.Context) ([]Inverter, error) {
	c.invMu.Lock()
	defer c.invMu.Unlock()

	if c.invLoaded {
		return c.inverters, nil
	}

	params := url.Values{}
	params.Set("page", "1")
	params.Set("limit", "50")
	params.Set("stationId", c.plantID)
	params.Set("status", "-1")
	params.Set("sn", "")
	params.Set("type", "-2")

	res, err := c.get(ctx, "/api/v1/plant/"+c.plantID+"/inverters", params)
	if err != nil {
		return nil, err
	}

	c.inverters = extractInverters(res)
	c.invLoaded = true
	log.Ctx(ctx).DebugContext(ctx, "cached solark inverter list",
		slog.String("plantID", c.plantID),
		slog.Int("count", len(c.inverters)),
	)
	return c.inverters, nil
}

// PrimeInverters fills the inverter cache ahead of the first poll.
func (c *Client) PrimeInverters(ctx context.Context) error {
	_, err := c.Inverters(ctx)
	return err
}

// inverterSNs returns the non-empty serial numbers of the cached inverters
// and the total number of cached entries.
func (c *Client) inverterSNs(ctx context.Context) ([]string, int, error) {
	invs, err := c.Inverters(ctx)
	if err != nil {
		return nil, 0, err
	}
	sns := make([]string, 0, len(invs))
	for _, inv := range invs {
		if sn := inv.SN(); sn != "" {
			sns = append(sns, sn)
		}
	}
	return sns, len(invs), nil
}
