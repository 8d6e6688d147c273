package solark

import (
	"context"
	"fmt"
	"log/slog"
	"maps"

	"github.com/raterudder/solarkbridge/pkg/log"
	"github.com/raterudder/solarkbridge/pkg/types"
)

// settingsPayloadKeys are copied from the current settings into every write.
// The set endpoint replaces the whole object so anything left out would be
// reset server side.
var settingsPayloadKeys = []string{
	"safetyType",
	"battMode",
	"solarSell",
	"pvMaxLimit",
	"energyMode",
	"peakAndVallery",
	"sysWorkMode",
	"sellTime1", "sellTime2", "sellTime3", "sellTime4", "sellTime5", "sellTime6",
	"sellTime1Pac", "sellTime2Pac", "sellTime3Pac", "sellTime4Pac", "sellTime5Pac", "sellTime6Pac",
	"cap1", "cap2", "cap3", "cap4", "cap5", "cap6",
	"sellTime1Volt", "sellTime2Volt", "sellTime3Volt", "sellTime4Volt", "sellTime5Volt", "sellTime6Volt",
	"zeroExportPower",
	"solarMaxSellPower",
	"mondayOn", "tuesdayOn", "wednesdayOn", "thursdayOn", "fridayOn", "saturdayOn", "sundayOn",
	"time1on", "time2on", "time3on", "time4on", "time5on", "time6on",
	"genTime1on", "genTime2on", "genTime3on", "genTime4on", "genTime5on", "genTime6on",
}

func buildSettingsPayload(sn string, current types.InverterSettings) map[string]any {
	payload := map[string]any{"sn": sn}
	for _, key := range settingsPayloadKeys {
		if v, ok := current[key]; ok && v != nil {
			payload[key] = v
		}
	}
	return payload
}

// isMaster reports whether settings belong to the plant's master inverter.
func isMaster(settings types.InverterSettings) bool {
	v := settings["equipMode"]
	if !isNumber(v) {
		return false
	}
	f, _ := toFloat(v)
	return f == 1
}

// GetCommonSettings reads the settings of inverter sn with any unconfirmed
// writes overlaid.
func (c *Client) GetCommonSettings(ctx context.Context, sn string) (types.InverterSettings, error) {
	if sn == "" {
		return nil, newError(KindInvalidArgument, nil, "inverter sn is required")
	}
	res, err := c.get(ctx, "/api/v1/common/setting/"+sn+"/read", nil)
	if err != nil {
		return nil, err
	}
	data, ok := asObject(res["data"])
	if !ok || data == nil {
		return nil, newError(KindInvalidSettings, nil, "Invalid settings response")
	}
	return c.pending.Merge(data), nil
}

func (c *Client) cachedMaster() string {
	c.masterMu.Lock()
	defer c.masterMu.Unlock()
	return c.masterSN
}

func (c *Client) setMaster(sn string) {
	c.masterMu.Lock()
	defer c.masterMu.Unlock()
	c.masterSN = sn
}

type masterCandidate struct {
	sn       string
	settings types.InverterSettings
}

// GetMasterCommonSettings finds the master inverter (equipMode == 1) and
// returns its serial and settings. A previously found master is checked
// first unless forceRefresh is set. A plant with a single inverter that
// isn't flagged as master falls back to that inverter.
func (c *Client) GetMasterCommonSettings(ctx context.Context, forceRefresh bool) (string, types.InverterSettings, error) {
	var candidate *masterCandidate

	if cached := c.cachedMaster(); cached != "" && !forceRefresh {
		settings, err := c.GetCommonSettings(ctx, cached)
		switch {
		case err == nil:
			if isMaster(settings) {
				return cached, settings, nil
			}
			candidate = &masterCandidate{sn: cached, settings: settings}
		case IsKind(err, KindInvalidSettings):
		default:
			return "", nil, err
		}
		c.setMaster("")
	}

	sns, total, err := c.inverterSNs(ctx)
	if err != nil {
		return "", nil, err
	}
	if total == 0 {
		return "", nil, newError(KindNoInverters, nil, "No inverters found for plant")
	}

	for _, sn := range sns {
		settings, err := c.GetCommonSettings(ctx, sn)
		if IsKind(err, KindInvalidSettings) {
			continue
		} else if err != nil {
			return "", nil, err
		}
		if isMaster(settings) {
			c.setMaster(sn)
			return sn, settings, nil
		}
		if candidate == nil {
			candidate = &masterCandidate{sn: sn, settings: settings}
		}
	}

	if len(sns) == 1 && candidate != nil {
		c.setMaster(candidate.sn)
		log.Ctx(ctx).WarnContext(ctx, "master inverter not found, using sole inverter for settings", slog.String("sn", candidate.sn))
		return candidate.sn, candidate.settings, nil
	}
	return "", nil, newError(KindMasterNotFound, nil, "Master inverter not found (equipMode != 1)")
}

// allowSingleInverterWrite permits writing to a non-master inverter when it
// is the plant's only inverter.
func (c *Client) allowSingleInverterWrite(ctx context.Context, sn string) (bool, error) {
	sns, total, err := c.inverterSNs(ctx)
	if err != nil {
		return false, err
	}
	if total == 1 && len(sns) == 1 && sns[0] == sn {
		log.Ctx(ctx).WarnContext(ctx, "allowing write to sole inverter despite equipMode != 1", slog.String("sn", sn))
		return true, nil
	}
	return false, nil
}

func (c *Client) verifyMaster(ctx context.Context, sn string, current types.InverterSettings) error {
	if isMaster(current) {
		return nil
	}
	ok, err := c.allowSingleInverterWrite(ctx, sn)
	if err != nil {
		return err
	}
	if !ok {
		return newError(KindNotMaster, nil, "Inverter %s is not master (equipMode=%v)", sn, current["equipMode"])
	}
	return nil
}

// SetCommonSettings writes updates to inverter sn. The current settings are
// read first and sent back in full with updates applied. Written values are
// remembered as pending until a read confirms them.
func (c *Client) SetCommonSettings(ctx context.Context, sn string, updates types.InverterSettings, requireMaster bool) (map[string]any, error) {
	if sn == "" {
		return nil, newError(KindInvalidArgument, nil, "inverter sn is required")
	}
	current, err := c.GetCommonSettings(ctx, sn)
	if err != nil {
		return nil, err
	}
	if requireMaster {
		if err := c.verifyMaster(ctx, sn, current); err != nil {
			return nil, err
		}
	}

	payload := buildSettingsPayload(sn, current)
	maps.Copy(payload, updates)
	res, err := c.post(ctx, "/api/v1/common/setting/"+sn+"/set", payload)
	if err != nil {
		return nil, err
	}
	c.pending.Record(updates, current)
	log.Ctx(ctx).InfoContext(ctx, "solark settings written", slog.String("sn", sn), slog.Any("updates", updates))
	return res, nil
}

// SlotMode selects what a time-of-use slot does.
type SlotMode int

const (
	SlotModeOff SlotMode = iota
	SlotModeSell
	SlotModeCharge
)

// ParseSlotMode parses "off", "sell" or "charge".
func ParseSlotMode(s string) (SlotMode, error) {
	switch s {
	case "off":
		return SlotModeOff, nil
	case "sell":
		return SlotModeSell, nil
	case "charge":
		return SlotModeCharge, nil
	}
	return 0, newError(KindInvalidArgument, nil, "invalid slot mode %q", s)
}

func (m SlotMode) String() string {
	switch m {
	case SlotModeOff:
		return "off"
	case SlotModeSell:
		return "sell"
	case SlotModeCharge:
		return "charge"
	}
	return fmt.Sprintf("SlotMode(%d)", int(m))
}

// flags returns the slot's charge (time{n}on) and sell (genTime{n}on) flags.
func (m SlotMode) flags() (charge, sell bool) {
	return m == SlotModeCharge, m == SlotModeSell
}

// SlotUpdate changes one of the six time-of-use slots. Nil fields are left
// untouched.
type SlotUpdate struct {
	Slot     int
	SellTime *string
	SellPac  *float64
	SellVolt *float64
	Cap      *float64
	// Enabled and GenEnabled set time{n}on and genTime{n}on directly.
	Enabled    *bool
	GenEnabled *bool
	// Mode derives both flags and wins over Enabled/GenEnabled.
	Mode        *SlotMode
	SysWorkMode *int
}

// Validate checks the slot number and mode without touching the network.
func (u SlotUpdate) Validate() error {
	if u.Slot < 1 || u.Slot > 6 {
		return newError(KindInvalidArgument, nil, "slot must be between 1 and 6")
	}
	if u.Mode != nil && (*u.Mode < SlotModeOff || *u.Mode > SlotModeCharge) {
		return newError(KindInvalidArgument, nil, "invalid slot mode %d", int(*u.Mode))
	}
	return nil
}

func (u SlotUpdate) updates() types.InverterSettings {
	updates := types.InverterSettings{}
	n := u.Slot
	if u.SysWorkMode != nil {
		updates["sysWorkMode"] = *u.SysWorkMode
	}
	if u.SellTime != nil {
		updates[fmt.Sprintf("sellTime%d", n)] = *u.SellTime
	}
	if u.SellPac != nil {
		updates[fmt.Sprintf("sellTime%dPac", n)] = *u.SellPac
	}
	if u.SellVolt != nil {
		updates[fmt.Sprintf("sellTime%dVolt", n)] = *u.SellVolt
	}
	if u.Cap != nil {
		updates[fmt.Sprintf("cap%d", n)] = *u.Cap
	}
	if u.Enabled != nil {
		updates[fmt.Sprintf("time%don", n)] = *u.Enabled
	}
	if u.GenEnabled != nil {
		updates[fmt.Sprintf("genTime%don", n)] = *u.GenEnabled
	}
	if u.Mode != nil {
		charge, sell := u.Mode.flags()
		updates[fmt.Sprintf("time%don", n)] = charge
		updates[fmt.Sprintf("genTime%don", n)] = sell
	}
	return updates
}

// SetSystemWorkModeSlot writes the fields of one time-of-use slot.
func (c *Client) SetSystemWorkModeSlot(ctx context.Context, sn string, u SlotUpdate, requireMaster bool) (map[string]any, error) {
	if err := u.Validate(); err != nil {
		return nil, err
	}
	return c.SetCommonSettings(ctx, sn, u.updates(), requireMaster)
}

// HasPendingSettings reports whether a write is still waiting to be
// confirmed by a settings read.
func (c *Client) HasPendingSettings() bool {
	return c.pending.HasPending()
}
