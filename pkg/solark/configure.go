package solark

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/raterudder/solarkbridge/pkg/types"
)

// WorkModes maps configure request work modes to sysWorkMode values.
var WorkModes = map[string]int{
	"grid_selling":    0,
	"limited_to_load": 1,
	"limited_to_home": 2,
}

// EnergyModes maps configure request energy modes to energyMode values.
var EnergyModes = map[string]int{
	"battery_first": 0,
	"load_first":    1,
}

// slotFlags maps a configure slot mode to the charge (time{n}on) and sell
// (genTime{n}on) flags.
var slotFlags = map[string][2]bool{
	"off":    {false, false},
	"sell":   {false, true},
	"charge": {true, false},
	"both":   {true, true},
}

// SlotModeName converts a slot's flags back into its configure mode name.
func SlotModeName(charge, sell bool) string {
	for name, f := range slotFlags {
		if f[0] == charge && f[1] == sell {
			return name
		}
	}
	return "off"
}

type intRange struct {
	key      string
	min, max int
}

var configureInts = map[string]intRange{
	"max_solar_power":   {key: "solarMaxSellPower", min: 500, max: 19500},
	"zero_export_power": {key: "zeroExportPower", min: 0, max: 500},
	"max_sell_power":    {key: "pvMaxLimit", min: 500, max: 32000},
}

// configureFlags are sent as 1/0 instead of true/false.
var configureFlags = map[string]string{
	"solar_sell":  "solarSell",
	"time_of_use": "peakAndVallery",
}

var configureDays = map[string]string{
	"monday":    "mondayOn",
	"tuesday":   "tuesdayOn",
	"wednesday": "wednesdayOn",
	"thursday":  "thursdayOn",
	"friday":    "fridayOn",
	"saturday":  "saturdayOn",
	"sunday":    "sundayOn",
}

var slotParamRE = regexp.MustCompile(`^slot([1-6])_(time|power|soc|mode)$`)

// BuildConfigureUpdates validates a configure request and converts it to
// setting updates. Every problem is reported, not just the first.
func BuildConfigureUpdates(params map[string]any) (types.InverterSettings, error) {
	updates := types.InverterSettings{}
	var errs []error
	fail := func(param, format string, args ...any) {
		errs = append(errs, fmt.Errorf("%s: %s", param, fmt.Sprintf(format, args...)))
	}

	keys := lo.Keys(params)
	slices.Sort(keys)
	for _, param := range keys {
		value := params[param]
		if r, ok := configureInts[param]; ok {
			n, err := coerceInt(value)
			if err != nil {
				fail(param, "%v", err)
			} else if n < r.min || n > r.max {
				fail(param, "must be between %d and %d", r.min, r.max)
			} else {
				updates[r.key] = n
			}
			continue
		}
		if key, ok := configureFlags[param]; ok {
			b, err := coerceBool(value)
			if err != nil {
				fail(param, "%v", err)
			} else {
				updates[key] = lo.Ternary(b, 1, 0)
			}
			continue
		}
		if key, ok := configureDays[param]; ok {
			b, err := coerceBool(value)
			if err != nil {
				fail(param, "%v", err)
			} else {
				updates[key] = b
			}
			continue
		}
		switch param {
		case "work_mode":
			mode, ok := WorkModes[asString(value)]
			if !ok {
				fail(param, "must be one of %s", strings.Join(sortedNames(WorkModes), ", "))
			} else {
				updates["sysWorkMode"] = mode
			}
			continue
		case "energy_mode":
			mode, ok := EnergyModes[asString(value)]
			if !ok {
				fail(param, "must be one of %s", strings.Join(sortedNames(EnergyModes), ", "))
			} else {
				updates["energyMode"] = mode
			}
			continue
		}

		match := slotParamRE.FindStringSubmatch(param)
		if match == nil {
			fail(param, "unknown parameter")
			continue
		}
		slot := match[1]
		switch match[2] {
		case "time":
			t, err := coerceClock(value)
			if err != nil {
				fail(param, "%v", err)
			} else {
				updates["sellTime"+slot] = t
			}
		case "power":
			n, err := coerceInt(value)
			if err != nil {
				fail(param, "%v", err)
			} else if n < 0 || n > 14000 {
				fail(param, "must be between 0 and 14000")
			} else {
				updates["sellTime"+slot+"Pac"] = n
			}
		case "soc":
			n, err := coerceInt(value)
			if err != nil {
				fail(param, "%v", err)
			} else if n < 0 || n > 100 {
				fail(param, "must be between 0 and 100")
			} else {
				updates["cap"+slot] = n
			}
		case "mode":
			f, ok := slotFlags[asString(value)]
			if !ok {
				fail(param, "must be one of off, sell, charge, both")
			} else {
				updates["time"+slot+"on"] = f[0]
				updates["genTime"+slot+"on"] = f[1]
			}
		}
	}

	if len(errs) > 0 {
		joined := errors.Join(errs...)
		return nil, newError(KindInvalidArgument, joined, "invalid configure request: %v", joined)
	}
	return updates, nil
}

func sortedNames(m map[string]int) []string {
	names := lo.Keys(m)
	slices.Sort(names)
	return names
}

func coerceInt(v any) (int, error) {
	switch t := v.(type) {
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, fmt.Errorf("expected an integer, got %q", t)
		}
		return n, nil
	case bool:
		return lo.Ternary(t, 1, 0), nil
	}
	f, ok := toFloat(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("expected an integer, got %v", v)
	}
	return int(f), nil
}

func coerceBool(v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "1", "true", "yes", "on", "enable":
			return true, nil
		case "0", "false", "no", "off", "disable":
			return false, nil
		}
		return false, fmt.Errorf("invalid boolean value %q", t)
	}
	if f, ok := toFloat(v); ok {
		return f != 0, nil
	}
	return false, fmt.Errorf("invalid boolean value %v", v)
}

// coerceClock accepts "H:MM" or "HH:MM[:SS]" and returns "HH:MM", the form
// the cloud stores slot times in.
func coerceClock(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("expected a time, got %v", v)
	}
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return "", fmt.Errorf("invalid time %q", s)
	}
	nums := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return "", fmt.Errorf("invalid time %q", s)
		}
		nums[i] = n
	}
	if nums[0] < 0 || nums[0] > 23 || nums[1] < 0 || nums[1] > 59 || (len(nums) == 3 && (nums[2] < 0 || nums[2] > 59)) {
		return "", fmt.Errorf("invalid time %q", s)
	}
	return fmt.Sprintf("%02d:%02d", nums[0], nums[1]), nil
}
