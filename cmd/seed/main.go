package main

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/raterudder/solarkbridge/pkg/energy"
	"github.com/raterudder/solarkbridge/pkg/log"
	"github.com/raterudder/solarkbridge/pkg/storage"
	"github.com/raterudder/solarkbridge/pkg/types"
)

func main() {
	os.Setenv("FIRESTORE_EMULATOR_HOST", "127.0.0.1:8087")
	s := storage.Configured()
	plantID := lflag.String("seed-plant-id", "seed", "Plant ID to seed energy history for")
	span := lflag.Duration("seed-span", 30*24*time.Hour, "How far back to seed daily energy history")
	lflag.Configure()

	ctx := context.Background()
	defer s.Close()

	log.Ctx(ctx).InfoContext(ctx, "seeding mock energy history")

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	counters := energy.NewCounters(types.Sensors)

	const (
		BatteryCapacityKWH = 14.3
		MaxBatteryW        = 8000.0
		HomeAvgW           = 1200.0
		SolarPeakW         = 9000.0
	)
	soc := 50.0

	end := time.Now().UTC().Truncate(24 * time.Hour)
	for day := end.Add(-*span); day.Before(end); day = day.AddDate(0, 0, 1) {
		// cloudy days produce a fraction of the peak
		cloud := 0.3 + rng.Float64()*0.7
		var at time.Time
		for minute := 0; minute < 24*60; minute += 5 {
			at = day.Add(time.Duration(minute) * time.Minute)
			hour := float64(minute) / 60

			solarW := 0.0
			if hour > 6 && hour < 19 {
				dist := math.Abs(hour - 12.5)
				solarW = SolarPeakW * cloud * math.Exp(-(dist*dist)/8.0)
			}
			homeW := HomeAvgW + rng.Float64()*400
			if hour >= 17 && hour < 22 {
				homeW += 2500
			}

			// positive is charging
			battW := math.Max(-MaxBatteryW, math.Min(MaxBatteryW, solarW-homeW))
			if (battW > 0 && soc >= 100) || (battW < 0 && soc <= 20) {
				battW = 0
			}
			soc += battW * (5.0 / 60) / 1000 / BatteryCapacityKWH * 100
			soc = math.Max(20, math.Min(100, soc))
			gridW := homeW - solarW + battW

			counters.Update(types.Metrics{
				types.MetricBatteryChargePower:    math.Max(battW, 0),
				types.MetricBatteryDischargePower: math.Max(-battW, 0),
				types.MetricGridImportPower:       math.Max(gridW, 0),
				types.MetricGridExportPower:       math.Max(-gridW, 0),
			}, at)
		}

		snap := counters.Snapshot(*plantID, at)
		if err := s.SetEnergyCounters(ctx, snap); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to seed energy counters", "error", err)
			os.Exit(1)
		}
		fmt.Printf("Seeded %s: import %.1fkWh, export %.1fkWh, charge %.1fkWh, discharge %.1fkWh\n",
			day.Format(time.DateOnly),
			snap.TotalsKWh[types.MetricGridImportEnergy],
			snap.TotalsKWh[types.MetricGridExportEnergy],
			snap.TotalsKWh[types.MetricBatteryChargeEnergy],
			snap.TotalsKWh[types.MetricBatteryDischargeEnergy],
		)
	}

	log.Ctx(ctx).InfoContext(ctx, "seeded mock energy history successfully")
}
