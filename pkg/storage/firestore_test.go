package storage

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raterudder/solarkbridge/pkg/types"
)

func TestFirestoreProvider(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}

	// Use a random database for isolation
	randDB := fmt.Sprintf("test-db-%d", time.Now().UnixNano())
	f := &FirestoreProvider{
		projectID: "test-project-id",
		database:  randDB,
	}

	ctx := context.Background()
	require.NoError(t, f.Init(ctx))
	defer f.Close()

	t.Run("Validate", func(t *testing.T) {
		require.NoError(t, f.Validate())
	})

	t.Run("NotFound", func(t *testing.T) {
		c, err := f.GetEnergyCounters(ctx, "missing-plant")
		require.NoError(t, err)
		assert.Equal(t, "missing-plant", c.PlantID)
		assert.Empty(t, c.TotalsKWh)
	})

	t.Run("EmptyPlantID", func(t *testing.T) {
		_, err := f.GetEnergyCounters(ctx, "")
		assert.ErrorContains(t, err, "plantID cannot be empty")
		assert.Error(t, f.SetEnergyCounters(ctx, types.EnergyCounters{}))
	})

	t.Run("Counters", func(t *testing.T) {
		day1 := time.Date(2026, 5, 1, 23, 0, 0, 0, time.UTC)
		day2 := day1.Add(2 * time.Hour)
		require.NoError(t, f.SetEnergyCounters(ctx, types.EnergyCounters{
			PlantID:   "p1",
			TotalsKWh: map[string]float64{types.MetricGridImportEnergy: 1.5},
			UpdatedAt: day1,
		}))
		require.NoError(t, f.SetEnergyCounters(ctx, types.EnergyCounters{
			PlantID:   "p1",
			TotalsKWh: map[string]float64{types.MetricGridImportEnergy: 2.5},
			UpdatedAt: day2,
		}))

		c, err := f.GetEnergyCounters(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, 2.5, c.TotalsKWh[types.MetricGridImportEnergy])
		assert.True(t, day2.Equal(c.UpdatedAt))

		history, err := f.GetEnergyHistory(ctx, "p1", day1, day2.Add(24*time.Hour))
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, 1.5, history[0].TotalsKWh[types.MetricGridImportEnergy])
		assert.Equal(t, 2.5, history[1].TotalsKWh[types.MetricGridImportEnergy])

		history, err = f.GetEnergyHistory(ctx, "p1", day1, day2)
		require.NoError(t, err)
		assert.Len(t, history, 1)
	})
}
