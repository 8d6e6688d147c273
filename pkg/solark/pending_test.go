package solark

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/raterudder/solarkbridge/pkg/types"
)

func TestPendingOverrides(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newPending := func() *PendingOverrides {
		p := NewPendingOverrides(30 * time.Second)
		p.now = func() time.Time { return now }
		return p
	}

	t.Run("Overlay", func(t *testing.T) {
		p := newPending()
		p.Record(types.InverterSettings{"cap1": 50, "sellTime1": "06:00"}, types.InverterSettings{"cap1": 20.0, "sellTime1": "05:00"})
		assert.True(t, p.HasPending())
		assert.Equal(t, []string{"cap1", "sellTime1"}, p.Keys())

		read := types.InverterSettings{"cap1": 20.0, "sellTime1": "05:00", "cap2": 10.0}
		merged := p.Merge(read)
		assert.Equal(t, types.InverterSettings{"cap1": 50, "sellTime1": "06:00", "cap2": 10.0}, merged)
		assert.Equal(t, 20.0, read["cap1"], "input is not modified")
		assert.True(t, p.HasPending())
	})

	t.Run("Confirmed", func(t *testing.T) {
		p := newPending()
		p.Record(types.InverterSettings{"pvMaxLimit": 9000}, types.InverterSettings{"pvMaxLimit": 8000.0})

		merged := p.Merge(types.InverterSettings{"pvMaxLimit": 9000.0})
		assert.Equal(t, 9000.0, merged["pvMaxLimit"])
		assert.False(t, p.HasPending())

		merged = p.Merge(types.InverterSettings{"pvMaxLimit": 8000.0})
		assert.Equal(t, 8000.0, merged["pvMaxLimit"], "a confirmed write no longer masks the device")
	})

	t.Run("BoolMatchesNumber", func(t *testing.T) {
		p := newPending()
		p.Record(types.InverterSettings{"solarSell": true}, types.InverterSettings{"solarSell": 0.0})
		merged := p.Merge(types.InverterSettings{"solarSell": 1.0})
		assert.Equal(t, 1.0, merged["solarSell"])
		assert.False(t, p.HasPending())
	})

	t.Run("Expired", func(t *testing.T) {
		p := newPending()
		p.Record(types.InverterSettings{"cap1": 50}, nil)
		now = now.Add(31 * time.Second)
		defer func() { now = now.Add(-31 * time.Second) }()

		merged := p.Merge(types.InverterSettings{"cap1": 20.0})
		assert.Equal(t, 20.0, merged["cap1"])
		assert.False(t, p.HasPending())
	})

	t.Run("WithinTTL", func(t *testing.T) {
		p := newPending()
		p.Record(types.InverterSettings{"cap1": 50}, nil)
		now = now.Add(30 * time.Second)
		defer func() { now = now.Add(-30 * time.Second) }()

		assert.Equal(t, 50, p.Merge(types.InverterSettings{"cap1": 20.0})["cap1"])
	})

	t.Run("RecordMatchingPriorClears", func(t *testing.T) {
		p := newPending()
		p.Record(types.InverterSettings{"cap1": 50}, types.InverterSettings{"cap1": 20.0})
		p.Record(types.InverterSettings{"cap1": 20}, types.InverterSettings{"cap1": 20.0})
		assert.False(t, p.HasPending())
	})

	t.Run("EmptyReturnsInput", func(t *testing.T) {
		p := newPending()
		read := types.InverterSettings{"cap1": 20.0}
		assert.Equal(t, read, p.Merge(read))
		assert.Equal(t, types.InverterSettings{}, func() types.InverterSettings {
			p.Record(types.InverterSettings{"cap1": 1}, nil)
			p.Record(types.InverterSettings{"cap1": 1}, types.InverterSettings{"cap1": 1})
			return p.Merge(types.InverterSettings{})
		}())
	})
}

func TestValuesEqual(t *testing.T) {
	assert.True(t, valuesEqual(1, 1.0))
	assert.True(t, valuesEqual(true, 1.0))
	assert.True(t, valuesEqual("05:00", "05:00"))
	assert.False(t, valuesEqual("5:00", "05:00"))
	assert.False(t, valuesEqual("1", 1.0))
	assert.True(t, valuesEqual(nil, nil))
}
