package solark

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractInverters(t *testing.T) {
	t.Run("FirstNonEmpty", func(t *testing.T) {
		invs := extractInverters(map[string]any{"data": map[string]any{
			"infos":   []any{},
			"list":    []any{map[string]any{"sn": "A"}, "junk", map[string]any{"deviceSn": "B"}},
			"records": []any{map[string]any{"sn": "C"}},
		}})
		require.Len(t, invs, 2)
		assert.Equal(t, "A", invs[0].SN())
		assert.Equal(t, "B", invs[1].SN())
	})

	t.Run("Records", func(t *testing.T) {
		invs := extractInverters(map[string]any{"data": map[string]any{
			"records": []any{map[string]any{"sn": "C"}},
		}})
		require.Len(t, invs, 1)
		assert.Equal(t, "C", invs[0].SN())
	})

	t.Run("Missing", func(t *testing.T) {
		assert.Empty(t, extractInverters(nil))
		assert.Empty(t, extractInverters(map[string]any{"data": "x"}))
		assert.Empty(t, extractInverters(map[string]any{"data": map[string]any{"infos": "x"}}))
	})
}

func TestInverterSN(t *testing.T) {
	assert.Equal(t, "A", Inverter{"sn": "A", "deviceSn": "B"}.SN())
	assert.Equal(t, "B", Inverter{"sn": "", "deviceSn": "B"}.SN())
	assert.Equal(t, "", Inverter{"sn": 12}.SN())
}

func TestInvertersCached(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, withLogin(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/plant/p1/inverters", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "p1", q.Get("stationId"))
		assert.Equal(t, "50", q.Get("limit"))
		assert.Equal(t, "-2", q.Get("type"))
		calls.Add(1)
		// widen the window for concurrent callers
		time.Sleep(20 * time.Millisecond)
		json.NewEncoder(w).Encode(envelope(map[string]any{
			"infos": []any{map[string]any{"sn": "A"}, map[string]any{"name": "no sn"}},
		}))
	}))

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			invs, err := c.Inverters(context.Background())
			assert.NoError(t, err)
			assert.Len(t, invs, 2)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, calls.Load())

	sns, total, err := c.inverterSNs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, sns)
	assert.Equal(t, 2, total)
	assert.EqualValues(t, 1, calls.Load())
}

func TestInvertersErrorNotCached(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, withLogin(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(envelope(map[string]any{"infos": []any{map[string]any{"sn": "A"}}}))
	}))

	_, err := c.Inverters(context.Background())
	require.Error(t, err)
	require.NoError(t, c.PrimeInverters(context.Background()))
	invs, err := c.Inverters(context.Background())
	require.NoError(t, err)
	assert.Len(t, invs, 1)
	assert.EqualValues(t, 2, calls.Load())
}
