package solark

import (
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/raterudder/solarkbridge/pkg/types"
)

// DefaultPendingTTL is how long a written value is overlaid on reads while
// the cloud catches up.
const DefaultPendingTTL = 30 * time.Second

type pendingValue struct {
	value      any
	recordedAt time.Time
}

// PendingOverrides remembers values that were just written so reads that
// race the cloud's propagation delay still show them. An entry lives until a
// read confirms it or it expires.
type PendingOverrides struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]pendingValue
}

// NewPendingOverrides returns an empty set with the given TTL.
func NewPendingOverrides(ttl time.Duration) *PendingOverrides {
	return &PendingOverrides{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]pendingValue),
	}
}

// Record remembers each update unless it matches what prior already reports,
// in which case any older pending value for that key is dropped.
func (p *PendingOverrides) Record(updates, prior types.InverterSettings) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	for key, value := range updates {
		if current, ok := prior[key]; ok && valuesEqual(current, value) {
			delete(p.entries, key)
			continue
		}
		p.entries[key] = pendingValue{value: value, recordedAt: now}
	}
}

// Merge overlays unconfirmed, unexpired pending values onto settings and
// returns the result. Expired entries and entries the settings already
// confirm are removed. settings is never modified.
func (p *PendingOverrides) Merge(settings types.InverterSettings) types.InverterSettings {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.entries) == 0 {
		return settings
	}

	now := p.now()
	merged := maps.Clone(settings)
	if merged == nil {
		merged = types.InverterSettings{}
	}
	for key, pv := range p.entries {
		if now.Sub(pv.recordedAt) > p.ttl {
			delete(p.entries, key)
			continue
		}
		if current, ok := settings[key]; ok && valuesEqual(current, pv.value) {
			delete(p.entries, key)
			continue
		}
		merged[key] = pv.value
	}
	return merged
}

// HasPending reports whether any write is still unconfirmed.
func (p *PendingOverrides) HasPending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries) > 0
}

// Keys returns the keys with pending values.
func (p *PendingOverrides) Keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Sorted(maps.Keys(p.entries))
}
