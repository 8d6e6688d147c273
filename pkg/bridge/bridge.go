// Package bridge polls a Sol-Ark plant and fans the results out to
// publishers. It also owns the write path so every write is gated and
// followed by a settings refresh.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/raterudder/solarkbridge/pkg/energy"
	"github.com/raterudder/solarkbridge/pkg/log"
	"github.com/raterudder/solarkbridge/pkg/solark"
	"github.com/raterudder/solarkbridge/pkg/storage"
	"github.com/raterudder/solarkbridge/pkg/types"
)

const (
	DefaultScanInterval    = 30 * time.Second
	MinSettingsInterval    = 300 * time.Second
	defaultBurstAttempts   = 4
	defaultBurstInterval   = 15 * time.Second
	counterPersistInterval = 5 * time.Minute
)

var (
	// ErrWriteDisabled is returned by every write while write access is off.
	ErrWriteDisabled = errors.New("write access is disabled")
	// ErrMasterUnavailable means no settings poll has found the master
	// inverter yet.
	ErrMasterUnavailable = errors.New("master inverter not available")
)

// Cloud is the part of *solark.Client the bridge uses.
type Cloud interface {
	PlantID() string
	PrimeInverters(ctx context.Context) error
	GetPlantData(ctx context.Context, live, flow map[string]any) (map[string]any, error)
	GetMasterCommonSettings(ctx context.Context, forceRefresh bool) (string, types.InverterSettings, error)
	SetCommonSettings(ctx context.Context, sn string, updates types.InverterSettings, requireMaster bool) (map[string]any, error)
	SetSystemWorkModeSlot(ctx context.Context, sn string, u solark.SlotUpdate, requireMaster bool) (map[string]any, error)
	HasPendingSettings() bool
}

var _ Cloud = (*solark.Client)(nil)

// Publisher receives every poll result.
type Publisher interface {
	PublishMetrics(ctx context.Context, m types.Metrics) error
	PublishSettings(ctx context.Context, s types.SettingsSnapshot) error
	PublishAvailability(ctx context.Context, online bool) error
}

// Options configure a Bridge. Zero values select the defaults.
type Options struct {
	ScanInterval time.Duration
	// SettingsInterval is raised to at least max(ScanInterval, 300s).
	SettingsInterval time.Duration
	AllowWriteAccess bool
}

// Bridge coordinates polling, energy integration and writes for one plant.
type Bridge struct {
	cloud    Cloud
	db       storage.Database
	counters *energy.Counters

	scanInterval     time.Duration
	settingsInterval time.Duration
	allowWrites      bool
	burstAttempts    int
	burstInterval    time.Duration
	now              func() time.Time

	pubMu      sync.Mutex
	publishers []Publisher

	mu            sync.RWMutex
	runCtx        context.Context
	metrics       types.Metrics
	metricsAt     time.Time
	settings      types.SettingsSnapshot
	telemetryErr  error
	settingsErr   error
	persistedAt   time.Time
	countersReady bool

	restoreMu sync.Mutex

	burstMu  sync.Mutex
	bursting bool
	burstWG  sync.WaitGroup
}

// New returns a Bridge for cloud that persists energy counters to db.
func New(cloud Cloud, db storage.Database, opts Options) *Bridge {
	b := &Bridge{}
	b.init(cloud, db, opts)
	return b
}

func (b *Bridge) init(cloud Cloud, db storage.Database, opts Options) {
	scan := opts.ScanInterval
	if scan <= 0 {
		scan = DefaultScanInterval
	}
	settings := max(opts.SettingsInterval, scan, MinSettingsInterval)

	b.cloud = cloud
	b.db = db
	b.counters = energy.NewCounters(types.Sensors)
	b.scanInterval = scan
	b.settingsInterval = settings
	b.allowWrites = opts.AllowWriteAccess
	b.burstAttempts = defaultBurstAttempts
	b.burstInterval = defaultBurstInterval
	b.now = time.Now
}

// AddPublisher registers p for every later poll result.
func (b *Bridge) AddPublisher(p Publisher) {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	b.publishers = append(b.publishers, p)
}

func (b *Bridge) eachPublisher(ctx context.Context, what string, fn func(Publisher) error) {
	b.pubMu.Lock()
	pubs := append([]Publisher(nil), b.publishers...)
	b.pubMu.Unlock()
	for _, p := range pubs {
		if err := fn(p); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to publish", slog.String("what", what), slog.Any("error", err))
		}
	}
}

// PlantID returns the plant being bridged.
func (b *Bridge) PlantID() string {
	return b.cloud.PlantID()
}

// AllowWriteAccess reports whether writes are enabled.
func (b *Bridge) AllowWriteAccess() bool {
	return b.allowWrites
}

// ScanInterval returns the telemetry poll interval.
func (b *Bridge) ScanInterval() time.Duration {
	return b.scanInterval
}

// SettingsInterval returns the settings poll interval.
func (b *Bridge) SettingsInterval() time.Duration {
	return b.settingsInterval
}

// Metrics returns the latest parsed telemetry and when it was fetched. The
// map is nil before the first successful poll.
func (b *Bridge) Metrics() (types.Metrics, time.Time) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.metrics.Clone(), b.metricsAt
}

// Settings returns the latest master settings snapshot.
func (b *Bridge) Settings() types.SettingsSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s := b.settings
	s.Settings = s.Settings.Clone()
	return s
}

// LastError returns the error of the latest failed telemetry poll, or of the
// latest failed settings poll, or nil.
func (b *Bridge) LastError() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.telemetryErr != nil {
		return b.telemetryErr
	}
	return b.settingsErr
}

// Degraded reports whether the latest telemetry poll failed or none has
// succeeded yet.
func (b *Bridge) Degraded() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.telemetryErr != nil || b.metrics == nil
}

// restoreCounters loads persisted energy totals once. Storage is read without
// holding b.mu.
func (b *Bridge) restoreCounters(ctx context.Context) {
	b.restoreMu.Lock()
	defer b.restoreMu.Unlock()

	b.mu.RLock()
	ready := b.countersReady
	b.mu.RUnlock()
	if ready {
		return
	}

	saved, err := b.db.GetEnergyCounters(ctx, b.cloud.PlantID())
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to restore energy counters", slog.Any("error", err))
		return
	}
	b.counters.Restore(saved.TotalsKWh)

	b.mu.Lock()
	b.countersReady = true
	b.mu.Unlock()
	log.Ctx(ctx).DebugContext(ctx, "restored energy counters", slog.Any("totals", saved.TotalsKWh))
}

// PollTelemetry fetches, parses and publishes one round of telemetry.
func (b *Bridge) PollTelemetry(ctx context.Context) error {
	b.restoreCounters(ctx)

	data, err := b.cloud.GetPlantData(ctx, nil, nil)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "telemetry poll failed", slog.Any("error", err))
		b.mu.Lock()
		b.telemetryErr = err
		b.mu.Unlock()
		b.eachPublisher(ctx, "availability", func(p Publisher) error {
			return p.PublishAvailability(ctx, false)
		})
		return fmt.Errorf("failed to poll telemetry: %w", err)
	}

	now := b.now()
	m := solark.ParsePlantData(data)
	b.counters.Update(m, now)

	b.mu.Lock()
	recovered := b.telemetryErr != nil || b.metrics == nil
	b.metrics = m
	b.metricsAt = now
	b.telemetryErr = nil
	persist := b.countersReady && now.Sub(b.persistedAt) >= counterPersistInterval
	if persist {
		b.persistedAt = now
	}
	b.mu.Unlock()

	if persist {
		if err := b.db.SetEnergyCounters(ctx, b.counters.Snapshot(b.cloud.PlantID(), now)); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to persist energy counters", slog.Any("error", err))
		}
	}

	log.Ctx(ctx).DebugContext(ctx, "telemetry poll",
		slog.Float64("pv", m.Float(types.MetricPVPower)),
		slog.Float64("battery", m.Float(types.MetricBatteryPower)),
		slog.Float64("soc", m.Float(types.MetricBatterySOC)),
	)
	if recovered {
		b.eachPublisher(ctx, "availability", func(p Publisher) error {
			return p.PublishAvailability(ctx, true)
		})
	}
	published := m.Clone()
	b.eachPublisher(ctx, "metrics", func(p Publisher) error {
		return p.PublishMetrics(ctx, published)
	})
	return nil
}

// PollSettings fetches and publishes the master inverter's settings.
func (b *Bridge) PollSettings(ctx context.Context) error {
	sn, settings, err := b.cloud.GetMasterCommonSettings(ctx, false)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "settings poll failed", slog.Any("error", err))
		b.mu.Lock()
		b.settingsErr = err
		b.mu.Unlock()
		return fmt.Errorf("failed to poll settings: %w", err)
	}

	snap := types.SettingsSnapshot{
		SN:        sn,
		Settings:  settings,
		FetchedAt: b.now(),
		Pending:   b.cloud.HasPendingSettings(),
	}
	b.mu.Lock()
	b.settings = snap
	b.settingsErr = nil
	b.mu.Unlock()

	b.publishSettings(ctx)
	return nil
}

func (b *Bridge) publishSettings(ctx context.Context) {
	snap := b.Settings()
	if snap.SN == "" {
		return
	}
	b.eachPublisher(ctx, "settings", func(p Publisher) error {
		return p.PublishSettings(ctx, snap)
	})
}

// persistCounters saves the current totals regardless of the interval.
func (b *Bridge) persistCounters(ctx context.Context) {
	b.mu.Lock()
	ready := b.countersReady
	b.mu.Unlock()
	if !ready {
		return
	}
	if err := b.db.SetEnergyCounters(ctx, b.counters.Snapshot(b.cloud.PlantID(), b.now())); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to persist energy counters", slog.Any("error", err))
	}
}

// Run polls until ctx is cancelled. Both pollers run once immediately and
// then on their intervals; a poll still running when its next turn comes is
// skipped.
func (b *Bridge) Run(ctx context.Context) error {
	b.mu.Lock()
	b.runCtx = ctx
	b.mu.Unlock()

	if err := b.cloud.PrimeInverters(ctx); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to load inverter list", slog.Any("error", err))
	}
	b.PollTelemetry(ctx)
	b.PollSettings(ctx)

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{ctx: ctx})))
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", b.scanInterval), func() {
		b.PollTelemetry(ctx)
	}); err != nil {
		return fmt.Errorf("failed to schedule telemetry poll: %w", err)
	}
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", b.settingsInterval), func() {
		b.PollSettings(ctx)
	}); err != nil {
		return fmt.Errorf("failed to schedule settings poll: %w", err)
	}
	log.Ctx(ctx).InfoContext(ctx, "polling solark plant",
		slog.String("plantID", b.cloud.PlantID()),
		slog.Duration("scanInterval", b.scanInterval),
		slog.Duration("settingsInterval", b.settingsInterval),
	)
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	b.burstWG.Wait()

	// ctx is done so save with a fresh one
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	b.persistCounters(saveCtx)
	b.eachPublisher(saveCtx, "availability", func(p Publisher) error {
		return p.PublishAvailability(saveCtx, false)
	})
	return nil
}

// cronLogger sends cron's own messages to slog.
type cronLogger struct {
	ctx context.Context
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Ctx(l.ctx).DebugContext(l.ctx, "cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Ctx(l.ctx).ErrorContext(l.ctx, "cron: "+msg, append([]any{slog.Any("error", err)}, keysAndValues...)...)
}
