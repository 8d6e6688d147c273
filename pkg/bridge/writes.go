package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/raterudder/solarkbridge/pkg/log"
	"github.com/raterudder/solarkbridge/pkg/solark"
	"github.com/raterudder/solarkbridge/pkg/types"
)

// checkWrite fails with ErrWriteDisabled when writes are off. The current
// settings are republished so consumers that optimistically showed the new
// value revert.
func (b *Bridge) checkWrite(ctx context.Context) error {
	if b.allowWrites {
		return nil
	}
	log.Ctx(ctx).WarnContext(ctx, "write rejected, write access is disabled")
	b.publishSettings(ctx)
	return ErrWriteDisabled
}

// masterSN returns the master inverter found by the latest settings poll,
// polling once if there is none yet.
func (b *Bridge) masterSN(ctx context.Context) (string, error) {
	if sn := b.Settings().SN; sn != "" {
		return sn, nil
	}
	if err := b.PollSettings(ctx); err != nil {
		return "", fmt.Errorf("%w: %w", ErrMasterUnavailable, err)
	}
	if sn := b.Settings().SN; sn != "" {
		return sn, nil
	}
	return "", ErrMasterUnavailable
}

// WriteSettings writes updates to the master inverter and returns its serial.
func (b *Bridge) WriteSettings(ctx context.Context, updates types.InverterSettings) (string, error) {
	if err := b.checkWrite(ctx); err != nil {
		return "", err
	}
	if len(updates) == 0 {
		return "", &solark.APIError{Kind: solark.KindInvalidArgument, Msg: "no settings to update"}
	}
	sn, err := b.masterSN(ctx)
	if err != nil {
		return "", err
	}
	if _, err := b.cloud.SetCommonSettings(ctx, sn, updates, true); err != nil {
		return "", fmt.Errorf("failed to write settings: %w", err)
	}
	b.afterWrite(ctx)
	return sn, nil
}

// WriteSlot writes one time-of-use slot on the master inverter.
func (b *Bridge) WriteSlot(ctx context.Context, u solark.SlotUpdate) (string, error) {
	if err := b.checkWrite(ctx); err != nil {
		return "", err
	}
	if err := u.Validate(); err != nil {
		return "", err
	}
	sn, err := b.masterSN(ctx)
	if err != nil {
		return "", err
	}
	if _, err := b.cloud.SetSystemWorkModeSlot(ctx, sn, u, true); err != nil {
		return "", fmt.Errorf("failed to write slot %d: %w", u.Slot, err)
	}
	b.afterWrite(ctx)
	return sn, nil
}

// Configure validates a configure request, writes it and returns the
// updates that were sent.
func (b *Bridge) Configure(ctx context.Context, params map[string]any) (types.InverterSettings, error) {
	if err := b.checkWrite(ctx); err != nil {
		return nil, err
	}
	updates, err := solark.BuildConfigureUpdates(params)
	if err != nil {
		return nil, err
	}
	if _, err := b.WriteSettings(ctx, updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// Entity returns the setting entity with the given ID.
func Entity(id string) (types.SettingEntity, bool) {
	for _, e := range solark.SettingEntities() {
		if e.ID() == id {
			return e, true
		}
	}
	return types.SettingEntity{}, false
}

// WriteEntity sets the entity id to state, given the way consumers display
// it (a number, ON/OFF, an option label or HH:MM).
func (b *Bridge) WriteEntity(ctx context.Context, id, state string) error {
	if err := b.checkWrite(ctx); err != nil {
		return err
	}
	e, ok := Entity(id)
	if !ok {
		return &solark.APIError{Kind: solark.KindInvalidArgument, Msg: fmt.Sprintf("unknown entity %q", id)}
	}
	value, err := solark.EntityValue(e, state)
	if err != nil {
		return err
	}
	_, err = b.WriteSettings(ctx, types.InverterSettings{e.Key: value})
	return err
}

// afterWrite republishes the settings with the pending overlay and starts a
// refresh burst.
func (b *Bridge) afterWrite(ctx context.Context) {
	if err := b.PollSettings(ctx); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to refresh settings after write", slog.Any("error", err))
	}
	b.startRefreshBurst(ctx)
}

// startRefreshBurst re-reads settings a few times until the cloud confirms
// every pending write. At most one burst runs at a time.
func (b *Bridge) startRefreshBurst(ctx context.Context) {
	if !b.cloud.HasPendingSettings() {
		return
	}
	b.burstMu.Lock()
	defer b.burstMu.Unlock()
	if b.bursting {
		return
	}
	b.bursting = true

	b.mu.RLock()
	burstCtx := b.runCtx
	b.mu.RUnlock()
	if burstCtx == nil {
		burstCtx = context.WithoutCancel(ctx)
	}

	b.burstWG.Add(1)
	go func() {
		defer b.burstWG.Done()
		defer func() {
			b.burstMu.Lock()
			b.bursting = false
			b.burstMu.Unlock()
		}()
		b.refreshBurst(burstCtx)
	}()
}

func (b *Bridge) refreshBurst(ctx context.Context) {
	for i := 0; i < b.burstAttempts; i++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(b.burstInterval):
		}
		if err := b.PollSettings(ctx); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "settings refresh failed", slog.Int("attempt", i+1), slog.Any("error", err))
		}
		if !b.cloud.HasPendingSettings() {
			log.Ctx(ctx).DebugContext(ctx, "pending settings confirmed", slog.Int("attempts", i+1))
			return
		}
	}
	log.Ctx(ctx).WarnContext(ctx, "settings still pending after refresh burst")
}

// Bursting reports whether a settings refresh burst is in flight.
func (b *Bridge) Bursting() bool {
	b.burstMu.Lock()
	defer b.burstMu.Unlock()
	return b.bursting
}
