package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/raterudder/solarkbridge/pkg/bridge"
	"github.com/raterudder/solarkbridge/pkg/log"
	"github.com/raterudder/solarkbridge/pkg/solark"
	"github.com/raterudder/solarkbridge/pkg/types"
)

const (
	maxBodyBytes       = 1 << 20
	defaultHistoryDays = 30
	maxHistoryDays     = 366
)

type metricsResponse struct {
	PlantID   string        `json:"plantID"`
	FetchedAt time.Time     `json:"fetchedAt"`
	Metrics   types.Metrics `json:"metrics"`
}

func (s *Server) handleGetMetrics(w http.ResponseWriter, r *http.Request) {
	m, at := s.bridge.Metrics()
	if s.bridge.Degraded() {
		msg := "no telemetry yet"
		if err := s.bridge.LastError(); err != nil {
			msg = err.Error()
		}
		writeJSONError(w, msg, http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, metricsResponse{
		PlantID:   s.bridge.PlantID(),
		FetchedAt: at,
		Metrics:   m,
	})
}

type settingsResponse struct {
	types.SettingsSnapshot
	AllowWriteAccess bool `json:"allowWriteAccess"`
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	snap := s.bridge.Settings()
	if snap.SN == "" {
		writeJSONError(w, "settings not available yet", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, settingsResponse{
		SettingsSnapshot: snap,
		AllowWriteAccess: s.bridge.AllowWriteAccess(),
	})
}

// decodeBody decodes the JSON request body into v and writes a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		log.Ctx(r.Context()).WarnContext(r.Context(), "failed to decode request body", slog.Any("error", err))
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// writeBridgeError maps a write failure onto an HTTP status.
func writeBridgeError(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusBadGateway
	switch {
	case errors.Is(err, bridge.ErrWriteDisabled):
		code = http.StatusForbidden
	case errors.Is(err, bridge.ErrMasterUnavailable):
		code = http.StatusServiceUnavailable
	case solark.IsKind(err, solark.KindInvalidArgument):
		code = http.StatusBadRequest
	case solark.IsKind(err, solark.KindNotMaster):
		code = http.StatusConflict
	case solark.IsKind(err, solark.KindMasterNotFound), solark.IsKind(err, solark.KindNoInverters):
		code = http.StatusServiceUnavailable
	}
	ctx := r.Context()
	if code >= http.StatusInternalServerError {
		log.Ctx(ctx).ErrorContext(ctx, "write failed", slog.Any("error", err))
	} else {
		log.Ctx(ctx).WarnContext(ctx, "write rejected", slog.Any("error", err))
	}
	writeJSONError(w, err.Error(), code)
}

type writeResponse struct {
	SN      string                 `json:"sn"`
	Updates types.InverterSettings `json:"updates,omitempty"`
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Updates types.InverterSettings `json:"updates"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	sn, err := s.bridge.WriteSettings(r.Context(), req.Updates)
	if err != nil {
		writeBridgeError(w, r, err)
		return
	}
	writeJSON(w, writeResponse{SN: sn, Updates: req.Updates})
}

type slotRequest struct {
	Slot        int      `json:"slot"`
	Time        *string  `json:"time"`
	Pac         *float64 `json:"pac"`
	Volt        *float64 `json:"volt"`
	Cap         *float64 `json:"cap"`
	Enabled     *bool    `json:"enabled"`
	GenEnabled  *bool    `json:"genEnabled"`
	Mode        *string  `json:"mode"`
	SysWorkMode *int     `json:"sysWorkMode"`
}

func (req slotRequest) update() (solark.SlotUpdate, error) {
	u := solark.SlotUpdate{
		Slot:        req.Slot,
		SellTime:    req.Time,
		SellPac:     req.Pac,
		SellVolt:    req.Volt,
		Cap:         req.Cap,
		Enabled:     req.Enabled,
		GenEnabled:  req.GenEnabled,
		SysWorkMode: req.SysWorkMode,
	}
	if req.Mode != nil {
		mode, err := solark.ParseSlotMode(*req.Mode)
		if err != nil {
			return solark.SlotUpdate{}, err
		}
		u.Mode = &mode
	}
	return u, nil
}

func (s *Server) handleUpdateSlot(w http.ResponseWriter, r *http.Request) {
	var req slotRequest
	if !decodeBody(w, r, &req) {
		return
	}
	u, err := req.update()
	if err != nil {
		writeBridgeError(w, r, err)
		return
	}
	sn, err := s.bridge.WriteSlot(r.Context(), u)
	if err != nil {
		writeBridgeError(w, r, err)
		return
	}
	writeJSON(w, writeResponse{SN: sn})
}

func (s *Server) handleConfigure(w http.ResponseWriter, r *http.Request) {
	var params map[string]any
	if !decodeBody(w, r, &params) {
		return
	}
	updates, err := s.bridge.Configure(r.Context(), params)
	if err != nil {
		writeBridgeError(w, r, err)
		return
	}
	writeJSON(w, writeResponse{SN: s.bridge.Settings().SN, Updates: updates})
}

// parseDayRange reads start and end (YYYY-MM-DD, end exclusive) and defaults
// to the last 30 days including today.
func parseDayRange(r *http.Request, now time.Time) (time.Time, time.Time, error) {
	startStr := r.URL.Query().Get("start")
	endStr := r.URL.Query().Get("end")

	if startStr == "" && endStr == "" {
		end := now.UTC().Truncate(24*time.Hour).AddDate(0, 0, 1)
		return end.AddDate(0, 0, -defaultHistoryDays), end, nil
	}
	if startStr == "" || endStr == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("start and end must both be set")
	}

	start, err := time.Parse(time.DateOnly, startStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start date: %w", err)
	}
	end, err := time.Parse(time.DateOnly, endStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end date: %w", err)
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("start date must be before end date")
	}
	if end.Sub(start) > maxHistoryDays*24*time.Hour {
		return time.Time{}, time.Time{}, fmt.Errorf("date range cannot exceed %d days", maxHistoryDays)
	}
	return start, end, nil
}

func (s *Server) handleEnergyHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start, end, err := parseDayRange(r, time.Now())
	if err != nil {
		writeJSONError(w, "invalid date range: "+err.Error(), http.StatusBadRequest)
		return
	}

	history, err := s.storage.GetEnergyHistory(ctx, s.bridge.PlantID(), start, end)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get energy history", slog.Any("error", err))
		writeJSONError(w, "failed to get energy history", http.StatusInternalServerError)
		return
	}
	if history == nil {
		history = []types.EnergyCounters{}
	}

	// past days no longer change
	today := time.Now().UTC().Truncate(24 * time.Hour)
	if !end.After(today) {
		w.Header().Set("Cache-Control", "private, max-age=86400")
	} else {
		w.Header().Set("Cache-Control", "private, max-age=60")
	}
	writeJSON(w, history)
}
