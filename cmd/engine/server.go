package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/guildforge/achievement-engine/config"
	"github.com/guildforge/achievement-engine/internal/cache"
	"github.com/guildforge/achievement-engine/internal/domain/shared"
	"github.com/guildforge/achievement-engine/internal/domain/trigger"
	"github.com/guildforge/achievement-engine/internal/engine"
	"github.com/guildforge/achievement-engine/internal/infrastructure/messaging"
	"github.com/guildforge/achievement-engine/internal/monitor"
	"github.com/guildforge/achievement-engine/pkg/logger"
)

// adminServer exposes the engine over a small HTTP surface: health and
// stats for operators, check/batch endpoints for the services feeding
// events in.
type adminServer struct {
	httpServer *http.Server
	engine     *engine.Engine
	batch      *engine.BatchProcessor
	cache      *cache.Manager
	monitor    *monitor.Monitor
	bus        *messaging.InMemoryEventBus
	log        *logger.Logger
}

func newAdminServer(app config.AppConfig, eng *engine.Engine, batch *engine.BatchProcessor, cm *cache.Manager, mon *monitor.Monitor, bus *messaging.InMemoryEventBus, log *logger.Logger) *adminServer {
	s := &adminServer{
		engine:  eng,
		batch:   batch,
		cache:   cm,
		monitor: mon,
		bus:     bus,
		log:     log.With(logger.Component("admin")),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("POST /v1/check", s.handleCheck)
	mux.HandleFunc("POST /v1/batch", s.handleBatch)

	s.httpServer = &http.Server{
		Addr:         app.ListenAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// ListenAndServe blocks until the server fails or Shutdown runs.
func (s *adminServer) ListenAndServe(ctx context.Context) error {
	s.log.Info("admin server listening", logger.String("addr", s.httpServer.Addr))

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *adminServer) Shutdown(ctx context.Context) {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.log.Warn("admin server shutdown", logger.Err(err))
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *adminServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.monitor.Health()

	status := http.StatusOK
	if report.State == monitor.HealthCritical {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func (s *adminServer) handleStats(w http.ResponseWriter, r *http.Request) {
	total, slow, failed := s.monitor.CheckCounters()

	writeJSON(w, http.StatusOK, map[string]any{
		"cache":   s.cache.Stats(),
		"metrics": s.monitor.Summary(),
		"alerts":  s.monitor.ActiveAlerts(),
		"bus":     s.bus.Metrics().Snapshot(),
		"checks": map[string]uint64{
			"total":  total,
			"slow":   slow,
			"failed": failed,
		},
	})
}

// checkRequest carries one user event targeting one achievement.
type checkRequest struct {
	AchievementID int64              `json:"achievement_id"`
	UserID        int64              `json:"user_id"`
	Event         string             `json:"event"`
	GuildID       string             `json:"guild_id,omitempty"`
	ChannelID     string             `json:"channel_id,omitempty"`
	Metrics       map[string]float64 `json:"metrics,omitempty"`
	Roles         []string           `json:"roles,omitempty"`
	Timestamp     time.Time          `json:"timestamp,omitempty"`
}

func (r checkRequest) eventContext() trigger.EventContext {
	return trigger.EventContext{
		UserID:    r.UserID,
		Event:     r.Event,
		GuildID:   r.GuildID,
		ChannelID: r.ChannelID,
		Metrics:   r.Metrics,
		Roles:     r.Roles,
		Timestamp: r.Timestamp,
	}
}

func (s *adminServer) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.AchievementID <= 0 || req.UserID <= 0 || req.Event == "" {
		writeError(w, http.StatusBadRequest, "achievement_id, user_id and event are required")
		return
	}

	res, err := s.engine.AwardIfTriggered(r.Context(), req.AchievementID, req.eventContext())
	if err != nil {
		if errors.Is(err, shared.ErrAchievementNotFound) {
			writeError(w, http.StatusNotFound, "achievement not found")
			return
		}
		s.log.Error("check failed",
			logger.UserID(req.UserID),
			logger.AchievementID(req.AchievementID),
			logger.Err(err))
		writeError(w, http.StatusInternalServerError, "check failed")
		return
	}

	resp := map[string]any{
		"triggered":      res.Triggered,
		"already_earned": res.AlreadyEarned,
		"reason":         res.Reason,
	}
	if res.Progress != nil {
		resp["progress"] = map[string]any{
			"current_value": res.Progress.CurrentValue,
			"target_value":  res.Progress.TargetValue,
			"percentage":    res.Progress.Percentage(),
		}
	}
	if res.Award != nil {
		resp["award"] = res.Award
	}
	writeJSON(w, http.StatusOK, resp)
}

// batchRequest fans one event out across many users.
type batchRequest struct {
	UserIDs   []int64            `json:"user_ids"`
	Event     string             `json:"event"`
	GuildID   string             `json:"guild_id,omitempty"`
	ChannelID string             `json:"channel_id,omitempty"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
	Timestamp time.Time          `json:"timestamp,omitempty"`
}

func (s *adminServer) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if len(req.UserIDs) == 0 || req.Event == "" {
		writeError(w, http.StatusBadRequest, "user_ids and event are required")
		return
	}

	result, err := s.batch.Process(r.Context(), req.UserIDs, trigger.EventContext{
		Event:     req.Event,
		GuildID:   req.GuildID,
		ChannelID: req.ChannelID,
		Metrics:   req.Metrics,
		Timestamp: req.Timestamp,
	})
	if err != nil {
		s.log.Error("batch failed", logger.TriggerEvent(req.Event), logger.Err(err))
		writeError(w, http.StatusInternalServerError, "batch failed")
		return
	}

	failures := make([]map[string]any, 0, len(result.Failures))
	for _, f := range result.Failures {
		failures = append(failures, map[string]any{
			"user_id":        f.UserID,
			"achievement_id": f.AchievementID,
			"error":          f.Err.Error(),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"checked":     result.Checked,
		"awards":      result.Awards,
		"failures":    failures,
		"duration_ms": result.Duration.Milliseconds(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
