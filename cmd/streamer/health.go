package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/rickgao/kis-stream/internal/connection"
	"github.com/rickgao/kis-stream/internal/model"
	"github.com/rickgao/kis-stream/internal/router"
)

// healthSources is what the health endpoint reports on.
type healthSources struct {
	manager  func() connection.ManagerStats
	router   func() router.RouterStats
	ping     func(ctx context.Context) error // nil when the database is disabled
	sinks    map[string]func() any
	expected []model.Channel // channels that should have a running loop
}

type channelHealth struct {
	State        string             `json:"state"`
	TrID         model.TrID         `json:"tr_id"`
	Targets      []string           `json:"targets"`
	Loops        int64              `json:"loops"`
	Frames       int64              `json:"frames"`
	Messages     int64              `json:"messages"`
	KeepAlives   int64              `json:"keep_alives"`
	ParseErrors  int64              `json:"parse_errors"`
	CryptoErrors int64              `json:"crypto_errors"`
	Queue        router.BufferStats `json:"queue"`
}

// createHealthHandler creates the HTTP handler for health checks.
func createHealthHandler(path string, src healthSources, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		// Streaming channels
		stats := src.manager()
		channels := make(map[string]channelHealth, len(stats.Channels))
		for _, cs := range stats.Channels {
			channels[cs.Channel.String()] = channelHealth{
				State:        cs.State.String(),
				TrID:         cs.TrID,
				Targets:      cs.Targets,
				Loops:        cs.Loops,
				Frames:       cs.Frames,
				Messages:     cs.Messages,
				KeepAlives:   cs.KeepAlives,
				ParseErrors:  cs.ParseErrors,
				CryptoErrors: cs.CryptoErrors,
				Queue:        cs.Queue,
			}
		}
		for _, ch := range src.expected {
			if channels[ch.String()].State != connection.StateRunning.String() {
				health.Status = "degraded"
			}
		}
		health.Components["channels"] = channels

		if src.router != nil {
			health.Components["router"] = src.router()
		}

		// Check database
		if src.ping != nil {
			if err := src.ping(ctx); err != nil {
				health.Status = "unhealthy"
				health.Components["timescaledb"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				health.Components["timescaledb"] = "connected"
			}
		}

		for name, stats := range src.sinks {
			health.Components[name] = stats()
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(health); err != nil {
			logger.Warn("write health response", "error", err)
		}
	})

	return mux
}
