package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lvonguyen/mistsync/internal/api/gateway"
	"github.com/lvonguyen/mistsync/internal/devices"
	"github.com/lvonguyen/mistsync/internal/devices/correlation"
	"github.com/lvonguyen/mistsync/internal/observability"
	"github.com/lvonguyen/mistsync/internal/repository"
	"github.com/lvonguyen/mistsync/internal/syncer"
)

// TicketLister lists stored tickets.
type TicketLister interface {
	List(ctx context.Context) ([]*correlation.Ticket, error)
}

// Syncer is the sync service as seen by the API.
type Syncer interface {
	Run(ctx context.Context, deviceMAC string) (*syncer.Summary, error)
	RequestDevice(ctx context.Context, mac string) error
	LastRun() *syncer.Summary
}

// server holds the collaborators behind the HTTP API.
type server struct {
	store     repository.Store
	tickets   TicketLister
	syncer    Syncer
	webhook   http.Handler
	limiter   *gateway.RateLimiter
	telemetry *observability.Telemetry
	logger    *zap.Logger

	// runCtx bounds background runs started from the API.
	runCtx context.Context
}

func (s *server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if s.telemetry != nil {
		r.Use(s.telemetry.HTTPMiddleware(routePattern))
	}

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	if s.telemetry != nil {
		r.Handle("/metrics", s.telemetry.MetricsHandler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			if s.limiter != nil {
				r.Use(s.limiter.Middleware(gateway.TierAPI))
			}

			r.Post("/sync", s.handleSync)
			r.Get("/sync/last", s.handleLastSync)

			r.Get("/devices", s.handleListDevices)
			r.Get("/devices/{serial}", s.handleGetDevice)

			r.Get("/tickets", s.handleListTickets)
		})

		if s.webhook != nil {
			r.Group(func(r chi.Router) {
				if s.limiter != nil {
					r.Use(s.limiter.Middleware(gateway.TierWebhook))
				}
				r.Method(http.MethodPost, "/webhooks/mist", s.webhook)
			})
		}
	})

	return r
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Health and readiness handlers

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "version": Version})
}

func (s *server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "reason": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Sync handlers

type syncRequest struct {
	DeviceMAC string `json:"device_mac"`
}

// handleSync starts a full sync in the background, or queues a
// single-device sync when a MAC is given.
func (s *server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, 4096))
	if err != nil {
		writeError(w, http.StatusBadRequest, "error reading body")
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	if req.DeviceMAC != "" {
		if err := s.syncer.RequestDevice(r.Context(), req.DeviceMAC); err != nil {
			if errors.Is(err, repository.ErrInvalidMAC) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			s.logger.Error("queueing device sync failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to queue device sync")
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"status":     "queued",
			"device_mac": devices.CompactMAC(req.DeviceMAC),
		})
		return
	}

	go func() {
		if _, err := s.syncer.Run(s.runCtx, ""); err != nil && !errors.Is(err, syncer.ErrRunInProgress) {
			s.logger.Error("requested sync failed", zap.Error(err))
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *server) handleLastSync(w http.ResponseWriter, r *http.Request) {
	last := s.syncer.LastRun()
	if last == nil {
		writeError(w, http.StatusNotFound, "no sync has completed")
		return
	}
	writeJSON(w, http.StatusOK, last)
}

// Device handlers

func (s *server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.List(r.Context())
	if err != nil {
		s.logger.Error("listing devices failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list devices")
		return
	}

	if t := devices.DeviceType(r.URL.Query().Get("type")); t != "" {
		filtered := list[:0]
		for _, d := range list {
			if d.Type == t {
				filtered = append(filtered, d)
			}
		}
		list = filtered
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"devices": list,
		"count":   len(list),
	})
}

func (s *server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	d, err := s.store.Get(r.Context(), chi.URLParam(r, "serial"))
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("loading device failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load device")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// Ticket handlers

func (s *server) handleListTickets(w http.ResponseWriter, r *http.Request) {
	list, err := s.tickets.List(r.Context())
	if err != nil {
		s.logger.Error("listing tickets failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list tickets")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tickets": list,
		"count":   len(list),
	})
}

// meteredCorrelator counts required and created tickets per webhook.
type meteredCorrelator struct {
	correlator *correlation.Correlator
	metrics    *observability.Metrics
}

func (m meteredCorrelator) HandleWebhook(ctx context.Context, body []byte) (*correlation.Result, error) {
	result, err := m.correlator.HandleWebhook(ctx, body)
	if err == nil && m.metrics != nil {
		m.metrics.Tickets.WithLabelValues("required").Add(float64(result.Required))
		m.metrics.Tickets.WithLabelValues("created").Add(float64(result.Created))
	}
	return result, err
}
