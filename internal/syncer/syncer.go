// Package syncer runs device sync cycles: it reads the Mist inventory and
// statistics, normalizes them into device records, persists the records
// and exports them to the CMDB.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/lvonguyen/mistsync/internal/config"
	"github.com/lvonguyen/mistsync/internal/devices"
	"github.com/lvonguyen/mistsync/internal/devices/ingestion"
	"github.com/lvonguyen/mistsync/internal/devices/normalization"
	"github.com/lvonguyen/mistsync/internal/observability"
	"github.com/lvonguyen/mistsync/internal/repository"
)

var ErrRunInProgress = errors.New("sync run already in progress")

// DefaultQueuePoll is how often pending single-device requests are checked.
const DefaultQueuePoll = 5 * time.Second

// Exporter delivers emitted records downstream.
type Exporter interface {
	SendAll(ctx context.Context, devs map[string]*devices.Device) (int, error)
}

// Summary describes one finished run.
type Summary struct {
	StartedAt    time.Time                  `json:"started_at"`
	Duration     time.Duration              `json:"duration"`
	DeviceMAC    string                     `json:"device_mac,omitempty"`
	Sites        int                        `json:"sites"`
	Emitted      int                        `json:"emitted"`
	Held         int                        `json:"held"`
	Skipped      int                        `json:"skipped"`
	FailedPasses int                        `json:"failed_passes"`
	Saved        int                        `json:"saved"`
	Exported     int                        `json:"exported"`
	ExportError  string                     `json:"export_error,omitempty"`
	Reports      []normalization.PassReport `json:"reports"`
}

// Service orchestrates sync runs. Runs never overlap.
type Service struct {
	cfg      *config.Config
	source   ingestion.Source
	store    repository.Store
	queue    repository.SyncQueue
	exporter Exporter
	metrics  *observability.Metrics
	tracer   trace.Tracer
	logger   *zap.Logger

	queuePoll time.Duration
	running   sync.Mutex

	mu      sync.RWMutex
	lastRun *Summary
}

// Option configures a Service.
type Option func(*Service)

// WithExporter sends emitted records through e after each run.
func WithExporter(e Exporter) Option {
	return func(s *Service) { s.exporter = e }
}

// WithQueue drains q for single-device requests.
func WithQueue(q repository.SyncQueue) Option {
	return func(s *Service) { s.queue = q }
}

// WithTelemetry records metrics and spans.
func WithTelemetry(metrics *observability.Metrics, tracer trace.Tracer) Option {
	return func(s *Service) {
		s.metrics = metrics
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithQueuePoll overrides DefaultQueuePoll.
func WithQueuePoll(d time.Duration) Option {
	return func(s *Service) { s.queuePoll = d }
}

// NewService creates a sync service.
func NewService(cfg *config.Config, source ingestion.Source, store repository.Store, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		cfg:       cfg,
		source:    source,
		store:     store,
		tracer:    otel.Tracer("mistsync/syncer"),
		logger:    logger,
		queuePoll: DefaultQueuePoll,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LastRun returns the summary of the latest finished run, or nil.
func (s *Service) LastRun() *Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRun
}

// Run performs one sync. A non-empty deviceMAC restricts it to that device.
// Stream failures are reported in the summary; only persistence failures
// fail the run.
func (s *Service) Run(ctx context.Context, deviceMAC string) (*Summary, error) {
	if !s.running.TryLock() {
		return nil, ErrRunInProgress
	}
	defer s.running.Unlock()

	plan := s.cfg.Plan(devices.CompactMAC(deviceMAC))
	ctx, span := s.tracer.Start(ctx, "sync.run", trace.WithAttributes(
		attribute.String("device_mac", plan.DeviceMAC),
		attribute.Int("passes", 2*len(plan.Types)),
	))
	defer span.End()

	summary := &Summary{StartedAt: time.Now(), DeviceMAC: plan.DeviceMAC}
	log := s.logger.With(zap.String("device_mac", plan.DeviceMAC))
	log.Info("sync started", zap.Int("types", len(plan.Types)))

	sites := ingestion.LoadSites(ctx, s.source, plan.Sites, log)
	summary.Sites = len(sites)
	if err := s.store.SaveSites(ctx, sites); err != nil {
		log.Warn("saving sites failed", zap.Error(err))
	}

	engine := normalization.NewEngine(s.cfg.EngineConfig(), sites, log)
	result := engine.Run(ctx, s.source, plan)

	summary.Reports = result.Reports
	summary.Emitted = len(result.Devices)
	summary.Held = result.Held
	summary.Skipped = result.Skipped()
	summary.FailedPasses = len(result.FailedPasses())
	s.tracePasses(span, result.Reports)

	saved, err := s.store.SaveDevices(ctx, result.Devices)
	summary.Saved = saved
	if err != nil {
		summary.Duration = time.Since(summary.StartedAt)
		s.record(summary, result, "error")
		span.RecordError(err)
		span.SetStatus(codes.Error, "saving devices failed")
		log.Error("sync failed", zap.Error(err))
		return summary, fmt.Errorf("saving devices: %w", err)
	}

	if s.exporter != nil && s.cfg.CMDB.Enabled && s.cfg.Sync.Export {
		exported, err := s.exporter.SendAll(ctx, result.Devices)
		summary.Exported = exported
		if err != nil {
			summary.ExportError = err.Error()
			log.Warn("export incomplete", zap.Int("exported", exported), zap.Error(err))
		}
	}

	summary.Duration = time.Since(summary.StartedAt)
	status := "success"
	if summary.FailedPasses > 0 || summary.ExportError != "" {
		status = "partial"
		span.SetStatus(codes.Error, "sync incomplete")
	}
	s.record(summary, result, status)

	log.Info("sync finished",
		zap.String("status", status),
		zap.Int("emitted", summary.Emitted),
		zap.Int("held", summary.Held),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed_passes", summary.FailedPasses),
		zap.Int("exported", summary.Exported),
		zap.Duration("duration", summary.Duration))
	return summary, nil
}

func (s *Service) tracePasses(span trace.Span, reports []normalization.PassReport) {
	for _, rep := range reports {
		attrs := []attribute.KeyValue{
			attribute.String("pass", rep.Pass),
			attribute.String("device_type", string(rep.DeviceType)),
			attribute.Int("items", rep.Items),
			attribute.Int("produced", rep.Produced),
			attribute.Int("skipped", len(rep.Skipped)),
		}
		if rep.Err != nil {
			attrs = append(attrs, attribute.String("error", rep.Err.Error()))
		}
		span.AddEvent("sync.pass", trace.WithAttributes(attrs...))
	}
}

func (s *Service) record(summary *Summary, result *normalization.Result, status string) {
	s.mu.Lock()
	s.lastRun = summary
	s.mu.Unlock()

	if s.metrics == nil {
		return
	}
	s.metrics.SyncRuns.WithLabelValues(status).Inc()
	s.metrics.SyncDuration.Observe(summary.Duration.Seconds())
	s.metrics.DevicesHeld.Set(float64(summary.Held))

	byType := map[devices.DeviceType]int{
		devices.DeviceTypeAP:      0,
		devices.DeviceTypeSwitch:  0,
		devices.DeviceTypeGateway: 0,
	}
	for _, d := range result.Devices {
		byType[d.Type]++
	}
	for t, n := range byType {
		s.metrics.DevicesEmitted.WithLabelValues(string(t)).Set(float64(n))
	}

	for _, rep := range result.Reports {
		if n := len(rep.Skipped); n > 0 {
			s.metrics.ItemsSkipped.WithLabelValues(rep.Pass, string(rep.DeviceType)).Add(float64(n))
		}
		if rep.Failed() {
			s.metrics.StreamFailures.WithLabelValues(rep.Pass, string(rep.DeviceType)).Inc()
		}
	}

	if status == "success" {
		s.metrics.LastSyncSuccess.SetToCurrentTime()
	}
	if summary.Exported > 0 {
		s.metrics.RecordsExported.WithLabelValues("sent").Add(float64(summary.Exported))
	}
	if failed := summary.Emitted - summary.Exported; summary.ExportError != "" && failed > 0 {
		s.metrics.RecordsExported.WithLabelValues("failed").Add(float64(failed))
	}
}

// RequestDevice queues a single-device sync.
func (s *Service) RequestDevice(ctx context.Context, mac string) error {
	if s.queue == nil {
		return fmt.Errorf("single-device sync requires a queue")
	}
	return s.queue.Enqueue(ctx, mac)
}

// DrainQueue runs one single-device sync per pending request and returns
// the number of runs performed. It stops early, leaving the request queued,
// while another run is active.
func (s *Service) DrainQueue(ctx context.Context) int {
	if s.queue == nil {
		return 0
	}
	runs := 0
	for ctx.Err() == nil {
		mac, err := s.queue.Dequeue(ctx)
		if err != nil {
			s.logger.Warn("reading sync queue failed", zap.Error(err))
			return runs
		}
		if mac == "" {
			return runs
		}
		_, err = s.Run(ctx, mac)
		if errors.Is(err, ErrRunInProgress) {
			if err := s.queue.Requeue(ctx, mac); err != nil {
				s.logger.Error("returning request to sync queue failed", zap.String("device_mac", mac), zap.Error(err))
			}
			return runs
		}
		if err != nil {
			s.logger.Error("single-device sync failed", zap.String("device_mac", mac), zap.Error(err))
		}
		runs++
	}
	return runs
}

// Start runs a full sync immediately and then every configured interval,
// draining single-device requests in between, until ctx is done.
func (s *Service) Start(ctx context.Context) {
	interval := s.cfg.Sync.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	poll := time.NewTicker(s.queuePoll)
	defer poll.Stop()

	s.runScheduled(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runScheduled(ctx)
		case <-poll.C:
			s.DrainQueue(ctx)
		}
	}
}

func (s *Service) runScheduled(ctx context.Context) {
	if _, err := s.Run(ctx, ""); err != nil {
		if errors.Is(err, ErrRunInProgress) {
			s.logger.Warn("skipping scheduled sync, previous run still active")
			return
		}
		s.logger.Error("scheduled sync failed", zap.Error(err))
	}
}
