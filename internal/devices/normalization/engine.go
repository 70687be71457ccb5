package normalization

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/lvonguyen/mistsync/internal/devices"
	"github.com/lvonguyen/mistsync/internal/devices/ingestion"
)

// Resolver returns a working copy of the record for ident.Serial, creating
// it on first sight. Changes reach the output only once committed.
type Resolver func(ident ingestion.Identity) *devices.Device

// Processor decomposes one statistics item into member records. It may
// return members together with an error when part of the item failed.
type Processor interface {
	Process(item *ingestion.DeviceItem, resolve Resolver) ([]*devices.Device, error)
}

// Plan selects what a run reads.
type Plan struct {
	// Types lists the class passes to run; empty means a single "all" pass.
	Types     []devices.DeviceType
	DeviceMAC string
	Sites     ingestion.SiteFilter
}

// Engine normalizes one sync run. It is not safe for concurrent use; build
// a new Engine per run.
type Engine struct {
	config      Config
	initializer *Initializer
	processors  map[devices.DeviceType]Processor
	devices     map[string]*devices.Device
	logger      *zap.Logger
}

// NewEngine creates an engine over the given site lookup.
func NewEngine(config Config, sites devices.SiteLookup, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sites == nil {
		sites = devices.SiteLookup{}
	}

	classifier := NewClassifier(config.CIClasses, logger)
	enricher := NewEnricher(sites)
	decoder := NewInterfaceDecoder(logger)

	return &Engine{
		config:      config,
		initializer: NewInitializer(classifier, sites),
		processors: map[devices.DeviceType]Processor{
			devices.DeviceTypeAP:      NewAccessPointProcessor(enricher, decoder),
			devices.DeviceTypeSwitch:  NewSwitchProcessor(enricher, decoder, config.SwitchDiscriminator, config.VirtualSwitchModels, logger),
			devices.DeviceTypeGateway: NewGatewayProcessor(enricher, decoder, config.GatewayDiscriminator, logger),
		},
		devices: make(map[string]*devices.Device),
		logger:  logger,
	}
}

// Run executes the inventory passes and then the detail passes, and returns
// the gated output. Stream failures are recorded on their pass and never
// stop the run.
func (e *Engine) Run(ctx context.Context, src ingestion.Source, plan Plan) *Result {
	types := plan.Types
	if len(types) == 0 || plan.DeviceMAC != "" {
		types = []devices.DeviceType{devices.DeviceTypeAll}
	}

	result := &Result{}
	for _, t := range types {
		f := ingestion.Filter{Type: t, DeviceMAC: plan.DeviceMAC, SiteIDs: plan.Sites}
		stream, err := src.InventoryStream(ctx, f)
		result.Reports = append(result.Reports, e.runPass(ctx, PassInventory, t, stream, err, plan.Sites))
	}
	for _, t := range types {
		f := ingestion.Filter{Type: t, DeviceMAC: plan.DeviceMAC, SiteIDs: plan.Sites}
		stream, err := src.DetailStream(ctx, f)
		result.Reports = append(result.Reports, e.runPass(ctx, PassDetail, t, stream, err, nil))
	}

	result.Devices = e.Emit()
	result.Held = len(e.devices) - len(result.Devices)
	return result
}

func (e *Engine) runPass(ctx context.Context, pass string, t devices.DeviceType, stream ingestion.Stream, openErr error, sites ingestion.SiteFilter) PassReport {
	if openErr != nil {
		e.logger.Error("stream open failed",
			zap.String("pass", pass),
			zap.String("device_type", string(t)),
			zap.Error(openErr))
		return PassReport{Pass: pass, DeviceType: t, Err: openErr}
	}
	if pass == PassInventory {
		return e.InventoryPass(ctx, t, stream, sites)
	}
	return e.DetailPass(ctx, t, stream)
}

// InventoryPass seeds records from the inventory listing. Items bound to a
// site outside sites are ignored.
func (e *Engine) InventoryPass(ctx context.Context, t devices.DeviceType, stream ingestion.Stream, sites ingestion.SiteFilter) PassReport {
	report := PassReport{Pass: PassInventory, DeviceType: t}
	e.consume(ctx, stream, &report, func(index int, raw []byte) error {
		item, err := ingestion.DecodeInventoryItem(raw)
		if err != nil {
			return err
		}
		if !sites.Admits(item.SiteID) {
			return nil
		}
		e.commit(e.initializer.Init(item.Identity))
		report.Produced++
		return nil
	})
	return report
}

// DetailPass dispatches each statistics item to its class processor and
// commits every produced member.
func (e *Engine) DetailPass(ctx context.Context, t devices.DeviceType, stream ingestion.Stream) PassReport {
	report := PassReport{Pass: PassDetail, DeviceType: t}
	e.consume(ctx, stream, &report, func(index int, raw []byte) error {
		item, err := ingestion.DecodeDeviceItem(raw)
		if err != nil {
			return err
		}
		processor, ok := e.processors[item.DeviceType()]
		if !ok {
			return fmt.Errorf("%w: %q", ingestion.ErrUnknownDeviceType, item.Type)
		}

		members, err := processor.Process(item, e.resolve)
		for _, m := range members {
			e.commit(m)
			report.Produced++
		}
		return err
	})
	return report
}

// consume drains stream, handing each item to handle. Item errors become
// skipped entries; a stream error ends the pass and keeps what was committed.
func (e *Engine) consume(ctx context.Context, stream ingestion.Stream, report *PassReport, handle func(index int, raw []byte) error) {
	start := time.Now()
	defer func() {
		report.Duration = time.Since(start)
		if err := stream.Close(); err != nil {
			e.logger.Warn("stream close failed", zap.Error(err))
		}
	}()

	for index := 0; ; index++ {
		raw, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			report.Err = err
			e.logger.Error("stream failed",
				zap.String("pass", report.Pass),
				zap.String("device_type", string(report.DeviceType)),
				zap.Int("items", report.Items),
				zap.Error(err))
			break
		}
		report.Items++

		if err := e.handleItem(index, raw, handle); err != nil {
			serial := serialOf(raw)
			report.skip(index, serial, err)
			e.logger.Warn("skipping item",
				zap.String("pass", report.Pass),
				zap.String("device_type", string(report.DeviceType)),
				zap.String("serial", serial),
				zap.Int("index", index),
				zap.Error(err))
		}
	}

	e.logger.Info("pass complete",
		zap.String("pass", report.Pass),
		zap.String("device_type", string(report.DeviceType)),
		zap.Int("items", report.Items),
		zap.Int("produced", report.Produced),
		zap.Int("skipped", len(report.Skipped)))
}

// handleItem runs handle, turning a panic in a processor into an item error.
func (e *Engine) handleItem(index int, raw []byte, handle func(int, []byte) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processing item: %v", r)
		}
	}()
	return handle(index, raw)
}

func serialOf(raw []byte) string {
	if !gjson.ValidBytes(raw) {
		return ""
	}
	return gjson.GetBytes(raw, "serial").String()
}

func (e *Engine) resolve(ident ingestion.Identity) *devices.Device {
	if d, ok := e.devices[ident.Serial]; ok {
		return d.Clone()
	}
	return e.initializer.Init(ident)
}

func (e *Engine) commit(d *devices.Device) {
	if d == nil || d.Serial == "" {
		return
	}
	e.devices[d.Serial] = Merge(e.devices[d.Serial], d)
}

// Device returns the held record for serial, gated or not.
func (e *Engine) Device(serial string) (*devices.Device, bool) {
	d, ok := e.devices[serial]
	return d, ok
}

// Len returns the number of held records.
func (e *Engine) Len() int {
	return len(e.devices)
}

// Emit returns the records that pass the visibility gate.
func (e *Engine) Emit() map[string]*devices.Device {
	return e.config.Visibility.Filter(e.devices)
}

// Serials returns the held serials in sorted order.
func (e *Engine) Serials() []string {
	serials := make([]string, 0, len(e.devices))
	for s := range e.devices {
		serials = append(serials, s)
	}
	sort.Strings(serials)
	return serials
}
