package normalization

import (
	"github.com/lvonguyen/mistsync/internal/devices"
	"github.com/lvonguyen/mistsync/internal/devices/ingestion"
)

// AccessPointProcessor handles single-unit access points.
type AccessPointProcessor struct {
	enricher *Enricher
	decoder  *InterfaceDecoder
}

// NewAccessPointProcessor creates a new access point processor.
func NewAccessPointProcessor(enricher *Enricher, decoder *InterfaceDecoder) *AccessPointProcessor {
	return &AccessPointProcessor{enricher: enricher, decoder: decoder}
}

// Process implements Processor.
func (p *AccessPointProcessor) Process(item *ingestion.DeviceItem, resolve Resolver) ([]*devices.Device, error) {
	d := resolve(item.Identity)
	p.enricher.Enrich(d, item)

	if item.Version != "" {
		d.Version = item.Version
	}
	if item.Uptime != nil {
		d.Uptime = *item.Uptime
	}
	if item.IP != "" {
		d.IPAddress = item.IP
	}
	d.Interfaces = p.decoder.DecodePorts(item.PortStat)

	return []*devices.Device{d}, nil
}
