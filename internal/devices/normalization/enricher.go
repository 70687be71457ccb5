package normalization

import (
	"github.com/lvonguyen/mistsync/internal/devices"
	"github.com/lvonguyen/mistsync/internal/devices/ingestion"
)

// Enricher overlays runtime statistics onto a record.
type Enricher struct {
	sites devices.SiteLookup
}

// NewEnricher creates a new enricher.
func NewEnricher(sites devices.SiteLookup) *Enricher {
	return &Enricher{sites: sites}
}

// Enrich overwrites the runtime fields of d from item. It only adds
// attributes and never clears identity; IP fields are left alone when the
// item carries no ip_stat block.
func (e *Enricher) Enrich(d *devices.Device, item *ingestion.DeviceItem) {
	if item.LastSeen != nil && *item.LastSeen != 0 {
		d.LastSeen = *item.LastSeen
		d.AddAttribute(devices.AttrDiscovered)
	} else {
		d.LastSeen = 0
	}

	d.Uptime = 0
	if item.Uptime != nil {
		d.Uptime = *item.Uptime
	}
	d.Version = item.Version
	d.DeviceID = item.ID
	d.OperationalStatus = OperationalStatus(item.Status)

	if item.SiteID != "" {
		d.SiteID = item.SiteID
		d.AddAttribute(devices.AttrAssigned)
	} else {
		d.SiteID = devices.NilSiteID
	}
	d.SetKeyValues(item.OrgID, item.MapID)
	d.Site = e.sites.Get(item.SiteID)

	if ip := item.IPStat; ip != nil {
		d.IPAddress = ip.IP
		d.Netmask = ip.Netmask
		d.DefaultGateway = ip.Gateway
		d.IPAddressV6 = ip.IP6
		d.NetmaskV6 = ip.Netmask6
		d.DefaultGatewayV6 = ip.Gateway6
	}
}
