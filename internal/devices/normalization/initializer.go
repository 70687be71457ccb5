package normalization

import (
	"github.com/lvonguyen/mistsync/internal/devices"
	"github.com/lvonguyen/mistsync/internal/devices/ingestion"
)

// Initializer builds the record shell for a serial seen for the first time.
type Initializer struct {
	classifier *Classifier
	sites      devices.SiteLookup
}

// NewInitializer creates a new initializer.
func NewInitializer(classifier *Classifier, sites devices.SiteLookup) *Initializer {
	return &Initializer{classifier: classifier, sites: sites}
}

// Init seeds identity, class, site binding and static platform hints from
// ident. A site id on the item tags the record assigned; an item that is not
// a virtual chassis secondary is tagged mist_device.
func (in *Initializer) Init(ident ingestion.Identity) *devices.Device {
	d := &devices.Device{
		Serial:      ident.Serial,
		MAC:         ident.MAC,
		DeviceID:    ident.ID,
		Name:        ident.Name,
		Type:        ident.DeviceType(),
		Model:       ident.Model,
		CIClass:     in.classifier.Classify(ident.DeviceType(), ident.Model),
		SiteID:      devices.NilSiteID,
		Interfaces:  []devices.Interface{},
		CreatedTime: ident.CreatedTime,

		OperationalStatus: OperationalStatus(ident.Status),

		CanPartitionVLANs:    true,
		CanRoute:             true,
		CanSwitch:            true,
		DiscoveryProtoID:     devices.DiscoveryProtoID,
		DiscoverySource:      devices.DiscoverySource,
		FirmwareManufacturer: devices.Vendor,
		Vendor:               devices.Vendor,
	}
	if d.Name == "" {
		d.Name = d.MAC
	}
	if ident.SiteID != "" {
		d.SiteID = ident.SiteID
		d.AddAttribute(devices.AttrAssigned)
	}
	if ident.VCMAC == "" || ident.VCMAC == ident.MAC {
		d.AddAttribute(devices.AttrMistDevice)
	}
	d.Site = in.sites.Get(ident.SiteID)
	d.SetKeyValues(ident.OrgID, ident.MapID)
	return d
}
