// Package devices defines the vendor-neutral device model produced by the
// normalization engine and consumed by the persistence, export and alarm
// correlation layers.
package devices

import (
	"slices"
	"strings"

	"github.com/google/uuid"
)

// DeviceType is the upstream device class.
type DeviceType string

const (
	DeviceTypeAP      DeviceType = "ap"
	DeviceTypeSwitch  DeviceType = "switch"
	DeviceTypeGateway DeviceType = "gateway"

	// DeviceTypeAll requests every class in a single pass.
	DeviceTypeAll DeviceType = "all"
)

// Valid reports whether t is one of the three concrete device classes.
func (t DeviceType) Valid() bool {
	switch t {
	case DeviceTypeAP, DeviceTypeSwitch, DeviceTypeGateway:
		return true
	}
	return false
}

// Membership attributes carried in Device.Attributes.
const (
	AttrMistDevice = "mist_device"
	AttrDiscovered = "discovered"
	AttrAssigned   = "assigned"
)

// Operational status values.
const (
	StatusUp   = 1
	StatusDown = 2
)

// Stack modes that are not taken verbatim from the upstream payload.
const (
	StackModeMaster     = "master"
	StackModeNotPresent = "not-present"
)

// Fixed identity values stamped on every record.
const (
	Vendor           = "Juniper Networks"
	DiscoverySource  = "SG-JuniperMIST"
	DiscoveryProtoID = "Mist"
)

// NilSiteID is the sentinel site id for devices not bound to a site.
var NilSiteID = uuid.Nil.String()

// InterfaceStatus is the link state of one interface entry.
type InterfaceStatus int

const (
	InterfaceUnknown InterfaceStatus = 0
	InterfaceUp      InterfaceStatus = 1
	InterfaceDown    InterfaceStatus = 2
)

// Interface is one physical or logical port entry.
type Interface struct {
	PortID        string          `json:"port_id"`
	InterfaceName string          `json:"interface_name"`
	InterfaceID   string          `json:"interface_id"`
	IPAddress     string          `json:"ip_address"`
	Netmask       string          `json:"netmask"`
	IPVersion     int             `json:"ip_version,omitempty"`
	Status        InterfaceStatus `json:"status"`
	VLAN          int             `json:"vlan"`
}

// KeyValue is one entry of the correlation annex.
type KeyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Site is a site descriptor as listed by the management API.
type Site struct {
	ID          string  `json:"id"`
	OrgID       string  `json:"org_id,omitempty"`
	Name        string  `json:"name"`
	Address     string  `json:"address,omitempty"`
	CountryCode string  `json:"country_code,omitempty"`
	Timezone    string  `json:"timezone,omitempty"`
	Notes       string  `json:"notes,omitempty"`
	Latlng      *LatLng `json:"latlng,omitempty"`
}

// LatLng is a site location.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// SiteLookup maps site id to site descriptor.
type SiteLookup map[string]*Site

// Get returns the site for id, or nil.
func (l SiteLookup) Get(id string) *Site {
	if l == nil || id == "" {
		return nil
	}
	return l[id]
}

// Device is the canonical record for one physical or logical network unit.
type Device struct {
	// Identity
	Serial   string `json:"serial"`
	MAC      string `json:"mac"`
	DeviceID string `json:"device_id"`
	Name     string `json:"name"`

	// Classification
	Type    DeviceType `json:"type"`
	Model   string     `json:"model"`
	CIClass string     `json:"ci_class"`

	// Topology
	SiteID            string `json:"site_id"`
	Site              *Site  `json:"site,omitempty"`
	Stack             bool   `json:"stack"`
	FPCIndex          int    `json:"fpc_idx"`
	StackMode         string `json:"stack_mode,omitempty"`
	StackState        string `json:"stack_state,omitempty"`
	ClusterPrimaryMAC string `json:"cluster_primary_mac,omitempty"`

	// Runtime
	OperationalStatus int     `json:"operational_status"`
	Version           string  `json:"version"`
	Uptime            float64 `json:"uptime"`
	LastSeen          float64 `json:"last_seen"`
	IPAddress         string  `json:"ip_address"`
	Netmask           string  `json:"netmask"`
	DefaultGateway    string  `json:"default_gateway"`
	IPAddressV6       string  `json:"ip_address_v6"`
	NetmaskV6         string  `json:"netmask_v6"`
	DefaultGatewayV6  string  `json:"default_gateway_v6"`

	Interfaces []Interface  `json:"interfaces"`
	Attributes AttributeSet `json:"attributes"`
	KeyValues  []KeyValue   `json:"key_values"`

	// Static platform hints
	CreatedTime          float64 `json:"created_time"`
	CanPartitionVLANs    bool    `json:"can_partitionvlans"`
	CanRoute             bool    `json:"can_route"`
	CanSwitch            bool    `json:"can_switch"`
	DiscoveryProtoID     string  `json:"discovery_proto_id"`
	DiscoverySource      string  `json:"discovery_source"`
	FirmwareManufacturer string  `json:"firmware_manufacturer"`
	Vendor               string  `json:"vendor"`
}

// AddAttribute adds attr to the device's attribute set.
func (d *Device) AddAttribute(attr string) {
	d.Attributes.Add(attr)
}

// HasAttribute reports whether the device carries attr.
func (d *Device) HasAttribute(attr string) bool {
	return d.Attributes.Has(attr)
}

// SetKeyValues rebuilds the four-entry correlation annex.
func (d *Device) SetKeyValues(orgID, mapID string) {
	d.KeyValues = []KeyValue{
		{Key: "org_id", Value: orgID},
		{Key: "site_id", Value: d.SiteID},
		{Key: "device_id", Value: d.DeviceID},
		{Key: "map_id", Value: mapID},
	}
}

// Clone returns a deep copy of d. The site descriptor is shared.
func (d *Device) Clone() *Device {
	if d == nil {
		return nil
	}
	c := *d
	c.Interfaces = slices.Clone(d.Interfaces)
	c.Attributes = slices.Clone(d.Attributes)
	c.KeyValues = slices.Clone(d.KeyValues)
	return &c
}

// NormalizeMAC returns mac as lower-case colon-separated octets. Separators
// and other non-hex characters are dropped; a trailing odd digit is ignored.
func NormalizeMAC(mac string) string {
	var hex []byte
	for _, c := range strings.ToLower(mac) {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') {
			hex = append(hex, byte(c))
		}
	}
	parts := make([]string, 0, len(hex)/2)
	for i := 0; i+1 < len(hex); i += 2 {
		parts = append(parts, string(hex[i:i+2]))
	}
	return strings.Join(parts, ":")
}

// CompactMAC returns mac as bare lower-case hex, the form the upstream API
// expects in filters.
func CompactMAC(mac string) string {
	return strings.ReplaceAll(NormalizeMAC(mac), ":", "")
}
