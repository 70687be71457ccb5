// Package ingestion pulls raw device inventory, device statistics and site
// listings from the Mist management API and decodes them into typed items.
package ingestion

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/lvonguyen/mistsync/internal/devices"
)

var (
	// ErrMissingField is returned when a mandatory field is absent.
	ErrMissingField = errors.New("missing required field")
	// ErrUnknownDeviceType is returned for a type outside ap/switch/gateway.
	ErrUnknownDeviceType = errors.New("unknown device type")
	// ErrMalformedItem is returned when an item is not a JSON object.
	ErrMalformedItem = errors.New("malformed item")
	// ErrUnexpectedStatus is returned for non-2xx API responses.
	ErrUnexpectedStatus = errors.New("unexpected status code")
)

// Identity holds the fields shared by inventory and statistics items.
type Identity struct {
	ID          string  `json:"id"`
	OrgID       string  `json:"org_id"`
	SiteID      string  `json:"site_id"`
	MapID       string  `json:"map_id"`
	Model       string  `json:"model"`
	Type        string  `json:"type"`
	MAC         string  `json:"mac"`
	VCMAC       string  `json:"vc_mac"`
	Serial      string  `json:"serial"`
	Name        string  `json:"name"`
	Hostname    string  `json:"hostname"`
	Status      string  `json:"status"`
	CreatedTime float64 `json:"created_time"`
}

// DeviceType returns the typed device class.
func (i Identity) DeviceType() devices.DeviceType {
	return devices.DeviceType(i.Type)
}

// InventoryItem is one sparse record from the inventory listing.
type InventoryItem struct {
	Identity
}

// DeviceItem is one record from the device statistics listing.
type DeviceItem struct {
	Identity

	LastSeen    *float64    `json:"last_seen"`
	Uptime      *float64    `json:"uptime"`
	Version     string      `json:"version"`
	IP          string      `json:"ip"`
	IsHA        bool        `json:"is_ha"`
	HAPeerMAC   string      `json:"ha_peer_mac"`
	ModuleStat  ModuleStats `json:"module_stat"`
	Module2Stat ModuleStats `json:"module2_stat"`
	IPStat      *IPStat     `json:"ip_stat"`
	IfStat      IfStats     `json:"if_stat"`
	If2Stat     IfStats     `json:"if2_stat"`
	PortStat    IfStats     `json:"port_stat"`
}

// IPStat is the management IP block of a device.
type IPStat struct {
	IP       string `json:"ip"`
	Netmask  string `json:"netmask"`
	Gateway  string `json:"gateway"`
	IP6      string `json:"ip6"`
	Netmask6 string `json:"netmask6"`
	Gateway6 string `json:"gateway6"`
}

// ModuleStat describes one chassis member, cluster node or line card.
type ModuleStat struct {
	Serial        string   `json:"serial"`
	MAC           string   `json:"mac"`
	Model         string   `json:"model"`
	HardwareModel string   `json:"hardware_model"`
	FPCIdx        int      `json:"fpc_idx"`
	VCRole        string   `json:"vc_role"`
	VCState       string   `json:"vc_state"`
	Version       string   `json:"version"`
	Uptime        *float64 `json:"uptime"`
}

// ModuleStats holds module_stat, which the API sends either as a list or as
// a single object.
type ModuleStats struct {
	Entries []ModuleStat
	IsList  bool
}

// First returns the first entry, or a zero value when there is none.
func (m ModuleStats) First() ModuleStat {
	if len(m.Entries) == 0 {
		return ModuleStat{}
	}
	return m.Entries[0]
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *ModuleStats) UnmarshalJSON(data []byte) error {
	*m = ModuleStats{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	switch data[0] {
	case '[':
		m.IsList = true
		return json.Unmarshal(data, &m.Entries)
	case '{':
		var single ModuleStat
		if err := json.Unmarshal(data, &single); err != nil {
			return err
		}
		m.Entries = []ModuleStat{single}
		return nil
	}
	return fmt.Errorf("%w: module_stat is neither list nor object", ErrMalformedItem)
}

// MarshalJSON implements json.Marshaler.
func (m ModuleStats) MarshalJSON() ([]byte, error) {
	if !m.IsList && len(m.Entries) == 1 {
		return json.Marshal(m.Entries[0])
	}
	if m.Entries == nil {
		return []byte("null"), nil
	}
	return json.Marshal(m.Entries)
}

// IfStat is one entry of if_stat, if2_stat or port_stat.
type IfStat struct {
	Name   string
	PortID string
	Up     *bool
	IPs    []string

	// Malformed is set when the entry value is not an object.
	Malformed bool
}

// IfStats is an interface statistics object decoded in document order.
// It is nil when the block is absent and non-nil (possibly empty) when present.
type IfStats []IfStat

// UnmarshalJSON implements json.Unmarshaler. Key order of the source object is
// kept, which encoding/json maps would lose.
func (s *IfStats) UnmarshalJSON(data []byte) error {
	res := gjson.ParseBytes(data)
	if res.Type == gjson.Null {
		*s = nil
		return nil
	}
	if !res.IsObject() {
		return fmt.Errorf("%w: interface stats must be an object", ErrMalformedItem)
	}
	out := IfStats{}
	res.ForEach(func(key, value gjson.Result) bool {
		entry := IfStat{Name: key.String()}
		if !value.IsObject() {
			entry.Malformed = true
			out = append(out, entry)
			return true
		}
		entry.PortID = value.Get("port_id").String()
		if up := value.Get("up"); up.Type == gjson.True || up.Type == gjson.False {
			b := up.Bool()
			entry.Up = &b
		}
		if ips := value.Get("ips"); ips.IsArray() {
			entry.IPs = []string{}
			for _, ip := range ips.Array() {
				entry.IPs = append(entry.IPs, ip.String())
			}
		}
		out = append(out, entry)
		return true
	})
	*s = out
	return nil
}

// DecodeInventoryItem reads the identity fields of an inventory record
// without decoding the rest of the payload.
func DecodeInventoryItem(data []byte) (*InventoryItem, error) {
	if !gjson.ValidBytes(data) || !gjson.ParseBytes(data).IsObject() {
		return nil, ErrMalformedItem
	}
	r := gjson.GetManyBytes(data,
		"id", "org_id", "site_id", "map_id", "model", "type",
		"mac", "vc_mac", "serial", "name", "hostname", "status", "created_time")
	item := &InventoryItem{Identity: Identity{
		ID:          r[0].String(),
		OrgID:       r[1].String(),
		SiteID:      r[2].String(),
		MapID:       r[3].String(),
		Model:       r[4].String(),
		Type:        r[5].String(),
		MAC:         r[6].String(),
		VCMAC:       r[7].String(),
		Serial:      r[8].String(),
		Name:        r[9].String(),
		Hostname:    r[10].String(),
		Status:      r[11].String(),
		CreatedTime: r[12].Float(),
	}}
	if item.Serial == "" {
		return nil, fmt.Errorf("%w: serial", ErrMissingField)
	}
	return item, nil
}

// DecodeDeviceItem decodes one statistics record and validates the fields
// the class processors depend on.
func DecodeDeviceItem(data []byte) (*DeviceItem, error) {
	var item DeviceItem
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedItem, err)
	}
	if item.Type == "" {
		return nil, fmt.Errorf("%w: type", ErrMissingField)
	}
	if !item.DeviceType().Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDeviceType, item.Type)
	}
	if item.Serial == "" {
		return nil, fmt.Errorf("%w: serial", ErrMissingField)
	}
	return &item, nil
}
