package normalization

import (
	"strings"

	"github.com/lvonguyen/mistsync/internal/devices"
)

// Visibility is the two-tier emission gate. Claimed relaxes the requirement
// that a device be assigned to a site; Assigned relaxes the requirement that
// a device has been seen by the cloud.
type Visibility struct {
	Claimed  bool `yaml:"claimed"`
	Assigned bool `yaml:"assigned"`
}

// VisibilityFromStatus maps the configured device status to a gate.
// "claimed" emits everything, "assigned" emits site-bound devices, anything
// else emits only site-bound devices that have been seen.
func VisibilityFromStatus(status string) Visibility {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "claimed":
		return Visibility{Claimed: true, Assigned: true}
	case "assigned":
		return Visibility{Assigned: true}
	default:
		return Visibility{}
	}
}

// Admits reports whether d passes the gate.
func (v Visibility) Admits(d *devices.Device) bool {
	if !v.Claimed && !d.HasAttribute(devices.AttrAssigned) {
		return false
	}
	if !v.Assigned && !d.HasAttribute(devices.AttrDiscovered) {
		return false
	}
	return true
}

// Filter returns the records of all that pass the gate.
func (v Visibility) Filter(all map[string]*devices.Device) map[string]*devices.Device {
	out := make(map[string]*devices.Device, len(all))
	for serial, d := range all {
		if v.Admits(d) {
			out[serial] = d
		}
	}
	return out
}
