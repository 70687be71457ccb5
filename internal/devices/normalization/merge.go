package normalization

import (
	"github.com/lvonguyen/mistsync/internal/devices"
)

// Merge folds patch into existing and returns the updated record. Neither
// argument is modified.
//
// Identity fields keep the established value when the patch leaves them
// empty; every other field takes the patch value. Attributes are the union
// of both sets.
func Merge(existing, patch *devices.Device) *devices.Device {
	if existing == nil {
		return patch.Clone()
	}
	if patch == nil {
		return existing.Clone()
	}

	out := patch.Clone()
	out.Serial = firstNonEmpty(existing.Serial, patch.Serial)
	out.MAC = firstNonEmpty(patch.MAC, existing.MAC)
	out.DeviceID = firstNonEmpty(patch.DeviceID, existing.DeviceID)
	out.Name = firstNonEmpty(patch.Name, existing.Name)
	out.Model = firstNonEmpty(patch.Model, existing.Model)
	out.CIClass = firstNonEmpty(patch.CIClass, existing.CIClass)
	if patch.Type == "" {
		out.Type = existing.Type
	}
	if patch.CreatedTime == 0 {
		out.CreatedTime = existing.CreatedTime
	}

	attrs := append(devices.AttributeSet(nil), existing.Attributes...)
	attrs.Union(patch.Attributes)
	out.Attributes = attrs

	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
