package normalization

import (
	"errors"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/lvonguyen/mistsync/internal/devices"
	"github.com/lvonguyen/mistsync/internal/devices/ingestion"
)

// routerModelMarker marks hardware whose interfaces are never chassis-numbered.
const routerModelMarker = "SSR"

var (
	// ErrMalformedInterface marks an interface entry that could not be decoded.
	ErrMalformedInterface = errors.New("malformed interface entry")
)

// InterfaceDecoder converts interface statistics into canonical interfaces.
type InterfaceDecoder struct {
	logger *zap.Logger
}

// NewInterfaceDecoder creates a new decoder.
func NewInterfaceDecoder(logger *zap.Logger) *InterfaceDecoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InterfaceDecoder{logger: logger}
}

// Decode returns the interfaces of if_stat that belong to the member at
// fpcIdx. Entries are emitted in document order; one per address, or one
// without an address when the entry carries none.
func (d *InterfaceDecoder) Decode(stats ingestion.IfStats, fpcIdx int, hardwareModel string) []devices.Interface {
	out := []devices.Interface{}
	forceAll := strings.HasPrefix(hardwareModel, routerModelMarker)

	for _, stat := range stats {
		if stat.Malformed {
			d.logger.Warn("skipping interface entry",
				zap.String("interface", stat.Name),
				zap.Error(ErrMalformedInterface))
			continue
		}

		interfaceID, include := d.memberInterface(stat.Name, fpcIdx, forceAll)
		if !include {
			continue
		}

		base := devices.Interface{
			PortID:        stat.PortID,
			InterfaceName: stat.Name,
			InterfaceID:   interfaceID,
			Status:        InterfaceStatus(stat.Up),
		}

		// No ips key: one address-less entry. An empty list yields none.
		if stat.IPs == nil {
			base.IPVersion = 4
			out = append(out, base)
			continue
		}

		for _, ipMask := range stat.IPs {
			iface, err := withAddress(base, ipMask)
			if err != nil {
				d.logger.Warn("skipping interface address",
					zap.String("interface", stat.Name),
					zap.String("address", ipMask),
					zap.Error(err))
				continue
			}
			out = append(out, iface)
		}
	}
	return out
}

// DecodePorts converts access point port_stat. AP ports are flat, so every
// port yields exactly one status-only entry.
func (d *InterfaceDecoder) DecodePorts(stats ingestion.IfStats) []devices.Interface {
	out := []devices.Interface{}
	for _, stat := range stats {
		if stat.Malformed {
			d.logger.Warn("skipping port entry",
				zap.String("port", stat.Name),
				zap.Error(ErrMalformedInterface))
			continue
		}
		out = append(out, devices.Interface{
			PortID:        stat.Name,
			InterfaceName: stat.Name,
			InterfaceID:   stat.Name,
			Status:        InterfaceStatus(stat.Up),
		})
	}
	return out
}

// memberInterface decides whether name belongs to the member at fpcIdx and
// returns its external id. Names look like <base>-<fpc>/<pic>/<port>[.unit].
func (d *InterfaceDecoder) memberInterface(name string, fpcIdx int, forceAll bool) (string, bool) {
	if forceAll || !strings.Contains(name, "-") {
		return name, true
	}

	segment := strings.Split(name, "-")[1]
	fpc, err := strconv.Atoi(strings.Split(segment, "/")[0])
	if err != nil {
		d.logger.Debug("interface without fpc segment",
			zap.String("interface", name))
		return "", false
	}
	if fpc != fpcIdx {
		return "", false
	}

	if len(segment) < 2 {
		return "", true
	}
	return segment[2:], true
}

func withAddress(base devices.Interface, ipMask string) (devices.Interface, error) {
	slash := strings.Index(ipMask, "/")
	if slash < 0 {
		return base, ErrMalformedInterface
	}
	address := ipMask[:slash]
	bits := ipMask[strings.LastIndex(ipMask, "/")+1:]

	iface := base
	iface.IPAddress = address

	if strings.Contains(address, ":") {
		iface.IPVersion = 6
		iface.Netmask = "/" + bits
		return iface, nil
	}

	n, err := strconv.Atoi(bits)
	if err != nil || n < 0 || n > 32 {
		return base, ErrMalformedInterface
	}
	iface.IPVersion = 4
	iface.Netmask = Netmask(n)
	return iface, nil
}

// Netmask converts an IPv4 prefix length to dotted-quad form. Each octet
// consumes up to eight bits of the prefix.
func Netmask(bits int) string {
	octets := make([]string, 4)
	for i := range octets {
		n := bits
		if n > 8 {
			n = 8
		}
		if n < 0 {
			n = 0
		}
		octets[i] = strconv.Itoa(256 - 1<<(8-n))
		bits -= n
	}
	return strings.Join(octets, ".")
}

// InterfaceStatus maps the up flag: true is up, false is down, absent is
// unknown.
func InterfaceStatus(up *bool) devices.InterfaceStatus {
	switch {
	case up == nil:
		return devices.InterfaceUnknown
	case *up:
		return devices.InterfaceUp
	default:
		return devices.InterfaceDown
	}
}

// OperationalStatus maps a device status string: connected and upgrading are
// up, anything else is down.
func OperationalStatus(status string) int {
	if status == "connected" || status == "upgrading" {
		return devices.StatusUp
	}
	return devices.StatusDown
}
