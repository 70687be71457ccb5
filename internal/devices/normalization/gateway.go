package normalization

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/lvonguyen/mistsync/internal/devices"
	"github.com/lvonguyen/mistsync/internal/devices/ingestion"
)

// node1FPC is the fpc slot of the secondary node per SRX family. Cluster
// node 1 interfaces are numbered from this slot.
var node1FPC = map[string]int{
	"SRX300":  1,
	"SRX320":  3,
	"SRX340":  5,
	"SRX345":  5,
	"SRX380":  5,
	"SRX1500": 7,
	"SRX550M": 9,
}

const ssrVendorPrefix = "Juniper Networks Inc."

// GatewayProcessor handles standalone gateways and HA clusters.
type GatewayProcessor struct {
	enricher      *Enricher
	decoder       *InterfaceDecoder
	discriminator string
	logger        *zap.Logger
}

// NewGatewayProcessor creates a new gateway processor.
func NewGatewayProcessor(enricher *Enricher, decoder *InterfaceDecoder, discriminator string, logger *zap.Logger) *GatewayProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GatewayProcessor{
		enricher:      enricher,
		decoder:       decoder,
		discriminator: checkDiscriminator(discriminator, "gateway", logger),
		logger:        logger,
	}
}

// Process implements Processor. Node 0 is always produced; a failure while
// building node 1 is returned alongside node 0.
func (p *GatewayProcessor) Process(item *ingestion.DeviceItem, resolve Resolver) ([]*devices.Device, error) {
	node0 := p.node0(item, resolve)
	if !item.IsHA {
		return []*devices.Device{node0}, nil
	}

	node1, err := p.node1(item, node0, resolve)
	if err != nil {
		return []*devices.Device{node0}, fmt.Errorf("node 1 of %s: %w", item.Serial, err)
	}
	return []*devices.Device{node0, node1}, nil
}

func (p *GatewayProcessor) node0(item *ingestion.DeviceItem, resolve Resolver) *devices.Device {
	ms := item.ModuleStat.First()

	ident := item.Identity
	if ms.Serial != "" {
		ident.Serial = ms.Serial
	}
	if ms.MAC != "" {
		ident.MAC = ms.MAC
	}
	if model := DetectHardwareModel(ms); model != "" {
		ident.Model = model
	}

	d := resolve(ident)
	p.enricher.Enrich(d, item)
	p.overlayModule(d, ms, item.IsHA, 0)
	d.Stack = item.IsHA
	d.FPCIndex = 0
	d.Model = ident.Model
	d.Interfaces = p.decoder.Decode(item.IfStat, d.FPCIndex, d.Model)

	return d
}

func (p *GatewayProcessor) node1(item *ingestion.DeviceItem, node0 *devices.Device, resolve Resolver) (*devices.Device, error) {
	ms := item.Module2Stat.First()
	if ms.Serial == "" {
		return nil, fmt.Errorf("%w: module2_stat serial", ingestion.ErrMissingField)
	}

	ident := item.Identity
	ident.Serial = ms.Serial
	ident.MAC = ms.MAC
	if ident.MAC == "" {
		ident.MAC = item.HAPeerMAC
	}
	ident.Name = ""
	if model := DetectHardwareModel(ms); model != "" {
		ident.Model = model
	}

	d := resolve(ident)
	p.enricher.Enrich(d, item)
	p.overlayModule(d, ms, true, 1)
	if d.MAC == "" {
		d.MAC = item.HAPeerMAC
	}
	if d.Name == "" || d.Name == ident.MAC {
		d.Name = nodeName(item, d)
	}
	d.Stack = true
	d.ClusterPrimaryMAC = node0.MAC
	d.Model = ident.Model
	d.FPCIndex = 1
	if fpc, ok := node1FPC[d.Model]; ok {
		d.FPCIndex = fpc
	}
	d.AddAttribute(devices.AttrAssigned)

	stats := item.If2Stat
	if stats == nil {
		stats = item.IfStat
	}
	d.Interfaces = p.decoder.Decode(stats, d.FPCIndex, d.Model)
	d.Name += discriminatorSuffix(p.discriminator, d, "node1")

	return d, nil
}

// overlayModule applies the per-node cluster role. Version and uptime stay
// at the device-level values set by the enricher.
func (p *GatewayProcessor) overlayModule(d *devices.Device, ms ingestion.ModuleStat, cluster bool, node int) {
	if ms.VCState != "" {
		d.StackState = ms.VCState
	}
	if ms.VCRole != "" {
		d.StackMode = ms.VCRole
	} else if cluster {
		d.StackMode = fmt.Sprintf("node_%d", node)
	}
}

// nodeName is the base name of the secondary node: the cluster name when the
// item has one, else the node MAC.
func nodeName(item *ingestion.DeviceItem, d *devices.Device) string {
	if item.Name != "" {
		return item.Name
	}
	return d.MAC
}

// DetectHardwareModel resolves the model of a gateway module. SSR modules
// report a generic "SSR" model, so the platform is taken from the vendor
// hardware string instead.
func DetectHardwareModel(ms ingestion.ModuleStat) string {
	if ms.Model != "SSR" || ms.HardwareModel == "" {
		return ms.Model
	}
	hw := ms.HardwareModel
	if strings.HasPrefix(hw, ssrVendorPrefix) {
		if i := strings.Index(hw, "SSR"); i >= 0 {
			return strings.Replace(hw[i:], ")", "", 1)
		}
	}
	return "SSR (" + hw + ")"
}
