package normalization

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/lvonguyen/mistsync/internal/devices"
	"github.com/lvonguyen/mistsync/internal/devices/ingestion"
)

// SwitchProcessor handles standalone switches, virtual chassis stacks and
// virtual switch images.
type SwitchProcessor struct {
	enricher      *Enricher
	decoder       *InterfaceDecoder
	discriminator string
	virtualModels map[string]bool
	logger        *zap.Logger
}

// NewSwitchProcessor creates a new switch processor.
func NewSwitchProcessor(enricher *Enricher, decoder *InterfaceDecoder, discriminator string, virtualModels []string, logger *zap.Logger) *SwitchProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	models := make(map[string]bool, len(virtualModels))
	for _, m := range virtualModels {
		models[m] = true
	}
	return &SwitchProcessor{
		enricher:      enricher,
		decoder:       decoder,
		discriminator: checkDiscriminator(discriminator, "switch", logger),
		virtualModels: models,
		logger:        logger,
	}
}

// Process implements Processor.
func (p *SwitchProcessor) Process(item *ingestion.DeviceItem, resolve Resolver) ([]*devices.Device, error) {
	if p.virtualModels[item.Model] {
		return p.processVirtual(item, resolve), nil
	}
	return p.processPhysical(item, resolve)
}

// processVirtual produces the single logical member of a virtual switch. The
// module list only reports which fpc slot the image runs in.
func (p *SwitchProcessor) processVirtual(item *ingestion.DeviceItem, resolve Resolver) []*devices.Device {
	d := resolve(item.Identity)
	p.enricher.Enrich(d, item)
	d.FPCIndex = 0

	for _, ms := range item.ModuleStat.Entries {
		if ms.FPCIdx > 0 {
			d.FPCIndex = ms.FPCIdx
		}
		if ms.Version != "" {
			d.Version = ms.Version
		}
	}
	d.Interfaces = p.decoder.Decode(item.IfStat, d.FPCIndex, d.Model)

	return []*devices.Device{d}
}

// processPhysical produces one member per module entry. More than one entry
// makes a stack.
func (p *SwitchProcessor) processPhysical(item *ingestion.DeviceItem, resolve Resolver) ([]*devices.Device, error) {
	if !item.ModuleStat.IsList || len(item.ModuleStat.Entries) == 0 {
		ms := item.ModuleStat.First()
		return []*devices.Device{p.member(item, ms, false, resolve)}, nil
	}

	stack := len(item.ModuleStat.Entries) > 1
	members := make([]*devices.Device, 0, len(item.ModuleStat.Entries))
	var skipped []string

	for _, ms := range item.ModuleStat.Entries {
		if ms.Serial == "" && ms.VCState == devices.StackModeNotPresent {
			ms.Serial = fmt.Sprintf("%s-fpc%d", item.Serial, ms.FPCIdx)
		}
		if ms.Serial == "" {
			skipped = append(skipped, fmt.Sprintf("fpc%d", ms.FPCIdx))
			p.logger.Warn("skipping stack member without serial",
				zap.String("serial", item.Serial),
				zap.Int("fpc_idx", ms.FPCIdx),
				zap.String("vc_state", ms.VCState))
			continue
		}
		members = append(members, p.member(item, ms, stack, resolve))
	}

	if stack {
		p.linkStack(item, members)
	}

	if len(skipped) > 0 {
		return members, fmt.Errorf("%w: serial for stack members %v", ingestion.ErrMissingField, skipped)
	}
	return members, nil
}

// member builds one stack member. Identity comes from the module entry and
// falls back to the device item.
func (p *SwitchProcessor) member(item *ingestion.DeviceItem, ms ingestion.ModuleStat, stack bool, resolve Resolver) *devices.Device {
	ident := item.Identity
	if ms.Serial != "" {
		ident.Serial = ms.Serial
	}
	if ms.MAC != "" {
		ident.MAC = ms.MAC
	} else if ms.VCState == devices.StackModeNotPresent {
		// An empty slot must not claim the chassis MAC.
		ident.MAC = ""
	}
	if ms.Model != "" {
		ident.Model = ms.Model
	}

	d := resolve(ident)
	p.enricher.Enrich(d, item)
	d.Stack = stack
	d.FPCIndex = 0

	if stack {
		if ms.VCRole != "" {
			d.StackMode = ms.VCRole
		}
		if ms.VCState != "" {
			d.StackState = ms.VCState
		}
	}
	if ms.VCState == devices.StackModeNotPresent {
		d.StackState = ms.VCState
		d.StackMode = devices.StackModeNotPresent
		d.OperationalStatus = devices.StatusDown
	}

	if ms.FPCIdx > 0 {
		d.FPCIndex = ms.FPCIdx
	} else if ms.FPCIdx < 0 {
		p.logger.Warn("ignoring negative fpc index",
			zap.String("serial", d.Serial),
			zap.Int("fpc_idx", ms.FPCIdx))
	}
	if ms.Version != "" {
		d.Version = ms.Version
	}
	if ms.Uptime != nil {
		d.Uptime = *ms.Uptime
	}
	d.Interfaces = p.decoder.Decode(item.IfStat, d.FPCIndex, d.Model)

	return d
}

// linkStack records the primary MAC on every non-primary member and keeps
// member names unique. The member that carries the device MAC keeps its name
// and absorbs the fpc membership map instead.
func (p *SwitchProcessor) linkStack(item *ingestion.DeviceItem, members []*devices.Device) {
	var primaryMAC string
	membership := make([]string, 0, len(members))
	for _, m := range members {
		if primaryMAC == "" && m.StackMode == devices.StackModeMaster {
			primaryMAC = m.MAC
		}
		if m.MAC != "" {
			membership = append(membership, fmt.Sprintf("fpc_%d=%s", m.FPCIndex, m.MAC))
		}
	}

	for _, m := range members {
		if m.StackMode != devices.StackModeMaster {
			m.ClusterPrimaryMAC = primaryMAC
		}
		if m.MAC != item.MAC {
			m.Name += discriminatorSuffix(p.discriminator, m, fmt.Sprintf("fpc%d", m.FPCIndex))
			continue
		}
		for _, attr := range membership {
			m.AddAttribute(attr)
		}
	}
}

// discriminatorSuffix returns the " (<value>)" name suffix for a member.
func discriminatorSuffix(mode string, d *devices.Device, slot string) string {
	switch mode {
	case DiscriminatorMAC:
		return " (" + d.MAC + ")"
	case DiscriminatorSerial:
		return " (" + d.Serial + ")"
	default:
		return " (" + slot + ")"
	}
}

// checkDiscriminator validates a configured discriminator, falling back to
// the slot form.
func checkDiscriminator(mode, scope string, logger *zap.Logger) string {
	switch mode {
	case DiscriminatorMAC, DiscriminatorSerial, DiscriminatorSlot:
		return mode
	case "":
		return DiscriminatorSlot
	}
	logger.Warn("unknown discriminator, using slot",
		zap.String("scope", scope),
		zap.String("configured", mode))
	return DiscriminatorSlot
}
