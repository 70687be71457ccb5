package normalization

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/lvonguyen/mistsync/internal/devices"
	"github.com/lvonguyen/mistsync/internal/devices/ingestion"
)

var testSites = devices.SiteLookup{
	"site-1": {ID: "site-1", OrgID: "org-1", Name: "HQ"},
}

func newTestEngine(t *testing.T, mutate func(*Config)) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	return NewEngine(cfg, testSites, zaptest.NewLogger(t))
}

func stream(raws ...string) *ingestion.SliceStream {
	items := make([][]byte, len(raws))
	for i, r := range raws {
		items[i] = []byte(r)
	}
	return ingestion.NewSliceStream(items, nil)
}

func runDetail(t *testing.T, e *Engine, raws ...string) PassReport {
	t.Helper()
	return e.DetailPass(context.Background(), devices.DeviceTypeAll, stream(raws...))
}

func mustDevice(t *testing.T, e *Engine, serial string) *devices.Device {
	t.Helper()
	d, ok := e.Device(serial)
	require.True(t, ok, "device %s not held", serial)
	return d
}

func moduleStat(model, hw string) ingestion.ModuleStat {
	return ingestion.ModuleStat{Model: model, HardwareModel: hw}
}

func interfaceNames(d *devices.Device) []string {
	names := make([]string, 0, len(d.Interfaces))
	for _, i := range d.Interfaces {
		names = append(names, i.InterfaceName)
	}
	return names
}

const apItem = `{
	"id": "dev-ap", "org_id": "org-1", "site_id": "site-1", "map_id": "map-1",
	"type": "ap", "model": "AP43", "mac": "cc0000000001", "serial": "AP1",
	"name": "lobby", "status": "connected", "last_seen": 1700000000,
	"uptime": 3600, "version": "0.14.29", "ip": "10.1.1.5",
	"ip_stat": {"ip": "10.1.1.5", "netmask": "255.255.255.0", "gateway": "10.1.1.1"},
	"port_stat": {"eth0": {"up": true}, "eth1": {"up": false}}
}`

const stackItem = `{
	"id": "dev-sw", "org_id": "org-1", "site_id": "site-1",
	"type": "switch", "model": "EX4300-48P", "mac": "aa0000000000", "vc_mac": "aa0000000000",
	"serial": "SW0", "name": "core", "status": "connected", "last_seen": 1700000000,
	"version": "21.4R3",
	"module_stat": [
		{"serial": "SW0", "mac": "aa0000000000", "model": "EX4300-48P", "fpc_idx": 0,
		 "vc_role": "master", "vc_state": "present", "version": "21.4R3-S1"},
		{"serial": "SW1", "mac": "aa0000000001", "model": "EX4300-48P", "fpc_idx": 1,
		 "vc_role": "backup", "vc_state": "present"},
		{"serial": "SW2", "mac": "aa0000000002", "model": "EX4300-48P", "fpc_idx": 2,
		 "vc_role": "linecard", "vc_state": "not-present"}
	],
	"if_stat": {
		"ge-0/0/0.0": {"port_id": "ge-0/0/0", "up": true},
		"ge-1/0/0.0": {"port_id": "ge-1/0/0", "up": false},
		"ge-0/0/1.0": {"port_id": "ge-0/0/1", "up": true, "ips": ["10.2.0.1/24"]},
		"ge-2/0/0.0": {"port_id": "ge-2/0/0"}
	}
}`

const haGatewayItem = `{
	"id": "dev-gw", "org_id": "org-1", "site_id": "site-1",
	"type": "gateway", "model": "SRX340", "mac": "bb0000000000", "serial": "GW0",
	"name": "edge", "status": "connected", "last_seen": 1700000000,
	"version": "22.4R3", "uptime": 7200,
	"is_ha": true, "ha_peer_mac": "bb0000000001",
	"module_stat": [{"serial": "GW0", "mac": "bb0000000000", "model": "SRX340", "version": "22.4R1", "uptime": 10}],
	"module2_stat": [{"serial": "GW1", "model": "SRX340", "version": "22.4R1", "uptime": 20}],
	"if_stat": {
		"ge-0/0/0.0": {"port_id": "ge-0/0/0", "up": true},
		"ge-5/0/0.0": {"port_id": "ge-5/0/0", "up": true}
	}
}`

// =============================================================================
// Access Point Tests
// =============================================================================

// TestAccessPoint_Process verifies runtime fields and flat ports.
func TestAccessPoint_Process(t *testing.T) {
	e := newTestEngine(t, nil)

	report := runDetail(t, e, apItem)

	assert.Equal(t, 1, report.Produced)
	assert.Empty(t, report.Skipped)

	d := mustDevice(t, e, "AP1")
	assert.Equal(t, "lobby", d.Name)
	assert.Equal(t, DefaultCIClassAP, d.CIClass)
	assert.Equal(t, "0.14.29", d.Version)
	assert.Equal(t, float64(3600), d.Uptime)
	assert.Equal(t, "10.1.1.5", d.IPAddress)
	assert.Equal(t, "255.255.255.0", d.Netmask)
	assert.Equal(t, "10.1.1.1", d.DefaultGateway)
	assert.Equal(t, devices.StatusUp, d.OperationalStatus)
	assert.Equal(t, []string{"eth0", "eth1"}, interfaceNames(d))
	assert.True(t, d.HasAttribute(devices.AttrAssigned))
	assert.True(t, d.HasAttribute(devices.AttrDiscovered))
	require.NotNil(t, d.Site)
	assert.Equal(t, "HQ", d.Site.Name)
}

// TestAccessPoint_NeverSeen verifies a zero last_seen leaves the record
// undiscovered and unbound sites fall back to the nil site id.
func TestAccessPoint_NeverSeen(t *testing.T) {
	e := newTestEngine(t, nil)

	runDetail(t, e, `{"type": "ap", "serial": "AP9", "mac": "cc0000000009", "model": "AP12", "last_seen": 0}`)

	d := mustDevice(t, e, "AP9")
	assert.False(t, d.HasAttribute(devices.AttrDiscovered))
	assert.False(t, d.HasAttribute(devices.AttrAssigned))
	assert.Equal(t, devices.NilSiteID, d.SiteID)
	assert.Equal(t, "cc0000000009", d.Name)
	assert.Equal(t, devices.StatusDown, d.OperationalStatus)
	assert.NotNil(t, d.Interfaces)
}

// =============================================================================
// Switch Tests
// =============================================================================

// TestSwitch_StackMembers verifies one record per member with interfaces
// limited to each member's own slot.
func TestSwitch_StackMembers(t *testing.T) {
	e := newTestEngine(t, nil)

	report := runDetail(t, e, stackItem)

	assert.Equal(t, 3, report.Produced)
	assert.Equal(t, []string{"SW0", "SW1", "SW2"}, e.Serials())

	sw0 := mustDevice(t, e, "SW0")
	sw1 := mustDevice(t, e, "SW1")
	sw2 := mustDevice(t, e, "SW2")

	assert.Equal(t, []string{"ge-0/0/0.0", "ge-0/0/1.0"}, interfaceNames(sw0))
	assert.Equal(t, []string{"ge-1/0/0.0"}, interfaceNames(sw1))
	assert.Equal(t, []string{"ge-2/0/0.0"}, interfaceNames(sw2))

	assert.Equal(t, 0, sw0.FPCIndex)
	assert.Equal(t, 1, sw1.FPCIndex)
	assert.Equal(t, 2, sw2.FPCIndex)

	for _, d := range []*devices.Device{sw0, sw1, sw2} {
		assert.True(t, d.Stack, d.Serial)
		assert.Equal(t, DefaultCIClassSwitch, d.CIClass)
	}
}

// TestSwitch_StackLinking verifies primary MAC, name suffixes and the
// membership attributes on the member that carries the device MAC.
func TestSwitch_StackLinking(t *testing.T) {
	e := newTestEngine(t, nil)
	runDetail(t, e, stackItem)

	sw0 := mustDevice(t, e, "SW0")
	sw1 := mustDevice(t, e, "SW1")
	sw2 := mustDevice(t, e, "SW2")

	assert.Equal(t, devices.StackModeMaster, sw0.StackMode)
	assert.Empty(t, sw0.ClusterPrimaryMAC)
	assert.Equal(t, "aa0000000000", sw1.ClusterPrimaryMAC)
	assert.Equal(t, "aa0000000000", sw2.ClusterPrimaryMAC)

	assert.Equal(t, "core", sw0.Name)
	assert.Equal(t, "core (fpc1)", sw1.Name)
	assert.Equal(t, "core (fpc2)", sw2.Name)

	assert.True(t, sw0.HasAttribute("fpc_0=aa0000000000"))
	assert.True(t, sw0.HasAttribute("fpc_1=aa0000000001"))
	assert.True(t, sw0.HasAttribute("fpc_2=aa0000000002"))
	assert.False(t, sw1.HasAttribute("fpc_0=aa0000000000"))

	assert.True(t, sw0.HasAttribute(devices.AttrMistDevice))
	assert.False(t, sw1.HasAttribute(devices.AttrMistDevice))
}

// TestSwitch_ModuleOverlay verifies module version wins over the item
// version and the item version applies when the module has none.
func TestSwitch_ModuleOverlay(t *testing.T) {
	e := newTestEngine(t, nil)
	runDetail(t, e, stackItem)

	assert.Equal(t, "21.4R3-S1", mustDevice(t, e, "SW0").Version)
	assert.Equal(t, "21.4R3", mustDevice(t, e, "SW1").Version)
	assert.Equal(t, "backup", mustDevice(t, e, "SW1").StackMode)
	assert.Equal(t, "present", mustDevice(t, e, "SW1").StackState)
}

// TestSwitch_NotPresentMember verifies an absent member is marked down.
func TestSwitch_NotPresentMember(t *testing.T) {
	e := newTestEngine(t, nil)
	runDetail(t, e, stackItem)

	sw2 := mustDevice(t, e, "SW2")
	assert.Equal(t, devices.StackModeNotPresent, sw2.StackMode)
	assert.Equal(t, devices.StackModeNotPresent, sw2.StackState)
	assert.Equal(t, devices.StatusDown, sw2.OperationalStatus)

	assert.Equal(t, devices.StatusUp, mustDevice(t, e, "SW1").OperationalStatus)
}

// TestSwitch_Discriminators verifies each configured suffix form.
func TestSwitch_Discriminators(t *testing.T) {
	tests := []struct {
		mode string
		want string
	}{
		{DiscriminatorSlot, "core (fpc1)"},
		{DiscriminatorMAC, "core (aa0000000001)"},
		{DiscriminatorSerial, "core (SW1)"},
		{"bogus", "core (fpc1)"},
	}

	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			e := newTestEngine(t, func(c *Config) { c.SwitchDiscriminator = tt.mode })
			runDetail(t, e, stackItem)
			assert.Equal(t, tt.want, mustDevice(t, e, "SW1").Name)
		})
	}
}

// TestSwitch_Standalone verifies a single module entry is not a stack.
func TestSwitch_Standalone(t *testing.T) {
	e := newTestEngine(t, nil)

	runDetail(t, e, `{
		"type": "switch", "model": "EX2300-C", "mac": "aa0000000100", "serial": "SWA",
		"name": "closet", "status": "connected", "last_seen": 1700000000,
		"module_stat": [{"serial": "SWA", "mac": "aa0000000100", "fpc_idx": 0, "vc_role": "master"}],
		"if_stat": {"ge-0/0/4.0": {"port_id": "ge-0/0/4"}}
	}`)

	d := mustDevice(t, e, "SWA")
	assert.False(t, d.Stack)
	assert.Empty(t, d.StackMode)
	assert.Equal(t, "closet", d.Name)
	assert.Equal(t, []string{"ge-0/0/4.0"}, interfaceNames(d))
}

// TestSwitch_ModuleObject verifies a single-object module_stat is one member.
func TestSwitch_ModuleObject(t *testing.T) {
	e := newTestEngine(t, nil)

	report := runDetail(t, e, `{
		"type": "switch", "model": "EX2300", "mac": "aa0000000200", "serial": "SWB",
		"module_stat": {"serial": "SWB", "fpc_idx": 0, "version": "20.2R3"}
	}`)

	assert.Equal(t, 1, report.Produced)
	d := mustDevice(t, e, "SWB")
	assert.False(t, d.Stack)
	assert.Equal(t, "20.2R3", d.Version)
}

// TestSwitch_MemberWithoutSerial verifies members lacking a serial are
// reported while the rest of the stack is kept.
func TestSwitch_MemberWithoutSerial(t *testing.T) {
	e := newTestEngine(t, nil)

	report := runDetail(t, e, `{
		"type": "switch", "model": "EX4300", "mac": "aa0000000300", "serial": "SWC", "name": "dist",
		"module_stat": [
			{"serial": "SWC", "mac": "aa0000000300", "fpc_idx": 0, "vc_role": "master"},
			{"fpc_idx": 1, "vc_state": "present", "vc_role": "backup"}
		]
	}`)

	assert.Equal(t, 1, report.Produced)
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, "SWC", report.Skipped[0].Serial)
	assert.Equal(t, 1, e.Len())
	assert.True(t, mustDevice(t, e, "SWC").Stack)
}

// TestSwitch_EmptySlotWithoutSerial verifies an absent slot with no serial
// still yields a down, not-present member named after the chassis.
func TestSwitch_EmptySlotWithoutSerial(t *testing.T) {
	e := newTestEngine(t, nil)

	report := runDetail(t, e, `{
		"type": "switch", "model": "EX4300", "mac": "aa0000000500", "serial": "SWD", "name": "edge",
		"status": "connected", "last_seen": 1700000000,
		"module_stat": [
			{"serial": "SWD", "mac": "aa0000000500", "fpc_idx": 0, "vc_role": "master"},
			{"fpc_idx": 2, "vc_state": "not-present"}
		]
	}`)

	assert.Equal(t, 2, report.Produced)
	assert.Empty(t, report.Skipped)

	slot := mustDevice(t, e, "SWD-fpc2")
	assert.Equal(t, devices.StackModeNotPresent, slot.StackMode)
	assert.Equal(t, devices.StatusDown, slot.OperationalStatus)
	assert.Equal(t, 2, slot.FPCIndex)
	assert.Empty(t, slot.MAC)
	assert.Equal(t, "edge (fpc2)", slot.Name)
	assert.Equal(t, "aa0000000500", slot.ClusterPrimaryMAC)

	assert.Equal(t, "edge", mustDevice(t, e, "SWD").Name)
}

// TestSwitch_Virtual verifies virtual images take the slot from the module
// list and stay a single record.
func TestSwitch_Virtual(t *testing.T) {
	e := newTestEngine(t, nil)

	report := runDetail(t, e, `{
		"type": "switch", "model": "EX9214", "mac": "aa0000000400", "serial": "VSW",
		"version": "21.2R1",
		"module_stat": [{"fpc_idx": 0}, {"fpc_idx": 4, "version": "22.1R1"}],
		"if_stat": {
			"ge-0/0/0.0": {"port_id": "ge-0/0/0"},
			"ge-4/0/0.0": {"port_id": "ge-4/0/0"}
		}
	}`)

	assert.Equal(t, 1, report.Produced)
	d := mustDevice(t, e, "VSW")
	assert.Equal(t, 4, d.FPCIndex)
	assert.Equal(t, "22.1R1", d.Version)
	assert.False(t, d.Stack)
	assert.Equal(t, []string{"ge-4/0/0.0"}, interfaceNames(d))
}

// =============================================================================
// Gateway Tests
// =============================================================================

// TestGateway_Standalone verifies a single node is produced.
func TestGateway_Standalone(t *testing.T) {
	e := newTestEngine(t, nil)

	report := runDetail(t, e, `{
		"type": "gateway", "model": "SRX300", "mac": "bb0000000100", "serial": "GWA", "name": "branch",
		"module_stat": [{"serial": "GWA", "model": "SRX300"}],
		"if_stat": {"ge-0/0/1.0": {"port_id": "ge-0/0/1", "ips": ["192.0.2.1/29"]}}
	}`)

	assert.Equal(t, 1, report.Produced)
	d := mustDevice(t, e, "GWA")
	assert.False(t, d.Stack)
	assert.Empty(t, d.StackMode)
	assert.Equal(t, DefaultCIClassSRX, d.CIClass)
	require.Len(t, d.Interfaces, 1)
	assert.Equal(t, "255.255.255.248", d.Interfaces[0].Netmask)
}

// TestGateway_HACluster verifies node 1 takes the family slot, the peer MAC
// and a suffixed cluster name.
func TestGateway_HACluster(t *testing.T) {
	e := newTestEngine(t, nil)

	report := runDetail(t, e, haGatewayItem)
	assert.Equal(t, 2, report.Produced)
	assert.Empty(t, report.Skipped)

	node0 := mustDevice(t, e, "GW0")
	node1 := mustDevice(t, e, "GW1")

	assert.True(t, node0.Stack)
	assert.Equal(t, "node_0", node0.StackMode)
	assert.Equal(t, 0, node0.FPCIndex)
	assert.Equal(t, "edge", node0.Name)
	assert.Equal(t, "22.4R3", node0.Version)
	assert.Equal(t, float64(7200), node0.Uptime)
	assert.Equal(t, []string{"ge-0/0/0.0"}, interfaceNames(node0))

	assert.True(t, node1.Stack)
	assert.Equal(t, "node_1", node1.StackMode)
	assert.Equal(t, 5, node1.FPCIndex)
	assert.Equal(t, "bb0000000001", node1.MAC)
	assert.Equal(t, "bb0000000000", node1.ClusterPrimaryMAC)
	assert.Equal(t, "edge (node1)", node1.Name)
	assert.Equal(t, "22.4R3", node1.Version)
	assert.Equal(t, float64(7200), node1.Uptime)
	assert.True(t, node1.HasAttribute(devices.AttrAssigned))
	assert.Equal(t, []string{"ge-5/0/0.0"}, interfaceNames(node1))
}

// TestGateway_HAUsesSecondaryStats verifies if2_stat wins when present.
func TestGateway_HAUsesSecondaryStats(t *testing.T) {
	e := newTestEngine(t, nil)

	runDetail(t, e, `{
		"type": "gateway", "model": "SRX1500", "mac": "bb0000000200", "serial": "GWB", "name": "dc",
		"is_ha": true,
		"module_stat": [{"serial": "GWB", "model": "SRX1500"}],
		"module2_stat": [{"serial": "GWC", "mac": "bb0000000201", "model": "SRX1500"}],
		"if_stat": {"ge-7/0/1.0": {"port_id": "ge-7/0/1"}},
		"if2_stat": {"ge-7/0/3.0": {"port_id": "ge-7/0/3"}}
	}`)

	node1 := mustDevice(t, e, "GWC")
	assert.Equal(t, 7, node1.FPCIndex)
	assert.Equal(t, "bb0000000201", node1.MAC)
	assert.Equal(t, []string{"ge-7/0/3.0"}, interfaceNames(node1))
}

// TestGateway_Node1WithoutSerial verifies node 0 survives a broken node 1.
func TestGateway_Node1WithoutSerial(t *testing.T) {
	e := newTestEngine(t, nil)

	report := runDetail(t, e, `{
		"type": "gateway", "model": "SRX345", "mac": "bb0000000300", "serial": "GWD",
		"is_ha": true, "module_stat": [{"serial": "GWD"}], "module2_stat": []
	}`)

	assert.Equal(t, 1, report.Produced)
	require.Len(t, report.Skipped, 1)
	assert.Contains(t, report.Skipped[0].Reason, "node 1")
	assert.Equal(t, 1, e.Len())
	assert.True(t, mustDevice(t, e, "GWD").Stack)
}

// TestGateway_SSRModel verifies the platform is read from hardware_model and
// interfaces bypass slot filtering.
func TestGateway_SSRModel(t *testing.T) {
	e := newTestEngine(t, nil)

	runDetail(t, e, `{
		"type": "gateway", "model": "SSR", "mac": "bb0000000400", "serial": "SSR0",
		"module_stat": [{"serial": "SSR0", "model": "SSR", "hardware_model": "Juniper Networks Inc. (SSR120)"}],
		"if_stat": {"ge-0/0/0": {"port_id": "ge-0/0/0"}, "ge-1/0/0": {"port_id": "ge-1/0/0"}}
	}`)

	d := mustDevice(t, e, "SSR0")
	assert.Equal(t, "SSR120", d.Model)
	assert.Equal(t, DefaultCIClassSSR, d.CIClass)
	assert.Len(t, d.Interfaces, 2)
}
