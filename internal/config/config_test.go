package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lvonguyen/mistsync/internal/devices"
	"github.com/lvonguyen/mistsync/internal/devices/normalization"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// =============================================================================
// Load Tests
// =============================================================================

// TestLoad_OverridesDefaults verifies file values replace defaults and
// unset values keep them.
func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
mist:
  org_id: 6748cfa6-4e12-11e6-9188-0242ac110007
  page_limit: 50
sync:
  interval: 15m
  sync_aps: false
  site_ids:
    - 978c48e6-6ef6-11e6-8bbf-02e208b2d34f
  device_status: claimed
  switch_vc_discriminator: MAC Address
ci_classes:
  switch: "u_cmdb_ci_switch (Switch)"
alarms:
  groups: [marvis, infrastructure]
  event_types:
    port_flap:
      enabled: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 50, cfg.Mist.PageLimit)
	assert.Equal(t, "MIST_API_TOKEN", cfg.Mist.APITokenEnv)
	assert.Equal(t, 15*time.Minute, cfg.Sync.Interval)
	assert.Equal(t, normalization.DiscriminatorMAC, cfg.Sync.SwitchVCDiscriminator)
	assert.Equal(t, normalization.DiscriminatorSlot, cfg.Sync.GatewayClusterDiscriminator)
	assert.Equal(t, "u_cmdb_ci_switch (Switch)", cfg.CIClasses.Switch)
	assert.Equal(t, normalization.DefaultCIClassAP, cfg.CIClasses.AP)
	assert.Equal(t, []string{"marvis", "infrastructure"}, cfg.Alarms.Groups)

	assert.False(t, cfg.Alarms.EventTypes["port_flap"].Enabled)
	assert.True(t, cfg.Alarms.EventTypes["dns_failure"].Enabled)
	assert.Equal(t, normalization.Visibility{Claimed: true, Assigned: true}, cfg.Visibility())
}

// TestLoad_Errors verifies read, parse and validation failures.
func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")

	_, err = Load(writeConfig(t, "server: [\n"))
	assert.ErrorContains(t, err, "failed to parse config")

	_, err = Load(writeConfig(t, "sync:\n  site_ids: [not-a-uuid]\n"))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = Load(writeConfig(t, "mist:\n  org_id: org-1\n"))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = Load(writeConfig(t, "sync:\n  device_mac: zz\n"))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

// =============================================================================
// Derived Settings Tests
// =============================================================================

// TestSyncDeviceTypes verifies the class pass selection.
func TestSyncDeviceTypes(t *testing.T) {
	all := []devices.DeviceType{devices.DeviceTypeAll}

	tests := []struct {
		name                   string
		aps, switches, gateway bool
		mac                    string
		want                   []devices.DeviceType
	}{
		{name: "every class", aps: true, switches: true, gateway: true, want: all},
		{name: "no class", want: all},
		{name: "aps only", aps: true, want: []devices.DeviceType{devices.DeviceTypeAP}},
		{
			name: "switches and gateways", switches: true, gateway: true,
			want: []devices.DeviceType{devices.DeviceTypeSwitch, devices.DeviceTypeGateway},
		},
		{name: "single device", aps: true, mac: "5c5b35000001", want: all},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Sync.SyncAPs = tt.aps
			cfg.Sync.SyncSwitches = tt.switches
			cfg.Sync.SyncGateways = tt.gateway
			cfg.Sync.DeviceMAC = tt.mac
			assert.Equal(t, tt.want, cfg.SyncDeviceTypes())
		})
	}
}

// TestVisibility verifies the device status mapping.
func TestVisibility(t *testing.T) {
	tests := map[string]normalization.Visibility{
		"claimed":  {Claimed: true, Assigned: true},
		"assigned": {Assigned: true},
		"":         {},
		"seen":     {},
	}
	for status, want := range tests {
		cfg := DefaultConfig()
		cfg.Sync.DeviceStatus = status
		assert.Equal(t, want, cfg.Visibility(), status)
	}
}

// TestPlan verifies a requested MAC forces a single "all" pass.
func TestPlan(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sync.SyncAPs = false
	cfg.Sync.SiteIDs = []string{"978c48e6-6ef6-11e6-8bbf-02e208b2d34f"}

	plan := cfg.Plan("")
	assert.Equal(t, []devices.DeviceType{devices.DeviceTypeSwitch, devices.DeviceTypeGateway}, plan.Types)
	assert.Empty(t, plan.DeviceMAC)
	assert.True(t, plan.Sites.Contains("978c48e6-6ef6-11e6-8bbf-02e208b2d34f"))

	plan = cfg.Plan("5c5b35000001")
	assert.Equal(t, []devices.DeviceType{devices.DeviceTypeAll}, plan.Types)
	assert.Equal(t, "5c5b35000001", plan.DeviceMAC)

	cfg.Sync.DeviceMAC = "5C:5B:35:00:00:02"
	plan = cfg.Plan("")
	assert.Equal(t, "5c5b35000002", plan.DeviceMAC)
}

// TestEngineConfig verifies the normalization settings carry through.
func TestEngineConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sync.GatewayClusterDiscriminator = normalization.DiscriminatorSerial

	ec := cfg.EngineConfig()
	assert.Equal(t, normalization.DiscriminatorSerial, ec.GatewayDiscriminator)
	assert.Equal(t, []string{"EX9214", "VJUNOS"}, ec.VirtualSwitchModels)
	assert.Equal(t, normalization.Visibility{Assigned: true}, ec.Visibility)
	assert.Equal(t, []string{"marvis"}, cfg.CorrelationConfig().Groups)
	assert.Equal(t, "MIST_WEBHOOK_SECRET", cfg.WebhookConfig().SecretEnv)
}
