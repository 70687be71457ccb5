// Package config provides configuration management for mistsync.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/lvonguyen/mistsync/internal/api/gateway"
	"github.com/lvonguyen/mistsync/internal/devices"
	"github.com/lvonguyen/mistsync/internal/devices/correlation"
	"github.com/lvonguyen/mistsync/internal/devices/ingestion"
	"github.com/lvonguyen/mistsync/internal/devices/normalization"
	"github.com/lvonguyen/mistsync/internal/export"
	"github.com/lvonguyen/mistsync/internal/observability"
	"github.com/lvonguyen/mistsync/internal/webhook"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds all mistsync configuration.
type Config struct {
	Server        ServerConfig            `yaml:"server"`
	Redis         RedisConfig             `yaml:"redis"`
	Mist          ingestion.ClientConfig  `yaml:"mist"`
	Sync          SyncConfig              `yaml:"sync"`
	CIClasses     normalization.CIClasses `yaml:"ci_classes"`
	CMDB          export.Config           `yaml:"cmdb"`
	Alarms        AlarmsConfig            `yaml:"alarms"`
	RateLimit     gateway.RateLimitConfig `yaml:"rate_limit"`
	Logging       LoggingConfig           `yaml:"logging"`
	Observability observability.Config    `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// RedisConfig holds Redis connection settings. An empty Addr keeps all
// state in memory.
type RedisConfig struct {
	Addr        string `yaml:"addr"`
	PasswordEnv string `yaml:"password_env"`
	DB          int    `yaml:"db"`
	PoolSize    int    `yaml:"pool_size"`
	KeyPrefix   string `yaml:"key_prefix"`
}

// SyncConfig selects what a sync run reads and how records are built.
type SyncConfig struct {
	Interval     time.Duration `yaml:"interval"`
	SyncAPs      bool          `yaml:"sync_aps"`
	SyncSwitches bool          `yaml:"sync_switches"`
	SyncGateways bool          `yaml:"sync_gateways"`
	// DeviceMAC restricts every run to one device.
	DeviceMAC string   `yaml:"device_mac"`
	SiteIDs   []string `yaml:"site_ids"`
	// DeviceStatus is claimed, assigned or anything else for strict.
	DeviceStatus                string   `yaml:"device_status"`
	SwitchVCDiscriminator       string   `yaml:"switch_vc_discriminator"`
	GatewayClusterDiscriminator string   `yaml:"gateway_cluster_discriminator"`
	VirtualSwitchModels         []string `yaml:"virtual_switch_models"`
	Export                      bool     `yaml:"export"`
}

// AlarmsConfig holds webhook and ticketing settings.
type AlarmsConfig struct {
	Enabled          bool                                     `yaml:"enabled"`
	WebhookSecretEnv string                                   `yaml:"webhook_secret_env"`
	MaxBodySize      int64                                    `yaml:"max_body_size"`
	Groups           []string                                 `yaml:"groups"`
	EventTypes       map[string]correlation.EventTypeSettings `yaml:"event_types"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	normDefaults := normalization.DefaultConfig()
	corrDefaults := correlation.DefaultConfig()
	webhookDefaults := webhook.DefaultConfig()

	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			DB:        0,
			PoolSize:  10,
			KeyPrefix: "mistsync",
		},
		Mist: ingestion.DefaultClientConfig(),
		Sync: SyncConfig{
			Interval:                    time.Hour,
			SyncAPs:                     true,
			SyncSwitches:                true,
			SyncGateways:                true,
			DeviceStatus:                "assigned",
			SwitchVCDiscriminator:       normalization.DiscriminatorSlot,
			GatewayClusterDiscriminator: normalization.DiscriminatorSlot,
			VirtualSwitchModels:         normDefaults.VirtualSwitchModels,
			Export:                      true,
		},
		CIClasses: normalization.DefaultCIClasses(),
		CMDB:      export.DefaultConfig(),
		Alarms: AlarmsConfig{
			Enabled:          true,
			WebhookSecretEnv: webhookDefaults.SecretEnv,
			MaxBodySize:      webhookDefaults.MaxBodySize,
			Groups:           corrDefaults.Groups,
			EventTypes:       corrDefaults.EventTypes,
		},
		RateLimit: gateway.DefaultConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Observability: observability.DefaultConfig(),
	}
}

// Validate checks identifiers that would otherwise fail at request time.
func (c *Config) Validate() error {
	if c.Mist.OrgID != "" {
		if _, err := uuid.Parse(c.Mist.OrgID); err != nil {
			return fmt.Errorf("%w: mist.org_id %q is not a UUID", ErrInvalidConfig, c.Mist.OrgID)
		}
	}
	for _, id := range c.Sync.SiteIDs {
		if _, err := uuid.Parse(id); err != nil {
			return fmt.Errorf("%w: sync.site_ids entry %q is not a UUID", ErrInvalidConfig, id)
		}
	}
	if c.Sync.DeviceMAC != "" && devices.CompactMAC(c.Sync.DeviceMAC) == "" {
		return fmt.Errorf("%w: sync.device_mac %q is not a MAC address", ErrInvalidConfig, c.Sync.DeviceMAC)
	}
	return nil
}

// SyncDeviceTypes returns the class passes of a run. A single-device sync,
// and selecting no class or every class, all read "all".
func (c *Config) SyncDeviceTypes() []devices.DeviceType {
	all := []devices.DeviceType{devices.DeviceTypeAll}
	if strings.TrimSpace(c.Sync.DeviceMAC) != "" {
		return all
	}

	var types []devices.DeviceType
	if c.Sync.SyncAPs {
		types = append(types, devices.DeviceTypeAP)
	}
	if c.Sync.SyncSwitches {
		types = append(types, devices.DeviceTypeSwitch)
	}
	if c.Sync.SyncGateways {
		types = append(types, devices.DeviceTypeGateway)
	}
	if len(types) == 0 || len(types) == 3 {
		return all
	}
	return types
}

// Visibility returns the emission gate for the configured device status.
func (c *Config) Visibility() normalization.Visibility {
	return normalization.VisibilityFromStatus(c.Sync.DeviceStatus)
}

// EngineConfig returns the normalization settings.
func (c *Config) EngineConfig() normalization.Config {
	return normalization.Config{
		CIClasses:            c.CIClasses,
		SwitchDiscriminator:  c.Sync.SwitchVCDiscriminator,
		GatewayDiscriminator: c.Sync.GatewayClusterDiscriminator,
		VirtualSwitchModels:  c.Sync.VirtualSwitchModels,
		Visibility:           c.Visibility(),
	}
}

// Plan returns the read plan of a run. A non-empty deviceMAC overrides the
// configured one.
func (c *Config) Plan(deviceMAC string) normalization.Plan {
	if deviceMAC == "" {
		deviceMAC = devices.CompactMAC(c.Sync.DeviceMAC)
	}
	plan := normalization.Plan{
		Types:     c.SyncDeviceTypes(),
		DeviceMAC: deviceMAC,
		Sites:     ingestion.SiteFilter(c.Sync.SiteIDs),
	}
	if deviceMAC != "" {
		plan.Types = []devices.DeviceType{devices.DeviceTypeAll}
	}
	return plan
}

// CorrelationConfig returns the correlator settings.
func (c *Config) CorrelationConfig() correlation.Config {
	return correlation.Config{
		Groups:     c.Alarms.Groups,
		EventTypes: c.Alarms.EventTypes,
	}
}

// WebhookConfig returns the receiver settings.
func (c *Config) WebhookConfig() webhook.Config {
	return webhook.Config{
		SecretEnv:   c.Alarms.WebhookSecretEnv,
		MaxBodySize: c.Alarms.MaxBodySize,
	}
}
