// Package normalization turns raw Mist inventory and statistics items into
// canonical device records. One Engine is built per sync run; it owns the
// serial-keyed output map and performs no I/O besides reading the streams it
// is handed.
package normalization

// Member name discriminators for stacked switches and gateway clusters.
const (
	DiscriminatorMAC    = "MAC Address"
	DiscriminatorSerial = "Serial Number"
	// DiscriminatorSlot appends the fpc index (switch) or node id (gateway).
	DiscriminatorSlot = "Slot"
)

// Default CI class names.
const (
	DefaultCIClassAP       = "cmdb_ci_wap_network"
	DefaultCIClassSwitch   = "cmdb_ci_ip_switch"
	DefaultCIClassSRX      = "cmdb_ci_ip_router"
	DefaultCIClassSSR      = "cmdb_ci_ip_router"
	DefaultCIClassRouter   = "cmdb_ci_ip_router"
	DefaultCIClassFallback = "cmdb_ci_netgear"
)

// CIClasses holds the CI class name per device class. Values may carry a
// trailing label ("cmdb_ci_ip_router (IP Router)"); only the first token is used.
type CIClasses struct {
	AP       string `yaml:"ap"`
	Switch   string `yaml:"switch"`
	SRX      string `yaml:"srx"`
	SSR      string `yaml:"ssr"`
	Router   string `yaml:"router"`
	Fallback string `yaml:"fallback"`
}

// DefaultCIClasses returns the built-in class names.
func DefaultCIClasses() CIClasses {
	return CIClasses{
		AP:       DefaultCIClassAP,
		Switch:   DefaultCIClassSwitch,
		SRX:      DefaultCIClassSRX,
		SSR:      DefaultCIClassSSR,
		Router:   DefaultCIClassRouter,
		Fallback: DefaultCIClassFallback,
	}
}

// Config is the static configuration handed to an Engine.
type Config struct {
	CIClasses            CIClasses
	SwitchDiscriminator  string
	GatewayDiscriminator string
	VirtualSwitchModels  []string
	Visibility           Visibility
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		CIClasses:            DefaultCIClasses(),
		SwitchDiscriminator:  DiscriminatorSlot,
		GatewayDiscriminator: DiscriminatorSlot,
		VirtualSwitchModels:  []string{"EX9214", "VJUNOS"},
	}
}
