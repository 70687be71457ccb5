// Package correlation turns alarm webhooks into tickets bound to the synced
// device records or their sites.
package correlation

// Impact and urgency levels. An impact of ImpactFromSeverity defers to the
// severity carried by the alarm.
const (
	LevelHigh   = 1
	LevelMedium = 2
	LevelLow    = 3

	ImpactFromSeverity = 0
)

// EventTypeSettings controls ticketing for one alarm type.
type EventTypeSettings struct {
	Enabled bool `yaml:"enabled"`
	Impact  int  `yaml:"impact"`
	Urgency int  `yaml:"urgency"`
}

// Config holds correlator configuration.
type Config struct {
	// Groups lists the alarm groups that produce tickets.
	Groups     []string                     `yaml:"groups"`
	EventTypes map[string]EventTypeSettings `yaml:"event_types"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Groups:     []string{"marvis"},
		EventTypes: DefaultEventTypes(),
	}
}

// DefaultEventTypes returns the urgency table for known alarm types. Every
// entry derives impact from the alarm severity.
func DefaultEventTypes() map[string]EventTypeSettings {
	urgency := map[string]int{
		"authentication_failure":  LevelHigh,
		"arp_failure":             LevelHigh,
		"dhcp_failure":            LevelHigh,
		"dns_failure":             LevelHigh,
		"health_check_failed":     LevelHigh,
		"missing_vlan":            LevelHigh,
		"switch_stp_loop":         LevelHigh,
		"vpn_path_down":           LevelHigh,
		"wan_device_problem":      LevelHigh,
		"ap_bad_cable":            LevelMedium,
		"ap_offline":              LevelMedium,
		"bad_cable":               LevelMedium,
		"bad_wan_uplink":          LevelMedium,
		"gw_bad_cable":            LevelMedium,
		"negotiation_mismatch":    LevelMedium,
		"non_compliant":           LevelMedium,
		"port_stuck":              LevelMedium,
		"gw_negotiation_mismatch": LevelLow,
		"insufficient_capacity":   LevelLow,
		"insufficient_coverage":   LevelLow,
		"port_flap":               LevelLow,
	}

	out := make(map[string]EventTypeSettings, len(urgency))
	for t, u := range urgency {
		out[t] = EventTypeSettings{Enabled: true, Impact: ImpactFromSeverity, Urgency: u}
	}
	return out
}

// Priority is the resolved ticket priority of an alarm.
type Priority struct {
	Enabled bool
	Impact  int
	Urgency int
}

// priorityFor resolves the settings for an alarm type. Unknown types are
// enabled with medium urgency.
func (c Config) priorityFor(ev Event) Priority {
	p := Priority{Enabled: true, Impact: ImpactFromSeverity, Urgency: LevelMedium}
	if s, ok := c.EventTypes[ev.Type()]; ok {
		p = Priority{Enabled: s.Enabled, Impact: s.Impact, Urgency: s.Urgency}
	}
	if p.Impact == ImpactFromSeverity {
		p.Impact = impactFromSeverity(ev.Severity())
	}
	return p
}

func impactFromSeverity(severity string) int {
	switch severity {
	case "critical":
		return LevelHigh
	case "info":
		return LevelLow
	default:
		return LevelMedium
	}
}
