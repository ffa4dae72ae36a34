package models

// AlertSettings controls which rules raise alerts and which channels receive
// them. Read back from the settings store at dispatch time rather than cached
// at boot, so operators can flip channels without a restart.
type AlertSettings struct {
	AlertRules      []Rule   `json:"alert_rules"`
	EnabledChannels []string `json:"enabled_channels"`
}

// DefaultAlertSettings alerts on every evaluated rule over every configured
// channel until an operator narrows the set.
func DefaultAlertSettings(channels []string) AlertSettings {
	return AlertSettings{
		AlertRules:      []Rule{RuleR1, RuleR2, RuleR3, RuleR4},
		EnabledChannels: channels,
	}
}

// RuleEnabled reports whether the given rule is alert-worthy.
func (s AlertSettings) RuleEnabled(rule Rule) bool {
	for _, r := range s.AlertRules {
		if r == rule {
			return true
		}
	}
	return false
}

// ChannelEnabled reports whether the named channel should receive alerts.
func (s AlertSettings) ChannelEnabled(name string) bool {
	for _, c := range s.EnabledChannels {
		if c == name {
			return true
		}
	}
	return false
}
