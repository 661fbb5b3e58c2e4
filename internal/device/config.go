package device

import (
	"time"
)

const (
	DefaultInterface      = "wlan0"
	DefaultAPNetwork      = "EVVOS_0001"
	DefaultAPAddress      = "192.168.4.1"
	DefaultCountry        = "PH"
	DefaultWPAConfigPath  = "/etc/wpa_supplicant/wpa_supplicant.conf"
	DefaultDHCPRange      = "192.168.4.2,192.168.4.20,255.255.255.0,24h"
	DefaultDnsmasqPath    = "/etc/dnsmasq.d/evvos-ap.conf"
	DefaultMarkerPath     = "/etc/evvos_provisioned"
	DefaultAPRestoredPath = "/tmp/evvos_ap_restored"
	DefaultJoinAttempts   = 20
	DefaultJoinInterval   = time.Second
	DefaultSettleDelay    = 2 * time.Second
)

var DefaultAPUnits = []string{"hostapd.service", "dnsmasq.service"}

type Config struct {
	Interface      string        `mapstructure:"interface"`
	APNetwork      string        `mapstructure:"ap_network"`
	APAddress      string        `mapstructure:"ap_address"`
	APUnits        []string      `mapstructure:"ap_units"`
	DHCPRange      string        `mapstructure:"dhcp_range"`
	DnsmasqPath    string        `mapstructure:"dnsmasq_config_path"`
	Country        string        `mapstructure:"country"`
	WPAConfigPath  string        `mapstructure:"wpa_config_path"`
	MarkerPath     string        `mapstructure:"marker_path"`
	APRestoredPath string        `mapstructure:"ap_restored_path"`
	JoinAttempts   int           `mapstructure:"join_attempts"`
	JoinInterval   time.Duration `mapstructure:"join_interval"`
	SettleDelay    time.Duration `mapstructure:"settle_delay"`
	DefaultLabel   string        `mapstructure:"default_label"`
}

// WithDefaults fills every unset field.
func (c Config) WithDefaults() Config {
	if c.Interface == "" {
		c.Interface = DefaultInterface
	}
	if c.APNetwork == "" {
		c.APNetwork = DefaultAPNetwork
	}
	if c.APAddress == "" {
		c.APAddress = DefaultAPAddress
	}
	if len(c.APUnits) == 0 {
		c.APUnits = DefaultAPUnits
	}
	if c.DHCPRange == "" {
		c.DHCPRange = DefaultDHCPRange
	}
	if c.DnsmasqPath == "" {
		c.DnsmasqPath = DefaultDnsmasqPath
	}
	if c.Country == "" {
		c.Country = DefaultCountry
	}
	if c.WPAConfigPath == "" {
		c.WPAConfigPath = DefaultWPAConfigPath
	}
	if c.MarkerPath == "" {
		c.MarkerPath = DefaultMarkerPath
	}
	if c.APRestoredPath == "" {
		c.APRestoredPath = DefaultAPRestoredPath
	}
	if c.JoinAttempts <= 0 {
		c.JoinAttempts = DefaultJoinAttempts
	}
	if c.JoinInterval <= 0 {
		c.JoinInterval = DefaultJoinInterval
	}
	if c.SettleDelay < 0 {
		c.SettleDelay = 0
	}
	if c.DefaultLabel == "" {
		c.DefaultLabel = c.APNetwork
	}
	return c
}
