package device

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
)

// Network switches the radio between access point and client roles.
type Network interface {
	WriteClientConfig(ssid, passphrase string) error
	StopAccessPoint(ctx context.Context) error
	StartAccessPoint(ctx context.Context) error
	Reconfigure(ctx context.Context) error
	HasAddress() (bool, error)
}

type HostNetwork struct {
	iface     string
	apAddress net.IP
	apUnits   []string
	dhcpRange string
	dnsmasq   string
	country   string
	wpaPath   string
	units     Units
	exec      Executer

	addrs func(iface string) ([]net.Addr, error)
}

var _ Network = (*HostNetwork)(nil)

func NewHostNetwork(cfg Config, units Units, exec Executer) *HostNetwork {
	cfg = cfg.WithDefaults()
	return &HostNetwork{
		iface:     cfg.Interface,
		apAddress: net.ParseIP(cfg.APAddress),
		apUnits:   cfg.APUnits,
		dhcpRange: cfg.DHCPRange,
		dnsmasq:   cfg.DnsmasqPath,
		country:   cfg.Country,
		wpaPath:   cfg.WPAConfigPath,
		units:     units,
		exec:      exec,
		addrs:     interfaceAddrs,
	}
}

func (n *HostNetwork) WriteClientConfig(ssid, passphrase string) error {
	data, err := RenderWPAConfig(n.country, ssid, passphrase)
	if err != nil {
		return err
	}
	if err := writeFileAtomically(n.wpaPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", n.wpaPath, err)
	}
	return nil
}

func (n *HostNetwork) StopAccessPoint(ctx context.Context) error {
	return n.units.Stop(ctx, n.apUnits...)
}

// StartAccessPoint refreshes the DHCP range for the access point network and
// starts its units.
func (n *HostNetwork) StartAccessPoint(ctx context.Context) error {
	data, err := RenderDnsmasqConfig(n.iface, n.apAddress.String(), n.dhcpRange)
	if err != nil {
		return err
	}
	if err := writeFileAtomically(n.dnsmasq, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", n.dnsmasq, err)
	}
	return n.units.Start(ctx, n.apUnits...)
}

// Reconfigure asks wpa_supplicant to reload its configuration.
func (n *HostNetwork) Reconfigure(ctx context.Context) error {
	stdout, stderr, code := n.exec.ExecuteWithContext(ctx, "wpa_cli", "-i", n.iface, "reconfigure")
	if code != 0 {
		return fmt.Errorf("wpa_cli reconfigure exited with %d: %s", code, strings.TrimSpace(stderr))
	}
	if out := strings.TrimSpace(stdout); out != "" && out != "OK" {
		slog.Debug("wpa_cli reconfigure", "output", out)
	}
	return nil
}

// HasAddress reports whether the interface holds a routable IPv4 address
// other than the access point's own.
func (n *HostNetwork) HasAddress() (bool, error) {
	addrs, err := n.addrs(n.iface)
	if err != nil {
		return false, err
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		ip := ipNet.IP.To4()
		if ip == nil || ip.IsLoopback() || ip.IsLinkLocalUnicast() {
			continue
		}
		if n.apAddress != nil && ip.Equal(n.apAddress) {
			continue
		}
		return true, nil
	}
	return false, nil
}

func interfaceAddrs(name string) ([]net.Addr, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, fmt.Errorf("failed to find interface %s: %w", name, err)
	}
	return iface.Addrs()
}
