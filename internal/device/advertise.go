package device

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/enbility/zeroconf/v3"
)

const (
	ServiceType = "_evvos-prov._tcp"
	Domain      = "local."
)

// Announcer advertises the provisioning endpoint while the device is in
// access point role.
type Announcer interface {
	Start() error
	Stop()
}

type MDNSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Instance string `mapstructure:"instance"`
}

// MDNSAdvertiser publishes the access point address under the device's
// host name. Start and Stop may be called repeatedly.
type MDNSAdvertiser struct {
	mu       sync.Mutex
	instance string
	iface    string
	address  string
	port     int
	txt      []string
	opts     []zeroconf.ServerOption
	server   *zeroconf.Server
}

func NewMDNSAdvertiser(instance, iface, address string, port int, txt []string) *MDNSAdvertiser {
	return &MDNSAdvertiser{
		instance: instance,
		iface:    iface,
		address:  address,
		port:     port,
		txt:      txt,
	}
}

func (a *MDNSAdvertiser) hostName() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return a.instance
}

// getInterfaces returns nil to advertise on all interfaces.
func (a *MDNSAdvertiser) getInterfaces() []net.Interface {
	if a.iface == "" {
		return nil
	}
	iface, err := net.InterfaceByName(a.iface)
	if err != nil {
		return nil
	}
	return []net.Interface{*iface}
}

func (a *MDNSAdvertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		return nil
	}

	server, err := zeroconf.RegisterProxy(a.instance, ServiceType, Domain, a.port,
		a.hostName(), []string{a.address}, a.txt, a.getInterfaces(), a.opts...)
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", err)
	}
	a.server = server
	slog.Info("mDNS advertisement started", "instance", a.instance, "service", ServiceType, "port", a.port)
	return nil
}

func (a *MDNSAdvertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
		slog.Info("mDNS advertisement stopped", "instance", a.instance)
	}
}

type noopAnnouncer struct{}

func (noopAnnouncer) Start() error { return nil }
func (noopAnnouncer) Stop()        {}
