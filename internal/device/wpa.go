package device

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
	"text/template"

	"golang.org/x/crypto/pbkdf2"
)

const (
	minPassphraseLen = 8
	maxPassphraseLen = 63
	maxSSIDLen       = 32
	pskLen           = 32
	pskIterations    = 4096
)

// ssid and psk are written in their unquoted hex forms.
var wpaTemplate = template.Must(template.New("wpa_supplicant").Parse(`ctrl_interface=DIR=/var/run/wpa_supplicant GROUP=netdev
update_config=1
country={{ .Country }}

network={
	ssid={{ .SSID }}
	psk={{ .PSK }}
	scan_ssid=1
}
`))

var dnsmasqTemplate = template.Must(template.New("dnsmasq").Parse(`interface={{ .Interface }}
bind-interfaces
listen-address={{ .Address }}
dhcp-range={{ .Range }}
`))

type wpaNetwork struct {
	Country string
	SSID    string
	PSK     string
}

// ValidateWiFi accepts an SSID of 1-32 bytes and either a printable ASCII
// passphrase of 8-63 characters or a raw 64 hex digit PSK.
func ValidateWiFi(ssid, passphrase string) error {
	if ssid == "" || len(ssid) > maxSSIDLen {
		return fmt.Errorf("%w: ssid must be 1-%d bytes", ErrInvalidRequest, maxSSIDLen)
	}
	if isRawPSK(passphrase) {
		return nil
	}
	if len(passphrase) < minPassphraseLen || len(passphrase) > maxPassphraseLen {
		return fmt.Errorf("%w: password must be %d-%d characters or a 64 digit hex key", ErrInvalidRequest, minPassphraseLen, maxPassphraseLen)
	}
	for _, r := range passphrase {
		if r < 0x20 || r > 0x7e {
			return fmt.Errorf("%w: password contains unsupported characters", ErrInvalidRequest)
		}
	}
	return nil
}

func isRawPSK(s string) bool {
	if len(s) != 2*pskLen {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// DerivePSK returns the hex WPA2 pre-shared key for a passphrase. A raw
// 64 digit key is returned unchanged.
func DerivePSK(ssid, passphrase string) string {
	if isRawPSK(passphrase) {
		return strings.ToLower(passphrase)
	}
	return hex.EncodeToString(pbkdf2.Key([]byte(passphrase), []byte(ssid), pskIterations, pskLen, sha1.New))
}

func hasControl(s string) bool {
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			return true
		}
	}
	return false
}

// RenderWPAConfig produces a wpa_supplicant.conf for a single network.
func RenderWPAConfig(country, ssid, passphrase string) ([]byte, error) {
	if err := ValidateWiFi(ssid, passphrase); err != nil {
		return nil, err
	}
	network := wpaNetwork{
		Country: country,
		SSID:    hex.EncodeToString([]byte(ssid)),
		PSK:     DerivePSK(ssid, passphrase),
	}
	var buf bytes.Buffer
	if err := wpaTemplate.Execute(&buf, network); err != nil {
		return nil, fmt.Errorf("failed to render wpa_supplicant config: %w", err)
	}
	return buf.Bytes(), nil
}

// RenderDnsmasqConfig produces the dnsmasq drop-in that hands out addresses
// on the access point network.
func RenderDnsmasqConfig(iface, address, dhcpRange string) ([]byte, error) {
	for _, v := range []string{iface, address, dhcpRange} {
		if v == "" || hasControl(v) {
			return nil, fmt.Errorf("invalid dnsmasq setting %q", v)
		}
	}
	var buf bytes.Buffer
	err := dnsmasqTemplate.Execute(&buf, struct{ Interface, Address, Range string }{iface, address, dhcpRange})
	if err != nil {
		return nil, fmt.Errorf("failed to render dnsmasq config: %w", err)
	}
	return buf.Bytes(), nil
}
