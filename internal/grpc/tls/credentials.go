package tls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"google.golang.org/grpc/credentials"
)

type Config struct {
	CertFile   string
	KeyFile    string
	CAFile     string
	ClientAuth string
}

func LoadServerCredentials(cfg Config) (credentials.TransportCredentials, error) {
	clientAuth, err := ParseClientAuthType(cfg.ClientAuth)
	if err != nil {
		return nil, err
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load server certificate: %w", err)
	}

	config := &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   clientAuth,
		MinVersion:   tls.VersionTLS12,
	}

	if clientAuth != tls.NoClientCert {
		if cfg.CAFile == "" {
			return nil, fmt.Errorf("client auth %q requires a CA file", cfg.ClientAuth)
		}
		caPool := x509.NewCertPool()
		ca, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		if !caPool.AppendCertsFromPEM(ca) {
			return nil, fmt.Errorf("failed to append CA certificate")
		}
		config.ClientCAs = caPool
	}

	return credentials.NewTLS(config), nil
}

// ParseClientAuthType maps a config value to a tls.ClientAuthType. Empty means "none".
func ParseClientAuthType(authType string) (tls.ClientAuthType, error) {
	switch authType {
	case "", "none":
		return tls.NoClientCert, nil
	case "request":
		return tls.RequestClientCert, nil
	case "require":
		return tls.RequireAndVerifyClientCert, nil
	default:
		return tls.NoClientCert, fmt.Errorf("invalid client auth type: %s (valid: none, request, require)", authType)
	}
}
