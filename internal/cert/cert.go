// Package cert issues the self-signed CA and server certificate the gRPC
// health endpoint uses when no operator-provided certificate exists.
package cert

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio"
)

const (
	caValidity   = 10 * 365 * 24 * time.Hour
	certValidity = 365 * 24 * time.Hour
	organization = "EVVOS Pairing"
)

type Config struct {
	CACertFile  string
	CAKeyFile   string
	CertFile    string
	KeyFile     string
	DomainNames []string
	IPAddresses []net.IP
}

// EnsureServer creates whatever is missing of the CA pair and the server
// pair. Existing files are left untouched.
func EnsureServer(cfg Config) error {
	if len(cfg.DomainNames) == 0 {
		cfg.DomainNames = []string{"localhost"}
	}
	if len(cfg.IPAddresses) == 0 {
		cfg.IPAddresses = []net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("::1")}
	}

	caCert, caKey, err := ensureCA(cfg.CACertFile, cfg.CAKeyFile)
	if err != nil {
		return err
	}

	if fileExists(cfg.CertFile) && fileExists(cfg.KeyFile) {
		slog.Debug("Using existing server certificate", "cert_path", cfg.CertFile)
		return nil
	}

	slog.Info("Server certificate not found, generating new server certificate",
		"cert_path", cfg.CertFile,
		"domains", cfg.DomainNames,
		"ips", cfg.IPAddresses)

	template := &x509.Certificate{
		Subject: pkix.Name{
			Organization: []string{organization},
			CommonName:   cfg.DomainNames[0],
		},
		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:    cfg.DomainNames,
		IPAddresses: cfg.IPAddresses,
	}
	return issue(template, caCert, caKey, cfg.CertFile, cfg.KeyFile)
}

// IssueClient signs a client certificate with an existing CA, for probes
// against a server that requires client certificates.
func IssueClient(caCertFile, caKeyFile, commonName, certFile, keyFile string) error {
	caCert, caKey, err := loadCA(caCertFile, caKeyFile)
	if err != nil {
		return err
	}
	template := &x509.Certificate{
		Subject: pkix.Name{
			Organization: []string{organization},
			CommonName:   commonName,
		},
		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	return issue(template, caCert, caKey, certFile, keyFile)
}

func ensureCA(certFile, keyFile string) (*x509.Certificate, crypto.Signer, error) {
	if fileExists(certFile) && fileExists(keyFile) {
		slog.Debug("Using existing CA certificate", "cert_path", certFile)
		return loadCA(certFile, keyFile)
	}

	slog.Info("CA certificate not found, generating new CA", "cert_path", certFile)
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate CA key: %w", err)
	}
	serial, err := serialNumber()
	if err != nil {
		return nil, nil, err
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{organization + " CA"},
			CommonName:   organization + " Root CA",
		},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(caValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLenZero:        true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create CA certificate: %w", err)
	}
	caCert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse CA certificate: %w", err)
	}

	if err := writePair(caCert, key, certFile, keyFile); err != nil {
		return nil, nil, err
	}
	slog.Info("Generated CA certificate", "cert_path", certFile, "key_path", keyFile)
	return caCert, key, nil
}

func issue(template, caCert *x509.Certificate, caKey crypto.Signer, certFile, keyFile string) error {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("failed to generate key: %w", err)
	}
	serial, err := serialNumber()
	if err != nil {
		return err
	}

	now := time.Now()
	template.SerialNumber = serial
	template.NotBefore = now.Add(-time.Minute)
	template.NotAfter = now.Add(certValidity)
	template.BasicConstraintsValid = true

	der, err := x509.CreateCertificate(rand.Reader, template, caCert, &key.PublicKey, caKey)
	if err != nil {
		return fmt.Errorf("failed to create certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return fmt.Errorf("failed to parse certificate: %w", err)
	}

	if err := writePair(cert, key, certFile, keyFile); err != nil {
		return err
	}
	slog.Info("Generated certificate", "common_name", template.Subject.CommonName, "cert_path", certFile, "key_path", keyFile)
	return nil
}

func loadCA(certFile, keyFile string) (*x509.Certificate, crypto.Signer, error) {
	certBlock, err := readPEM(certFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}
	caCert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse CA certificate: %w", err)
	}

	keyBlock, err := readPEM(keyFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read CA key: %w", err)
	}
	key, err := x509.ParsePKCS8PrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse CA key: %w", err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, nil, errors.New("CA key cannot sign")
	}
	return caCert, signer, nil
}

func readPEM(path string) (*pem.Block, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM data in %s", path)
	}
	return block, nil
}

func writePair(cert *x509.Certificate, key crypto.Signer, certFile, keyFile string) error {
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return fmt.Errorf("failed to marshal key: %w", err)
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})

	if err := writeFile(certFile, certPEM, 0o644); err != nil {
		return fmt.Errorf("failed to write certificate: %w", err)
	}
	if err := writeFile(keyFile, keyPEM, 0o600); err != nil {
		return fmt.Errorf("failed to write key: %w", err)
	}
	return nil
}

func writeFile(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", filepath.Dir(path), err)
	}
	return renameio.WriteFile(path, data, perm)
}

func serialNumber() (*big.Int, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}
	return serial, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
