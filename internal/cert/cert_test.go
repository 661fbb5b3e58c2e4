package cert

import (
	"crypto/x509"
	"encoding/pem"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(dir string) Config {
	return Config{
		CACertFile: filepath.Join(dir, "ca", "ca.pem"),
		CAKeyFile:  filepath.Join(dir, "ca", "ca-key.pem"),
		CertFile:   filepath.Join(dir, "server", "server.pem"),
		KeyFile:    filepath.Join(dir, "server", "server-key.pem"),
	}
}

func parseCert(t *testing.T, path string) *x509.Certificate {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	block, _ := pem.Decode(data)
	require.NotNil(t, block)
	c, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)
	return c
}

func TestEnsureServerGeneratesChain(t *testing.T) {
	cfg := testConfig(t.TempDir())
	require.NoError(t, EnsureServer(cfg))

	ca := parseCert(t, cfg.CACertFile)
	assert.True(t, ca.IsCA)

	server := parseCert(t, cfg.CertFile)
	assert.Equal(t, []string{"localhost"}, server.DNSNames)
	require.Len(t, server.IPAddresses, 2)
	assert.True(t, server.IPAddresses[0].Equal(net.ParseIP("127.0.0.1")))

	pool := x509.NewCertPool()
	pool.AddCert(ca)
	_, err := server.Verify(x509.VerifyOptions{
		DNSName:   "localhost",
		Roots:     pool,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	})
	assert.NoError(t, err)

	info, err := os.Stat(cfg.KeyFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestEnsureServerKeepsExistingFiles(t *testing.T) {
	cfg := testConfig(t.TempDir())
	require.NoError(t, EnsureServer(cfg))
	before, err := os.ReadFile(cfg.CertFile)
	require.NoError(t, err)

	require.NoError(t, EnsureServer(cfg))
	after, err := os.ReadFile(cfg.CertFile)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestEnsureServerReissuesMissingServerCert(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.DomainNames = []string{"pairing.local"}
	require.NoError(t, EnsureServer(cfg))
	caBefore, err := os.ReadFile(cfg.CACertFile)
	require.NoError(t, err)

	require.NoError(t, os.Remove(cfg.KeyFile))
	require.NoError(t, EnsureServer(cfg))

	caAfter, err := os.ReadFile(cfg.CACertFile)
	require.NoError(t, err)
	assert.Equal(t, caBefore, caAfter)
	assert.Equal(t, "pairing.local", parseCert(t, cfg.CertFile).Subject.CommonName)
}

func TestIssueClient(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	require.NoError(t, EnsureServer(cfg))

	certFile := filepath.Join(dir, "client.pem")
	require.NoError(t, IssueClient(cfg.CACertFile, cfg.CAKeyFile, "health-client", certFile, filepath.Join(dir, "client-key.pem")))

	client := parseCert(t, certFile)
	assert.Equal(t, "health-client", client.Subject.CommonName)
	assert.Equal(t, []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth}, client.ExtKeyUsage)

	err := IssueClient(filepath.Join(dir, "missing.pem"), cfg.CAKeyFile, "health-client", certFile, filepath.Join(dir, "client-key.pem"))
	assert.Error(t, err)
}
