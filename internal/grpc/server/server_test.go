package server

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/evvos/pairing/internal/cert"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func startServer(t *testing.T) (*Server, healthpb.HealthClient) {
	t.Helper()
	s := listen(t, nil)
	return s, dial(t, s, insecure.NewCredentials())
}

func listen(t *testing.T, tlsConfig *TLSConfig) *Server {
	t.Helper()
	s := NewServer(0, tlsConfig)
	go func() {
		_ = s.Start()
	}()
	require.Eventually(t, func() bool { return s.Addr() != nil }, 5*time.Second, 10*time.Millisecond)
	t.Cleanup(func() { _ = s.StopWithTimeout(time.Second) })
	return s
}

func dial(t *testing.T, s *Server, creds credentials.TransportCredentials) healthpb.HealthClient {
	t.Helper()
	conn, err := grpc.NewClient(s.Addr().String(), grpc.WithTransportCredentials(creds))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return healthpb.NewHealthClient(conn)
}

func check(t *testing.T, client healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestHealthServing(t *testing.T) {
	s, client := startServer(t)

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, client, ""))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, client, ServiceName))

	s.SetServing(false)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, client, ServiceName))
}

func TestMonitorReadiness(t *testing.T) {
	s, client := startServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var failing atomic.Bool
	failing.Store(true)
	go s.MonitorReadiness(ctx, 10*time.Millisecond, func(context.Context) error {
		if failing.Load() {
			return errors.New("database unreachable")
		}
		return nil
	})

	require.Eventually(t, func() bool {
		return check(t, client, "") == healthpb.HealthCheckResponse_NOT_SERVING
	}, 2*time.Second, 10*time.Millisecond)

	failing.Store(false)

	require.Eventually(t, func() bool {
		return check(t, client, "") == healthpb.HealthCheckResponse_SERVING
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHealthOverMutualTLS(t *testing.T) {
	dir := t.TempDir()
	tlsConfig := &TLSConfig{
		Enabled:      true,
		AutoGenerate: true,
		CertFile:     filepath.Join(dir, "server.pem"),
		KeyFile:      filepath.Join(dir, "server-key.pem"),
		CAFile:       filepath.Join(dir, "ca.pem"),
		CAKeyFile:    filepath.Join(dir, "ca-key.pem"),
		ClientAuth:   "require",
		DomainNames:  []string{"localhost"},
		IPAddresses:  []string{"127.0.0.1"},
	}
	s := listen(t, tlsConfig)

	clientCert := filepath.Join(dir, "health-client.pem")
	clientKey := filepath.Join(dir, "health-client-key.pem")
	require.NoError(t, cert.IssueClient(tlsConfig.CAFile, tlsConfig.CAKeyFile, "health-client", clientCert, clientKey))

	caPEM, err := os.ReadFile(tlsConfig.CAFile)
	require.NoError(t, err)
	pool := x509.NewCertPool()
	require.True(t, pool.AppendCertsFromPEM(caPEM))
	pair, err := tls.LoadX509KeyPair(clientCert, clientKey)
	require.NoError(t, err)

	client := dial(t, s, credentials.NewTLS(&tls.Config{
		Certificates: []tls.Certificate{pair},
		RootCAs:      pool,
		ServerName:   "localhost",
	}))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, client, ServiceName))

	anonymous := dial(t, s, credentials.NewTLS(&tls.Config{RootCAs: pool, ServerName: "localhost"}))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = anonymous.Check(ctx, &healthpb.HealthCheckRequest{})
	assert.Error(t, err)
}
