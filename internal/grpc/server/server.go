package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/evvos/pairing/internal/cert"
	grpctls "github.com/evvos/pairing/internal/grpc/tls"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name reported alongside the overall ("") status.
const ServiceName = "pairing.v1.PairingService"

type TLSConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	CertFile   string `mapstructure:"cert_file"`
	KeyFile    string `mapstructure:"key_file"`
	CAFile     string `mapstructure:"ca_file"`
	ClientAuth string `mapstructure:"client_auth"`
	// AutoGenerate issues a self-signed CA and server certificate into the
	// paths above when they do not exist yet.
	AutoGenerate bool     `mapstructure:"auto_generate"`
	CAKeyFile    string   `mapstructure:"ca_key_file"`
	DomainNames  []string `mapstructure:"domain_names"`
	IPAddresses  []string `mapstructure:"ip_addresses"`
}

func (c *TLSConfig) ensureCertificates() error {
	ips := make([]net.IP, 0, len(c.IPAddresses))
	for _, raw := range c.IPAddresses {
		ip := net.ParseIP(strings.TrimSpace(raw))
		if ip == nil {
			return fmt.Errorf("invalid IP address %q", raw)
		}
		ips = append(ips, ip)
	}
	return cert.EnsureServer(cert.Config{
		CACertFile:  c.CAFile,
		CAKeyFile:   c.CAKeyFile,
		CertFile:    c.CertFile,
		KeyFile:     c.KeyFile,
		DomainNames: c.DomainNames,
		IPAddresses: ips,
	})
}

// Server exposes the standard gRPC health service so orchestrators can probe
// the backend and its database.
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	port       int
	tlsConfig  *TLSConfig

	mu       sync.Mutex
	listener net.Listener
}

func NewServer(port int, tlsConfig *TLSConfig) *Server {
	return &Server{
		health:    health.NewServer(),
		port:      port,
		tlsConfig: tlsConfig,
	}
}

func (s *Server) Start() error {
	var opts []grpc.ServerOption
	if s.tlsConfig != nil && s.tlsConfig.Enabled {
		if s.tlsConfig.AutoGenerate {
			if err := s.tlsConfig.ensureCertificates(); err != nil {
				return fmt.Errorf("failed to ensure certificates: %w", err)
			}
		}
		creds, err := grpctls.LoadServerCredentials(grpctls.Config{
			CertFile:   s.tlsConfig.CertFile,
			KeyFile:    s.tlsConfig.KeyFile,
			CAFile:     s.tlsConfig.CAFile,
			ClientAuth: s.tlsConfig.ClientAuth,
		})
		if err != nil {
			return fmt.Errorf("failed to load TLS credentials: %w", err)
		}
		opts = append(opts, grpc.Creds(creds))
		slog.Info("gRPC TLS enabled", "client_auth", s.tlsConfig.ClientAuth)
	}

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.port, err)
	}

	s.SetServing(true)

	s.mu.Lock()
	s.listener = lis
	s.grpcServer = grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	grpcServer := s.grpcServer
	s.mu.Unlock()

	slog.Info("Starting gRPC server", "address", lis.Addr().String())

	if err := grpcServer.Serve(lis); err != nil {
		return fmt.Errorf("failed to serve gRPC: %w", err)
	}

	return nil
}

// Addr returns the bound address, or nil before Start has listened.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// MonitorReadiness runs check every interval and mirrors its result into
// the health status until ctx is done.
func (s *Server) MonitorReadiness(ctx context.Context, interval time.Duration, check func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	serving := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, interval)
			err := check(checkCtx)
			cancel()

			if ok := err == nil; ok != serving {
				serving = ok
				if err != nil {
					slog.Warn("Readiness check failed", "error", err)
				} else {
					slog.Info("Readiness check recovered")
				}
				s.SetServing(serving)
			}
		}
	}
}

func (s *Server) Stop(ctx context.Context) error {
	slog.Info("Stopping gRPC server")

	s.health.Shutdown()

	s.mu.Lock()
	grpcServer := s.grpcServer
	s.mu.Unlock()
	if grpcServer == nil {
		return nil
	}

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		slog.Info("gRPC server stopped gracefully")
	case <-ctx.Done():
		slog.Warn("gRPC server stop timeout, forcing shutdown")
		grpcServer.Stop()
	}

	return nil
}

func (s *Server) StopWithTimeout(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.Stop(ctx)
}
