package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	internalhttp "github.com/evvos/pairing/internal/api/http"
	"github.com/evvos/pairing/internal/auth"
	"github.com/evvos/pairing/internal/db"
	grpcserver "github.com/evvos/pairing/internal/grpc/server"
	"github.com/evvos/pairing/internal/pairing"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

var AppVersion string

func main() {
	if len(os.Args) > 1 {
		var err error
		switch os.Args[1] {
		case "hash-service-key":
			err = runHashServiceKey(os.Args[2:])
		case "generate-credential-key":
			err = runGenerateCredentialKey()
		default:
			err = fmt.Errorf("unknown command %q", os.Args[1])
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}
		return
	}

	InitConfig()

	slog.Info("Pairing Server", "version", AppVersion)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, ping, closeStore, err := openStore(ctx)
	if err != nil {
		slog.Error("Failed to open store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	pairingService := pairing.NewService(store, pairing.Options{
		TokenTTL:      config.Pairing.TokenTTL,
		CredentialKey: config.Crypto.CredentialKey,
	})
	if err := pairingService.CryptoReady(); err != nil {
		// Tokens can still be issued; finish fails until the key is fixed.
		slog.Error("Credential encryption key is not usable", "error", err)
	}

	verifier, err := auth.NewVerifier(ctx, config.Auth)
	if err != nil {
		slog.Error("Failed to initialize identity verifier", "error", err)
		os.Exit(1)
	}

	serviceKeys := auth.NewServiceKeys(config.Pairing.ServiceKeyHashes)
	if !serviceKeys.Configured() {
		slog.Warn("No device service keys configured, finish endpoint will reject all calls")
	}

	grpcSrv := grpcserver.NewServer(config.Grpc.Port, &config.Grpc.TLS)

	services := &internalhttp.Services{
		Pairing:     pairingService,
		Verifier:    verifier,
		ServiceKeys: serviceKeys,
		Metrics:     config.Metrics.Enabled,
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization", "X-Device-Name"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	engine.Use(gin.Recovery())
	internalhttp.SetupRoute(engine, services)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.Http.Port),
		Handler: engine,
	}

	errChan := make(chan error, 2)
	go func() {
		slog.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	go func() {
		if err := grpcSrv.Start(); err != nil {
			errChan <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()

	if ping != nil {
		go grpcSrv.MonitorReadiness(ctx, 15*time.Second, ping)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		slog.Error("Server error", "error", err)
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig)
	}

	slog.Info("Shutting down servers...")
	cancel()

	var wg sync.WaitGroup
	shutdownTimeout := 10 * time.Second

	wg.Add(1)
	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		} else {
			slog.Info("HTTP server stopped")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := grpcSrv.StopWithTimeout(shutdownTimeout); err != nil {
			slog.Error("gRPC server shutdown error", "error", err)
		}
	}()

	wg.Wait()
	slog.Info("Shutdown complete")
}

// openStore connects to Postgres when db.url is set and falls back to the
// in-memory store otherwise. ping is nil for the in-memory store.
func openStore(ctx context.Context) (pairing.Store, func(context.Context) error, func(), error) {
	if config.DB.Url == "" {
		slog.Warn("db.url is not set, using in-memory store; data is lost on restart")
		return pairing.NewMemStore(), nil, func() {}, nil
	}

	if err := db.RunMigrations(ctx, config.DB); err != nil {
		return nil, nil, nil, err
	}
	pool, err := db.InitDB(ctx, config.DB)
	if err != nil {
		return nil, nil, nil, err
	}
	store := db.NewStore(pool)
	return store, store.Ping, pool.Close, nil
}
