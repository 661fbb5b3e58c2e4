package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	internalhttp "github.com/evvos/pairing/internal/api/http"
	"github.com/evvos/pairing/internal/device"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

var AppVersion string

func main() {
	InitConfig()

	slog.Info("Pairing Agent", "version", AppVersion)

	if config.Backend.FinishURL == "" {
		slog.Error("backend.finish_url is required")
		os.Exit(1)
	}

	deviceCfg := config.Device.WithDefaults()

	var announcer device.Announcer
	if config.MDNS.Enabled {
		instance := config.MDNS.Instance
		if instance == "" {
			instance = deviceCfg.APNetwork
		}
		txt := []string{"path=/provision", "version=" + AppVersion}
		announcer = device.NewMDNSAdvertiser(instance, deviceCfg.Interface, deviceCfg.APAddress, int(config.Http.Port), txt)
	}

	network := device.NewHostNetwork(deviceCfg, device.NewSystemdUnits(), device.NewExecuter())
	provisioner := device.NewProvisioner(deviceCfg, network, device.NewFinishClient(config.Backend), announcer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := provisioner.Start(ctx); err != nil {
		slog.Error("Failed to start provisioner", "error", err)
		os.Exit(1)
	}

	services := &internalhttp.Services{
		Provisioner: provisioner,
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	engine.Use(gin.Recovery())
	internalhttp.SetupRoute(engine, services)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.Http.Port),
		Handler: engine,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("Starting HTTP server", "address", server.Addr, "role", provisioner.Role())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			quit <- syscall.SIGTERM
		}
	}()

	sig := <-quit
	slog.Info("Received shutdown signal", "signal", sig)

	// A running provisioning attempt finishes its own AP restore within the
	// shutdown window.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped")
	}

	provisioner.Stop()
	slog.Info("Shutdown complete")
}
