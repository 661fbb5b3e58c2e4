package http

import (
	"github.com/evvos/pairing/internal/api/http/handler"
	"github.com/evvos/pairing/internal/api/http/middleware"
	"github.com/evvos/pairing/internal/auth"
	"github.com/evvos/pairing/internal/metrics"
	"github.com/evvos/pairing/internal/pairing"
	"github.com/gin-gonic/gin"
)

// Services wires the routes. The backend sets Pairing, Verifier and
// ServiceKeys; the device agent sets Provisioner.
type Services struct {
	Pairing     *pairing.Service
	Verifier    auth.Verifier
	ServiceKeys *auth.ServiceKeys
	Provisioner handler.Provisioner
	Metrics     bool
}

func SetupRoute(engine *gin.Engine, srvs *Services) {
	engine.Use(middleware.RequestLogger())

	if srvs.Metrics {
		engine.GET("/metrics", gin.WrapH(metrics.Handler()))
	}

	if srvs.Provisioner != nil {
		provisionHandler := handler.NewProvisionHandler(srvs.Provisioner)
		engine.GET("/health", provisionHandler.Health)
		engine.POST("/provision", provisionHandler.Provision)
		engine.GET("/provision-status", provisionHandler.Status)
		return
	}

	healthHandler := handler.NewHealthHandler()
	engine.GET("/health", healthHandler.Check)

	if srvs.Pairing != nil {
		provisioningHandler := handler.NewProvisioningHandler(srvs.Pairing)
		v1 := engine.Group("/api/v1")

		v1.POST("/provisioning/finish", middleware.ServiceKeyAuth(srvs.ServiceKeys), provisioningHandler.Finish)

		user := v1.Group("", middleware.IdentityAuth(srvs.Verifier))
		user.POST("/provisioning/tokens", provisioningHandler.CreateToken)
		user.GET("/provisioning/sessions/:hash", provisioningHandler.SessionStatus)
		user.GET("/devices/credentials", provisioningHandler.ListCredentials)
		user.GET("/devices/credentials/exists", provisioningHandler.CredentialsExist)
	}
}
