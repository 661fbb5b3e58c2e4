package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/evvos/pairing/internal/api/http/dto"
	"github.com/evvos/pairing/internal/device"
	"github.com/evvos/pairing/internal/pairing"
	"github.com/gin-gonic/gin"
)

type Provisioner interface {
	Run(ctx context.Context, req device.Request) device.Result
	Provisioned() (bool, error)
}

type ProvisionHandler struct {
	provisioner Provisioner
}

func NewProvisionHandler(provisioner Provisioner) *ProvisionHandler {
	return &ProvisionHandler{
		provisioner: provisioner,
	}
}

// Provision receives WiFi credentials over the access point and joins that network
// POST /provision
func (h *ProvisionHandler) Provision(ctx *gin.Context) {
	var req dto.ProvisionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, dto.ProvisionResponse{OK: false, Error: "Invalid request", Detail: err.Error()})
		return
	}

	// Runs to completion even if the client drops when the AP goes down.
	runCtx := context.WithoutCancel(ctx.Request.Context())
	res := h.provisioner.Run(runCtx, device.Request{
		Token:      req.Token,
		SSID:       req.SSID,
		Password:   req.Password,
		DeviceName: pairing.ResolveLabel(req.DeviceName, ctx.GetHeader(deviceNameHeader), ctx.Query("device_name")),
	})
	if res.Err != nil {
		status, resp := provisionError(res.Err)
		slog.Info("Provisioning run finished", "state", res.State.String(), "status", status)
		ctx.JSON(status, resp)
		return
	}

	ctx.JSON(http.StatusOK, dto.ProvisionResponse{OK: true, Message: "Device provisioned successfully"})
}

func provisionError(err error) (int, dto.ProvisionResponse) {
	resp := dto.ProvisionResponse{OK: false}

	var notifyErr *device.NotifyError
	switch {
	case errors.Is(err, device.ErrInvalidRequest):
		resp.Error = err.Error()
		return http.StatusBadRequest, resp
	case errors.Is(err, device.ErrAlreadyProvisioned), errors.Is(err, device.ErrInProgress):
		resp.Error = err.Error()
		return http.StatusConflict, resp
	case errors.Is(err, device.ErrNetworkJoin):
		resp.Error = "Failed to connect to hotspot. Please check SSID/password and try again."
		return http.StatusBadRequest, resp
	case errors.As(err, &notifyErr):
		resp.Error = "Device joined the network but the backend finish call failed"
		resp.Detail = notifyErr.Detail
		return http.StatusInternalServerError, resp
	default:
		resp.Error = "Provisioning failed"
		resp.Detail = err.Error()
		return http.StatusInternalServerError, resp
	}
}

// Status reports whether the device has been provisioned
// GET /provision-status
func (h *ProvisionHandler) Status(ctx *gin.Context) {
	provisioned, err := h.provisioner.Provisioned()
	if err != nil {
		slog.Error("Failed to read provisioned marker", "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "failed to read provisioning state"})
		return
	}
	ctx.JSON(http.StatusOK, dto.ProvisionStatusResponse{OK: true, Provisioned: provisioned})
}

// Health
// GET /health
func (h *ProvisionHandler) Health(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, dto.DeviceHealthResponse{OK: true, Status: "provisioning server running"})
}
