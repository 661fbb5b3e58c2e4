package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/evvos/pairing/internal/api/http/dto"
	"github.com/evvos/pairing/internal/api/http/middleware"
	"github.com/evvos/pairing/internal/pairing"
	"github.com/gin-gonic/gin"
)

const deviceNameHeader = "X-Device-Name"

type ProvisioningHandler struct {
	pairingService *pairing.Service
}

func NewProvisioningHandler(pairingService *pairing.Service) *ProvisioningHandler {
	return &ProvisioningHandler{
		pairingService: pairingService,
	}
}

// CreateToken issues a one-time pairing token for the caller
// POST /api/v1/provisioning/tokens
func (h *ProvisioningHandler) CreateToken(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user_id not found in context"})
		return
	}

	// An empty or absent body means no label.
	var req dto.CreateTokenRequest
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "request body must be a JSON object"})
			return
		}
	}

	label := pairing.ResolveLabel(req.DeviceName, c.GetHeader(deviceNameHeader), c.Query("device_name"))

	issued, err := h.pairingService.CreateToken(c.Request.Context(), userID, label)
	if err != nil {
		if errors.Is(err, pairing.ErrMissingIdentity) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "verified identity is required"})
			return
		}
		slog.Error("Failed to create pairing token", "error", err, "user_id", userID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create pairing token"})
		return
	}

	c.JSON(http.StatusOK, dto.CreateTokenResponse{
		Token:     issued.Token,
		ExpiresAt: issued.ExpiresAt,
		Session: dto.SessionInfo{
			ID:         issued.Session.ID,
			ExpiresAt:  issued.Session.ExpiresAt,
			DeviceName: issued.Session.DeviceName,
		},
	})
}

// Finish stores the WiFi credentials delivered by a device and consumes
// its pairing token
// POST /api/v1/provisioning/finish
func (h *ProvisioningHandler) Finish(c *gin.Context) {
	var req dto.FinishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.FinishResponse{OK: false, Error: "invalid request body"})
		return
	}

	err := h.pairingService.Finish(c.Request.Context(), pairing.FinishRequest{
		Token:      req.Token,
		SSID:       req.SSID,
		Password:   req.Password,
		DeviceName: pairing.ResolveLabel(req.DeviceName, c.GetHeader(deviceNameHeader), c.Query("device_name")),
	})
	if err != nil {
		status, message := finishError(err)
		if status >= http.StatusInternalServerError {
			slog.Error("Failed to finish provisioning", "error", err, "token", pairing.TokenPrefix(req.Token))
		}
		c.JSON(status, dto.FinishResponse{OK: false, Error: message})
		return
	}

	c.JSON(http.StatusOK, dto.FinishResponse{OK: true, Message: "device credentials stored"})
}

func finishError(err error) (int, string) {
	switch {
	case errors.Is(err, pairing.ErrInvalidRequest):
		return http.StatusBadRequest, "missing fields (token, ssid, password)"
	case errors.Is(err, pairing.ErrSessionNotFound):
		return http.StatusBadRequest, "invalid token"
	case errors.Is(err, pairing.ErrTokenAlreadyUsed):
		return http.StatusBadRequest, "token already used"
	case errors.Is(err, pairing.ErrTokenExpired):
		return http.StatusBadRequest, "token expired"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// CredentialsExist reports whether the caller already has a paired device
// GET /api/v1/devices/credentials/exists
func (h *ProvisioningHandler) CredentialsExist(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user_id not found in context"})
		return
	}

	exists, err := h.pairingService.HasCredential(c.Request.Context(), userID)
	if err != nil {
		slog.Error("Failed to check device credentials", "error", err, "user_id", userID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to check device credentials"})
		return
	}

	c.JSON(http.StatusOK, dto.CredentialExistsResponse{Exists: exists})
}

// ListCredentials returns the caller's stored credentials without the sealed data
// GET /api/v1/devices/credentials
func (h *ProvisioningHandler) ListCredentials(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user_id not found in context"})
		return
	}

	creds, err := h.pairingService.ListCredentials(c.Request.Context(), userID)
	if err != nil {
		slog.Error("Failed to list device credentials", "error", err, "user_id", userID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list device credentials"})
		return
	}

	infos := make([]dto.CredentialInfo, len(creds))
	for i, cr := range creds {
		infos[i] = dto.CredentialInfo{
			ID:         cr.ID,
			DeviceName: cr.DeviceName,
			SessionID:  cr.SessionID,
			CreatedAt:  cr.CreatedAt,
		}
	}

	c.JSON(http.StatusOK, dto.ListCredentialsResponse{Credentials: infos, Count: len(infos)})
}

// SessionStatus reports whether the caller's session was consumed
// GET /api/v1/provisioning/sessions/:hash
func (h *ProvisioningHandler) SessionStatus(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user_id not found in context"})
		return
	}

	status, err := h.pairingService.SessionStatus(c.Request.Context(), userID, c.Param("hash"))
	if err != nil {
		switch {
		case errors.Is(err, pairing.ErrInvalidRequest):
			c.JSON(http.StatusBadRequest, gin.H{"error": "token hash is required"})
		case errors.Is(err, pairing.ErrSessionNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		default:
			slog.Error("Failed to get session status", "error", err, "user_id", userID)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get session status"})
		}
		return
	}

	c.JSON(http.StatusOK, dto.SessionStatusResponse{
		Consumed:   status.Consumed,
		ExpiresAt:  status.ExpiresAt,
		ConsumedAt: status.ConsumedAt,
	})
}
