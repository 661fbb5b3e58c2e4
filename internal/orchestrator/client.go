package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/evvos/pairing/internal/api/http/dto"
)

const (
	DefaultBackendTimeout = 15 * time.Second
	// The device answers only after its join loop and the backend call.
	DefaultDeviceTimeout = 90 * time.Second
	maxErrorBody         = 4096
)

// APIError is a non-200 response from the backend or the device.
type APIError struct {
	StatusCode int
	Message    string
	Detail     string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Detail != "" {
		return fmt.Sprintf("HTTP %d: %s (%s)", e.StatusCode, msg, e.Detail)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, msg)
}

type HTTPBackend struct {
	baseURL       string
	identityToken string
	client        *http.Client
}

func NewHTTPBackend(baseURL, identityToken string, timeout time.Duration) *HTTPBackend {
	if timeout <= 0 {
		timeout = DefaultBackendTimeout
	}
	return &HTTPBackend{
		baseURL:       strings.TrimRight(baseURL, "/"),
		identityToken: identityToken,
		client:        &http.Client{Timeout: timeout},
	}
}

func (b *HTTPBackend) HasCredential(ctx context.Context) (bool, error) {
	var resp dto.CredentialExistsResponse
	if err := b.do(ctx, http.MethodGet, "/api/v1/devices/credentials/exists", nil, &resp); err != nil {
		return false, err
	}
	return resp.Exists, nil
}

func (b *HTTPBackend) CreateToken(ctx context.Context, label string) (Token, error) {
	var req dto.CreateTokenRequest
	if label != "" {
		req.DeviceName = &label
	}
	var resp dto.CreateTokenResponse
	if err := b.do(ctx, http.MethodPost, "/api/v1/provisioning/tokens", req, &resp); err != nil {
		return Token{}, err
	}
	if resp.Token == "" {
		return Token{}, fmt.Errorf("backend returned an empty token")
	}
	return Token{Value: resp.Token, ExpiresAt: resp.ExpiresAt}, nil
}

func (b *HTTPBackend) SessionConsumed(ctx context.Context, tokenHash string) (bool, error) {
	var resp dto.SessionStatusResponse
	path := "/api/v1/provisioning/sessions/" + url.PathEscape(tokenHash)
	if err := b.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return false, err
	}
	return resp.Consumed, nil
}

func (b *HTTPBackend) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+b.identityToken)

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return readAPIError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

type HTTPDevice struct {
	baseURL string
	client  *http.Client
}

func NewHTTPDevice(baseURL string, timeout time.Duration) *HTTPDevice {
	if timeout <= 0 {
		timeout = DefaultDeviceTimeout
	}
	return &HTTPDevice{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (d *HTTPDevice) Provision(ctx context.Context, in ProvisionRequest) error {
	payload := dto.ProvisionRequest{
		Token:    in.Token,
		SSID:     in.SSID,
		Password: in.Password,
	}
	if in.DeviceName != "" {
		payload.DeviceName = &in.DeviceName
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/provision", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to device: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return readAPIError(resp)
	}
	return nil
}

// Provisioned asks the device whether it already holds network credentials.
func (d *HTTPDevice) Provisioned(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/provision-status", nil)
	if err != nil {
		return false, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to connect to device: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, readAPIError(resp)
	}
	var status dto.ProvisionStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return false, fmt.Errorf("failed to parse response: %w", err)
	}
	return status.Provisioned, nil
}

// readAPIError understands both the backend ({error}) and the device
// ({ok, error, detail}) failure bodies.
func readAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var body dto.ProvisionResponse
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		apiErr.Message = body.Error
		apiErr.Detail = body.Detail
	} else {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	return apiErr
}
