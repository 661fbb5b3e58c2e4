package device

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultBackendTimeout = 15 * time.Second
	maxDetailBytes        = 1024
)

// Notifier reports a joined network to the backend.
type Notifier interface {
	Finish(ctx context.Context, req Request) error
}

type BackendConfig struct {
	FinishURL  string        `mapstructure:"finish_url"`
	ServiceKey string        `mapstructure:"service_key"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// NotifyError is returned when the backend cannot be reached or rejects the
// finish call. It matches ErrBackendNotify.
type NotifyError struct {
	StatusCode int
	Detail     string
	Err        error
}

func (e *NotifyError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("backend finish returned %d: %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("backend finish failed: %s", e.Detail)
}

func (e *NotifyError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrBackendNotify, e.Err}
	}
	return []error{ErrBackendNotify}
}

type FinishClient struct {
	url        string
	serviceKey string
	client     *http.Client
}

func NewFinishClient(cfg BackendConfig) *FinishClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultBackendTimeout
	}
	return &FinishClient{
		url:        cfg.FinishURL,
		serviceKey: cfg.ServiceKey,
		client:     &http.Client{Timeout: timeout},
	}
}

type finishPayload struct {
	Token      string `json:"token"`
	SSID       string `json:"ssid"`
	Password   string `json:"password"`
	DeviceName string `json:"device_name,omitempty"`
}

func (c *FinishClient) Finish(ctx context.Context, req Request) error {
	body, err := json.Marshal(finishPayload{
		Token:      req.Token,
		SSID:       req.SSID,
		Password:   req.Password,
		DeviceName: req.DeviceName,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return &NotifyError{Detail: err.Error(), Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.serviceKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return &NotifyError{Detail: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxDetailBytes))
		return &NotifyError{StatusCode: resp.StatusCode, Detail: strings.TrimSpace(string(detail))}
	}
	return nil
}
