package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evvos/pairing/internal/api/http/dto"
)

func TestHTTPBackend(t *testing.T) {
	expires := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/devices/credentials/exists", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(dto.CredentialExistsResponse{Exists: true})
	})
	mux.HandleFunc("POST /api/v1/provisioning/tokens", func(w http.ResponseWriter, r *http.Request) {
		var req dto.CreateTokenRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotNil(t, req.DeviceName)
		assert.Equal(t, "porch", *req.DeviceName)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(dto.CreateTokenResponse{Token: "pt_abc", ExpiresAt: expires})
	})
	mux.HandleFunc("GET /api/v1/provisioning/sessions/{hash}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("hash") != "deadbeef" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"session not found"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(dto.SessionStatusResponse{Consumed: true, ExpiresAt: expires})
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer id-token" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid token"}`))
			return
		}
		mux.ServeHTTP(w, r)
	}))
	defer srv.Close()

	ctx := context.Background()
	backend := NewHTTPBackend(srv.URL+"/", "id-token", time.Second)

	exists, err := backend.HasCredential(ctx)
	require.NoError(t, err)
	assert.True(t, exists)

	token, err := backend.CreateToken(ctx, "porch")
	require.NoError(t, err)
	assert.Equal(t, Token{Value: "pt_abc", ExpiresAt: expires}, token)

	consumed, err := backend.SessionConsumed(ctx, "deadbeef")
	require.NoError(t, err)
	assert.True(t, consumed)

	_, err = backend.SessionConsumed(ctx, "other")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "session not found", apiErr.Message)

	_, err = NewHTTPBackend(srv.URL, "wrong", time.Second).HasCredential(ctx)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}

func TestHTTPDevice(t *testing.T) {
	var got dto.ProvisionRequest
	mux := http.NewServeMux()
	mux.HandleFunc("POST /provision", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		if got.SSID == "BadNet" {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(dto.ProvisionResponse{Error: "Provisioning failed", Detail: "backend finish returned 400: token expired"})
			return
		}
		_ = json.NewEncoder(w).Encode(dto.ProvisionResponse{OK: true, Message: "provisioned"})
	})
	mux.HandleFunc("GET /provision-status", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(dto.ProvisionStatusResponse{OK: true, Provisioned: true})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx := context.Background()
	device := NewHTTPDevice(srv.URL, time.Second)

	require.NoError(t, device.Provision(ctx, ProvisionRequest{Token: "pt_abc", SSID: "HomeNet", Password: "hunter22"}))
	assert.Equal(t, "pt_abc", got.Token)
	assert.Nil(t, got.DeviceName)

	err := device.Provision(ctx, ProvisionRequest{Token: "pt_abc", SSID: "BadNet", Password: "hunter22", DeviceName: "porch"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, "Provisioning failed", apiErr.Message)
	assert.Contains(t, apiErr.Detail, "token expired")
	require.NotNil(t, got.DeviceName)
	assert.Equal(t, "porch", *got.DeviceName)

	provisioned, err := device.Provisioned(ctx)
	require.NoError(t, err)
	assert.True(t, provisioned)
}
