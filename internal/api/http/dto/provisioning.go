package dto

import "time"

type CreateTokenRequest struct {
	DeviceName *string `json:"device_name"`
}

type SessionInfo struct {
	ID         string    `json:"id"`
	ExpiresAt  time.Time `json:"expires_at"`
	DeviceName string    `json:"device_name,omitempty"`
}

type CreateTokenResponse struct {
	Token     string      `json:"token"` // Only returned on creation
	ExpiresAt time.Time   `json:"expires_at"`
	Session   SessionInfo `json:"session"`
}

type FinishRequest struct {
	Token      string  `json:"token"`
	SSID       string  `json:"ssid"`
	Password   string  `json:"password"`
	DeviceName *string `json:"device_name"`
}

type FinishResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

type CredentialExistsResponse struct {
	Exists bool `json:"exists"`
}

type SessionStatusResponse struct {
	Consumed   bool       `json:"consumed"`
	ExpiresAt  time.Time  `json:"expires_at"`
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
}

type CredentialInfo struct {
	ID         string    `json:"id"`
	DeviceName string    `json:"device_name,omitempty"`
	SessionID  string    `json:"session_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type ListCredentialsResponse struct {
	Credentials []CredentialInfo `json:"credentials"`
	Count       int              `json:"count"`
}
