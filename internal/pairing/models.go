package pairing

import (
	"time"
)

type ProvisioningSession struct {
	ID         string
	UserID     string
	TokenHash  string
	DeviceName string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	Consumed   bool
	ConsumedAt *time.Time
}

// DeviceCredential describes a stored credential. The sealed blob never
// leaves the store through this type.
type DeviceCredential struct {
	ID         string
	UserID     string
	DeviceName string
	SessionID  string
	CreatedAt  time.Time
}

// IssuedToken is the result of CreateToken. Token is the only copy of the
// plaintext; it is not recoverable from storage.
type IssuedToken struct {
	Token     string
	ExpiresAt time.Time
	Session   ProvisioningSession
}

type FinishRequest struct {
	Token      string
	SSID       string
	Password   string
	DeviceName string
}

type SessionStatus struct {
	Consumed   bool
	ExpiresAt  time.Time
	ConsumedAt *time.Time
}
