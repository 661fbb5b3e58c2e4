package device

type State int

const (
	StateReceived State = iota
	StateConfigWritten
	StateApStopped
	StateClientAttempt
	StateConnected
	StateBackendNotified
	StateProvisioned
	StateFailed
	StateApRestored
)

var stateNames = [...]string{
	StateReceived:        "received",
	StateConfigWritten:   "config_written",
	StateApStopped:       "ap_stopped",
	StateClientAttempt:   "client_attempt",
	StateConnected:       "connected",
	StateBackendNotified: "backend_notified",
	StateProvisioned:     "provisioned",
	StateFailed:          "failed",
	StateApRestored:      "ap_restored",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether a run ends in s.
func (s State) Terminal() bool {
	return s == StateProvisioned || s == StateApRestored
}

// Role is the network role the radio currently plays.
type Role string

const (
	RoleAccessPoint Role = "access_point"
	RoleClient      Role = "client"
)
