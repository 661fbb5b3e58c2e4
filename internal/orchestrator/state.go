package orchestrator

type State int

const (
	StateCheckExisting State = iota
	StateIntro
	StateTokenCreated
	StateConnectInstruction
	StateCredentialEntry
	StateSent
	StateActivateInstruction
	StatePolling
	StateComplete
	StateError
)

var stateNames = [...]string{
	StateCheckExisting:       "check_existing",
	StateIntro:               "intro",
	StateTokenCreated:        "token_created",
	StateConnectInstruction:  "connect_instruction",
	StateCredentialEntry:     "credential_entry",
	StateSent:                "sent",
	StateActivateInstruction: "activate_instruction",
	StatePolling:             "polling",
	StateComplete:            "complete",
	StateError:               "error",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Event is a typed input to Flow.Dispatch.
type Event interface {
	eventName() string
}

// EvStart runs the existing-credential check.
type EvStart struct{}

// EvCreateToken requests a fresh pairing token, discarding any held one.
type EvCreateToken struct {
	Label string
}

// EvContinue moves from the issued token to the connect instructions.
type EvContinue struct{}

// EvConnected reports that the operator joined the device's access point.
type EvConnected struct{}

type EvSubmitCredentials struct {
	SSID     string
	Password string
	Label    string
}

// EvActivated reports that the operator is back on a network with internet
// access, so completion can be polled.
type EvActivated struct{}

// EvRetry leaves the error sub-state for the state that failed.
type EvRetry struct{}

// EvCancel abandons the flow, cancelling any poll and dropping the token.
type EvCancel struct{}

func (EvStart) eventName() string             { return "start" }
func (EvCreateToken) eventName() string       { return "create_token" }
func (EvContinue) eventName() string          { return "continue" }
func (EvConnected) eventName() string         { return "connected" }
func (EvSubmitCredentials) eventName() string { return "submit_credentials" }
func (EvActivated) eventName() string         { return "activated" }
func (EvRetry) eventName() string             { return "retry" }
func (EvCancel) eventName() string            { return "cancel" }
