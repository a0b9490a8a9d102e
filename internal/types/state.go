package types

import (
	"encoding/json"
	"time"
)

// ConnectionState is the lifecycle position of the single monitoring socket
// owned by a connection manager.
type ConnectionState int

const (
	StateIdle ConnectionState = iota
	StateConnecting
	StateConnected
	StateRequestingChallenge
	StateSigning
	StateAuthenticating
	StateAuthenticated
	StateMonitoring
	StateReconnecting
	StateError
	StateClosed
)

var stateNames = [...]string{
	StateIdle:                "idle",
	StateConnecting:          "connecting",
	StateConnected:           "connected",
	StateRequestingChallenge: "requesting_challenge",
	StateSigning:             "signing",
	StateAuthenticating:      "authenticating",
	StateAuthenticated:       "authenticated",
	StateMonitoring:          "monitoring",
	StateReconnecting:        "reconnecting",
	StateError:               "error",
	StateClosed:              "closed",
}

func (s ConnectionState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

func (s ConnectionState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// IsOpen reports whether a physical socket exists in this state.
func (s ConnectionState) IsOpen() bool {
	switch s {
	case StateConnected, StateRequestingChallenge, StateSigning, StateAuthenticating, StateAuthenticated, StateMonitoring:
		return true
	}
	return false
}

// IsAuthenticated reports whether the primary session is usable.
func (s ConnectionState) IsAuthenticated() bool {
	return s == StateAuthenticated || s == StateMonitoring
}

// StateSnapshot is a read-only copy of a manager's state handed to consumers.
type StateSnapshot struct {
	Wallet    string          `json:"wallet"`
	State     ConnectionState `json:"state"`
	Reason    string          `json:"reason,omitempty"`
	Err       error           `json:"-"`
	Attempt   int             `json:"attempt"`
	Since     time.Time       `json:"since"`
	LastPong  time.Time       `json:"last_pong,omitempty"`
	HasSocket bool            `json:"has_socket"`
}

// Retryable reports whether the UI should offer a retry action.
func (s StateSnapshot) Retryable() bool {
	return s.State == StateError || (s.State == StateClosed && s.Err != nil)
}
