package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Outbound frame types.
const (
	TypeGetMessage   = "get_message"
	TypeAuth         = "auth"
	TypeStartMonitor = "start_monitor"
	TypeStopMonitor  = "stop_monitor"
	TypePing         = "ping"
	TypeRemoteAuth   = "remote_auth"
	TypeExecute      = "execute_command"
)

// Inbound frame types.
const (
	TypeConnected         = "connected"
	TypeSignatureMessage  = "signature_message"
	TypeAuthSuccess       = "auth_success"
	TypeMonitorStarted    = "monitor_started"
	TypeMonitorStopped    = "monitor_stopped"
	TypeStatusUpdate      = "status_update"
	TypePong              = "pong"
	TypeError             = "error"
	TypeRemoteAuthSuccess = "remote_auth_success"
	TypeCommandResult     = "command_result"
)

// Error codes the service uses for credential problems.
const (
	CodeInvalidSession   = "INVALID_SESSION"
	CodeSessionExpired   = "SESSION_EXPIRED"
	CodeInvalidSignature = "INVALID_SIGNATURE"
	CodeAuthFailed       = "AUTH_FAILED"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeRemoteAuthFailed = "REMOTE_AUTH_FAILED"
	CodeRemoteAuthExpiry = "REMOTE_AUTH_EXPIRED"
	CodeTooManySockets   = "TOO_MANY_SOCKETS"
)

// Frame is an outbound JSON message.
type Frame map[string]interface{}

func (f Frame) Type() string {
	t, _ := f["type"].(string)
	return t
}

func GetMessage(wallet string) Frame {
	return Frame{"type": TypeGetMessage, "wallet_address": wallet}
}

func AuthWithSignature(wallet, signature, message, walletType string) Frame {
	return Frame{
		"type":           TypeAuth,
		"wallet_address": wallet,
		"signature":      signature,
		"message":        message,
		"wallet_type":    walletType,
	}
}

func AuthWithSession(token, wallet string) Frame {
	return Frame{"type": TypeAuth, "session_token": token, "wallet_address": wallet}
}

func StartMonitor() Frame { return Frame{"type": TypeStartMonitor} }

func StopMonitor() Frame { return Frame{"type": TypeStopMonitor} }

func Ping(now time.Time) Frame {
	return Frame{"type": TypePing, "timestamp": now.UnixMilli()}
}

func RemoteAuth(jwt, nodeRef string) Frame {
	return Frame{"type": TypeRemoteAuth, "jwt_token": jwt, "node_reference": nodeRef}
}

// Envelope is an inbound frame with its routing fields decoded and the full
// body kept for typed decoding by whoever consumes it.
type Envelope struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Success   *bool           `json:"success,omitempty"`
	Raw       json.RawMessage `json:"-"`
}

func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode frame: %w", err)
	}
	if env.Type == "" && env.RequestID == "" {
		return Envelope{}, fmt.Errorf("decode frame: missing type")
	}
	env.Raw = append(json.RawMessage(nil), data...)
	return env, nil
}

// Into decodes the full frame body into v.
func (e Envelope) Into(v interface{}) error {
	if len(e.Raw) == 0 {
		return fmt.Errorf("empty %s frame", e.Type)
	}
	return json.Unmarshal(e.Raw, v)
}

type SignatureMessage struct {
	Message string `json:"message"`
}

type AuthSuccess struct {
	SessionToken string          `json:"session_token,omitempty"`
	ExpiresIn    int64           `json:"expires_in,omitempty"` // seconds
	Nodes        json.RawMessage `json:"nodes,omitempty"`
}

type StatusUpdate struct {
	Nodes   json.RawMessage `json:"nodes"`
	Summary json.RawMessage `json:"summary,omitempty"`
}

type ErrorFrame struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	NodeReference string `json:"node_reference,omitempty"`
	RequestID     string `json:"request_id,omitempty"`
}

// IsAuthCode reports whether code signals a rejected session or signature.
func IsAuthCode(code string) bool {
	switch code {
	case CodeInvalidSession, CodeSessionExpired, CodeInvalidSignature, CodeAuthFailed, CodeUnauthorized:
		return true
	}
	return false
}

type Pong struct {
	Timestamp int64 `json:"timestamp"`
}

// Reply is the common shape of correlated responses.
type Reply struct {
	RequestID string          `json:"request_id"`
	Success   bool            `json:"success"`
	Code      string          `json:"code,omitempty"`
	Error     string          `json:"error,omitempty"`
	Message   string          `json:"message,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

type RemoteAuthSuccess struct {
	RequestID     string `json:"request_id"`
	NodeReference string `json:"node_reference"`
	Token         string `json:"token,omitempty"`
	ExpiresIn     int64  `json:"expires_in,omitempty"`
}
