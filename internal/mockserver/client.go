package mockserver

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"nodewatch/internal/constants"
	"nodewatch/internal/nodes"
	"nodewatch/internal/protocol"
	"nodewatch/internal/security"
	"nodewatch/internal/types"
)

type inbound struct {
	Type          string   `json:"type"`
	RequestID     string   `json:"request_id"`
	WalletAddress string   `json:"wallet_address"`
	Signature     string   `json:"signature"`
	Message       string   `json:"message"`
	WalletType    string   `json:"wallet_type"`
	SessionToken  string   `json:"session_token"`
	JWTToken      string   `json:"jwt_token"`
	NodeReference string   `json:"node_reference"`
	AuthToken     string   `json:"auth_token"`
	Command       string   `json:"command"`
	Args          []string `json:"args"`
	Timestamp     int64    `json:"timestamp"`
}

// client is one monitoring socket. Only readLoop mutates its state; the
// status ticker only reads the wallet.
type client struct {
	srv  *Server
	conn *websocket.Conn
	ip   string
	wmu  sync.Mutex
	done chan struct{}

	mu         sync.Mutex
	wallet     string
	challenge  string
	authed     bool
	slot       string
	monitoring chan struct{}
}

func (c *client) walletAddress() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.authed {
		return ""
	}
	return c.wallet
}

func (c *client) send(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(constants.WriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *client) closeNormal(reason string) {
	c.closeWith(constants.CloseNormal, reason)
}

func (c *client) closeWith(code int, reason string) {
	c.wmu.Lock()
	msg := websocket.FormatCloseMessage(code, reason)
	c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.wmu.Unlock()
	c.conn.Close()
}

func (c *client) fail(code, message, requestID, nodeRef string) {
	frame := map[string]interface{}{"type": protocol.TypeError, "code": code, "message": message}
	if requestID != "" {
		frame["request_id"] = requestID
	}
	if nodeRef != "" {
		frame["node_reference"] = nodeRef
	}
	c.send(frame)
}

func (c *client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.stopMonitoring()
			return
		}
		var in inbound
		if err := json.Unmarshal(data, &in); err != nil {
			c.fail("BAD_REQUEST", "invalid json", "", "")
			continue
		}
		c.handle(in)
	}
}

func (c *client) handle(in inbound) {
	switch in.Type {
	case protocol.TypeGetMessage:
		c.issueChallenge(in)
	case protocol.TypeAuth:
		if in.SessionToken != "" {
			c.authSession(in)
		} else {
			c.authSignature(in)
		}
	case protocol.TypeStartMonitor:
		c.startMonitoring()
	case protocol.TypeStopMonitor:
		if c.stopMonitoring() {
			c.send(map[string]interface{}{"type": protocol.TypeMonitorStopped})
		}
	case protocol.TypePing:
		if c.srv.Faults.DropPong.Load() {
			return
		}
		c.send(map[string]interface{}{"type": protocol.TypePong, "timestamp": in.Timestamp})
	case protocol.TypeRemoteAuth:
		c.remoteAuth(in)
	case protocol.TypeExecute:
		c.execute(in)
	default:
		c.fail("UNKNOWN_TYPE", fmt.Sprintf("unsupported message type %q", in.Type), in.RequestID, "")
	}
}

func (c *client) issueChallenge(in inbound) {
	wallet := types.NormalizeWallet(in.WalletAddress)
	if wallet == "" {
		c.fail(protocol.CodeAuthFailed, "wallet_address is required", "", "")
		return
	}
	challenge := fmt.Sprintf("Sign this message to authenticate with the nodewatch monitor.\nWallet: %s\nNonce: %s\nIssued: %d",
		wallet, newToken(), time.Now().Unix())

	c.mu.Lock()
	c.wallet = wallet
	c.challenge = challenge
	c.mu.Unlock()

	c.srv.challenges.Add(1)
	c.send(map[string]interface{}{"type": protocol.TypeSignatureMessage, "message": challenge})
}

func (c *client) authSignature(in inbound) {
	wallet := types.NormalizeWallet(in.WalletAddress)
	c.mu.Lock()
	expected, challenge := c.wallet, c.challenge
	c.mu.Unlock()

	if !c.srv.BruteProtector.Check(wallet) {
		c.fail(protocol.CodeAuthFailed, "too many failed attempts", "", "")
		return
	}
	if challenge == "" || wallet != expected || in.Message != challenge ||
		c.srv.Faults.RejectSignature.Load() || !c.srv.verify(wallet, in.Message, in.Signature) {
		n := c.srv.BruteProtector.RecordFailure(wallet)
		log.Printf("⚠️  Signature rejected for %s (%d failures)", wallet, n)
		c.fail(protocol.CodeInvalidSignature, "signature verification failed", "", "")
		return
	}
	c.srv.BruteProtector.RecordSuccess(wallet)

	token := newToken()
	c.srv.Store.Save(types.SessionToken{
		WalletAddress: wallet,
		Token:         token,
		ExpiresAt:     time.Now().Add(c.srv.opts.SessionTTL),
	})
	c.srv.signatureAuths.Add(1)
	c.authenticated(wallet, token)
}

func (c *client) authSession(in inbound) {
	wallet := types.NormalizeWallet(in.WalletAddress)
	st, ok := c.srv.Store.Get(wallet)
	switch {
	case !ok:
		c.fail(protocol.CodeSessionExpired, "session expired", "", "")
		return
	case st.Token != in.SessionToken || c.srv.Faults.RejectSession.Load():
		c.fail(protocol.CodeInvalidSession, "invalid session", "", "")
		return
	}

	c.mu.Lock()
	c.wallet = wallet
	c.mu.Unlock()
	c.srv.sessionAuths.Add(1)
	c.authenticated(wallet, "")
}

func (c *client) authenticated(wallet, token string) {
	c.mu.Lock()
	if c.slot != wallet {
		if !c.srv.WalletLimiter.Acquire(wallet) {
			c.mu.Unlock()
			log.Printf("⚠️  Socket limit reached for %s", wallet)
			c.fail(protocol.CodeTooManySockets, "too many sockets for wallet", "", "")
			return
		}
		if c.slot != "" {
			c.srv.WalletLimiter.Release(c.slot)
		}
		c.slot = wallet
	}
	c.authed = true
	c.challenge = ""
	c.mu.Unlock()

	frame := map[string]interface{}{
		"type":  protocol.TypeAuthSuccess,
		"nodes": c.srv.fleetFor(wallet).snapshot(),
	}
	if token != "" && !c.srv.Faults.OmitToken.Load() {
		frame["session_token"] = token
		frame["expires_in"] = int64(c.srv.opts.SessionTTL / time.Second)
	}
	log.Printf("✅ Authenticated %s", wallet)
	c.send(frame)
}

// releaseSlot frees the wallet slot taken on authentication.
func (c *client) releaseSlot() {
	c.mu.Lock()
	slot := c.slot
	c.slot = ""
	c.mu.Unlock()
	if slot != "" {
		c.srv.WalletLimiter.Release(slot)
	}
}

func (c *client) isAuthed() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wallet, c.authed
}

func (c *client) startMonitoring() {
	wallet, ok := c.isAuthed()
	if !ok {
		c.fail(protocol.CodeUnauthorized, "authenticate first", "", "")
		return
	}

	c.mu.Lock()
	if c.monitoring != nil {
		c.mu.Unlock()
		c.send(map[string]interface{}{"type": protocol.TypeMonitorStarted})
		return
	}
	stop := make(chan struct{})
	c.monitoring = stop
	c.mu.Unlock()

	f := c.srv.fleetFor(wallet)
	c.send(map[string]interface{}{"type": protocol.TypeMonitorStarted})
	c.sendStatus(f)

	go func() {
		ticker := time.NewTicker(c.srv.opts.StatusInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-c.done:
				return
			case now := <-ticker.C:
				f.step(now)
				if err := c.sendStatus(f); err != nil {
					return
				}
			}
		}
	}()
}

func (c *client) stopMonitoring() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.monitoring == nil {
		return false
	}
	close(c.monitoring)
	c.monitoring = nil
	return true
}

func (c *client) sendStatus(f *fleet) error {
	fleetNodes := f.snapshot()
	raw, _ := json.Marshal(fleetNodes)
	records, _ := nodes.Normalize(raw, nodes.SourceRealtime)
	return c.send(map[string]interface{}{
		"type":    protocol.TypeStatusUpdate,
		"nodes":   fleetNodes,
		"summary": nodes.Summarize(records),
	})
}

func (c *client) remoteAuth(in inbound) {
	wallet, ok := c.isAuthed()
	if !ok {
		c.fail(protocol.CodeUnauthorized, "authenticate first", in.RequestID, in.NodeReference)
		return
	}
	if _, owned := c.srv.fleetFor(wallet).owns(in.NodeReference); !owned {
		c.fail(protocol.CodeRemoteAuthFailed, "unknown node", in.RequestID, in.NodeReference)
		return
	}
	if strings.Count(in.JWTToken, ".") != 2 {
		c.fail(protocol.CodeRemoteAuthFailed, "malformed jwt", in.RequestID, in.NodeReference)
		return
	}

	token, expires := c.srv.grant(wallet, in.NodeReference, constants.NodeAuthTTL)
	c.send(map[string]interface{}{
		"type":           protocol.TypeRemoteAuthSuccess,
		"request_id":     in.RequestID,
		"success":        true,
		"node_reference": in.NodeReference,
		"token":          token,
		"expires_in":     int64(time.Until(expires) / time.Second),
	})
}

func (c *client) execute(in inbound) {
	wallet, ok := c.isAuthed()
	if !ok {
		c.fail(protocol.CodeUnauthorized, "authenticate first", in.RequestID, in.NodeReference)
		return
	}
	if !c.srv.checkGrant(in.AuthToken, wallet, in.NodeReference) {
		c.fail(protocol.CodeRemoteAuthExpiry, "remote authorization expired", in.RequestID, in.NodeReference)
		return
	}
	node, _ := c.srv.fleetFor(wallet).owns(in.NodeReference)

	args := make([]string, len(in.Args))
	for i, a := range in.Args {
		args[i] = security.SanitizeInput(a)
	}

	reply := map[string]interface{}{
		"type":       protocol.TypeCommandResult,
		"request_id": in.RequestID,
		"success":    true,
	}
	switch security.SanitizeInput(in.Command) {
	case "status":
		reply["data"] = node
	case "uptime":
		reply["data"] = map[string]interface{}{"heartbeats": node.Heartbeat.Count, "last_seen": node.LastSeen}
	case "echo":
		reply["data"] = map[string]interface{}{"output": strings.Join(args, " ")}
	case "restart":
		reply["data"] = map[string]interface{}{"output": "restart scheduled for " + node.Name}
	default:
		reply["success"] = false
		reply["code"] = "UNKNOWN_COMMAND"
		reply["error"] = fmt.Sprintf("unknown command %q", in.Command)
	}
	c.send(reply)
}
