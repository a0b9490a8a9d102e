package mockserver

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"nodewatch/internal/constants"
	"nodewatch/internal/rest"
	"nodewatch/internal/security"
	"nodewatch/internal/types"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  constants.WSBufferSize,
	WriteBufferSize: constants.WSBufferSize,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func newToken() string {
	return uuid.NewString()
}

func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	clientIP := security.GetClientIP(r)

	if !s.ConnLimiter.Acquire(clientIP) {
		http.Error(w, "Connection limit exceeded", http.StatusTooManyRequests)
		return
	}
	defer s.ConnLimiter.Release(clientIP)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("❌ WebSocket upgrade error: %v", err)
		return
	}
	conn.SetReadLimit(int64(constants.MaxWSMessageSize))

	c := &client{
		srv:  s,
		conn: conn,
		ip:   clientIP,
		done: make(chan struct{}),
	}
	s.addClient(c)
	log.Printf("🔌 Client connected from %s", clientIP)

	c.send(map[string]interface{}{"type": "connected", "message": "nodewatch mock monitor", "server_time": time.Now().UnixMilli()})
	c.readLoop()

	close(c.done)
	s.removeClient(c)
	c.releaseSlot()
	conn.Close()
	log.Printf("🔌 Client disconnected: %s %s", clientIP, c.walletAddress())
}

// HandleNodes serves the HTTP fallback list, authenticated by wallet headers.
func (s *Server) HandleNodes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	walletAddr := types.NormalizeWallet(r.Header.Get(rest.HeaderWallet))
	sig := r.Header.Get(rest.HeaderSignature)
	msg := rest.DecodeMessage(r.Header.Get(rest.HeaderMessage))
	if walletAddr == "" || sig == "" || msg == "" {
		http.Error(w, "missing wallet headers", http.StatusUnauthorized)
		return
	}
	if !s.BruteProtector.Check(walletAddr) {
		http.Error(w, "too many failed attempts", http.StatusTooManyRequests)
		return
	}
	if !s.verify(walletAddr, msg, sig) {
		s.BruteProtector.RecordFailure(walletAddr)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}
	s.BruteProtector.RecordSuccess(walletAddr)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"nodes": s.fleetFor(walletAddr).rest(),
	})
}
