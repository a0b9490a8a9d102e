package mockserver

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"nodewatch/internal/constants"
	"nodewatch/internal/security"
	"nodewatch/internal/session"
	"nodewatch/internal/types"
	"nodewatch/internal/wallet"
)

const (
	EndpointWebSocket = "/ws"
	EndpointNodes     = "/api/nodes"
	EndpointHealth    = "/healthz"
)

// Faults toggles misbehaviour for exercising client recovery paths.
type Faults struct {
	DropPong        atomic.Bool
	RejectSession   atomic.Bool
	RejectSignature atomic.Bool
	OmitToken       atomic.Bool
}

type Options struct {
	StatusInterval time.Duration
	SessionTTL     time.Duration
	MaxConnsPerIP  int
	// MaxSocketsPerWallet caps authenticated sockets of one wallet.
	MaxSocketsPerWallet int
	MaxAuthFails        int
	Store               session.StoreInterface
	// Verify checks a wallet signature; wallet.Verify when nil.
	Verify func(address, message, signature string) bool
}

type Stats struct {
	Connections    int
	Challenges     int64
	SessionAuths   int64
	SignatureAuths int64
}

type nodeGrant struct {
	wallet    string
	node      string
	expiresAt time.Time
}

// Server is an in-process stand-in for the node monitoring service.
type Server struct {
	Store          session.StoreInterface
	Faults         Faults
	ConnLimiter    *security.SlotLimiter
	WalletLimiter  *security.SlotLimiter
	BruteProtector *security.BruteForceProtector

	opts   Options
	verify func(address, message, signature string) bool

	mu      sync.Mutex
	clients map[*client]struct{}
	fleets  map[string]*fleet
	grants  map[string]nodeGrant

	challenges     atomic.Int64
	sessionAuths   atomic.Int64
	signatureAuths atomic.Int64
}

func NewServer(opts Options) *Server {
	if opts.StatusInterval <= 0 {
		opts.StatusInterval = constants.MockStatusInterval
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = constants.MockSessionTTL
	}
	if opts.MaxConnsPerIP <= 0 {
		opts.MaxConnsPerIP = 32
	}
	if opts.MaxSocketsPerWallet <= 0 {
		opts.MaxSocketsPerWallet = 4
	}
	if opts.MaxAuthFails <= 0 {
		opts.MaxAuthFails = 5
	}
	if opts.Store == nil {
		opts.Store = session.NewMemoryStore()
	}
	verify := opts.Verify
	if verify == nil {
		verify = wallet.Verify
	}

	s := &Server{
		Store:          opts.Store,
		ConnLimiter:    security.NewSlotLimiter(opts.MaxConnsPerIP),
		WalletLimiter:  security.NewSlotLimiter(opts.MaxSocketsPerWallet),
		BruteProtector: security.NewBruteForceProtector(opts.MaxAuthFails, time.Minute),
		opts:           opts,
		verify:         verify,
		clients:        make(map[*client]struct{}),
		fleets:         make(map[string]*fleet),
		grants:         make(map[string]nodeGrant),
	}

	s.Store.OnExpire(func(wallet string) {
		log.Printf("🗑 Session expired: %s", wallet)
	})
	return s
}

// Handler returns the full middleware chain, HTTP/2 cleartext capable.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(EndpointWebSocket, s.HandleWebSocket)
	mux.HandleFunc(EndpointNodes, s.HandleNodes)
	mux.HandleFunc(EndpointHealth, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	var handler http.Handler = mux
	handler = security.MaxBodySize(1 << 20)(handler)
	handler = RecoveryMiddleware(handler)
	handler = CorsMiddleware(handler)
	handler = security.SecurityHeaders(handler)
	handler = GzipMiddleware(handler)
	return h2c.NewHandler(handler, &http2.Server{})
}

// Run serves on port until SIGINT/SIGTERM.
func (s *Server) Run(port string) error {
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           s.Handler(),
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	log.Printf("🚀 mock monitor listening on :%s (ws %s, status every %s)", port, EndpointWebSocket, s.opts.StatusInterval)

	select {
	case err := <-errCh:
		s.Cleanup()
		return fmt.Errorf("http server error: %w", err)
	case <-sigChan:
	}
	log.Println("🛑 Shutting down mock monitor...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	s.Cleanup()
	log.Println("✅ Mock monitor stopped")
	return nil
}

func (s *Server) Cleanup() {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.closeWith(constants.CloseGoingAway, "server shutting down")
	}
	s.BruteProtector.Close()
	s.Store.Close()
}

func (s *Server) fleetFor(wallet string) *fleet {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.fleets[wallet]
	if !ok {
		f = newFleet(wallet)
		s.fleets[wallet] = f
	}
	return f
}

func (s *Server) addClient(c *client) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}

func (s *Server) walletClients(wallet string) []*client {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*client
	for c := range s.clients {
		if wallet == "" || c.walletAddress() == wallet {
			out = append(out, c)
		}
	}
	return out
}

// DropConnections closes every socket without a close frame.
func (s *Server) DropConnections() {
	for _, c := range s.walletClients("") {
		c.conn.Close()
	}
}

// CloseConnections sends a normal close to every socket.
func (s *Server) CloseConnections() {
	for _, c := range s.walletClients("") {
		c.closeNormal("bye")
	}
}

// GoAway closes every socket with 1001, as a restarting server does.
func (s *Server) GoAway() {
	for _, c := range s.walletClients("") {
		c.closeWith(constants.CloseGoingAway, "server restarting")
	}
}

// Push sends v to every connection authenticated for wallet.
func (s *Server) Push(wallet string, v interface{}) {
	for _, c := range s.walletClients(types.NormalizeWallet(wallet)) {
		c.send(v)
	}
}

// RevokeSession forgets wallet's session so the next session auth fails.
func (s *Server) RevokeSession(wallet string) {
	s.Store.Delete(types.NormalizeWallet(wallet))
}

// NodeReferences lists the fleet of wallet.
func (s *Server) NodeReferences(wallet string) []string {
	nodes := s.fleetFor(types.NormalizeWallet(wallet)).snapshot()
	refs := make([]string, len(nodes))
	for i, n := range nodes {
		refs[i] = n.ReferenceCode
	}
	return refs
}

func (s *Server) Stats() Stats {
	s.mu.Lock()
	conns := len(s.clients)
	s.mu.Unlock()
	return Stats{
		Connections:    conns,
		Challenges:     s.challenges.Load(),
		SessionAuths:   s.sessionAuths.Load(),
		SignatureAuths: s.signatureAuths.Load(),
	}
}

func (s *Server) grant(wallet, node string, ttl time.Duration) (string, time.Time) {
	token := newToken()
	expires := time.Now().Add(ttl)
	s.mu.Lock()
	s.grants[token] = nodeGrant{wallet: wallet, node: node, expiresAt: expires}
	s.mu.Unlock()
	return token, expires
}

func (s *Server) checkGrant(token, wallet, node string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grants[token]
	if !ok {
		return false
	}
	if !time.Now().Before(g.expiresAt) {
		delete(s.grants, token)
		return false
	}
	return g.wallet == wallet && g.node == node
}

// RevokeNodeGrants expires every remote token of node.
func (s *Server) RevokeNodeGrants(node string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for token, g := range s.grants {
		if g.node == node {
			delete(s.grants, token)
		}
	}
}
