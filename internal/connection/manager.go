package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"nodewatch/internal/hub"
	"nodewatch/internal/logger"
	"nodewatch/internal/metrics"
	"nodewatch/internal/protocol"
	"nodewatch/internal/session"
	"nodewatch/internal/signature"
	"nodewatch/internal/types"
)

// Deps are the collaborators a Manager drives. Nil Hub and Sessions get
// private defaults; Logger and Metrics may stay nil.
type Deps struct {
	Hub        *hub.Hub
	Signatures *signature.Cache
	Sessions   *session.Cache
	Logger     *logger.Logger
	Metrics    *metrics.Metrics
}

// Manager owns the single monitoring socket of one wallet. A supervisor
// goroutine, started by Connect, is the only writer of the connection state
// while it runs. Every public method returns without waiting on the network.
type Manager struct {
	cfg      Config
	hub      *hub.Hub
	sigs     *signature.Cache
	sessions *session.Cache
	log      *logger.Logger
	metrics  *metrics.Metrics

	mu       sync.Mutex
	snap     types.StateSnapshot
	sock     *socket
	running  bool
	stopping bool
	restart  bool
	monitor  bool
	cancel   context.CancelFunc
	done     chan struct{}
	kick     chan struct{}
}

func NewManager(cfg Config, deps Deps) *Manager {
	cfg = cfg.withDefaults()
	if deps.Hub == nil {
		deps.Hub = hub.NewHub()
	}
	if deps.Sessions == nil {
		deps.Sessions = session.NewCache(nil)
	}
	if deps.Signatures == nil {
		deps.Signatures = signature.NewCache(nil)
	}
	done := make(chan struct{})
	close(done)
	return &Manager{
		cfg:      cfg,
		hub:      deps.Hub,
		sigs:     deps.Signatures,
		sessions: deps.Sessions,
		log:      deps.Logger,
		metrics:  deps.Metrics,
		monitor:  cfg.AutoMonitor,
		done:     done,
		kick:     make(chan struct{}, 1),
		snap: types.StateSnapshot{
			Wallet: cfg.Wallet,
			State:  types.StateIdle,
			Since:  time.Now(),
		},
	}
}

func (m *Manager) Wallet() string { return m.cfg.Wallet }

func (m *Manager) Hub() *hub.Hub { return m.hub }

func (m *Manager) State() types.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap.State
}

func (m *Manager) Snapshot() types.StateSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

func (m *Manager) Subscribe(fn func(hub.Event)) func() {
	return m.hub.Subscribe(fn)
}

func (m *Manager) SubscribeChan(buffer int) chan hub.Event {
	return m.hub.SubscribeChan(buffer)
}

func (m *Manager) Unsubscribe(ch chan hub.Event) {
	m.hub.Unsubscribe(ch)
}

// Done is closed when the current supervisor exits.
func (m *Manager) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

// Connect starts the connection if none is running. Repeated calls while a
// connection is open or being established are no-ops.
func (m *Manager) Connect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		if m.stopping {
			m.restart = true
		}
		return
	}
	m.start()
}

// Retry reconnects after Error or Closed. While waiting out a reconnect
// delay it skips the remaining wait.
func (m *Manager) Retry() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		if m.stopping {
			m.restart = true
			return
		}
		select {
		case m.kick <- struct{}{}:
		default:
		}
		return
	}
	m.start()
}

func (m *Manager) start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.running = true
	m.stopping = false
	m.restart = false
	m.cancel = cancel
	m.done = make(chan struct{})
	select {
	case <-m.kick:
	default:
	}
	go m.run(ctx, m.done)
}

// Disconnect closes the socket with a normal close code. No reconnect follows.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.restart = false
	if m.running {
		m.stopping = true
		m.cancel()
		m.mu.Unlock()
		return
	}
	state := m.snap.State
	m.mu.Unlock()

	if state != types.StateClosed {
		m.transition(types.StateClosed, nil)
	}
}

// Logout disconnects and forgets the wallet's session and signature.
func (m *Manager) Logout() {
	m.Disconnect()
	m.sessions.Clear(m.cfg.Wallet)
	m.sigs.Clear()
	m.log.LogEvent("logged out")
}

// StartMonitoring requests the status stream. Before authentication the
// request is remembered and sent once authenticated.
func (m *Manager) StartMonitoring() error {
	m.mu.Lock()
	m.monitor = true
	sock, state := m.sock, m.snap.State
	m.mu.Unlock()

	if sock == nil || state != types.StateAuthenticated {
		return nil
	}
	return sock.write(protocol.StartMonitor())
}

func (m *Manager) StopMonitoring() error {
	m.mu.Lock()
	m.monitor = false
	sock, state := m.sock, m.snap.State
	m.mu.Unlock()

	if sock == nil || state != types.StateMonitoring {
		return nil
	}
	return sock.write(protocol.StopMonitor())
}

// Send writes frame on the open socket.
func (m *Manager) Send(frame protocol.Frame) error {
	m.mu.Lock()
	sock, state := m.sock, m.snap.State
	m.mu.Unlock()

	if sock == nil || !state.IsOpen() {
		return types.ErrNotConnected
	}
	return sock.write(frame)
}

func (m *Manager) wantMonitor() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.monitor
}

func (m *Manager) transition(to types.ConnectionState, err error) {
	m.mu.Lock()
	prev := m.snap.State
	m.snap.State = to
	m.snap.Err = err
	m.snap.Reason = types.Reason(err)
	m.snap.Since = time.Now()
	m.snap.HasSocket = m.sock != nil && to.IsOpen()
	if to == types.StateConnected {
		m.snap.Attempt = 0
	}
	reason := m.snap.Reason
	m.mu.Unlock()

	m.log.LogState(prev.String(), to.String(), reason)
	m.metrics.Transition(to.String())
	m.hub.Publish(hub.StateEvent(m.cfg.Wallet, prev, to, err))
}

func (m *Manager) setAttempt(n int) {
	m.mu.Lock()
	m.snap.Attempt = n
	m.mu.Unlock()
}

func (m *Manager) setPong(at time.Time) {
	m.mu.Lock()
	m.snap.LastPong = at
	m.mu.Unlock()
}

// surface records err without changing state.
func (m *Manager) surface(err error) {
	m.mu.Lock()
	m.snap.Err = err
	m.snap.Reason = types.Reason(err)
	state := m.snap.State
	m.mu.Unlock()

	m.log.LogError("server->client", err)
	m.hub.Publish(hub.ErrorEvent(m.cfg.Wallet, state, err))
}

type endKind int

const (
	endStopped endKind = iota
	endNormal
	endFatal
	endAbnormal
)

type outcome struct {
	kind   endKind
	err    error
	opened bool
}

func (m *Manager) run(ctx context.Context, done chan struct{}) {
	defer m.finish(done)

	attempt := 0
	everOpened := false
	for {
		out := m.serve(ctx)
		if out.opened {
			attempt = 0
			everOpened = true
		}

		switch out.kind {
		case endStopped, endNormal:
			m.transition(types.StateClosed, nil)
			return
		case endFatal:
			m.transition(types.StateError, out.err)
			return
		}

		if !everOpened && attempt == 0 {
			m.transition(types.StateError, out.err)
			return
		}
		if attempt >= m.cfg.MaxReconnects {
			m.log.LogEvent(fmt.Sprintf("giving up after %d reconnect attempts", attempt))
			m.transition(types.StateClosed, fmt.Errorf("%w: %w", types.ErrPermanentFailure, out.err))
			return
		}

		delay := Backoff(attempt, m.cfg.ReconnectBase, m.cfg.ReconnectMax)
		attempt++
		m.setAttempt(attempt)
		m.metrics.Reconnect()
		m.log.LogEvent(fmt.Sprintf("reconnect %d/%d in %s", attempt, m.cfg.MaxReconnects, delay))
		m.transition(types.StateReconnecting, out.err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			m.transition(types.StateClosed, nil)
			return
		case <-m.kick:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (m *Manager) finish(done chan struct{}) {
	m.mu.Lock()
	m.running = false
	m.stopping = false
	m.sock = nil
	m.cancel()
	restart := m.restart
	m.restart = false
	close(done)
	m.mu.Unlock()

	if restart {
		m.Connect()
	}
}

type signResult struct {
	seq  uint64
	cred types.Credential
	err  error
}

// link is the per-socket handshake and keepalive state.
type link struct {
	m           *Manager
	ctx         context.Context
	sock        *socket
	stop        chan struct{}
	signs       chan signResult
	signSeq     uint64
	retried     bool
	usedSession bool
	lastPong    time.Time
	handshake   *time.Timer
}

func (m *Manager) serve(ctx context.Context) outcome {
	m.transition(types.StateConnecting, nil)

	conn, err := dial(ctx, m.cfg, m.log)
	if err != nil {
		if ctx.Err() != nil {
			return outcome{kind: endStopped}
		}
		m.log.LogError("client->server", err)
		return outcome{kind: endAbnormal, err: err}
	}
	m.log.LogEvent(fmt.Sprintf("WebSocket connected to %s", conn.RemoteAddr()))

	sock := &socket{conn: conn, log: m.log, metrics: m.metrics}
	m.mu.Lock()
	m.sock = sock
	m.mu.Unlock()

	l := &link{
		m:     m,
		ctx:   ctx,
		sock:  sock,
		stop:  make(chan struct{}),
		signs: make(chan signResult),
	}
	frames := make(chan []byte)
	readErrs := make(chan error, 1)
	go sock.readLoop(frames, readErrs, l.stop)

	out := l.loop(frames, readErrs)
	out.opened = true

	close(l.stop)
	if out.kind == endStopped || out.kind == endFatal {
		sock.closeNormal("client closing")
	} else {
		sock.drop()
	}
	m.mu.Lock()
	m.sock = nil
	m.mu.Unlock()
	return out
}

func (l *link) loop(frames <-chan []byte, readErrs <-chan error) outcome {
	m := l.m
	m.transition(types.StateConnected, nil)

	// bounds each wait on the server during the handshake
	l.handshake = time.NewTimer(m.cfg.ConnectTimeout)
	defer l.handshake.Stop()
	l.begin()

	ticker := time.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.ctx.Done():
			return outcome{kind: endStopped}

		case data := <-frames:
			if out := l.handle(data); out != nil {
				return *out
			}

		case res := <-l.signs:
			if out := l.signed(res); out != nil {
				return *out
			}

		case <-ticker.C:
			if out := l.keepalive(time.Now()); out != nil {
				return *out
			}

		case <-l.handshake.C:
			if out := l.handshakeExpired(); out != nil {
				return *out
			}

		case err := <-readErrs:
			if l.ctx.Err() != nil {
				return outcome{kind: endStopped}
			}
			if isNormalClose(err) {
				m.log.LogEvent("server closed the connection")
				return outcome{kind: endNormal}
			}
			m.log.LogError("server->client", err)
			return outcome{kind: endAbnormal, err: fmt.Errorf("%w: %v", types.ErrTransport, err)}
		}
	}
}

// begin reuses a cached session when one exists, otherwise asks for a challenge.
func (l *link) begin() {
	m := l.m
	if tok, ok := m.sessions.Get(m.cfg.Wallet); ok {
		l.usedSession = true
		l.send(protocol.AuthWithSession(tok.Token, m.cfg.Wallet))
		l.awaitServer()
		m.transition(types.StateAuthenticating, nil)
		return
	}
	l.requestChallenge()
}

func (l *link) requestChallenge() {
	l.usedSession = false
	l.send(protocol.GetMessage(l.m.cfg.Wallet))
	l.awaitServer()
	l.m.transition(types.StateRequestingChallenge, nil)
}

// awaitServer restarts the handshake deadline for the next server reply.
func (l *link) awaitServer() {
	l.handshake.Reset(l.m.cfg.ConnectTimeout)
}

// handshakeExpired drops a socket whose server stopped answering while a
// challenge or auth reply was due. Signing waits on the wallet and is exempt.
func (l *link) handshakeExpired() *outcome {
	m := l.m
	switch state := m.State(); state {
	case types.StateRequestingChallenge, types.StateAuthenticating:
		m.log.LogEvent(fmt.Sprintf("no reply in %s while %s, dropping connection", m.cfg.ConnectTimeout, state))
		return &outcome{kind: endAbnormal, err: fmt.Errorf("%w: handshake timeout", types.ErrTransport)}
	}
	return nil
}

func (l *link) send(frame protocol.Frame) {
	if err := l.sock.write(frame); err != nil {
		// the read loop reports the broken connection
		l.m.log.LogError("client->server", err)
	}
}

func (l *link) method() string {
	if l.usedSession {
		return "session"
	}
	return "signature"
}

func (l *link) handle(data []byte) *outcome {
	m := l.m
	env, err := protocol.Decode(data)
	if err != nil {
		m.log.LogError("server->client", err)
		return nil
	}
	m.log.LogFrame("server->client", env.Type, len(data))
	m.metrics.Frame("in", env.Type)

	state := m.State()
	m.hub.Publish(hub.FrameEvent(m.cfg.Wallet, state, env))

	switch env.Type {
	case protocol.TypeSignatureMessage:
		if state != types.StateRequestingChallenge {
			return nil
		}
		var msg protocol.SignatureMessage
		if err := env.Into(&msg); err != nil || msg.Message == "" {
			return &outcome{kind: endFatal, err: &types.ServerError{Message: "invalid signature challenge"}}
		}
		l.signSeq++
		m.transition(types.StateSigning, nil)
		go l.sign(l.signSeq, msg.Message)

	case protocol.TypeAuthSuccess:
		if state != types.StateAuthenticating {
			return nil
		}
		var msg protocol.AuthSuccess
		if err := env.Into(&msg); err != nil {
			m.log.LogError("server->client", err)
		}
		if msg.SessionToken != "" {
			ttl := m.cfg.SessionTTL
			if msg.ExpiresIn > 0 {
				ttl = time.Duration(msg.ExpiresIn) * time.Second
			}
			m.sessions.Store(m.cfg.Wallet, msg.SessionToken, ttl)
		}
		m.metrics.Auth(l.method(), "ok")
		l.lastPong = time.Now()
		m.setPong(l.lastPong)
		m.transition(types.StateAuthenticated, nil)
		if m.wantMonitor() {
			l.send(protocol.StartMonitor())
		}

	case protocol.TypeMonitorStarted:
		if state == types.StateAuthenticated {
			m.transition(types.StateMonitoring, nil)
		}

	case protocol.TypeMonitorStopped:
		if state == types.StateMonitoring {
			m.transition(types.StateAuthenticated, nil)
		}

	case protocol.TypePong:
		l.lastPong = time.Now()
		m.setPong(l.lastPong)

	case protocol.TypeError:
		return l.serverError(env, state)
	}
	return nil
}

func (l *link) serverError(env protocol.Envelope, state types.ConnectionState) *outcome {
	m := l.m
	var ef protocol.ErrorFrame
	if err := env.Into(&ef); err != nil {
		m.log.LogError("server->client", err)
		return nil
	}
	// node and request scoped errors belong to remote auth and the correlator
	if ef.NodeReference != "" || ef.RequestID != "" {
		return nil
	}
	serr := &types.ServerError{Code: ef.Code, Message: ef.Message}

	switch state {
	case types.StateRequestingChallenge, types.StateSigning, types.StateAuthenticating:
		if !protocol.IsAuthCode(ef.Code) {
			return &outcome{kind: endFatal, err: serr}
		}
		m.sessions.Clear(m.cfg.Wallet)
		m.sigs.Clear()
		m.metrics.Auth(l.method(), "rejected")
		if !l.retried && state == types.StateAuthenticating {
			l.retried = true
			l.signSeq++
			m.log.LogEvent(fmt.Sprintf("%s auth rejected (%s), requesting new challenge", l.method(), ef.Code))
			l.requestChallenge()
			return nil
		}
		return &outcome{kind: endFatal, err: fmt.Errorf("%w: %w", types.ErrAuthRejected, serr)}

	case types.StateAuthenticated, types.StateMonitoring:
		if protocol.IsAuthCode(ef.Code) {
			m.sessions.Clear(m.cfg.Wallet)
		}
	}
	m.surface(serr)
	return nil
}

func (l *link) sign(seq uint64, challenge string) {
	cred, err := l.m.sigs.SignChallenge(l.ctx, l.m.cfg.Wallet, challenge)
	select {
	case l.signs <- signResult{seq: seq, cred: cred, err: err}:
	case <-l.stop:
	}
}

func (l *link) signed(res signResult) *outcome {
	m := l.m
	if res.seq != l.signSeq || m.State() != types.StateSigning {
		return nil
	}
	if res.err != nil {
		if l.ctx.Err() != nil {
			return &outcome{kind: endStopped}
		}
		m.metrics.Auth("signature", "declined")
		err := res.err
		if !errors.Is(err, types.ErrSigningDeclined) {
			err = fmt.Errorf("%w: %v", types.ErrSigningDeclined, err)
		}
		return &outcome{kind: endFatal, err: err}
	}
	l.send(protocol.AuthWithSignature(m.cfg.Wallet, res.cred.Signature, res.cred.ChallengeMessage, m.cfg.WalletType))
	l.awaitServer()
	m.transition(types.StateAuthenticating, nil)
	return nil
}

func (l *link) keepalive(now time.Time) *outcome {
	m := l.m
	if !m.State().IsAuthenticated() {
		return nil
	}
	if silent := now.Sub(l.lastPong); silent > m.cfg.PongTimeout {
		m.log.LogEvent(fmt.Sprintf("no pong for %s, dropping connection", silent.Round(time.Millisecond)))
		return &outcome{kind: endAbnormal, err: fmt.Errorf("%w: keepalive timeout", types.ErrTransport)}
	}
	l.send(protocol.Ping(now))
	return nil
}
