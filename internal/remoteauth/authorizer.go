package remoteauth

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"nodewatch/internal/constants"
	"nodewatch/internal/hub"
	"nodewatch/internal/metrics"
	"nodewatch/internal/protocol"
	"nodewatch/internal/rpc"
	"nodewatch/internal/types"
)

type Kind string

const (
	Authorized Kind = "authorized"
	Expired    Kind = "expired"
	Failed     Kind = "error"
)

type Notification struct {
	Kind          Kind
	NodeReference string
	Token         types.NodeAuthToken
	Err           error
	At            time.Time
}

type listener struct {
	id uint64
	fn func(Notification)
}

// Authorizer holds per-node credentials obtained over an authenticated
// primary connection.
type Authorizer struct {
	conn    rpc.Conn
	corr    *rpc.Correlator
	metrics *metrics.Metrics
	ttl     time.Duration
	now     func() time.Time
	unsub   func()

	mu        sync.Mutex
	tokens    map[string]types.NodeAuthToken
	nextID    uint64
	listeners []listener
}

func New(conn rpc.Conn, corr *rpc.Correlator, m *metrics.Metrics) *Authorizer {
	a := &Authorizer{
		conn:    conn,
		corr:    corr,
		metrics: m,
		ttl:     constants.NodeAuthTTL,
		now:     time.Now,
		tokens:  make(map[string]types.NodeAuthToken),
	}
	a.unsub = conn.Subscribe(a.onEvent)
	return a
}

// Authorize exchanges credential for a node token. The primary session must
// be authenticated.
func (a *Authorizer) Authorize(ctx context.Context, nodeRef, credential string) (types.NodeAuthToken, error) {
	if nodeRef == "" || credential == "" {
		return types.NodeAuthToken{}, fmt.Errorf("node reference and credential are required")
	}
	if !a.conn.State().IsAuthenticated() {
		return types.NodeAuthToken{}, types.ErrNotAuthorized
	}

	env, err := a.corr.Send(ctx, protocol.TypeRemoteAuth, map[string]any{
		"jwt_token":      credential,
		"node_reference": nodeRef,
	}, constants.RemoteAuthWindow)
	if err != nil {
		a.notify(Notification{Kind: Failed, NodeReference: nodeRef, Err: err})
		return types.NodeAuthToken{}, err
	}

	var msg protocol.RemoteAuthSuccess
	if err := env.Into(&msg); err != nil {
		err = fmt.Errorf("decode remote_auth_success: %w", err)
		a.notify(Notification{Kind: Failed, NodeReference: nodeRef, Err: err})
		return types.NodeAuthToken{}, err
	}

	ttl := a.ttl
	if msg.ExpiresIn > 0 {
		ttl = time.Duration(msg.ExpiresIn) * time.Second
	}
	tokenValue := msg.Token
	if tokenValue == "" {
		tokenValue = credential
	}
	now := a.now()
	token := types.NodeAuthToken{
		NodeReference: nodeRef,
		Token:         tokenValue,
		CreatedAt:     now,
		ExpiresAt:     now.Add(ttl),
	}

	a.mu.Lock()
	a.tokens[nodeRef] = token
	n := len(a.tokens)
	a.mu.Unlock()
	a.metrics.SetRemoteTokens(n)

	a.notify(Notification{Kind: Authorized, NodeReference: nodeRef, Token: token})
	return token, nil
}

func (a *Authorizer) IsAuthorized(nodeRef string) bool {
	_, ok := a.Token(nodeRef)
	return ok
}

// Token returns the node's live token, expiring it lazily.
func (a *Authorizer) Token(nodeRef string) (types.NodeAuthToken, bool) {
	a.mu.Lock()
	token, ok := a.tokens[nodeRef]
	expired := ok && !a.now().Before(token.ExpiresAt)
	if expired {
		delete(a.tokens, nodeRef)
	}
	n := len(a.tokens)
	a.mu.Unlock()

	if expired {
		a.metrics.SetRemoteTokens(n)
		a.notify(Notification{Kind: Expired, NodeReference: nodeRef, Token: token})
		return types.NodeAuthToken{}, false
	}
	return token, ok
}

func (a *Authorizer) Invalidate(nodeRef string) {
	if token, ok := a.remove(nodeRef); ok {
		a.notify(Notification{Kind: Expired, NodeReference: nodeRef, Token: token})
	}
}

func (a *Authorizer) remove(nodeRef string) (types.NodeAuthToken, bool) {
	a.mu.Lock()
	token, ok := a.tokens[nodeRef]
	delete(a.tokens, nodeRef)
	n := len(a.tokens)
	a.mu.Unlock()
	if ok {
		a.metrics.SetRemoteTokens(n)
	}
	return token, ok
}

func (a *Authorizer) clearAll() {
	a.mu.Lock()
	tokens := a.tokens
	a.tokens = make(map[string]types.NodeAuthToken)
	a.mu.Unlock()
	a.metrics.SetRemoteTokens(0)

	for ref, token := range tokens {
		a.notify(Notification{Kind: Expired, NodeReference: ref, Token: token})
	}
}

func (a *Authorizer) onEvent(evt hub.Event) {
	switch evt.Kind {
	case hub.EventState:
		if evt.State == types.StateClosed || evt.State == types.StateError {
			a.clearAll()
		}

	case hub.EventFrame:
		if evt.Frame.Type != protocol.TypeError {
			return
		}
		var ef protocol.ErrorFrame
		if err := evt.Frame.Into(&ef); err != nil || ef.NodeReference == "" {
			return
		}
		if !isRemoteAuthCode(ef.Code) {
			return
		}
		a.remove(ef.NodeReference)
		a.notify(Notification{
			Kind:          Failed,
			NodeReference: ef.NodeReference,
			Err:           &types.ServerError{Code: ef.Code, Message: ef.Message},
		})
	}
}

func isRemoteAuthCode(code string) bool {
	return code == protocol.CodeRemoteAuthFailed || code == protocol.CodeRemoteAuthExpiry || protocol.IsAuthCode(code)
}

// Subscribe registers fn for notifications and returns an idempotent unsubscribe.
func (a *Authorizer) Subscribe(fn func(Notification)) func() {
	a.mu.Lock()
	a.nextID++
	id := a.nextID
	a.listeners = append(a.listeners, listener{id: id, fn: fn})
	a.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			defer a.mu.Unlock()
			for i, l := range a.listeners {
				if l.id == id {
					a.listeners = append(a.listeners[:i:i], a.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

func (a *Authorizer) notify(n Notification) {
	n.At = a.now()
	a.mu.Lock()
	listeners := make([]listener, len(a.listeners))
	copy(listeners, a.listeners)
	a.mu.Unlock()

	for _, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("remoteauth: listener panicked on %s: %v", n.Kind, r)
				}
			}()
			l.fn(n)
		}()
	}
}

func (a *Authorizer) Close() {
	a.unsub()
}
