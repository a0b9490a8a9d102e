package rpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"nodewatch/internal/constants"
	"nodewatch/internal/hub"
	"nodewatch/internal/metrics"
	"nodewatch/internal/protocol"
	"nodewatch/internal/types"
)

// Conn is the slice of the connection manager a Correlator needs.
type Conn interface {
	Send(frame protocol.Frame) error
	State() types.ConnectionState
	Subscribe(fn func(hub.Event)) func()
}

type result struct {
	env protocol.Envelope
	err error
}

type pendingRequest struct {
	frameType string
	ch        chan result
	timer     *time.Timer
}

// Correlator matches replies to requests by request_id. Every request is
// settled exactly once: by its reply, its timeout, its context, or the loss
// of the authenticated connection.
type Correlator struct {
	conn    Conn
	metrics *metrics.Metrics
	unsub   func()

	mu      sync.Mutex
	pending map[string]*pendingRequest
	closed  bool
}

func New(conn Conn, m *metrics.Metrics) *Correlator {
	c := &Correlator{
		conn:    conn,
		metrics: m,
		pending: make(map[string]*pendingRequest),
	}
	c.unsub = conn.Subscribe(c.onEvent)
	return c
}

// Send writes a frame of frameType carrying payload and a fresh request_id,
// then waits for the matching reply. A non-positive timeout uses the default.
func (c *Correlator) Send(ctx context.Context, frameType string, payload map[string]any, timeout time.Duration) (protocol.Envelope, error) {
	if timeout <= 0 {
		timeout = constants.RequestTimeout
	}
	state := c.conn.State()
	if !state.IsOpen() {
		return protocol.Envelope{}, types.ErrNotConnected
	}
	if !state.IsAuthenticated() {
		return protocol.Envelope{}, types.ErrNotAuthorized
	}

	id := uuid.NewString()
	frame := protocol.Frame{}
	for k, v := range payload {
		frame[k] = v
	}
	frame["type"] = frameType
	frame["request_id"] = id

	p := &pendingRequest{frameType: frameType, ch: make(chan result, 1)}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return protocol.Envelope{}, fmt.Errorf("%w: correlator closed", types.ErrTransport)
	}
	c.pending[id] = p
	p.timer = time.AfterFunc(timeout, func() {
		c.settle(id, result{err: fmt.Errorf("%w: %s after %s", types.ErrRequestTimeout, frameType, timeout)}, "timeout")
	})
	n := len(c.pending)
	c.mu.Unlock()
	c.metrics.SetPending(n)

	if err := c.conn.Send(frame); err != nil {
		c.settle(id, result{err: err}, "send_error")
	}

	select {
	case res := <-p.ch:
		return res.env, res.err
	case <-ctx.Done():
		if c.settle(id, result{err: ctx.Err()}, "cancelled") {
			return protocol.Envelope{}, ctx.Err()
		}
		res := <-p.ch
		return res.env, res.err
	}
}

// Exec runs a command on a managed node and decodes its reply.
func (c *Correlator) Exec(ctx context.Context, nodeRef, token, command string, args []string, timeout time.Duration) (protocol.Reply, error) {
	payload := map[string]any{
		"node_reference": nodeRef,
		"auth_token":     token,
		"command":        command,
	}
	if len(args) > 0 {
		payload["args"] = args
	}
	env, err := c.Send(ctx, protocol.TypeExecute, payload, timeout)
	if err != nil {
		return protocol.Reply{}, err
	}
	var reply protocol.Reply
	if err := env.Into(&reply); err != nil {
		return protocol.Reply{}, fmt.Errorf("decode command_result: %w", err)
	}
	return reply, nil
}

// settle delivers res to the request once. It reports whether this call did it.
func (c *Correlator) settle(id string, res result, outcome string) bool {
	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	n := len(c.pending)
	c.mu.Unlock()

	if !ok {
		return false
	}
	p.timer.Stop()
	p.ch <- res
	c.metrics.SetPending(n)
	c.metrics.Request(outcome)
	return true
}

func (c *Correlator) onEvent(evt hub.Event) {
	switch evt.Kind {
	case hub.EventFrame:
		if evt.Frame.RequestID == "" {
			return
		}
		env := evt.Frame
		if err := replyError(env); err != nil {
			c.settle(env.RequestID, result{env: env, err: err}, "error")
			return
		}
		c.settle(env.RequestID, result{env: env}, "ok")

	case hub.EventState:
		if evt.Previous.IsAuthenticated() && !evt.State.IsAuthenticated() {
			c.rejectAll(fmt.Errorf("%w: connection %s", types.ErrTransport, evt.State))
		}
	}
}

func replyError(env protocol.Envelope) error {
	failed := env.Type == protocol.TypeError || (env.Success != nil && !*env.Success)
	if !failed {
		return nil
	}
	var reply protocol.Reply
	if err := env.Into(&reply); err != nil {
		return &types.ServerError{Message: "request failed"}
	}
	msg := reply.Error
	if msg == "" {
		msg = reply.Message
	}
	if msg == "" {
		msg = "request failed"
	}
	return &types.ServerError{Code: reply.Code, Message: msg}
}

func (c *Correlator) rejectAll(err error) {
	c.mu.Lock()
	ids := make([]string, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		c.settle(id, result{err: err}, "rejected")
	}
}

func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close rejects everything pending and stops listening.
func (c *Correlator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.unsub()
	c.rejectAll(fmt.Errorf("%w: correlator closed", types.ErrTransport))
}

// IsTimeout reports whether err came from a request timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, types.ErrRequestTimeout)
}
