package rpc

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"nodewatch/internal/hub"
	"nodewatch/internal/protocol"
	"nodewatch/internal/types"
)

type fakeConn struct {
	hub   *hub.Hub
	mu    sync.Mutex
	state types.ConnectionState
	sent  chan protocol.Frame
	err   error
}

func newFakeConn() *fakeConn {
	return &fakeConn{hub: hub.NewHub(), state: types.StateMonitoring, sent: make(chan protocol.Frame, 8)}
}

func (f *fakeConn) Send(frame protocol.Frame) error {
	if f.err != nil {
		return f.err
	}
	f.sent <- frame
	return nil
}

func (f *fakeConn) State() types.ConnectionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeConn) Subscribe(fn func(hub.Event)) func() { return f.hub.Subscribe(fn) }

func (f *fakeConn) reply(t *testing.T, body string) {
	t.Helper()
	env, err := protocol.Decode([]byte(body))
	if err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	f.hub.Publish(hub.FrameEvent("0xabc", types.StateMonitoring, env))
}

func (f *fakeConn) setState(s types.ConnectionState) {
	f.mu.Lock()
	prev := f.state
	f.state = s
	f.mu.Unlock()
	f.hub.Publish(hub.StateEvent("0xabc", prev, s, nil))
}

func TestSendResolvesMatchingReply(t *testing.T) {
	conn := newFakeConn()
	c := New(conn, nil)
	defer c.Close()

	done := make(chan protocol.Envelope, 1)
	go func() {
		env, err := c.Send(context.Background(), "remote_auth", map[string]any{"jwt_token": "x"}, time.Second)
		if err != nil {
			t.Errorf("send: %v", err)
		}
		done <- env
	}()

	frame := <-conn.sent
	id, _ := frame["request_id"].(string)
	if id == "" || frame.Type() != "remote_auth" || frame["jwt_token"] != "x" {
		t.Fatalf("unexpected frame %v", frame)
	}

	conn.reply(t, `{"request_id":"unknown","success":true}`)
	conn.reply(t, `{"type":"remote_auth_success","request_id":"`+id+`","success":true}`)
	// a duplicate reply must be ignored
	conn.reply(t, `{"type":"remote_auth_success","request_id":"`+id+`","success":false}`)

	select {
	case env := <-done:
		if env.Type != "remote_auth_success" {
			t.Fatalf("unexpected reply %+v", env)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for reply")
	}
	if c.Pending() != 0 {
		t.Fatalf("expected no pending requests, got %d", c.Pending())
	}
}

func TestSendFailureReplyIsServerError(t *testing.T) {
	conn := newFakeConn()
	c := New(conn, nil)
	defer c.Close()

	errs := make(chan error, 1)
	go func() {
		_, err := c.Send(context.Background(), "execute_command", nil, time.Second)
		errs <- err
	}()
	frame := <-conn.sent
	conn.reply(t, `{"type":"command_result","request_id":"`+frame["request_id"].(string)+`","success":false,"code":"DENIED","error":"not allowed"}`)

	err := <-errs
	var se *types.ServerError
	if !errors.As(err, &se) || se.Code != "DENIED" || se.Message != "not allowed" {
		t.Fatalf("expected server error, got %v", err)
	}
}

func TestSendTimeoutRemovesPending(t *testing.T) {
	conn := newFakeConn()
	c := New(conn, nil)
	defer c.Close()

	start := time.Now()
	_, err := c.Send(context.Background(), "remote_auth", nil, 50*time.Millisecond)
	if !IsTimeout(err) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("timeout took too long")
	}
	if c.Pending() != 0 {
		t.Fatalf("expected pending to be cleaned up, got %d", c.Pending())
	}

	frame := <-conn.sent
	// a late reply for the timed out request is a no-op
	conn.reply(t, `{"request_id":"`+frame["request_id"].(string)+`","success":true}`)
}

func TestConnectionLossRejectsPending(t *testing.T) {
	conn := newFakeConn()
	c := New(conn, nil)
	defer c.Close()

	errs := make(chan error, 1)
	go func() {
		_, err := c.Send(context.Background(), "remote_auth", nil, 5*time.Second)
		errs <- err
	}()
	<-conn.sent
	conn.setState(types.StateReconnecting)

	select {
	case err := <-errs:
		if !errors.Is(err, types.ErrTransport) {
			t.Fatalf("expected transport error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending request was not rejected")
	}
}

func TestSendRequiresAuthenticatedConnection(t *testing.T) {
	conn := newFakeConn()
	conn.state = types.StateSigning
	c := New(conn, nil)
	defer c.Close()

	if _, err := c.Send(context.Background(), "remote_auth", nil, time.Second); !errors.Is(err, types.ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
	conn.state = types.StateClosed
	if _, err := c.Send(context.Background(), "remote_auth", nil, time.Second); !errors.Is(err, types.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestContextCancelSettlesOnce(t *testing.T) {
	conn := newFakeConn()
	c := New(conn, nil)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, err := c.Send(ctx, "remote_auth", nil, 5*time.Second)
		errs <- err
	}()
	<-conn.sent
	cancel()

	if err := <-errs; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if c.Pending() != 0 {
		t.Fatalf("expected no pending requests, got %d", c.Pending())
	}
}
