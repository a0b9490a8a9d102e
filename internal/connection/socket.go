package connection

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"nodewatch/internal/constants"
	"nodewatch/internal/logger"
	"nodewatch/internal/metrics"
	"nodewatch/internal/protocol"
	"nodewatch/internal/types"
)

// socket serialises writes to one websocket connection.
type socket struct {
	conn    *websocket.Conn
	mu      sync.Mutex
	log     *logger.Logger
	metrics *metrics.Metrics
}

func dial(ctx context.Context, cfg Config, log *logger.Logger) (*websocket.Conn, error) {
	dialer := &websocket.Dialer{
		ReadBufferSize:   constants.WSBufferSize,
		WriteBufferSize:  constants.WSBufferSize,
		HandshakeTimeout: cfg.ConnectTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}
	if cfg.SkipTLSVerify {
		log.LogEvent(fmt.Sprintf("TLS verify skip enabled for: %s", cfg.URL))
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	conn, resp, err := dialer.DialContext(dialCtx, cfg.URL, cfg.Header)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("server returned %d: %w", resp.StatusCode, err)
		}
		if errors.Is(dialCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("connect timeout after %s: %w", cfg.ConnectTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", types.ErrTransport, err)
	}
	conn.SetReadLimit(int64(constants.MaxWSMessageSize))
	return conn, nil
}

func (s *socket) write(frame protocol.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", frame.Type(), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.conn.SetWriteDeadline(time.Now().Add(constants.WriteTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.log.LogError("client->server", err)
		return fmt.Errorf("%w: %v", types.ErrTransport, err)
	}
	s.log.LogFrame("client->server", frame.Type(), len(data))
	s.metrics.Frame("out", frame.Type())
	return nil
}

// closeNormal sends a 1000 close frame before dropping the connection.
func (s *socket) closeNormal(reason string) {
	s.mu.Lock()
	msg := websocket.FormatCloseMessage(constants.CloseNormal, reason)
	s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	s.mu.Unlock()
	s.conn.Close()
}

// drop closes without a close frame, as for a dead peer.
func (s *socket) drop() {
	s.conn.Close()
}

// readLoop forwards messages until the connection fails.
func (s *socket) readLoop(frames chan<- []byte, errs chan<- error, done <-chan struct{}) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case errs <- err:
			case <-done:
			}
			return
		}
		select {
		case frames <- data:
		case <-done:
			return
		}
	}
}

// isNormalClose reports a close the peer initiated deliberately.
func isNormalClose(err error) bool {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code == constants.CloseNormal
	}
	return false
}
