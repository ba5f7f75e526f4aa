package client

import (
	"context"
	"fmt"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/ramy7777/vrpong-multi-sub000/internal/protocol"
)

const (
	dialMaxAttempts = 5
	dialTimeout     = 5 * time.Second
	dialBackoff     = 250 * time.Millisecond
	dialBackoffCap  = 2 * time.Second
)

// Conn is the proxy's view of the duplex channel. Production uses a
// WebSocket; tests inject channel-backed fakes.
type Conn interface {
	Send(ctx context.Context, env protocol.Envelope) error
	Receive(ctx context.Context) (protocol.Envelope, error)
	Close() error
}

type Dialer func(ctx context.Context, url string) (Conn, error)

// DialWebSocket is the default dialer.
func DialWebSocket(ctx context.Context, url string) (Conn, error) {
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &wsConn{c: c}, nil
}

type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) Send(ctx context.Context, env protocol.Envelope) error {
	return wsjson.Write(ctx, w.c, env)
}

func (w *wsConn) Receive(ctx context.Context) (protocol.Envelope, error) {
	var env protocol.Envelope
	err := wsjson.Read(ctx, w.c, &env)
	return env, err
}

func (w *wsConn) Close() error {
	return w.c.Close(websocket.StatusNormalClosure, "bye")
}

// dialWithRetry gives construction a bounded number of attempts with a
// capped per-attempt timeout and doubling backoff. There is no mid-session
// reconnect: a new connection means a new identity.
func dialWithRetry(ctx context.Context, dial Dialer, url string, clock clockwork.Clock, log *zap.Logger) (Conn, error) {
	backoff := dialBackoff
	for attempt := 1; ; attempt++ {
		dctx, cancel := context.WithTimeout(ctx, dialTimeout)
		conn, err := dial(dctx, url)
		cancel()
		if err == nil {
			return conn, nil
		}
		if attempt >= dialMaxAttempts {
			return nil, fmt.Errorf("connect to relay after %d attempts: %w", attempt, err)
		}
		log.Warn("relay dial failed, retrying",
			zap.Int("attempt", attempt), zap.Error(err))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-clock.After(backoff):
		}
		if backoff *= 2; backoff > dialBackoffCap {
			backoff = dialBackoffCap
		}
	}
}
