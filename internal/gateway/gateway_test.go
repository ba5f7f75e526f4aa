package gateway_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/ramy7777/vrpong-multi-sub000/internal/directory"
	"github.com/ramy7777/vrpong-multi-sub000/internal/gateway"
	"github.com/ramy7777/vrpong-multi-sub000/internal/protocol"
)

func dialTestGateway(t *testing.T) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	d := directory.New(ctx, zap.NewNop(), clockwork.NewRealClock())
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", gateway.Handler(d, zap.NewNop()))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	dctx, dcancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(dcancel)
	conn, _, err := websocket.Dial(dctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) protocol.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	var env protocol.Envelope
	if err := wsjson.Read(ctx, conn, &env); err != nil {
		t.Fatalf("read: %v", err)
	}
	return env
}

func TestGateway_WelcomeCarriesConnectionID(t *testing.T) {
	conn := dialTestGateway(t)

	env := readEnvelope(t, conn)
	if env.Type != protocol.EvtConnected {
		t.Fatalf("first event: want connected, got %q", env.Type)
	}
	var welcome protocol.Connected
	if err := protocol.Unmarshal(env, &welcome); err != nil {
		t.Fatalf("decode welcome: %v", err)
	}
	if welcome.ConnID == "" {
		t.Fatalf("welcome without a connection id")
	}
}

func TestGateway_BadJSONGetsTargetedError(t *testing.T) {
	conn := dialTestGateway(t)
	_ = readEnvelope(t, conn) // connected

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}

	env := readEnvelope(t, conn)
	if env.Type != protocol.EvtErrorMessage {
		t.Fatalf("want errorMessage, got %q", env.Type)
	}
	// The connection survives a malformed frame.
	if err := wsjson.Write(ctx, conn, protocol.Envelope{Type: protocol.EvtHostGame}); err != nil {
		t.Fatalf("connection dead after bad frame: %v", err)
	}
	if env := readEnvelope(t, conn); env.Type != protocol.EvtGameHosted {
		t.Fatalf("want gameHosted after recovery, got %q", env.Type)
	}
}

func TestGateway_MissingTypeRejected(t *testing.T) {
	conn := dialTestGateway(t)
	_ = readEnvelope(t, conn) // connected

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"payload":{}}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if env := readEnvelope(t, conn); env.Type != protocol.EvtErrorMessage {
		t.Fatalf("want errorMessage, got %q", env.Type)
	}
}
