package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ramy7777/vrpong-multi-sub000/internal/directory"
	"github.com/ramy7777/vrpong-multi-sub000/internal/protocol"
)

const (
	writeTimeout = 3 * time.Second
	outboxSize   = 64
)

// reject queues a targeted error reply through the writer pump; the socket
// allows only one concurrent writer.
func reject(outbox chan protocol.Envelope, message string) {
	select {
	case outbox <- protocol.MustMarshal(protocol.EvtErrorMessage,
		protocol.ErrorMessage{Message: message}):
	default:
	}
}

// Handler upgrades each request to a WebSocket, assigns the connection its
// ephemeral id, and bridges the socket to the directory: a writer goroutine
// pumps the outbox, the reader loop posts decoded envelopes inbound. The
// deferred Disconnected message is the room-teardown trigger.
func Handler(d *directory.Directory, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true, // origins are the reverse proxy's problem
		})
		if err != nil {
			log.Warn("websocket accept failed", zap.Error(err))
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		connID := uuid.NewString()
		outbox := make(chan protocol.Envelope, outboxSize)

		d.Inbox() <- directory.Register{ConnID: connID, Outbox: outbox}
		defer func() { d.Inbox() <- directory.Disconnected{ConnID: connID} }()

		log.Info("connection accepted", zap.String("conn", connID))

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for {
				var env protocol.Envelope
				var ok bool
				select {
				case env, ok = <-outbox:
					if !ok {
						return
					}
				case <-writeCtx.Done():
					return
				}
				payload, err := json.Marshal(env)
				if err != nil {
					log.Error("encode outbound event", zap.Error(err))
					continue
				}
				ctx, cancel := context.WithTimeout(writeCtx, writeTimeout)
				_ = conn.Write(ctx, websocket.MessageText, payload)
				cancel()
			}
		}()

		// Reader loop. No read deadline: a paddle may sit idle for minutes
		// between rallies, and the transport's own close is the only
		// cancellation signal the core recognizes.
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					return
				}
				// Anything else still means the peer is gone; the deferred
				// Disconnected tears the room down either way.
				return
			}

			var env protocol.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				reject(outbox, "bad json")
				continue
			}
			if env.Type == "" {
				reject(outbox, "missing event type")
				continue
			}

			d.Inbox() <- directory.FromClient{ConnID: connID, Env: env}
		}
	}
}
