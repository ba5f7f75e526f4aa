package directory

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/ramy7777/vrpong-multi-sub000/internal/game"
	"github.com/ramy7777/vrpong-multi-sub000/internal/protocol"
)

const (
	// Restart notifications are the one delivery we refuse to lose: resend
	// until the occupant acks or the attempt budget runs out.
	restartRetryInterval = 300 * time.Millisecond
	restartMaxAttempts   = 5

	roomCodeLength = 6
	inboxSize      = 64
)

type Msg interface{ isDirectoryMsg() }

// Register announces a freshly accepted connection and the channel its
// writer pump drains.
type Register struct {
	ConnID string
	Outbox chan protocol.Envelope
}

// Disconnected is posted by the gateway when the transport drops. It tears
// down whichever room the connection occupied.
type Disconnected struct {
	ConnID string
}

// FromClient carries one decoded envelope from a registered connection.
type FromClient struct {
	ConnID string
	Env    protocol.Envelope
}

type Shutdown struct{}

// GetRoom reflects room internals without data races; test-only, like the
// lobby's GetState.
type GetRoom struct {
	Code  string
	Reply chan RoomView
}

type RoomView struct {
	Exists         bool
	HostID         string
	GuestID        string
	State          game.State
	RestartPending bool
}

type GetStats struct {
	Reply chan Stats
}

type Stats struct {
	Rooms int
	Conns int
}

type restartRetry struct {
	Code string
	Gen  int
}

func (Register) isDirectoryMsg()     {}
func (Disconnected) isDirectoryMsg() {}
func (FromClient) isDirectoryMsg()   {}
func (Shutdown) isDirectoryMsg()     {}
func (GetRoom) isDirectoryMsg()      {}
func (GetStats) isDirectoryMsg()     {}
func (restartRetry) isDirectoryMsg() {}

// Room pairs at most one host and one guest with a shared state snapshot.
type Room struct {
	Code    string
	HostID  string
	GuestID string
	State   game.State

	restart *restartDelivery
}

func (r *Room) occupies(connID string) bool {
	return r.HostID == connID || (r.GuestID != "" && r.GuestID == connID)
}

// other returns the opposite occupant, or "" when there is none.
func (r *Room) other(connID string) string {
	if r.HostID == connID {
		return r.GuestID
	}
	return r.HostID
}

type restartDelivery struct {
	gen      int
	awaiting map[string]bool
	attempts int
}

// Directory is the session directory and relay core. A single goroutine
// drains the inbox and owns every room, so handlers run to completion with
// no internal locking.
type Directory struct {
	inbox chan Msg

	rooms map[string]*Room
	order []string // insertion order; quickJoin scans first-come-first-served
	conns map[string]chan protocol.Envelope

	// passthrough receives event types the relay does not interpret (AI
	// chat shares the channel); it must never touch room state.
	passthrough func(connID string, env protocol.Envelope)

	clock  clockwork.Clock
	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func New(parent context.Context, log *zap.Logger, clock clockwork.Clock) *Directory {
	ctx, cancel := context.WithCancel(parent)
	d := &Directory{
		inbox:  make(chan Msg, inboxSize),
		rooms:  make(map[string]*Room),
		conns:  make(map[string]chan protocol.Envelope),
		clock:  clock,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
	go d.loop()
	return d
}

// Inbox exposes the message channel to the gateway and tests.
func (d *Directory) Inbox() chan<- Msg { return d.inbox }

// SetPassthrough installs the handler for uninterpreted event types. Call
// before any connection registers.
func (d *Directory) SetPassthrough(fn func(connID string, env protocol.Envelope)) {
	d.passthrough = fn
}

func (d *Directory) loop() {
	for {
		select {
		case <-d.ctx.Done():
			return

		case m := <-d.inbox:
			switch msg := m.(type) {
			case Register:
				d.conns[msg.ConnID] = msg.Outbox
				d.send(msg.ConnID, protocol.MustMarshal(protocol.EvtConnected,
					protocol.Connected{ConnID: msg.ConnID}))

			case Disconnected:
				d.handleDisconnect(msg.ConnID)

			case FromClient:
				d.handleEnvelope(msg.ConnID, msg.Env)

			case restartRetry:
				d.handleRestartRetry(msg.Code, msg.Gen)

			case GetRoom:
				msg.Reply <- d.roomView(msg.Code)

			case GetStats:
				msg.Reply <- Stats{Rooms: len(d.rooms), Conns: len(d.conns)}

			case Shutdown:
				// Outboxes are not closed here: their readers may still be
				// queueing replies. Writer pumps exit on context cancel.
				clear(d.conns)
				d.cancel()
				return
			}
		}
	}
}

func (d *Directory) handleEnvelope(connID string, env protocol.Envelope) {
	switch env.Type {
	case protocol.EvtHostGame:
		d.handleHostGame(connID)
	case protocol.EvtQuickJoin:
		d.handleQuickJoin(connID)
	case protocol.EvtStartGame:
		d.handleStartGame(connID, env)
	case protocol.EvtRestartGame:
		d.handleRestartGame(connID, env)
	case protocol.EvtRestartAck:
		d.handleRestartAck(connID)
	case protocol.EvtLeaveGame:
		d.handleLeaveGame(connID)
	case protocol.EvtUpdatePaddlePosition:
		d.handlePaddlePosition(connID, env)
	case protocol.EvtUpdatePaddleOwner:
		d.handlePaddleOwnership(connID, env)
	case protocol.EvtUpdateBallPosition:
		d.handleBallPosition(connID, env)
	case protocol.EvtUpdateScore:
		d.handleScore(connID, env)
	case protocol.EvtCollisionEvent:
		d.handleCollision(connID, env)
	case protocol.EvtUpdateControllerData:
		d.handleControllerData(connID, env)
	case protocol.EvtVoiceRequest, protocol.EvtVoiceSignal:
		d.handleVoiceRelay(connID, env)
	default:
		// Foreign traffic on the shared channel (AI chat). Hand it off,
		// never reject it: a teardown here would break that feature.
		if d.passthrough != nil {
			d.passthrough(connID, env)
			return
		}
		d.log.Debug("dropping unhandled event", zap.String("type", env.Type))
	}
}

// roomOf scans the caller's current membership. Room counts are small (two
// occupants each); linear scan matches quickJoin's own ordering walk.
func (d *Directory) roomOf(connID string) *Room {
	for _, code := range d.order {
		if r := d.rooms[code]; r != nil && r.occupies(connID) {
			return r
		}
	}
	return nil
}

func (d *Directory) handleHostGame(connID string) {
	if r := d.roomOf(connID); r != nil {
		if r.HostID == connID {
			// Already hosting: idempotent re-emit, no duplicate room.
			d.send(connID, protocol.MustMarshal(protocol.EvtGameHosted,
				protocol.GameHosted{RoomID: r.Code}))
			return
		}
		d.sendError(connID, "already in a game")
		return
	}

	code, err := generateRoomCode()
	if err != nil {
		d.sendError(connID, "failed to create game")
		return
	}
	room := &Room{Code: code, HostID: connID, State: game.NewState()}
	d.rooms[code] = room
	d.order = append(d.order, code)

	d.log.Info("room created", zap.String("room", code), zap.String("host", connID))
	d.send(connID, protocol.MustMarshal(protocol.EvtGameHosted,
		protocol.GameHosted{RoomID: code}))
}

func (d *Directory) handleQuickJoin(connID string) {
	if r := d.roomOf(connID); r != nil {
		// Already seated somewhere: re-emit the matching confirmation
		// instead of erroring.
		if r.HostID == connID {
			d.send(connID, protocol.MustMarshal(protocol.EvtGameHosted,
				protocol.GameHosted{RoomID: r.Code}))
			return
		}
		d.send(connID, protocol.MustMarshal(protocol.EvtPlayerJoined,
			protocol.PlayerJoined{RoomID: r.Code, HostID: r.HostID, GuestID: r.GuestID}))
		return
	}

	// First-come-first-served over insertion order; no load balancing.
	for _, code := range d.order {
		r := d.rooms[code]
		if r == nil || r.GuestID != "" {
			continue
		}
		r.GuestID = connID
		joined := protocol.MustMarshal(protocol.EvtPlayerJoined,
			protocol.PlayerJoined{RoomID: r.Code, HostID: r.HostID, GuestID: r.GuestID})
		d.send(r.HostID, joined)
		d.send(r.GuestID, joined)
		d.log.Info("guest joined", zap.String("room", r.Code), zap.String("guest", connID))
		return
	}

	d.send(connID, protocol.Envelope{Type: protocol.EvtNoGamesAvailable})
}

func (d *Directory) handleStartGame(connID string, env protocol.Envelope) {
	var req protocol.StartGame
	if err := protocol.Unmarshal(env, &req); err != nil {
		d.sendError(connID, "malformed startGame")
		return
	}
	r := d.rooms[req.RoomID]
	if r == nil {
		d.sendError(connID, "room not found")
		return
	}
	if r.HostID != connID {
		d.sendError(connID, "only the host can start the game")
		return
	}
	if r.GuestID == "" {
		d.sendError(connID, "waiting for an opponent")
		return
	}

	r.State.Playing = true
	started := protocol.Envelope{Type: protocol.EvtGameStarted}
	d.send(r.HostID, started)
	d.send(r.GuestID, started)
	d.log.Info("game started", zap.String("room", r.Code))
}

func (d *Directory) handleRestartGame(connID string, env protocol.Envelope) {
	var req protocol.RestartGame
	if err := protocol.Unmarshal(env, &req); err != nil {
		d.sendError(connID, "malformed restartGame")
		return
	}
	r := d.rooms[req.RoomID]
	if r == nil {
		d.sendError(connID, "room not found")
		return
	}
	if r.HostID != connID {
		d.sendError(connID, "only the host can restart the game")
		return
	}

	r.State.Reset()

	// At-least-once delivery: track who still owes an ack and resend on a
	// timer until the budget runs out. A newer restart supersedes the
	// delivery generation of an older one.
	gen := 1
	if r.restart != nil {
		gen = r.restart.gen + 1
	}
	awaiting := map[string]bool{r.HostID: true}
	if r.GuestID != "" {
		awaiting[r.GuestID] = true
	}
	r.restart = &restartDelivery{gen: gen, awaiting: awaiting, attempts: 1}

	restarted := protocol.MustMarshal(protocol.EvtGameRestarted,
		protocol.GameRestarted{ForceReset: true})
	for id := range awaiting {
		d.send(id, restarted)
	}
	d.scheduleRestartRetry(r.Code, gen)
	d.log.Info("game restarted", zap.String("room", r.Code))
}

func (d *Directory) scheduleRestartRetry(code string, gen int) {
	d.clock.AfterFunc(restartRetryInterval, func() {
		select {
		case d.inbox <- restartRetry{Code: code, Gen: gen}:
		case <-d.ctx.Done():
		}
	})
}

func (d *Directory) handleRestartRetry(code string, gen int) {
	r := d.rooms[code]
	if r == nil || r.restart == nil || r.restart.gen != gen {
		return // room gone or a newer restart superseded this delivery
	}
	if len(r.restart.awaiting) == 0 {
		r.restart = nil
		return
	}
	if r.restart.attempts >= restartMaxAttempts {
		d.log.Warn("restart delivery gave up",
			zap.String("room", code), zap.Int("attempts", r.restart.attempts))
		r.restart = nil
		return
	}

	r.restart.attempts++
	restarted := protocol.MustMarshal(protocol.EvtGameRestarted,
		protocol.GameRestarted{ForceReset: true})
	for id := range r.restart.awaiting {
		d.send(id, restarted)
	}
	d.scheduleRestartRetry(code, gen)
}

func (d *Directory) handleRestartAck(connID string) {
	r := d.roomOf(connID)
	if r == nil || r.restart == nil {
		return
	}
	delete(r.restart.awaiting, connID)
	if len(r.restart.awaiting) == 0 {
		r.restart = nil
	}
}

func (d *Directory) handleLeaveGame(connID string) {
	r := d.roomOf(connID)
	if r == nil {
		d.sendError(connID, "not in a game")
		return
	}
	if other := r.other(connID); other != "" {
		d.send(other, protocol.Envelope{Type: protocol.EvtPlayerLeft})
	}
	d.removeRoom(r.Code)
	d.log.Info("player left", zap.String("room", r.Code), zap.String("conn", connID))
}

func (d *Directory) handlePaddlePosition(connID string, env protocol.Envelope) {
	var upd protocol.PaddlePosition
	if err := protocol.Unmarshal(env, &upd); err != nil {
		d.sendError(connID, "malformed updatePaddlePosition")
		return
	}
	r := d.roomOf(connID)
	if r == nil {
		d.sendError(connID, "not in a game")
		return
	}
	if !game.ValidPaddleIndex(upd.PaddleIndex) {
		d.sendError(connID, "invalid paddle index")
		return
	}

	r.State.Paddles[upd.PaddleIndex] = game.Vec3{X: upd.X, Y: upd.Y, Z: upd.Z}
	d.relayToOther(r, connID, protocol.MustMarshal(protocol.EvtPaddlePositionUpd, upd))
}

func (d *Directory) handlePaddleOwnership(connID string, env protocol.Envelope) {
	var upd protocol.PaddleOwnership
	if err := protocol.Unmarshal(env, &upd); err != nil {
		d.sendError(connID, "malformed updatePaddleOwnership")
		return
	}
	r := d.roomOf(connID)
	if r == nil {
		d.sendError(connID, "not in a game")
		return
	}
	if !game.ValidPaddleIndex(upd.PaddleIndex) {
		d.sendError(connID, "invalid paddle index")
		return
	}

	// Last claim received wins; no tie-break beyond arrival order.
	r.State.Owners[upd.PaddleIndex] = game.ClaimedBy(upd.OwnerID, upd.IsHost)
	d.relayToOther(r, connID, protocol.MustMarshal(protocol.EvtPaddleOwnerUpd, upd))
}

func (d *Directory) handleBallPosition(connID string, env protocol.Envelope) {
	var upd protocol.BallPosition
	if err := protocol.Unmarshal(env, &upd); err != nil {
		d.sendError(connID, "malformed updateBallPosition")
		return
	}
	r := d.lookupRoom(connID, upd.RoomID)
	if r == nil {
		return
	}
	if r.HostID != connID {
		d.sendError(connID, "only the host moves the ball")
		return
	}

	r.State.BallPosition = upd.Position
	r.State.BallVelocity = upd.Velocity
	if r.GuestID != "" {
		upd.RoomID = ""
		d.send(r.GuestID, protocol.MustMarshal(protocol.EvtBallPositionUpd, upd))
	}
}

func (d *Directory) handleScore(connID string, env protocol.Envelope) {
	var upd protocol.Score
	if err := protocol.Unmarshal(env, &upd); err != nil {
		d.sendError(connID, "malformed updateScore")
		return
	}
	r := d.lookupRoom(connID, upd.RoomID)
	if r == nil {
		return
	}
	if r.HostID != connID {
		d.sendError(connID, "only the host keeps score")
		return
	}

	r.State.HostScore = upd.HostScore
	r.State.GuestScore = upd.GuestScore
	upd.RoomID = ""
	d.relayToOther(r, connID, protocol.MustMarshal(protocol.EvtScoreUpd, upd))
}

func (d *Directory) handleCollision(connID string, env protocol.Envelope) {
	var ev protocol.Collision
	if err := protocol.Unmarshal(env, &ev); err != nil {
		d.sendError(connID, "malformed collisionEvent")
		return
	}
	r := d.lookupRoom(connID, ev.RoomID)
	if r == nil {
		return
	}
	ev.RoomID = ""
	d.relayToOther(r, connID, protocol.MustMarshal(protocol.EvtRemoteCollision, ev))
}

func (d *Directory) handleControllerData(connID string, env protocol.Envelope) {
	var data protocol.ControllerData
	if err := protocol.Unmarshal(env, &data); err != nil {
		d.sendError(connID, "malformed updateControllerData")
		return
	}
	r := d.lookupRoom(connID, data.RoomID)
	if r == nil {
		return
	}
	data.RoomID = ""
	d.relayToOther(r, connID, protocol.MustMarshal(protocol.EvtRemoteControllerData, data))
}

// handleVoiceRelay forwards signaling point-to-point by connection id. The
// payload is never interpreted; an unknown peer is dropped quietly so the
// voice feature can never poison room state.
func (d *Directory) handleVoiceRelay(connID string, env protocol.Envelope) {
	var relay protocol.VoiceRelay
	if err := protocol.Unmarshal(env, &relay); err != nil {
		d.sendError(connID, "malformed voice relay")
		return
	}
	target, ok := d.conns[relay.To]
	if !ok {
		d.log.Debug("voice relay to unknown peer", zap.String("to", relay.To))
		return
	}
	relay.From = connID
	to := relay.To
	relay.To = ""
	d.sendTo(to, target, protocol.MustMarshal(env.Type, relay))
}

func (d *Directory) handleDisconnect(connID string) {
	if ch, ok := d.conns[connID]; ok {
		close(ch) // releases the gateway's writer pump
		delete(d.conns, connID)
	}

	r := d.roomOf(connID)
	if r == nil {
		return
	}
	if other := r.other(connID); other != "" {
		d.send(other, protocol.Envelope{Type: protocol.EvtOpponentDisconnected})
	}
	d.removeRoom(r.Code)
	d.log.Info("room torn down on disconnect",
		zap.String("room", r.Code), zap.String("conn", connID))
}

// lookupRoom resolves the room by explicit id, falling back to the caller's
// membership, and validates the caller actually occupies it. Replies with a
// targeted error on failure.
func (d *Directory) lookupRoom(connID, roomID string) *Room {
	var r *Room
	if roomID != "" {
		r = d.rooms[roomID]
	} else {
		r = d.roomOf(connID)
	}
	if r == nil {
		d.sendError(connID, "room not found")
		return nil
	}
	if !r.occupies(connID) {
		d.sendError(connID, "not in that game")
		return nil
	}
	return r
}

func (d *Directory) relayToOther(r *Room, connID string, env protocol.Envelope) {
	if other := r.other(connID); other != "" {
		d.send(other, env)
	}
}

func (d *Directory) removeRoom(code string) {
	delete(d.rooms, code)
	for i, c := range d.order {
		if c == code {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
}

func (d *Directory) send(connID string, env protocol.Envelope) {
	ch, ok := d.conns[connID]
	if !ok {
		return
	}
	d.sendTo(connID, ch, env)
}

// sendTo never blocks the directory loop: a full outbox means the writer
// pump is wedged, and dropping one fire-and-forget event there is cheaper
// than stalling every room.
func (d *Directory) sendTo(connID string, ch chan protocol.Envelope, env protocol.Envelope) {
	select {
	case ch <- env:
	default:
		d.log.Warn("outbox full, dropping event",
			zap.String("conn", connID), zap.String("type", env.Type))
	}
}

func (d *Directory) sendError(connID, message string) {
	d.send(connID, protocol.MustMarshal(protocol.EvtErrorMessage,
		protocol.ErrorMessage{Message: message}))
}

func (d *Directory) roomView(code string) RoomView {
	r := d.rooms[code]
	if r == nil {
		return RoomView{}
	}
	return RoomView{
		Exists:         true,
		HostID:         r.HostID,
		GuestID:        r.GuestID,
		State:          r.State,
		RestartPending: r.restart != nil,
	}
}

// generateRoomCode returns a 6-char shareable code. Codes are not re-checked
// against existing rooms; 36^6 keeps collisions unlikely at this scale.
func generateRoomCode() (string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	code := make([]byte, roomCodeLength)
	for i := range code {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}
