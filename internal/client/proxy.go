package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/ramy7777/vrpong-multi-sub000/internal/game"
	"github.com/ramy7777/vrpong-multi-sub000/internal/protocol"
)

// Role is the client's place in the session state machine. Transitions are
// driven by relayed events only; the one optimistic exception is paddle
// claiming.
type Role string

const (
	RoleIdle            Role = "idle"
	RoleHostingUnjoined Role = "hosting-unjoined"
	RoleHostingActive   Role = "hosting-active"
	RoleGuestJoined     Role = "guest-joined"
	RoleGuestActive     Role = "guest-active"
)

func (r Role) IsHost() bool {
	return r == RoleHostingUnjoined || r == RoleHostingActive
}

func (r Role) InRoom() bool { return r != RoleIdle }

const (
	sendTimeout = 3 * time.Second

	// If the relayed gameRestarted confirmation never lands, the host
	// resets its own display after this window.
	restartFallback = time.Second
)

// Callbacks notify the presentation layer. All of them may be nil; none are
// invoked while the proxy's lock is held.
type Callbacks struct {
	OnRoleChange     func(Role)
	OnGameStarted    func()
	OnScore          func(hostScore, guestScore int)
	OnForceReset     func()
	OnOpponentLeft   func()
	OnError          func(message string)
	OnCollision      func(kind string, pos game.Vec3)
	OnControllerData func(data protocol.ControllerData)
}

type Options struct {
	URL       string
	Logger    *zap.Logger
	Clock     clockwork.Clock
	Dialer    Dialer
	Callbacks Callbacks
	// Paddles lets the render layer supply its own entities; nil slots get
	// headless defaults.
	Paddles [2]Paddle
}

// Proxy is the single point of contact between the local game and the
// network: local events go out as fire-and-forget messages, relayed events
// mutate local state as they arrive.
type Proxy struct {
	log   *zap.Logger
	clock clockwork.Clock
	cb    Callbacks

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	conn    Conn
	connID  string
	roomID  string
	hostID  string
	guestID string
	role    Role
	state   game.State
	paddles [2]Paddle

	// extra event types (AI chat, inbound voice signaling) registered by
	// collaborators sharing the channel
	handlers map[string]func(protocol.Envelope)

	restartGen     int
	restartPending bool
	restartTimer   clockwork.Timer

	closeOnce sync.Once
}

// New dials the relay (bounded attempts, capped timeout) and starts the
// receive loop. The returned proxy is idle until HostGame or QuickJoin.
func New(ctx context.Context, opts Options) (*Proxy, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Dialer == nil {
		opts.Dialer = DialWebSocket
	}

	conn, err := dialWithRetry(ctx, opts.Dialer, opts.URL, opts.Clock, opts.Logger)
	if err != nil {
		return nil, err
	}

	pctx, cancel := context.WithCancel(ctx)
	p := &Proxy{
		log:      opts.Logger,
		clock:    opts.Clock,
		cb:       opts.Callbacks,
		ctx:      pctx,
		cancel:   cancel,
		conn:     conn,
		role:     RoleIdle,
		state:    game.NewState(),
		handlers: make(map[string]func(protocol.Envelope)),
	}
	for i := range p.paddles {
		if opts.Paddles[i] != nil {
			p.paddles[i] = opts.Paddles[i]
		} else {
			p.paddles[i] = NewSimplePaddle(i)
		}
	}

	go p.readLoop()
	return p, nil
}

// Handle registers a passthrough handler for an event type the proxy does
// not interpret. Must be called before traffic flows.
func (p *Proxy) Handle(eventType string, fn func(protocol.Envelope)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[eventType] = fn
}

func (p *Proxy) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.cancel()
		err = p.conn.Close()
	})
	return err
}

// --- accessors (render loop reads) ---

func (p *Proxy) Role() Role {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.role
}

func (p *Proxy) ConnID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connID
}

func (p *Proxy) RoomID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.roomID
}

// OpponentID is the other occupant's connection id, used to address voice
// signaling. Empty until playerJoined.
func (p *Proxy) OpponentID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.connID == p.hostID {
		return p.guestID
	}
	return p.hostID
}

// Snapshot copies the local replicated state.
func (p *Proxy) Snapshot() game.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Proxy) Paddle(index int) Paddle {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !game.ValidPaddleIndex(index) {
		return nil
	}
	return p.paddles[index]
}

// --- session commands ---

func (p *Proxy) HostGame() error {
	return p.send(protocol.Envelope{Type: protocol.EvtHostGame})
}

func (p *Proxy) QuickJoin() error {
	return p.send(protocol.Envelope{Type: protocol.EvtQuickJoin})
}

func (p *Proxy) StartGame() error {
	p.mu.Lock()
	roomID := p.roomID
	p.mu.Unlock()
	return p.send(protocol.MustMarshal(protocol.EvtStartGame, protocol.StartGame{RoomID: roomID}))
}

func (p *Proxy) LeaveGame() error {
	p.mu.Lock()
	roomID := p.roomID
	p.mu.Unlock()
	return p.send(protocol.MustMarshal(protocol.EvtLeaveGame, protocol.LeaveGame{RoomID: roomID}))
}

// RestartGame asks the relay for a reset and arms the local fallback: if no
// gameRestarted confirmation lands within the window, the host resets its
// own display anyway. At-least-once locally, best-effort on the wire.
func (p *Proxy) RestartGame() error {
	p.mu.Lock()
	if !p.role.IsHost() {
		p.mu.Unlock()
		return errors.New("only the host can restart")
	}
	roomID := p.roomID
	p.restartGen++
	gen := p.restartGen
	p.restartPending = true
	if p.restartTimer != nil {
		p.restartTimer.Stop()
	}
	p.restartTimer = p.clock.AfterFunc(restartFallback, func() { p.restartFallback(gen) })
	p.mu.Unlock()

	return p.send(protocol.MustMarshal(protocol.EvtRestartGame, protocol.RestartGame{RoomID: roomID}))
}

func (p *Proxy) restartFallback(gen int) {
	p.mu.Lock()
	if gen != p.restartGen || !p.restartPending {
		p.mu.Unlock()
		return
	}
	p.restartPending = false
	p.state.Reset()
	p.mu.Unlock()

	p.log.Warn("restart confirmation missed, applying local reset")
	if p.cb.OnForceReset != nil {
		p.cb.OnForceReset()
	}
}

// --- paddle ownership (optimistic) ---

// ClaimPaddle applies the grab locally first, then broadcasts. Returns false
// when the paddle already belongs to the opponent.
func (p *Proxy) ClaimPaddle(index int) bool {
	p.mu.Lock()
	if !game.ValidPaddleIndex(index) || p.connID == "" {
		p.mu.Unlock()
		return false
	}
	owner := p.state.Owners[index]
	if owner.Claimed() && !owner.OwnedBy(p.connID) {
		p.mu.Unlock()
		return false
	}
	claim := game.ClaimedBy(p.connID, p.role.IsHost())
	p.state.Owners[index] = claim
	p.paddles[index].SetOwnership(claim)
	upd := protocol.PaddleOwnership{
		PaddleIndex: index,
		OwnerID:     p.connID,
		IsHost:      p.role.IsHost(),
	}
	p.mu.Unlock()

	p.fire(protocol.MustMarshal(protocol.EvtUpdatePaddleOwner, upd))
	return true
}

// --- per-tick pushes (render loop writes) ---

// PushPaddlePosition broadcasts a locally owned paddle's position. A paddle
// the local connection does not own is never written from here.
func (p *Proxy) PushPaddlePosition(index int, pos game.Vec3) {
	p.mu.Lock()
	if !game.ValidPaddleIndex(index) || !p.state.Owners[index].OwnedBy(p.connID) {
		p.mu.Unlock()
		return
	}
	p.state.Paddles[index] = pos
	p.paddles[index].SetPosition(pos)
	upd := protocol.PaddlePosition{
		X:           pos.X,
		Y:           pos.Y,
		Z:           pos.Z,
		IsHost:      p.role.IsHost(),
		PaddleIndex: index,
		OwnerID:     p.connID,
	}
	p.mu.Unlock()

	p.fire(protocol.MustMarshal(protocol.EvtUpdatePaddlePosition, upd))
}

// PushBallState broadcasts the authoritative ball. Guests never originate
// ball traffic; the authority split is enforced here, not negotiated.
func (p *Proxy) PushBallState(pos, vel game.Vec3) {
	p.mu.Lock()
	if !p.role.IsHost() {
		p.mu.Unlock()
		return
	}
	p.state.BallPosition = pos
	p.state.BallVelocity = vel
	upd := protocol.BallPosition{RoomID: p.roomID, Position: pos, Velocity: vel}
	p.mu.Unlock()

	p.fire(protocol.MustMarshal(protocol.EvtUpdateBallPosition, upd))
}

// PushScore broadcasts host-computed scores. Displays on both sides move
// only on the relayed confirmation; the host applies its own copy here.
func (p *Proxy) PushScore(hostScore, guestScore int) {
	p.mu.Lock()
	if !p.role.IsHost() {
		p.mu.Unlock()
		return
	}
	p.state.HostScore = hostScore
	p.state.GuestScore = guestScore
	upd := protocol.Score{RoomID: p.roomID, HostScore: hostScore, GuestScore: guestScore}
	p.mu.Unlock()

	p.fire(protocol.MustMarshal(protocol.EvtUpdateScore, upd))
}

// PushCollision broadcasts a collision the local physics detected. Collisions
// fall out of ball simulation, so only the host originates them.
func (p *Proxy) PushCollision(kind string, pos game.Vec3) {
	p.mu.Lock()
	if !p.role.IsHost() {
		p.mu.Unlock()
		return
	}
	ev := protocol.Collision{RoomID: p.roomID, Kind: kind, Position: pos}
	p.mu.Unlock()
	p.fire(protocol.MustMarshal(protocol.EvtCollisionEvent, ev))
}

func (p *Proxy) PushControllerData(left, right protocol.ControllerPose, head *protocol.ControllerPose) {
	p.mu.Lock()
	data := protocol.ControllerData{
		RoomID: p.roomID,
		IsHost: p.role.IsHost(),
		Left:   left,
		Right:  right,
		Head:   head,
	}
	p.mu.Unlock()
	p.fire(protocol.MustMarshal(protocol.EvtUpdateControllerData, data))
}

// --- voice signaling passthrough ---

func (p *Proxy) SendVoiceRequest(to string) error {
	return p.send(protocol.MustMarshal(protocol.EvtVoiceRequest, protocol.VoiceRelay{To: to}))
}

func (p *Proxy) SendVoiceSignal(to string, signal []byte) error {
	return p.send(protocol.MustMarshal(protocol.EvtVoiceSignal,
		protocol.VoiceRelay{To: to, Signal: signal}))
}

// Send forwards an arbitrary envelope for collaborators sharing the channel
// (AI chat).
func (p *Proxy) Send(env protocol.Envelope) error {
	return p.send(env)
}

// --- wire plumbing ---

func (p *Proxy) send(env protocol.Envelope) error {
	ctx, cancel := context.WithTimeout(p.ctx, sendTimeout)
	defer cancel()
	return p.conn.Send(ctx, env)
}

// fire is send without an error surface: replication traffic is frequent
// enough that the next tick self-heals a lost message.
func (p *Proxy) fire(env protocol.Envelope) {
	if err := p.send(env); err != nil {
		p.log.Debug("dropped outbound event", zap.String("type", env.Type), zap.Error(err))
	}
}

func (p *Proxy) readLoop() {
	for {
		env, err := p.conn.Receive(p.ctx)
		if err != nil {
			p.handleTransportDown()
			return
		}
		p.apply(env)
	}
}

func (p *Proxy) handleTransportDown() {
	p.mu.Lock()
	wasIdle := p.role == RoleIdle
	after := p.resetToIdleLocked()
	p.mu.Unlock()

	if p.ctx.Err() == nil {
		p.log.Warn("relay connection lost")
	}
	if !wasIdle {
		for _, fn := range after {
			fn()
		}
	}
}

// apply mutates local state under the lock and collects callbacks to run
// after it is released, so a callback can safely call back into the proxy.
func (p *Proxy) apply(env protocol.Envelope) {
	p.mu.Lock()
	after := p.applyLocked(env)
	p.mu.Unlock()

	for _, fn := range after {
		fn()
	}
}

func (p *Proxy) applyLocked(env protocol.Envelope) []func() {
	var after []func()

	switch env.Type {
	case protocol.EvtConnected:
		var c protocol.Connected
		if protocol.Unmarshal(env, &c) == nil {
			p.connID = c.ConnID
		}

	case protocol.EvtGameHosted:
		var hosted protocol.GameHosted
		if protocol.Unmarshal(env, &hosted) != nil {
			break
		}
		p.roomID = hosted.RoomID
		p.hostID = p.connID
		after = p.setRoleLocked(RoleHostingUnjoined)

	case protocol.EvtPlayerJoined:
		var joined protocol.PlayerJoined
		if protocol.Unmarshal(env, &joined) != nil {
			break
		}
		p.roomID = joined.RoomID
		p.hostID = joined.HostID
		p.guestID = joined.GuestID
		if joined.HostID == p.connID {
			after = p.setRoleLocked(RoleHostingActive)
		} else {
			after = p.setRoleLocked(RoleGuestJoined)
		}

	case protocol.EvtGameStarted:
		p.state.Playing = true
		if p.role == RoleGuestJoined {
			after = p.setRoleLocked(RoleGuestActive)
		}
		if p.cb.OnGameStarted != nil {
			after = append(after, p.cb.OnGameStarted)
		}

	case protocol.EvtGameRestarted:
		var restarted protocol.GameRestarted
		if protocol.Unmarshal(env, &restarted) != nil {
			break
		}
		p.restartPending = false
		if p.restartTimer != nil {
			p.restartTimer.Stop()
		}
		p.state.Reset()
		ack := protocol.MustMarshal(protocol.EvtRestartAck, protocol.RestartAck{RoomID: p.roomID})
		after = append(after, func() { p.fire(ack) })
		if restarted.ForceReset && p.cb.OnForceReset != nil {
			after = append(after, p.cb.OnForceReset)
		}

	case protocol.EvtNoGamesAvailable:
		if p.cb.OnError != nil {
			after = append(after, func() { p.cb.OnError("no games available") })
		}

	case protocol.EvtErrorMessage:
		var msg protocol.ErrorMessage
		if protocol.Unmarshal(env, &msg) != nil {
			break
		}
		p.log.Warn("relay rejected request", zap.String("message", msg.Message))
		if p.cb.OnError != nil {
			after = append(after, func() { p.cb.OnError(msg.Message) })
		}

	case protocol.EvtOpponentDisconnected, protocol.EvtPlayerLeft:
		after = p.resetToIdleLocked()
		if p.cb.OnOpponentLeft != nil {
			after = append(after, p.cb.OnOpponentLeft)
		}

	case protocol.EvtPaddlePositionUpd:
		var upd protocol.PaddlePosition
		if protocol.Unmarshal(env, &upd) != nil || !game.ValidPaddleIndex(upd.PaddleIndex) {
			break
		}
		// Display-only: remote updates never touch ownership here.
		pos := game.Vec3{X: upd.X, Y: upd.Y, Z: upd.Z}
		p.state.Paddles[upd.PaddleIndex] = pos
		p.paddles[upd.PaddleIndex].SetPosition(pos)

	case protocol.EvtPaddleOwnerUpd:
		var upd protocol.PaddleOwnership
		if protocol.Unmarshal(env, &upd) != nil || !game.ValidPaddleIndex(upd.PaddleIndex) {
			break
		}
		// Last claim received wins, even over a local optimistic claim.
		claim := game.ClaimedBy(upd.OwnerID, upd.IsHost)
		p.state.Owners[upd.PaddleIndex] = claim
		p.paddles[upd.PaddleIndex].SetOwnership(claim)

	case protocol.EvtBallPositionUpd:
		var upd protocol.BallPosition
		if protocol.Unmarshal(env, &upd) != nil {
			break
		}
		// Verbatim overwrite; a guest runs no ball physics of its own.
		p.state.BallPosition = upd.Position
		p.state.BallVelocity = upd.Velocity

	case protocol.EvtScoreUpd:
		var upd protocol.Score
		if protocol.Unmarshal(env, &upd) != nil {
			break
		}
		p.state.HostScore = upd.HostScore
		p.state.GuestScore = upd.GuestScore
		if p.cb.OnScore != nil {
			after = append(after, func() { p.cb.OnScore(upd.HostScore, upd.GuestScore) })
		}

	case protocol.EvtRemoteCollision:
		var ev protocol.Collision
		if protocol.Unmarshal(env, &ev) != nil {
			break
		}
		if p.cb.OnCollision != nil {
			after = append(after, func() { p.cb.OnCollision(ev.Kind, ev.Position) })
		}

	case protocol.EvtRemoteControllerData:
		var data protocol.ControllerData
		if protocol.Unmarshal(env, &data) != nil {
			break
		}
		if p.cb.OnControllerData != nil {
			after = append(after, func() { p.cb.OnControllerData(data) })
		}

	default:
		if fn, ok := p.handlers[env.Type]; ok {
			after = append(after, func() { fn(env) })
			break
		}
		p.log.Debug("unhandled event", zap.String("type", env.Type))
	}

	return after
}

func (p *Proxy) setRoleLocked(role Role) []func() {
	if p.role == role {
		return nil
	}
	p.role = role
	if p.cb.OnRoleChange == nil {
		return nil
	}
	return []func(){func() { p.cb.OnRoleChange(role) }}
}

// resetToIdleLocked is the teardown path shared by disconnects and opponent
// departures. Ownership dies with the room; replicated scores stay on
// screen until the next session overwrites them.
func (p *Proxy) resetToIdleLocked() []func() {
	p.roomID = ""
	p.hostID = ""
	p.guestID = ""
	p.restartPending = false
	if p.restartTimer != nil {
		p.restartTimer.Stop()
	}
	p.state.Playing = false
	for i := range p.state.Owners {
		p.state.Owners[i] = game.Unowned()
		p.paddles[i].SetOwnership(game.Unowned())
	}
	return p.setRoleLocked(RoleIdle)
}
