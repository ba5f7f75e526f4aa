package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/ramy7777/vrpong-multi-sub000/internal/game"
)

// Every frame on the wire is one Envelope. Payload stays raw until the
// receiver knows what the type is; unknown types are handed to passthrough
// handlers untouched (voice signaling, AI chat).
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Client -> server
const (
	EvtHostGame             = "hostGame"
	EvtQuickJoin            = "quickJoin"
	EvtStartGame            = "startGame"
	EvtRestartGame          = "restartGame"
	EvtRestartAck           = "restartAck"
	EvtLeaveGame            = "leaveGame"
	EvtUpdatePaddlePosition = "updatePaddlePosition"
	EvtUpdatePaddleOwner    = "updatePaddleOwnership"
	EvtUpdateBallPosition   = "updateBallPosition"
	EvtUpdateScore          = "updateScore"
	EvtCollisionEvent       = "collisionEvent"
	EvtUpdateControllerData = "updateControllerData"
	EvtVoiceRequest         = "voiceRequest"
	EvtVoiceSignal          = "voiceSignal"
)

// Server -> client
const (
	EvtConnected            = "connected"
	EvtGameHosted           = "gameHosted"
	EvtPlayerJoined         = "playerJoined"
	EvtGameStarted          = "gameStarted"
	EvtGameRestarted        = "gameRestarted"
	EvtNoGamesAvailable     = "noGamesAvailable"
	EvtErrorMessage         = "errorMessage"
	EvtOpponentDisconnected = "opponentDisconnected"
	EvtPlayerLeft           = "playerLeft"
	EvtPaddlePositionUpd    = "paddlePositionUpdated"
	EvtPaddleOwnerUpd       = "paddleOwnershipUpdated"
	EvtBallPositionUpd      = "ballPositionUpdated"
	EvtScoreUpd             = "scoreUpdated"
	EvtRemoteCollision      = "remoteCollision"
	EvtRemoteControllerData = "remoteControllerData"
)

type Connected struct {
	ConnID string `json:"connId"`
}

type GameHosted struct {
	RoomID string `json:"roomId"`
}

type PlayerJoined struct {
	RoomID  string `json:"roomId"`
	HostID  string `json:"hostId"`
	GuestID string `json:"guestId"`
}

type StartGame struct {
	RoomID string `json:"roomId"`
}

type RestartGame struct {
	RoomID string `json:"roomId"`
}

type GameRestarted struct {
	ForceReset bool `json:"forceReset"`
}

type RestartAck struct {
	RoomID string `json:"roomId"`
}

type LeaveGame struct {
	RoomID string `json:"roomId"`
}

type ErrorMessage struct {
	Message string `json:"message"`
}

// PaddlePosition doubles as the relayed paddlePositionUpdated payload; the
// server forwards it field-for-field.
type PaddlePosition struct {
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Z           float64 `json:"z"`
	IsHost      bool    `json:"isHost"`
	PaddleIndex int     `json:"paddleIndex"`
	OwnerID     string  `json:"ownerId"`
}

type PaddleOwnership struct {
	PaddleIndex int    `json:"paddleIndex"`
	OwnerID     string `json:"ownerId"`
	IsHost      bool   `json:"isHost"`
}

type BallPosition struct {
	RoomID   string    `json:"roomId,omitempty"`
	Position game.Vec3 `json:"position"`
	Velocity game.Vec3 `json:"velocity"`
}

type Score struct {
	RoomID     string `json:"roomId,omitempty"`
	HostScore  int    `json:"hostScore"`
	GuestScore int    `json:"guestScore"`
}

type Collision struct {
	RoomID   string    `json:"roomId,omitempty"`
	Kind     string    `json:"type"`
	Position game.Vec3 `json:"position"`
}

type ControllerPose struct {
	Position game.Vec3 `json:"position"`
	Rotation game.Vec3 `json:"rotation"`
}

type ControllerData struct {
	RoomID string          `json:"roomId,omitempty"`
	IsHost bool            `json:"isHost"`
	Left   ControllerPose  `json:"leftController"`
	Right  ControllerPose  `json:"rightController"`
	Head   *ControllerPose `json:"head,omitempty"`
}

// VoiceRelay is addressed point-to-point by connection id. Signal is opaque
// to the relay; only To/From are ever read server-side.
type VoiceRelay struct {
	To     string          `json:"to,omitempty"`
	From   string          `json:"from,omitempty"`
	Signal json.RawMessage `json:"signal,omitempty"`
}

// Marshal wraps a payload into an envelope of the given type.
func Marshal(eventType string, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Type: eventType}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Envelope{Type: eventType, Payload: raw}, nil
}

// MustMarshal is for payload types we own; they cannot fail to encode.
func MustMarshal(eventType string, payload any) Envelope {
	env, err := Marshal(eventType, payload)
	if err != nil {
		panic(err)
	}
	return env
}

// Unmarshal decodes an envelope payload in place. A missing payload decodes
// into the zero value.
func Unmarshal(env Envelope, out any) error {
	if len(env.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Payload, out); err != nil {
		return fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	return nil
}
