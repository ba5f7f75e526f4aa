package game

// Vec3 is shared between the simulation state and the wire payloads, the
// same way the draft engine's State rode the wire unmodified.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Paddle depth is fixed by index; only the lateral position replicates.
const (
	PaddleDepthNear = -0.1
	PaddleDepthFar  = -2.9

	BallRestHeight = 0.9
	BallRestDepth  = -1.5
)

// PaddleDepth returns the fixed forward/back coordinate for a paddle slot.
func PaddleDepth(index int) float64 {
	if index == 0 {
		return PaddleDepthNear
	}
	return PaddleDepthFar
}

// Ownership is the claim state of one paddle slot: either unowned or claimed
// by exactly one connection. The zero value is Unowned.
type Ownership struct {
	ownerID string
	isHost  bool
	claimed bool
}

func Unowned() Ownership { return Ownership{} }

func ClaimedBy(ownerID string, isHost bool) Ownership {
	return Ownership{ownerID: ownerID, isHost: isHost, claimed: true}
}

func (o Ownership) Claimed() bool   { return o.claimed }
func (o Ownership) OwnerID() string { return o.ownerID }
func (o Ownership) IsHost() bool    { return o.isHost }

// OwnedBy reports whether the slot is claimed by the given connection.
func (o Ownership) OwnedBy(connID string) bool {
	return o.claimed && o.ownerID == connID
}

// State is one room's replicated snapshot: ball, paddle slots, claims,
// scores, running flag. It is mutated only by relayed messages.
type State struct {
	BallPosition Vec3
	BallVelocity Vec3
	Paddles      [2]Vec3
	Owners       [2]Ownership
	HostScore    int
	GuestScore   int
	Playing      bool
}

// NewState returns a zeroed snapshot with the ball at rest and both paddles
// centered at their slot depths.
func NewState() State {
	s := State{
		BallPosition: Vec3{Y: BallRestHeight, Z: BallRestDepth},
	}
	for i := range s.Paddles {
		s.Paddles[i] = Vec3{Y: BallRestHeight, Z: PaddleDepth(i)}
	}
	return s
}

// Reset applies restart semantics: scores zeroed, ball re-racked, session
// running. Ownership survives a restart; it only dies with the room.
func (s *State) Reset() {
	s.HostScore = 0
	s.GuestScore = 0
	s.BallPosition = Vec3{Y: BallRestHeight, Z: BallRestDepth}
	s.BallVelocity = Vec3{}
	s.Playing = true
}

// ValidPaddleIndex guards every slot-addressed message.
func ValidPaddleIndex(i int) bool { return i == 0 || i == 1 }
