package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOwnershipUnion(t *testing.T) {
	var zero Ownership
	assert.False(t, zero.Claimed())
	assert.Equal(t, Unowned(), zero)

	claim := ClaimedBy("conn-1", true)
	assert.True(t, claim.Claimed())
	assert.True(t, claim.OwnedBy("conn-1"))
	assert.False(t, claim.OwnedBy("conn-2"))
	assert.True(t, claim.IsHost())
}

func TestPaddleDepthFixedByIndex(t *testing.T) {
	assert.Equal(t, PaddleDepthNear, PaddleDepth(0))
	assert.Equal(t, PaddleDepthFar, PaddleDepth(1))

	s := NewState()
	assert.Equal(t, PaddleDepthNear, s.Paddles[0].Z)
	assert.Equal(t, PaddleDepthFar, s.Paddles[1].Z)
}

func TestResetKeepsOwnershipZeroesScores(t *testing.T) {
	s := NewState()
	s.HostScore = 11
	s.GuestScore = 7
	s.BallPosition = Vec3{X: 2, Y: 0.3, Z: -2}
	s.BallVelocity = Vec3{X: 0.05}
	s.Owners[1] = ClaimedBy("conn-9", false)

	s.Reset()

	assert.Zero(t, s.HostScore)
	assert.Zero(t, s.GuestScore)
	assert.True(t, s.Playing)
	assert.Equal(t, Vec3{Y: BallRestHeight, Z: BallRestDepth}, s.BallPosition)
	assert.Equal(t, Vec3{}, s.BallVelocity)
	assert.True(t, s.Owners[1].OwnedBy("conn-9"), "ownership survives a restart")
}

func TestValidPaddleIndex(t *testing.T) {
	assert.True(t, ValidPaddleIndex(0))
	assert.True(t, ValidPaddleIndex(1))
	assert.False(t, ValidPaddleIndex(-1))
	assert.False(t, ValidPaddleIndex(2))
}
