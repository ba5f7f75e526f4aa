package client

import (
	"sync"

	"github.com/ramy7777/vrpong-multi-sub000/internal/game"
)

// Paddle is implemented uniformly by every paddle variant the render layer
// supplies; the proxy only ever talks to this interface, never probes for
// capabilities. Implementations must be safe for concurrent use: the network
// goroutine writes while the render loop reads.
type Paddle interface {
	Index() int
	Position() game.Vec3
	SetPosition(game.Vec3)
	Ownership() game.Ownership
	SetOwnership(game.Ownership)
}

// SimplePaddle is the headless default used when no render-layer paddle is
// injected.
type SimplePaddle struct {
	index int

	mu    sync.Mutex
	pos   game.Vec3
	owner game.Ownership
}

func NewSimplePaddle(index int) *SimplePaddle {
	return &SimplePaddle{
		index: index,
		pos:   game.Vec3{Y: game.BallRestHeight, Z: game.PaddleDepth(index)},
	}
}

func (p *SimplePaddle) Index() int { return p.index }

func (p *SimplePaddle) Position() game.Vec3 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pos
}

func (p *SimplePaddle) SetPosition(v game.Vec3) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pos = v
}

func (p *SimplePaddle) Ownership() game.Ownership {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.owner
}

func (p *SimplePaddle) SetOwnership(o game.Ownership) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.owner = o
}
