package world

import "cellarena.io/internal/protocol"

// Cell is a stationary consumable. Ids are dense in [0, cellCount) and never
// removed: consuming a cell repositions and recolors it in place.
type Cell struct {
	ID    uint32
	X, Y  float64
	Color uint32
}

func (c Cell) wire() protocol.Cell {
	return protocol.Cell{ID: c.ID, X: float32(c.X), Y: float32(c.Y), Color: c.Color}
}

// Player is guarded by World.playersMu. Position is written only by the owning
// session; Radius also grows when the player wins a collision run by another session.
type Player struct {
	ClientID uint32
	Username string
	X, Y     float64
	Radius   float64
	Color    uint32

	alive bool
}

func (p *Player) wire() protocol.Player {
	return protocol.Player{
		ClientID: p.ClientID,
		Username: p.Username,
		X:        float32(p.X),
		Y:        float32(p.Y),
		Color:    p.Color,
		Radius:   float32(p.Radius),
	}
}

func (p *Player) move() protocol.Move {
	return protocol.Move{ClientID: p.ClientID, X: float32(p.X), Y: float32(p.Y), Radius: float32(p.Radius)}
}

func distSq(ax, ay, bx, by float64) float64 {
	dx, dy := bx-ax, by-ay
	return dx*dx + dy*dy
}
