// Package observerproto defines the JSON messages of the read-only spectator feed.
package observerproto

import "cellarena.io/internal/protocol"

// Version is the observer protocol version (separate from the game wire protocol).
const Version = "1.0"

const (
	TypeBootstrap = "BOOTSTRAP"
	TypeEvent     = "EVENT"
)

// Server -> Client. First message on the observer WS connection.
type BootstrapMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	WorldParams     WorldParams `json:"world_params"`
	Cells           []Cell      `json:"cells"`
	Players         []Player    `json:"players"`
}

type WorldParams struct {
	MapSize    float64 `json:"map_size"`
	CellCount  int     `json:"cell_count"`
	CellRadius float64 `json:"cell_radius"`
	EatMargin  float64 `json:"eat_margin"`
}

// Server -> Client. One per logical event, in dispatch order.
type EventMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Seq             uint64 `json:"seq"`
	Event           string `json:"event"`

	// Actor is the distinguished client of the event, if any.
	Actor uint32 `json:"actor,omitempty"`

	Cell     *Cell   `json:"cell,omitempty"`
	Move     *Move   `json:"move,omitempty"`
	Player   *Player `json:"player,omitempty"`
	Eaten    *Eaten  `json:"eaten,omitempty"`
	ClientID uint32  `json:"client_id,omitempty"`
}

type Cell struct {
	ID    uint32  `json:"id"`
	X     float32 `json:"x"`
	Y     float32 `json:"y"`
	Color uint32  `json:"color"`
}

type Player struct {
	ClientID uint32  `json:"client_id"`
	Username string  `json:"username"`
	X        float32 `json:"x"`
	Y        float32 `json:"y"`
	Color    uint32  `json:"color"`
	Radius   float32 `json:"radius"`
}

type Move struct {
	ClientID uint32  `json:"client_id"`
	X        float32 `json:"x"`
	Y        float32 `json:"y"`
	Radius   float32 `json:"radius"`
}

type Eaten struct {
	LoserID      uint32  `json:"loser_id"`
	WinnerID     uint32  `json:"winner_id"`
	WinnerRadius float32 `json:"winner_radius"`
}

func FromCell(c protocol.Cell) Cell {
	return Cell{ID: c.ID, X: c.X, Y: c.Y, Color: c.Color}
}

func FromPlayer(p protocol.Player) Player {
	return Player{ClientID: p.ClientID, Username: p.Username, X: p.X, Y: p.Y, Color: p.Color, Radius: p.Radius}
}

// FromEvent renders a logical event. Only the payload matching the kind is set.
func FromEvent(seq uint64, ev protocol.Event) EventMsg {
	msg := EventMsg{
		Type:            TypeEvent,
		ProtocolVersion: Version,
		Seq:             seq,
		Event:           ev.Kind.String(),
		Actor:           ev.Distinguished,
	}
	switch ev.Kind {
	case protocol.KindCellEaten:
		c := FromCell(ev.Cell)
		msg.Cell = &c
	case protocol.KindPlayerMoved:
		msg.Move = &Move{ClientID: ev.Move.ClientID, X: ev.Move.X, Y: ev.Move.Y, Radius: ev.Move.Radius}
	case protocol.KindNewPlayer:
		p := FromPlayer(ev.Player)
		msg.Player = &p
	case protocol.KindPlayerEaten:
		msg.Eaten = &Eaten{LoserID: ev.Eaten.LoserID, WinnerID: ev.Eaten.WinnerID, WinnerRadius: ev.Eaten.WinnerRadius}
	case protocol.KindGameOver, protocol.KindPlayerQuit:
		msg.ClientID = ev.ClientID
	}
	return msg
}
