package protocol

import "fmt"

// EventKind is a logical occurrence, independent of who observes it.
type EventKind uint8

const (
	KindCellEaten EventKind = iota + 1
	KindPlayerMoved
	KindNewPlayer
	KindPlayerEaten
	KindGameOver
	KindPlayerQuit
)

func (k EventKind) String() string {
	switch k {
	case KindCellEaten:
		return "CELL_EATEN"
	case KindPlayerMoved:
		return "PLAYER_MOVED"
	case KindNewPlayer:
		return "NEW_PLAYER"
	case KindPlayerEaten:
		return "PLAYER_EATEN"
	case KindGameOver:
		return "GAME_OVER"
	case KindPlayerQuit:
		return "PLAYER_QUIT"
	default:
		return fmt.Sprintf("EventKind(%d)", uint8(k))
	}
}

// projection maps one logical event to per-recipient wire codes.
// The distinguished recipient gets Alt (when set) or nothing (when Suppress).
type projection struct {
	Code     uint32
	Alt      uint32
	HasAlt   bool
	Suppress bool
}

var projections = map[EventKind]projection{
	KindCellEaten:   {Code: CodeCellEaten, Alt: CodeCellEatenByCurrentPlayer, HasAlt: true},
	KindPlayerMoved: {Code: CodePlayerMoved, Suppress: true},
	KindNewPlayer:   {Code: CodeNewPlayer, Suppress: true},
	KindPlayerEaten: {Code: CodePlayerEaten, Alt: CodePlayerEatenByCurrentPlayer, HasAlt: true},
	KindGameOver:    {Code: CodeGameOver},
	KindPlayerQuit:  {Code: CodePlayerQuit},
}

// Event is a tagged logical event. Only the payload field matching Kind is meaningful.
// Distinguished is the client id that receives the alternate projection; 0 means none.
type Event struct {
	Kind          EventKind
	Distinguished uint32

	Cell     Cell
	Move     Move
	Player   Player
	Eaten    Eaten
	ClientID uint32
}

func CellEatenEvent(actor uint32, c Cell) Event {
	return Event{Kind: KindCellEaten, Distinguished: actor, Cell: c}
}

func PlayerMovedEvent(m Move) Event {
	return Event{Kind: KindPlayerMoved, Distinguished: m.ClientID, Move: m}
}

func NewPlayerEvent(p Player) Event {
	return Event{Kind: KindNewPlayer, Distinguished: p.ClientID, Player: p}
}

func PlayerEatenEvent(e Eaten) Event {
	return Event{Kind: KindPlayerEaten, Distinguished: e.WinnerID, Eaten: e}
}

func GameOverEvent(loser uint32) Event {
	return Event{Kind: KindGameOver, ClientID: loser}
}

func PlayerQuitEvent(clientID uint32) Event {
	return Event{Kind: KindPlayerQuit, ClientID: clientID}
}

// CodeFor returns the wire code recipient should see, or false when delivery to it is suppressed.
func (e Event) CodeFor(recipient uint32) (uint32, bool) {
	p, ok := projections[e.Kind]
	if !ok {
		return 0, false
	}
	if e.Distinguished == 0 || recipient != e.Distinguished {
		return p.Code, true
	}
	if p.Suppress {
		return 0, false
	}
	if p.HasAlt {
		return p.Alt, true
	}
	return p.Code, true
}

// Payload is the canonical payload, identical for every recipient.
func (e Event) Payload() []byte {
	switch e.Kind {
	case KindCellEaten:
		return appendCell(make([]byte, 0, cellUpdateSize), e.Cell)
	case KindPlayerMoved:
		b := make([]byte, 0, playerMovedSize)
		b = le.AppendUint32(b, e.Move.ClientID)
		b = appendFloat(b, e.Move.X)
		b = appendFloat(b, e.Move.Y)
		return appendFloat(b, e.Move.Radius)
	case KindNewPlayer:
		return PlayerRecord(e.Player)
	case KindPlayerEaten:
		b := make([]byte, 0, playerEatenSize)
		b = le.AppendUint32(b, e.Eaten.LoserID)
		b = le.AppendUint32(b, e.Eaten.WinnerID)
		return appendFloat(b, e.Eaten.WinnerRadius)
	case KindPlayerQuit:
		return le.AppendUint32(make([]byte, 0, playerQuitSize), e.ClientID)
	default:
		return nil
	}
}

// Frames caches the encoded frame per distinct wire code of one event.
type Frames struct {
	ev      Event
	payload []byte
	byCode  map[uint32][]byte
}

func NewFrames(e Event) *Frames {
	return &Frames{ev: e, payload: e.Payload(), byCode: make(map[uint32][]byte, 2)}
}

// Event returns the logical event the frames were built from.
func (f *Frames) Event() Event { return f.ev }

// For returns the frame addressed to recipient, or false when suppressed.
// Not safe for concurrent use.
func (f *Frames) For(recipient uint32) ([]byte, bool) {
	code, ok := f.ev.CodeFor(recipient)
	if !ok {
		return nil, false
	}
	if b, ok := f.byCode[code]; ok {
		return b, true
	}
	b := make([]byte, 0, 4+len(f.payload))
	b = le.AppendUint32(b, code)
	b = append(b, f.payload...)
	f.byCode[code] = b
	return b, true
}
