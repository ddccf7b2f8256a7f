package protocol

import "encoding/binary"

// Version identifies the binary protocol spoken on the game socket.
const Version = "1.0"

// Handshake text messages (server -> client).
const (
	MsgGetUsername = "GET username"
	MsgConnected   = "INFO Successfully connected to the game."
	MsgPostCells   = "POST cells"
	MsgPostPlayers = "POST players"

	errorPrefix = "ERROR "
	infoPrefix  = "INFO "
)

// Event codes as seen on the wire (server -> client).
const (
	CodeCellEaten                  uint32 = 0
	CodeCellEatenByCurrentPlayer   uint32 = 1
	CodePlayerMoved                uint32 = 2
	CodePlayerEaten                uint32 = 3
	CodeGameOver                   uint32 = 4
	CodeNewPlayer                  uint32 = 5
	CodePlayerEatenByCurrentPlayer uint32 = 6
	CodePlayerQuit                 uint32 = 7
)

// DisconnectSentinel in the first coordinate of a movement frame is a voluntary quit.
const DisconnectSentinel float32 = 999999

// MaxUsernameRead bounds the raw username read during the handshake.
const MaxUsernameRead = 1024

// Fixed sizes of the binary records.
const (
	MovementFrameSize = 8
	cellEntrySize     = 16
	cellUpdateSize    = 16
	playerMovedSize   = 16
	playerEatenSize   = 12
	playerQuitSize    = 4
	playerFixedSize   = 4 + 4 + 4 + 4 + 4 + 4
)

// MaxRecordLen caps any length-prefixed record accepted by Reader.
const MaxRecordLen = 64 << 20

var le = binary.LittleEndian

// Cell is the wire view of a stationary cell.
type Cell struct {
	ID    uint32  `json:"id"`
	X     float32 `json:"x"`
	Y     float32 `json:"y"`
	Color uint32  `json:"color"`
}

// Player is the wire view of a player record.
type Player struct {
	ClientID uint32  `json:"client_id"`
	Username string  `json:"username"`
	X        float32 `json:"x"`
	Y        float32 `json:"y"`
	Color    uint32  `json:"color"`
	Radius   float32 `json:"radius"`
}

// Move is the PLAYER_MOVED payload.
type Move struct {
	ClientID uint32  `json:"client_id"`
	X        float32 `json:"x"`
	Y        float32 `json:"y"`
	Radius   float32 `json:"radius"`
}

// Eaten is the PLAYER_EATEN payload.
type Eaten struct {
	LoserID      uint32  `json:"loser_id"`
	WinnerID     uint32  `json:"winner_id"`
	WinnerRadius float32 `json:"winner_radius"`
}

// Movement is one client -> server frame.
type Movement struct {
	DX float32
	DY float32
}

// IsDisconnect reports whether the frame is the voluntary quit signal.
func (m Movement) IsDisconnect() bool { return m.DX == DisconnectSentinel }

// PackColor packs 8-bit channels into 0xRRGGBB.
func PackColor(r, g, b uint8) uint32 {
	return uint32(r)<<16 | uint32(g)<<8 | uint32(b)
}

// UnpackColor is the inverse of PackColor.
func UnpackColor(c uint32) (r, g, b uint8) {
	return uint8(c >> 16), uint8(c >> 8), uint8(c)
}
