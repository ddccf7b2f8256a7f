package protocol

import (
	"bufio"
	"errors"
	"io"
	"math"
)

// Incoming is one decoded server -> client event frame.
type Incoming struct {
	Code uint32

	Cell     Cell
	Move     Move
	Player   Player
	Eaten    Eaten
	ClientID uint32
}

// Reader decodes the server -> client stream. It is the client half of the codec.
type Reader struct {
	br *bufio.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, 64*1024)}
}

// ReadText reads one length-prefixed handshake message.
func (r *Reader) ReadText() (string, error) {
	b, err := r.readRecord()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadCells reads a cells record.
func (r *Reader) ReadCells() ([]Cell, error) {
	b, err := r.readRecord()
	if err != nil {
		return nil, err
	}
	if len(b) < 4 {
		return nil, protocolErrorf("cells record too short: %d", len(b))
	}
	n := le.Uint32(b)
	b = b[4:]
	if uint64(len(b)) != uint64(n)*cellEntrySize {
		return nil, protocolErrorf("cells record count=%d but %d payload bytes", n, len(b))
	}
	out := make([]Cell, 0, n)
	for len(b) > 0 {
		out = append(out, decodeCell(b))
		b = b[cellEntrySize:]
	}
	return out, nil
}

// ReadPlayers reads a players record.
func (r *Reader) ReadPlayers() ([]Player, error) {
	b, err := r.readRecord()
	if err != nil {
		return nil, err
	}
	if len(b) < 4 {
		return nil, protocolErrorf("players record too short: %d", len(b))
	}
	n := le.Uint32(b)
	b = b[4:]
	out := make([]Player, 0, n)
	for i := uint32(0); i < n; i++ {
		p, rest, err := decodePlayer(b)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
		b = rest
	}
	if len(b) != 0 {
		return nil, protocolErrorf("players record has %d trailing bytes", len(b))
	}
	return out, nil
}

// ReadEvent reads one event frame.
func (r *Reader) ReadEvent() (Incoming, error) {
	var in Incoming
	code, err := r.readUint32()
	if err != nil {
		return in, err
	}
	in.Code = code
	switch code {
	case CodeCellEaten, CodeCellEatenByCurrentPlayer:
		b, err := r.readN(cellUpdateSize)
		if err != nil {
			return in, err
		}
		in.Cell = decodeCell(b)
	case CodePlayerMoved:
		b, err := r.readN(playerMovedSize)
		if err != nil {
			return in, err
		}
		in.Move = Move{
			ClientID: le.Uint32(b[0:4]),
			X:        decodeFloat(b[4:8]),
			Y:        decodeFloat(b[8:12]),
			Radius:   decodeFloat(b[12:16]),
		}
	case CodeNewPlayer:
		b, err := r.readRecord()
		if err != nil {
			return in, err
		}
		p, rest, err := decodePlayer(b)
		if err != nil {
			return in, err
		}
		if len(rest) != 0 {
			return in, protocolErrorf("player record has %d trailing bytes", len(rest))
		}
		in.Player = p
	case CodePlayerEaten, CodePlayerEatenByCurrentPlayer:
		b, err := r.readN(playerEatenSize)
		if err != nil {
			return in, err
		}
		in.Eaten = Eaten{
			LoserID:      le.Uint32(b[0:4]),
			WinnerID:     le.Uint32(b[4:8]),
			WinnerRadius: decodeFloat(b[8:12]),
		}
	case CodeGameOver:
	case CodePlayerQuit:
		id, err := r.readUint32()
		if err != nil {
			return in, err
		}
		in.ClientID = id
	default:
		return in, protocolErrorf("unknown event code %d", code)
	}
	return in, nil
}

func (r *Reader) readRecord() ([]byte, error) {
	n, err := r.readUint32()
	if err != nil {
		return nil, err
	}
	if n > MaxRecordLen {
		return nil, protocolErrorf("record length %d exceeds limit", n)
	}
	return r.readN(int(n))
}

func (r *Reader) readUint32() (uint32, error) {
	b, err := r.readN(4)
	if err != nil {
		return 0, err
	}
	return le.Uint32(b), nil
}

func (r *Reader) readN(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(r.br, b); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, protocolErrorf("truncated frame: want %d bytes", n)
		}
		return nil, connectionError(err)
	}
	return b, nil
}

func decodeFloat(b []byte) float32 { return math.Float32frombits(le.Uint32(b)) }

func decodeCell(b []byte) Cell {
	return Cell{
		ID:    le.Uint32(b[0:4]),
		X:     decodeFloat(b[4:8]),
		Y:     decodeFloat(b[8:12]),
		Color: le.Uint32(b[12:16]),
	}
}

func decodePlayer(b []byte) (Player, []byte, error) {
	if len(b) < 8 {
		return Player{}, nil, protocolErrorf("player record too short")
	}
	id := le.Uint32(b[0:4])
	nameLen := le.Uint32(b[4:8])
	b = b[8:]
	if uint64(len(b)) < uint64(nameLen)+16 {
		return Player{}, nil, protocolErrorf("player record username length %d overruns record", nameLen)
	}
	p := Player{ClientID: id, Username: string(b[:nameLen])}
	b = b[nameLen:]
	p.X = decodeFloat(b[0:4])
	p.Y = decodeFloat(b[4:8])
	p.Color = le.Uint32(b[8:12])
	p.Radius = decodeFloat(b[12:16])
	return p, b[16:], nil
}
