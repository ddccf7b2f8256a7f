package protocol

import (
	"errors"
	"io"
	"math"
	"strings"
)

// TextFrame encodes a length-prefixed ASCII handshake message.
func TextFrame(msg string) []byte {
	b := make([]byte, 0, 4+len(msg))
	b = le.AppendUint32(b, uint32(len(msg)))
	return append(b, msg...)
}

// ErrorFrame is the handshake rejection, "ERROR <reason>".
func ErrorFrame(reason string) []byte { return TextFrame(errorPrefix + reason) }

// IsErrorText reports whether a handshake reply is a rejection.
func IsErrorText(msg string) bool { return strings.HasPrefix(msg, errorPrefix) }

// IsInfoText reports whether a handshake reply is an acceptance.
func IsInfoText(msg string) bool { return strings.HasPrefix(msg, infoPrefix) }

// CellsRecord encodes len + count + count x (id, x, y, color).
func CellsRecord(cells []Cell) []byte {
	body := 4 + len(cells)*cellEntrySize
	b := make([]byte, 0, 4+body)
	b = le.AppendUint32(b, uint32(body))
	b = le.AppendUint32(b, uint32(len(cells)))
	for _, c := range cells {
		b = appendCell(b, c)
	}
	return b
}

// PlayersRecord encodes len + count + count x player record.
func PlayersRecord(players []Player) []byte {
	body := 4
	for _, p := range players {
		body += playerFixedSize + len(p.Username)
	}
	b := make([]byte, 0, 4+body)
	b = le.AppendUint32(b, uint32(body))
	b = le.AppendUint32(b, uint32(len(players)))
	for _, p := range players {
		b = appendPlayer(b, p)
	}
	return b
}

// PlayerRecord encodes a single length-prefixed player record.
func PlayerRecord(p Player) []byte {
	body := playerFixedSize + len(p.Username)
	b := make([]byte, 0, 4+body)
	b = le.AppendUint32(b, uint32(body))
	return appendPlayer(b, p)
}

// MovementFrame encodes a client -> server frame.
func MovementFrame(m Movement) []byte {
	b := make([]byte, 0, MovementFrameSize)
	b = appendFloat(b, m.DX)
	return appendFloat(b, m.DY)
}

// ReadMovement reads exactly one movement frame. Non-finite deltas are rejected.
func ReadMovement(r io.Reader) (Movement, error) {
	var buf [MovementFrameSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Movement{}, protocolErrorf("short movement frame")
		}
		return Movement{}, connectionError(err)
	}
	m := Movement{
		DX: math.Float32frombits(le.Uint32(buf[0:4])),
		DY: math.Float32frombits(le.Uint32(buf[4:8])),
	}
	if !finite(m.DX) || !finite(m.DY) {
		return Movement{}, protocolErrorf("non-finite movement delta")
	}
	return m, nil
}

// ReadUsername reads one raw, unprefixed username candidate (a single bounded read) and trims it.
func ReadUsername(r io.Reader) (string, error) {
	buf := make([]byte, MaxUsernameRead)
	n, err := r.Read(buf)
	if n == 0 {
		if err == nil {
			err = io.ErrNoProgress
		}
		return "", connectionError(err)
	}
	return strings.TrimSpace(string(buf[:n])), nil
}

func finite(f float32) bool {
	v := float64(f)
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func appendFloat(b []byte, f float32) []byte {
	return le.AppendUint32(b, math.Float32bits(f))
}

func appendCell(b []byte, c Cell) []byte {
	b = le.AppendUint32(b, c.ID)
	b = appendFloat(b, c.X)
	b = appendFloat(b, c.Y)
	return le.AppendUint32(b, c.Color)
}

func appendPlayer(b []byte, p Player) []byte {
	b = le.AppendUint32(b, p.ClientID)
	b = le.AppendUint32(b, uint32(len(p.Username)))
	b = append(b, p.Username...)
	b = appendFloat(b, p.X)
	b = appendFloat(b, p.Y)
	b = le.AppendUint32(b, p.Color)
	return appendFloat(b, p.Radius)
}
